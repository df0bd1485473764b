// Package main is the entry point for the koi iteration engine CLI.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/openkoi/openkoi/internal/credentials"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	// .env first, then credentials.toml; Apply never overwrites env
	// vars the user already set.
	_ = godotenv.Load()
	if creds, path, err := credentials.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: ignoring %s: %v\n", path, err)
	} else {
		creds.Apply()
	}

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("koi"),
		kong.Description("Bounded plan-execute-evaluate-decide loop for local AI tasks."),
		kong.UsageOnError(),
		kongVars(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}
