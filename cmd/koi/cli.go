// Package main defines the koi CLI structure using kong.
package main

import "github.com/alecthomas/kong"

// CLI defines the command-line interface.
type CLI struct {
	Config  string `help:"Config file path" type:"path"`
	Verbose bool   `short:"v" help:"Enable debug logging"`

	Run     RunCmd     `cmd:"" help:"Run a task through the iteration loop"`
	Serve   ServeCmd   `cmd:"" help:"Start the background daemon with the HTTP API"`
	Status  StatusCmd  `cmd:"" help:"Show the currently running task"`
	History HistoryCmd `cmd:"" help:"List finished tasks"`
	Skills  SkillsCmd  `cmd:"" help:"List loaded evaluator skills"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// kongVars returns variables for kong (version info).
func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}
