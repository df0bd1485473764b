// Package credentials loads provider API keys from standard locations.
package credentials

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Credentials holds API keys loaded from credentials.toml.
type Credentials struct {
	Anthropic *ProviderCreds `toml:"anthropic"`
	OpenAI    *ProviderCreds `toml:"openai"`
	Google    *ProviderCreds `toml:"google"`
	Mistral   *ProviderCreds `toml:"mistral"`
	Groq      *ProviderCreds `toml:"groq"`
}

// ProviderCreds holds credentials for a single provider.
type ProviderCreds struct {
	APIKey string `toml:"api_key"`
}

// StandardPaths returns the credential file locations in priority order.
func StandardPaths() []string {
	paths := []string{"credentials.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "openkoi", "credentials.toml"),
			filepath.Join(home, ".openkoi", "credentials.toml"),
		)
	}
	return paths
}

// Load reads credentials from the first standard location that exists.
// A missing file is not an error; environment variables then stand
// alone.
func Load() (*Credentials, string, error) {
	for _, path := range StandardPaths() {
		if _, err := os.Stat(path); err == nil {
			creds, err := LoadFile(path)
			if err != nil {
				return nil, path, err
			}
			return creds, path, nil
		}
	}
	return nil, "", nil
}

// LoadFile loads credentials from a specific file.
func LoadFile(path string) (*Credentials, error) {
	var creds Credentials
	if _, err := toml.DecodeFile(path, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

// Save writes credentials to path with owner-only permissions. The
// file is written to a temp path first and renamed into place.
func Save(path string, creds *Credentials) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "credentials.tmp-")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if err := toml.NewEncoder(tmp).Encode(creds); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Apply exports loaded keys as environment variables, never
// overwriting values the user already set.
func (c *Credentials) Apply() {
	if c == nil {
		return
	}
	apply := func(envKey string, p *ProviderCreds) {
		if p != nil && p.APIKey != "" && os.Getenv(envKey) == "" {
			os.Setenv(envKey, p.APIKey)
		}
	}
	apply("ANTHROPIC_API_KEY", c.Anthropic)
	apply("OPENAI_API_KEY", c.OpenAI)
	apply("GOOGLE_API_KEY", c.Google)
	apply("MISTRAL_API_KEY", c.Mistral)
	apply("GROQ_API_KEY", c.Groq)
}
