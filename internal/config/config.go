// Package config provides configuration loading and management.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the session-scoped configuration. It is loaded once at
// startup and shared by reference; no component reloads or mutates it
// mid-session.
type Config struct {
	Iteration IterationConfig `toml:"iteration"`
	Safety    SafetyConfig    `toml:"safety"`
	Evaluator EvaluatorConfig `toml:"evaluator"`
	LLM       LLMConfig       `toml:"llm"`
	Storage   StorageConfig   `toml:"storage"`
	Skills    SkillsConfig    `toml:"skills"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Daemon    DaemonConfig    `toml:"daemon"`
}

// IterationConfig bounds the iteration loop.
type IterationConfig struct {
	MaxIterations    int     `toml:"max_iterations"`
	QualityThreshold float64 `toml:"quality_threshold"`
	TokenBudget      int     `toml:"token_budget"`
	TimeoutSeconds   int     `toml:"timeout_seconds"`
}

// Timeout returns the time budget as a duration.
func (c IterationConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SafetyConfig tunes the circuit breakers.
type SafetyConfig struct {
	AbortOnRegression   bool    `toml:"abort_on_regression"`
	RegressionThreshold float64 `toml:"regression_threshold"`
}

// EvaluatorConfig tunes the evaluation aggregator.
type EvaluatorConfig struct {
	MaxScorerAttempts int      `toml:"max_scorer_attempts"`
	CheckCommand      []string `toml:"check_command"` // e.g. ["go", "test", "./..."]
	CheckTimeoutSecs  int      `toml:"check_timeout_seconds"`
}

// LLMConfig contains provider settings for the executor and the judge.
type LLMConfig struct {
	Provider     string `toml:"provider"`
	Model        string `toml:"model"`
	APIKeyEnv    string `toml:"api_key_env"`
	MaxTokens    int    `toml:"max_tokens"`
	BaseURL      string `toml:"base_url"`
	MaxRetries   int    `toml:"max_retries"`   // Max retry attempts (default 5)
	RetryBackoff string `toml:"retry_backoff"` // Max backoff duration (default "60s")
}

// StorageConfig locates persistent engine state.
type StorageConfig struct {
	Path          string `toml:"path"`           // Base directory for all persistent data
	PersistMemory bool   `toml:"persist_memory"` // true = recall memory survives across runs
}

// BasePath returns the storage directory, defaulting to ~/.openkoi.
func (c StorageConfig) BasePath() string {
	if c.Path != "" {
		return c.Path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".openkoi"
	}
	return filepath.Join(home, ".openkoi")
}

// SkillsConfig locates evaluator skills.
type SkillsConfig struct {
	Paths []string `toml:"paths"` // Directories to search for skills
	Watch bool     `toml:"watch"` // Hot-reload skills on change
}

// TelemetryConfig contains OTLP tracing settings.
type TelemetryConfig struct {
	Enabled  bool              `toml:"enabled"`
	Endpoint string            `toml:"endpoint"` // OTLP gRPC endpoint (e.g. localhost:4317)
	Insecure bool              `toml:"insecure"`
	Headers  map[string]string `toml:"headers"`
}

// DaemonConfig configures the long-running server mode.
type DaemonConfig struct {
	Listen          string `toml:"listen"`           // HTTP listen address
	MaintenanceCron string `toml:"maintenance_cron"` // schedule for history maintenance
	RetentionDays   int    `toml:"retention_days"`   // finished tasks older than this are pruned
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Iteration: IterationConfig{
			MaxIterations:    3,
			QualityThreshold: 0.8,
			TokenBudget:      200_000,
			TimeoutSeconds:   600,
		},
		Safety: SafetyConfig{
			AbortOnRegression:   true,
			RegressionThreshold: 0.0,
		},
		Evaluator: EvaluatorConfig{
			MaxScorerAttempts: 3,
			CheckTimeoutSecs:  120,
		},
		LLM: LLMConfig{
			Provider:   "anthropic",
			MaxTokens:  8192,
			MaxRetries: 5,
		},
		Daemon: DaemonConfig{
			Listen:          "127.0.0.1:7171",
			MaintenanceCron: "0 3 * * *",
			RetentionDays:   30,
		},
	}
}

// Load reads configuration from path, falling back to defaults when the
// file does not exist. Values present in the file override defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = filepath.Join(cfg.Storage.BasePath(), "config.toml")
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Iteration.MaxIterations < 1 {
		return fmt.Errorf("iteration.max_iterations must be >= 1")
	}
	if c.Iteration.TokenBudget <= 0 {
		return fmt.Errorf("iteration.token_budget must be > 0")
	}
	if c.Iteration.QualityThreshold < 0 || c.Iteration.QualityThreshold > 1 {
		return fmt.Errorf("iteration.quality_threshold must be in [0,1]")
	}
	if c.Safety.RegressionThreshold < 0 {
		return fmt.Errorf("safety.regression_threshold must be >= 0")
	}
	return nil
}
