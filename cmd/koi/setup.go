package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/openkoi/openkoi/internal/config"
	"github.com/openkoi/openkoi/internal/engine"
	"github.com/openkoi/openkoi/internal/evaluator"
	"github.com/openkoi/openkoi/internal/logging"
	"github.com/openkoi/openkoi/internal/memory"
	"github.com/openkoi/openkoi/internal/provider"
	"github.com/openkoi/openkoi/internal/session"
	"github.com/openkoi/openkoi/internal/skills"
	"github.com/openkoi/openkoi/internal/state"
	"github.com/openkoi/openkoi/internal/taskstore"
)

// app carries the pieces every command needs.
type app struct {
	cfg  *config.Config
	log  *logging.Logger
	base string
}

func newApp(cli *CLI) (*app, error) {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, err
	}

	log := logging.New()
	if cli.Verbose {
		log.SetLevel(logging.LevelDebug)
	}

	base := cfg.Storage.BasePath()
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &app{cfg: cfg, log: log, base: base}, nil
}

// connectProvider builds the retrying chat provider from config.
func (a *app) connectProvider(ctx context.Context) (provider.Provider, error) {
	if a.cfg.LLM.Model == "" {
		return nil, fmt.Errorf("llm.model is not configured")
	}
	name := a.cfg.LLM.Provider
	if name == "" {
		name = provider.InferProvider(a.cfg.LLM.Model)
	}

	p, err := provider.Connect(ctx, provider.EndpointConfig{
		Provider:  name,
		Model:     a.cfg.LLM.Model,
		APIKey:    a.apiKey(name),
		BaseURL:   a.cfg.LLM.BaseURL,
		MaxTokens: a.cfg.LLM.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	retry := provider.RetryConfig{MaxRetries: a.cfg.LLM.MaxRetries}
	if a.cfg.LLM.RetryBackoff != "" {
		if d, err := time.ParseDuration(a.cfg.LLM.RetryBackoff); err == nil {
			retry.MaxBackoff = d
		}
	}
	return provider.NewRetrying(p, retry), nil
}

func (a *app) apiKey(providerName string) string {
	if a.cfg.LLM.APIKeyEnv != "" {
		return os.Getenv(a.cfg.LLM.APIKeyEnv)
	}
	switch providerName {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "google":
		return os.Getenv("GOOGLE_API_KEY")
	case "mistral":
		return os.Getenv("MISTRAL_API_KEY")
	case "groq":
		return os.Getenv("GROQ_API_KEY")
	}
	return ""
}

// loadSkills builds the registry over the configured search paths,
// defaulting to <storage>/skills.
func (a *app) loadSkills() *skills.Registry {
	paths := a.cfg.Skills.Paths
	if len(paths) == 0 {
		paths = []string{filepath.Join(a.base, "skills")}
	}
	reg := skills.NewRegistry(paths)
	for _, err := range reg.LoadAll() {
		a.log.Warn("skill rejected", map[string]interface{}{"error": err.Error()})
	}
	return reg
}

// buildEvaluator assembles the scoring pipeline: the LLM judge always,
// plus a check-command scorer when one is configured.
func (a *app) buildEvaluator(p provider.Provider, reg *skills.Registry) *evaluator.Pipeline {
	scorers := []evaluator.Scorer{evaluator.NewJudge(p, a.cfg.LLM.Model)}
	if len(a.cfg.Evaluator.CheckCommand) > 0 {
		dir, _ := os.Getwd()
		scorers = append(scorers, evaluator.NewCommandScorer(
			"checks",
			a.cfg.Evaluator.CheckCommand,
			dir,
			time.Duration(a.cfg.Evaluator.CheckTimeoutSecs)*time.Second,
		))
	}
	agg := evaluator.NewAggregator(scorers, a.cfg.Evaluator.MaxScorerAttempts, a.log)
	return evaluator.NewPipeline(agg, reg)
}

// epsilon maps the safety config onto the engine's regression
// tolerance. Disabling abort_on_regression makes every drop tolerable.
func (a *app) epsilon() float64 {
	if !a.cfg.Safety.AbortOnRegression {
		return math.Inf(1)
	}
	return a.cfg.Safety.RegressionThreshold
}

// stores bundles the persistence layers a run needs.
type stores struct {
	tasks    *taskstore.Store
	state    *state.Writer
	sessions *session.Manager
	memory   memory.Store // nil when persistence is off
}

func (a *app) openStores() (*stores, error) {
	fileStore, err := session.NewFileStore(filepath.Join(a.base, "sessions"))
	if err != nil {
		return nil, err
	}
	stateW, err := state.NewWriter(a.base)
	if err != nil {
		return nil, err
	}
	tasks, err := taskstore.New(filepath.Join(a.base, "tasks.db"))
	if err != nil {
		return nil, err
	}

	s := &stores{
		tasks:    tasks,
		state:    stateW,
		sessions: session.NewManager(fileStore),
	}
	if a.cfg.Storage.PersistMemory {
		mem, err := memory.NewBleveStore(a.base)
		if err != nil {
			tasks.Close()
			return nil, err
		}
		s.memory = mem
	}
	return s, nil
}

// recorders returns a fresh recorder set. Session and memory recorders
// accumulate per-task state, so each engine gets its own.
func (s *stores) recorders() []engine.Recorder {
	rs := []engine.Recorder{
		session.NewRecorder(s.sessions),
		state.NewRecorder(s.state),
		taskstore.NewRecorder(s.tasks),
	}
	if s.memory != nil {
		rs = append(rs, memory.NewRecorder(s.memory))
	}
	return rs
}

func (s *stores) Close() {
	s.tasks.Close()
	if s.memory != nil {
		s.memory.Close()
	}
}
