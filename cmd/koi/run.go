package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/openkoi/openkoi/internal/agent"
	"github.com/openkoi/openkoi/internal/config"
	"github.com/openkoi/openkoi/internal/engine"
	"github.com/openkoi/openkoi/internal/report"
	"github.com/openkoi/openkoi/internal/task"
	"github.com/openkoi/openkoi/internal/telemetry"
)

// RunCmd runs a single task to a terminal decision in the foreground.
type RunCmd struct {
	Description string `arg:"" help:"Task description"`
	Category    string `short:"c" help:"Task category for evaluator skill selection"`

	MaxIterations    int           `help:"Override iteration.max_iterations"`
	QualityThreshold *float64      `help:"Override iteration.quality_threshold (0 runs every iteration)"`
	TokenBudget      int           `help:"Override iteration.token_budget"`
	Timeout          time.Duration `help:"Override the task time budget"`
}

// resolveLimits merges CLI overrides over configured defaults.
func resolveLimits(defaults config.IterationConfig, c *RunCmd) task.Limits {
	limits := task.Limits{
		MaxIterations:    defaults.MaxIterations,
		QualityThreshold: defaults.QualityThreshold,
		TokenBudget:      defaults.TokenBudget,
		TimeBudget:       defaults.Timeout(),
	}
	if c.MaxIterations > 0 {
		limits.MaxIterations = c.MaxIterations
	}
	if c.QualityThreshold != nil {
		limits.QualityThreshold = *c.QualityThreshold
	}
	if c.TokenBudget > 0 {
		limits.TokenBudget = c.TokenBudget
	}
	if c.Timeout > 0 {
		limits.TimeBudget = c.Timeout
	}
	return limits
}

func (c *RunCmd) Run(cli *CLI) error {
	app, err := newApp(cli)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Init(ctx, app.cfg.Telemetry)
	if err != nil {
		return err
	}
	defer shutdown(context.Background())

	prov, err := app.connectProvider(ctx)
	if err != nil {
		return err
	}
	st, err := app.openStores()
	if err != nil {
		return err
	}
	defer st.Close()

	t, err := task.New(c.Description, resolveLimits(app.cfg.Iteration, c))
	if err != nil {
		return err
	}
	t.Category = c.Category
	if err := st.tasks.CreateTask(ctx, t); err != nil {
		return err
	}

	collector := &cycleCollector{}
	ag := agent.New(prov, app.cfg.LLM.Model, app.cfg.LLM.MaxTokens, app.log).WithMemory(st.memory)
	eng := engine.New(ag, ag, app.buildEvaluator(prov, app.loadSkills()), engine.Options{
		Epsilon:   app.epsilon(),
		Recorders: append(st.recorders(), collector),
		Logger:    app.log,
	})

	res, runErr := eng.Run(ctx, t)
	if res == nil {
		return runErr
	}

	fmt.Println(report.Render(res, collector.cycles))
	if res.Decision == task.DecisionFailed {
		return fmt.Errorf("task failed: %s", res.Err)
	}
	return nil
}

// cycleCollector keeps the iteration records so the report can show
// the per-iteration table after the run.
type cycleCollector struct {
	mu     sync.Mutex
	cycles []*task.IterationCycle
}

func (c *cycleCollector) RecordCycle(ctx context.Context, t *task.Task, cycle *task.IterationCycle) error {
	c.mu.Lock()
	c.cycles = append(c.cycles, cycle)
	c.mu.Unlock()
	return nil
}

func (c *cycleCollector) RecordResult(ctx context.Context, t *task.Task, r *task.Result) error {
	return nil
}
