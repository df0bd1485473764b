package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openkoi/openkoi/internal/budget"
	"github.com/openkoi/openkoi/internal/history"
	"github.com/openkoi/openkoi/internal/logging"
	"github.com/openkoi/openkoi/internal/task"
)

// Plan is the executor's marching orders for one iteration.
type Plan struct {
	Approach string   `json:"approach"`
	Steps    []string `json:"steps,omitempty"`
}

// Feedback carries the previous iteration's outcome into the next
// planning round.
type Feedback struct {
	Iteration  int
	Artifact   *task.Artifact
	Evaluation *task.Evaluation
}

// Planner produces a plan for the next attempt. On iterations after the
// first, prev carries the prior artifact and its evaluation so the plan
// can target the reported findings.
type Planner interface {
	Plan(ctx context.Context, t *task.Task, prev *Feedback) (*Plan, error)
}

// Executor carries out a plan and produces an artifact. Transient
// provider failures are the executor's problem; an error returned here
// is treated as fatal for the task.
type Executor interface {
	Execute(ctx context.Context, t *task.Task, plan *Plan, prev *Feedback) (*task.Artifact, error)
}

// Evaluator scores an artifact against the task.
type Evaluator interface {
	Evaluate(ctx context.Context, t *task.Task, a *task.Artifact) (*task.Evaluation, error)
}

// Recorder receives iteration and result records as they are produced.
// Recorder failures are logged and never abort the task.
type Recorder interface {
	RecordCycle(ctx context.Context, t *task.Task, c *task.IterationCycle) error
	RecordResult(ctx context.Context, t *task.Task, r *task.Result) error
}

// Options tunes an engine beyond its collaborators.
type Options struct {
	// Epsilon is the regression tolerance: a score only counts as a
	// regression when it drops more than Epsilon below the previous
	// evaluated score.
	Epsilon   float64
	Recorders []Recorder
	Logger    *logging.Logger
}

// Engine runs the bounded iteration loop for one task at a time. A
// single Engine value may run many tasks sequentially; concurrent runs
// need separate engines.
type Engine struct {
	planner   Planner
	executor  Executor
	evaluator Evaluator
	recorders []Recorder
	epsilon   float64
	log       *logging.Logger
}

// New wires an engine from its collaborators.
func New(p Planner, x Executor, ev Evaluator, opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = logging.New()
	}
	return &Engine{
		planner:   p,
		executor:  x,
		evaluator: ev,
		recorders: opts.Recorders,
		epsilon:   opts.Epsilon,
		log:       log.WithComponent("engine"),
	}
}

// Run drives the task to a terminal decision. The returned result is
// never nil: cancellation and fatal failures are reported as results
// with DecisionCancelled or DecisionFailed, and the error mirrors the
// cause in those two cases.
func (e *Engine) Run(ctx context.Context, t *task.Task) (*task.Result, error) {
	if t == nil {
		return nil, errors.New("nil task")
	}
	if err := t.Limits.Validate(); err != nil {
		return nil, fmt.Errorf("invalid limits: %w", err)
	}

	ctx, span := startTaskSpan(ctx, t)
	defer span.End()

	log := e.log.WithTask(t.ID)
	log.Info("task started", map[string]interface{}{
		"max_iterations":    t.Limits.MaxIterations,
		"token_budget":      t.Limits.TokenBudget,
		"time_budget":       t.Limits.TimeBudget.String(),
		"quality_threshold": t.Limits.QualityThreshold,
	})

	run := &runState{
		tracker: budget.NewTracker(t.Limits),
		history: history.New(e.epsilon),
		gate:    newEvalGate(),
		started: time.Now(),
	}

	for index := 1; ; index++ {
		if err := ctx.Err(); err != nil {
			return e.finish(ctx, t, run, task.DecisionCancelled, err)
		}

		// Pre-flight: committing to an iteration that is predicted to
		// blow the budget is refused outright, so a partial iteration
		// never overdraws the task.
		if index > 1 && run.tracker.WouldExceed(run.lastTokens, run.lastDuration) {
			log.Info("budget pre-check refused iteration", map[string]interface{}{
				"iteration":        index,
				"estimated_tokens": run.lastTokens,
				"tokens_remaining": run.tracker.RemainingTokens(),
			})
			return e.finish(ctx, t, run, task.DecisionBudgetExhausted, nil)
		}

		decision, err := e.iterate(ctx, t, run, index)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return e.finish(ctx, t, run, task.DecisionCancelled, err)
			}
			return e.finish(ctx, t, run, task.DecisionFailed, err)
		}
		if decision != task.DecisionContinue {
			return e.finish(ctx, t, run, decision, nil)
		}
	}
}

// runState is the per-run mutable state threaded through the loop.
type runState struct {
	tracker *budget.Tracker
	history *history.Scores
	gate    *evalGate
	started time.Time

	cycles       []*task.IterationCycle
	best         *task.IterationCycle
	bestScore    float64
	lastScore    float64
	feedback     *Feedback
	lastTokens   int
	lastDuration time.Duration
}

// iterate runs one full plan-execute-evaluate-decide cycle. A non-nil
// error aborts the task; the caller classifies it as cancellation or
// failure. The cycle record is sealed and persisted on every path that
// produced one.
func (e *Engine) iterate(ctx context.Context, t *task.Task, run *runState, index int) (task.Decision, error) {
	ctx, span := startIterationSpan(ctx, index)
	defer span.End()

	log := e.log.WithTask(t.ID)
	cycle := task.NewCycle(t, index)
	begun := time.Now()

	plan, err := e.planner.Plan(ctx, t, run.feedback)
	if err != nil {
		e.abortCycle(ctx, t, run, cycle, err)
		return "", fmt.Errorf("plan iteration %d: %w", index, err)
	}

	artifact, err := e.executor.Execute(ctx, t, plan, run.feedback)
	if err != nil {
		e.abortCycle(ctx, t, run, cycle, err)
		return "", fmt.Errorf("execute iteration %d: %w", index, err)
	}
	cycle.Artifact = artifact

	score, eval, evaluated, err := e.scoreArtifact(ctx, t, run, artifact)
	if err != nil {
		e.abortCycle(ctx, t, run, cycle, err)
		return "", fmt.Errorf("evaluate iteration %d: %w", index, err)
	}
	if evaluated {
		cycle.Evaluation = eval
		if run.feedback != nil && run.feedback.Evaluation != nil {
			cycle.ResolvedFindings = markResolved(run.feedback.Evaluation.Findings, eval.Findings, index)
		}
	} else {
		log.Info("evaluation skipped, artifact identical to a scored iteration", map[string]interface{}{
			"iteration": index,
			"score":     score,
		})
	}

	cycle.Usage = artifact.Usage
	if evaluated {
		cycle.Usage = cycle.Usage.Add(eval.Usage)
	}
	cycle.Duration = time.Since(begun)

	state := run.tracker.Record(cycle.Usage, cycle.Duration, score)
	decision := Decide(DecideInput{
		Index:   index,
		Score:   score,
		Limits:  t.Limits,
		Budget:  state,
		History: run.history,
	})
	if evaluated {
		run.history.Push(score)
	}

	if err := cycle.Seal(decision); err != nil {
		return "", err
	}
	e.recordCycle(ctx, t, run, cycle)
	endIterationSpan(span, score, decision)

	log.Info("iteration complete", map[string]interface{}{
		"iteration":    index,
		"score":        score,
		"decision":     string(decision),
		"tokens_spent": state.TokensSpent,
		"duration":     cycle.Duration.String(),
	})

	run.lastScore = score
	run.lastTokens = cycle.Usage.Total()
	run.lastDuration = cycle.Duration
	if run.best == nil || score > run.bestScore {
		run.best = cycle
		run.bestScore = score
	}
	run.feedback = &Feedback{Iteration: index, Artifact: artifact, Evaluation: eval}
	return decision, nil
}

// markResolved compares the previous iteration's findings with the
// fresh ones: a prior finding the evaluator no longer reports is
// treated as fixed by this iteration. Prior findings get their
// ResolvedBy marker set in place; the resolved IDs are returned so
// recorders can update their own copies.
func markResolved(prev, current []task.Finding, iteration int) []string {
	still := make(map[string]bool, len(current))
	for _, f := range current {
		still[findingKey(f)] = true
	}
	var resolved []string
	for i := range prev {
		if prev[i].ResolvedBy != 0 || still[findingKey(prev[i])] {
			continue
		}
		prev[i].ResolvedBy = iteration
		resolved = append(resolved, prev[i].ID)
	}
	return resolved
}

func findingKey(f task.Finding) string {
	return f.Dimension + "\x00" + strings.ToLower(f.Title)
}

// scoreArtifact applies the evaluation gate: an artifact whose
// fingerprint matches an already-scored iteration reuses that score
// without a fresh evaluation. evaluated is false on the cached path.
func (e *Engine) scoreArtifact(ctx context.Context, t *task.Task, run *runState, a *task.Artifact) (float64, *task.Evaluation, bool, error) {
	if cached, ok := run.gate.Cached(a); ok {
		return cached.Score, cached, false, nil
	}
	eval, err := e.evaluator.Evaluate(ctx, t, a)
	if err != nil {
		return 0, nil, false, err
	}
	run.gate.Record(a, eval)
	return eval.Score, eval, true, nil
}

// abortCycle seals an interrupted cycle with the terminal decision that
// matches the error and persists what was produced so far.
func (e *Engine) abortCycle(ctx context.Context, t *task.Task, run *runState, cycle *task.IterationCycle, cause error) {
	decision := task.DecisionFailed
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		decision = task.DecisionCancelled
	}
	cycle.Duration = time.Since(cycle.CreatedAt)
	if cycle.Artifact != nil {
		cycle.Usage = cycle.Artifact.Usage
	}
	run.tracker.Record(cycle.Usage, cycle.Duration, 0)
	if err := cycle.Seal(decision); err == nil {
		e.recordCycle(ctx, t, run, cycle)
	}
}

func (e *Engine) recordCycle(ctx context.Context, t *task.Task, run *runState, cycle *task.IterationCycle) {
	run.cycles = append(run.cycles, cycle)
	for _, r := range e.recorders {
		if err := r.RecordCycle(ctx, t, cycle); err != nil {
			e.log.WithTask(t.ID).Warn("cycle recorder failed", map[string]interface{}{
				"iteration": cycle.Index,
				"error":     err.Error(),
			})
		}
	}
}

// finish assembles the terminal result, fans it out to the recorders
// and returns it. The output is the best-scoring iteration's artifact,
// which is not necessarily the last one.
func (e *Engine) finish(ctx context.Context, t *task.Task, run *runState, decision task.Decision, cause error) (*task.Result, error) {
	state := run.tracker.Snapshot()
	res := &task.Result{
		TaskID:      t.ID,
		Decision:    decision,
		Iterations:  len(run.cycles),
		FinalScore:  run.lastScore,
		BestScore:   state.BestScore,
		TotalTokens: state.TokensSpent,
		Elapsed:     time.Since(run.started),
	}
	if run.best != nil && run.best.Artifact != nil {
		res.Output = run.best.Artifact.Content
	}
	if cause != nil {
		res.Err = cause.Error()
	}

	for _, r := range e.recorders {
		if err := r.RecordResult(ctx, t, res); err != nil {
			e.log.WithTask(t.ID).Warn("result recorder failed", map[string]interface{}{"error": err.Error()})
		}
	}

	e.log.WithTask(t.ID).Info("task finished", map[string]interface{}{
		"decision":     string(decision),
		"iterations":   res.Iterations,
		"best_score":   res.BestScore,
		"total_tokens": res.TotalTokens,
		"elapsed":      res.Elapsed.String(),
	})

	return res, cause
}
