package daemon

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/openkoi/openkoi/internal/engine"
	"github.com/openkoi/openkoi/internal/logging"
	"github.com/openkoi/openkoi/internal/task"
	"github.com/openkoi/openkoi/internal/taskstore"
)

type stubPlanner struct{}

func (stubPlanner) Plan(ctx context.Context, t *task.Task, prev *engine.Feedback) (*engine.Plan, error) {
	return &engine.Plan{Approach: "direct"}, nil
}

// blockingExecutor waits for cancellation when block is set.
type blockingExecutor struct {
	block bool
}

func (e *blockingExecutor) Execute(ctx context.Context, t *task.Task, plan *engine.Plan, prev *engine.Feedback) (*task.Artifact, error) {
	if e.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &task.Artifact{Content: "done", Usage: task.TokenUsage{Input: 10, Output: 10}}, nil
}

type stubEvaluator struct{ score float64 }

func (e stubEvaluator) Evaluate(ctx context.Context, t *task.Task, a *task.Artifact) (*task.Evaluation, error) {
	return &task.Evaluation{Score: e.score, ChecksPassed: true}, nil
}

func testLimits() task.Limits {
	return task.Limits{MaxIterations: 1, TokenBudget: 1000, TimeBudget: time.Minute, QualityThreshold: 0.8}
}

func newTestDaemon(t *testing.T, exec engine.Executor, opts Options) (*Daemon, *taskstore.Store) {
	t.Helper()
	store, err := taskstore.New(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	newEngine := func() *engine.Engine {
		return engine.New(stubPlanner{}, exec, stubEvaluator{score: 0.9}, engine.Options{
			Recorders: []engine.Recorder{taskstore.NewRecorder(store)},
			Logger:    logging.New(),
		})
	}
	d := New(newEngine, store, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		d.Shutdown(ctx)
	})
	return d, store
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func taskStatus(store *taskstore.Store, id string) string {
	rec, err := store.GetTask(context.Background(), id)
	if err != nil {
		return ""
	}
	return rec.Status
}

func TestSubmitRunsToCompletion(t *testing.T) {
	d, store := newTestDaemon(t, &blockingExecutor{}, Options{})

	tk, err := d.Submit(context.Background(), "demo task", "code", testLimits())
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, "task to finish", func() bool {
		return taskStatus(store, tk.ID) == "quality_met"
	})
	waitFor(t, "running set to drain", func() bool {
		return len(d.Running()) == 0
	})

	rec, err := store.GetTask(context.Background(), tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Category != "code" || rec.Iterations != 1 {
		t.Errorf("record: %+v", rec)
	}
}

func TestCancelRunningTask(t *testing.T) {
	d, store := newTestDaemon(t, &blockingExecutor{block: true}, Options{})

	tk, err := d.Submit(context.Background(), "long task", "", testLimits())
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "task to appear in running set", func() bool {
		ids := d.Running()
		return len(ids) == 1 && ids[0] == tk.ID
	})

	if d.Cancel("no-such-id") {
		t.Error("cancel of unknown id reported true")
	}
	if !d.Cancel(tk.ID) {
		t.Fatal("cancel of running task reported false")
	}
	waitFor(t, "task to be marked cancelled", func() bool {
		return taskStatus(store, tk.ID) == "cancelled"
	})
}

func TestShutdownDrainsRunningTasks(t *testing.T) {
	d, store := newTestDaemon(t, &blockingExecutor{block: true}, Options{})

	tk, err := d.Submit(context.Background(), "long task", "", testLimits())
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "task to start", func() bool { return len(d.Running()) == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if got := taskStatus(store, tk.ID); got != "cancelled" {
		t.Errorf("status after shutdown = %q", got)
	}
}

func TestSubmitRejectsInvalidLimits(t *testing.T) {
	d, _ := newTestDaemon(t, &blockingExecutor{}, Options{})

	if _, err := d.Submit(context.Background(), "bad", "", task.Limits{}); err == nil {
		t.Fatal("expected validation error")
	}
	if _, err := d.Submit(context.Background(), "", "", testLimits()); err == nil {
		t.Fatal("expected empty description error")
	}
}

func TestMaintenancePrunesFinishedTasks(t *testing.T) {
	d, store := newTestDaemon(t, &blockingExecutor{}, Options{
		MaintenanceCron: "0 3 * * *",
		Retention:       time.Nanosecond,
	})

	tk, err := task.New("old task", testLimits())
	if err != nil {
		t.Fatal(err)
	}
	if err := store.CreateTask(context.Background(), tk); err != nil {
		t.Fatal(err)
	}
	if err := store.FinishTask(context.Background(), &task.Result{
		TaskID: tk.ID, Decision: task.DecisionQualityMet, Iterations: 1,
	}); err != nil {
		t.Fatal(err)
	}

	time.Sleep(time.Millisecond)
	d.maintain()

	if _, err := store.GetTask(context.Background(), tk.ID); err == nil {
		t.Error("finished task survived maintenance prune")
	}
}

func TestNewToleratesBadCronSpec(t *testing.T) {
	d, _ := newTestDaemon(t, &blockingExecutor{}, Options{
		MaintenanceCron: "not a schedule",
		Retention:       time.Hour,
	})
	d.Start() // must not panic with the schedule rejected
}
