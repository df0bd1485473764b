package evaluator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openkoi/openkoi/internal/logging"
	"github.com/openkoi/openkoi/internal/task"
)

type fakeScorer struct {
	name    string
	result  *Result
	errs    []error // consumed per call, nil entry = success
	calls   int
	lastErr error
}

func (f *fakeScorer) Name() string { return f.name }

func (f *fakeScorer) Score(ctx context.Context, in Input) (*Result, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		f.lastErr = f.errs[i]
		return nil, f.errs[i]
	}
	return f.result, nil
}

func testInput(t *testing.T) Input {
	t.Helper()
	tk, err := task.New("test task", task.Limits{
		MaxIterations: 3, TokenBudget: 1000, TimeBudget: time.Minute, QualityThreshold: 0.8,
	})
	if err != nil {
		t.Fatal(err)
	}
	return Input{Task: tk, Artifact: &task.Artifact{Content: "output"}}
}

func dim(name string, score, weight float64) task.DimensionScore {
	return task.DimensionScore{Dimension: name, Score: score, Weight: weight}
}

func newTestAggregator(attempts int, scorers ...Scorer) *Aggregator {
	a := NewAggregator(scorers, attempts, logging.New())
	a.retry.InitBackoff = time.Millisecond
	a.retry.MaxBackoff = 2 * time.Millisecond
	return a
}

func TestEvaluate_WeightedAggregate(t *testing.T) {
	s := &fakeScorer{name: "judge", result: &Result{Dimensions: []task.DimensionScore{
		dim("correctness", 0.9, 0.5),
		dim("safety", 0.7, 0.3),
		dim("style", 0.5, 0.2),
	}}}
	eval, err := newTestAggregator(1, s).Evaluate(context.Background(), testInput(t))
	if err != nil {
		t.Fatal(err)
	}
	want := 0.9*0.5 + 0.7*0.3 + 0.5*0.2 // 0.76
	if diff := eval.Score - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected aggregate %g, got %g", want, eval.Score)
	}
	if !eval.ChecksPassed {
		t.Error("no blockers means checks passed")
	}
}

// A Blocker finding caps the aggregate regardless of how high the
// unrelated dimensions score.
func TestEvaluate_BlockerCapsScore(t *testing.T) {
	s1 := &fakeScorer{name: "judge", result: &Result{Dimensions: []task.DimensionScore{
		dim("correctness", 0.95, 0.5),
		dim("style", 0.95, 0.5),
	}}}
	s2 := &fakeScorer{name: "tests", result: &Result{
		Dimensions: []task.DimensionScore{dim("tests", 0.95, 1)},
		Findings: []task.Finding{
			task.NewFinding(task.SeverityBlocker, "tests", "data loss", "output deletes user data"),
		},
	}}

	eval, err := newTestAggregator(1, s1, s2).Evaluate(context.Background(), testInput(t))
	if err != nil {
		t.Fatal(err)
	}
	if eval.Score > BlockerScoreCap {
		t.Errorf("blocker must cap score at %g, got %g", BlockerScoreCap, eval.Score)
	}
	if eval.ChecksPassed {
		t.Error("blocker finding should fail checks")
	}
}

func TestEvaluate_ImportantDoesNotCap(t *testing.T) {
	s := &fakeScorer{name: "judge", result: &Result{
		Dimensions: []task.DimensionScore{dim("correctness", 0.9, 1)},
		Findings: []task.Finding{
			task.NewFinding(task.SeverityImportant, "correctness", "edge case", "missing nil check"),
		},
	}}
	eval, err := newTestAggregator(1, s).Evaluate(context.Background(), testInput(t))
	if err != nil {
		t.Fatal(err)
	}
	if eval.Score != 0.9 {
		t.Errorf("important findings must not cap, got %g", eval.Score)
	}
}

func TestEvaluate_TransientFailureRetried(t *testing.T) {
	s := &fakeScorer{
		name:   "judge",
		errs:   []error{errors.New("429 too many requests")},
		result: &Result{Dimensions: []task.DimensionScore{dim("correctness", 0.8, 1)}},
	}
	eval, err := newTestAggregator(3, s).Evaluate(context.Background(), testInput(t))
	if err != nil {
		t.Fatal(err)
	}
	if s.calls != 2 {
		t.Errorf("expected one retry, got %d calls", s.calls)
	}
	if eval.Score != 0.8 {
		t.Errorf("expected recovered score 0.8, got %g", eval.Score)
	}
}

// A permanently failing scorer degrades to a zero-scored Blocker
// dimension instead of corrupting the other scorers' results.
func TestEvaluate_PermanentFailureDegrades(t *testing.T) {
	broken := &fakeScorer{name: "static", errs: []error{errors.New("parser exploded")}}
	healthy := &fakeScorer{name: "judge", result: &Result{
		Dimensions: []task.DimensionScore{dim("correctness", 0.9, 1)},
	}}

	eval, err := newTestAggregator(3, broken, healthy).Evaluate(context.Background(), testInput(t))
	if err != nil {
		t.Fatal(err)
	}
	if broken.calls != 1 {
		t.Errorf("non-transient failure must not be retried, got %d calls", broken.calls)
	}
	if !eval.HasBlocker() {
		t.Error("degraded scorer must surface a Blocker finding")
	}
	if eval.Score > BlockerScoreCap {
		t.Errorf("degraded evaluation must be capped, got %g", eval.Score)
	}
	// Healthy dimension survives alongside the degraded one.
	found := false
	for _, d := range eval.Dimensions {
		if d.Dimension == "correctness" && d.Score == 0.9 {
			found = true
		}
	}
	if !found {
		t.Error("healthy scorer's dimension must survive a sibling's degradation")
	}
}

func TestEvaluate_TransientExhaustionDegrades(t *testing.T) {
	transient := errors.New("503 service unavailable")
	s := &fakeScorer{name: "judge", errs: []error{transient, transient, transient}}

	eval, err := newTestAggregator(2, s).Evaluate(context.Background(), testInput(t))
	if err != nil {
		t.Fatal(err)
	}
	if s.calls != 2 {
		t.Errorf("expected attempt ceiling of 2, got %d calls", s.calls)
	}
	if !eval.HasBlocker() || eval.Score > BlockerScoreCap {
		t.Errorf("exhausted retries must degrade, got score %g", eval.Score)
	}
}

func TestEvaluate_NoDimensionsScoresConservative(t *testing.T) {
	eval, err := newTestAggregator(1).Evaluate(context.Background(), testInput(t))
	if err != nil {
		t.Fatal(err)
	}
	if eval.Score != emptyScore {
		t.Errorf("no scorers should yield the conservative %g, got %g", emptyScore, eval.Score)
	}
}

func TestEvaluate_Cancelled(t *testing.T) {
	s := &fakeScorer{name: "judge", errs: []error{errors.New("rate limit"), errors.New("rate limit")}}
	a := NewAggregator([]Scorer{s}, 3, logging.New())
	a.retry.InitBackoff = time.Hour // force the sleep to be the suspension point

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if _, err := a.Evaluate(ctx, testInput(t)); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestCompositeScore_ZeroWeightFallsBackToMean(t *testing.T) {
	got := compositeScore([]task.DimensionScore{dim("a", 0.4, 0), dim("b", 0.8, 0)})
	if got != 0.6 {
		t.Errorf("expected plain mean 0.6, got %g", got)
	}
}
