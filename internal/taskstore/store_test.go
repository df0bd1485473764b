package taskstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/openkoi/openkoi/internal/task"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "openkoi.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newStoredTask(t *testing.T, s *Store) *task.Task {
	t.Helper()
	tk, err := task.New("add retry logic", task.Limits{
		MaxIterations: 3, TokenBudget: 200_000, TimeBudget: 10 * time.Minute, QualityThreshold: 0.8,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.CreateTask(context.Background(), tk); err != nil {
		t.Fatal(err)
	}
	return tk
}

func TestCreateGetTask(t *testing.T) {
	s := newTestStore(t)
	tk := newStoredTask(t, s)

	rec, err := s.GetTask(context.Background(), tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Description != tk.Description || rec.Status != "running" {
		t.Errorf("got %+v", rec)
	}
	if rec.Limits.TokenBudget != 200_000 || rec.Limits.TimeBudget != 10*time.Minute {
		t.Errorf("limits not round-tripped: %+v", rec.Limits)
	}
}

func TestFinishTask(t *testing.T) {
	s := newTestStore(t)
	tk := newStoredTask(t, s)

	res := &task.Result{
		TaskID: tk.ID, Decision: task.DecisionQualityMet,
		Iterations: 2, BestScore: 0.9, FinalScore: 0.9,
		TotalTokens: 12345, Elapsed: 42 * time.Second,
	}
	if err := s.FinishTask(context.Background(), res); err != nil {
		t.Fatal(err)
	}

	rec, err := s.GetTask(context.Background(), tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != "quality_met" || rec.BestScore != 0.9 || rec.TotalTokens != 12345 {
		t.Errorf("got %+v", rec)
	}
}

func TestSaveAndListIterations(t *testing.T) {
	s := newTestStore(t)
	tk := newStoredTask(t, s)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		c := task.NewCycle(tk, i)
		c.Artifact = &task.Artifact{Content: "output"}
		c.Evaluation = &task.Evaluation{
			Score:      0.5 + float64(i)/10,
			Suggestion: "tighten the loop",
			Findings: []task.Finding{
				task.NewFinding(task.SeverityImportant, "correctness", "off by one", "loop bound"),
			},
		}
		c.Usage = task.TokenUsage{Input: 100, Output: 50}
		if err := c.Seal(task.DecisionContinue); err != nil {
			t.Fatal(err)
		}
		if err := s.SaveIteration(ctx, tk.ID, c); err != nil {
			t.Fatal(err)
		}
	}

	iterations, err := s.ListIterations(ctx, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(iterations) != 2 {
		t.Fatalf("expected 2 iterations, got %d", len(iterations))
	}
	if iterations[0].Index != 1 || iterations[1].Index != 2 {
		t.Errorf("order: %+v", iterations)
	}
	if iterations[1].Score != 0.7 || iterations[1].Suggestion != "tighten the loop" {
		t.Errorf("iteration 2: %+v", iterations[1])
	}

	findings, err := s.ListFindings(ctx, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(findings) != 2 {
		t.Errorf("expected 2 findings, got %d", len(findings))
	}
}

func TestSkippedEvaluationStoredAsUnevaluated(t *testing.T) {
	s := newTestStore(t)
	tk := newStoredTask(t, s)

	c := task.NewCycle(tk, 1)
	c.Artifact = &task.Artifact{Content: "same"}
	if err := c.Seal(task.DecisionContinue); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveIteration(context.Background(), tk.ID, c); err != nil {
		t.Fatal(err)
	}

	iterations, err := s.ListIterations(context.Background(), tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(iterations) != 1 || iterations[0].Evaluated {
		t.Errorf("got %+v", iterations)
	}
}

func TestFindingsOrderedBySeverity(t *testing.T) {
	s := newTestStore(t)
	tk := newStoredTask(t, s)
	ctx := context.Background()

	c := task.NewCycle(tk, 1)
	c.Evaluation = &task.Evaluation{Findings: []task.Finding{
		task.NewFinding(task.SeveritySuggestion, "style", "naming", ""),
		task.NewFinding(task.SeverityBlocker, "safety", "data loss", ""),
		task.NewFinding(task.SeverityImportant, "correctness", "nil deref", ""),
	}}
	if err := c.Seal(task.DecisionContinue); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveIteration(ctx, tk.ID, c); err != nil {
		t.Fatal(err)
	}

	findings, err := s.ListFindings(ctx, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := []task.Severity{task.SeverityBlocker, task.SeverityImportant, task.SeveritySuggestion}
	for i, sev := range want {
		if findings[i].Severity != sev {
			t.Errorf("finding %d: got %s, want %s", i, findings[i].Severity, sev)
		}
	}
}

func TestResolveFindingKeepsRecord(t *testing.T) {
	s := newTestStore(t)
	tk := newStoredTask(t, s)
	ctx := context.Background()

	f := task.NewFinding(task.SeverityImportant, "correctness", "missing check", "")
	c := task.NewCycle(tk, 1)
	c.Evaluation = &task.Evaluation{Findings: []task.Finding{f}}
	if err := c.Seal(task.DecisionContinue); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveIteration(ctx, tk.ID, c); err != nil {
		t.Fatal(err)
	}

	if err := s.ResolveFinding(ctx, f.ID, 2); err != nil {
		t.Fatal(err)
	}
	findings, err := s.ListFindings(ctx, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(findings) != 1 || findings[0].ResolvedBy != 2 {
		t.Errorf("got %+v", findings)
	}
}

func TestRecorderResolvesPriorFindings(t *testing.T) {
	s := newTestStore(t)
	tk := newStoredTask(t, s)
	rec := NewRecorder(s)
	ctx := context.Background()

	f := task.NewFinding(task.SeverityImportant, "correctness", "off by one", "")
	c1 := task.NewCycle(tk, 1)
	c1.Evaluation = &task.Evaluation{Score: 0.6, Findings: []task.Finding{f}}
	if err := c1.Seal(task.DecisionContinue); err != nil {
		t.Fatal(err)
	}
	if err := rec.RecordCycle(ctx, tk, c1); err != nil {
		t.Fatal(err)
	}

	c2 := task.NewCycle(tk, 2)
	c2.Evaluation = &task.Evaluation{Score: 0.9}
	c2.ResolvedFindings = []string{f.ID}
	if err := c2.Seal(task.DecisionQualityMet); err != nil {
		t.Fatal(err)
	}
	if err := rec.RecordCycle(ctx, tk, c2); err != nil {
		t.Fatal(err)
	}

	findings, err := s.ListFindings(ctx, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(findings) != 1 || findings[0].ResolvedBy != 2 {
		t.Errorf("finding from iteration 1 must show resolved_by=2, got %+v", findings)
	}
}

func TestListTasksFilterAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	done := newStoredTask(t, s)
	if err := s.FinishTask(ctx, &task.Result{TaskID: done.ID, Decision: task.DecisionMaxIterations}); err != nil {
		t.Fatal(err)
	}
	newStoredTask(t, s)

	running, err := s.ListTasks(ctx, ListOptions{Status: "running"})
	if err != nil || len(running) != 1 {
		t.Fatalf("running: %d, err %v", len(running), err)
	}
	all, err := s.ListTasks(ctx, ListOptions{})
	if err != nil || len(all) != 2 {
		t.Fatalf("all: %d, err %v", len(all), err)
	}
	one, err := s.ListTasks(ctx, ListOptions{Limit: 1})
	if err != nil || len(one) != 1 {
		t.Fatalf("limit: %d, err %v", len(one), err)
	}
}

func TestPruneOlderThan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := newStoredTask(t, s)
	if err := s.FinishTask(ctx, &task.Result{TaskID: old.ID, Decision: task.DecisionFailed}); err != nil {
		t.Fatal(err)
	}
	running := newStoredTask(t, s)

	n, err := s.PruneOlderThan(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned task, got %d", n)
	}
	// Running tasks survive regardless of age.
	if _, err := s.GetTask(ctx, running.ID); err != nil {
		t.Errorf("running task must survive pruning: %v", err)
	}
}

func TestRecorderAdapters(t *testing.T) {
	s := newTestStore(t)
	tk := newStoredTask(t, s)
	rec := NewRecorder(s)
	ctx := context.Background()

	c := task.NewCycle(tk, 1)
	c.Evaluation = &task.Evaluation{Score: 0.9}
	if err := c.Seal(task.DecisionQualityMet); err != nil {
		t.Fatal(err)
	}
	if err := rec.RecordCycle(ctx, tk, c); err != nil {
		t.Fatal(err)
	}
	if err := rec.RecordResult(ctx, tk, &task.Result{TaskID: tk.ID, Decision: task.DecisionQualityMet, BestScore: 0.9}); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "quality_met" {
		t.Errorf("status %s", got.Status)
	}
}
