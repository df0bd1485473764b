package memory

import (
	"context"
	"testing"
)

func newTestBleveStore(t *testing.T) *BleveStore {
	t.Helper()
	s, err := NewBleveStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBleveRememberRecall(t *testing.T) {
	s := newTestBleveStore(t)
	ctx := context.Background()

	outcomes := []Record{
		{TaskID: "t1", Description: "add exponential backoff to the llm client", Decision: "quality_met", BestScore: 0.9},
		{TaskID: "t2", Description: "write a toml config parser", Decision: "max_iterations", BestScore: 0.7},
		{TaskID: "t3", Description: "tune the sqlite schema indexes", Decision: "quality_met", BestScore: 0.85},
	}
	for _, rec := range outcomes {
		if err := s.Remember(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	results, err := s.Recall(ctx, "backoff client", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one hit")
	}
	if results[0].TaskID != "t1" {
		t.Errorf("best hit should be the backoff task, got %+v", results[0])
	}
	if results[0].Score <= 0 || results[0].Score > 1 {
		t.Errorf("score must be normalized to (0,1], got %g", results[0].Score)
	}
}

func TestBleveRecallHonorsLimit(t *testing.T) {
	s := newTestBleveStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := s.Remember(ctx, Record{Description: "improve parser error recovery"}); err != nil {
			t.Fatal(err)
		}
	}
	results, err := s.Recall(ctx, "parser", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) > 2 {
		t.Errorf("limit ignored, got %d results", len(results))
	}
}

func TestBleveForget(t *testing.T) {
	s := newTestBleveStore(t)
	ctx := context.Background()
	rec := Record{ID: "gone", Description: "temporary outcome"}
	if err := s.Remember(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := s.Forget(ctx, "gone"); err != nil {
		t.Fatal(err)
	}
	results, err := s.Recall(ctx, "temporary outcome", 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if r.ID == "gone" {
			t.Error("forgotten outcome still indexed")
		}
	}
}

func TestBleveReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	s, err := NewBleveStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Remember(context.Background(), Record{Description: "durable outcome"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewBleveStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	results, err := reopened.Recall(context.Background(), "durable", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("expected the outcome to survive reopen, got %d", len(results))
	}
}
