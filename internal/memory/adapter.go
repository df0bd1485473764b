package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/openkoi/openkoi/internal/task"
)

// Recorder feeds terminal task outcomes into a memory store. It
// satisfies the engine's recorder contract; per-iteration cycles are
// not memorable, only the final outcome is.
type Recorder struct {
	store Store

	mu          sync.Mutex
	suggestions map[string][]string // task ID -> evaluator suggestions seen
}

// NewRecorder wraps a store as an engine recorder.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store, suggestions: make(map[string][]string)}
}

// RecordCycle collects evaluator suggestions for the final record.
func (r *Recorder) RecordCycle(ctx context.Context, t *task.Task, c *task.IterationCycle) error {
	if c.Evaluation == nil || c.Evaluation.Suggestion == "" {
		return nil
	}
	r.mu.Lock()
	r.suggestions[t.ID] = append(r.suggestions[t.ID], c.Evaluation.Suggestion)
	r.mu.Unlock()
	return nil
}

// RecordResult remembers the finished task.
func (r *Recorder) RecordResult(ctx context.Context, t *task.Task, res *task.Result) error {
	r.mu.Lock()
	lessons := strings.Join(r.suggestions[t.ID], "\n")
	delete(r.suggestions, t.ID)
	r.mu.Unlock()

	return r.store.Remember(ctx, Record{
		TaskID:      t.ID,
		Description: t.Description,
		Decision:    string(res.Decision),
		BestScore:   res.BestScore,
		Lessons:     lessons,
	})
}
