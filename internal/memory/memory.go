// Package memory records the outcomes of completed tasks and recalls
// similar past work, so planning can reference what previously
// succeeded or failed.
package memory

import (
	"context"
	"time"
)

// Record is one remembered task outcome.
type Record struct {
	ID          string    `json:"id"`
	TaskID      string    `json:"task_id"`
	Description string    `json:"description"`
	Decision    string    `json:"decision"`
	BestScore   float64   `json:"best_score"`
	Lessons     string    `json:"lessons,omitempty"` // evaluator suggestions worth keeping
	CreatedAt   time.Time `json:"created_at"`
}

// Result is a record with its recall relevance.
type Result struct {
	Record
	Score float64 `json:"score"` // relevance 0-1
}

// Store is the interface for outcome memory.
type Store interface {
	Remember(ctx context.Context, rec Record) error
	Recall(ctx context.Context, query string, limit int) ([]Result, error)
	Forget(ctx context.Context, id string) error
	Close() error
}
