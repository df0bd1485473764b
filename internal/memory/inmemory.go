package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemory is a Store for tests and for runs where persistence is
// disabled. Recall scores by naive term overlap.
type InMemory struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewInMemory creates an empty in-process store.
func NewInMemory() *InMemory {
	return &InMemory{records: make(map[string]Record)}
}

// Remember stores a record.
func (s *InMemory) Remember(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	s.records[rec.ID] = rec
	return nil
}

// Recall returns records sharing terms with the query, best first.
func (s *InMemory) Recall(ctx context.Context, query string, limit int) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}
	terms := strings.Fields(strings.ToLower(query))

	var results []Result
	for _, rec := range s.records {
		text := strings.ToLower(rec.Description + " " + rec.Lessons)
		matched := 0
		for _, t := range terms {
			if strings.Contains(text, t) {
				matched++
			}
		}
		if matched == 0 || len(terms) == 0 {
			continue
		}
		results = append(results, Result{Record: rec, Score: float64(matched) / float64(len(terms))})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Forget removes a record.
func (s *InMemory) Forget(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

// Close is a no-op.
func (s *InMemory) Close() error { return nil }
