// Package state maintains the crash-safe on-disk view of the engine:
// current-task.json holds the live task snapshot and task-history.jsonl
// accumulates one line per finished task.
package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/openkoi/openkoi/internal/task"
)

const (
	currentFile = "current-task.json"
	historyFile = "task-history.jsonl"
)

// Snapshot is the live view of a running task, replaced wholesale on
// every lifecycle transition.
type Snapshot struct {
	TaskID      string    `json:"task_id"`
	Description string    `json:"description"`
	Status      string    `json:"status"` // "running" or the terminal decision
	Iteration   int       `json:"iteration"`
	Score       float64   `json:"score"`
	BestScore   float64   `json:"best_score"`
	TokensSpent int       `json:"tokens_spent"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HistoryEntry is one finished task in the append-only history.
type HistoryEntry struct {
	TaskID      string    `json:"task_id"`
	Description string    `json:"description"`
	Decision    string    `json:"decision"`
	Iterations  int       `json:"iterations"`
	BestScore   float64   `json:"best_score"`
	TotalTokens int       `json:"total_tokens"`
	ElapsedMs   int64     `json:"elapsed_ms"`
	Error       string    `json:"error,omitempty"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Writer owns the state directory.
type Writer struct {
	dir string
}

// NewWriter creates the state directory if needed.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// WriteCurrent replaces current-task.json atomically: the snapshot is
// written to a temp file and renamed into place, so readers never see
// a torn write.
func (w *Writer) WriteCurrent(s Snapshot) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(w.dir, currentFile+".tmp-")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(w.dir, currentFile))
}

// ReadCurrent loads the live snapshot. A missing file means no task is
// running and is not an error; the boolean reports presence.
func (w *Writer) ReadCurrent() (Snapshot, bool, error) {
	data, err := os.ReadFile(filepath.Join(w.dir, currentFile))
	if os.IsNotExist(err) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, false, fmt.Errorf("corrupt %s: %w", currentFile, err)
	}
	return s, true, nil
}

// ClearCurrent removes the live snapshot once the task is terminal.
func (w *Writer) ClearCurrent() error {
	err := os.Remove(filepath.Join(w.dir, currentFile))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// AppendHistory adds one finished task to the history log.
func (w *Writer) AppendHistory(e HistoryEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(w.dir, historyFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// History returns the most recent entries, newest last. limit <= 0
// returns everything. Unparseable lines are skipped rather than
// poisoning the whole read.
func (w *Writer) History(limit int) ([]HistoryEntry, error) {
	f, err := os.Open(filepath.Join(w.dir, historyFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []HistoryEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e HistoryEntry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

// Recorder keeps the state files in step with the engine. It satisfies
// the engine's recorder contract. Cumulative totals are kept in memory
// per task rather than read back from disk, so concurrent tasks
// sharing the snapshot file cannot pollute each other's counters.
type Recorder struct {
	writer *Writer

	mu     sync.Mutex
	tokens map[string]int
	best   map[string]float64
}

// NewRecorder wraps a writer as an engine recorder.
func NewRecorder(w *Writer) *Recorder {
	return &Recorder{
		writer: w,
		tokens: make(map[string]int),
		best:   make(map[string]float64),
	}
}

// RecordCycle refreshes the live snapshot after each iteration.
func (r *Recorder) RecordCycle(ctx context.Context, t *task.Task, c *task.IterationCycle) error {
	r.mu.Lock()
	r.tokens[t.ID] += c.Usage.Total()
	if c.Score() > r.best[t.ID] {
		r.best[t.ID] = c.Score()
	}
	snap := Snapshot{
		TaskID:      t.ID,
		Description: t.Description,
		Status:      "running",
		Iteration:   c.Index,
		Score:       c.Score(),
		BestScore:   r.best[t.ID],
		TokensSpent: r.tokens[t.ID],
		UpdatedAt:   time.Now(),
	}
	r.mu.Unlock()
	return r.writer.WriteCurrent(snap)
}

// RecordResult appends the finished task to history and clears the
// live snapshot, unless another task has since taken it over.
func (r *Recorder) RecordResult(ctx context.Context, t *task.Task, res *task.Result) error {
	r.mu.Lock()
	delete(r.tokens, t.ID)
	delete(r.best, t.ID)
	r.mu.Unlock()

	entry := HistoryEntry{
		TaskID:      t.ID,
		Description: t.Description,
		Decision:    string(res.Decision),
		Iterations:  res.Iterations,
		BestScore:   res.BestScore,
		TotalTokens: res.TotalTokens,
		ElapsedMs:   res.Elapsed.Milliseconds(),
		Error:       res.Err,
		FinishedAt:  time.Now(),
	}
	if err := r.writer.AppendHistory(entry); err != nil {
		return err
	}
	if snap, ok, err := r.writer.ReadCurrent(); err == nil && ok && snap.TaskID != t.ID {
		return nil
	}
	return r.writer.ClearCurrent()
}
