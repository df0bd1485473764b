// Package taskstore provides SQLite-backed persistence of tasks, their
// iterations and accumulated findings.
package taskstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/openkoi/openkoi/internal/task"
)

// Store provides SQLite-backed task persistence.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// TaskRecord is the stored view of a task, including its outcome once
// terminal.
type TaskRecord struct {
	ID          string
	Description string
	Category    string
	Status      string // "running" or the terminal decision
	Decision    string
	BestScore   float64
	FinalScore  float64
	Iterations  int
	TotalTokens int
	ElapsedMs   int64
	Error       string
	Limits      task.Limits
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IterationRecord is the stored view of one iteration.
type IterationRecord struct {
	ID         string
	TaskID     string
	Index      int
	Score      float64
	Evaluated  bool
	Decision   string
	TokensIn   int
	TokensOut  int
	DurationMs int64
	Output     string
	Suggestion string
	CreatedAt  time.Time
}

// CreateTask inserts a freshly submitted task in running state.
func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, description, category, status, max_iterations, token_budget, time_budget_ms, quality_threshold, created_at, updated_at)
		VALUES (?, ?, ?, 'running', ?, ?, ?, ?, ?, ?)
	`,
		t.ID,
		t.Description,
		t.Category,
		t.Limits.MaxIterations,
		t.Limits.TokenBudget,
		t.Limits.TimeBudget.Milliseconds(),
		t.Limits.QualityThreshold,
		t.CreatedAt,
		t.CreatedAt,
	)
	return err
}

// FinishTask records a task's terminal outcome.
func (s *Store) FinishTask(ctx context.Context, res *task.Result) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			status = ?,
			decision = ?,
			best_score = ?,
			final_score = ?,
			iterations = ?,
			total_tokens = ?,
			elapsed_ms = ?,
			error = ?,
			updated_at = ?
		WHERE id = ?
	`,
		string(res.Decision),
		string(res.Decision),
		res.BestScore,
		res.FinalScore,
		res.Iterations,
		res.TotalTokens,
		res.Elapsed.Milliseconds(),
		res.Err,
		time.Now(),
		res.TaskID,
	)
	return err
}

// GetTask retrieves a task record by ID.
func (s *Store) GetTask(ctx context.Context, id string) (*TaskRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, description, category, status, decision, best_score, final_score,
		       iterations, total_tokens, elapsed_ms, error,
		       max_iterations, token_budget, time_budget_ms, quality_threshold,
		       created_at, updated_at
		FROM tasks WHERE id = ?
	`, id)
	return scanTask(row)
}

// ListOptions filters ListTasks.
type ListOptions struct {
	Status string
	Limit  int
}

// ListTasks returns tasks newest first.
func (s *Store) ListTasks(ctx context.Context, opts ListOptions) ([]*TaskRecord, error) {
	query := `
		SELECT id, description, category, status, decision, best_score, final_score,
		       iterations, total_tokens, elapsed_ms, error,
		       max_iterations, token_budget, time_budget_ms, quality_threshold,
		       created_at, updated_at
		FROM tasks WHERE 1=1`
	var args []interface{}

	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, opts.Status)
	}
	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*TaskRecord
	for rows.Next() {
		rec, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, rec)
	}
	return tasks, rows.Err()
}

// SaveIteration persists one sealed iteration and its findings.
func (s *Store) SaveIteration(ctx context.Context, taskID string, c *task.IterationCycle) error {
	output := ""
	if c.Artifact != nil {
		output = c.Artifact.Content
	}
	suggestion := ""
	if c.Evaluation != nil {
		suggestion = c.Evaluation.Suggestion
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO iterations (id, task_id, idx, score, evaluated, decision, tokens_input, tokens_output, duration_ms, output, suggestion, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID,
		taskID,
		c.Index,
		c.Score(),
		c.Evaluated(),
		string(c.Decision),
		c.Usage.Input,
		c.Usage.Output,
		c.Duration.Milliseconds(),
		output,
		suggestion,
		c.CreatedAt,
	)
	if err != nil {
		return err
	}

	if c.Evaluation == nil {
		return nil
	}
	for _, f := range c.Evaluation.Findings {
		if err := s.saveFinding(ctx, taskID, c.Index, f); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) saveFinding(ctx context.Context, taskID string, iteration int, f task.Finding) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO findings (id, task_id, iteration_idx, severity, dimension, title, description, location, fix, resolved_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		f.ID, taskID, iteration, string(f.Severity), f.Dimension,
		f.Title, f.Description, f.Location, f.Fix, f.ResolvedBy,
	)
	return err
}

// ListIterations returns a task's iterations in index order.
func (s *Store) ListIterations(ctx context.Context, taskID string) ([]*IterationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, idx, score, evaluated, decision, tokens_input, tokens_output, duration_ms, output, suggestion, created_at
		FROM iterations WHERE task_id = ? ORDER BY idx
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var iterations []*IterationRecord
	for rows.Next() {
		var rec IterationRecord
		var output, suggestion sql.NullString
		if err := rows.Scan(&rec.ID, &rec.TaskID, &rec.Index, &rec.Score, &rec.Evaluated, &rec.Decision,
			&rec.TokensIn, &rec.TokensOut, &rec.DurationMs, &output, &suggestion, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Output = output.String
		rec.Suggestion = suggestion.String
		iterations = append(iterations, &rec)
	}
	return iterations, rows.Err()
}

// ListFindings returns a task's findings, blockers first, oldest first
// within a severity. Findings are never deleted; resolution is a marker.
func (s *Store) ListFindings(ctx context.Context, taskID string) ([]task.Finding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, severity, dimension, title, description, location, fix, resolved_by
		FROM findings WHERE task_id = ?
		ORDER BY CASE severity WHEN 'blocker' THEN 0 WHEN 'important' THEN 1 ELSE 2 END, created_at
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var findings []task.Finding
	for rows.Next() {
		var f task.Finding
		var severity string
		var dimension, description, location, fix sql.NullString
		if err := rows.Scan(&f.ID, &severity, &dimension, &f.Title, &description, &location, &fix, &f.ResolvedBy); err != nil {
			return nil, err
		}
		f.Severity = task.Severity(severity)
		f.Dimension = dimension.String
		f.Description = description.String
		f.Location = location.String
		f.Fix = fix.String
		findings = append(findings, f)
	}
	return findings, rows.Err()
}

// ResolveFinding marks a finding resolved by the given iteration. The
// record itself stays; history is append-only.
func (s *Store) ResolveFinding(ctx context.Context, findingID string, iteration int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE findings SET resolved_by = ? WHERE id = ?`, iteration, findingID)
	return err
}

// PruneOlderThan deletes terminal tasks (with their iterations and
// findings) finished before the cutoff. Used by daemon maintenance.
func (s *Store) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	const where = `task_id IN (SELECT id FROM tasks WHERE status != 'running' AND updated_at < ?)`
	if _, err := tx.ExecContext(ctx, `DELETE FROM findings WHERE `+where, cutoff); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM iterations WHERE `+where, cutoff); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE status != 'running' AND updated_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*TaskRecord, error) {
	var rec TaskRecord
	var category, decision, errMsg sql.NullString
	var timeBudgetMs int64

	err := row.Scan(&rec.ID, &rec.Description, &category, &rec.Status, &decision,
		&rec.BestScore, &rec.FinalScore, &rec.Iterations, &rec.TotalTokens, &rec.ElapsedMs, &errMsg,
		&rec.Limits.MaxIterations, &rec.Limits.TokenBudget, &timeBudgetMs, &rec.Limits.QualityThreshold,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.Category = category.String
	rec.Decision = decision.String
	rec.Error = errMsg.String
	rec.Limits.TimeBudget = time.Duration(timeBudgetMs) * time.Millisecond
	return &rec, nil
}

// Recorder adapts the store to the engine's recorder contract. The
// task row must exist before the first cycle arrives; CreateTask is
// the caller's responsibility at submission time.
type Recorder struct {
	store *Store
}

// NewRecorder wraps a store as an engine recorder.
func NewRecorder(s *Store) *Recorder {
	return &Recorder{store: s}
}

// RecordCycle persists the sealed iteration and marks the earlier
// findings it resolved.
func (r *Recorder) RecordCycle(ctx context.Context, t *task.Task, c *task.IterationCycle) error {
	if err := r.store.SaveIteration(ctx, t.ID, c); err != nil {
		return err
	}
	for _, id := range c.ResolvedFindings {
		if err := r.store.ResolveFinding(ctx, id, c.Index); err != nil {
			return err
		}
	}
	return nil
}

// RecordResult persists the terminal outcome.
func (r *Recorder) RecordResult(ctx context.Context, t *task.Task, res *task.Result) error {
	return r.store.FinishTask(ctx, res)
}
