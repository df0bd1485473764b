// Package task defines the core domain types for the iteration engine:
// tasks, iteration cycles, evaluations, findings and decisions.
package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Limits holds the resource and quality limits for one task.
// Immutable once the task starts.
type Limits struct {
	MaxIterations    int           `json:"max_iterations"`
	TokenBudget      int           `json:"token_budget"`
	TimeBudget       time.Duration `json:"time_budget"`
	QualityThreshold float64       `json:"quality_threshold"`
}

// Validate rejects limits before any iteration starts.
func (l Limits) Validate() error {
	if l.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be >= 1, got %d", l.MaxIterations)
	}
	if l.TokenBudget <= 0 {
		return fmt.Errorf("token_budget must be > 0, got %d", l.TokenBudget)
	}
	if l.TimeBudget <= 0 {
		return fmt.Errorf("time_budget must be > 0, got %s", l.TimeBudget)
	}
	if l.QualityThreshold < 0 || l.QualityThreshold > 1 {
		return fmt.Errorf("quality_threshold must be in [0,1], got %g", l.QualityThreshold)
	}
	return nil
}

// Task is one unit of work submitted to the engine.
// Read-only for the lifetime of the run.
type Task struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Category    string    `json:"category,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	Limits      Limits    `json:"limits"`
	CreatedAt   time.Time `json:"created_at"`
}

// New creates a task with the given description and limits.
func New(description string, limits Limits) (*Task, error) {
	if description == "" {
		return nil, fmt.Errorf("task description must not be empty")
	}
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	return &Task{
		ID:          uuid.New().String(),
		Description: description,
		Limits:      limits,
		CreatedAt:   time.Now(),
	}, nil
}

// TokenUsage counts tokens consumed by one LLM interaction.
type TokenUsage struct {
	Input  int `json:"input_tokens"`
	Output int `json:"output_tokens"`
}

// Total returns input + output tokens.
func (u TokenUsage) Total() int { return u.Input + u.Output }

// Add returns the element-wise sum of two usages.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{Input: u.Input + other.Input, Output: u.Output + other.Output}
}

// Artifact is the output produced by one execution attempt.
type Artifact struct {
	Content       string     `json:"content"`
	FilesModified []string   `json:"files_modified,omitempty"`
	ToolCalls     int        `json:"tool_calls,omitempty"`
	Usage         TokenUsage `json:"usage"`
}

// Severity classifies a finding.
type Severity string

const (
	SeveritySuggestion Severity = "suggestion"
	SeverityImportant  Severity = "important"
	SeverityBlocker    Severity = "blocker"
)

// ParseSeverity maps a string (any case) to a Severity.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(normalize(s)) {
	case SeveritySuggestion:
		return SeveritySuggestion, nil
	case SeverityImportant:
		return SeverityImportant, nil
	case SeverityBlocker:
		return SeverityBlocker, nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

func normalize(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Finding is one evaluator observation. Findings are append-only: a
// finding from iteration N may be marked resolved by a later iteration
// but its original record is never edited or deleted.
type Finding struct {
	ID          string   `json:"id"`
	Severity    Severity `json:"severity"`
	Dimension   string   `json:"dimension"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Location    string   `json:"location,omitempty"`
	Fix         string   `json:"fix,omitempty"`
	ResolvedBy  int      `json:"resolved_by,omitempty"` // iteration index, 0 = unresolved
}

// NewFinding creates a finding with a fresh ID.
func NewFinding(severity Severity, dimension, title, description string) Finding {
	return Finding{
		ID:          uuid.New().String(),
		Severity:    severity,
		Dimension:   dimension,
		Title:       title,
		Description: description,
	}
}

// DimensionScore is one scored axis with its declared weight.
type DimensionScore struct {
	Dimension string  `json:"dimension"`
	Score     float64 `json:"score"`
	Weight    float64 `json:"weight"`
}

// Evaluation is the aggregated result of one iteration's scoring.
// Scores and findings are fixed once the aggregator returns; only the
// findings' resolution markers are set later.
type Evaluation struct {
	Score          float64          `json:"score"`
	Dimensions     []DimensionScore `json:"dimensions"`
	Findings       []Finding        `json:"findings"`
	Suggestion     string           `json:"suggestion,omitempty"`
	EvaluatorSkill string           `json:"evaluator_skill"`
	Usage          TokenUsage       `json:"usage"`
	ChecksPassed   bool             `json:"checks_passed"`
}

// HasBlocker reports whether any finding carries Blocker severity.
func (e *Evaluation) HasBlocker() bool {
	for _, f := range e.Findings {
		if f.Severity == SeverityBlocker {
			return true
		}
	}
	return false
}

// IterationCycle is one attempt within a task. Created by the engine at
// the start of an attempt and sealed once its decision is recorded.
type IterationCycle struct {
	ID         string        `json:"id"`
	TaskID     string        `json:"task_id"`
	Index      int           `json:"index"` // 1-based, contiguous
	Artifact   *Artifact     `json:"artifact,omitempty"`
	Evaluation *Evaluation   `json:"evaluation,omitempty"` // nil if evaluation was skipped
	Decision   Decision      `json:"decision"`
	Usage      TokenUsage    `json:"usage"`
	Duration   time.Duration `json:"duration"`
	CreatedAt  time.Time     `json:"created_at"`

	// ResolvedFindings lists IDs of earlier findings this iteration's
	// evaluation no longer reports.
	ResolvedFindings []string `json:"resolved_findings,omitempty"`

	sealed bool
}

// NewCycle creates the record for iteration index (1-based).
func NewCycle(t *Task, index int) *IterationCycle {
	return &IterationCycle{
		ID:        uuid.New().String(),
		TaskID:    t.ID,
		Index:     index,
		CreatedAt: time.Now(),
	}
}

// Score returns the aggregate score, or 0 if evaluation was skipped.
func (c *IterationCycle) Score() float64 {
	if c.Evaluation == nil {
		return 0
	}
	return c.Evaluation.Score
}

// Evaluated reports whether this cycle carries an evaluation.
func (c *IterationCycle) Evaluated() bool { return c.Evaluation != nil }

// Seal records the decision and freezes the cycle. Sealing twice is a
// programming error.
func (c *IterationCycle) Seal(d Decision) error {
	if c.sealed {
		return fmt.Errorf("iteration %d already sealed with decision %s", c.Index, c.Decision)
	}
	c.Decision = d
	c.sealed = true
	return nil
}

// Sealed reports whether the decision has been recorded.
func (c *IterationCycle) Sealed() bool { return c.sealed }

// Result is the final outcome of a task, reported to the caller for
// every terminal decision, never a bare failure.
type Result struct {
	TaskID      string        `json:"task_id"`
	Decision    Decision      `json:"decision"`
	Output      string        `json:"output"`
	Iterations  int           `json:"iterations"`
	FinalScore  float64       `json:"final_score"`
	BestScore   float64       `json:"best_score"`
	TotalTokens int           `json:"total_tokens"`
	Elapsed     time.Duration `json:"elapsed"`
	Err         string        `json:"error,omitempty"`
}
