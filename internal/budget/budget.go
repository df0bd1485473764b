// Package budget tracks consumed resources against configured limits.
// A tracker is owned by exactly one engine instance; no locking needed.
package budget

import (
	"time"

	"github.com/openkoi/openkoi/internal/task"
)

// State is an immutable snapshot of the tracker's running totals.
// Tokens, elapsed time and iteration count are strictly monotonic;
// BestScore is a running maximum.
type State struct {
	TokensSpent int
	TokenBudget int
	Elapsed     time.Duration
	TimeBudget  time.Duration
	Iterations  int
	BestScore   float64
}

// TokensRemaining is the unspent token budget, clamped to zero.
func (s State) TokensRemaining() int {
	if r := s.TokenBudget - s.TokensSpent; r > 0 {
		return r
	}
	return 0
}

// TimeRemaining is the unspent time budget, clamped to zero.
func (s State) TimeRemaining() time.Duration {
	if r := s.TimeBudget - s.Elapsed; r > 0 {
		return r
	}
	return 0
}

// Exhausted reports whether either the token or the time budget is spent.
func (s State) Exhausted() bool {
	return s.TokensRemaining() == 0 || s.TimeRemaining() == 0
}

// Tracker accumulates per-iteration resource consumption. Record is
// called exactly once per completed iteration and never rolled back.
type Tracker struct {
	state State
}

// NewTracker creates a tracker for the given limits.
func NewTracker(limits task.Limits) *Tracker {
	return &Tracker{state: State{
		TokenBudget: limits.TokenBudget,
		TimeBudget:  limits.TimeBudget,
	}}
}

// Record adds one completed iteration's consumption and returns the
// updated snapshot.
func (t *Tracker) Record(usage task.TokenUsage, duration time.Duration, score float64) State {
	t.state.TokensSpent += usage.Total()
	t.state.Elapsed += duration
	t.state.Iterations++
	if score > t.state.BestScore {
		t.state.BestScore = score
	}
	return t.state
}

// Snapshot returns the current totals without side effects.
func (t *Tracker) Snapshot() State { return t.state }

// RemainingTokens is a pure query, never negative.
func (t *Tracker) RemainingTokens() int { return t.state.TokensRemaining() }

// RemainingTime is a pure query, never negative.
func (t *Tracker) RemainingTime() time.Duration { return t.state.TimeRemaining() }

// WouldExceed reports whether committing to an iteration with the given
// estimated cost would cross the token or time budget. Used as a
// pre-flight check so the engine fails fast instead of spending an
// iteration and discovering exhaustion after the fact.
func (t *Tracker) WouldExceed(estimatedTokens int, estimatedDuration time.Duration) bool {
	if t.state.TokensSpent+estimatedTokens > t.state.TokenBudget {
		return true
	}
	if t.state.Elapsed+estimatedDuration > t.state.TimeBudget {
		return true
	}
	return false
}
