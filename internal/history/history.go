// Package history keeps the append-only record of per-iteration
// aggregate scores used for regression comparison.
package history

// Scores is an append-only sequence of evaluated iteration scores.
// Iterations that skipped evaluation contribute no point, so regression
// is always judged against the last *evaluated* score.
type Scores struct {
	points []float64

	// Epsilon is the regression tolerance: a drop counts as regression
	// only when current < previous - Epsilon. Zero means any strict
	// decrease regresses.
	Epsilon float64
}

// New creates an empty history with the given regression tolerance.
func New(epsilon float64) *Scores {
	return &Scores{Epsilon: epsilon}
}

// Push appends an evaluated score.
func (s *Scores) Push(score float64) {
	s.points = append(s.points, score)
}

// Len returns the number of evaluated scores recorded.
func (s *Scores) Len() int { return len(s.points) }

// Previous returns the most recently pushed score. ok is false when no
// score has been recorded yet.
func (s *Scores) Previous() (score float64, ok bool) {
	if len(s.points) == 0 {
		return 0, false
	}
	return s.points[len(s.points)-1], true
}

// Best returns the running maximum. ok is false when empty.
func (s *Scores) Best() (score float64, ok bool) {
	if len(s.points) == 0 {
		return 0, false
	}
	best := s.points[0]
	for _, p := range s.points[1:] {
		if p > best {
			best = p
		}
	}
	return best, true
}

// Regressed reports whether current regresses from the last evaluated
// score. The first evaluated iteration can never regress.
func (s *Scores) Regressed(current float64) bool {
	prev, ok := s.Previous()
	if !ok {
		return false
	}
	return current < prev-s.Epsilon
}
