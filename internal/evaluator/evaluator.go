// Package evaluator combines independent scoring signals into one
// aggregate score and finding list for the decision state machine.
package evaluator

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openkoi/openkoi/internal/logging"
	"github.com/openkoi/openkoi/internal/provider"
	"github.com/openkoi/openkoi/internal/skills"
	"github.com/openkoi/openkoi/internal/task"
)

// BlockerScoreCap is the aggregate ceiling applied whenever any Blocker
// finding is present: a single severe defect cannot be averaged away by
// unrelated high scores.
const BlockerScoreCap = 0.4

// emptyScore is the conservative aggregate when no dimension was scored.
const emptyScore = 0.5

// Input is the immutable snapshot handed to every scorer.
type Input struct {
	Task     *task.Task
	Artifact *task.Artifact
	Skill    *skills.Skill // nil when no evaluator skill matched
}

// Result is one scorer's contribution.
type Result struct {
	Dimensions []task.DimensionScore
	Findings   []task.Finding
	Usage      task.TokenUsage
}

// Scorer produces dimension scores in [0,1] and findings for one
// artifact. Scorers may fail transiently (retried by the aggregator) or
// permanently (degraded to a Blocker-capped zero dimension).
type Scorer interface {
	Name() string
	Score(ctx context.Context, in Input) (*Result, error)
}

// Aggregator runs all applicable scorers in parallel and combines their
// results. One broken scorer never corrupts scores from the others.
type Aggregator struct {
	scorers  []Scorer
	attempts int
	retry    provider.RetryConfig
	logger   *logging.Logger
}

// NewAggregator creates an aggregator over the given scorers. attempts
// bounds per-scorer tries (including the first); values < 1 mean 1.
func NewAggregator(scorers []Scorer, attempts int, logger *logging.Logger) *Aggregator {
	if attempts < 1 {
		attempts = 1
	}
	return &Aggregator{
		scorers:  scorers,
		attempts: attempts,
		retry:    provider.RetryConfig{InitBackoff: time.Second, MaxBackoff: 30 * time.Second},
		logger:   logger.WithComponent("evaluator"),
	}
}

// Evaluate fans out to every scorer, joins their results and aggregates.
// It returns an error only when ctx is cancelled; scorer failures
// degrade instead of aborting.
func (a *Aggregator) Evaluate(ctx context.Context, in Input) (*task.Evaluation, error) {
	skillName := "default"
	if in.Skill != nil {
		skillName = in.Skill.Name
	}

	results := make([]*Result, len(a.scorers))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range a.scorers {
		g.Go(func() error {
			res, err := a.scoreWithRetry(gctx, s, in)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				// Permanent failure: degrade to a zero-scored Blocker
				// dimension rather than failing the whole evaluation.
				a.logger.Warn("scorer degraded", map[string]interface{}{
					"scorer": s.Name(), "error": err.Error(),
				})
				res = degradedResult(s.Name(), err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var dims []task.DimensionScore
	var findings []task.Finding
	var usage task.TokenUsage
	for _, r := range results {
		dims = append(dims, r.Dimensions...)
		findings = append(findings, r.Findings...)
		usage = usage.Add(r.Usage)
	}

	eval := &task.Evaluation{
		Score:          compositeScore(dims),
		Dimensions:     dims,
		Findings:       findings,
		EvaluatorSkill: skillName,
		Usage:          usage,
		ChecksPassed:   !hasSeverity(findings, task.SeverityBlocker),
	}

	if eval.HasBlocker() && eval.Score > BlockerScoreCap {
		eval.Score = BlockerScoreCap
	}
	eval.Suggestion = suggestion(findings)

	a.logger.Debug("evaluation aggregated", map[string]interface{}{
		"skill":      skillName,
		"score":      eval.Score,
		"dimensions": len(dims),
		"findings":   len(findings),
	})
	return eval, nil
}

// scoreWithRetry retries transient scorer failures with exponential
// backoff and jitter, checking for cancellation before each sleep.
func (a *Aggregator) scoreWithRetry(ctx context.Context, s Scorer, in Input) (*Result, error) {
	var lastErr error
	for attempt := 0; attempt < a.attempts; attempt++ {
		res, err := s.Score(ctx, in)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if !provider.IsTransient(err) {
			return nil, err
		}
		if attempt == a.attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(a.retry.Delay(attempt)):
		}
	}
	return nil, fmt.Errorf("scorer %s failed after %d attempts: %w", s.Name(), a.attempts, lastErr)
}

func degradedResult(scorer string, err error) *Result {
	f := task.NewFinding(task.SeverityBlocker, scorer, "scorer failed",
		fmt.Sprintf("scorer %s failed permanently: %v", scorer, err))
	return &Result{
		Dimensions: []task.DimensionScore{{Dimension: scorer, Score: 0, Weight: 1}},
		Findings:   []task.Finding{f},
	}
}

// compositeScore is the weighted mean of the dimension scores,
// normalized by total weight. No dimensions at all scores a
// conservative 0.5; zero total weight falls back to the plain mean.
func compositeScore(dims []task.DimensionScore) float64 {
	if len(dims) == 0 {
		return emptyScore
	}
	var totalWeight, weighted, plain float64
	for _, d := range dims {
		totalWeight += d.Weight
		weighted += d.Score * d.Weight
		plain += d.Score
	}
	if totalWeight == 0 {
		return plain / float64(len(dims))
	}
	return weighted / totalWeight
}

func hasSeverity(findings []task.Finding, sev task.Severity) bool {
	for _, f := range findings {
		if f.Severity == sev {
			return true
		}
	}
	return false
}

// suggestion condenses findings into one line of improvement guidance.
func suggestion(findings []task.Finding) string {
	var critical []task.Finding
	for _, f := range findings {
		if f.Severity == task.SeverityBlocker || f.Severity == task.SeverityImportant {
			critical = append(critical, f)
		}
	}
	switch {
	case len(critical) > 0:
		return fmt.Sprintf("Fix %d critical issues: %s", len(critical), critical[0].Title)
	case len(findings) > 0:
		return fmt.Sprintf("Address %d minor suggestions to further improve quality.", len(findings))
	default:
		return "Maintain current direction. No issues found."
	}
}
