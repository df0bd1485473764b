// Package engine drives the plan-execute-evaluate-decide loop for one
// task, under simultaneous circuit breakers for tokens, time, iteration
// count and score regression.
package engine

import (
	"github.com/openkoi/openkoi/internal/budget"
	"github.com/openkoi/openkoi/internal/history"
	"github.com/openkoi/openkoi/internal/task"
)

// DecideInput is the complete, immutable input to one decision.
type DecideInput struct {
	Index   int             // 1-based iteration index
	Score   float64         // aggregate score for this iteration
	Limits  task.Limits     // the task's configured limits
	Budget  budget.State    // totals including this iteration
	History *history.Scores // evaluated scores, excluding this iteration
}

// Decide is the decision state machine: a pure function from iteration
// state to exactly one decision. The rule order is load-bearing, first
// match wins:
//
//  1. quality met, success short-circuits everything else
//  2. regression, so it is never masked as budget exhaustion
//  3. budget exhausted
//  4. iteration limit reached
//  5. continue
func Decide(in DecideInput) task.Decision {
	if in.Score >= in.Limits.QualityThreshold {
		return task.DecisionQualityMet
	}
	if in.Index > 1 && in.History.Regressed(in.Score) {
		return task.DecisionRegression
	}
	if in.Budget.Exhausted() {
		return task.DecisionBudgetExhausted
	}
	if in.Index >= in.Limits.MaxIterations {
		return task.DecisionMaxIterations
	}
	return task.DecisionContinue
}
