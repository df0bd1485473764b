package task

import "fmt"

// Decision is the outcome of one iteration. The set is closed: every
// consumer switches over all variants with no default branch, and
// decision_test.go fails if a variant is added without updating them.
type Decision string

const (
	// DecisionContinue is the only non-terminal variant.
	DecisionContinue Decision = "continue"

	// Quality/budget/regression outcomes, in the order Decide checks them.
	DecisionQualityMet      Decision = "quality_met"
	DecisionRegression      Decision = "regression"
	DecisionBudgetExhausted Decision = "budget_exhausted"
	DecisionMaxIterations   Decision = "max_iterations"

	// Outcomes outside the decide rules: these never come out of the
	// state machine and must not be conflated with it in records.
	DecisionCancelled Decision = "cancelled"
	DecisionFailed    Decision = "failed"
)

// AllDecisions lists every variant, for exhaustiveness checks.
var AllDecisions = []Decision{
	DecisionContinue,
	DecisionQualityMet,
	DecisionRegression,
	DecisionBudgetExhausted,
	DecisionMaxIterations,
	DecisionCancelled,
	DecisionFailed,
}

// Terminal reports whether the decision ends the task.
func (d Decision) Terminal() (bool, error) {
	switch d {
	case DecisionContinue:
		return false, nil
	case DecisionQualityMet:
		return true, nil
	case DecisionRegression:
		return true, nil
	case DecisionBudgetExhausted:
		return true, nil
	case DecisionMaxIterations:
		return true, nil
	case DecisionCancelled:
		return true, nil
	case DecisionFailed:
		return true, nil
	}
	return false, fmt.Errorf("unknown decision %q", string(d))
}

// Reason returns the human-readable explanation reported to the caller.
func (d Decision) Reason() string {
	switch d {
	case DecisionContinue:
		return "quality not yet met, budget remaining"
	case DecisionQualityMet:
		return "quality threshold met"
	case DecisionRegression:
		return "score regressed from previous iteration"
	case DecisionBudgetExhausted:
		return "token or time budget exhausted"
	case DecisionMaxIterations:
		return "iteration limit reached"
	case DecisionCancelled:
		return "cancelled by caller"
	case DecisionFailed:
		return "fatal execution failure"
	}
	return "unknown"
}
