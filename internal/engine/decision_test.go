package engine

import (
	"testing"
	"time"

	"github.com/openkoi/openkoi/internal/budget"
	"github.com/openkoi/openkoi/internal/history"
	"github.com/openkoi/openkoi/internal/task"
)

var testLimits = task.Limits{
	MaxIterations:    3,
	TokenBudget:      1000,
	TimeBudget:       time.Hour,
	QualityThreshold: 0.8,
}

// gridInput builds a decision input where each stop condition can be
// switched on independently.
func gridInput(quality, regressed, exhausted, maxed bool) DecideInput {
	in := DecideInput{
		Index:   2,
		Score:   0.5,
		Limits:  testLimits,
		History: history.New(0),
		Budget:  budget.State{TokenBudget: 1000, TimeBudget: time.Hour, TokensSpent: 100, Elapsed: time.Minute},
	}
	if quality {
		in.Score = 0.85
	}
	if regressed {
		in.History.Push(0.7) // 0.5 < 0.7: regression
	} else {
		in.History.Push(0.4)
	}
	if exhausted {
		in.Budget.TokensSpent = 1000
	}
	if maxed {
		in.Index = 3
	}
	return in
}

// Every combination of stop conditions resolves to exactly one decision
// in the documented priority order.
func TestDecide_RuleOrderExhaustive(t *testing.T) {
	for _, quality := range []bool{false, true} {
		for _, regressed := range []bool{false, true} {
			for _, exhausted := range []bool{false, true} {
				for _, maxed := range []bool{false, true} {
					want := task.DecisionContinue
					switch {
					case quality:
						want = task.DecisionQualityMet
					case regressed:
						want = task.DecisionRegression
					case exhausted:
						want = task.DecisionBudgetExhausted
					case maxed:
						want = task.DecisionMaxIterations
					}
					got := Decide(gridInput(quality, regressed, exhausted, maxed))
					if got != want {
						t.Errorf("quality=%v regressed=%v exhausted=%v maxed=%v: got %s, want %s",
							quality, regressed, exhausted, maxed, got, want)
					}
				}
			}
		}
	}
}

func TestDecide_QualityShortCircuitsEverything(t *testing.T) {
	in := gridInput(true, true, true, true)
	if got := Decide(in); got != task.DecisionQualityMet {
		t.Errorf("quality threshold met must win over all stops, got %s", got)
	}
}

func TestDecide_RegressionBeatsBudget(t *testing.T) {
	in := gridInput(false, true, true, false)
	if got := Decide(in); got != task.DecisionRegression {
		t.Errorf("regression must not be masked as budget exhaustion, got %s", got)
	}
}

func TestDecide_FirstIterationCannotRegress(t *testing.T) {
	in := DecideInput{
		Index:   1,
		Score:   0.1,
		Limits:  testLimits,
		History: history.New(0),
		Budget:  budget.State{TokenBudget: 1000, TimeBudget: time.Hour, TokensSpent: 100, Elapsed: time.Minute},
	}
	if got := Decide(in); got != task.DecisionContinue {
		t.Errorf("first iteration has nothing to regress from, got %s", got)
	}
}

func TestDecide_ThresholdIsInclusive(t *testing.T) {
	in := gridInput(false, false, false, false)
	in.Score = testLimits.QualityThreshold
	if got := Decide(in); got != task.DecisionQualityMet {
		t.Errorf("score equal to the threshold meets it, got %s", got)
	}
}

func TestDecide_TimeExhaustionStops(t *testing.T) {
	in := gridInput(false, false, false, false)
	in.Budget.Elapsed = in.Budget.TimeBudget
	if got := Decide(in); got != task.DecisionBudgetExhausted {
		t.Errorf("spent time budget must stop the loop, got %s", got)
	}
}

// Decide is pure: the same input always yields the same decision.
func TestDecide_Deterministic(t *testing.T) {
	in := gridInput(false, true, true, true)
	first := Decide(in)
	for i := 0; i < 10; i++ {
		if got := Decide(in); got != first {
			t.Fatalf("decision changed between calls: %s then %s", first, got)
		}
	}
}
