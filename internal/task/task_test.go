package task

import (
	"strings"
	"testing"
	"time"
)

func validLimits() Limits {
	return Limits{MaxIterations: 3, TokenBudget: 200_000, TimeBudget: 10 * time.Minute, QualityThreshold: 0.8}
}

func TestLimitsValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Limits)
		ok     bool
	}{
		{"valid", func(l *Limits) {}, true},
		{"zero iterations", func(l *Limits) { l.MaxIterations = 0 }, false},
		{"negative budget", func(l *Limits) { l.TokenBudget = -1 }, false},
		{"zero time", func(l *Limits) { l.TimeBudget = 0 }, false},
		{"threshold above one", func(l *Limits) { l.QualityThreshold = 1.5 }, false},
		{"threshold below zero", func(l *Limits) { l.QualityThreshold = -0.1 }, false},
		{"threshold at bounds", func(l *Limits) { l.QualityThreshold = 1 }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := validLimits()
			tc.mutate(&l)
			if err := l.Validate(); (err == nil) != tc.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tc.ok)
			}
		})
	}
}

func TestNewRejectsEmptyDescription(t *testing.T) {
	if _, err := New("", validLimits()); err == nil {
		t.Error("empty description must be rejected")
	}
}

func TestTokenUsage(t *testing.T) {
	sum := TokenUsage{Input: 100, Output: 50}.Add(TokenUsage{Input: 10, Output: 5})
	if sum.Total() != 165 {
		t.Errorf("expected 165, got %d", sum.Total())
	}
}

func TestParseSeverity(t *testing.T) {
	for in, want := range map[string]Severity{
		"blocker":    SeverityBlocker,
		"BLOCKER":    SeverityBlocker,
		"Important":  SeverityImportant,
		"suggestion": SeveritySuggestion,
	} {
		got, err := ParseSeverity(in)
		if err != nil || got != want {
			t.Errorf("ParseSeverity(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseSeverity("catastrophic"); err == nil {
		t.Error("unknown severity must error")
	}
}

// Every decision variant classifies as terminal or not; an unlisted
// variant is a bug.
func TestDecisionTerminalExhaustive(t *testing.T) {
	for _, d := range AllDecisions {
		terminal, err := d.Terminal()
		if err != nil {
			t.Errorf("%s: %v", d, err)
		}
		if (d == DecisionContinue) == terminal {
			t.Errorf("%s: terminal=%v", d, terminal)
		}
		if d.Reason() == "unknown" {
			t.Errorf("%s has no reason string", d)
		}
	}
	if _, err := Decision("made_up").Terminal(); err == nil {
		t.Error("unknown decision must not silently classify")
	}
}

func TestCycleSealOnce(t *testing.T) {
	tk, err := New("demo", validLimits())
	if err != nil {
		t.Fatal(err)
	}
	c := NewCycle(tk, 1)
	if c.Sealed() {
		t.Fatal("fresh cycle must not be sealed")
	}
	if err := c.Seal(DecisionContinue); err != nil {
		t.Fatal(err)
	}
	if err := c.Seal(DecisionQualityMet); err == nil {
		t.Error("sealing twice must fail")
	}
	if c.Decision != DecisionContinue {
		t.Errorf("second seal must not overwrite, got %s", c.Decision)
	}
}

func TestCycleScoreWithoutEvaluation(t *testing.T) {
	tk, err := New("demo", validLimits())
	if err != nil {
		t.Fatal(err)
	}
	c := NewCycle(tk, 2)
	if c.Evaluated() || c.Score() != 0 {
		t.Error("unevaluated cycle scores zero")
	}
	c.Evaluation = &Evaluation{Score: 0.7}
	if !c.Evaluated() || c.Score() != 0.7 {
		t.Error("evaluated cycle reports its score")
	}
}

func TestEvaluationHasBlocker(t *testing.T) {
	e := &Evaluation{Findings: []Finding{
		NewFinding(SeveritySuggestion, "style", "naming", "rename x"),
		NewFinding(SeverityBlocker, "safety", "data loss", "deletes user files"),
	}}
	if !e.HasBlocker() {
		t.Error("expected blocker")
	}
	if (&Evaluation{}).HasBlocker() {
		t.Error("empty evaluation has no blocker")
	}
}

func TestFindingIDsUnique(t *testing.T) {
	a := NewFinding(SeverityImportant, "d", "t", "desc")
	b := NewFinding(SeverityImportant, "d", "t", "desc")
	if a.ID == b.ID || !strings.Contains(a.ID, "-") {
		t.Errorf("expected distinct uuids, got %q and %q", a.ID, b.ID)
	}
}
