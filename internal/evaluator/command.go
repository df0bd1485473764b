package evaluator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/openkoi/openkoi/internal/task"
)

// commandOutputLimit bounds how much check output lands in a finding.
const commandOutputLimit = 4000

// CommandScorer runs a configured check command (test suite, linter)
// and scores its dimension 1.0 on success, 0.0 on failure. A failing
// check is an Important finding; the command being unrunnable at all is
// a permanent scorer failure and degrades upstream.
type CommandScorer struct {
	dimension string
	argv      []string
	dir       string
	timeout   time.Duration
}

// NewCommandScorer creates a scorer running argv in dir.
func NewCommandScorer(dimension string, argv []string, dir string, timeout time.Duration) *CommandScorer {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &CommandScorer{dimension: dimension, argv: argv, dir: dir, timeout: timeout}
}

// Name implements Scorer.
func (s *CommandScorer) Name() string { return s.dimension }

// Score implements Scorer.
func (s *CommandScorer) Score(ctx context.Context, in Input) (*Result, error) {
	if len(s.argv) == 0 {
		return nil, fmt.Errorf("no check command configured")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.argv[0], s.argv[1:]...)
	cmd.Dir = s.dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("check command timeout after %s", s.timeout)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			// Command could not run at all (missing binary etc.)
			return nil, fmt.Errorf("check command failed to start: %w", err)
		}
		f := task.NewFinding(task.SeverityImportant, s.dimension,
			fmt.Sprintf("%s check failed", s.dimension), tail(out.String(), commandOutputLimit))
		return &Result{
			Dimensions: []task.DimensionScore{{Dimension: s.dimension, Score: 0, Weight: 1}},
			Findings:   []task.Finding{f},
		}, nil
	}

	return &Result{
		Dimensions: []task.DimensionScore{{Dimension: s.dimension, Score: 1, Weight: 1}},
	}, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
