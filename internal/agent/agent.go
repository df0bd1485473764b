// Package agent provides the default provider-backed planner and
// executor: one chat call to plan an attempt, one to produce the
// artifact. Richer executors (tool use, sub-processes) can replace it
// behind the engine's interfaces.
package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/openkoi/openkoi/internal/engine"
	"github.com/openkoi/openkoi/internal/logging"
	"github.com/openkoi/openkoi/internal/memory"
	"github.com/openkoi/openkoi/internal/provider"
	"github.com/openkoi/openkoi/internal/task"
)

// maxFeedbackFindings bounds how many findings land in a prompt.
const maxFeedbackFindings = 10

// maxRecalledLessons bounds how many past tasks inform a plan.
const maxRecalledLessons = 3

// Agent plans and executes iterations through a chat provider. One
// agent serves one task at a time: plan-call token usage is carried
// into the artifact the plan produced so the budget sees every token.
type Agent struct {
	provider  provider.Provider
	model     string
	maxTokens int
	memory    memory.Store
	log       *logging.Logger

	planUsage task.TokenUsage
}

// New creates an agent speaking to the given provider and model.
func New(p provider.Provider, model string, maxTokens int, logger *logging.Logger) *Agent {
	return &Agent{
		provider:  p,
		model:     model,
		maxTokens: maxTokens,
		log:       logger.WithComponent("agent"),
	}
}

// WithMemory attaches an outcome memory store. Lessons recalled from
// similar past tasks are folded into the first plan. A nil store is
// accepted and leaves planning memory-free.
func (a *Agent) WithMemory(m memory.Store) *Agent {
	a.memory = m
	return a
}

// Plan implements the engine's planner contract.
func (a *Agent) Plan(ctx context.Context, t *task.Task, prev *engine.Feedback) (*engine.Plan, error) {
	lessons := ""
	if prev == nil {
		lessons = a.recallLessons(ctx, t)
	}
	resp, err := a.provider.Chat(ctx, provider.ChatRequest{
		Model: a.model,
		Messages: []provider.Message{
			{Role: "system", Content: "You are a planner. Produce a short plan for the task, not the final output."},
			{Role: "user", Content: planPrompt(t, prev, lessons)},
		},
		MaxTokens: a.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("plan chat: %w", err)
	}
	a.planUsage = resp.Usage

	plan := parsePlan(resp.Content)
	a.log.Debug("plan produced", map[string]interface{}{
		"task_id": t.ID, "steps": len(plan.Steps),
	})
	return plan, nil
}

// Execute implements the engine's executor contract.
func (a *Agent) Execute(ctx context.Context, t *task.Task, plan *engine.Plan, prev *engine.Feedback) (*task.Artifact, error) {
	resp, err := a.provider.Chat(ctx, provider.ChatRequest{
		Model: a.model,
		Messages: []provider.Message{
			{Role: "system", Content: "Produce the complete deliverable for the task. Output only the deliverable itself."},
			{Role: "user", Content: executePrompt(t, plan, prev)},
		},
		MaxTokens: a.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("execute chat: %w", err)
	}

	usage := resp.Usage.Add(a.planUsage)
	a.planUsage = task.TokenUsage{}
	return &task.Artifact{Content: resp.Content, Usage: usage}, nil
}

// recallLessons queries the memory store for similar past tasks and
// renders their lessons for the plan prompt. Recall failure is a
// warning, never a planning failure.
func (a *Agent) recallLessons(ctx context.Context, t *task.Task) string {
	if a.memory == nil {
		return ""
	}
	results, err := a.memory.Recall(ctx, t.Description, maxRecalledLessons)
	if err != nil {
		a.log.Warn("memory recall failed", map[string]interface{}{
			"task_id": t.ID, "error": err.Error(),
		})
		return ""
	}

	var b strings.Builder
	for _, r := range results {
		if r.Lessons == "" {
			continue
		}
		fmt.Fprintf(&b, "- %s (%s, score %.2f): %s\n", r.Description, r.Decision, r.BestScore, r.Lessons)
	}
	return b.String()
}

func planPrompt(t *task.Task, prev *engine.Feedback, lessons string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Task\n%s\n", t.Description)
	if lessons != "" {
		fmt.Fprintf(&b, "\n## Lessons from similar past tasks\n%s", lessons)
	}
	writeFeedback(&b, prev)
	b.WriteString("\nRespond in this format:\n" +
		"APPROACH: one-sentence approach\n" +
		"STEPS:\n" +
		"- step\n" +
		"- step\n")
	return b.String()
}

func executePrompt(t *task.Task, plan *engine.Plan, prev *engine.Feedback) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Task\n%s\n", t.Description)
	if plan != nil && plan.Approach != "" {
		fmt.Fprintf(&b, "\n## Approach\n%s\n", plan.Approach)
		for _, s := range plan.Steps {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	writeFeedback(&b, prev)
	return b.String()
}

// writeFeedback renders the prior attempt's evaluation so the next one
// targets the reported findings instead of starting over.
func writeFeedback(b *strings.Builder, prev *engine.Feedback) {
	if prev == nil {
		return
	}
	fmt.Fprintf(b, "\n## Previous attempt (iteration %d)\n", prev.Iteration)
	if prev.Evaluation != nil {
		fmt.Fprintf(b, "Score: %.2f\n", prev.Evaluation.Score)
		if prev.Evaluation.Suggestion != "" {
			fmt.Fprintf(b, "Guidance: %s\n", prev.Evaluation.Suggestion)
		}
		findings := prev.Evaluation.Findings
		if len(findings) > maxFeedbackFindings {
			findings = findings[:maxFeedbackFindings]
		}
		for _, f := range findings {
			fmt.Fprintf(b, "- [%s] %s", strings.ToUpper(string(f.Severity)), f.Title)
			if f.Fix != "" {
				fmt.Fprintf(b, " (fix: %s)", f.Fix)
			}
			b.WriteString("\n")
		}
	}
	if prev.Artifact != nil {
		fmt.Fprintf(b, "\n## Previous output\n%s\n", prev.Artifact.Content)
	}
}

// parsePlan reads the APPROACH/STEPS format, tolerating free text: a
// response without markers becomes a plan whose approach is its first
// non-empty line.
func parsePlan(content string) *engine.Plan {
	plan := &engine.Plan{}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "APPROACH:"):
			plan.Approach = strings.TrimSpace(strings.TrimPrefix(line, "APPROACH:"))
		case strings.HasPrefix(line, "- "):
			plan.Steps = append(plan.Steps, strings.TrimPrefix(line, "- "))
		}
	}
	if plan.Approach == "" {
		for _, line := range strings.Split(content, "\n") {
			if line = strings.TrimSpace(line); line != "" && line != "STEPS:" {
				plan.Approach = line
				break
			}
		}
	}
	return plan
}
