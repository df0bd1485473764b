package evaluator

import (
	"context"
	"fmt"
	"strings"

	"github.com/openkoi/openkoi/internal/provider"
	"github.com/openkoi/openkoi/internal/skills"
)

// judgeMaxTokens bounds a single judge response.
const judgeMaxTokens = 2000

// maxArtifactChars truncates oversized artifacts in the judge prompt.
const maxArtifactChars = 24_000

// Judge scores an artifact against the active evaluator skill's rubric
// via an LLM. Its dimension is whatever the skill declares.
type Judge struct {
	provider provider.Provider
	model    string
}

// NewJudge creates a judge scorer over the given provider.
func NewJudge(p provider.Provider, model string) *Judge {
	return &Judge{provider: p, model: model}
}

// Name implements Scorer.
func (j *Judge) Name() string { return "judge" }

// Score implements Scorer. The rubric comes from the evaluator skill
// body; without a matching skill the built-in default dimensions apply.
func (j *Judge) Score(ctx context.Context, in Input) (*Result, error) {
	rubric := "Judge overall quality of the output against the task."
	dims := skills.DefaultDimensions()
	if in.Skill != nil {
		rubric = in.Skill.Rubric
		dims = in.Skill.Dimensions
	}

	resp, err := j.provider.Chat(ctx, provider.ChatRequest{
		Model:       j.model,
		Messages:    []provider.Message{{Role: "user", Content: j.prompt(rubric, dims, in)}},
		MaxTokens:   judgeMaxTokens,
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("judge chat: %w", err)
	}

	p := parseJudgeResponse(resp.Content, dims)
	for i := range p.Findings {
		if p.Findings[i].Dimension == "" && len(dims) > 0 {
			p.Findings[i].Dimension = dims[0].Name
		}
	}
	return &Result{
		Dimensions: p.Dimensions,
		Findings:   p.Findings,
		Usage:      resp.Usage,
	}, nil
}

func (j *Judge) prompt(rubric string, dims []skills.Dimension, in Input) string {
	var names []string
	for _, d := range dims {
		names = append(names, d.Name)
	}

	content := in.Artifact.Content
	if len(content) > maxArtifactChars {
		content = content[:maxArtifactChars]
	}

	return fmt.Sprintf(
		"You are an evaluator. Use the following rubric to evaluate the output.\n\n"+
			"## Rubric\n%s\n\n"+
			"## Task\n%s\n\n"+
			"## Output to evaluate\n%s\n\n"+
			"Score each dimension (%s) 0.0-1.0. List findings with severity "+
			"(BLOCKER, IMPORTANT or SUGGESTION).\n"+
			"Respond in this format:\n"+
			"SCORES:\n"+
			"dimension_name: score\n"+
			"...\n"+
			"FINDINGS:\n"+
			"- [SEVERITY] title: description\n"+
			"SUGGESTION: brief improvement guidance",
		rubric, in.Task.Description, content, strings.Join(names, ", "))
}
