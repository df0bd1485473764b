package evaluator

import (
	"context"

	"github.com/openkoi/openkoi/internal/skills"
	"github.com/openkoi/openkoi/internal/task"
)

// Pipeline binds the aggregator to skill selection: the task category
// picks the evaluator skill, and the aggregator scores against it. It
// satisfies the engine's evaluator contract.
type Pipeline struct {
	agg      *Aggregator
	registry *skills.Registry
}

// NewPipeline creates the evaluation entry point. registry may be nil,
// in which case every task is scored against the built-in dimensions.
func NewPipeline(agg *Aggregator, registry *skills.Registry) *Pipeline {
	return &Pipeline{agg: agg, registry: registry}
}

// Evaluate scores one artifact against the task.
func (p *Pipeline) Evaluate(ctx context.Context, t *task.Task, a *task.Artifact) (*task.Evaluation, error) {
	var skill *skills.Skill
	if p.registry != nil {
		skill = p.registry.Select(t.Category)
	}
	return p.agg.Evaluate(ctx, Input{Task: t, Artifact: a, Skill: skill})
}
