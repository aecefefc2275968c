// Package pipeline runs the full QA gate for one subject: Layer A, then
// Layer B, then fusion, then the fix loop.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joescharf/qagate/internal/fixloop"
	"github.com/joescharf/qagate/internal/issues"
	"github.com/joescharf/qagate/internal/judge"
	"github.com/joescharf/qagate/internal/llm"
	"github.com/joescharf/qagate/internal/models"
	"github.com/joescharf/qagate/internal/validators"
	"github.com/joescharf/qagate/internal/verdict"
)

// Judge is the Layer B collaborator; *judge.Agent implements it.
type Judge interface {
	Evaluate(ctx context.Context, s *models.Subject, layerA []models.Issue) *judge.Result
}

// Pass is one QA evaluation of one summary text.
type Pass struct {
	LayerA validators.Result `json:"layer_a"`
	Judge  *judge.Result     `json:"-"`
	Fusion verdict.Fusion    `json:"fusion"`
}

// Run is the complete gate outcome for a subject.
type Run struct {
	Pass
	Fix         *fixloop.Result `json:"fix,omitempty"`
	SummaryText string          `json:"summary_text"`
	Usage       llm.Usage       `json:"usage"`
}

// Pipeline wires the gate components together.
type Pipeline struct {
	reg       *issues.Registry
	validator *validators.Validator
	judge     Judge
	policy    verdict.Policy
	loop      *fixloop.Loop
	log       *slog.Logger
}

// New creates a Pipeline. j may be nil for a Layer-A-only gate; loop may be
// nil to disable regeneration.
func New(reg *issues.Registry, v *validators.Validator, j Judge, policy verdict.Policy, loop *fixloop.Loop, logger *slog.Logger) (*Pipeline, error) {
	if reg == nil || v == nil {
		return nil, fmt.Errorf("registry and validator are required")
	}
	if loop == nil {
		loop = fixloop.New(reg, nil, 0, logger)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{reg: reg, validator: v, judge: j, policy: policy, loop: loop, log: logger}, nil
}

// RegistryVersion is the version of the issue registry in use.
func (p *Pipeline) RegistryVersion() string { return p.reg.Version }

// Check runs a single pass without regeneration. Layer A always completes
// before Layer B starts.
func (p *Pipeline) Check(ctx context.Context, s *models.Subject) (*Pass, error) {
	if s.SummaryText == "" {
		return nil, fmt.Errorf("subject %s has no summary text", s.ContentID)
	}
	pass := &Pass{LayerA: p.validator.Evaluate(s)}

	var bVerdict *models.Verdict
	var bIssues []models.Issue
	if p.judge != nil {
		pass.Judge = p.judge.Evaluate(ctx, s, pass.LayerA.Issues)
		bVerdict = pass.Judge.Verdict
		bIssues = pass.Judge.Issues
	}
	pass.Fusion = verdict.Fuse(p.reg, p.policy, pass.LayerA.Verdict, pass.LayerA.Issues, bVerdict, bIssues)
	return pass, nil
}

// Run executes the gate including the fix loop.
func (p *Pipeline) Run(ctx context.Context, s *models.Subject) (*Run, error) {
	return p.RunWithBudget(ctx, s, nil)
}

// RunWithBudget is Run with a spend guard checked after every model call.
func (p *Pipeline) RunWithBudget(ctx context.Context, s *models.Subject, budget fixloop.Budget) (*Run, error) {
	var last *Pass
	eval := func(ctx context.Context, cur *models.Subject) (verdict.Fusion, llm.Usage, error) {
		pass, err := p.Check(ctx, cur)
		if err != nil {
			return verdict.Fusion{}, llm.Usage{}, err
		}
		last = pass
		var usage llm.Usage
		if pass.Judge != nil {
			usage = pass.Judge.Usage
		}
		return pass.Fusion, usage, nil
	}

	fix, err := p.loop.RunWithBudget(ctx, s, eval, budget)
	if err != nil {
		return nil, err
	}
	// last is the pass that produced fix.Final.
	run := &Run{Pass: *last, Fix: fix, SummaryText: fix.FinalSummary, Usage: fix.Usage}
	p.log.Info("pipeline.run.done", "content_id", s.ContentID, "verdict", run.Fusion.Verdict,
		"layer_a", run.LayerA.Verdict, "attempts", len(fix.Attempts), "stop_reason", fix.StopReason)
	return run, nil
}
