// Package fixloop runs the bounded regenerate-and-recheck cycle for
// rejected summaries as an explicit state machine.
package fixloop

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joescharf/qagate/internal/issues"
	"github.com/joescharf/qagate/internal/llm"
	"github.com/joescharf/qagate/internal/models"
	"github.com/joescharf/qagate/internal/verdict"
)

// HardMaxAttempts is the ceiling on regenerations regardless of config.
const HardMaxAttempts = 3

// State is a fix-loop state.
type State string

const (
	StateInitialQA  State = "initial_qa"
	StateRegenerate State = "regenerate"
	StateReQA       State = "re_qa"
	StateDone       State = "done"
)

// StopReason says why the loop reached StateDone.
type StopReason string

const (
	StopNotRejected     StopReason = "not_rejected"
	StopNoDirectives    StopReason = "no_fixable_issues"
	StopUnfixableIssue  StopReason = "unfixable_issue"
	StopMaxAttempts     StopReason = "max_attempts"
	StopGenerationError StopReason = "generation_error"
	StopReQAError       StopReason = "reqa_error"
	StopBudgetExceeded  StopReason = "budget_exceeded"
)

// Regenerator produces a new summary under fix directives.
type Regenerator interface {
	Regenerate(ctx context.Context, s *models.Subject, directives string) (*llm.Regeneration, error)
}

// EvalFunc runs QA on a subject and returns the fused result and the model
// usage it incurred.
type EvalFunc func(ctx context.Context, s *models.Subject) (verdict.Fusion, llm.Usage, error)

// Budget is consulted with the running usage total after every model call.
// A non-nil error stops the loop with StopBudgetExceeded.
type Budget func(spent llm.Usage) error

// Transition is one recorded state change.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Attempt is one regeneration plus its re-check.
type Attempt struct {
	Number      int            `json:"number"`
	Directives  []string       `json:"directives"`
	SummaryText string         `json:"summary_text"`
	Fusion      verdict.Fusion `json:"fusion"`
}

// Result is the outcome of a full loop.
type Result struct {
	Initial      verdict.Fusion `json:"initial"`
	Final        verdict.Fusion `json:"final"`
	FinalSummary string         `json:"final_summary"`
	Attempts     []Attempt      `json:"attempts,omitempty"`
	Transitions  []Transition   `json:"transitions"`
	StopReason   StopReason     `json:"stop_reason"`
	StopDetail   string         `json:"stop_detail,omitempty"`
	Usage        llm.Usage      `json:"usage"`
}

// Regenerated reports whether the final summary differs from the input.
func (r *Result) Regenerated() bool { return len(r.Attempts) > 0 }

// Loop runs the state machine.
type Loop struct {
	reg         *issues.Registry
	regen       Regenerator
	maxAttempts int
	log         *slog.Logger
	now         func() time.Time
}

// New creates a Loop. regen may be nil, which disables regeneration.
// maxAttempts is clamped to [0, HardMaxAttempts].
func New(reg *issues.Registry, regen Regenerator, maxAttempts int, logger *slog.Logger) *Loop {
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	if maxAttempts > HardMaxAttempts {
		maxAttempts = HardMaxAttempts
	}
	if regen == nil {
		maxAttempts = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{reg: reg, regen: regen, maxAttempts: maxAttempts, log: logger, now: time.Now}
}

// MaxAttempts returns the effective regeneration bound.
func (l *Loop) MaxAttempts() int { return l.maxAttempts }

// shouldRetry decides whether a fused result may be regenerated.
func (l *Loop) shouldRetry(f verdict.Fusion) (bool, StopReason) {
	if f.Verdict != models.VerdictReject {
		return false, StopNotRejected
	}
	for _, is := range f.Issues {
		if l.reg.IsRejectDriver(is) && !is.Fixable {
			return false, StopUnfixableIssue
		}
	}
	if len(f.Directives) == 0 {
		return false, StopNoDirectives
	}
	return true, ""
}

// Run evaluates s and regenerates while the result stays fixable and
// rejected. An error is returned only when the initial evaluation fails.
func (l *Loop) Run(ctx context.Context, s *models.Subject, eval EvalFunc) (*Result, error) {
	return l.RunWithBudget(ctx, s, eval, nil)
}

// RunWithBudget is Run with a spend guard. budget may be nil.
func (l *Loop) RunWithBudget(ctx context.Context, s *models.Subject, eval EvalFunc, budget Budget) (*Result, error) {
	res := &Result{FinalSummary: s.SummaryText}
	state := StateInitialQA
	current := *s
	attempt := 0

	move := func(to State, reason string) {
		res.Transitions = append(res.Transitions, Transition{From: state, To: to, Reason: reason, At: l.now()})
		state = to
	}
	stop := func(reason StopReason, detail string) {
		res.StopReason = reason
		res.StopDetail = detail
		move(StateDone, string(reason))
	}
	overBudget := func() bool {
		if budget == nil {
			return false
		}
		if err := budget(res.Usage); err != nil {
			l.log.Warn("fixloop.budget.exceeded", "content_id", s.ContentID, "attempt", attempt, "error", err)
			stop(StopBudgetExceeded, err.Error())
			return true
		}
		return false
	}

	// Each attempt takes two steps; the extra steps cover entry and exit.
	maxSteps := 2*l.maxAttempts + 2
	for step := 0; state != StateDone; step++ {
		if step > maxSteps {
			return nil, fmt.Errorf("fix loop exceeded %d steps", maxSteps)
		}
		switch state {
		case StateInitialQA:
			f, usage, err := eval(ctx, &current)
			if err != nil {
				return nil, fmt.Errorf("initial qa: %w", err)
			}
			res.Usage = res.Usage.Add(usage)
			res.Initial, res.Final = f, f
			if overBudget() {
				continue
			}
			l.next(res, f, attempt, move, stop)

		case StateRegenerate:
			attempt++
			directives := res.Final.Directives
			gen, err := l.regen.Regenerate(ctx, &current, verdict.RenderDirectives(directives))
			if gen != nil {
				res.Usage = res.Usage.Add(gen.Usage)
			}
			if err != nil {
				l.log.Warn("fixloop.regenerate.failed", "content_id", s.ContentID, "attempt", attempt, "error", err)
				stop(StopGenerationError, err.Error())
				continue
			}
			if overBudget() {
				continue
			}
			current.SummaryText = gen.SummaryText
			res.Attempts = append(res.Attempts, Attempt{Number: attempt, Directives: directives, SummaryText: gen.SummaryText})
			move(StateReQA, fmt.Sprintf("attempt %d regenerated", attempt))

		case StateReQA:
			f, usage, err := eval(ctx, &current)
			res.Usage = res.Usage.Add(usage)
			if err != nil {
				l.log.Warn("fixloop.reqa.failed", "content_id", s.ContentID, "attempt", attempt, "error", err)
				res.Attempts = res.Attempts[:len(res.Attempts)-1]
				current.SummaryText = res.FinalSummary
				stop(StopReQAError, err.Error())
				continue
			}
			res.Attempts[len(res.Attempts)-1].Fusion = f
			res.Final = f
			res.FinalSummary = current.SummaryText
			if overBudget() {
				continue
			}
			l.next(res, f, attempt, move, stop)
		}
	}

	l.log.Debug("fixloop.done", "content_id", s.ContentID, "verdict", res.Final.Verdict,
		"attempts", len(res.Attempts), "stop_reason", res.StopReason)
	return res, nil
}

// next picks the transition after a QA step.
func (l *Loop) next(res *Result, f verdict.Fusion, attempt int, move func(State, string), stop func(StopReason, string)) {
	ok, reason := l.shouldRetry(f)
	switch {
	case !ok:
		stop(reason, "")
	case attempt >= l.maxAttempts:
		stop(StopMaxAttempts, fmt.Sprintf("%d of %d attempts used", attempt, l.maxAttempts))
	default:
		move(StateRegenerate, fmt.Sprintf("%d directive(s) to apply", len(f.Directives)))
	}
}
