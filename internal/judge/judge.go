// Package judge implements Layer B: an LLM reviewer whose output is treated
// as untrusted and strictly validated before it can affect a verdict.
package judge

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/time/rate"

	"github.com/joescharf/qagate/internal/issues"
	"github.com/joescharf/qagate/internal/llm"
	"github.com/joescharf/qagate/internal/models"
)

// FieldLimits caps the length of judge-supplied issue fields, in runes.
type FieldLimits struct {
	AffectedSentence int
	Why              int
	FixDirective     int
}

// GroundingLimits caps how much grounding enters the prompt, in runes.
type GroundingLimits struct {
	SourceExcerpt   int
	SourceHead      int
	SourceTail      int
	Holding         int
	PracticalEffect int
	QuoteCount      int
	QuoteChars      int
}

// Config tunes the judge.
type Config struct {
	MaxIssues int
	MaxTokens int

	// MaxAttempts bounds transport retries per evaluation.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxJitter   time.Duration
	CallTimeout time.Duration

	// RatePerSecond limits provider calls per process; 0 disables the limit.
	RatePerSecond float64
	Burst         int

	// EnabledTypes restricts reportable non-safety types; empty means all.
	EnabledTypes []string

	Fields    FieldLimits
	Grounding GroundingLimits
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxIssues:   6,
		MaxTokens:   1000,
		MaxAttempts: 2,
		BaseDelay:   time.Second,
		MaxJitter:   500 * time.Millisecond,
		CallTimeout: 30 * time.Second,
		Fields:      FieldLimits{AffectedSentence: 350, Why: 400, FixDirective: 400},
		Grounding: GroundingLimits{
			SourceExcerpt:   2400,
			SourceHead:      1600,
			SourceTail:      800,
			Holding:         500,
			PracticalEffect: 300,
			QuoteCount:      6,
			QuoteChars:      200,
		},
	}
}

// Result is the Layer B outcome for one subject.
type Result struct {
	// Verdict is nil when the judge reached no decision.
	Verdict    *models.Verdict
	Issues     []models.Issue
	Dropped    []models.Issue
	Notes      []models.Issue
	Outcome    Outcome
	Confidence *int
	Usage      llm.Usage
	Attempts   int

	Model         string
	PromptVersion string
	Latency       time.Duration
}

// Agent evaluates summaries with an LLM provider.
type Agent struct {
	provider llm.Provider
	reg      *issues.Registry
	cfg      Config
	schema   *jsonschema.Schema
	limiter  *rate.Limiter
	log      *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an Agent.
func New(p llm.Provider, reg *issues.Registry, cfg Config, logger *slog.Logger) (*Agent, error) {
	if p == nil {
		return nil, fmt.Errorf("llm provider is required")
	}
	if reg == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.MaxIssues <= 0 {
		return nil, fmt.Errorf("max issues must be positive")
	}
	if g := cfg.Grounding; g.SourceHead < 0 || g.SourceTail < 0 || g.SourceHead+g.SourceTail > g.SourceExcerpt {
		return nil, fmt.Errorf("source head %d plus tail %d must fit the %d rune excerpt", g.SourceHead, g.SourceTail, g.SourceExcerpt)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	for _, t := range cfg.EnabledTypes {
		if !reg.Has(t, models.LayerB) {
			return nil, fmt.Errorf("enabled type %q is not a judge issue type", t)
		}
	}
	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return &Agent{
		provider: p,
		reg:      reg,
		cfg:      cfg,
		schema:   schema,
		limiter:  limiter,
		log:      logger,
		sleep:    sleepCtx,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Evaluate judges s. layerA lists deterministic findings already reported.
// Evaluate never returns an error: failures are carried in Result.Outcome
// and yield a nil verdict.
func (a *Agent) Evaluate(ctx context.Context, s *models.Subject, layerA []models.Issue) *Result {
	start := time.Now()
	res := &Result{Model: a.provider.Model(), PromptVersion: PromptVersion}
	defer func() { res.Latency = time.Since(start) }()

	caps, missing := assessGrounding(s)
	for _, m := range missing {
		note := a.reg.NewIssue(issues.MissingGroundingForCheck)
		note.Why = fmt.Sprintf("grounding field %s is missing; dependent checks skipped", m)
		res.Notes = append(res.Notes, note)
	}
	if !caps.Any() {
		is := a.reg.NewIssue(issues.InsufficientGrounding)
		is.Why = "no grounding available to verify the summary"
		res.Issues = []models.Issue{is}
		v := models.VerdictFlag
		res.Verdict = &v
		res.Outcome = &InsufficientGrounding{Missing: missing}
		a.log.Info("judge.skip.insufficient_grounding", "content_id", s.ContentID)
		return res
	}

	types := a.promptTypes(caps)
	bounded := boundGrounding(s.Grounding, a.cfg.Grounding)
	system, user := buildPrompt(types, s, bounded, caps, layerA)

	resp, attempts, err := a.complete(ctx, s.ContentID, llm.Request{
		System:      system,
		User:        user,
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: 0,
		JSON:        true,
	})
	res.Attempts = attempts
	if err != nil {
		res.Outcome = &TransportFailure{Attempts: attempts, Err: err}
		a.log.Warn("judge.call.failed", "content_id", s.ContentID, "attempts", attempts, "error", err)
		return res
	}
	res.Usage = resp.Usage
	if resp.Model != "" {
		res.Model = resp.Model
	}

	raw, err := decodeResponse(a.schema, resp.Text)
	if err != nil {
		res.Outcome = &SchemaError{Raw: resp.Text, Err: err}
		a.log.Warn("judge.response.invalid", "content_id", s.ContentID, "error", err)
		return res
	}
	res.Outcome = OK{}
	if raw.RawConfidence != nil {
		c := int(*raw.RawConfidence)
		res.Confidence = &c
	}

	filtered := a.filterIssues(s.SummaryText, raw.Issues, caps)
	res.Issues = filtered.kept
	res.Dropped = filtered.dropped
	for _, d := range filtered.dropped {
		if d.DroppedReason == DropIssueCap {
			note := a.reg.NewIssue(issues.IssuesTruncated)
			note.Why = fmt.Sprintf("more than %d issues reported; lowest severity dropped", a.cfg.MaxIssues)
			res.Notes = append(res.Notes, note)
			break
		}
	}

	if len(raw.Issues) > 0 && len(res.Issues) == 0 {
		note := a.reg.NewIssue(issues.InsufficientQAOutput)
		note.Why = "every reported issue failed validation"
		res.Notes = append(res.Notes, note)
		a.log.Info("judge.no_decision", "content_id", s.ContentID, "dropped", len(res.Dropped))
		return res
	}

	v := a.reg.Verdict(res.Issues)
	res.Verdict = &v
	a.log.Info("judge.evaluate.done", "content_id", s.ContentID, "verdict", v,
		"issues", len(res.Issues), "dropped", len(res.Dropped), "attempts", attempts)
	return res
}

// promptTypes lists the judge types the prompt may ask for.
func (a *Agent) promptTypes(caps Capabilities) []string {
	var out []string
	for _, t := range a.reg.TypesForLayer(models.LayerB) {
		if !a.reg.IsSafety(t) && !a.enabled(t) {
			continue
		}
		if !verifiable(a.reg, t, caps) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// complete calls the provider, retrying transport failures with
// exponential backoff and jitter.
func (a *Agent) complete(ctx context.Context, contentID string, req llm.Request) (*llm.Response, int, error) {
	var lastErr error
	for attempt := 1; attempt <= a.cfg.MaxAttempts; attempt++ {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, attempt - 1, fmt.Errorf("rate limiter: %w", err)
		}

		callCtx := ctx
		cancel := context.CancelFunc(func() {})
		if a.cfg.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, a.cfg.CallTimeout)
		}
		resp, err := a.provider.Complete(callCtx, req)
		cancel()
		if err == nil {
			return resp, attempt, nil
		}
		lastErr = err
		if !llm.IsRetryable(err) || attempt == a.cfg.MaxAttempts {
			return nil, attempt, err
		}

		delay := a.cfg.BaseDelay << (attempt - 1)
		if a.cfg.MaxJitter > 0 {
			delay += rand.N(a.cfg.MaxJitter)
		}
		a.log.Debug("judge.call.retry", "content_id", contentID, "attempt", attempt, "delay", delay, "error", err)
		if err := a.sleep(ctx, delay); err != nil {
			return nil, attempt, err
		}
	}
	return nil, a.cfg.MaxAttempts, lastErr
}
