// Package worker claims pending batch items and runs the QA gate on them.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/joescharf/qagate/internal/fixloop"
	"github.com/joescharf/qagate/internal/llm"
	"github.com/joescharf/qagate/internal/models"
	"github.com/joescharf/qagate/internal/pipeline"
	"github.com/joescharf/qagate/internal/store"
	"github.com/joescharf/qagate/internal/verdict"
)

// ErrBudgetExceeded marks an item whose model spend went over the per-item cap.
var ErrBudgetExceeded = errors.New("budget exceeded")

// Runner runs the full gate for one subject; *pipeline.Pipeline implements it.
type Runner interface {
	RunWithBudget(ctx context.Context, s *models.Subject, budget fixloop.Budget) (*pipeline.Run, error)
	RegistryVersion() string
}

// Config controls claiming, concurrency and spend.
type Config struct {
	ID             string
	Concurrency    int
	ClaimLimit     int
	PollInterval   time.Duration
	ItemTimeout    time.Duration
	ReclaimAfter   time.Duration
	MaxItemCostUSD float64
	Pricing        llm.Pricing
	// PromptVersion is folded into the input hash so a prompt change
	// invalidates earlier results.
	PromptVersion string
}

// DefaultConfig returns the worker defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:    4,
		ClaimLimit:     10,
		PollInterval:   5 * time.Second,
		ItemTimeout:    2 * time.Minute,
		ReclaimAfter:   10 * time.Minute,
		MaxItemCostUSD: 0.05,
	}
}

// Worker is one claimant on the shared item queue.
type Worker struct {
	store  store.Store
	runner Runner
	cfg    Config
	log    *slog.Logger
	now    func() time.Time
}

// New creates a Worker. A missing ID gets a random one.
func New(st store.Store, runner Runner, cfg Config, logger *slog.Logger) (*Worker, error) {
	if st == nil || runner == nil {
		return nil, fmt.Errorf("store and runner are required")
	}
	if cfg.Concurrency < 1 {
		return nil, fmt.Errorf("worker concurrency must be at least 1, got %d", cfg.Concurrency)
	}
	if cfg.ClaimLimit < 1 {
		cfg.ClaimLimit = cfg.Concurrency
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = DefaultConfig().ItemTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.ID == "" {
		cfg.ID = "worker-" + uuid.NewString()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{store: st, runner: runner, cfg: cfg, log: logger.With("worker_id", cfg.ID), now: time.Now}, nil
}

// ID returns the worker's claim identity.
func (w *Worker) ID() string { return w.cfg.ID }

// Run polls for work until ctx is cancelled. Items already claimed finish
// even after cancellation.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker.started", "concurrency", w.cfg.Concurrency, "claim_limit", w.cfg.ClaimLimit)
	for {
		n, err := w.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			w.log.Error("worker.cycle.failed", "error", err)
		}
		if ctx.Err() != nil {
			w.log.Info("worker.stopped")
			return nil
		}
		if n > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			w.log.Info("worker.stopped")
			return nil
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

// Drain runs claim cycles until the queue is empty and returns how many
// items were processed.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := w.RunOnce(ctx)
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 || ctx.Err() != nil {
			return total, nil
		}
	}
}

// RunOnce claims up to ClaimLimit items, processes them with bounded
// concurrency and closes finished batches. Per-item failures are recorded
// on the item and never fail the cycle.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	items, err := w.store.ClaimPendingItems(ctx, w.cfg.ID, w.cfg.ClaimLimit, w.cfg.ReclaimAfter)
	if err != nil {
		return 0, fmt.Errorf("claim items: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}
	w.log.Info("worker.claimed", "count", len(items))

	var g errgroup.Group
	g.SetLimit(w.cfg.Concurrency)
	for _, item := range items {
		g.Go(func() error {
			w.processItem(ctx, item)
			return nil
		})
	}
	_ = g.Wait()

	if _, err := w.store.FinalizeBatches(context.WithoutCancel(ctx)); err != nil {
		return len(items), err
	}
	return len(items), nil
}

func (w *Worker) processItem(ctx context.Context, item *models.BatchItem) {
	start := w.now()
	log := w.log.With("item_id", item.ID, "content_id", item.ContentID, "batch_id", item.BatchID)
	// A claimed item is always finished, even during shutdown.
	ctx = context.WithoutCancel(ctx)

	update, revisions, err := w.evaluate(ctx, item)
	if err != nil {
		item.Status = models.ItemStatusError
		item.ErrorMessage = err.Error()
		log.Warn("worker.item.error", "error", err)
	}
	elapsed := w.now().Sub(start)
	item.LatencyMS = elapsed.Milliseconds()

	if err := w.store.RecordItemResult(ctx, item, update, revisions); err != nil {
		if errors.Is(err, store.ErrClaimLost) {
			log.Warn("worker.item.claim_lost")
			return
		}
		log.Error("worker.item.record_failed", "error", err)
		return
	}

	itemsTotal.WithLabelValues(string(item.Status)).Inc()
	itemDuration.Observe(elapsed.Seconds())
	costTotal.Add(item.CostUSD)
	if item.Status == models.ItemStatusCompleted {
		verdictsTotal.WithLabelValues(string(item.QAVerdict)).Inc()
	}
	log.Info("worker.item.done", "status", item.Status, "verdict", item.QAVerdict,
		"cost_usd", item.CostUSD, "latency_ms", item.LatencyMS)
}

// evaluate fills item with the QA outcome and returns the subject
// projection and audit entries to persist with it.
func (w *Worker) evaluate(ctx context.Context, item *models.BatchItem) (*store.SubjectUpdate, []*models.Revision, error) {
	subj, err := w.store.GetSubject(ctx, item.ContentID)
	if err != nil {
		return nil, nil, fmt.Errorf("load subject: %w", err)
	}
	hash, err := InputHash(subj, w.runner.RegistryVersion(), w.cfg.PromptVersion)
	if err != nil {
		return nil, nil, err
	}
	item.InputHash = hash

	if subj.QA.Verdict != "" && subj.QA.InputHash == hash {
		item.Status = models.ItemStatusSkipped
		item.SkipReason = models.SkipReasonUnchanged
		item.QAVerdict = subj.QA.Verdict
		item.LayerBVerdict = subj.QA.LayerBVerdict
		item.SeverityScore = subj.QA.SeverityScore
		item.CostUSD = 0
		return nil, nil, nil
	}

	itemCtx, cancel := context.WithTimeout(ctx, w.cfg.ItemTimeout)
	defer cancel()
	run, err := w.runner.RunWithBudget(itemCtx, subj, w.budget)
	if err != nil {
		return nil, nil, fmt.Errorf("run qa: %w", err)
	}

	item.CostUSD = w.cfg.Pricing.Cost(run.Usage)
	if err := w.budget(run.Usage); err != nil {
		return nil, nil, err
	}

	found := run.Fusion.Issues
	if run.Judge != nil {
		found = append(append([]models.Issue{}, found...), run.Judge.Notes...)
		item.Model = run.Judge.Model
		item.PromptVersion = run.Judge.PromptVersion
	}
	item.Status = models.ItemStatusCompleted
	item.QAVerdict = run.Fusion.Verdict
	item.LayerAVerdict = run.Fusion.LayerA
	item.LayerBVerdict = run.Fusion.LayerB
	item.QAIssues = found
	item.SeverityScore = run.Fusion.SeverityScore
	if run.Fix != nil {
		item.Attempts = len(run.Fix.Attempts)
		regenerationsTotal.Add(float64(item.Attempts))
	}

	final := *subj
	final.SummaryText = run.SummaryText
	finalHash := hash
	if final.SummaryText != subj.SummaryText {
		if finalHash, err = InputHash(&final, w.runner.RegistryVersion(), w.cfg.PromptVersion); err != nil {
			return nil, nil, err
		}
	}

	ranAt := w.now().UTC()
	qa := models.QAState{
		Verdict:       run.Fusion.Verdict,
		LayerBVerdict: run.Fusion.LayerB,
		Issues:        found,
		SeverityScore: run.Fusion.SeverityScore,
		InputHash:     finalHash,
		PromptVersion: item.PromptVersion,
		Model:         item.Model,
		RanAt:         &ranAt,
		PublishState:  verdict.Gate(run.Fusion.Verdict),
	}
	update := &store.SubjectUpdate{ContentID: subj.ContentID, QA: qa}
	if final.SummaryText != subj.SummaryText {
		text := final.SummaryText
		update.SummaryText = &text
	}
	return update, w.revisions(item, subj, run, qa, ranAt), nil
}

// budget enforces MaxItemCostUSD on a running usage total.
func (w *Worker) budget(spent llm.Usage) error {
	cost := w.cfg.Pricing.Cost(spent)
	if w.cfg.MaxItemCostUSD > 0 && cost > w.cfg.MaxItemCostUSD {
		return fmt.Errorf("%w: item cost $%.4f over cap $%.4f", ErrBudgetExceeded, cost, w.cfg.MaxItemCostUSD)
	}
	return nil
}

// revisions builds one qa_retry entry per regeneration and a closing qa_run
// entry. Timestamps are spaced so history sorts in the order written.
func (w *Worker) revisions(item *models.BatchItem, before *models.Subject, run *pipeline.Run, qa models.QAState, at time.Time) []*models.Revision {
	var out []*models.Revision
	next := func() time.Time { return at.Add(time.Duration(len(out)) * time.Microsecond) }

	if run.Fix != nil {
		prev := before.SummaryText
		for _, a := range run.Fix.Attempts {
			out = append(out, &models.Revision{
				ContentID:     before.ContentID,
				TriggerSource: models.TriggerQARetry,
				TriggerID:     item.ID,
				ChangedFields: []string{"summary_text"},
				ActorType:     models.ActorSystem,
				ActorID:       w.cfg.ID,
				ChangeSummary: fmt.Sprintf("Regeneration %d re-checked as %s", a.Number, a.Fusion.Verdict),
				Snapshot: map[string]any{
					"attempt":          a.Number,
					"directives":       a.Directives,
					"previous_summary": prev,
					"summary_text":     a.SummaryText,
					"verdict":          string(a.Fusion.Verdict),
				},
				CreatedAt: next(),
			})
			prev = a.SummaryText
		}
	}

	snapshot := map[string]any{
		"verdict":         string(qa.Verdict),
		"layer_a_verdict": string(run.Fusion.LayerA),
		"severity_score":  qa.SeverityScore,
		"issue_types":     models.IssueTypes(qa.Issues),
		"input_hash":      qa.InputHash,
	}
	if run.Fusion.LayerB != nil {
		snapshot["layer_b_verdict"] = string(*run.Fusion.LayerB)
	}
	if run.Fix != nil {
		snapshot["stop_reason"] = string(run.Fix.StopReason)
	}
	out = append(out, &models.Revision{
		ContentID:     before.ContentID,
		TriggerSource: models.TriggerQARun,
		TriggerID:     item.ID,
		ChangedFields: changedFields(before, qa, run.SummaryText),
		ActorType:     models.ActorSystem,
		ActorID:       w.cfg.ID,
		ChangeSummary: fmt.Sprintf("QA %s -> %s", verdictOrNone(before.QA.Verdict), qa.Verdict),
		Snapshot:      snapshot,
		CreatedAt:     next(),
	})
	return out
}

func changedFields(before *models.Subject, qa models.QAState, summary string) []string {
	var fields []string
	if summary != before.SummaryText {
		fields = append(fields, "summary_text")
	}
	if qa.Verdict != before.QA.Verdict {
		fields = append(fields, "qa_verdict")
	}
	if !slices.Equal(models.IssueTypes(qa.Issues), models.IssueTypes(before.QA.Issues)) {
		fields = append(fields, "qa_issues")
	}
	if qa.SeverityScore != before.QA.SeverityScore {
		fields = append(fields, "qa_severity_score")
	}
	if qa.PublishState != before.QA.PublishState {
		fields = append(fields, "publish_state")
	}
	return append(fields, "qa_ran_at")
}

func verdictOrNone(v models.Verdict) string {
	if v == "" {
		return "none"
	}
	return string(v)
}
