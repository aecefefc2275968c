// Package batch creates, inspects and cancels QA batches.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joescharf/qagate/internal/models"
	"github.com/joescharf/qagate/internal/store"
)

var (
	// ErrNoMatch is returned when a filter selects no subjects.
	ErrNoMatch = errors.New("no subjects match the filter criteria")
	// ErrInvalidFilter is returned for malformed filters.
	ErrInvalidFilter = errors.New("invalid filter")
	// ErrBudgetExceeded is returned when a batch would exceed a spend cap.
	ErrBudgetExceeded = errors.New("budget exceeded")
)

// DefaultActor is recorded when a caller gives no identity.
const DefaultActor = "system"

// Store is the subset of store.Store needed for batch control.
type Store interface {
	GetSubject(ctx context.Context, contentID string) (*models.Subject, error)
	ListSubjects(ctx context.Context, filter store.SubjectFilter) ([]*models.Subject, error)
	CreateBatch(ctx context.Context, b *models.Batch, contentIDs []string) error
	GetBatch(ctx context.Context, id string) (*models.Batch, error)
	ListBatches(ctx context.Context, limit int) ([]*models.Batch, error)
	ListBatchItems(ctx context.Context, batchID string) ([]*models.BatchItem, error)
	GetBatchItem(ctx context.Context, id string) (*models.BatchItem, error)
	CancelBatch(ctx context.Context, id string) (int64, error)
	SpentSince(ctx context.Context, initiatedBy string, since time.Time) (float64, error)
}

// Config holds batch sizing and spend limits. Zero cost limits disable the
// corresponding check.
type Config struct {
	DefaultLimit int
	MaxLimit     int
	// EstimatedItemCostUSD is the pre-run cost estimate of one item.
	EstimatedItemCostUSD float64
	MaxCostUSD           float64
	// DailyBudgetUSD caps what one actor may spend in a rolling 24 hours.
	DailyBudgetUSD float64
}

// DefaultConfig returns the batch defaults.
func DefaultConfig() Config {
	return Config{
		DefaultLimit:         50,
		MaxLimit:             100,
		EstimatedItemCostUSD: 0.0004,
		MaxCostUSD:           1.0,
	}
}

// Service is the batch control surface shared by the CLI, API and MCP server.
type Service struct {
	store Store
	cfg   Config
	log   *slog.Logger
	now   func() time.Time
}

// New creates a Service.
func New(st Store, cfg Config, logger *slog.Logger) *Service {
	def := DefaultConfig()
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = def.DefaultLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = def.MaxLimit
	}
	if cfg.DefaultLimit > cfg.MaxLimit {
		cfg.DefaultLimit = cfg.MaxLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, cfg: cfg, log: logger, now: time.Now}
}

// Report is a batch with statistics computed from its items.
type Report struct {
	Batch *models.Batch       `json:"batch"`
	Stats models.BatchStats   `json:"stats"`
	Items []*models.BatchItem `json:"items"`
}

// Create selects subjects with f and queues one pending item for each.
func (s *Service) Create(ctx context.Context, f models.BatchFilter, actor string) (*models.Batch, error) {
	if actor == "" {
		actor = DefaultActor
	}
	for _, v := range f.Verdicts {
		if !v.Valid() {
			return nil, fmt.Errorf("%w: unknown verdict %q", ErrInvalidFilter, v)
		}
	}
	if f.Limit < 0 {
		return nil, fmt.Errorf("%w: negative limit", ErrInvalidFilter)
	}
	f.Limit = s.limit(f.Limit)

	subjects, err := s.store.ListSubjects(ctx, store.SubjectFilter{
		Verdicts:   f.Verdicts,
		Since:      f.Since,
		NeedsQA:    f.NeedsQA,
		ContentIDs: f.ContentIDs,
		Limit:      f.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("select subjects: %w", err)
	}
	if len(subjects) == 0 {
		return nil, ErrNoMatch
	}

	if err := s.checkBudget(ctx, actor, len(subjects)); err != nil {
		return nil, err
	}

	ids := make([]string, len(subjects))
	for i, subj := range subjects {
		ids[i] = subj.ContentID
	}
	b := &models.Batch{FilterCriteria: f, InitiatedBy: actor}
	if err := s.store.CreateBatch(ctx, b, ids); err != nil {
		return nil, err
	}
	s.log.Info("batch.created", "batch_id", b.ID, "items", b.TotalItems, "actor", actor)
	return b, nil
}

func (s *Service) limit(n int) int {
	if n == 0 {
		n = s.cfg.DefaultLimit
	}
	return min(n, s.cfg.MaxLimit)
}

// checkBudget refuses work whose estimated cost would break a cap. It runs
// before anything is written.
func (s *Service) checkBudget(ctx context.Context, actor string, n int) error {
	est := float64(n) * s.cfg.EstimatedItemCostUSD
	if s.cfg.MaxCostUSD > 0 && est > s.cfg.MaxCostUSD {
		return fmt.Errorf("%w: estimated $%.4f for %d items over batch cap $%.4f", ErrBudgetExceeded, est, n, s.cfg.MaxCostUSD)
	}
	if s.cfg.DailyBudgetUSD > 0 {
		spent, err := s.store.SpentSince(ctx, actor, s.now().Add(-24*time.Hour))
		if err != nil {
			return err
		}
		if spent+est > s.cfg.DailyBudgetUSD {
			return fmt.Errorf("%w: %s spent $%.4f today, daily budget $%.4f", ErrBudgetExceeded, actor, spent, s.cfg.DailyBudgetUSD)
		}
	}
	return nil
}

// RunSingle queues a one-item batch for contentID. The returned item ID is
// the pollable job ID.
func (s *Service) RunSingle(ctx context.Context, contentID, actor string) (*models.Batch, *models.BatchItem, error) {
	if contentID == "" {
		return nil, nil, fmt.Errorf("%w: content id is required", ErrInvalidFilter)
	}
	if _, err := s.store.GetSubject(ctx, contentID); err != nil {
		return nil, nil, err
	}
	b, err := s.Create(ctx, models.BatchFilter{ContentIDs: []string{contentID}, Limit: 1}, actor)
	if err != nil {
		return nil, nil, err
	}
	items, err := s.store.ListBatchItems(ctx, b.ID)
	if err != nil {
		return nil, nil, err
	}
	if len(items) != 1 {
		return nil, nil, fmt.Errorf("batch %s has %d items, want 1", b.ID, len(items))
	}
	return b, items[0], nil
}

// Status returns a batch with its items and computed statistics.
func (s *Service) Status(ctx context.Context, id string) (*Report, error) {
	b, err := s.store.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListBatchItems(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Report{Batch: b, Stats: ComputeStats(items), Items: items}, nil
}

// Job returns a single item by ID.
func (s *Service) Job(ctx context.Context, itemID string) (*models.BatchItem, error) {
	return s.store.GetBatchItem(ctx, itemID)
}

// Cancel skips every pending item of a batch. Items already processing
// finish normally and the batch closes as cancelled once they do.
func (s *Service) Cancel(ctx context.Context, id string) (*models.Batch, int64, error) {
	skipped, err := s.store.CancelBatch(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			s.log.Warn("batch.cancel.finished", "batch_id", id)
		}
		return nil, 0, err
	}
	b, err := s.store.GetBatch(ctx, id)
	if err != nil {
		return nil, skipped, err
	}
	s.log.Info("batch.cancelled", "batch_id", id, "skipped", skipped, "status", b.Status)
	return b, skipped, nil
}

// List returns recent batches, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]*models.Batch, error) {
	return s.store.ListBatches(ctx, limit)
}

// ComputeStats summarizes items. Progress counts terminal items.
func ComputeStats(items []*models.BatchItem) models.BatchStats {
	st := models.BatchStats{
		Total:         len(items),
		ByStatus:      map[models.ItemStatus]int{},
		VerdictCounts: map[models.Verdict]int{},
	}
	done := 0
	for _, it := range items {
		st.ByStatus[it.Status]++
		st.TotalCostUSD += it.CostUSD
		if it.Status.Terminal() {
			done++
		}
		if it.QAVerdict != "" && it.Status != models.ItemStatusError {
			st.VerdictCounts[it.QAVerdict]++
		}
	}
	if st.Total > 0 {
		st.ProgressPercent = done * 100 / st.Total
	}
	return st
}
