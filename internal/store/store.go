package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joescharf/qagate/internal/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a conditional write lost against the
	// current row state (stale override, batch already finished).
	ErrConflict = errors.New("conflict")
	// ErrClaimLost is returned when an item is no longer held by the worker
	// trying to finish it.
	ErrClaimLost = errors.New("claim lost")
)

// SubjectFilter specifies filters for listing subjects.
type SubjectFilter struct {
	Verdicts   []models.Verdict
	Since      *time.Time
	NeedsQA    bool
	ContentIDs []string
	Limit      int
}

// SubjectUpdate is the QA projection written back onto a subject after a
// run. SummaryText is set only when the fix loop produced a new summary.
type SubjectUpdate struct {
	ContentID   string
	QA          models.QAState
	SummaryText *string
}

// Store defines the persistence interface for qagate.
type Store interface {
	// Subjects
	UpsertSubject(ctx context.Context, s *models.Subject) error
	GetSubject(ctx context.Context, contentID string) (*models.Subject, error)
	ListSubjects(ctx context.Context, filter SubjectFilter) ([]*models.Subject, error)

	// Batches
	CreateBatch(ctx context.Context, b *models.Batch, contentIDs []string) error
	GetBatch(ctx context.Context, id string) (*models.Batch, error)
	ListBatches(ctx context.Context, limit int) ([]*models.Batch, error)
	ListBatchItems(ctx context.Context, batchID string) ([]*models.BatchItem, error)
	GetBatchItem(ctx context.Context, id string) (*models.BatchItem, error)
	CancelBatch(ctx context.Context, id string) (int64, error)
	FinalizeBatches(ctx context.Context) (int64, error)
	SpentSince(ctx context.Context, initiatedBy string, since time.Time) (float64, error)

	// Claims
	ClaimPendingItems(ctx context.Context, workerID string, limit int, reclaimAfter time.Duration) ([]*models.BatchItem, error)
	RecordItemResult(ctx context.Context, item *models.BatchItem, update *SubjectUpdate, revisions []*models.Revision) error

	// Overrides and audit
	ApplyOverride(ctx context.Context, o *models.Override, qa models.QAState, rev *models.Revision) error
	ListOverrides(ctx context.Context, contentID string) ([]*models.Override, error)
	ListRevisions(ctx context.Context, contentID string, limit int) ([]*models.Revision, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Driver   string // "sqlite" (default) or "postgres"
	Path     string
	Postgres PostgresConfig
}

// Open connects to the configured backend and applies migrations.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case "", "sqlite":
		s, err = NewSQLiteStore(cfg.Path)
	case "postgres":
		s, err = NewPostgresStore(ctx, cfg.Postgres, logger)
	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}
