package batch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/qagate/internal/models"
	"github.com/joescharf/qagate/internal/store"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, st store.Store, n int) []string {
	t.Helper()
	var ids []string
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("case-%03d", i)
		enriched := base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, st.UpsertSubject(context.Background(), &models.Subject{
			ContentID:   id,
			SummaryText: "The appeal was dismissed.",
			ImpactLevel: 2,
			Label:       "procedural",
			EnrichedAt:  &enriched,
		}))
		ids = append(ids, id)
	}
	return ids
}

// spentStore reports a fixed prior spend.
type spentStore struct {
	*store.SQLiteStore
	spent float64
	actor string
}

func (s *spentStore) SpentSince(_ context.Context, actor string, _ time.Time) (float64, error) {
	s.actor = actor
	return s.spent, nil
}

func TestCreate_DefaultAndMaxLimit(t *testing.T) {
	st := newTestStore(t)
	seed(t, st, 120)
	svc := New(st, DefaultConfig(), quiet)
	ctx := context.Background()

	b, err := svc.Create(ctx, models.BatchFilter{}, "")
	require.NoError(t, err)
	assert.Equal(t, 50, b.TotalItems)
	assert.Equal(t, 50, b.FilterCriteria.Limit)
	assert.Equal(t, DefaultActor, b.InitiatedBy)
	assert.Equal(t, models.BatchStatusPending, b.Status)

	b, err = svc.Create(ctx, models.BatchFilter{Limit: 500}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 100, b.TotalItems)
}

func TestCreate_NewestFirst(t *testing.T) {
	st := newTestStore(t)
	seed(t, st, 5)
	svc := New(st, DefaultConfig(), quiet)
	ctx := context.Background()

	b, err := svc.Create(ctx, models.BatchFilter{Limit: 2}, "admin-1")
	require.NoError(t, err)
	items, err := st.ListBatchItems(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "case-004", items[0].ContentID)
	assert.Equal(t, "case-003", items[1].ContentID)
}

func TestCreate_Errors(t *testing.T) {
	st := newTestStore(t)
	seed(t, st, 3)
	ctx := context.Background()
	svc := New(st, DefaultConfig(), quiet)

	_, err := svc.Create(ctx, models.BatchFilter{ContentIDs: []string{"nope"}}, "a")
	assert.ErrorIs(t, err, ErrNoMatch)

	_, err = svc.Create(ctx, models.BatchFilter{Verdicts: []models.Verdict{"MAYBE"}}, "a")
	assert.ErrorIs(t, err, ErrInvalidFilter)

	_, err = svc.Create(ctx, models.BatchFilter{Limit: -1}, "a")
	assert.ErrorIs(t, err, ErrInvalidFilter)

	// No subject has a verdict yet.
	_, err = svc.Create(ctx, models.BatchFilter{Verdicts: []models.Verdict{models.VerdictReject}}, "a")
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestCreate_BatchCostCap(t *testing.T) {
	st := newTestStore(t)
	seed(t, st, 3)
	ctx := context.Background()
	svc := New(st, Config{EstimatedItemCostUSD: 0.0004, MaxCostUSD: 0.001}, quiet)

	_, err := svc.Create(ctx, models.BatchFilter{}, "a")
	assert.ErrorIs(t, err, ErrBudgetExceeded)

	batches, err := st.ListBatches(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, batches, "nothing is written when the budget check fails")

	_, err = svc.Create(ctx, models.BatchFilter{Limit: 2}, "a")
	assert.NoError(t, err)
}

func TestCreate_DailyBudget(t *testing.T) {
	st := &spentStore{SQLiteStore: newTestStore(t), spent: 0.999}
	seed(t, st, 3)
	ctx := context.Background()
	svc := New(st, Config{EstimatedItemCostUSD: 0.0004, DailyBudgetUSD: 1.0}, quiet)

	_, err := svc.Create(ctx, models.BatchFilter{}, "admin-7")
	assert.ErrorIs(t, err, ErrBudgetExceeded)
	assert.Equal(t, "admin-7", st.actor)

	st.spent = 0.5
	b, err := svc.Create(ctx, models.BatchFilter{}, "admin-7")
	require.NoError(t, err)
	assert.Equal(t, 3, b.TotalItems)
}

func TestRunSingle(t *testing.T) {
	st := newTestStore(t)
	seed(t, st, 2)
	ctx := context.Background()
	svc := New(st, DefaultConfig(), quiet)

	b, item, err := svc.RunSingle(ctx, "case-001", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 1, b.TotalItems)
	assert.Equal(t, "case-001", item.ContentID)
	assert.Equal(t, models.ItemStatusPending, item.Status)

	job, err := svc.Job(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, job.BatchID)

	_, _, err = svc.RunSingle(ctx, "missing", "admin-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, _, err = svc.RunSingle(ctx, "", "admin-1")
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestStatusAndCancel(t *testing.T) {
	st := newTestStore(t)
	seed(t, st, 3)
	ctx := context.Background()
	svc := New(st, DefaultConfig(), quiet)

	b, err := svc.Create(ctx, models.BatchFilter{}, "admin-1")
	require.NoError(t, err)

	rep, err := svc.Status(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Stats.Total)
	assert.Equal(t, 3, rep.Stats.ByStatus[models.ItemStatusPending])
	assert.Equal(t, 0, rep.Stats.ProgressPercent)

	got, skipped, err := svc.Cancel(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), skipped)
	assert.Equal(t, models.BatchStatusCancelled, got.Status)

	rep, err = svc.Status(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Stats.ByStatus[models.ItemStatusSkipped])
	assert.Equal(t, 100, rep.Stats.ProgressPercent)
	for _, it := range rep.Items {
		assert.Equal(t, models.SkipReasonCancelled, it.SkipReason)
	}

	_, _, err = svc.Cancel(ctx, b.ID)
	assert.ErrorIs(t, err, store.ErrConflict)

	_, err = svc.Status(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	list, err := svc.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestComputeStats(t *testing.T) {
	items := []*models.BatchItem{
		{Status: models.ItemStatusCompleted, QAVerdict: models.VerdictApprove, CostUSD: 0.001},
		{Status: models.ItemStatusCompleted, QAVerdict: models.VerdictReject, CostUSD: 0.002},
		{Status: models.ItemStatusSkipped, QAVerdict: models.VerdictApprove},
		{Status: models.ItemStatusError, CostUSD: 0.5},
		{Status: models.ItemStatusProcessing},
	}
	st := ComputeStats(items)
	assert.Equal(t, 5, st.Total)
	assert.Equal(t, 2, st.ByStatus[models.ItemStatusCompleted])
	assert.Equal(t, 2, st.VerdictCounts[models.VerdictApprove])
	assert.Equal(t, 1, st.VerdictCounts[models.VerdictReject])
	assert.InDelta(t, 0.503, st.TotalCostUSD, 1e-9)
	assert.Equal(t, 80, st.ProgressPercent)

	empty := ComputeStats(nil)
	assert.Zero(t, empty.ProgressPercent)
}
