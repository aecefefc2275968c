package store

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/qagate/internal/models"
)

// newTestPostgres connects to QAGATE_TEST_POSTGRES_DSN; the test is skipped
// when it is unset. Tables are truncated before each test.
func newTestPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("QAGATE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("QAGATE_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := NewPostgresStore(ctx, PostgresConfig{DSN: dsn, MaxConns: 8}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	_, err = s.db.ExecContext(ctx, `TRUNCATE revisions, overrides, batch_items, batches, subjects`)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPostgres_SkipLockedClaims(t *testing.T) {
	s := newTestPostgres(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 30; i++ {
		id := "pg-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
		seedSubject(t, s, id, "The case was dismissed.")
		ids = append(ids, id)
	}
	b := &models.Batch{InitiatedBy: "pg-test"}
	require.NoError(t, s.CreateBatch(ctx, b, ids))

	var (
		mu      sync.Mutex
		claimed = map[string]bool{}
		wg      sync.WaitGroup
	)
	for w := 0; w < 6; w++ {
		worker := "pg-w" + string(rune('0'+w))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				items, err := s.ClaimPendingItems(ctx, worker, 4, 0)
				if !assert.NoError(t, err) || len(items) == 0 {
					return
				}
				for _, it := range items {
					it.Status = models.ItemStatusCompleted
					it.QAVerdict = models.VerdictApprove
					assert.NoError(t, s.RecordItemResult(ctx, it, nil, nil))
				}
				mu.Lock()
				for _, it := range items {
					assert.False(t, claimed[it.ID], "item %s claimed twice", it.ID)
					claimed[it.ID] = true
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, claimed, 30)

	_, err := s.FinalizeBatches(ctx)
	require.NoError(t, err)
	got, err := s.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusCompleted, got.Status)
}

func TestPostgres_OverrideRoundTrip(t *testing.T) {
	s := newTestPostgres(t)
	ctx := context.Background()
	seedSubject(t, s, "pg-c1", "The case was dismissed.")

	require.NoError(t, s.CreateBatch(ctx, &models.Batch{}, []string{"pg-c1"}))
	items, err := s.ClaimPendingItems(ctx, "pg-w", 1, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	items[0].Status = models.ItemStatusCompleted
	require.NoError(t, s.RecordItemResult(ctx, items[0], &SubjectUpdate{
		ContentID: "pg-c1",
		QA:        models.QAState{Verdict: models.VerdictFlag, PublishState: models.PublishStateReviewQueue},
	}, nil))

	o := &models.Override{ContentID: "pg-c1", OriginalVerdict: models.VerdictFlag,
		OverrideVerdict: models.VerdictApprove, OverrideReason: "Reviewed against the opinion."}
	require.NoError(t, s.ApplyOverride(ctx, o, models.QAState{Verdict: models.VerdictApprove,
		PublishState: models.PublishStatePublished},
		&models.Revision{ContentID: "pg-c1", TriggerSource: models.TriggerAdminOverride, ActorType: models.ActorAdmin}))

	subj, err := s.GetSubject(ctx, "pg-c1")
	require.NoError(t, err)
	assert.Equal(t, models.VerdictApprove, subj.QA.Verdict)

	revs, err := s.ListRevisions(ctx, "pg-c1", 5)
	require.NoError(t, err)
	assert.Len(t, revs, 1)
}
