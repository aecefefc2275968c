package override

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/qagate/internal/issues"
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

// seedJudged stores a subject and records a QA result for it through the
// normal claim path.
func seedJudged(t *testing.T, st store.Store, id string, v models.Verdict, found []models.Issue) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.UpsertSubject(ctx, &models.Subject{
		ContentID:   id,
		CaseName:    "Doe v. Roe",
		SummaryText: "The Court struck down the statute.",
		ImpactLevel: 3,
		Label:       "procedural",
	}))
	require.NoError(t, st.CreateBatch(ctx, &models.Batch{InitiatedBy: "test"}, []string{id}))
	items, err := st.ClaimPendingItems(ctx, "w1", 1, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)

	item := items[0]
	item.Status = models.ItemStatusCompleted
	item.QAVerdict = v
	now := time.Now().UTC()
	reg := issues.Default()
	score := 0
	for _, is := range found {
		score += reg.Weight(is.Type)
	}
	update := &store.SubjectUpdate{ContentID: id, QA: models.QAState{
		Verdict:       v,
		Issues:        found,
		SeverityScore: score,
		RanAt:         &now,
		PublishState:  models.PublishStateBlocked,
	}}
	require.NoError(t, st.RecordItemResult(ctx, item, update, nil))
}

func rejectIssues() []models.Issue {
	reg := issues.Default()
	a := reg.NewIssue(issues.ProceduralMeritsImplication)
	b := reg.NewIssue(issues.AccuracyVsHolding)
	return []models.Issue{a, b}
}

func TestRequestValidate(t *testing.T) {
	valid := Request{
		ContentID:       "c1",
		OriginalVerdict: models.VerdictReview,
		OverrideVerdict: models.VerdictApprove,
		Reason:          "Checked against the opinion text.",
	}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"missing content id", func(r *Request) { r.ContentID = "" }},
		{"override to review", func(r *Request) { r.OverrideVerdict = models.VerdictReview }},
		{"unknown override", func(r *Request) { r.OverrideVerdict = "MAYBE" }},
		{"unknown original", func(r *Request) { r.OriginalVerdict = "" }},
		{"short reason", func(r *Request) { r.Reason = "  too short " }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			assert.ErrorIs(t, r.Validate(), ErrInvalid)
		})
	}
}

func TestApply_ApproveClearsLayerBIssues(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedJudged(t, st, "c1", models.VerdictReject, rejectIssues())
	svc := New(st, issues.Default(), quiet)

	res, err := svc.Apply(ctx, Request{
		ContentID:       "c1",
		OriginalVerdict: models.VerdictReject,
		OverrideVerdict: models.VerdictApprove,
		Reason:          "Merits language is accurate for this ruling.",
		AddToGoldSet:    true,
	}, "admin-9")
	require.NoError(t, err)
	assert.Equal(t, "admin-9", res.Override.Actor)
	assert.NotEmpty(t, res.Override.ID)

	subj, err := st.GetSubject(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.VerdictApprove, subj.QA.Verdict)
	assert.Equal(t, models.PublishStatePublished, subj.QA.PublishState)
	assert.Equal(t, []string{issues.ProceduralMeritsImplication}, models.IssueTypes(subj.QA.Issues))
	assert.Equal(t, issues.Default().Weight(issues.ProceduralMeritsImplication), subj.QA.SeverityScore)

	revs, err := st.ListRevisions(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, revs, 1)
	assert.Equal(t, models.TriggerAdminOverride, revs[0].TriggerSource)
	assert.Equal(t, res.Override.ID, revs[0].TriggerID)
	assert.Equal(t, "Override: REJECT -> APPROVE", revs[0].ChangeSummary)
	assert.Equal(t, models.ActorAdmin, revs[0].ActorType)
	assert.Equal(t, "qa_verdict", revs[0].ChangedFields[0])
	assert.Contains(t, revs[0].ChangedFields, "publish_state")
}

func TestApply_DismissedIssuesAndDefaultActor(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedJudged(t, st, "c1", models.VerdictReject, rejectIssues())
	svc := New(st, issues.Default(), quiet)

	res, err := svc.Apply(ctx, Request{
		ContentID:       "c1",
		OriginalVerdict: models.VerdictReject,
		OverrideVerdict: models.VerdictFlag,
		Reason:          "Procedural posture is stated elsewhere.",
		DismissedIssues: []string{issues.ProceduralMeritsImplication},
	}, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultActor, res.Override.Actor)
	assert.Equal(t, []string{issues.AccuracyVsHolding}, models.IssueTypes(res.QA.Issues))
	assert.Equal(t, models.PublishStateReviewQueue, res.QA.PublishState)

	overrides, err := st.ListOverrides(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, overrides, 1)
	assert.Equal(t, []string{issues.ProceduralMeritsImplication}, overrides[0].DismissedIssues)
}

func TestApply_StaleAndMissing(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedJudged(t, st, "c1", models.VerdictFlag, nil)
	svc := New(st, issues.Default(), quiet)

	req := Request{
		ContentID:       "c1",
		OriginalVerdict: models.VerdictReject,
		OverrideVerdict: models.VerdictApprove,
		Reason:          "Looks fine after review.",
	}
	_, err := svc.Apply(ctx, req, "admin")
	assert.ErrorIs(t, err, ErrStale)

	req.OriginalVerdict = models.VerdictFlag
	_, err = svc.Apply(ctx, req, "admin")
	require.NoError(t, err)

	// Replaying the same request now sees APPROVE.
	_, err = svc.Apply(ctx, req, "admin")
	assert.ErrorIs(t, err, ErrStale)

	req.ContentID = "missing"
	_, err = svc.Apply(ctx, req, "admin")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// racingStore changes the verdict between the read and the write.
type racingStore struct {
	*store.SQLiteStore
}

func (r racingStore) GetSubject(ctx context.Context, id string) (*models.Subject, error) {
	s, err := r.SQLiteStore.GetSubject(ctx, id)
	if err != nil {
		return nil, err
	}
	s.QA.Verdict = models.VerdictReject
	return s, nil
}

func TestApply_ConflictAtWriteIsStale(t *testing.T) {
	st := newTestStore(t)
	seedJudged(t, st, "c1", models.VerdictFlag, nil)
	svc := New(racingStore{st}, issues.Default(), quiet)

	_, err := svc.Apply(context.Background(), Request{
		ContentID:       "c1",
		OriginalVerdict: models.VerdictReject,
		OverrideVerdict: models.VerdictApprove,
		Reason:          "Looks fine after review.",
	}, "admin")
	assert.ErrorIs(t, err, ErrStale)

	overrides, err := st.ListOverrides(context.Background(), "c1")
	require.NoError(t, err)
	assert.Empty(t, overrides)
}

func TestHistory(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedJudged(t, st, "c1", models.VerdictReject, rejectIssues())
	svc := New(st, issues.Default(), quiet)

	_, err := svc.Apply(ctx, Request{
		ContentID:       "c1",
		OriginalVerdict: models.VerdictReject,
		OverrideVerdict: models.VerdictFlag,
		Reason:          "Send to editors instead of blocking.",
	}, "admin-1")
	require.NoError(t, err)
	_, err = svc.Apply(ctx, Request{
		ContentID:       "c1",
		OriginalVerdict: models.VerdictFlag,
		OverrideVerdict: models.VerdictApprove,
		Reason:          "Editors cleared it for publication.",
	}, "admin-2")
	require.NoError(t, err)

	h, err := svc.History(ctx, "c1", 0)
	require.NoError(t, err)
	assert.Equal(t, "Doe v. Roe", h.CaseName)
	assert.Equal(t, models.VerdictApprove, h.CurrentState.Verdict)
	assert.Equal(t, models.PublishStatePublished, h.CurrentState.PublishState)
	require.Equal(t, 2, h.TotalRevisions)
	assert.Equal(t, "Override: FLAG -> APPROVE", h.Revisions[0].ChangeSummary, "newest first")
	assert.Len(t, h.Overrides, 2)

	h, err = svc.History(ctx, "c1", 1)
	require.NoError(t, err)
	assert.Len(t, h.Revisions, 1)

	_, err = svc.History(ctx, "missing", 0)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
