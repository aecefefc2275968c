package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/qagate/internal/batch"
	"github.com/joescharf/qagate/internal/issues"
	"github.com/joescharf/qagate/internal/models"
	"github.com/joescharf/qagate/internal/override"
	"github.com/joescharf/qagate/internal/pipeline"
	"github.com/joescharf/qagate/internal/store"
	"github.com/joescharf/qagate/internal/validators"
	"github.com/joescharf/qagate/internal/verdict"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func setupTestServer(t *testing.T, opts Options) (http.Handler, *store.SQLiteStore) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.NewSQLiteStore(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	reg := issues.Default()
	if opts.Checker == nil {
		v, err := validators.New(reg, validators.DefaultRules())
		require.NoError(t, err)
		p, err := pipeline.New(reg, v, nil, verdict.DefaultPolicy(), nil, quiet)
		require.NoError(t, err)
		opts.Checker = p
	}
	opts.Logger = quiet
	srv := NewServer(s, batch.New(s, batch.DefaultConfig(), quiet), override.New(s, reg, quiet), opts)
	return srv.Router(), s
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

const subjectBody = `{
	"case_name": "Doe v. Roe",
	"summary_text": "The appeal was dismissed for lack of standing.",
	"impact_level": 2,
	"label": "procedural",
	"grounding": {"holding": "The appeal was dismissed for lack of standing."},
	"facts": {"merits_reached": false}
}`

func TestHealthzAndMetrics(t *testing.T) {
	h, _ := setupTestServer(t, Options{APIKey: "secret"})

	w := do(t, h, "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("x-request-id"))

	w = do(t, h, "GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIKeyRequired(t *testing.T) {
	h, _ := setupTestServer(t, Options{APIKey: "secret"})

	w := do(t, h, "GET", "/api/v1/batches", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, h, "GET", "/api/v1/batches", "", "x-api-key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, h, "GET", "/api/v1/batches", "", "x-api-key", "secret")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSubjectPutAndGet(t *testing.T) {
	h, _ := setupTestServer(t, Options{})

	w := do(t, h, "PUT", "/api/v1/subjects/c1", subjectBody)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	subj := decode[models.Subject](t, w)
	assert.Equal(t, "c1", subj.ContentID)
	assert.Equal(t, models.PublishStateUnreviewed, subj.QA.PublishState)

	w = do(t, h, "GET", "/api/v1/subjects/c1", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, "GET", "/api/v1/subjects/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h, "PUT", "/api/v1/subjects/c2", `{"summary_text": "  "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, "GET", "/api/v1/subjects?needs_qa=true", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.Subject](t, w), 1)

	w = do(t, h, "GET", "/api/v1/subjects?verdict=NOPE", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBatchLifecycle(t *testing.T) {
	h, _ := setupTestServer(t, Options{})
	for _, id := range []string{"c1", "c2", "c3"} {
		require.Equal(t, http.StatusOK, do(t, h, "PUT", "/api/v1/subjects/"+id, subjectBody).Code)
	}

	w := do(t, h, "POST", "/api/v1/batches", `{"case_ids": ["c1", "c2"]}`, "x-admin-id", "admin-5")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[batchResponse](t, w)
	assert.Equal(t, 2, created.TotalItems)
	assert.Equal(t, models.BatchStatusPending, created.Status)

	w = do(t, h, "GET", "/api/v1/batches/"+created.BatchID, "")
	require.Equal(t, http.StatusOK, w.Code)
	rep := decode[batch.Report](t, w)
	assert.Equal(t, "admin-5", rep.Batch.InitiatedBy)
	assert.Equal(t, 2, rep.Stats.ByStatus[models.ItemStatusPending])

	w = do(t, h, "POST", "/api/v1/batches/"+created.BatchID+"/cancel", "")
	require.Equal(t, http.StatusOK, w.Code)
	cancelled := decode[map[string]any](t, w)
	assert.Equal(t, "cancelled", cancelled["status"])
	assert.EqualValues(t, 2, cancelled["skipped_items"])

	w = do(t, h, "POST", "/api/v1/batches/"+created.BatchID+"/cancel", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, h, "GET", "/api/v1/batches/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Empty body selects everything up to the default limit.
	w = do(t, h, "POST", "/api/v1/batches", "")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 3, decode[batchResponse](t, w).TotalItems)
}

func TestCreateBatch_Errors(t *testing.T) {
	h, _ := setupTestServer(t, Options{})

	w := do(t, h, "POST", "/api/v1/batches", `{"case_ids": ["none"]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "no subjects match")

	w = do(t, h, "POST", "/api/v1/batches", `{"verdict": ["MAYBE"]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, "POST", "/api/v1/batches", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunSingleAndJob(t *testing.T) {
	h, _ := setupTestServer(t, Options{})
	require.Equal(t, http.StatusOK, do(t, h, "PUT", "/api/v1/subjects/c1", subjectBody).Code)

	w := do(t, h, "POST", "/api/v1/qa/run", `{"content_id": "c1"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	job := decode[map[string]string](t, w)
	assert.Equal(t, "pending", job["status"])
	require.NotEmpty(t, job["job_id"])

	w = do(t, h, "GET", "/api/v1/qa/jobs/"+job["job_id"], "")
	require.Equal(t, http.StatusOK, w.Code)
	item := decode[models.BatchItem](t, w)
	assert.Equal(t, "c1", item.ContentID)
	assert.Equal(t, job["batch_id"], item.BatchID)

	w = do(t, h, "POST", "/api/v1/qa/run", `{"content_id": "missing"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOverrideAndHistory(t *testing.T) {
	h, st := setupTestServer(t, Options{})
	ctx := context.Background()
	require.Equal(t, http.StatusOK, do(t, h, "PUT", "/api/v1/subjects/c1", subjectBody).Code)

	// Record a REJECT through the claim path.
	require.NoError(t, st.CreateBatch(ctx, &models.Batch{InitiatedBy: "t"}, []string{"c1"}))
	items, err := st.ClaimPendingItems(ctx, "w", 1, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	items[0].Status = models.ItemStatusCompleted
	items[0].QAVerdict = models.VerdictReject
	now := time.Now().UTC()
	require.NoError(t, st.RecordItemResult(ctx, items[0], &store.SubjectUpdate{ContentID: "c1", QA: models.QAState{
		Verdict: models.VerdictReject, RanAt: &now, PublishState: models.PublishStateBlocked,
	}}, nil))

	body := `{"content_id": "c1", "original_verdict": "REJECT", "override_verdict": "APPROVE", "reason": "short"}`
	w := do(t, h, "POST", "/api/v1/overrides", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body = `{"content_id": "c1", "original_verdict": "FLAG", "override_verdict": "APPROVE", "reason": "Reviewed the opinion."}`
	w = do(t, h, "POST", "/api/v1/overrides", body)
	assert.Equal(t, http.StatusConflict, w.Code)

	body = `{"content_id": "c1", "original_verdict": "REJECT", "override_verdict": "APPROVE", "reason": "Reviewed the opinion."}`
	w = do(t, h, "POST", "/api/v1/overrides", body, "x-admin-id", "editor-1")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decode[override.Result](t, w)
	assert.Equal(t, "editor-1", res.Override.Actor)
	assert.Equal(t, models.PublishStatePublished, res.QA.PublishState)

	w = do(t, h, "GET", "/api/v1/subjects/c1/history", "")
	require.Equal(t, http.StatusOK, w.Code)
	hist := decode[override.History](t, w)
	assert.Equal(t, models.VerdictApprove, hist.CurrentState.Verdict)
	require.Equal(t, 1, hist.TotalRevisions)
	assert.Equal(t, "Override: REJECT -> APPROVE", hist.Revisions[0].ChangeSummary)

	w = do(t, h, "GET", "/api/v1/subjects/c1/history?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLint(t *testing.T) {
	h, _ := setupTestServer(t, Options{})

	body := `{
		"summary_text": "The Court struck down the statute.",
		"impact_level": 3,
		"label": "procedural",
		"facts": {"merits_reached": false}
	}`
	w := do(t, h, "POST", "/api/v1/lint", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[map[string]any](t, w)
	fusion := resp["fusion"].(map[string]any)
	assert.Equal(t, "REJECT", fusion["verdict"])
	_, judged := resp["judge_outcome"]
	assert.False(t, judged, "no judge configured")

	w = do(t, h, "POST", "/api/v1/lint", `{"summary_text": ""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
