package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joescharf/qagate/internal/batch"
	"github.com/joescharf/qagate/internal/judge"
	"github.com/joescharf/qagate/internal/models"
	"github.com/joescharf/qagate/internal/override"
	"github.com/joescharf/qagate/internal/pipeline"
	"github.com/joescharf/qagate/internal/store"
)

const (
	headerAPIKey    = "x-api-key"
	headerAdminID   = "x-admin-id"
	headerRequestID = "x-request-id"
)

// Checker runs a single QA pass without persisting anything;
// *pipeline.Pipeline implements it.
type Checker interface {
	Check(ctx context.Context, s *models.Subject) (*pipeline.Pass, error)
}

// Options configures optional server behaviour.
type Options struct {
	// APIKey, when set, is required in the x-api-key header of every
	// /api/ request.
	APIKey string
	// Checker backs POST /api/v1/lint; nil disables the route.
	Checker Checker
	Logger  *slog.Logger
}

// Server provides the REST API handlers.
type Server struct {
	store     store.Store
	batches   *batch.Service
	overrides *override.Service
	checker   Checker
	apiKey    string
	log       *slog.Logger
}

// NewServer creates a new API server.
func NewServer(s store.Store, batches *batch.Service, overrides *override.Service, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:     s,
		batches:   batches,
		overrides: overrides,
		checker:   opts.Checker,
		apiKey:    opts.APIKey,
		log:       logger,
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	api := http.NewServeMux()

	api.HandleFunc("GET /api/v1/subjects", s.listSubjects)
	api.HandleFunc("GET /api/v1/subjects/{id}", s.getSubject)
	api.HandleFunc("PUT /api/v1/subjects/{id}", s.putSubject)
	api.HandleFunc("GET /api/v1/subjects/{id}/history", s.subjectHistory)

	api.HandleFunc("GET /api/v1/batches", s.listBatches)
	api.HandleFunc("POST /api/v1/batches", s.createBatch)
	api.HandleFunc("GET /api/v1/batches/{id}", s.getBatch)
	api.HandleFunc("POST /api/v1/batches/{id}/cancel", s.cancelBatch)

	api.HandleFunc("POST /api/v1/qa/run", s.runSingle)
	api.HandleFunc("GET /api/v1/qa/jobs/{id}", s.getJob)

	api.HandleFunc("POST /api/v1/overrides", s.createOverride)
	api.HandleFunc("POST /api/v1/lint", s.lint)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("/api/", s.requireAPIKey(api))

	return s.logRequests(corsMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Api-Key, X-Admin-Id")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(headerAPIKey)), []byte(s.apiKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Info("api.request", "request_id", id, "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "duration_ms", time.Since(start).Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps domain errors onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, batch.ErrNoMatch), errors.Is(err, batch.ErrInvalidFilter), errors.Is(err, override.ErrInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, batch.ErrBudgetExceeded):
		status = http.StatusPaymentRequired
	case errors.Is(err, override.ErrStale), errors.Is(err, store.ErrConflict):
		status = http.StatusConflict
	}
	writeError(w, status, err.Error())
}

func actor(r *http.Request) string {
	if id := r.Header.Get(headerAdminID); id != "" {
		return id
	}
	return batch.DefaultActor
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// --- Subjects ---

func (s *Server) listSubjects(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	f := store.SubjectFilter{Limit: limit, NeedsQA: r.URL.Query().Get("needs_qa") == "true"}
	for _, v := range r.URL.Query()["verdict"] {
		verdict, err := models.ParseVerdict(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Verdicts = append(f.Verdicts, verdict)
	}
	subjects, err := s.store.ListSubjects(r.Context(), f)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subjects)
}

func (s *Server) getSubject(w http.ResponseWriter, r *http.Request) {
	subj, err := s.store.GetSubject(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subj)
}

func (s *Server) putSubject(w http.ResponseWriter, r *http.Request) {
	var subj models.Subject
	if err := json.NewDecoder(r.Body).Decode(&subj); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	subj.ContentID = r.PathValue("id")
	if err := s.store.UpsertSubject(r.Context(), &subj); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	saved, err := s.store.GetSubject(r.Context(), subj.ContentID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) subjectHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", override.DefaultHistoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	h, err := s.overrides.History(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

// --- Batches ---

type createBatchRequest struct {
	Verdict []models.Verdict `json:"verdict"`
	Since   *time.Time       `json:"since"`
	NeedsQA bool             `json:"needs_qa"`
	CaseIDs []string         `json:"case_ids"`
	Limit   int              `json:"limit"`
}

type batchResponse struct {
	BatchID    string             `json:"batch_id"`
	Status     models.BatchStatus `json:"status"`
	TotalItems int                `json:"total_items"`
	CreatedAt  time.Time          `json:"created_at"`
}

func (s *Server) createBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	b, err := s.batches.Create(r.Context(), models.BatchFilter{
		Verdicts:   req.Verdict,
		Since:      req.Since,
		NeedsQA:    req.NeedsQA,
		ContentIDs: req.CaseIDs,
		Limit:      req.Limit,
	}, actor(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, batchResponse{
		BatchID:    b.ID,
		Status:     b.Status,
		TotalItems: b.TotalItems,
		CreatedAt:  b.CreatedAt,
	})
}

func (s *Server) listBatches(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	batches, err := s.batches.List(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batches)
}

func (s *Server) getBatch(w http.ResponseWriter, r *http.Request) {
	rep, err := s.batches.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) cancelBatch(w http.ResponseWriter, r *http.Request) {
	b, skipped, err := s.batches.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"batch_id":      b.ID,
		"status":        b.Status,
		"skipped_items": skipped,
	})
}

// --- Single runs ---

func (s *Server) runSingle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContentID string `json:"content_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	b, item, err := s.batches.RunSingle(r.Context(), req.ContentID, actor(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":   item.ID,
		"batch_id": b.ID,
		"status":   item.Status,
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	item, err := s.batches.Job(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// --- Overrides ---

func (s *Server) createOverride(w http.ResponseWriter, r *http.Request) {
	var req override.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	res, err := s.overrides.Apply(r.Context(), req, actor(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// --- Lint ---

type lintResponse struct {
	*pipeline.Pass
	JudgeOutcome string `json:"judge_outcome,omitempty"`
}

func (s *Server) lint(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		writeError(w, http.StatusServiceUnavailable, "lint is not configured")
		return
	}
	var subj models.Subject
	if err := json.NewDecoder(r.Body).Decode(&subj); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	pass, err := s.checker.Check(r.Context(), &subj)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp := lintResponse{Pass: pass}
	if pass.Judge != nil {
		resp.JudgeOutcome = outcomeKind(pass.Judge)
	}
	writeJSON(w, http.StatusOK, resp)
}

func outcomeKind(res *judge.Result) string {
	if res.Outcome == nil {
		return ""
	}
	return res.Outcome.Kind()
}
