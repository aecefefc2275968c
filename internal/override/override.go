// Package override applies human verdict overrides and reads the audit trail.
package override

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/joescharf/qagate/internal/issues"
	"github.com/joescharf/qagate/internal/models"
	"github.com/joescharf/qagate/internal/store"
	"github.com/joescharf/qagate/internal/verdict"
)

var (
	// ErrInvalid is returned for malformed override requests.
	ErrInvalid = errors.New("invalid override")
	// ErrStale is returned when the subject's verdict no longer matches the
	// verdict the caller saw.
	ErrStale = errors.New("stale override")
)

const (
	// MinReasonLength is the shortest accepted override reason.
	MinReasonLength = 10
	// DefaultHistoryLimit bounds History when no limit is given.
	DefaultHistoryLimit = 20
	// DefaultActor is recorded when a caller gives no identity.
	DefaultActor = "system"
)

// Store is the subset of store.Store needed for overrides and history.
type Store interface {
	GetSubject(ctx context.Context, contentID string) (*models.Subject, error)
	ApplyOverride(ctx context.Context, o *models.Override, qa models.QAState, rev *models.Revision) error
	ListOverrides(ctx context.Context, contentID string) ([]*models.Override, error)
	ListRevisions(ctx context.Context, contentID string, limit int) ([]*models.Revision, error)
}

// Request is a human's instruction to replace a verdict.
type Request struct {
	ContentID       string         `json:"content_id"`
	OriginalVerdict models.Verdict `json:"original_verdict"`
	OverrideVerdict models.Verdict `json:"override_verdict"`
	Reason          string         `json:"reason"`
	DismissedIssues []string       `json:"dismissed_issues,omitempty"`
	AddToGoldSet    bool           `json:"add_to_gold_set,omitempty"`
}

// Validate checks the request shape without touching storage.
func (r Request) Validate() error {
	if r.ContentID == "" {
		return fmt.Errorf("%w: content_id is required", ErrInvalid)
	}
	if !r.OverrideVerdict.Overridable() {
		return fmt.Errorf("%w: override verdict must be APPROVE, FLAG or REJECT, got %q", ErrInvalid, r.OverrideVerdict)
	}
	if !r.OriginalVerdict.Valid() {
		return fmt.Errorf("%w: unknown original verdict %q", ErrInvalid, r.OriginalVerdict)
	}
	if len(strings.TrimSpace(r.Reason)) < MinReasonLength {
		return fmt.Errorf("%w: reason must be at least %d characters", ErrInvalid, MinReasonLength)
	}
	return nil
}

// Result is the subject state after an override.
type Result struct {
	Override *models.Override `json:"override"`
	QA       models.QAState   `json:"qa"`
	Revision *models.Revision `json:"revision"`
}

// Service applies overrides.
type Service struct {
	store Store
	reg   *issues.Registry
	log   *slog.Logger
}

// New creates a Service.
func New(st Store, reg *issues.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, reg: reg, log: logger}
}

// Apply replaces the subject's verdict. The write is conditional on the
// subject still holding req.OriginalVerdict.
func (s *Service) Apply(ctx context.Context, req Request, actor string) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if actor == "" {
		actor = DefaultActor
	}

	subj, err := s.store.GetSubject(ctx, req.ContentID)
	if err != nil {
		return nil, err
	}
	if subj.QA.Verdict != req.OriginalVerdict {
		return nil, fmt.Errorf("%w: %s is now %q, not %q", ErrStale, req.ContentID, subj.QA.Verdict, req.OriginalVerdict)
	}

	qa := subj.QA
	qa.Verdict = req.OverrideVerdict
	qa.Issues = s.remainingIssues(subj.QA.Issues, req)
	qa.SeverityScore = verdict.SeverityScore(s.reg, qa.Issues)
	qa.PublishState = verdict.Gate(req.OverrideVerdict)

	o := &models.Override{
		ContentID:       req.ContentID,
		OriginalVerdict: req.OriginalVerdict,
		OverrideVerdict: req.OverrideVerdict,
		OverrideReason:  strings.TrimSpace(req.Reason),
		DismissedIssues: req.DismissedIssues,
		AddToGoldSet:    req.AddToGoldSet,
		Actor:           actor,
	}
	rev := &models.Revision{
		ContentID:     req.ContentID,
		TriggerSource: models.TriggerAdminOverride,
		ChangedFields: overrideFields(subj.QA, qa),
		ActorType:     models.ActorAdmin,
		ActorID:       actor,
		ChangeSummary: fmt.Sprintf("Override: %s -> %s", req.OriginalVerdict, req.OverrideVerdict),
		Snapshot: map[string]any{
			"original_verdict": string(req.OriginalVerdict),
			"override_verdict": string(req.OverrideVerdict),
			"reason":           o.OverrideReason,
			"dismissed_issues": req.DismissedIssues,
			"add_to_gold_set":  req.AddToGoldSet,
			"issue_types":      models.IssueTypes(qa.Issues),
		},
	}

	if err := s.store.ApplyOverride(ctx, o, qa, rev); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("%w: %v", ErrStale, err)
		}
		return nil, err
	}
	s.log.Info("override.applied", "content_id", req.ContentID, "from", req.OriginalVerdict,
		"to", req.OverrideVerdict, "actor", actor, "override_id", o.ID)
	return &Result{Override: o, QA: qa, Revision: rev}, nil
}

// remainingIssues drops dismissed types, and every Layer B issue when the
// override approves.
func (s *Service) remainingIssues(current []models.Issue, req Request) []models.Issue {
	out := make([]models.Issue, 0, len(current))
	for _, is := range current {
		if slices.Contains(req.DismissedIssues, is.Type) {
			continue
		}
		if req.OverrideVerdict == models.VerdictApprove && is.Layer == models.LayerB {
			continue
		}
		out = append(out, is)
	}
	return out
}

func overrideFields(before, after models.QAState) []string {
	fields := []string{"qa_verdict"}
	if !slices.Equal(models.IssueTypes(before.Issues), models.IssueTypes(after.Issues)) {
		fields = append(fields, "qa_issues")
	}
	if before.SeverityScore != after.SeverityScore {
		fields = append(fields, "qa_severity_score")
	}
	if before.PublishState != after.PublishState {
		fields = append(fields, "publish_state")
	}
	return fields
}

// CurrentState is the part of a subject's QA projection shown with history.
type CurrentState struct {
	Verdict       models.Verdict      `json:"qa_verdict"`
	LayerBVerdict *models.Verdict     `json:"qa_layer_b_verdict,omitempty"`
	PublishState  models.PublishState `json:"publish_state"`
	SeverityScore int                 `json:"severity_score"`
	RanAt         *time.Time          `json:"qa_ran_at,omitempty"`
	EnrichedAt    *time.Time          `json:"enriched_at,omitempty"`
}

// History is a subject's audit trail, newest first.
type History struct {
	ContentID      string             `json:"content_id"`
	CaseName       string             `json:"case_name,omitempty"`
	CurrentState   CurrentState       `json:"current_state"`
	Revisions      []*models.Revision `json:"revisions"`
	Overrides      []*models.Override `json:"overrides"`
	TotalRevisions int                `json:"total_revisions"`
}

// History returns up to limit revisions for a subject plus its overrides.
func (s *Service) History(ctx context.Context, contentID string, limit int) (*History, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	subj, err := s.store.GetSubject(ctx, contentID)
	if err != nil {
		return nil, err
	}
	revs, err := s.store.ListRevisions(ctx, contentID, limit)
	if err != nil {
		return nil, err
	}
	overrides, err := s.store.ListOverrides(ctx, contentID)
	if err != nil {
		return nil, err
	}
	return &History{
		ContentID: contentID,
		CaseName:  subj.CaseName,
		CurrentState: CurrentState{
			Verdict:       subj.QA.Verdict,
			LayerBVerdict: subj.QA.LayerBVerdict,
			PublishState:  subj.QA.PublishState,
			SeverityScore: subj.QA.SeverityScore,
			RanAt:         subj.QA.RanAt,
			EnrichedAt:    subj.EnrichedAt,
		},
		Revisions:      revs,
		Overrides:      overrides,
		TotalRevisions: len(revs),
	}, nil
}
