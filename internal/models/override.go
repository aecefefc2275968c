package models

import "time"

// Override records a human replacing a QA verdict. Immutable once written.
type Override struct {
	ID              string    `json:"id"`
	ContentID       string    `json:"content_id"`
	OriginalVerdict Verdict   `json:"original_verdict"`
	OverrideVerdict Verdict   `json:"override_verdict"`
	OverrideReason  string    `json:"override_reason"`
	DismissedIssues []string  `json:"dismissed_issues,omitempty"`
	AddToGoldSet    bool      `json:"add_to_gold_set"`
	Actor           string    `json:"actor"`
	CreatedAt       time.Time `json:"created_at"`
}

// RevisionTrigger names what caused a revision.
type RevisionTrigger string

const (
	TriggerQARun         RevisionTrigger = "qa_run"
	TriggerQARetry       RevisionTrigger = "qa_retry"
	TriggerAdminOverride RevisionTrigger = "admin_override"
)

// ActorType distinguishes automated from human changes.
type ActorType string

const (
	ActorSystem ActorType = "system"
	ActorAdmin  ActorType = "admin"
)

// Revision is an append-only audit entry for a subject.
type Revision struct {
	ID            string          `json:"id"`
	ContentID     string          `json:"content_id"`
	TriggerSource RevisionTrigger `json:"trigger_source"`
	TriggerID     string          `json:"trigger_id,omitempty"`
	ChangedFields []string        `json:"changed_fields"`
	ActorType     ActorType       `json:"actor_type"`
	ActorID       string          `json:"actor_id,omitempty"`
	ChangeSummary string          `json:"change_summary"`
	Snapshot      map[string]any  `json:"snapshot,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}
