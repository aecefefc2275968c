package models

import "time"

// BatchStatus is the lifecycle state of a batch.
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusCancelled  BatchStatus = "cancelled"
)

// ItemStatus is the lifecycle state of one batch item.
// pending -> processing -> {completed | error | skipped}; terminal states are final.
type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "pending"
	ItemStatusProcessing ItemStatus = "processing"
	ItemStatusCompleted  ItemStatus = "completed"
	ItemStatusError      ItemStatus = "error"
	ItemStatusSkipped    ItemStatus = "skipped"
)

// Terminal reports whether no further transition is allowed.
func (s ItemStatus) Terminal() bool {
	return s == ItemStatusCompleted || s == ItemStatusError || s == ItemStatusSkipped
}

// Skip reasons recorded on skipped items.
const (
	SkipReasonUnchanged = "input_unchanged"
	SkipReasonCancelled = "cancelled"
)

// BatchFilter selects the subjects a batch covers.
type BatchFilter struct {
	Verdicts   []Verdict  `json:"verdict,omitempty"`
	Since      *time.Time `json:"since,omitempty"`
	NeedsQA    bool       `json:"needs_qa,omitempty"`
	ContentIDs []string   `json:"content_ids,omitempty"`
	Limit      int        `json:"limit,omitempty"`
}

// Batch groups QA items created by one request.
type Batch struct {
	ID             string      `json:"id"`
	FilterCriteria BatchFilter `json:"filter_criteria"`
	TotalItems     int         `json:"total_items"`
	Status         BatchStatus `json:"status"`
	InitiatedBy    string      `json:"initiated_by"`
	CreatedAt      time.Time   `json:"created_at"`
	StartedAt      *time.Time  `json:"started_at,omitempty"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
}

// BatchItem is one subject's QA run inside a batch. Items are never deleted.
type BatchItem struct {
	ID            string     `json:"id"`
	BatchID       string     `json:"batch_id"`
	ContentID     string     `json:"content_id"`
	Status        ItemStatus `json:"status"`
	InputHash     string     `json:"input_hash,omitempty"`
	QAVerdict     Verdict    `json:"qa_verdict,omitempty"`
	LayerAVerdict Verdict    `json:"layer_a_verdict,omitempty"`
	LayerBVerdict *Verdict   `json:"layer_b_verdict,omitempty"`
	QAIssues      []Issue    `json:"qa_issues,omitempty"`
	SeverityScore int        `json:"severity_score"`
	Attempts      int        `json:"attempts"`
	CostUSD       float64    `json:"cost_usd"`
	LatencyMS     int64      `json:"latency_ms"`
	PromptVersion string     `json:"prompt_version,omitempty"`
	Model         string     `json:"model,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	SkipReason    string     `json:"skip_reason,omitempty"`
	ClaimedBy     string     `json:"claimed_by,omitempty"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// BatchStats is computed on read from a batch's items.
type BatchStats struct {
	Total           int                `json:"total"`
	ByStatus        map[ItemStatus]int `json:"by_status"`
	VerdictCounts   map[Verdict]int    `json:"verdict_counts"`
	TotalCostUSD    float64            `json:"total_cost_usd"`
	ProgressPercent int                `json:"progress_percent"`
}
