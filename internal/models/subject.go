package models

import "time"

// Grounding is the source material a summary must stay faithful to.
type Grounding struct {
	Holding         string   `json:"holding"`
	PracticalEffect string   `json:"practical_effect"`
	EvidenceQuotes  []string `json:"evidence_quotes"`
	SourceExcerpt   string   `json:"source_excerpt"`
}

// Facts are structured attributes of the underlying ruling. Nil booleans
// mean unknown.
type Facts struct {
	MeritsReached   *bool  `json:"merits_reached,omitempty"`
	CaseType        string `json:"case_type,omitempty"`
	DissentExists   *bool  `json:"dissent_exists,omitempty"`
	Disposition     string `json:"disposition,omitempty"`
	PrevailingParty string `json:"prevailing_party,omitempty"`
}

// Subject is a generated summary plus everything QA needs to judge it.
// The generation step owns these fields; QA only writes the QA projection.
type Subject struct {
	ContentID   string     `json:"content_id"`
	CaseName    string     `json:"case_name,omitempty"`
	SummaryText string     `json:"summary_text"`
	ImpactLevel int        `json:"impact_level"`
	Label       string     `json:"label"`
	Grounding   Grounding  `json:"grounding"`
	Facts       Facts      `json:"facts"`
	EnrichedAt  *time.Time `json:"enriched_at,omitempty"`

	QA QAState `json:"qa"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// QAState is the latest QA result projected onto a subject.
type QAState struct {
	Verdict       Verdict      `json:"verdict,omitempty"`
	LayerBVerdict *Verdict     `json:"layer_b_verdict,omitempty"`
	Issues        []Issue      `json:"issues,omitempty"`
	SeverityScore int          `json:"severity_score"`
	InputHash     string       `json:"input_hash,omitempty"`
	PromptVersion string       `json:"prompt_version,omitempty"`
	Model         string       `json:"model,omitempty"`
	RanAt         *time.Time   `json:"ran_at,omitempty"`
	PublishState  PublishState `json:"publish_state,omitempty"`
}

// BoolPtr returns a pointer to b, for building Facts literals.
func BoolPtr(b bool) *bool { return &b }
