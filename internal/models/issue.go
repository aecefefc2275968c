package models

// Severity ranks how serious a QA issue is. It is always assigned from the
// issue-type registry, never by a validator or the model.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities; unknown values rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool { return s.Rank() > 0 }

// Layer identifies which part of the gate produced an issue.
type Layer string

const (
	LayerA        Layer = "A"
	LayerB        Layer = "B"
	LayerInternal Layer = "internal"
)

// Issue is a single QA finding against a summary.
type Issue struct {
	Type             string   `json:"type"`
	Severity         Severity `json:"severity"`
	Layer            Layer    `json:"layer"`
	Fixable          bool     `json:"fixable"`
	AffectedSentence string   `json:"affected_sentence,omitempty"`
	Why              string   `json:"why,omitempty"`
	FixDirective     string   `json:"fix_directive,omitempty"`

	// Match evidence from deterministic rules.
	Word   string `json:"word,omitempty"`
	Phrase string `json:"phrase,omitempty"`

	ModelSeverity Severity `json:"model_severity,omitempty"`
	DroppedReason string   `json:"dropped_reason,omitempty"`
}

// IssueTypes returns the type of each issue in order.
func IssueTypes(issues []Issue) []string {
	out := make([]string, len(issues))
	for i, is := range issues {
		out[i] = is.Type
	}
	return out
}
