package judge

import (
	"strings"

	"github.com/joescharf/qagate/internal/issues"
	"github.com/joescharf/qagate/internal/models"
	"github.com/joescharf/qagate/internal/textutil"
)

// minHoldingChars is the shortest holding that supports accuracy checks.
const minHoldingChars = 20

// Capabilities lists which checks the available grounding supports.
type Capabilities struct {
	Accuracy bool
	Scope    bool
	Outcome  bool
	Quotes   bool
	Tone     bool
}

// Any reports whether at least one check is possible.
func (c Capabilities) Any() bool {
	return c.Accuracy || c.Scope || c.Outcome || c.Quotes || c.Tone
}

// assessGrounding decides which checks are possible and names the missing
// inputs for the others.
func assessGrounding(s *models.Subject) (Capabilities, []string) {
	var caps Capabilities
	var missing []string

	if textutil.RuneLen(strings.TrimSpace(s.Grounding.Holding)) >= minHoldingChars {
		caps.Accuracy = true
		caps.Scope = true
	} else {
		missing = append(missing, "holding")
	}
	if s.Facts.Disposition != "" && s.Facts.PrevailingParty != "" {
		caps.Outcome = true
	} else {
		missing = append(missing, "disposition")
	}
	if hasQuotes(s.Grounding.EvidenceQuotes) {
		caps.Quotes = true
	} else {
		missing = append(missing, "evidence_quotes")
	}
	if s.Label != "" && s.ImpactLevel >= 0 {
		caps.Tone = true
	} else {
		missing = append(missing, "label")
	}
	return caps, missing
}

func hasQuotes(qs []string) bool {
	for _, q := range qs {
		if strings.TrimSpace(q) != "" {
			return true
		}
	}
	return false
}

// verifiable reports whether an issue type can be checked with caps.
// Safety types are always verifiable.
func verifiable(reg *issues.Registry, typ string, caps Capabilities) bool {
	if reg.IsSafety(typ) {
		return true
	}
	switch typ {
	case issues.AccuracyVsHolding:
		return caps.Accuracy || caps.Outcome
	case issues.ScopeOverreach:
		return caps.Scope
	case issues.ToneLabelMismatch:
		return caps.Tone
	}
	return caps.Any()
}

// boundedGrounding is grounding cut to the prompt limits.
type boundedGrounding struct {
	Holding         string
	PracticalEffect string
	EvidenceQuotes  []string
	SourceExcerpt   string
}

func boundGrounding(g models.Grounding, lim GroundingLimits) boundedGrounding {
	out := boundedGrounding{
		Holding:         textutil.Truncate(strings.TrimSpace(g.Holding), lim.Holding),
		PracticalEffect: textutil.Truncate(strings.TrimSpace(g.PracticalEffect), lim.PracticalEffect),
		SourceExcerpt:   textutil.HeadTail(strings.TrimSpace(g.SourceExcerpt), lim.SourceExcerpt, lim.SourceHead, lim.SourceTail, "\n...\n"),
	}
	for _, q := range g.EvidenceQuotes {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		if len(out.EvidenceQuotes) >= lim.QuoteCount {
			break
		}
		out.EvidenceQuotes = append(out.EvidenceQuotes, textutil.Truncate(q, lim.QuoteChars))
	}
	return out
}
