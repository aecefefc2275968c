package verdict

import (
	"fmt"
	"sort"
	"strings"

	"github.com/joescharf/qagate/internal/issues"
	"github.com/joescharf/qagate/internal/models"
	"github.com/joescharf/qagate/internal/textutil"
)

// MaxDirectives caps combined fix directives.
const MaxDirectives = 6

const constraintsHeader = `MANDATORY CONSTRAINTS:
- Do NOT add new facts, numbers, or quotes
- Do NOT change unrelated sentences
- Do NOT change the case name or parties
- Apply ONLY the specific fixes listed below`

type rankedDirective struct {
	text     string
	group    issues.DirectiveGroup
	severity int
	layerA   bool
	pos      int
}

// BuildCombinedFixDirectives collects directives from fixable issues of both
// layers. Order: directive group (safety first), then severity, then Layer A
// before Layer B, then original position. Duplicates by normalized text are
// removed and the result is capped at limit.
func BuildCombinedFixDirectives(reg *issues.Registry, aIssues, bIssues []models.Issue, limit int) []string {
	var ranked []rankedDirective
	seen := make(map[string]bool)

	add := func(found []models.Issue, layerA bool) {
		for _, is := range found {
			if !is.Fixable || strings.TrimSpace(is.FixDirective) == "" {
				continue
			}
			key := strings.ToLower(textutil.NormalizeForMatch(is.FixDirective))
			if seen[key] {
				continue
			}
			seen[key] = true
			group := issues.GroupOther
			if spec, ok := reg.Lookup(is.Type); ok {
				group = spec.Group
			}
			ranked = append(ranked, rankedDirective{
				text:     directiveText(is),
				group:    group,
				severity: is.Severity.Rank(),
				layerA:   layerA,
				pos:      len(ranked),
			})
		}
	}
	add(aIssues, true)
	add(bIssues, false)

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.group != b.group {
			return a.group < b.group
		}
		if a.severity != b.severity {
			return a.severity > b.severity
		}
		if a.layerA != b.layerA {
			return a.layerA
		}
		return a.pos < b.pos
	})

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.text
	}
	return out
}

func directiveText(is models.Issue) string {
	d := strings.TrimSpace(is.FixDirective)
	if is.AffectedSentence != "" {
		return d + ` (sentence: "` + is.AffectedSentence + `")`
	}
	return d
}

// RenderDirectives formats directives for a regeneration prompt. It returns
// "" when there is nothing to fix.
func RenderDirectives(directives []string) string {
	if len(directives) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(constraintsHeader)
	sb.WriteString("\n\nFIXES:\n")
	for i, d := range directives {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, d)
	}
	return sb.String()
}
