// Package verdict fuses Layer A and Layer B results into one gate decision
// and derives the severity score and combined fix directives.
package verdict

import (
	"github.com/joescharf/qagate/internal/issues"
	"github.com/joescharf/qagate/internal/models"
)

// Policy configures fusion.
type Policy struct {
	// ReviewEnabled routes a judge-only REJECT to REVIEW when every issue
	// driving it is a type that requires human confirmation.
	ReviewEnabled bool
}

// DefaultPolicy enables the REVIEW route.
func DefaultPolicy() Policy { return Policy{ReviewEnabled: true} }

// Fusion is the combined decision for one run.
type Fusion struct {
	Verdict       models.Verdict  `json:"verdict"`
	LayerA        models.Verdict  `json:"layer_a_verdict"`
	LayerB        *models.Verdict `json:"layer_b_verdict,omitempty"`
	Issues        []models.Issue  `json:"issues"`
	SeverityScore int             `json:"severity_score"`
	Directives    []string        `json:"fix_directives,omitempty"`
}

// ComputeFinalVerdict combines the two layers. A nil layerB means the judge
// reached no decision and Layer A stands alone. A Layer A REJECT can never
// be softened.
func ComputeFinalVerdict(reg *issues.Registry, policy Policy, layerA models.Verdict, layerB *models.Verdict, layerBIssues []models.Issue) models.Verdict {
	if layerB == nil {
		return layerA
	}
	if layerA == models.VerdictReject {
		return models.VerdictReject
	}
	if *layerB == models.VerdictReject && policy.ReviewEnabled && onlyHumanConfirmDrivers(reg, layerBIssues) {
		return models.Worst(layerA, models.VerdictReview)
	}
	return models.Worst(layerA, *layerB)
}

// onlyHumanConfirmDrivers reports whether at least one reject driver exists
// and all of them require human confirmation.
func onlyHumanConfirmDrivers(reg *issues.Registry, found []models.Issue) bool {
	drivers := 0
	for _, is := range found {
		if !reg.IsRejectDriver(is) {
			continue
		}
		drivers++
		spec, _ := reg.Lookup(is.Type)
		if !spec.RequiresHumanConfirmation {
			return false
		}
	}
	return drivers > 0
}

// SeverityScore sums registry weights of verdict-affecting, non-internal
// issues. It orders triage queues and never changes a verdict.
func SeverityScore(reg *issues.Registry, found []models.Issue) int {
	score := 0
	for _, is := range found {
		spec, ok := reg.Lookup(is.Type)
		if !ok || spec.Layer == models.LayerInternal || !spec.AffectsVerdict {
			continue
		}
		score += spec.Weight
	}
	return score
}

// Fuse runs ComputeFinalVerdict, SeverityScore and
// BuildCombinedFixDirectives over both layers.
func Fuse(reg *issues.Registry, policy Policy, layerA models.Verdict, aIssues []models.Issue, layerB *models.Verdict, bIssues []models.Issue) Fusion {
	all := make([]models.Issue, 0, len(aIssues)+len(bIssues))
	all = append(all, aIssues...)
	all = append(all, bIssues...)
	return Fusion{
		Verdict:       ComputeFinalVerdict(reg, policy, layerA, layerB, bIssues),
		LayerA:        layerA,
		LayerB:        layerB,
		Issues:        all,
		SeverityScore: SeverityScore(reg, all),
		Directives:    BuildCombinedFixDirectives(reg, aIssues, bIssues, MaxDirectives),
	}
}

// Gate maps a verdict to what downstream publication may do.
func Gate(v models.Verdict) models.PublishState {
	switch v {
	case models.VerdictApprove:
		return models.PublishStatePublished
	case models.VerdictFlag:
		return models.PublishStateReviewQueue
	case models.VerdictReject, models.VerdictReview:
		return models.PublishStateBlocked
	default:
		return models.PublishStateUnreviewed
	}
}
