// Package issues holds the versioned issue-type registry. It is the single
// source of severity and classification for every QA issue type; validators,
// the LLM judge and verdict fusion all receive a *Registry explicitly.
package issues

import (
	"fmt"
	"sort"

	"github.com/joescharf/qagate/internal/models"
)

// DirectiveGroup orders fix directives when they are combined.
type DirectiveGroup int

const (
	GroupSafety DirectiveGroup = iota
	GroupAccuracy
	GroupScope
	GroupTone
	GroupOther
)

// TypeSpec describes one issue type.
type TypeSpec struct {
	Name     string
	Layer    models.Layer
	Severity models.Severity

	// RejectEligible types force REJECT when they appear at high severity.
	RejectEligible bool
	// Safety types are never filtered by capability checks and their
	// directives are applied first.
	Safety bool
	// RequiresHumanConfirmation marks judge findings that fusion may route
	// to REVIEW rather than an automatic REJECT.
	RequiresHumanConfirmation bool
	// AffectsVerdict is false for bookkeeping notes.
	AffectsVerdict bool

	Weight int
	Group  DirectiveGroup
}

// Registry is an immutable table of issue types.
type Registry struct {
	Version string
	types   map[string]TypeSpec
}

// DefaultWeights map severity to triage weight.
var DefaultWeights = map[models.Severity]int{
	models.SeverityHigh:   100,
	models.SeverityMedium: 60,
	models.SeverityLow:    20,
}

// New builds a registry. Specs with Weight 0 on a verdict-affecting type get
// the default weight for their severity.
func New(version string, specs ...TypeSpec) (*Registry, error) {
	if version == "" {
		return nil, fmt.Errorf("registry version is required")
	}
	r := &Registry{Version: version, types: make(map[string]TypeSpec, len(specs))}
	for _, s := range specs {
		if s.Name == "" {
			return nil, fmt.Errorf("issue type name is required")
		}
		if !s.Severity.Valid() {
			return nil, fmt.Errorf("issue type %s: invalid severity %q", s.Name, s.Severity)
		}
		switch s.Layer {
		case models.LayerA, models.LayerB, models.LayerInternal:
		default:
			return nil, fmt.Errorf("issue type %s: invalid layer %q", s.Name, s.Layer)
		}
		if _, dup := r.types[s.Name]; dup {
			return nil, fmt.Errorf("duplicate issue type: %s", s.Name)
		}
		if s.Weight == 0 && s.AffectsVerdict && s.Layer != models.LayerInternal {
			s.Weight = DefaultWeights[s.Severity]
		}
		r.types[s.Name] = s
	}
	return r, nil
}

// MustNew is New that panics on error, for static tables.
func MustNew(version string, specs ...TypeSpec) *Registry {
	r, err := New(version, specs...)
	if err != nil {
		panic(err)
	}
	return r
}

// Issue type names.
const (
	Hyperbole                   = "hyperbole"
	UnsupportedScale            = "unsupported_scale"
	WeaklySupportedScale        = "weakly_supported_scale"
	ScopeOverclaimPhrase        = "scope_overclaim_phrase"
	ProceduralMeritsImplication = "procedural_merits_implication"
	ProceduralMissingFraming    = "procedural_missing_framing"
	UngroundedDissentReference  = "ungrounded_dissent_reference"

	AccuracyVsHolding = "accuracy_vs_holding"
	Hallucination     = "hallucination"
	ScopeOverreach    = "scope_overreach"
	ToneLabelMismatch = "tone_label_mismatch"

	InsufficientGrounding    = "insufficient_grounding"
	MissingGroundingForCheck = "missing_grounding_for_check"
	IssuesTruncated          = "issues_truncated"
	InsufficientQAOutput     = "insufficient_qa_output"
)

// DefaultVersion identifies the built-in table. Bump it whenever a default
// entry changes so stored input hashes stop matching.
const DefaultVersion = "2025-01.1"

// Default returns the built-in registry.
func Default() *Registry {
	return MustNew(DefaultVersion,
		TypeSpec{Name: Hyperbole, Layer: models.LayerA, Severity: models.SeverityMedium, Safety: true, AffectsVerdict: true, Group: GroupSafety},
		TypeSpec{Name: UnsupportedScale, Layer: models.LayerA, Severity: models.SeverityHigh, RejectEligible: true, AffectsVerdict: true, Group: GroupAccuracy},
		TypeSpec{Name: WeaklySupportedScale, Layer: models.LayerA, Severity: models.SeverityLow, AffectsVerdict: true, Group: GroupAccuracy},
		TypeSpec{Name: ScopeOverclaimPhrase, Layer: models.LayerA, Severity: models.SeverityLow, AffectsVerdict: true, Group: GroupScope},
		TypeSpec{Name: ProceduralMeritsImplication, Layer: models.LayerA, Severity: models.SeverityHigh, RejectEligible: true, Safety: true, AffectsVerdict: true, Group: GroupSafety},
		TypeSpec{Name: ProceduralMissingFraming, Layer: models.LayerA, Severity: models.SeverityMedium, AffectsVerdict: true, Group: GroupAccuracy},
		TypeSpec{Name: UngroundedDissentReference, Layer: models.LayerA, Severity: models.SeverityHigh, RejectEligible: true, AffectsVerdict: true, Group: GroupAccuracy},

		TypeSpec{Name: AccuracyVsHolding, Layer: models.LayerB, Severity: models.SeverityHigh, RejectEligible: true, AffectsVerdict: true, Group: GroupAccuracy},
		TypeSpec{Name: Hallucination, Layer: models.LayerB, Severity: models.SeverityHigh, RejectEligible: true, Safety: true, RequiresHumanConfirmation: true, AffectsVerdict: true, Group: GroupSafety},
		TypeSpec{Name: ScopeOverreach, Layer: models.LayerB, Severity: models.SeverityMedium, AffectsVerdict: true, Group: GroupScope},
		TypeSpec{Name: ToneLabelMismatch, Layer: models.LayerB, Severity: models.SeverityMedium, AffectsVerdict: true, Group: GroupTone},

		TypeSpec{Name: InsufficientGrounding, Layer: models.LayerInternal, Severity: models.SeverityMedium, AffectsVerdict: true, Group: GroupOther},
		TypeSpec{Name: MissingGroundingForCheck, Layer: models.LayerInternal, Severity: models.SeverityLow, Group: GroupOther},
		TypeSpec{Name: IssuesTruncated, Layer: models.LayerInternal, Severity: models.SeverityLow, Group: GroupOther},
		TypeSpec{Name: InsufficientQAOutput, Layer: models.LayerInternal, Severity: models.SeverityLow, Group: GroupOther},
	)
}

// Lookup returns the TypeSpec for an issue type.
func (r *Registry) Lookup(name string) (TypeSpec, bool) {
	s, ok := r.types[name]
	return s, ok
}

// Has reports whether name is registered for the given layer.
func (r *Registry) Has(name string, layer models.Layer) bool {
	s, ok := r.types[name]
	return ok && s.Layer == layer
}

// TypesForLayer lists registered type names for a layer, sorted.
func (r *Registry) TypesForLayer(layer models.Layer) []string {
	var names []string
	for name, s := range r.types {
		if s.Layer == layer {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// NewIssue builds an issue with severity and layer taken from the registry.
// It panics on an unregistered type: rule code must only emit known types.
func (r *Registry) NewIssue(name string) models.Issue {
	s, ok := r.types[name]
	if !ok {
		panic(fmt.Sprintf("issues: unregistered type %q", name))
	}
	return models.Issue{Type: name, Severity: s.Severity, Layer: s.Layer}
}

// Normalize overwrites severity and layer from the registry. The second
// return is false for unknown types.
func (r *Registry) Normalize(is models.Issue) (models.Issue, bool) {
	s, ok := r.types[is.Type]
	if !ok {
		return is, false
	}
	is.Severity = s.Severity
	is.Layer = s.Layer
	return is, true
}

// IsRejectDriver reports whether the issue alone forces REJECT.
func (r *Registry) IsRejectDriver(is models.Issue) bool {
	s, ok := r.types[is.Type]
	return ok && s.RejectEligible && s.Severity == models.SeverityHigh
}

// IsSafety reports whether the type is a safety type.
func (r *Registry) IsSafety(name string) bool {
	s, ok := r.types[name]
	return ok && s.Safety
}

// Weight returns the triage weight of a type, 0 when unknown.
func (r *Registry) Weight(name string) int {
	return r.types[name].Weight
}

// Verdict derives a verdict from issues: REJECT when any reject driver is
// present, FLAG when any verdict-affecting issue is present, else APPROVE.
func (r *Registry) Verdict(issues []models.Issue) models.Verdict {
	flag := false
	for _, is := range issues {
		if r.IsRejectDriver(is) {
			return models.VerdictReject
		}
		if s, ok := r.types[is.Type]; ok && s.AffectsVerdict {
			flag = true
		}
	}
	if flag {
		return models.VerdictFlag
	}
	return models.VerdictApprove
}
