// Package validators implements Layer A: deterministic, model-free lint
// rules that check a generated summary against its grounding.
package validators

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/joescharf/qagate/internal/issues"
	"github.com/joescharf/qagate/internal/models"
	"github.com/joescharf/qagate/internal/textutil"
)

// Result is the Layer A outcome for one subject.
type Result struct {
	Verdict models.Verdict `json:"verdict"`
	Issues  []models.Issue `json:"issues"`
}

type wordRule struct {
	term string
	re   *regexp.Regexp
}

// Validator runs the Layer A rules. It is safe for concurrent use.
type Validator struct {
	reg   *issues.Registry
	rules Rules

	hyperbole  []wordRule
	merits     []wordRule
	procedural []*regexp.Regexp
	dissent    *regexp.Regexp
	scale      []string
	scope      []string
}

// emitted lists every issue type the rules can produce.
var emitted = []string{
	issues.Hyperbole,
	issues.WeaklySupportedScale,
	issues.UnsupportedScale,
	issues.ScopeOverclaimPhrase,
	issues.ProceduralMeritsImplication,
	issues.ProceduralMissingFraming,
	issues.UngroundedDissentReference,
}

// wordEdge rejects letters, digits, underscores and hyphens on either side of
// a match, so hyphen-joined compounds are not hits.
const wordEdge = `[^\p{L}\p{N}_-]`

// New compiles rules against the registry. The registry must define every
// type the rules emit as a Layer A type.
func New(reg *issues.Registry, rules Rules) (*Validator, error) {
	if reg == nil {
		return nil, fmt.Errorf("registry is required")
	}
	for _, t := range emitted {
		if !reg.Has(t, models.LayerA) {
			return nil, fmt.Errorf("registry %s does not define Layer A type %q", reg.Version, t)
		}
	}
	v := &Validator{reg: reg, rules: rules}

	for _, w := range rules.HyperboleWords {
		re, err := regexp.Compile(`(?i)(?:^|` + wordEdge + `)` + regexp.QuoteMeta(w) + `(?:$|` + wordEdge + `)`)
		if err != nil {
			return nil, fmt.Errorf("compile hyperbole word %q: %w", w, err)
		}
		v.hyperbole = append(v.hyperbole, wordRule{term: w, re: re})
	}
	for _, p := range rules.MeritsPhrases {
		re, err := regexp.Compile(`(?i)\b` + phrasePattern(p) + `\b`)
		if err != nil {
			return nil, fmt.Errorf("compile merits phrase %q: %w", p, err)
		}
		v.merits = append(v.merits, wordRule{term: p, re: re})
	}
	for _, k := range rules.ProceduralKeywords {
		re, err := regexp.Compile(`(?i)\b` + phrasePattern(k))
		if err != nil {
			return nil, fmt.Errorf("compile procedural keyword %q: %w", k, err)
		}
		v.procedural = append(v.procedural, re)
	}
	for _, k := range rules.ExactProceduralKeywords {
		re, err := regexp.Compile(`\b` + regexp.QuoteMeta(k) + `\b`)
		if err != nil {
			return nil, fmt.Errorf("compile procedural keyword %q: %w", k, err)
		}
		v.procedural = append(v.procedural, re)
	}
	if len(rules.DissentTerms) > 0 {
		quoted := make([]string, len(rules.DissentTerms))
		for i, d := range rules.DissentTerms {
			quoted[i] = regexp.QuoteMeta(d)
		}
		re, err := regexp.Compile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
		if err != nil {
			return nil, fmt.Errorf("compile dissent terms: %w", err)
		}
		v.dissent = re
	}
	for _, s := range rules.ScaleWords {
		v.scale = append(v.scale, textutil.NormalizePhrase(s))
	}
	for _, s := range rules.ScopeOverclaimPhrases {
		v.scope = append(v.scope, textutil.NormalizePhrase(s))
	}
	return v, nil
}

// phrasePattern quotes a phrase and lets any whitespace run separate words.
func phrasePattern(p string) string {
	words := strings.Fields(p)
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	return strings.Join(words, `\s+`)
}

// Evaluate runs every rule and derives the Layer A verdict.
func (v *Validator) Evaluate(s *models.Subject) Result {
	found := v.Run(s)
	return Result{Verdict: v.reg.Verdict(found), Issues: found}
}

// Run returns all Layer A issues in a fixed rule order. Output depends only
// on the subject and the rule configuration.
func (v *Validator) Run(s *models.Subject) []models.Issue {
	var out []models.Issue
	out = append(out, v.checkHyperbole(s)...)
	out = append(out, v.checkScale(s)...)
	out = append(out, v.checkScopeOverclaim(s)...)
	out = append(out, v.checkProcedural(s)...)
	out = append(out, v.checkDissent(s)...)
	return out
}

func (v *Validator) checkHyperbole(s *models.Subject) []models.Issue {
	if s.ImpactLevel > v.rules.LowImpactThreshold {
		return nil
	}
	var out []models.Issue
	for _, w := range v.hyperbole {
		if !w.re.MatchString(s.SummaryText) {
			continue
		}
		is := v.reg.NewIssue(issues.Hyperbole)
		is.Fixable = true
		is.Word = w.term
		is.AffectedSentence = textutil.FindSentence(s.SummaryText, w.re.MatchString)
		is.Why = fmt.Sprintf("%q is loaded language for a level %d ruling", w.term, s.ImpactLevel)
		is.FixDirective = fmt.Sprintf("Restate sentence containing %q as narrow or technical effect", w.term)
		out = append(out, is)
	}
	return out
}

func (v *Validator) checkScale(s *models.Subject) []models.Issue {
	summary := textutil.NormalizePhrase(s.SummaryText)
	source := textutil.NormalizePhrase(s.Grounding.SourceExcerpt)
	quotes := make([]string, len(s.Grounding.EvidenceQuotes))
	for i, q := range s.Grounding.EvidenceQuotes {
		quotes[i] = textutil.NormalizePhrase(q)
	}
	holding := textutil.NormalizePhrase(s.Grounding.Holding)
	effect := textutil.NormalizePhrase(s.Grounding.PracticalEffect)

	var out []models.Issue
	for _, phrase := range v.scale {
		if !textutil.ContainsPhrase(summary, phrase) {
			continue
		}
		strong := textutil.ContainsPhraseLenient(source, phrase)
		for _, q := range quotes {
			strong = strong || textutil.ContainsPhraseLenient(q, phrase)
		}
		if strong {
			continue
		}
		sentence := textutil.FindSentence(s.SummaryText, func(sent string) bool {
			return textutil.ContainsPhrase(textutil.NormalizePhrase(sent), phrase)
		})

		weak := textutil.ContainsPhraseLenient(holding, phrase) || textutil.ContainsPhraseLenient(effect, phrase)
		if weak {
			is := v.reg.NewIssue(issues.WeaklySupportedScale)
			is.Fixable = true
			is.Phrase = phrase
			is.AffectedSentence = sentence
			is.Why = fmt.Sprintf("Scale claim %q appears in the holding or practical effect but not in the source text", phrase)
			is.FixDirective = fmt.Sprintf("If keeping %q, ensure it appears in source text or remove the scale language", phrase)
			out = append(out, is)
			continue
		}
		is := v.reg.NewIssue(issues.UnsupportedScale)
		is.Fixable = false
		is.Phrase = phrase
		is.AffectedSentence = sentence
		is.Why = fmt.Sprintf("Scale claim %q is not supported by the source text or evidence quotes", phrase)
		out = append(out, is)
	}
	return out
}

func (v *Validator) checkScopeOverclaim(s *models.Subject) []models.Issue {
	summary := textutil.NormalizePhrase(s.SummaryText)
	var out []models.Issue
	for _, phrase := range v.scope {
		if !textutil.ContainsPhrase(summary, phrase) {
			continue
		}
		is := v.reg.NewIssue(issues.ScopeOverclaimPhrase)
		is.Fixable = true
		is.Phrase = phrase
		is.AffectedSentence = textutil.FindSentence(s.SummaryText, func(sent string) bool {
			return textutil.ContainsPhrase(textutil.NormalizePhrase(sent), phrase)
		})
		is.Why = fmt.Sprintf("%q implies broader scope than a single ruling usually supports", phrase)
		is.FixDirective = fmt.Sprintf("If %q is not explicitly supported by source text, restate without broad scope language", phrase)
		out = append(out, is)
	}
	return out
}

// isProcedural reports whether the ruling did not reach the merits.
func isProcedural(f models.Facts) bool {
	return (f.MeritsReached != nil && !*f.MeritsReached) || f.CaseType == "procedural"
}

func (v *Validator) checkProcedural(s *models.Subject) []models.Issue {
	if !isProcedural(s.Facts) {
		return nil
	}
	var out []models.Issue
	for _, m := range v.merits {
		if !m.re.MatchString(s.SummaryText) {
			continue
		}
		is := v.reg.NewIssue(issues.ProceduralMeritsImplication)
		is.Fixable = true
		is.Phrase = m.term
		is.AffectedSentence = textutil.FindSentence(s.SummaryText, m.re.MatchString)
		is.Why = fmt.Sprintf("The ruling did not reach the merits but the summary says %q", m.term)
		is.FixDirective = "Remove merits framing and add explicit procedural posture (dismissed, remanded, vacated, standing, mootness)"
		out = append(out, is)
	}

	framed := false
	for _, re := range v.procedural {
		if re.MatchString(s.SummaryText) {
			framed = true
			break
		}
	}
	if !framed {
		is := v.reg.NewIssue(issues.ProceduralMissingFraming)
		is.Fixable = true
		is.Why = "The ruling was procedural but the summary never says so"
		is.FixDirective = "Add procedural framing (dismissed, remanded, vacated, standing, mootness, jurisdiction, cert denied)"
		out = append(out, is)
	}
	return out
}

func (v *Validator) checkDissent(s *models.Subject) []models.Issue {
	if v.dissent == nil || s.Facts.DissentExists == nil || *s.Facts.DissentExists {
		return nil
	}
	if !v.dissent.MatchString(s.SummaryText) {
		return nil
	}
	is := v.reg.NewIssue(issues.UngroundedDissentReference)
	is.Fixable = true
	is.Word = strings.ToLower(v.dissent.FindString(s.SummaryText))
	is.AffectedSentence = textutil.FindSentence(s.SummaryText, v.dissent.MatchString)
	is.Why = "The summary refers to a dissent but the ruling had none"
	is.FixDirective = "Remove every reference to a dissent"
	return []models.Issue{is}
}
