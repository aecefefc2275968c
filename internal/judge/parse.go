package judge

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joescharf/qagate/internal/models"
	"github.com/joescharf/qagate/internal/textutil"
)

// responseSchema is the envelope every judge response must match. Item
// level checks happen afterwards so one bad issue does not void the rest.
const responseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["issues"],
  "properties": {
    "issues": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["type"],
        "properties": {
          "type": {"type": "string"},
          "severity": {"type": "string"},
          "fixable": {"type": "boolean"},
          "affected_sentence": {"type": "string"},
          "why": {"type": "string"},
          "fix_directive": {"type": "string"}
        }
      }
    },
    "raw_confidence": {"type": "number", "minimum": 0, "maximum": 100}
  }
}`

func compileSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("judge_response.json", strings.NewReader(responseSchema)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("judge_response.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

type rawIssue struct {
	Type             string `json:"type"`
	Severity         string `json:"severity"`
	Fixable          bool   `json:"fixable"`
	AffectedSentence string `json:"affected_sentence"`
	Why              string `json:"why"`
	FixDirective     string `json:"fix_directive"`
}

type rawResponse struct {
	Issues        []rawIssue `json:"issues"`
	RawConfidence *float64   `json:"raw_confidence"`
}

// decodeResponse validates text against the envelope schema.
func decodeResponse(schema *jsonschema.Schema, text string) (*rawResponse, error) {
	var doc any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("parse JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("json does not match schema: %w", err)
	}
	var resp rawResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

// Drop reasons recorded on rejected candidate issues.
const (
	DropUnknownType      = "unknown_type"
	DropFieldTooLong     = "field_too_long"
	DropMissingDirective = "fixable_without_directive"
	DropMissingSentence  = "missing_affected_sentence"
	DropSentenceNotFound = "sentence_not_in_summary"
	DropDuplicate        = "duplicate"
	DropTypeDisabled     = "type_disabled"
	DropUnverifiable     = "unverifiable_with_grounding"
	DropIssueCap         = "issue_cap"
)

// filterResult holds surviving and dropped candidates.
type filterResult struct {
	kept    []models.Issue
	dropped []models.Issue
}

// filterIssues applies per-issue validation, severity normalization,
// capability filtering and the issue cap, in that order.
func (a *Agent) filterIssues(summary string, raw []rawIssue, caps Capabilities) filterResult {
	var res filterResult
	seen := make(map[string]bool)

	drop := func(is models.Issue, reason string) {
		is.DroppedReason = reason
		res.dropped = append(res.dropped, is)
	}

	for _, r := range raw {
		is := models.Issue{
			Type:             strings.TrimSpace(r.Type),
			Layer:            models.LayerB,
			Fixable:          r.Fixable,
			AffectedSentence: strings.TrimSpace(r.AffectedSentence),
			Why:              strings.TrimSpace(r.Why),
			FixDirective:     strings.TrimSpace(r.FixDirective),
			ModelSeverity:    models.Severity(strings.ToLower(strings.TrimSpace(r.Severity))),
		}
		is.Severity = is.ModelSeverity

		if !a.reg.Has(is.Type, models.LayerB) {
			drop(is, DropUnknownType)
			continue
		}
		is, _ = a.reg.Normalize(is)

		lim := a.cfg.Fields
		if textutil.RuneLen(is.AffectedSentence) > lim.AffectedSentence ||
			textutil.RuneLen(is.Why) > lim.Why ||
			textutil.RuneLen(is.FixDirective) > lim.FixDirective {
			drop(is, DropFieldTooLong)
			continue
		}
		if is.Fixable && is.FixDirective == "" {
			drop(is, DropMissingDirective)
			continue
		}
		if is.AffectedSentence == "" && is.Severity == models.SeverityHigh {
			drop(is, DropMissingSentence)
			continue
		}
		if is.AffectedSentence != "" && !textutil.ContainsNormalized(summary, is.AffectedSentence) {
			drop(is, DropSentenceNotFound)
			continue
		}
		key := is.Type + "\x00" + strings.ToLower(textutil.NormalizeForMatch(is.AffectedSentence))
		if seen[key] {
			drop(is, DropDuplicate)
			continue
		}
		safety := a.reg.IsSafety(is.Type)
		if !safety && !a.enabled(is.Type) {
			drop(is, DropTypeDisabled)
			continue
		}
		if !verifiable(a.reg, is.Type, caps) {
			drop(is, DropUnverifiable)
			continue
		}
		seen[key] = true
		res.kept = append(res.kept, is)
	}

	sort.SliceStable(res.kept, func(i, j int) bool {
		return res.kept[i].Severity.Rank() > res.kept[j].Severity.Rank()
	})
	if len(res.kept) > a.cfg.MaxIssues {
		for _, is := range res.kept[a.cfg.MaxIssues:] {
			drop(is, DropIssueCap)
		}
		res.kept = res.kept[:a.cfg.MaxIssues]
	}
	return res
}

func (a *Agent) enabled(typ string) bool {
	if len(a.cfg.EnabledTypes) == 0 {
		return true
	}
	for _, t := range a.cfg.EnabledTypes {
		if t == typ {
			return true
		}
	}
	return false
}
