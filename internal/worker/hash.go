package worker

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/joescharf/qagate/internal/models"
)

// hashInput lists every field that can change a QA result. Struct field
// order fixes the JSON key order, so the encoding is canonical.
type hashInput struct {
	SummaryText     string           `json:"summary_text"`
	ImpactLevel     int              `json:"impact_level"`
	Label           string           `json:"label"`
	Grounding       models.Grounding `json:"grounding"`
	Facts           models.Facts     `json:"facts"`
	RegistryVersion string           `json:"registry_version"`
	PromptVersion   string           `json:"prompt_version"`
}

// InputHash returns the hex SHA-256 of a subject's QA inputs together with
// the registry and prompt versions that will judge them.
func InputHash(s *models.Subject, registryVersion, promptVersion string) (string, error) {
	b, err := json.Marshal(hashInput{
		SummaryText:     s.SummaryText,
		ImpactLevel:     s.ImpactLevel,
		Label:           s.Label,
		Grounding:       s.Grounding,
		Facts:           s.Facts,
		RegistryVersion: registryVersion,
		PromptVersion:   promptVersion,
	})
	if err != nil {
		return "", fmt.Errorf("hash input: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
