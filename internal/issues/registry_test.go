package issues

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/qagate/internal/models"
)

func TestDefault_Severities(t *testing.T) {
	r := Default()

	tests := []struct {
		name     string
		severity models.Severity
		layer    models.Layer
	}{
		{Hyperbole, models.SeverityMedium, models.LayerA},
		{UnsupportedScale, models.SeverityHigh, models.LayerA},
		{WeaklySupportedScale, models.SeverityLow, models.LayerA},
		{ScopeOverclaimPhrase, models.SeverityLow, models.LayerA},
		{ProceduralMeritsImplication, models.SeverityHigh, models.LayerA},
		{ProceduralMissingFraming, models.SeverityMedium, models.LayerA},
		{UngroundedDissentReference, models.SeverityHigh, models.LayerA},
		{AccuracyVsHolding, models.SeverityHigh, models.LayerB},
		{Hallucination, models.SeverityHigh, models.LayerB},
		{ScopeOverreach, models.SeverityMedium, models.LayerB},
		{ToneLabelMismatch, models.SeverityMedium, models.LayerB},
		{InsufficientGrounding, models.SeverityMedium, models.LayerInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, ok := r.Lookup(tt.name)
			require.True(t, ok)
			assert.Equal(t, tt.severity, s.Severity)
			assert.Equal(t, tt.layer, s.Layer)
		})
	}
}

func TestDefault_Weights(t *testing.T) {
	r := Default()
	assert.Equal(t, 100, r.Weight(UnsupportedScale))
	assert.Equal(t, 60, r.Weight(Hyperbole))
	assert.Equal(t, 20, r.Weight(ScopeOverclaimPhrase))
	assert.Equal(t, 0, r.Weight(InsufficientGrounding))
	assert.Equal(t, 0, r.Weight("nope"))
}

func TestNew_Validation(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)

	_, err = New("v1", TypeSpec{Name: "x", Layer: models.LayerA, Severity: "extreme"})
	assert.ErrorContains(t, err, "invalid severity")

	_, err = New("v1", TypeSpec{Name: "x", Layer: "C", Severity: models.SeverityLow})
	assert.ErrorContains(t, err, "invalid layer")

	_, err = New("v1",
		TypeSpec{Name: "x", Layer: models.LayerA, Severity: models.SeverityLow},
		TypeSpec{Name: "x", Layer: models.LayerA, Severity: models.SeverityLow},
	)
	assert.ErrorContains(t, err, "duplicate")
}

func TestNormalize_OverridesSeverity(t *testing.T) {
	r := Default()

	is, ok := r.Normalize(models.Issue{Type: Hallucination, Severity: models.SeverityLow})
	require.True(t, ok)
	assert.Equal(t, models.SeverityHigh, is.Severity)
	assert.Equal(t, models.LayerB, is.Layer)

	_, ok = r.Normalize(models.Issue{Type: "made_up"})
	assert.False(t, ok)
}

func TestVerdict(t *testing.T) {
	r := Default()

	assert.Equal(t, models.VerdictApprove, r.Verdict(nil))
	assert.Equal(t, models.VerdictFlag, r.Verdict([]models.Issue{r.NewIssue(Hyperbole)}))
	assert.Equal(t, models.VerdictReject, r.Verdict([]models.Issue{r.NewIssue(Hyperbole), r.NewIssue(UnsupportedScale)}))
	assert.Equal(t, models.VerdictFlag, r.Verdict([]models.Issue{r.NewIssue(InsufficientGrounding)}))
	assert.Equal(t, models.VerdictApprove, r.Verdict([]models.Issue{r.NewIssue(MissingGroundingForCheck)}))
}

func TestVerdict_CustomRegistry(t *testing.T) {
	r := MustNew("test",
		TypeSpec{Name: "loud", Layer: models.LayerA, Severity: models.SeverityHigh, AffectsVerdict: true},
	)
	// High but not reject-eligible only flags.
	assert.Equal(t, models.VerdictFlag, r.Verdict([]models.Issue{r.NewIssue("loud")}))
}

func TestTypesForLayer(t *testing.T) {
	r := Default()
	assert.Equal(t, []string{AccuracyVsHolding, Hallucination, ScopeOverreach, ToneLabelMismatch}, r.TypesForLayer(models.LayerB))
	assert.Len(t, r.TypesForLayer(models.LayerA), 7)
}

func TestNewIssue_PanicsOnUnknown(t *testing.T) {
	assert.Panics(t, func() { Default().NewIssue("unknown") })
}
