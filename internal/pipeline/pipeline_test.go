package pipeline

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/qagate/internal/fixloop"
	"github.com/joescharf/qagate/internal/issues"
	"github.com/joescharf/qagate/internal/judge"
	"github.com/joescharf/qagate/internal/llm"
	"github.com/joescharf/qagate/internal/models"
	"github.com/joescharf/qagate/internal/validators"
	"github.com/joescharf/qagate/internal/verdict"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeJudge struct {
	verdict *models.Verdict
	issues  []models.Issue
	seenA   [][]models.Issue
}

func (f *fakeJudge) Evaluate(_ context.Context, _ *models.Subject, layerA []models.Issue) *judge.Result {
	f.seenA = append(f.seenA, layerA)
	return &judge.Result{Verdict: f.verdict, Issues: f.issues, Outcome: judge.OK{}, Usage: llm.Usage{InputTokens: 500, OutputTokens: 40}}
}

type fakeRegen struct{ text string }

func (f *fakeRegen) Regenerate(context.Context, *models.Subject, string) (*llm.Regeneration, error) {
	return &llm.Regeneration{SummaryText: f.text}, nil
}

func vp(v models.Verdict) *models.Verdict { return &v }

func newTestPipeline(t *testing.T, j Judge, loop *fixloop.Loop) *Pipeline {
	t.Helper()
	reg := issues.Default()
	v, err := validators.New(reg, validators.DefaultRules())
	require.NoError(t, err)
	p, err := New(reg, v, j, verdict.DefaultPolicy(), loop, quiet)
	require.NoError(t, err)
	return p
}

func proceduralSubject(summary string) *models.Subject {
	return &models.Subject{
		ContentID:   "c1",
		SummaryText: summary,
		ImpactLevel: 3,
		Label:       "procedural",
		Grounding:   models.Grounding{Holding: "The petition was dismissed for lack of standing."},
		Facts:       models.Facts{MeritsReached: models.BoolPtr(false)},
	}
}

func TestCheck_LayerARejectStandsOverJudgeApprove(t *testing.T) {
	j := &fakeJudge{verdict: vp(models.VerdictApprove)}
	p := newTestPipeline(t, j, nil)

	pass, err := p.Check(context.Background(), proceduralSubject("The Court struck down the statute."))
	require.NoError(t, err)
	assert.Equal(t, models.VerdictReject, pass.LayerA.Verdict)
	assert.Equal(t, models.VerdictReject, pass.Fusion.Verdict)
	require.Len(t, j.seenA, 1)
	assert.NotEmpty(t, j.seenA[0], "judge sees Layer A findings")
}

func TestCheck_NoJudgeIsLayerAOnly(t *testing.T) {
	p := newTestPipeline(t, nil, nil)

	pass, err := p.Check(context.Background(), proceduralSubject("The case was dismissed for lack of standing."))
	require.NoError(t, err)
	assert.Equal(t, models.VerdictApprove, pass.Fusion.Verdict)
	assert.Nil(t, pass.Fusion.LayerB)
	assert.Nil(t, pass.Judge)
}

func TestCheck_JudgeNoDecisionFallsBack(t *testing.T) {
	j := &fakeJudge{verdict: nil}
	p := newTestPipeline(t, j, nil)

	pass, err := p.Check(context.Background(), proceduralSubject("The case was dismissed for lack of standing."))
	require.NoError(t, err)
	assert.Equal(t, models.VerdictApprove, pass.Fusion.Verdict)
}

func TestCheck_EmptySummary(t *testing.T) {
	p := newTestPipeline(t, nil, nil)
	_, err := p.Check(context.Background(), &models.Subject{ContentID: "x"})
	assert.Error(t, err)
}

func TestRun_FixLoopRepairsProceduralSummary(t *testing.T) {
	reg := issues.Default()
	j := &fakeJudge{verdict: vp(models.VerdictApprove)}
	loop := fixloop.New(reg, &fakeRegen{text: "The petition was dismissed for lack of standing."}, 1, quiet)
	p := newTestPipeline(t, j, loop)

	run, err := p.Run(context.Background(), proceduralSubject("The Court struck down the statute."))
	require.NoError(t, err)
	assert.Equal(t, models.VerdictApprove, run.Fusion.Verdict)
	assert.Equal(t, models.VerdictReject, run.Fix.Initial.Verdict)
	assert.Equal(t, "The petition was dismissed for lack of standing.", run.SummaryText)
	assert.Equal(t, models.VerdictApprove, run.LayerA.Verdict)
	assert.Equal(t, int64(1000), run.Usage.InputTokens, "two judge passes")
}

func TestRun_UnfixableScaleNotRetried(t *testing.T) {
	reg := issues.Default()
	j := &fakeJudge{verdict: vp(models.VerdictApprove)}
	regen := &fakeRegen{text: "unused"}
	loop := fixloop.New(reg, regen, 3, quiet)
	p := newTestPipeline(t, j, loop)

	s := proceduralSubject("The case was dismissed. Millions of people are affected.")
	run, err := p.Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, models.VerdictReject, run.Fusion.Verdict)
	assert.Equal(t, fixloop.StopUnfixableIssue, run.Fix.StopReason)
	assert.True(t, strings.HasPrefix(run.SummaryText, "The case was dismissed."))
}
