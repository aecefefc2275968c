package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/qagate/internal/models"
)

const subjectsJSONL = `{"content_id": "c1", "case_name": "Doe v. Roe", "summary_text": "The Court struck down the statute.", "impact_level": 3, "label": "procedural", "facts": {"merits_reached": false}}
{"content_id": "c2", "case_name": "Poe v. Ullman", "summary_text": "The appeal was dismissed for lack of standing.", "impact_level": 1, "label": "procedural", "grounding": {"holding": "The appeal was dismissed for lack of standing."}, "facts": {"merits_reached": false}}
`

func TestDecodeSubjects(t *testing.T) {
	got, err := decodeSubjects(strings.NewReader(subjectsJSONL))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c2", got[1].ContentID)
	require.NotNil(t, got[0].Facts.MeritsReached)
	assert.False(t, *got[0].Facts.MeritsReached)

	got, err = decodeSubjects(strings.NewReader(`  [{"content_id": "a"}, {"content_id": "b"}]`))
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = decodeSubjects(strings.NewReader(`{"content_id": "only"}`))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "only", got[0].ContentID)

	_, err = decodeSubjects(strings.NewReader("  \n"))
	assert.Error(t, err)

	_, err = decodeSubjects(strings.NewReader(`{"content_id": "a"} {broken`))
	assert.ErrorContains(t, err, "subject 2")
}

func TestParseSince(t *testing.T) {
	got, err := parseSince("")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = parseSince("2025-03-01")
	require.NoError(t, err)
	assert.Equal(t, "2025-03-01T00:00:00Z", got.Format("2006-01-02T15:04:05Z07:00"))

	_, err = parseSince("2025-03-01T10:00:00+02:00")
	require.NoError(t, err)

	_, err = parseSince("last week")
	assert.Error(t, err)
}

func TestParseVerdicts(t *testing.T) {
	got, err := parseVerdicts([]string{"reject", " Flag "})
	require.NoError(t, err)
	assert.Equal(t, []models.Verdict{models.VerdictReject, models.VerdictFlag}, got)

	_, err = parseVerdicts([]string{"MAYBE"})
	assert.Error(t, err)
}

func TestParseTriState(t *testing.T) {
	v, err := parseTriState("x", "")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = parseTriState("x", "False")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.False(t, *v)

	_, err = parseTriState("merits-reached", "maybe")
	assert.ErrorContains(t, err, "--merits-reached")
}

// resetFlags restores command flag variables a test changed.
func resetFlags(t *testing.T) {
	t.Cleanup(func() {
		batchVerdicts, batchSince, batchNeedsQA, batchIDs, batchLimit, batchActor, batchRun, batchJSON = nil, "", false, nil, 0, "", false, false
		overrideFrom, overrideTo, overrideReason, overrideDismissed, overrideGold, overrideActor = "", "", "", nil, false, ""
		lintText, lintLabel, lintMerits, lintJudge, lintFix, lintJSON = "", "", "", false, false, false
		lintImpact = 1
		historyJSON = false
		historyLimit = 20
	})
}

func TestImportBatchOverrideHistory(t *testing.T) {
	dir := testEnv(t)
	resetFlags(t)
	t.Setenv("ANTHROPIC_API_KEY", "")

	path := filepath.Join(dir, "subjects.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(subjectsJSONL), 0o644))
	require.NoError(t, subjectImportRun(path))

	st, err := getStore()
	require.NoError(t, err)
	ctx := commandContext()
	_, err = st.GetSubject(ctx, "c1")
	require.NoError(t, err)

	batchNeedsQA = true
	batchRun = true
	require.NoError(t, batchCreateRun())

	c1, err := st.GetSubject(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.VerdictReject, c1.QA.Verdict)
	assert.Equal(t, models.PublishStateBlocked, c1.QA.PublishState)

	c2, err := st.GetSubject(ctx, "c2")
	require.NoError(t, err)
	assert.NotEmpty(t, c2.QA.InputHash)

	// Nothing left to check.
	err = batchCreateRun()
	assert.ErrorContains(t, err, "no subjects match")

	overrideFrom = "reject"
	overrideTo = "approve"
	overrideReason = "Merits language matches the holding."
	overrideActor = "editor-1"
	require.NoError(t, overrideRun("c1"))

	c1, err = st.GetSubject(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.VerdictApprove, c1.QA.Verdict)

	var buf bytes.Buffer
	ui.Out = &buf
	historyJSON = true
	require.NoError(t, historyRun("c1"))
	assert.Contains(t, buf.String(), "Override: REJECT -> APPROVE")
	assert.Contains(t, buf.String(), "qa_run")
}

func TestOverrideRun_InvalidRequest(t *testing.T) {
	testEnv(t)
	resetFlags(t)

	overrideFrom = "REJECT"
	overrideTo = "REVIEW"
	overrideReason = "Not allowed as a target."
	err := overrideRun("c1")
	assert.ErrorContains(t, err, "override verdict")
}

func TestLintRun_FromFlags(t *testing.T) {
	testEnv(t)
	resetFlags(t)
	var buf bytes.Buffer
	ui.Out = &buf

	lintText = "The Court struck down the statute."
	lintImpact = 3
	lintLabel = "procedural"
	lintMerits = "false"
	require.NoError(t, lintRun(""))
	assert.Contains(t, buf.String(), "REJECT")
	assert.Contains(t, buf.String(), "procedural_merits_implication")

	lintText = ""
	assert.Error(t, lintRun(""))
}

func TestRunSingle_Wait(t *testing.T) {
	dir := testEnv(t)
	resetFlags(t)
	t.Setenv("ANTHROPIC_API_KEY", "")

	path := filepath.Join(dir, "subjects.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(subjectsJSONL), 0o644))
	require.NoError(t, subjectImportRun(path))

	runWait = true
	t.Cleanup(func() { runWait = false })
	var buf bytes.Buffer
	ui.Out = &buf
	require.NoError(t, runSingleRun("c2"))
	assert.Contains(t, buf.String(), "completed")

	assert.Error(t, runSingleRun("missing"))
}
