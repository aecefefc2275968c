package textutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitSentences(t *testing.T) {
	got := SplitSentences("The Court ruled. It was 5-4!  Was it close?\nYes")
	assert.Equal(t, []string{"The Court ruled.", "It was 5-4!", "Was it close?", "Yes"}, got)

	assert.Empty(t, SplitSentences("   "))
	assert.Equal(t, []string{"Under U.S.C.", "1983 it applies."}, SplitSentences("Under U.S.C. 1983 it applies."))
}

func TestSplitSentences_AreSubstrings(t *testing.T) {
	text := "First line.  Second line?\tThird."
	for _, s := range SplitSentences(text) {
		assert.True(t, strings.Contains(text, s), s)
	}
}

func TestNormalizePhrase(t *testing.T) {
	assert.Equal(t, "every american-made car", NormalizePhrase("Every   American-made car!"))
	assert.Equal(t, "it s moot", NormalizePhrase("It's moot."))
	assert.Equal(t, "", NormalizePhrase("..."))
}

func TestContainsPhrase(t *testing.T) {
	text := NormalizePhrase("Every American-made car is affected, across the country.")
	assert.False(t, ContainsPhrase(text, "every american"))
	assert.True(t, ContainsPhrase(text, "across the country"))
	assert.False(t, ContainsPhrase(text, ""))
}

func TestContainsPhraseLenient(t *testing.T) {
	text := NormalizePhrase("A millions-strong coalition filed briefs.")
	assert.False(t, ContainsPhrase(text, "millions"))
	assert.True(t, ContainsPhraseLenient(text, "millions"))
	assert.False(t, ContainsPhraseLenient(text, "thousands"))
}

func TestContainsNormalized(t *testing.T) {
	summary := "The Court said “no” to the   agency."
	assert.True(t, ContainsNormalized(summary, `said "no" to the agency`))
	assert.True(t, ContainsNormalized(summary, "the court SAID “No”"))
	assert.False(t, ContainsNormalized(summary, "said yes"))
	assert.False(t, ContainsNormalized(summary, "  "))
}

func TestTruncateAndHeadTail(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abcdef", 3))
	assert.Equal(t, "ab", Truncate("ab", 3))
	assert.Equal(t, "", Truncate("ab", 0))

	long := strings.Repeat("a", 10) + strings.Repeat("b", 10)
	assert.Equal(t, "aaa|bb", HeadTail(long, 5, 3, 2, "|"))
	assert.Equal(t, "short", HeadTail("short", 5, 3, 2, "|"))
}
