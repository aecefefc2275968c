// Package textutil has the string matching helpers shared by the
// deterministic validators and the LLM judge.
package textutil

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SplitSentences splits text after '.', '!' or '?' when followed by
// whitespace. Returned sentences are trimmed substrings of text.
func SplitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		if i+1 >= len(text) || !isSpace(text[i+1]) {
			continue
		}
		if s := strings.TrimSpace(text[start : i+1]); s != "" {
			out = append(out, s)
		}
		j := i + 1
		for j < len(text) && isSpace(text[j]) {
			j++
		}
		start = j
		i = j - 1
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

// FindSentence returns the first sentence of text for which match is true.
func FindSentence(text string, match func(string) bool) string {
	for _, s := range SplitSentences(text) {
		if match(s) {
			return s
		}
	}
	return ""
}

// NormalizePhrase lowercases s, turns every character other than ASCII word
// characters, whitespace and hyphens into a space, and collapses whitespace.
func NormalizePhrase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if r < utf8.RuneSelf && (r == '_' || r == '-' || unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// ContainsPhrase reports whether phrase appears in normText as whole words.
// Both arguments must already be normalized with NormalizePhrase.
func ContainsPhrase(normText, phrase string) bool {
	if phrase == "" {
		return false
	}
	return strings.Contains(" "+normText+" ", " "+phrase+" ")
}

// ContainsPhraseLenient is ContainsPhrase that also accepts the phrase as the
// head of a hyphenated compound ("millions-strong" contains "millions").
func ContainsPhraseLenient(normText, phrase string) bool {
	if ContainsPhrase(normText, phrase) {
		return true
	}
	return phrase != "" && strings.Contains(" "+normText, " "+phrase+"-")
}

var quoteReplacer = strings.NewReplacer(
	"‘", "'", "’", "'", "‚", "'", "‛", "'",
	"“", `"`, "”", `"`, "„", `"`, "‟", `"`,
)

// NormalizeForMatch straightens curly quotes and collapses whitespace.
func NormalizeForMatch(s string) string {
	return strings.Join(strings.Fields(quoteReplacer.Replace(s)), " ")
}

// ContainsNormalized reports whether needle is a substring of haystack after
// both are normalized with NormalizeForMatch and lowercased.
func ContainsNormalized(haystack, needle string) bool {
	n := strings.ToLower(NormalizeForMatch(needle))
	if n == "" {
		return false
	}
	return strings.Contains(strings.ToLower(NormalizeForMatch(haystack)), n)
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// HeadTail keeps the first head and last tail runes of s joined by sep when
// s is longer than max runes.
func HeadTail(s string, max, head, tail int, sep string) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:head]) + sep + string(r[len(r)-tail:])
}

// RuneLen is the number of runes in s.
func RuneLen(s string) int { return utf8.RuneCountInString(s) }
