// Package textnorm normalizes free text into the lowercase token form shared by
// trigger matching, focus-area overlap and workflow precondition checks.
package textnorm

import (
	"strings"
	"unicode"
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "in": {}, "into": {}, "is": {}, "it": {}, "its": {},
	"of": {}, "on": {}, "or": {}, "so": {}, "that": {}, "the": {}, "this": {},
	"to": {}, "use": {}, "when": {}, "with": {}, "also": {}, "you": {}, "your": {},
}

// Normalize lowercases s, turns every rune that is not a letter, digit or
// underscore into a space and collapses runs of whitespace.
func Normalize(s string) string {
	return normalize(s, false)
}

// NormalizePattern is Normalize for trigger patterns: the glob wildcards
// '*' and '?' are kept as word characters.
func NormalizePattern(s string) string {
	return normalize(s, true)
}

func normalize(s string, wildcards bool) string {
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || (wildcards && (r == '*' || r == '?')) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// Tokens returns the normalized tokens of s.
func Tokens(s string) []string {
	return strings.Fields(Normalize(s))
}

// Keywords returns the distinct non-stopword tokens of s in first-seen order.
func Keywords(s string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, tok := range Tokens(s) {
		if IsStopword(tok) {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

// IsStopword reports whether tok carries no matching signal.
func IsStopword(tok string) bool {
	_, ok := stopwords[tok]
	return ok
}

// ContainsPhrase reports whether the normalized phrase occurs in the
// normalized text on token boundaries.
func ContainsPhrase(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	return strings.Contains(" "+text+" ", " "+phrase+" ")
}
