// Package keywords expands seed keywords through an LLM and matches
// candidates against the resulting keyword set.
package keywords

import (
	"strings"

	"github.com/cloudflare/ahocorasick"
	"golang.org/x/text/unicode/norm"
)

// Normalize folds s for matching: NFKC then lower case.
func Normalize(s string) string {
	return strings.ToLower(norm.NFKC.String(s))
}

// Matcher finds keywords inside candidate text as raw substrings, so
// "cat" matches "category". It is safe for concurrent use.
type Matcher struct {
	keywords []string
	ac       *ahocorasick.Matcher
}

// Counts reports how a text matched.
type Counts struct {
	Distinct    int
	Occurrences int
	Matched     []string
}

// NewMatcher builds an automaton over the normalized, de-duplicated
// keywords. Blank keywords are ignored.
func NewMatcher(keywords []string) *Matcher {
	m := &Matcher{}
	seen := make(map[string]bool, len(keywords))
	for _, kw := range keywords {
		n := Normalize(strings.TrimSpace(kw))
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		m.keywords = append(m.keywords, n)
	}
	if len(m.keywords) > 0 {
		m.ac = ahocorasick.NewStringMatcher(m.keywords)
	}
	return m
}

// Len is the number of distinct keywords.
func (m *Matcher) Len() int { return len(m.keywords) }

// Keywords returns the normalized keyword list.
func (m *Matcher) Keywords() []string {
	return append([]string(nil), m.keywords...)
}

// MatchAny reports whether text contains at least one keyword.
func (m *Matcher) MatchAny(text string) bool {
	if m.ac == nil {
		return false
	}
	return len(m.ac.MatchThreadSafe([]byte(Normalize(text)))) > 0
}

// Count returns the distinct keywords found in text and their total
// non-overlapping occurrences.
func (m *Matcher) Count(text string) Counts {
	var c Counts
	if m.ac == nil {
		return c
	}
	norm := Normalize(text)
	for _, idx := range m.ac.MatchThreadSafe([]byte(norm)) {
		kw := m.keywords[idx]
		n := strings.Count(norm, kw)
		if n == 0 {
			continue
		}
		c.Distinct++
		c.Occurrences += n
		c.Matched = append(c.Matched, kw)
	}
	return c
}
