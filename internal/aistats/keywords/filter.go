package keywords

import "github.com/RobinCoderZhao/aistats/internal/aistats/sources"

// Filter keeps candidates whose title and blurb contain any keyword. An
// empty keyword list returns the input unchanged. The keywords are used as
// given and are never expanded here.
func Filter(cands []sources.Candidate, keywords []string) []sources.Candidate {
	if len(keywords) == 0 {
		return cands
	}
	m := NewMatcher(keywords)
	if m.Len() == 0 {
		return cands
	}
	return FilterWith(m, cands)
}

// FilterWith filters using a prebuilt matcher.
func FilterWith(m *Matcher, cands []sources.Candidate) []sources.Candidate {
	out := make([]sources.Candidate, 0, len(cands))
	for _, c := range cands {
		if m.MatchAny(c.MatchText()) {
			out = append(out, c)
		}
	}
	return out
}
