// Package scoring ranks candidates by keyword density, freshness, source
// authority and adapter confidence.
package scoring

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/RobinCoderZhao/aistats/internal/aistats/keywords"
	"github.com/RobinCoderZhao/aistats/internal/aistats/sources"
)

// Component ceilings. They sum to 110.
const (
	MaxVariety    = 25.0
	MaxFrequency  = 25.0
	MaxDensity    = MaxVariety + MaxFrequency
	MaxFreshness  = 30.0
	MaxAuthority  = 20.0
	MaxConfidence = 10.0
	MaxTotal      = MaxDensity + MaxFreshness + MaxAuthority + MaxConfidence
)

// DefaultMode keys the allow-list used for modes without their own.
const DefaultMode = "default"

// DefaultAuthority lists trusted publisher names per mode. Entries match as
// case-insensitive substrings of Candidate.Source.
var DefaultAuthority = map[string][]string{
	"statistics": {"ons", "office for national statistics", "bureau of labor statistics", "eurostat", "data.gov", "pew research", "our world in data", "statista"},
	"trends":     {"google trends", "hacker news", "techcrunch", "the verge", "wired", "ars technica", "google news", "bbc"},
	"tech":       {"search engine land", "search engine journal", "moz", "google search central", "mit technology review", "smashing magazine", "github", "cloudflare"},
	"industry":   {"marketing week", "campaign", "hubspot", "content marketing institute", "econsultancy", "think with google", "emarketer", "bbc business", "federal reserve"},
	"seasonal":   {"nager.date", "national today", "days of the year"},
	"benchmarks": {"mailchimp", "wordstream", "http archive", "baymard", "backlinko", "ofcom", "statcounter"},
	DefaultMode:  {"ons", "bbc", "reuters", "statista", "google", "pew research"},
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithAuthority replaces or extends the allow-lists for the given modes.
func WithAuthority(lists map[string][]string) Option {
	return func(s *Scorer) {
		for mode, names := range lists {
			s.authority[mode] = lowerAll(names)
		}
	}
}

// WithClock sets the time freshness is measured against.
func WithClock(now func() time.Time) Option {
	return func(s *Scorer) { s.now = now }
}

// Scorer computes candidate scores. It is safe for concurrent use.
type Scorer struct {
	authority map[string][]string
	now       func() time.Time
}

// New creates a Scorer with the built-in allow-lists.
func New(opts ...Option) *Scorer {
	s := &Scorer{authority: make(map[string][]string, len(DefaultAuthority)), now: time.Now}
	for mode, names := range DefaultAuthority {
		s.authority[mode] = lowerAll(names)
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Score returns a scored copy of cands sorted by descending score. Ties
// keep their input order. keywords must already be expanded.
func (s *Scorer) Score(cands []sources.Candidate, kws []string, mode string) []sources.Candidate {
	return s.ScoreWith(keywords.NewMatcher(kws), cands, mode)
}

// ScoreWith scores using a prebuilt matcher.
func (s *Scorer) ScoreWith(m *keywords.Matcher, cands []sources.Candidate, mode string) []sources.Candidate {
	now := s.now()
	out := make([]sources.Candidate, len(cands))
	for i, c := range cands {
		b := s.breakdown(m, c, mode, now)
		total := b.Total
		c.Score = &total
		c.Breakdown = &b
		out[i] = c
	}
	sort.SliceStable(out, func(i, j int) bool { return *out[i].Score > *out[j].Score })
	return out
}

// Breakdown scores a single candidate.
func (s *Scorer) Breakdown(c sources.Candidate, kws []string, mode string) sources.ScoreBreakdown {
	return s.breakdown(keywords.NewMatcher(kws), c, mode, s.now())
}

func (s *Scorer) breakdown(m *keywords.Matcher, c sources.Candidate, mode string, now time.Time) sources.ScoreBreakdown {
	var b sources.ScoreBreakdown
	if m.Len() > 0 {
		counts := m.Count(c.MatchText())
		b.Variety = math.Min(MaxVariety, float64(counts.Distinct)/float64(m.Len())*MaxVariety)
		b.Frequency = math.Min(MaxFrequency, float64(counts.Occurrences)*2)
		b.Density = b.Variety + b.Frequency
	}
	b.Freshness = Freshness(c.PublishedAt, now)
	b.Authority = s.Authority(c.Source, mode)
	b.Confidence = clamp01(c.Confidence) * MaxConfidence
	b.Total = b.Density + b.Freshness + b.Authority + b.Confidence
	return b
}

// Freshness maps age to 30 (<1 day), 20 (<7 days), 10 (<30 days) or 0.
// Missing or unparseable dates score 0; future dates count as brand new.
func Freshness(published string, now time.Time) float64 {
	t, ok := sources.ParsePublished(published)
	if !ok {
		return 0
	}
	age := now.Sub(t)
	if age < 0 {
		age = 0
	}
	switch {
	case age < 24*time.Hour:
		return 30
	case age < 7*24*time.Hour:
		return 20
	case age < 30*24*time.Hour:
		return 10
	}
	return 0
}

// Authority awards 20 when source contains any allow-listed name for mode.
// Unknown modes use the default list.
func (s *Scorer) Authority(source, mode string) float64 {
	list, ok := s.authority[mode]
	if !ok {
		list = s.authority[DefaultMode]
	}
	src := strings.ToLower(source)
	for _, name := range list {
		if name != "" && strings.Contains(src, name) {
			return MaxAuthority
		}
	}
	return 0
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
