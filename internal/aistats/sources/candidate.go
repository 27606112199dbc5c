package sources

import (
	"strings"
	"time"
)

// GeoGlobal is the region code for candidates without a narrower scope.
const GeoGlobal = "GLOBAL"

// MaxBlurbRunes bounds BlurbSeed.
const MaxBlurbRunes = 200

// Candidate is the uniform record every adapter produces.
type Candidate struct {
	Title       string          `json:"title"`
	BlurbSeed   string          `json:"blurb_seed"`
	FullContent string          `json:"full_content,omitempty"`
	URL         string          `json:"url"`
	Source      string          `json:"source"`
	PublishedAt string          `json:"published_at"`
	Tags        []string        `json:"tags"`
	Geo         string          `json:"geo"`
	Confidence  float64         `json:"confidence"`
	Score       *float64        `json:"score,omitempty"`
	Breakdown   *ScoreBreakdown `json:"score_breakdown,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

// ScoreBreakdown records the weighted components behind Score.
type ScoreBreakdown struct {
	Density    float64 `json:"density"`
	Variety    float64 `json:"variety"`
	Frequency  float64 `json:"frequency"`
	Freshness  float64 `json:"freshness"`
	Authority  float64 `json:"authority"`
	Confidence float64 `json:"confidence"`
	Total      float64 `json:"total"`
}

// MatchText is the text keyword filtering and density scoring look at.
func (c Candidate) MatchText() string {
	return c.Title + " " + c.BlurbSeed
}

// Published parses PublishedAt.
func (c Candidate) Published() (time.Time, bool) {
	return ParsePublished(c.PublishedAt)
}

// Normalize enforces the candidate invariants. It reports false when the
// candidate has no usable title or source and must be dropped.
func Normalize(c Candidate) (Candidate, bool) {
	c.Title = collapseSpace(c.Title)
	c.Source = collapseSpace(c.Source)
	if c.Title == "" || c.Source == "" {
		return c, false
	}

	c.BlurbSeed = collapseSpace(c.BlurbSeed)
	if c.BlurbSeed == "" {
		if full := collapseSpace(c.FullContent); full != "" {
			c.BlurbSeed = full
		} else {
			c.BlurbSeed = c.Title
		}
	}
	c.BlurbSeed = Truncate(c.BlurbSeed, MaxBlurbRunes)

	if c.Geo = strings.TrimSpace(c.Geo); c.Geo == "" {
		c.Geo = GeoGlobal
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}
	c.Confidence = clamp01(c.Confidence)
	return c, true
}

// NormalizeAll normalizes cands in place order and drops invalid ones.
func NormalizeAll(cands []Candidate) []Candidate {
	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if n, ok := Normalize(c); ok {
			out = append(out, n)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v != v, v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// baseCandidate carries the source-derived fields every adapter sets.
func baseCandidate(src Source, confidence float64) Candidate {
	tags := make([]string, len(src.Tags))
	copy(tags, src.Tags)
	return Candidate{
		Source:     src.Name,
		Tags:       tags,
		Geo:        src.Param("geo", GeoGlobal),
		Confidence: confidence,
	}
}
