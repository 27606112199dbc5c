package pipeline

import (
	"time"

	"github.com/RobinCoderZhao/aistats/internal/aistats/fetch"
	"github.com/RobinCoderZhao/aistats/internal/aistats/keywords"
	"github.com/RobinCoderZhao/aistats/internal/aistats/sources"
)

// Run is the full trace of one pipeline execution.
type Run struct {
	RunID            string               `json:"run_id"`
	Mode             string               `json:"mode"`
	Tags             []string             `json:"tags"`
	SeedKeywords     []string             `json:"seed_keywords"`
	ExpandedKeywords []string             `json:"expanded_keywords"`
	Expansion        *keywords.Expansion  `json:"expansion_metadata,omitempty"`
	PerSource        []fetch.SourceResult `json:"per_source_results"`

	AllCandidates               []sources.Candidate `json:"all_candidates"`
	AllCandidatesTruncated      bool                `json:"all_candidates_truncated"`
	FilteredCandidates          []sources.Candidate `json:"filtered_candidates"`
	FilteredCandidatesTruncated bool                `json:"filtered_candidates_truncated"`
	RankedCandidates            []sources.Candidate `json:"ranked_candidates"`
	RankedCandidatesTruncated   bool                `json:"ranked_candidates_truncated"`
	FinalCandidates             []sources.Candidate `json:"final_candidates"`

	Errors      []string    `json:"errors"`
	Performance Performance `json:"performance"`
}

// Performance holds timings and true stage sizes.
type Performance struct {
	TotalMS  int64 `json:"total_ms"`
	FetchMS  int64 `json:"fetch_ms"`
	ExpandMS int64 `json:"expand_ms"`
	FilterMS int64 `json:"filter_ms"`
	ScoreMS  int64 `json:"score_ms"`

	SourcesTotal     int `json:"sources_total"`
	SourcesSucceeded int `json:"sources_succeeded"`
	SourcesEmpty     int `json:"sources_empty"`
	SourcesFailed    int `json:"sources_failed"`
	CacheHits        int `json:"cache_hits"`

	NormalisedCount int `json:"normalised_count"`
	FilteredCount   int `json:"filtered_count"`
	RankedCount     int `json:"ranked_count"`
	FinalCount      int `json:"final_count"`
}

func (p *Performance) countSources(res *fetch.Result) {
	p.SourcesTotal = len(res.PerSource)
	p.CacheHits = res.CacheHits()
	for _, r := range res.PerSource {
		switch r.Status {
		case fetch.StatusSuccess:
			p.SourcesSucceeded++
		case fetch.StatusEmpty:
			p.SourcesEmpty++
		case fetch.StatusError:
			p.SourcesFailed++
		}
	}
}

// truncate cuts oversized lists for transport. Counts are left alone.
func (r *Run) truncate() {
	r.AllCandidates, r.AllCandidatesTruncated = cut(r.AllCandidates)
	r.FilteredCandidates, r.FilteredCandidatesTruncated = cut(r.FilteredCandidates)
	r.RankedCandidates, r.RankedCandidatesTruncated = cut(r.RankedCandidates)
	per := make([]fetch.SourceResult, len(r.PerSource))
	for i, s := range r.PerSource {
		s.Candidates, s.Truncated = cut(s.Candidates)
		per[i] = s
	}
	r.PerSource = per
}

func cut(c []sources.Candidate) ([]sources.Candidate, bool) {
	if len(c) > truncateAbove {
		return c[:truncateTo], true
	}
	return c, false
}

// Replay is the result of re-running filter and score on a stored
// candidate snapshot.
type Replay struct {
	Keywords      []string            `json:"keywords"`
	Filtered      []sources.Candidate `json:"filtered_candidates"`
	Ranked        []sources.Candidate `json:"ranked_candidates"`
	Final         []sources.Candidate `json:"final_candidates"`
	FilteredCount int                 `json:"filtered_count"`
	RankedCount   int                 `json:"ranked_count"`
	FinalCount    int                 `json:"final_count"`
}

// Rescore filters and scores all with already-expanded keywords without
// fetching or expanding again. It is the same code the live path runs, so
// a replay of a debug snapshot reproduces the live ranking.
func (p *Pipeline) Rescore(all []sources.Candidate, expanded []string, mode string, limit int) Replay {
	if limit <= 0 {
		limit = p.defaultLimit
	}
	return p.rescore(all, expanded, mode, limit, nil)
}

func (p *Pipeline) rescore(all []sources.Candidate, kws []string, mode string, limit int, perf *Performance) Replay {
	clean := make([]sources.Candidate, len(all))
	for i, c := range all {
		c.Score, c.Breakdown = nil, nil
		clean[i] = c
	}

	t := time.Now()
	m := keywords.NewMatcher(kws)
	filtered := clean
	if len(kws) > 0 && m.Len() > 0 {
		filtered = keywords.FilterWith(m, clean)
	}
	filterMS := time.Since(t).Milliseconds()

	t = time.Now()
	ranked := p.scorer.ScoreWith(m, filtered, mode)
	scoreMS := time.Since(t).Milliseconds()
	if perf != nil {
		perf.FilterMS = filterMS
		perf.ScoreMS = scoreMS
	}

	final := ranked
	if len(final) > limit {
		final = final[:limit]
	}
	return Replay{
		Keywords:      nonNil(kws),
		Filtered:      filtered,
		Ranked:        ranked,
		Final:         final,
		FilteredCount: len(filtered),
		RankedCount:   len(ranked),
		FinalCount:    len(final),
	}
}
