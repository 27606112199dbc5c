// Package pipeline wires registry lookup, fetching, keyword expansion,
// filtering and scoring into the candidate pipeline.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/RobinCoderZhao/aistats/internal/aistats/fetch"
	"github.com/RobinCoderZhao/aistats/internal/aistats/keywords"
	"github.com/RobinCoderZhao/aistats/internal/aistats/registry"
	"github.com/RobinCoderZhao/aistats/internal/aistats/scoring"
	"github.com/RobinCoderZhao/aistats/internal/aistats/sources"
	"github.com/RobinCoderZhao/aistats/pkg/metrics"
)

// DefaultLimit is used when a query does not set one.
const DefaultLimit = 10

// Debug lists longer than truncateAbove are cut to truncateTo.
const (
	truncateAbove = 500
	truncateTo    = 100
)

// ErrUnknownMode is returned for a mode the registry does not know.
var ErrUnknownMode = registry.ErrUnknownMode

// Query selects and ranks candidates.
type Query struct {
	Mode     string   `json:"mode"`
	Tags     []string `json:"tags,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
	Limit    int      `json:"limit,omitempty"`
}

// SourceLister is the registry view the pipeline needs.
type SourceLister interface {
	HasMode(mode string) bool
	SourcesForMode(mode string) []sources.Source
}

// Fetcher fetches a list of sources.
type Fetcher interface {
	Fetch(ctx context.Context, srcs []sources.Source) *fetch.Result
}

// Expander expands seed keywords.
type Expander interface {
	Expand(ctx context.Context, seeds []string) keywords.Expansion
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics records stage sizes and run outcomes.
func WithMetrics(m *metrics.Metrics) Option { return func(p *Pipeline) { p.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(p *Pipeline) { p.logger = l } }

// WithDefaultLimit sets the limit used when a query has none.
func WithDefaultLimit(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.defaultLimit = n
		}
	}
}

// Pipeline is safe for concurrent use when its collaborators are.
type Pipeline struct {
	registry SourceLister
	fetcher  Fetcher
	expander Expander
	scorer   *scoring.Scorer
	metrics  *metrics.Metrics
	logger   *slog.Logger

	defaultLimit int
}

// New creates a Pipeline. expander may be nil, in which case keywords are
// used as given.
func New(reg SourceLister, f Fetcher, exp Expander, scorer *scoring.Scorer, opts ...Option) *Pipeline {
	if scorer == nil {
		scorer = scoring.New()
	}
	p := &Pipeline{registry: reg, fetcher: f, expander: exp, scorer: scorer, logger: slog.Default(), defaultLimit: DefaultLimit}
	for _, o := range opts {
		o(p)
	}
	return p
}

// FetchCandidates returns the top candidates for q. A rejected warehouse
// query is returned together with the ranked candidates from every other
// source.
func (p *Pipeline) FetchCandidates(ctx context.Context, q Query) ([]sources.Candidate, error) {
	run, err := p.execute(ctx, q, "candidates")
	if run == nil {
		return nil, err
	}
	return run.FinalCandidates, err
}

// FetchCandidatesDebug runs the same stages as FetchCandidates and keeps
// every intermediate list. Lists above 500 entries are cut to 100 and
// flagged; the counts in Performance always report the true sizes.
func (p *Pipeline) FetchCandidatesDebug(ctx context.Context, q Query) (*Run, error) {
	run, err := p.execute(ctx, q, "debug")
	if run == nil {
		return nil, err
	}
	run.truncate()
	return run, err
}

func (p *Pipeline) execute(ctx context.Context, q Query, entry string) (*Run, error) {
	start := time.Now()
	if !p.registry.HasMode(q.Mode) {
		p.metrics.ObserveRun(entry, "unknown_mode", time.Since(start))
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, q.Mode)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = p.defaultLimit
	}

	run := &Run{
		RunID:        uuid.NewString(),
		Mode:         q.Mode,
		SeedKeywords: nonNil(q.Keywords),
		Tags:         nonNil(q.Tags),
	}
	srcs := filterByTags(p.registry.SourcesForMode(q.Mode), q.Tags)

	t := time.Now()
	res := p.fetcher.Fetch(ctx, srcs)
	run.Performance.FetchMS = time.Since(t).Milliseconds()
	run.PerSource = res.PerSource
	run.AllCandidates = nonNilCandidates(res.Candidates)
	run.Errors = append([]string{}, res.Errors...)
	run.Performance.countSources(res)
	p.metrics.ObserveStage("fetched", len(run.AllCandidates))

	run.ExpandedKeywords = run.SeedKeywords
	if len(q.Keywords) > 0 && p.expander != nil {
		t = time.Now()
		exp := p.expander.Expand(ctx, q.Keywords)
		run.Performance.ExpandMS = time.Since(t).Milliseconds()
		run.Expansion = &exp
		if len(exp.Expanded) > 0 {
			run.ExpandedKeywords = exp.Expanded
		}
		if !exp.Success && exp.Error != "" {
			run.Errors = append(run.Errors, "keyword expansion: "+exp.Error)
		}
	}

	replay := p.rescore(run.AllCandidates, run.ExpandedKeywords, q.Mode, limit, &run.Performance)
	run.FilteredCandidates = replay.Filtered
	run.RankedCandidates = replay.Ranked
	run.FinalCandidates = replay.Final
	p.metrics.ObserveStage("filtered", len(run.FilteredCandidates))
	p.metrics.ObserveStage("final", len(run.FinalCandidates))

	run.Performance.NormalisedCount = len(run.AllCandidates)
	run.Performance.FilteredCount = len(run.FilteredCandidates)
	run.Performance.RankedCount = len(run.RankedCandidates)
	run.Performance.FinalCount = len(run.FinalCandidates)
	run.Performance.TotalMS = time.Since(start).Milliseconds()

	var err error
	outcome := "ok"
	if len(res.Fatal) > 0 {
		err = errors.Join(res.Fatal...)
		outcome = "query_error"
	}
	p.metrics.ObserveRun(entry, outcome, time.Since(start))
	p.logger.Info("pipeline run finished",
		"run_id", run.RunID,
		"mode", q.Mode,
		"sources", len(srcs),
		"candidates", run.Performance.NormalisedCount,
		"filtered", run.Performance.FilteredCount,
		"final", run.Performance.FinalCount,
		"errors", len(run.Errors),
		"duration", time.Since(start),
	)
	return run, err
}

func filterByTags(srcs []sources.Source, tags []string) []sources.Source {
	if len(tags) == 0 {
		return srcs
	}
	out := make([]sources.Source, 0, len(srcs))
	for _, s := range srcs {
		for _, tag := range tags {
			if s.HasTag(tag) {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilCandidates(c []sources.Candidate) []sources.Candidate {
	if c == nil {
		return []sources.Candidate{}
	}
	return c
}
