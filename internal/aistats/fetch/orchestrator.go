// Package fetch runs source adapters in bounded batches with per-source
// caching and failure isolation.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/RobinCoderZhao/aistats/internal/aistats/sources"
	"github.com/RobinCoderZhao/aistats/pkg/cache"
	"github.com/RobinCoderZhao/aistats/pkg/metrics"
)

// CacheNamespace prefixes every per-source cache key.
const CacheNamespace = "source"

// CachePrefix is what Registry.Refresh invalidates.
const CachePrefix = CacheNamespace + ":"

// Status is the outcome of fetching one source.
type Status string

const (
	StatusSuccess Status = "success"
	StatusEmpty   Status = "empty"
	StatusError   Status = "error"
)

// Config controls batching, timeouts and caching.
type Config struct {
	BatchSize int           `yaml:"batch_size" json:"batch_size" env:"AISTATS_FETCH_BATCH_SIZE"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout" env:"AISTATS_FETCH_TIMEOUT"`
	CacheTTL  time.Duration `yaml:"cache_ttl" json:"cache_ttl" env:"AISTATS_FETCH_CACHE_TTL"`
}

// DefaultConfig returns 10 sources per batch, 10s per request and a 30
// minute cache.
func DefaultConfig() Config {
	return Config{BatchSize: 10, Timeout: 10 * time.Second, CacheTTL: 30 * time.Minute}
}

// SourceResult is the per-source diagnostic record.
type SourceResult struct {
	Source          sources.Source      `json:"source"`
	Status          Status              `json:"status"`
	Candidates      []sources.Candidate `json:"candidates"`
	CandidatesCount int                 `json:"candidates_count"`
	ErrorMessage    string              `json:"error,omitempty"`
	FetchTimeMS     int64               `json:"fetch_time_ms"`
	Cached          bool                `json:"cached"`
	Truncated       bool                `json:"truncated,omitempty"`

	err error
}

// Err returns the adapter error, if any.
func (r SourceResult) Err() error { return r.err }

// Result aggregates a whole fetch.
type Result struct {
	PerSource  []SourceResult
	Candidates []sources.Candidate
	Errors     []string
	// Fatal holds errors the caller must surface, such as a rejected
	// warehouse query. The other sources still contribute candidates.
	Fatal []error
}

// CacheHits counts sources served from cache.
func (r *Result) CacheHits() int {
	n := 0
	for _, s := range r.PerSource {
		if s.Cached {
			n++
		}
	}
	return n
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCache enables per-source result caching.
func WithCache(s cache.Store) Option {
	return func(o *Orchestrator) { o.cache = s }
}

// WithMetrics records fetch and cache metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// Orchestrator fetches sources through an adapter.
type Orchestrator struct {
	adapter sources.Adapter
	cfg     Config
	cache   cache.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates an Orchestrator. Zero config fields take their defaults.
func New(adapter sources.Adapter, cfg Config, opts ...Option) *Orchestrator {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.CacheTTL < 0 {
		cfg.CacheTTL = 0
	}
	o := &Orchestrator{adapter: adapter, cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Fetch processes srcs in batches. Within a batch feed and html sources run
// concurrently while api sources run one after another in a single
// goroutine, so rate-limited APIs never see parallel requests. Every batch
// waits for all of its work before the next starts. Results keep the order
// of srcs. Cached results are served without calling the adapter.
func (o *Orchestrator) Fetch(ctx context.Context, srcs []sources.Source) *Result {
	return o.fetch(ctx, srcs, true)
}

// Refresh is Fetch without cache reads: every source goes to its adapter and
// each non-empty result replaces the cached entry with a fresh TTL.
func (o *Orchestrator) Refresh(ctx context.Context, srcs []sources.Source) *Result {
	return o.fetch(ctx, srcs, false)
}

func (o *Orchestrator) fetch(ctx context.Context, srcs []sources.Source, useCache bool) *Result {
	results := make([]SourceResult, len(srcs))
	for start := 0; start < len(srcs); start += o.cfg.BatchSize {
		end := min(start+o.cfg.BatchSize, len(srcs))
		o.runBatch(ctx, srcs[start:end], results[start:end], useCache)
	}

	res := &Result{PerSource: results}
	for _, r := range results {
		res.Candidates = append(res.Candidates, r.Candidates...)
		if r.Status != StatusError {
			continue
		}
		res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", r.Source.Name, r.ErrorMessage))
		var qe *sources.QueryError
		if errors.As(r.err, &qe) {
			res.Fatal = append(res.Fatal, r.err)
		}
	}
	return res
}

func (o *Orchestrator) runBatch(ctx context.Context, batch []sources.Source, out []SourceResult, useCache bool) {
	var (
		wg  sync.WaitGroup
		api []int
	)
	for i, src := range batch {
		if useCache {
			if r, ok := o.lookup(ctx, src); ok {
				out[i] = r
				continue
			}
		}
		if src.Type == sources.TypeAPI {
			api = append(api, i)
			continue
		}
		wg.Add(1)
		go func(i int, src sources.Source) {
			defer wg.Done()
			out[i] = o.fetchOne(ctx, src)
		}(i, src)
	}
	if len(api) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, i := range api {
				out[i] = o.fetchOne(ctx, batch[i])
			}
		}()
	}
	wg.Wait()
}

func (o *Orchestrator) fetchOne(ctx context.Context, src sources.Source) (res SourceResult) {
	start := time.Now()
	res.Source = src
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("source adapter panicked", "source", src.Name, "panic", p)
			res = SourceResult{
				Source:       src,
				Status:       StatusError,
				ErrorMessage: fmt.Sprintf("panic: %v", p),
				err:          fmt.Errorf("adapter panic: %v", p),
			}
		}
		elapsed := time.Since(start)
		res.FetchTimeMS = elapsed.Milliseconds()
		o.metrics.ObserveSourceFetch(string(src.Kind), string(res.Status), elapsed)
	}()

	fctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	cands, err := o.adapter.Fetch(fctx, src)
	if err != nil {
		o.logger.Warn("source fetch failed", "source", src.Name, "kind", src.Kind, "error", err)
		res.Status = StatusError
		res.ErrorMessage = err.Error()
		res.err = err
		return res
	}

	res.Candidates = cands
	res.CandidatesCount = len(cands)
	if len(cands) == 0 {
		res.Status = StatusEmpty
		return res
	}
	res.Status = StatusSuccess
	o.store(ctx, src, cands)
	return res
}

func (o *Orchestrator) lookup(ctx context.Context, src sources.Source) (SourceResult, bool) {
	if o.cache == nil {
		return SourceResult{}, false
	}
	var cands []sources.Candidate
	ok, err := cache.GetJSON(ctx, o.cache, CacheKey(src), &cands)
	switch {
	case err != nil:
		o.metrics.ObserveCacheLookup("error")
		o.logger.Warn("source cache read failed", "source", src.Name, "error", err)
		return SourceResult{}, false
	case !ok || len(cands) == 0:
		o.metrics.ObserveCacheLookup("miss")
		return SourceResult{}, false
	}
	o.metrics.ObserveCacheLookup("hit")
	return SourceResult{
		Source:          src,
		Status:          StatusSuccess,
		Candidates:      cands,
		CandidatesCount: len(cands),
		Cached:          true,
	}, true
}

func (o *Orchestrator) store(ctx context.Context, src sources.Source, cands []sources.Candidate) {
	if o.cache == nil {
		return
	}
	if err := cache.SetJSON(ctx, o.cache, CacheKey(src), cands, o.cfg.CacheTTL); err != nil {
		o.logger.Warn("source cache write failed", "source", src.Name, "error", err)
	}
}

// CacheKey identifies a source's cached result. Params are part of the key
// because several sources share one URL template.
func CacheKey(src sources.Source) string {
	kind := src.Kind
	if kind == "" {
		kind = sources.DefaultKind(src.Type)
	}
	parts := []string{string(kind) + src.URL}
	if len(src.Params) > 0 {
		keys := make([]string, 0, len(src.Params))
		for k := range src.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for _, k := range keys {
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(src.Params[k])
			b.WriteByte('&')
		}
		parts = append(parts, b.String())
	}
	return cache.Key(CacheNamespace, parts...)
}
