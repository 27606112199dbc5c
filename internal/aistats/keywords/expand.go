package keywords

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/RobinCoderZhao/aistats/pkg/cache"
	"github.com/RobinCoderZhao/aistats/pkg/llm"
	"github.com/RobinCoderZhao/aistats/pkg/metrics"
)

// CacheNamespace prefixes memoised per-keyword expansions.
const CacheNamespace = "expansion"

// PromptTemplate is sent once per seed keyword; {keyword} is replaced.
const PromptTemplate = `Expand the keyword "{keyword}" into its top 10 synonyms and closely related search phrases, ranked by relevance. Respond with one comma-separated list and no extra text.`

// Config tunes expansion.
type Config struct {
	Temperature   float64       `yaml:"temperature" json:"temperature"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout" env:"AISTATS_EXPANSION_TIMEOUT"`
	MaxPerKeyword int           `yaml:"max_per_keyword" json:"max_per_keyword"`
	MaxTokens     int           `yaml:"max_tokens" json:"max_tokens"`
	CacheTTL      time.Duration `yaml:"cache_ttl" json:"cache_ttl" env:"AISTATS_EXPANSION_CACHE_TTL"`
}

// DefaultConfig returns temperature 0.3, a 30s timeout, 10 terms per
// keyword and a 24h memo.
func DefaultConfig() Config {
	return Config{Temperature: 0.3, Timeout: 30 * time.Second, MaxPerKeyword: 10, MaxTokens: 200, CacheTTL: 24 * time.Hour}
}

// Expansion is the result of expanding a keyword set.
type Expansion struct {
	Original   []string            `json:"original"`
	Expanded   []string            `json:"expanded"`
	PromptUsed string              `json:"prompt_used"`
	Provider   string              `json:"provider"`
	Model      string              `json:"model"`
	Success    bool                `json:"success"`
	Error      string              `json:"error,omitempty"`
	PerKeyword map[string][]string `json:"per_keyword,omitempty"`
	FromCache  int                 `json:"from_cache"`
}

// Option configures an Expander.
type Option func(*Expander)

// WithCache memoises successful per-keyword expansions.
func WithCache(s cache.Store) Option { return func(e *Expander) { e.cache = s } }

// WithMetrics counts expansion outcomes.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Expander) { e.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *Expander) { e.logger = l } }

// Expander asks an LLM for related terms. A nil client is allowed and
// yields the originals only.
type Expander struct {
	client  llm.Client
	model   string
	cfg     Config
	cache   cache.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewExpander creates an Expander. model is reported in results and is
// part of the memo key.
func NewExpander(client llm.Client, model string, cfg Config, opts ...Option) *Expander {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxPerKeyword <= 0 {
		cfg.MaxPerKeyword = def.MaxPerKeyword
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = def.Temperature
	}
	e := &Expander{client: client, model: model, cfg: cfg, logger: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Expand issues one completion per keyword, in order. Failures only drop
// that keyword's related terms; the originals always lead the result and
// Expand never returns an error.
func (e *Expander) Expand(ctx context.Context, seeds []string) Expansion {
	originals := dedupe(seeds, 0)
	res := Expansion{
		Original:   originals,
		PromptUsed: PromptTemplate,
		Model:      e.model,
		PerKeyword: make(map[string][]string, len(originals)),
		Success:    true,
	}
	if e.client != nil {
		res.Provider = string(e.client.Provider())
	}
	if len(originals) == 0 {
		res.Expanded = []string{}
		return res
	}

	var errs []string
	all := append([]string(nil), originals...)
	for _, kw := range originals {
		terms, fromCache, err := e.expandOne(ctx, kw, &res)
		if err != nil {
			res.Success = false
			errs = append(errs, fmt.Sprintf("%s: %v", kw, err))
			e.metrics.ObserveExpansion("failed")
			e.logger.Warn("keyword expansion failed", "keyword", kw, "error", err)
			continue
		}
		if fromCache {
			res.FromCache++
			e.metrics.ObserveExpansion("cache")
		} else {
			e.metrics.ObserveExpansion("llm")
		}
		res.PerKeyword[kw] = terms
		all = append(all, terms...)
	}

	res.Expanded = dedupe(all, 0)
	if len(errs) > 0 {
		res.Error = strings.Join(errs, "; ")
	}
	return res
}

func (e *Expander) expandOne(ctx context.Context, kw string, res *Expansion) ([]string, bool, error) {
	key := cache.Key(CacheNamespace, res.Provider, e.model, Normalize(kw))
	if e.cache != nil {
		var terms []string
		if ok, err := cache.GetJSON(ctx, e.cache, key, &terms); err == nil && ok && len(terms) > 0 {
			return terms, true, nil
		}
	}

	if e.client == nil {
		return nil, false, llm.ErrNotConfigured
	}

	cctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()
	resp, err := e.client.Generate(cctx, &llm.Request{
		Messages:    []llm.Message{{Role: "user", Content: strings.ReplaceAll(PromptTemplate, "{keyword}", kw)}},
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
	})
	if err != nil {
		return nil, false, err
	}
	if resp.Model != "" {
		res.Model = resp.Model
	}
	terms := ParseList(resp.Content, e.cfg.MaxPerKeyword)
	if len(terms) == 0 {
		return nil, false, fmt.Errorf("empty completion")
	}

	if e.cache != nil {
		if err := cache.SetJSON(ctx, e.cache, key, terms, e.cfg.CacheTTL); err != nil {
			e.logger.Warn("expansion cache write failed", "keyword", kw, "error", err)
		}
	}
	return terms, false, nil
}

var listPrefixRe = regexp.MustCompile(`^(?:\d+[.)]\s*|[-*•]\s*)`)

// ParseList splits a completion on commas and newlines, strips list
// numbering and quotes, and keeps at most max unique terms (0 = no cap).
func ParseList(s string, max int) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var terms []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' || r == ';' }) {
		t := strings.TrimSpace(part)
		t = listPrefixRe.ReplaceAllString(t, "")
		t = strings.Trim(t, "\"'`“”‘’. ")
		if t == "" {
			continue
		}
		terms = append(terms, t)
	}
	return dedupe(terms, max)
}

// dedupe trims, drops empties and removes case-insensitive duplicates while
// keeping first-seen order.
func dedupe(in []string, max int) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		k := Normalize(s)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s)
		if max > 0 && len(out) == max {
			break
		}
	}
	return out
}
