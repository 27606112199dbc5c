// Package generator turns ranked candidates into short marketing copy with
// an LLM and caches the result per content module.
package generator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/RobinCoderZhao/aistats/internal/aistats/pipeline"
	"github.com/RobinCoderZhao/aistats/internal/aistats/sources"
	"github.com/RobinCoderZhao/aistats/pkg/cache"
	"github.com/RobinCoderZhao/aistats/pkg/llm"
)

// CacheNamespace prefixes generated content entries.
const CacheNamespace = "content"

// DefaultLimit is the number of candidates placed in the prompt.
const DefaultLimit = 5

var (
	ErrNoCandidates = errors.New("no candidates available for generation")
	ErrNoModel      = llm.ErrNotConfigured
)

// DefaultTemplate is the prompt used when a request has no template.
const DefaultTemplate = `Write short marketing copy for a "{{.Mode}}" content block.
{{- if .Keywords}}
Focus keywords: {{join .Keywords ", "}}.
{{- end}}
Use only the facts listed below. Mention at most two of them, stay under {{.Words}} words and never invent figures.

{{range $i, $c := .Candidates -}}
[{{inc $i}}] {{$c.Title}}{{if ne $c.BlurbSeed $c.Title}}: {{$c.BlurbSeed}}{{end}} (source: {{$c.Source}}{{if $c.PublishedAt}}, {{$c.PublishedAt}}{{end}})
{{end}}`

const systemPrompt = "You are a concise copywriter. You write accurate, data-led marketing copy and cite the source of every figure you use."

var funcs = template.FuncMap{
	"join": strings.Join,
	"inc":  func(i int) int { return i + 1 },
}

// CandidateSource is the pipeline entry point the generator needs.
type CandidateSource interface {
	FetchCandidates(ctx context.Context, q pipeline.Query) ([]sources.Candidate, error)
}

// Request describes one generation.
type Request struct {
	ModuleID  string   `json:"module_id"`
	Mode      string   `json:"mode"`
	Keywords  []string `json:"keywords,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	Limit     int      `json:"limit,omitempty"`
	Template  string   `json:"template,omitempty"`
	Words     int      `json:"words,omitempty"`
	MaxTokens int      `json:"max_tokens,omitempty"`
	// Refresh skips the cached content for this request.
	Refresh bool `json:"refresh,omitempty"`
}

// Content is the generated copy and its provenance.
type Content struct {
	ModuleID    string              `json:"module_id,omitempty"`
	Mode        string              `json:"mode"`
	Text        string              `json:"text"`
	Prompt      string              `json:"prompt"`
	Candidates  []sources.Candidate `json:"candidates"`
	Provider    string              `json:"provider"`
	Model       string              `json:"model"`
	TokensIn    int                 `json:"tokens_in"`
	TokensOut   int                 `json:"tokens_out"`
	Cost        float64             `json:"cost"`
	GeneratedAt time.Time           `json:"generated_at"`
	FromCache   bool                `json:"from_cache"`
	Warning     string              `json:"warning,omitempty"`
}

// Generator produces content from pipeline candidates.
type Generator struct {
	candidates CandidateSource
	client     llm.Client
	cache      cache.Store
	ttl        time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Generator. store may be nil to disable caching.
func New(cs CandidateSource, client llm.Client, store cache.Store, ttl time.Duration, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{candidates: cs, client: client, cache: store, ttl: ttl, logger: logger, now: time.Now}
}

// Generate fetches candidates, renders the prompt and asks the LLM for copy.
// Content is cached per module and per set of inputs that shape it.
func (g *Generator) Generate(ctx context.Context, req Request) (*Content, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	key := ""
	if req.ModuleID != "" {
		key = contentKey(req, limit)
	}
	if key != "" && g.cache != nil && !req.Refresh {
		var cached Content
		if ok, err := cache.GetJSON(ctx, g.cache, key, &cached); err == nil && ok {
			cached.FromCache = true
			return &cached, nil
		}
	}
	if g.client == nil {
		return nil, ErrNoModel
	}

	cands, err := g.candidates.FetchCandidates(ctx, pipeline.Query{Mode: req.Mode, Tags: req.Tags, Keywords: req.Keywords, Limit: limit})
	var warning string
	if err != nil {
		if len(cands) == 0 {
			return nil, err
		}
		warning = err.Error()
		g.logger.Warn("generating from partial candidates", "mode", req.Mode, "error", err)
	}
	if len(cands) == 0 {
		return nil, ErrNoCandidates
	}

	prompt, err := Render(req.Template, req.Mode, req.Keywords, req.Words, cands)
	if err != nil {
		return nil, err
	}

	resp, err := g.client.Generate(ctx, &llm.Request{
		System:    systemPrompt,
		Messages:  []llm.Message{{Role: "user", Content: prompt}},
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}

	content := &Content{
		ModuleID:    req.ModuleID,
		Mode:        req.Mode,
		Text:        strings.TrimSpace(resp.Content),
		Prompt:      prompt,
		Candidates:  cands,
		Provider:    string(g.client.Provider()),
		Model:       resp.Model,
		TokensIn:    resp.TokensIn,
		TokensOut:   resp.TokensOut,
		Cost:        resp.Cost,
		GeneratedAt: g.now().UTC(),
		Warning:     warning,
	}
	if content.Text == "" {
		return nil, fmt.Errorf("generate content: empty completion")
	}

	if key != "" && g.cache != nil {
		if err := cache.SetJSON(ctx, g.cache, key, content, g.ttl); err != nil {
			g.logger.Warn("content cache write failed", "module_id", req.ModuleID, "error", err)
		}
	}
	g.logger.Info("content generated",
		"module_id", req.ModuleID,
		"mode", req.Mode,
		"candidates", len(cands),
		"tokens_in", resp.TokensIn,
		"tokens_out", resp.TokensOut,
		"cost", resp.Cost,
	)
	return content, nil
}

// contentKey hashes the module id with everything that changes the copy.
// Keywords and tags are compared case-insensitively and in any order.
func contentKey(req Request, limit int) string {
	return cache.Key(CacheNamespace,
		req.ModuleID,
		req.Mode,
		strings.Join(normalizeTerms(req.Keywords), ","),
		strings.Join(normalizeTerms(req.Tags), ","),
		strconv.Itoa(limit),
		strconv.Itoa(req.Words),
		strconv.Itoa(req.MaxTokens),
		req.Template,
	)
}

func normalizeTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return slices.Compact(out)
}

// Render fills tmpl (or DefaultTemplate) with the candidates.
func Render(tmpl, mode string, keywords []string, words int, cands []sources.Candidate) (string, error) {
	if strings.TrimSpace(tmpl) == "" {
		tmpl = DefaultTemplate
	}
	if words <= 0 {
		words = 60
	}
	t, err := template.New("prompt").Funcs(funcs).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse prompt template: %w", err)
	}
	var buf bytes.Buffer
	err = t.Execute(&buf, struct {
		Mode       string
		Keywords   []string
		Words      int
		Candidates []sources.Candidate
	}{mode, keywords, words, cands})
	if err != nil {
		return "", fmt.Errorf("render prompt template: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}
