// Package app assembles the pipeline components from a Config. Both the
// HTTP server and the CLI start from New.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/RobinCoderZhao/aistats/internal/aistats/config"
	"github.com/RobinCoderZhao/aistats/internal/aistats/fetch"
	"github.com/RobinCoderZhao/aistats/internal/aistats/generator"
	"github.com/RobinCoderZhao/aistats/internal/aistats/keywords"
	"github.com/RobinCoderZhao/aistats/internal/aistats/pipeline"
	"github.com/RobinCoderZhao/aistats/internal/aistats/registry"
	"github.com/RobinCoderZhao/aistats/internal/aistats/scoring"
	"github.com/RobinCoderZhao/aistats/internal/aistats/sources"
	"github.com/RobinCoderZhao/aistats/internal/aistats/store"
	"github.com/RobinCoderZhao/aistats/pkg/cache"
	"github.com/RobinCoderZhao/aistats/pkg/llm"
	"github.com/RobinCoderZhao/aistats/pkg/metrics"
	"github.com/RobinCoderZhao/aistats/pkg/storage"
)

// App holds every wired component.
type App struct {
	Config    config.Config
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	DB        *storage.DB
	Cache     cache.Store
	Store     *store.Store
	Registry  *registry.Registry
	Fetcher   *fetch.Orchestrator
	Expander  *keywords.Expander
	Pipeline  *pipeline.Pipeline
	Generator *generator.Generator
	// Usage is nil when no LLM provider is configured.
	Usage *llm.UsageTracker

	closers []func() error
}

// Option overrides a component New would otherwise build.
type Option func(*overrides)

type overrides struct {
	httpClient *http.Client
	llmClient  llm.Client
	registry   *prometheus.Registry
}

// WithHTTPClient sets the client used by the source adapters.
func WithHTTPClient(c *http.Client) Option { return func(o *overrides) { o.httpClient = c } }

// WithLLMClient replaces the provider client built from Config.LLM.
func WithLLMClient(c llm.Client) Option { return func(o *overrides) { o.llmClient = c } }

// WithPrometheusRegistry registers collectors with reg instead of a private registry.
func WithPrometheusRegistry(reg *prometheus.Registry) Option {
	return func(o *overrides) { o.registry = reg }
}

// New opens storage and builds the pipeline. Close releases what it opened.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	var ov overrides
	for _, o := range opts {
		o(&ov)
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{Config: cfg, Logger: logger, Metrics: metrics.New(ov.registry)}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	db, err := storage.Open(cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)

	if err := a.openCache(ctx); err != nil {
		return nil, err
	}

	if a.Store, err = store.New(ctx, db); err != nil {
		return nil, err
	}
	regOpts := []registry.Option{registry.WithPersister(a.Store), registry.WithLogger(logger)}
	if a.Cache != nil {
		regOpts = append(regOpts, registry.WithInvalidator(a.Cache, fetch.CachePrefix))
	}
	if a.Registry, err = registry.New(ctx, regOpts...); err != nil {
		return nil, fmt.Errorf("load source registry: %w", err)
	}

	httpClient := ov.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Pipeline.HTTPTimeout}
	}
	dispatcher := sources.NewDispatcher(sources.Options{
		HTTPClient:       httpClient,
		Credentials:      cfg.Credentials,
		Logger:           logger,
		BigQueryEndpoint: cfg.Pipeline.BigQueryEndpoint,
	})
	a.Fetcher = fetch.New(dispatcher, cfg.Pipeline.Fetch,
		fetch.WithCache(a.Cache), fetch.WithMetrics(a.Metrics), fetch.WithLogger(logger))

	client, err := a.openLLM(ov.llmClient)
	if err != nil {
		return nil, err
	}
	a.Expander = keywords.NewExpander(client, cfg.LLM.Model, cfg.Pipeline.Expansion,
		keywords.WithCache(a.Cache), keywords.WithMetrics(a.Metrics), keywords.WithLogger(logger))

	var exp pipeline.Expander
	if cfg.Pipeline.ExpandWithAI {
		exp = a.Expander
	}
	scorer := scoring.New(scoring.WithAuthority(cfg.Pipeline.Authority))
	a.Pipeline = pipeline.New(a.Registry, a.Fetcher, exp, scorer,
		pipeline.WithMetrics(a.Metrics), pipeline.WithLogger(logger),
		pipeline.WithDefaultLimit(cfg.Pipeline.DefaultLimit))

	a.Generator = generator.New(a.Pipeline, client, a.Cache, cfg.Generator.CacheTTL, logger)

	ok = true
	return a, nil
}

func (a *App) openCache(ctx context.Context) error {
	switch a.Config.Cache.Driver {
	case config.CacheDisabled:
		return nil
	case config.CacheMemory:
		a.Cache = cache.NewMemoryStore()
	case config.CacheRedis:
		rs, err := cache.NewRedisStore(a.Config.Cache.Redis)
		if err != nil {
			return err
		}
		a.Cache = rs
		a.closers = append(a.closers, rs.Close)
	default:
		ss, err := cache.NewSQLStore(ctx, a.DB)
		if err != nil {
			return err
		}
		a.Cache = ss
	}
	return nil
}

// openLLM returns a nil Client, not an error, when no provider is set up so
// the pipeline still runs without expansion.
func (a *App) openLLM(override llm.Client) (llm.Client, error) {
	inner := override
	if inner == nil {
		c, err := llm.NewClient(a.Config.LLM)
		if errors.Is(err, llm.ErrNotConfigured) {
			a.Logger.Info("no LLM provider configured; keyword expansion and content generation are disabled")
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		inner = c
	}
	a.Usage = llm.NewUsageTracker(inner, a.Config.LLM.Model, a.Metrics.ObserveLLM)
	a.closers = append(a.closers, a.Usage.Close)
	return a.Usage, nil
}

// Generate applies the configured generator defaults to req.
func (a *App) Generate(ctx context.Context, req generator.Request) (*generator.Content, error) {
	if req.MaxTokens <= 0 {
		req.MaxTokens = a.Config.Generator.MaxTokens
	}
	if req.Template == "" {
		req.Template = a.Config.Generator.Template
	}
	return a.Generator.Generate(ctx, req)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
