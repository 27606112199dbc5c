package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/RobinCoderZhao/aistats/pkg/scraper"
)

// Adapter turns one source into candidates. Implementations return a
// possibly-empty slice or an error and never panic on malformed input.
type Adapter interface {
	Fetch(ctx context.Context, src Source) ([]Candidate, error)
}

// AdapterFunc adapts a function to the Adapter interface.
type AdapterFunc func(ctx context.Context, src Source) ([]Candidate, error)

func (f AdapterFunc) Fetch(ctx context.Context, src Source) ([]Candidate, error) {
	return f(ctx, src)
}

// Credentials holds secrets for integrations that need them. Missing values
// make the matching integration return no candidates.
type Credentials struct {
	BLSAPIKey string `yaml:"bls_api_key" env:"BLS_API_KEY"`
	// BigQueryServiceAccount is a path to a service-account JSON file, or
	// the JSON document itself.
	BigQueryServiceAccount string `yaml:"bigquery_service_account" env:"GOOGLE_APPLICATION_CREDENTIALS"`
	BigQueryProject        string `yaml:"bigquery_project" env:"AISTATS_BIGQUERY_PROJECT"`
}

// Options configures NewDispatcher.
type Options struct {
	HTTPClient  *http.Client
	Credentials Credentials
	Logger      *slog.Logger
	// BigQueryEndpoint overrides the BigQuery REST base URL.
	BigQueryEndpoint string
	Now              func() time.Time
}

// Dispatcher routes a source to its adapter by Type, then Kind.
type Dispatcher struct {
	feed   *FeedAdapter
	html   *HTMLAdapter
	api    *APIAdapter
	logger *slog.Logger
}

// NewDispatcher wires every adapter around one shared HTTP client.
func NewDispatcher(opts Options) *Dispatcher {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	fetcher := scraper.NewHTTPFetcher(opts.HTTPClient)
	return &Dispatcher{
		feed:   NewFeedAdapter(fetcher, opts.Logger),
		html:   NewHTMLAdapter(fetcher),
		api:    NewAPIAdapter(fetcher, opts),
		logger: opts.Logger,
	}
}

// Fetch runs the adapter for src and normalizes its output.
func (d *Dispatcher) Fetch(ctx context.Context, src Source) ([]Candidate, error) {
	src = src.Resolve()

	var (
		cands []Candidate
		err   error
	)
	switch src.Type {
	case TypeFeed:
		cands, err = d.feed.Fetch(ctx, src)
	case TypeHTML:
		cands, err = d.html.Fetch(ctx, src)
	case TypeAPI:
		cands, err = d.api.Fetch(ctx, src)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidSource, src.Type)
	}
	if err != nil {
		return nil, err
	}

	out := NormalizeAll(cands)
	if dropped := len(cands) - len(out); dropped > 0 {
		d.logger.Debug("dropped candidates without title or source", "source", src.Name, "dropped", dropped)
	}
	return out, nil
}
