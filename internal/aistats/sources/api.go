package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/RobinCoderZhao/aistats/pkg/scraper"
)

// APIAdapter dispatches api sources to their named integration by Kind.
type APIAdapter struct {
	fetcher scraper.Fetcher
	client  *http.Client
	creds   Credentials
	trends  *TrendsClient
	logger  *slog.Logger
	now     func() time.Time
}

// NewAPIAdapter creates an API adapter. opts.HTTPClient is used for the
// integrations that POST.
func NewAPIAdapter(fetcher scraper.Fetcher, opts Options) *APIAdapter {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &APIAdapter{
		fetcher: fetcher,
		client:  client,
		creds:   opts.Credentials,
		trends:  NewTrendsClient(client, opts.Credentials, opts.BigQueryEndpoint, now),
		logger:  logger,
		now:     now,
	}
}

func (a *APIAdapter) Fetch(ctx context.Context, src Source) ([]Candidate, error) {
	switch src.Kind {
	case KindONSTimeseries:
		return a.fetchONS(ctx, src)
	case KindBLSTimeseries:
		return a.fetchBLS(ctx, src)
	case KindCKANSearch:
		return a.fetchCKAN(ctx, src)
	case KindBigQueryTrends:
		return a.trends.Fetch(ctx, src)
	case KindNagerHolidays:
		return a.fetchHolidays(ctx, src)
	case KindHackerNews:
		return a.fetchHackerNews(ctx, src)
	case KindGenericJSON, "":
		return a.fetchGenericJSON(ctx, src)
	default:
		return nil, fmt.Errorf("%w: kind %q is not an api integration", ErrInvalidSource, src.Kind)
	}
}

var jsonFetchOptions = &scraper.FetchOptions{Accept: "application/json"}

// getJSON fetches url and decodes it into out. Transport and HTTP status
// failures are returned as errors; a body that does not decode reports
// ok=false so callers can degrade to an empty result.
func (a *APIAdapter) getJSON(ctx context.Context, url string, out any) (ok bool, err error) {
	resp, err := a.fetcher.Fetch(ctx, url, jsonFetchOptions)
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		a.logger.Debug("unexpected api response shape", "url", url, "error", err)
		return false, nil
	}
	return true, nil
}
