package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/RobinCoderZhao/aistats/pkg/scraper"
)

const (
	genericConfidence = 0.5
	maxGenericItems   = 50
)

var (
	genericListKeys  = []string{"data", "results", "items", "articles"}
	genericTitleKeys = []string{"title", "headline", "name", "label", "term"}
	genericBlurbKeys = []string{"description", "summary", "excerpt", "abstract", "snippet", "text", "body", "content"}
	genericURLKeys   = []string{"url", "link", "href", "web_url", "permalink"}
	genericDateKeys  = []string{"published_at", "publishedAt", "pubDate", "published", "date", "created_at", "updated_at", "timestamp"}
)

// fetchGenericJSON is the fallback integration. JSON bodies are searched
// for a data/results/items/articles array whose objects are field-sniffed;
// HTML bodies yield one candidate from the page title and description.
func (a *APIAdapter) fetchGenericJSON(ctx context.Context, src Source) ([]Candidate, error) {
	resp, err := a.fetcher.Fetch(ctx, src.URL, &scraper.FetchOptions{Accept: "application/json, text/html;q=0.8"})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", src.Name, err)
	}

	body := bytes.TrimSpace(resp.Body)
	if len(body) == 0 {
		return nil, nil
	}
	if body[0] != '{' && body[0] != '[' {
		if strings.Contains(strings.ToLower(resp.ContentType), "html") || bytes.HasPrefix(bytes.ToLower(body), []byte("<!doctype html")) || bytes.HasPrefix(bytes.ToLower(body), []byte("<html")) {
			return pageSummary(src, src.URL, body), nil
		}
		return nil, nil
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		a.logger.Debug("generic source returned invalid JSON", "source", src.Name, "error", err)
		return nil, nil
	}

	items := findItems(doc, 2)
	if len(items) > maxGenericItems {
		items = items[:maxGenericItems]
	}
	var cands []Candidate
	for _, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			continue
		}
		c := baseCandidate(src, genericConfidence)
		c.Title = CleanText(firstString(obj, genericTitleKeys))
		full := CleanText(firstString(obj, genericBlurbKeys))
		c.FullContent = full
		c.BlurbSeed = Truncate(full, MaxBlurbRunes)
		c.URL = resolveURL(src.URL, firstString(obj, genericURLKeys))
		c.PublishedAt = sniffDate(obj)
		cands = append(cands, c)
	}
	return cands, nil
}

// findItems returns the first list found at the top level or under one of
// the conventional keys, descending into nested objects up to depth.
func findItems(doc any, depth int) []any {
	switch v := doc.(type) {
	case []any:
		return v
	case map[string]any:
		for _, key := range genericListKeys {
			if list, ok := v[key].([]any); ok {
				return list
			}
		}
		if depth > 0 {
			for _, key := range genericListKeys {
				if nested, ok := v[key].(map[string]any); ok {
					if list := findItems(nested, depth-1); list != nil {
						return list
					}
				}
			}
		}
	}
	return nil
}

func firstString(obj map[string]any, keys []string) string {
	for _, k := range keys {
		switch v := obj[k].(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				return v
			}
		case map[string]any:
			// WordPress-style {"rendered": "..."}
			if s, ok := v["rendered"].(string); ok && strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	return ""
}

func sniffDate(obj map[string]any) string {
	for _, k := range genericDateKeys {
		switch v := obj[k].(type) {
		case string:
			if strings.TrimSpace(v) == "" {
				continue
			}
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 1e9 {
				return FormatPublished(unixish(n))
			}
			return normalizeDate(v)
		case float64:
			if v > 1e9 {
				return FormatPublished(unixish(int64(v)))
			}
		}
	}
	return ""
}

// unixish accepts seconds or milliseconds since the epoch.
func unixish(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n)
	}
	return time.Unix(n, 0)
}
