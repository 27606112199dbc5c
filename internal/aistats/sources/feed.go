package sources

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/RobinCoderZhao/aistats/pkg/scraper"
)

const (
	feedAccept       = "application/rss+xml, application/atom+xml, application/xml;q=0.9, text/xml;q=0.8, */*;q=0.5"
	maxFeedItems     = 50
	feedConfidence   = 0.6
	statConfidence   = 0.8
	maxStatsMetadata = 3
)

var errFeedUnparseable = errors.New("failed to parse feed as RSS or Atom")

// FeedAdapter reads RSS 2.0 and Atom feeds, falling back to gofeed for
// anything the strict decoder cannot handle (RSS 1.0, JSON Feed, bad XML).
type FeedAdapter struct {
	fetcher scraper.Fetcher
	parser  *gofeed.Parser
	logger  *slog.Logger
}

// NewFeedAdapter creates a feed adapter on top of fetcher.
func NewFeedAdapter(fetcher scraper.Fetcher, logger *slog.Logger) *FeedAdapter {
	parser := gofeed.NewParser()
	parser.UserAgent = scraper.DefaultUserAgent
	if hf, ok := fetcher.(*scraper.HTTPFetcher); ok {
		parser.Client = hf.Client()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedAdapter{fetcher: fetcher, parser: parser, logger: logger}
}

// feedItem is the subset of an RSS item or Atom entry the adapter uses.
type feedItem struct {
	Title       string
	Link        string
	Description string
	Content     string
	Published   string
	Author      string
}

func (a *FeedAdapter) Fetch(ctx context.Context, src Source) ([]Candidate, error) {
	var (
		items   []feedItem
		body    []byte
		primary error
	)
	resp, err := a.fetcher.Fetch(ctx, src.URL, &scraper.FetchOptions{Accept: feedAccept})
	if err == nil {
		body = resp.Body
		items, primary = parseFeed(body)
	} else {
		primary = err
	}

	if len(items) == 0 {
		fallback, ferr := a.fallback(ctx, src.URL, body)
		switch {
		case ferr == nil:
			items = fallback
		case primary != nil:
			return nil, fmt.Errorf("fetch feed %s: %w", src.Name, primary)
		default:
			a.logger.Debug("feed fallback failed", "source", src.Name, "error", ferr)
		}
	}

	if len(items) > maxFeedItems {
		items = items[:maxFeedItems]
	}
	cands := make([]Candidate, 0, len(items))
	for _, item := range items {
		cands = append(cands, feedCandidate(src, item))
	}
	return cands, nil
}

// fallback parses body with gofeed, or refetches through gofeed when the
// primary request failed outright.
func (a *FeedAdapter) fallback(ctx context.Context, url string, body []byte) ([]feedItem, error) {
	var (
		feed *gofeed.Feed
		err  error
	)
	if len(body) > 0 {
		feed, err = a.parser.Parse(bytes.NewReader(body))
	} else {
		feed, err = a.parser.ParseURLWithContext(url, ctx)
	}
	if err != nil {
		return nil, err
	}

	items := make([]feedItem, 0, len(feed.Items))
	for _, it := range feed.Items {
		fi := feedItem{
			Title:       it.Title,
			Link:        it.Link,
			Description: it.Description,
			Content:     it.Content,
			Published:   it.Published,
		}
		if it.PublishedParsed != nil {
			fi.Published = FormatPublished(*it.PublishedParsed)
		} else if it.UpdatedParsed != nil {
			fi.Published = FormatPublished(*it.UpdatedParsed)
		}
		if len(it.Authors) > 0 && it.Authors[0] != nil {
			fi.Author = it.Authors[0].Name
		}
		items = append(items, fi)
	}
	return items, nil
}

func feedCandidate(src Source, item feedItem) Candidate {
	c := baseCandidate(src, feedConfidence)
	c.Title = CleanText(item.Title)
	c.URL = strings.TrimSpace(item.Link)
	c.PublishedAt = normalizeDate(item.Published)

	desc := CleanText(item.Description)
	full := CleanText(item.Content)
	if full == "" {
		full = desc
	}
	c.FullContent = full
	c.BlurbSeed = Truncate(desc, MaxBlurbRunes)

	if stats := ExtractStatistics(full, maxStatsMetadata); len(stats) > 0 {
		c.BlurbSeed = Truncate(stats[0], MaxBlurbRunes)
		c.Confidence = statConfidence
		c.Metadata = map[string]any{"statistics": stats}
	}
	if item.Author != "" {
		if c.Metadata == nil {
			c.Metadata = map[string]any{}
		}
		c.Metadata["author"] = CleanText(item.Author)
	}
	return c
}

// parseFeed decodes RSS 2.0 or Atom. A well-formed feed with no items
// returns no error and no items.
func parseFeed(body []byte) ([]feedItem, error) {
	var rss rssFeed
	if err := xml.Unmarshal(body, &rss); err == nil {
		items := make([]feedItem, 0, len(rss.Channel.Items))
		for _, it := range rss.Channel.Items {
			author := it.Author
			if author == "" {
				author = it.Creator
			}
			pub := it.PubDate
			if pub == "" {
				pub = it.Date
			}
			items = append(items, feedItem{
				Title:       it.Title,
				Link:        it.Link,
				Description: it.Description,
				Content:     it.Encoded,
				Published:   pub,
				Author:      author,
			})
		}
		return items, nil
	}

	var atom atomFeed
	if err := xml.Unmarshal(body, &atom); err == nil {
		items := make([]feedItem, 0, len(atom.Entries))
		for _, e := range atom.Entries {
			pub := e.Published
			if pub == "" {
				pub = e.Updated
			}
			items = append(items, feedItem{
				Title:       e.Title,
				Link:        e.link(),
				Description: e.Summary,
				Content:     e.Content,
				Published:   pub,
				Author:      e.Author.Name,
			})
		}
		return items, nil
	}

	return nil, errFeedUnparseable
}

// RSS 2.0 types
type rssFeed struct {
	XMLName xml.Name   `xml:"rss"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title string    `xml:"title"`
	Items []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	Encoded     string `xml:"http://purl.org/rss/1.0/modules/content/ encoded"`
	PubDate     string `xml:"pubDate"`
	Date        string `xml:"http://purl.org/dc/elements/1.1/ date"`
	Author      string `xml:"author"`
	Creator     string `xml:"http://purl.org/dc/elements/1.1/ creator"`
}

// Atom types
type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Title   string      `xml:"title"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title     string     `xml:"title"`
	Links     []atomLink `xml:"link"`
	Summary   string     `xml:"summary"`
	Content   string     `xml:"content"`
	Published string     `xml:"published"`
	Updated   string     `xml:"updated"`
	Author    struct {
		Name string `xml:"name"`
	} `xml:"author"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

func (e atomEntry) link() string {
	for _, l := range e.Links {
		if l.Rel == "" || l.Rel == "alternate" {
			return l.Href
		}
	}
	if len(e.Links) > 0 {
		return e.Links[0].Href
	}
	return ""
}
