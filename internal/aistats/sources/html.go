package sources

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/RobinCoderZhao/aistats/pkg/scraper"
)

const (
	maxHTMLCandidates   = 20
	minHeadingRunes     = 10
	headingConfidence   = 0.5
	htmlStatConfidence  = 0.7
	maxSectionTextRunes = 1000
)

// HTMLAdapter scrapes a page either for its h1-h3 headings or for
// statistic-bearing sentences, depending on the source kind.
type HTMLAdapter struct {
	fetcher scraper.Fetcher
}

// NewHTMLAdapter creates an HTML adapter on top of fetcher.
func NewHTMLAdapter(fetcher scraper.Fetcher) *HTMLAdapter {
	return &HTMLAdapter{fetcher: fetcher}
}

func (a *HTMLAdapter) Fetch(ctx context.Context, src Source) ([]Candidate, error) {
	resp, err := a.fetcher.Fetch(ctx, src.URL, scraper.DefaultFetchOptions())
	if err != nil {
		return nil, fmt.Errorf("fetch page %s: %w", src.Name, err)
	}

	switch src.Kind {
	case KindHTMLStatistics:
		return statisticCandidates(src, string(resp.Body)), nil
	default:
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
		if err != nil {
			return nil, fmt.Errorf("parse page %s: %w", src.Name, err)
		}
		return headingCandidates(src, doc), nil
	}
}

func statisticCandidates(src Source, page string) []Candidate {
	text := scraper.ExtractText(page)
	stats := ExtractStatistics(text, maxHTMLCandidates)
	cands := make([]Candidate, 0, len(stats))
	for _, s := range stats {
		c := baseCandidate(src, htmlStatConfidence)
		c.Title = Truncate(s, 120)
		c.BlurbSeed = Truncate(s, MaxBlurbRunes)
		c.FullContent = s
		c.URL = src.URL
		cands = append(cands, c)
	}
	return cands
}

func headingCandidates(src Source, doc *goquery.Document) []Candidate {
	published := pagePublished(doc)
	seen := make(map[string]bool)
	var cands []Candidate

	doc.Find("script, style, nav, footer, noscript").Remove()
	doc.Find("h1, h2, h3").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		title := collapseSpace(s.Text())
		if utf8.RuneCountInString(title) < minHeadingRunes || seen[strings.ToLower(title)] {
			return true
		}
		seen[strings.ToLower(title)] = true

		c := baseCandidate(src, headingConfidence)
		c.Title = title
		c.URL = headingLink(src.URL, s)
		c.PublishedAt = published

		section := collapseSpace(s.NextUntil("h1, h2, h3").Text())
		c.FullContent = Truncate(section, maxSectionTextRunes)
		if p := collapseSpace(s.NextAllFiltered("p").First().Text()); p != "" {
			c.BlurbSeed = Truncate(p, MaxBlurbRunes)
		}
		if stats := ExtractStatistics(section, 1); len(stats) > 0 {
			c.BlurbSeed = Truncate(stats[0], MaxBlurbRunes)
		}
		cands = append(cands, c)
		return len(cands) < maxHTMLCandidates
	})
	return cands
}

// headingLink prefers a link inside the heading, then an enclosing one,
// then the page itself.
func headingLink(pageURL string, s *goquery.Selection) string {
	if href, ok := s.Find("a[href]").First().Attr("href"); ok {
		if u := resolveURL(pageURL, href); u != "" {
			return u
		}
	}
	if href, ok := s.Closest("a[href]").Attr("href"); ok {
		if u := resolveURL(pageURL, href); u != "" {
			return u
		}
	}
	return pageURL
}

func pagePublished(doc *goquery.Document) string {
	for _, sel := range []string{
		`meta[property="article:published_time"]`,
		`meta[property="article:modified_time"]`,
		`meta[name="date"]`,
		`meta[name="dc.date"]`,
	} {
		if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			return normalizeDate(v)
		}
	}
	if v, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
		return normalizeDate(v)
	}
	return ""
}

// pageSummary returns a single candidate describing an HTML document from
// its title and description metadata.
func pageSummary(src Source, pageURL string, body []byte) []Candidate {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	title := metaContent(doc, `meta[property="og:title"]`)
	if title == "" {
		title = collapseSpace(doc.Find("title").First().Text())
	}
	if title == "" {
		return nil
	}
	desc := metaContent(doc, `meta[name="description"]`)
	if desc == "" {
		desc = metaContent(doc, `meta[property="og:description"]`)
	}

	c := baseCandidate(src, 0.3)
	c.Title = title
	c.BlurbSeed = Truncate(desc, MaxBlurbRunes)
	c.URL = pageURL
	c.PublishedAt = pagePublished(doc)
	return []Candidate{c}
}

func metaContent(doc *goquery.Document, selector string) string {
	v, _ := doc.Find(selector).First().Attr("content")
	return collapseSpace(v)
}
