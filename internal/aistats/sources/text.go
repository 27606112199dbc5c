package sources

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/RobinCoderZhao/aistats/pkg/scraper"
)

// Truncate shortens s to at most max runes, cutting at a word boundary when
// one is close and appending "...".
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	if max <= 3 {
		return string([]rune(s)[:max])
	}
	runes := []rune(s)[:max-3]
	cut := string(runes)
	if i := strings.LastIndexByte(cut, ' '); i > len(cut)*2/3 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,;:-") + "..."
}

// CleanText strips markup and collapses whitespace.
func CleanText(s string) string {
	return scraper.StripTags(s)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// resolveURL makes href absolute against base; unusable input yields "".
func resolveURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	h, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return b.ResolveReference(h).String()
}

var statRe = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?\s?(?:%|per ?cent\b))|(\b\d{1,3}(?:,\d{3})+\b)|(\b\d+(?:\.\d+)?\s?(?:million|billion|trillion|bn)\b)|([£$€]\s?\d+(?:\.\d+)?)`)

// ExtractStatistics returns up to max sentences from text that carry a
// percentage, a large number or a currency figure.
func ExtractStatistics(text string, max int) []string {
	if max <= 0 || text == "" {
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	for _, raw := range splitSentences(text) {
		s := collapseSpace(raw)
		n := utf8.RuneCountInString(s)
		if n < 20 || n > 300 {
			continue
		}
		if !statRe.MatchString(s) || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
		if len(out) == max {
			break
		}
	}
	return out
}

// splitSentences breaks text after ".", "!" or "?" when followed by
// whitespace or the end of text, and at newlines, so decimals such as "3.5"
// stay inside their sentence.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '\n':
			out = append(out, text[start:i])
			start = i + 1
		case '.', '!', '?':
			if i+1 == len(text) || text[i+1] == ' ' || text[i+1] == '\n' || text[i+1] == '\t' {
				out = append(out, text[start:i+1])
				start = i + 1
			}
		}
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}
