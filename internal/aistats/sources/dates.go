package sources

import (
	"strconv"
	"strings"
	"time"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"Mon, 02 Jan 2006 15:04 -0700",
	time.RFC822Z,
	time.RFC822,
	"2 Jan 2006 15:04:05 -0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006 Jan",
	"2006 January",
	"January 2, 2006",
	"2 January 2006",
	"2006",
}

// ParsePublished parses the date formats seen across feeds and APIs,
// including ONS period labels such as "2024 JAN" and "2024 Q2". It reports
// false for empty or unrecognised input.
func ParsePublished(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if t, ok := parseQuarter(s); ok {
		return t, true
	}
	return time.Time{}, false
}

func parseQuarter(s string) (time.Time, bool) {
	fields := strings.Fields(strings.ToUpper(s))
	if len(fields) != 2 || len(fields[1]) != 2 || fields[1][0] != 'Q' {
		return time.Time{}, false
	}
	year, err := strconv.Atoi(fields[0])
	if err != nil {
		return time.Time{}, false
	}
	q := int(fields[1][1] - '0')
	if q < 1 || q > 4 {
		return time.Time{}, false
	}
	return time.Date(year, time.Month((q-1)*3+1), 1, 0, 0, 0, 0, time.UTC), true
}

// FormatPublished renders t the way candidates store it.
func FormatPublished(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// normalizeDate returns an RFC3339 rendering when s parses, else s unchanged.
func normalizeDate(s string) string {
	if t, ok := ParsePublished(s); ok {
		return FormatPublished(t)
	}
	return strings.TrimSpace(s)
}
