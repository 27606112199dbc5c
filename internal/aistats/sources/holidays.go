package sources

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const holidayConfidence = 0.95

type nagerHoliday struct {
	Date        string   `json:"date"`
	LocalName   string   `json:"localName"`
	Name        string   `json:"name"`
	CountryCode string   `json:"countryCode"`
	Global      bool     `json:"global"`
	Counties    []string `json:"counties"`
	Types       []string `json:"types"`
}

// fetchHolidays lists upcoming public holidays from Nager.Date. A
// "{country}" placeholder in the URL is replaced by Params["country"].
func (a *APIAdapter) fetchHolidays(ctx context.Context, src Source) ([]Candidate, error) {
	country := strings.ToUpper(src.Param("country", "GB"))
	endpoint := strings.ReplaceAll(src.URL, "{country}", country)

	var holidays []nagerHoliday
	ok, err := a.getJSON(ctx, endpoint, &holidays)
	if err != nil {
		return nil, fmt.Errorf("fetch holidays %s: %w", src.Name, err)
	}
	if !ok {
		return nil, nil
	}

	limit, _ := strconv.Atoi(src.Param("limit", "10"))
	if limit <= 0 {
		limit = 10
	}
	today := a.now().UTC().Truncate(24 * time.Hour)

	var cands []Candidate
	for _, h := range holidays {
		if len(cands) == limit {
			break
		}
		day, err := time.Parse("2006-01-02", h.Date)
		if err != nil || h.Name == "" {
			continue
		}
		days := int(day.Sub(today).Hours() / 24)

		c := baseCandidate(src, holidayConfidence)
		c.Geo = h.CountryCode
		if c.Geo == "" {
			c.Geo = country
		}
		c.Title = fmt.Sprintf("%s (%s)", h.Name, day.Format("2 January 2006"))
		scope := "nationwide"
		if !h.Global && len(h.Counties) > 0 {
			scope = "in " + strings.Join(h.Counties, ", ")
		}
		c.BlurbSeed = fmt.Sprintf("%s is a public holiday %s on %s, %s.", h.Name, scope, day.Format("Monday 2 January"), daysAway(days))
		c.URL = endpoint
		c.PublishedAt = FormatPublished(day)
		c.Metadata = map[string]any{
			"date":       h.Date,
			"local_name": h.LocalName,
			"days_until": days,
			"types":      h.Types,
		}
		cands = append(cands, c)
	}
	return cands, nil
}

func daysAway(days int) string {
	switch {
	case days <= 0:
		return "today"
	case days == 1:
		return "tomorrow"
	default:
		return fmt.Sprintf("%d days away", days)
	}
}
