package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/RobinCoderZhao/aistats/pkg/scraper"
)

const blsConfidence = 0.9

type blsRequest struct {
	SeriesID        []string `json:"seriesid"`
	StartYear       string   `json:"startyear"`
	EndYear         string   `json:"endyear"`
	RegistrationKey string   `json:"registrationkey"`
}

type blsResponse struct {
	Status  string   `json:"status"`
	Message []string `json:"message"`
	Results struct {
		Series []struct {
			SeriesID string `json:"seriesID"`
			Data     []struct {
				Year       string `json:"year"`
				Period     string `json:"period"`
				PeriodName string `json:"periodName"`
				Value      string `json:"value"`
			} `json:"data"`
		} `json:"series"`
	} `json:"Results"`
}

// fetchBLS reads the latest value of each series in Params["series"]
// (comma separated). Params["labels"] gives matching display names. Without
// an API key the integration is skipped.
func (a *APIAdapter) fetchBLS(ctx context.Context, src Source) ([]Candidate, error) {
	if a.creds.BLSAPIKey == "" {
		return nil, nil
	}
	series := splitList(src.Param("series", ""))
	if len(series) == 0 {
		return nil, nil
	}
	labels := splitList(src.Param("labels", ""))

	year := a.now().Year()
	payload, err := json.Marshal(blsRequest{
		SeriesID:        series,
		StartYear:       strconv.Itoa(year - 1),
		EndYear:         strconv.Itoa(year),
		RegistrationKey: a.creds.BLSAPIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal BLS request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, src.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create BLS request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", scraper.DefaultUserAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch BLS series %s: %w", src.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &scraper.StatusError{URL: src.URL, StatusCode: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read BLS response: %w", err)
	}

	var out blsResponse
	if err := json.Unmarshal(body, &out); err != nil || out.Status != "REQUEST_SUCCEEDED" {
		a.logger.Debug("BLS request not successful", "source", src.Name, "status", out.Status, "message", strings.Join(out.Message, "; "))
		return nil, nil
	}

	var cands []Candidate
	for _, s := range out.Results.Series {
		if len(s.Data) == 0 {
			continue
		}
		latest := s.Data[0] // BLS returns newest first
		label := s.SeriesID
		for i, id := range series {
			if id == s.SeriesID && i < len(labels) {
				label = labels[i]
			}
		}

		c := baseCandidate(src, blsConfidence)
		if c.Geo == GeoGlobal {
			c.Geo = "US"
		}
		period := strings.TrimSpace(latest.PeriodName + " " + latest.Year)
		c.Title = fmt.Sprintf("%s: %s (%s)", label, latest.Value, period)
		c.BlurbSeed = fmt.Sprintf("%s stood at %s in %s, according to the Bureau of Labor Statistics.", label, latest.Value, period)
		if len(s.Data) > 1 {
			prev := s.Data[1]
			c.BlurbSeed = fmt.Sprintf("%s stood at %s in %s, from %s in %s, according to the Bureau of Labor Statistics.",
				label, latest.Value, period, prev.Value, strings.TrimSpace(prev.PeriodName+" "+prev.Year))
		}
		c.URL = "https://data.bls.gov/timeseries/" + s.SeriesID
		c.PublishedAt = FormatPublished(blsPeriodStart(latest.Year, latest.Period))
		c.Metadata = map[string]any{
			"series_id": s.SeriesID,
			"period":    latest.Period,
			"value":     latest.Value,
		}
		cands = append(cands, c)
	}
	return cands, nil
}

// blsPeriodStart maps "M01".."M12", "Q01".."Q04" and annual periods to the
// first day of the period.
func blsPeriodStart(year, period string) time.Time {
	y, err := strconv.Atoi(year)
	if err != nil {
		return time.Time{}
	}
	if len(period) == 3 {
		n, err := strconv.Atoi(period[1:])
		if err == nil {
			switch period[0] {
			case 'M':
				if n >= 1 && n <= 12 {
					return time.Date(y, time.Month(n), 1, 0, 0, 0, 0, time.UTC)
				}
			case 'Q':
				if n >= 1 && n <= 4 {
					return time.Date(y, time.Month((n-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
				}
			}
		}
	}
	return time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
