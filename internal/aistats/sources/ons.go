package sources

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

const onsConfidence = 0.9

type onsTimeseries struct {
	Description struct {
		Title       string `json:"title"`
		Unit        string `json:"unit"`
		CDID        string `json:"cdid"`
		DatasetID   string `json:"datasetId"`
		ReleaseDate string `json:"releaseDate"`
		NextRelease string `json:"nextRelease"`
	} `json:"description"`
	Months   []onsObservation `json:"months"`
	Quarters []onsObservation `json:"quarters"`
	Years    []onsObservation `json:"years"`
}

type onsObservation struct {
	Date  string `json:"date"`
	Value string `json:"value"`
}

// fetchONS turns the latest observations of an ONS time series into
// candidates, newest first. Params["points"] sets how many (default 1).
func (a *APIAdapter) fetchONS(ctx context.Context, src Source) ([]Candidate, error) {
	var ts onsTimeseries
	ok, err := a.getJSON(ctx, src.URL, &ts)
	if err != nil {
		return nil, fmt.Errorf("fetch ONS series %s: %w", src.Name, err)
	}
	if !ok || ts.Description.Title == "" {
		return nil, nil
	}

	obs := ts.Months
	if len(obs) == 0 {
		obs = ts.Quarters
	}
	if len(obs) == 0 {
		obs = ts.Years
	}
	if len(obs) == 0 {
		return nil, nil
	}

	points, _ := strconv.Atoi(src.Param("points", "1"))
	if points < 1 {
		points = 1
	}

	var cands []Candidate
	for i := len(obs) - 1; i >= 0 && len(cands) < points; i-- {
		o := obs[i]
		if strings.TrimSpace(o.Value) == "" {
			continue
		}
		c := baseCandidate(src, onsConfidence)
		if c.Geo == GeoGlobal {
			c.Geo = "GB"
		}
		value := formatValue(o.Value, ts.Description.Unit)
		c.Title = fmt.Sprintf("%s: %s (%s)", ts.Description.Title, value, o.Date)
		c.BlurbSeed = fmt.Sprintf("%s was %s in %s", ts.Description.Title, value, o.Date)
		if i > 0 && obs[i-1].Value != "" {
			c.BlurbSeed += fmt.Sprintf(", compared with %s in %s", formatValue(obs[i-1].Value, ts.Description.Unit), obs[i-1].Date)
		}
		c.BlurbSeed += "."
		c.URL = strings.TrimSuffix(src.URL, "/data")
		c.PublishedAt = normalizeDate(ts.Description.ReleaseDate)
		if c.PublishedAt == "" {
			c.PublishedAt = normalizeDate(o.Date)
		}
		c.Metadata = map[string]any{
			"cdid":    ts.Description.CDID,
			"dataset": ts.Description.DatasetID,
			"period":  o.Date,
			"value":   o.Value,
			"unit":    ts.Description.Unit,
		}
		cands = append(cands, c)
	}
	return cands, nil
}

func formatValue(value, unit string) string {
	value = strings.TrimSpace(value)
	unit = strings.TrimSpace(unit)
	switch {
	case unit == "":
		return value
	case unit == "%":
		return value + "%"
	case strings.HasPrefix(unit, "£") || unit == "$" || unit == "€":
		return unit + value
	default:
		return value + " " + unit
	}
}
