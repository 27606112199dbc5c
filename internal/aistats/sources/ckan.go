package sources

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

const ckanConfidence = 0.7

type ckanSearchResponse struct {
	Success bool `json:"success"`
	Result  struct {
		Count   int `json:"count"`
		Results []struct {
			Name             string `json:"name"`
			Title            string `json:"title"`
			Notes            string `json:"notes"`
			URL              string `json:"url"`
			MetadataModified string `json:"metadata_modified"`
			Organization     *struct {
				Title string `json:"title"`
			} `json:"organization"`
			Tags []struct {
				Name string `json:"name"`
			} `json:"tags"`
		} `json:"results"`
	} `json:"result"`
}

// fetchCKAN lists datasets from a CKAN package_search endpoint.
// Params["q"] and Params["rows"] are merged into the query string.
func (a *APIAdapter) fetchCKAN(ctx context.Context, src Source) ([]Candidate, error) {
	u, err := url.Parse(src.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	q := u.Query()
	if v := src.Param("q", ""); v != "" {
		q.Set("q", v)
	}
	if q.Get("rows") == "" {
		q.Set("rows", src.Param("rows", "10"))
	}
	if q.Get("sort") == "" {
		q.Set("sort", "metadata_modified desc")
	}
	u.RawQuery = q.Encode()

	var out ckanSearchResponse
	ok, err := a.getJSON(ctx, u.String(), &out)
	if err != nil {
		return nil, fmt.Errorf("search CKAN catalog %s: %w", src.Name, err)
	}
	if !ok || !out.Success {
		return nil, nil
	}

	site := u.Scheme + "://" + u.Host
	cands := make([]Candidate, 0, len(out.Result.Results))
	for _, ds := range out.Result.Results {
		c := baseCandidate(src, ckanConfidence)
		c.Title = CleanText(ds.Title)
		notes := CleanText(ds.Notes)
		c.FullContent = notes
		c.BlurbSeed = Truncate(notes, MaxBlurbRunes)
		c.URL = site + "/dataset/" + url.PathEscape(ds.Name)
		c.PublishedAt = normalizeDate(ds.MetadataModified)
		meta := map[string]any{"dataset": ds.Name}
		if ds.Organization != nil && ds.Organization.Title != "" {
			meta["publisher"] = ds.Organization.Title
		}
		if len(ds.Tags) > 0 {
			tags := make([]string, 0, len(ds.Tags))
			for _, t := range ds.Tags {
				tags = append(tags, strings.ToLower(t.Name))
			}
			meta["dataset_tags"] = tags
		}
		c.Metadata = meta
		cands = append(cands, c)
	}
	return cands, nil
}
