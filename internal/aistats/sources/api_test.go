package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestAPIAdapter_ONS(t *testing.T) {
	body := `{
	  "description": {"title": "CPI ANNUAL RATE 00: ALL ITEMS 2015=100", "unit": "%", "cdid": "D7G7", "datasetId": "MM23", "releaseDate": "2024-02-14T00:00:00.000Z"},
	  "years": [{"date": "2022", "value": "9.1"}],
	  "months": [{"date": "2023 NOV", "value": "3.9"}, {"date": "2023 DEC", "value": "4.0"}]
	}`
	srv := serveBody(t, "application/json", body)
	src := Source{Type: TypeAPI, Kind: KindONSTimeseries, Name: "ONS CPI", URL: srv.URL + "/timeseries/d7g7/mm23/data"}
	cands, err := newTestDispatcher(srv).Fetch(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 {
		t.Fatalf("expected latest observation only, got %d", len(cands))
	}
	c := cands[0]
	if c.Title != "CPI ANNUAL RATE 00: ALL ITEMS 2015=100: 4.0% (2023 DEC)" {
		t.Fatalf("unexpected title %q", c.Title)
	}
	if !strings.Contains(c.BlurbSeed, "compared with 3.9% in 2023 NOV") {
		t.Fatalf("unexpected blurb %q", c.BlurbSeed)
	}
	if c.Geo != "GB" || c.PublishedAt != "2024-02-14T00:00:00Z" || c.URL != srv.URL+"/timeseries/d7g7/mm23" {
		t.Fatalf("unexpected candidate %+v", c)
	}

	src.Params = map[string]string{"points": "2"}
	cands, _ = newTestDispatcher(srv).Fetch(context.Background(), src)
	if len(cands) != 2 || !strings.Contains(cands[1].Title, "2023 NOV") {
		t.Fatalf("expected two observations newest first, got %+v", cands)
	}
}

func TestAPIAdapter_SchemaMismatchDegrades(t *testing.T) {
	srv := serveBody(t, "application/json", `{"unexpected": true}`)
	for _, kind := range []Kind{KindONSTimeseries, KindCKANSearch, KindNagerHolidays, KindHackerNews, KindGenericJSON} {
		cands, err := newTestDispatcher(srv).Fetch(context.Background(), Source{Type: TypeAPI, Kind: kind, Name: "x", URL: srv.URL})
		if err != nil || len(cands) != 0 {
			t.Errorf("%s: expected empty result without error, got %d / %v", kind, len(cands), err)
		}
	}
}

func TestAPIAdapter_BLS(t *testing.T) {
	var got blsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"status":"REQUEST_SUCCEEDED","message":[],"Results":{"series":[{"seriesID":"LNS14000000","data":[
			{"year":"2024","period":"M01","periodName":"January","value":"3.7"},
			{"year":"2023","period":"M12","periodName":"December","value":"3.7"}]}]}}`))
	}))
	defer srv.Close()

	src := Source{Type: TypeAPI, Kind: KindBLSTimeseries, Name: "BLS", URL: srv.URL,
		Params: map[string]string{"series": "LNS14000000", "labels": "Unemployment rate"}}

	noKey := NewDispatcher(Options{HTTPClient: srv.Client()})
	if cands, err := noKey.Fetch(context.Background(), src); err != nil || len(cands) != 0 {
		t.Fatalf("expected silent empty result without API key, got %d / %v", len(cands), err)
	}

	now := func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }
	d := NewDispatcher(Options{HTTPClient: srv.Client(), Credentials: Credentials{BLSAPIKey: "k"}, Now: now})
	cands, err := d.Fetch(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if got.RegistrationKey != "k" || got.StartYear != "2023" || got.EndYear != "2024" {
		t.Fatalf("unexpected request %+v", got)
	}
	if len(cands) != 1 || cands[0].Title != "Unemployment rate: 3.7 (January 2024)" {
		t.Fatalf("unexpected candidates %+v", cands)
	}
	if cands[0].PublishedAt != "2024-01-01T00:00:00Z" || cands[0].Geo != "US" {
		t.Fatalf("unexpected candidate %+v", cands[0])
	}
}

func TestAPIAdapter_CKAN(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		w.Write([]byte(`{"success":true,"result":{"count":1,"results":[{"name":"retail-sales","title":"Retail sales index","notes":"<p>Monthly retail sales.</p>","metadata_modified":"2024-03-01T09:30:00.123456","organization":{"title":"ONS"},"tags":[{"name":"Retail"}]}]}}`))
	}))
	defer srv.Close()

	src := Source{Type: TypeAPI, Kind: KindCKANSearch, Name: "data.gov.uk", URL: srv.URL + "/api/3/action/package_search", Params: map[string]string{"q": "retail"}}
	cands, err := newTestDispatcher(srv).Fetch(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if gotQuery != "retail" {
		t.Fatalf("expected q param, got %q", gotQuery)
	}
	if len(cands) != 1 {
		t.Fatalf("expected 1 dataset, got %d", len(cands))
	}
	c := cands[0]
	if c.URL != srv.URL+"/dataset/retail-sales" || c.BlurbSeed != "Monthly retail sales." || c.PublishedAt != "2024-03-01T09:30:00Z" {
		t.Fatalf("unexpected candidate %+v", c)
	}
	if c.Metadata["publisher"] != "ONS" {
		t.Fatalf("unexpected metadata %v", c.Metadata)
	}
}

func TestAPIAdapter_Holidays(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`[
			{"date":"2024-12-25","localName":"Christmas Day","name":"Christmas Day","countryCode":"GB","global":true,"types":["Public"]},
			{"date":"2024-12-26","localName":"Boxing Day","name":"Boxing Day","countryCode":"GB","global":false,"counties":["GB-ENG"],"types":["Public"]},
			{"date":"garbage","name":"Broken"}
		]`))
	}))
	defer srv.Close()

	now := func() time.Time { return time.Date(2024, 12, 15, 9, 0, 0, 0, time.UTC) }
	d := NewDispatcher(Options{HTTPClient: srv.Client(), Now: now})
	src := Source{Type: TypeAPI, Kind: KindNagerHolidays, Name: "Nager.Date", URL: srv.URL + "/api/v3/NextPublicHolidays/{country}", Params: map[string]string{"country": "gb"}}
	cands, err := d.Fetch(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if gotPath != "/api/v3/NextPublicHolidays/GB" {
		t.Fatalf("country placeholder not replaced: %q", gotPath)
	}
	if len(cands) != 2 {
		t.Fatalf("expected malformed entry to be skipped, got %d", len(cands))
	}
	if cands[0].Title != "Christmas Day (25 December 2024)" || cands[0].Metadata["days_until"] != 10 {
		t.Fatalf("unexpected first holiday %+v", cands[0])
	}
	if !strings.Contains(cands[1].BlurbSeed, "in GB-ENG") {
		t.Fatalf("expected regional scope in blurb, got %q", cands[1].BlurbSeed)
	}
}

func TestAPIAdapter_HackerNews(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v0/topstories.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[1, 2, 3, 4]`))
	})
	mux.HandleFunc("/v0/item/", func(w http.ResponseWriter, r *http.Request) {
		var id int
		fmt.Sscanf(strings.TrimPrefix(r.URL.Path, "/v0/item/"), "%d.json", &id)
		switch id {
		case 3:
			http.Error(w, "gone", http.StatusNotFound)
		case 4:
			fmt.Fprintf(w, `{"id":4,"title":"Dead story","dead":true}`)
		default:
			fmt.Fprintf(w, `{"id":%d,"title":"Story %d","by":"pg","time":1709632800,"score":%d,"descendants":5,"type":"story"}`, id, id, id*10)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	src := Source{Type: TypeAPI, Kind: KindHackerNews, Name: "Hacker News", URL: srv.URL + "/v0/topstories.json", Params: map[string]string{"limit": "4"}}
	cands, err := newTestDispatcher(srv).Fetch(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 2 {
		t.Fatalf("expected 2 live stories, got %d: %+v", len(cands), cands)
	}
	if cands[0].Title != "Story 1" || cands[1].Title != "Story 2" {
		t.Fatalf("expected rank order to be preserved, got %q, %q", cands[0].Title, cands[1].Title)
	}
	if cands[0].URL != "https://news.ycombinator.com/item?id=1" || cands[0].PublishedAt != "2024-03-05T10:00:00Z" {
		t.Fatalf("unexpected story candidate %+v", cands[0])
	}
}

func TestAPIAdapter_GenericJSON(t *testing.T) {
	t.Run("nested results", func(t *testing.T) {
		srv := serveBody(t, "application/json", `{"data":{"results":[
			{"headline":"Search spend up","summary":"Ad spend grew.","link":"/a","publishedAt":"2024-03-01T00:00:00Z"},
			{"title":{"rendered":"WP style title"},"excerpt":{"rendered":"<p>Excerpt</p>"},"date":1709251200},
			{"summary":"no title here"}
		]}}`)
		cands, err := newTestDispatcher(srv).Fetch(context.Background(), Source{Type: TypeAPI, Name: "Generic", URL: srv.URL + "/api"})
		if err != nil {
			t.Fatal(err)
		}
		if len(cands) != 2 {
			t.Fatalf("expected 2 candidates, got %d", len(cands))
		}
		if cands[0].Title != "Search spend up" || cands[0].URL != srv.URL+"/a" {
			t.Fatalf("unexpected first candidate %+v", cands[0])
		}
		if cands[1].Title != "WP style title" || cands[1].BlurbSeed != "Excerpt" || cands[1].PublishedAt != "2024-03-01T00:00:00Z" {
			t.Fatalf("unexpected second candidate %+v", cands[1])
		}
	})

	t.Run("html page", func(t *testing.T) {
		srv := serveBody(t, "text/html; charset=utf-8", `<html><head><title>Stats portal</title><meta name="description" content="Latest figures"></head><body></body></html>`)
		cands, err := newTestDispatcher(srv).Fetch(context.Background(), Source{Type: TypeAPI, Name: "Portal", URL: srv.URL})
		if err != nil {
			t.Fatal(err)
		}
		if len(cands) != 1 || cands[0].Title != "Stats portal" || cands[0].BlurbSeed != "Latest figures" {
			t.Fatalf("unexpected page candidate %+v", cands)
		}
	})

	t.Run("http error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()
		_, err := newTestDispatcher(srv).Fetch(context.Background(), Source{Type: TypeAPI, Name: "Down", URL: srv.URL})
		if err == nil {
			t.Fatal("expected error for HTTP 502")
		}
	})
}

func TestDispatcher_UnknownType(t *testing.T) {
	d := NewDispatcher(Options{})
	_, err := d.Fetch(context.Background(), Source{Type: "ftp", Name: "x", URL: "ftp://x"})
	if !errors.Is(err, ErrInvalidSource) {
		t.Fatalf("expected ErrInvalidSource, got %v", err)
	}
}
