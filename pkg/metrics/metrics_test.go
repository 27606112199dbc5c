package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveSourceFetch("feed", "success", time.Second)
	m.ObserveCacheLookup("hit")
	m.ObserveStage("filtered", 3)
	m.ObserveRun("fetch", "success", time.Second)
	m.ObserveExpansion("llm")
	m.ObserveLLM("openai", true, 10, 5, 0.01)
}

func TestCounters(t *testing.T) {
	m := New(nil)
	m.ObserveSourceFetch("feed", "success", 200*time.Millisecond)
	m.ObserveSourceFetch("feed", "success", 100*time.Millisecond)
	m.ObserveSourceFetch("html_headings", "error", time.Second)
	m.ObserveLLM("claude", true, 120, 30, 0)
	m.ObserveLLM("claude", false, 0, 0, 0)

	if got := testutil.ToFloat64(m.SourceFetches.WithLabelValues("feed", "success")); got != 2 {
		t.Fatalf("expected 2 feed successes, got %v", got)
	}
	if got := testutil.ToFloat64(m.SourceFetches.WithLabelValues("html_headings", "error")); got != 1 {
		t.Fatalf("expected 1 html error, got %v", got)
	}
	if got := testutil.ToFloat64(m.LLMTokens.WithLabelValues("claude", "in")); got != 120 {
		t.Fatalf("expected 120 input tokens, got %v", got)
	}
	if got := testutil.ToFloat64(m.LLMRequests.WithLabelValues("claude", "error")); got != 1 {
		t.Fatalf("expected 1 failed request, got %v", got)
	}
}

func TestHandler(t *testing.T) {
	m := New(nil)
	m.ObserveCacheLookup("hit")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `aistats_cache_lookups_total{result="hit"} 1`) {
		t.Fatalf("metric missing from exposition:\n%s", rec.Body.String())
	}
}
