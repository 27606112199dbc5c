// Package metrics holds the Prometheus collectors for the candidate pipeline
// and the LLM client. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace is the prefix shared by all aistats metrics.
const Namespace = "aistats"

// Metrics groups every collector the service exports.
type Metrics struct {
	SourceFetches       *prometheus.CounterVec
	SourceFetchDuration *prometheus.HistogramVec
	CacheLookups        *prometheus.CounterVec
	StageCandidates     *prometheus.HistogramVec
	PipelineRuns        *prometheus.CounterVec
	PipelineDuration    prometheus.Histogram
	KeywordExpansions   *prometheus.CounterVec
	LLMRequests         *prometheus.CounterVec
	LLMTokens           *prometheus.CounterVec
	LLMCost             *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers all collectors with reg. A nil reg uses a fresh registry so
// tests never collide on the global default.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		SourceFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "fetch",
			Name:      "sources_total",
			Help:      "Source fetches by adapter kind and outcome (success, empty, error).",
		}, []string{"kind", "status"}),
		SourceFetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "fetch",
			Name:      "source_duration_seconds",
			Help:      "Wall time of a single uncached source fetch.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"kind"}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Per-source cache lookups by result (hit, miss, error).",
		}, []string{"result"}),
		StageCandidates: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "pipeline",
			Name:      "stage_candidates",
			Help:      "Candidates leaving each pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"stage"}),
		PipelineRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Pipeline runs by entry point and outcome.",
		}, []string{"entry", "outcome"}),
		PipelineDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "pipeline",
			Name:      "duration_seconds",
			Help:      "End-to-end pipeline duration.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 40},
		}),
		KeywordExpansions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "keywords",
			Name:      "expansions_total",
			Help:      "Per-keyword expansion attempts by outcome (llm, cache, failed).",
		}, []string{"outcome"}),
		LLMRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "LLM completion requests by provider and outcome.",
		}, []string{"provider", "outcome"}),
		LLMTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "LLM tokens by provider and direction (in, out).",
		}, []string{"provider", "direction"}),
		LLMCost: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "llm",
			Name:      "cost_usd_total",
			Help:      "Estimated LLM spend in USD.",
		}, []string{"provider"}),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveSourceFetch records one uncached fetch.
func (m *Metrics) ObserveSourceFetch(kind, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.SourceFetches.WithLabelValues(kind, status).Inc()
	m.SourceFetchDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveCacheLookup records a cache hit, miss or error.
func (m *Metrics) ObserveCacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// ObserveStage records how many candidates a stage produced.
func (m *Metrics) ObserveStage(stage string, n int) {
	if m == nil {
		return
	}
	m.StageCandidates.WithLabelValues(stage).Observe(float64(n))
}

// ObserveRun records a finished pipeline run.
func (m *Metrics) ObserveRun(entry, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.PipelineRuns.WithLabelValues(entry, outcome).Inc()
	m.PipelineDuration.Observe(d.Seconds())
}

// ObserveExpansion records the outcome of expanding one keyword.
func (m *Metrics) ObserveExpansion(outcome string) {
	if m == nil {
		return
	}
	m.KeywordExpansions.WithLabelValues(outcome).Inc()
}

// ObserveLLM records one completion request.
func (m *Metrics) ObserveLLM(provider string, ok bool, tokensIn, tokensOut int, cost float64) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "error"
	}
	m.LLMRequests.WithLabelValues(provider, outcome).Inc()
	if tokensIn > 0 {
		m.LLMTokens.WithLabelValues(provider, "in").Add(float64(tokensIn))
	}
	if tokensOut > 0 {
		m.LLMTokens.WithLabelValues(provider, "out").Add(float64(tokensOut))
	}
	if cost > 0 {
		m.LLMCost.WithLabelValues(provider).Add(cost)
	}
}
