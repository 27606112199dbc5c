package llm

import (
	"context"
	"sort"
	"sync"
	"time"
)

// UsageStats aggregates calls for one provider/model pair.
type UsageStats struct {
	Provider  Provider  `json:"provider"`
	Model     string    `json:"model"`
	Requests  int64     `json:"requests"`
	Failures  int64     `json:"failures"`
	TokensIn  int64     `json:"tokens_in"`
	TokensOut int64     `json:"tokens_out"`
	Cost      float64   `json:"cost"`
	LastUsed  time.Time `json:"last_used"`
}

// UsageObserver receives every call outcome, e.g. to feed metrics.
type UsageObserver func(provider string, ok bool, tokensIn, tokensOut int, cost float64)

// UsageTracker is a Client that records usage of the client it wraps.
type UsageTracker struct {
	inner    Client
	model    string
	observer UsageObserver

	mu    sync.Mutex
	stats map[string]*UsageStats
	now   func() time.Time
}

// NewUsageTracker wraps inner. model labels failed calls, which carry no
// model in their response. observer may be nil.
func NewUsageTracker(inner Client, model string, observer UsageObserver) *UsageTracker {
	return &UsageTracker{
		inner:    inner,
		model:    model,
		observer: observer,
		stats:    make(map[string]*UsageStats),
		now:      time.Now,
	}
}

func (t *UsageTracker) Generate(ctx context.Context, req *Request) (*Response, error) {
	resp, err := t.inner.Generate(ctx, req)
	t.record(resp, err)
	return resp, err
}

func (t *UsageTracker) GenerateJSON(ctx context.Context, req *Request, out any) error {
	return generateJSON(ctx, t, req, out)
}

func (t *UsageTracker) Provider() Provider { return t.inner.Provider() }
func (t *UsageTracker) Close() error       { return t.inner.Close() }

func (t *UsageTracker) record(resp *Response, err error) {
	provider := t.inner.Provider()
	model := t.model
	if resp != nil && resp.Model != "" {
		model = resp.Model
	}

	t.mu.Lock()
	key := string(provider) + "/" + model
	s, ok := t.stats[key]
	if !ok {
		s = &UsageStats{Provider: provider, Model: model}
		t.stats[key] = s
	}
	s.Requests++
	s.LastUsed = t.now()
	if err != nil {
		s.Failures++
	} else if resp != nil {
		s.TokensIn += int64(resp.TokensIn)
		s.TokensOut += int64(resp.TokensOut)
		s.Cost += resp.Cost
	}
	t.mu.Unlock()

	if t.observer != nil {
		if err != nil || resp == nil {
			t.observer(string(provider), false, 0, 0, 0)
		} else {
			t.observer(string(provider), true, resp.TokensIn, resp.TokensOut, resp.Cost)
		}
	}
}

// Stats returns a snapshot sorted by provider then model.
func (t *UsageTracker) Stats() []UsageStats {
	t.mu.Lock()
	out := make([]UsageStats, 0, len(t.stats))
	for _, s := range t.stats {
		out = append(out, *s)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Model < out[j].Model
	})
	return out
}

// Totals sums every provider/model bucket.
func (t *UsageTracker) Totals() UsageStats {
	var total UsageStats
	for _, s := range t.Stats() {
		total.Requests += s.Requests
		total.Failures += s.Failures
		total.TokensIn += s.TokensIn
		total.TokensOut += s.TokensOut
		total.Cost += s.Cost
		if s.LastUsed.After(total.LastUsed) {
			total.LastUsed = s.LastUsed
		}
	}
	return total
}
