package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestNewClient_InvalidProvider(t *testing.T) {
	_, err := NewClient(Config{Provider: "invalid", APIKey: "test"})
	if err == nil {
		t.Fatal("expected error for invalid provider")
	}
}

func TestNewClient_NoProvider(t *testing.T) {
	if _, err := NewClient(Config{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestNewClient_MissingAPIKey(t *testing.T) {
	for _, p := range []Provider{OpenAI, Gemini, Claude, Grok} {
		_, err := NewClient(Config{Provider: p})
		if err == nil {
			t.Fatalf("expected error for %s without API key", p)
		}
	}
}

func TestNewClient_Ollama(t *testing.T) {
	client, err := NewClient(Config{Provider: Ollama, BaseURL: "http://localhost:11434"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.Provider() != Ollama {
		t.Fatalf("expected Ollama provider, got %s", client.Provider())
	}
	client.Close()
}

func TestNewClient_GrokReportsOwnProvider(t *testing.T) {
	client, err := NewClient(Config{Provider: Grok, APIKey: "xai-test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer client.Close()
	if client.Provider() != Grok {
		t.Fatalf("expected grok provider, got %s", client.Provider())
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Provider != OpenAI {
		t.Fatalf("expected OpenAI, got %s", cfg.Provider)
	}
	if cfg.Model != "gpt-4o-mini" {
		t.Fatalf("expected gpt-4o-mini, got %s", cfg.Model)
	}
}

func TestEstimateCost(t *testing.T) {
	cost := EstimateCost("gpt-4o-mini", 1000, 500)
	// gpt-4o-mini: $0.15/1M in, $0.60/1M out
	expected := 0.00015 + 0.0003
	if cost < expected*0.9 || cost > expected*1.1 {
		t.Fatalf("cost %f not in expected range around %f", cost, expected)
	}
}

func TestEstimateCost_DatedVariant(t *testing.T) {
	if got, want := EstimateCost("gpt-4o-mini-2024-07-18", 1000, 500), EstimateCost("gpt-4o-mini", 1000, 500); got != want {
		t.Fatalf("dated variant should price like base model: got %f want %f", got, want)
	}
	if c := EstimateCost("grok-3-mini", 1_000_000, 0); c < 0.2999 || c > 0.3001 {
		t.Fatal("unexpected grok-3-mini input price")
	}
}

func TestEstimateCost_UnknownModel(t *testing.T) {
	cost := EstimateCost("unknown-model", 1000, 500)
	if cost != 0 {
		t.Fatalf("expected 0 cost for unknown model, got %f", cost)
	}
}

func TestOpenAICompatible_Generate(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody openaiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"model":"grok-3-mini","choices":[{"message":{"content":"<think>hmm</think>seo, search marketing"},"finish_reason":"stop"}],"usage":{"prompt_tokens":12,"completion_tokens":6}}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{Provider: Grok, APIKey: "xai-key", BaseURL: srv.URL, MaxRetries: 1})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := client.Generate(context.Background(), &Request{
		System:      "be terse",
		Messages:    []Message{{Role: "user", Content: "expand seo"}},
		Temperature: 0.3,
	})
	if err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Bearer xai-key" || gotPath != "/chat/completions" {
		t.Fatalf("unexpected request auth=%q path=%q", gotAuth, gotPath)
	}
	if len(gotBody.Messages) != 2 || gotBody.Messages[0].Role != "system" || gotBody.Temperature != 0.3 {
		t.Fatalf("unexpected request body %+v", gotBody)
	}
	if resp.Content != "seo, search marketing" {
		t.Fatalf("unexpected content %q", resp.Content)
	}
	if resp.TokensIn != 12 || resp.TokensOut != 6 || resp.Cost <= 0 {
		t.Fatalf("unexpected usage %+v", resp)
	}
}

func TestClaude_GenerateAndError(t *testing.T) {
	var gotSystem string
	fail := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("anthropic-version") != claudeAPIVersion || r.Header.Get("x-api-key") != "k" {
			t.Errorf("missing anthropic headers")
		}
		if fail {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad model"}}`))
			return
		}
		var req claudeRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotSystem = req.System
		w.Write([]byte(`{"model":"claude-3-5-haiku-20241022","content":[{"type":"text","text":"{\"ok\":true}"}],"usage":{"input_tokens":3,"output_tokens":2}}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{Provider: Claude, APIKey: "k", BaseURL: srv.URL, MaxRetries: 1})
	if err != nil {
		t.Fatal(err)
	}
	var out struct {
		OK bool `json:"ok"`
	}
	if err := client.GenerateJSON(context.Background(), &Request{Messages: []Message{{Role: "user", Content: "hi"}}}, &out); err != nil {
		t.Fatal(err)
	}
	if !out.OK || !strings.Contains(gotSystem, "valid JSON") {
		t.Fatalf("unexpected out=%+v system=%q", out, gotSystem)
	}

	fail = true
	_, err = client.Generate(context.Background(), &Request{Messages: []Message{{Role: "user", Content: "hi"}}})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest || !strings.Contains(apiErr.Message, "bad model") {
		t.Fatalf("expected APIError 400, got %v", err)
	}
}

func TestGemini_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "g" || !strings.HasSuffix(r.URL.Path, "/models/gemini-2.0-flash:generateContent") {
			t.Errorf("unexpected url %s", r.URL)
		}
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"a, "},{"text":"b"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":4,"candidatesTokenCount":2}}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{Provider: Gemini, APIKey: "g", BaseURL: srv.URL, MaxRetries: 1})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := client.Generate(context.Background(), &Request{Messages: []Message{{Role: "user", Content: "x"}}})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "a, b" || resp.FinishReason != "STOP" || resp.Model != "gemini-2.0-flash" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestOllama_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Stream || req.Format != "json" {
			t.Errorf("unexpected request %+v", req)
		}
		w.Write([]byte(`{"message":{"content":"{\"n\":2}"},"prompt_eval_count":5,"eval_count":3}`))
	}))
	defer srv.Close()

	client, _ := NewClient(Config{Provider: Ollama, BaseURL: srv.URL})
	var out struct{ N int }
	if err := client.GenerateJSON(context.Background(), &Request{Messages: []Message{{Role: "user", Content: "x"}}}, &out); err != nil {
		t.Fatal(err)
	}
	if out.N != 2 {
		t.Fatalf("expected 2, got %d", out.N)
	}
}

// TestRetryClient_NoRetryOnSuccess verifies no retry happens on success.
func TestRetryClient_NoRetryOnSuccess(t *testing.T) {
	calls := 0
	mock := &mockClient{
		generateFn: func(ctx context.Context, req *Request) (*Response, error) {
			calls++
			return &Response{Content: "hello"}, nil
		},
	}
	rc := wrapWithRetry(mock, 3)
	resp, err := rc.Generate(context.Background(), &Request{
		Messages: []Message{{Role: "user", Content: "test"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "hello" {
		t.Fatalf("expected 'hello', got '%s'", resp.Content)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestRetryClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":{"message":"overloaded"}}`))
			return
		}
		w.Write([]byte(`{"model":"gpt-4o-mini","choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{Provider: OpenAI, APIKey: "k", BaseURL: srv.URL, MaxRetries: 2})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := client.Generate(context.Background(), &Request{Messages: []Message{{Role: "user", Content: "x"}}})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "ok" || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected success on second attempt, content=%q calls=%d", resp.Content, calls)
	}
}

func TestRetryClient_NoRetryOnClientError(t *testing.T) {
	calls := 0
	mock := &mockClient{
		generateFn: func(ctx context.Context, req *Request) (*Response, error) {
			calls++
			return nil, &APIError{Provider: OpenAI, StatusCode: http.StatusUnauthorized, Message: "bad key"}
		},
	}
	_, err := wrapWithRetry(mock, 3).Generate(context.Background(), &Request{})
	if err == nil || calls != 1 {
		t.Fatalf("expected single failing call, calls=%d err=%v", calls, err)
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{&APIError{StatusCode: 429}, true},
		{&APIError{StatusCode: 502}, true},
		{&APIError{StatusCode: 400}, false},
		{context.Canceled, false},
		{context.DeadlineExceeded, true},
		{errors.New("read tcp: connection reset by peer"), true},
		{errors.New("unmarshal response: invalid character"), false},
	}
	for _, tt := range tests {
		if got := isRetryableError(tt.err); got != tt.want {
			t.Errorf("isRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("XAI_API_KEY", "xai-123")

	cfg := FromEnv(Config{Model: "ignored-without-provider"})
	if cfg.Provider != Grok || cfg.APIKey != "xai-123" || cfg.Model != "grok-3-mini" {
		t.Fatalf("unexpected detected config %+v", cfg)
	}

	cfg = FromEnv(Config{Provider: OpenAI})
	if cfg.APIKey != "" {
		t.Fatalf("explicit provider must not borrow another vendor's key: %+v", cfg)
	}

	cfg = FromEnv(Config{Provider: Claude, APIKey: "explicit"})
	if cfg.APIKey != "explicit" {
		t.Fatal("explicit key must win")
	}
}

func TestUsageTracker(t *testing.T) {
	fail := false
	mock := &mockClient{
		generateFn: func(ctx context.Context, req *Request) (*Response, error) {
			if fail {
				return nil, errors.New("boom")
			}
			return &Response{Content: `{"a":1}`, Model: "gpt-4o-mini", TokensIn: 10, TokensOut: 5, Cost: 0.01}, nil
		},
	}

	var observed []bool
	tracker := NewUsageTracker(mock, "gpt-4o-mini", func(provider string, ok bool, in, out int, cost float64) {
		observed = append(observed, ok)
	})

	tracker.Generate(context.Background(), &Request{})
	var out map[string]int
	if err := tracker.GenerateJSON(context.Background(), &Request{}, &out); err != nil || out["a"] != 1 {
		t.Fatalf("GenerateJSON: out=%v err=%v", out, err)
	}
	fail = true
	tracker.Generate(context.Background(), &Request{})

	stats := tracker.Stats()
	if len(stats) != 1 {
		t.Fatalf("expected one bucket, got %d", len(stats))
	}
	s := stats[0]
	if s.Requests != 3 || s.Failures != 1 || s.TokensIn != 20 || s.TokensOut != 10 {
		t.Fatalf("unexpected stats %+v", s)
	}
	if total := tracker.Totals(); total.Cost < 0.0199 || total.Cost > 0.0201 {
		t.Fatalf("unexpected total cost %f", total.Cost)
	}
	if len(observed) != 3 || observed[2] {
		t.Fatalf("unexpected observer calls %v", observed)
	}
}

type mockClient struct {
	generateFn func(ctx context.Context, req *Request) (*Response, error)
}

func (m *mockClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	return m.generateFn(ctx, req)
}
func (m *mockClient) GenerateJSON(ctx context.Context, req *Request, out any) error {
	return generateJSON(ctx, m, req, out)
}
func (m *mockClient) Provider() Provider { return "mock" }
func (m *mockClient) Close() error       { return nil }

func TestStripThinkTags(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"no tags", "Hello world", "Hello world"},
		{"with think tags", "<think>reasoning here</think>Actual response", "Actual response"},
		{"multiline think", "<think>\nstep 1\nstep 2\n</think>\nFinal answer", "Final answer"},
		{"only think", "<think>only thinking</think>", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripThinkTags(tt.input); got != tt.expected {
				t.Errorf("stripThinkTags(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
