package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const claudeAPIVersion = "2023-06-01"

// claudeClient implements the Client interface for the Anthropic Messages API.
type claudeClient struct {
	cfg  Config
	http *http.Client
	base string
}

func newClaudeClient(cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s API key is required", Claude)
	}
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-haiku-20241022"
	}
	base := "https://api.anthropic.com/v1"
	if cfg.BaseURL != "" {
		base = strings.TrimRight(cfg.BaseURL, "/")
	}
	client := &claudeClient{
		cfg:  cfg,
		base: base,
		http: &http.Client{Timeout: cfg.Timeout},
	}
	return wrapWithRetry(client, cfg.MaxRetries), nil
}

type claudeRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Model string `json:"model"`
}

func claudeErrorMessage(body []byte) string {
	var e struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error.Message != "" {
		return e.Error.Type + ": " + e.Error.Message
	}
	return ""
}

func (c *claudeClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	system := req.System
	messages := make([]Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = strings.TrimSpace(system + "\n\n" + m.Content)
			continue
		}
		messages = append(messages, m)
	}
	if req.JSONMode {
		system = strings.TrimSpace(system + "\n\nAlways respond with valid JSON only.")
	}

	maxTokens := pickInt(req.MaxTokens, c.cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	cReq := claudeRequest{
		Model:       c.cfg.Model,
		MaxTokens:   maxTokens,
		System:      system,
		Messages:    messages,
		Temperature: pickFloat(req.Temperature, c.cfg.Temperature),
	}

	var cResp claudeResponse
	headers := map[string]string{
		"x-api-key":         c.cfg.APIKey,
		"anthropic-version": claudeAPIVersion,
	}
	if err := postJSON(ctx, c.http, Claude, c.base+"/messages", headers, cReq, &cResp, claudeErrorMessage); err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range cResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("no content in %s response", Claude)
	}

	model := cResp.Model
	if model == "" {
		model = c.cfg.Model
	}
	return &Response{
		Content:      text.String(),
		FinishReason: cResp.StopReason,
		TokensIn:     cResp.Usage.InputTokens,
		TokensOut:    cResp.Usage.OutputTokens,
		Cost:         EstimateCost(model, cResp.Usage.InputTokens, cResp.Usage.OutputTokens),
		Model:        model,
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}

func (c *claudeClient) GenerateJSON(ctx context.Context, req *Request, out any) error {
	return generateJSON(ctx, c, req, out)
}

func (c *claudeClient) Provider() Provider { return Claude }
func (c *claudeClient) Close() error       { return nil }
