package llm

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// ollamaClient implements the Client interface for local Ollama models.
type ollamaClient struct {
	cfg  Config
	http *http.Client
	base string
}

func newOllamaClient(cfg Config) (Client, error) {
	base := "http://localhost:11434"
	if cfg.BaseURL != "" {
		base = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Model == "" {
		cfg.Model = "llama3.2"
	}
	// No retry for local models
	return &ollamaClient{
		cfg:  cfg,
		base: base,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"`
	Options  *ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func (c *ollamaClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	messages := make([]Message, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, Message{Role: "system", Content: req.System})
	}
	messages = append(messages, req.Messages...)

	oReq := ollamaRequest{
		Model:    c.cfg.Model,
		Messages: messages,
		Options: &ollamaOptions{
			Temperature: pickFloat(req.Temperature, c.cfg.Temperature),
			NumPredict:  pickInt(req.MaxTokens, c.cfg.MaxTokens),
		},
	}
	if req.JSONMode {
		oReq.Format = "json"
	}

	var oResp ollamaResponse
	if err := postJSON(ctx, c.http, Ollama, c.base+"/api/chat", nil, oReq, &oResp, nil); err != nil {
		return nil, err
	}

	return &Response{
		Content:      stripThinkTags(oResp.Message.Content),
		FinishReason: oResp.DoneReason,
		TokensIn:     oResp.PromptEvalCount,
		TokensOut:    oResp.EvalCount,
		Model:        c.cfg.Model,
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}

func (c *ollamaClient) GenerateJSON(ctx context.Context, req *Request, out any) error {
	return generateJSON(ctx, c, req, out)
}

func (c *ollamaClient) Provider() Provider { return Ollama }
func (c *ollamaClient) Close() error       { return nil }
