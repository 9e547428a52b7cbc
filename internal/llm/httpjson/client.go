// Package httpjson talks to any OpenAI-compatible chat completions endpoint
// (vLLM, Ollama, LM Studio, gateways) over plain JSON.
package httpjson

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/joseph-ayodele/docextract/internal/llm"
)

type Config struct {
	BaseURL string // e.g. http://localhost:11434/v1
	APIKey  string // optional; sent as a bearer token
	Model   string
	Headers map[string]string
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		// per-call deadlines come from the context
		httpClient = &http.Client{}
	}
	return &Client{cfg: cfg, http: httpClient, logger: logger}
}

func (c *Client) Name() string { return "http" }

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) Complete(ctx context.Context, msgs []llm.Message, opts llm.Options) (string, error) {
	model := opts.Model
	if model == "" {
		model = c.cfg.Model
	}
	body := map[string]any{
		"model":       model,
		"temperature": opts.Temperature,
		"messages":    msgs,
	}
	if opts.MaxTokens > 0 {
		body["max_tokens"] = opts.MaxTokens
	}
	if opts.JSONMode {
		body["response_format"] = map[string]any{"type": "json_object"}
	}

	headers := map[string]string{}
	for k, v := range c.cfg.Headers {
		headers[k] = v
	}
	if c.cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + c.cfg.APIKey
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, _, err := llm.SendJSON(ctx, c.http, endpoint, body, headers, c.logger)
	if err != nil {
		return "", err
	}

	var cc chatResponse
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.logger.Error("llm.http.decode_error", "error", err, "raw_bytes", len(raw))
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(cc.Choices) == 0 {
		c.logger.Error("llm.http.no_choices", "raw", string(raw))
		return "", fmt.Errorf("no choices in chat response")
	}
	return cc.Choices[0].Message.Content, nil
}
