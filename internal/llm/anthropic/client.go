// Package anthropic is the Claude messages backend.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	goanthropic "github.com/liushuangls/go-anthropic/v2"

	"github.com/joseph-ayodele/docextract/internal/llm"
)

const defaultMaxTokens = 4096

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

type Client struct {
	cfg    Config
	client *goanthropic.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	var opts []goanthropic.ClientOption
	if cfg.BaseURL != "" {
		opts = append(opts, goanthropic.WithBaseURL(cfg.BaseURL))
	}
	return &Client{cfg: cfg, client: goanthropic.NewClient(cfg.APIKey, opts...), logger: logger}
}

func (c *Client) Name() string { return "anthropic" }

func (c *Client) Complete(ctx context.Context, msgs []llm.Message, opts llm.Options) (string, error) {
	model := opts.Model
	if model == "" {
		model = c.cfg.Model
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	temp := opts.Temperature

	system, turns := split(msgs)
	resp, err := c.client.CreateMessages(ctx, goanthropic.MessagesRequest{
		Model:       goanthropic.Model(model),
		System:      system,
		Messages:    turns,
		MaxTokens:   maxTokens,
		Temperature: &temp,
	})
	if err != nil {
		return "", fmt.Errorf("anthropic: %w", err)
	}

	var b strings.Builder
	for _, part := range resp.Content {
		if part.Text != nil {
			b.WriteString(*part.Text)
		}
	}
	if b.Len() == 0 {
		c.logger.Error("llm.anthropic.empty_content", "model", model, "stop_reason", resp.StopReason)
		return "", errors.New("anthropic: no text content in response")
	}
	return b.String(), nil
}

// split moves system messages into the request's system prompt; the messages
// API only accepts user and assistant turns.
func split(msgs []llm.Message) (string, []goanthropic.Message) {
	var system []string
	turns := make([]goanthropic.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleSystem:
			system = append(system, m.Content)
		case llm.RoleAssistant:
			turns = append(turns, goanthropic.Message{
				Role:    goanthropic.RoleAssistant,
				Content: []goanthropic.MessageContent{goanthropic.NewTextMessageContent(m.Content)},
			})
		default:
			turns = append(turns, goanthropic.Message{
				Role:    goanthropic.RoleUser,
				Content: []goanthropic.MessageContent{goanthropic.NewTextMessageContent(m.Content)},
			})
		}
	}
	return strings.Join(system, "\n\n"), turns
}
