// Package openai is the OpenAI (and Azure OpenAI) chat completions backend.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/joseph-ayodele/docextract/internal/llm"
)

// Config for the OpenAI client.
type Config struct {
	APIKey     string
	BaseURL    string // default https://api.openai.com/v1; the Azure resource endpoint when Azure is set
	Model      string // e.g., "gpt-4o-mini"; the deployment name on Azure
	Azure      bool
	APIVersion string // Azure only
}

type Client struct {
	cfg    Config
	client *goopenai.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	var oc goopenai.ClientConfig
	if cfg.Azure {
		oc = goopenai.DefaultAzureConfig(cfg.APIKey, cfg.BaseURL)
		if cfg.APIVersion != "" {
			oc.APIVersion = cfg.APIVersion
		}
	} else {
		oc = goopenai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
		}
	}
	return &Client{cfg: cfg, client: goopenai.NewClientWithConfig(oc), logger: logger}
}

func (c *Client) Name() string {
	if c.cfg.Azure {
		return "azure-openai"
	}
	return "openai"
}

func (c *Client) Complete(ctx context.Context, msgs []llm.Message, opts llm.Options) (string, error) {
	model := opts.Model
	if model == "" {
		model = c.cfg.Model
	}
	req := goopenai.ChatCompletionRequest{
		Model:       model,
		Messages:    toChatMessages(msgs),
		Temperature: temperature(opts.Temperature),
		MaxTokens:   opts.MaxTokens,
	}
	if opts.JSONMode {
		req.ResponseFormat = &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai: %w", statusError(err))
	}
	if len(resp.Choices) == 0 {
		c.logger.Error("llm.openai.no_choices", "model", model, "id", resp.ID)
		return "", errors.New("openai: no choices in response")
	}
	c.logger.Debug("llm.openai.usage",
		"model", model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"finish_reason", resp.Choices[0].FinishReason,
	)
	return resp.Choices[0].Message.Content, nil
}

func toChatMessages(msgs []llm.Message) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		role := goopenai.ChatMessageRoleUser
		switch m.Role {
		case llm.RoleSystem:
			role = goopenai.ChatMessageRoleSystem
		case llm.RoleAssistant:
			role = goopenai.ChatMessageRoleAssistant
		}
		out = append(out, goopenai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

// temperature works around omitempty dropping an explicit zero.
func temperature(t float32) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}

func statusError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return errors.Join(&llm.StatusError{StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}, err)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return errors.Join(&llm.StatusError{StatusCode: reqErr.HTTPStatusCode, Body: string(reqErr.Body)}, err)
	}
	return err
}
