// Package backend builds the configured model backend.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/llm"
	"github.com/joseph-ayodele/docextract/internal/llm/anthropic"
	"github.com/joseph-ayodele/docextract/internal/llm/gemini"
	"github.com/joseph-ayodele/docextract/internal/llm/httpjson"
	"github.com/joseph-ayodele/docextract/internal/llm/openai"
)

// New returns the Completer for cfg.Provider and a close function to release it.
func New(ctx context.Context, cfg common.LLMConfig, logger *slog.Logger) (llm.Completer, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Provider {
	case "", "openai":
		return openai.NewClient(openai.Config{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Model: cfg.Model}, logger), noop, nil
	case "azure":
		return openai.NewClient(openai.Config{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Model: cfg.Model, Azure: true}, logger), noop, nil
	case "anthropic":
		return anthropic.NewClient(anthropic.Config{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Model: cfg.Model}, logger), noop, nil
	case "gemini":
		c, err := gemini.NewClient(ctx, gemini.Config{APIKey: cfg.APIKey, Model: cfg.Model}, logger)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	case "http":
		return httpjson.NewClient(httpjson.Config{BaseURL: cfg.BaseURL, APIKey: cfg.APIKey, Model: cfg.Model}, nil, logger), noop, nil
	case "mock":
		return llm.NewEchoMock(`{"data":[]}`), noop, nil
	}
	return nil, nil, common.NewAppError("CONFIG_ERROR", fmt.Sprintf("unknown LLM_PROVIDER %q", cfg.Provider), common.ErrInvalidInput)
}

// NewInvoker wires the configured backend into an llm.Invoker with the
// configured defaults, rate limit and optional cache.
func NewInvoker(ctx context.Context, cfg common.LLMConfig, logger *slog.Logger, opts ...llm.InvokerOption) (*llm.Invoker, func() error, error) {
	c, closeFn, err := New(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	defaults := llm.Options{
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.Timeout,
		JSONMode:    true,
	}
	opts = append([]llm.InvokerOption{llm.WithRateLimit(cfg.RequestsPerSec, 1)}, opts...)
	return llm.NewInvoker(c, defaults, logger, opts...), closeFn, nil
}
