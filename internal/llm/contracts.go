package llm

import (
	"context"
	"fmt"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn sent to a model.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Options tune a single model call.
type Options struct {
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
	JSONMode    bool // ask the backend for a JSON object response when it supports one
}

// Completer is a model backend: prompt in, text out. Implementations make
// exactly one request per call and do not retry.
type Completer interface {
	Complete(ctx context.Context, msgs []Message, opts Options) (string, error)
	Name() string
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, msgs []Message, opts Options) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, msgs []Message, opts Options) (string, error) {
	return f(ctx, msgs, opts)
}

func (f CompleterFunc) Name() string { return "func" }

// StatusError is returned by HTTP backends for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("non-2xx status: %d", e.StatusCode)
}
