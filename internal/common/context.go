package common

import (
	"context"

	"github.com/google/uuid"
)

// Context keys for storing values in context
type contextKey string

const (
	ContextKeyRequestID   contextKey = "request_id"
	ContextKeyExtractorID contextKey = "extractor_id"
)

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// RequestIDFromContext extracts the request ID from context
func RequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return requestID
	}
	return ""
}

// EnsureRequestID returns ctx unchanged if it already carries a request ID,
// otherwise a child context with a fresh one.
func EnsureRequestID(ctx context.Context) (context.Context, string) {
	if rid := RequestIDFromContext(ctx); rid != "" {
		return ctx, rid
	}
	rid := uuid.NewString()
	return WithRequestID(ctx, rid), rid
}

// WithExtractorID adds an extractor ID to the context
func WithExtractorID(ctx context.Context, extractorID string) context.Context {
	return context.WithValue(ctx, ContextKeyExtractorID, extractorID)
}

// ExtractorIDFromContext extracts the extractor ID from context
func ExtractorIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ContextKeyExtractorID).(string); ok {
		return id
	}
	return ""
}
