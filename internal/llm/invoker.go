package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/metrics"
)

// Invoker wraps a Completer with a per-call timeout, error classification,
// optional rate limiting and an optional response cache. It never retries.
type Invoker struct {
	completer Completer
	defaults  Options
	limiter   *rate.Limiter
	cache     ResponseCache
	metrics   *metrics.Collector
	logger    *slog.Logger
}

type InvokerOption func(*Invoker)

// WithRateLimit caps calls per second; rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) InvokerOption {
	return func(i *Invoker) {
		if rps <= 0 {
			i.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		i.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithCache enables the response cache for deterministic (temperature 0) calls.
func WithCache(c ResponseCache) InvokerOption {
	return func(i *Invoker) { i.cache = c }
}

func WithMetrics(m *metrics.Collector) InvokerOption {
	return func(i *Invoker) { i.metrics = m }
}

func NewInvoker(c Completer, defaults Options, logger *slog.Logger, opts ...InvokerOption) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	if defaults.Timeout <= 0 {
		defaults.Timeout = constants.DefaultModelTimeout
	}
	i := &Invoker{completer: c, defaults: defaults, logger: logger}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Defaults returns the options applied when a call leaves them unset.
func (i *Invoker) Defaults() Options { return i.defaults }

func (i *Invoker) merge(o Options) Options {
	if o.Model == "" {
		o.Model = i.defaults.Model
	}
	if o.Temperature == 0 {
		o.Temperature = i.defaults.Temperature
	}
	if o.MaxTokens == 0 {
		o.MaxTokens = i.defaults.MaxTokens
	}
	if o.Timeout <= 0 {
		o.Timeout = i.defaults.Timeout
	}
	o.JSONMode = o.JSONMode || i.defaults.JSONMode
	return o
}

// Invoke sends msgs to the backend once. Errors wrap common.ErrModelTimeout
// when the call ran out of time, common.ErrModelUnavailable for any other
// backend failure, and the caller's context error when the caller cancelled.
func (i *Invoker) Invoke(ctx context.Context, msgs []Message, opts Options) (string, error) {
	opts = i.merge(opts)
	backend := i.completer.Name()
	ctx, rid := common.EnsureRequestID(ctx)

	if i.limiter != nil {
		if err := i.limiter.Wait(ctx); err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return "", fmt.Errorf("llm invoke: %w", context.Canceled)
			}
			return "", fmt.Errorf("%w: rate limit wait: %w", common.ErrModelTimeout, err)
		}
	}

	if key := i.cacheKey(msgs, opts); key != "" {
		if hit, ok, err := i.cache.Get(ctx, key); err != nil {
			i.logger.Warn("llm.cache.get_failed", "req_id", rid, "error", err)
		} else if ok {
			i.logger.Info("llm.cache.hit", "req_id", rid, "backend", backend, "model", opts.Model)
			i.metrics.RecordCacheHit()
			return hit, nil
		}
	}

	i.logger.Info("llm.invoke.start",
		"req_id", rid,
		"extractor_id", common.ExtractorIDFromContext(ctx),
		"backend", backend,
		"model", opts.Model,
		"messages", len(msgs),
		"timeout_ms", opts.Timeout.Milliseconds(),
	)

	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	out, err := i.completer.Complete(callCtx, msgs, opts)
	cancel()
	elapsed := time.Since(start)

	if err != nil {
		cerr := i.classify(ctx, callCtx, err)
		i.metrics.RecordLLMRequest(backend, opts.Model, common.CodeOf(cerr), elapsed)
		i.logger.Error("llm.invoke.error",
			"req_id", rid,
			"backend", backend,
			"model", opts.Model,
			"code", common.CodeOf(cerr),
			"error", err,
			"elapsed_ms", elapsed.Milliseconds(),
		)
		return "", cerr
	}

	i.metrics.RecordLLMRequest(backend, opts.Model, "OK", elapsed)
	i.logger.Info("llm.invoke.done",
		"req_id", rid,
		"backend", backend,
		"model", opts.Model,
		"output_bytes", len(out),
		"elapsed_ms", elapsed.Milliseconds(),
	)
	return out, nil
}

// Remember caches out as the reply to msgs. Invoke never caches on its own:
// callers call Remember once they have accepted an output, so a rejected
// reply is never replayed.
func (i *Invoker) Remember(ctx context.Context, msgs []Message, opts Options, out string) {
	key := i.cacheKey(msgs, i.merge(opts))
	if key == "" {
		return
	}
	if err := i.cache.Set(ctx, key, out); err != nil {
		i.logger.Warn("llm.cache.set_failed", "req_id", common.RequestIDFromContext(ctx), "error", err)
	}
}

// cacheKey is "" when caching does not apply: no cache, or a non-zero temperature.
func (i *Invoker) cacheKey(msgs []Message, opts Options) string {
	if i.cache == nil || opts.Temperature != 0 {
		return ""
	}
	return CacheKey(opts, msgs)
}

func (i *Invoker) classify(parent, call context.Context, err error) error {
	if errors.Is(parent.Err(), context.Canceled) {
		return fmt.Errorf("llm invoke: %w", context.Canceled)
	}
	if errors.Is(call.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", common.ErrModelTimeout, err)
	}
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode == 408 {
		return fmt.Errorf("%w: %w", common.ErrModelTimeout, err)
	}
	return fmt.Errorf("%w: %w", common.ErrModelUnavailable, err)
}
