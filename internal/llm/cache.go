package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResponseCache stores raw model output keyed by prompt.
type ResponseCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// CacheKey is a stable digest of the messages and every option that shapes
// the reply: model, JSON mode and the token limit.
func CacheKey(opts Options, msgs []Message) string {
	h := sha256.New()
	_ = json.NewEncoder(h).Encode(struct {
		Model     string    `json:"model"`
		JSONMode  bool      `json:"json_mode"`
		MaxTokens int       `json:"max_tokens"`
		Messages  []Message `json:"messages"`
	}{opts.Model, opts.JSONMode, opts.MaxTokens, msgs})
	return hex.EncodeToString(h.Sum(nil))
}

// RedisCache is a ResponseCache backed by Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisCache(addr string, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
		prefix: "docextract:llm:",
	}
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string) error {
	return c.client.Set(ctx, c.prefix+key, value, c.ttl).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
