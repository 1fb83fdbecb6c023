package interpret

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "tarot:interpret:"

// Cache decorates an Interpreter with a Redis-backed result cache. Identical
// requests (same cards, orientations, question, language and style) reuse
// the stored text. Cache failures are logged and never fail the call.
type Cache struct {
	next   Interpreter
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCache(next Interpreter, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	return &Cache{next: next, rdb: rdb, ttl: ttl, logger: logger}
}

func (c *Cache) Interpret(ctx context.Context, req Request) (Result, error) {
	key, err := CacheKey("reading", req)
	if err != nil {
		return c.next.Interpret(ctx, req)
	}
	return c.cached(ctx, key, func() (Result, error) { return c.next.Interpret(ctx, req) })
}

func (c *Cache) FollowUp(ctx context.Context, req FollowUpRequest) (Result, error) {
	key, err := CacheKey("follow_up", req)
	if err != nil {
		return c.next.FollowUp(ctx, req)
	}
	return c.cached(ctx, key, func() (Result, error) { return c.next.FollowUp(ctx, req) })
}

func (c *Cache) cached(ctx context.Context, key string, miss func() (Result, error)) (Result, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var out Result
		if jerr := json.Unmarshal(raw, &out); jerr == nil {
			return out, nil
		}
		c.logger.WarnContext(ctx, "dropping corrupt cache entry", "key", key)
	case !errors.Is(err, redis.Nil):
		c.logger.WarnContext(ctx, "interpretation cache read failed", "error", err)
	}

	out, err := miss()
	if err != nil {
		return Result{}, err
	}

	data, err := json.Marshal(out)
	if err == nil {
		if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.WarnContext(ctx, "interpretation cache write failed", "error", err)
		}
	}
	return out, nil
}

// CacheKey derives a stable key from the kind and the JSON form of v.
func CacheKey(kind string, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(append([]byte(kind+":"), data...))
	return cacheKeyPrefix + kind + ":" + hex.EncodeToString(sum[:]), nil
}
