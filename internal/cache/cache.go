package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/af-corp/convo-gateway/internal/types"
)

const keyPrefix = "convo:answer:"

// ResponseCache stores direct-query answers keyed by the full prompt.
type ResponseCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, answer string)
}

// RedisCache is a ResponseCache backed by Redis. A nil client disables it:
// every lookup misses and writes are dropped.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache creates a response cache. Redis errors are treated as misses.
func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

// Get returns the cached answer for key, if any.
func (c *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	if c.rdb == nil {
		return "", false
	}
	val, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		// redis.Nil is a plain miss; anything else fails open.
		return "", false
	}
	return val, true
}

// Set stores answer under key with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, key, answer string) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Set(ctx, key, answer, c.ttl).Err(); err != nil {
		slog.DebugContext(ctx, "response cache write failed", "error", err)
	}
}

// Key derives the cache key for a chat completion request. Every parameter
// that shapes the answer is hashed; roles and contents are length-prefixed so
// that different message splits never collide.
func Key(model string, maxTokens int, messages []types.Message) string {
	h := sha256.New()
	writeField(h, model)
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(maxTokens))
	h.Write(n[:])
	for _, m := range messages {
		writeField(h, string(m.Role))
		writeField(h, m.Content)
	}
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

func writeField(w io.Writer, s string) {
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(len(s)))
	w.Write(n[:])
	io.WriteString(w, s)
}
