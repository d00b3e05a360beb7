package fulltext

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultRedisPrefix namespaces cache keys.
const DefaultRedisPrefix = "aminoscout:fulltext:"

// redisEntry embeds the content, which Document keeps out of its JSON.
type redisEntry struct {
	Document
	Content string `json:"content,omitempty"`
}

// RedisCache shares retrieval outcomes between workers. Entries never expire.
type RedisCache struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisCache wraps an existing client.
func NewRedisCache(rdb redis.UniversalClient, prefix string) *RedisCache {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisCache{rdb: rdb, prefix: prefix}
}

// OpenRedisCache parses a redis:// URL, connects and pings.
func OpenRedisCache(ctx context.Context, redisURL, prefix string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, eris.Wrap(err, "fulltext: parse redis url")
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "fulltext: ping redis")
	}
	return NewRedisCache(rdb, prefix), nil
}

// Get implements Cache. Connection errors and undecodable values are misses.
func (c *RedisCache) Get(ctx context.Context, key string) (*Document, bool) {
	raw, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.L().Warn("redis cache read failed", zap.String("cache_key", key), zap.Error(err))
		}
		return nil, false
	}

	var entry redisEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		zap.L().Warn("cache entry corrupt, ignoring", zap.String("cache_key", key), zap.Error(err))
		return nil, false
	}
	doc := entry.Document
	doc.Content = entry.Content
	if doc.Warnings == nil {
		doc.Warnings = make([]string, 0, 2)
	}
	return &doc, true
}

// Put implements Cache.
func (c *RedisCache) Put(ctx context.Context, key string, doc *Document) error {
	raw, err := json.Marshal(redisEntry{Document: *doc, Content: doc.Content})
	if err != nil {
		return eris.Wrap(err, "fulltext: marshal redis entry")
	}
	if err := c.rdb.Set(ctx, c.prefix+key, raw, 0).Err(); err != nil {
		return eris.Wrap(err, "fulltext: redis set")
	}
	return nil
}

// Close releases the underlying client.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
