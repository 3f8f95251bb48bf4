package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Connect parses a redis:// URL and pings the server. An empty URL returns a
// nil client, which Cache treats as disabled.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cache: parse url: %w", err)
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("cache: ping: %w", err)
	}
	return rdb, nil
}

// Cache is a JSON read-through cache. A nil client disables it and every
// read goes to the loader.
type Cache struct {
	rdb    *redis.Client
	prefix string
}

func New(rdb *redis.Client, prefix string) *Cache {
	return &Cache{rdb: rdb, prefix: prefix}
}

func (c *Cache) Enabled() bool { return c != nil && c.rdb != nil }

func (c *Cache) Ping(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	return c.rdb.Ping(ctx).Err()
}

func (c *Cache) key(k string) string { return c.prefix + k }

// GetOrLoad fills dst from the cache, or from load on a miss and then caches
// the loaded value for ttl. Redis failures degrade to calling load.
func (c *Cache) GetOrLoad(ctx context.Context, key string, dst any, ttl time.Duration, load func() (any, error)) error {
	if c.Enabled() {
		raw, err := c.rdb.Get(ctx, c.key(key)).Bytes()
		switch {
		case err == nil:
			if jerr := json.Unmarshal(raw, dst); jerr == nil {
				return nil
			}
			log.Warn().Str("key", key).Msg("cache: dropping undecodable entry")
		case !errors.Is(err, redis.Nil):
			log.Warn().Err(err).Str("key", key).Msg("cache: get failed")
		}
	}

	v, err := load()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if c.Enabled() {
		if err := c.rdb.Set(ctx, c.key(key), raw, ttl).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("cache: set failed")
		}
	}
	return json.Unmarshal(raw, dst)
}

// Invalidate drops keys; failures are logged since entries expire anyway.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) {
	if !c.Enabled() || len(keys) == 0 {
		return
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	if err := c.rdb.Del(ctx, full...).Err(); err != nil {
		log.Warn().Err(err).Strs("keys", keys).Msg("cache: invalidate failed")
	}
}

func (c *Cache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.rdb.Close()
}
