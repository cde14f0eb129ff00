package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/snarg/studynotes/internal/metrics"
)

// Cache is a two-tier JSON cache: L1 in process memory, L2 in Redis.
// L2 is optional; without it the cache still works from memory.
type Cache struct {
	l1         sync.Map // key → *entry
	rdb        *redis.Client
	ttl        time.Duration
	maxEntries int
	log        zerolog.Logger

	stopOnce sync.Once
	stop     chan struct{}
}

type entry struct {
	data      []byte
	expiresAt time.Time
}

// New creates a cache. redisURL may be empty to disable L2. An invalid or
// unreachable Redis is logged and L2 is disabled rather than failing startup.
func New(ctx context.Context, redisURL string, ttl time.Duration, maxEntries int, log zerolog.Logger) *Cache {
	c := &Cache{
		ttl:        ttl,
		maxEntries: maxEntries,
		log:        log.With().Str("component", "cache").Logger(),
		stop:       make(chan struct{}),
	}

	if redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			c.log.Warn().Err(err).Msg("invalid redis URL, L2 disabled")
		} else {
			rdb := redis.NewClient(opts)
			pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := rdb.Ping(pingCtx).Err(); err != nil {
				c.log.Warn().Err(err).Msg("redis unreachable, L2 disabled")
				_ = rdb.Close()
			} else {
				c.rdb = rdb
				c.log.Info().Str("addr", opts.Addr).Msg("L2 redis connected")
			}
		}
	}

	c.log.Info().
		Dur("ttl", ttl).
		Bool("redis", c.rdb != nil).
		Int("max_entries", maxEntries).
		Msg("cache initialized")

	go c.cleanupLoop(5 * time.Minute)
	return c
}

// Key builds a deterministic cache key from parts.
func Key(parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return fmt.Sprintf("sn:%x", hash[:12])
}

// Get looks up key in L1 then L2 and decodes the value into v.
// An L2 hit repopulates L1.
func (c *Cache) Get(ctx context.Context, key string, v any) bool {
	if c == nil {
		return false
	}

	if val, ok := c.l1.Load(key); ok {
		e := val.(*entry)
		if time.Now().Before(e.expiresAt) && json.Unmarshal(e.data, v) == nil {
			metrics.CacheHitsTotal.Inc()
			return true
		}
		c.l1.Delete(key)
	}

	if c.rdb != nil {
		data, err := c.rdb.Get(ctx, key).Bytes()
		if err == nil && json.Unmarshal(data, v) == nil {
			c.l1.Store(key, &entry{data: data, expiresAt: time.Now().Add(c.ttl)})
			metrics.CacheHitsTotal.Inc()
			return true
		}
		if err != nil && err != redis.Nil {
			c.log.Debug().Err(err).Msg("L2 get failed")
		}
	}

	metrics.CacheMissesTotal.Inc()
	return false
}

// Set stores v under key in both tiers.
func (c *Cache) Set(ctx context.Context, key string, v any) {
	if c == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		c.log.Debug().Err(err).Str("key", key).Msg("encode failed")
		return
	}

	c.evictIfNeeded()
	c.l1.Store(key, &entry{data: data, expiresAt: time.Now().Add(c.ttl)})

	if c.rdb != nil {
		if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.log.Debug().Err(err).Msg("L2 set failed")
		}
	}
}

// HasRedis reports whether L2 is connected.
func (c *Cache) HasRedis() bool {
	return c != nil && c.rdb != nil
}

// Ping checks the L2 connection. It returns nil when L2 is disabled.
func (c *Cache) Ping(ctx context.Context) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Ping(ctx).Err()
}

// Close stops the cleanup loop and closes the Redis client.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	c.stopOnce.Do(func() { close(c.stop) })
	if c.rdb != nil {
		return c.rdb.Close()
	}
	return nil
}

// Entries returns the number of L1 entries, expired ones included.
func (c *Cache) Entries() int {
	if c == nil {
		return 0
	}
	n := 0
	c.l1.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// evictIfNeeded drops expired entries, then the earliest-expiring ones,
// until L1 has room for one more.
func (c *Cache) evictIfNeeded() {
	if c.maxEntries <= 0 {
		return
	}
	count := c.Entries()
	if count < c.maxEntries {
		return
	}

	now := time.Now()
	c.l1.Range(func(key, val any) bool {
		if e := val.(*entry); now.After(e.expiresAt) {
			c.l1.Delete(key)
			count--
		}
		return count >= c.maxEntries
	})

	for count >= c.maxEntries {
		var oldestKey any
		var oldestAt time.Time
		c.l1.Range(func(key, val any) bool {
			e := val.(*entry)
			if oldestKey == nil || e.expiresAt.Before(oldestAt) {
				oldestKey = key
				oldestAt = e.expiresAt
			}
			return true
		})
		if oldestKey == nil {
			return
		}
		c.l1.Delete(oldestKey)
		count--
	}
}

func (c *Cache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			now := time.Now()
			c.l1.Range(func(key, val any) bool {
				if now.After(val.(*entry).expiresAt) {
					c.l1.Delete(key)
				}
				return true
			})
		}
	}
}
