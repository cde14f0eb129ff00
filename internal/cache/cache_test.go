package cache

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type video struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func newMemCache(t *testing.T, ttl time.Duration, max int) *Cache {
	t.Helper()
	c := New(context.Background(), "", ttl, max, zerolog.Nop())
	t.Cleanup(func() { c.Close() })
	return c
}

func TestGetSet(t *testing.T) {
	c := newMemCache(t, time.Minute, 10)
	ctx := context.Background()

	var got video
	assert.False(t, c.Get(ctx, "missing", &got))

	c.Set(ctx, "v1", video{ID: "abc", Title: "Intro"})
	require.True(t, c.Get(ctx, "v1", &got))
	assert.Equal(t, video{ID: "abc", Title: "Intro"}, got)
	assert.False(t, c.HasRedis())
	assert.NoError(t, c.Ping(ctx))
}

func TestExpiredEntryIsMiss(t *testing.T) {
	c := newMemCache(t, time.Millisecond, 10)
	ctx := context.Background()

	c.Set(ctx, "k", video{ID: "x"})
	time.Sleep(5 * time.Millisecond)

	var got video
	assert.False(t, c.Get(ctx, "k", &got))
}

func TestEvictionKeepsBound(t *testing.T) {
	c := newMemCache(t, time.Minute, 3)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		c.Set(ctx, id, video{ID: id})
		time.Sleep(time.Millisecond)
	}
	assert.LessOrEqual(t, c.Entries(), 3)

	var got video
	assert.True(t, c.Get(ctx, "e", &got), "most recent entry must survive")
	assert.False(t, c.Get(ctx, "a", &got), "oldest entry must be evicted")
}

func TestNilCacheIsSafe(t *testing.T) {
	var c *Cache
	var got video
	assert.False(t, c.Get(context.Background(), "k", &got))
	c.Set(context.Background(), "k", video{})
	assert.NoError(t, c.Close())
}

func TestInvalidRedisURLDisablesL2(t *testing.T) {
	c := New(context.Background(), "not a url", time.Minute, 10, zerolog.Nop())
	defer c.Close()
	assert.False(t, c.HasRedis())
}

func TestKey(t *testing.T) {
	a := Key("videos.list", "abc")
	b := Key("videos.list", "abc")
	c := Key("videos.list", "abd")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, len("sn:")+24)
}
