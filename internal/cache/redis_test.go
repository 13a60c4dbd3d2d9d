package cache_test

import (
	"errors"
	"testing"
	"time"

	"tempo/backend/internal/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *cache.RedisCache {
	t.Helper()
	mr := miniredis.RunT(t)
	c := cache.NewRedisCache(&cache.CacheConfig{Addr: mr.Addr()})
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSetAndGet(t *testing.T) {
	c := newTestCache(t)

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	require.NoError(t, c.Set("key", payload{Name: "tempo", Count: 3}, time.Minute))

	var got payload
	require.NoError(t, c.Get("key", &got))
	assert.Equal(t, "tempo", got.Name)
	assert.Equal(t, 3, got.Count)
}

func TestGetMiss(t *testing.T) {
	c := newTestCache(t)

	var got string
	err := c.Get("absent", &got)
	assert.True(t, errors.Is(err, cache.ErrCacheMiss))
}

func TestDelete(t *testing.T) {
	c := newTestCache(t)

	require.NoError(t, c.Set("key", "value", time.Minute))
	require.NoError(t, c.Delete("key"))

	var got string
	err := c.Get("key", &got)
	assert.True(t, errors.Is(err, cache.ErrCacheMiss))
}

func TestDeletePattern(t *testing.T) {
	c := newTestCache(t)

	require.NoError(t, c.Set("task:1", "a", time.Minute))
	require.NoError(t, c.Set("task:2", "b", time.Minute))
	require.NoError(t, c.Set("other", "c", time.Minute))

	require.NoError(t, c.DeletePattern("task:*"))

	var got string
	assert.True(t, errors.Is(c.Get("task:1", &got), cache.ErrCacheMiss))
	assert.True(t, errors.Is(c.Get("task:2", &got), cache.ErrCacheMiss))
	assert.NoError(t, c.Get("other", &got))
}

func TestHealth(t *testing.T) {
	c := newTestCache(t)
	assert.NoError(t, c.Health())
}
