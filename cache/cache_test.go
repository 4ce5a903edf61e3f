package cache_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaurya/behave/cache"
	"github.com/shaurya/behave/config"
)

func exercise(t *testing.T, c cache.Cache) {
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, cache.ErrMiss)

	require.NoError(t, c.Set(ctx, "greeting", "hello", time.Minute))
	got, err := c.Get(ctx, "greeting")
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	require.NoError(t, c.Set(ctx, "raw", []byte(`{"Title":"Hallo"}`), time.Minute))
	got, err = c.Get(ctx, "raw")
	require.NoError(t, err)
	assert.JSONEq(t, `{"Title":"Hallo"}`, got)

	ok, err := c.Exists(ctx, "greeting")
	require.NoError(t, err)
	assert.True(t, ok)

	calls := 0
	load := func() (any, error) {
		calls++
		return 42, nil
	}
	v, err := c.GetOrSet(ctx, "answer", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, "42", v)
	v, err = c.GetOrSet(ctx, "answer", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, "42", v)
	assert.Equal(t, 1, calls)

	boom := errors.New("boom")
	_, err = c.GetOrSet(ctx, "failing", time.Minute, func() (any, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	require.NoError(t, c.Delete(ctx, "greeting", "raw"))
	ok, err = c.Exists(ctx, "greeting")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Flush(ctx))
	ok, err = c.Exists(ctx, "answer")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryAdapter(t *testing.T) {
	exercise(t, cache.NewMemoryAdapter())
}

func TestMemoryAdapterExpiry(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryAdapter()

	require.NoError(t, c.Set(ctx, "short", "lived", time.Millisecond))
	require.NoError(t, c.Set(ctx, "forever", "kept", 0))
	time.Sleep(5 * time.Millisecond)

	_, err := c.Get(ctx, "short")
	assert.ErrorIs(t, err, cache.ErrMiss)
	got, err := c.Get(ctx, "forever")
	require.NoError(t, err)
	assert.Equal(t, "kept", got)
	assert.Equal(t, 2, c.Len())
}

func TestRedisAdapter(t *testing.T) {
	url := os.Getenv("BEHAVE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("BEHAVE_TEST_REDIS_URL is not set")
	}
	c, err := cache.NewRedisAdapter(config.RedisConfig{URL: url}, "behave_test")
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	exercise(t, c)
}

func TestRedisAdapterRejectsBadURL(t *testing.T) {
	_, err := cache.NewRedisAdapter(config.RedisConfig{URL: "not a url"}, "")
	assert.Error(t, err)
}
