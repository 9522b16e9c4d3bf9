package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisDeduperMarksAndExpires(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	d := NewRedisDeduper(client, "test:", time.Minute)

	done, err := d.IsProcessed(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, d.MarkProcessed(ctx, "job-1"))

	done, err = d.IsProcessed(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, done)

	mr.FastForward(2 * time.Minute)

	done, err = d.IsProcessed(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestRedisDeduperClear(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	d := NewRedisDeduper(client, "test:", time.Hour)

	require.NoError(t, d.MarkProcessed(ctx, "a"))
	require.NoError(t, d.MarkProcessed(ctx, "b"))
	require.NoError(t, mr.Set("test:other", "keep"))

	n, err := d.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, mr.Exists("test:other"))
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	_ = client.Close()

	_, err = NewRedisClient(context.Background(), "://bad")
	assert.Error(t, err)
}

func TestMemoryDeduperTTL(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDeduper(time.Minute)
	now := time.Now()
	d.now = func() time.Time { return now }

	require.NoError(t, d.MarkProcessed(ctx, "job"))
	done, _ := d.IsProcessed(ctx, "job")
	assert.True(t, done)

	now = now.Add(2 * time.Minute)
	done, _ = d.IsProcessed(ctx, "job")
	assert.False(t, done)
}
