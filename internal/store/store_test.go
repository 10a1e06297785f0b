package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "test"), mr
}

func TestRedisStorePutGetForget(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, "k", "v", time.Minute))
	val, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", val)

	has, err := s.Has(ctx, "k")
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, s.Forget(ctx, "k"))
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStoreTTLExpiry(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", "v", time.Minute))
	mr.FastForward(2 * time.Minute)

	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStoreIncrementSetsWindowOnce(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		n, err := s.Increment(ctx, "attempts", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, int64(i), n)
	}

	n, err := s.Count(ctx, "attempts")
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	// The decay window starts at the first increment, not the last.
	mr.FastForward(2 * time.Hour)
	n, err = s.Count(ctx, "attempts")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = s.Increment(ctx, "attempts", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemoryStoreExpiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	now := time.Now()
	s.SetClock(func() time.Time { return now })

	require.NoError(t, s.Put(ctx, "k", "v", time.Minute))
	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	// An expired entry must behave exactly like an absent one.
	now = now.Add(time.Minute)
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	has, err := s.Has(ctx, "k")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestMemoryStoreZeroTTLNeverExpires(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	now := time.Now()
	s.SetClock(func() time.Time { return now })

	require.NoError(t, s.Put(ctx, "k", "v", 0))
	now = now.Add(24 * time.Hour)

	val, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", val)
}
