package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	l := NewRedis(client, 3, time.Minute, WithPrefix("test:"))

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "room:1")
		require.Nil(t, err)
		assert.True(t, ok, "hit %d", i)
	}
	ok, err := l.Allow(ctx, "room:1")
	require.Nil(t, err)
	assert.False(t, ok)

	// keys are independent
	ok, err = l.Allow(ctx, "room:2")
	require.Nil(t, err)
	assert.True(t, ok)

	assert.True(t, mr.Exists("test:room:1"))
	assert.Greater(t, mr.TTL("test:room:1"), time.Duration(0))

	mr.FastForward(time.Minute + time.Second)
	ok, err = l.Allow(ctx, "room:1")
	require.Nil(t, err)
	assert.True(t, ok)
}

func TestRedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	_, err := NewRedis(client, 1, time.Second).Allow(context.Background(), "k")
	assert.NotNil(t, err)
}

func TestMemory(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemory(2, 10*time.Second, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	allow := func(key string) bool {
		ok, err := l.Allow(ctx, key)
		require.Nil(t, err)
		return ok
	}

	assert.True(t, allow("a"))
	assert.True(t, allow("a"))
	assert.False(t, allow("a"))
	assert.True(t, allow("b"))

	now = now.Add(10 * time.Second)
	assert.True(t, allow("a"))
}
