package redisstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Necesita un Redis real: REDIS_TEST_ADDR=localhost:6379.
func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	c := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Ping(ctx).Err())
	return c
}

func TestTokenStore_TakeOnce(t *testing.T) {
	s := NewTokenStore(newTestClient(t))
	ctx := context.Background()
	jti := "test-" + time.Now().Format("150405.000000000")

	require.NoError(t, s.Put(ctx, jti, time.Minute))

	ok, err := s.Take(ctx, jti)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Take(ctx, jti)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTokenStore_Discard(t *testing.T) {
	s := NewTokenStore(newTestClient(t))
	ctx := context.Background()
	jti := "test-discard-" + time.Now().Format("150405.000000000")

	require.NoError(t, s.Put(ctx, jti, time.Minute))
	require.NoError(t, s.Discard(ctx, jti))

	ok, err := s.Take(ctx, jti)
	require.NoError(t, err)
	assert.False(t, ok)
}
