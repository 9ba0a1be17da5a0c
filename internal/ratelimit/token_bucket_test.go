package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBucket(t *testing.T, capacity int, window time.Duration) (*RedisTokenBucket, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	bucket, err := NewRedisTokenBucket(client, Config{Capacity: capacity, Window: window})
	require.NoError(t, err)

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	bucket.now = func() time.Time { return now }
	return bucket, &now
}

func TestBucketExhaustsAndRefills(t *testing.T) {
	ctx := context.Background()
	bucket, now := newTestBucket(t, 2, time.Second)

	for i := 0; i < 2; i++ {
		d, err := bucket.Allow(ctx, "user-1")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}

	d, err := bucket.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))

	*now = now.Add(time.Second)
	d, err = bucket.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestBucketsAreIsolatedPerSubject(t *testing.T) {
	ctx := context.Background()
	bucket, _ := newTestBucket(t, 1, time.Minute)

	d, err := bucket.Allow(ctx, "a")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = bucket.Allow(ctx, "b")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = bucket.Allow(ctx, "a")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestAllowNRejectsOversizedRequest(t *testing.T) {
	bucket, _ := newTestBucket(t, 3, time.Minute)
	d, err := bucket.AllowN(context.Background(), "a", 4)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, int64(3), d.Remaining)
}

func TestNewRedisTokenBucketValidatesConfig(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()

	_, err := NewRedisTokenBucket(nil, Config{Capacity: 1, Window: time.Second})
	require.Error(t, err)
	_, err = NewRedisTokenBucket(client, Config{Capacity: 0, Window: time.Second})
	require.Error(t, err)
	_, err = NewRedisTokenBucket(client, Config{Capacity: 1})
	require.Error(t, err)
}
