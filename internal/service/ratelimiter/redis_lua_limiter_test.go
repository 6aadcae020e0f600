package ratelimiter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisLimiter(t *testing.T, p Policies) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return NewRedisLimiter(rdb, p), mr
}

func TestNewRedisLimiter_NilClient(t *testing.T) {
	assert.Nil(t, NewRedisLimiter(nil, nil))
}

func TestRedis_FixedWindow(t *testing.T) {
	l, mr := newTestRedisLimiter(t, nil)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		d, err := l.Admit(ctx, ClassAuth, "1.2.3.4")
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, 5-i, d.Remaining)
	}
	d, err := l.Admit(ctx, ClassAuth, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, 15*time.Minute, d.RetryAfter)
	assert.NotEmpty(t, d.Message)

	// rejected requests are not counted
	v, err := mr.Get("rl:auth:1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, "5", v)

	mr.FastForward(15 * time.Minute)
	d, err = l.Admit(ctx, ClassAuth, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 4, d.Remaining)
}

func TestRedis_KeyWithoutTTLIsRestarted(t *testing.T) {
	l, mr := newTestRedisLimiter(t, Policies{ClassChat: {Max: 2, Window: time.Minute}})
	require.NoError(t, mr.Set("rl:chat:k", "99"))
	d, err := l.Admit(context.Background(), ClassChat, "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
	assert.Greater(t, mr.TTL("rl:chat:k"), time.Duration(0))
}

func TestRedis_ConcurrentAdmissionsNeverExceedMax(t *testing.T) {
	l, _ := newTestRedisLimiter(t, Policies{ClassChat: {Max: 20, Window: time.Minute}})
	var admitted int64
	var wg sync.WaitGroup
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Admit(context.Background(), ClassChat, "shared")
			if err == nil && d.Allowed {
				atomic.AddInt64(&admitted, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(20), admitted)
}

func TestRedis_FallsBackToMemoryWhenRedisDown(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer func() { _ = rdb.Close() }()
	l := NewRedisLimiter(rdb, Policies{ClassChat: {Max: 1, Window: time.Minute}})

	d, err := l.Admit(context.Background(), ClassChat, "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	d, err = l.Admit(context.Background(), ClassChat, "k")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestNewRedisClient(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb, err := NewRedisClient(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	_ = rdb.Close()

	_, err = NewRedisClient(context.Background(), "not a url")
	require.Error(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err = NewRedisClient(ctx, "redis://127.0.0.1:1/0")
	require.Error(t, err)
}
