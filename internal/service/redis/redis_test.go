package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*RedisService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	svc := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { svc.Close() })
	return svc, mr
}

func TestGetSet(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	svc, mr := newTestService(t)

	require.NoError(svc.Ping(ctx))

	_, err := svc.Get(ctx, "k")
	require.ErrorIs(err, ErrNotFound)

	require.NoError(svc.Set(ctx, "k", "v", time.Minute))
	v, err := svc.Get(ctx, "k")
	require.NoError(err)
	require.Equal("v", v)
	require.Equal(time.Minute, mr.TTL("k"))

	mr.FastForward(2 * time.Minute)
	_, err = svc.Get(ctx, "k")
	require.ErrorIs(err, ErrNotFound)

	require.NoError(svc.Set(ctx, "k", "v", 0))
	require.NoError(svc.Del(ctx, "k"))
	_, err = svc.Get(ctx, "k")
	require.ErrorIs(err, ErrNotFound)
}

func TestRPushCapped(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	svc, _ := newTestService(t)

	for _, v := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(svc.RPushCapped(ctx, "list", 3, v))
	}
	vals, err := svc.LRange(ctx, "list")
	require.NoError(err)
	require.Equal([]string{"c", "d", "e"}, vals)

	vals, err = svc.LRange(ctx, "missing")
	require.NoError(err)
	require.Empty(vals)
}

func TestLRemAll(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	svc, _ := newTestService(t)

	for _, v := range []string{"a", "b", "a", "c"} {
		require.NoError(svc.RPushCapped(ctx, "list", 10, v))
	}
	require.NoError(svc.LRemAll(ctx, "list"))

	// entries pushed after the caller read the list are untouched
	require.NoError(svc.RPushCapped(ctx, "list", 10, "d"))
	require.NoError(svc.LRemAll(ctx, "list", "a", "c"))

	vals, err := svc.LRange(ctx, "list")
	require.NoError(err)
	require.Equal([]string{"b", "d"}, vals)
}
