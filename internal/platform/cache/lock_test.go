package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestLockerRejectsConcurrentHolder(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	locker := NewLocker(client, time.Minute)
	ctx := context.Background()

	err := locker.WithLock(ctx, "ledger:init", func(ctx context.Context) error {
		inner := locker.WithLock(ctx, "ledger:init", func(context.Context) error { return nil })
		require.ErrorIs(t, inner, ErrLocked)
		return nil
	})
	require.NoError(t, err)

	ran := false
	require.NoError(t, locker.WithLock(ctx, "ledger:init", func(context.Context) error {
		ran = true
		return nil
	}))
	require.True(t, ran)
}

func TestNilLockerRunsCallback(t *testing.T) {
	locker := NewLocker(nil, time.Second)
	ran := false
	require.NoError(t, locker.WithLock(context.Background(), "x", func(context.Context) error {
		ran = true
		return nil
	}))
	require.True(t, ran)
}
