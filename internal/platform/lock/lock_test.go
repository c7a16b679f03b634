package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-logistics/internal/shared"
)

func TestDoRejectsConcurrentHolder(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := New(client, time.Minute)
	ctx := context.Background()

	err := locker.Do(ctx, "logistics:upload:U-1:lock", func(ctx context.Context) error {
		inner := locker.Do(ctx, "logistics:upload:U-1:lock", func(context.Context) error { return nil })
		require.ErrorIs(t, inner, ErrBusy)
		require.ErrorIs(t, inner, shared.ErrInvalidState)
		return nil
	})
	require.NoError(t, err)
	require.False(t, mr.Exists("logistics:upload:U-1:lock"))

	ran := false
	require.NoError(t, locker.Do(ctx, "logistics:upload:U-1:lock", func(context.Context) error {
		ran = true
		return nil
	}))
	require.True(t, ran)
}

func TestNilClientRunsUnguarded(t *testing.T) {
	ran := false
	require.NoError(t, New(nil, 0).Do(context.Background(), "k", func(context.Context) error {
		ran = true
		return nil
	}))
	require.True(t, ran)
}
