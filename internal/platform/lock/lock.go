// Package lock serialises work on a key across processes using Redis.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-logistics/internal/shared"
)

// ErrBusy is returned when another worker holds the key.
var ErrBusy = fmt.Errorf("lock: key is held by another operation: %w", shared.ErrInvalidState)

// Locker obtains short-lived Redis locks.
type Locker struct {
	client *redislock.Client
	ttl    time.Duration
}

// New builds a Locker. A nil client yields a Locker that runs callbacks unguarded.
func New(client *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	l := &Locker{ttl: ttl}
	if client != nil {
		l.client = redislock.New(client)
	}
	return l
}

// Do runs fn while holding key. The lock is refreshed once fn outlives half the TTL.
func (l *Locker) Do(ctx context.Context, key string, fn func(context.Context) error) error {
	if l == nil || l.client == nil {
		return fn(ctx)
	}
	held, err := l.client.Obtain(ctx, key, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return fmt.Errorf("%w: %s", ErrBusy, key)
	}
	if err != nil {
		return err
	}
	defer func() {
		_ = held.Release(context.WithoutCancel(ctx))
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(l.ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = held.Refresh(ctx, l.ttl, nil)
			}
		}
	}()
	return fn(ctx)
}
