package shared

import (
	"context"
	"log/slog"
)

// Invalidator drops derived read models after a document changes.
type Invalidator interface {
	Bump(ctx context.Context) error
}

// Invalidate bumps inv and logs failures. A nil invalidator is a no-op.
func Invalidate(ctx context.Context, inv Invalidator, logger *slog.Logger) {
	if inv == nil {
		return
	}
	if err := inv.Bump(ctx); err != nil && logger != nil {
		logger.Warn("cache invalidation failed", slog.Any("error", err))
	}
}
