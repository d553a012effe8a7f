package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/doq-mediator/internal/store"
)

const defaultSweepInterval = 5 * time.Minute

// Purger is the slice of the repository the retention worker needs.
type Purger interface {
	ExpiredSessions(ctx context.Context, ttl time.Duration) ([]string, error)
	DeleteSession(ctx context.Context, sid string) error
}

var _ Purger = (store.Repository)(nil)

// CleanupCallback is called for every session removed by the retention worker.
type CleanupCallback func(sid string)

// StartRetentionWorker runs a background goroutine that periodically removes
// sessions idle for longer than ttl. A non-positive ttl disables it.
func StartRetentionWorker(ctx context.Context, repo Purger, snapshots *Store, ttl, interval time.Duration, onCleanup CleanupCallback) {
	if ttl <= 0 {
		slog.Info("Retention worker disabled")
		return
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Retention worker started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				Sweep(ctx, repo, snapshots, ttl, onCleanup)
			case <-ctx.Done():
				slog.Info("Retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Sweep removes expired sessions once and returns how many were removed.
func Sweep(ctx context.Context, repo Purger, snapshots *Store, ttl time.Duration, onCleanup CleanupCallback) int {
	expired, err := repo.ExpiredSessions(ctx, ttl)
	if err != nil {
		slog.Error("Retention worker failed to get expired sessions", "error", err)
		return 0
	}
	if len(expired) == 0 {
		return 0
	}

	slog.Info("Retention worker found expired sessions", "count", len(expired))

	cleaned := 0
	for _, sid := range expired {
		if snapshots != nil {
			snapshots.Evict(sid)
		}
		if err := repo.DeleteSession(ctx, sid); err != nil {
			slog.Warn("Retention worker failed to delete session", "error", err, "session_id", sid)
			continue
		}
		if onCleanup != nil {
			onCleanup(sid)
		}
		cleaned++
	}

	slog.Info("Retention worker cleanup completed", "cleaned", cleaned)
	return cleaned
}
