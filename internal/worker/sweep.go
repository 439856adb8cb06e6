// Package worker runs the background sweeps: score decay, auto-unlock
// checks and retention cleanup. Each sweep is a Start(ctx) loop that runs
// once immediately and then on a ticker until ctx is cancelled.
package worker

import (
	"context"
	"time"

	"github.com/ignite/abuse-guard/internal/pkg/distlock"
	"github.com/ignite/abuse-guard/internal/pkg/logger"
)

// runLoop calls fn now and on every tick until ctx is done.
func runLoop(ctx context.Context, name string, interval time.Duration, fn func(ctx context.Context)) {
	logger.Info("worker starting", "worker", name, "interval", interval.String())

	fn(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("worker stopping", "worker", name)
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// withSweepLock runs fn only if this replica wins the sweep lock. With no
// lock factory fn always runs. It reports whether fn ran.
func withSweepLock(ctx context.Context, locks distlock.Factory, name string, fn func(ctx context.Context) error) (bool, error) {
	if locks == nil {
		return true, fn(ctx)
	}

	lock := locks(distlock.SweepKey(name))
	ok, err := lock.Acquire(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		logger.Debug("sweep held by another replica", "sweep", name)
		return false, nil
	}
	defer func() {
		// Release on a fresh context so a cancelled sweep still frees the lock.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			logger.Warn("sweep lock release failed", "sweep", name, "error", err)
		}
	}()
	return true, fn(ctx)
}
