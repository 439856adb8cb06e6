package worker

import (
	"context"
	"time"

	"github.com/ignite/abuse-guard/internal/pkg/distlock"
	"github.com/ignite/abuse-guard/internal/pkg/logger"
	"github.com/ignite/abuse-guard/internal/service/abuse"
)

// UnlockService is what the unlock checker needs from the abuse service.
type UnlockService interface {
	CheckUnlocks(ctx context.Context, concurrency int) (abuse.UnlockSummary, error)
}

// UnlockChecker periodically evaluates every active suspension for
// auto-unlock.
type UnlockChecker struct {
	svc         UnlockService
	locks       distlock.Factory
	interval    time.Duration
	concurrency int
}

// NewUnlockChecker creates a checker running every interval, normally the
// policy's check frequency.
func NewUnlockChecker(svc UnlockService, locks distlock.Factory, interval time.Duration, concurrency int) *UnlockChecker {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &UnlockChecker{svc: svc, locks: locks, interval: interval, concurrency: concurrency}
}

// Start blocks until ctx is cancelled.
func (w *UnlockChecker) Start(ctx context.Context) {
	runLoop(ctx, "unlock", w.interval, func(ctx context.Context) {
		if _, err := w.RunOnce(ctx); err != nil {
			logger.Error("unlock pass failed", "error", err)
		}
	})
}

// RunOnce runs one unlock pass. When the suspension store is unavailable
// the pass is skipped and the error returned; the next tick retries.
func (w *UnlockChecker) RunOnce(ctx context.Context) (abuse.UnlockSummary, error) {
	var summary abuse.UnlockSummary
	_, err := withSweepLock(ctx, w.locks, "unlock", func(ctx context.Context) error {
		var err error
		summary, err = w.svc.CheckUnlocks(ctx, w.concurrency)
		if err != nil {
			return err
		}
		logger.Info("unlock pass completed",
			"checked", summary.Checked, "unlocked", summary.Unlocked, "failed", summary.Failed)
		return nil
	})
	return summary, err
}
