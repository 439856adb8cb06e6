package worker

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/abuse-guard/internal/domain"
	"github.com/ignite/abuse-guard/internal/pkg/distlock"
	"github.com/ignite/abuse-guard/internal/pkg/logger"
)

// DecayService is what the decay sweep needs from the abuse service.
type DecayService interface {
	DecayCandidates(ctx context.Context) ([]string, error)
	Decay(ctx context.Context, tenantID string) (*domain.TenantScore, error)
}

// DecaySummary reports one decay pass.
type DecaySummary struct {
	Candidates int
	Failed     int
	Skipped    bool
}

// DecaySweeper periodically applies inactivity decay to every tenant with a
// score above the floor.
type DecaySweeper struct {
	svc         DecayService
	locks       distlock.Factory
	interval    time.Duration
	concurrency int
}

// NewDecaySweeper creates a sweeper. locks may be nil on a single replica.
func NewDecaySweeper(svc DecayService, locks distlock.Factory, interval time.Duration, concurrency int) *DecaySweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &DecaySweeper{svc: svc, locks: locks, interval: interval, concurrency: concurrency}
}

// Start blocks until ctx is cancelled.
func (w *DecaySweeper) Start(ctx context.Context) {
	runLoop(ctx, "decay", w.interval, func(ctx context.Context) {
		if _, err := w.RunOnce(ctx); err != nil {
			logger.Error("decay sweep failed", "error", err)
		}
	})
}

// RunOnce decays every candidate with bounded parallelism. A failing tenant
// is counted and left for the next pass.
func (w *DecaySweeper) RunOnce(ctx context.Context) (DecaySummary, error) {
	var summary DecaySummary
	ran, err := withSweepLock(ctx, w.locks, "decay", func(ctx context.Context) error {
		start := time.Now()
		ids, err := w.svc.DecayCandidates(ctx)
		if err != nil {
			return err
		}

		var failed int64
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(w.concurrency)
		for _, id := range ids {
			tenantID := id
			g.Go(func() error {
				if _, err := w.svc.Decay(gctx, tenantID); err != nil {
					atomic.AddInt64(&failed, 1)
					logger.Warn("decay failed", "tenant_id", tenantID, "error", err)
				}
				return nil
			})
		}
		_ = g.Wait()

		summary = DecaySummary{Candidates: len(ids), Failed: int(failed)}
		logger.Info("decay sweep completed",
			"candidates", summary.Candidates, "failed", summary.Failed,
			"duration", time.Since(start).Round(time.Millisecond).String())
		return nil
	})
	if !ran && err == nil {
		summary.Skipped = true
	}
	return summary, err
}
