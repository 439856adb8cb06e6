package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/abuse-guard/internal/config"
	"github.com/ignite/abuse-guard/internal/domain"
	"github.com/ignite/abuse-guard/internal/pkg/distlock"
	"github.com/ignite/abuse-guard/internal/pkg/logger"
	"github.com/ignite/abuse-guard/internal/storage"
)

// archiveBatchSize is how many events go into one archive object and one
// DELETE.
const archiveBatchSize = 5000

// RetentionStore is the purge surface of the repository.
type RetentionStore interface {
	EventsBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.AbuseEvent, error)
	DeleteEvents(ctx context.Context, ids []string) (int64, error)
	PurgeAudit(ctx context.Context, cutoff time.Time) (int64, error)
	PurgeUnlockChecks(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionSummary reports one cleanup cycle.
type RetentionSummary struct {
	EventsArchived      int
	EventsDeleted       int64
	AuditDeleted        int64
	UnlockChecksDeleted int64
}

// RetentionCleanup removes abuse events, audit entries and unlock checks past
// their retention horizon. Events are archived before they are deleted; a
// batch that fails to archive is kept. A horizon of zero days keeps the rows
// forever.
type RetentionCleanup struct {
	store     RetentionStore
	archive   storage.EventArchive
	retention config.RetentionConfig
	locks     distlock.Factory
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// NewRetentionCleanup creates a cleanup worker. archive may be nil to delete
// without archiving.
func NewRetentionCleanup(store RetentionStore, archive storage.EventArchive, retention config.RetentionConfig, locks distlock.Factory, interval time.Duration) *RetentionCleanup {
	if archive == nil {
		archive = storage.Discard{}
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &RetentionCleanup{
		store:     store,
		archive:   archive,
		retention: retention,
		locks:     locks,
		interval:  interval,
		batchSize: archiveBatchSize,
		now:       time.Now,
	}
}

// Start blocks until ctx is cancelled.
func (w *RetentionCleanup) Start(ctx context.Context) {
	runLoop(ctx, "retention", w.interval, func(ctx context.Context) {
		if _, err := w.RunOnce(ctx); err != nil {
			logger.Error("retention cleanup failed", "error", err)
		}
	})
}

// RunOnce runs one cleanup cycle.
func (w *RetentionCleanup) RunOnce(ctx context.Context) (RetentionSummary, error) {
	var summary RetentionSummary
	_, err := withSweepLock(ctx, w.locks, "retention", func(ctx context.Context) error {
		start := time.Now()
		now := w.now()
		var errs []error

		if d := w.retention.EventsDays; d > 0 {
			archived, deleted, err := w.purgeEvents(ctx, now.AddDate(0, 0, -d))
			summary.EventsArchived, summary.EventsDeleted = archived, deleted
			if err != nil {
				errs = append(errs, err)
			}
		}
		if d := w.retention.AuditDays; d > 0 {
			n, err := w.store.PurgeAudit(ctx, now.AddDate(0, 0, -d))
			summary.AuditDeleted = n
			if err != nil {
				errs = append(errs, fmt.Errorf("purge audit: %w", err))
			}
		}
		if d := w.retention.UnlockChecksDays; d > 0 {
			n, err := w.store.PurgeUnlockChecks(ctx, now.AddDate(0, 0, -d))
			summary.UnlockChecksDeleted = n
			if err != nil {
				errs = append(errs, fmt.Errorf("purge unlock checks: %w", err))
			}
		}

		logger.Info("retention cleanup completed",
			"events_archived", summary.EventsArchived,
			"events_deleted", summary.EventsDeleted,
			"audit_deleted", summary.AuditDeleted,
			"unlock_checks_deleted", summary.UnlockChecksDeleted,
			"duration", time.Since(start).Round(time.Millisecond).String())
		return errors.Join(errs...)
	})
	return summary, err
}

// purgeEvents archives and deletes events older than cutoff, one batch at a
// time, oldest first.
func (w *RetentionCleanup) purgeEvents(ctx context.Context, cutoff time.Time) (int, int64, error) {
	var archived int
	var deleted int64
	for {
		if err := ctx.Err(); err != nil {
			return archived, deleted, err
		}

		events, err := w.store.EventsBefore(ctx, cutoff, w.batchSize)
		if err != nil {
			return archived, deleted, fmt.Errorf("list expired events: %w", err)
		}
		if len(events) == 0 {
			return archived, deleted, nil
		}

		if _, err := w.archive.ArchiveEvents(ctx, events); err != nil {
			return archived, deleted, fmt.Errorf("archive events: %w", err)
		}
		archived += len(events)

		ids := make([]string, len(events))
		for i := range events {
			ids[i] = events[i].ID
		}
		n, err := w.store.DeleteEvents(ctx, ids)
		if err != nil {
			return archived, deleted, fmt.Errorf("delete events: %w", err)
		}
		deleted += n

		if len(events) < w.batchSize {
			return archived, deleted, nil
		}
	}
}
