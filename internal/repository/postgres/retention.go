package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/ignite/abuse-guard/internal/pkg/logger"
)

// purgeBatchSize limits each DELETE to avoid long-running transactions that
// lock the audit tables.
const purgeBatchSize = 10000

// batchPause is the pause between delete batches.
var batchPause = 100 * time.Millisecond

// PurgeAudit deletes audit entries created before cutoff in batches.
func (r *AbuseRepo) PurgeAudit(ctx context.Context, cutoff time.Time) (int64, error) {
	return r.batchDelete(ctx, "abuse_audit_log", `
		DELETE FROM abuse_audit_log
		WHERE id IN (
			SELECT id FROM abuse_audit_log
			WHERE created_at < $2
			LIMIT $1
		)
	`, cutoff)
}

// PurgeUnlockChecks deletes unlock checks made before cutoff in batches.
func (r *AbuseRepo) PurgeUnlockChecks(ctx context.Context, cutoff time.Time) (int64, error) {
	return r.batchDelete(ctx, "abuse_unlock_checks", `
		DELETE FROM abuse_unlock_checks
		WHERE id IN (
			SELECT id FROM abuse_unlock_checks
			WHERE checked_at < $2
			LIMIT $1
		)
	`, cutoff)
}

// batchDelete runs query with purgeBatchSize as $1 and cutoff as $2 until no
// rows are affected, and returns the cumulative count. A missing table is
// logged once and treated as nothing to purge so the worker can run before
// migrations.
func (r *AbuseRepo) batchDelete(ctx context.Context, table, query string, cutoff time.Time) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		queryCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		res, err := r.db.ExecContext(queryCtx, query, purgeBatchSize, cutoff)
		cancel()
		if err != nil {
			if isTableNotExistsError(err) {
				if total == 0 {
					logger.Warn("retention table does not exist, skipping", "table", table)
				}
				return total, nil
			}
			return total, err
		}

		affected, _ := res.RowsAffected()
		if affected == 0 {
			return total, nil
		}
		total += affected

		select {
		case <-ctx.Done():
			return total, ctx.Err()
		case <-time.After(batchPause):
		}
	}
}

func isTableNotExistsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "relation") && strings.Contains(msg, "does not exist")
}
