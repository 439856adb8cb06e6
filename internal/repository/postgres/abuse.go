package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/abuse-guard/internal/domain"
	"github.com/ignite/abuse-guard/internal/service/abuse"
)

// AbuseRepo implements abuse.Repository against PostgreSQL.
type AbuseRepo struct{ db *sql.DB }

var _ abuse.Repository = (*AbuseRepo)(nil)

// NewAbuseRepo creates a Postgres-backed abuse repository.
func NewAbuseRepo(db *sql.DB) *AbuseRepo { return &AbuseRepo{db: db} }

const eventColumns = `id, tenant_id, signal_type, raw_weight, effective_weight, source,
		       occurred_at, recorded_at, metadata, dedup_key, dismissed, dismiss_reason`

const suspensionColumns = `id, tenant_id, suspension_type, reason, suspended_at, cooldown_days,
		       unlock_eligible_at, score_at_suspension, unlocked_at, unlock_reason,
		       requires_approval, created_by`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *AbuseRepo) GetTenant(ctx context.Context, tenantID string) (*domain.TenantProfile, error) {
	t := &domain.TenantProfile{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, role, COALESCE(business_type,''), COALESCE(email,''), registered_at
		FROM abuse_tenants
		WHERE id = $1
	`, tenantID).Scan(&t.ID, &t.Name, &t.Role, &t.BusinessType, &t.Email, &t.RegisteredAt)
	if err == sql.ErrNoRows {
		return nil, abuse.ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return t, nil
}

// Balance returns the tenant's prepaid balance.
func (r *AbuseRepo) Balance(ctx context.Context, tenantID string) (float64, error) {
	var balance float64
	err := r.db.QueryRowContext(ctx, `SELECT balance FROM abuse_tenants WHERE id = $1`, tenantID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, abuse.ErrTenantNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

func (r *AbuseRepo) GetScore(ctx context.Context, tenantID string) (*domain.TenantScore, error) {
	s := &domain.TenantScore{TenantID: tenantID}
	var lastEvent, lastDecay, grace sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT cumulative_score, level, last_event_at, last_decay_at, grace_period_until,
		       review_required, version, updated_at
		FROM abuse_tenant_scores
		WHERE tenant_id = $1
	`, tenantID).Scan(&s.CumulativeScore, &s.Level, &lastEvent, &lastDecay, &grace,
		&s.ReviewRequired, &s.Version, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get score: %w", err)
	}
	s.LastEventAt = timePtr(lastEvent)
	s.LastDecayAt = timePtr(lastDecay)
	s.GracePeriodUntil = timePtr(grace)
	return s, nil
}

func (r *AbuseRepo) ApplyMutation(ctx context.Context, m abuse.ScoreMutation) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mutation: %w", err)
	}
	defer tx.Rollback()

	s := m.Score
	var res sql.Result
	if m.ExpectedVersion == 0 {
		res, err = tx.ExecContext(ctx, `
			INSERT INTO abuse_tenant_scores
				(tenant_id, cumulative_score, level, last_event_at, last_decay_at,
				 grace_period_until, review_required, version, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (tenant_id) DO NOTHING
		`, s.TenantID, s.CumulativeScore, int(s.Level), nullTime(s.LastEventAt), nullTime(s.LastDecayAt),
			nullTime(s.GracePeriodUntil), s.ReviewRequired, s.Version, s.UpdatedAt)
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE abuse_tenant_scores
			SET cumulative_score = $2, level = $3, last_event_at = $4, last_decay_at = $5,
			    grace_period_until = $6, review_required = $7, version = $8, updated_at = $9
			WHERE tenant_id = $1 AND version = $10
		`, s.TenantID, s.CumulativeScore, int(s.Level), nullTime(s.LastEventAt), nullTime(s.LastDecayAt),
			nullTime(s.GracePeriodUntil), s.ReviewRequired, s.Version, s.UpdatedAt, m.ExpectedVersion)
	}
	if err != nil {
		return fmt.Errorf("write score: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return abuse.ErrConcurrentMutation
	}

	if m.DismissEventID != "" {
		res, err := tx.ExecContext(ctx, `
			UPDATE abuse_events SET dismissed = true, dismiss_reason = $2
			WHERE id = $1 AND NOT dismissed
		`, m.DismissEventID, m.DismissReason)
		if err != nil {
			return fmt.Errorf("dismiss event: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return abuse.ErrEventNotFound
		}
	}
	if m.Event != nil {
		if err := insertEvent(ctx, tx, m.Event); err != nil {
			return err
		}
	}
	for i := range m.Audit {
		if err := insertAudit(ctx, tx, &m.Audit[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mutation: %w", err)
	}
	return nil
}

func insertEvent(ctx context.Context, db execer, e *domain.AbuseEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	meta, err := domain.EncodeMetadata(e.Metadata)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	var complaintType, recipient sql.NullString
	if cm, ok := e.Complaint(); ok {
		complaintType = sql.NullString{String: string(cm.ComplaintType), Valid: true}
		recipient = sql.NullString{String: strings.ToLower(strings.TrimSpace(cm.RecipientFingerprint)), Valid: true}
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO abuse_events
			(id, tenant_id, signal_type, raw_weight, effective_weight, source, occurred_at, recorded_at,
			 metadata, dedup_key, complaint_type, recipient_fingerprint, dismissed, dismiss_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, e.ID, e.TenantID, string(e.SignalType), e.RawWeight, e.EffectiveWeight, string(e.Source), e.OccurredAt, e.RecordedAt,
		meta, e.DedupKey, complaintType, recipient, e.Dismissed, e.DismissReason)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func insertAudit(ctx context.Context, db execer, a *domain.AuditEntry) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO abuse_audit_log (id, tenant_id, actor, action, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, a.ID, a.TenantID, a.Actor, a.Action, a.Detail, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

func scanEvent(row rowScanner) (*domain.AbuseEvent, error) {
	e := &domain.AbuseEvent{}
	var signal, source string
	var meta []byte
	if err := row.Scan(&e.ID, &e.TenantID, &signal, &e.RawWeight, &e.EffectiveWeight, &source,
		&e.OccurredAt, &e.RecordedAt, &meta, &e.DedupKey, &e.Dismissed, &e.DismissReason); err != nil {
		return nil, err
	}
	e.SignalType = domain.SignalType(signal)
	e.Source = domain.Source(source)
	m, err := domain.DecodeMetadata(meta)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", e.ID, err)
	}
	e.Metadata = m
	return e, nil
}

func (r *AbuseRepo) FindEventByDedupKey(ctx context.Context, tenantID, key string, since time.Time) (*domain.AbuseEvent, error) {
	e, err := scanEvent(r.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+`
		FROM abuse_events
		WHERE tenant_id = $1 AND dedup_key = $2 AND recorded_at >= $3
		ORDER BY recorded_at DESC
		LIMIT 1
	`, tenantID, key, since))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find event by dedup key: %w", err)
	}
	return e, nil
}

func (r *AbuseRepo) ComplaintStats(ctx context.Context, tenantID string, since time.Time) (domain.ComplaintStats, error) {
	var s domain.ComplaintStats
	err := r.db.QueryRowContext(ctx, `
		WITH c AS (
			SELECT complaint_type, recipient_fingerprint, source
			FROM abuse_events
			WHERE tenant_id = $1 AND signal_type = 'complaint'
			  AND NOT dismissed AND occurred_at >= $2
		)
		SELECT
			(SELECT COUNT(*) FROM c),
			COALESCE((SELECT MAX(n) FROM (SELECT COUNT(*) AS n FROM c GROUP BY recipient_fingerprint) r), 0),
			COALESCE((SELECT MAX(n) FROM (SELECT COUNT(*) AS n FROM c GROUP BY complaint_type) t), 0),
			(SELECT COUNT(DISTINCT source) FROM c)
	`, tenantID, since).Scan(&s.Total, &s.MaxPerRecipient, &s.MaxPerType, &s.DistinctSources)
	if err != nil {
		return domain.ComplaintStats{}, fmt.Errorf("complaint stats: %w", err)
	}
	return s, nil
}

func (r *AbuseRepo) GetEvent(ctx context.Context, eventID string) (*domain.AbuseEvent, error) {
	e, err := scanEvent(r.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+`
		FROM abuse_events
		WHERE id = $1
	`, eventID))
	if err == sql.ErrNoRows {
		return nil, abuse.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

func (r *AbuseRepo) ListEvents(ctx context.Context, tenantID string, f abuse.EventFilter) ([]domain.AbuseEvent, int, error) {
	where := ` WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	idx := 2
	if f.SignalType != "" {
		where += fmt.Sprintf(" AND signal_type = $%d", idx)
		args = append(args, f.SignalType)
		idx++
	}
	if !f.IncludeDismissed {
		where += " AND NOT dismissed"
	}
	if f.Since != nil {
		where += fmt.Sprintf(" AND occurred_at >= $%d", idx)
		args = append(args, *f.Since)
		idx++
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM abuse_events`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + eventColumns + ` FROM abuse_events` + where +
		fmt.Sprintf(" ORDER BY occurred_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	out := []domain.AbuseEvent{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list events: %w", err)
	}
	return out, total, nil
}

func scanSuspension(row rowScanner) (*domain.SuspensionRecord, error) {
	s := &domain.SuspensionRecord{}
	var typ string
	var eligible, unlocked sql.NullTime
	if err := row.Scan(&s.ID, &s.TenantID, &typ, &s.Reason, &s.SuspendedAt, &s.CooldownDays,
		&eligible, &s.ScoreAtSuspension, &unlocked, &s.UnlockReason,
		&s.RequiresApproval, &s.CreatedBy); err != nil {
		return nil, err
	}
	s.Type = domain.SuspensionType(typ)
	s.UnlockEligibleAt = timePtr(eligible)
	s.UnlockedAt = timePtr(unlocked)
	return s, nil
}

func (r *AbuseRepo) ActiveSuspension(ctx context.Context, tenantID string) (*domain.SuspensionRecord, error) {
	s, err := scanSuspension(r.db.QueryRowContext(ctx, `
		SELECT `+suspensionColumns+`
		FROM abuse_suspensions
		WHERE tenant_id = $1 AND unlocked_at IS NULL
	`, tenantID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active suspension: %w", err)
	}
	return s, nil
}

func (r *AbuseRepo) CreateSuspension(ctx context.Context, s *domain.SuspensionRecord) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO abuse_suspensions
			(id, tenant_id, suspension_type, reason, suspended_at, cooldown_days,
			 unlock_eligible_at, score_at_suspension, requires_approval, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, s.ID, s.TenantID, string(s.Type), s.Reason, s.SuspendedAt, s.CooldownDays,
		nullTime(s.UnlockEligibleAt), s.ScoreAtSuspension, s.RequiresApproval, s.CreatedBy)
	if isUniqueViolation(err) {
		return abuse.ErrAlreadySuspended
	}
	if err != nil {
		return fmt.Errorf("create suspension: %w", err)
	}
	return nil
}

func (r *AbuseRepo) CloseSuspension(ctx context.Context, suspensionID string, unlockedAt time.Time, reason string, requiresApproval bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE abuse_suspensions
		SET unlocked_at = $2, unlock_reason = $3, requires_approval = $4
		WHERE id = $1 AND unlocked_at IS NULL
	`, suspensionID, unlockedAt, reason, requiresApproval)
	if err != nil {
		return fmt.Errorf("close suspension: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return abuse.ErrNotSuspended
	}
	return nil
}

func (r *AbuseRepo) ListActiveSuspensions(ctx context.Context) ([]domain.SuspensionRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+suspensionColumns+`
		FROM abuse_suspensions
		WHERE unlocked_at IS NULL
		ORDER BY suspended_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list active suspensions: %w", err)
	}
	defer rows.Close()

	var out []domain.SuspensionRecord
	for rows.Next() {
		s, err := scanSuspension(rows)
		if err != nil {
			return nil, fmt.Errorf("scan suspension: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *AbuseRepo) SaveUnlockCheck(ctx context.Context, c *domain.UnlockCheck) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO abuse_unlock_checks
			(id, tenant_id, suspension_id, checked_at, score, cooldown_met,
			 threshold_met, improved_met, unlocked, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, c.ID, c.TenantID, c.SuspensionID, c.CheckedAt, c.Score, c.CooldownMet,
		c.ThresholdMet, c.ImprovedMet, c.Unlocked, c.Reason)
	if err != nil {
		return fmt.Errorf("save unlock check: %w", err)
	}
	return nil
}

func (r *AbuseRepo) AppendAudit(ctx context.Context, e *domain.AuditEntry) error {
	return insertAudit(ctx, r.db, e)
}

func (r *AbuseRepo) TenantsAboveScore(ctx context.Context, min float64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT tenant_id FROM abuse_tenant_scores
		WHERE cumulative_score > $1 AND NOT review_required
		ORDER BY tenant_id
	`, min)
	if err != nil {
		return nil, fmt.Errorf("tenants above score: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan tenant id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// EventsBefore returns up to limit events that occurred before cutoff,
// oldest first.
func (r *AbuseRepo) EventsBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.AbuseEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM abuse_events
		WHERE occurred_at < $1
		ORDER BY occurred_at
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("events before: %w", err)
	}
	defer rows.Close()

	var out []domain.AbuseEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// DeleteEvents removes events by id.
func (r *AbuseRepo) DeleteEvents(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM abuse_events WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
