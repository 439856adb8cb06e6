package abuse

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/abuse-guard/internal/config"
	"github.com/ignite/abuse-guard/internal/domain"
	"github.com/ignite/abuse-guard/internal/pkg/logger"
	"github.com/ignite/abuse-guard/internal/pkg/retry"
	"github.com/ignite/abuse-guard/internal/pkg/tenantlock"
)

const systemActor = "system"

// ScoreLedger is the only writer of TenantScore. It appends AbuseEvents and
// moves the cumulative score, always under the tenant's lock.
type ScoreLedger struct {
	repo   Repository
	policy *Policy
	locks  *tenantlock.Locker
	now    func() time.Time
}

// NewScoreLedger creates a ledger. locks must be shared with every other
// component that reads-then-writes tenant state.
func NewScoreLedger(repo Repository, policy *Policy, locks *tenantlock.Locker, now func() time.Time) *ScoreLedger {
	if now == nil {
		now = time.Now
	}
	return &ScoreLedger{repo: repo, policy: policy, locks: locks, now: now}
}

// RecordRequest is one scored signal ready to be appended.
type RecordRequest struct {
	TenantID   string
	SignalType domain.SignalType
	Source     domain.Source
	RawWeight  int
	Delta      int
	Metadata   domain.Metadata
	// DedupKey makes the record idempotent inside the dedup window.
	DedupKey   string
	OccurredAt time.Time
	// GraceUntil is stamped on the score row the first time it is written.
	GraceUntil *time.Time
}

// RecordResult is the outcome of Record.
type RecordResult struct {
	Score       domain.TenantScore
	Event       *domain.AbuseEvent
	Duplicate   bool
	DuplicateOf string
	// Halted is set when the tenant's score is frozen pending manual review.
	// The event is still persisted; the score is not moved.
	Halted bool
}

// Record appends an event and adds its weight to the tenant's score.
func (l *ScoreLedger) Record(ctx context.Context, req RecordRequest) (RecordResult, error) {
	var res RecordResult
	err := l.locks.WithLock(ctx, req.TenantID, func() error {
		var err error
		res, err = l.record(ctx, req)
		return err
	})
	return res, err
}

// record is Record with the tenant lock already held.
func (l *ScoreLedger) record(ctx context.Context, req RecordRequest) (RecordResult, error) {
	now := l.now()
	req.OccurredAt = clampOccurred(req.OccurredAt, now)

	// The window is measured on ingestion time so a replayed complaint is
	// caught however old its own timestamp is.
	if req.DedupKey != "" && l.policy.dedupWindow > 0 {
		prior, err := l.repo.FindEventByDedupKey(ctx, req.TenantID, req.DedupKey, now.Add(-l.policy.dedupWindow))
		if err != nil {
			return RecordResult{}, fmt.Errorf("dedup lookup: %w", err)
		}
		if prior != nil {
			score, err := l.repo.GetScore(ctx, req.TenantID)
			if err != nil {
				return RecordResult{}, fmt.Errorf("get score: %w", err)
			}
			note := newAudit(req.TenantID, systemActor, domain.AuditDuplicate,
				fmt.Sprintf("duplicate of event %s, key %s", prior.ID, req.DedupKey), now)
			if err := l.repo.AppendAudit(ctx, &note); err != nil {
				logger.Warn("audit append failed", "tenant_id", req.TenantID, "error", err)
			}
			logger.Info("duplicate complaint dropped", "tenant_id", req.TenantID, "duplicate_of", prior.ID)
			return RecordResult{Score: *score, Duplicate: true, DuplicateOf: prior.ID}, nil
		}
	}

	event := &domain.AbuseEvent{
		ID:              uuid.NewString(),
		TenantID:        req.TenantID,
		SignalType:      req.SignalType,
		RawWeight:       req.RawWeight,
		EffectiveWeight: req.Delta,
		Source:          req.Source,
		OccurredAt:      req.OccurredAt,
		RecordedAt:      now,
		Metadata:        req.Metadata,
		DedupKey:        req.DedupKey,
	}

	var halted bool
	score, err := l.mutate(ctx, req.TenantID, func(cur domain.TenantScore) (*ScoreMutation, error) {
		next := cur
		next.UpdatedAt = now
		if next.GracePeriodUntil == nil && req.GraceUntil != nil {
			g := *req.GraceUntil
			next.GracePeriodUntil = &g
		}
		if next.LastEventAt == nil || req.OccurredAt.After(*next.LastEventAt) {
			t := req.OccurredAt
			next.LastEventAt = &t
		}

		m := &ScoreMutation{Score: &next, Event: event}
		halted = false
		switch {
		case cur.ReviewRequired:
			halted = true
		case !validScore(cur.CumulativeScore):
			halted = true
			next.ReviewRequired = true
			m.Audit = append(m.Audit, newAudit(req.TenantID, systemActor, domain.AuditInvalidScore,
				fmt.Sprintf("score %v observed while recording event %s", cur.CumulativeScore, event.ID), now))
			logger.Error("invalid score state, tenant halted for review",
				"tenant_id", req.TenantID, "score", fmt.Sprint(cur.CumulativeScore))
		default:
			next.CumulativeScore = cur.CumulativeScore + float64(req.Delta)
			next.Level = l.policy.classifier.Classify(next.CumulativeScore)
		}
		return m, nil
	})
	if err != nil {
		return RecordResult{}, fmt.Errorf("record event: %w", err)
	}

	return RecordResult{Score: *score, Event: event, Halted: halted}, nil
}

// Decay applies the inactivity decay to one tenant.
func (l *ScoreLedger) Decay(ctx context.Context, tenantID string) (domain.TenantScore, error) {
	var out domain.TenantScore
	err := l.locks.WithLock(ctx, tenantID, func() error {
		var err error
		out, _, err = l.decay(ctx, tenantID)
		return err
	})
	return out, err
}

// decay is Decay with the tenant lock already held. decayed reports whether
// the score moved.
func (l *ScoreLedger) decay(ctx context.Context, tenantID string) (_ domain.TenantScore, decayed bool, _ error) {
	now := l.now()
	var halted bool
	score, err := l.mutate(ctx, tenantID, func(cur domain.TenantScore) (*ScoreMutation, error) {
		halted, decayed = false, false
		if cur.ReviewRequired {
			halted = true
			return nil, nil
		}
		if !validScore(cur.CumulativeScore) {
			halted = true
			next := cur
			next.ReviewRequired = true
			next.UpdatedAt = now
			logger.Error("invalid score state found by decay, tenant halted for review",
				"tenant_id", tenantID, "score", fmt.Sprint(cur.CumulativeScore))
			return &ScoreMutation{Score: &next, Audit: []domain.AuditEntry{
				newAudit(tenantID, systemActor, domain.AuditInvalidScore,
					fmt.Sprintf("score %v observed by decay", cur.CumulativeScore), now),
			}}, nil
		}

		if cur.LastEventAt != nil && cur.LastEventAt.After(now) {
			// A last event in the future would stall decay; pull it back.
			next := cur
			next.LastEventAt = &now
			next.UpdatedAt = now
			logger.Warn("future last event time reset", "tenant_id", tenantID, "last_event_at", cur.LastEventAt.Format(time.RFC3339))
			return &ScoreMutation{Score: &next}, nil
		}

		amount, through, ok := decayAmount(l.policy.decay, cur, now)
		if !ok {
			return nil, nil
		}
		next := cur
		next.CumulativeScore = math.Max(cur.CumulativeScore-amount, l.policy.decay.MinScore)
		next.Level = l.policy.classifier.Classify(next.CumulativeScore)
		next.LastDecayAt = &through
		next.UpdatedAt = now
		decayed = next.CumulativeScore != cur.CumulativeScore
		return &ScoreMutation{Score: &next}, nil
	})
	if err != nil {
		return domain.TenantScore{}, false, fmt.Errorf("decay: %w", err)
	}
	if halted {
		return *score, false, fmt.Errorf("decay tenant %s: %w", tenantID, ErrInvalidScoreState)
	}
	return *score, decayed, nil
}

// decayAmount returns how much to subtract and the instant the decay is
// accounted through. Decay counts whole idle days since the later of the last
// event and the last decay, and only once the tenant has been idle for
// min_days_without_event.
func decayAmount(d config.DecayConfig, s domain.TenantScore, now time.Time) (float64, time.Time, bool) {
	if !d.Enabled || d.RatePerDay <= 0 || s.LastEventAt == nil || s.CumulativeScore <= d.MinScore {
		return 0, time.Time{}, false
	}
	const day = 24 * time.Hour
	if now.Sub(*s.LastEventAt) < time.Duration(d.MinDaysWithoutEvent)*day {
		return 0, time.Time{}, false
	}
	ref := *s.LastEventAt
	if s.LastDecayAt != nil && s.LastDecayAt.After(ref) {
		ref = *s.LastDecayAt
	}
	days := int(now.Sub(ref) / day)
	if days < 1 {
		return 0, time.Time{}, false
	}
	amount := d.RatePerDay * float64(days)
	if d.MaxDecayPerRun > 0 && amount > d.MaxDecayPerRun {
		amount = d.MaxDecayPerRun
	}
	return amount, ref.Add(time.Duration(days) * day), true
}

// Dismiss marks an event dismissed and takes its weight back off the score.
// Dismissing an already dismissed event is a no-op.
func (l *ScoreLedger) Dismiss(ctx context.Context, eventID, actor, reason string) (domain.TenantScore, error) {
	ev, err := l.repo.GetEvent(ctx, eventID)
	if err != nil {
		return domain.TenantScore{}, err
	}

	var out domain.TenantScore
	err = l.locks.WithLock(ctx, ev.TenantID, func() error {
		var err error
		out, _, err = l.dismiss(ctx, eventID, actor, reason)
		return err
	})
	return out, err
}

// dismiss is Dismiss with the tenant lock already held. changed is false when
// the event was already dismissed.
func (l *ScoreLedger) dismiss(ctx context.Context, eventID, actor, reason string) (domain.TenantScore, bool, error) {
	ev, err := l.repo.GetEvent(ctx, eventID)
	if err != nil {
		return domain.TenantScore{}, false, err
	}
	now := l.now()
	score, err := l.mutate(ctx, ev.TenantID, func(cur domain.TenantScore) (*ScoreMutation, error) {
		if ev.Dismissed {
			return nil, nil
		}
		next := cur
		next.UpdatedAt = now
		if !cur.ReviewRequired && validScore(cur.CumulativeScore) {
			next.CumulativeScore = math.Max(cur.CumulativeScore-float64(ev.EffectiveWeight), l.policy.decay.MinScore)
			next.Level = l.policy.classifier.Classify(next.CumulativeScore)
		}
		return &ScoreMutation{
			Score:          &next,
			DismissEventID: ev.ID,
			DismissReason:  reason,
			Audit: []domain.AuditEntry{newAudit(ev.TenantID, actor, domain.AuditDismissEvent,
				fmt.Sprintf("event %s (%s, %d points): %s", ev.ID, ev.SignalType, ev.EffectiveWeight, reason), now)},
		}, nil
	})
	if err != nil {
		return domain.TenantScore{}, false, fmt.Errorf("dismiss event: %w", err)
	}
	return *score, !ev.Dismissed, nil
}

// Reset overwrites the score after manual review and lifts the review halt.
func (l *ScoreLedger) Reset(ctx context.Context, tenantID string, value float64, actor, reason string) (domain.TenantScore, error) {
	if !validScore(value) {
		return domain.TenantScore{}, fmt.Errorf("%w: score must be a finite non-negative number", ErrInvalidInput)
	}
	var out domain.TenantScore
	err := l.locks.WithLock(ctx, tenantID, func() error {
		var err error
		out, err = l.reset(ctx, tenantID, value, actor, reason)
		return err
	})
	return out, err
}

// reset is Reset with the tenant lock already held and value validated.
func (l *ScoreLedger) reset(ctx context.Context, tenantID string, value float64, actor, reason string) (domain.TenantScore, error) {
	now := l.now()
	score, err := l.mutate(ctx, tenantID, func(cur domain.TenantScore) (*ScoreMutation, error) {
		next := cur
		next.CumulativeScore = value
		next.Level = l.policy.classifier.Classify(value)
		next.ReviewRequired = false
		next.LastDecayAt = &now
		next.UpdatedAt = now
		return &ScoreMutation{Score: &next, Audit: []domain.AuditEntry{
			newAudit(tenantID, actor, domain.AuditResetScore,
				fmt.Sprintf("score %v -> %v: %s", cur.CumulativeScore, value, reason), now),
		}}, nil
	})
	if err != nil {
		return domain.TenantScore{}, fmt.Errorf("reset score: %w", err)
	}
	return *score, nil
}

// mutate reads the score, lets build derive the next state and commits it
// with a version check. Version conflicts are retried with bounded backoff.
// A nil mutation from build means nothing to write.
func (l *ScoreLedger) mutate(ctx context.Context, tenantID string, build func(cur domain.TenantScore) (*ScoreMutation, error)) (*domain.TenantScore, error) {
	var result *domain.TenantScore
	err := retry.Do(ctx, l.policy.ledgerRetries, l.policy.ledgerBackoff,
		func(err error) bool { return errors.Is(err, ErrConcurrentMutation) },
		func() error {
			cur, err := l.repo.GetScore(ctx, tenantID)
			if err != nil {
				return err
			}
			m, err := build(*cur)
			if err != nil {
				return err
			}
			if m == nil {
				result = cur
				return nil
			}
			m.ExpectedVersion = cur.Version
			m.Score.TenantID = tenantID
			m.Score.Version = cur.Version + 1
			if err := l.repo.ApplyMutation(ctx, *m); err != nil {
				if errors.Is(err, ErrConcurrentMutation) {
					logger.Debug("score version conflict, retrying", "tenant_id", tenantID, "version", cur.Version)
				}
				return err
			}
			result = m.Score
			return nil
		})
	return result, err
}

// clampOccurred keeps caller timestamps out of the future. A zero time means
// the signal happened now.
func clampOccurred(at, now time.Time) time.Time {
	if at.IsZero() || at.After(now) {
		return now
	}
	return at
}

func validScore(s float64) bool {
	return !math.IsNaN(s) && !math.IsInf(s, 0) && s >= 0
}

func newAudit(tenantID, actor, action, detail string, at time.Time) domain.AuditEntry {
	return domain.AuditEntry{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Actor:     actor,
		Action:    action,
		Detail:    detail,
		CreatedAt: at,
	}
}
