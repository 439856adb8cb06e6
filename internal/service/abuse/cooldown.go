package abuse

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ignite/abuse-guard/internal/domain"
	"github.com/ignite/abuse-guard/internal/pkg/logger"
	"github.com/ignite/abuse-guard/internal/pkg/tenantlock"
)

// Notifier receives suspension lifecycle notices. Failures are logged and
// never affect enforcement.
type Notifier interface {
	Notify(ctx context.Context, n domain.SuspensionNotice) error
}

// CooldownManager owns the lifecycle of SuspensionRecords.
type CooldownManager struct {
	repo     Repository
	policy   *Policy
	locks    *tenantlock.Locker
	notifier Notifier
	now      func() time.Time
}

// NewCooldownManager creates a manager. notifier may be nil.
func NewCooldownManager(repo Repository, policy *Policy, locks *tenantlock.Locker, notifier Notifier, now func() time.Time) *CooldownManager {
	if now == nil {
		now = time.Now
	}
	return &CooldownManager{repo: repo, policy: policy, locks: locks, notifier: notifier, now: now}
}

type suspendParams struct {
	Type   domain.SuspensionType
	Reason string
	// Days is the requested cooldown; zero means the configured default.
	Days  int
	Score float64
	Actor string
}

// CooldownDays resolves a requested cooldown: zero selects the default and
// the result is clamped to [min_cooldown_days, max_cooldown_days].
func (m *CooldownManager) CooldownDays(requested int) int {
	c := m.policy.cooldown
	days := requested
	if days <= 0 {
		days = c.DefaultTempSuspensionDays
	}
	if days < c.MinCooldownDays {
		days = c.MinCooldownDays
	}
	if days > c.MaxCooldownDays {
		days = c.MaxCooldownDays
	}
	return days
}

// suspend creates a suspension unless one is already active, in which case
// the active one is returned with created == false. Caller holds the lock.
func (m *CooldownManager) suspend(ctx context.Context, tenantID string, p suspendParams) (*domain.SuspensionRecord, bool, error) {
	active, err := m.repo.ActiveSuspension(ctx, tenantID)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrSuspensionStoreUnavailable, err)
	}
	if active != nil {
		return active, false, nil
	}

	now := m.now()
	rec := &domain.SuspensionRecord{
		ID:                uuid.NewString(),
		TenantID:          tenantID,
		Type:              p.Type,
		Reason:            p.Reason,
		SuspendedAt:       now,
		ScoreAtSuspension: p.Score,
		CreatedBy:         p.Actor,
	}
	if rec.Type == "" {
		rec.Type = domain.SuspensionTemporary
	}
	if rec.Type == domain.SuspensionTemporary {
		rec.CooldownDays = m.CooldownDays(p.Days)
		eligible := now.AddDate(0, 0, rec.CooldownDays)
		rec.UnlockEligibleAt = &eligible
	}

	if err := m.repo.CreateSuspension(ctx, rec); err != nil {
		if errors.Is(err, ErrAlreadySuspended) {
			existing, gerr := m.repo.ActiveSuspension(ctx, tenantID)
			if gerr == nil && existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("create suspension: %w", err)
	}

	audit := newAudit(tenantID, p.Actor, domain.AuditSuspend,
		fmt.Sprintf("%s suspension %s, cooldown %d days: %s", rec.Type, rec.ID, rec.CooldownDays, rec.Reason), now)
	if err := m.repo.AppendAudit(ctx, &audit); err != nil {
		logger.Warn("audit append failed", "tenant_id", tenantID, "error", err)
	}
	logger.Info("tenant suspended",
		"tenant_id", tenantID,
		"suspension_id", rec.ID,
		"type", string(rec.Type),
		"cooldown_days", rec.CooldownDays,
		"actor", p.Actor)
	return rec, true, nil
}

// Active returns the tenant's active suspension, or nil.
func (m *CooldownManager) Active(ctx context.Context, tenantID string) (*domain.SuspensionRecord, error) {
	rec, err := m.repo.ActiveSuspension(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSuspensionStoreUnavailable, err)
	}
	return rec, nil
}

// CheckUnlock evaluates auto-unlock for one tenant. It returns true when the
// tenant ends the check unsuspended, including when there was no active
// suspension to begin with.
func (m *CooldownManager) CheckUnlock(ctx context.Context, tenantID string) (bool, error) {
	var unlocked bool
	err := m.locks.WithLock(ctx, tenantID, func() error {
		var err error
		unlocked, err = m.checkUnlock(ctx, tenantID)
		return err
	})
	return unlocked, err
}

func (m *CooldownManager) checkUnlock(ctx context.Context, tenantID string) (bool, error) {
	active, err := m.repo.ActiveSuspension(ctx, tenantID)
	if err != nil {
		logger.Error("unlock check skipped, suspension store unavailable", "tenant_id", tenantID, "error", err)
		return false, fmt.Errorf("%w: %v", ErrSuspensionStoreUnavailable, err)
	}
	if active == nil {
		return true, nil
	}
	score, err := m.repo.GetScore(ctx, tenantID)
	if err != nil {
		logger.Error("unlock check skipped, score unavailable", "tenant_id", tenantID, "error", err)
		return false, fmt.Errorf("%w: %v", ErrSuspensionStoreUnavailable, err)
	}

	now := m.now()
	c := m.policy.cooldown
	check := domain.UnlockCheck{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		SuspensionID: active.ID,
		CheckedAt:    now,
		Score:        score.CumulativeScore,
	}
	if active.UnlockEligibleAt != nil {
		check.CooldownMet = !now.Before(*active.UnlockEligibleAt)
	}
	check.ThresholdMet = score.CumulativeScore < c.AutoUnlockScoreThreshold
	check.ImprovedMet = !c.RequireScoreImprovement || score.CumulativeScore < active.ScoreAtSuspension

	switch {
	case active.Type == domain.SuspensionPermanent:
		check.Reason = "permanent suspension"
	case score.ReviewRequired || !validScore(score.CumulativeScore):
		check.Reason = "score under manual review"
		check.ThresholdMet, check.ImprovedMet = false, false
	case !c.AutoUnlockEnabled:
		check.Reason = "auto unlock disabled"
	case !check.CooldownMet:
		check.Reason = "cooldown not elapsed"
	case !check.ThresholdMet:
		check.Reason = fmt.Sprintf("score %v not below threshold %v", score.CumulativeScore, c.AutoUnlockScoreThreshold)
	case !check.ImprovedMet:
		check.Reason = fmt.Sprintf("score %v not below score at suspension %v", score.CumulativeScore, active.ScoreAtSuspension)
	default:
		check.Unlocked = true
		check.Reason = "auto unlock"
	}

	if check.Unlocked {
		if err := m.repo.CloseSuspension(ctx, active.ID, now, check.Reason, c.ApprovalOnUnlock); err != nil {
			logger.Error("auto unlock failed", "tenant_id", tenantID, "suspension_id", active.ID, "error", err)
			return false, fmt.Errorf("%w: %v", ErrSuspensionStoreUnavailable, err)
		}
		audit := newAudit(tenantID, systemActor, domain.AuditUnlock,
			fmt.Sprintf("suspension %s auto unlocked at score %v", active.ID, score.CumulativeScore), now)
		if err := m.repo.AppendAudit(ctx, &audit); err != nil {
			logger.Warn("audit append failed", "tenant_id", tenantID, "error", err)
		}
	}

	if c.LogAllChecks {
		logger.Info("unlock check",
			"tenant_id", tenantID,
			"suspension_id", active.ID,
			"score", score.CumulativeScore,
			"cooldown_met", check.CooldownMet,
			"threshold_met", check.ThresholdMet,
			"improved_met", check.ImprovedMet,
			"unlocked", check.Unlocked,
			"reason", check.Reason)
		if err := m.repo.SaveUnlockCheck(ctx, &check); err != nil {
			logger.Warn("unlock check not persisted", "tenant_id", tenantID, "error", err)
		}
	} else if check.Unlocked {
		logger.Info("tenant auto unlocked", "tenant_id", tenantID, "suspension_id", active.ID)
	}

	if check.Unlocked {
		closed := *active
		closed.UnlockedAt = &now
		closed.UnlockReason = check.Reason
		closed.RequiresApproval = c.ApprovalOnUnlock
		m.notify(ctx, tenantID, domain.NoticeUnlocked, closed, check.Reason)
	}
	return check.Unlocked, nil
}

// UnlockSummary reports one pass over all active suspensions.
type UnlockSummary struct {
	Checked  int `json:"checked"`
	Unlocked int `json:"unlocked"`
	Failed   int `json:"failed"`
}

// CheckAll runs CheckUnlock for every active suspension with at most
// concurrency tenants in flight. A failed tenant is skipped until the next
// pass; only a failure to list suspensions is returned.
func (m *CooldownManager) CheckAll(ctx context.Context, concurrency int) (UnlockSummary, error) {
	active, err := m.repo.ListActiveSuspensions(ctx)
	if err != nil {
		logger.Error("unlock pass skipped, suspension store unavailable", "error", err)
		return UnlockSummary{}, fmt.Errorf("%w: %v", ErrSuspensionStoreUnavailable, err)
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	var unlocked, failed int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, rec := range active {
		tenantID := rec.TenantID
		g.Go(func() error {
			ok, err := m.CheckUnlock(gctx, tenantID)
			switch {
			case err != nil:
				atomic.AddInt64(&failed, 1)
				logger.Warn("unlock check failed", "tenant_id", tenantID, "error", err)
			case ok:
				atomic.AddInt64(&unlocked, 1)
			}
			return nil
		})
	}
	_ = g.Wait()

	return UnlockSummary{Checked: len(active), Unlocked: int(unlocked), Failed: int(failed)}, nil
}

// forceUnlock ends the active suspension regardless of cooldown or score.
// Caller holds the lock.
func (m *CooldownManager) forceUnlock(ctx context.Context, tenantID, actor, reason string) (*domain.SuspensionRecord, error) {
	active, err := m.repo.ActiveSuspension(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSuspensionStoreUnavailable, err)
	}
	if active == nil {
		return nil, ErrNotSuspended
	}
	now := m.now()
	if err := m.repo.CloseSuspension(ctx, active.ID, now, reason, false); err != nil {
		return nil, fmt.Errorf("close suspension: %w", err)
	}
	closed := *active
	closed.UnlockedAt = &now
	closed.UnlockReason = reason
	closed.RequiresApproval = false

	logger.Info("tenant force unlocked", "tenant_id", tenantID, "suspension_id", active.ID, "actor", actor)
	return &closed, nil
}

func (m *CooldownManager) notify(ctx context.Context, tenantID, kind string, rec domain.SuspensionRecord, reason string) {
	if m.notifier == nil {
		return
	}
	tenant, err := m.repo.GetTenant(ctx, tenantID)
	if err != nil {
		tenant = &domain.TenantProfile{ID: tenantID}
	}
	m.send(ctx, domain.SuspensionNotice{Kind: kind, Tenant: *tenant, Suspension: rec, Reason: reason, At: m.now()})
}

func (m *CooldownManager) send(ctx context.Context, n domain.SuspensionNotice) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Notify(ctx, n); err != nil {
		logger.Warn("suspension notice failed", "tenant_id", n.Tenant.ID, "kind", n.Kind, "error", err)
	}
}
