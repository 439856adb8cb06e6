package abuse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/abuse-guard/internal/domain"
	"github.com/ignite/abuse-guard/internal/pkg/logger"
	"github.com/ignite/abuse-guard/internal/pkg/tenantlock"
)

// LevelPublisher is told about a tenant's level after every score change so
// the rate limiter can read it without recomputing.
type LevelPublisher interface {
	PublishLevel(ctx context.Context, tenantID string, level domain.Level) error
}

// Actor is the caller of an administrative operation.
type Actor struct {
	ID   string
	Role string
}

// Service is the entry point for signal ingestion, policy queries and the
// admin operations. It is safe for concurrent use.
type Service struct {
	repo     Repository
	policy   *Policy
	locks    *tenantlock.Locker
	ledger   *ScoreLedger
	engine   *PolicyEngine
	cooldown *CooldownManager
	levels   LevelPublisher
	notifier Notifier
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithLocker shares a tenant locker, typically one with a distributed layer.
func WithLocker(l *tenantlock.Locker) Option { return func(s *Service) { s.locks = l } }

// WithNotifier sets the suspension notifier.
func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

// WithLevelPublisher sets where level changes are published.
func WithLevelPublisher(p LevelPublisher) Option { return func(s *Service) { s.levels = p } }

// NewService wires the ledger, engine and cooldown manager over repo.
func NewService(repo Repository, policy *Policy, opts ...Option) *Service {
	s := &Service{repo: repo, policy: policy, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.locks == nil {
		s.locks = tenantlock.New()
	}
	s.ledger = NewScoreLedger(repo, policy, s.locks, s.now)
	s.cooldown = NewCooldownManager(repo, policy, s.locks, s.notifier, s.now)
	s.engine = NewPolicyEngine(repo, policy, s.cooldown, s.now)
	return s
}

// Policy returns the active policy snapshot.
func (s *Service) Policy() *Policy { return s.policy }

// Ledger returns the score ledger.
func (s *Service) Ledger() *ScoreLedger { return s.ledger }

// Cooldown returns the suspension manager.
func (s *Service) Cooldown() *CooldownManager { return s.cooldown }

// SignalRequest is one inbound signal.
type SignalRequest struct {
	TenantID   string
	SignalType domain.SignalType
	Source     domain.Source
	// Severity overrides the complaint metadata's severity when set.
	Severity   domain.Severity
	Metadata   domain.Metadata
	OccurredAt time.Time
}

// SignalResult is what record_signal returns.
type SignalResult struct {
	Event         *domain.AbuseEvent       `json:"event,omitempty"`
	Score         domain.TenantScore       `json:"score"`
	Decision      domain.PolicyDecision    `json:"decision"`
	Suspension    *domain.SuspensionRecord `json:"suspension,omitempty"`
	Duplicate     bool                     `json:"duplicate"`
	Halted        bool                     `json:"halted"`
	UnknownSignal bool                     `json:"unknown_signal"`
}

// RecordSignal scores a signal, appends it to the ledger and enforces the
// resulting decision, all under the tenant's lock.
func (s *Service) RecordSignal(ctx context.Context, req SignalRequest) (*SignalResult, error) {
	req.TenantID = strings.TrimSpace(req.TenantID)
	if req.TenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	if req.SignalType == "" {
		return nil, fmt.Errorf("%w: signal_type is required", ErrInvalidInput)
	}
	if !req.Source.Valid() {
		return nil, fmt.Errorf("%w: unknown source %q", ErrInvalidInput, req.Source)
	}

	tenant, err := s.repo.GetTenant(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	req.OccurredAt = clampOccurred(req.OccurredAt, now)

	rec := RecordRequest{
		TenantID:   req.TenantID,
		SignalType: req.SignalType,
		Source:     req.Source,
		Metadata:   req.Metadata,
		OccurredAt: req.OccurredAt,
		GraceUntil: s.policy.GraceUntil(*tenant),
	}
	out := &SignalResult{}

	if req.SignalType == domain.SignalComplaint {
		cm, ok := req.Metadata.(domain.ComplaintMetadata)
		if !ok {
			return nil, fmt.Errorf("%w: complaint signals need complaint metadata", ErrInvalidInput)
		}
		if req.Severity != "" {
			cm.Severity = req.Severity
		}
		complaint := domain.ComplaintRecord{
			TenantID:             req.TenantID,
			ComplaintType:        cm.ComplaintType,
			Severity:             cm.Severity,
			Source:               req.Source,
			Provider:             cm.Provider,
			RecipientFingerprint: cm.RecipientFingerprint,
			ReceivedAt:           req.OccurredAt,
		}
		delta, err := s.policy.scorer.Score(complaint, *tenant, now)
		if err != nil {
			return nil, err
		}
		rec.RawWeight = delta.RawWeight
		rec.Delta = delta.Effective
		rec.Metadata = complaint.Metadata()
		rec.DedupKey = complaint.DedupKey()
	} else {
		w, err := s.policy.weights.WeightOf(req.SignalType)
		if err != nil {
			if !errors.Is(err, ErrUnknownSignalKind) {
				return nil, err
			}
			out.UnknownSignal = true
			logger.Warn("unknown signal kind scored as zero",
				"tenant_id", req.TenantID, "signal_type", string(req.SignalType))
			note := newAudit(req.TenantID, systemActor, domain.AuditUnknownSignal,
				fmt.Sprintf("signal_type %q is not registered, scored 0", req.SignalType), now)
			if err := s.repo.AppendAudit(ctx, &note); err != nil {
				logger.Warn("audit append failed", "tenant_id", req.TenantID, "error", err)
			}
		}
		rec.RawWeight = w
		rec.Delta = w
	}

	var notice *domain.SuspensionNotice
	err = s.locks.WithLock(ctx, req.TenantID, func() error {
		res, err := s.ledger.record(ctx, rec)
		if err != nil {
			return err
		}
		out.Score = res.Score
		out.Event = res.Event
		out.Duplicate = res.Duplicate
		out.Halted = res.Halted

		in := EnforceInput{Tenant: *tenant, Score: res.Score, Event: res.Event}
		if res.Duplicate {
			out.Decision, err = s.engine.Evaluate(ctx, in)
			return err
		}
		enf, err := s.engine.enforce(ctx, in)
		if err != nil {
			return err
		}
		out.Decision = enf.Decision
		out.Suspension = enf.Suspension
		notice = enf.Notice
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record signal: %w", err)
	}

	if notice != nil {
		s.cooldown.send(ctx, *notice)
	}
	s.publish(ctx, req.TenantID, out.Score.Level)
	return out, nil
}

// PolicyView is what policy_for returns.
type PolicyView struct {
	TenantID         string        `json:"tenant_id"`
	Score            float64       `json:"score"`
	Level            domain.Level  `json:"level"`
	Action           domain.Action `json:"action"`
	Suspended        bool          `json:"suspended"`
	UnlockEligibleAt *time.Time    `json:"unlock_eligible_at,omitempty"`
	ReviewRequired   bool          `json:"review_required"`
	HighRisk         bool          `json:"high_risk"`
	ManualReview     bool          `json:"manual_review"`
	Bypassed         bool          `json:"bypassed"`
	PolicyVersion    string        `json:"policy_version"`
}

// PolicyFor reports the tenant's current level and action. It reads without
// taking the tenant lock.
func (s *Service) PolicyFor(ctx context.Context, tenantID string) (*PolicyView, error) {
	tenant, err := s.repo.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	score, err := s.repo.GetScore(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("get score: %w", err)
	}
	d, err := s.engine.Evaluate(ctx, EnforceInput{Tenant: *tenant, Score: *score})
	if err != nil {
		return nil, err
	}
	active, err := s.cooldown.Active(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	v := &PolicyView{
		TenantID:       tenantID,
		Score:          score.CumulativeScore,
		Level:          d.Level,
		Action:         d.Action,
		ReviewRequired: score.ReviewRequired,
		HighRisk:       d.HighRisk,
		ManualReview:   d.ManualReview,
		Bypassed:       d.Bypassed,
		PolicyVersion:  s.policy.Version(),
	}
	if active != nil {
		v.Suspended = true
		v.UnlockEligibleAt = active.UnlockEligibleAt
		if !d.Bypassed {
			v.Action = domain.ActionSuspend
		}
	}
	return v, nil
}

// ListEvents returns a tenant's events. Admin only.
func (s *Service) ListEvents(ctx context.Context, actor Actor, tenantID string, filter EventFilter) ([]domain.AbuseEvent, int, error) {
	if err := s.authorize(actor); err != nil {
		return nil, 0, err
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.repo.ListEvents(ctx, tenantID, filter)
}

// DismissEvent marks an event dismissed and subtracts its weight. Admin only.
func (s *Service) DismissEvent(ctx context.Context, actor Actor, eventID, reason string) (*domain.TenantScore, error) {
	if err := s.authorize(actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("%w: reason is required", ErrInvalidInput)
	}
	ev, err := s.repo.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	var score domain.TenantScore
	err = s.locks.WithLock(ctx, ev.TenantID, func() error {
		var (
			changed bool
			err     error
		)
		score, changed, err = s.ledger.dismiss(ctx, eventID, actor.ID, reason)
		if err != nil || !changed {
			return err
		}
		return s.decideAfter(ctx, score, "dismiss:"+eventID)
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, score.TenantID, score.Level)
	return &score, nil
}

// ForceSuspend suspends a tenant immediately. Admin only. days of zero uses
// the default cooldown; permanent suspensions never auto-unlock.
func (s *Service) ForceSuspend(ctx context.Context, actor Actor, tenantID string, days int, permanent bool, reason string) (*domain.SuspensionRecord, error) {
	if err := s.authorize(actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("%w: reason is required", ErrInvalidInput)
	}
	if days < 0 {
		return nil, fmt.Errorf("%w: days must not be negative", ErrInvalidInput)
	}
	tenant, err := s.repo.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	typ := domain.SuspensionTemporary
	if permanent {
		typ = domain.SuspensionPermanent
	}
	var rec *domain.SuspensionRecord
	err = s.locks.WithLock(ctx, tenantID, func() error {
		score, err := s.repo.GetScore(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("get score: %w", err)
		}
		var created bool
		rec, created, err = s.cooldown.suspend(ctx, tenantID, suspendParams{
			Type:   typ,
			Reason: reason,
			Days:   days,
			Score:  score.CumulativeScore,
			Actor:  actor.ID,
		})
		if err != nil {
			return err
		}
		if !created {
			return ErrAlreadySuspended
		}
		audit := newAudit(tenantID, actor.ID, domain.AuditForceSuspend,
			fmt.Sprintf("suspension %s (%s, %d days): %s", rec.ID, rec.Type, rec.CooldownDays, reason), s.now())
		return s.repo.AppendAudit(ctx, &audit)
	})
	if err != nil {
		return nil, err
	}

	s.cooldown.send(ctx, domain.SuspensionNotice{
		Kind: domain.NoticeSuspended, Tenant: *tenant, Suspension: *rec, Reason: reason, At: s.now(),
	})
	return rec, nil
}

// ForceUnlock ends a tenant's suspension regardless of cooldown. Admin only.
func (s *Service) ForceUnlock(ctx context.Context, actor Actor, tenantID, reason string) (*domain.SuspensionRecord, error) {
	if err := s.authorize(actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("%w: reason is required", ErrInvalidInput)
	}
	tenant, err := s.repo.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var rec *domain.SuspensionRecord
	err = s.locks.WithLock(ctx, tenantID, func() error {
		var err error
		rec, err = s.cooldown.forceUnlock(ctx, tenantID, actor.ID, reason)
		if err != nil {
			return err
		}
		audit := newAudit(tenantID, actor.ID, domain.AuditForceUnlock,
			fmt.Sprintf("suspension %s: %s", rec.ID, reason), s.now())
		return s.repo.AppendAudit(ctx, &audit)
	})
	if err != nil {
		return nil, err
	}

	s.cooldown.send(ctx, domain.SuspensionNotice{
		Kind: domain.NoticeUnlocked, Tenant: *tenant, Suspension: *rec, Reason: reason, At: s.now(),
	})
	return rec, nil
}

// ResetScore sets a tenant's score after manual review and lifts the review
// halt. Admin only.
func (s *Service) ResetScore(ctx context.Context, actor Actor, tenantID string, score float64, reason string) (*domain.TenantScore, error) {
	if err := s.authorize(actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("%w: reason is required", ErrInvalidInput)
	}
	if !validScore(score) {
		return nil, fmt.Errorf("%w: score must be a finite non-negative number", ErrInvalidInput)
	}
	if _, err := s.repo.GetTenant(ctx, tenantID); err != nil {
		return nil, err
	}

	var out domain.TenantScore
	err := s.locks.WithLock(ctx, tenantID, func() error {
		var err error
		out, err = s.ledger.reset(ctx, tenantID, score, actor.ID, reason)
		if err != nil {
			return err
		}
		return s.decideAfter(ctx, out, "reset")
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, tenantID, out.Level)
	return &out, nil
}

// Decay runs the inactivity decay for one tenant.
func (s *Service) Decay(ctx context.Context, tenantID string) (*domain.TenantScore, error) {
	var out domain.TenantScore
	err := s.locks.WithLock(ctx, tenantID, func() error {
		var (
			decayed bool
			err     error
		)
		out, decayed, err = s.ledger.decay(ctx, tenantID)
		if err != nil || !decayed {
			return err
		}
		return s.decideAfter(ctx, out, "decay")
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, tenantID, out.Level)
	return &out, nil
}

// decideAfter records the policy decision for a score that just went down.
// Scores can exist for tenants whose profile was removed; those are
// evaluated on the ID alone. The caller holds the tenant lock.
func (s *Service) decideAfter(ctx context.Context, score domain.TenantScore, cause string) error {
	tenant, err := s.repo.GetTenant(ctx, score.TenantID)
	switch {
	case errors.Is(err, ErrTenantNotFound):
		tenant = &domain.TenantProfile{ID: score.TenantID}
	case err != nil:
		return err
	}
	_, err = s.engine.decide(ctx, EnforceInput{Tenant: *tenant, Score: score}, cause)
	return err
}

// DecayCandidates lists tenants whose score can still decay.
func (s *Service) DecayCandidates(ctx context.Context) ([]string, error) {
	return s.repo.TenantsAboveScore(ctx, s.policy.MinScore())
}

// CheckUnlocks runs one auto-unlock pass over all suspended tenants.
func (s *Service) CheckUnlocks(ctx context.Context, concurrency int) (UnlockSummary, error) {
	return s.cooldown.CheckAll(ctx, concurrency)
}

func (s *Service) authorize(actor Actor) error {
	if strings.TrimSpace(actor.ID) == "" || !s.policy.IsAdminRole(actor.Role) {
		return ErrForbidden
	}
	return nil
}

func (s *Service) publish(ctx context.Context, tenantID string, level domain.Level) {
	if s.levels == nil {
		return
	}
	if err := s.levels.PublishLevel(ctx, tenantID, level); err != nil {
		logger.Warn("level publish failed", "tenant_id", tenantID, "error", err)
	}
}
