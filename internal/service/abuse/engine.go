package abuse

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/abuse-guard/internal/domain"
	"github.com/ignite/abuse-guard/internal/pkg/logger"
)

// PolicyEngine maps a tenant's level and complaint history to an action.
type PolicyEngine struct {
	repo     Repository
	policy   *Policy
	cooldown *CooldownManager
	now      func() time.Time
}

// NewPolicyEngine creates an engine that suspends through cooldown.
func NewPolicyEngine(repo Repository, policy *Policy, cooldown *CooldownManager, now func() time.Time) *PolicyEngine {
	if now == nil {
		now = time.Now
	}
	return &PolicyEngine{repo: repo, policy: policy, cooldown: cooldown, now: now}
}

// EnforceInput is the state the engine decides on.
type EnforceInput struct {
	Tenant domain.TenantProfile
	Score  domain.TenantScore
	// Event is the triggering event, nil when evaluating without one.
	Event *domain.AbuseEvent
}

// Evaluate computes the decision without side effects.
func (e *PolicyEngine) Evaluate(ctx context.Context, in EnforceInput) (domain.PolicyDecision, error) {
	now := e.now()
	level := e.policy.classifier.Classify(in.Score.CumulativeScore)
	d := domain.PolicyDecision{
		TenantID:    in.Tenant.ID,
		Level:       level,
		Action:      e.policy.ActionFor(level),
		TriggeredBy: []string{},
		DecidedAt:   now,
	}
	d.Reasons = append(d.Reasons, "level:"+level.String())

	if in.Event != nil {
		d.TriggeredBy = append(d.TriggeredBy, in.Event.ID)
		if cm, ok := in.Event.Complaint(); ok && e.policy.scorer.IsCritical(cm.ComplaintType) {
			d.Action = domain.StricterAction(d.Action, e.policy.criticalAction)
			d.Reasons = append(d.Reasons, "critical_complaint:"+string(cm.ComplaintType))
		}
	}

	esc := e.policy.escalation
	since := now.AddDate(0, 0, -esc.WindowDays)
	stats, err := e.repo.ComplaintStats(ctx, in.Tenant.ID, since)
	if err != nil {
		return domain.PolicyDecision{}, fmt.Errorf("complaint stats: %w", err)
	}
	applyVolume(&d, stats, esc.Volume.Suspend, esc.Volume.RequireApproval, esc.Volume.HighRisk)

	switch {
	case reached(stats.MaxPerRecipient, esc.Pattern.SameRecipient):
		d.ManualReview = true
		d.Reasons = append(d.Reasons, fmt.Sprintf("pattern:same_recipient=%d", stats.MaxPerRecipient))
	case reached(stats.MaxPerType, esc.Pattern.SameType):
		d.ManualReview = true
		d.Reasons = append(d.Reasons, fmt.Sprintf("pattern:same_type=%d", stats.MaxPerType))
	case reached(stats.DistinctSources, esc.Pattern.DistinctSources):
		d.ManualReview = true
		d.Reasons = append(d.Reasons, fmt.Sprintf("pattern:distinct_sources=%d", stats.DistinctSources))
	}

	if in.Score.ReviewRequired {
		d.ManualReview = true
		d.Action = domain.StricterAction(d.Action, domain.ActionRequireApproval)
		d.Reasons = append(d.Reasons, "review_required")
	}

	if e.policy.IsBypassRole(in.Tenant.Role) {
		d.Bypassed = true
		if d.Action != domain.ActionNone {
			d.Reasons = append(d.Reasons, fmt.Sprintf("bypassed:%s(role=%s)", d.Action, in.Tenant.Role))
		}
		d.Action = domain.ActionNone
	}
	return d, nil
}

// applyVolume escalates on complaint count in the window. A threshold of
// zero disables that rung.
func applyVolume(d *domain.PolicyDecision, stats domain.ComplaintStats, suspend, approval, highRisk int) {
	switch {
	case reached(stats.Total, suspend):
		d.Action = domain.StricterAction(d.Action, domain.ActionSuspend)
		d.HighRisk = true
		d.Reasons = append(d.Reasons, fmt.Sprintf("volume:%d>=%d", stats.Total, suspend))
	case reached(stats.Total, approval):
		d.Action = domain.StricterAction(d.Action, domain.ActionRequireApproval)
		d.HighRisk = true
		d.Reasons = append(d.Reasons, fmt.Sprintf("volume:%d>=%d", stats.Total, approval))
	case reached(stats.Total, highRisk):
		d.HighRisk = true
		d.Reasons = append(d.Reasons, fmt.Sprintf("volume:%d>=%d", stats.Total, highRisk))
	}
}

func reached(n, threshold int) bool { return threshold > 0 && n >= threshold }

// Enforcement is the decision plus what the engine did about it.
type Enforcement struct {
	Decision   domain.PolicyDecision
	Suspension *domain.SuspensionRecord
	// Notice is set when a new suspension was created and should be sent.
	Notice *domain.SuspensionNotice
}

// enforce evaluates and applies the decision immediately. The caller holds
// the tenant lock.
func (e *PolicyEngine) enforce(ctx context.Context, in EnforceInput) (Enforcement, error) {
	d, err := e.Evaluate(ctx, in)
	if err != nil {
		return Enforcement{}, err
	}
	out := Enforcement{Decision: d}

	if d.Action == domain.ActionSuspend {
		reason := "policy: " + joinReasons(d.Reasons)
		rec, created, err := e.cooldown.suspend(ctx, in.Tenant.ID, suspendParams{
			Type:   domain.SuspensionTemporary,
			Reason: reason,
			Score:  in.Score.CumulativeScore,
			Actor:  systemActor,
		})
		if err != nil {
			return Enforcement{}, fmt.Errorf("suspend: %w", err)
		}
		out.Suspension = rec
		if created {
			out.Notice = &domain.SuspensionNotice{
				Kind:       domain.NoticeSuspended,
				Tenant:     in.Tenant,
				Suspension: *rec,
				Reason:     reason,
				At:         d.DecidedAt,
			}
		}
	}

	e.record(ctx, d, "")
	return out, nil
}

// decide evaluates after a score reduction (decay, dismissal, reset) and
// records the decision without enforcing it. Reductions never suspend;
// lifting a suspension stays with the cooldown checks.
func (e *PolicyEngine) decide(ctx context.Context, in EnforceInput, cause string) (domain.PolicyDecision, error) {
	d, err := e.Evaluate(ctx, in)
	if err != nil {
		return domain.PolicyDecision{}, err
	}
	e.record(ctx, d, cause)
	return d, nil
}

// record appends the decision (and any bypass) to the audit log.
func (e *PolicyEngine) record(ctx context.Context, d domain.PolicyDecision, cause string) {
	if cause != "" {
		d.Reasons = append(d.Reasons, "cause:"+cause)
	}
	detail, _ := json.Marshal(d)
	entries := []domain.AuditEntry{newAudit(d.TenantID, systemActor, domain.AuditDecision, string(detail), d.DecidedAt)}
	if d.Bypassed && bypassedAction(d) {
		entries = append(entries, newAudit(d.TenantID, systemActor, domain.AuditBypass, joinReasons(d.Reasons), d.DecidedAt))
	}
	for i := range entries {
		if err := e.repo.AppendAudit(ctx, &entries[i]); err != nil {
			logger.Warn("audit append failed", "tenant_id", d.TenantID, "action", entries[i].Action, "error", err)
		}
	}

	logger.Info("policy decision",
		"tenant_id", d.TenantID,
		"level", d.Level.String(),
		"action", string(d.Action),
		"high_risk", d.HighRisk,
		"manual_review", d.ManualReview,
		"bypassed", d.Bypassed,
		"cause", cause)
}

// bypassedAction reports whether the bypass suppressed a real action.
func bypassedAction(d domain.PolicyDecision) bool {
	for _, r := range d.Reasons {
		if strings.HasPrefix(r, "bypassed:") {
			return true
		}
	}
	return false
}

func joinReasons(rs []string) string {
	b, _ := json.Marshal(rs)
	return string(b)
}
