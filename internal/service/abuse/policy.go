package abuse

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/ignite/abuse-guard/internal/config"
	"github.com/ignite/abuse-guard/internal/domain"
	"github.com/ignite/abuse-guard/internal/pkg/logger"
	"github.com/ignite/abuse-guard/internal/pkg/retry"
)

// Policy is the validated, immutable snapshot of the abuse tables. Build it
// once with NewPolicy and share it; nothing mutates it afterwards.
type Policy struct {
	version string

	weights    SignalWeightTable
	scorer     ComplaintScorer
	classifier ThresholdClassifier

	actions        map[domain.Level]domain.Action
	criticalAction domain.Action
	dedupWindow    time.Duration
	escalation     config.EscalationConfig
	bypassRoles    map[string]bool
	adminRoles     map[string]bool
	decay          config.DecayConfig
	cooldown       config.CooldownConfig
	checkInterval  time.Duration
	retention      config.RetentionConfig
	ledgerRetries  int
	ledgerBackoff  retry.Backoff
}

// NewPolicy validates cfg and converts it into a Policy. Malformed tables
// (gaps or overlaps in thresholds, unknown enum keys, negative weights or
// multipliers) are rejected with ErrInvalidPolicy.
func NewPolicy(cfg config.AbuseConfig) (*Policy, error) {
	p := &Policy{
		escalation: cfg.Escalation,
		decay:      cfg.Decay,
		cooldown:   cfg.Cooldown,
		retention:  cfg.Retention,
	}

	var err error
	if p.weights, err = newSignalWeightTable(cfg.SignalWeights); err != nil {
		return nil, err
	}
	if p.scorer, err = newComplaintScorer(cfg); err != nil {
		return nil, err
	}
	if p.classifier, err = newThresholdClassifier(cfg.Thresholds); err != nil {
		return nil, err
	}
	if p.actions, err = parseActions(cfg.Actions); err != nil {
		return nil, err
	}

	p.criticalAction = domain.Action(cfg.Complaints.CriticalAction)
	if !p.criticalAction.Valid() {
		return nil, invalid("complaints.critical_action %q is not an action", cfg.Complaints.CriticalAction)
	}
	if cfg.Complaints.DeduplicateWindowHours < 0 {
		return nil, invalid("complaints.deduplicate_window_hours must not be negative")
	}
	p.dedupWindow = cfg.Complaints.DeduplicateWindow()

	if err := validateEscalation(cfg.Escalation); err != nil {
		return nil, err
	}
	if err := validateDecay(cfg.Decay); err != nil {
		return nil, err
	}
	if err := validateCooldown(cfg.Cooldown); err != nil {
		return nil, err
	}
	if p.checkInterval, err = cfg.Cooldown.CheckInterval(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	if cfg.Retention.EventsDays < 0 || cfg.Retention.AuditDays < 0 || cfg.Retention.UnlockChecksDays < 0 {
		return nil, invalid("retention days must not be negative")
	}

	if cfg.Ledger.MaxRetries < 0 {
		return nil, invalid("ledger.max_retries must not be negative")
	}
	p.ledgerRetries = cfg.Ledger.MaxRetries
	p.ledgerBackoff = retry.Backoff{
		Base:  time.Duration(cfg.Ledger.BaseBackoffMS) * time.Millisecond,
		Max:   time.Duration(cfg.Ledger.MaxBackoffMS) * time.Millisecond,
		Floor: time.Millisecond,
	}

	p.bypassRoles = parseBypassRoles(cfg.BypassRoles)
	p.adminRoles = make(map[string]bool, len(cfg.AdminRoles))
	for _, r := range cfg.AdminRoles {
		if r = strings.TrimSpace(r); r != "" {
			p.adminRoles[r] = true
		}
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("hash abuse policy: %w", err)
	}
	sum := sha256.Sum256(raw)
	p.version = hex.EncodeToString(sum[:6])

	return p, nil
}

// Version identifies the configuration the policy was built from.
func (p *Policy) Version() string { return p.version }

// Weights returns the signal weight table.
func (p *Policy) Weights() SignalWeightTable { return p.weights }

// Scorer returns the complaint scorer.
func (p *Policy) Scorer() ComplaintScorer { return p.scorer }

// Classifier returns the threshold classifier.
func (p *Policy) Classifier() ThresholdClassifier { return p.classifier }

// ActionFor returns the base action mapped to a level.
func (p *Policy) ActionFor(level domain.Level) domain.Action { return p.actions[level] }

// DedupWindow is how long a complaint dedup key stays live.
func (p *Policy) DedupWindow() time.Duration { return p.dedupWindow }

// CheckInterval is how often auto-unlock checks run.
func (p *Policy) CheckInterval() time.Duration { return p.checkInterval }

// Retention returns the purge horizons.
func (p *Policy) Retention() config.RetentionConfig { return p.retention }

// MinScore is the decay floor.
func (p *Policy) MinScore() float64 { return p.decay.MinScore }

// IsBypassRole reports whether enforcement is bypassed for the role.
func (p *Policy) IsBypassRole(role string) bool { return p.bypassRoles[strings.TrimSpace(role)] }

// IsAdminRole reports whether the role may call administrative operations.
func (p *Policy) IsAdminRole(role string) bool { return p.adminRoles[strings.TrimSpace(role)] }

// GraceUntil returns the end of a tenant's reduced-scoring window, or nil
// when grace scoring does not apply.
func (p *Policy) GraceUntil(t domain.TenantProfile) *time.Time {
	g := p.scorer.grace
	if !g.ReducedScoring || g.Days <= 0 || t.RegisteredAt.IsZero() {
		return nil
	}
	until := t.RegisteredAt.AddDate(0, 0, g.Days)
	return &until
}

// parseBypassRoles returns the bypass role set. An empty or malformed list
// disables bypass entirely and logs a configuration warning.
func parseBypassRoles(roles []string) map[string]bool {
	if len(roles) == 0 {
		logger.Warn("abuse bypass_roles is empty, enforcement bypass disabled")
		return map[string]bool{}
	}
	set := make(map[string]bool, len(roles))
	for _, r := range roles {
		if !validRoleName(r) {
			logger.Warn("abuse bypass_roles is malformed, enforcement bypass disabled", "role", r)
			return map[string]bool{}
		}
		set[r] = true
	}
	return set
}

func validRoleName(r string) bool {
	if r == "" {
		return false
	}
	for _, c := range r {
		if unicode.IsSpace(c) || unicode.IsControl(c) {
			return false
		}
	}
	return true
}

func parseActions(m map[string]string) (map[domain.Level]domain.Action, error) {
	out := make(map[domain.Level]domain.Action, len(domain.Levels))
	for key, val := range m {
		level, err := domain.ParseLevel(key)
		if err != nil {
			return nil, invalid("actions: %v", err)
		}
		a := domain.Action(val)
		if !a.Valid() {
			return nil, invalid("actions.%s: unknown action %q", key, val)
		}
		out[level] = a
	}
	for _, l := range domain.Levels {
		if _, ok := out[l]; !ok {
			return nil, invalid("actions.%s is missing", l)
		}
	}
	return out, nil
}

func validateEscalation(e config.EscalationConfig) error {
	if e.WindowDays <= 0 {
		return invalid("escalation.window_days must be positive")
	}
	for name, v := range map[string]int{
		"volume.suspend":           e.Volume.Suspend,
		"volume.require_approval":  e.Volume.RequireApproval,
		"volume.high_risk":         e.Volume.HighRisk,
		"pattern.same_recipient":   e.Pattern.SameRecipient,
		"pattern.same_type":        e.Pattern.SameType,
		"pattern.distinct_sources": e.Pattern.DistinctSources,
	} {
		if v < 0 {
			return invalid("escalation.%s must not be negative", name)
		}
	}
	return nil
}

func validateDecay(d config.DecayConfig) error {
	if d.RatePerDay < 0 || d.MaxDecayPerRun < 0 || d.MinDaysWithoutEvent < 0 {
		return invalid("decay values must not be negative")
	}
	if d.MinScore < 0 || math.IsNaN(d.MinScore) {
		return invalid("decay.min_score must be a non-negative number")
	}
	return nil
}

func validateCooldown(c config.CooldownConfig) error {
	if c.MinCooldownDays < 0 || c.MaxCooldownDays < c.MinCooldownDays {
		return invalid("cooldown: need 0 <= min_cooldown_days <= max_cooldown_days")
	}
	if c.DefaultTempSuspensionDays < c.MinCooldownDays || c.DefaultTempSuspensionDays > c.MaxCooldownDays {
		return invalid("cooldown.default_temp_suspension_days must lie within [min, max]")
	}
	if c.AutoUnlockScoreThreshold < 0 {
		return invalid("cooldown.auto_unlock_score_threshold must not be negative")
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPolicy, fmt.Sprintf(format, args...))
}
