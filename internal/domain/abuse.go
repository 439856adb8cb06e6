package domain

import (
	"fmt"
	"strings"
	"time"
)

// Level is the abuse level derived from a tenant's cumulative score.
// Levels are ordered: a higher value is more severe.
type Level int

const (
	LevelNone Level = iota
	LevelLow
	LevelMedium
	LevelHigh
	LevelCritical
)

// Levels lists every level in ascending severity.
var Levels = []Level{LevelNone, LevelLow, LevelMedium, LevelHigh, LevelCritical}

var levelNames = map[Level]string{
	LevelNone:     "none",
	LevelLow:      "low",
	LevelMedium:   "medium",
	LevelHigh:     "high",
	LevelCritical: "critical",
}

func (l Level) String() string {
	if n, ok := levelNames[l]; ok {
		return n
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ParseLevel converts a level name ("none", "low", ...) into a Level.
func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for l, n := range levelNames {
		if n == s {
			return l, nil
		}
	}
	return LevelNone, fmt.Errorf("unknown abuse level %q", s)
}

// MarshalText implements encoding.TextMarshaler so levels serialize by name.
func (l Level) MarshalText() ([]byte, error) {
	if _, ok := levelNames[l]; !ok {
		return nil, fmt.Errorf("invalid abuse level %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(b []byte) error {
	parsed, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Action is an enforcement directive produced by the policy engine.
type Action string

const (
	ActionNone            Action = "none"
	ActionThrottle        Action = "throttle"
	ActionRequireApproval Action = "require_approval"
	ActionSuspend         Action = "suspend"
)

var actionSeverity = map[Action]int{
	ActionNone:            0,
	ActionThrottle:        1,
	ActionRequireApproval: 2,
	ActionSuspend:         3,
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	_, ok := actionSeverity[a]
	return ok
}

// Severity orders actions from none (0) to suspend (3).
func (a Action) Severity() int { return actionSeverity[a] }

// StricterAction returns whichever of a and b is more severe.
func StricterAction(a, b Action) Action {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

// SignalType enumerates the discrete events that contribute to an abuse score.
type SignalType string

const (
	SignalComplaint             SignalType = "complaint"
	SignalFraudDetected         SignalType = "fraud_detected"
	SignalPolicyViolation       SignalType = "policy_violation"
	SignalManualFlag            SignalType = "manual_flag"
	SignalManualReview          SignalType = "manual_review"
	SignalSuspiciousVolumeSpike SignalType = "suspicious_volume_spike"
	SignalQualityRatingLow      SignalType = "quality_rating_low"
	SignalQualityRatingMedium   SignalType = "quality_rating_medium"
	SignalBlockedByRecipient    SignalType = "blocked_by_recipient"
	SignalHighFailureRate       SignalType = "high_failure_rate"
	SignalTemplateRejected      SignalType = "template_rejected"
	SignalRateLimitViolation    SignalType = "rate_limit_violation"
)

// Source indicates where a signal originated.
type Source string

const (
	SourceProviderWebhook Source = "provider_webhook"
	SourceManualReport    Source = "manual_report"
	SourceInternalFlag    Source = "internal_flag"
	SourceThirdParty      Source = "third_party"
)

// Sources lists every known signal source.
var Sources = []Source{SourceProviderWebhook, SourceManualReport, SourceInternalFlag, SourceThirdParty}

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	for _, known := range Sources {
		if s == known {
			return true
		}
	}
	return false
}

// AbuseEvent is the immutable record of one ingested signal. Only the
// dismissal fields change after creation, and only through the admin path.
// OccurredAt is the caller's timestamp, clamped to the ingestion time;
// RecordedAt is when the ledger accepted the event and is what the dedup
// window is measured against.
type AbuseEvent struct {
	ID              string     `json:"id" db:"id"`
	TenantID        string     `json:"tenant_id" db:"tenant_id"`
	SignalType      SignalType `json:"signal_type" db:"signal_type"`
	RawWeight       int        `json:"raw_weight" db:"raw_weight"`
	EffectiveWeight int        `json:"effective_weight" db:"effective_weight"`
	Source          Source     `json:"source" db:"source"`
	OccurredAt      time.Time  `json:"occurred_at" db:"occurred_at"`
	RecordedAt      time.Time  `json:"recorded_at" db:"recorded_at"`
	Metadata        Metadata   `json:"metadata,omitempty" db:"metadata"`
	DedupKey        string     `json:"dedup_key,omitempty" db:"dedup_key"`
	Dismissed       bool       `json:"dismissed" db:"dismissed"`
	DismissReason   string     `json:"dismiss_reason,omitempty" db:"dismiss_reason"`
}

// Complaint returns the complaint metadata carried by the event, if any.
func (e AbuseEvent) Complaint() (ComplaintMetadata, bool) {
	if e.SignalType != SignalComplaint {
		return ComplaintMetadata{}, false
	}
	cm, ok := e.Metadata.(ComplaintMetadata)
	return cm, ok
}
