package domain

import "time"

// PolicyDecision is the transient result of evaluating a tenant after a score
// mutation. It is only persisted as an audit entry.
type PolicyDecision struct {
	TenantID     string    `json:"tenant_id"`
	Level        Level     `json:"level"`
	Action       Action    `json:"action"`
	TriggeredBy  []string  `json:"triggered_by"`
	HighRisk     bool      `json:"high_risk"`
	ManualReview bool      `json:"manual_review"`
	Bypassed     bool      `json:"bypassed"`
	Reasons      []string  `json:"reasons,omitempty"`
	DecidedAt    time.Time `json:"decided_at"`
}

// Audit actions written by the engine and the admin API.
const (
	AuditDecision      = "policy_decision"
	AuditDuplicate     = "duplicate_complaint"
	AuditUnknownSignal = "unknown_signal"
	AuditInvalidScore  = "invalid_score_state"
	AuditSuspend       = "suspend"
	AuditForceSuspend  = "force_suspend"
	AuditUnlock        = "unlock"
	AuditForceUnlock   = "force_unlock"
	AuditDismissEvent  = "dismiss_event"
	AuditResetScore    = "reset_score"
	AuditBypass        = "enforcement_bypassed"
)

// AuditEntry is one row of the append-only audit log.
type AuditEntry struct {
	ID        string    `json:"id" db:"id"`
	TenantID  string    `json:"tenant_id" db:"tenant_id"`
	Actor     string    `json:"actor" db:"actor"`
	Action    string    `json:"action" db:"action"`
	Detail    string    `json:"detail" db:"detail"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
