package domain

import "time"

// SuspensionType distinguishes cooldown-bound suspensions from permanent ones.
type SuspensionType string

const (
	SuspensionTemporary SuspensionType = "temporary"
	SuspensionPermanent SuspensionType = "permanent"
)

// SuspensionRecord is the active (or historical) suspension of a tenant. At
// most one record per tenant has UnlockedAt == nil.
type SuspensionRecord struct {
	ID                string         `json:"id" db:"id"`
	TenantID          string         `json:"tenant_id" db:"tenant_id"`
	Type              SuspensionType `json:"suspension_type" db:"suspension_type"`
	Reason            string         `json:"reason" db:"reason"`
	SuspendedAt       time.Time      `json:"suspended_at" db:"suspended_at"`
	CooldownDays      int            `json:"cooldown_days" db:"cooldown_days"`
	UnlockEligibleAt  *time.Time     `json:"unlock_eligible_at,omitempty" db:"unlock_eligible_at"`
	ScoreAtSuspension float64        `json:"score_at_suspension" db:"score_at_suspension"`
	UnlockedAt        *time.Time     `json:"unlocked_at,omitempty" db:"unlocked_at"`
	UnlockReason      string         `json:"unlock_reason,omitempty" db:"unlock_reason"`
	RequiresApproval  bool           `json:"requires_approval" db:"requires_approval"`
	CreatedBy         string         `json:"created_by" db:"created_by"`
}

// Active reports whether the suspension is still in force.
func (s SuspensionRecord) Active() bool { return s.UnlockedAt == nil }

// UnlockCheck is the persisted outcome of one auto-unlock evaluation.
type UnlockCheck struct {
	ID           string    `json:"id" db:"id"`
	TenantID     string    `json:"tenant_id" db:"tenant_id"`
	SuspensionID string    `json:"suspension_id" db:"suspension_id"`
	CheckedAt    time.Time `json:"checked_at" db:"checked_at"`
	Score        float64   `json:"score" db:"score"`
	CooldownMet  bool      `json:"cooldown_met" db:"cooldown_met"`
	ThresholdMet bool      `json:"threshold_met" db:"threshold_met"`
	ImprovedMet  bool      `json:"improved_met" db:"improved_met"`
	Unlocked     bool      `json:"unlocked" db:"unlocked"`
	Reason       string    `json:"reason" db:"reason"`
}

// Notice kinds sent to operators and tenants.
const (
	NoticeSuspended = "suspended"
	NoticeUnlocked  = "unlocked"
)

// SuspensionNotice is handed to notifiers when a suspension starts or ends.
type SuspensionNotice struct {
	Kind       string           `json:"kind"`
	Tenant     TenantProfile    `json:"tenant"`
	Suspension SuspensionRecord `json:"suspension"`
	Reason     string           `json:"reason"`
	At         time.Time        `json:"at"`
}
