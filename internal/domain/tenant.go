package domain

import "time"

// TenantProfile is the subset of tenant data the scoring engine reads.
type TenantProfile struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Role         string    `json:"role" db:"role"`
	BusinessType string    `json:"business_type" db:"business_type"`
	Email        string    `json:"email,omitempty" db:"email"`
	RegisteredAt time.Time `json:"registered_at" db:"registered_at"`
}

// TenantScore is the single mutable score row per tenant. Version increases
// on every write and backs the compare-and-swap in the ledger.
type TenantScore struct {
	TenantID         string     `json:"tenant_id" db:"tenant_id"`
	CumulativeScore  float64    `json:"cumulative_score" db:"cumulative_score"`
	Level            Level      `json:"level" db:"level"`
	LastEventAt      *time.Time `json:"last_event_at,omitempty" db:"last_event_at"`
	LastDecayAt      *time.Time `json:"last_decay_at,omitempty" db:"last_decay_at"`
	GracePeriodUntil *time.Time `json:"grace_period_until,omitempty" db:"grace_period_until"`
	ReviewRequired   bool       `json:"review_required" db:"review_required"`
	Version          int64      `json:"version" db:"version"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// BalanceStatus classifies a tenant's prepaid balance (saldo).
type BalanceStatus string

const (
	BalanceSufficient BalanceStatus = "sufficient"
	BalanceLow        BalanceStatus = "low"
	BalanceCritical   BalanceStatus = "critical"
	BalanceZero       BalanceStatus = "zero"
)

// BalanceStatuses lists every balance status.
var BalanceStatuses = []BalanceStatus{BalanceSufficient, BalanceLow, BalanceCritical, BalanceZero}

// Valid reports whether b is a known balance status.
func (b BalanceStatus) Valid() bool {
	for _, known := range BalanceStatuses {
		if b == known {
			return true
		}
	}
	return false
}
