package abuse

import (
	"context"
	"time"

	"github.com/ignite/abuse-guard/internal/domain"
)

// Repository defines the data access contract for abuse scoring.
type Repository interface {
	// GetTenant returns the tenant profile. Returns ErrTenantNotFound if missing.
	GetTenant(ctx context.Context, tenantID string) (*domain.TenantProfile, error)

	// GetScore returns the tenant's score row. A tenant that has never been
	// scored gets a zero row with Version 0.
	GetScore(ctx context.Context, tenantID string) (*domain.TenantScore, error)

	// ApplyMutation writes a score change and its side rows in one
	// transaction. Returns ErrConcurrentMutation when the stored version no
	// longer equals m.ExpectedVersion.
	ApplyMutation(ctx context.Context, m ScoreMutation) error

	// FindEventByDedupKey returns the most recent event with the key that
	// occurred at or after since, or nil if there is none.
	FindEventByDedupKey(ctx context.Context, tenantID, key string, since time.Time) (*domain.AbuseEvent, error)

	// ComplaintStats aggregates non-dismissed complaint events since the given time.
	ComplaintStats(ctx context.Context, tenantID string, since time.Time) (domain.ComplaintStats, error)

	// GetEvent returns one event. Returns ErrEventNotFound if missing.
	GetEvent(ctx context.Context, eventID string) (*domain.AbuseEvent, error)

	// ListEvents returns a tenant's events, newest first, and the total count.
	ListEvents(ctx context.Context, tenantID string, filter EventFilter) ([]domain.AbuseEvent, int, error)

	// ActiveSuspension returns the tenant's active suspension, or nil.
	ActiveSuspension(ctx context.Context, tenantID string) (*domain.SuspensionRecord, error)

	// CreateSuspension inserts a suspension. Returns ErrAlreadySuspended if
	// the tenant already has an active one.
	CreateSuspension(ctx context.Context, rec *domain.SuspensionRecord) error

	// CloseSuspension marks a suspension unlocked. Returns ErrNotSuspended if
	// it is not active.
	CloseSuspension(ctx context.Context, suspensionID string, unlockedAt time.Time, reason string, requiresApproval bool) error

	// ListActiveSuspensions returns every active suspension.
	ListActiveSuspensions(ctx context.Context) ([]domain.SuspensionRecord, error)

	// SaveUnlockCheck persists one auto-unlock evaluation.
	SaveUnlockCheck(ctx context.Context, c *domain.UnlockCheck) error

	// AppendAudit appends to the audit log.
	AppendAudit(ctx context.Context, e *domain.AuditEntry) error

	// TenantsAboveScore returns ids of tenants whose score exceeds min and
	// who are not halted for review.
	TenantsAboveScore(ctx context.Context, min float64) ([]string, error)
}

// ScoreMutation is the unit of work committed by the ledger.
type ScoreMutation struct {
	Score           *domain.TenantScore
	ExpectedVersion int64
	// Event is appended when non-nil.
	Event *domain.AbuseEvent
	// DismissEventID marks an existing event dismissed when set.
	DismissEventID string
	DismissReason  string
	Audit          []domain.AuditEntry
}

// EventFilter controls pagination and filtering for event lists.
type EventFilter struct {
	SignalType       string
	IncludeDismissed bool
	Since            *time.Time
	Limit            int
	Offset           int
}
