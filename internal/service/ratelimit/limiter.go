package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ignite/abuse-guard/internal/domain"
	"github.com/ignite/abuse-guard/internal/pkg/logger"
)

// LevelReader returns a tenant's last known abuse level.
type LevelReader interface {
	Level(ctx context.Context, tenantID string) (domain.Level, error)
}

// BalanceSource returns a tenant's prepaid balance.
type BalanceSource interface {
	Balance(ctx context.Context, tenantID string) (float64, error)
}

// Decision is the verdict for one inbound request.
type Decision struct {
	TenantID      string               `json:"tenant_id"`
	Allowed       bool                 `json:"allowed"`
	Action        Action               `json:"action,omitempty"`
	Limit         int                  `json:"limit"`
	Remaining     int                  `json:"remaining"`
	RetryAfter    time.Duration        `json:"-"`
	Window        time.Duration        `json:"-"`
	Level         domain.Level         `json:"level"`
	BalanceStatus domain.BalanceStatus `json:"balance_status"`
	// Warning is set when the budget is exceeded under the warn action.
	Warning bool `json:"warning"`
	// Degraded is set when the store failed and on_store_error decided.
	Degraded bool `json:"degraded"`
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (d Decision) RetryAfterSeconds() int {
	return int(math.Ceil(d.RetryAfter.Seconds()))
}

// Limiter enforces per-tenant budgets.
type Limiter struct {
	table    *Table
	store    Store
	levels   LevelReader
	balances BalanceSource
	now      func() time.Time
}

// NewLimiter creates a limiter. now may be nil.
func NewLimiter(table *Table, store Store, levels LevelReader, balances BalanceSource, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{table: table, store: store, levels: levels, balances: balances, now: now}
}

// Table returns the limiter's table.
func (l *Limiter) Table() *Table { return l.table }

// Check counts one request for tenantID and returns the verdict. Failures to
// read the level, the balance or the counters are resolved by on_store_error
// and reported through Decision.Degraded, never as an error.
func (l *Limiter) Check(ctx context.Context, tenantID string) Decision {
	level, err := l.levels.Level(ctx, tenantID)
	if err != nil {
		return l.degraded(tenantID, fmt.Errorf("level: %w", err))
	}
	balance, err := l.balances.Balance(ctx, tenantID)
	if err != nil {
		return l.degraded(tenantID, fmt.Errorf("balance: %w", err))
	}
	status := l.table.StatusFor(balance)
	budget := l.table.Effective(level, status)

	d := Decision{
		TenantID:      tenantID,
		Allowed:       true,
		Limit:         budget.MaxRequests,
		Window:        budget.Window,
		Level:         level,
		BalanceStatus: status,
	}

	blocked, err := l.store.Blocked(ctx, blockKey(tenantID))
	if err != nil {
		return l.degraded(tenantID, err)
	}
	if blocked > 0 {
		d.Allowed = false
		d.Action = ActionBlock
		d.RetryAfter = blocked
		return d
	}

	res, err := l.store.Allow(ctx, counterKey(tenantID), l.table.algorithm, budget, l.now())
	if err != nil {
		return l.degraded(tenantID, err)
	}
	d.Remaining = res.Remaining
	if res.Allowed {
		return d
	}

	d.Action = budget.Action
	switch budget.Action {
	case ActionWarn:
		d.Warning = true
	case ActionBlock:
		d.Allowed = false
		d.RetryAfter = l.table.blockFor
		if err := l.store.Block(ctx, blockKey(tenantID), l.table.blockFor); err != nil {
			logger.Error("rate limit block not recorded", "tenant_id", tenantID, "error", err)
		}
		logger.Warn("tenant blocked by rate limit",
			"tenant_id", tenantID,
			"level", level.String(),
			"balance_status", string(status),
			"block_seconds", int(l.table.blockFor.Seconds()))
	default:
		d.Allowed = false
		d.RetryAfter = res.RetryAfter
	}
	return d
}

func (l *Limiter) degraded(tenantID string, err error) Decision {
	d := Decision{TenantID: tenantID, Degraded: true}
	if l.table.onStoreError == FailOpen {
		d.Allowed = true
		logger.Error("rate limit store unavailable, failing open", "tenant_id", tenantID, "error", err)
		return d
	}
	d.Action = ActionThrottle
	d.RetryAfter = time.Second
	logger.Error("rate limit store unavailable, failing closed", "tenant_id", tenantID, "error", err)
	return d
}
