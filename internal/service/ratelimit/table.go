package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ignite/abuse-guard/internal/config"
	"github.com/ignite/abuse-guard/internal/domain"
)

// Algorithm is the counting strategy, fixed per deployment.
type Algorithm string

const (
	TokenBucket   Algorithm = "token_bucket"
	SlidingWindow Algorithm = "sliding_window"
)

// Action is what happens to a request over budget.
type Action string

const (
	ActionWarn     Action = "warn"
	ActionThrottle Action = "throttle"
	ActionBlock    Action = "block"
)

var actionRank = map[Action]int{ActionWarn: 0, ActionThrottle: 1, ActionBlock: 2}

func (a Action) valid() bool {
	_, ok := actionRank[a]
	return ok
}

func stricter(a, b Action) Action {
	if actionRank[b] > actionRank[a] {
		return b
	}
	return a
}

// StoreErrorMode decides what Check does when the counter store fails.
type StoreErrorMode string

const (
	FailOpen   StoreErrorMode = "open"
	FailClosed StoreErrorMode = "closed"
)

// Budget is one row of a rate-limit table.
type Budget struct {
	MaxRequests int
	Window      time.Duration
	// Burst is the token bucket capacity. Zero means MaxRequests.
	Burst  int
	Action Action
}

// rate is requests per second.
func (b Budget) rate() float64 { return float64(b.MaxRequests) / b.Window.Seconds() }

// Capacity is the most requests the bucket admits back to back.
func (b Budget) Capacity() int {
	if b.Burst > 0 {
		return b.Burst
	}
	return b.MaxRequests
}

// Table is the validated, immutable rate-limit configuration.
type Table struct {
	version      string
	algorithm    Algorithm
	onStoreError StoreErrorMode
	blockFor     time.Duration
	levelTTL     time.Duration
	risk         map[domain.Level]Budget
	balance      map[domain.BalanceStatus]Budget
	lowBalance   float64
	critBalance  float64
}

// NewTable validates cfg. on_store_error has no default and must be set.
func NewTable(cfg config.RateLimitConfig) (*Table, error) {
	t := &Table{
		algorithm:    Algorithm(cfg.Algorithm),
		onStoreError: StoreErrorMode(cfg.OnStoreError),
		blockFor:     time.Duration(cfg.BlockSeconds) * time.Second,
		levelTTL:     time.Duration(cfg.LevelCacheTTLSeconds) * time.Second,
		risk:         make(map[domain.Level]Budget, len(domain.Levels)),
		balance:      make(map[domain.BalanceStatus]Budget, len(domain.BalanceStatuses)),
		lowBalance:   cfg.BalanceThresholds.Low,
		critBalance:  cfg.BalanceThresholds.Critical,
	}

	switch t.algorithm {
	case TokenBucket, SlidingWindow:
	default:
		return nil, invalid("algorithm %q must be token_bucket or sliding_window", cfg.Algorithm)
	}
	switch t.onStoreError {
	case FailOpen, FailClosed:
	case "":
		return nil, invalid("on_store_error must be set explicitly to open or closed")
	default:
		return nil, invalid("on_store_error %q must be open or closed", cfg.OnStoreError)
	}
	defaultAction := Action(cfg.Action)
	if defaultAction == "" {
		defaultAction = ActionThrottle
	}
	if !defaultAction.valid() {
		return nil, invalid("action %q must be throttle, block or warn", cfg.Action)
	}
	if cfg.BlockSeconds <= 0 {
		return nil, invalid("block_seconds must be positive")
	}
	if cfg.LevelCacheTTLSeconds < 0 {
		return nil, invalid("level_cache_ttl_seconds must not be negative")
	}
	if t.critBalance < 0 || t.lowBalance < t.critBalance {
		return nil, invalid("balance_thresholds need 0 <= critical <= low")
	}

	for name, row := range cfg.RiskLevels {
		level, err := domain.ParseLevel(name)
		if err != nil {
			return nil, invalid("risk_levels: %v", err)
		}
		b, err := budgetFrom(row, defaultAction)
		if err != nil {
			return nil, invalid("risk_levels.%s: %v", name, err)
		}
		t.risk[level] = b
	}
	for _, l := range domain.Levels {
		if _, ok := t.risk[l]; !ok {
			return nil, invalid("risk_levels.%s is missing", l)
		}
	}

	for name, row := range cfg.BalanceStatus {
		status := domain.BalanceStatus(name)
		if !status.Valid() {
			return nil, invalid("balance_status: unknown status %q", name)
		}
		b, err := budgetFrom(row, defaultAction)
		if err != nil {
			return nil, invalid("balance_status.%s: %v", name, err)
		}
		t.balance[status] = b
	}
	for _, s := range domain.BalanceStatuses {
		if _, ok := t.balance[s]; !ok {
			return nil, invalid("balance_status.%s is missing", s)
		}
	}

	raw, _ := json.Marshal(cfg)
	sum := sha256.Sum256(raw)
	t.version = hex.EncodeToString(sum[:6])
	return t, nil
}

func budgetFrom(row config.BudgetConfig, def Action) (Budget, error) {
	if row.MaxRequests <= 0 {
		return Budget{}, fmt.Errorf("max_requests must be positive")
	}
	if row.WindowSeconds <= 0 {
		return Budget{}, fmt.Errorf("window_seconds must be positive")
	}
	if row.BurstSize < 0 {
		return Budget{}, fmt.Errorf("burst_size must not be negative")
	}
	b := Budget{
		MaxRequests: row.MaxRequests,
		Window:      time.Duration(row.WindowSeconds) * time.Second,
		Burst:       row.BurstSize,
		Action:      Action(row.Action),
	}
	if b.Action == "" {
		b.Action = def
	}
	if !b.Action.valid() {
		return Budget{}, fmt.Errorf("action %q must be throttle, block or warn", row.Action)
	}
	return b, nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidTable, fmt.Sprintf(format, args...))
}

// Version is a short content hash of the configuration the table was built from.
func (t *Table) Version() string { return t.version }

// Algorithm returns the configured counting algorithm.
func (t *Table) Algorithm() Algorithm { return t.algorithm }

// OnStoreError returns the configured store failure mode.
func (t *Table) OnStoreError() StoreErrorMode { return t.onStoreError }

// BlockFor is how long a block action shuts a tenant out.
func (t *Table) BlockFor() time.Duration { return t.blockFor }

// LevelTTL is how long a published level stays cached.
func (t *Table) LevelTTL() time.Duration { return t.levelTTL }

// StatusFor maps a prepaid balance onto a balance status. Thresholds are
// exclusive upper bounds: a balance equal to the low threshold is sufficient.
func (t *Table) StatusFor(balance float64) domain.BalanceStatus {
	switch {
	case balance <= 0:
		return domain.BalanceZero
	case balance < t.critBalance:
		return domain.BalanceCritical
	case balance < t.lowBalance:
		return domain.BalanceLow
	default:
		return domain.BalanceSufficient
	}
}

// Effective returns the budget for a level and balance status: the row with
// the lower request rate, carrying the stricter action of the two.
func (t *Table) Effective(level domain.Level, status domain.BalanceStatus) Budget {
	r, ok := t.risk[level]
	if !ok {
		r = t.risk[domain.LevelCritical]
	}
	b, ok := t.balance[status]
	if !ok {
		b = t.balance[domain.BalanceZero]
	}

	out := r
	if b.rate() < r.rate() || (b.rate() == r.rate() && b.MaxRequests < r.MaxRequests) {
		out = b
	}
	out.Action = stricter(r.Action, b.Action)
	return out
}
