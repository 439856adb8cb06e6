package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/abuse-guard/internal/config"
	"github.com/ignite/abuse-guard/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func mustTable(t *testing.T, edit func(*config.RateLimitConfig)) *Table {
	t.Helper()
	cfg := config.DefaultRateLimitConfig()
	cfg.OnStoreError = "closed"
	if edit != nil {
		edit(&cfg)
	}
	table, err := NewTable(cfg)
	require.NoError(t, err)
	return table
}

type fixedLevels map[string]domain.Level

func (f fixedLevels) Level(ctx context.Context, tenantID string) (domain.Level, error) {
	return f[tenantID], nil
}

type fixedBalances map[string]float64

func (f fixedBalances) Balance(ctx context.Context, tenantID string) (float64, error) {
	b, ok := f[tenantID]
	if !ok {
		return 0, errors.New("balance service down")
	}
	return b, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestNewTable_Validation(t *testing.T) {
	tests := []struct {
		name string
		edit func(*config.RateLimitConfig)
	}{
		{"on_store_error unset", func(c *config.RateLimitConfig) { c.OnStoreError = "" }},
		{"on_store_error unknown", func(c *config.RateLimitConfig) { c.OnStoreError = "maybe" }},
		{"unknown algorithm", func(c *config.RateLimitConfig) { c.Algorithm = "leaky_bucket" }},
		{"unknown action", func(c *config.RateLimitConfig) { c.Action = "drop" }},
		{"missing risk level", func(c *config.RateLimitConfig) { delete(c.RiskLevels, "high") }},
		{"unknown risk level", func(c *config.RateLimitConfig) { c.RiskLevels["severe"] = config.BudgetConfig{MaxRequests: 1, WindowSeconds: 1} }},
		{"unknown balance status", func(c *config.RateLimitConfig) { c.BalanceStatus["negative"] = config.BudgetConfig{MaxRequests: 1, WindowSeconds: 1} }},
		{"zero window", func(c *config.RateLimitConfig) { c.BalanceStatus["low"] = config.BudgetConfig{MaxRequests: 1} }},
		{"thresholds inverted", func(c *config.RateLimitConfig) { c.BalanceThresholds.Low = 5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultRateLimitConfig()
			cfg.OnStoreError = "open"
			tt.edit(&cfg)
			_, err := NewTable(cfg)
			assert.ErrorIs(t, err, ErrInvalidTable)
		})
	}
}

func TestTable_StatusFor(t *testing.T) {
	table := mustTable(t, nil)
	assert.Equal(t, domain.BalanceZero, table.StatusFor(0))
	assert.Equal(t, domain.BalanceZero, table.StatusFor(-10))
	assert.Equal(t, domain.BalanceCritical, table.StatusFor(9999))
	assert.Equal(t, domain.BalanceLow, table.StatusFor(10000))
	assert.Equal(t, domain.BalanceSufficient, table.StatusFor(100000))
}

func TestTable_EffectiveTakesLowerRate(t *testing.T) {
	table := mustTable(t, nil)

	b := table.Effective(domain.LevelCritical, domain.BalanceZero)
	assert.Equal(t, 5, b.MaxRequests)
	assert.Equal(t, time.Minute, b.Window)
	assert.Equal(t, ActionBlock, b.Action)

	b = table.Effective(domain.LevelNone, domain.BalanceLow)
	assert.Equal(t, 60, b.MaxRequests)
	assert.Equal(t, ActionThrottle, b.Action)

	// Rates, not raw counts, are compared.
	table = mustTable(t, func(c *config.RateLimitConfig) {
		c.BalanceStatus["sufficient"] = config.BudgetConfig{MaxRequests: 100, WindowSeconds: 10, Action: "warn"}
	})
	b = table.Effective(domain.LevelLow, domain.BalanceSufficient)
	assert.Equal(t, 90, b.MaxRequests, "90/60s is slower than 100/10s")
	assert.Equal(t, ActionThrottle, b.Action, "stricter of throttle and warn")
}

func TestLimiter_CriticalZeroBalanceBlocks(t *testing.T) {
	client, _ := setupTestRedis(t)
	clk := &clock{now: t0}
	lim := NewLimiter(mustTable(t, nil), NewRedisStore(client),
		fixedLevels{"t-1": domain.LevelCritical}, fixedBalances{"t-1": 0}, clk.Now)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d := lim.Check(ctx, "t-1")
		require.True(t, d.Allowed, "request %d", i+1)
		assert.Equal(t, 5, d.Limit)
		assert.Equal(t, 4-i, d.Remaining)
		clk.Advance(time.Second)
	}

	d := lim.Check(ctx, "t-1")
	assert.False(t, d.Allowed)
	assert.Equal(t, ActionBlock, d.Action)
	assert.Equal(t, 3600, d.RetryAfterSeconds())

	// The block outlives the window.
	clk.Advance(2 * time.Minute)
	d = lim.Check(ctx, "t-1")
	assert.False(t, d.Allowed)
	assert.Equal(t, ActionBlock, d.Action)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
}

func TestLimiter_SlidingWindowThrottles(t *testing.T) {
	client, _ := setupTestRedis(t)
	clk := &clock{now: t0}
	table := mustTable(t, func(c *config.RateLimitConfig) {
		c.RiskLevels["high"] = config.BudgetConfig{MaxRequests: 3, WindowSeconds: 10}
	})
	lim := NewLimiter(table, NewRedisStore(client),
		fixedLevels{"t-1": domain.LevelHigh}, fixedBalances{"t-1": 1e6}, clk.Now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.True(t, lim.Check(ctx, "t-1").Allowed)
		clk.Advance(2 * time.Second)
	}
	d := lim.Check(ctx, "t-1")
	assert.False(t, d.Allowed)
	assert.Equal(t, ActionThrottle, d.Action)
	assert.Equal(t, 4*time.Second, d.RetryAfter, "oldest request leaves the window at t0+10s")

	clk.Advance(4 * time.Second)
	assert.True(t, lim.Check(ctx, "t-1").Allowed)
}

func TestLimiter_TokenBucketRefills(t *testing.T) {
	client, _ := setupTestRedis(t)
	clk := &clock{now: t0}
	table := mustTable(t, func(c *config.RateLimitConfig) {
		c.Algorithm = "token_bucket"
		c.RiskLevels["none"] = config.BudgetConfig{MaxRequests: 60, WindowSeconds: 60, BurstSize: 2}
	})
	lim := NewLimiter(table, NewRedisStore(client),
		fixedLevels{}, fixedBalances{"t-1": 1e6}, clk.Now)
	ctx := context.Background()

	assert.True(t, lim.Check(ctx, "t-1").Allowed)
	assert.True(t, lim.Check(ctx, "t-1").Allowed)
	d := lim.Check(ctx, "t-1")
	assert.False(t, d.Allowed, "burst exhausted")
	assert.Equal(t, time.Second, d.RetryAfter)

	clk.Advance(time.Second)
	assert.True(t, lim.Check(ctx, "t-1").Allowed, "one token per second")
	assert.False(t, lim.Check(ctx, "t-1").Allowed)
}

func TestLimiter_WarnActionAllows(t *testing.T) {
	client, _ := setupTestRedis(t)
	table := mustTable(t, func(c *config.RateLimitConfig) {
		c.Action = "warn"
		c.RiskLevels["none"] = config.BudgetConfig{MaxRequests: 1, WindowSeconds: 60}
	})
	lim := NewLimiter(table, NewRedisStore(client), fixedLevels{}, fixedBalances{"t-1": 1e6}, func() time.Time { return t0 })

	require.True(t, lim.Check(context.Background(), "t-1").Allowed)
	d := lim.Check(context.Background(), "t-1")
	assert.True(t, d.Allowed)
	assert.True(t, d.Warning)
	assert.Equal(t, ActionWarn, d.Action)
}

func TestLimiter_StoreUnavailable(t *testing.T) {
	for _, mode := range []string{"open", "closed"} {
		t.Run(mode, func(t *testing.T) {
			client, mr := setupTestRedis(t)
			table := mustTable(t, func(c *config.RateLimitConfig) { c.OnStoreError = mode })
			lim := NewLimiter(table, NewRedisStore(client),
				fixedLevels{}, fixedBalances{"t-1": 1e6}, func() time.Time { return t0 })
			mr.Close()

			d := lim.Check(context.Background(), "t-1")
			assert.True(t, d.Degraded)
			assert.Equal(t, mode == "open", d.Allowed)
		})
	}
}

func TestLimiter_BalanceFailureIsDegraded(t *testing.T) {
	client, _ := setupTestRedis(t)
	lim := NewLimiter(mustTable(t, nil), NewRedisStore(client), fixedLevels{}, fixedBalances{}, nil)

	d := lim.Check(context.Background(), "t-1")
	assert.True(t, d.Degraded)
	assert.False(t, d.Allowed)
}

type scoreMap map[string]domain.TenantScore

func (m scoreMap) GetScore(ctx context.Context, tenantID string) (*domain.TenantScore, error) {
	s, ok := m[tenantID]
	if !ok {
		return nil, errors.New("not found")
	}
	return &s, nil
}

func TestLevelCache_FallbackAndPublish(t *testing.T) {
	client, mr := setupTestRedis(t)
	scores := scoreMap{"t-1": {TenantID: "t-1", Level: domain.LevelMedium}}
	cache := NewLevelCache(client, scores, 30*time.Second)
	ctx := context.Background()

	level, err := cache.Level(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, domain.LevelMedium, level)
	assert.True(t, mr.Exists("abuse:level:t-1"), "miss repopulates the cache")

	require.NoError(t, cache.PublishLevel(ctx, "t-1", domain.LevelCritical))
	level, err = cache.Level(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, domain.LevelCritical, level, "cache is served until the TTL lapses")

	mr.FastForward(31 * time.Second)
	level, err = cache.Level(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, domain.LevelMedium, level)

	_, err = cache.Level(ctx, "t-9")
	assert.Error(t, err)
}

func TestLevelCache_WithoutRedis(t *testing.T) {
	cache := NewLevelCache(nil, scoreMap{"t-1": {Level: domain.LevelHigh}}, time.Minute)
	require.NoError(t, cache.PublishLevel(context.Background(), "t-1", domain.LevelNone))
	level, err := cache.Level(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, domain.LevelHigh, level)
}
