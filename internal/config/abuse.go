package config

import (
	"fmt"
	"strings"
	"time"
)

// AbuseConfig mirrors the abuse policy tables. It is raw, unvalidated input;
// abuse.NewPolicy turns it into an immutable, validated snapshot.
type AbuseConfig struct {
	SignalWeights map[string]int         `yaml:"signal_weights"`
	Complaints    ComplaintsConfig       `yaml:"complaints"`
	Thresholds    map[string]RangeConfig `yaml:"thresholds"`
	Actions       map[string]string      `yaml:"actions"`
	Escalation    EscalationConfig       `yaml:"escalation"`
	BypassRoles   []string               `yaml:"bypass_roles"`
	AdminRoles    []string               `yaml:"admin_roles"`
	GracePeriod   GracePeriodConfig      `yaml:"grace_period"`
	Whitelist     WhitelistConfig        `yaml:"whitelist"`
	Decay         DecayConfig            `yaml:"decay"`
	Cooldown      CooldownConfig         `yaml:"cooldown"`
	Retention     RetentionConfig        `yaml:"retention"`
	Ledger        LedgerConfig           `yaml:"ledger"`
}

// ComplaintsConfig holds complaint weights and multipliers
type ComplaintsConfig struct {
	Weights                map[string]int     `yaml:"weights"`
	SeverityMultipliers    map[string]float64 `yaml:"severity_multipliers"`
	SourceMultipliers      map[string]float64 `yaml:"source_multipliers"`
	ProviderMultipliers    map[string]float64 `yaml:"provider_multipliers"`
	DeduplicateWindowHours int                `yaml:"deduplicate_window_hours"`
	CriticalTypes          []string           `yaml:"critical_types"`
	CriticalAction         string             `yaml:"critical_action"`
	Rounding               string             `yaml:"rounding"` // nearest, floor, ceil
}

// DeduplicateWindow returns the dedup window as a duration
func (c ComplaintsConfig) DeduplicateWindow() time.Duration {
	return time.Duration(c.DeduplicateWindowHours) * time.Hour
}

// RangeConfig is one level's score range. Max is optional and only checked
// for consistency with the next level's Min.
type RangeConfig struct {
	Min float64  `yaml:"min"`
	Max *float64 `yaml:"max"`
}

// EscalationConfig holds volume and pattern escalation thresholds
type EscalationConfig struct {
	WindowDays int                     `yaml:"window_days"`
	Volume     VolumeEscalationConfig  `yaml:"volume"`
	Pattern    PatternEscalationConfig `yaml:"pattern"`
}

// VolumeEscalationConfig holds complaint-count thresholds
type VolumeEscalationConfig struct {
	Suspend         int `yaml:"suspend"`
	RequireApproval int `yaml:"require_approval"`
	HighRisk        int `yaml:"high_risk"`
}

// PatternEscalationConfig holds manual-review pattern thresholds
type PatternEscalationConfig struct {
	SameRecipient   int `yaml:"same_recipient"`
	SameType        int `yaml:"same_type"`
	DistinctSources int `yaml:"distinct_sources"`
}

// GracePeriodConfig holds new-tenant reduced scoring settings
type GracePeriodConfig struct {
	Days           int     `yaml:"days"`
	ReducedScoring bool    `yaml:"reduced_scoring"`
	Multiplier     float64 `yaml:"multiplier"`
}

// WhitelistConfig holds the low-risk business type whitelist
type WhitelistConfig struct {
	BusinessTypes []string `yaml:"business_types"`
	Multiplier    float64  `yaml:"multiplier"`
}

// DecayConfig holds inactivity decay settings
type DecayConfig struct {
	Enabled             bool    `yaml:"enabled"`
	RatePerDay          float64 `yaml:"rate_per_day"`
	MinDaysWithoutEvent int     `yaml:"min_days_without_event"`
	MaxDecayPerRun      float64 `yaml:"max_decay_per_run"`
	MinScore            float64 `yaml:"min_score"`
}

// CooldownConfig holds suspension cooldown and auto-unlock settings
type CooldownConfig struct {
	DefaultTempSuspensionDays int     `yaml:"default_temp_suspension_days"`
	MinCooldownDays           int     `yaml:"min_cooldown_days"`
	MaxCooldownDays           int     `yaml:"max_cooldown_days"`
	AutoUnlockEnabled         bool    `yaml:"auto_unlock_enabled"`
	AutoUnlockScoreThreshold  float64 `yaml:"auto_unlock_score_threshold"`
	RequireScoreImprovement   bool    `yaml:"require_score_improvement"`
	ApprovalOnUnlock          bool    `yaml:"approval_on_unlock"`
	CheckFrequency            string  `yaml:"check_frequency"` // daily, hourly, or a Go duration
	LogAllChecks              bool    `yaml:"log_all_checks"`
}

// CheckInterval parses CheckFrequency.
func (c CooldownConfig) CheckInterval() (time.Duration, error) {
	switch strings.ToLower(strings.TrimSpace(c.CheckFrequency)) {
	case "", "daily":
		return 24 * time.Hour, nil
	case "hourly":
		return time.Hour, nil
	}
	d, err := time.ParseDuration(c.CheckFrequency)
	if err != nil {
		return 0, fmt.Errorf("invalid cooldown.check_frequency %q: %w", c.CheckFrequency, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("cooldown.check_frequency must be positive, got %s", d)
	}
	return d, nil
}

// RetentionConfig holds purge horizons
type RetentionConfig struct {
	EventsDays       int `yaml:"events_days"`
	AuditDays        int `yaml:"audit_days"`
	UnlockChecksDays int `yaml:"unlock_checks_days"`
}

// LedgerConfig holds ledger write retry settings
type LedgerConfig struct {
	MaxRetries    int `yaml:"max_retries"`
	BaseBackoffMS int `yaml:"base_backoff_ms"`
	MaxBackoffMS  int `yaml:"max_backoff_ms"`
}

func floatPtr(f float64) *float64 { return &f }

// DefaultAbuseConfig returns the stock policy tables. Values loaded from YAML
// are merged on top.
func DefaultAbuseConfig() AbuseConfig {
	return AbuseConfig{
		SignalWeights: map[string]int{
			"fraud_detected":          100,
			"policy_violation":        50,
			"manual_flag":             40,
			"suspicious_volume_spike": 30,
			"quality_rating_low":      25,
			"blocked_by_recipient":    15,
			"high_failure_rate":       20,
			"quality_rating_medium":   10,
			"template_rejected":       10,
			"rate_limit_violation":    5,
			"manual_review":           0,
		},
		Complaints: ComplaintsConfig{
			Weights: map[string]int{
				"spam":          25,
				"abuse":         50,
				"phishing":      100,
				"inappropriate": 35,
				"frequency":     20,
				"other":         15,
			},
			SeverityMultipliers: map[string]float64{
				"low":      1.0,
				"medium":   1.5,
				"high":     2.0,
				"critical": 3.0,
			},
			SourceMultipliers: map[string]float64{
				"provider_webhook": 1.0,
				"manual_report":    0.8,
				"internal_flag":    0.9,
				"third_party":      0.7,
			},
			ProviderMultipliers: map[string]float64{
				"gupshup": 1.0,
				"twilio":  1.0,
				"meta":    1.0,
			},
			DeduplicateWindowHours: 24,
			CriticalTypes:          []string{"phishing", "abuse"},
			CriticalAction:         "suspend",
			Rounding:               "nearest",
		},
		Thresholds: map[string]RangeConfig{
			"none":     {Min: 0, Max: floatPtr(10)},
			"low":      {Min: 10, Max: floatPtr(30)},
			"medium":   {Min: 30, Max: floatPtr(60)},
			"high":     {Min: 60, Max: floatPtr(100)},
			"critical": {Min: 100},
		},
		Actions: map[string]string{
			"none":     "none",
			"low":      "none",
			"medium":   "throttle",
			"high":     "require_approval",
			"critical": "suspend",
		},
		Escalation: EscalationConfig{
			WindowDays: 30,
			Volume:     VolumeEscalationConfig{Suspend: 10, RequireApproval: 5, HighRisk: 3},
			Pattern:    PatternEscalationConfig{SameRecipient: 3, SameType: 5, DistinctSources: 2},
		},
		BypassRoles: []string{"owner", "super_admin"},
		AdminRoles:  []string{"owner", "super_admin"},
		GracePeriod: GracePeriodConfig{Days: 7, ReducedScoring: true, Multiplier: 0.5},
		Whitelist:   WhitelistConfig{Multiplier: 0.7},
		Decay: DecayConfig{
			Enabled:             true,
			RatePerDay:          2,
			MinDaysWithoutEvent: 3,
			MaxDecayPerRun:      10,
			MinScore:            0,
		},
		Cooldown: CooldownConfig{
			DefaultTempSuspensionDays: 7,
			MinCooldownDays:           3,
			MaxCooldownDays:           30,
			AutoUnlockEnabled:         true,
			AutoUnlockScoreThreshold:  30,
			RequireScoreImprovement:   true,
			ApprovalOnUnlock:          false,
			CheckFrequency:            "daily",
			LogAllChecks:              true,
		},
		Retention: RetentionConfig{EventsDays: 365, AuditDays: 730, UnlockChecksDays: 90},
		Ledger:    LedgerConfig{MaxRetries: 5, BaseBackoffMS: 20, MaxBackoffMS: 500},
	}
}

// RateLimitConfig mirrors the rate-limit tables.
type RateLimitConfig struct {
	Algorithm            string                  `yaml:"algorithm"` // token_bucket, sliding_window
	Action               string                  `yaml:"action"`    // throttle, block, warn
	OnStoreError         string                  `yaml:"on_store_error"`
	BlockSeconds         int                     `yaml:"block_seconds"`
	LevelCacheTTLSeconds int                     `yaml:"level_cache_ttl_seconds"`
	RiskLevels           map[string]BudgetConfig `yaml:"risk_levels"`
	BalanceStatus        map[string]BudgetConfig `yaml:"balance_status"`
	BalanceThresholds    BalanceThresholdConfig  `yaml:"balance_thresholds"`
}

// BudgetConfig is one row of a rate-limit table
type BudgetConfig struct {
	MaxRequests   int    `yaml:"max_requests"`
	WindowSeconds int    `yaml:"window_seconds"`
	BurstSize     int    `yaml:"burst_size"`
	Action        string `yaml:"action"`
}

// BalanceThresholdConfig maps a balance amount onto a balance status
type BalanceThresholdConfig struct {
	Low      float64 `yaml:"low"`
	Critical float64 `yaml:"critical"`
}

// DefaultRateLimitConfig returns the stock rate-limit tables. OnStoreError is
// deliberately left empty: the deployment must choose open or closed.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Algorithm:            "sliding_window",
		Action:               "throttle",
		BlockSeconds:         3600,
		LevelCacheTTLSeconds: 30,
		RiskLevels: map[string]BudgetConfig{
			"none":     {MaxRequests: 120, WindowSeconds: 60},
			"low":      {MaxRequests: 90, WindowSeconds: 60},
			"medium":   {MaxRequests: 60, WindowSeconds: 60},
			"high":     {MaxRequests: 20, WindowSeconds: 60},
			"critical": {MaxRequests: 5, WindowSeconds: 60, Action: "block"},
		},
		BalanceStatus: map[string]BudgetConfig{
			"sufficient": {MaxRequests: 120, WindowSeconds: 60},
			"low":        {MaxRequests: 60, WindowSeconds: 60},
			"critical":   {MaxRequests: 30, WindowSeconds: 60},
			"zero":       {MaxRequests: 10, WindowSeconds: 60},
		},
		BalanceThresholds: BalanceThresholdConfig{Low: 100000, Critical: 10000},
	}
}
