package abuse

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/abuse-guard/internal/config"
	"github.com/ignite/abuse-guard/internal/domain"
)

func mustPolicy(t *testing.T, edit func(*config.AbuseConfig)) *Policy {
	t.Helper()
	cfg := config.DefaultAbuseConfig()
	if edit != nil {
		edit(&cfg)
	}
	p, err := NewPolicy(cfg)
	require.NoError(t, err)
	return p
}

func fptr(f float64) *float64 { return &f }

func TestClassify_Boundaries(t *testing.T) {
	c := mustPolicy(t, nil).Classifier()

	tests := []struct {
		score float64
		want  domain.Level
	}{
		{0, domain.LevelNone},
		{9, domain.LevelNone},
		{9.999, domain.LevelNone},
		{10, domain.LevelLow},
		{29, domain.LevelLow},
		{30, domain.LevelMedium},
		{59, domain.LevelMedium},
		{60, domain.LevelHigh},
		{99, domain.LevelHigh},
		{100, domain.LevelCritical},
		{1e9, domain.LevelCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.Classify(tt.score), "score %v", tt.score)
	}
}

func TestClassify_PartitionHasNoGapOrOverlap(t *testing.T) {
	c := mustPolicy(t, nil).Classifier()
	for s := 0.0; s <= 250; s += 0.25 {
		level := c.Classify(s)
		assert.GreaterOrEqual(t, s, c.Min(level), "score %v below its level's min", s)
		if level != domain.LevelCritical {
			assert.Less(t, s, c.Min(level+1), "score %v reaches the next level", s)
		}
	}
}

func TestClassify_CorruptScores(t *testing.T) {
	c := mustPolicy(t, nil).Classifier()
	assert.Equal(t, domain.LevelCritical, c.Classify(math.NaN()))
	assert.Equal(t, domain.LevelNone, c.Classify(-5))
}

func TestNewPolicy_InclusiveIntegerMaxAccepted(t *testing.T) {
	p := mustPolicy(t, func(c *config.AbuseConfig) {
		c.Thresholds["none"] = config.RangeConfig{Min: 0, Max: fptr(9)}
		c.Thresholds["low"] = config.RangeConfig{Min: 10, Max: fptr(29)}
	})
	assert.Equal(t, domain.LevelLow, p.Classifier().Classify(10))
	assert.Equal(t, domain.LevelNone, p.Classifier().Classify(9.5))
}

func TestNewPolicy_RejectsMalformedTables(t *testing.T) {
	tests := []struct {
		name string
		edit func(*config.AbuseConfig)
	}{
		{"gap between none and low", func(c *config.AbuseConfig) {
			c.Thresholds["none"] = config.RangeConfig{Min: 0, Max: fptr(8)}
		}},
		{"overlap between none and low", func(c *config.AbuseConfig) {
			c.Thresholds["none"] = config.RangeConfig{Min: 0, Max: fptr(15)}
		}},
		{"mins not increasing", func(c *config.AbuseConfig) {
			c.Thresholds["medium"] = config.RangeConfig{Min: 10}
		}},
		{"none does not start at zero", func(c *config.AbuseConfig) {
			c.Thresholds["none"] = config.RangeConfig{Min: 1}
		}},
		{"critical bounded", func(c *config.AbuseConfig) {
			c.Thresholds["critical"] = config.RangeConfig{Min: 100, Max: fptr(1000)}
		}},
		{"missing level", func(c *config.AbuseConfig) { delete(c.Thresholds, "high") }},
		{"unknown level key", func(c *config.AbuseConfig) { c.Thresholds["severe"] = config.RangeConfig{Min: 500} }},
		{"unknown signal", func(c *config.AbuseConfig) { c.SignalWeights["teleport"] = 5 }},
		{"negative weight", func(c *config.AbuseConfig) { c.SignalWeights["manual_flag"] = -1 }},
		{"unknown complaint type", func(c *config.AbuseConfig) { c.Complaints.Weights["rude"] = 5 }},
		{"negative multiplier", func(c *config.AbuseConfig) { c.Complaints.SeverityMultipliers["high"] = -2 }},
		{"missing source multiplier", func(c *config.AbuseConfig) { delete(c.Complaints.SourceMultipliers, "third_party") }},
		{"unknown rounding", func(c *config.AbuseConfig) { c.Complaints.Rounding = "bankers" }},
		{"unknown action", func(c *config.AbuseConfig) { c.Actions["high"] = "ban" }},
		{"unknown critical action", func(c *config.AbuseConfig) { c.Complaints.CriticalAction = "ban" }},
		{"cooldown default outside clamp", func(c *config.AbuseConfig) { c.Cooldown.DefaultTempSuspensionDays = 45 }},
		{"bad check frequency", func(c *config.AbuseConfig) { c.Cooldown.CheckFrequency = "sometimes" }},
		{"zero escalation window", func(c *config.AbuseConfig) { c.Escalation.WindowDays = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultAbuseConfig()
			tt.edit(&cfg)
			_, err := NewPolicy(cfg)
			assert.ErrorIs(t, err, ErrInvalidPolicy)
		})
	}
}

func TestNewPolicy_Version(t *testing.T) {
	a := mustPolicy(t, nil)
	b := mustPolicy(t, nil)
	c := mustPolicy(t, func(c *config.AbuseConfig) { c.SignalWeights["manual_flag"] = 41 })

	assert.Equal(t, a.Version(), b.Version())
	assert.NotEqual(t, a.Version(), c.Version())
	assert.Len(t, a.Version(), 12)
}

func TestBypassRoles(t *testing.T) {
	p := mustPolicy(t, nil)
	assert.True(t, p.IsBypassRole("owner"))
	assert.True(t, p.IsBypassRole("super_admin"))
	assert.False(t, p.IsBypassRole("member"))

	empty := mustPolicy(t, func(c *config.AbuseConfig) { c.BypassRoles = nil })
	assert.False(t, empty.IsBypassRole("owner"))

	malformed := mustPolicy(t, func(c *config.AbuseConfig) { c.BypassRoles = []string{"owner", "super admin"} })
	assert.False(t, malformed.IsBypassRole("owner"), "one malformed entry disables the whole list")
}

func TestWeightOf(t *testing.T) {
	w := mustPolicy(t, nil).Weights()

	got, err := w.WeightOf(domain.SignalFraudDetected)
	require.NoError(t, err)
	assert.Equal(t, 100, got)

	got, err = w.WeightOf(domain.SignalManualReview)
	require.NoError(t, err)
	assert.Zero(t, got)

	_, err = w.WeightOf("teleport")
	assert.True(t, errors.Is(err, ErrUnknownSignalKind))
}

func TestComplaintScorer(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	veteran := domain.TenantProfile{ID: "t-1", BusinessType: "retail", RegisteredAt: now.AddDate(-1, 0, 0)}
	newcomer := domain.TenantProfile{ID: "t-1", BusinessType: "education", RegisteredAt: now.AddDate(0, 0, -2)}

	p := mustPolicy(t, func(c *config.AbuseConfig) { c.Whitelist.BusinessTypes = []string{"Education"} })
	s := p.Scorer()

	complaint := func(ct domain.ComplaintType, sev domain.Severity, src domain.Source, provider string) domain.ComplaintRecord {
		return domain.ComplaintRecord{
			TenantID: "t-1", ComplaintType: ct, Severity: sev, Source: src,
			Provider: provider, RecipientFingerprint: "+15550001111", ReceivedAt: now,
		}
	}

	tests := []struct {
		name     string
		c        domain.ComplaintRecord
		tenant   domain.TenantProfile
		want     int
		critical bool
	}{
		{"spam high webhook", complaint(domain.ComplaintSpam, domain.SeverityHigh, domain.SourceProviderWebhook, "gupshup"), veteran, 50, false},
		{"abuse critical manual", complaint(domain.ComplaintAbuse, domain.SeverityCritical, domain.SourceManualReport, ""), veteran, 120, true},
		{"inappropriate medium internal", complaint(domain.ComplaintInappropriate, domain.SeverityMedium, domain.SourceInternalFlag, ""), veteran, 47, false},
		{"unknown provider scores at 1.0", complaint(domain.ComplaintOther, domain.SeverityLow, domain.SourceProviderWebhook, "carrier-x"), veteran, 15, false},
		{"phishing grace whitelist third party", complaint(domain.ComplaintPhishing, domain.SeverityLow, domain.SourceThirdParty, ""), newcomer, 25, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := s.Score(tt.c, tt.tenant, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Effective)
			assert.Equal(t, tt.critical, d.Critical)
		})
	}

	_, err := s.Score(domain.ComplaintRecord{TenantID: "t-1"}, veteran, now)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestComplaintScorer_GraceWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := mustPolicy(t, nil).Scorer()

	assert.True(t, s.InGracePeriod(domain.TenantProfile{RegisteredAt: now.AddDate(0, 0, -6)}, now))
	assert.False(t, s.InGracePeriod(domain.TenantProfile{RegisteredAt: now.AddDate(0, 0, -7)}, now))
	assert.False(t, s.InGracePeriod(domain.TenantProfile{}, now), "unknown registration date gets no grace")
}

func TestRounding(t *testing.T) {
	assert.Equal(t, 25, RoundNearest.Apply(24.5))
	assert.Equal(t, 24, RoundFloor.Apply(24.5))
	assert.Equal(t, 25, RoundCeil.Apply(24.5))
	assert.Equal(t, 30, RoundCeil.Apply(25*1.5*0.8), "binary noise does not push ceil up")
	assert.Equal(t, 47, RoundNearest.Apply(47.25))
}

func TestDecayAmount(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d := config.DefaultAbuseConfig().Decay
	ago := func(days int) *time.Time { t := now.AddDate(0, 0, -days); return &t }

	tests := []struct {
		name    string
		score   domain.TenantScore
		want    float64
		through *time.Time
		ok      bool
	}{
		{"never had an event", domain.TenantScore{CumulativeScore: 20}, 0, nil, false},
		{"idle less than min days", domain.TenantScore{CumulativeScore: 20, LastEventAt: ago(2)}, 0, nil, false},
		{"idle four days", domain.TenantScore{CumulativeScore: 20, LastEventAt: ago(4)}, 8, ago(0), true},
		{"capped per run", domain.TenantScore{CumulativeScore: 50, LastEventAt: ago(30)}, 10, ago(0), true},
		{"counts from last decay", domain.TenantScore{CumulativeScore: 20, LastEventAt: ago(10), LastDecayAt: ago(1)}, 2, ago(0), true},
		{"already decayed today", domain.TenantScore{CumulativeScore: 20, LastEventAt: ago(10), LastDecayAt: ago(0)}, 0, nil, false},
		{"at floor", domain.TenantScore{CumulativeScore: 0, LastEventAt: ago(10)}, 0, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount, through, ok := decayAmount(d, tt.score, now)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, amount)
			if tt.through != nil {
				assert.True(t, tt.through.Equal(through), "through %s, want %s", through, tt.through)
			}
		})
	}

	d.Enabled = false
	_, _, ok := decayAmount(d, domain.TenantScore{CumulativeScore: 20, LastEventAt: ago(10)}, now)
	assert.False(t, ok)
}
