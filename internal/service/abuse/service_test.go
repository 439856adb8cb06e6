package abuse_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/abuse-guard/internal/config"
	"github.com/ignite/abuse-guard/internal/domain"
	"github.com/ignite/abuse-guard/internal/repository/memory"
	"github.com/ignite/abuse-guard/internal/service/abuse"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

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

type recordingNotifier struct {
	mu      sync.Mutex
	notices []domain.SuspensionNotice
}

func (n *recordingNotifier) Notify(ctx context.Context, notice domain.SuspensionNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return nil
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, x := range n.notices {
		out = append(out, x.Kind)
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	levels map[string]domain.Level
}

func (p *recordingPublisher) PublishLevel(ctx context.Context, tenantID string, level domain.Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.levels[tenantID] = level
	return nil
}

type fixture struct {
	svc       *abuse.Service
	store     *memory.Store
	clock     *clock
	notifier  *recordingNotifier
	publisher *recordingPublisher
}

var admin = abuse.Actor{ID: "ops-1", Role: "super_admin"}

func setup(t *testing.T, edit func(*config.AbuseConfig)) *fixture {
	t.Helper()
	cfg := config.DefaultAbuseConfig()
	if edit != nil {
		edit(&cfg)
	}
	policy, err := abuse.NewPolicy(cfg)
	require.NoError(t, err)

	f := &fixture{
		store:     memory.New(),
		clock:     &clock{now: t0},
		notifier:  &recordingNotifier{},
		publisher: &recordingPublisher{levels: map[string]domain.Level{}},
	}
	f.store.PutTenant(domain.TenantProfile{
		ID: "t-1", Name: "Acme", Role: "member", BusinessType: "retail",
		RegisteredAt: t0.AddDate(0, -6, 0),
	})
	f.svc = abuse.NewService(f.store, policy,
		abuse.WithClock(f.clock.Now),
		abuse.WithNotifier(f.notifier),
		abuse.WithLevelPublisher(f.publisher),
	)
	return f
}

func signal(st domain.SignalType) abuse.SignalRequest {
	return abuse.SignalRequest{TenantID: "t-1", SignalType: st, Source: domain.SourceInternalFlag}
}

func complaint(ct domain.ComplaintType, sev domain.Severity, src domain.Source, recipient string) abuse.SignalRequest {
	return abuse.SignalRequest{
		TenantID:   "t-1",
		SignalType: domain.SignalComplaint,
		Source:     src,
		Metadata: domain.ComplaintMetadata{
			ComplaintType:        ct,
			Severity:             sev,
			Provider:             "gupshup",
			RecipientFingerprint: recipient,
		},
	}
}

func seedComplaint(s *memory.Store, id string, ct domain.ComplaintType, src domain.Source, recipient string, at time.Time) {
	s.InsertEvent(domain.AbuseEvent{
		ID: id, TenantID: "t-1", SignalType: domain.SignalComplaint, Source: src, OccurredAt: at,
		Metadata: domain.ComplaintMetadata{ComplaintType: ct, Severity: domain.SeverityLow, RecipientFingerprint: recipient},
	})
}

func TestRecordSignal_FraudDetectedSuspends(t *testing.T) {
	f := setup(t, nil)

	res, err := f.svc.RecordSignal(context.Background(), signal(domain.SignalFraudDetected))
	require.NoError(t, err)

	assert.Equal(t, 100.0, res.Score.CumulativeScore)
	assert.Equal(t, domain.LevelCritical, res.Score.Level)
	assert.Equal(t, domain.ActionSuspend, res.Decision.Action)
	assert.Equal(t, []string{res.Event.ID}, res.Decision.TriggeredBy)

	require.NotNil(t, res.Suspension)
	assert.Equal(t, domain.SuspensionTemporary, res.Suspension.Type)
	assert.Equal(t, 7, res.Suspension.CooldownDays)
	assert.True(t, res.Suspension.UnlockEligibleAt.Equal(t0.AddDate(0, 0, 7)))
	assert.Equal(t, 100.0, res.Suspension.ScoreAtSuspension)

	assert.Equal(t, []string{domain.NoticeSuspended}, f.notifier.kinds())
	assert.Equal(t, domain.LevelCritical, f.publisher.levels["t-1"])
}

func TestRecordSignal_SpamComplaintMovesMediumToHigh(t *testing.T) {
	f := setup(t, nil)
	f.store.SetScore(domain.TenantScore{TenantID: "t-1", CumulativeScore: 45, Level: domain.LevelMedium, Version: 3})

	view, err := f.svc.PolicyFor(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionThrottle, view.Action)

	res, err := f.svc.RecordSignal(context.Background(),
		complaint(domain.ComplaintSpam, domain.SeverityHigh, domain.SourceProviderWebhook, "+15550001111"))
	require.NoError(t, err)

	assert.Equal(t, 50, res.Event.EffectiveWeight)
	assert.Equal(t, 95.0, res.Score.CumulativeScore)
	assert.Equal(t, domain.LevelHigh, res.Score.Level)
	assert.Equal(t, domain.ActionRequireApproval, res.Decision.Action)
	assert.Nil(t, res.Suspension)
	assert.Equal(t, int64(4), res.Score.Version)
}

func TestRecordSignal_DuplicateComplaintIsIdempotent(t *testing.T) {
	f := setup(t, nil)
	req := complaint(domain.ComplaintSpam, domain.SeverityMedium, domain.SourceProviderWebhook, "+15550001111")

	first, err := f.svc.RecordSignal(context.Background(), req)
	require.NoError(t, err)
	second, err := f.svc.RecordSignal(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.Nil(t, second.Event)
	assert.Equal(t, first.Score.CumulativeScore, second.Score.CumulativeScore)
	assert.Equal(t, 1, f.store.EventCount())

	var notes int
	for _, e := range f.store.AuditEntries() {
		if e.Action == domain.AuditDuplicate {
			notes++
		}
	}
	assert.Equal(t, 1, notes)

	// Recipient fingerprints are normalized before hashing.
	req.Metadata = domain.ComplaintMetadata{ComplaintType: domain.ComplaintSpam, Severity: domain.SeverityMedium, RecipientFingerprint: " +15550001111 "}
	third, err := f.svc.RecordSignal(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, third.Duplicate)

	f.clock.Advance(25 * time.Hour)
	fourth, err := f.svc.RecordSignal(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, fourth.Duplicate, "dedup key expires with the window")
	assert.Equal(t, 2, f.store.EventCount())
}

func TestRecordSignal_BackdatedReplayIsDuplicate(t *testing.T) {
	f := setup(t, nil)
	req := complaint(domain.ComplaintSpam, domain.SeverityMedium, domain.SourceProviderWebhook, "+15550002222")
	req.OccurredAt = t0.Add(-25 * time.Hour)

	first, err := f.svc.RecordSignal(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, first.Event)
	assert.True(t, first.Event.OccurredAt.Equal(t0.Add(-25*time.Hour)), "past occurrence is kept")
	assert.True(t, first.Event.RecordedAt.Equal(t0))

	f.clock.Advance(time.Hour)
	second, err := f.svc.RecordSignal(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Duplicate, "the window runs from ingestion, not from occurred_at")
	assert.Equal(t, first.Score.CumulativeScore, second.Score.CumulativeScore)
	assert.Equal(t, 1, f.store.EventCount())
}

func TestRecordSignal_FutureOccurredAtIsClamped(t *testing.T) {
	f := setup(t, nil)
	req := signal(domain.SignalPolicyViolation)
	req.OccurredAt = t0.AddDate(10, 0, 0)

	res, err := f.svc.RecordSignal(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Event.OccurredAt.Equal(t0))
	require.NotNil(t, res.Score.LastEventAt)
	assert.True(t, res.Score.LastEventAt.Equal(t0))

	f.clock.Advance(30 * 24 * time.Hour)
	score, err := f.svc.Decay(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Less(t, score.CumulativeScore, res.Score.CumulativeScore, "idle tenant decays")
}

func TestRecordSignal_PhishingForcesSuspendAtLowLevel(t *testing.T) {
	f := setup(t, func(c *config.AbuseConfig) { c.Whitelist.BusinessTypes = []string{"education"} })
	f.store.PutTenant(domain.TenantProfile{
		ID: "t-1", Role: "member", BusinessType: "education", RegisteredAt: t0.AddDate(0, 0, -2),
	})

	res, err := f.svc.RecordSignal(context.Background(),
		complaint(domain.ComplaintPhishing, domain.SeverityLow, domain.SourceThirdParty, "+15550002222"))
	require.NoError(t, err)

	// 100 x 1.0 x 0.7 x 1.0 x 0.5 x 0.7 = 24.5, rounded to 25.
	assert.Equal(t, 25.0, res.Score.CumulativeScore)
	assert.Equal(t, domain.LevelLow, res.Score.Level)
	assert.Equal(t, domain.ActionSuspend, res.Decision.Action)
	assert.Contains(t, res.Decision.Reasons, "critical_complaint:phishing")
	require.NotNil(t, res.Suspension)
	require.NotNil(t, res.Score.GracePeriodUntil)
	assert.True(t, res.Score.GracePeriodUntil.Equal(t0.AddDate(0, 0, 5)))
}

func TestRecordSignal_BypassRoleKeepsEvent(t *testing.T) {
	f := setup(t, nil)
	f.store.PutTenant(domain.TenantProfile{ID: "t-1", Role: "owner", RegisteredAt: t0.AddDate(-1, 0, 0)})

	res, err := f.svc.RecordSignal(context.Background(), signal(domain.SignalFraudDetected))
	require.NoError(t, err)

	assert.Equal(t, domain.ActionNone, res.Decision.Action)
	assert.True(t, res.Decision.Bypassed)
	assert.Equal(t, domain.LevelCritical, res.Decision.Level)
	assert.Equal(t, 100.0, res.Score.CumulativeScore)
	assert.Equal(t, 1, f.store.EventCount(), "event is persisted for audit")
	assert.Nil(t, res.Suspension)

	active, err := f.svc.Cooldown().Active(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Nil(t, active)

	var bypassNotes int
	for _, e := range f.store.AuditEntries() {
		if e.Action == domain.AuditBypass {
			bypassNotes++
		}
	}
	assert.Equal(t, 1, bypassNotes)
}

func TestRecordSignal_UnknownSignalScoredZero(t *testing.T) {
	f := setup(t, nil)

	res, err := f.svc.RecordSignal(context.Background(), signal("teleport"))
	require.NoError(t, err)

	assert.True(t, res.UnknownSignal)
	assert.Zero(t, res.Score.CumulativeScore)
	assert.Equal(t, 0, res.Event.EffectiveWeight)
	assert.Equal(t, 1, f.store.EventCount())
}

func TestRecordSignal_Validation(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	_, err := f.svc.RecordSignal(ctx, abuse.SignalRequest{SignalType: domain.SignalManualFlag, Source: domain.SourceInternalFlag})
	assert.ErrorIs(t, err, abuse.ErrInvalidInput)

	_, err = f.svc.RecordSignal(ctx, abuse.SignalRequest{TenantID: "t-1", SignalType: domain.SignalManualFlag, Source: "carrier_pigeon"})
	assert.ErrorIs(t, err, abuse.ErrInvalidInput)

	_, err = f.svc.RecordSignal(ctx, abuse.SignalRequest{TenantID: "t-1", SignalType: domain.SignalComplaint, Source: domain.SourceProviderWebhook})
	assert.ErrorIs(t, err, abuse.ErrInvalidInput)

	_, err = f.svc.RecordSignal(ctx, abuse.SignalRequest{TenantID: "ghost", SignalType: domain.SignalManualFlag, Source: domain.SourceInternalFlag})
	assert.ErrorIs(t, err, abuse.ErrTenantNotFound)
}

func TestRecordSignal_InvalidScoreHaltsTenant(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	f.store.SetScore(domain.TenantScore{TenantID: "t-1", CumulativeScore: -5, Version: 1})

	res, err := f.svc.RecordSignal(ctx, signal(domain.SignalManualFlag))
	require.NoError(t, err)
	assert.True(t, res.Halted)
	assert.True(t, res.Score.ReviewRequired)
	assert.Equal(t, -5.0, res.Score.CumulativeScore, "score is frozen")
	assert.Equal(t, domain.ActionRequireApproval, res.Decision.Action)
	assert.True(t, res.Decision.ManualReview)
	assert.Equal(t, 1, f.store.EventCount())

	_, err = f.svc.Decay(ctx, "t-1")
	assert.ErrorIs(t, err, abuse.ErrInvalidScoreState)

	res, err = f.svc.RecordSignal(ctx, signal(domain.SignalTemplateRejected))
	require.NoError(t, err)
	assert.True(t, res.Halted, "halt persists until reset")

	score, err := f.svc.ResetScore(ctx, admin, "t-1", 0, "reviewed, false positives")
	require.NoError(t, err)
	assert.False(t, score.ReviewRequired)

	res, err = f.svc.RecordSignal(ctx, signal(domain.SignalTemplateRejected))
	require.NoError(t, err)
	assert.False(t, res.Halted)
	assert.Equal(t, 10.0, res.Score.CumulativeScore)
}

func TestRecordSignal_VolumeEscalation(t *testing.T) {
	types := []domain.ComplaintType{domain.ComplaintSpam, domain.ComplaintFrequency, domain.ComplaintOther, domain.ComplaintInappropriate}

	tests := []struct {
		name     string
		prior    int
		want     domain.Action
		highRisk bool
	}{
		{"two prior complaints", 1, domain.ActionNone, false},
		{"third complaint flags high risk", 2, domain.ActionNone, true},
		{"fifth complaint requires approval", 4, domain.ActionRequireApproval, true},
		{"tenth complaint suspends", 9, domain.ActionSuspend, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t, func(c *config.AbuseConfig) { c.Escalation.Pattern.SameType = 0 })
			for i := 0; i < tt.prior; i++ {
				seedComplaint(f.store, "seed-"+string(rune('a'+i)), types[i%len(types)],
					domain.SourceProviderWebhook, "+1555000"+string(rune('a'+i)), t0.AddDate(0, 0, -i-1))
			}
			// One stale complaint outside the 30 day window never counts.
			seedComplaint(f.store, "stale", domain.ComplaintSpam, domain.SourceProviderWebhook, "+1555999", t0.AddDate(0, 0, -45))

			res, err := f.svc.RecordSignal(context.Background(),
				complaint(domain.ComplaintOther, domain.SeverityLow, domain.SourceProviderWebhook, "+15550009999"))
			require.NoError(t, err)

			assert.Equal(t, domain.LevelLow, res.Score.Level)
			assert.Equal(t, tt.want, res.Decision.Action)
			assert.Equal(t, tt.highRisk, res.Decision.HighRisk)
			assert.False(t, res.Decision.ManualReview)
		})
	}
}

func TestRecordSignal_PatternFlagsManualReview(t *testing.T) {
	f := setup(t, nil)
	seedComplaint(f.store, "e-1", domain.ComplaintSpam, domain.SourceProviderWebhook, "+15550001111", t0.AddDate(0, 0, -3))
	seedComplaint(f.store, "e-2", domain.ComplaintFrequency, domain.SourceProviderWebhook, "+15550001111", t0.AddDate(0, 0, -2))

	res, err := f.svc.RecordSignal(context.Background(),
		complaint(domain.ComplaintOther, domain.SeverityLow, domain.SourceProviderWebhook, "+15550001111"))
	require.NoError(t, err)

	assert.True(t, res.Decision.ManualReview)
	assert.Equal(t, domain.ActionNone, res.Decision.Action, "pattern flags never change the action")
	assert.Contains(t, res.Decision.Reasons, "pattern:same_recipient=3")
}

func TestRecordSignal_DistinctSourcesFlagManualReview(t *testing.T) {
	f := setup(t, nil)
	seedComplaint(f.store, "e-1", domain.ComplaintSpam, domain.SourceManualReport, "+15550001111", t0.AddDate(0, 0, -1))

	res, err := f.svc.RecordSignal(context.Background(),
		complaint(domain.ComplaintFrequency, domain.SeverityLow, domain.SourceProviderWebhook, "+15550002222"))
	require.NoError(t, err)
	assert.True(t, res.Decision.ManualReview)
}

func TestRecordSignal_ConcurrentSameTenant(t *testing.T) {
	f := setup(t, nil)
	const n = 40

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RecordSignal(context.Background(), signal(domain.SignalQualityRatingMedium))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	score, err := f.store.GetScore(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, float64(n*10), score.CumulativeScore)
	assert.Equal(t, int64(n), score.Version)
	assert.Equal(t, n, f.store.EventCount())

	active, err := f.store.ListActiveSuspensions(context.Background())
	require.NoError(t, err)
	assert.Len(t, active, 1, "exactly one suspension once the score crosses critical")
}

func TestDecay_FloorAndIdempotence(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	last := t0.AddDate(0, 0, -10)
	f.store.SetScore(domain.TenantScore{TenantID: "t-1", CumulativeScore: 7, Level: domain.LevelNone, LastEventAt: &last, Version: 1})

	for i := 0; i < 5; i++ {
		score, err := f.svc.Decay(ctx, "t-1")
		require.NoError(t, err)
		assert.Equal(t, 0.0, score.CumulativeScore)
		f.clock.Advance(24 * time.Hour)
	}
}

func TestDecay_WholeDaysAndCap(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	last := t0.AddDate(0, 0, -4)
	f.store.SetScore(domain.TenantScore{TenantID: "t-1", CumulativeScore: 50, Level: domain.LevelMedium, LastEventAt: &last, Version: 1})

	score, err := f.svc.Decay(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, 42.0, score.CumulativeScore)

	score, err = f.svc.Decay(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, 42.0, score.CumulativeScore, "a second run on the same day is a no-op")

	f.clock.Advance(36 * time.Hour)
	score, err = f.svc.Decay(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, 40.0, score.CumulativeScore, "only whole days count")
	assert.Equal(t, domain.LevelMedium, score.Level)
	assert.Equal(t, domain.LevelMedium, f.publisher.levels["t-1"])
}

func TestDecay_FutureLastEventIsPulledBack(t *testing.T) {
	f := setup(t, nil)
	future := t0.AddDate(5, 0, 0)
	f.store.SetScore(domain.TenantScore{TenantID: "t-1", CumulativeScore: 50, LastEventAt: &future, Version: 1})

	score, err := f.svc.Decay(context.Background(), "t-1")
	require.NoError(t, err)
	require.NotNil(t, score.LastEventAt)
	assert.True(t, score.LastEventAt.Equal(t0))

	f.clock.Advance(10 * 24 * time.Hour)
	score, err = f.svc.Decay(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Less(t, score.CumulativeScore, 50.0)
}

func decisionsFor(s *memory.Store, cause string) int {
	var n int
	for _, e := range s.AuditEntries() {
		if e.Action == domain.AuditDecision && strings.Contains(e.Detail, `"cause:`+cause) {
			n++
		}
	}
	return n
}

func TestDecay_RecordsPolicyDecision(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	last := t0.AddDate(0, 0, -4)
	f.store.SetScore(domain.TenantScore{TenantID: "t-1", CumulativeScore: 50, Level: domain.LevelMedium, LastEventAt: &last, Version: 1})

	_, err := f.svc.Decay(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, 1, decisionsFor(f.store, "decay"))

	_, err = f.svc.Decay(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, 1, decisionsFor(f.store, "decay"), "no decision when nothing decayed")
}

func TestResetScore_RecordsPolicyDecision(t *testing.T) {
	f := setup(t, nil)
	f.store.SetScore(domain.TenantScore{TenantID: "t-1", CumulativeScore: 80, Level: domain.LevelHigh, ReviewRequired: true, Version: 1})

	score, err := f.svc.ResetScore(context.Background(), admin, "t-1", 12, "reviewed")
	require.NoError(t, err)
	assert.Equal(t, 12.0, score.CumulativeScore)
	assert.False(t, score.ReviewRequired)
	assert.Equal(t, 1, decisionsFor(f.store, "reset"))
}

func TestDecay_WaitsForIdleDays(t *testing.T) {
	f := setup(t, nil)
	last := t0.AddDate(0, 0, -2)
	f.store.SetScore(domain.TenantScore{TenantID: "t-1", CumulativeScore: 50, LastEventAt: &last, Version: 1})

	score, err := f.svc.Decay(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, 50.0, score.CumulativeScore)

	ids, err := f.svc.DecayCandidates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"t-1"}, ids)
}

func suspendedTenant(f *fixture, daysAgo int, atSuspension, current float64) {
	suspendedAt := t0.AddDate(0, 0, -daysAgo)
	eligible := suspendedAt.AddDate(0, 0, 7)
	f.store.InsertSuspension(domain.SuspensionRecord{
		ID: "s-1", TenantID: "t-1", Type: domain.SuspensionTemporary, Reason: "policy",
		SuspendedAt: suspendedAt, CooldownDays: 7, UnlockEligibleAt: &eligible,
		ScoreAtSuspension: atSuspension, CreatedBy: "system",
	})
	f.store.SetScore(domain.TenantScore{TenantID: "t-1", CumulativeScore: current, Version: 1})
}

func TestCheckUnlock_AllConditionsMet(t *testing.T) {
	f := setup(t, nil)
	suspendedTenant(f, 10, 100, 25)

	ok, err := f.svc.Cooldown().CheckUnlock(context.Background(), "t-1")
	require.NoError(t, err)
	assert.True(t, ok)

	active, err := f.svc.Cooldown().Active(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Nil(t, active)

	checks := f.store.UnlockChecks()
	require.Len(t, checks, 1)
	assert.True(t, checks[0].Unlocked)
	assert.Equal(t, []string{domain.NoticeUnlocked}, f.notifier.kinds())
}

func TestCheckUnlock_RequiresAllConditions(t *testing.T) {
	tests := []struct {
		name         string
		daysAgo      int
		atSuspension float64
		current      float64
		reason       string
	}{
		{"past eligibility but score above threshold", 10, 100, 45, "not below threshold"},
		{"score below threshold but still cooling down", 3, 100, 25, "cooldown not elapsed"},
		{"score not improved since suspension", 10, 20, 20, "not below score at suspension"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t, nil)
			suspendedTenant(f, tt.daysAgo, tt.atSuspension, tt.current)

			ok, err := f.svc.Cooldown().CheckUnlock(context.Background(), "t-1")
			require.NoError(t, err)
			assert.False(t, ok)

			active, err := f.svc.Cooldown().Active(context.Background(), "t-1")
			require.NoError(t, err)
			assert.NotNil(t, active, "tenant stays suspended")

			checks := f.store.UnlockChecks()
			require.Len(t, checks, 1, "every outcome is recorded")
			assert.Contains(t, checks[0].Reason, tt.reason)
			assert.Empty(t, f.notifier.kinds())
		})
	}
}

func TestCheckUnlock_NoSuspensionIsNoop(t *testing.T) {
	f := setup(t, nil)
	ok, err := f.svc.Cooldown().CheckUnlock(context.Background(), "t-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, f.store.UnlockChecks())
}

func TestCheckUnlock_PermanentNeverUnlocks(t *testing.T) {
	f := setup(t, nil)
	f.store.InsertSuspension(domain.SuspensionRecord{
		ID: "s-1", TenantID: "t-1", Type: domain.SuspensionPermanent, SuspendedAt: t0.AddDate(-1, 0, 0),
		ScoreAtSuspension: 500,
	})

	ok, err := f.svc.Cooldown().CheckUnlock(context.Background(), "t-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckUnlock_StoreUnavailableSkips(t *testing.T) {
	f := setup(t, nil)
	suspendedTenant(f, 10, 100, 25)
	f.store.FailSuspensions(errors.New("connection refused"))

	ok, err := f.svc.Cooldown().CheckUnlock(context.Background(), "t-1")
	assert.ErrorIs(t, err, abuse.ErrSuspensionStoreUnavailable)
	assert.False(t, ok)

	_, err = f.svc.CheckUnlocks(context.Background(), 4)
	assert.ErrorIs(t, err, abuse.ErrSuspensionStoreUnavailable)

	f.store.FailSuspensions(nil)
	summary, err := f.svc.CheckUnlocks(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, abuse.UnlockSummary{Checked: 1, Unlocked: 1}, summary)
}

func TestCheckUnlock_ApprovalOnUnlock(t *testing.T) {
	f := setup(t, func(c *config.AbuseConfig) { c.Cooldown.ApprovalOnUnlock = true })
	suspendedTenant(f, 10, 100, 25)

	ok, err := f.svc.Cooldown().CheckUnlock(context.Background(), "t-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, f.notifier.notices, 1)
	assert.True(t, f.notifier.notices[0].Suspension.RequiresApproval)
}

func TestAdmin_RequiresAdminRole(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	member := abuse.Actor{ID: "u-1", Role: "member"}

	_, err := f.svc.ForceSuspend(ctx, member, "t-1", 0, false, "spam wave")
	assert.ErrorIs(t, err, abuse.ErrForbidden)
	_, err = f.svc.ForceUnlock(ctx, member, "t-1", "appeal")
	assert.ErrorIs(t, err, abuse.ErrForbidden)
	_, err = f.svc.DismissEvent(ctx, member, "e-1", "false positive")
	assert.ErrorIs(t, err, abuse.ErrForbidden)
	_, err = f.svc.ResetScore(ctx, member, "t-1", 0, "reviewed")
	assert.ErrorIs(t, err, abuse.ErrForbidden)
	_, _, err = f.svc.ListEvents(ctx, abuse.Actor{Role: "super_admin"}, "t-1", abuse.EventFilter{})
	assert.ErrorIs(t, err, abuse.ErrForbidden, "anonymous actors are rejected even with an admin role")
}

func TestForceSuspendAndUnlock(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	rec, err := f.svc.ForceSuspend(ctx, admin, "t-1", 60, false, "carrier escalation")
	require.NoError(t, err)
	assert.Equal(t, 30, rec.CooldownDays, "clamped to max_cooldown_days")
	assert.Equal(t, "ops-1", rec.CreatedBy)

	_, err = f.svc.ForceSuspend(ctx, admin, "t-1", 0, false, "again")
	assert.ErrorIs(t, err, abuse.ErrAlreadySuspended)

	view, err := f.svc.PolicyFor(ctx, "t-1")
	require.NoError(t, err)
	assert.True(t, view.Suspended)
	assert.Equal(t, domain.ActionSuspend, view.Action)
	require.NotNil(t, view.UnlockEligibleAt)

	unlocked, err := f.svc.ForceUnlock(ctx, admin, "t-1", "appeal accepted")
	require.NoError(t, err)
	require.NotNil(t, unlocked.UnlockedAt)
	assert.Equal(t, "appeal accepted", unlocked.UnlockReason)

	_, err = f.svc.ForceUnlock(ctx, admin, "t-1", "again")
	assert.ErrorIs(t, err, abuse.ErrNotSuspended)

	assert.Equal(t, []string{domain.NoticeSuspended, domain.NoticeUnlocked}, f.notifier.kinds())

	var actions []string
	for _, e := range f.store.AuditEntries() {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, domain.AuditForceSuspend)
	assert.Contains(t, actions, domain.AuditForceUnlock)
}

func TestForceSuspend_ShortCooldownClampedUp(t *testing.T) {
	f := setup(t, nil)
	rec, err := f.svc.ForceSuspend(context.Background(), admin, "t-1", 1, false, "brief hold")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.CooldownDays)
}

func TestDismissEvent(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	res, err := f.svc.RecordSignal(ctx, signal(domain.SignalPolicyViolation))
	require.NoError(t, err)
	require.Equal(t, 50.0, res.Score.CumulativeScore)

	score, err := f.svc.DismissEvent(ctx, admin, res.Event.ID, "template was approved")
	require.NoError(t, err)
	assert.Equal(t, 0.0, score.CumulativeScore)
	assert.Equal(t, domain.LevelNone, score.Level)

	ev, err := f.store.GetEvent(ctx, res.Event.ID)
	require.NoError(t, err)
	assert.True(t, ev.Dismissed)
	assert.Equal(t, "template was approved", ev.DismissReason)

	assert.Equal(t, 1, decisionsFor(f.store, "dismiss:"+res.Event.ID))

	again, err := f.svc.DismissEvent(ctx, admin, res.Event.ID, "twice")
	require.NoError(t, err)
	assert.Equal(t, 0.0, again.CumulativeScore, "second dismissal is a no-op")
	assert.Equal(t, 1, decisionsFor(f.store, "dismiss:"+res.Event.ID))

	_, err = f.svc.DismissEvent(ctx, admin, "missing", "nope")
	assert.ErrorIs(t, err, abuse.ErrEventNotFound)

	events, total, err := f.svc.ListEvents(ctx, admin, "t-1", abuse.EventFilter{IncludeDismissed: true})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, events, 1)

	_, total, err = f.svc.ListEvents(ctx, admin, "t-1", abuse.EventFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}
