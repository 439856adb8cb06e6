// Package memory is an in-process implementation of the abuse repository.
// It backs `storage.type: memory` deployments and the service tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ignite/abuse-guard/internal/domain"
	"github.com/ignite/abuse-guard/internal/service/abuse"
)

// Store keeps all abuse state in maps guarded by one RWMutex.
type Store struct {
	mu          sync.RWMutex
	tenants     map[string]domain.TenantProfile
	scores      map[string]domain.TenantScore
	events      []domain.AbuseEvent
	suspensions []domain.SuspensionRecord
	checks      []domain.UnlockCheck
	audit       []domain.AuditEntry
	balances    map[string]float64

	// suspensionErr, when set, is returned by every suspension read and write.
	suspensionErr error
}

var _ abuse.Repository = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		tenants:  make(map[string]domain.TenantProfile),
		scores:   make(map[string]domain.TenantScore),
		balances: make(map[string]float64),
	}
}

// PutTenant inserts or replaces a tenant profile.
func (s *Store) PutTenant(t domain.TenantProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.ID] = t
}

// SetScore overwrites a score row without a version check.
func (s *Store) SetScore(score domain.TenantScore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[score.TenantID] = score
}

// SetBalance records a tenant's prepaid balance.
func (s *Store) SetBalance(tenantID string, amount float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[tenantID] = amount
}

// FailSuspensions makes suspension operations return err until called with nil.
func (s *Store) FailSuspensions(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspensionErr = err
}

// InsertEvent appends an event as-is, except that a missing RecordedAt
// defaults to OccurredAt. Tests use it to seed history.
func (s *Store) InsertEvent(e domain.AbuseEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.RecordedAt.IsZero() {
		e.RecordedAt = e.OccurredAt
	}
	s.events = append(s.events, e)
}

// InsertSuspension appends a suspension as-is. Tests use it to seed history.
func (s *Store) InsertSuspension(rec domain.SuspensionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspensions = append(s.suspensions, rec)
}

// AuditEntries returns a copy of the audit log.
func (s *Store) AuditEntries() []domain.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.AuditEntry(nil), s.audit...)
}

// UnlockChecks returns a copy of the persisted unlock checks.
func (s *Store) UnlockChecks() []domain.UnlockCheck {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.UnlockCheck(nil), s.checks...)
}

// EventCount returns how many events are stored.
func (s *Store) EventCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func (s *Store) GetTenant(ctx context.Context, tenantID string) (*domain.TenantProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, abuse.ErrTenantNotFound
	}
	return &t, nil
}

func (s *Store) GetScore(ctx context.Context, tenantID string) (*domain.TenantScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	score, ok := s.scores[tenantID]
	if !ok {
		return &domain.TenantScore{TenantID: tenantID}, nil
	}
	return &score, nil
}

func (s *Store) ApplyMutation(ctx context.Context, m abuse.ScoreMutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scores[m.Score.TenantID].Version != m.ExpectedVersion {
		return abuse.ErrConcurrentMutation
	}
	if m.DismissEventID != "" {
		i := s.eventIndex(m.DismissEventID)
		if i < 0 {
			return abuse.ErrEventNotFound
		}
		s.events[i].Dismissed = true
		s.events[i].DismissReason = m.DismissReason
	}
	if m.Event != nil {
		s.events = append(s.events, *m.Event)
	}
	s.audit = append(s.audit, m.Audit...)
	s.scores[m.Score.TenantID] = *m.Score
	return nil
}

func (s *Store) eventIndex(id string) int {
	for i := range s.events {
		if s.events[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) FindEventByDedupKey(ctx context.Context, tenantID, key string, since time.Time) (*domain.AbuseEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if e.TenantID == tenantID && e.DedupKey == key && !e.RecordedAt.Before(since) {
			return &e, nil
		}
	}
	return nil, nil
}

func (s *Store) ComplaintStats(ctx context.Context, tenantID string, since time.Time) (domain.ComplaintStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats domain.ComplaintStats
	perRecipient := make(map[string]int)
	perType := make(map[domain.ComplaintType]int)
	sources := make(map[domain.Source]bool)
	for _, e := range s.events {
		if e.TenantID != tenantID || e.Dismissed || e.OccurredAt.Before(since) {
			continue
		}
		cm, ok := e.Complaint()
		if !ok {
			continue
		}
		stats.Total++
		perRecipient[strings.ToLower(strings.TrimSpace(cm.RecipientFingerprint))]++
		perType[cm.ComplaintType]++
		sources[e.Source] = true
	}
	for _, n := range perRecipient {
		stats.MaxPerRecipient = max(stats.MaxPerRecipient, n)
	}
	for _, n := range perType {
		stats.MaxPerType = max(stats.MaxPerType, n)
	}
	stats.DistinctSources = len(sources)
	return stats, nil
}

func (s *Store) GetEvent(ctx context.Context, eventID string) (*domain.AbuseEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.eventIndex(eventID)
	if i < 0 {
		return nil, abuse.ErrEventNotFound
	}
	e := s.events[i]
	return &e, nil
}

func (s *Store) ListEvents(ctx context.Context, tenantID string, f abuse.EventFilter) ([]domain.AbuseEvent, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []domain.AbuseEvent
	for _, e := range s.events {
		if e.TenantID != tenantID {
			continue
		}
		if f.SignalType != "" && string(e.SignalType) != f.SignalType {
			continue
		}
		if !f.IncludeDismissed && e.Dismissed {
			continue
		}
		if f.Since != nil && e.OccurredAt.Before(*f.Since) {
			continue
		}
		matched = append(matched, e)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].OccurredAt.After(matched[j].OccurredAt) })

	total := len(matched)
	if f.Offset >= total {
		return []domain.AbuseEvent{}, total, nil
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

func (s *Store) ActiveSuspension(ctx context.Context, tenantID string) (*domain.SuspensionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.suspensionErr != nil {
		return nil, s.suspensionErr
	}
	for _, rec := range s.suspensions {
		if rec.TenantID == tenantID && rec.Active() {
			return &rec, nil
		}
	}
	return nil, nil
}

func (s *Store) CreateSuspension(ctx context.Context, rec *domain.SuspensionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suspensionErr != nil {
		return s.suspensionErr
	}
	for _, existing := range s.suspensions {
		if existing.TenantID == rec.TenantID && existing.Active() {
			return abuse.ErrAlreadySuspended
		}
	}
	s.suspensions = append(s.suspensions, *rec)
	return nil
}

func (s *Store) CloseSuspension(ctx context.Context, suspensionID string, unlockedAt time.Time, reason string, requiresApproval bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suspensionErr != nil {
		return s.suspensionErr
	}
	for i := range s.suspensions {
		if s.suspensions[i].ID == suspensionID && s.suspensions[i].Active() {
			t := unlockedAt
			s.suspensions[i].UnlockedAt = &t
			s.suspensions[i].UnlockReason = reason
			s.suspensions[i].RequiresApproval = requiresApproval
			return nil
		}
	}
	return abuse.ErrNotSuspended
}

func (s *Store) ListActiveSuspensions(ctx context.Context) ([]domain.SuspensionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.suspensionErr != nil {
		return nil, s.suspensionErr
	}
	var out []domain.SuspensionRecord
	for _, rec := range s.suspensions {
		if rec.Active() {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *Store) SaveUnlockCheck(ctx context.Context, c *domain.UnlockCheck) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks = append(s.checks, *c)
	return nil
}

func (s *Store) AppendAudit(ctx context.Context, e *domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, *e)
	return nil
}

func (s *Store) TenantsAboveScore(ctx context.Context, min float64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, score := range s.scores {
		if score.CumulativeScore > min && !score.ReviewRequired {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Balance returns the tenant's prepaid balance; unknown tenants have zero.
func (s *Store) Balance(ctx context.Context, tenantID string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[tenantID], nil
}

// EventsBefore returns up to limit events that occurred before cutoff, oldest first.
func (s *Store) EventsBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.AbuseEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.AbuseEvent
	for _, e := range s.events {
		if e.OccurredAt.Before(cutoff) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteEvents removes events by id.
func (s *Store) DeleteEvents(ctx context.Context, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := s.events[:0]
	var n int64
	for _, e := range s.events {
		if drop[e.ID] {
			n++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return n, nil
}

// PurgeAudit removes audit entries created before cutoff.
func (s *Store) PurgeAudit(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.audit[:0]
	var n int64
	for _, e := range s.audit {
		if e.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	s.audit = kept
	return n, nil
}

// PurgeUnlockChecks removes unlock checks made before cutoff.
func (s *Store) PurgeUnlockChecks(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.checks[:0]
	var n int64
	for _, c := range s.checks {
		if c.CheckedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, c)
	}
	s.checks = kept
	return n, nil
}
