// Package tenantlock serializes score mutations per tenant.
//
// Within a process a per-tenant semaphore orders callers; across replicas an
// optional distlock.Factory adds a Redis (or PG advisory) lock on top.
// Different tenants never contend with each other.
package tenantlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/abuse-guard/internal/pkg/distlock"
	"github.com/ignite/abuse-guard/internal/pkg/retry"
)

// ErrContention is returned when the distributed lock could not be taken
// within the retry budget.
var ErrContention = errors.New("tenant lock contention")

var errBusy = errors.New("tenant lock busy")

type entry struct {
	sem  chan struct{}
	refs int
}

// Locker hands out per-tenant exclusive sections.
type Locker struct {
	mu      sync.Mutex
	entries map[string]*entry

	dist       distlock.Factory
	maxRetries int
	backoff    retry.Backoff
}

// Option configures a Locker.
type Option func(*Locker)

// WithDistributed layers a cross-replica lock on top of the local one.
func WithDistributed(f distlock.Factory) Option {
	return func(l *Locker) { l.dist = f }
}

// WithRetry sets the bounded retry budget for distributed contention.
func WithRetry(maxRetries int, b retry.Backoff) Option {
	return func(l *Locker) {
		l.maxRetries = maxRetries
		l.backoff = b
	}
}

// New creates a Locker.
func New(opts ...Option) *Locker {
	l := &Locker{
		entries:    make(map[string]*entry),
		maxRetries: 5,
		backoff:    retry.Backoff{Base: 20 * time.Millisecond, Max: 500 * time.Millisecond, Floor: 5 * time.Millisecond},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WithLock runs fn while holding the tenant's lock. It blocks until the lock
// is free or ctx is done.
func (l *Locker) WithLock(ctx context.Context, tenantID string, fn func() error) error {
	e := l.ref(tenantID)
	defer l.unref(tenantID, e)

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("lock tenant %s: %w", tenantID, ctx.Err())
	}
	defer func() { <-e.sem }()

	if l.dist == nil {
		return fn()
	}

	dl := l.dist(distlock.TenantKey(tenantID))
	err := retry.Do(ctx, l.maxRetries, l.backoff,
		func(err error) bool { return errors.Is(err, errBusy) },
		func() error {
			ok, err := dl.Acquire(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return errBusy
			}
			return nil
		})
	if errors.Is(err, errBusy) {
		return fmt.Errorf("tenant %s: %w", tenantID, ErrContention)
	}
	if err != nil {
		return fmt.Errorf("lock tenant %s: %w", tenantID, err)
	}
	defer dl.Release(context.WithoutCancel(ctx))

	return fn()
}

// Held reports how many tenants currently have waiters or holders.
func (l *Locker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Locker) ref(tenantID string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[tenantID]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.entries[tenantID] = e
	}
	e.refs++
	return e
}

func (l *Locker) unref(tenantID string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, tenantID)
	}
}
