// Package lock provides per-listing mutual exclusion for store
// mutations. Locks are in-memory leases keyed by listing id; a
// periodic sweep reclaims leases orphaned by a crash between acquire
// and release.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/micheldegeofroy/unidown/pkg/listing"
)

const (
	// DefaultSweepInterval is how often the sweeper scans for stale locks.
	DefaultSweepInterval = 30 * time.Second

	// staleMultiplier: a lock held past staleMultiplier sweep intervals
	// is considered orphaned and reclaimed.
	staleMultiplier = 20

	pollInterval = 25 * time.Millisecond
)

// Manager owns the id -> acquisition-time map. The clock is injected so
// staleness is testable without waiting.
type Manager struct {
	mu    sync.Mutex
	held  map[string]time.Time
	now   func() time.Time
	sweep time.Duration
	log   *logrus.Logger

	stopOnce sync.Once
	stop     chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock injects a clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithSweepInterval overrides the sweep cadence. The staleness
// threshold scales with it.
func WithSweepInterval(d time.Duration) Option {
	return func(m *Manager) { m.sweep = d }
}

// NewManager creates a Manager. Call StartSweeper to enable stale-lock
// reclamation, and Close when done.
func NewManager(log *logrus.Logger, opts ...Option) *Manager {
	m := &Manager{
		held:  make(map[string]time.Time),
		now:   time.Now,
		sweep: DefaultSweepInterval,
		log:   log,
		stop:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire blocks, polling, until no lock is held for id, then registers
// one. Fails with listing.ErrLockTimeout once timeout has elapsed.
func (m *Manager) Acquire(ctx context.Context, id string, timeout time.Duration) error {
	if id == "" {
		return fmt.Errorf("%w: empty listing id", listing.ErrInvalidInput)
	}
	deadline := m.now().Add(timeout)
	for {
		if m.tryAcquire(id) {
			return nil
		}
		if !m.now().Before(deadline) {
			return fmt.Errorf("acquire %s: %w", id, listing.ErrLockTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// TryAcquire registers a lock for id if none is held, without waiting.
func (m *Manager) TryAcquire(id string) bool {
	return m.tryAcquire(id)
}

func (m *Manager) tryAcquire(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.held[id]; taken {
		return false
	}
	m.held[id] = m.now()
	return true
}

// Release unconditionally clears the lock for id.
func (m *Manager) Release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, id)
}

// Held reports whether a lock is currently registered for id.
func (m *Manager) Held(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, taken := m.held[id]
	return taken
}

// StartSweeper launches the background reclamation loop. It is the sole
// defense against locks orphaned by a crash between acquire and release.
func (m *Manager) StartSweeper() {
	go func() {
		ticker := time.NewTicker(m.sweep)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.SweepStale()
			}
		}
	}()
}

// SweepStale removes locks older than the staleness threshold and
// returns how many were reclaimed.
func (m *Manager) SweepStale() int {
	threshold := time.Duration(staleMultiplier) * m.sweep
	cutoff := m.now().Add(-threshold)

	m.mu.Lock()
	defer m.mu.Unlock()
	reclaimed := 0
	for id, acquiredAt := range m.held {
		if acquiredAt.Before(cutoff) {
			delete(m.held, id)
			reclaimed++
			if m.log != nil {
				m.log.Warnf("Reclaimed stale lock for listing %s (held since %s)", id, acquiredAt.Format(time.RFC3339))
			}
		}
	}
	return reclaimed
}

// Close stops the sweeper.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}
