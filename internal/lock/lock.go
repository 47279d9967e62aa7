package lock

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rohmanhakim/web-crawler/internal/coordstore"
)

/*
Lock manager

Responsibilities:
- Hand out per-domain lock handles keyed by string
- Writer locks: in-process when a single parser process appends per pod,
  store-backed (SETNX + bounded exponential backoff with jitter) otherwise
- Reader locks: always in-process, a domain is read by one shard only
- Clear zombie store locks left behind by a previous run

Release is the caller's responsibility on all exit paths; handles are
cheap and may be re-acquired.
*/

// DefaultMaxWait bounds how long an acquire spins before giving up.
const DefaultMaxWait = 30 * time.Second

// Lock is a scoped, single-holder lock for one domain.
type Lock interface {
	// Acquire blocks until the lock is held, maxWait elapses, or ctx is
	// cancelled. Returns ErrAcquireTimeout when the wait is exhausted.
	Acquire(ctx context.Context, maxWait time.Duration) error
	// Release frees the lock. Releasing a lock that is not held is a no-op.
	Release(ctx context.Context)
}

// Manager hands out read and write locks for domains.
type Manager struct {
	store coordstore.Store
	// storeBackedWrites selects SETNX locks for writers; readers never
	// leave the process.
	storeBackedWrites bool

	mu     sync.Mutex
	local  map[string]chan struct{}
	rng    *rand.Rand
	rngMu  sync.Mutex
}

// NewManager creates a lock manager. storeBackedWrites should be true
// whenever more than one parser process can append to the same pod's
// frontier files.
func NewManager(store coordstore.Store, storeBackedWrites bool) *Manager {
	return &Manager{
		store:             store,
		storeBackedWrites: storeBackedWrites,
		local:             make(map[string]chan struct{}),
		rng:               rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WriteLock returns the writer lock handle for a domain.
func (m *Manager) WriteLock(domain string) Lock {
	if m.storeBackedWrites {
		return &storeLock{
			manager: m,
			key:     coordstore.DomainWriteLockKey(domain),
			domain:  domain,
		}
	}
	return &localLock{slot: m.slot("w:" + domain)}
}

// ReadLock returns the reader lock handle for a domain.
func (m *Manager) ReadLock(domain string) Lock {
	return &localLock{slot: m.slot("r:" + domain)}
}

// ClearStaleLocks deletes every domain lock key in the store. Called once
// at startup, before any worker runs, to remove zombie locks from a
// crashed previous run.
func (m *Manager) ClearStaleLocks(ctx context.Context) (int64, error) {
	cleared, err := m.store.DeleteByPattern(ctx, coordstore.DomainLockPattern)
	if err != nil {
		return 0, err
	}
	if cleared > 0 {
		log.WithField("count", cleared).Warn("cleared zombie domain locks from previous run")
	}
	return cleared, nil
}

// slot returns the buffered-channel semaphore for a key, creating it on
// first use. Note: with millions of domains this table grows without
// bound; acceptable for crawl-length processes.
func (m *Manager) slot(key string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.local[key]
	if !ok {
		slot = make(chan struct{}, 1)
		m.local[key] = slot
	}
	return slot
}

func (m *Manager) jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	return time.Duration(m.rng.Int63n(int64(max)))
}

// localLock is a per-domain in-process lock with a timed acquire.
type localLock struct {
	slot chan struct{}
	held bool
}

func (l *localLock) Acquire(ctx context.Context, maxWait time.Duration) error {
	timer := time.NewTimer(maxWait)
	defer timer.Stop()
	select {
	case l.slot <- struct{}{}:
		l.held = true
		return nil
	case <-timer.C:
		return ErrAcquireTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *localLock) Release(ctx context.Context) {
	if !l.held {
		return
	}
	l.held = false
	<-l.slot
}

// storeLock is a cross-process lock built on SETNX. No TTL: zombie locks
// are swept at startup by ClearStaleLocks, matching the single-machine
// deployment model.
type storeLock struct {
	manager *Manager
	key     string
	domain  string
	held    bool
}

func (l *storeLock) Acquire(ctx context.Context, maxWait time.Duration) error {
	start := time.Now()
	attempt := 0
	for time.Since(start) < maxWait {
		acquired, err := l.manager.store.SetNX(ctx, l.key, "1")
		if err != nil {
			return err
		}
		if acquired {
			l.held = true
			return nil
		}

		attempt++
		if attempt%10 == 0 {
			log.WithFields(log.Fields{
				"domain":  l.domain,
				"attempt": attempt,
			}).Warn("still waiting for domain write lock")
		}

		// Exponential backoff capped at 2s, plus jitter to avoid a
		// thundering herd when many parsers contend on one domain.
		backoff := time.Duration(100*math.Pow(1.5, math.Min(float64(attempt), 10))) * time.Millisecond
		if backoff > 2*time.Second {
			backoff = 2 * time.Second
		}
		wait := backoff + l.manager.jitter(100*time.Millisecond)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ErrAcquireTimeout
}

func (l *storeLock) Release(ctx context.Context) {
	if !l.held {
		return
	}
	l.held = false
	if err := l.manager.store.Del(ctx, l.key); err != nil {
		log.WithError(err).WithField("domain", l.domain).Error("failed to release domain lock")
	}
}
