package lock

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// Manager is an in-process mutual-exclusion primitive over named logical
// resources. It supports reentrant acquisition, TTL auto-release, bounded
// acquire waits, expiry extension, and safe disposal.
//
// All "is this resource free" decisions are made under one mutex, so two
// callers can never both observe a resource as free and both create a lock.
// Waiters park on a per-resource broadcast channel that is closed when the
// resource is released; wake order is not FIFO, any waiter may win the
// retry and the rest re-wait or time out.
type Manager struct {
	mu      sync.Mutex
	locks   map[string]*Lock          // resource -> current record
	byID    map[string]*Lock          // lock id -> current record
	signals map[string]chan struct{}  // resource -> broadcast closed on release

	disposed bool
	done     chan struct{}  // closed on Dispose, wakes every waiter
	inflight sync.WaitGroup // acquire/release calls Dispose must wait for

	defaultTimeout time.Duration
	defaultTTL     time.Duration
	log            logr.Logger
}

// NewManager creates a lock manager with the given defaults.
func NewManager(opts Options) *Manager {
	log := opts.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Manager{
		locks:          make(map[string]*Lock),
		byID:           make(map[string]*Lock),
		signals:        make(map[string]chan struct{}),
		done:           make(chan struct{}),
		defaultTimeout: opts.DefaultAcquireTimeout,
		defaultTTL:     opts.DefaultTTL,
		log:            log,
	}
}

// Acquire attempts to lock a named resource.
//
// A free resource is locked immediately. If the same holder already holds
// the resource and both the record and the request are reentrant, the
// reference count is incremented, the lock id is unchanged, and a supplied
// TTL replaces the current expiry timer. Otherwise the caller waits for a
// release signal, bounded by the acquire timeout (zero fails instantly),
// and retries until the bound elapses.
//
// Invalid input (empty resource name, negative timeout or TTL) is returned
// as an error before any wait. Contention, timeout, and disposal are
// reported on the result, not as errors.
func (m *Manager) Acquire(resource string, opts ...AcquireOption) (AcquireResult, error) {
	cfg := m.newAcquireConfig(opts)
	if resource == "" {
		return AcquireResult{}, fmt.Errorf("resource name cannot be empty")
	}
	if cfg.timeout < 0 {
		return AcquireResult{}, fmt.Errorf("acquire timeout cannot be negative: %v", cfg.timeout)
	}
	if cfg.ttl < 0 {
		return AcquireResult{}, fmt.Errorf("ttl cannot be negative: %v", cfg.ttl)
	}

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return AcquireResult{Reason: ReasonDisposed}, nil
	}
	m.inflight.Add(1)
	defer m.inflight.Done()

	var deadline time.Time
	if cfg.timeout > 0 {
		deadline = time.Now().Add(cfg.timeout)
	}

	for {
		// Invariant: m.mu is held and the manager is not disposed.
		rec, held := m.locks[resource]
		switch {
		case !held:
			rec = newLock(resource, cfg.holderID, cfg.reentrant)
			m.armTimer(rec, cfg.ttl)
			m.locks[resource] = rec
			m.byID[rec.ID] = rec
			id := rec.ID
			m.mu.Unlock()
			m.log.V(1).Info("lock acquired", "resource", resource, "lockId", id, "holder", cfg.holderID)
			return AcquireResult{Acquired: true, LockID: id}, nil

		case rec.Reentrant && cfg.reentrant && rec.HolderID == cfg.holderID:
			rec.RefCount++
			// Only a TTL supplied on this call replaces the expiry; the
			// manager default never silently extends a re-entered lock.
			if cfg.ttlSet {
				m.armTimer(rec, cfg.ttl)
			}
			id := rec.ID
			count := rec.RefCount
			m.mu.Unlock()
			m.log.V(1).Info("lock re-entered", "resource", resource, "lockId", id, "refCount", count)
			return AcquireResult{Acquired: true, LockID: id}, nil

		default:
			if cfg.timeout == 0 || !time.Now().Before(deadline) {
				m.mu.Unlock()
				m.log.V(1).Info("lock acquire timed out", "resource", resource, "holder", cfg.holderID)
				return AcquireResult{Reason: ReasonTimeout}, nil
			}
			ch := m.releaseSignalLocked(resource)
			m.mu.Unlock()

			timer := time.NewTimer(time.Until(deadline))
			select {
			case <-ch:
				timer.Stop()
			case <-m.done:
				timer.Stop()
				return AcquireResult{Reason: ReasonDisposed}, nil
			case <-timer.C:
				m.log.V(1).Info("lock acquire timed out", "resource", resource, "holder", cfg.holderID)
				return AcquireResult{Reason: ReasonTimeout}, nil
			}

			m.mu.Lock()
			if m.disposed {
				m.mu.Unlock()
				return AcquireResult{Reason: ReasonDisposed}, nil
			}
		}
	}
}

// Release decrements the lock's reference count; at zero it deletes the
// record, clears any expiry timer, and signals waiters. An unknown lock id
// is an error, except after Dispose, where release is a silent no-op
// because disposal already force-released everything.
func (m *Manager) Release(lockID string) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return nil
	}
	m.inflight.Add(1)
	defer m.inflight.Done()

	rec, ok := m.byID[lockID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown lock id: %s", lockID)
	}

	rec.RefCount--
	if rec.RefCount > 0 {
		count := rec.RefCount
		m.mu.Unlock()
		m.log.V(1).Info("lock reference released", "resource", rec.Resource, "refCount", count)
		return nil
	}

	m.removeLocked(rec)
	m.mu.Unlock()
	m.log.V(1).Info("lock released", "resource", rec.Resource, "lockId", lockID)
	return nil
}

// Extend replaces the lock's expiry timer with a new TTL. A TTL of zero
// converts the lock to non-expiring without touching its reference count.
// A missing lock or a disposed manager is a structured failure, not an
// error.
func (m *Manager) Extend(lockID string, ttl time.Duration) (ExtendResult, error) {
	if ttl < 0 {
		return ExtendResult{}, fmt.Errorf("ttl cannot be negative: %v", ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return ExtendResult{Reason: ReasonDisposed}, nil
	}
	rec, ok := m.byID[lockID]
	if !ok {
		return ExtendResult{Reason: ReasonNotFound}, nil
	}

	m.armTimer(rec, ttl)
	return ExtendResult{Extended: true, ExpiresAt: rec.ExpiresAt}, nil
}

// WithLock acquires the resource, runs fn, and releases on every exit path,
// including panics and reentrant re-acquisition of the same resource inside
// fn under the same holder id.
func (m *Manager) WithLock(resource string, fn func() error, opts ...AcquireOption) error {
	res, err := m.Acquire(resource, opts...)
	if err != nil {
		return err
	}
	if !res.Acquired {
		return fmt.Errorf("could not lock resource %q: %s", resource, res.Reason)
	}
	// Release can only fail here if the lock expired while fn ran; the
	// resource is already free in that case.
	defer func() { _ = m.Release(res.LockID) }()
	return fn()
}

// Dispose force-releases every held lock, wakes all waiters with a
// "disposed" result, and waits for acquire/release calls already in flight
// to settle. Idempotent. After Dispose every operation fails fast and every
// query answers empty.
func (m *Manager) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true

	forced := len(m.locks)
	for _, rec := range m.locks {
		if rec.timer != nil {
			rec.timer.Stop()
			rec.timer = nil
		}
	}
	m.locks = make(map[string]*Lock)
	m.byID = make(map[string]*Lock)
	for _, ch := range m.signals {
		close(ch)
	}
	m.signals = make(map[string]chan struct{})
	close(m.done)
	m.mu.Unlock()

	m.inflight.Wait()
	m.log.Info("lock manager disposed", "forcedReleases", forced)
}

// ActiveLockCount returns the number of currently held resources.
func (m *Manager) ActiveLockCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

// IsLocked reports whether any lock is held on the resource. A disposed
// manager reports every resource as unlocked.
func (m *Manager) IsLocked(resource string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, held := m.locks[resource]
	return held
}

// IsActive reports whether a lock id still refers to a held lock. A lock
// that TTL-expired or was released is no longer active even though its id
// was valid once.
func (m *Manager) IsActive(lockID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byID[lockID]
	return ok
}

// Holder returns the holder id of the lock on the resource, if held.
func (m *Manager) Holder(resource string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, held := m.locks[resource]
	if !held {
		return "", false
	}
	return rec.HolderID, true
}

// armTimer replaces the record's expiry timer. Must be called with m.mu
// held. A TTL of zero clears the expiry entirely. The timer generation
// counter makes a stale callback (one whose timer was replaced or stopped
// after it already fired) a safe no-op.
func (m *Manager) armTimer(rec *Lock, ttl time.Duration) {
	if rec.timer != nil {
		rec.timer.Stop()
		rec.timer = nil
	}
	rec.timerGen++
	if ttl <= 0 {
		rec.ExpiresAt = time.Time{}
		return
	}
	rec.ExpiresAt = time.Now().Add(ttl)
	gen := rec.timerGen
	rec.timer = time.AfterFunc(ttl, func() { m.expire(rec, gen) })
}

// expire is the TTL callback. The record is removed only if it is still the
// current lock for its resource and the firing timer is still the current
// one; a manual release or an extend that raced ahead makes this a no-op.
func (m *Manager) expire(rec *Lock, gen uint64) {
	m.mu.Lock()
	if m.disposed || m.locks[rec.Resource] != rec || rec.timerGen != gen {
		m.mu.Unlock()
		return
	}
	m.removeLocked(rec)
	m.mu.Unlock()
	m.log.V(1).Info("lock expired", "resource", rec.Resource, "lockId", rec.ID)
}

// removeLocked deletes a lock record and signals waiters. Must be called
// with m.mu held.
func (m *Manager) removeLocked(rec *Lock) {
	if rec.timer != nil {
		rec.timer.Stop()
		rec.timer = nil
	}
	delete(m.locks, rec.Resource)
	delete(m.byID, rec.ID)
	if ch, ok := m.signals[rec.Resource]; ok {
		close(ch)
		delete(m.signals, rec.Resource)
	}
}

// releaseSignalLocked returns the broadcast channel waiters park on for a
// resource, creating it on first use. Must be called with m.mu held.
func (m *Manager) releaseSignalLocked(resource string) chan struct{} {
	ch, ok := m.signals[resource]
	if !ok {
		ch = make(chan struct{})
		m.signals[resource] = ch
	}
	return ch
}
