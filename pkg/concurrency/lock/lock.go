package lock

import (
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

// Failure reasons reported on structured (non-error) acquire/extend results.
const (
	ReasonTimeout  = "timeout"
	ReasonDisposed = "disposed"
	ReasonNotFound = "not_found"
)

// Lock is the record for one held resource. At most one record exists per
// resource name at any instant; reentrant acquisitions by the same holder
// increment RefCount instead of creating a new record.
type Lock struct {
	Resource  string
	ID        string
	HolderID  string
	Reentrant bool
	RefCount  int
	ExpiresAt time.Time // zero when the lock never auto-expires

	timer    *time.Timer
	timerGen uint64 // bumped whenever the timer is replaced; stale callbacks no-op
}

func newLock(resource, holderID string, reentrant bool) *Lock {
	return &Lock{
		Resource:  resource,
		ID:        uuid.NewString(),
		HolderID:  holderID,
		Reentrant: reentrant,
		RefCount:  1,
	}
}

// AcquireResult is the structured outcome of an acquire attempt. Contention
// and disposal are reported here rather than as errors, so callers can
// choose to retry, queue, or fail.
type AcquireResult struct {
	Acquired bool
	LockID   string
	Reason   string
}

// ExtendResult is the structured outcome of extending a lock's TTL.
type ExtendResult struct {
	Extended  bool
	ExpiresAt time.Time // zero when the lock no longer expires
	Reason    string
}

// Options configures a Manager.
type Options struct {
	// DefaultAcquireTimeout bounds the wait on a contended resource when an
	// acquire call does not set its own timeout. Zero means contended
	// acquisitions fail instantly by default.
	DefaultAcquireTimeout time.Duration
	// DefaultTTL is applied to new locks when an acquire call does not set
	// its own TTL. Zero means locks never auto-expire by default.
	DefaultTTL time.Duration
	Logger     logr.Logger
}

type acquireConfig struct {
	holderID   string
	reentrant  bool
	timeout    time.Duration
	timeoutSet bool
	ttl        time.Duration
	ttlSet     bool
}

// AcquireOption customizes a single acquire call.
type AcquireOption func(*acquireConfig)

// WithHolder sets the logical owner of the lock. Acquisitions without a
// holder get a one-off generated id and can never re-enter.
func WithHolder(holderID string) AcquireOption {
	return func(c *acquireConfig) {
		c.holderID = holderID
	}
}

// Reentrant allows the same holder to re-acquire the resource without
// waiting, tracked by reference count.
func Reentrant() AcquireOption {
	return func(c *acquireConfig) {
		c.reentrant = true
	}
}

// WithAcquireTimeout bounds the wait on a contended resource. Zero decides
// immediately without waiting. Negative values are a validation error.
func WithAcquireTimeout(d time.Duration) AcquireOption {
	return func(c *acquireConfig) {
		c.timeout = d
		c.timeoutSet = true
	}
}

// WithTTL sets the auto-release deadline for the lock. Zero means the lock
// never auto-expires. On a reentrant re-acquisition the TTL replaces the
// current expiry timer; it never stacks.
func WithTTL(d time.Duration) AcquireOption {
	return func(c *acquireConfig) {
		c.ttl = d
		c.ttlSet = true
	}
}

func (m *Manager) newAcquireConfig(opts []AcquireOption) acquireConfig {
	cfg := acquireConfig{
		timeout: m.defaultTimeout,
		ttl:     m.defaultTTL,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.holderID == "" {
		cfg.holderID = uuid.NewString()
	}
	return cfg
}
