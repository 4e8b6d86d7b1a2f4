package lock

import (
	"fmt"
	"sync"
)

// FileLockManager specializes Manager for file-backed entities: resource
// names are namespaced by entity type and id, and it tracks which resources
// each logical call (holder) currently owns so repository code can skip
// re-acquisition inside one service call.
//
// All state is process-local. Nothing is persisted, so the guarantees hold
// within one running process only. This is not a cross-process lock.
type FileLockManager struct {
	manager *Manager

	mu   sync.Mutex
	held map[string]map[string]*heldEntry // holder id -> resource key -> entry
}

type heldEntry struct {
	lockID string
	count  int
}

// NewFileLockManager wraps a lock manager with entity-keyed bookkeeping.
func NewFileLockManager(manager *Manager) *FileLockManager {
	return &FileLockManager{
		manager: manager,
		held:    make(map[string]map[string]*heldEntry),
	}
}

// ResourceKey builds the lock resource name for an entity.
func ResourceKey(entityType, id string) string {
	return entityType + ":" + id
}

// Acquire takes the entity's lock for the given holder, reentrantly. The
// per-holder count mirrors the manager's reference count so ReleaseAll can
// unwind fully.
func (f *FileLockManager) Acquire(entityType, id, holderID string, opts ...AcquireOption) (AcquireResult, error) {
	if holderID == "" {
		return AcquireResult{}, fmt.Errorf("holder id cannot be empty")
	}
	key := ResourceKey(entityType, id)

	opts = append(opts, WithHolder(holderID), Reentrant())
	res, err := f.manager.Acquire(key, opts...)
	if err != nil || !res.Acquired {
		return res, err
	}

	f.mu.Lock()
	byKey := f.held[holderID]
	if byKey == nil {
		byKey = make(map[string]*heldEntry)
		f.held[holderID] = byKey
	}
	entry := byKey[key]
	if entry == nil || entry.lockID != res.LockID {
		// A differing lock id means the recorded lock expired and this
		// acquisition created a fresh one; the stale count is void.
		entry = &heldEntry{lockID: res.LockID}
		byKey[key] = entry
	}
	entry.count++
	f.mu.Unlock()

	return res, nil
}

// Release drops one reference to the entity's lock for the given holder.
// A bookkeeping entry whose lock already TTL-expired is dropped entirely
// and releasing it is a no-op: the expiry force-freed every reference.
func (f *FileLockManager) Release(entityType, id, holderID string) error {
	key := ResourceKey(entityType, id)

	f.mu.Lock()
	byKey := f.held[holderID]
	entry := byKey[key]
	if entry == nil {
		f.mu.Unlock()
		return fmt.Errorf("holder %s does not hold %s", holderID, key)
	}
	if !f.manager.IsActive(entry.lockID) {
		f.dropLocked(holderID, key)
		f.mu.Unlock()
		return nil
	}
	entry.count--
	lockID := entry.lockID
	if entry.count == 0 {
		f.dropLocked(holderID, key)
	}
	f.mu.Unlock()

	return f.manager.Release(lockID)
}

// ReleaseAll releases everything the holder acquired, unwinding reentrant
// references completely. Used on commit and rollback. Entries whose locks
// already TTL-expired are skipped; release errors after disposal are nil by
// contract; any other error aborts the sweep.
func (f *FileLockManager) ReleaseAll(holderID string) error {
	f.mu.Lock()
	byKey := f.held[holderID]
	delete(f.held, holderID)
	f.mu.Unlock()

	for _, entry := range byKey {
		if !f.manager.IsActive(entry.lockID) {
			continue
		}
		for i := 0; i < entry.count; i++ {
			if err := f.manager.Release(entry.lockID); err != nil {
				return err
			}
		}
	}
	return nil
}

// HeldByUs reports whether the given logical call already holds the
// resource, as opposed to IsLocked, which reports whether anything does.
// The answer is checked against the manager: a recorded lock that has
// TTL-expired no longer counts as held, and its stale bookkeeping entry is
// dropped so the resource may be re-acquired (possibly by someone else).
func (f *FileLockManager) HeldByUs(resourceKey, holderID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry := f.held[holderID][resourceKey]
	if entry == nil || entry.count == 0 {
		return false
	}
	if !f.manager.IsActive(entry.lockID) {
		f.dropLocked(holderID, resourceKey)
		return false
	}
	return true
}

// dropLocked removes one bookkeeping entry. Must be called with f.mu held.
func (f *FileLockManager) dropLocked(holderID, resourceKey string) {
	byKey := f.held[holderID]
	delete(byKey, resourceKey)
	if len(byKey) == 0 {
		delete(f.held, holderID)
	}
}

// IsLocked reports whether any holder owns the resource.
func (f *FileLockManager) IsLocked(resourceKey string) bool {
	return f.manager.IsLocked(resourceKey)
}

// Manager exposes the underlying lock manager.
func (f *FileLockManager) Manager() *Manager {
	return f.manager
}
