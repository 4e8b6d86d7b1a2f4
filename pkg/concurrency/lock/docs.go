// Package lock implements plancore's in-process concurrency control: a
// reentrant, TTL-bounded lock manager over named logical resources, and a
// file-oriented layer that keys those resources by entity type and id.
//
// # Overview
//
// Every mutation in the planning store passes through this package. A
// resource is any string name (by convention "<entityType>:<id>"); at most
// one non-reentrant holder owns a resource at any instant. The same holder
// may re-enter a reentrant lock without waiting; re-entries are tracked by
// reference count and must be balanced by releases.
//
// # Components
//
//   - [Manager]: the lock table itself. [Manager.Acquire] decides
//     free vs. held under a single mutex, parks contended callers on a
//     per-resource broadcast channel, and enforces TTL auto-release through
//     identity-checked timer callbacks. [Manager.Release],
//     [Manager.Extend], [Manager.WithLock] and [Manager.Dispose] complete
//     the lifecycle.
//   - [FileLockManager]: entity-keyed wrapper tracking which resources a
//     logical call already owns ([FileLockManager.HeldByUs]) so repository
//     code avoids redundant acquisition inside one service call.
//
// # Acquisition Flow
//
// When [Manager.Acquire] is called:
//
//  1. Input is validated synchronously; bad input never waits.
//  2. If the resource is free, a lock record is created and returned.
//  3. If the caller's holder already owns a reentrant record, the reference
//     count is incremented and a supplied TTL replaces the expiry timer.
//  4. Otherwise the caller waits for the resource's release signal, bounded
//     by the acquire timeout (zero fails instantly), then retries. Waiter
//     wake order is not FIFO.
//
// # Failure Model
//
// Contention, timeout, and disposal are structured results
// ([AcquireResult], [ExtendResult]), not errors, so callers choose whether
// to retry, queue, or fail. Validation problems and unknown lock ids are
// errors. After [Manager.Dispose] every operation fails fast: waiters are
// woken with a "disposed" result, release becomes a silent no-op, and
// queries answer empty.
package lock
