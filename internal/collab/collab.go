// Package collab defines the external-collaborator contracts spec.md §6
// names as out of scope for this core (the cache-line lock manager, the
// hash/traverse metadata service, the core-device forwarder) and a
// reference in-memory implementation of each, used by tests and the
// cmd/cachecore-demo binary. None of these claim to be the real OCF
// metadata/locking/eviction layer — that stays external, per spec.md §1.
package collab

import "github.com/cachecore/cachecore/internal/request"

// LockResult is the tri-state result of an async lock acquisition.
type LockResult int

const (
	LockAcquired LockResult = iota
	LockPending
)

// LineLocker provides read/write locks keyed by cache-line index, with
// async acquisition and a resume callback, matching
// async_lock_rd(concurrency, req, on_resume) from spec.md §6.
type LineLocker interface {
	// AsyncLockRead attempts to acquire a read lock covering req's mapped
	// lines. On LockPending, onResume is invoked exactly once, later,
	// when the lock becomes available. A negative/error return completes
	// the request immediately with that error (no retry).
	AsyncLockRead(req *request.Request, onResume func(*request.Request)) (LockResult, error)

	// Unlock releases a lock previously acquired for req. Idempotent once
	// per acquisition.
	Unlock(req *request.Request)
}

// HashBucketLocker is the hash-bucket reader/writer lock taken around
// traverse, clean, and user_part_move.
type HashBucketLocker interface {
	LockRD(req *request.Request)
	UnlockRD(req *request.Request)
	LockWR(req *request.Request)
	UnlockWR(req *request.Request)
}

// Traverser is the hash/traverse/metadata collaborator: it computes a
// request's cache-line mapping and reports hit/miss/dirty status, and
// owns the one-shot dirty-marking primitive used for lazy-write
// escalation.
type Traverser interface {
	// Hash computes the cache-line mapping bucket for req. Must be
	// called before Traverse, under a HashBucketLocker read or write
	// lock.
	Hash(req *request.Request)

	// Traverse populates req.Info from the current mapping.
	Traverse(req *request.Request)

	// IsDirtyAll reports whether every line the request maps to is
	// dirty (engine_is_dirty_all).
	IsDirtyAll(req *request.Request) bool

	// NeedsRepart reports whether any mapped line belongs to the wrong
	// user partition.
	NeedsRepart(req *request.Request) bool

	// UserPartMove moves req's mapped lines to its resolved partition.
	// Must be called under a HashBucketLocker write lock.
	UserPartMove(req *request.Request)

	// SetDirtyOrFreeze is the one-shot "mark dirty, or report that the
	// dirty state was frozen" primitive backing lazy-write escalation
	// (ocf_req_set_dirty). A true return is the sole escalation trigger
	// per spec.md §9's Open Question.
	SetDirtyOrFreeze(req *request.Request) (frozen bool)

	// Clean submits a write-back of req's dirty lines to the core
	// device. On completion it invokes resume with the write-back error
	// (nil on success); the caller must not treat req as still held
	// until resume runs.
	Clean(req *request.Request, resume func(err error))
}

// CoreForwarder submits core-device I/O for a request.
type CoreForwarder interface {
	// ForwardCoreIO submits req's I/O to the core device; complete is
	// invoked (possibly on a different goroutine) when the device I/O
	// finishes.
	ForwardCoreIO(req *request.Request, complete func(err error))
}
