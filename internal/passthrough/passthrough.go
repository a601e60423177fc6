// Package passthrough implements the pass-through read path: the one
// read policy this core specifies in full. Grounded on
// ocf_read_pt/ocf_read_pt_do/_ocf_read_pt_complete/_ocf_read_pt_submit
// in engine_pt.c.
package passthrough

import (
	"github.com/cachecore/cachecore/internal/collab"
	"github.com/cachecore/cachecore/internal/errs"
	"github.com/cachecore/cachecore/internal/interfaces"
	"github.com/cachecore/cachecore/internal/queue"
	"github.com/cachecore/cachecore/internal/request"
)

// Stats is the subset of per-partition/per-direction counters the
// pass-through path updates on completion.
type Stats interface {
	// ObservePT records one pass-through completion for the given
	// partition and direction.
	ObservePT(partID uint32, rw string, success bool)
	// ObserveCoreError records a core-device error, feeding the
	// fallback-pt error counter the resolver consults.
	ObserveCoreError(partID uint32, rw string)
}

// Engine bundles the pass-through path's external collaborators.
type Engine struct {
	Locker  collab.LineLocker
	Bucket  collab.HashBucketLocker
	Dirty   collab.Traverser
	Core    collab.CoreForwarder
	Stats   Stats
	Logger  interfaces.Logger

	// ReadGeneric is the external write-through-style read handler the
	// dirty-hit/seq-cutoff branch diverts to. Never nil in a fully wired
	// engine; if nil, that branch completes the request with CodeInvalid
	// instead of silently dropping it.
	ReadGeneric request.Handler

	// Queues backs ocf_queue_push_req_pt: the async-lock-pending and
	// post-clean resumes are pushed through these with
	// AllowSync|PrioHigh. An idle queue runs the continuation inline on
	// the collaborator's callback goroutine; a busy one queues it on the
	// high-priority FIFO, so a foreground read blocked on a dirty line
	// doesn't wait behind normal-priority work once it's ready to
	// proceed. Nil means run the continuation inline (used by tests that
	// exercise the state machine without a queue fabric).
	Queues []*queue.Queue
}

// queueFor picks a queue for req by address, matching
// dispatch.Table.queueFor's round-robin-by-address scheme so a given
// request's resumes land on the same shard its initial dispatch did.
func (e *Engine) queueFor(req *request.Request) *queue.Queue {
	if len(e.Queues) == 0 {
		return nil
	}
	return e.Queues[req.Addr%uint64(len(e.Queues))]
}

// pushResume re-enters req at handler via the high-priority, allow-sync
// path (ALLOW_SYNC | PRIO_HIGH), matching SPEC_FULL.md's
// ocf_queue_push_req_pt behavior. With no queue fabric configured it
// just invokes handler directly.
func (e *Engine) pushResume(req *request.Request, handler request.Handler) {
	q := e.queueFor(req)
	if q == nil {
		handler(req)
		return
	}
	q.PushCB(req, handler, queue.AllowSync|queue.PrioHigh)
}

// ReadPT is ocf_read_pt: entry point for a pass-through read. Returns 0
// to indicate the request was accepted (it completes asynchronously via
// req.Complete), matching the handler signature request.Handler uses.
func (e *Engine) ReadPT(req *request.Request) int {
	e.Bucket.LockRD(req)
	e.Dirty.Hash(req)
	e.Dirty.Traverse(req)
	e.Bucket.UnlockRD(req)

	if req.SeqCutoff && e.Dirty.IsDirtyAll(req) && !req.ForcePT {
		req.SeqCutoff = false
		req.CacheMode = request.ModeUnset
		if e.ReadGeneric == nil {
			req.Complete(errs.New("read_pt", errs.CodeInvalid, "seq-cutoff dirty-hit diversion with no read_generic bound"))
			req.Put()
			return 0
		}
		return e.ReadGeneric(req)
	}

	if req.Info.MappedCount == 0 {
		return e.readPTDo(req)
	}

	result, err := e.Locker.AsyncLockRead(req, func(r *request.Request) {
		e.pushResume(r, e.readPTDo)
	})
	if err != nil {
		req.Complete(errs.Wrap("read_pt", errs.CodeLockError, err))
		req.Put()
		return 0
	}
	if result == collab.LockAcquired {
		return e.readPTDo(req)
	}
	// LockPending: the resume callback above will drive readPTDo later.
	return 0
}

// readPTDo is READ_PT_DO. It takes its own reference on entry so the
// suspended clean path can hold an independent one, and releases it on
// every exit path.
func (e *Engine) readPTDo(req *request.Request) int {
	req.Get()
	defer req.Put()

	if req.Info.DirtyAny {
		e.Bucket.LockWR(req)
		e.Dirty.Clean(req, func(err error) {
			e.Bucket.UnlockWR(req)
			if err != nil {
				e.completeWithCode(req, errs.CodeCleanError, err)
				return
			}
			// Clean succeeded: every line Traverse found dirty has now
			// been written back, so clear the stale info before
			// re-entering, or readPTDo would read the same DirtyAny=true
			// it started with and loop back into Clean forever.
			req.Info.DirtyAny = false
			// Clean re-enters READ_PT_DO via an AllowSync|PrioHigh queue
			// push (ocf_queue_push_req_pt), which runs it inline here only
			// if the queue is idle; this call does not fall through to
			// _submit below.
			e.pushResume(req, e.readPTDo)
		})
		return 0
	}

	if e.Dirty.NeedsRepart(req) {
		e.Bucket.LockWR(req)
		e.Dirty.UserPartMove(req)
		e.Bucket.UnlockWR(req)
	}

	e.submit(req)
	return 0
}

// submit is _ocf_read_pt_submit: forward the I/O to the core device and
// complete on its result.
func (e *Engine) submit(req *request.Request) {
	e.Core.ForwardCoreIO(req, func(err error) {
		e.completeWithCode(req, errs.CodeCoreIOError, err)
	})
}

// completeWithCode is _ocf_read_pt_complete: update stats, release the
// lock, complete the request, and drop the reference the dispatch entry
// point took before ReadPT ran (ReadPT itself takes none).
// Only a core-device I/O error feeds the fallback-pt error counter; a
// clean failure does not, since it reflects the cache device, not the
// core device's health.
func (e *Engine) completeWithCode(req *request.Request, code errs.Code, err error) {
	success := err == nil
	if e.Stats != nil {
		e.Stats.ObservePT(req.PartID, req.RW.String(), success)
		if !success && code == errs.CodeCoreIOError {
			e.Stats.ObserveCoreError(req.PartID, req.RW.String())
		}
	}

	if req.Info.MappedCount > 0 {
		e.Locker.Unlock(req)
	}

	var completeErr error
	if !success {
		completeErr = errs.Wrap("read_pt", code, err)
	}
	req.Complete(completeErr)
	req.Put()
}
