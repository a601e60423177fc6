// Package dispatch implements the request entry points and the
// (cache_mode, direction) handler table, grounded on the IO_IFS table
// and ocf_engine_hndl_req family in cache_engine.c.
package dispatch

import (
	"github.com/cachecore/cachecore/internal/errs"
	"github.com/cachecore/cachecore/internal/queue"
	"github.com/cachecore/cachecore/internal/request"
)

// FastPathResult is the tri-state return of HandleFastRequest.
type FastPathResult int

const (
	// FastPathYes: the request was accepted and will complete via the
	// fast handler.
	FastPathYes FastPathResult = iota
	// FastPathNo: the fast handler declined; the caller must retry
	// through HandleRequest. The reference taken for the fast attempt
	// has already been released.
	FastPathNo
)

// entry is one (mode, direction) cell of the public table.
type entry struct {
	read  request.Handler
	write request.Handler
}

// Table is the immutable-after-init public dispatch table plus the
// private flush/discard handlers, mirroring the 7-mode-public /
// 3-handler-private split cache_engine.c keeps.
type Table struct {
	public [request.ModeMax]entry

	fast        entry
	flushFn     request.Handler
	discardFn   request.Handler
	modeForFast request.CacheMode

	queues []*queue.Queue
}

// NewTable builds an empty table. Use Register to fill it in.
func NewTable(queues []*queue.Queue) *Table {
	return &Table{
		queues:      queues,
		modeForFast: request.ModeFast,
	}
}

// Register binds read/write handlers for a public cache mode. Must be
// called during initialization only; the table is read concurrently by
// every request afterward.
func (t *Table) Register(mode request.CacheMode, read, write request.Handler) {
	t.public[mode] = entry{read: read, write: write}
}

// RegisterFast binds the private fast-path read/write handlers,
// reachable only from HandleFastRequest, never from mode resolution.
func (t *Table) RegisterFast(read, write request.Handler) {
	t.fast = entry{read: read, write: write}
}

// RegisterFlush binds the private flush handler.
func (t *Table) RegisterFlush(handler request.Handler) {
	t.flushFn = handler
}

// RegisterDiscard binds the private discard handler.
func (t *Table) RegisterDiscard(handler request.Handler) {
	t.discardFn = handler
}

func (t *Table) queueFor(req *request.Request) *queue.Queue {
	if len(t.queues) == 0 {
		return nil
	}
	return t.queues[req.Addr%uint64(len(t.queues))]
}

func (t *Table) handlerFor(req *request.Request) request.Handler {
	if !req.CacheMode.Valid() {
		return nil
	}
	e := t.public[req.CacheMode]
	if req.RW == request.Write {
		return e.write
	}
	return e.read
}

// HandleRequest is the standard dispatch path: select a handler by
// (req.CacheMode, req.RW), take a reference, and enqueue with the
// allow-synchronous-inline-dispatch hint.
func (t *Table) HandleRequest(req *request.Request) error {
	h := t.handlerFor(req)
	if h == nil {
		return errs.New("handle_request", errs.CodeInvalid, "no handler registered for cache mode/direction")
	}

	req.Get()
	req.EngineHandler = h

	q := t.queueFor(req)
	if q == nil {
		req.Resume()
		return nil
	}
	q.Push(req, queue.AllowSync)
	return nil
}

// HandleFastRequest is the optimistic path: invoke the fast handler for
// req.RW synchronously. It never touches the queue fabric.
func (t *Table) HandleFastRequest(req *request.Request) (FastPathResult, error) {
	h := t.fast.read
	if req.RW == request.Write {
		h = t.fast.write
	}
	if h == nil {
		return FastPathNo, errs.New("handle_fast_request", errs.CodeInvalid, "no fast handler registered")
	}

	req.Get()
	rc := h(req)
	if rc == 0 {
		return FastPathYes, nil
	}
	req.Put()
	return FastPathNo, nil
}

// HandleFlushRequest binds and enqueues the private flush handler.
func (t *Table) HandleFlushRequest(req *request.Request) error {
	if t.flushFn == nil {
		return errs.New("handle_flush_request", errs.CodeInvalid, "no flush handler registered")
	}

	req.Get()
	req.EngineHandler = t.flushFn

	q := t.queueFor(req)
	if q == nil {
		req.Resume()
		return nil
	}
	q.Push(req, queue.AllowSync)
	return nil
}

// HandleDiscardRequest binds and invokes the private discard handler
// synchronously: discard never waits for line locks.
func (t *Table) HandleDiscardRequest(req *request.Request) error {
	if t.discardFn == nil {
		return errs.New("handle_discard_request", errs.CodeInvalid, "no discard handler registered")
	}

	req.Get()
	t.discardFn(req)
	return nil
}
