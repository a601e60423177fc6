// Package request defines the per-I/O request record that flows through
// mode resolution, dispatch, and the pass-through read path.
package request

import (
	"sync"
	"sync/atomic"
)

// Direction is the I/O direction of a request.
type Direction int

const (
	Read Direction = iota
	Write
)

func (d Direction) String() string {
	if d == Write {
		return "write"
	}
	return "read"
}

// CacheMode is the closed enumeration of resolved cache modes, plus the
// Unset/Max sentinel used before resolution runs.
type CacheMode int

const (
	ModeUnset CacheMode = iota
	ModeWT
	ModeWB
	ModeWA
	ModeWI
	ModeWO
	ModePT
	ModeFast
	ModeMax // sentinel; never a resolved mode
)

var modeNames = map[CacheMode]string{
	ModeUnset: "Unset",
	ModeWT:    "Write Through",
	ModeWB:    "Write Back",
	ModeWA:    "Write Around",
	ModeWI:    "Write Invalidate",
	ModeWO:    "Write Only",
	ModePT:    "Pass Through",
	ModeFast:  "Fast",
	ModeMax:   "Unknown",
}

// Name returns the human-readable interface name for the mode, matching
// ocf_get_io_iface_name's public/private table split.
func (m CacheMode) Name() string {
	if n, ok := modeNames[m]; ok {
		return n
	}
	return "Unknown"
}

// HasLazyWrite reports whether the mode may defer writes to the core
// device (write-back, write-only). Only wb/wo carry this property; every
// other mode writes through or invalidates immediately.
func (m CacheMode) HasLazyWrite() bool {
	return m == ModeWB || m == ModeWO
}

// Valid reports whether m is one of the seven resolvable modes (i.e. not
// the Unset or Max sentinels).
func (m CacheMode) Valid() bool {
	return m > ModeUnset && m < ModeMax
}

// Info holds traverse-service output: hit/miss/dirty status for the
// cache lines a request maps to. Populated by a collab.Traverser.
type Info struct {
	DirtyAny    bool
	HitNo       uint32
	MappedCount uint32
}

// Handler is a policy/engine entry point. A return of 0 means the
// request was accepted and will complete asynchronously; a negative
// value is an error code. The fast-path handler additionally returns
// FastPathYes/FastPathNo (see the dispatch package).
type Handler func(req *Request) int

// CompleteFunc is the upward completion callback, invoked exactly once.
type CompleteFunc func(req *Request, err error)

// Request is the per-I/O state record carried through the dispatch
// pipeline. Fields map directly onto spec.md's Request record.
type Request struct {
	Addr          uint64
	Bytes         uint32
	CoreLineCount uint32
	RW            Direction
	CacheMode     CacheMode
	PartID        uint32
	SeqCutoff     bool
	ForcePT       bool
	Info          Info

	// EngineHandler is a single-slot continuation mailbox: the current
	// handler writes the next function to invoke and returns; the queue
	// worker or an async-lock resume callback reads and clears it.
	EngineHandler Handler

	// Priv1 is the opaque upper-layer I/O context (e.g. the caller's own
	// request object); Priv is opaque private data owned by whichever
	// handler currently holds the request (e.g. a back-pointer to a
	// parallelize shard).
	Priv1 any
	Priv  any

	completeFn    CompleteFunc
	completeOnce  sync.Once
	completeCount atomic.Int32

	refcount atomic.Int32

	// OnRelease is invoked once, when the refcount drops to zero. Used by
	// owners (queue, parallelizer) that need to know when a request's
	// last reference is gone.
	OnRelease func(req *Request)
}

// New creates a request with an initial refcount of zero; the caller is
// expected to call Get() once it hands the request off (matching the
// "entry points take a reference" discipline in spec.md §5).
func New(addr uint64, bytes uint32, rw Direction, complete CompleteFunc) *Request {
	return &Request{
		Addr:      addr,
		Bytes:     bytes,
		RW:        rw,
		CacheMode: ModeUnset,
		completeFn: complete,
	}
}

// Get increments the reference count. Every hand-off to a new owner
// (entry point, handler, suspension resumer) takes one.
func (r *Request) Get() {
	r.refcount.Add(1)
}

// Put decrements the reference count. When it reaches zero, OnRelease (if
// set) fires exactly once.
func (r *Request) Put() {
	if r.refcount.Add(-1) == 0 && r.OnRelease != nil {
		r.OnRelease(r)
	}
}

// RefCount returns the current reference count (for tests/diagnostics).
func (r *Request) RefCount() int32 {
	return r.refcount.Load()
}

// Complete invokes the upward completion callback exactly once, matching
// spec.md invariant 3. Subsequent calls are no-ops aside from being
// counted, so tests can assert CompleteCount() == 1.
func (r *Request) Complete(err error) {
	r.completeCount.Add(1)
	r.completeOnce.Do(func() {
		if r.completeFn != nil {
			r.completeFn(r, err)
		}
	})
}

// CompleteCount returns how many times Complete was invoked, regardless
// of how many of those calls actually ran the callback. Used by
// invariant tests.
func (r *Request) CompleteCount() int32 {
	return r.completeCount.Load()
}

// Resume invokes the continuation left in EngineHandler, clearing the
// mailbox first so a handler can re-arm it for a further suspension.
func (r *Request) Resume() int {
	h := r.EngineHandler
	r.EngineHandler = nil
	if h == nil {
		return 0
	}
	return h(r)
}
