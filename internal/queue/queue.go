// Package queue implements the per-shard dispatch fabric: one FIFO per
// I/O queue, drained by a single worker goroutine, with "allow
// synchronous inline dispatch" and high-priority push support (spec.md
// §2, "Queue fabric").
//
// Same one-goroutine-per-queue, pinned-and-affinitized worker loop as a
// kernel-facing I/O submission queue, but draining a plain request FIFO
// instead of a completion ring: this core talks to Go interfaces (lock
// manager, traverse service, core device), not a character device.
package queue

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/cachecore/cachecore/internal/interfaces"
	"github.com/cachecore/cachecore/internal/request"
)

// PushFlags combine ALLOW_SYNC and PRIO_HIGH semantics from spec.md §6.
type PushFlags int

const (
	// AllowSync permits the queue to run the request inline on the
	// calling goroutine when the queue is otherwise idle, instead of a
	// full channel round-trip.
	AllowSync PushFlags = 1 << iota
	// PrioHigh routes the request to the high-priority FIFO, drained
	// ahead of normal-priority requests.
	PrioHigh
)

// Config configures a single queue/worker pair.
type Config struct {
	ID          int
	Depth       int
	Logger      interfaces.Logger
	Observer    interfaces.Observer
	CPUAffinity []int
}

// Queue is one shard of the dispatch fabric: a normal-priority FIFO, a
// high-priority FIFO drained first, and the worker goroutine that drains
// both.
type Queue struct {
	id          int
	logger      interfaces.Logger
	observer    interfaces.Observer
	cpuAffinity []int

	normal chan *request.Request
	high   chan *request.Request

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	inflight atomic.Int64
}

// New creates a queue. Call Start to begin draining it.
func New(ctx context.Context, cfg Config) *Queue {
	depth := cfg.Depth
	if depth <= 0 {
		depth = 128
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Queue{
		id:          cfg.ID,
		logger:      cfg.Logger,
		observer:    cfg.Observer,
		cpuAffinity: cfg.CPUAffinity,
		normal:      make(chan *request.Request, depth),
		high:        make(chan *request.Request, depth),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// ID returns the queue's shard index.
func (q *Queue) ID() int {
	return q.id
}

// Start launches the worker goroutine.
func (q *Queue) Start() {
	q.wg.Add(1)
	go q.loop()
}

// Stop signals the worker to exit and waits for it to drain in-flight
// dispatch of whatever it was running.
func (q *Queue) Stop() {
	q.cancel()
	q.wg.Wait()
}

// Push enqueues req. With AllowSync set and the queue currently idle,
// the request's continuation runs inline on the calling goroutine
// instead of round-tripping through the channel — purely a latency
// optimization, never a correctness requirement, since the worker loop
// would produce the same result either way.
//
// Invariant: the caller must hold a reference (req.Get()) before
// pushing, per spec.md §3 invariant 5.
func (q *Queue) Push(req *request.Request, flags PushFlags) {
	if flags&AllowSync != 0 && q.inflight.Load() == 0 {
		q.runOne(req)
		return
	}

	ch := q.normal
	if flags&PrioHigh != 0 {
		ch = q.high
	}
	ch <- req
}

// PushCB is queue_push_req_cb: enqueue with a one-shot handler override,
// replacing whatever is currently in req.EngineHandler.
func (q *Queue) PushCB(req *request.Request, handler request.Handler, flags PushFlags) {
	req.EngineHandler = handler
	q.Push(req, flags)
}

func (q *Queue) runOne(req *request.Request) {
	q.inflight.Add(1)
	defer q.inflight.Add(-1)

	if q.observer != nil {
		q.observer.ObserveQueueDepth(uint32(len(q.normal) + len(q.high)))
	}
	req.Resume()
}

func (q *Queue) loop() {
	defer q.wg.Done()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if len(q.cpuAffinity) > 0 {
		cpu := q.cpuAffinity[q.id%len(q.cpuAffinity)]
		var mask unix.CPUSet
		mask.Set(cpu)
		if err := unix.SchedSetaffinity(0, &mask); err != nil && q.logger != nil {
			q.logger.Printf("queue %d: failed to set CPU affinity to %d: %v", q.id, cpu, err)
		}
	}

	for {
		select {
		case <-q.ctx.Done():
			return
		case req := <-q.high:
			q.runOne(req)
		default:
			select {
			case <-q.ctx.Done():
				return
			case req := <-q.high:
				q.runOne(req)
			case req := <-q.normal:
				q.runOne(req)
			}
		}
	}
}

// Depth returns the combined number of queued (not yet running)
// requests across both priorities.
func (q *Queue) Depth() int {
	return len(q.normal) + len(q.high)
}
