// Package parallelize implements the fan-out shard scheduler: run a
// handler concurrently across N shards, each dispatched onto a distinct
// I/O queue in round-robin order, then invoke a single finish callback
// once every shard (and the caller) has reported. Grounded on
// ocf_parallelize_create/_run/_finish in utils_parallelize.c, with the
// atomic remaining-counter/CAS-first-error bookkeeping translated into
// an errgroup.Group, the idiomatic Go shape for "wait for N goroutines,
// keep the first error."
package parallelize

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/cachecore/cachecore/internal/errs"
	"github.com/cachecore/cachecore/internal/queue"
	"github.com/cachecore/cachecore/internal/request"
)

// Alignment is the byte alignment the optional priv area is placed at
// relative to the allocation base (OCF_PARALLELIZE_ALIGNMENT is 64). Go
// has no use for manual allocation alignment here; kept as a named
// constant so callers sizing their own priv buffers can still honor it.
const Alignment = 64

// Handle is invoked once per shard: handle(priv, shardIndex, shardTotal).
// A non-zero return is the shard's error; only the first non-zero error
// across all shards survives into Finish.
type Handle func(priv any, shardIndex, shardTotal uint32) int

// Finish is invoked exactly once, after every shard (and the caller's
// own run) has reported.
type Finish func(priv any, firstError error)

// Parallelize is one fan-out run: a fixed set of shard requests, each
// bound to a queue.
type Parallelize struct {
	priv   any
	handle Handle
	finish Finish
	queues []*queue.Queue
	shards []*request.Request
	total  uint32
}

// Create allocates a Parallelize over the given queues. If queues is
// empty, every shard runs its handler directly on its own goroutine
// instead of on a queue, analogous to binding every shard to the
// management queue. shards <= 0 defaults to len(queues), and to 1 if
// there are no queues either.
func Create(queues []*queue.Queue, shards int, priv any, handle Handle, finish Finish) *Parallelize {
	if shards <= 0 {
		shards = len(queues)
	}
	if shards <= 0 {
		shards = 1
	}

	p := &Parallelize{
		priv:   priv,
		handle: handle,
		finish: finish,
		queues: queues,
		shards: make([]*request.Request, shards),
		total:  uint32(shards),
	}
	for i := range p.shards {
		p.shards[i] = request.New(0, 0, request.Read, nil)
	}
	return p
}

// Run dispatches every shard at high priority onto its bound queue (the
// request's own worker goroutine invokes Handle), collects results
// through an errgroup.Group, and invokes Finish exactly once with the
// first non-zero shard error, discarding the rest.
func (p *Parallelize) Run(ctx context.Context) {
	g, _ := errgroup.WithContext(ctx)

	for i, shard := range p.shards {
		i, shard := i, shard
		shardIndex := uint32(i)

		g.Go(func() error {
			done := make(chan int, 1)
			shard.Get()
			shard.EngineHandler = func(req *request.Request) int {
				rc := p.handle(p.priv, shardIndex, p.total)
				done <- rc
				return 0
			}

			if len(p.queues) == 0 {
				shard.Resume()
			} else {
				p.queues[i%len(p.queues)].Push(shard, queue.PrioHigh)
			}

			rc := <-done
			shard.Put()
			if rc != 0 {
				// Preserve the actual rc (and which shard reported it),
				// mirroring env_atomic_cmpxchg(&parallelize->error, 0,
				// error) storing the real error value rather than a
				// fixed flag: the first shard to fail is the one whose
				// rc survives into Finish, and callers can recover it
				// via errors.As on the wrapped *errs.Error.
				return errs.Wrap("parallelize_shard", errs.CodeIOError,
					fmt.Errorf("shard %d returned rc=%d", shardIndex, rc))
			}
			return nil
		})
	}

	p.finish(p.priv, g.Wait())
}

// Destroy releases the shard requests. Must only be called after Finish
// has fired (or before Run, if the run was aborted before dispatch).
func (p *Parallelize) Destroy() {
	p.shards = nil
}
