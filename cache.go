// Package cachecore implements the request dispatch and pass-through
// core of a block-level caching engine: mode resolution, the
// (cache_mode, direction) dispatch table, the pass-through read path,
// and the fan-out parallelizer, with a reference in-memory
// implementation of every external collaborator the core itself treats
// as out of scope.
package cachecore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cachecore/cachecore/internal/collab"
	"github.com/cachecore/cachecore/internal/constants"
	"github.com/cachecore/cachecore/internal/dispatch"
	"github.com/cachecore/cachecore/internal/interfaces"
	"github.com/cachecore/cachecore/internal/logging"
	"github.com/cachecore/cachecore/internal/mode"
	"github.com/cachecore/cachecore/internal/parallelize"
	"github.com/cachecore/cachecore/internal/passthrough"
	"github.com/cachecore/cachecore/internal/policy"
	"github.com/cachecore/cachecore/internal/queue"
	"github.com/cachecore/cachecore/internal/request"
)

// Cache is the top-level engine: one cache device, one core device, the
// external collaborators wired over them, and the dispatch fabric that
// resolves and routes every incoming request. Each instance carries an
// identity (ID) for correlating its logs/metrics; New generates a fresh
// random ID on every call, so the ID does not survive a restart.
type Cache struct {
	ID uuid.UUID

	cfg      Config
	logger   *logging.Logger
	observer Observer
	metrics  *Metrics

	cacheDevice interfaces.BlockDevice
	coreDevice  interfaces.BlockDevice

	queues []*queue.Queue

	modeCtx     *mode.Context
	seqDetector *mode.SequentialDetector
	collab      *collab.MemCollab

	dispatchTable *dispatch.Table
	ptEngine      *passthrough.Engine
	policy        *policy.Stand

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a Cache over the given fast cache device and slow core
// device, wiring mode resolution, the dispatch table, the pass-through
// read path, and a queue per cfg.QueueCount. Call Start before
// submitting I/O.
func New(cfg Config, cacheDevice, coreDevice interfaces.BlockDevice) (*Cache, error) {
	if cfg.QueueCount <= 0 {
		cfg.QueueCount = 1
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = constants.DefaultQueueDepth
	}
	if cfg.Cachelines == 0 {
		cfg.Cachelines = constants.DefaultCachelines
	}
	if cfg.FallbackPTThreshold == 0 {
		cfg.FallbackPTThreshold = constants.FallbackInactive
	}
	if cfg.Partitions == nil {
		cfg.Partitions = PartitionTable{}
	}
	if !cfg.DefaultMode.Valid() {
		cfg.DefaultMode = request.ModeWT
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = NoOpObserver{}
	}

	metrics := NewMetrics()
	metricsObserver := NewMetricsObserver(metrics)

	modeCtx := &mode.Context{
		FallbackThreshold:    cfg.FallbackPTThreshold,
		FallbackErrorCounter: &metrics.CoreErrorCounter,
		PTUnalignedIO:        cfg.PTUnalignedIO,
		Cachelines:           cfg.Cachelines,
		Partitions:           map[uint32]request.CacheMode(cfg.Partitions),
		DefaultMode:          cfg.DefaultMode,
	}
	seqDetector := mode.NewSequentialDetector(cfg.StreamThreshold)

	mc := collab.NewMemCollab(cacheDevice, coreDevice)

	ctx, cancel := context.WithCancel(context.Background())

	queues := make([]*queue.Queue, cfg.QueueCount)
	for i := range queues {
		queues[i] = queue.New(ctx, queue.Config{
			ID:          i,
			Depth:       cfg.QueueDepth,
			Logger:      cfg.Logger,
			Observer:    cfg.Observer,
			CPUAffinity: cfg.CPUAffinity,
		})
	}

	stand := &policy.Stand{
		Bucket: mc,
		Dirty:  mc,
		Core:   mc,
		Stats:  metricsObserver,
	}
	ptEngine := &passthrough.Engine{
		Locker:      mc,
		Bucket:      mc,
		Dirty:       mc,
		Core:        mc,
		Stats:       metricsObserver,
		Logger:      cfg.Logger,
		ReadGeneric: stand.ReadGeneric,
		Queues:      queues,
	}

	table := dispatch.NewTable(queues)
	table.Register(request.ModeWT, stand.ReadGeneric, stand.WriteWT)
	table.Register(request.ModeWB, stand.ReadGeneric, stand.WriteWB)
	table.Register(request.ModeWA, stand.ReadGeneric, stand.WriteWA)
	table.Register(request.ModeWI, stand.ReadGeneric, stand.WriteWI)
	table.Register(request.ModePT, ptEngine.ReadPT, stand.WriteWI)
	table.Register(request.ModeWO, stand.ReadWO, stand.WriteWB)
	table.Register(request.ModeFast, stand.ReadFast, stand.WriteFast)
	table.RegisterFast(stand.ReadFast, stand.WriteFast)
	table.RegisterFlush(stand.Flush)
	table.RegisterDiscard(stand.Discard)

	c := &Cache{
		ID:            uuid.New(),
		cfg:           cfg,
		logger:        cfg.Logger,
		observer:      cfg.Observer,
		metrics:       metrics,
		cacheDevice:   cacheDevice,
		coreDevice:    coreDevice,
		queues:        queues,
		modeCtx:       modeCtx,
		seqDetector:   seqDetector,
		collab:        mc,
		dispatchTable: table,
		ptEngine:      ptEngine,
		policy:        stand,
		ctx:           ctx,
		cancel:        cancel,
	}
	return c, nil
}

// Start launches every queue's worker goroutine.
func (c *Cache) Start() {
	for _, q := range c.queues {
		q.Start()
	}
	c.logger.Infof("cachecore: instance %s started with %d queues", c.ID, len(c.queues))
}

// Stop cancels every queue worker and waits for each to exit. Requests
// still waiting in a queue when Stop is called are not run.
func (c *Cache) Stop() {
	c.cancel()
	for _, q := range c.queues {
		q.Stop()
	}
	c.metrics.Stop()
}

// Submit resolves a mode for a fresh I/O request and routes it through
// the standard dispatch path (§4.1 + §4.2's handle_request). complete is
// invoked exactly once when the request finishes.
func (c *Cache) Submit(addr uint64, bytes uint32, rw request.Direction, partID uint32, forcePT bool, complete request.CompleteFunc) error {
	req := request.New(addr, bytes, rw, c.wrapComplete(rw, bytes, complete))
	req.PartID = partID
	req.ForcePT = forcePT
	req.CoreLineCount = lineSpan(addr, bytes)

	mode.Resolve(c.modeCtx, c.seqDetector, c.collab, req)

	if err := c.dispatchTable.HandleRequest(req); err != nil {
		return fmt.Errorf("cachecore: submit: %w", err)
	}
	return nil
}

// SubmitFast attempts the optimistic fast path for a request whose mode
// has already been resolved to Fast. On FastPathNo the caller must fall
// back to Submit.
func (c *Cache) SubmitFast(addr uint64, bytes uint32, rw request.Direction, partID uint32, complete request.CompleteFunc) (dispatch.FastPathResult, error) {
	req := request.New(addr, bytes, rw, c.wrapComplete(rw, bytes, complete))
	req.PartID = partID
	req.CacheMode = request.ModeFast
	return c.dispatchTable.HandleFastRequest(req)
}

// SubmitFlush routes a flush/sync request through the private flush
// handler.
func (c *Cache) SubmitFlush(complete request.CompleteFunc) error {
	req := request.New(0, 0, request.Write, c.wrapFlushComplete(complete))
	return c.dispatchTable.HandleFlushRequest(req)
}

// SubmitDiscard routes a discard/trim request through the private
// discard handler, which never waits on line locks.
func (c *Cache) SubmitDiscard(addr uint64, bytes uint32, complete request.CompleteFunc) error {
	req := request.New(addr, bytes, request.Write, c.wrapDiscardComplete(addr, bytes, complete))
	return c.dispatchTable.HandleDiscardRequest(req)
}

// RunParallel fans a handler out across shards (default: one per queue)
// and invokes finish exactly once with the first non-nil shard error.
// See internal/parallelize for the dispatch shape.
func (c *Cache) RunParallel(shards int, priv any, handle parallelize.Handle, finish parallelize.Finish) {
	p := parallelize.Create(c.queues, shards, priv, handle, finish)
	p.Run(c.ctx)
	p.Destroy()
}

// Metrics returns the live metrics instance this cache records every
// completed read, write, flush, and discard into (alongside the
// configured Observer), plus the pass-through and core-error counters.
func (c *Cache) Metrics() *Metrics {
	return c.metrics
}

// Config returns the (defaulted) configuration this cache was built
// with.
func (c *Cache) Config() Config {
	return c.cfg
}

// IOIsBlocked reports whether the device a request would be routed to
// is in a runtime-busy state: for a pt-resolved request (either
// direction) only the core device is consulted, since pt bypasses the
// cache; for any other mode the request is blocked if either the cache
// device or the core device reports busy. Mirrors
// vbdev_ocf_io_is_blocked. Higher layers use this to short-circuit
// admission before ever calling Submit. Devices that don't implement
// interfaces.BusyChecker are never considered blocked.
func (c *Cache) IOIsBlocked(req *request.Request) bool {
	if req.CacheMode == request.ModePT {
		return c.CoreIsBlocked()
	}
	if bc, ok := c.cacheDevice.(interfaces.BusyChecker); ok && bc.IsBlocked() {
		return true
	}
	return c.CoreIsBlocked()
}

// CoreIsBlocked reports whether the core device is in a runtime-busy
// state, mirroring vbdev_ocf_core_is_blocked. A core device that
// doesn't implement interfaces.BusyChecker is never considered blocked.
func (c *Cache) CoreIsBlocked() bool {
	bc, ok := c.coreDevice.(interfaces.BusyChecker)
	return ok && bc.IsBlocked()
}

func (c *Cache) wrapComplete(rw request.Direction, bytes uint32, complete request.CompleteFunc) request.CompleteFunc {
	start := time.Now().UnixNano()
	return func(req *request.Request, err error) {
		latency := uint64(time.Now().UnixNano() - start)
		if rw == request.Write {
			c.metrics.RecordWrite(uint64(bytes), latency, err == nil)
			c.observer.ObserveWrite(uint64(bytes), latency, err == nil)
		} else {
			c.metrics.RecordRead(uint64(bytes), latency, err == nil)
			c.observer.ObserveRead(uint64(bytes), latency, err == nil)
		}
		if complete != nil {
			complete(req, err)
		}
	}
}

func (c *Cache) wrapFlushComplete(complete request.CompleteFunc) request.CompleteFunc {
	start := time.Now().UnixNano()
	return func(req *request.Request, err error) {
		latency := uint64(time.Now().UnixNano() - start)
		c.metrics.RecordFlush(latency, err == nil)
		c.observer.ObserveFlush(latency, err == nil)
		if complete != nil {
			complete(req, err)
		}
	}
}

func (c *Cache) wrapDiscardComplete(addr uint64, bytes uint32, complete request.CompleteFunc) request.CompleteFunc {
	start := time.Now().UnixNano()
	return func(req *request.Request, err error) {
		latency := uint64(time.Now().UnixNano() - start)
		c.metrics.RecordDiscard(uint64(bytes), latency, err == nil)
		c.observer.ObserveDiscard(uint64(bytes), latency, err == nil)
		if complete != nil {
			complete(req, err)
		}
	}
}

// lineSpan returns how many cache-line-sized units [addr, addr+bytes)
// spans, the arithmetic behind req.CoreLineCount (the "oversized" check
// compares this to cache.Cachelines before any line mapping has been
// looked up).
func lineSpan(addr uint64, bytes uint32) uint32 {
	if bytes == 0 {
		return 0
	}
	first := addr / collab.DefaultLineSize
	last := (addr + uint64(bytes) - 1) / collab.DefaultLineSize
	return uint32(last - first + 1)
}

// Observer's method set matches internal/interfaces.Observer exactly, so
// a cfg.Observer value satisfies it without any adapter type.
var _ interfaces.Observer = Observer(nil)
