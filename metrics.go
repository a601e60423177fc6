package cachecore

import (
	"sync"
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds.
// Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// PartitionStats holds the per-partition pass-through/block counters
// spec.md §4.3 calls for ("block and pt-specific counters keyed by
// partition and direction").
type PartitionStats struct {
	ReadOps, WriteOps             atomic.Uint64
	ReadErrors, WriteErrors        atomic.Uint64
}

// Metrics tracks performance and operational statistics for a cache
// instance: global I/O counters and latency histogram (ambient, in the
// teacher's style), plus the per-partition pass-through counters and the
// fallback-pt error counter the mode resolver consults.
type Metrics struct {
	// I/O operation counters
	ReadOps    atomic.Uint64
	WriteOps   atomic.Uint64
	DiscardOps atomic.Uint64
	FlushOps   atomic.Uint64

	// Byte counters
	ReadBytes    atomic.Uint64
	WriteBytes   atomic.Uint64
	DiscardBytes atomic.Uint64

	// Error counters
	ReadErrors    atomic.Uint64
	WriteErrors   atomic.Uint64
	DiscardErrors atomic.Uint64
	FlushErrors   atomic.Uint64

	// Queue statistics
	QueueDepthTotal atomic.Uint64
	QueueDepthCount atomic.Uint64
	MaxQueueDepth   atomic.Uint32

	// Performance tracking
	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// LockWaitNs accumulates time spent waiting on async line locks.
	LockWaitNs   atomic.Uint64
	LockWaitOps  atomic.Uint64

	// CoreErrorCounter is the fallback-pt error counter the mode
	// resolver (internal/mode.Context.FallbackErrorCounter) consults.
	// Every core-device I/O error on a read or write (pass-through engine
	// and policy stand-ins) increments it; flush and discard errors do
	// not. Nothing currently
	// decrements it, matching the "storms of cache-device errors" model
	// spec.md §4.1 describes — the reference implementation does not
	// specify a decay policy.
	CoreErrorCounter atomic.Int32

	partMu   sync.Mutex
	partitions map[uint32]*PartitionStats

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{partitions: make(map[uint32]*PartitionStats)}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

func (m *Metrics) partition(partID uint32) *PartitionStats {
	m.partMu.Lock()
	defer m.partMu.Unlock()
	p, ok := m.partitions[partID]
	if !ok {
		p = &PartitionStats{}
		m.partitions[partID] = p
	}
	return p
}

// RecordRead records a read operation.
func (m *Metrics) RecordRead(bytes uint64, latencyNs uint64, success bool) {
	m.ReadOps.Add(1)
	if success {
		m.ReadBytes.Add(bytes)
	} else {
		m.ReadErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordWrite records a write operation.
func (m *Metrics) RecordWrite(bytes uint64, latencyNs uint64, success bool) {
	m.WriteOps.Add(1)
	if success {
		m.WriteBytes.Add(bytes)
	} else {
		m.WriteErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordDiscard records a discard operation.
func (m *Metrics) RecordDiscard(bytes uint64, latencyNs uint64, success bool) {
	m.DiscardOps.Add(1)
	if success {
		m.DiscardBytes.Add(bytes)
	} else {
		m.DiscardErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordFlush records a flush operation.
func (m *Metrics) RecordFlush(latencyNs uint64, success bool) {
	m.FlushOps.Add(1)
	if !success {
		m.FlushErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordQueueDepth records current queue depth for statistics.
func (m *Metrics) RecordQueueDepth(depth uint32) {
	m.QueueDepthTotal.Add(uint64(depth))
	m.QueueDepthCount.Add(1)

	for {
		current := m.MaxQueueDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxQueueDepth.CompareAndSwap(current, depth) {
			break
		}
	}
}

// RecordLockWait records time spent waiting on an async line lock.
func (m *Metrics) RecordLockWait(latencyNs uint64) {
	m.LockWaitNs.Add(latencyNs)
	m.LockWaitOps.Add(1)
}

// RecordPT records one pass-through completion for a partition.
func (m *Metrics) RecordPT(partID uint32, rw string, success bool) {
	p := m.partition(partID)
	var ops, errs *atomic.Uint64
	if rw == "write" {
		ops, errs = &p.WriteOps, &p.WriteErrors
	} else {
		ops, errs = &p.ReadOps, &p.ReadErrors
	}
	ops.Add(1)
	if !success {
		errs.Add(1)
	}
}

// RecordCoreError increments the fallback-pt error counter.
func (m *Metrics) RecordCoreError(partID uint32, rw string) {
	m.CoreErrorCounter.Add(1)
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the instance as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of Metrics.
type MetricsSnapshot struct {
	ReadOps    uint64
	WriteOps   uint64
	DiscardOps uint64
	FlushOps   uint64

	ReadBytes    uint64
	WriteBytes   uint64
	DiscardBytes uint64

	ReadErrors    uint64
	WriteErrors   uint64
	DiscardErrors uint64
	FlushErrors   uint64

	AvgQueueDepth float64
	MaxQueueDepth uint32

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	ReadIOPS       float64
	WriteIOPS      float64
	ReadBandwidth  float64
	WriteBandwidth float64
	TotalOps       uint64
	TotalBytes     uint64
	ErrorRate      float64

	CoreErrorCount int32
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		ReadOps:        m.ReadOps.Load(),
		WriteOps:       m.WriteOps.Load(),
		DiscardOps:     m.DiscardOps.Load(),
		FlushOps:       m.FlushOps.Load(),
		ReadBytes:      m.ReadBytes.Load(),
		WriteBytes:     m.WriteBytes.Load(),
		DiscardBytes:   m.DiscardBytes.Load(),
		ReadErrors:     m.ReadErrors.Load(),
		WriteErrors:    m.WriteErrors.Load(),
		DiscardErrors:  m.DiscardErrors.Load(),
		FlushErrors:    m.FlushErrors.Load(),
		MaxQueueDepth:  m.MaxQueueDepth.Load(),
		CoreErrorCount: m.CoreErrorCounter.Load(),
	}

	snap.TotalOps = snap.ReadOps + snap.WriteOps + snap.DiscardOps + snap.FlushOps
	snap.TotalBytes = snap.ReadBytes + snap.WriteBytes + snap.DiscardBytes

	if c := m.QueueDepthCount.Load(); c > 0 {
		snap.AvgQueueDepth = float64(m.QueueDepthTotal.Load()) / float64(c)
	}

	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = m.TotalLatencyNs.Load() / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.ReadIOPS = float64(snap.ReadOps) / uptimeSeconds
		snap.WriteIOPS = float64(snap.WriteOps) / uptimeSeconds
		snap.ReadBandwidth = float64(snap.ReadBytes) / uptimeSeconds
		snap.WriteBandwidth = float64(snap.WriteBytes) / uptimeSeconds
	}

	totalErrors := snap.ReadErrors + snap.WriteErrors + snap.DiscardErrors + snap.FlushErrors
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Observer is the pluggable metrics-collection interface, matching
// internal/interfaces.Observer so a *Metrics-backed observer can be
// handed to any internal package without an import cycle.
type Observer interface {
	ObserveRead(bytes uint64, latencyNs uint64, success bool)
	ObserveWrite(bytes uint64, latencyNs uint64, success bool)
	ObserveDiscard(bytes uint64, latencyNs uint64, success bool)
	ObserveFlush(latencyNs uint64, success bool)
	ObserveQueueDepth(depth uint32)
	ObserveCoreError(partID uint32, rw string)
	ObserveLockWait(latencyNs uint64)
}

// NoOpObserver is a no-op implementation of Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveRead(uint64, uint64, bool)    {}
func (NoOpObserver) ObserveWrite(uint64, uint64, bool)   {}
func (NoOpObserver) ObserveDiscard(uint64, uint64, bool) {}
func (NoOpObserver) ObserveFlush(uint64, bool)           {}
func (NoOpObserver) ObserveQueueDepth(uint32)            {}
func (NoOpObserver) ObserveCoreError(uint32, string)     {}
func (NoOpObserver) ObserveLockWait(uint64)              {}

// MetricsObserver implements Observer using the built-in Metrics, and
// additionally implements passthrough.Stats/policy.Stats via ObservePT.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveRead(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordRead(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveWrite(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordWrite(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveDiscard(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordDiscard(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveFlush(latencyNs uint64, success bool) {
	o.metrics.RecordFlush(latencyNs, success)
}

func (o *MetricsObserver) ObserveQueueDepth(depth uint32) {
	o.metrics.RecordQueueDepth(depth)
}

func (o *MetricsObserver) ObserveCoreError(partID uint32, rw string) {
	o.metrics.RecordCoreError(partID, rw)
}

func (o *MetricsObserver) ObserveLockWait(latencyNs uint64) {
	o.metrics.RecordLockWait(latencyNs)
}

// ObservePT records one pass-through completion, satisfying both
// internal/passthrough.Stats and internal/policy.Stats.
func (o *MetricsObserver) ObservePT(partID uint32, rw string, success bool) {
	o.metrics.RecordPT(partID, rw, success)
}

var (
	_ Observer = (*MetricsObserver)(nil)
	_ Observer = (*NoOpObserver)(nil)
)
