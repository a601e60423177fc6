// Package backend provides reference block-device implementations used
// by the cmd/cachecore-demo binary and by tests that need a real
// cache/core pair instead of a mock.
package backend

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cachecore/cachecore/internal/interfaces"
)

// ShardSize is the size of each memory shard (64KB)
// This provides good parallelism for 4K random I/O while keeping lock overhead reasonable.
// With 64KB shards, a 256MB device has 4096 shards.
const ShardSize = 64 * 1024

// Memory is a RAM-backed block device, usable as either the fast cache
// device or the slow core device in a reference cache instance. It uses
// sharded locking so concurrent shards/queues don't serialize on a
// single mutex. It optionally reports a runtime-busy state so callers
// can exercise Cache.IOIsBlocked/Cache.CoreIsBlocked without a real
// device-level backpressure signal.
type Memory struct {
	data    []byte
	size    int64
	shards  []sync.RWMutex
	blocked atomic.Bool
}

// NewMemory creates a new memory backend of the specified size in bytes.
func NewMemory(size int64) *Memory {
	numShards := (size + ShardSize - 1) / ShardSize
	return &Memory{
		data:   make([]byte, size),
		size:   size,
		shards: make([]sync.RWMutex, numShards),
	}
}

// NewMemoryForCachelines sizes a Memory backend in units of cache lines
// rather than an arbitrary byte count — the natural sizing for the fast
// cache device side of a cache/core pair, expressed in the same unit as
// Config.Cachelines so the backing storage and the resolver's oversized
// check (spec.md §4.1 rule 3) agree on capacity.
func NewMemoryForCachelines(cachelines uint32, lineSize uint32) *Memory {
	return NewMemory(int64(cachelines) * int64(lineSize))
}

// SetBlocked toggles the runtime-busy state IsBlocked reports, for
// exercising Cache.IOIsBlocked/Cache.CoreIsBlocked in tests and demos
// without a real device-level backpressure signal.
func (m *Memory) SetBlocked(blocked bool) {
	m.blocked.Store(blocked)
}

// IsBlocked implements interfaces.BusyChecker.
func (m *Memory) IsBlocked() bool {
	return m.blocked.Load()
}

// shardRange returns the range of shards that cover [off, off+len)
func (m *Memory) shardRange(off, length int64) (start, end int) {
	start = int(off / ShardSize)
	end = int((off + length - 1) / ShardSize)
	if end >= len(m.shards) {
		end = len(m.shards) - 1
	}
	return start, end
}

// ReadAt implements interfaces.BlockDevice.
func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	if off >= m.size {
		return 0, nil
	}

	// Calculate how much we can actually read
	available := m.size - off
	if int64(len(p)) > available {
		p = p[:available]
	}

	// Lock only the shards we need (for reads, use RLock)
	startShard, endShard := m.shardRange(off, int64(len(p)))
	for i := startShard; i <= endShard; i++ {
		m.shards[i].RLock()
	}

	n := copy(p, m.data[off:off+int64(len(p))])

	for i := startShard; i <= endShard; i++ {
		m.shards[i].RUnlock()
	}

	return n, nil
}

// WriteAt implements interfaces.BlockDevice.
func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	if off >= m.size {
		return 0, fmt.Errorf("write beyond end of device")
	}

	// Calculate how much we can actually write
	available := m.size - off
	if int64(len(p)) > available {
		p = p[:available]
	}

	// Lock only the shards we need
	startShard, endShard := m.shardRange(off, int64(len(p)))
	for i := startShard; i <= endShard; i++ {
		m.shards[i].Lock()
	}

	n := copy(m.data[off:off+int64(len(p))], p)

	for i := startShard; i <= endShard; i++ {
		m.shards[i].Unlock()
	}

	return n, nil
}

// Size implements interfaces.BlockDevice.
func (m *Memory) Size() int64 {
	return m.size
}

// Close implements interfaces.BlockDevice.
func (m *Memory) Close() error {
	// No need to lock all shards - just clear the data
	m.data = nil
	return nil
}

// Flush implements interfaces.BlockDevice.
func (m *Memory) Flush() error {
	// Memory backend doesn't need flushing
	return nil
}

// Discard implements interfaces.DiscardDevice.
func (m *Memory) Discard(offset, length int64) error {
	if offset >= m.size {
		return nil
	}

	end := offset + length
	if end > m.size {
		end = m.size
	}
	actualLen := end - offset

	// Lock only the shards we need
	startShard, endShard := m.shardRange(offset, actualLen)
	for i := startShard; i <= endShard; i++ {
		m.shards[i].Lock()
	}

	// Zero out the discarded region
	for i := offset; i < end; i++ {
		m.data[i] = 0
	}

	for i := startShard; i <= endShard; i++ {
		m.shards[i].Unlock()
	}

	return nil
}

// Stats returns simple diagnostic counters for the demo binary.
func (m *Memory) Stats() map[string]interface{} {
	return map[string]interface{}{
		"type":       "memory",
		"size":       m.size,
		"allocated":  len(m.data),
		"num_shards": len(m.shards),
		"shard_size": ShardSize,
	}
}

// Compile-time interface checks
var (
	_ interfaces.BlockDevice   = (*Memory)(nil)
	_ interfaces.DiscardDevice = (*Memory)(nil)
	_ interfaces.BusyChecker   = (*Memory)(nil)
)
