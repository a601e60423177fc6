package collab

import (
	"encoding/binary"
	"sync"

	"github.com/dchest/siphash"

	"github.com/cachecore/cachecore/internal/interfaces"
	"github.com/cachecore/cachecore/internal/queue"
	"github.com/cachecore/cachecore/internal/request"
)

// DefaultLineSize is the cache-line granularity (4 KiB), per the
// GLOSSARY's "Cache line" definition.
const DefaultLineSize = 4096

// numBuckets is the number of hash buckets protecting the reference
// metadata; a real metadata layer would size this with the cache, this
// reference implementation keeps it fixed for simplicity.
const numBuckets = 256

type lineMeta struct {
	mapped bool
	dirty  bool
	frozen bool
	partID uint32
}

// MemCollab is an in-memory reference implementation of LineLocker,
// HashBucketLocker, Traverser, and CoreForwarder, backed by two
// interfaces.BlockDevice instances (the fast cache device and the slow
// core device). It exists to make the dispatch/pass-through core
// testable end to end; it is not a production cache-line metadata or
// locking engine (those stay external, per spec.md §1).
type MemCollab struct {
	lineSize uint64
	cache    interfaces.BlockDevice
	core     interfaces.BlockDevice

	k0, k1 uint64

	mu    sync.Mutex
	lines map[uint64]*lineMeta

	lineLocksMu sync.Mutex
	lineLocks   map[uint64]*sync.RWMutex
	held        map[*request.Request][]uint64

	bucketLocks [numBuckets]sync.RWMutex
}

// NewMemCollab constructs a reference collaborator over the given fast
// cache device and slow core device.
func NewMemCollab(cache, core interfaces.BlockDevice) *MemCollab {
	return &MemCollab{
		lineSize:  DefaultLineSize,
		cache:     cache,
		core:      core,
		k0:        0x516d636f63616368, // "cachecore" derived, fixed for determinism
		k1:        0x652d6c696e65212f,
		lines:     make(map[uint64]*lineMeta),
		lineLocks: make(map[uint64]*sync.RWMutex),
		held:      make(map[*request.Request][]uint64),
	}
}

func (c *MemCollab) lineRange(req *request.Request) (first, count uint64) {
	first = req.Addr / c.lineSize
	last := (req.Addr + uint64(req.Bytes) - 1) / c.lineSize
	return first, last - first + 1
}

func (c *MemCollab) bucketIndex(line uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], line)
	h := siphash.Hash(c.k0, c.k1, buf[:])
	return h % numBuckets
}

// Hash is a no-op for this reference implementation: bucket assignment
// is a pure function of line index (bucketIndex), so there is no
// per-request mapping state to precompute. Kept as a distinct call to
// mirror ocf_req_hash's place in the call sequence.
func (c *MemCollab) Hash(req *request.Request) {}

func (c *MemCollab) lineMetaLocked(line uint64) *lineMeta {
	lm, ok := c.lines[line]
	if !ok {
		lm = &lineMeta{}
		c.lines[line] = lm
	}
	return lm
}

// Traverse populates req.Info from the current line mapping.
func (c *MemCollab) Traverse(req *request.Request) {
	first, count := c.lineRange(req)
	req.CoreLineCount = uint32(count)

	c.mu.Lock()
	defer c.mu.Unlock()

	var mapped, hit uint32
	dirtyAny := false
	for i := uint64(0); i < count; i++ {
		lm := c.lineMetaLocked(first + i)
		if lm.mapped {
			mapped++
			hit++
		}
		if lm.dirty {
			dirtyAny = true
		}
	}

	req.Info = request.Info{
		DirtyAny:    dirtyAny,
		HitNo:       hit,
		MappedCount: mapped,
	}
}

// IsDirtyAll reports whether every line the request maps to is dirty.
func (c *MemCollab) IsDirtyAll(req *request.Request) bool {
	first, count := c.lineRange(req)

	c.mu.Lock()
	defer c.mu.Unlock()

	if count == 0 {
		return false
	}
	for i := uint64(0); i < count; i++ {
		lm := c.lineMetaLocked(first + i)
		if !lm.mapped || !lm.dirty {
			return false
		}
	}
	return true
}

// NeedsRepart reports whether any mapped line belongs to a different
// partition than req resolved to.
func (c *MemCollab) NeedsRepart(req *request.Request) bool {
	first, count := c.lineRange(req)

	c.mu.Lock()
	defer c.mu.Unlock()

	for i := uint64(0); i < count; i++ {
		lm := c.lineMetaLocked(first + i)
		if lm.mapped && lm.partID != req.PartID {
			return true
		}
	}
	return false
}

// UserPartMove moves req's mapped lines into its resolved partition.
func (c *MemCollab) UserPartMove(req *request.Request) {
	first, count := c.lineRange(req)

	c.mu.Lock()
	defer c.mu.Unlock()

	for i := uint64(0); i < count; i++ {
		lm := c.lineMetaLocked(first + i)
		if lm.mapped {
			lm.partID = req.PartID
		}
	}
}

// SetDirtyOrFreeze marks req's lines dirty and mapped. It returns true
// (the escalate-to-write-through signal) only for lines a test has
// forced into the frozen state via ForceFreeze; any other case is
// treated as a successful, non-escalating mark, per spec.md §9's Open
// Question resolution.
func (c *MemCollab) SetDirtyOrFreeze(req *request.Request) (frozen bool) {
	first, count := c.lineRange(req)

	c.mu.Lock()
	defer c.mu.Unlock()

	for i := uint64(0); i < count; i++ {
		lm := c.lineMetaLocked(first + i)
		if lm.frozen {
			frozen = true
			continue
		}
		lm.mapped = true
		lm.dirty = true
		lm.partID = req.PartID
	}
	return frozen
}

// ForceFreeze puts the line covering addr into the frozen state, for
// exercising the lazy-write escalation path in tests.
func (c *MemCollab) ForceFreeze(addr uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	line := addr / c.lineSize
	lm := c.lineMetaLocked(line)
	lm.mapped = true
	lm.frozen = true
}

// MarkClean marks every line covering [addr, addr+bytes) as mapped and
// clean, for setting up hit-clean test fixtures.
func (c *MemCollab) MarkClean(addr uint64, bytes uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	first := addr / c.lineSize
	last := (addr + uint64(bytes) - 1) / c.lineSize
	for i := first; i <= last; i++ {
		lm := c.lineMetaLocked(i)
		lm.mapped = true
		lm.dirty = false
	}
}

// Clean writes req's dirty lines back to the core device, then invokes
// resume with the first write-back error encountered (nil on success).
// Runs on its own goroutine to exercise the suspend/resume path the
// clean submission path requires.
func (c *MemCollab) Clean(req *request.Request, resume func(err error)) {
	first, count := c.lineRange(req)
	buf := queue.GetBuffer(uint32(c.lineSize))

	go func() {
		defer queue.PutBuffer(buf)

		var firstErr error
		c.mu.Lock()
		for i := uint64(0); i < count; i++ {
			lm := c.lineMetaLocked(first + i)
			if !lm.dirty {
				continue
			}
			off := int64((first + i) * c.lineSize)
			if _, err := c.cache.ReadAt(buf, off); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if _, err := c.core.WriteAt(buf, off); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			lm.dirty = false
		}
		c.mu.Unlock()
		resume(firstErr)
	}()
}

// ForwardCoreIO submits req's I/O to the core device.
func (c *MemCollab) ForwardCoreIO(req *request.Request, complete func(err error)) {
	buf := queue.GetBuffer(req.Bytes)
	defer queue.PutBuffer(buf)

	var err error
	switch req.RW {
	case request.Read:
		_, err = c.core.ReadAt(buf, int64(req.Addr))
	case request.Write:
		_, err = c.core.WriteAt(buf, int64(req.Addr))
	}
	complete(err)
}

// --- LineLocker ---

func (c *MemCollab) lockFor(line uint64) *sync.RWMutex {
	c.lineLocksMu.Lock()
	defer c.lineLocksMu.Unlock()
	l, ok := c.lineLocks[line]
	if !ok {
		l = &sync.RWMutex{}
		c.lineLocks[line] = l
	}
	return l
}

// AsyncLockRead acquires read locks on every line req maps to. If any
// lock is contended it acquires them all on a background goroutine and
// invokes onResume when done, returning LockPending immediately.
func (c *MemCollab) AsyncLockRead(req *request.Request, onResume func(*request.Request)) (LockResult, error) {
	first, count := c.lineRange(req)
	lines := make([]uint64, count)
	for i := range lines {
		lines[i] = first + uint64(i)
	}

	allAcquired := true
	acquired := make([]uint64, 0, len(lines))
	for _, line := range lines {
		if c.lockFor(line).TryRLock() {
			acquired = append(acquired, line)
		} else {
			allAcquired = false
			break
		}
	}

	if allAcquired {
		c.lineLocksMu.Lock()
		c.held[req] = acquired
		c.lineLocksMu.Unlock()
		return LockAcquired, nil
	}

	// Release whatever we grabbed and fall back to a blocking acquire on
	// a background goroutine, then resume.
	for _, line := range acquired {
		c.lockFor(line).RUnlock()
	}

	go func() {
		held := make([]uint64, 0, len(lines))
		for _, line := range lines {
			c.lockFor(line).RLock()
			held = append(held, line)
		}
		c.lineLocksMu.Lock()
		c.held[req] = held
		c.lineLocksMu.Unlock()
		onResume(req)
	}()

	return LockPending, nil
}

// Unlock releases the read locks held for req. Idempotent: a second
// call with nothing held is a no-op.
func (c *MemCollab) Unlock(req *request.Request) {
	c.lineLocksMu.Lock()
	lines, ok := c.held[req]
	if ok {
		delete(c.held, req)
	}
	c.lineLocksMu.Unlock()
	if !ok {
		return
	}
	for _, line := range lines {
		c.lockFor(line).RUnlock()
	}
}

// --- HashBucketLocker ---

func (c *MemCollab) LockRD(req *request.Request) {
	first, count := c.lineRange(req)
	for i := uint64(0); i < count; i++ {
		c.bucketLocks[c.bucketIndex(first+i)].RLock()
	}
}

func (c *MemCollab) UnlockRD(req *request.Request) {
	first, count := c.lineRange(req)
	for i := uint64(0); i < count; i++ {
		c.bucketLocks[c.bucketIndex(first+i)].RUnlock()
	}
}

func (c *MemCollab) LockWR(req *request.Request) {
	first, count := c.lineRange(req)
	for i := uint64(0); i < count; i++ {
		c.bucketLocks[c.bucketIndex(first+i)].Lock()
	}
}

func (c *MemCollab) UnlockWR(req *request.Request) {
	first, count := c.lineRange(req)
	for i := uint64(0); i < count; i++ {
		c.bucketLocks[c.bucketIndex(first+i)].Unlock()
	}
}

var (
	_ LineLocker       = (*MemCollab)(nil)
	_ HashBucketLocker = (*MemCollab)(nil)
	_ Traverser        = (*MemCollab)(nil)
	_ CoreForwarder    = (*MemCollab)(nil)
)
