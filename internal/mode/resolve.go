// Package mode implements the mode-resolution state machine: given a
// cache context, a core, and a fresh request, it decides exactly one
// cache mode from the closed enumeration, per spec.md §4.1.
package mode

import (
	"sync/atomic"

	"github.com/cachecore/cachecore/internal/collab"
	"github.com/cachecore/cachecore/internal/request"
)

// FallbackInactive is the sentinel threshold value meaning fallback-pt
// can never trigger (ocf_fallback_pt_is_on always false).
const FallbackInactive = -1

// AlignmentBytes is the pass-through alignment unit (4 KiB).
const AlignmentBytes = 4096

// Context holds the read-only-at-request-time configuration the
// resolver consults: fallback threshold/counter, unaligned-IO policy,
// cache geometry, and the partition→mode table.
type Context struct {
	FallbackThreshold    int32
	FallbackErrorCounter *atomic.Int32

	PTUnalignedIO bool
	Cachelines    uint32

	Partitions  map[uint32]request.CacheMode
	DefaultMode request.CacheMode
}

// FallbackPTIsOn reports whether accumulated core errors have crossed
// the fallback threshold, forcing all subsequent requests into pt.
func (c *Context) FallbackPTIsOn() bool {
	if c.FallbackErrorCounter.Load() < 0 {
		panic("cachecore: fallback error counter went negative")
	}
	return c.FallbackThreshold != FallbackInactive &&
		c.FallbackErrorCounter.Load() >= c.FallbackThreshold
}

// Core is the per-backing-device collaborator the resolver consults for
// sequential-cutoff detection.
type Core interface {
	// SeqCutoffCheck reports whether req should be redirected to pass
	// through because it is part of a long sequential stream.
	SeqCutoffCheck(req *request.Request) bool
}

func isAligned(addr uint64, bytes uint32) bool {
	return addr%AlignmentBytes == 0 && uint64(bytes)%AlignmentBytes == 0
}

// Resolve sets req.CacheMode to exactly one value of the closed
// enumeration, applying spec.md §4.1's rules in order. It always
// succeeds; no error is surfaced.
func Resolve(cache *Context, core Core, dirty collab.Traverser, req *request.Request) {
	if req.ForcePT {
		req.CacheMode = request.ModePT
		return
	}

	if cache.FallbackPTIsOn() {
		req.CacheMode = request.ModePT
		return
	}

	if cache.PTUnalignedIO && !isAligned(req.Addr, req.Bytes) {
		req.CacheMode = request.ModePT
		return
	}

	if req.CoreLineCount > cache.Cachelines {
		req.CacheMode = request.ModePT
		return
	}

	if core.SeqCutoffCheck(req) {
		req.CacheMode = request.ModePT
		req.SeqCutoff = true
		return
	}

	m, ok := cache.Partitions[req.PartID]
	if !ok || !m.Valid() {
		m = cache.DefaultMode
	}

	if req.RW == request.Write && m.HasLazyWrite() && dirty.SetDirtyOrFreeze(req) {
		m = request.ModeWT
	}

	req.CacheMode = m
}
