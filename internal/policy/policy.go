// Package policy provides minimal external-contract stand-ins for the
// ten non-pass-through handlers the dispatch table needs to be total:
// read_generic and the per-mode write handlers (write_wt/wb/wa/wi), plus
// read_wo/write_fast/read_fast/flush/discard. These are NOT the real
// cache policy engines — those own eviction, promotion, and write-back
// scheduling, and stay external per this core's scope. They exist so
// the dispatch table has something registered in every cell and the
// dispatcher is exercisable end to end in tests and the demo binary.
package policy

import (
	"github.com/cachecore/cachecore/internal/collab"
	"github.com/cachecore/cachecore/internal/errs"
	"github.com/cachecore/cachecore/internal/request"
)

// Stats mirrors passthrough.Stats so policy handlers can feed the same
// per-partition counters and fallback-pt error signal.
type Stats interface {
	ObservePT(partID uint32, rw string, success bool)
	ObserveCoreError(partID uint32, rw string)
}

// Stand bundles the external collaborators every stand-in handler needs.
type Stand struct {
	Bucket collab.HashBucketLocker
	Dirty  collab.Traverser
	Core   collab.CoreForwarder
	Stats  Stats
}

func (s *Stand) completeThroughCore(req *request.Request) int {
	s.Bucket.LockRD(req)
	s.Dirty.Hash(req)
	s.Dirty.Traverse(req)
	s.Bucket.UnlockRD(req)

	s.Core.ForwardCoreIO(req, func(err error) {
		success := err == nil
		if s.Stats != nil {
			s.Stats.ObservePT(req.PartID, req.RW.String(), success)
			if !success {
				s.Stats.ObserveCoreError(req.PartID, req.RW.String())
			}
		}
		var completeErr error
		if !success {
			completeErr = errs.Wrap("policy", errs.CodeCoreIOError, err)
		}
		req.Complete(completeErr)
		req.Put()
	})
	return 0
}

// ReadGeneric serves a read by forwarding straight to the core device.
// The real write-through read path would first check cache lines and
// only fall through on miss; this stand-in always falls through, which
// is correct but not efficient — acceptable since efficiency of the
// external read path is out of scope here.
func (s *Stand) ReadGeneric(req *request.Request) int {
	return s.completeThroughCore(req)
}

// WriteWT, WriteWB, WriteWA, WriteWI all forward the write to the core
// device. A real write-back/write-around policy would defer or skip the
// cache differently per mode; this core only needs the handler slot
// filled and the request completed correctly.
func (s *Stand) WriteWT(req *request.Request) int { return s.completeThroughCore(req) }
func (s *Stand) WriteWB(req *request.Request) int { return s.completeThroughCore(req) }
func (s *Stand) WriteWA(req *request.Request) int { return s.completeThroughCore(req) }
func (s *Stand) WriteWI(req *request.Request) int { return s.completeThroughCore(req) }

// ReadWO and WriteFast/ReadFast are the wo/fast interface handlers.
func (s *Stand) ReadWO(req *request.Request) int     { return s.completeThroughCore(req) }
func (s *Stand) WriteFast(req *request.Request) int  { return s.completeThroughCore(req) }
func (s *Stand) ReadFast(req *request.Request) int   { return s.completeThroughCore(req) }

// Flush forwards a flush/sync to the core device and completes.
func (s *Stand) Flush(req *request.Request) int {
	s.Core.ForwardCoreIO(req, func(err error) {
		var completeErr error
		if err != nil {
			completeErr = errs.Wrap("flush", errs.CodeCoreIOError, err)
		}
		req.Complete(completeErr)
		req.Put()
	})
	return 0
}

// Discard forwards a discard/trim to the core device and completes
// synchronously (discard never waits for line locks, per the dispatcher
// entry point contract).
func (s *Stand) Discard(req *request.Request) int {
	s.Core.ForwardCoreIO(req, func(err error) {
		var completeErr error
		if err != nil {
			completeErr = errs.Wrap("discard", errs.CodeCoreIOError, err)
		}
		req.Complete(completeErr)
		req.Put()
	})
	return 0
}
