package mode

import (
	"sync"

	"github.com/cachecore/cachecore/internal/request"
)

// SequentialDetector is a reference Core implementation: it tracks the
// last address seen per partition and reports a cutoff once a run of
// contiguous same-direction requests reaches StreamThreshold. Real
// sequential-stream detection lives in the core device driver and is
// out of scope here (spec.md §1); this exists so Resolve is exercisable
// end to end without a caller having to stub the interface.
type SequentialDetector struct {
	// StreamThreshold is how many contiguous requests in a row trigger
	// the cutoff. Zero disables detection (SeqCutoffCheck always false).
	StreamThreshold int

	mu      sync.Mutex
	streams map[uint32]*streamState
}

type streamState struct {
	lastEnd uint64
	lastRW  request.Direction
	run     int
}

// NewSequentialDetector constructs a detector with the given run-length
// threshold.
func NewSequentialDetector(streamThreshold int) *SequentialDetector {
	return &SequentialDetector{
		StreamThreshold: streamThreshold,
		streams:         make(map[uint32]*streamState),
	}
}

// SeqCutoffCheck implements Core. It is stateful: calling it twice for
// the same request double-counts the run, so callers must invoke it
// exactly once per request, matching Resolve's own call discipline.
func (d *SequentialDetector) SeqCutoffCheck(req *request.Request) bool {
	if d.StreamThreshold <= 0 {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.streams[req.PartID]
	if !ok {
		s = &streamState{}
		d.streams[req.PartID] = s
	}

	contiguous := ok && s.lastRW == req.RW && s.lastEnd == req.Addr
	if contiguous {
		s.run++
	} else {
		s.run = 1
	}
	s.lastEnd = req.Addr + uint64(req.Bytes)
	s.lastRW = req.RW

	return s.run >= d.StreamThreshold
}

var _ Core = (*SequentialDetector)(nil)
