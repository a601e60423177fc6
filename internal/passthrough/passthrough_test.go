package passthrough_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachecore/cachecore/internal/collab"
	"github.com/cachecore/cachecore/internal/errs"
	"github.com/cachecore/cachecore/internal/interfaces"
	"github.com/cachecore/cachecore/internal/passthrough"
	"github.com/cachecore/cachecore/internal/queue"
	"github.com/cachecore/cachecore/internal/request"
)

type memDevice struct {
	mu      sync.Mutex
	data    []byte
	failAll bool
}

func newMemDevice(size int64) *memDevice { return &memDevice{data: make([]byte, size)} }

func (d *memDevice) ReadAt(p []byte, off int64) (int, error) {
	if d.failAll {
		return 0, errors.New("device offline")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return copy(p, d.data[off:]), nil
}

func (d *memDevice) WriteAt(p []byte, off int64) (int, error) {
	if d.failAll {
		return 0, errors.New("device offline")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return copy(d.data[off:], p), nil
}

func (d *memDevice) Size() int64  { return int64(len(d.data)) }
func (d *memDevice) Close() error { return nil }
func (d *memDevice) Flush() error { return nil }

var _ interfaces.BlockDevice = (*memDevice)(nil)

type fakeStats struct {
	mu         sync.Mutex
	observed   int
	coreErrors int
}

func (s *fakeStats) ObservePT(partID uint32, rw string, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observed++
}

func (s *fakeStats) ObserveCoreError(partID uint32, rw string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coreErrors++
}

func newEngine() (*passthrough.Engine, *collab.MemCollab, *memDevice, *memDevice) {
	cache := newMemDevice(1 << 20)
	core := newMemDevice(1 << 20)
	mc := collab.NewMemCollab(cache, core)
	e := &passthrough.Engine{
		Locker: mc,
		Bucket: mc,
		Dirty:  mc,
		Core:   mc,
		Stats:  &fakeStats{},
	}
	return e, mc, cache, core
}

func waitComplete(t *testing.T) (chan error, request.CompleteFunc) {
	t.Helper()
	done := make(chan error, 1)
	return done, func(req *request.Request, err error) { done <- err }
}

func TestReadPT_UnmappedGoesStraightToCore(t *testing.T) {
	e, _, _, _ := newEngine()
	done, complete := waitComplete(t)

	req := request.New(0, 4096, request.Read, complete)
	rc := e.ReadPT(req)
	assert.Equal(t, 0, rc)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completion")
	}
}

func TestReadPT_DirtyHitCleansThenSubmits(t *testing.T) {
	e, mc, cache, core := newEngine()

	payload := []byte("live-cache-bytes")
	_, err := cache.WriteAt(payload, 0)
	require.NoError(t, err)

	dirty := request.New(0, 4096, request.Write, nil)
	mc.SetDirtyOrFreeze(dirty)

	done, complete := waitComplete(t)
	req := request.New(0, 4096, request.Read, complete)
	e.ReadPT(req)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completion")
	}

	readBack := make([]byte, len(payload))
	_, err = core.ReadAt(readBack, 0)
	require.NoError(t, err)
	assert.Equal(t, payload, readBack, "a dirty hit must write back to the core device before completing")
}

func TestReadPT_CleanFailurePropagatesAsCleanErrorNotCoreError(t *testing.T) {
	e, mc, cache, _ := newEngine()
	cache.failAll = true

	dirty := request.New(0, 4096, request.Write, nil)
	mc.SetDirtyOrFreeze(dirty)

	done, complete := waitComplete(t)
	req := request.New(0, 4096, request.Read, complete)
	e.ReadPT(req)

	var err error
	select {
	case err = <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completion")
	}

	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CodeCleanError))
	assert.False(t, errs.Is(err, errs.CodeCoreIOError))

	stats := e.Stats.(*fakeStats)
	stats.mu.Lock()
	defer stats.mu.Unlock()
	assert.Equal(t, 0, stats.coreErrors, "a cache-side clean failure must not feed the core-error counter")
}

func TestReadPT_CoreIOErrorIsReported(t *testing.T) {
	e, _, _, core := newEngine()
	core.failAll = true

	done, complete := waitComplete(t)
	req := request.New(0, 4096, request.Read, complete)
	e.ReadPT(req)

	var err error
	select {
	case err = <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completion")
	}

	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CodeCoreIOError))

	stats := e.Stats.(*fakeStats)
	stats.mu.Lock()
	defer stats.mu.Unlock()
	assert.Equal(t, 1, stats.coreErrors)
}

func TestReadPT_SeqCutoffDirtyHitDivertsToReadGeneric(t *testing.T) {
	e, mc, _, _ := newEngine()
	dirty := request.New(0, 4096, request.Write, nil)
	mc.SetDirtyOrFreeze(dirty)

	var divertedMode request.CacheMode
	var divertedCutoff bool
	e.ReadGeneric = func(req *request.Request) int {
		divertedMode = req.CacheMode
		divertedCutoff = req.SeqCutoff
		req.Complete(nil)
		req.Put()
		return 0
	}

	done, complete := waitComplete(t)
	req := request.New(0, 4096, request.Read, complete)
	req.SeqCutoff = true
	req.ForcePT = false
	e.ReadPT(req)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completion")
	}

	assert.Equal(t, request.ModeUnset, divertedMode, "diversion must clear the resolved mode before handing off")
	assert.False(t, divertedCutoff, "diversion must clear the seq-cutoff flag before handing off")
}

func TestReadPT_SeqCutoffWithOnlyPartiallyDirtyHitDoesNotDivert(t *testing.T) {
	e, mc, cache, core := newEngine()

	// Dirty only the first of the two lines this request spans; the
	// second line is left unmapped/clean, so info.dirty_any is true but
	// info.dirty_all (IsDirtyAll) is false.
	payload := []byte("line-zero-bytes-live-in-cache--")
	_, err := cache.WriteAt(payload, 0)
	require.NoError(t, err)
	firstLine := request.New(0, 4096, request.Write, nil)
	mc.SetDirtyOrFreeze(firstLine)

	e.ReadGeneric = func(req *request.Request) int {
		t.Fatal("a partially-dirty hit must not divert to read_generic; only info.dirty_all triggers the diversion")
		return 0
	}

	done, complete := waitComplete(t)
	req := request.New(0, 8192, request.Read, complete)
	req.SeqCutoff = true
	req.ForcePT = false
	e.ReadPT(req)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completion")
	}

	readBack := make([]byte, len(payload))
	_, err = core.ReadAt(readBack, 0)
	require.NoError(t, err)
	assert.Equal(t, payload, readBack, "the dirty first line must still be cleaned to the core device before the read is served")
}

func TestReadPT_DirtyHitResumesThroughConfiguredQueue(t *testing.T) {
	e, mc, cache, core := newEngine()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := queue.New(ctx, queue.Config{ID: 0})
	q.Start()
	defer q.Stop()
	e.Queues = []*queue.Queue{q}

	payload := []byte("queue-routed-dirty-bytes")
	_, err := cache.WriteAt(payload, 0)
	require.NoError(t, err)

	dirty := request.New(0, 4096, request.Write, nil)
	mc.SetDirtyOrFreeze(dirty)

	done, complete := waitComplete(t)
	req := request.New(0, 4096, request.Read, complete)
	e.ReadPT(req)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completion")
	}

	readBack := make([]byte, len(payload))
	_, err = core.ReadAt(readBack, 0)
	require.NoError(t, err)
	assert.Equal(t, payload, readBack, "the post-clean resume must still reach submit when pushed through a started queue")
}

func TestReadPT_SeqCutoffWithForcePTSkipsDiversion(t *testing.T) {
	e, mc, _, _ := newEngine()
	dirty := request.New(0, 4096, request.Write, nil)
	mc.SetDirtyOrFreeze(dirty)
	e.ReadGeneric = func(req *request.Request) int {
		t.Fatal("force_pt must never divert to read_generic")
		return 0
	}

	done, complete := waitComplete(t)
	req := request.New(0, 4096, request.Read, complete)
	req.SeqCutoff = true
	req.ForcePT = true
	e.ReadPT(req)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completion")
	}
}
