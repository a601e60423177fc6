package policy_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachecore/cachecore/internal/collab"
	"github.com/cachecore/cachecore/internal/errs"
	"github.com/cachecore/cachecore/internal/policy"
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

func newStand() (*policy.Stand, *memDevice) {
	core := newMemDevice(1 << 20)
	mc := collab.NewMemCollab(newMemDevice(1<<20), core)
	return &policy.Stand{Bucket: mc, Dirty: mc, Core: mc}, core
}

func waitComplete(t *testing.T) (chan error, request.CompleteFunc) {
	t.Helper()
	done := make(chan error, 1)
	return done, func(req *request.Request, err error) { done <- err }
}

func TestReadGeneric_ForwardsToCoreDevice(t *testing.T) {
	stand, _ := newStand()
	done, complete := waitComplete(t)

	req := request.New(0, 4096, request.Read, complete)
	stand.ReadGeneric(req)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completion")
	}
}

func TestWriteHandlers_ForwardAndCompleteOnCoreError(t *testing.T) {
	stand, core := newStand()
	core.failAll = true

	for _, h := range []request.Handler{stand.WriteWT, stand.WriteWB, stand.WriteWA, stand.WriteWI} {
		done, complete := waitComplete(t)
		req := request.New(0, 4096, request.Write, complete)
		h(req)

		var err error
		select {
		case err = <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for completion")
		}
		require.Error(t, err)
		assert.True(t, errs.Is(err, errs.CodeCoreIOError))
	}
}

func TestFlush_CompletesOnSuccessAndError(t *testing.T) {
	stand, core := newStand()

	done, complete := waitComplete(t)
	req := request.New(0, 0, request.Write, complete)
	stand.Flush(req)
	require.NoError(t, <-done)

	core.failAll = true
	done2, complete2 := waitComplete(t)
	req2 := request.New(0, 0, request.Write, complete2)
	stand.Flush(req2)
	require.Error(t, <-done2)
}

func TestDiscard_CompletesSynchronouslyEnoughToAwait(t *testing.T) {
	stand, _ := newStand()
	done, complete := waitComplete(t)
	req := request.New(0, 4096, request.Write, complete)
	stand.Discard(req)
	require.NoError(t, <-done)
}
