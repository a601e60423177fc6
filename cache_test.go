package cachecore_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachecore/cachecore"
	"github.com/cachecore/cachecore/backend"
	"github.com/cachecore/cachecore/internal/request"
)

func newTestCache(t *testing.T, cfg cachecore.Config) *cachecore.Cache {
	t.Helper()
	cache := backend.NewMemory(1 << 20)
	core := backend.NewMemory(1 << 20)
	engine, err := cachecore.New(cfg, cache, core)
	require.NoError(t, err)
	engine.Start()
	t.Cleanup(engine.Stop)
	return engine
}

func TestNew_AssignsStableIdentity(t *testing.T) {
	engine := newTestCache(t, cachecore.DefaultConfig())
	assert.NotEqual(t, engine.ID.String(), "")
}

func TestSubmit_WriteThenReadRoundTrips(t *testing.T) {
	engine := newTestCache(t, cachecore.DefaultConfig())

	writeDone := make(chan error, 1)
	err := engine.Submit(0, 4096, request.Write, 0, false, func(_ *request.Request, err error) {
		writeDone <- err
	})
	require.NoError(t, err)

	select {
	case err := <-writeDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for write completion")
	}

	readDone := make(chan error, 1)
	err = engine.Submit(0, 4096, request.Read, 0, false, func(_ *request.Request, err error) {
		readDone <- err
	})
	require.NoError(t, err)

	select {
	case err := <-readDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for read completion")
	}
}

func TestSubmit_ForcePTRoutesThroughPassThroughEngine(t *testing.T) {
	engine := newTestCache(t, cachecore.DefaultConfig())

	var resolvedMode request.CacheMode
	done := make(chan error, 1)
	err := engine.Submit(0, 4096, request.Read, 0, true, func(req *request.Request, err error) {
		resolvedMode = req.CacheMode
		done <- err
	})
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completion")
	}

	assert.Equal(t, request.ModePT, resolvedMode)
}

func TestSubmit_UnalignedAddressStillCompletes(t *testing.T) {
	cfg := cachecore.DefaultConfig()
	cfg.PTUnalignedIO = true
	engine := newTestCache(t, cfg)

	done := make(chan error, 1)
	err := engine.Submit(100, 4096, request.Read, 0, false, func(_ *request.Request, err error) {
		done <- err
	})
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err, "an unaligned request forced to pt must still complete normally")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completion")
	}
}

func TestSubmit_PartitionLookupSelectsConfiguredMode(t *testing.T) {
	cfg := cachecore.DefaultConfig()
	cfg.Partitions = cachecore.PartitionTable{7: request.ModePT}
	engine := newTestCache(t, cfg)

	var resolvedMode request.CacheMode
	done := make(chan error, 1)
	err := engine.Submit(0, 4096, request.Read, 7, false, func(req *request.Request, err error) {
		resolvedMode = req.CacheMode
		done <- err
	})
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completion")
	}

	assert.Equal(t, request.ModePT, resolvedMode)
}

func TestSubmit_StreamThresholdTriggersSeqCutoffToPT(t *testing.T) {
	cfg := cachecore.DefaultConfig()
	cfg.StreamThreshold = 2
	engine := newTestCache(t, cfg)

	const reqBytes = 4096
	for i := uint64(0); i < 2; i++ {
		done := make(chan error, 1)
		err := engine.Submit(i*reqBytes, reqBytes, request.Read, 0, false, func(_ *request.Request, err error) {
			done <- err
		})
		require.NoError(t, err)
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for completion")
		}
	}

	// With StreamThreshold = 2 the run already reaches the threshold on
	// the second read; the third contiguous read in this partition is
	// still part of that run and must be diverted to pt (§4.1 rule 4),
	// confirming the resolver's
	// SequentialDetector is actually wired into Cache via
	// Config.StreamThreshold rather than permanently disabled.
	var resolvedMode request.CacheMode
	var seqCutoff bool
	done := make(chan error, 1)
	err := engine.Submit(2*reqBytes, reqBytes, request.Read, 0, false, func(req *request.Request, err error) {
		resolvedMode = req.CacheMode
		seqCutoff = req.SeqCutoff
		done <- err
	})
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completion")
	}

	assert.Equal(t, request.ModePT, resolvedMode)
	assert.True(t, seqCutoff)
}

func TestSubmitFlush_Completes(t *testing.T) {
	engine := newTestCache(t, cachecore.DefaultConfig())

	done := make(chan error, 1)
	err := engine.SubmitFlush(func(_ *request.Request, err error) { done <- err })
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for flush completion")
	}
}

func TestSubmitDiscard_Completes(t *testing.T) {
	engine := newTestCache(t, cachecore.DefaultConfig())

	done := make(chan error, 1)
	err := engine.SubmitDiscard(0, 4096, func(_ *request.Request, err error) { done <- err })
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for discard completion")
	}
}

func TestRunParallel_InvokesFinishAfterEveryShard(t *testing.T) {
	engine := newTestCache(t, cachecore.DefaultConfig())

	var mu sync.Mutex
	var seen []uint32
	finishCh := make(chan error, 1)

	engine.RunParallel(4, nil,
		func(priv any, shardIndex, shardTotal uint32) int {
			mu.Lock()
			seen = append(seen, shardIndex)
			mu.Unlock()
			return 0
		},
		func(priv any, err error) { finishCh <- err },
	)

	select {
	case err := <-finishCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for RunParallel to finish")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 4)
}

func TestCoreIsBlocked_ReflectsCoreDeviceBusyState(t *testing.T) {
	cache := backend.NewMemory(1 << 20)
	core := backend.NewMemory(1 << 20)
	engine, err := cachecore.New(cachecore.DefaultConfig(), cache, core)
	require.NoError(t, err)
	engine.Start()
	t.Cleanup(engine.Stop)

	assert.False(t, engine.CoreIsBlocked())
	core.SetBlocked(true)
	assert.True(t, engine.CoreIsBlocked())
}

func TestIOIsBlocked_FallsThroughToCoreForPassThroughRequests(t *testing.T) {
	cache := backend.NewMemory(1 << 20)
	core := backend.NewMemory(1 << 20)
	engine, err := cachecore.New(cachecore.DefaultConfig(), cache, core)
	require.NoError(t, err)
	engine.Start()
	t.Cleanup(engine.Stop)

	req := &request.Request{CacheMode: request.ModePT}
	assert.False(t, engine.IOIsBlocked(req))

	core.SetBlocked(true)
	assert.True(t, engine.IOIsBlocked(req), "a pt-resolved request bypasses the cache device, so only the core device's busy state matters")

	core.SetBlocked(false)
	cache.SetBlocked(true)
	assert.False(t, engine.IOIsBlocked(req), "a pt-resolved request must not be blocked by the cache device's busy state")

	req.CacheMode = request.ModeWT
	assert.True(t, engine.IOIsBlocked(req), "a cache-resolved request is blocked when the cache device reports busy")
}

func TestMetrics_ReflectsCompletedIO(t *testing.T) {
	engine := newTestCache(t, cachecore.DefaultConfig())

	done := make(chan error, 1)
	err := engine.Submit(0, 4096, request.Write, 0, false, func(_ *request.Request, err error) { done <- err })
	require.NoError(t, err)
	require.NoError(t, <-done)

	snap := engine.Metrics().Snapshot()
	assert.GreaterOrEqual(t, snap.WriteOps, uint64(1))
}
