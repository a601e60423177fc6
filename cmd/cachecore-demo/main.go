// Command cachecore-demo wires an in-memory cache device and an
// in-memory core device through the dispatch/pass-through core, drives
// a small synthetic workload across them, and prints the resulting
// metrics snapshot. It exists to exercise the engine end to end without
// any real block device or kernel surface.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/cachecore/cachecore"
	"github.com/cachecore/cachecore/backend"
	"github.com/cachecore/cachecore/internal/collab"
	"github.com/cachecore/cachecore/internal/logging"
	"github.com/cachecore/cachecore/internal/request"
)

func main() {
	var (
		cacheSizeStr = pflag.String("cache-size", "16M", "Size of the fast cache device (e.g., 16M, 256M)")
		coreSizeStr  = pflag.String("core-size", "256M", "Size of the slow core device")
		queues       = pflag.Int("queues", 4, "Number of dispatch queues")
		ops          = pflag.Int("ops", 20000, "Number of synthetic requests to issue")
		writeRatio   = pflag.Float64("write-ratio", 0.3, "Fraction of requests that are writes")
		mode         = pflag.String("mode", "wt", "Default cache mode: wt, wb, wa, wi, wo, pt, fast")
		verbose      = pflag.Bool("v", false, "Verbose logging")
	)
	pflag.Parse()

	cacheSize, err := parseSize(*cacheSizeStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -cache-size: %v\n", err)
		os.Exit(1)
	}
	coreSize, err := parseSize(*coreSizeStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -core-size: %v\n", err)
		os.Exit(1)
	}
	defaultMode, ok := parseMode(*mode)
	if !ok {
		fmt.Fprintf(os.Stderr, "invalid -mode: %q\n", *mode)
		os.Exit(1)
	}

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	// Size the fast cache device in cache lines, not an arbitrary byte
	// count, so its actual capacity matches cfg.Cachelines (and thus the
	// oversized check in §4.1 rule 3) instead of the two silently
	// drifting apart.
	cachelines := uint32(cacheSize / collab.DefaultLineSize)
	cacheDevice := backend.NewMemoryForCachelines(cachelines, collab.DefaultLineSize)
	coreDevice := backend.NewMemory(coreSize)
	defer cacheDevice.Close()
	defer coreDevice.Close()

	cfg := cachecore.DefaultConfig()
	cfg.QueueCount = *queues
	cfg.Cachelines = cachelines
	cfg.DefaultMode = defaultMode
	cfg.Logger = logger

	engine, err := cachecore.New(cfg, cacheDevice, coreDevice)
	if err != nil {
		logger.Error("failed to construct cache", "error", err)
		os.Exit(1)
	}
	engine.Start()
	defer engine.Stop()

	logger.Info("cache instance started", "id", engine.ID.String(), "queues", *queues, "mode", defaultMode.Name())

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	runWorkload(ctx, engine, *ops, *writeRatio, coreSize)

	snap := engine.Metrics().Snapshot()
	fmt.Printf("\n--- cachecore-demo summary ---\n")
	fmt.Printf("reads:  %d ops, %d errors\n", snap.ReadOps, snap.ReadErrors)
	fmt.Printf("writes: %d ops, %d errors\n", snap.WriteOps, snap.WriteErrors)
	fmt.Printf("avg latency: %d ns, p50: %d ns, p99: %d ns\n", snap.AvgLatencyNs, snap.LatencyP50Ns, snap.LatencyP99Ns)
	fmt.Printf("core error counter (fallback-pt signal): %d\n", snap.CoreErrorCount)
}

func runWorkload(ctx context.Context, engine *cachecore.Cache, ops int, writeRatio float64, deviceSize int64) {
	const maxIOBytes = 4096
	var wg sync.WaitGroup
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < ops; i++ {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		default:
		}

		addr := uint64(rng.Int63n(deviceSize/maxIOBytes)) * maxIOBytes
		rw := request.Read
		if rng.Float64() < writeRatio {
			rw = request.Write
		}

		wg.Add(1)
		err := engine.Submit(addr, maxIOBytes, rw, 0, false, func(req *request.Request, err error) {
			defer wg.Done()
			if err != nil && !cachecore.IsCode(err, cachecore.CodeCoreIOError) {
				fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
			}
		})
		if err != nil {
			wg.Done()
			fmt.Fprintf(os.Stderr, "submit failed: %v\n", err)
		}
	}
	wg.Wait()
}

func parseMode(s string) (request.CacheMode, bool) {
	switch strings.ToLower(s) {
	case "wt":
		return request.ModeWT, true
	case "wb":
		return request.ModeWB, true
	case "wa":
		return request.ModeWA, true
	case "wi":
		return request.ModeWI, true
	case "wo":
		return request.ModeWO, true
	case "pt":
		return request.ModePT, true
	case "fast":
		return request.ModeFast, true
	default:
		return request.ModeUnset, false
	}
}

// parseSize parses a size string like "64M", "1G", "512K".
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(s)

	var multiplier int64 = 1
	var numStr string

	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "G")
	default:
		numStr = s
	}

	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, err
	}
	return num * multiplier, nil
}
