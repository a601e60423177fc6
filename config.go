package cachecore

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cachecore/cachecore/internal/constants"
	"github.com/cachecore/cachecore/internal/logging"
	"github.com/cachecore/cachecore/internal/request"
)

// PartitionTable maps a user partition ID to the cache mode requests in
// that partition resolve to, backing §4.1 rule 5's partition lookup
// (ocf_part_get_cache_mode).
type PartitionTable map[uint32]request.CacheMode

// partitionEntry is the wire shape of one PartitionTable row. The wire
// format itself is explicitly a Non-goal (spec.md §1: "the wire format
// of any CLI or RPC"); this is a caller convenience for assembling a
// Config from a config file, not a format this package owns or
// guarantees to evolve compatibly.
type partitionEntry struct {
	ID   uint32 `json:"id"`
	Mode string `json:"mode"`
}

// LoadPartitionTable reads a JSON array of {"id", "mode"} entries from r
// and returns the equivalent PartitionTable. Unknown mode names or
// duplicate partition IDs are rejected rather than silently resolved by
// DefaultMode, since a typo in a config file should fail loudly instead
// of quietly sending every request in that partition to DefaultMode.
func LoadPartitionTable(r io.Reader) (PartitionTable, error) {
	var entries []partitionEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("cachecore: decode partition table: %w", err)
	}

	table := make(PartitionTable, len(entries))
	for _, e := range entries {
		mode, ok := parsePartitionMode(e.Mode)
		if !ok {
			return nil, fmt.Errorf("cachecore: partition %d: unknown mode %q", e.ID, e.Mode)
		}
		if _, dup := table[e.ID]; dup {
			return nil, fmt.Errorf("cachecore: duplicate partition id %d", e.ID)
		}
		table[e.ID] = mode
	}
	return table, nil
}

// LoadPartitionTableFile opens path and delegates to LoadPartitionTable.
func LoadPartitionTableFile(path string) (PartitionTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cachecore: open partition table: %w", err)
	}
	defer f.Close()
	return LoadPartitionTable(f)
}

func parsePartitionMode(s string) (request.CacheMode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// Config bundles every read-only-at-request-time tunable the mode
// resolver and queue fabric consult, assembled once at Cache
// construction. Mirrors the teacher's DeviceParams/DefaultParams split
// in backend.go: a struct of knobs plus a DefaultConfig constructor
// filling in sane defaults, instead of a flags/env lookup scattered
// through the request path.
type Config struct {
	// QueueCount is the number of I/O queues (and worker goroutines) to
	// start. Requests round-robin across them by address.
	QueueCount int
	// QueueDepth is the channel capacity per queue priority level.
	QueueDepth int
	// CPUAffinity optionally pins queue worker i to CPUAffinity[i %
	// len(CPUAffinity)]. Empty means no pinning.
	CPUAffinity []int

	// Cachelines is the cache's total line capacity; requests mapping to
	// more lines than this are oversized and forced to pt (§4.1 rule 3).
	Cachelines uint32

	// PTUnalignedIO, when true, forces any request whose address or
	// length isn't 4 KiB-aligned to pt (§4.1 rule 2).
	PTUnalignedIO bool

	// FallbackPTThreshold is the accumulated core-error count at which
	// fallback-pt engages (§4.1 rule 1). FallbackInactive disables it;
	// New also treats zero as FallbackInactive.
	FallbackPTThreshold int32

	// StreamThreshold is the run length (in contiguous same-direction
	// requests per partition) at which the built-in sequential-cutoff
	// detector fires and forces a request to pt (§4.1 rule 4). Zero
	// disables sequential-cutoff detection, matching
	// mode.NewSequentialDetector's own zero-value semantics.
	StreamThreshold int

	// Partitions maps partition ID to cache mode; an unmapped or invalid
	// partition falls back to DefaultMode.
	Partitions PartitionTable
	// DefaultMode is the cache mode used when Partitions has no entry
	// for a request's partition.
	DefaultMode request.CacheMode

	// Logger receives structured diagnostics from the queue fabric and
	// dispatch layer. A nil Logger is replaced with logging.Default().
	Logger *logging.Logger

	// Observer receives metrics callbacks. A nil Observer is replaced
	// with NoOpObserver.
	Observer Observer
}

// DefaultConfig returns a single-queue, write-through cache configuration
// with fallback-pt disabled, matching the teacher's DefaultParams as the
// "works out of the box for a demo/test" baseline.
func DefaultConfig() Config {
	return Config{
		QueueCount:          1,
		QueueDepth:          constants.DefaultQueueDepth,
		Cachelines:          constants.DefaultCachelines,
		PTUnalignedIO:       false,
		FallbackPTThreshold: constants.FallbackInactive,
		StreamThreshold:     constants.DefaultStreamThreshold,
		Partitions:          PartitionTable{},
		DefaultMode:         request.ModeWT,
		Logger:              logging.Default(),
		Observer:            NoOpObserver{},
	}
}
