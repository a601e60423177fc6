// Package constants holds default tunables shared across the cachecore
// packages, re-exported from the root package the way the teacher
// re-exports its own internal/constants.
package constants

// DefaultQueueDepth is the default per-queue FIFO buffer depth.
const DefaultQueueDepth = 128

// DefaultCachelineSize is the cache-line granularity in bytes (4 KiB),
// matching the pass-through alignment unit.
const DefaultCachelineSize = 4096

// DefaultCachelines is the default number of cache lines a reference
// cache instance is sized for.
const DefaultCachelines = 1 << 16

// DefaultFallbackThreshold is a suggested fallback-pt threshold: the
// accumulated (not consecutive) core-error count at which
// fallback-pass-through engages once a caller sets it as
// Config.FallbackPTThreshold. DefaultConfig does not use it and leaves
// fallback-pt disabled.
const DefaultFallbackThreshold = 100

// FallbackInactive is the sentinel fallback threshold meaning
// fallback-pt can never trigger.
const FallbackInactive = -1

// DefaultPartition is the partition ID used when a request carries no
// explicit partition assignment.
const DefaultPartition = 0

// MaxPartitions bounds the size of the partition table.
const MaxPartitions = 32768

// DefaultStreamThreshold is the default sequential-cutoff run length.
// Zero disables detection, matching mode.SequentialDetector's own
// zero-value semantics, so a Cache is sequential-cutoff-free unless a
// caller opts in via Config.StreamThreshold.
const DefaultStreamThreshold = 0
