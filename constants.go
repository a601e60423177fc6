package cachecore

import "github.com/cachecore/cachecore/internal/constants"

// Re-export default tunables for the public API.
const (
	DefaultQueueDepth        = constants.DefaultQueueDepth
	DefaultCachelineSize     = constants.DefaultCachelineSize
	DefaultCachelines        = constants.DefaultCachelines
	DefaultFallbackThreshold = constants.DefaultFallbackThreshold
	DefaultStreamThreshold   = constants.DefaultStreamThreshold
	FallbackInactive         = constants.FallbackInactive
	DefaultPartition         = constants.DefaultPartition
	MaxPartitions            = constants.MaxPartitions
)
