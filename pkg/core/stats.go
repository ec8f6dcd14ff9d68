package core

import "fmt"

// StatOrdinal enumerates the stable counter positions within a stats file
// (spec §3 "StatsCounters"). Line N of an on-disk stats file always
// corresponds to ordinal N, forever — new counters are appended, never
// inserted, so that old stats files remain readable.
type StatOrdinal int

const (
	StatZeroTimestamp StatOrdinal = iota
	StatCacheMiss
	StatCacheHit
	StatCalls
	StatDirectCacheMiss
	StatDirectCacheHit
	StatPreprocessedCacheMiss
	StatPreprocessedCacheHit
	StatCompileFailed
	StatCompilerProducedNoOutput
	StatCompilerProducedEmptyOutput
	StatPreprocessorError
	StatBadCompilerArguments
	StatCouldNotFindCompiler
	StatCouldNotUseModules
	StatCacheMissOutputMissing
	StatCleanupsPerformed
	StatFilesInCache
	StatCacheSizeKibibyte
	StatRemoteStorageError
	StatRemoteStorageTimeout
	StatRemoteStorageReadHit
	StatRemoteStorageReadMiss
	StatRemoteStorageWriteHit
	StatRemoteStorageWriteMiss

	// StatCount is the number of known ordinals. It must always be the last
	// constant in this block.
	StatCount
)

// StatsCounters is a fixed-length vector of u64 counters. Addition and
// equality are element-wise, matching spec §3.
type StatsCounters [StatCount]uint64

// Add returns the element-wise sum of c and other.
func (c StatsCounters) Add(other StatsCounters) StatsCounters {
	var out StatsCounters
	for i := range out {
		out[i] = c[i] + other[i]
	}
	return out
}

// Increment bumps a single counter by delta. delta is unsigned, so Increment
// never lowers a counter; normal call sites pass 1.
func (c *StatsCounters) Increment(ord StatOrdinal, delta uint64) {
	c[ord] += delta
}

// Get returns the current value of ord.
func (c StatsCounters) Get(ord StatOrdinal) uint64 {
	return c[ord]
}

var statNames = [StatCount]string{
	StatZeroTimestamp:               "stats_zeroed_timestamp",
	StatCacheMiss:                   "cache_miss",
	StatCacheHit:                    "cache_hit",
	StatCalls:                       "calls",
	StatDirectCacheMiss:             "direct_cache_miss",
	StatDirectCacheHit:              "direct_cache_hit",
	StatPreprocessedCacheMiss:       "preprocessed_cache_miss",
	StatPreprocessedCacheHit:        "preprocessed_cache_hit",
	StatCompileFailed:               "compile_failed",
	StatCompilerProducedNoOutput:    "compiler_produced_no_output",
	StatCompilerProducedEmptyOutput: "compiler_produced_empty_output",
	StatPreprocessorError:           "preprocessor_error",
	StatBadCompilerArguments:        "bad_compiler_arguments",
	StatCouldNotFindCompiler:        "could_not_find_compiler",
	StatCouldNotUseModules:          "could_not_use_modules",
	StatCacheMissOutputMissing:      "cache_miss_output_missing",
	StatCleanupsPerformed:           "cleanups_performed",
	StatFilesInCache:                "files_in_cache",
	StatCacheSizeKibibyte:           "cache_size_kibibyte",
	StatRemoteStorageError:          "remote_storage_error",
	StatRemoteStorageTimeout:        "remote_storage_timeout",
	StatRemoteStorageReadHit:        "remote_storage_read_hit",
	StatRemoteStorageReadMiss:       "remote_storage_read_miss",
	StatRemoteStorageWriteHit:       "remote_storage_write_hit",
	StatRemoteStorageWriteMiss:      "remote_storage_write_miss",
}

// String returns the stable snake_case counter name used in --show-stats
// output, matching ccache's own counter naming.
func (o StatOrdinal) String() string {
	if int(o) < 0 || int(o) >= len(statNames) || statNames[o] == "" {
		return fmt.Sprintf("counter_%d", int(o))
	}
	return statNames[o]
}
