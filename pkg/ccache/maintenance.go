package ccache

// maintenance.go implements the façade-level operations backing the CLI
// surface spec §6 describes as ambient to the engine: cleanup, clear,
// show-stats, zero-stats, evict-older-than/evict-namespace, and
// show-compression/recompress. None of these touch the hot Get() path;
// they are the same "slow path only" operations the teacher's
// pkg/metrics.go comment describes for logging, generalized here to
// maintenance rather than observability.

import (
	"context"
	"time"

	"github.com/Voskan/ccachego/internal/localstore"
	"github.com/Voskan/ccachego/pkg/core"
)

// Cleanup runs an on-demand LRU pass over the local store, evicting entries
// until both the configured max size and max file count are satisfied
// (spec's -c/--cleanup). It is a no-op beyond what Put already enforces
// inline, except that it runs immediately rather than waiting for the next
// write.
func (c *Cache) Cleanup() (evictedBytes int64, evictedCount int) {
	evictedBytes, evictedCount = c.store.CleanDir()
	c.cfg.metrics.observeLocalStoreBytes(c.store.SizeBytes())
	if evictedCount > 0 {
		_ = c.stats.Global().Update(func(s *core.StatsCounters) {
			s.Increment(core.StatCleanupsPerformed, 1)
		})
	}
	return evictedBytes, evictedCount
}

// Clear wipes every entry from the local store (spec's -C/--clear). Remote
// backends are untouched: clearing is a local-maintenance operation, not a
// cross-host one.
func (c *Cache) Clear() error {
	return c.store.WipeAll()
}

// ShowStats returns the aggregated counters the CLI's -s/--show-stats
// prints.
func (c *Cache) ShowStats() (core.StatsCounters, error) {
	return c.stats.Aggregate()
}

// ZeroStats resets every counter to zero (spec's -z/--zero-stats). The
// StatZeroTimestamp counter is set to the current time, the same
// "zeroed-at" marker ccache's own statslog records.
func (c *Cache) ZeroStats() error {
	if err := c.stats.ZeroAll(); err != nil {
		return err
	}
	return c.stats.Global().Update(func(s *core.StatsCounters) {
		s.Increment(core.StatZeroTimestamp, uint64(nowUnix()))
	})
}

var nowUnix = func() int64 { return time.Now().Unix() }

// Evict removes every local entry older than cutoff, or belonging to ns,
// or both (spec's --evict-older-than/--evict-namespace, which combine with
// OR semantics per spec §4.7: "remove entries older than max_age or
// belonging to namespace"). A zero cutoff disables the age filter; an
// empty ns disables the namespace filter. With both filters disabled, Evict
// removes nothing and returns zeros.
func (c *Cache) Evict(cutoff time.Time, ns string) (evictedBytes int64, evictedCount int, err error) {
	if cutoff.IsZero() && ns == "" {
		return 0, 0, nil
	}
	err = c.store.ForEachEntry(func(rel string, data []byte) error {
		info, statErr := c.store.StatEntry(rel)
		if statErr != nil {
			return nil
		}

		matchesAge := !cutoff.IsZero() && info.ModTime().Before(cutoff)
		matchesNS := false
		if ns != "" {
			header, _, derr := core.Deserialize(data)
			matchesNS = derr == nil && header.Namespace == ns
		}
		if !matchesAge && !matchesNS {
			return nil
		}

		if rerr := c.store.RemoveEntry(rel); rerr != nil {
			return rerr
		}
		evictedBytes += info.Size()
		evictedCount++
		return nil
	})
	return evictedBytes, evictedCount, err
}

// CompressionShardStats holds compression totals summed over every entry in
// the local store, for the CLI's -X/--show-compression. It carries no
// per-shard breakdown.
type CompressionShardStats struct {
	Entries         int
	CompressedCount int
	RawBytes        int64
	OnDiskBytes     int64
}

// ShowCompression walks every local entry and reports aggregate
// compressed-vs-uncompressed size, for spec's -X/--show-compression.
func (c *Cache) ShowCompression() (CompressionShardStats, error) {
	var out CompressionShardStats
	err := c.store.ForEachEntry(func(rel string, data []byte) error {
		header, payload, derr := core.Deserialize(data)
		if derr != nil {
			return nil
		}
		out.Entries++
		out.OnDiskBytes += int64(len(data))
		out.RawBytes += int64(len(payload))
		if header.CompressionType == core.CompressionZstd {
			out.CompressedCount++
		}
		return nil
	})
	return out, err
}

// Recompress re-encodes every local entry at the given zstd level using a
// bounded worker pool (spec's `-o compression_level=N -X recompress`).
func (c *Cache) Recompress(ctx context.Context, level int8, workers int) (recompressed int, skipped int) {
	pool := localstore.NewRecompressWorkerPool(c.store, workers, level, c.log)
	return pool.Run(ctx)
}

// RecordBailout increments the counter matching one of the EXEC_UNCACHED
// bail-out reasons the orchestrator's ARGS_PARSED state names (spec §4.11).
// Every bail-out is still a call; unrecognized reasons fall back to
// bad_compiler_arguments, the catch-all ccache itself uses for a call its
// argument parser rejects outright.
func (c *Cache) RecordBailout(reason string) {
	ord := core.StatBadCompilerArguments
	switch reason {
	case "called_for_link", "output_to_devnull":
		ord = core.StatBadCompilerArguments
	case "could_not_find_compiler":
		ord = core.StatCouldNotFindCompiler
	}
	_ = c.stats.Global().Update(func(s *core.StatsCounters) {
		s.Increment(ord, 1)
		s.Increment(core.StatCalls, 1)
	})
}

// SizeBytes and FileCount expose the local store's current total size in
// bytes and its entry count.
func (c *Cache) SizeBytes() int64 { return c.store.SizeBytes() }
func (c *Cache) FileCount() int   { return c.store.FileCount() }

// RemoteSummaries returns a redacted description of every configured remote
// backend, for diagnostic display.
func (c *Cache) RemoteSummaries() []string {
	out := make([]string, 0, len(c.remotes))
	for _, b := range c.remotes {
		out = append(out, b.String())
	}
	return out
}
