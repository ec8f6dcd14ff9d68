// Command ccachego is the masquerade-dispatch CLI front end for the
// compiler-output cache engine (spec §6). It is deliberately thin: argument
// classification for individual compiler families is out of scope (spec
// §1), so the front end recognizes only its own maintenance flags and hands
// everything else to argClassify's generic stand-in.
//
// © 2025 ccachego authors. MIT License.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Voskan/ccachego/internal/signalmgr"
	"github.com/Voskan/ccachego/pkg/ccache"
	"github.com/Voskan/ccachego/pkg/core"
)

func main() {
	os.Exit(run(os.Args))
}

func run(argv []string) int {
	opts, err := parseArgs(resolveMasquerade(argv))
	if err != nil {
		fmt.Fprintln(os.Stderr, "ccachego:", err)
		return 1
	}

	cfg, err := ccache.NewConfig(configOptionsFrom(opts)...)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ccachego:", err)
		return 1
	}

	cache, err := ccache.Open(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ccachego:", err)
		return 1
	}
	defer cache.Close()

	if code, handled := runMaintenance(cache, cfg, opts); handled {
		return code
	}

	sig := signalmgr.New()
	defer sig.Stop()

	return runCompile(cache, opts)
}

// runMaintenance dispatches the non-compile CLI verbs (spec §6). Returns
// handled=false when opts names an actual compiler invocation instead.
func runMaintenance(cache *ccache.Cache, cfg *ccache.Config, opts *options) (code int, handled bool) {
	if opts.compiler == "" && (opts.maxFiles > 0 || opts.maxSize != "") {
		confPath := cfg.CacheDir + "/" + ccache.ConfigFileName
		if opts.maxFiles > 0 {
			if err := ccache.SaveConfigValue(confPath, "max_files", fmt.Sprint(opts.maxFiles)); err != nil {
				fmt.Fprintln(os.Stderr, "ccachego:", err)
				return 1, true
			}
			fmt.Printf("max files set to %d\n", opts.maxFiles)
		}
		if opts.maxSize != "" {
			n, err := parseSize(opts.maxSize)
			if err != nil {
				fmt.Fprintln(os.Stderr, "ccachego:", err)
				return 1, true
			}
			if err := ccache.SaveConfigValue(confPath, "max_size", fmt.Sprint(n)); err != nil {
				fmt.Fprintln(os.Stderr, "ccachego:", err)
				return 1, true
			}
			fmt.Printf("max size set to %d bytes\n", n)
		}
		return 0, true
	}

	switch {
	case opts.clear:
		if err := cache.Clear(); err != nil {
			fmt.Fprintln(os.Stderr, "ccachego:", err)
			return 1, true
		}
		fmt.Println("cache cleared")
		return 0, true

	case opts.cleanup:
		bytes, count := cache.Cleanup()
		fmt.Printf("cleaned up %d entries, freed %d bytes\n", count, bytes)
		return 0, true

	case opts.showStats:
		printStats(cache)
		return 0, true

	case opts.zeroStats:
		if err := cache.ZeroStats(); err != nil {
			fmt.Fprintln(os.Stderr, "ccachego:", err)
			return 1, true
		}
		return 0, true

	case opts.showCompress:
		stats, err := cache.ShowCompression()
		if err != nil {
			fmt.Fprintln(os.Stderr, "ccachego:", err)
			return 1, true
		}
		fmt.Printf("entries: %d  compressed: %d  on-disk: %d bytes  raw: %d bytes\n",
			stats.Entries, stats.CompressedCount, stats.OnDiskBytes, stats.RawBytes)
		return 0, true

	case opts.evictOlderThan != "" || opts.evictNamespace != "":
		var cutoff time.Time
		if opts.evictOlderThan != "" {
			d, err := time.ParseDuration(opts.evictOlderThan)
			if err != nil {
				fmt.Fprintln(os.Stderr, "ccachego: invalid --evict-older-than:", err)
				return 1, true
			}
			cutoff = time.Now().Add(-d)
		}
		bytes, count, err := cache.Evict(cutoff, opts.evictNamespace)
		if err != nil {
			fmt.Fprintln(os.Stderr, "ccachego:", err)
			return 1, true
		}
		fmt.Printf("evicted %d entries, freed %d bytes\n", count, bytes)
		return 0, true
	}
	return 0, false
}

func printStats(cache *ccache.Cache) {
	counters, err := cache.ShowStats()
	if err != nil {
		fmt.Fprintln(os.Stderr, "ccachego:", err)
		return
	}
	for ord := range counters {
		if counters[ord] == 0 {
			continue
		}
		fmt.Printf("%-32s %d\n", core.StatOrdinal(ord).String(), counters[ord])
	}
}

// runCompile drives the cacheable-compile path: build the invocation,
// consult the cache, and either replay a hit or run the compiler fresh.
func runCompile(cache *ccache.Cache, opts *options) int {
	ctx := context.Background()
	cliCfg := &cliConfig{ignoreOptions: ignoreOptionsFromEnv()}

	inv, info, cacheable := buildInvocation(ctx, opts.compiler, opts.compArgs, cliCfg)
	if !cacheable {
		cache.RecordBailout(info.bailReason)
		return execUncached(ctx, opts)
	}

	result, err := cache.Get(ctx, inv)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ccachego:", err)
		return execUncached(ctx, opts)
	}

	if result.Hit {
		if err := retrieve(cache, result, info); err != nil {
			fmt.Fprintln(os.Stderr, "ccachego: retrieving cached result:", err)
			return execUncached(ctx, opts)
		}
		return 0
	}
	// A fresh miss already ran the compiler inside inv.Compile and wrote its
	// outputs to disk directly (object file via the compiler itself, stderr/
	// stdout already streamed during execexec.Run... but execexec buffers
	// rather than streams, so replay them here exactly as a hit would).
	if err := retrieve(cache, result, info); err != nil {
		fmt.Fprintln(os.Stderr, "ccachego: writing compile output:", err)
		return 1
	}
	return 0
}
