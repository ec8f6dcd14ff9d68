// Command ccachego-inspect is a standalone diagnostic CLI for a ccachego
// cache directory: it reads the counters and local-store metadata directly
// off disk (the same files cmd/ccachego's -s/-X flags read through the
// façade) and prints them either as a pretty summary or as JSON, optionally
// repeating on an interval until interrupted.
//
// Unlike the teacher's inspector, which polled a long-running process's HTTP
// debug endpoint, ccachego has no daemon to poll: its state lives entirely
// in the cache directory, so ccachego-inspect opens that directory's files
// the same way cmd/ccachego does rather than fabricating a network API.
//
// © 2025 ccachego authors. MIT License.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Voskan/ccachego/internal/localstore"
	"github.com/Voskan/ccachego/internal/stats"
	"github.com/Voskan/ccachego/pkg/core"
)

func main() {
	os.Exit(run(os.Args))
}

func run(argv []string) int {
	opts, err := parseFlags(argv)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ccachego-inspect:", err)
		return 1
	}
	if opts.version {
		fmt.Println(versionString)
		return 0
	}
	if opts.target == "" {
		opts.target = resolveDefaultDir()
	}
	if opts.target == "" {
		fmt.Fprintln(os.Stderr, "ccachego-inspect: no cache directory given (-d, CCACHEGO_DIR, or ~/.cache/ccachego)")
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	if opts.watch {
		ticker := time.NewTicker(opts.interval)
		defer ticker.Stop()
		for {
			if err := dumpOnce(opts); err != nil {
				fmt.Fprintln(os.Stderr, "ccachego-inspect:", err)
			}
			select {
			case <-ticker.C:
				continue
			case <-ctx.Done():
				return 0
			}
		}
	}

	if err := dumpOnce(opts); err != nil {
		fmt.Fprintln(os.Stderr, "ccachego-inspect:", err)
		return 1
	}
	return 0
}

func resolveDefaultDir() string {
	if v := os.Getenv("CCACHEGO_DIR"); v != "" {
		return v
	}
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.cache/ccachego"
	}
	return ""
}

// snapshot is the JSON-serializable diagnostic view: the aggregated counters
// plus a compression summary, mirroring what cmd/ccachego's -s/-X flags
// print separately but combined into a single document.
type snapshot struct {
	Counters     map[string]uint64 `json:"counters"`
	Entries      int               `json:"entries"`
	Compressed   int               `json:"compressed"`
	OnDiskBytes  int64             `json:"on_disk_bytes"`
	RawBytes     int64             `json:"raw_bytes"`
	CacheSizeMiB float64           `json:"cache_size_mib"`
}

func takeSnapshot(dir string) (snapshot, error) {
	var snap snapshot

	counters, err := stats.OpenSharded(dir).Aggregate()
	if err != nil {
		return snap, err
	}
	snap.Counters = make(map[string]uint64, core.StatCount)
	for i := 0; i < int(core.StatCount); i++ {
		if counters[i] == 0 {
			continue
		}
		snap.Counters[core.StatOrdinal(i).String()] = counters[i]
	}

	store, err := localstore.Open(dir, 0)
	if err != nil {
		return snap, err
	}
	err = store.ForEachEntry(func(rel string, data []byte) error {
		header, payload, derr := core.Deserialize(data)
		if derr != nil {
			return nil
		}
		snap.Entries++
		snap.OnDiskBytes += int64(len(data))
		snap.RawBytes += int64(len(payload))
		if header.CompressionType == core.CompressionZstd {
			snap.Compressed++
		}
		return nil
	})
	snap.CacheSizeMiB = float64(store.SizeBytes()) / (1 << 20)
	return snap, err
}

func dumpOnce(opts *options) error {
	snap, err := takeSnapshot(opts.target)
	if err != nil {
		return err
	}
	if opts.json {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	return prettyPrint(snap)
}

func prettyPrint(snap snapshot) error {
	fmt.Printf("entries:        %d\n", snap.Entries)
	fmt.Printf("compressed:     %d\n", snap.Compressed)
	fmt.Printf("on-disk bytes:  %d\n", snap.OnDiskBytes)
	fmt.Printf("raw bytes:      %d\n", snap.RawBytes)
	fmt.Printf("cache size:     %.2f MiB\n", snap.CacheSizeMiB)
	fmt.Println("counters:")
	for name, v := range snap.Counters {
		fmt.Printf("  %-32s %d\n", name, v)
	}
	return nil
}
