// Package stats implements C13: the on-disk per-shard statistics counter
// file and its cross-process-safe update/aggregation.
//
// Grounded on original_source/src/ccache/storage/local/statsfile.cpp: a
// stats file holds one decimal counter per line, line N for ordinal N
// (any whitespace between counters is accepted on read), read tolerantly (a short, missing, or partially-written file yields zeros
// for the missing tail rather than an error) and updated under
// internal/filelock so concurrent ccachego invocations never lose counts.
package stats

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/Voskan/ccachego/internal/atomicfile"
	"github.com/Voskan/ccachego/internal/filelock"
	"github.com/Voskan/ccachego/pkg/core"
	"github.com/Voskan/ccachego/pkg/hash"
)

// File is a single on-disk counters file (one per cache shard, per spec §3's
// per-shard statistics model, so that concurrent compiles touching different
// shards never contend on the same lock).
type File struct {
	path string
}

// Open returns a handle to the stats file at path. The file itself is
// created lazily on first Update; Read tolerates a missing file.
func Open(path string) *File {
	return &File{path: path}
}

// Read loads the current counters, treating a missing or truncated file as
// all-zero rather than an error (statsfile.cpp's tolerant-read behavior).
func (f *File) Read() (core.StatsCounters, error) {
	var counters core.StatsCounters

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return counters, nil
		}
		return counters, fmt.Errorf("stats: reading %s: %w", f.path, err)
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Split(bufio.ScanWords)
	for i := 0; i < int(core.StatCount) && sc.Scan(); i++ {
		v, err := strconv.ParseUint(sc.Text(), 10, 64)
		if err != nil {
			// A corrupt token ends the tolerant read here; everything parsed
			// so far is kept, the rest stays zero.
			break
		}
		counters[i] = v
	}
	return counters, nil
}

// Update reads the current counters, applies mutate under an exclusive
// filelock, and atomically writes the result back. mutate receives a
// pointer so it can Increment in place.
//
// OnlyIfChanged: if mutate makes no change to the counters (compared
// byte-for-byte before/after), the write is skipped — spec's optimization to
// avoid perturbing the stats file's mtime (and therefore unnecessary work
// for anything watching it) on a no-op update.
func (f *File) Update(mutate func(*core.StatsCounters)) error {
	return filelock.WithLock(f.path, func() error {
		before, err := f.Read()
		if err != nil {
			return err
		}
		after := before
		mutate(&after)
		if after == before {
			return nil
		}
		return atomicfile.WithAtomic(f.path, func(w *bytes.Buffer) error {
			for i := 0; i < int(core.StatCount); i++ {
				fmt.Fprintf(w, "%d\n", after[i])
			}
			return nil
		})
	})
}

// Zero resets every counter to zero in place, used by spec's -z/--zero-stats.
func (f *File) Zero() error {
	return f.Update(func(c *core.StatsCounters) {
		*c = core.StatsCounters{}
	})
}

// Aggregate sums counters from multiple shard files, for the
// whole-cache-wide view `ccachego -s` prints.
func Aggregate(files []*File) (core.StatsCounters, error) {
	var total core.StatsCounters
	for _, f := range files {
		c, err := f.Read()
		if err != nil {
			return total, err
		}
		total = total.Add(c)
	}
	return total, nil
}

// Sharded owns one File per second-level local-store shard directory
// ("<root>/<a>/<b>/stats"), matching the per-shard model this package's File
// doc describes: concurrent compiles touching different shards never
// contend on the same lock, since each shard's counters live in their own
// file.
//
// Counters that cannot be tied to a specific digest (cleanups performed,
// the zeroed-at timestamp, bail-outs recorded before any key is computed)
// live in a distinguished root-level file instead; Global returns it.
type Sharded struct {
	root string

	mu    sync.Mutex
	files map[string]*File
}

// OpenSharded returns a manager rooted at dir. Shard files are created
// lazily, on first Update for a given digest.
func OpenSharded(dir string) *Sharded {
	return &Sharded{root: dir, files: make(map[string]*File)}
}

func (s *Sharded) open(relDir string) *File {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.files[relDir]; ok {
		return f
	}
	path := filepath.Join(s.root, relDir, "stats")
	if relDir == "" {
		path = filepath.Join(s.root, "stats")
	}
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	f := Open(path)
	s.files[relDir] = f
	return f
}

// For returns the shard file owning d's local-store shard directory.
func (s *Sharded) For(d hash.Digest) *File {
	a, b := d.Shard()
	return s.open(filepath.Join(a, b))
}

// Global returns the root-level file for counters not tied to any one
// digest.
func (s *Sharded) Global() *File {
	return s.open("")
}

// Update mutates the counters owned by d's shard.
func (s *Sharded) Update(d hash.Digest, mutate func(*core.StatsCounters)) error {
	return s.For(d).Update(mutate)
}

// All discovers every shard-stats file already written to disk, plus the
// global file, for Aggregate/ZeroAll.
func (s *Sharded) All() ([]*File, error) {
	out := []*File{s.Global()}

	level0, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("stats: listing %s: %w", s.root, err)
	}
	for _, e0 := range level0 {
		if !e0.IsDir() || len(e0.Name()) != 1 {
			continue
		}
		level1, err := os.ReadDir(filepath.Join(s.root, e0.Name()))
		if err != nil {
			continue
		}
		for _, e1 := range level1 {
			if !e1.IsDir() || len(e1.Name()) != 1 {
				continue
			}
			path := filepath.Join(s.root, e0.Name(), e1.Name(), "stats")
			if _, statErr := os.Stat(path); statErr != nil {
				continue
			}
			out = append(out, s.open(filepath.Join(e0.Name(), e1.Name())))
		}
	}
	return out, nil
}

// Aggregate sums every shard's counters (including the global file) for
// spec's -s/--show-stats.
func (s *Sharded) Aggregate() (core.StatsCounters, error) {
	files, err := s.All()
	if err != nil {
		return core.StatsCounters{}, err
	}
	return Aggregate(files)
}

// ZeroAll resets every discovered shard's counters for -z/--zero-stats.
func (s *Sharded) ZeroAll() error {
	files, err := s.All()
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := f.Zero(); err != nil {
			return err
		}
	}
	return nil
}
