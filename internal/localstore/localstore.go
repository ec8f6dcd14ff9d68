// Package localstore implements C7: the sharded, content-addressed local
// cache directory. Layout and eviction are grounded on
// other_examples/38185c28_buchgr-bazel-remote__cache-disk-disk.go.go's
// Cache/SizedLRU (two-level hex-prefix sharding, atime-based LRU touch), and
// on original_source's storage/local layer for the CACHEDIR.TAG marker and
// size-accounting rules. The LRU ring shape is adapted from the teacher's
// internal/clockpro (hot/cold/test states collapsed to a simpler
// recency list, since a disk cache has no hot-path weight function to
// tune — every byte costs the same regardless of access pattern).
package localstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/djherbis/atime"
	natematomic "github.com/natefinch/atomic"
	"go.uber.org/zap"

	"github.com/Voskan/ccachego/internal/atomicfile"
	"github.com/Voskan/ccachego/internal/filelock"
	"github.com/Voskan/ccachego/pkg/hash"
)

const cacheDirTag = "Signature: 8a477f597d28d172789f06886806bc55\n" +
	"# This file is a cache directory tag created by ccachego.\n" +
	"# For information about cache directory tags, see:\n" +
	"#\thttp://www.bford.info/cachedir/\n"

// SuffixManifest and SuffixResult are the on-disk suffixes for the two
// entry kinds a digest can own, per spec §3's "<root>/<H[0]>/<H[1]>/
// <H[2:]><suffix>" layout: a manifest at "...M" and a result at "...R".
const (
	SuffixManifest = "M"
	SuffixResult   = "R"
)

// statsFileName is the basename internal/stats writes its per-shard and
// global counters files under; seed must never track these as cache
// entries, since they share the same two-level directories.
const statsFileName = "stats"

var (
	// ErrNotFound is returned by Get when no entry exists for a digest.
	ErrNotFound = errors.New("localstore: entry not found")
)

// Store is a sharded, content-addressed directory of cache entries. It is
// safe for concurrent use; writers additionally take a filelock keyed by
// destination path to serialize cross-process access.
type Store struct {
	root     string
	maxBytes int64
	maxFiles int

	log *zap.Logger

	mu        sync.Mutex
	ring      *lruRing
	sizeBytes int64
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithLogger overrides the zap logger used for slow/error paths.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithMaxFiles caps the number of tracked entry files, enforced alongside
// maxBytes during eviction (spec's -F/--max-files).
func WithMaxFiles(n int) Option {
	return func(s *Store) { s.maxFiles = n }
}

// Open prepares (creating if absent) a local store rooted at dir, capped at
// maxBytes of tracked content. It writes a CACHEDIR.TAG marker and performs
// an initial directory walk to seed size accounting and LRU order.
func Open(dir string, maxBytes int64, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("localstore: creating root: %w", err)
	}
	if err := writeCacheDirTag(dir); err != nil {
		return nil, err
	}

	s := &Store{root: dir, maxBytes: maxBytes, log: zap.NewNop(), ring: newLRURing()}
	for _, o := range opts {
		o(s)
	}

	if err := s.seed(); err != nil {
		return nil, fmt.Errorf("localstore: seeding from disk: %w", err)
	}
	return s, nil
}

func writeCacheDirTag(dir string) error {
	path := filepath.Join(dir, "CACHEDIR.TAG")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return atomicfile.WriteBytes(path, []byte(cacheDirTag))
}

// shardPath returns the two-level sharded path for a digest's manifest or
// result entry, e.g. "<root>/a/b/34...efM" (spec §3: the first two hex
// digits address the shard directories and are not repeated in the
// filename).
func (s *Store) shardPath(d hash.Digest, suffix string) string {
	a, b := d.Shard()
	return filepath.Join(s.root, a, b, d.String()[2:]+suffix)
}

func (s *Store) seed() error {
	return filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil {
			return nil
		}
		if info.IsDir() {
			// Lock files are infrastructure, not entries.
			if filepath.Base(path) == ".locks" {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Base(path) == "CACHEDIR.TAG" || filepath.Base(path) == statsFileName {
			return nil
		}
		rel, _ := filepath.Rel(s.root, path)
		parts := strings.Split(rel, string(filepath.Separator))
		if len(parts) != 3 || len(parts[0]) != 1 || len(parts[1]) != 1 {
			// Not inside a two-level hex shard; ignore stray files.
			return nil
		}
		at, aerr := atime.Stat(path)
		if aerr != nil {
			at = info.ModTime()
		}
		s.mu.Lock()
		s.ring.insert(rel, info.Size(), at)
		s.sizeBytes += info.Size()
		s.mu.Unlock()
		return nil
	})
}

// Put atomically stores payload under the entry identified by digest and
// suffix (SuffixManifest or SuffixResult per spec §3), then evicts
// least-recently-used entries while the store exceeds maxBytes or maxFiles.
// It returns the number of bytes evicted.
func (s *Store) Put(ctx context.Context, d hash.Digest, suffix string, payload []byte) (evictedBytes int64, err error) {
	dest := s.shardPath(d, suffix)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("localstore: creating shard dir: %w", err)
	}

	lock, err := filelock.Acquire(ctx, dest)
	if err != nil {
		return 0, fmt.Errorf("localstore: locking %s: %w", dest, err)
	}
	defer lock.Release()

	prevSize := int64(0)
	if info, statErr := os.Stat(dest); statErr == nil {
		prevSize = info.Size()
	}

	if err := natematomic.WriteFile(dest, bytesReader(payload)); err != nil {
		return 0, fmt.Errorf("localstore: writing %s: %w", dest, err)
	}

	rel, _ := filepath.Rel(s.root, dest)
	s.mu.Lock()
	s.sizeBytes += int64(len(payload)) - prevSize
	s.ring.insert(rel, int64(len(payload)), time.Now())
	evictedBytes = s.evictLocked()
	s.mu.Unlock()
	return evictedBytes, nil
}

// Get reads the entry for digest+suffix, touching its LRU recency. Returns
// ErrNotFound if absent.
func (s *Store) Get(d hash.Digest, suffix string) ([]byte, error) {
	path := s.shardPath(d, suffix)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("localstore: reading %s: %w", path, err)
	}

	rel, _ := filepath.Rel(s.root, path)
	s.mu.Lock()
	s.ring.touch(rel)
	s.mu.Unlock()
	// Best-effort; a failure to bump mtime never affects correctness, only
	// the next process's cold-start LRU seed order.
	_ = atomicfile.Touch(path)
	return data, nil
}

// PutRawFile places an externally-produced file (e.g. the compiler's .o
// output) at the raw-sibling path for (d, fileNumber), linking when possible
// and falling back to a copy across filesystem boundaries.
func (s *Store) PutRawFile(d hash.Digest, fileNumber int, srcPath string) (int64, error) {
	dest := s.shardPath(d, rawSuffix(fileNumber))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err
	}
	if err := CloneHardLinkOrCopyFile(srcPath, dest, true); err != nil {
		return 0, fmt.Errorf("localstore: linking or copying raw file: %w", err)
	}

	info, err := os.Stat(dest)
	if err != nil {
		return 0, err
	}
	rel, _ := filepath.Rel(s.root, dest)
	s.mu.Lock()
	s.sizeBytes += info.Size()
	s.ring.insert(rel, info.Size(), time.Now())
	s.mu.Unlock()
	return info.Size(), nil
}

// PutRawBytes writes data at the raw-sibling path for (d, fileNumber), for
// producers that hold the output in memory rather than on disk.
func (s *Store) PutRawBytes(d hash.Digest, fileNumber int, data []byte) (int64, error) {
	dest := s.shardPath(d, rawSuffix(fileNumber))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err
	}
	if err := natematomic.WriteFile(dest, bytesReader(data)); err != nil {
		return 0, fmt.Errorf("localstore: writing raw file %s: %w", dest, err)
	}
	rel, _ := filepath.Rel(s.root, dest)
	s.mu.Lock()
	s.sizeBytes += int64(len(data))
	s.ring.insert(rel, int64(len(data)), time.Now())
	s.mu.Unlock()
	return int64(len(data)), nil
}

// RawFilePath returns the path a raw sibling file for (d, fileNumber) would
// live at, without checking existence. The name follows the entry layout:
// the two shard digits are the directories and are not repeated in the
// filename ("<root>/<a>/<b>/<rest>.<n>R").
func (s *Store) RawFilePath(d hash.Digest, fileNumber int) string {
	return s.shardPath(d, rawSuffix(fileNumber))
}

func rawSuffix(fileNumber int) string { return fmt.Sprintf(".%dR", fileNumber) }

// CloneHardLinkOrCopyFile materializes src at dst, preferring a hard link
// and falling back to an atomic copy across filesystem boundaries. With
// destMayExist, an existing dst is removed first so the link cannot fail on
// a stale destination.
func CloneHardLinkOrCopyFile(src, dst string, destMayExist bool) error {
	if destMayExist {
		if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	if err := os.Link(src, dst); err == nil {
		return nil
	}
	return copyFile(src, dst)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

// SizeBytes returns the store's current tracked size.
func (s *Store) SizeBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sizeBytes
}

// Root returns the store's root directory, for callers (the CLI's
// --show-compression and --evict-namespace) that need to walk raw entry
// files the Store API itself doesn't expose a query for.
func (s *Store) Root() string { return s.root }

// FileCount returns the number of tracked entry files.
func (s *Store) FileCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ring.index)
}

// ForEachEntry reads every tracked entry file and invokes fn with its
// path relative to Root() and its raw bytes. Used by maintenance commands
// that need to inspect envelope headers (compression stats, namespace
// eviction) without duplicating the Store's notion of "tracked entry".
func (s *Store) ForEachEntry(fn func(rel string, data []byte) error) error {
	s.mu.Lock()
	rels := s.ring.all()
	s.mu.Unlock()

	for _, rel := range rels {
		data, err := os.ReadFile(filepath.Join(s.root, rel))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		if err := fn(rel, data); err != nil {
			return err
		}
	}
	return nil
}

// StatEntry returns os.Stat of the tracked entry at rel (relative to
// Root()), for maintenance commands that need mtime/size without reading
// the whole file.
func (s *Store) StatEntry(rel string) (os.FileInfo, error) {
	return os.Stat(filepath.Join(s.root, rel))
}

// Remove deletes the entry for digest+suffix, if present. Used by readers
// that found the entry corrupt: per the error-handling contract, a corrupt
// entry is deleted on sight and the read counts as a miss.
func (s *Store) Remove(d hash.Digest, suffix string) error {
	rel, err := filepath.Rel(s.root, s.shardPath(d, suffix))
	if err != nil {
		return err
	}
	return s.RemoveEntry(rel)
}

// RemoveEntry deletes the tracked entry at rel (relative to Root()) and
// updates size accounting, used by namespace-filtered eviction.
func (s *Store) RemoveEntry(rel string) error {
	full := filepath.Join(s.root, rel)
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			s.mu.Lock()
			s.ring.remove(rel)
			s.mu.Unlock()
			return nil
		}
		return err
	}
	if err := os.Remove(full); err != nil {
		return err
	}
	s.mu.Lock()
	s.sizeBytes -= info.Size()
	s.ring.remove(rel)
	s.mu.Unlock()
	return nil
}

// evictLocked removes least-recently-used entries until the store is within
// both maxBytes and maxFiles (a zero limit is not enforced). Caller must hold
// s.mu.
func (s *Store) evictLocked() int64 {
	overSize := func() bool { return s.maxBytes > 0 && s.sizeBytes > s.maxBytes }
	overCount := func() bool { return s.maxFiles > 0 && len(s.ring.index) > s.maxFiles }
	if !overSize() && !overCount() {
		return 0
	}
	var evicted int64
	for overSize() || overCount() {
		rel, size, ok := s.ring.evictOldest()
		if !ok {
			break
		}
		full := filepath.Join(s.root, rel)
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			s.log.Warn("localstore: eviction remove failed", zap.String("path", full), zap.Error(err))
			continue
		}
		s.sizeBytes -= size
		evicted += size
	}
	return evicted
}

// CleanDir runs spec's clean_dir algorithm on demand (spec's -c/--cleanup):
// evict oldest-first until both maxBytes and maxFiles are satisfied, the
// same policy Put already applies inline on every write.
func (s *Store) CleanDir() (evictedBytes int64, evictedCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.ring.index)
	evictedBytes = s.evictLocked()
	evictedCount = before - len(s.ring.index)
	return evictedBytes, evictedCount
}

// EvictOlderThan removes entries whose last access predates the cutoff,
// regardless of size pressure (spec's --evict-older-than).
func (s *Store) EvictOlderThan(cutoff time.Time) (evictedBytes int64, evictedCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rels := s.ring.olderThan(cutoff)
	for _, rel := range rels {
		full := filepath.Join(s.root, rel)
		info, err := os.Stat(full)
		if err != nil {
			s.ring.remove(rel)
			continue
		}
		if err := os.Remove(full); err != nil {
			continue
		}
		s.sizeBytes -= info.Size()
		s.ring.remove(rel)
		evictedBytes += info.Size()
		evictedCount++
	}
	return evictedBytes, evictedCount
}

// WipeAll removes every tracked entry (spec's -C / --clear), leaving the
// CACHEDIR.TAG marker in place.
func (s *Store) WipeAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rel := range s.ring.all() {
		_ = os.Remove(filepath.Join(s.root, rel))
	}
	s.ring = newLRURing()
	s.sizeBytes = 0
	return nil
}

func bytesReader(b []byte) io.Reader { return &sliceReader{b: b} }

type sliceReader struct {
	b []byte
	i int
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.i >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.i:])
	r.i += n
	return n, nil
}
