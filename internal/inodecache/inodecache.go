// Package inodecache implements C14: an in-process cache mapping a file's
// identity (device, inode, size, mtime, ctime, content-addressing mode) to
// its already-computed digest, avoiding a redundant re-hash of a header that
// hasn't changed since the last compile in this process.
//
// Adapted from the teacher's internal/clockpro table shape, with its own
// per-shard RWMutex since this table is read concurrently: ccache's C++
// InodeCache maps the whole table into shared memory across processes,
// which Go has no portable, dependency-free equivalent for: the corpus
// carries no shared-memory IPC library, so this is a process-local table
// (noted in DESIGN.md) with a disabled no-op fallback when the caller has no
// stable inode source (e.g. on filesystems that always report inode 0).
package inodecache

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/Voskan/ccachego/pkg/hash"
)

// shardCount partitions the table so parallel header hashing during a
// `make -j` build doesn't serialize on one lock. Must be a power of two.
const shardCount = 64

// Content kinds distinguishing what a cached digest was computed from: the
// file's raw bytes, or a temporal-macro scan over them (the two passes hash
// the same bytes but produce different answers).
const (
	ContentRaw uint8 = iota
	ContentMacroScan
)

// Key identifies a file's on-disk identity at the moment it was hashed.
type Key struct {
	Device      uint64
	Inode       uint64
	Size        int64
	MtimeNS     int64
	CtimeNS     int64
	ContentKind uint8 // distinguishes e.g. "raw bytes" vs "preprocessor scan"
}

// bucket returns the shard index for k, an xxhash over the key's wire
// encoding. The cryptographic digest stays BLAKE3; xxhash only spreads keys
// across shards.
func (k Key) bucket() uint64 {
	var buf [41]byte
	binary.LittleEndian.PutUint64(buf[0:], k.Device)
	binary.LittleEndian.PutUint64(buf[8:], k.Inode)
	binary.LittleEndian.PutUint64(buf[16:], uint64(k.Size))
	binary.LittleEndian.PutUint64(buf[24:], uint64(k.MtimeNS))
	binary.LittleEndian.PutUint64(buf[32:], uint64(k.CtimeNS))
	buf[40] = k.ContentKind
	return xxhash.Sum64(buf[:]) & (shardCount - 1)
}

type entry struct {
	digest hash.Digest
	gen    uint64
}

type shard struct {
	mu    sync.RWMutex
	table map[Key]entry
	gen   uint64
}

// Cache is a sharded, generation-counted table of Key -> Digest. Generation
// counters let callers invalidate a shard cheaply (bump the generation)
// instead of deleting every entry, mirroring the original's per-bucket
// generation scheme used to detect a concurrently-truncated table.
type Cache struct {
	enabled bool
	shards  [shardCount]shard
}

// New returns an enabled, empty Cache.
func New() *Cache {
	c := &Cache{enabled: true}
	for i := range c.shards {
		c.shards[i].table = make(map[Key]entry)
	}
	return c
}

// Disabled returns a Cache that never stores or returns hits, for platforms
// or configurations (spec's CCACHE_INODECACHE=false) where identity-based
// caching would be unsafe (e.g. a filesystem that reuses inode numbers
// aggressively within one build).
func Disabled() *Cache {
	return &Cache{enabled: false}
}

// Get returns the cached digest for key, if present and from the current
// generation.
func (c *Cache) Get(key Key) (hash.Digest, bool) {
	if !c.enabled {
		return hash.Digest{}, false
	}
	s := &c.shards[key.bucket()]
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.table[key]
	if !ok || e.gen != s.gen {
		return hash.Digest{}, false
	}
	return e.digest, true
}

// Put records the digest computed for key.
func (c *Cache) Put(key Key, digest hash.Digest) {
	if !c.enabled {
		return
	}
	s := &c.shards[key.bucket()]
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table[key] = entry{digest: digest, gen: s.gen}
}

// Invalidate bumps every shard's generation counter, making every
// previously stored entry unreachable without the cost of clearing the maps.
func (c *Cache) Invalidate() {
	if !c.enabled {
		return
	}
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		s.gen++
		s.mu.Unlock()
	}
}

// Len reports the number of live table slots (including entries from stale
// generations that haven't been overwritten yet), for diagnostics.
func (c *Cache) Len() int {
	if !c.enabled {
		return 0
	}
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		n += len(s.table)
		s.mu.RUnlock()
	}
	return n
}
