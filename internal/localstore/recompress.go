package localstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/djherbis/atime"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Voskan/ccachego/pkg/core"
)

// RecompressWorkerPool walks the store re-encoding entries to a target
// compression level, bounded by a worker count. It is grounded on the
// teacher's clockpro ring/eviction-callback shape: rather than re-stat every
// file on every pass, it consumes the same recency ring the Store already
// maintains, most recently used first, so a run naturally prioritizes
// entries least likely to be evicted before they'd be touched again.
type RecompressWorkerPool struct {
	store   *Store
	workers int
	level   int8
	log     *zap.Logger
}

// NewRecompressWorkerPool returns a pool that will recompress entries to
// level using the given number of concurrent workers.
func NewRecompressWorkerPool(s *Store, workers int, level int8, log *zap.Logger) *RecompressWorkerPool {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RecompressWorkerPool{store: s, workers: workers, level: level, log: log}
}

// Run walks every tracked entry and recompresses it in place. Entries whose
// envelope cannot be parsed (bad magic/version) are skipped, not evicted or
// counted as an error: a corrupt entry is deleted lazily the next time a
// reader asks for it, and double-handling it here would race that path.
func (p *RecompressWorkerPool) Run(ctx context.Context) (recompressed int, skipped int) {
	p.store.mu.Lock()
	paths := p.store.ring.all()
	p.store.mu.Unlock()

	jobs := make(chan string)
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			for rel := range jobs {
				if ctx.Err() != nil {
					return nil
				}
				ok := p.recompressOne(filepath.Join(p.store.root, rel))
				mu.Lock()
				if ok {
					recompressed++
				} else {
					skipped++
				}
				mu.Unlock()
			}
			return nil
		})
	}

	for _, rel := range paths {
		select {
		case <-ctx.Done():
			close(jobs)
			_ = g.Wait()
			return recompressed, skipped
		case jobs <- rel:
		}
	}
	close(jobs)
	_ = g.Wait()
	return recompressed, skipped
}

func (p *RecompressWorkerPool) recompressOne(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	header, payload, err := core.Deserialize(data)
	if err != nil {
		p.log.Debug("localstore: skipping unparseable entry during recompress", zap.String("path", path), zap.Error(err))
		return false
	}
	if header.CompressionType == core.CompressionZstd && header.CompressionLevel == p.level {
		return false
	}

	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	accessTime := info.ModTime()
	if at, aerr := atime.Stat(path); aerr == nil {
		accessTime = at
	}

	header.CompressionType = core.CompressionZstd
	header.CompressionLevel = p.level
	encoded, err := core.Serialize(header, payload)
	if err != nil {
		p.log.Warn("localstore: recompress encode failed", zap.String("path", path), zap.Error(err))
		return false
	}

	tmp := path + ".recompress.tmp"
	if err := os.WriteFile(tmp, encoded, 0o644); err != nil {
		return false
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return false
	}
	// Recompression must not change where this entry sits in LRU order.
	_ = os.Chtimes(path, accessTime, info.ModTime())
	return true
}
