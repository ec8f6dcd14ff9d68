package stats

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Voskan/ccachego/pkg/core"
)

func TestReadMissingFileIsZero(t *testing.T) {
	f := Open(filepath.Join(t.TempDir(), "stats"))
	c, err := f.Read()
	if err != nil {
		t.Fatal(err)
	}
	if c != (core.StatsCounters{}) {
		t.Fatalf("expected all-zero counters, got %+v", c)
	}
}

func TestUpdateAndRead(t *testing.T) {
	f := Open(filepath.Join(t.TempDir(), "stats"))
	if err := f.Update(func(c *core.StatsCounters) {
		c.Increment(core.StatCacheHit, 1)
		c.Increment(core.StatCalls, 1)
	}); err != nil {
		t.Fatal(err)
	}

	got, err := f.Read()
	if err != nil {
		t.Fatal(err)
	}
	if got.Get(core.StatCacheHit) != 1 || got.Get(core.StatCalls) != 1 {
		t.Fatalf("unexpected counters: %+v", got)
	}
}

func TestUpdateSkipsWriteWhenUnchanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats")
	f := Open(path)
	if err := f.Update(func(c *core.StatsCounters) { c.Increment(core.StatCalls, 1) }); err != nil {
		t.Fatal(err)
	}
	info1, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := f.Update(func(c *core.StatsCounters) {}); err != nil {
		t.Fatal(err)
	}
	info2, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info1.ModTime() != info2.ModTime() {
		t.Fatal("expected no-op update to leave the file untouched")
	}
}

func TestConcurrentUpdatesDoNotLoseCounts(t *testing.T) {
	f := Open(filepath.Join(t.TempDir(), "stats"))
	var wg sync.WaitGroup
	const n = 20
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.Update(func(c *core.StatsCounters) { c.Increment(core.StatCalls, 1) })
		}()
	}
	wg.Wait()

	got, err := f.Read()
	if err != nil {
		t.Fatal(err)
	}
	if got.Get(core.StatCalls) != n {
		t.Fatalf("expected %d calls recorded, got %d", n, got.Get(core.StatCalls))
	}
}

func TestZeroResetsCounters(t *testing.T) {
	f := Open(filepath.Join(t.TempDir(), "stats"))
	f.Update(func(c *core.StatsCounters) { c.Increment(core.StatCacheHit, 5) })
	if err := f.Zero(); err != nil {
		t.Fatal(err)
	}
	got, _ := f.Read()
	if got != (core.StatsCounters{}) {
		t.Fatalf("expected zeroed counters, got %+v", got)
	}
}

func TestAggregateSumsAcrossShards(t *testing.T) {
	dir := t.TempDir()
	f1 := Open(filepath.Join(dir, "0", "stats"))
	f2 := Open(filepath.Join(dir, "1", "stats"))
	f1.Update(func(c *core.StatsCounters) { c.Increment(core.StatCacheHit, 3) })
	f2.Update(func(c *core.StatsCounters) { c.Increment(core.StatCacheHit, 4) })

	total, err := Aggregate([]*File{f1, f2})
	if err != nil {
		t.Fatal(err)
	}
	if total.Get(core.StatCacheHit) != 7 {
		t.Fatalf("expected 7, got %d", total.Get(core.StatCacheHit))
	}
}
