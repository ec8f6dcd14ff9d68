package filelock

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWithLockSerializesAccess(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "stats")

	var active int32
	var maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := WithLock(target, func() error {
				n := atomic.AddInt32(&active, 1)
				for {
					m := atomic.LoadInt32(&maxActive)
					if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Fatalf("expected at most 1 concurrent holder, observed %d", maxActive)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	dir := t.TempDir()
	l, err := AcquireBlocking(filepath.Join(dir, "x"))
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("second release should be a no-op, got %v", err)
	}
}

func TestAcquireContextCancel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x")

	holder, err := AcquireBlocking(path)
	if err != nil {
		t.Fatal(err)
	}
	defer holder.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = Acquire(ctx, path)
	if err == nil {
		t.Fatal("expected context deadline error")
	}
}
