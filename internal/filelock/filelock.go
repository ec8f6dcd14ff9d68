// Package filelock implements the cooperative, cross-process exclusive lock
// keyed by a filesystem path that every writer of a shared on-disk structure
// (stats files, manifests, result entries) acquires before mutating it.
//
// Grounded on calvinalkan-agent-task/internal/ticket/lock.go: lock files
// live in a ".locks" sibling directory so that acquiring/releasing a lock
// never touches the parent directory's mtime (which would otherwise
// invalidate unrelated cache-freshness checks that stat that directory).
// The portable locking primitive itself is delegated to gofrs/flock so the
// POSIX fcntl and Windows LockFileEx code paths spec'd in ccache's C3 don't
// need a second build-tag-gated implementation here.
//
// © 2025 ccachego authors. MIT License.
package filelock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const locksDirName = ".locks"

// KeepAliveInterval is how often a long-lived lock's keep-alive goroutine
// touches the lock file's mtime so a separate reaper can distinguish a lock
// held by a live process from one abandoned by a crashed one.
const KeepAliveInterval = 500 * time.Millisecond

// StaleAfter is how old a lock file's mtime must be, with no keep-alive
// having refreshed it, before a new acquirer is entitled to steal it.
const StaleAfter = 5 * time.Second

var errLockFileOpen = errors.New("filelock: failed to create lock file")

// Lock is a held exclusive lock on a path. The zero value is not usable.
type Lock struct {
	path string
	fl   *flock.Flock

	mu       sync.Mutex
	released bool
	stopKA   chan struct{}
	kaWG     sync.WaitGroup
}

// lockPathFor returns the sibling lock file for path, creating the ".locks"
// directory if necessary.
func lockPathFor(path string) (string, error) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	locksDir := filepath.Join(dir, locksDirName)
	if err := os.MkdirAll(locksDir, 0o755); err != nil {
		return "", fmt.Errorf("filelock: creating locks dir: %w", err)
	}
	return filepath.Join(locksDir, base+".lock"), nil
}

// Acquire blocks until path's lock is held by this process. It steals a
// stale lock (one whose mtime is older than StaleAfter, implying the
// holder's keep-alive has stopped, implying the holder died) rather than
// waiting for it forever.
func Acquire(ctx context.Context, path string) (*Lock, error) {
	lockPath, err := lockPathFor(path)
	if err != nil {
		return nil, err
	}

	fl := flock.New(lockPath)
	for {
		ok, err := fl.TryLock()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errLockFileOpen, err)
		}
		if ok {
			return &Lock{path: lockPath, fl: fl}, nil
		}
		if isStale(lockPath) && stealStale(lockPath) {
			continue
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// AcquireBlocking is Acquire with context.Background(); used by call sites
// that do not have a cancellation budget (the common case: a single
// compiler invocation does not want its cache writes interrupted halfway).
func AcquireBlocking(path string) (*Lock, error) {
	return Acquire(context.Background(), path)
}

func isStale(lockPath string) bool {
	info, err := os.Stat(lockPath)
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) > StaleAfter
}

// stealStale removes an abandoned lock file so the next loop iteration can
// create and lock a fresh one. Returns false if the file is already gone
// (another acquirer removed it first) or cannot be removed.
func stealStale(lockPath string) bool {
	return os.Remove(lockPath) == nil
}

// KeepAlive starts a background goroutine that touches the lock file's mtime
// every KeepAliveInterval, for locks held across a long operation (a
// compiler run). It stops when Release is called or ctx is canceled.
func (l *Lock) KeepAlive(ctx context.Context) {
	l.mu.Lock()
	if l.stopKA != nil || l.released {
		l.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	l.stopKA = stop
	l.mu.Unlock()

	l.kaWG.Add(1)
	go func() {
		defer l.kaWG.Done()
		t := time.NewTicker(KeepAliveInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				now := time.Now()
				_ = os.Chtimes(l.path, now, now)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Release is idempotent: calling it more than once, or on a lock that was
// never successfully acquired, is a no-op.
func (l *Lock) Release() error {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return nil
	}
	l.released = true
	stop := l.stopKA
	l.mu.Unlock()

	if stop != nil {
		close(stop)
		l.kaWG.Wait()
	}

	err := l.fl.Unlock()
	_ = os.Remove(l.path)
	return err
}

// WithLock acquires path's lock, runs f, and always releases the lock
// afterward — even if f panics or returns an error.
func WithLock(path string, f func() error) error {
	l, err := AcquireBlocking(path)
	if err != nil {
		return fmt.Errorf("filelock: acquiring lock for %s: %w", path, err)
	}
	defer l.Release()
	return f()
}
