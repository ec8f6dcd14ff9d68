// Package atomicfile implements the write-to-temp-then-rename producer of
// files used everywhere a cache entry, manifest, or stats file must become
// visible to concurrent readers all at once or not at all.
//
// Grounded on calvinalkan-agent-task's internal/ticket/lock.go, which
// drives github.com/natefinch/atomic the same way: render the new content,
// hand it to the library's rename-based writer, and never surface a
// temporary file on any error path.
//
// © 2025 ccachego authors. MIT License.
package atomicfile

import (
	"bytes"
	"fmt"
	"os"

	natomic "github.com/natefinch/atomic"
)

// WithAtomic creates a buffer, invokes f to populate it, and if f succeeds,
// publishes the buffer to path via write-temp-then-rename. If f returns an
// error, nothing is written and the error is propagated unchanged. The
// temporary file natefinch/atomic creates alongside path is never left
// behind on any failure path (library guarantee).
func WithAtomic(path string, f func(w *bytes.Buffer) error) error {
	var buf bytes.Buffer
	if err := f(&buf); err != nil {
		return err
	}
	if err := natomic.WriteFile(path, bytes.NewReader(buf.Bytes())); err != nil {
		return fmt.Errorf("atomicfile: rename into place: %w", err)
	}
	return nil
}

// WriteBytes is a convenience wrapper for callers that already have the full
// byte slice to publish.
func WriteBytes(path string, data []byte) error {
	if err := natomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("atomicfile: rename into place: %w", err)
	}
	return nil
}

// Touch updates path's mtime (and, best-effort, atime) to the current time
// without altering its contents, used by the local store to record LRU
// recency without going through the full atomic-write path.
func Touch(path string) error {
	now := nowFunc()
	return os.Chtimes(path, now, now)
}

// nowFunc exists so tests can deterministically control LRU ordering.
var nowFunc = defaultNow
