package remote

import (
	"bytes"
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	natematomic "github.com/natefinch/atomic"

	"github.com/Voskan/ccachego/pkg/hash"
)

// FileBackend treats a local (or network-mounted) directory as a remote
// cache, grounded on original_source's filestorage.cpp "file:" scheme.
//
// Supports the "layout" (flat vs subdirs), "umask", and "update-mtime"
// attributes spec §4.8 calls out for this scheme.
type FileBackend struct {
	dir        string
	readOnly   bool
	flatLayout bool
	filePerm   os.FileMode
	dirPerm    os.FileMode
	touchMtime bool
}

func newFileBackend(u *url.URL, attrs []Attribute) (*FileBackend, error) {
	dir := u.Path
	if dir == "" {
		dir = u.Opaque
	}

	filePerm := os.FileMode(0o644)
	dirPerm := os.FileMode(0o755)
	if raw := attrString(attrs, "umask", ""); raw != "" {
		if mask, err := strconv.ParseUint(raw, 8, 32); err == nil {
			filePerm &^= os.FileMode(mask)
			dirPerm &^= os.FileMode(mask)
		}
	}

	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, err
	}
	return &FileBackend{
		dir:        dir,
		readOnly:   attrBool(attrs, "read-only", false),
		flatLayout: attrString(attrs, "layout", "subdirs") == "flat",
		filePerm:   filePerm,
		dirPerm:    dirPerm,
		touchMtime: attrBool(attrs, "update-mtime", false),
	}, nil
}

func (b *FileBackend) entryPath(key hash.Digest) string {
	if b.flatLayout {
		return filepath.Join(b.dir, key.String())
	}
	a, bb := key.Shard()
	return filepath.Join(b.dir, a, bb, key.String())
}

func (b *FileBackend) Get(ctx context.Context, key hash.Digest) ([]byte, bool, error) {
	path := b.entryPath(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, errFailure(FailureError, "remote(file): reading entry: %w", err)
	}
	if b.touchMtime {
		now := time.Now()
		_ = os.Chtimes(path, now, now)
	}
	return data, true, nil
}

func (b *FileBackend) Put(ctx context.Context, key hash.Digest, value []byte, onlyIfMissing bool) (bool, error) {
	if b.readOnly {
		return false, errFailure(FailureError, "remote(file): %w", errReadOnly)
	}
	path := b.entryPath(key)
	if onlyIfMissing {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}
	if !b.flatLayout {
		if err := os.MkdirAll(filepath.Dir(path), b.dirPerm); err != nil {
			return false, errFailure(FailureError, "remote(file): creating shard dir: %w", err)
		}
	}
	if err := natematomic.WriteFile(path, bytes.NewReader(value)); err != nil {
		return false, errFailure(FailureError, "remote(file): writing entry: %w", err)
	}
	_ = os.Chmod(path, b.filePerm)
	return true, nil
}

func (b *FileBackend) Remove(ctx context.Context, key hash.Digest) error {
	if b.readOnly {
		return errFailure(FailureError, "remote(file): %w", errReadOnly)
	}
	if err := os.Remove(b.entryPath(key)); err != nil && !os.IsNotExist(err) {
		return errFailure(FailureError, "remote(file): removing entry: %w", err)
	}
	return nil
}

func (b *FileBackend) String() string { return "file:" + b.dir }
