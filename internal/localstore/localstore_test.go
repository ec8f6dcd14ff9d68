package localstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Voskan/ccachego/pkg/hash"
)

func digestOf(s string) hash.Digest {
	h := hash.New()
	h.Update([]byte(s))
	return h.Digest()
}

func TestPutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, 0)
	if err != nil {
		t.Fatal(err)
	}

	d := digestOf("key-1")
	if _, err := store.Put(context.Background(), d, SuffixResult, []byte("payload-bytes")); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(d, SuffixResult)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "payload-bytes" {
		t.Fatalf("got %q", got)
	}

	if _, err := os.Stat(filepath.Join(dir, "CACHEDIR.TAG")); err != nil {
		t.Fatalf("expected CACHEDIR.TAG: %v", err)
	}
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	_, err = store.Get(digestOf("nope"), SuffixResult)
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEvictionUnderCapacity(t *testing.T) {
	dir := t.TempDir()
	// Cap small enough that the second Put must evict the first.
	store, err := Open(dir, 10)
	if err != nil {
		t.Fatal(err)
	}

	d1 := digestOf("first")
	d2 := digestOf("second")
	if _, err := store.Put(context.Background(), d1, SuffixResult, []byte("0123456789")); err != nil {
		t.Fatal(err)
	}
	evicted, err := store.Put(context.Background(), d2, SuffixResult, []byte("9876543210"))
	if err != nil {
		t.Fatal(err)
	}
	if evicted == 0 {
		t.Fatal("expected eviction to free space for the second entry")
	}
	if _, err := store.Get(d1, SuffixResult); err != ErrNotFound {
		t.Fatalf("expected first entry evicted, got err=%v", err)
	}
	if _, err := store.Get(d2, SuffixResult); err != nil {
		t.Fatalf("expected second entry retained: %v", err)
	}
}

func TestEvictOlderThan(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	d := digestOf("aging")
	if _, err := store.Put(context.Background(), d, SuffixResult, []byte("x")); err != nil {
		t.Fatal(err)
	}

	evictedBytes, evictedCount := store.EvictOlderThan(time.Now().Add(time.Hour))
	if evictedCount != 1 || evictedBytes == 0 {
		t.Fatalf("expected the entry to be evicted, got count=%d bytes=%d", evictedCount, evictedBytes)
	}
	if _, err := store.Get(d, SuffixResult); err != ErrNotFound {
		t.Fatal("expected entry gone after EvictOlderThan")
	}
}

func TestWipeAll(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	d := digestOf("to-wipe")
	store.Put(context.Background(), d, SuffixResult, []byte("data"))

	if err := store.WipeAll(); err != nil {
		t.Fatal(err)
	}
	if store.SizeBytes() != 0 {
		t.Fatalf("expected size 0 after wipe, got %d", store.SizeBytes())
	}
	if _, err := store.Get(d, SuffixResult); err != ErrNotFound {
		t.Fatal("expected entry gone after WipeAll")
	}
}

func TestPutRawFileLinksOrCopies(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, 0)
	if err != nil {
		t.Fatal(err)
	}

	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "out.o")
	if err := os.WriteFile(srcPath, []byte("object bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	d := digestOf("raw-entry")
	size, err := store.PutRawFile(d, 0, srcPath)
	if err != nil {
		t.Fatal(err)
	}
	if size != int64(len("object bytes")) {
		t.Fatalf("unexpected size %d", size)
	}

	got, err := os.ReadFile(store.RawFilePath(d, 0))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "object bytes" {
		t.Fatalf("got %q", got)
	}
}

func TestSeedRecoversExistingEntries(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	d := digestOf("persisted")
	store.Put(context.Background(), d, SuffixManifest, []byte("manifest-bytes"))

	reopened, err := Open(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.SizeBytes() != store.SizeBytes() {
		t.Fatalf("expected seeded size %d, got %d", store.SizeBytes(), reopened.SizeBytes())
	}
	got, err := reopened.Get(d, SuffixManifest)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "manifest-bytes" {
		t.Fatalf("got %q", got)
	}
}

func TestRawFilePathFollowsShardLayout(t *testing.T) {
	store, err := Open(t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}
	d := digestOf("raw-layout")
	a, b := d.Shard()
	want := filepath.Join(store.Root(), a, b, d.String()[2:]+".3R")
	if got := store.RawFilePath(d, 3); got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestPutRawBytesRoundTrip(t *testing.T) {
	store, err := Open(t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}
	d := digestOf("raw-bytes")
	size, err := store.PutRawBytes(d, 0, []byte("object"))
	if err != nil {
		t.Fatal(err)
	}
	if size != int64(len("object")) {
		t.Fatalf("unexpected size %d", size)
	}
	got, err := os.ReadFile(store.RawFilePath(d, 0))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "object" {
		t.Fatalf("got %q", got)
	}
}

func TestCloneHardLinkOrCopyFileReplacesDest(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	if err := os.WriteFile(src, []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dst, []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := CloneHardLinkOrCopyFile(src, dst, true); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "new" {
		t.Fatalf("expected dest replaced, got %q", got)
	}
}
