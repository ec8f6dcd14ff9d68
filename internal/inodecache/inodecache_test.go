package inodecache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Voskan/ccachego/pkg/hash"
)

func digestOf(s string) hash.Digest {
	h := hash.New()
	h.Update([]byte(s))
	return h.Digest()
}

func TestPutGet(t *testing.T) {
	c := New()
	k := Key{Device: 1, Inode: 2, Size: 100}
	d := digestOf("x")
	c.Put(k, d)

	got, ok := c.Get(k)
	if !ok || got != d {
		t.Fatalf("expected hit with %v, got %v ok=%v", d, got, ok)
	}
}

func TestInvalidateClearsVisibility(t *testing.T) {
	c := New()
	k := Key{Inode: 1}
	c.Put(k, digestOf("x"))
	c.Invalidate()

	if _, ok := c.Get(k); ok {
		t.Fatal("expected miss after invalidate")
	}
}

func TestKeyForStableAndKindSensitive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.h")
	if err := os.WriteFile(path, []byte("content"), 0o644); err != nil {
		t.Fatal(err)
	}

	k1, ok := KeyFor(path, ContentRaw)
	if !ok {
		t.Skip("no stable inode identity on this platform")
	}
	k2, _ := KeyFor(path, ContentRaw)
	if k1 != k2 {
		t.Fatalf("expected stable key for unchanged file, got %+v vs %+v", k1, k2)
	}

	k3, _ := KeyFor(path, ContentMacroScan)
	if k1 == k3 {
		t.Fatal("expected content kind to distinguish keys")
	}
}

func TestDisabledNeverHits(t *testing.T) {
	c := Disabled()
	k := Key{Inode: 1}
	c.Put(k, digestOf("x"))
	if _, ok := c.Get(k); ok {
		t.Fatal("disabled cache should never report a hit")
	}
}
