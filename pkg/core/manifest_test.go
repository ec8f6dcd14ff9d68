package core

import (
	"testing"

	"github.com/Voskan/ccachego/pkg/hash"
)

func digestOf(s string) hash.Digest {
	h := hash.New()
	h.Update([]byte(s))
	return h.Digest()
}

func TestManifestAddAndLookup(t *testing.T) {
	m := New()
	included := map[string]hash.Digest{
		"/src/foo.h": digestOf("foo.h v1"),
		"/src/foo.c": digestOf("foo.c v1"),
	}
	stat := func(path string) (int64, int64, int64, error) { return 10, 100, 200, nil }

	resultKey := digestOf("result-1")
	if !m.AddResult(resultKey, included, stat) {
		t.Fatal("AddResult should succeed under caps")
	}
	if err := m.Validate(); err != nil {
		t.Fatal(err)
	}

	hashFile := func(path string) (hash.Digest, error) { return included[path], nil }
	got, ok := m.Lookup(included, stat, hashFile, Sloppiness{})
	if !ok || got != resultKey {
		t.Fatalf("expected lookup hit with key %v, got %v ok=%v", resultKey, got, ok)
	}
}

func TestManifestLookupMissOnDigestChange(t *testing.T) {
	m := New()
	included := map[string]hash.Digest{"/src/foo.h": digestOf("v1")}
	stat := func(path string) (int64, int64, int64, error) { return 1, 1, 1, nil }
	m.AddResult(digestOf("result"), included, stat)

	changed := map[string]hash.Digest{"/src/foo.h": digestOf("v2")}
	hashFile := func(path string) (hash.Digest, error) { return changed[path], nil }

	_, ok := m.Lookup(changed, stat, hashFile, Sloppiness{})
	if ok {
		t.Fatal("expected miss after header content changed")
	}
}

func TestManifestMostRecentWins(t *testing.T) {
	m := New()
	included := map[string]hash.Digest{"/src/foo.h": digestOf("v1")}
	stat := func(path string) (int64, int64, int64, error) { return 1, 1, 1, nil }

	m.AddResult(digestOf("older"), included, stat)
	m.AddResult(digestOf("newer"), included, stat)

	hashFile := func(path string) (hash.Digest, error) { return included[path], nil }
	got, ok := m.Lookup(included, stat, hashFile, Sloppiness{})
	if !ok || got != digestOf("newer") {
		t.Fatalf("expected most-recent result to win, got %v", got)
	}
}

func TestManifestSloppyStatMatch(t *testing.T) {
	m := New()
	included := map[string]hash.Digest{"/src/foo.h": digestOf("v1")}
	stat := func(path string) (int64, int64, int64, error) { return 42, 7, 9, nil }
	m.AddResult(digestOf("result"), included, stat)

	// Simulate a later lookup where the file isn't in includedFiles (so we
	// fall back to sloppy stat matching) but stat still reports the same
	// size/mtime/ctime.
	hashCalled := false
	hashFile := func(path string) (hash.Digest, error) {
		hashCalled = true
		return hash.Digest{}, nil
	}
	got, ok := m.Lookup(nil, stat, hashFile, Sloppiness{FileStatMatches: true, IncludeFileMtime: true, IncludeFileCtime: true})
	if !ok || got != digestOf("result") {
		t.Fatalf("expected sloppy stat match hit, got %v ok=%v", got, ok)
	}
	if hashCalled {
		t.Fatal("sloppy stat match should avoid hashing the file")
	}
}

func TestManifestMarshalRoundTrip(t *testing.T) {
	m := New()
	included := map[string]hash.Digest{
		"/a.h": digestOf("a"),
		"/b.h": digestOf("b"),
	}
	stat := func(path string) (int64, int64, int64, error) { return 1, 2, 3, nil }
	m.AddResult(digestOf("r1"), included, stat)
	m.AddResult(digestOf("r2"), map[string]hash.Digest{"/a.h": digestOf("a")}, stat)

	data := m.Marshal()
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Files) != len(m.Files) || len(got.Results) != len(m.Results) {
		t.Fatalf("round trip shape mismatch: %+v vs %+v", got, m)
	}
}

func TestManifestRejectsOutOfRangeIndexes(t *testing.T) {
	bad := New()
	bad.Files = []string{"/a"}
	bad.FileInfos = []FileInfo{{FileIndex: 5}}
	if err := bad.Validate(); err == nil {
		t.Fatal("expected validation error for out-of-range file index")
	}
}
