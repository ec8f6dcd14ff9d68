package ccache

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Voskan/ccachego/pkg/core"
	"github.com/Voskan/ccachego/pkg/hash"
)

func osWriteFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}

func hashOf(s string) hash.Digest {
	h := hash.New()
	h.Update([]byte(s))
	return h.Digest()
}

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	cfg, err := NewConfig(func(c *Config) { c.CacheDir = t.TempDir() }, WithDirectMode(false))
	if err != nil {
		t.Fatal(err)
	}
	cache, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return cache
}

func compilerDigest() hash.Digest {
	h := hash.New()
	h.Update([]byte("fake-compiler"))
	return h.Digest()
}

func TestGetMissThenHit(t *testing.T) {
	cache := newTestCache(t)
	compiles := 0

	inv := func(src string) Invocation {
		return Invocation{
			CompilerDigest: compilerDigest(),
			Args:           []string{"-O2", "-c", "main.c"},
			Preprocess: func(ctx context.Context) ([]byte, error) {
				return []byte(src), nil
			},
			Compile: func(ctx context.Context) (*core.Serializer, error) {
				compiles++
				s := core.NewSerializer()
				s.AddEmbedded(core.FileStderrOutput, []byte("ok\n"))
				return s, nil
			},
		}
	}

	r1, err := cache.Get(context.Background(), inv("int main(){}"))
	if err != nil {
		t.Fatal(err)
	}
	if r1.Hit {
		t.Fatal("expected first call to miss")
	}
	if compiles != 1 {
		t.Fatalf("expected 1 compile, got %d", compiles)
	}

	r2, err := cache.Get(context.Background(), inv("int main(){}"))
	if err != nil {
		t.Fatal(err)
	}
	if !r2.Hit {
		t.Fatal("expected second call with identical source to hit")
	}
	if compiles != 1 {
		t.Fatalf("expected compile count to stay at 1, got %d", compiles)
	}
}

func TestGetDifferentSourceMisses(t *testing.T) {
	cache := newTestCache(t)
	compiles := 0
	compile := func(ctx context.Context) (*core.Serializer, error) {
		compiles++
		s := core.NewSerializer()
		s.AddEmbedded(core.FileStderrOutput, []byte("ok\n"))
		return s, nil
	}

	mk := func(src string) Invocation {
		return Invocation{
			CompilerDigest: compilerDigest(),
			Args:           []string{"-O2"},
			Preprocess:     func(ctx context.Context) ([]byte, error) { return []byte(src), nil },
			Compile:        compile,
		}
	}

	if _, err := cache.Get(context.Background(), mk("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.Get(context.Background(), mk("b")); err != nil {
		t.Fatal(err)
	}
	if compiles != 2 {
		t.Fatalf("expected 2 compiles for different sources, got %d", compiles)
	}
}

func TestDirectModeHitAvoidsPreprocessAndCompile(t *testing.T) {
	cfg, err := NewConfig(func(c *Config) { c.CacheDir = t.TempDir() }, WithDirectMode(true))
	if err != nil {
		t.Fatal(err)
	}
	cache, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}

	preprocesses, compiles := 0, 0
	includedFile := t.TempDir() + "/foo.h"
	if err := writeFile(includedFile, "header v1"); err != nil {
		t.Fatal(err)
	}
	headerDigest := hashOf("header v1")

	mk := func() Invocation {
		return Invocation{
			CompilerDigest: compilerDigest(),
			Args:           []string{"-O2"},
			Cwd:            "/src",
			IncludedFiles:  map[string]hash.Digest{includedFile: headerDigest},
			Preprocess: func(ctx context.Context) ([]byte, error) {
				preprocesses++
				return []byte("int main(){}"), nil
			},
			Compile: func(ctx context.Context) (*core.Serializer, error) {
				compiles++
				s := core.NewSerializer()
				s.AddEmbedded(core.FileStderrOutput, []byte("ok\n"))
				return s, nil
			},
		}
	}

	if _, err := cache.Get(context.Background(), mk()); err != nil {
		t.Fatal(err)
	}
	if preprocesses != 1 || compiles != 1 {
		t.Fatalf("expected exactly 1 preprocess+compile on miss, got %d/%d", preprocesses, compiles)
	}

	r2, err := cache.Get(context.Background(), mk())
	if err != nil {
		t.Fatal(err)
	}
	if !r2.Hit || r2.Stat != core.StatDirectCacheHit {
		t.Fatalf("expected a direct-mode hit, got %+v", r2)
	}
	if preprocesses != 1 || compiles != 1 {
		t.Fatalf("expected direct-mode hit to avoid preprocessing/compiling, got %d/%d", preprocesses, compiles)
	}
}

func writeFile(path, content string) error {
	return osWriteFile(path, []byte(content))
}

func TestTimeMacroDisablesDirectMode(t *testing.T) {
	cfg, err := NewConfig(func(c *Config) { c.CacheDir = t.TempDir() }, WithDirectMode(true))
	if err != nil {
		t.Fatal(err)
	}
	cache, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}

	mk := func() Invocation {
		return Invocation{
			CompilerDigest: compilerDigest(),
			Args:           []string{"-O2"},
			Cwd:            "/src",
			Source:         []byte(`const char *t = __TIME__;`),
			Preprocess: func(ctx context.Context) ([]byte, error) {
				return []byte(`const char *t = "12:34:56";`), nil
			},
			Compile: func(ctx context.Context) (*core.Serializer, error) {
				s := core.NewSerializer()
				s.AddEmbedded(core.FileObject, []byte("obj"))
				return s, nil
			},
		}
	}

	if _, err := cache.Get(context.Background(), mk()); err != nil {
		t.Fatal(err)
	}
	r2, err := cache.Get(context.Background(), mk())
	if err != nil {
		t.Fatal(err)
	}
	if !r2.Hit || r2.Stat != core.StatPreprocessedCacheHit {
		t.Fatalf("expected __TIME__ source to bypass direct mode and hit preprocessed, got %+v", r2)
	}
}

type rawRecordingVisitor struct {
	raw      map[int]core.FileType
	embedded map[core.FileType][]byte
}

func (v *rawRecordingVisitor) OnEmbedded(n int, t core.FileType, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	v.embedded[t] = cp
	return nil
}

func (v *rawRecordingVisitor) OnRaw(n int, t core.FileType, size int64) error {
	v.raw[n] = t
	return nil
}

func TestHardLinkStoresRawObject(t *testing.T) {
	cfg, err := NewConfig(func(c *Config) { c.CacheDir = t.TempDir() }, WithDirectMode(false), WithHardLink(true))
	if err != nil {
		t.Fatal(err)
	}
	cache, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}

	objBytes := []byte("raw object bytes")
	inv := Invocation{
		CompilerDigest: compilerDigest(),
		Args:           []string{"-O2"},
		Preprocess:     func(ctx context.Context) ([]byte, error) { return []byte("int raw;"), nil },
		Compile: func(ctx context.Context) (*core.Serializer, error) {
			s := core.NewSerializer()
			s.AddEmbedded(core.FileObject, objBytes)
			s.AddEmbedded(core.FileStderrOutput, []byte("warning: w\n"))
			return s, nil
		},
	}

	if _, err := cache.Get(context.Background(), inv); err != nil {
		t.Fatal(err)
	}

	r2, err := cache.Get(context.Background(), inv)
	if err != nil {
		t.Fatal(err)
	}
	if !r2.Hit {
		t.Fatal("expected second invocation to hit")
	}

	// The stored entry must carry the object as a raw record and the
	// diagnostics inline.
	v := &rawRecordingVisitor{raw: make(map[int]core.FileType), embedded: make(map[core.FileType][]byte)}
	if err := core.DeserializeResult(r2.Result.Serialize(), v); err != nil {
		t.Fatal(err)
	}
	if len(v.raw) != 1 {
		t.Fatalf("expected exactly 1 raw record, got %d", len(v.raw))
	}
	if _, ok := v.embedded[core.FileStderrOutput]; !ok {
		t.Fatal("expected stderr to stay embedded")
	}

	var rawNum int
	for n, ft := range v.raw {
		if ft != core.FileObject {
			t.Fatalf("expected raw record to be the object, got %v", ft)
		}
		rawNum = n
	}

	dest := filepath.Join(t.TempDir(), "out.o")
	if err := cache.RetrieveRawFile(r2.Key, rawNum, dest); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(objBytes) {
		t.Fatalf("retrieved object mismatch: %q", got)
	}
}

func TestNamespaceIsolation(t *testing.T) {
	dir := t.TempDir()
	open := func(ns string) *Cache {
		cfg, err := NewConfig(func(c *Config) { c.CacheDir = dir }, WithDirectMode(false), WithNamespace(ns))
		if err != nil {
			t.Fatal(err)
		}
		cache, err := Open(cfg)
		if err != nil {
			t.Fatal(err)
		}
		return cache
	}

	compiles := 0
	inv := Invocation{
		CompilerDigest: compilerDigest(),
		Args:           []string{"-O2"},
		Preprocess:     func(ctx context.Context) ([]byte, error) { return []byte("int shared;"), nil },
		Compile: func(ctx context.Context) (*core.Serializer, error) {
			compiles++
			s := core.NewSerializer()
			s.AddEmbedded(core.FileObject, []byte("obj"))
			return s, nil
		},
	}

	if _, err := open("team-a").Get(context.Background(), inv); err != nil {
		t.Fatal(err)
	}

	r, err := open("team-b").Get(context.Background(), inv)
	if err != nil {
		t.Fatal(err)
	}
	if r.Hit {
		t.Fatal("expected a different namespace to never match the stored entry")
	}
	if compiles != 2 {
		t.Fatalf("expected both namespaces to compile, got %d", compiles)
	}
}

func TestCorruptEntrySelfHeals(t *testing.T) {
	cache := newTestCache(t)
	compiles := 0
	inv := Invocation{
		CompilerDigest: compilerDigest(),
		Args:           []string{"-O2"},
		Preprocess:     func(ctx context.Context) ([]byte, error) { return []byte("int x;"), nil },
		Compile: func(ctx context.Context) (*core.Serializer, error) {
			compiles++
			s := core.NewSerializer()
			s.AddEmbedded(core.FileObject, []byte("obj"))
			return s, nil
		},
	}

	if _, err := cache.Get(context.Background(), inv); err != nil {
		t.Fatal(err)
	}

	// Flip one byte of the stored result entry.
	var target string
	err := filepath.Walk(cache.store.Root(), func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		if strings.HasSuffix(path, "R") {
			target = path
		}
		return nil
	})
	if err != nil || target == "" {
		t.Fatalf("could not locate stored result entry: %v", err)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)-1] ^= 0xFF
	if err := os.WriteFile(target, data, 0o644); err != nil {
		t.Fatal(err)
	}

	r2, err := cache.Get(context.Background(), inv)
	if err != nil {
		t.Fatal(err)
	}
	if r2.Hit {
		t.Fatal("expected corrupt entry to be treated as a miss")
	}
	if compiles != 2 {
		t.Fatalf("expected a recompile after corruption, got %d compiles", compiles)
	}

	r3, err := cache.Get(context.Background(), inv)
	if err != nil {
		t.Fatal(err)
	}
	if !r3.Hit {
		t.Fatal("expected re-written entry to hit again")
	}
}

func TestStatsRecordHitsAndMisses(t *testing.T) {
	cache := newTestCache(t)
	compile := func(ctx context.Context) (*core.Serializer, error) {
		s := core.NewSerializer()
		s.AddEmbedded(core.FileStderrOutput, []byte("ok\n"))
		return s, nil
	}
	inv := Invocation{
		CompilerDigest: compilerDigest(),
		Args:           []string{"-O2"},
		Preprocess:     func(ctx context.Context) ([]byte, error) { return []byte("x"), nil },
		Compile:        compile,
	}

	cache.Get(context.Background(), inv)
	cache.Get(context.Background(), inv)

	counters, err := cache.stats.Aggregate()
	if err != nil {
		t.Fatal(err)
	}
	if counters.Get(core.StatPreprocessedCacheMiss) != 1 {
		t.Fatalf("expected 1 miss recorded, got %d", counters.Get(core.StatPreprocessedCacheMiss))
	}
	if counters.Get(core.StatPreprocessedCacheHit) != 1 {
		t.Fatalf("expected 1 hit recorded, got %d", counters.Get(core.StatPreprocessedCacheHit))
	}
	if counters.Get(core.StatCacheMiss) != 1 {
		t.Fatalf("expected aggregate cache_miss of 1, got %d", counters.Get(core.StatCacheMiss))
	}
	if counters.Get(core.StatCacheHit) != 1 {
		t.Fatalf("expected aggregate cache_hit of 1, got %d", counters.Get(core.StatCacheHit))
	}
	if counters.Get(core.StatCalls) != 2 {
		t.Fatalf("expected 2 calls recorded, got %d", counters.Get(core.StatCalls))
	}
}
