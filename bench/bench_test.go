// Package bench provides reproducible micro-benchmarks for ccachego's hot
// paths. Run via:  go test ./bench -bench=. -benchmem -cpu 1,4,16
//
// We measure:
//  1. HasherDigest    - building one BLAKE3 digest over a typical argv
//  2. EnvelopeRoundTrip - Serialize+Deserialize of a small result envelope
//  3. CacheGetHit     - Cache.Get against a warm preprocessed-mode entry
//  4. CacheGetMiss    - Cache.Get forcing a fresh preprocess+compile
//
// NOTE: Unit tests live alongside the packages under test; this file is
// only for performance.
//
// © 2025 ccachego authors. MIT License.
package bench

import (
	"context"
	"fmt"
	"testing"

	"github.com/Voskan/ccachego/pkg/ccache"
	"github.com/Voskan/ccachego/pkg/core"
	"github.com/Voskan/ccachego/pkg/hash"
)

func BenchmarkHasherDigest(b *testing.B) {
	args := []string{"-O2", "-Wall", "-Wextra", "-std=c17", "-c", "src/widget.c", "-o", "obj/widget.o"}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h := hash.New()
		h.Delimit("args")
		for _, a := range args {
			h.Update([]byte(a))
		}
		_ = h.Digest()
	}
}

func BenchmarkEnvelopeRoundTrip(b *testing.B) {
	payload := make([]byte, 16<<10)
	for i := range payload {
		payload[i] = byte(i)
	}
	header := core.Header{
		FormatVersion:   core.FormatVersion,
		EntryType:       core.EntryResult,
		CompressionType: core.CompressionZstd,
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		encoded, err := core.Serialize(header, payload)
		if err != nil {
			b.Fatal(err)
		}
		if _, _, err := core.Deserialize(encoded); err != nil {
			b.Fatal(err)
		}
	}
}

func newBenchCache(b *testing.B) *ccache.Cache {
	b.Helper()
	cfg, err := ccache.NewConfig(ccache.WithCacheDir(b.TempDir()), ccache.WithDirectMode(false))
	if err != nil {
		b.Fatal(err)
	}
	cache, err := ccache.Open(cfg)
	if err != nil {
		b.Fatal(err)
	}
	return cache
}

func benchCompilerDigest() hash.Digest {
	h := hash.New()
	h.Update([]byte("fake-compiler"))
	return h.Digest()
}

func benchInvocation(source string) ccache.Invocation {
	return ccache.Invocation{
		CompilerDigest: benchCompilerDigest(),
		Args:           []string{"-O2", "-c", "widget.c"},
		Preprocess: func(ctx context.Context) ([]byte, error) {
			return []byte(source), nil
		},
		Compile: func(ctx context.Context) (*core.Serializer, error) {
			s := core.NewSerializer()
			s.AddEmbedded(core.FileObject, make([]byte, 4<<10))
			return s, nil
		},
	}
}

func BenchmarkCacheGetHit(b *testing.B) {
	cache := newBenchCache(b)
	ctx := context.Background()
	inv := benchInvocation("int widget(void) { return 42; }")
	if _, err := cache.Get(ctx, inv); err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := cache.Get(ctx, inv); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCacheGetMiss(b *testing.B) {
	cache := newBenchCache(b)
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		inv := benchInvocation(fmt.Sprintf("int widget_%d(void) { return %d; }", i, i))
		if _, err := cache.Get(ctx, inv); err != nil {
			b.Fatal(err)
		}
	}
}
