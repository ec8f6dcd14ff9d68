package ccache

// loader.go generalizes the teacher's pkg/loader.go singleflight wrapper
// from LoaderFunc[K,V] to the one concrete shape ccachego needs: dedup
// concurrent lookups for the same result key so that N parallel build jobs
// compiling the same translation unit (a common `make -j` pattern with
// unity builds or generated code) don't all redundantly miss, compile, and
// race to write the same cache entry.

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/Voskan/ccachego/pkg/hash"
)

type loaderGroup struct {
	g singleflight.Group
}

func newLoaderGroup() *loaderGroup {
	return &loaderGroup{}
}

// do executes fn exactly once per concurrently-requested key; every waiter
// receives the same (*LookupResult, error).
func (lg *loaderGroup) do(ctx context.Context, key hash.Digest, fn func(ctx context.Context) (*LookupResult, error)) (*LookupResult, error, bool) {
	res, err, shared := lg.g.Do(key.String(), func() (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return nil, err, shared
	}
	return res.(*LookupResult), nil, shared
}
