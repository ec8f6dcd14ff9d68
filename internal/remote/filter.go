package remote

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/Voskan/ccachego/pkg/hash"
)

// PerformanceFilter wraps a Backend and permanently drops it (for the
// lifetime of the filter, i.e. one ccachego invocation) after it accumulates
// too many failures, per spec §6: a flaky or slow remote must not keep
// taxing every subsequent lookup.
type PerformanceFilter struct {
	backend     Backend
	log         *zap.Logger
	maxFailures int

	mu       sync.Mutex
	failures int
	disabled bool
}

// NewPerformanceFilter returns a filter that disables backend after
// maxFailures consecutive Failures.
func NewPerformanceFilter(backend Backend, maxFailures int, log *zap.Logger) *PerformanceFilter {
	if maxFailures < 1 {
		maxFailures = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PerformanceFilter{backend: backend, maxFailures: maxFailures, log: log}
}

func (f *PerformanceFilter) Disabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disabled
}

func (f *PerformanceFilter) recordOutcome(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		f.failures = 0
		return
	}
	f.failures++
	if f.failures >= f.maxFailures && !f.disabled {
		f.disabled = true
		f.log.Warn("remote: disabling backend after repeated failures",
			zap.String("backend", f.backend.String()), zap.Int("failures", f.failures))
	}
}

func (f *PerformanceFilter) Get(ctx context.Context, key hash.Digest) ([]byte, bool, error) {
	if f.Disabled() {
		return nil, false, nil
	}
	data, ok, err := f.backend.Get(ctx, key)
	f.recordOutcome(err)
	return data, ok, err
}

func (f *PerformanceFilter) Put(ctx context.Context, key hash.Digest, value []byte, onlyIfMissing bool) (bool, error) {
	if f.Disabled() {
		return false, nil
	}
	stored, err := f.backend.Put(ctx, key, value, onlyIfMissing)
	f.recordOutcome(err)
	return stored, err
}

func (f *PerformanceFilter) Remove(ctx context.Context, key hash.Digest) error {
	if f.Disabled() {
		return nil
	}
	err := f.backend.Remove(ctx, key)
	f.recordOutcome(err)
	return err
}

func (f *PerformanceFilter) String() string { return f.backend.String() }
