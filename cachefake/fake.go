package cachefake

import (
	"context"
	"sync"
	"testing"

	"github.com/goforj/tagcache"
	"github.com/goforj/tagcache/cachecore"
	"github.com/goforj/tagcache/driver/memorycache"
)

// Op identifies a cache operation for assertions.
type Op string

const (
	OpGet        Op = "get"
	OpSet        Op = "set"
	OpHas        Op = "has"
	OpDelete     Op = "delete"
	OpClear      Op = "clear"
	OpInvalidate Op = "invalidate"
)

// Fake exposes a deterministic in-memory driver plus assertion helpers for tests.
// It wraps the memory driver so no external services are needed.
type Fake struct {
	cache  *tagcache.Cache
	counts map[Op]map[string]int
	mu     sync.Mutex
}

// New creates a Fake backed by an unbounded memory driver.
func New() *Fake {
	driver := &countingDriver{inner: memorycache.New(memorycache.Config{})}
	f := &Fake{
		cache:  tagcache.NewCache(driver),
		counts: make(map[Op]map[string]int),
	}
	driver.onCount = f.record
	return f
}

// Cache returns the cache facade to inject into code under test.
func (f *Fake) Cache() *tagcache.Cache { return f.cache }

// Reset clears recorded counts.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts = make(map[Op]map[string]int)
}

// AssertCalled verifies key was touched by op the expected number of times.
// Clear is recorded under the empty key; InvalidateTags under each tag.
func (f *Fake) AssertCalled(t *testing.T, op Op, key string, times int) {
	t.Helper()
	if got := f.Count(op, key); got != times {
		t.Fatalf("expected %s %q called %d times, got %d", op, key, times, got)
	}
}

// AssertNotCalled ensures key was never touched by op.
func (f *Fake) AssertNotCalled(t *testing.T, op Op, key string) {
	t.Helper()
	if got := f.Count(op, key); got != 0 {
		t.Fatalf("expected %s %q not called, got %d", op, key, got)
	}
}

// AssertTotal ensures the total call count for an op matches times.
func (f *Fake) AssertTotal(t *testing.T, op Op, times int) {
	t.Helper()
	if got := f.Total(op); got != times {
		t.Fatalf("expected %s total=%d, got %d", op, times, got)
	}
}

// Count returns calls for op+key.
func (f *Fake) Count(op Op, key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts[op] == nil {
		return 0
	}
	return f.counts[op][key]
}

// Total returns total calls for an op across keys.
func (f *Fake) Total(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum int
	for _, v := range f.counts[op] {
		sum += v
	}
	return sum
}

func (f *Fake) record(op Op, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts[op] == nil {
		f.counts[op] = make(map[string]int)
	}
	f.counts[op][key]++
}

// countingDriver wraps a CacheDriver to record calls.
type countingDriver struct {
	inner   cachecore.CacheDriver
	onCount func(Op, string)
}

func (d *countingDriver) Driver() cachecore.Driver { return d.inner.Driver() }

func (d *countingDriver) Set(ctx context.Context, key string, value any, opts ...cachecore.SetOption) error {
	d.bump(OpSet, key)
	return d.inner.Set(ctx, key, value, opts...)
}

func (d *countingDriver) Get(ctx context.Context, key string) (any, bool, error) {
	d.bump(OpGet, key)
	return d.inner.Get(ctx, key)
}

func (d *countingDriver) Has(ctx context.Context, key string) (bool, error) {
	d.bump(OpHas, key)
	return d.inner.Has(ctx, key)
}

func (d *countingDriver) Delete(ctx context.Context, key string) error {
	d.bump(OpDelete, key)
	return d.inner.Delete(ctx, key)
}

func (d *countingDriver) Clear(ctx context.Context) error {
	d.bump(OpClear, "")
	return d.inner.Clear(ctx)
}

func (d *countingDriver) InvalidateTags(ctx context.Context, tags ...string) error {
	for _, tag := range cachecore.NormalizeTags(tags) {
		d.bump(OpInvalidate, tag)
	}
	return d.inner.InvalidateTags(ctx, tags...)
}

func (d *countingDriver) Stats(ctx context.Context) (cachecore.Stats, error) {
	return d.inner.Stats(ctx)
}

func (d *countingDriver) Dispose() error { return d.inner.Dispose() }

func (d *countingDriver) bump(op Op, key string) {
	if d.onCount != nil {
		d.onCount(op, key)
	}
}
