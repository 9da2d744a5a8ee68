package cachetest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/goforj/tagcache/cachecore"
)

// Options configures shared driver contract checks.
type Options struct {
	// CaseName is used to namespace keys. Defaults to t.Name().
	CaseName string
	// TTL controls the expiry duration used in TTL tests.
	TTL time.Duration
	// TTLWait is how long the harness waits for expiry to occur.
	TTLWait time.Duration
	// Wait advances time by d. Defaults to time.Sleep; backends with a
	// controllable clock (e.g. miniredis FastForward) can plug in here.
	Wait func(d time.Duration)
	// SkipDispose leaves the driver usable after the run.
	SkipDispose bool
}

// Driver is the contract exercised by RunDriverContract.
type Driver = cachecore.CacheDriver

// RunDriverContract runs a backend-agnostic driver contract suite.
// Unless SkipDispose is set, the driver is disposed at the end of the run.
func RunDriverContract(t *testing.T, driver Driver, opts Options) {
	t.Helper()

	caseName := opts.CaseName
	if caseName == "" {
		caseName = t.Name()
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 50 * time.Millisecond
	}
	wait := opts.TTLWait
	if wait <= 0 {
		wait = 120 * time.Millisecond
	}
	advance := opts.Wait
	if advance == nil {
		advance = time.Sleep
	}

	ctx := context.Background()
	key := func(s string) string {
		return sanitize(caseName) + ":" + s
	}

	// Set/Get round-trip.
	if err := driver.Set(ctx, key("alpha"), "value"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	got, ok, err := driver.Get(ctx, key("alpha"))
	if err != nil || !ok || got != "value" {
		t.Fatalf("unexpected get result: ok=%v value=%v err=%v", ok, got, err)
	}
	if err := driver.Set(ctx, key("alpha"), "overwritten"); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	if got, ok, err := driver.Get(ctx, key("alpha")); err != nil || !ok || got != "overwritten" {
		t.Fatalf("unexpected get after overwrite: ok=%v value=%v err=%v", ok, got, err)
	}

	// Structured values survive the backend.
	doc := map[string]any{"foo": "bar", "list": []any{"a", "b"}, "flag": true}
	if err := driver.Set(ctx, key("doc"), doc); err != nil {
		t.Fatalf("set doc failed: %v", err)
	}
	if got, ok, err := driver.Get(ctx, key("doc")); err != nil || !ok || !reflect.DeepEqual(got, doc) {
		t.Fatalf("unexpected doc: ok=%v value=%#v err=%v", ok, got, err)
	}

	// Has does not return stale data and does not count as a read.
	if exists, err := driver.Has(ctx, key("alpha")); err != nil || !exists {
		t.Fatalf("expected has=true, got %v err=%v", exists, err)
	}
	if exists, err := driver.Has(ctx, key("missing")); err != nil || exists {
		t.Fatalf("expected has=false, got %v err=%v", exists, err)
	}

	// TTL expiry.
	if err := driver.Set(ctx, key("ttl"), "v", cachecore.WithTTL(ttl)); err != nil {
		t.Fatalf("set ttl failed: %v", err)
	}
	if got, ok, err := driver.Get(ctx, key("ttl")); err != nil || !ok || got != "v" {
		t.Fatalf("expected ttl key before expiry: ok=%v value=%v err=%v", ok, got, err)
	}
	advance(wait)
	if _, ok, err := driver.Get(ctx, key("ttl")); err != nil || ok {
		t.Fatalf("expected ttl key expired: ok=%v err=%v", ok, err)
	}
	if exists, err := driver.Has(ctx, key("ttl")); err != nil || exists {
		t.Fatalf("expected has=false after expiry: %v err=%v", exists, err)
	}

	// Tag invalidation; x carries two tags and is deleted once.
	if err := driver.Set(ctx, key("x"), map[string]any{"foo": 1.0}, cachecore.WithTags(key("t1"), key("t2"))); err != nil {
		t.Fatalf("set x failed: %v", err)
	}
	if err := driver.Set(ctx, key("y"), map[string]any{"foo": 2.0}, cachecore.WithTags(key("t2"))); err != nil {
		t.Fatalf("set y failed: %v", err)
	}
	if err := driver.Set(ctx, key("z"), "untagged"); err != nil {
		t.Fatalf("set z failed: %v", err)
	}
	if err := driver.InvalidateTags(ctx, key("t2"), key("t1")); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
	for _, k := range []string{"x", "y"} {
		if _, ok, err := driver.Get(ctx, key(k)); err != nil || ok {
			t.Fatalf("expected %s invalidated: ok=%v err=%v", k, ok, err)
		}
	}
	if _, ok, err := driver.Get(ctx, key("z")); err != nil || !ok {
		t.Fatalf("expected untagged key to survive: ok=%v err=%v", ok, err)
	}
	if err := driver.InvalidateTags(ctx); err != nil {
		t.Fatalf("invalidate with no tags failed: %v", err)
	}
	if err := driver.InvalidateTags(ctx, key("unknown-tag")); err != nil {
		t.Fatalf("invalidate unknown tag failed: %v", err)
	}

	// Delete is idempotent.
	if err := driver.Set(ctx, key("a"), 1.0); err != nil {
		t.Fatalf("set a failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := driver.Delete(ctx, key("a")); err != nil {
			t.Fatalf("delete #%d failed: %v", i+1, err)
		}
		if _, ok, err := driver.Get(ctx, key("a")); err != nil || ok {
			t.Fatalf("expected key a deleted; ok=%v err=%v", ok, err)
		}
	}

	// Hit/miss accounting: 3 hits, 2 misses.
	before, err := driver.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if err := driver.Set(ctx, key("hit"), "h"); err != nil {
		t.Fatalf("set hit failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, ok, err := driver.Get(ctx, key("hit")); err != nil || !ok {
			t.Fatalf("expected hit: ok=%v err=%v", ok, err)
		}
	}
	for i := 0; i < 2; i++ {
		if _, ok, err := driver.Get(ctx, key("nope")); err != nil || ok {
			t.Fatalf("expected miss: ok=%v err=%v", ok, err)
		}
	}
	if _, err := driver.Has(ctx, key("hit")); err != nil {
		t.Fatalf("has failed: %v", err)
	}
	after, err := driver.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if after.Hits-before.Hits != 3 || after.Misses-before.Misses != 2 {
		t.Fatalf("expected +3 hits / +2 misses, got %+v -> %+v", before, after)
	}
	if after.KeyCount < 1 {
		t.Fatalf("expected live keys to be counted, got %+v", after)
	}

	// Clear resets structural stats but keeps hit/miss counters.
	if err := driver.Set(ctx, key("tagged"), "v", cachecore.WithTags(key("t3"))); err != nil {
		t.Fatalf("set tagged failed: %v", err)
	}
	if err := driver.Clear(ctx); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if _, ok, err := driver.Get(ctx, key("tagged")); err != nil || ok {
		t.Fatalf("expected clear to remove key; ok=%v err=%v", ok, err)
	}
	cleared, err := driver.Stats(ctx)
	if err != nil {
		t.Fatalf("stats after clear failed: %v", err)
	}
	if cleared.KeyCount != 0 || cleared.TagCount != 0 || cleared.Size != 0 {
		t.Fatalf("expected structural stats reset, got %+v", cleared)
	}
	if cleared.Hits < after.Hits || cleared.Misses < after.Misses {
		t.Fatalf("expected hit/miss counters preserved, got %+v after %+v", cleared, after)
	}

	if opts.SkipDispose {
		return
	}
	if err := driver.Dispose(); err != nil {
		t.Fatalf("dispose failed: %v", err)
	}
	if err := driver.Dispose(); err != nil {
		t.Fatalf("second dispose failed: %v", err)
	}
	if _, _, err := driver.Get(ctx, key("alpha")); !errors.Is(err, cachecore.ErrDisposed) {
		t.Fatalf("expected ErrDisposed from get after dispose, got %v", err)
	}
	if err := driver.Set(ctx, key("alpha"), "v"); !errors.Is(err, cachecore.ErrDisposed) {
		t.Fatalf("expected ErrDisposed from set after dispose, got %v", err)
	}
	if _, err := driver.Stats(ctx); !errors.Is(err, cachecore.ErrDisposed) {
		t.Fatalf("expected ErrDisposed from stats after dispose, got %v", err)
	}
}

// WaitForMiss polls until key is absent or wait elapses.
func WaitForMiss(ctx context.Context, driver Driver, key string, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		exists, err := driver.Has(ctx, key)
		if err != nil {
			return err
		}
		if !exists {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	exists, err := driver.Has(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("key %q still present after %s", key, wait)
	}
	return nil
}

func sanitize(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
