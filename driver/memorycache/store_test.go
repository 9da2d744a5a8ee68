package memorycache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/goforj/tagcache/cachecore"
	"github.com/goforj/tagcache/cachetest"
)

func TestDriverContract(t *testing.T) {
	cachetest.RunDriverContract(t, New(Config{}), cachetest.Options{CaseName: t.Name()})
}

func TestDriverContractWithSweeper(t *testing.T) {
	cachetest.RunDriverContract(t, New(Config{CleanupInterval: 5 * time.Millisecond}), cachetest.Options{CaseName: t.Name()})
}

func TestSetGetWithTTL(t *testing.T) {
	ctx := context.Background()
	s := newStore(Config{})
	defer s.Dispose()

	if err := s.Set(ctx, "a", 1, cachecore.WithTTL(50*time.Millisecond)); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if got, ok, err := s.Get(ctx, "a"); err != nil || !ok || got != 1 {
		t.Fatalf("unexpected get: ok=%v value=%v err=%v", ok, got, err)
	}
	time.Sleep(80 * time.Millisecond)
	if _, ok, err := s.Get(ctx, "a"); err != nil || ok {
		t.Fatalf("expected expired key to miss: ok=%v err=%v", ok, err)
	}
	if exists, err := s.Has(ctx, "a"); err != nil || exists {
		t.Fatalf("expected has=false after expiry")
	}
	if s.items.ItemCount() != 0 {
		t.Fatalf("expected lazy expiry to delete the entry, still have %d", s.items.ItemCount())
	}
}

func TestLazyExpiryPrunesTags(t *testing.T) {
	ctx := context.Background()
	s := newStore(Config{})
	defer s.Dispose()

	if err := s.Set(ctx, "a", "v", cachecore.WithTTL(20*time.Millisecond), cachecore.WithTags("t")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	time.Sleep(40 * time.Millisecond)
	if exists, _ := s.Has(ctx, "a"); exists {
		t.Fatalf("expected key to be expired")
	}
	stats, _ := s.Stats(ctx)
	if stats.TagCount != 0 || stats.KeyCount != 0 || stats.Size != 0 {
		t.Fatalf("expected empty index after expiry, got %+v", stats)
	}
}

func TestStatsDropsUnreadExpiredEntries(t *testing.T) {
	ctx := context.Background()
	s := newStore(Config{})
	defer s.Dispose()

	if err := s.Set(ctx, "a", "v", cachecore.WithTTL(20*time.Millisecond), cachecore.WithTags("t")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := s.Set(ctx, "b", "w", cachecore.WithTags("u")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	time.Sleep(40 * time.Millisecond)

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	// "b" alone: 2 bytes of key plus 2 bytes of value.
	if stats.KeyCount != 1 || stats.TagCount != 1 || stats.Size != 4 {
		t.Fatalf("expected only the live entry in stats, got %+v", stats)
	}
	if _, ok := s.tags["t"]; ok {
		t.Fatalf("expected tag of expired entry to be pruned, got %v", s.tags)
	}
}

func TestKeySizeCountsCharacters(t *testing.T) {
	ctx := context.Background()
	s := newStore(Config{})
	defer s.Dispose()

	if err := s.Set(ctx, "clé", true); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	stats, _ := s.Stats(ctx)
	if stats.Size != 3*2+4 {
		t.Fatalf("expected key costed per character, got size %d", stats.Size)
	}
}

func TestOverwriteMovesKeyBetweenTags(t *testing.T) {
	ctx := context.Background()
	s := newStore(Config{})
	defer s.Dispose()

	if err := s.Set(ctx, "k", "one", cachecore.WithTags("old", "shared")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := s.Set(ctx, "k", "two", cachecore.WithTags("new", "shared")); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	if _, ok := s.tags["old"]; ok {
		t.Fatalf("expected empty bucket for old tag to be pruned")
	}
	if err := s.InvalidateTags(ctx, "old"); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
	if got, ok, _ := s.Get(ctx, "k"); !ok || got != "two" {
		t.Fatalf("expected key to survive stale tag invalidation, got %v ok=%v", got, ok)
	}
	if err := s.InvalidateTags(ctx, "new"); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatalf("expected key removed by its current tag")
	}
	if len(s.tags) != 0 {
		t.Fatalf("expected every bucket pruned, got %v", s.tags)
	}
}

func TestDeletePrunesTagBuckets(t *testing.T) {
	ctx := context.Background()
	s := newStore(Config{})
	defer s.Dispose()

	_ = s.Set(ctx, "a", 1, cachecore.WithTags("t1", "t2"))
	_ = s.Set(ctx, "b", 2, cachecore.WithTags("t2"))
	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, ok := s.tags["t1"]; ok {
		t.Fatalf("expected t1 bucket pruned")
	}
	if bucket := s.tags["t2"]; len(bucket) != 1 {
		t.Fatalf("expected t2 to keep b only, got %v", bucket)
	}
	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("second delete failed: %v", err)
	}
}

func TestEvictsOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := newStore(Config{MaxSize: 100})
	defer s.Dispose()

	// Each entry costs 4 bytes of key plus 16 bytes of value.
	for i := 0; i < 10; i++ {
		if err := s.Set(ctx, fmt.Sprintf("k%d", i), strings.Repeat("v", 8), cachecore.WithTags("all")); err != nil {
			t.Fatalf("set %d failed: %v", i, err)
		}
		stats, _ := s.Stats(ctx)
		if stats.Size > 100 {
			t.Fatalf("size %d exceeds budget after insert %d", stats.Size, i)
		}
	}

	for i := 0; i < 5; i++ {
		if exists, _ := s.Has(ctx, fmt.Sprintf("k%d", i)); exists {
			t.Fatalf("expected k%d evicted", i)
		}
	}
	for i := 5; i < 10; i++ {
		if exists, _ := s.Has(ctx, fmt.Sprintf("k%d", i)); !exists {
			t.Fatalf("expected k%d retained", i)
		}
	}
	stats, _ := s.Stats(ctx)
	if stats.Size != 100 || stats.KeyCount != 5 || stats.Evictions != 5 {
		t.Fatalf("unexpected stats after eviction: %+v", stats)
	}
	if len(s.tags["all"]) != 5 {
		t.Fatalf("expected evicted keys unlinked from tags, got %d", len(s.tags["all"]))
	}
}

func TestRewriteKeepsHotKeyYoung(t *testing.T) {
	ctx := context.Background()
	s := newStore(Config{MaxSize: 60})
	defer s.Dispose()

	value := strings.Repeat("v", 8)
	_ = s.Set(ctx, "k0", value)
	_ = s.Set(ctx, "k1", value)
	_ = s.Set(ctx, "k0", value)
	_ = s.Set(ctx, "k2", value)
	_ = s.Set(ctx, "k3", value)

	if exists, _ := s.Has(ctx, "k1"); exists {
		t.Fatalf("expected k1 to be the oldest write and evicted")
	}
	if exists, _ := s.Has(ctx, "k0"); !exists {
		t.Fatalf("expected rewritten k0 to survive")
	}
}

func TestOversizedEntryEmptiesTable(t *testing.T) {
	ctx := context.Background()
	s := newStore(Config{MaxSize: 10})
	defer s.Dispose()

	if err := s.Set(ctx, "big", strings.Repeat("x", 64)); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	stats, _ := s.Stats(ctx)
	if stats.KeyCount != 0 || stats.Size != 0 {
		t.Fatalf("expected oversized entry evicted, got %+v", stats)
	}
}

func TestUnboundedWhenMaxSizeUnset(t *testing.T) {
	ctx := context.Background()
	s := newStore(Config{})
	defer s.Dispose()

	for i := 0; i < 100; i++ {
		_ = s.Set(ctx, fmt.Sprintf("k%d", i), strings.Repeat("v", 100))
	}
	stats, _ := s.Stats(ctx)
	if stats.KeyCount != 100 || stats.Evictions != 0 {
		t.Fatalf("expected no eviction without a budget, got %+v", stats)
	}
}

func TestCustomSizer(t *testing.T) {
	ctx := context.Background()
	s := newStore(Config{Sizer: func(any) int64 { return 1000 }})
	defer s.Dispose()

	_ = s.Set(ctx, "ab", "v")
	stats, _ := s.Stats(ctx)
	if stats.Size != 1004 {
		t.Fatalf("expected custom sizer to be used, got %d", stats.Size)
	}
}

func TestSweeperRemovesExpiredEntries(t *testing.T) {
	ctx := context.Background()
	s := newStore(Config{CleanupInterval: 5 * time.Millisecond})
	defer s.Dispose()

	if err := s.Set(ctx, "k", "v", cachecore.WithTTL(10*time.Millisecond), cachecore.WithTags("t")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	time.Sleep(60 * time.Millisecond)

	s.mu.Lock()
	count, tags, size := s.items.ItemCount(), len(s.tags), s.size
	s.mu.Unlock()
	if count != 0 || tags != 0 || size != 0 {
		t.Fatalf("expected sweep to remove expired entry without reads: items=%d tags=%d size=%d", count, tags, size)
	}
}

func TestSweepersAreOwnedPerInstance(t *testing.T) {
	ctx := context.Background()
	first := newStore(Config{CleanupInterval: 5 * time.Millisecond})
	second := newStore(Config{CleanupInterval: 5 * time.Millisecond})
	defer second.Dispose()

	if err := first.Dispose(); err != nil {
		t.Fatalf("dispose failed: %v", err)
	}
	if err := second.Set(ctx, "k", "v", cachecore.WithTTL(10*time.Millisecond)); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	time.Sleep(60 * time.Millisecond)

	second.mu.Lock()
	count := second.items.ItemCount()
	second.mu.Unlock()
	if count != 0 {
		t.Fatalf("expected second driver to keep sweeping after first was disposed")
	}
}

func TestDisposeRejectsFurtherCalls(t *testing.T) {
	ctx := context.Background()
	s := newStore(Config{CleanupInterval: time.Millisecond})
	_ = s.Set(ctx, "k", "v", cachecore.WithTags("t"))

	if err := s.Dispose(); err != nil {
		t.Fatalf("dispose failed: %v", err)
	}
	if err := s.Dispose(); err != nil {
		t.Fatalf("second dispose should be a no-op, got %v", err)
	}
	if s.items.ItemCount() != 0 || len(s.tags) != 0 {
		t.Fatalf("expected dispose to release entries")
	}

	checks := map[string]error{}
	_, _, checks["get"] = s.Get(ctx, "k")
	_, checks["has"] = s.Has(ctx, "k")
	checks["set"] = s.Set(ctx, "k", "v")
	checks["delete"] = s.Delete(ctx, "k")
	checks["clear"] = s.Clear(ctx)
	checks["invalidate"] = s.InvalidateTags(ctx, "t")
	_, checks["stats"] = s.Stats(ctx)
	for op, err := range checks {
		if !errors.Is(err, cachecore.ErrDisposed) {
			t.Fatalf("expected %s to fail with ErrDisposed, got %v", op, err)
		}
	}
}

func TestClearKeepsHitMissCounters(t *testing.T) {
	ctx := context.Background()
	s := newStore(Config{})
	defer s.Dispose()

	_ = s.Set(ctx, "k", "v", cachecore.WithTags("t"))
	_, _, _ = s.Get(ctx, "k")
	_, _, _ = s.Get(ctx, "missing")
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	stats, _ := s.Stats(ctx)
	want := cachecore.Stats{Hits: 1, Misses: 1}
	if stats != want {
		t.Fatalf("expected %+v, got %+v", want, stats)
	}
}
