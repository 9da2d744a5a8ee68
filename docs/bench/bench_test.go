//go:build bench
// +build bench

package bench

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goforj/tagcache"
	"github.com/goforj/tagcache/driver/memorycache"
	"github.com/goforj/tagcache/driver/rediscache"
	"github.com/goforj/tagcache/driver/sqlcache"
)

type benchCase struct {
	name string
	new  func(testing.TB) *tagcache.Cache
}

// BenchmarkCacheSetGet runs without external services: redis is served by
// miniredis and sql by a sqlite file. BENCH_DRIVER selects a single driver.
func BenchmarkCacheSetGet(b *testing.B) {
	wantedDriver := os.Getenv("BENCH_DRIVER")
	var cases []benchCase
	for _, bc := range allCases() {
		if wantedDriver == "" || wantedDriver == bc.name {
			cases = append(cases, bc)
		}
	}
	if len(cases) == 0 {
		b.Fatalf("no benchmark cases selected; BENCH_DRIVER=%q", wantedDriver)
	}

	for _, bc := range cases {
		bc := bc
		b.Run(bc.name, func(b *testing.B) {
			c := bc.new(b)
			defer c.Dispose()
			benchmarkSetGet(b, c)
		})
	}
}

func allCases() []benchCase {
	return []benchCase{
		{
			name: "memory",
			new: func(testing.TB) *tagcache.Cache {
				return tagcache.NewCache(memorycache.New(memorycache.Config{MaxSize: 64 << 20}))
			},
		},
		{
			name: "redis",
			new: func(tb testing.TB) *tagcache.Cache {
				mr := miniredis.NewMiniRedis()
				if err := mr.Start(); err != nil {
					tb.Fatalf("start miniredis: %v", err)
				}
				tb.Cleanup(mr.Close)
				store, err := rediscache.New(rediscache.Config{URL: "redis://" + mr.Addr()})
				if err != nil {
					tb.Fatalf("redis store: %v", err)
				}
				return tagcache.NewCache(store)
			},
		},
		{
			name: "sqlite",
			new: func(tb testing.TB) *tagcache.Cache {
				store, err := sqlcache.New(context.Background(), sqlcache.Config{
					DriverName: "sqlite",
					DSN:        "file:" + tb.TempDir() + "/bench.db",
				})
				if err != nil {
					tb.Fatalf("sqlite store: %v", err)
				}
				return tagcache.NewCache(store)
			},
		},
	}
}

func benchmarkSetGet(b *testing.B, c *tagcache.Cache) {
	b.Helper()
	ctx := context.Background()
	type profile struct {
		Name  string `json:"name"`
		Level int    `json:"level"`
	}

	cases := []struct {
		name string
		run  func(i int)
	}{
		{
			name: "set_get_string",
			run: func(int) {
				_ = c.Set(ctx, "bench:key", "value", tagcache.WithTTL(time.Minute))
				_, _, _ = c.Get(ctx, "bench:key")
			},
		},
		{
			name: "set_get_typed_struct",
			run: func(int) {
				_ = tagcache.SetAs(ctx, c, "bench:profile", profile{Name: "Ada", Level: 7}, tagcache.WithTags("profiles"))
				_, _, _ = tagcache.GetAs[profile](ctx, c, "bench:profile")
			},
		},
		{
			name: "tagged_write_invalidate",
			run: func(i int) {
				tag := fmt.Sprintf("group:%d", i%16)
				_ = c.Set(ctx, fmt.Sprintf("bench:%d", i%256), i, tagcache.WithTags(tag))
				if i%64 == 0 {
					_ = c.InvalidateTags(ctx, tag)
				}
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		b.Run(tc.name, func(b *testing.B) {
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				tc.run(i)
			}
		})
	}
}
