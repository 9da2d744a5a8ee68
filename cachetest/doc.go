// Package cachetest provides reusable contract tests for cachecore.CacheDriver
// implementations.
//
// Example pattern (driver package test):
//
//	func TestRedisDriverContract(t *testing.T) {
//		mr := miniredis.RunT(t)
//		driver, err := rediscache.New(rediscache.Config{URL: "redis://" + mr.Addr()})
//		if err != nil {
//			t.Fatalf("new redis driver: %v", err)
//		}
//
//		// Namespace keys per test and tune TTL waits for backend semantics as needed.
//		cachetest.RunDriverContract(t, driver, cachetest.Options{
//			CaseName: t.Name(),
//			Wait:     mr.FastForward,
//		})
//	}
package cachetest
