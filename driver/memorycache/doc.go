// Package memorycache provides the in-process cachecore.CacheDriver.
//
// Entries live in a per-instance go-cache table. A tag index maps each tag to
// the keys currently written with it and is kept exact through go-cache's
// eviction hook, so deletes, lazy expiry, sweeps and size-budget evictions all
// unlink tags the same way.
//
// Example:
//
//	driver := memorycache.New(memorycache.Config{
//		MaxSize:         8 << 20,
//		CleanupInterval: time.Minute,
//	})
//	defer driver.Dispose()
//
//	_ = driver.Set(ctx, "post:1", post, cachecore.WithTTL(time.Hour), cachecore.WithTags("posts"))
//	_ = driver.InvalidateTags(ctx, "posts")
package memorycache
