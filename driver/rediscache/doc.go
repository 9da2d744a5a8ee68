// Package rediscache provides a Redis-backed cachecore.CacheDriver.
//
// Values are encoded with the configured codec and stored under a key prefix.
// Tags are kept as Redis sets next to the data, together with a per-key set
// of the tags it was last written with, so a rewrite or delete takes the key
// out of tags it no longer carries. Expiry is delegated to Redis.
//
// Example:
//
//	import (
//		"github.com/goforj/tagcache"
//		"github.com/goforj/tagcache/driver/rediscache"
//	)
//
//	driver, err := rediscache.New(rediscache.Config{
//		URL:    "redis://127.0.0.1:6379/0",
//		Prefix: "app:",
//	})
//	if err != nil {
//		return err
//	}
//	c := tagcache.NewCache(driver)
package rediscache
