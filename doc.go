// Package tagcache is a cache facade over interchangeable drivers that share
// one contract: key/value writes with an optional TTL and tags, reads that
// count hits and misses, and invalidation of every entry carrying a tag.
//
// Drivers live under driver/: memorycache (in-process, size-bounded),
// rediscache, sqlcache (sqlite, postgres, mysql) and natscache (JetStream
// key-value). Remote drivers store bytes produced by a cachecore.Codec, which
// GzipCodec and EncryptedCodec can wrap.
package tagcache
