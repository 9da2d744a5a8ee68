package tagcache

import (
	"time"

	"github.com/goforj/tagcache/cachecore"
)

// Driver identifies a cache backend.
type Driver = cachecore.Driver

const (
	DriverMemory = cachecore.DriverMemory
	DriverRedis  = cachecore.DriverRedis
	DriverSQL    = cachecore.DriverSQL
	DriverNATS   = cachecore.DriverNATS
)

// CacheDriver is the contract implemented by every backend under driver/.
type CacheDriver = cachecore.CacheDriver

// Stats is a point-in-time snapshot of driver counters.
type Stats = cachecore.Stats

// SetOption configures a single write.
type SetOption = cachecore.SetOption

// ErrDisposed is returned by drivers after Dispose.
var ErrDisposed = cachecore.ErrDisposed

// WithTTL expires the entry ttl after the write.
// @group Options
func WithTTL(ttl time.Duration) SetOption {
	return cachecore.WithTTL(ttl)
}

// WithTags associates the entry with tags for InvalidateTags.
// @group Options
func WithTags(tags ...string) SetOption {
	return cachecore.WithTags(tags...)
}
