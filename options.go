package tagcache

import (
	"log/slog"
	"time"
)

// Option configures a Cache.
type Option func(*Cache)

// WithObserver attaches an observer to receive operation events.
// @group Options
func WithObserver(o Observer) Option {
	return func(c *Cache) {
		c.observer = o
	}
}

// WithLogger sets the logger used for fallback and write-back warnings.
// @group Options
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = l
	}
}

// WithDefaultTTL applies ttl to writes that do not pass WithTTL.
// Zero keeps entries until they are deleted or evicted.
// @group Options
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		c.defaultTTL = ttl
	}
}
