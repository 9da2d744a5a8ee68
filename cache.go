package tagcache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/goforj/tagcache/cachecore"
)

// ErrNilCallback is returned by the Remember helpers when fn is nil.
var ErrNilCallback = errors.New("cache: remember requires a callback")

// Cache provides an ergonomic cache API on top of a CacheDriver.
type Cache struct {
	driver     CacheDriver
	defaultTTL time.Duration
	observer   Observer
	logger     *slog.Logger
}

// NewCache creates a cache facade bound to a concrete driver.
// @group Cache
//
// Example: cache over the in-process driver
//
//	c := tagcache.NewCache(memorycache.New(memorycache.Config{}))
//	fmt.Println(c.Driver()) // memory
func NewCache(driver CacheDriver, opts ...Option) *Cache {
	c := &Cache{driver: driver}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.defaultTTL < 0 {
		c.defaultTTL = 0
	}
	c.logger = cachecore.LoggerOrDiscard(c.logger)
	return c
}

// Store returns the underlying driver.
// @group Cache
func (c *Cache) Store() CacheDriver {
	return c.driver
}

// Driver reports the underlying driver kind.
// @group Cache
func (c *Cache) Driver() Driver {
	return c.driver.Driver()
}

// Get returns the value for key when present.
// @group Cache
//
// Example: get a value
//
//	ctx := context.Background()
//	c := tagcache.NewCache(memorycache.New(memorycache.Config{}))
//	_ = c.Set(ctx, "user:42", "Ada")
//	value, ok, _ := c.Get(ctx, "user:42")
//	fmt.Println(ok, value) // true Ada
func (c *Cache) Get(ctx context.Context, key string) (any, bool, error) {
	start := time.Now()
	value, ok, err := c.driver.Get(ctx, key)
	c.observe(ctx, "get", key, ok, err, start)
	return value, ok, err
}

// Has reports whether key holds a live entry without counting a hit or miss.
// @group Cache
func (c *Cache) Has(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ok, err := c.driver.Has(ctx, key)
	c.observe(ctx, "has", key, ok, err, start)
	return ok, err
}

// Set writes value to key. The default TTL applies unless opts carry WithTTL.
// @group Cache
//
// Example: tagged write with ttl
//
//	ctx := context.Background()
//	c := tagcache.NewCache(memorycache.New(memorycache.Config{}))
//	err := c.Set(ctx, "user:42", "Ada", tagcache.WithTTL(time.Minute), tagcache.WithTags("users"))
//	fmt.Println(err == nil) // true
func (c *Cache) Set(ctx context.Context, key string, value any, opts ...SetOption) error {
	start := time.Now()
	err := c.driver.Set(ctx, key, value, c.setOptions(opts)...)
	c.observe(ctx, "set", key, false, err, start)
	return err
}

// Pull returns the value for key and deletes it.
// @group Cache
//
// Example: one-time token
//
//	ctx := context.Background()
//	c := tagcache.NewCache(memorycache.New(memorycache.Config{}))
//	_ = c.Set(ctx, "reset:42", "token")
//	value, ok, _ := c.Pull(ctx, "reset:42")
//	fmt.Println(ok, value) // true token
func (c *Cache) Pull(ctx context.Context, key string) (any, bool, error) {
	start := time.Now()
	value, ok, err := c.driver.Get(ctx, key)
	if err != nil || !ok {
		c.observe(ctx, "pull", key, ok, err, start)
		return nil, ok, err
	}
	err = c.driver.Delete(ctx, key)
	c.observe(ctx, "pull", key, true, err, start)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Delete removes key. Deleting a missing key is not an error.
// @group Cache
func (c *Cache) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := c.driver.Delete(ctx, key)
	c.observe(ctx, "delete", key, false, err, start)
	return err
}

// Clear removes every entry owned by the driver.
// @group Cache
func (c *Cache) Clear(ctx context.Context) error {
	start := time.Now()
	err := c.driver.Clear(ctx)
	c.observe(ctx, "clear", "", false, err, start)
	return err
}

// InvalidateTags removes every entry written with any of tags.
// @group Cache
//
// Example: invalidate a group
//
//	ctx := context.Background()
//	c := tagcache.NewCache(memorycache.New(memorycache.Config{}))
//	_ = c.Set(ctx, "user:1", "Ada", tagcache.WithTags("users"))
//	_ = c.Set(ctx, "user:2", "Grace", tagcache.WithTags("users"))
//	_ = c.InvalidateTags(ctx, "users")
//	ok, _ := c.Has(ctx, "user:1")
//	fmt.Println(ok) // false
func (c *Cache) InvalidateTags(ctx context.Context, tags ...string) error {
	start := time.Now()
	err := c.driver.InvalidateTags(ctx, tags...)
	c.observe(ctx, "invalidate_tags", "", false, err, start)
	return err
}

// Stats returns the driver's counters.
// @group Cache
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	return c.driver.Stats(ctx)
}

// Dispose releases the driver.
// @group Cache
func (c *Cache) Dispose() error {
	return c.driver.Dispose()
}

// Remember returns the cached value for key, or computes it with fn and stores
// it when missing.
//
// Cache failures never fail the call: a read error is logged and fn is used
// directly, and a failed write-back is logged and the computed value returned.
// Only errors from fn are returned.
// @group Cache
//
// Example: remember a computed value
//
//	ctx := context.Background()
//	c := tagcache.NewCache(memorycache.New(memorycache.Config{}))
//	value, err := c.Remember(ctx, "dashboard:summary", func(context.Context) (any, error) {
//		return "payload", nil
//	}, tagcache.WithTTL(time.Minute))
//	fmt.Println(err == nil, value) // true payload
func (c *Cache) Remember(ctx context.Context, key string, fn func(context.Context) (any, error), opts ...SetOption) (any, error) {
	start := time.Now()
	if fn == nil {
		c.observe(ctx, "remember", key, false, ErrNilCallback, start)
		return nil, ErrNilCallback
	}
	value, ok, err := c.Get(ctx, key)
	if err == nil && ok {
		c.observe(ctx, "remember", key, true, nil, start)
		return value, nil
	}
	readFailed := err != nil
	if readFailed {
		c.logger.Warn("cache read failed, computing value directly", "key", key, "driver", string(c.Driver()), "error", err)
	}

	value, err = fn(ctx)
	if err != nil {
		c.observe(ctx, "remember", key, false, err, start)
		return nil, err
	}
	if !readFailed {
		c.writeBack(ctx, key, value, opts)
	}
	c.observe(ctx, "remember", key, false, nil, start)
	return value, nil
}

// GetAs returns the value for key as T.
//
// Values that are already a T are returned as is. Values decoded by a codec
// into generic shapes (maps, slices, float64) are converted through JSON.
// @group Cache Typed
//
// Example: typed read
//
//	type Profile struct{ Name string }
//	ctx := context.Background()
//	c := tagcache.NewCache(memorycache.New(memorycache.Config{}))
//	_ = c.Set(ctx, "profile:42", Profile{Name: "Ada"})
//	p, ok, _ := tagcache.GetAs[Profile](ctx, c, "profile:42")
//	fmt.Println(ok, p.Name) // true Ada
func GetAs[T any](ctx context.Context, cache *Cache, key string) (T, bool, error) {
	var zero T
	start := time.Now()
	value, ok, err := cache.driver.Get(ctx, key)
	if err != nil || !ok {
		cache.observe(ctx, "get_as", key, ok, err, start)
		return zero, ok, err
	}
	out, err := convert[T](key, value)
	if err != nil {
		cache.observe(ctx, "get_as", key, false, err, start)
		return zero, false, err
	}
	cache.observe(ctx, "get_as", key, true, nil, start)
	return out, true, nil
}

// SetAs writes a typed value. It is Set with the value type checked at compile time.
// @group Cache Typed
func SetAs[T any](ctx context.Context, cache *Cache, key string, value T, opts ...SetOption) error {
	return cache.Set(ctx, key, value, opts...)
}

// RememberAs is the typed variant of Remember. A cached value that cannot be
// converted to T is treated as a miss and overwritten.
// @group Cache Typed
//
// Example: typed remember
//
//	type Settings struct{ Enabled bool }
//	ctx := context.Background()
//	c := tagcache.NewCache(memorycache.New(memorycache.Config{}))
//	s, err := tagcache.RememberAs(ctx, c, "settings:alerts", func(context.Context) (Settings, error) {
//		return Settings{Enabled: true}, nil
//	})
//	fmt.Println(err == nil, s.Enabled) // true true
func RememberAs[T any](ctx context.Context, cache *Cache, key string, fn func(context.Context) (T, error), opts ...SetOption) (T, error) {
	var zero T
	start := time.Now()
	if fn == nil {
		cache.observe(ctx, "remember_as", key, false, ErrNilCallback, start)
		return zero, ErrNilCallback
	}
	out, ok, err := GetAs[T](ctx, cache, key)
	if err == nil && ok {
		cache.observe(ctx, "remember_as", key, true, nil, start)
		return out, nil
	}
	readFailed := err != nil && !cachecore.IsDeserialization(err)
	switch {
	case readFailed:
		cache.logger.Warn("cache read failed, computing value directly", "key", key, "driver", string(cache.Driver()), "error", err)
	case err != nil:
		cache.logger.Debug("cached value has an unexpected shape, recomputing", "key", key, "error", err)
	}

	out, err = fn(ctx)
	if err != nil {
		cache.observe(ctx, "remember_as", key, false, err, start)
		return zero, err
	}
	if !readFailed {
		cache.writeBack(ctx, key, out, opts)
	}
	cache.observe(ctx, "remember_as", key, false, nil, start)
	return out, nil
}

func convert[T any](key string, value any) (T, error) {
	if typed, ok := value.(T); ok {
		return typed, nil
	}
	var out T
	raw, err := json.Marshal(value)
	if err != nil {
		return out, cachecore.DeserializationError(key, err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, cachecore.DeserializationError(key, err)
	}
	return out, nil
}

func (c *Cache) writeBack(ctx context.Context, key string, value any, opts []SetOption) {
	if err := c.Set(ctx, key, value, opts...); err != nil {
		c.logger.Warn("cache write-back failed", "key", key, "driver", string(c.Driver()), "error", err)
	}
}

func (c *Cache) setOptions(opts []SetOption) []SetOption {
	if c.defaultTTL <= 0 {
		return opts
	}
	return append([]SetOption{cachecore.WithTTL(c.defaultTTL)}, opts...)
}

func (c *Cache) observe(ctx context.Context, op, key string, hit bool, err error, start time.Time) {
	if c.observer == nil {
		return
	}
	c.observer.OnCacheOp(ctx, op, key, hit, err, time.Since(start), c.Driver())
}
