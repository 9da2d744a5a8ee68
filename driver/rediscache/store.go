package rediscache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/goforj/tagcache/cachecore"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix    = "cache:"
	defaultScanCount = 200
	tagSegment       = "tag:"
	keyTagsSegment   = "keytags:"
)

// Client captures the subset of redis.Client used by the store.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Pipeline() redis.Pipeliner
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Config configures a Redis-backed cache driver.
type Config struct {
	// URL is parsed with redis.ParseURL when Client is nil,
	// e.g. "redis://localhost:6379/0".
	URL string
	// Client overrides URL. It is closed by Dispose.
	Client Client
	// Prefix namespaces every key written by the driver. Defaults to "cache:".
	Prefix string
	// Codec serializes values. Defaults to cachecore.JSONCodec.
	Codec cachecore.Codec
	// ScanCount is the COUNT hint for SCAN during Clear and Stats.
	ScanCount int64
	Logger    *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Prefix == "" {
		c.Prefix = defaultPrefix
	}
	if c.ScanCount <= 0 {
		c.ScanCount = defaultScanCount
	}
	c.Codec = cachecore.CodecOrDefault(c.Codec)
	c.Logger = cachecore.LoggerOrDiscard(c.Logger)
	return c
}

// Store is a cachecore.CacheDriver backed by Redis.
//
// Data lives at <prefix><key>; each tag is a Redis set at <prefix>tag:<tag>
// holding the data keys written with it, and <prefix>keytags:<key> is the set
// of tags the key was last written with. The keytags set carries no expiry so
// a rewrite after TTL expiry can still leave its old tags. Keys that
// themselves start with "tag:" or "keytags:" are reserved.
type Store struct {
	client    Client
	prefix    string
	codec     cachecore.Codec
	scanCount int64
	logger    *slog.Logger

	hits     atomic.Int64
	misses   atomic.Int64
	disposed atomic.Bool
}

// New builds a Redis-backed cache driver.
//
// Defaults:
// - Prefix: "cache:" when empty
// - Codec: JSON when nil
// - ScanCount: 200 when <= 0
// - Logger: discarded when nil
//
// Example: driver from a URL
//
//	store, err := rediscache.New(rediscache.Config{URL: "redis://127.0.0.1:6379/0"})
//	if err != nil {
//		return err
//	}
//	defer store.Dispose()
func New(cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()
	client := cfg.Client
	if client == nil {
		if cfg.URL == "" {
			return nil, cachecore.ConfigError("redis url or client is required")
		}
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, cachecore.ConfigError(fmt.Sprintf("invalid redis url: %v", err))
		}
		client = redis.NewClient(opts)
	}
	return &Store{
		client:    client,
		prefix:    cfg.Prefix,
		codec:     cfg.Codec,
		scanCount: cfg.ScanCount,
		logger:    cfg.Logger.With("driver", string(cachecore.DriverRedis)),
	}, nil
}

func (s *Store) Driver() cachecore.Driver {
	return cachecore.DriverRedis
}

// Ready pings the server.
func (s *Store) Ready(ctx context.Context) error {
	if s.disposed.Load() {
		return cachecore.ErrDisposed
	}
	return cachecore.ConnectionError("ping", s.client.Ping(ctx).Err())
}

func (s *Store) Set(ctx context.Context, key string, value any, opts ...cachecore.SetOption) error {
	if s.disposed.Load() {
		return cachecore.ErrDisposed
	}
	o := cachecore.ResolveSetOptions(opts...)
	payload, err := s.codec.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode value for key %q: %w", key, err)
	}

	dataKey := s.dataKey(key)
	keyTags := s.keyTagsKey(key)
	previous, err := s.client.SMembers(ctx, keyTags).Result()
	if err != nil {
		return cachecore.ConnectionError("smembers", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, dataKey, payload, o.TTL)
	for _, tag := range dropped(previous, o.Tags) {
		pipe.SRem(ctx, s.tagKey(tag), dataKey)
	}
	pipe.Del(ctx, keyTags)
	if len(o.Tags) > 0 {
		members := make([]any, 0, len(o.Tags))
		for _, tag := range o.Tags {
			pipe.SAdd(ctx, s.tagKey(tag), dataKey)
			members = append(members, tag)
		}
		pipe.SAdd(ctx, keyTags, members...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return cachecore.ConnectionError("set", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (any, bool, error) {
	if s.disposed.Load() {
		return nil, false, cachecore.ErrDisposed
	}
	dataKey := s.dataKey(key)
	raw, err := s.client.Get(ctx, dataKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			s.misses.Add(1)
			return nil, false, nil
		}
		return nil, false, cachecore.ConnectionError("get", err)
	}

	value, err := s.codec.Unmarshal(raw)
	if err != nil {
		s.logger.Warn("dropping undecodable cache payload", "key", key,
			"error", cachecore.DeserializationError(key, err))
		if delErr := s.client.Del(ctx, dataKey).Err(); delErr != nil {
			s.logger.Warn("failed to delete undecodable cache payload", "key", key, "error", delErr)
		}
		s.misses.Add(1)
		return nil, false, nil
	}
	s.hits.Add(1)
	return value, true, nil
}

func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	if s.disposed.Load() {
		return false, cachecore.ErrDisposed
	}
	n, err := s.client.Exists(ctx, s.dataKey(key)).Result()
	if err != nil {
		return false, cachecore.ConnectionError("exists", err)
	}
	return n > 0, nil
}

// Delete removes key and takes it out of every tag set it was written with.
func (s *Store) Delete(ctx context.Context, key string) error {
	if s.disposed.Load() {
		return cachecore.ErrDisposed
	}
	keyTags := s.keyTagsKey(key)
	tags, err := s.client.SMembers(ctx, keyTags).Result()
	if err != nil {
		return cachecore.ConnectionError("smembers", err)
	}
	dataKey := s.dataKey(key)
	pipe := s.client.Pipeline()
	pipe.Del(ctx, dataKey, keyTags)
	for _, tag := range tags {
		pipe.SRem(ctx, s.tagKey(tag), dataKey)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return cachecore.ConnectionError("del", err)
	}
	return nil
}

// Clear deletes every key under the prefix, tag sets included.
func (s *Store) Clear(ctx context.Context) error {
	if s.disposed.Load() {
		return cachecore.ErrDisposed
	}
	return s.scan(ctx, func(keys []string) error {
		return cachecore.ConnectionError("del", s.client.Del(ctx, keys...).Err())
	})
}

func (s *Store) InvalidateTags(ctx context.Context, tags ...string) error {
	if s.disposed.Load() {
		return cachecore.ErrDisposed
	}
	tags = cachecore.NormalizeTags(tags)
	if len(tags) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	members := make([]*redis.StringSliceCmd, len(tags))
	for i, tag := range tags {
		members[i] = pipe.SMembers(ctx, s.tagKey(tag))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return cachecore.ConnectionError("smembers", err)
	}

	invalidated := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		invalidated[tag] = struct{}{}
	}
	seen := make(map[string]struct{})
	victims := make([]string, 0)
	for _, cmd := range members {
		for _, k := range cmd.Val() {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			victims = append(victims, k)
		}
	}

	// Victims may also sit in tag sets that survive this call.
	pipe = s.client.Pipeline()
	victimTags := make([]*redis.StringSliceCmd, len(victims))
	for i, dataKey := range victims {
		victimTags[i] = pipe.SMembers(ctx, s.keyTagsKey(strings.TrimPrefix(dataKey, s.prefix)))
	}
	if len(victims) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return cachecore.ConnectionError("smembers", err)
		}
	}

	keys := make([]string, 0, len(tags)+2*len(victims))
	for _, tag := range tags {
		keys = append(keys, s.tagKey(tag))
	}
	pipe = s.client.Pipeline()
	for i, dataKey := range victims {
		keys = append(keys, dataKey, s.keyTagsKey(strings.TrimPrefix(dataKey, s.prefix)))
		for _, tag := range victimTags[i].Val() {
			if _, ok := invalidated[tag]; !ok {
				pipe.SRem(ctx, s.tagKey(tag), dataKey)
			}
		}
	}
	pipe.Del(ctx, keys...)
	if _, err := pipe.Exec(ctx); err != nil {
		return cachecore.ConnectionError("del", err)
	}
	return nil
}

// Stats walks every key under the prefix, so its cost grows with the store.
// Size is the sum of stored payload lengths.
func (s *Store) Stats(ctx context.Context) (cachecore.Stats, error) {
	if s.disposed.Load() {
		return cachecore.Stats{}, cachecore.ErrDisposed
	}
	stats := cachecore.Stats{
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
	}
	tagPrefix := s.prefix + tagSegment
	keyTagsPrefix := s.prefix + keyTagsSegment
	err := s.scan(ctx, func(keys []string) error {
		pipe := s.client.Pipeline()
		lengths := make([]*redis.IntCmd, 0, len(keys))
		for _, k := range keys {
			if strings.HasPrefix(k, tagPrefix) {
				stats.TagCount++
				continue
			}
			if strings.HasPrefix(k, keyTagsPrefix) {
				continue
			}
			stats.KeyCount++
			lengths = append(lengths, pipe.StrLen(ctx, k))
		}
		if len(lengths) == 0 {
			return nil
		}
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return cachecore.ConnectionError("strlen", err)
		}
		for _, cmd := range lengths {
			stats.Size += cmd.Val()
		}
		return nil
	})
	if err != nil {
		return cachecore.Stats{}, err
	}
	return stats, nil
}

// Dispose closes the client exactly once.
func (s *Store) Dispose() error {
	if !s.disposed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.client.Close()
	s.logger.Debug("cache driver disposed")
	return cachecore.ConnectionError("close", err)
}

func (s *Store) scan(ctx context.Context, fn func(keys []string) error) error {
	pattern := s.prefix + "*"
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, s.scanCount).Result()
		if err != nil {
			return cachecore.ConnectionError("scan", err)
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (s *Store) dataKey(key string) string {
	return s.prefix + key
}

func (s *Store) tagKey(tag string) string {
	return s.prefix + tagSegment + tag
}

func (s *Store) keyTagsKey(key string) string {
	return s.prefix + keyTagsSegment + key
}

// dropped returns the tags in previous that are not in current.
func dropped(previous, current []string) []string {
	if len(previous) == 0 {
		return nil
	}
	keep := make(map[string]struct{}, len(current))
	for _, tag := range current {
		keep[tag] = struct{}{}
	}
	var out []string
	for _, tag := range previous {
		if _, ok := keep[tag]; !ok {
			out = append(out, tag)
		}
	}
	return out
}
