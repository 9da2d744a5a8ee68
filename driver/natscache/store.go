package natscache

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goforj/tagcache/cachecore"
	"github.com/nats-io/nats.go"
)

const (
	envelopeMarker = "cache-v1"
	defaultPrefix  = "cache"
)

// KeyValue captures the subset of nats.KeyValue used by the store.
type KeyValue interface {
	Get(key string) (nats.KeyValueEntry, error)
	Put(key string, value []byte) (uint64, error)
	Purge(key string, opts ...nats.DeleteOpt) error
	ListKeys(opts ...nats.WatchOpt) (nats.KeyLister, error)
}

// Config configures a NATS JetStream KeyValue-backed cache driver.
type Config struct {
	KeyValue KeyValue
	// Conn, when set, is closed by Dispose.
	Conn   *nats.Conn
	Prefix string
	Codec  cachecore.Codec
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Prefix == "" {
		c.Prefix = defaultPrefix
	}
	c.Codec = cachecore.CodecOrDefault(c.Codec)
	c.Logger = cachecore.LoggerOrDiscard(c.Logger)
	return c
}

// Store is a cachecore.CacheDriver on a JetStream KeyValue bucket.
//
// Key layout, every segment base64url encoded:
//
//	p.<prefix>.k.<key>          envelope with value, expiry and tags
//	p.<prefix>.t.<tag>.<key>    tag marker
//
// Expiry is enforced from the envelope when an entry is read.
type Store struct {
	kv     KeyValue
	conn   *nats.Conn
	prefix string
	codec  cachecore.Codec
	logger *slog.Logger
	now    func() time.Time

	hits     atomic.Int64
	misses   atomic.Int64
	disposed atomic.Bool
}

type envelope struct {
	Marker    string   `json:"m"`
	Value     []byte   `json:"v"`
	ExpiresAt int64    `json:"ea,omitempty"`
	Tags      []string `json:"t,omitempty"`
}

// New builds a NATS-backed cache driver.
//
// Example: bucket from an existing JetStream context
//
//	kv, err := js.CreateKeyValue(&nats.KeyValueConfig{Bucket: "cache"})
//	if err != nil {
//		return err
//	}
//	store, err := natscache.New(natscache.Config{KeyValue: kv, Conn: nc})
func New(cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()
	if cfg.KeyValue == nil {
		return nil, cachecore.ConfigError("nats key-value bucket is required")
	}
	return &Store{
		kv:     cfg.KeyValue,
		conn:   cfg.Conn,
		prefix: cfg.Prefix,
		codec:  cfg.Codec,
		logger: cfg.Logger.With("driver", string(cachecore.DriverNATS)),
		now:    time.Now,
	}, nil
}

func (s *Store) Driver() cachecore.Driver {
	return cachecore.DriverNATS
}

func (s *Store) Set(_ context.Context, key string, value any, opts ...cachecore.SetOption) error {
	if s.disposed.Load() {
		return cachecore.ErrDisposed
	}
	o := cachecore.ResolveSetOptions(opts...)
	payload, err := s.codec.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode value for key %q: %w", key, err)
	}
	env := envelope{Marker: envelopeMarker, Value: payload, Tags: o.Tags}
	if o.TTL > 0 {
		env.ExpiresAt = s.now().Add(o.TTL).UnixMilli()
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("cache: marshal nats envelope: %w", err)
	}

	dataKey := s.dataKey(key)
	previous, err := s.tagsOf(dataKey)
	if err != nil {
		return err
	}
	keep := make(map[string]struct{}, len(o.Tags))
	for _, tag := range o.Tags {
		keep[tag] = struct{}{}
	}
	for _, tag := range previous {
		if _, ok := keep[tag]; ok {
			continue
		}
		if err := s.purge(s.markerKey(tag, key)); err != nil {
			return err
		}
	}

	if _, err := s.kv.Put(dataKey, body); err != nil {
		return cachecore.ConnectionError("put", err)
	}
	for _, tag := range o.Tags {
		if _, err := s.kv.Put(s.markerKey(tag, key), []byte(key)); err != nil {
			return cachecore.ConnectionError("put", err)
		}
	}
	return nil
}

func (s *Store) Get(_ context.Context, key string) (any, bool, error) {
	if s.disposed.Load() {
		return nil, false, cachecore.ErrDisposed
	}
	env, ok, err := s.live(key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		s.misses.Add(1)
		return nil, false, nil
	}
	value, err := s.codec.Unmarshal(env.Value)
	if err != nil {
		s.logger.Warn("dropping undecodable cache payload", "key", key,
			"error", cachecore.DeserializationError(key, err))
		if err := s.remove(key, env.Tags); err != nil {
			s.logger.Warn("failed to delete undecodable cache payload", "key", key, "error", err)
		}
		s.misses.Add(1)
		return nil, false, nil
	}
	s.hits.Add(1)
	return value, true, nil
}

func (s *Store) Has(_ context.Context, key string) (bool, error) {
	if s.disposed.Load() {
		return false, cachecore.ErrDisposed
	}
	_, ok, err := s.live(key)
	return ok, err
}

func (s *Store) Delete(_ context.Context, key string) error {
	if s.disposed.Load() {
		return cachecore.ErrDisposed
	}
	tags, err := s.tagsOf(s.dataKey(key))
	if err != nil {
		return err
	}
	return s.remove(key, tags)
}

// Clear purges every key under the prefix.
func (s *Store) Clear(_ context.Context) error {
	if s.disposed.Load() {
		return cachecore.ErrDisposed
	}
	scope := s.scope()
	return s.listKeys(func(k string) error {
		if !strings.HasPrefix(k, scope) {
			return nil
		}
		return s.purge(k)
	})
}

func (s *Store) InvalidateTags(_ context.Context, tags ...string) error {
	if s.disposed.Load() {
		return cachecore.ErrDisposed
	}
	tags = cachecore.NormalizeTags(tags)
	if len(tags) == 0 {
		return nil
	}
	scopes := make([]string, len(tags))
	for i, tag := range tags {
		scopes[i] = s.tagScope(tag)
	}

	victims := make(map[string]struct{})
	err := s.listKeys(func(k string) error {
		for _, scope := range scopes {
			if !strings.HasPrefix(k, scope) {
				continue
			}
			if key, err := decodeKeyPart(strings.TrimPrefix(k, scope)); err == nil {
				victims[key] = struct{}{}
			}
			return s.purge(k)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for key := range victims {
		tags, err := s.tagsOf(s.dataKey(key))
		if err != nil {
			return err
		}
		if err := s.remove(key, tags); err != nil {
			return err
		}
	}
	return nil
}

// Stats lists the whole bucket and reads every entry under the prefix.
func (s *Store) Stats(_ context.Context) (cachecore.Stats, error) {
	if s.disposed.Load() {
		return cachecore.Stats{}, cachecore.ErrDisposed
	}
	stats := cachecore.Stats{
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
	}
	dataScope := s.scope() + "k."
	tagRoot := s.scope() + "t."
	// encoded tag -> encoded keys holding a marker for it
	markers := make(map[string][]string)

	var dataKeys []string
	err := s.listKeys(func(k string) error {
		switch {
		case strings.HasPrefix(k, dataScope):
			dataKeys = append(dataKeys, k)
		case strings.HasPrefix(k, tagRoot):
			rest := strings.TrimPrefix(k, tagRoot)
			if i := strings.IndexByte(rest, '.'); i > 0 {
				markers[rest[:i]] = append(markers[rest[:i]], rest[i+1:])
			}
		}
		return nil
	})
	if err != nil {
		return cachecore.Stats{}, err
	}
	live := make(map[string]struct{}, len(dataKeys))
	for _, k := range dataKeys {
		env, ok, err := s.load(k)
		var decodeErr *envelopeError
		if errors.As(err, &decodeErr) {
			continue
		}
		if err != nil {
			return cachecore.Stats{}, err
		}
		if !ok || s.expired(env) {
			continue
		}
		stats.KeyCount++
		stats.Size += int64(len(env.Value))
		live[strings.TrimPrefix(k, dataScope)] = struct{}{}
	}
	for _, keys := range markers {
		for _, k := range keys {
			if _, ok := live[k]; ok {
				stats.TagCount++
				break
			}
		}
	}
	return stats, nil
}

// Dispose closes Conn when one was configured.
func (s *Store) Dispose() error {
	if !s.disposed.CompareAndSwap(false, true) {
		return nil
	}
	if s.conn != nil {
		s.conn.Close()
	}
	s.logger.Debug("cache driver disposed")
	return nil
}

// live returns the unexpired envelope for key, purging stale or corrupt data.
func (s *Store) live(key string) (envelope, bool, error) {
	env, ok, err := s.load(s.dataKey(key))
	if err != nil {
		var decodeErr *envelopeError
		if !errors.As(err, &decodeErr) {
			return envelope{}, false, err
		}
		s.logger.Warn("dropping undecodable cache envelope", "key", key,
			"error", cachecore.DeserializationError(key, decodeErr.err))
		return envelope{}, false, s.purge(s.dataKey(key))
	}
	if !ok {
		return envelope{}, false, nil
	}
	if s.expired(env) {
		return envelope{}, false, s.remove(key, env.Tags)
	}
	return env, true, nil
}

type envelopeError struct {
	err error
}

func (e *envelopeError) Error() string { return "decode nats cache envelope: " + e.err.Error() }
func (e *envelopeError) Unwrap() error { return e.err }

func (s *Store) load(dataKey string) (envelope, bool, error) {
	entry, err := s.kv.Get(dataKey)
	if isMiss(err) {
		return envelope{}, false, nil
	}
	if err != nil {
		return envelope{}, false, cachecore.ConnectionError("get", err)
	}
	if entry.Operation() != nats.KeyValuePut {
		return envelope{}, false, nil
	}
	var env envelope
	if err := json.Unmarshal(entry.Value(), &env); err != nil {
		return envelope{}, false, &envelopeError{err: err}
	}
	if env.Marker != envelopeMarker {
		return envelope{}, false, &envelopeError{err: fmt.Errorf("unexpected marker %q", env.Marker)}
	}
	return env, true, nil
}

// tagsOf returns the tags recorded for dataKey. A corrupt envelope has none.
func (s *Store) tagsOf(dataKey string) ([]string, error) {
	env, _, err := s.load(dataKey)
	var decodeErr *envelopeError
	if errors.As(err, &decodeErr) {
		return nil, nil
	}
	return env.Tags, err
}

func (s *Store) remove(key string, tags []string) error {
	for _, tag := range tags {
		if err := s.purge(s.markerKey(tag, key)); err != nil {
			return err
		}
	}
	return s.purge(s.dataKey(key))
}

func (s *Store) purge(k string) error {
	if err := s.kv.Purge(k); err != nil && !isMiss(err) {
		return cachecore.ConnectionError("purge", err)
	}
	return nil
}

func (s *Store) listKeys(fn func(k string) error) error {
	lister, err := s.kv.ListKeys(nats.IgnoreDeletes())
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil
		}
		return cachecore.ConnectionError("list keys", err)
	}
	defer func() { _ = lister.Stop() }()

	var keys []string
	for k := range lister.Keys() {
		keys = append(keys, k)
	}
	for err := range lister.Error() {
		if err != nil && !errors.Is(err, nats.ErrNoKeysFound) {
			return cachecore.ConnectionError("list keys", err)
		}
	}
	for _, k := range keys {
		if err := fn(k); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) expired(env envelope) bool {
	return env.ExpiresAt > 0 && s.now().UnixMilli() >= env.ExpiresAt
}

func (s *Store) scope() string {
	return "p." + encodeKeyPart(s.prefix) + "."
}

func (s *Store) dataKey(key string) string {
	return s.scope() + "k." + encodeKeyPart(key)
}

func (s *Store) tagScope(tag string) string {
	return s.scope() + "t." + encodeKeyPart(tag) + "."
}

func (s *Store) markerKey(tag, key string) string {
	return s.tagScope(tag) + encodeKeyPart(key)
}

func isMiss(err error) bool {
	return errors.Is(err, nats.ErrKeyNotFound) || errors.Is(err, nats.ErrKeyDeleted)
}

func encodeKeyPart(part string) string {
	if part == "" {
		return "_"
	}
	return base64.RawURLEncoding.EncodeToString([]byte(part))
}

func decodeKeyPart(part string) (string, error) {
	if part == "_" {
		return "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(part)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
