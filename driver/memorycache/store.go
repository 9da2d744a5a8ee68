package memorycache

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/goforj/tagcache/cachecore"
	gocache "github.com/patrickmn/go-cache"
)

// Config configures an in-process cache driver.
type Config struct {
	// MaxSize is the approximate byte budget. Zero or less means unbounded.
	MaxSize int64
	// CleanupInterval enables the background sweep of expired entries.
	// Zero or less relies on lazy expiry only.
	CleanupInterval time.Duration
	// Sizer estimates a value's footprint. Defaults to EstimateSize.
	Sizer func(value any) int64
	// Logger receives eviction and sweep diagnostics.
	Logger *slog.Logger
}

type record struct {
	entry cachecore.Entry
	tags  []string
	seq   uint64
}

type store struct {
	mu sync.Mutex

	items *gocache.Cache
	tags  map[string]map[string]struct{}

	maxSize int64
	sizer   func(any) int64
	logger  *slog.Logger
	now     func() time.Time

	size      int64
	dirty     bool
	seq       uint64
	hits      int64
	misses    int64
	evictions int64

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	disposed bool
}

// New builds an in-process cachecore.CacheDriver.
//
// Defaults:
// - MaxSize: unbounded when <= 0
// - CleanupInterval: no background sweep when <= 0
// - Sizer: EstimateSize
// - Logger: discarded when nil
//
// The sweep goroutine, when enabled, belongs to the returned driver and is
// stopped by Dispose.
func New(cfg Config) cachecore.CacheDriver {
	return newStore(cfg)
}

func newStore(cfg Config) *store {
	s := &store{
		items:   gocache.New(gocache.NoExpiration, 0),
		tags:    make(map[string]map[string]struct{}),
		maxSize: cfg.MaxSize,
		sizer:   cfg.Sizer,
		logger:  cachecore.LoggerOrDiscard(cfg.Logger).With("driver", string(cachecore.DriverMemory)),
		now:     time.Now,
	}
	if s.sizer == nil {
		s.sizer = EstimateSize
	}
	s.items.OnEvicted(s.unlink)

	if cfg.CleanupInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.wg.Add(1)
		go s.sweepLoop(ctx, cfg.CleanupInterval)
	}
	return s
}

func (s *store) Driver() cachecore.Driver {
	return cachecore.DriverMemory
}

func (s *store) Set(_ context.Context, key string, value any, opts ...cachecore.SetOption) error {
	o := cachecore.ResolveSetOptions(opts...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return cachecore.ErrDisposed
	}

	// Drop the previous record first so its tags are unlinked.
	s.items.Delete(key)

	s.seq++
	rec := &record{
		entry: cachecore.NewEntry(value, o.TTL, s.now()),
		tags:  o.Tags,
		seq:   s.seq,
	}
	expiration := gocache.NoExpiration
	if o.TTL > 0 {
		expiration = o.TTL
	}
	s.items.Set(key, rec, expiration)
	for _, tag := range rec.tags {
		bucket, ok := s.tags[tag]
		if !ok {
			bucket = make(map[string]struct{})
			s.tags[tag] = bucket
		}
		bucket[key] = struct{}{}
	}

	s.recomputeSizeLocked()
	s.evictLocked()
	return nil
}

func (s *store) Get(_ context.Context, key string) (any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return nil, false, cachecore.ErrDisposed
	}

	raw, found := s.items.Get(key)
	if !found {
		s.expireLocked(key)
		s.misses++
		return nil, false, nil
	}
	s.hits++
	return raw.(*record).entry.Value, true, nil
}

func (s *store) Has(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return false, cachecore.ErrDisposed
	}

	if _, found := s.items.Get(key); found {
		return true, nil
	}
	s.expireLocked(key)
	return false, nil
}

func (s *store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return cachecore.ErrDisposed
	}

	s.items.Delete(key)
	s.settleLocked()
	return nil
}

func (s *store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return cachecore.ErrDisposed
	}

	s.resetLocked()
	return nil
}

func (s *store) InvalidateTags(_ context.Context, tags ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return cachecore.ErrDisposed
	}

	tags = cachecore.NormalizeTags(tags)
	if len(tags) == 0 {
		return nil
	}
	keys := make(map[string]struct{})
	for _, tag := range tags {
		for key := range s.tags[tag] {
			keys[key] = struct{}{}
		}
	}
	for key := range keys {
		s.items.Delete(key)
	}
	for _, tag := range tags {
		delete(s.tags, tag)
	}
	s.settleLocked()
	return nil
}

func (s *store) Stats(_ context.Context) (cachecore.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return cachecore.Stats{}, cachecore.ErrDisposed
	}

	// Unread expired entries still hold tags and size until they are dropped.
	s.items.DeleteExpired()
	s.settleLocked()
	return cachecore.Stats{
		Hits:      s.hits,
		Misses:    s.misses,
		Size:      s.size,
		KeyCount:  int64(len(s.items.Items())),
		TagCount:  int64(len(s.tags)),
		Evictions: s.evictions,
	}, nil
}

func (s *store) Dispose() error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	s.resetLocked()
	cancel := s.cancel
	s.mu.Unlock()

	// The sweeper takes s.mu, so it is stopped outside the lock.
	if cancel != nil {
		cancel()
		s.wg.Wait()
	}
	s.logger.Debug("cache driver disposed")
	return nil
}

// unlink is the go-cache eviction hook. It runs synchronously inside
// Delete/DeleteExpired, always with s.mu held by the caller.
func (s *store) unlink(key string, value any) {
	rec, ok := value.(*record)
	if !ok {
		return
	}
	for _, tag := range rec.tags {
		bucket := s.tags[tag]
		delete(bucket, key)
		if len(bucket) == 0 {
			delete(s.tags, tag)
		}
	}
	s.dirty = true
}

// expireLocked removes an expired leftover for key after go-cache reported a miss.
func (s *store) expireLocked(key string) {
	s.items.Delete(key)
	s.settleLocked()
}

func (s *store) settleLocked() {
	if s.dirty {
		s.recomputeSizeLocked()
	}
}

func (s *store) resetLocked() {
	s.items.Flush()
	s.tags = make(map[string]map[string]struct{})
	s.size = 0
	s.dirty = false
}

func (s *store) recomputeSizeLocked() {
	var total int64
	for key, item := range s.items.Items() {
		total += s.entrySize(key, item.Object.(*record))
	}
	s.size = total
	s.dirty = false
}

func (s *store) entrySize(key string, rec *record) int64 {
	return int64(bytesPerChar*utf8.RuneCountInString(key)) + s.sizer(rec.entry.Value)
}

type victim struct {
	key string
	rec *record
}

// evictLocked removes the oldest entries until the tracked size fits MaxSize.
func (s *store) evictLocked() {
	if s.maxSize <= 0 || s.size <= s.maxSize {
		return
	}

	items := s.items.Items()
	victims := make([]victim, 0, len(items))
	for key, item := range items {
		victims = append(victims, victim{key: key, rec: item.Object.(*record)})
	}
	sort.Slice(victims, func(i, j int) bool {
		a, b := victims[i].rec, victims[j].rec
		if !a.entry.CreatedAt.Equal(b.entry.CreatedAt) {
			return a.entry.CreatedAt.Before(b.entry.CreatedAt)
		}
		return a.seq < b.seq
	})

	var removed int64
	for _, v := range victims {
		if s.size <= s.maxSize {
			break
		}
		s.items.Delete(v.key)
		s.size -= s.entrySize(v.key, v.rec)
		removed++
	}
	if s.size < 0 {
		s.size = 0
	}
	s.dirty = false
	s.evictions += removed
	s.logger.Debug("evicted cache entries", "count", removed, "size", s.size, "max_size", s.maxSize)
}

func (s *store) sweepLoop(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *store) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	before := s.items.ItemCount()
	s.items.DeleteExpired()
	s.settleLocked()
	if removed := before - s.items.ItemCount(); removed > 0 {
		s.logger.Debug("swept expired cache entries", "count", removed)
	}
}
