package tagcache

import (
	"context"
	"time"
)

// Observer receives events for cache operations.
// It is called from Cache methods after each operation completes.
type Observer interface {
	OnCacheOp(ctx context.Context, op string, key string, hit bool, err error, dur time.Duration, driver Driver)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, op string, key string, hit bool, err error, dur time.Duration, driver Driver)

// OnCacheOp implements Observer.
// @group Observability
//
// Example: log slow operations
//
//	obs := tagcache.ObserverFunc(func(ctx context.Context, op, key string, hit bool, err error, dur time.Duration, driver tagcache.Driver) {
//		if dur > 10*time.Millisecond {
//			slog.Warn("slow cache op", "op", op, "key", key, "driver", driver, "dur", dur)
//		}
//	})
//	c := tagcache.NewCache(memorycache.New(memorycache.Config{}), tagcache.WithObserver(obs))
func (f ObserverFunc) OnCacheOp(ctx context.Context, op string, key string, hit bool, err error, dur time.Duration, driver Driver) {
	if f == nil {
		return
	}
	f(ctx, op, key, hit, err, dur, driver)
}
