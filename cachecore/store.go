package cachecore

import "context"

// CacheDriver is the shared cache contract every backend implements.
//
// Get reports a miss as (nil, false, nil). Has honours expiry but leaves the
// hit/miss counters untouched. Delete is idempotent. Clear only removes keys
// owned by the driver (its prefix for shared backends) and keeps hit/miss
// counters. After Dispose every operation except Dispose returns ErrDisposed.
type CacheDriver interface {
	Driver() Driver
	Set(ctx context.Context, key string, value any, opts ...SetOption) error
	Get(ctx context.Context, key string) (any, bool, error)
	Has(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	InvalidateTags(ctx context.Context, tags ...string) error
	Stats(ctx context.Context) (Stats, error)
	Dispose() error
}
