package cachecore

import "time"

// Entry is a stored value plus its timestamps.
// A zero ExpiresAt means the entry never expires.
type Entry struct {
	Value     any
	ExpiresAt time.Time
	CreatedAt time.Time
}

// NewEntry builds an entry created at now, expiring after ttl when ttl > 0.
func NewEntry(value any, ttl time.Duration, now time.Time) Entry {
	e := Entry{Value: value, CreatedAt: now}
	if ttl > 0 {
		e.ExpiresAt = now.Add(ttl)
	}
	return e
}

// Expired reports whether the entry is stale at now.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Stats is a point-in-time snapshot of driver counters.
type Stats struct {
	Hits   int64
	Misses int64
	// Size is an approximation in bytes; its meaning is backend specific.
	Size      int64
	KeyCount  int64
	TagCount  int64
	Evictions int64
}
