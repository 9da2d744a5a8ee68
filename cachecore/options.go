package cachecore

import "time"

// SetOptions holds the resolved per-write options.
type SetOptions struct {
	TTL  time.Duration
	Tags []string
}

// SetOption mutates SetOptions for a single Set call.
type SetOption func(*SetOptions)

// WithTTL expires the entry ttl after the write. ttl <= 0 means no expiry.
func WithTTL(ttl time.Duration) SetOption {
	return func(o *SetOptions) {
		o.TTL = ttl
	}
}

// WithTags associates the entry with tags for bulk invalidation.
// Repeated calls accumulate.
func WithTags(tags ...string) SetOption {
	return func(o *SetOptions) {
		o.Tags = append(o.Tags, tags...)
	}
}

// ResolveSetOptions applies opts and normalizes the result: negative TTLs
// collapse to zero and tags are deduplicated with empty names dropped.
func ResolveSetOptions(opts ...SetOption) SetOptions {
	var o SetOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.TTL < 0 {
		o.TTL = 0
	}
	o.Tags = NormalizeTags(o.Tags)
	return o
}

// NormalizeTags deduplicates tags preserving first-seen order and drops empty names.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
