// Package cache provides the short-lived key/value store used for ticket
// counters and creation cooldowns. Values held here are hints; the ticket
// store remains authoritative.
package cache

import (
	"context"
	"time"
)

// Cache is a string key/value store with per-key expiry.
type Cache interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value; a zero ttl keeps the key until deleted.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores value only when the key is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// TTL returns the remaining lifetime of key, or 0 when it is missing or has no expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)
	Delete(ctx context.Context, keys ...string) error
}
