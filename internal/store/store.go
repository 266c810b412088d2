// Package store defines the key-value counter/cache store the abuse pipeline
// keeps its state in: rate counters, trust records and per-IP fingerprint
// sets.
//
// Two implementations of the Store interface are provided:
//   - RedisStore: backed by Redis, for production use.
//   - MemoryStore: in-process, for testing and single-node development.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist or has expired.
var ErrNotFound = errors.New("store: key not found")

// NoExpiry is returned by TTL for a key that exists but has no expiry set.
const NoExpiry = time.Duration(-1)

// Store is the subset of Redis-like operations the pipeline depends on.
// Every method takes a context; implementations must honour cancellation.
type Store interface {
	// Get returns the value at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value at key. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Incr atomically increments the integer at key and returns the new value.
	// A missing key is treated as 0.
	Incr(ctx context.Context, key string) (int64, error)

	// Expire sets a TTL on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL returns the remaining time to live. Missing keys return ErrNotFound;
	// keys without an expiry return NoExpiry.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Del removes key. Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error

	// SAdd adds member to the set at key and reports whether it was new.
	SAdd(ctx context.Context, key, member string) (bool, error)

	// SCard returns the cardinality of the set at key (0 when missing).
	SCard(ctx context.Context, key string) (int64, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}
