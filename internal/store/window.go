package store

import (
	"context"
	"fmt"
	"time"
)

// IncrWindow increments the fixed-window counter at key and returns the new
// count and the time left in the window (window itself when unknown).
//
// The expiry is set on the first hit and re-armed whenever the counter is
// found without one, so a lost Expire cannot turn the counter into a
// permanent one. A failed Incr returns a zero count; a failed Expire returns
// the count together with the error.
func IncrWindow(ctx context.Context, s Store, key string, window time.Duration) (int64, time.Duration, error) {
	n, err := s.Incr(ctx, key)
	if err != nil {
		return 0, 0, err
	}
	if n == 1 {
		if err := s.Expire(ctx, key, window); err != nil {
			return n, window, fmt.Errorf("set expiry on %s: %w", key, err)
		}
		return n, window, nil
	}

	ttl, err := s.TTL(ctx, key)
	switch {
	case err != nil:
		return n, window, nil
	case ttl == NoExpiry:
		if err := s.Expire(ctx, key, window); err != nil {
			return n, window, fmt.Errorf("re-arm expiry on %s: %w", key, err)
		}
		return n, window, nil
	case ttl > 0:
		return n, ttl, nil
	}
	return n, window, nil
}

// RearmSet restores the expiry of a set that was found without one.
func RearmSet(ctx context.Context, s Store, key string, ttl time.Duration) error {
	cur, err := s.TTL(ctx, key)
	if err != nil || cur != NoExpiry {
		return nil
	}
	return s.Expire(ctx, key, ttl)
}
