// Package ratelimit implements the fixed-window submission limiter.
//
// Three counters are kept per submission target: one per client IP, one per
// client fingerprint and one global circuit breaker. Counters live in the
// shared store so limits hold across every gatekeeper replica.
package ratelimit

import (
	"context"
	"time"

	"github.com/jmerrifield20/fangate/internal/fingerprint"
	"github.com/jmerrifield20/fangate/internal/store"
)

// Reason identifies which counter rejected a request.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonIPLimit          Reason = "ip_limit"
	ReasonFingerprintLimit Reason = "fingerprint_limit"
	ReasonGlobalLimit      Reason = "global_limit"
)

// fingerprintFactor widens the fingerprint limit relative to the IP limit
// so many users behind one NAT do not trip the per-device counter first.
const fingerprintFactor = 2

// Config is the per-target limit policy.
type Config struct {
	// PerIPLimit is the number of submissions allowed per IP per window.
	// Values <= 0 disable the IP and fingerprint counters.
	PerIPLimit int
	// WindowHours is the window length for the IP and fingerprint counters.
	WindowHours int
}

func (c Config) window() time.Duration {
	if c.WindowHours <= 0 {
		return time.Hour
	}
	return time.Duration(c.WindowHours) * time.Hour
}

// Options configures the limiter itself.
type Options struct {
	GlobalLimit  int           // default 100
	GlobalWindow time.Duration // default 60s
}

// Result is the outcome of CheckRateLimit.
type Result struct {
	Allowed    bool
	Reason     Reason
	RetryAfter time.Duration
	// Degraded is set when at least one counter could not be read and was
	// treated as allowed. Callers log it.
	Degraded bool
}

// Limiter checks submissions against the three counters.
type Limiter struct {
	store  store.Store
	hasher *fingerprint.Hasher
	opts   Options
}

// New creates a Limiter.
func New(s store.Store, hasher *fingerprint.Hasher, opts Options) *Limiter {
	if opts.GlobalLimit <= 0 {
		opts.GlobalLimit = 100
	}
	if opts.GlobalWindow <= 0 {
		opts.GlobalWindow = 60 * time.Second
	}
	return &Limiter{store: s, hasher: hasher, opts: opts}
}

type counter struct {
	key    string
	limit  int64
	window time.Duration
	reason Reason
}

// CheckRateLimit increments all three counters and reports the first one
// that is over its limit, in the order IP, fingerprint, global. Every
// counter is incremented even after an earlier one fails so sustained
// probing is still accounted for. Store failures fail open.
func (l *Limiter) CheckRateLimit(ctx context.Context, targetID, ip, fp string, cfg Config) Result {
	var counters []counter
	if cfg.PerIPLimit > 0 {
		w := cfg.window()
		counters = append(counters,
			counter{
				key:    "rl:ip:" + targetID + ":" + ip,
				limit:  int64(cfg.PerIPLimit),
				window: w,
				reason: ReasonIPLimit,
			},
			counter{
				key:    "rl:fp:" + targetID + ":" + l.hasher.Hash(fp),
				limit:  int64(cfg.PerIPLimit) * fingerprintFactor,
				window: w,
				reason: ReasonFingerprintLimit,
			},
		)
	}
	counters = append(counters, counter{
		key:    "rl:global:" + targetID,
		limit:  int64(l.opts.GlobalLimit),
		window: l.opts.GlobalWindow,
		reason: ReasonGlobalLimit,
	})

	res := Result{Allowed: true}
	for _, c := range counters {
		over, retryAfter, err := l.hit(ctx, c)
		if err != nil {
			res.Degraded = true
			continue
		}
		if over && res.Allowed {
			res.Allowed = false
			res.Reason = c.reason
			res.RetryAfter = retryAfter
		}
	}
	return res
}

// hit increments one counter and reports whether it is over its limit.
func (l *Limiter) hit(ctx context.Context, c counter) (bool, time.Duration, error) {
	n, left, err := store.IncrWindow(ctx, l.store, c.key, c.window)
	if err != nil {
		return false, 0, err
	}
	if n <= c.limit {
		return false, 0, nil
	}
	return true, left, nil
}
