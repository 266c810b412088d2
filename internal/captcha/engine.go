// Package captcha decides when a submitter must solve a human-verification
// challenge, and verifies challenge tokens.
package captcha

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmerrifield20/fangate/internal/fingerprint"
	"github.com/jmerrifield20/fangate/internal/store"
	"github.com/jmerrifield20/fangate/internal/trust"
	"go.uber.org/zap"
)

// Mode is the configured challenge policy.
type Mode string

const (
	ModeAlways Mode = "ALWAYS"
	ModeNever  Mode = "NEVER"
	ModeAuto   Mode = "AUTO"
)

// ErrInvalidMode is returned by ParseMode for unknown modes.
var ErrInvalidMode = errors.New("captcha: invalid mode")

// ParseMode parses a mode name case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToUpper(strings.TrimSpace(s))); m {
	case ModeAlways, ModeNever, ModeAuto:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q (want ALWAYS, NEVER or AUTO)", ErrInvalidMode, s)
}

// Reason explains a Decision.
type Reason string

const (
	ReasonHoneypot             Reason = "honeypot_triggered"
	ReasonConfigAlways         Reason = "config_always"
	ReasonConfigNever          Reason = "config_never"
	ReasonIPRateLimit          Reason = "ip_rate_limit"
	ReasonLowTrustScore        Reason = "low_trust_score"
	ReasonMultipleFingerprints Reason = "multiple_fingerprints"
	ReasonNone                 Reason = "none"
)

// Decision is the challenge verdict for one submission. ForceReject means
// the submission is refused outright and no challenge is offered.
type Decision struct {
	Required    bool   `json:"required"`
	ForceReject bool   `json:"force_reject"`
	Reason      Reason `json:"reason"`
}

// Context carries the request signals the engine looks at.
type Context struct {
	IP          string
	Fingerprint string
	UserAgent   string
	Honeypot    string
}

// TrustStore is the subset of *trust.Store the engine needs.
type TrustStore interface {
	GetTrustScore(ctx context.Context, fp string) trust.TrustScore
	UpdateFingerprintScore(ctx context.Context, fp string, ev trust.EventType) (trust.TrustScore, error)
}

// Config holds the AUTO-mode thresholds.
type Config struct {
	VelocityWindow       time.Duration // default 10m
	VelocityThreshold    int           // submissions per window per IP before challenging; default 5
	FingerprintTTL       time.Duration // lifetime of the per-IP fingerprint set; default 1h
	FingerprintThreshold int           // distinct fingerprints per IP before challenging; default 3
}

// Engine implements the challenge policy.
type Engine struct {
	kv       store.Store
	trust    TrustStore
	hasher   *fingerprint.Hasher
	verifier Verifier
	cfg      Config
	logger   *zap.Logger
}

// NewEngine creates an Engine. verifier may be nil, in which case every
// token fails verification.
func NewEngine(kv store.Store, ts TrustStore, hasher *fingerprint.Hasher, verifier Verifier, cfg Config, logger *zap.Logger) *Engine {
	if cfg.VelocityWindow <= 0 {
		cfg.VelocityWindow = 10 * time.Minute
	}
	if cfg.VelocityThreshold <= 0 {
		cfg.VelocityThreshold = 5
	}
	if cfg.FingerprintTTL <= 0 {
		cfg.FingerprintTTL = time.Hour
	}
	if cfg.FingerprintThreshold <= 0 {
		cfg.FingerprintThreshold = 3
	}
	return &Engine{
		kv:       kv,
		trust:    ts,
		hasher:   hasher,
		verifier: verifier,
		cfg:      cfg,
		logger:   logger,
	}
}

// ShouldRequireCaptcha evaluates, in order: the honeypot, the configured
// mode, and in AUTO mode the trust level, IP velocity and the number of
// distinct fingerprints seen from the IP. The first signal that fires
// decides.
func (e *Engine) ShouldRequireCaptcha(ctx context.Context, mode Mode, c Context) Decision {
	if c.Honeypot != "" {
		return Decision{Required: true, ForceReject: true, Reason: ReasonHoneypot}
	}
	switch mode {
	case ModeAlways:
		return Decision{Required: true, Reason: ReasonConfigAlways}
	case ModeNever:
		return Decision{Required: false, Reason: ReasonConfigNever}
	}

	switch e.trust.GetTrustScore(ctx, c.Fingerprint).Level {
	case trust.LevelBlocked:
		return Decision{Required: true, ForceReject: true, Reason: ReasonLowTrustScore}
	case trust.LevelSuspicious:
		return Decision{Required: true, Reason: ReasonLowTrustScore}
	}

	// Both counters are updated on every call so that each stays accurate
	// regardless of which one fires.
	fast := e.velocityExceeded(ctx, c.IP)
	crowded := e.fingerprintsExceeded(ctx, c.IP, c.Fingerprint)
	switch {
	case fast:
		return Decision{Required: true, Reason: ReasonIPRateLimit}
	case crowded:
		return Decision{Required: true, Reason: ReasonMultipleFingerprints}
	}
	return Decision{Required: false, Reason: ReasonNone}
}

func (e *Engine) velocityExceeded(ctx context.Context, ip string) bool {
	if ip == "" {
		return false
	}
	n, _, err := store.IncrWindow(ctx, e.kv, "captcha:vel:"+ip, e.cfg.VelocityWindow)
	switch {
	case n == 0:
		e.logger.Warn("captcha: velocity counter unavailable, skipping signal", zap.Error(err))
		return false
	case err != nil:
		e.logger.Warn("captcha: set velocity expiry", zap.Error(err))
	}
	return n > int64(e.cfg.VelocityThreshold)
}

func (e *Engine) fingerprintsExceeded(ctx context.Context, ip, fp string) bool {
	if ip == "" || fp == "" {
		return false
	}
	key := "captcha:fps:" + ip
	added, err := e.kv.SAdd(ctx, key, e.hasher.Hash(fp))
	if err != nil {
		e.logger.Warn("captcha: fingerprint set unavailable, skipping signal", zap.Error(err))
		return false
	}
	if added {
		err = e.kv.Expire(ctx, key, e.cfg.FingerprintTTL)
	} else {
		err = store.RearmSet(ctx, e.kv, key, e.cfg.FingerprintTTL)
	}
	if err != nil {
		e.logger.Warn("captcha: set fingerprint set expiry", zap.Error(err))
	}
	n, err := e.kv.SCard(ctx, key)
	if err != nil {
		e.logger.Warn("captcha: fingerprint set unavailable, skipping signal", zap.Error(err))
		return false
	}
	return n > int64(e.cfg.FingerprintThreshold)
}

// VerifyToken checks a challenge token and records the outcome against the
// fingerprint's trust score. Any verifier error counts as not verified.
func (e *Engine) VerifyToken(ctx context.Context, token, ip, fp string) bool {
	ok := false
	if token != "" && e.verifier != nil {
		var err error
		ok, err = e.verifier.Verify(ctx, token, ip)
		if err != nil {
			e.logger.Warn("captcha: verification failed", zap.Error(err))
			ok = false
		}
	}

	ev := trust.EventCaptchaFail
	if ok {
		ev = trust.EventCaptchaPass
	}
	if _, err := e.trust.UpdateFingerprintScore(ctx, fp, ev); err != nil {
		e.logger.Warn("captcha: record verification outcome", zap.String("event", string(ev)), zap.Error(err))
	}
	return ok
}
