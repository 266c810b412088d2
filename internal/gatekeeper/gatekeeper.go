// Package gatekeeper combines the abuse signals into one ordered decision
// per fan-message submission.
//
// Stages run in a fixed order and the first one that rejects wins:
//
//  1. challenge policy (honeypot and blocked-trust rejections)
//  2. rate limits
//  3. challenge enforcement (token required / verified)
//  4. content risk analysis
//
// Trust scores are fed back from the challenge and content stages. Every
// rejected or challenged decision is sent to the event logger.
package gatekeeper

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/fangate/internal/captcha"
	"github.com/jmerrifield20/fangate/internal/events"
	"github.com/jmerrifield20/fangate/internal/fingerprint"
	"github.com/jmerrifield20/fangate/internal/ratelimit"
	"github.com/jmerrifield20/fangate/internal/textrisk"
	"github.com/jmerrifield20/fangate/internal/traces"
	"github.com/jmerrifield20/fangate/internal/trust"
	"go.uber.org/zap"
)

// Status is the outcome of a submission.
type Status string

const (
	StatusApproved          Status = "approved"
	StatusPending           Status = "pending"
	StatusChallengeRequired Status = "challenge_required"
	StatusRejected          Status = "rejected"
)

// Reason codes produced by the gatekeeper itself. Other reasons are passed
// through from the challenge engine and rate limiter.
const (
	ReasonCaptchaFailed      = "captcha_failed"
	ReasonContentRejected    = "content_rejected"
	ReasonContentFlagged     = "content_flagged"
	ReasonModerationRequired = "moderation_required"
)

// Submission is one fan-message attempt.
type Submission struct {
	TargetID     string
	Content      string
	IP           string
	Fingerprint  string
	UserAgent    string
	Honeypot     string
	CaptchaToken string
}

// Policy is the per-target configuration applied to a submission.
type Policy struct {
	CaptchaMode       captcha.Mode
	RateLimit         ratelimit.Config
	TextRisk          textrisk.Config
	ModerationEnabled bool
}

// Decision is the gatekeeper's verdict.
type Decision struct {
	Status          Status                   `json:"status"`
	Reason          string                   `json:"reason,omitempty"`
	FilteredContent string                   `json:"filtered_content,omitempty"`
	Flags           []string                 `json:"flags,omitempty"`
	RetryAfter      time.Duration            `json:"retry_after,omitempty"`
	Risk            *textrisk.RiskAssessment `json:"risk,omitempty"`
	Captcha         captcha.Decision         `json:"captcha"`
	Trust           *trust.TrustScore        `json:"trust,omitempty"`
}

// Accepted reports whether the message should be stored.
func (d Decision) Accepted() bool {
	return d.Status == StatusApproved || d.Status == StatusPending
}

// ── Collaborators ────────────────────────────────────────────────────────────

// RateLimiter is satisfied by *ratelimit.Limiter.
type RateLimiter interface {
	CheckRateLimit(ctx context.Context, targetID, ip, fp string, cfg ratelimit.Config) ratelimit.Result
}

// CaptchaEngine is satisfied by *captcha.Engine.
type CaptchaEngine interface {
	ShouldRequireCaptcha(ctx context.Context, mode captcha.Mode, c captcha.Context) captcha.Decision
	VerifyToken(ctx context.Context, token, ip, fp string) bool
}

// TrustUpdater is satisfied by *trust.Store.
type TrustUpdater interface {
	UpdateFingerprintScore(ctx context.Context, fp string, ev trust.EventType) (trust.TrustScore, error)
}

// EventLogger receives rejected and challenged decisions. Log must not
// block the request.
type EventLogger interface {
	Log(ctx context.Context, e events.Event)
}

// Gatekeeper evaluates submissions.
type Gatekeeper struct {
	limiter  RateLimiter
	captcha  CaptchaEngine
	analyzer textrisk.Filterer
	trust    TrustUpdater
	hasher   *fingerprint.Hasher
	events   EventLogger
	logger   *zap.Logger
}

// New creates a Gatekeeper.
func New(limiter RateLimiter, engine CaptchaEngine, analyzer textrisk.Filterer, ts TrustUpdater, hasher *fingerprint.Hasher, logger *zap.Logger) *Gatekeeper {
	return &Gatekeeper{
		limiter:  limiter,
		captcha:  engine,
		analyzer: analyzer,
		trust:    ts,
		hasher:   hasher,
		logger:   logger,
	}
}

// SetEventLogger configures where rejected and challenged decisions go.
// When nil, they are only counted in metrics.
func (g *Gatekeeper) SetEventLogger(l EventLogger) {
	g.events = l
}

// Evaluate runs the pipeline for one submission. A missing fingerprint is
// replaced with one derived from the IP and user agent.
func (g *Gatekeeper) Evaluate(ctx context.Context, sub Submission, p Policy) Decision {
	start := time.Now()
	ctx, span := traces.StartSpan(ctx, "gatekeeper.Evaluate", traces.TargetID(sub.TargetID))
	defer span.End()

	fp := fingerprint.Resolve(sub.Fingerprint, sub.IP, sub.UserAgent)
	d := g.evaluate(ctx, sub, fp, p)

	span.SetAttributes(traces.Status(string(d.Status)), traces.Reason(d.Reason))
	recordDecision(d, time.Since(start))

	if d.Status == StatusRejected || d.Status == StatusChallengeRequired {
		g.logEvent(ctx, sub, fp, d)
	}
	return d
}

func (g *Gatekeeper) evaluate(ctx context.Context, sub Submission, fp string, p Policy) Decision {
	// 1. Challenge policy.
	cctx, span := traces.StartSpan(ctx, "captcha.decide")
	cd := g.captcha.ShouldRequireCaptcha(cctx, p.CaptchaMode, captcha.Context{
		IP:          sub.IP,
		Fingerprint: fp,
		UserAgent:   sub.UserAgent,
		Honeypot:    sub.Honeypot,
	})
	span.SetAttributes(traces.Reason(string(cd.Reason)))
	span.End()
	if cd.ForceReject {
		return Decision{Status: StatusRejected, Reason: string(cd.Reason), Captcha: cd}
	}

	// 2. Rate limits.
	rctx, span := traces.StartSpan(ctx, "ratelimit.check")
	rl := g.limiter.CheckRateLimit(rctx, sub.TargetID, sub.IP, fp, p.RateLimit)
	span.End()
	if rl.Degraded {
		recordDegraded("ratelimit")
		g.logger.Warn("gatekeeper: rate limiter degraded, failing open",
			zap.String("target_id", sub.TargetID))
	}
	if !rl.Allowed {
		return Decision{
			Status:     StatusRejected,
			Reason:     string(rl.Reason),
			RetryAfter: rl.RetryAfter,
			Captcha:    cd,
		}
	}

	// 3. Challenge enforcement.
	if cd.Required {
		if sub.CaptchaToken == "" {
			return Decision{Status: StatusChallengeRequired, Reason: string(cd.Reason), Captcha: cd}
		}
		vctx, span := traces.StartSpan(ctx, "captcha.verify")
		ok := g.captcha.VerifyToken(vctx, sub.CaptchaToken, sub.IP, fp)
		span.End()
		if !ok {
			return Decision{Status: StatusRejected, Reason: ReasonCaptchaFailed, Captcha: cd}
		}
	}

	// 4. Content.
	actx, span := traces.StartSpan(ctx, "textrisk.filter")
	ra := g.analyzer.Filter(actx, sub.Content, sub.TargetID, p.TextRisk)
	span.SetAttributes(traces.RiskScore(ra.Score))
	span.End()
	observeRisk(ra.Score)

	d := Decision{
		FilteredContent: ra.FilteredContent,
		Flags:           ra.Flags,
		Risk:            &ra,
		Captcha:         cd,
	}

	var ev trust.EventType
	switch ra.Action {
	case textrisk.ActionReject:
		ev = trust.EventContentRejected
		d.Status, d.Reason = StatusRejected, ReasonContentRejected
		d.FilteredContent = ""
	case textrisk.ActionFlag:
		ev = trust.EventContentFlagged
		d.Status, d.Reason = StatusPending, ReasonContentFlagged
	default:
		ev = trust.EventContentClean
		d.Status = StatusApproved
		if p.ModerationEnabled {
			d.Status, d.Reason = StatusPending, ReasonModerationRequired
		}
	}

	ts, err := g.trust.UpdateFingerprintScore(ctx, fp, ev)
	if err != nil {
		recordDegraded("trust")
		g.logger.Warn("gatekeeper: trust update failed",
			zap.String("event", string(ev)), zap.Error(err))
	}
	d.Trust = &ts
	return d
}

func (g *Gatekeeper) logEvent(ctx context.Context, sub Submission, fp string, d Decision) {
	if g.events == nil {
		return
	}
	e := events.Event{
		ID:              uuid.New(),
		OccurredAt:      time.Now().UTC(),
		TargetID:        sub.TargetID,
		Status:          string(d.Status),
		Reason:          d.Reason,
		IP:              sub.IP,
		FingerprintHash: g.hasher.Hash(fp),
		Flags:           d.Flags,
	}
	if d.Risk != nil {
		e.RiskScore = d.Risk.Score
	}
	g.events.Log(ctx, e)
}
