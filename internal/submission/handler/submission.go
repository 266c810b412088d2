// Package handler exposes the gatekeeper over HTTP: the public fan-message
// submission route, link previews, health and the admin API.
package handler

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmerrifield20/fangate/internal/delivery"
	"github.com/jmerrifield20/fangate/internal/fingerprint"
	"github.com/jmerrifield20/fangate/internal/gatekeeper"
	"github.com/jmerrifield20/fangate/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	maxContentRunes = 2000
	maxSenderRunes  = 80
	maxTargetIDLen  = 128
)

// Evaluator is satisfied by *gatekeeper.Gatekeeper.
type Evaluator interface {
	Evaluate(ctx context.Context, sub gatekeeper.Submission, p gatekeeper.Policy) gatekeeper.Decision
}

// PolicyResolver is satisfied by *config.Policies.
type PolicyResolver interface {
	PolicyFor(targetID string) gatekeeper.Policy
}

// SubmissionHandler serves the public fan-message route.
type SubmissionHandler struct {
	gk       Evaluator
	policies PolicyResolver
	writer   delivery.Writer
	hasher   *fingerprint.Hasher
	logger   *zap.Logger
}

// NewSubmissionHandler creates a SubmissionHandler.
func NewSubmissionHandler(gk Evaluator, policies PolicyResolver, writer delivery.Writer, hasher *fingerprint.Hasher, logger *zap.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		gk:       gk,
		policies: policies,
		writer:   writer,
		hasher:   hasher,
		logger:   logger,
	}
}

// Register mounts the submission route on rg. Extra middleware (such as the
// per-IP throttle) runs before the handler.
func (h *SubmissionHandler) Register(rg *gin.RouterGroup, mw ...gin.HandlerFunc) {
	rg.POST("/targets/:targetId/fan-messages", append(mw, h.Submit)...)
}

// ─── Request / Response types ────────────────────────────────────────────────

type submitRequest struct {
	Content      string `json:"content"`
	SenderName   string `json:"sender_name"`
	Fingerprint  string `json:"fingerprint"`
	CaptchaToken string `json:"captcha_token"`
	// Website is the honeypot: hidden from humans, filled in by bots.
	Website string `json:"website"`
}

type submitResponse struct {
	ID      string   `json:"id"`
	Status  string   `json:"status"`
	Reason  string   `json:"reason,omitempty"`
	Content string   `json:"content"`
	Flags   []string `json:"flags,omitempty"`
}

// Submit handles POST /targets/:targetId/fan-messages.
//
// Status mapping:
//
//	approved, pending  → 201 after the message writer succeeds
//	challenge_required → 403 {"code":"challenge_required"}
//	rejected (limits)  → 429 with Retry-After
//	rejected (other)   → 403
func (h *SubmissionHandler) Submit(c *gin.Context) {
	targetID := strings.TrimSpace(c.Param("targetId"))
	if targetID == "" || len(targetID) > maxTargetIDLen {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid target id"})
		return
	}

	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}
	if utf8.RuneCountInString(content) > maxContentRunes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is too long", "max_length": maxContentRunes})
		return
	}
	sender := strings.TrimSpace(req.SenderName)
	if utf8.RuneCountInString(sender) > maxSenderRunes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sender name is too long", "max_length": maxSenderRunes})
		return
	}

	if len(strings.TrimSpace(req.Fingerprint)) > fingerprint.MaxLen {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fingerprint is too long", "max_length": fingerprint.MaxLen})
		return
	}

	sub := gatekeeper.Submission{
		TargetID:     targetID,
		Content:      content,
		IP:           c.ClientIP(),
		Fingerprint:  req.Fingerprint,
		UserAgent:    c.Request.UserAgent(),
		Honeypot:     req.Website,
		CaptchaToken: req.CaptchaToken,
	}
	d := h.gk.Evaluate(c.Request.Context(), sub, h.policies.PolicyFor(targetID))

	switch d.Status {
	case gatekeeper.StatusChallengeRequired:
		c.JSON(http.StatusForbidden, gin.H{
			"error":  "challenge required",
			"code":   string(gatekeeper.StatusChallengeRequired),
			"reason": d.Reason,
		})
		return
	case gatekeeper.StatusRejected:
		if isRateLimit(d.Reason) {
			secs := retryAfterSeconds(d.RetryAfter)
			c.Header("Retry-After", strconv.Itoa(secs))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"code":        d.Reason,
				"retry_after": secs,
			})
			return
		}
		c.JSON(http.StatusForbidden, gin.H{"error": "submission rejected", "code": d.Reason})
		return
	}

	fp := fingerprint.Resolve(req.Fingerprint, sub.IP, sub.UserAgent)
	msg := delivery.AcceptedMessage{
		ID:              uuid.New(),
		TargetID:        targetID,
		SenderName:      sender,
		Content:         d.FilteredContent,
		Status:          string(d.Status),
		Reason:          d.Reason,
		Flags:           d.Flags,
		FingerprintHash: h.hasher.Hash(fp),
		SubmittedAt:     time.Now().UTC(),
	}
	if d.Risk != nil {
		msg.RiskScore = d.Risk.Score
	}
	if err := h.writer.Deliver(c.Request.Context(), msg); err != nil {
		h.logger.Error("deliver accepted message",
			zap.String("target_id", targetID),
			zap.String("message_id", msg.ID.String()),
			zap.Error(err),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "message could not be stored, try again"})
		return
	}

	c.JSON(http.StatusCreated, submitResponse{
		ID:      msg.ID.String(),
		Status:  msg.Status,
		Reason:  msg.Reason,
		Content: msg.Content,
		Flags:   msg.Flags,
	})
}

func isRateLimit(reason string) bool {
	switch ratelimit.Reason(reason) {
	case ratelimit.ReasonIPLimit, ratelimit.ReasonFingerprintLimit, ratelimit.ReasonGlobalLimit:
		return true
	}
	return false
}

// retryAfterSeconds rounds up to whole seconds, minimum 1.
func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
