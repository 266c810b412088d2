package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/fangate/internal/events"
	"github.com/jmerrifield20/fangate/internal/fingerprint"
	"github.com/jmerrifield20/fangate/internal/identity"
	"github.com/jmerrifield20/fangate/internal/textrisk"
	"github.com/jmerrifield20/fangate/internal/trust"
	"go.uber.org/zap"
)

const (
	historyWindow = 7 * 24 * time.Hour
	historyLimit  = 50
)

// TrustAdmin is satisfied by *trust.Store.
type TrustAdmin interface {
	GetTrustScore(ctx context.Context, fp string) trust.TrustScore
	Reset(ctx context.Context, fp string) error
}

// EventHistory is satisfied by *events.PostgresSink.
type EventHistory interface {
	ListByFingerprint(ctx context.Context, fingerprintHash string, since time.Time, limit int) ([]events.Event, error)
}

// AdminHandler serves the operator API. Every route requires an admin token.
type AdminHandler struct {
	trust    TrustAdmin
	analyzer textrisk.Filterer
	hasher   *fingerprint.Hasher
	tokens   *identity.AdminTokenIssuer
	history  EventHistory
	logger   *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(ts TrustAdmin, analyzer textrisk.Filterer, hasher *fingerprint.Hasher, tokens *identity.AdminTokenIssuer, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		trust:    ts,
		analyzer: analyzer,
		hasher:   hasher,
		tokens:   tokens,
		logger:   logger,
	}
}

// SetEventHistory enables recent events in trust lookups.
func (h *AdminHandler) SetEventHistory(eh EventHistory) {
	h.history = eh
}

// Register mounts the admin routes under /admin on rg.
func (h *AdminHandler) Register(rg *gin.RouterGroup) {
	admin := rg.Group("/admin", identity.RequireAdmin(h.tokens))
	{
		admin.GET("/trust/:fingerprint", h.GetTrust)
		admin.DELETE("/trust/:fingerprint", h.ResetTrust)
		admin.POST("/analyze", h.Analyze)
	}
}

// GetTrust handles GET /admin/trust/:fingerprint.
func (h *AdminHandler) GetTrust(c *gin.Context) {
	fp := strings.TrimSpace(c.Param("fingerprint"))
	hash := h.hasher.Hash(fp)
	resp := gin.H{
		"fingerprint_hash": hash,
		"trust":            h.trust.GetTrustScore(c.Request.Context(), fp),
	}
	if h.history != nil {
		evs, err := h.history.ListByFingerprint(c.Request.Context(), hash, time.Now().Add(-historyWindow), historyLimit)
		if err != nil {
			h.logger.Warn("admin: list events", zap.Error(err))
		} else {
			resp["recent_events"] = evs
		}
	}
	c.JSON(http.StatusOK, resp)
}

// ResetTrust handles DELETE /admin/trust/:fingerprint.
func (h *AdminHandler) ResetTrust(c *gin.Context) {
	fp := strings.TrimSpace(c.Param("fingerprint"))
	if err := h.trust.Reset(c.Request.Context(), fp); err != nil {
		h.logger.Error("admin: reset trust", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trust store unavailable"})
		return
	}
	by := ""
	if claims := identity.AdminClaimsFromCtx(c); claims != nil {
		by = claims.Subject
	}
	h.logger.Info("admin: trust reset",
		zap.String("fingerprint_hash", h.hasher.Hash(fp)),
		zap.String("by", by),
	)
	c.Status(http.StatusNoContent)
}

type analyzeRequest struct {
	Content                  string `json:"content"`
	ProfanityEnabled         *bool  `json:"profanity_enabled"`
	ExternalBlocklistEnabled bool   `json:"external_blocklist_enabled"`
}

// Analyze handles POST /admin/analyze: a dry run of the content stage.
func (h *AdminHandler) Analyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}
	cfg := textrisk.Config{ProfanityEnabled: true, ExternalBlocklistEnabled: req.ExternalBlocklistEnabled}
	if req.ProfanityEnabled != nil {
		cfg.ProfanityEnabled = *req.ProfanityEnabled
	}
	ra := h.analyzer.Filter(c.Request.Context(), req.Content, "admin", cfg)
	c.JSON(http.StatusOK, gin.H{
		"normalized": textrisk.Normalize(req.Content),
		"assessment": ra,
	})
}
