package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/fangate/internal/linkpreview"
	"go.uber.org/zap"
)

// Previewer is satisfied by *linkpreview.Fetcher.
type Previewer interface {
	Preview(ctx context.Context, rawURL string) (linkpreview.Preview, error)
}

// PreviewHandler serves link previews for the submission form.
type PreviewHandler struct {
	previews Previewer
	logger   *zap.Logger
}

// NewPreviewHandler creates a PreviewHandler.
func NewPreviewHandler(p Previewer, logger *zap.Logger) *PreviewHandler {
	return &PreviewHandler{previews: p, logger: logger}
}

// Register mounts GET /link-preview on rg.
func (h *PreviewHandler) Register(rg *gin.RouterGroup, mw ...gin.HandlerFunc) {
	rg.GET("/link-preview", append(mw, h.Get)...)
}

// Get handles GET /link-preview?url=.
func (h *PreviewHandler) Get(c *gin.Context) {
	raw := c.Query("url")
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url query parameter is required"})
		return
	}
	p, err := h.previews.Preview(c.Request.Context(), raw)
	if err != nil {
		if errors.Is(err, linkpreview.ErrInvalidURL) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "url must be an absolute http(s) URL"})
			return
		}
		h.logger.Warn("link preview failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "preview failed"})
		return
	}
	c.JSON(http.StatusOK, p)
}
