package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type csrfIssuer interface {
	Issue(ctx context.Context) (string, error)
	TTL() time.Duration
}

type SecurityHandler struct {
	csrf   csrfIssuer
	logger *slog.Logger
}

func NewSecurityHandler(csrf csrfIssuer, logger *slog.Logger) *SecurityHandler {
	return &SecurityHandler{csrf: csrf, logger: logger.With("component", "security_handler")}
}

// GET /api/security/csrf-token
func (h *SecurityHandler) CSRFToken(c *gin.Context) {
	tok, err := h.csrf.Issue(c.Request.Context())
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "issue csrf token", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":     tok,
		"expiresIn": int(h.csrf.TTL() / time.Second),
	})
}
