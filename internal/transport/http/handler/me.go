package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ErlanBelekov/farm-market/internal/domain"
	"github.com/ErlanBelekov/farm-market/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"
)

type userFinder interface {
	FindByID(ctx context.Context, id string) (*domain.User, error)
}

type MeHandler struct {
	users  userFinder
	logger *slog.Logger
}

func NewMeHandler(users userFinder, logger *slog.Logger) *MeHandler {
	return &MeHandler{users: users, logger: logger.With("component", "me_handler")}
}

// GET /api/me
// Returns the authenticated principal's profile.
func (h *MeHandler) Get(c *gin.Context) {
	user, err := h.users.FindByID(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		writeError(c, h.logger, "find current user", err)
		return
	}
	c.JSON(http.StatusOK, toUserResponse(user))
}
