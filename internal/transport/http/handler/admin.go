package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ErlanBelekov/farm-market/internal/domain"
	"github.com/ErlanBelekov/farm-market/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"
)

type adminUsecaser interface {
	ListUsers(ctx context.Context) ([]*domain.User, error)
	AssignDataEntry(ctx context.Context, actorID, userID string) (*domain.User, error)
	SetActive(ctx context.Context, actorID, userID string, active bool) error
}

type AdminHandler struct {
	adminUsecase adminUsecaser
	logger       *slog.Logger
}

func NewAdminHandler(adminUsecase adminUsecaser, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		adminUsecase: adminUsecase,
		logger:       logger.With("component", "admin_handler"),
	}
}

type userResponse struct {
	ID             string        `json:"id"`
	Email          string        `json:"email"`
	Username       string        `json:"username"`
	FirstName      string        `json:"firstName"`
	LastName       string        `json:"lastName"`
	EmailConfirmed bool          `json:"emailConfirmed"`
	Active         bool          `json:"active"`
	Roles          []domain.Role `json:"roles"`
	CreatedAt      time.Time     `json:"createdAt"`
}

func toUserResponse(u *domain.User) userResponse {
	roles := u.Roles
	if roles == nil {
		roles = []domain.Role{}
	}
	return userResponse{
		ID:             u.ID,
		Email:          u.Email,
		Username:       u.Username,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		EmailConfirmed: u.EmailConfirmed,
		Active:         u.Active,
		Roles:          roles,
		CreatedAt:      u.CreatedAt,
	}
}

type assignDataEntryRequest struct {
	UserID string `json:"userId" binding:"required,uuid"`
}

// GET /api/admin/users
func (h *AdminHandler) ListUsers(c *gin.Context) {
	users, err := h.adminUsecase.ListUsers(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, "list users", err)
		return
	}

	resp := make([]userResponse, len(users))
	for i, u := range users {
		resp[i] = toUserResponse(u)
	}
	c.JSON(http.StatusOK, gin.H{"users": resp})
}

// POST /api/admin/assign-dataentry
func (h *AdminHandler) AssignDataEntry(c *gin.Context) {
	var req assignDataEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidRequest})
		return
	}

	user, err := h.adminUsecase.AssignDataEntry(c.Request.Context(), middleware.UserID(c), req.UserID)
	if err != nil {
		writeError(c, h.logger, "assign dataentry role", err)
		return
	}

	c.JSON(http.StatusOK, toUserResponse(user))
}

// POST /api/admin/users/:id/activate
func (h *AdminHandler) Activate(c *gin.Context) {
	h.setActive(c, true)
}

// POST /api/admin/users/:id/deactivate
func (h *AdminHandler) Deactivate(c *gin.Context) {
	h.setActive(c, false)
}

func (h *AdminHandler) setActive(c *gin.Context, active bool) {
	id := c.Param("id")
	if err := h.adminUsecase.SetActive(c.Request.Context(), middleware.UserID(c), id, active); err != nil {
		writeError(c, h.logger, "set user active", err)
		return
	}
	c.Status(http.StatusNoContent)
}
