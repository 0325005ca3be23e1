package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ErlanBelekov/farm-market/internal/domain"
	"github.com/ErlanBelekov/farm-market/internal/usecase"
	"github.com/gin-gonic/gin"
)

// authUsecaser is the subset of AuthUsecase the handler needs.
// Defined here (point of use) so tests can inject a fake.
type authUsecaser interface {
	Register(ctx context.Context, in usecase.RegisterInput) (usecase.Delivery, error)
	ConfirmEmail(ctx context.Context, email, code string) (*usecase.AuthResult, error)
	Login(ctx context.Context, email, password string) (*usecase.AuthResult, error)
	GetToken(ctx context.Context, email, password string) (*usecase.AuthResult, error)
	ResendOtp(ctx context.Context, email string, purpose domain.OTPPurpose) (usecase.Delivery, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, email, code, newPassword string) error
}

type AuthHandler struct {
	authUsecase authUsecaser
	logger      *slog.Logger
}

func NewAuthHandler(authUsecase authUsecaser, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		authUsecase: authUsecase,
		logger:      logger.With("component", "auth_handler"),
	}
}

type registerRequest struct {
	Email     string `json:"email" binding:"required,email,max=256"`
	Username  string `json:"username" binding:"required,min=3,max=64"`
	Password  string `json:"password" binding:"required,min=8,max=128"`
	FirstName string `json:"firstName" binding:"max=100"`
	LastName  string `json:"lastName" binding:"max=100"`
}

type confirmEmailRequest struct {
	Email string `json:"email" binding:"required,email"`
	OTP   string `json:"otp" binding:"required,len=6,numeric"`
}

type credentialsRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type resendOtpRequest struct {
	Email   string `json:"email" binding:"required,email"`
	Purpose string `json:"purpose" binding:"omitempty,oneof=EmailConfirmation PasswordReset"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type resetPasswordRequest struct {
	Email       string `json:"email" binding:"required,email"`
	OTP         string `json:"otp" binding:"required,len=6,numeric"`
	NewPassword string `json:"newPassword" binding:"required,min=8,max=128"`
}

type authResponse struct {
	UserID    string     `json:"userId"`
	Name      string     `json:"name"`
	Token     string     `json:"token,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Message   string     `json:"message,omitempty"`
}

type deliveryResponse struct {
	Message   string `json:"message"`
	EmailSent bool   `json:"emailSent"`
}

func newDeliveryResponse(d usecase.Delivery, okMsg string) deliveryResponse {
	if !d.EmailSent {
		return deliveryResponse{Message: msgOTPSendFailed}
	}
	return deliveryResponse{Message: okMsg, EmailSent: true}
}

func toAuthResponse(r *usecase.AuthResult) authResponse {
	resp := authResponse{UserID: r.UserID, Name: r.DisplayName, Token: r.Token}
	if !r.ExpiresAt.IsZero() {
		exp := r.ExpiresAt.UTC()
		resp.ExpiresAt = &exp
	}
	return resp
}

// POST /api/auth/register
// Stores a pending registration and mails an EmailConfirmation code.
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidRequest})
		return
	}

	delivery, err := h.authUsecase.Register(c.Request.Context(), usecase.RegisterInput{
		Email:     req.Email,
		Username:  req.Username,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		writeError(c, h.logger, "register", err)
		return
	}

	c.JSON(http.StatusOK, newDeliveryResponse(delivery, msgRegistered))
}

// POST /api/auth/confirm-email
func (h *AuthHandler) ConfirmEmail(c *gin.Context) {
	var req confirmEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidRequest})
		return
	}

	res, err := h.authUsecase.ConfirmEmail(c.Request.Context(), req.Email, req.OTP)
	if err != nil {
		writeError(c, h.logger, "confirm email", err)
		return
	}

	resp := toAuthResponse(res)
	resp.Message = msgEmailConfirmed
	c.JSON(http.StatusOK, resp)
}

// POST /api/auth/login
// Verifies credentials without issuing a token.
func (h *AuthHandler) Login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidRequest})
		return
	}

	res, err := h.authUsecase.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeError(c, h.logger, "login", err)
		return
	}

	c.JSON(http.StatusOK, toAuthResponse(res))
}

// POST /api/auth/get-token
// Returns {"token": "<encrypted bearer>"} on valid credentials.
func (h *AuthHandler) GetToken(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidRequest})
		return
	}

	res, err := h.authUsecase.GetToken(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeError(c, h.logger, "get token", err)
		return
	}

	c.JSON(http.StatusOK, toAuthResponse(res))
}

// POST /api/auth/resend-otp
// Purpose defaults to EmailConfirmation.
func (h *AuthHandler) ResendOtp(c *gin.Context) {
	var req resendOtpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidRequest})
		return
	}

	purpose := domain.PurposeEmailConfirmation
	if req.Purpose != "" {
		p, err := domain.ParseOTPPurpose(req.Purpose)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidRequest})
			return
		}
		purpose = p
	}

	delivery, err := h.authUsecase.ResendOtp(c.Request.Context(), req.Email, purpose)
	if err != nil {
		writeError(c, h.logger, "resend otp", err)
		return
	}

	c.JSON(http.StatusOK, newDeliveryResponse(delivery, msgOTPSent))
}

// POST /api/auth/forgot-password
// Always returns 200 to avoid revealing whether the email exists.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidRequest})
		return
	}

	if err := h.authUsecase.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		h.logger.ErrorContext(c.Request.Context(), "request password reset", "error", err)
	}

	c.JSON(http.StatusOK, gin.H{"message": msgResetRequested})
}

// POST /api/auth/reset-password
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidRequest})
		return
	}

	if err := h.authUsecase.ResetPassword(c.Request.Context(), req.Email, req.OTP, req.NewPassword); err != nil {
		writeError(c, h.logger, "reset password", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": msgPasswordReset})
}
