package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ErlanBelekov/farm-market/internal/domain"
	"github.com/gin-gonic/gin"
)

const (
	errInternalServer       = "Internal server error"
	errInvalidRequest       = "Invalid request body"
	errUserExists           = "User already exists"
	errInvalidOTP           = "Invalid or expired OTP"
	errRegistrationExpired  = "Registration has expired. Please register again."
	errInvalidCredentials   = "Invalid email or password"
	errAccountInactive      = "Account is deactivated"
	errEmailNotConfirmed    = "Email not confirmed. Please confirm your email first."
	errRegistrationNotFound = "No registration found for this email"
	errUserNotFound         = "User not found"
	errRoleAssigned         = "User already has the DataEntry role"
	errUnauthorized         = "Unauthorized"

	msgOTPSent        = "OTP sent successfully"
	msgOTPSendFailed  = "Verification code created but the email could not be sent. Please request a new code."
	msgRegistered     = "Registration successful. Please check your email for the verification code."
	msgEmailConfirmed = "Email confirmed successfully"
	msgResetRequested = "If the email is registered, a reset code has been sent."
	msgPasswordReset  = "Password reset successfully"
)

// writeError maps domain errors to a status and a fixed message. Validation
// errors carry their own text; anything unrecognised is logged and answered
// with 500.
func writeError(c *gin.Context, logger *slog.Logger, op string, err error) {
	status, msg := http.StatusInternalServerError, errInternalServer
	switch {
	case errors.Is(err, domain.ErrConflict):
		status, msg = http.StatusBadRequest, errUserExists
	case errors.Is(err, domain.ErrInvalidOTP):
		status, msg = http.StatusBadRequest, errInvalidOTP
	case errors.Is(err, domain.ErrRegistrationExpired):
		status, msg = http.StatusBadRequest, errRegistrationExpired
	case errors.Is(err, domain.ErrEmailNotConfirmed):
		status, msg = http.StatusBadRequest, errEmailNotConfirmed
	case errors.Is(err, domain.ErrRoleAlreadyAssigned):
		status, msg = http.StatusBadRequest, errRoleAssigned
	case errors.Is(err, domain.ErrValidation):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrInvalidCredentials):
		status, msg = http.StatusUnauthorized, errInvalidCredentials
	case errors.Is(err, domain.ErrAccountInactive):
		status, msg = http.StatusUnauthorized, errAccountInactive
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrDecryption), errors.Is(err, domain.ErrIntegrity):
		status, msg = http.StatusUnauthorized, errUnauthorized
	case errors.Is(err, domain.ErrUserNotFound):
		status, msg = http.StatusNotFound, errUserNotFound
	case errors.Is(err, domain.ErrNotFound):
		status, msg = http.StatusNotFound, errRegistrationNotFound
	default:
		logger.ErrorContext(c.Request.Context(), op, "error", err)
	}
	c.JSON(status, gin.H{"error": msg})
}

