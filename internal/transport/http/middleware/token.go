package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ErlanBelekov/farm-market/internal/audit"
	"github.com/ErlanBelekov/farm-market/internal/domain"
	"github.com/ErlanBelekov/farm-market/internal/metrics"
	"github.com/ErlanBelekov/farm-market/internal/token"
	"github.com/gin-gonic/gin"
)

const (
	errInvalidToken       = "Invalid token"
	errInvalidTokenFormat = "Invalid token format"
	bearerPrefix          = "Bearer "
)

// TokenDecryption replaces an encrypted bearer value with the signed JWT it
// wraps. Requests without a bearer token pass through untouched.
func TokenDecryption(cipher *token.Cipher, events audit.Sink) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			c.Next()
			return
		}
		encrypted := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
		if encrypted == "" {
			c.Next()
			return
		}

		signed, err := cipher.Unwrap(encrypted)
		if errors.Is(err, domain.ErrIntegrity) {
			metrics.TokenRejectionsTotal.WithLabelValues("integrity").Inc()
			events.Record(c.Request.Context(), audit.Security("", audit.EventInvalidToken, "Token integrity validation failed"))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidTokenFormat})
			return
		}
		if err != nil {
			metrics.TokenRejectionsTotal.WithLabelValues("decrypt").Inc()
			events.Record(c.Request.Context(), audit.Security("", audit.EventInvalidToken, "Token decryption failed"))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidToken})
			return
		}

		c.Request.Header.Set("Authorization", bearerPrefix+signed)
		c.Next()
	}
}
