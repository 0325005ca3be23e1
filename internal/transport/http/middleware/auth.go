package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/ErlanBelekov/farm-market/internal/audit"
	"github.com/ErlanBelekov/farm-market/internal/domain"
	"github.com/ErlanBelekov/farm-market/internal/metrics"
	"github.com/ErlanBelekov/farm-market/internal/reqctx"
	"github.com/ErlanBelekov/farm-market/internal/security"
	"github.com/ErlanBelekov/farm-market/internal/token"
	"github.com/gin-gonic/gin"
)

const (
	errUnauthorized = "Unauthorized"
	errForbidden    = "Forbidden"

	userIDKey = "userID"
	claimsKey = "claims"
)

// Auth verifies the (already decrypted) bearer JWT and stores its claims in
// the gin context.
func Auth(issuer *token.Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
			return
		}

		claims, err := issuer.Parse(strings.TrimPrefix(header, bearerPrefix))
		if err != nil {
			metrics.TokenRejectionsTotal.WithLabelValues("verify").Inc()
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
			return
		}

		c.Set(userIDKey, claims.Subject)
		c.Set(claimsKey, claims)
		c.Request = c.Request.WithContext(reqctx.WithUserID(c.Request.Context(), claims.Subject))
		c.Next()
	}
}

// UserID returns the authenticated subject, or "".
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

func Claims(c *gin.Context) (*token.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*token.Claims)
	return claims, ok
}

// SessionGuard re-validates the principal set by Auth against the user store.
func SessionGuard(v *security.SessionValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := Claims(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": security.MsgInvalidSession})
			return
		}
		var exp *time.Time
		if claims.ExpiresAt != nil {
			t := claims.ExpiresAt.Time
			exp = &t
		}
		if err := v.Validate(c.Request.Context(), claims.Subject, exp); err != nil {
			metrics.TokenRejectionsTotal.WithLabelValues("session").Inc()
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": security.MsgInvalidSession})
			return
		}
		c.Next()
	}
}

// RequireRole admits principals holding at least one of roles.
func RequireRole(events audit.Sink, roles ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := Claims(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
			return
		}
		for _, r := range roles {
			if claims.HasRole(r) {
				c.Next()
				return
			}
		}
		events.Record(c.Request.Context(), audit.Security(claims.Subject, audit.EventForbidden, c.Request.Method+" "+c.FullPath()))
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": errForbidden})
	}
}
