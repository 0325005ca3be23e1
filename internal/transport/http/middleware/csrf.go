package middleware

import (
	"net/http"

	"github.com/ErlanBelekov/farm-market/internal/security"
	"github.com/gin-gonic/gin"
)

const (
	CSRFHeader     = "X-CSRF-Token"
	errInvalidCSRF = "Invalid CSRF token"
)

// CSRF requires a valid X-CSRF-Token on state-changing methods.
func CSRF(csrf *security.CSRF) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}
		if !csrf.Validate(c.Request.Context(), c.GetHeader(CSRFHeader)) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": errInvalidCSRF})
			return
		}
		c.Next()
	}
}
