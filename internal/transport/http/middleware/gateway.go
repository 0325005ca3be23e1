package middleware

import (
	"strings"

	"github.com/ErlanBelekov/farm-market/internal/metrics"
	"github.com/ErlanBelekov/farm-market/internal/security"
	"github.com/gin-gonic/gin"
)

// Gateway sets the hardening response headers and then runs the transport,
// header, rate-limit and pattern checks. Headers are set first so rejected
// responses carry them too. X-Forwarded-Proto counts only when the direct
// peer is one of proxies.
func Gateway(g *security.Gateway, proxies *TrustedProxies) gin.HandlerFunc {
	return func(c *gin.Context) {
		security.ApplyResponseHeaders(c.Writer.Header())

		rej := g.Check(c.Request.Context(), security.Request{
			ClientIP:  c.ClientIP(),
			Path:      c.Request.URL.Path,
			RawQuery:  c.Request.URL.RawQuery,
			UserAgent: c.GetHeader("User-Agent"),
			Accept:    c.GetHeader("Accept"),
			Secure:    secureTransport(c, proxies),
		})
		if rej != nil {
			metrics.GatewayRejectionsTotal.WithLabelValues(rej.Reason).Inc()
			c.AbortWithStatusJSON(rej.Status, gin.H{"error": rej.Message})
			return
		}
		c.Next()
	}
}

func secureTransport(c *gin.Context, proxies *TrustedProxies) bool {
	if c.Request.TLS != nil {
		return true
	}
	return proxies.Contains(c.RemoteIP()) &&
		strings.EqualFold(c.GetHeader("X-Forwarded-Proto"), "https")
}
