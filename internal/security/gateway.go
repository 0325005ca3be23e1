// Package security implements the request gateway checks, session
// re-validation, CSRF tokens and API-key comparison.
package security

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ErlanBelekov/farm-market/internal/audit"
	"github.com/ErlanBelekov/farm-market/internal/cache"
)

// Fixed client-facing messages. Which check failed is never disclosed.
const (
	MsgRateLimited        = "Rate limit exceeded. Please try again later."
	MsgValidationFailed   = "Security validation failed."
	MsgInvalidSession     = "Invalid session."
	DefaultRateLimitRPM   = 100
	DefaultSuspiciousRPM  = 500
	rateLimitWindow       = time.Minute
	rateLimitPrefix       = "rate_limit:"
	suspiciousCountPrefix = "ip_requests:"
)

var suspiciousPatterns = []string{
	"script", "select", "union", "drop", "delete", "insert",
	"../", "..\\", "<script>", "javascript:", "vbscript:",
	"onload=", "onerror=", "eval(", "alert(",
}

var deniedUserAgents = []string{
	"sqlmap", "nikto", "burp", "nessus", "openvas",
	"wget", "curl", "python-requests", "bot", "crawler",
}

// Rejection reasons, used as metric labels.
const (
	ReasonTransport  = "transport"
	ReasonHeaders    = "headers"
	ReasonRateLimit  = "rate_limit"
	ReasonSuspicious = "suspicious"
)

type Request struct {
	ClientIP  string
	Path      string
	RawQuery  string
	UserAgent string
	Accept    string
	Secure    bool
}

type Rejection struct {
	Status  int
	Message string
	Reason  string
}

type GatewayConfig struct {
	RateLimitRPM  int
	SuspiciousRPM int
	AllowHTTP     bool
}

type Gateway struct {
	cfg       GatewayConfig
	limiter   *RateLimiter
	ipCounter *RateLimiter
	events    audit.Sink
	logger    *slog.Logger
}

func NewGateway(cfg GatewayConfig, store cache.Store, events audit.Sink, logger *slog.Logger) *Gateway {
	if cfg.RateLimitRPM <= 0 {
		cfg.RateLimitRPM = DefaultRateLimitRPM
	}
	if cfg.SuspiciousRPM <= 0 {
		cfg.SuspiciousRPM = DefaultSuspiciousRPM
	}
	return &Gateway{
		cfg:       cfg,
		limiter:   NewRateLimiter(store, rateLimitPrefix, cfg.RateLimitRPM, rateLimitWindow),
		ipCounter: NewRateLimiter(store, suspiciousCountPrefix, cfg.SuspiciousRPM, rateLimitWindow),
		events:    events,
		logger:    logger.With("component", "gateway"),
	}
}

// Check runs transport, header, rate-limit and pattern checks in order and
// returns the first failure, or nil.
func (g *Gateway) Check(ctx context.Context, r Request) *Rejection {
	if !r.Secure && !g.cfg.AllowHTTP {
		g.logger.WarnContext(ctx, "non-https request rejected")
		return reject(http.StatusBadRequest, ReasonTransport)
	}

	if !validHeaders(r.UserAgent, r.Accept) {
		g.logger.WarnContext(ctx, "invalid request headers", "user_agent", r.UserAgent)
		return reject(http.StatusBadRequest, ReasonHeaders)
	}

	_, allowed, err := g.limiter.Hit(ctx, r.ClientIP)
	switch {
	case err != nil:
		// Throttling is advisory; a cache outage must not take the API down.
		g.logger.ErrorContext(ctx, "rate limit check failed", "error", err)
	case !allowed:
		g.events.Record(ctx, audit.Security("", audit.EventRateLimitExceeded, "Rate limit exceeded for: "+r.ClientIP))
		return reject(http.StatusTooManyRequests, ReasonRateLimit)
	}

	if g.suspicious(ctx, r) {
		g.events.Record(ctx, audit.Security("", audit.EventSuspiciousActivity, "Suspicious request from "+r.ClientIP))
		return reject(http.StatusBadRequest, ReasonSuspicious)
	}
	return nil
}

func (g *Gateway) suspicious(ctx context.Context, r Request) bool {
	if MatchesSuspiciousPattern(r.Path, r.RawQuery) {
		return true
	}
	_, withinLimit, err := g.ipCounter.Hit(ctx, r.ClientIP)
	if err != nil {
		g.logger.ErrorContext(ctx, "ip request counter failed", "error", err)
		return false
	}
	return !withinLimit
}

func reject(status int, reason string) *Rejection {
	msg := MsgValidationFailed
	if status == http.StatusTooManyRequests {
		msg = MsgRateLimited
	}
	return &Rejection{Status: status, Message: msg, Reason: reason}
}

// MatchesSuspiciousPattern lower-cases path and query and looks for known
// injection and traversal tokens.
func MatchesSuspiciousPattern(path, rawQuery string) bool {
	combined := strings.ToLower(path + " " + rawQuery)
	for _, p := range suspiciousPatterns {
		if strings.Contains(combined, p) {
			return true
		}
	}
	return false
}

// DeniedUserAgent reports a scanner or scripted-client signature.
func DeniedUserAgent(ua string) bool {
	ua = strings.ToLower(ua)
	for _, a := range deniedUserAgents {
		if strings.Contains(ua, a) {
			return true
		}
	}
	return false
}

func validHeaders(userAgent, accept string) bool {
	if strings.TrimSpace(userAgent) == "" || strings.TrimSpace(accept) == "" {
		return false
	}
	return !DeniedUserAgent(userAgent)
}

var responseHeaders = [][2]string{
	{"X-Frame-Options", "DENY"},
	{"X-Content-Type-Options", "nosniff"},
	{"X-XSS-Protection", "1; mode=block"},
	{"Strict-Transport-Security", "max-age=31536000; includeSubDomains"},
	{"Content-Security-Policy", "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data:; font-src 'self'; connect-src 'self'; frame-ancestors 'none';"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
	{"Permissions-Policy", "geolocation=(), microphone=(), camera=()"},
}

// ApplyResponseHeaders sets the hardening headers and strips Server.
func ApplyResponseHeaders(h http.Header) {
	for _, kv := range responseHeaders {
		h.Set(kv[0], kv[1])
	}
	h.Del("Server")
}
