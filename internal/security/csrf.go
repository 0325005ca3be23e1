package security

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/farm-market/internal/audit"
	"github.com/ErlanBelekov/farm-market/internal/cache"
)

const (
	CSRFTokenTTL = 30 * time.Minute
	csrfPrefix   = "csrf:"
)

type CSRF struct {
	store  cache.Store
	events audit.Sink
	logger *slog.Logger
	ttl    time.Duration
}

func NewCSRF(store cache.Store, events audit.Sink, logger *slog.Logger) *CSRF {
	return &CSRF{store: store, events: events, logger: logger.With("component", "csrf"), ttl: CSRFTokenTTL}
}

func (c *CSRF) Issue(ctx context.Context) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate csrf token: %w", err)
	}
	tok := base64.RawURLEncoding.EncodeToString(raw)
	if err := c.store.Set(ctx, csrfPrefix+tok, "1", c.ttl); err != nil {
		return "", fmt.Errorf("store csrf token: %w", err)
	}
	return tok, nil
}

func (c *CSRF) Validate(ctx context.Context, tok string) bool {
	if tok == "" {
		return false
	}
	_, ok, err := c.store.Get(ctx, csrfPrefix+tok)
	if err != nil {
		c.logger.ErrorContext(ctx, "csrf lookup failed", "error", err)
		return false
	}
	if !ok {
		c.events.Record(ctx, audit.Security("", audit.EventInvalidCSRFToken, "Invalid CSRF token"))
		return false
	}
	return true
}

func (c *CSRF) TTL() time.Duration { return c.ttl }
