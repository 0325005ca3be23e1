package security

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/farm-market/internal/audit"
	"github.com/ErlanBelekov/farm-market/internal/domain"
	"github.com/ErlanBelekov/farm-market/internal/repository"
)

// SessionValidator re-checks an authenticated principal against the user
// store, since an account can be deactivated after its token was issued.
type SessionValidator struct {
	users  repository.UserRepository
	events audit.Sink
	logger *slog.Logger
	now    func() time.Time
}

func NewSessionValidator(users repository.UserRepository, events audit.Sink, logger *slog.Logger) *SessionValidator {
	return &SessionValidator{users: users, events: events, logger: logger.With("component", "session"), now: time.Now}
}

func (v *SessionValidator) WithClock(now func() time.Time) *SessionValidator {
	c := *v
	c.now = now
	return &c
}

// Validate returns domain.ErrUnauthorized when the user is gone or inactive,
// or when expiresAt is set and has passed.
func (v *SessionValidator) Validate(ctx context.Context, userID string, expiresAt *time.Time) error {
	if userID == "" {
		return domain.ErrUnauthorized
	}

	user, err := v.users.FindByID(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
		v.logger.ErrorContext(ctx, "session lookup failed", "error", err)
		return domain.ErrUnauthorized
	}
	if user == nil || !user.Active {
		v.events.Record(ctx, audit.Event{
			ActorID: userID, Action: audit.EventInvalidSession, EntityType: "Security",
			EntityID: userID, Details: "Inactive user attempted access: " + userID,
		})
		return domain.ErrUnauthorized
	}

	if expiresAt != nil && expiresAt.Before(v.now()) {
		v.events.Record(ctx, audit.Event{
			ActorID: userID, Action: audit.EventExpiredToken, EntityType: "Security",
			EntityID: userID, Details: "Expired token used by user: " + userID,
		})
		return domain.ErrUnauthorized
	}
	return nil
}
