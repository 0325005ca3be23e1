// Package audit appends security and account events to the audit log on a
// best-effort basis: a failed write is logged and never reaches the caller.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/farm-market/internal/domain"
	"github.com/ErlanBelekov/farm-market/internal/repository"
)

// Security event types.
const (
	EventFailedLogin              = "FailedLogin"
	EventFailedTokenRequest       = "FailedTokenRequest"
	EventInactiveUserLogin        = "InactiveUserLogin"
	EventInactiveUserTokenRequest = "InactiveUserTokenRequest"
	EventInvalidOTP               = "InvalidOTP"
	EventDuplicateRegistration    = "DuplicateRegistration"
	EventRateLimitExceeded        = "RateLimitExceeded"
	EventSuspiciousActivity       = "SuspiciousActivity"
	EventInvalidSession           = "InvalidSession"
	EventExpiredToken             = "ExpiredToken"
	EventInvalidToken             = "InvalidToken"
	EventInvalidCSRFToken         = "InvalidCSRFToken"
	EventForbidden                = "Forbidden"
)

// Account actions.
const (
	ActionRegisterInitiated      = "RegisterInitiated"
	ActionEmailConfirmed         = "EmailConfirmed"
	ActionLogin                  = "Login"
	ActionTokenGenerated         = "TokenGenerated"
	ActionOTPResent              = "OTPResent"
	ActionPasswordResetRequested = "PasswordResetRequested"
	ActionPasswordReset          = "PasswordReset"
	ActionAssignDataEntryRole    = "AssignDataEntryRole"
	ActionUserActivated          = "UserActivated"
	ActionUserDeactivated        = "UserDeactivated"
)

const entitySecurity = "Security"

type Event struct {
	ActorID    string
	Action     string
	EntityType string
	EntityID   string
	Details    string
	At         time.Time
}

// Security builds a security event. An empty actor is recorded as System.
func Security(actorID, eventType, details string) Event {
	return Event{ActorID: actorID, Action: eventType, EntityType: entitySecurity, Details: details}
}

// Sink accepts events without reporting failure.
type Sink interface {
	Record(ctx context.Context, e Event)
}

// Recorder writes events synchronously to the audit repository.
type Recorder struct {
	repo   repository.AuditRepository
	logger *slog.Logger
	now    func() time.Time
}

func NewRecorder(repo repository.AuditRepository, logger *slog.Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger.With("component", "audit"), now: time.Now}
}

func (r *Recorder) Record(ctx context.Context, e Event) {
	entry := &domain.AuditEntry{
		ActorID:    e.ActorID,
		Action:     e.Action,
		EntityType: e.EntityType,
		CreatedAt:  e.At,
	}
	if entry.ActorID == "" {
		entry.ActorID = domain.SystemActor
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now()
	}
	if e.EntityID != "" {
		entry.EntityID = &e.EntityID
	}
	if e.Details != "" {
		entry.Details = &e.Details
	}

	if err := r.repo.Append(ctx, entry); err != nil {
		r.logger.ErrorContext(ctx, "audit write failed", "action", e.Action, "actor", entry.ActorID, "error", err)
		return
	}
	if e.EntityType == entitySecurity {
		r.logger.WarnContext(ctx, "security event", "event", e.Action, "actor", entry.ActorID, "details", e.Details)
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Record(context.Context, Event) {}
