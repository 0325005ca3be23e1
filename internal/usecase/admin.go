package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ErlanBelekov/farm-market/internal/audit"
	"github.com/ErlanBelekov/farm-market/internal/domain"
	"github.com/ErlanBelekov/farm-market/internal/repository"
)

type AdminUsecase struct {
	users  repository.UserRepository
	events audit.Sink
	logger *slog.Logger
}

func NewAdminUsecase(users repository.UserRepository, events audit.Sink, logger *slog.Logger) *AdminUsecase {
	return &AdminUsecase{users: users, events: events, logger: logger.With("component", "admin")}
}

func (u *AdminUsecase) ListUsers(ctx context.Context) ([]*domain.User, error) {
	users, err := u.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// AssignDataEntry moves a confirmed user from Customer to DataEntry.
func (u *AdminUsecase) AssignDataEntry(ctx context.Context, actorID, userID string) (*domain.User, error) {
	user, err := u.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.EmailConfirmed {
		return nil, domain.ErrEmailNotConfirmed
	}
	if user.HasRole(domain.RoleDataEntry) {
		return nil, domain.ErrRoleAlreadyAssigned
	}

	if user.HasRole(domain.RoleCustomer) {
		if err := u.users.RemoveRole(ctx, userID, domain.RoleCustomer); err != nil {
			return nil, fmt.Errorf("remove customer role: %w", err)
		}
	}
	if err := u.users.AddRole(ctx, userID, domain.RoleDataEntry); err != nil {
		return nil, fmt.Errorf("add data entry role: %w", err)
	}

	u.events.Record(ctx, audit.Event{
		ActorID: actorID, Action: audit.ActionAssignDataEntryRole, EntityType: "User",
		EntityID: userID, Details: "Assigned DataEntry role to " + user.Email,
	})
	u.logger.InfoContext(ctx, "data entry role assigned", "target_user", userID)
	return u.users.FindByID(ctx, userID)
}

// SetActive enables or disables an account. Admins cannot disable themselves.
func (u *AdminUsecase) SetActive(ctx context.Context, actorID, userID string, active bool) error {
	if !active && actorID == userID {
		return fmt.Errorf("%w: cannot deactivate your own account", domain.ErrValidation)
	}
	if err := u.users.SetActive(ctx, userID, active); err != nil {
		return err
	}

	action := audit.ActionUserDeactivated
	if active {
		action = audit.ActionUserActivated
	}
	u.events.Record(ctx, audit.Event{ActorID: actorID, Action: action, EntityType: "User", EntityID: userID})
	return nil
}
