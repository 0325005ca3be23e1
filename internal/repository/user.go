package repository

import (
	"context"

	"github.com/ErlanBelekov/farm-market/internal/domain"
)

type UserRepository interface {
	FindByID(ctx context.Context, id string) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	List(ctx context.Context) ([]*domain.User, error)
	Create(ctx context.Context, user *domain.User) (*domain.User, error)

	// ActivatePending creates a confirmed, active Customer from p, provisions
	// its farm and deletes p, all in one transaction.
	ActivatePending(ctx context.Context, p *domain.PendingRegistration, farmName string) (*domain.User, error)

	AddRole(ctx context.Context, userID string, role domain.Role) error
	RemoveRole(ctx context.Context, userID string, role domain.Role) error
	SetActive(ctx context.Context, userID string, active bool) error
	MarkEmailConfirmed(ctx context.Context, userID string) error
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
}
