package repository

import (
	"context"
	"time"

	"github.com/ErlanBelekov/farm-market/internal/domain"
)

type PendingRegistrationRepository interface {
	// Create returns domain.ErrConflict when a row for the email already exists.
	Create(ctx context.Context, p *domain.PendingRegistration) error
	FindByEmail(ctx context.Context, email string) (*domain.PendingRegistration, error)
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
