package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ErlanBelekov/farm-market/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PendingRegistrationRepository struct {
	pool *pgxpool.Pool
}

func NewPendingRegistrationRepository(pool *pgxpool.Pool) *PendingRegistrationRepository {
	return &PendingRegistrationRepository{pool: pool}
}

func (r *PendingRegistrationRepository) Create(ctx context.Context, p *domain.PendingRegistration) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	// The unique index on lower(email) turns concurrent registrations for
	// one address into a single winner.
	_, err := r.pool.Exec(ctx, `
		INSERT INTO pending_registrations
			(id, email, username, first_name, last_name, password_hash, created_at, expires_at, confirmed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.Email, p.Username, p.FirstName, p.LastName, p.PasswordHash, p.CreatedAt, p.ExpiresAt, p.Confirmed,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert pending registration: %w", err)
	}
	return nil
}

func (r *PendingRegistrationRepository) FindByEmail(ctx context.Context, email string) (*domain.PendingRegistration, error) {
	var p domain.PendingRegistration
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, username, first_name, last_name, password_hash, created_at, expires_at, confirmed
		FROM pending_registrations
		WHERE lower(email) = lower($1) AND NOT confirmed`, email,
	).Scan(&p.ID, &p.Email, &p.Username, &p.FirstName, &p.LastName, &p.PasswordHash, &p.CreatedAt, &p.ExpiresAt, &p.Confirmed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan pending registration: %w", err)
	}
	return &p, nil
}

func (r *PendingRegistrationRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM pending_registrations WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete pending registration: %w", err)
	}
	return nil
}

func (r *PendingRegistrationRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM pending_registrations WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired pending registrations: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
