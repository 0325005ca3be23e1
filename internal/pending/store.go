// Package pending holds sign-ups that have not yet proven control of their
// email address.
package pending

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ErlanBelekov/farm-market/internal/domain"
	"github.com/ErlanBelekov/farm-market/internal/repository"
)

const DefaultTTL = 30 * time.Minute

type Registration struct {
	Email        string
	Username     string
	FirstName    string
	LastName     string
	PasswordHash string
}

type Store struct {
	repo  repository.PendingRegistrationRepository
	users repository.UserRepository
	ttl   time.Duration
	now   func() time.Time
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

func NewStore(repo repository.PendingRegistrationRepository, users repository.UserRepository, opts ...Option) *Store {
	s := &Store{repo: repo, users: users, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create records a new pending sign-up. It fails with ErrConflict when a user
// already owns the email or a live pending record exists; an expired pending
// record is replaced.
func (s *Store) Create(ctx context.Context, in Registration) (*domain.PendingRegistration, error) {
	email := normalizeEmail(in.Email)

	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return nil, domain.ErrConflict
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, fmt.Errorf("find user: %w", err)
	}

	existing, err := s.repo.FindByEmail(ctx, email)
	switch {
	case err == nil:
		if !existing.Expired(s.now()) {
			return nil, domain.ErrConflict
		}
		if err := s.repo.Delete(ctx, existing.ID); err != nil {
			return nil, fmt.Errorf("delete expired pending registration: %w", err)
		}
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("find pending registration: %w", err)
	}

	now := s.now()
	p := &domain.PendingRegistration{
		Email:        email,
		Username:     in.Username,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		PasswordHash: in.PasswordHash,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
	}
	if err := s.repo.Create(ctx, p); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, domain.ErrConflict
		}
		return nil, fmt.Errorf("create pending registration: %w", err)
	}
	return p, nil
}

// Find returns the live pending record for email. An expired record is
// purged and ErrRegistrationExpired returned.
func (s *Store) Find(ctx context.Context, email string) (*domain.PendingRegistration, error) {
	p, err := s.repo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find pending registration: %w", err)
	}
	if p.Expired(s.now()) {
		if err := s.repo.Delete(ctx, p.ID); err != nil {
			return nil, fmt.Errorf("delete expired pending registration: %w", err)
		}
		return nil, domain.ErrRegistrationExpired
	}
	return p, nil
}

// Confirm is Find for the confirmation step. Converting the record into a
// user and deleting it is the caller's job.
func (s *Store) Confirm(ctx context.Context, email string) (*domain.PendingRegistration, error) {
	return s.Find(ctx, email)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
