// Package otp issues and validates the 6-digit one-time codes that gate
// email confirmation and password reset.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"
	"time"

	"github.com/ErlanBelekov/farm-market/internal/domain"
	"github.com/ErlanBelekov/farm-market/internal/repository"
)

const (
	DefaultTTL = 15 * time.Minute
	codeDigits = 6
)

var codeSpace = big.NewInt(1_000_000)

type Engine struct {
	repo repository.OTPRepository
	ttl  time.Duration
	now  func() time.Time
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.ttl = ttl }
}

func NewEngine(repo repository.OTPRepository, opts ...Option) *Engine {
	e := &Engine{repo: repo, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Generate issues a fresh code for (subject, purpose), invalidating every
// earlier unused code for the pair. For a pending subject the unused codes of
// a user holding the same email are invalidated too.
func (e *Engine) Generate(ctx context.Context, subject domain.SubjectRef, purpose domain.OTPPurpose) (string, error) {
	code, err := randomCode()
	if err != nil {
		return "", err
	}

	now := e.now()
	rec := &domain.OTP{
		Subject:   subject,
		CodeHash:  hashCode(code),
		Purpose:   purpose,
		CreatedAt: now,
		ExpiresAt: now.Add(e.ttl),
	}

	var sharedEmail string
	if subject.IsPending() {
		sharedEmail = subject.Value
	}
	if err := e.repo.Replace(ctx, rec, sharedEmail); err != nil {
		return "", fmt.Errorf("store otp: %w", err)
	}
	return code, nil
}

// Validate consumes the code if it matches an unused, unexpired record.
// Every failure mode reports false.
func (e *Engine) Validate(ctx context.Context, subject domain.SubjectRef, code string, purpose domain.OTPPurpose) (bool, error) {
	if !wellFormed(code) {
		return false, nil
	}
	ok, err := e.repo.Consume(ctx, subject, hashCode(code), purpose, e.now())
	if err != nil {
		return false, fmt.Errorf("consume otp: %w", err)
	}
	return ok, nil
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func hashCode(code string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(code)))
}

func wellFormed(code string) bool {
	if len(code) != codeDigits {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
