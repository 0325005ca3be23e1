package repository

import (
	"context"
	"time"

	"github.com/ErlanBelekov/farm-market/internal/domain"
)

type OTPRepository interface {
	// Replace deletes every unused code for (otp.Subject, otp.Purpose) and
	// stores otp. When sharedEmail is non-empty, unused codes with the same
	// purpose belonging to the user who owns that email are deleted too.
	Replace(ctx context.Context, otp *domain.OTP, sharedEmail string) error

	// Consume atomically flips used=true on the matching unused, unexpired
	// code and reports whether one was found.
	Consume(ctx context.Context, subject domain.SubjectRef, codeHash string, purpose domain.OTPPurpose, now time.Time) (bool, error)

	// DeleteStale removes used codes and codes expired before now.
	DeleteStale(ctx context.Context, now time.Time) (int, error)
}
