package domain

import (
	"fmt"
	"time"
)

type OTPPurpose string

const (
	PurposeEmailConfirmation OTPPurpose = "EmailConfirmation"
	PurposePasswordReset     OTPPurpose = "PasswordReset"
)

func ParseOTPPurpose(s string) (OTPPurpose, error) {
	switch p := OTPPurpose(s); p {
	case PurposeEmailConfirmation, PurposePasswordReset:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown otp purpose %q", ErrValidation, s)
}

type SubjectKind string

const (
	SubjectUser    SubjectKind = "user"
	SubjectPending SubjectKind = "pending"
)

// SubjectRef identifies who an OTP belongs to: a real user by id, or a
// not-yet-created account by its email.
type SubjectRef struct {
	Kind  SubjectKind
	Value string
}

func UserSubject(userID string) SubjectRef {
	return SubjectRef{Kind: SubjectUser, Value: userID}
}

func PendingSubject(email string) SubjectRef {
	return SubjectRef{Kind: SubjectPending, Value: email}
}

func (s SubjectRef) IsPending() bool { return s.Kind == SubjectPending }

func (s SubjectRef) String() string { return string(s.Kind) + ":" + s.Value }

type OTP struct {
	ID        string
	Subject   SubjectRef
	CodeHash  string
	Purpose   OTPPurpose
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
}
