package domain

import (
	"errors"
	"time"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrConflict            = errors.New("conflict")
	ErrNotFound            = errors.New("not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrAccountInactive     = errors.New("account is deactivated")
	ErrEmailNotConfirmed   = errors.New("email not confirmed")
	ErrInvalidOTP          = errors.New("invalid or expired code")
	ErrRegistrationExpired = errors.New("registration has expired")
	ErrDecryption          = errors.New("token decryption failed")
	ErrIntegrity           = errors.New("token integrity check failed")
	ErrRoleAlreadyAssigned = errors.New("role already assigned")
)

// SystemActor is recorded as the actor of audit events with no authenticated user.
const SystemActor = "System"

type Role string

const (
	RoleSuperAdmin Role = "SuperAdmin"
	RoleDataEntry  Role = "DataEntry"
	RoleCustomer   Role = "Customer"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleDataEntry, RoleCustomer:
		return true
	}
	return false
}

type User struct {
	ID             string
	Email          string
	Username       string
	FirstName      string
	LastName       string
	PasswordHash   string
	EmailConfirmed bool
	Active         bool
	Roles          []Role
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DisplayName is "First Last", falling back to the username when both are blank.
func (u *User) DisplayName() string {
	name := u.FirstName
	if u.LastName != "" {
		if name != "" {
			name += " "
		}
		name += u.LastName
	}
	if name == "" {
		return u.Username
	}
	return name
}

func (u *User) HasRole(role Role) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type PendingRegistration struct {
	ID           string
	Email        string
	Username     string
	FirstName    string
	LastName     string
	PasswordHash string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	Confirmed    bool
}

func (p *PendingRegistration) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// Farm is the resource container provisioned for every confirmed account.
type Farm struct {
	ID        string
	Name      string
	OwnerID   string
	CreatedAt time.Time
}

type AuditEntry struct {
	ID         string
	ActorID    string
	Action     string
	EntityType string
	EntityID   *string
	Details    *string
	CreatedAt  time.Time
}
