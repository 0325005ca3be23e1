package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ErlanBelekov/farm-market/internal/audit"
	"github.com/ErlanBelekov/farm-market/internal/domain"
	"github.com/ErlanBelekov/farm-market/internal/email"
	"github.com/ErlanBelekov/farm-market/internal/metrics"
	"github.com/ErlanBelekov/farm-market/internal/otp"
	"github.com/ErlanBelekov/farm-market/internal/password"
	"github.com/ErlanBelekov/farm-market/internal/pending"
	"github.com/ErlanBelekov/farm-market/internal/repository"
	"github.com/ErlanBelekov/farm-market/internal/token"
)

// PasswordHasher is satisfied by *password.Hasher.
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Verify(plain, encoded string) bool
}

type AuthDeps struct {
	Users   repository.UserRepository
	Pending *pending.Store
	OTPs    *otp.Engine
	Issuer  *token.Issuer
	Cipher  *token.Cipher
	Hasher  PasswordHasher
	Mailer  email.Sender
	Events  audit.Sink
	Logger  *slog.Logger
}

// AuthUsecase drives the Unregistered -> PendingConfirmation -> Active flow
// and issues encrypted bearer tokens.
type AuthUsecase struct {
	users   repository.UserRepository
	pending *pending.Store
	otps    *otp.Engine
	issuer  *token.Issuer
	cipher  *token.Cipher
	hasher  PasswordHasher
	mailer  email.Sender
	events  audit.Sink
	logger  *slog.Logger
	otpTTL  time.Duration

	// decoy is verified against when the email is unknown so a miss costs
	// the same as a wrong password.
	decoy string
}

// decoyPassword only seeds the decoy hash; nothing can log in with it.
const decoyPassword = "farm-market-decoy-password"

func NewAuthUsecase(d AuthDeps) *AuthUsecase {
	u := &AuthUsecase{
		users:   d.Users,
		pending: d.Pending,
		otps:    d.OTPs,
		issuer:  d.Issuer,
		cipher:  d.Cipher,
		hasher:  d.Hasher,
		mailer:  d.Mailer,
		events:  d.Events,
		logger:  d.Logger.With("component", "auth"),
		otpTTL:  otp.DefaultTTL,
	}
	if decoy, err := d.Hasher.Hash(decoyPassword); err == nil {
		u.decoy = decoy
	} else {
		u.logger.Warn("decoy password hash", "error", err)
	}
	return u
}

type RegisterInput struct {
	Email     string
	Username  string
	Password  string
	FirstName string
	LastName  string
}

// Delivery reports whether the code email went out. The code is valid either
// way; a failed send only means the caller should ask for a resend.
type Delivery struct {
	EmailSent bool
}

// AuthResult is returned by Login, ConfirmEmail and GetToken. Token is set
// only by GetToken.
type AuthResult struct {
	UserID      string
	DisplayName string
	Token       string
	ExpiresAt   time.Time
}

func (u *AuthUsecase) Register(ctx context.Context, in RegisterInput) (Delivery, error) {
	hash, err := u.hasher.Hash(in.Password)
	if err != nil {
		if errors.Is(err, password.ErrTooShort) {
			return Delivery{}, fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
		return Delivery{}, fmt.Errorf("hash password: %w", err)
	}

	p, err := u.pending.Create(ctx, pending.Registration{
		Email:        in.Email,
		Username:     in.Username,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			u.events.Record(ctx, audit.Security("", audit.EventDuplicateRegistration, "Attempted duplicate registration for: "+in.Email))
			countAuth("register", "conflict")
			return Delivery{}, domain.ErrConflict
		}
		return Delivery{}, fmt.Errorf("create pending registration: %w", err)
	}

	delivery, err := u.issueCode(ctx, domain.PendingSubject(p.Email), domain.PurposeEmailConfirmation, p.Email, p.FirstName)
	if err != nil {
		return Delivery{}, err
	}

	u.events.Record(ctx, audit.Event{
		ActorID:    domain.SystemActor,
		Action:     audit.ActionRegisterInitiated,
		EntityType: "PendingRegistration",
		EntityID:   p.ID,
		Details:    "Registration initiated for: " + p.Email,
	})
	countAuth("register", "ok")
	return delivery, nil
}

// ConfirmEmail consumes an EmailConfirmation code. A live pending
// registration becomes an active Customer with a farm; an existing
// unconfirmed user is marked confirmed.
func (u *AuthUsecase) ConfirmEmail(ctx context.Context, emailAddr, code string) (*AuthResult, error) {
	p, err := u.pending.Find(ctx, emailAddr)
	switch {
	case err == nil:
		return u.activatePending(ctx, p, code)
	case errors.Is(err, domain.ErrRegistrationExpired):
		countAuth("confirm_email", "expired")
		return nil, domain.ErrRegistrationExpired
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("find pending registration: %w", err)
	}

	user, err := u.users.FindByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			u.invalidOTP(ctx, emailAddr, "confirm_email")
			return nil, domain.ErrInvalidOTP
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user.EmailConfirmed {
		u.invalidOTP(ctx, emailAddr, "confirm_email")
		return nil, domain.ErrInvalidOTP
	}

	ok, err := u.otps.Validate(ctx, domain.UserSubject(user.ID), code, domain.PurposeEmailConfirmation)
	if err != nil {
		return nil, err
	}
	if !ok {
		u.invalidOTP(ctx, emailAddr, "confirm_email")
		return nil, domain.ErrInvalidOTP
	}
	if err := u.users.MarkEmailConfirmed(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("mark email confirmed: %w", err)
	}

	u.events.Record(ctx, audit.Event{
		ActorID: user.ID, Action: audit.ActionEmailConfirmed, EntityType: "User",
		EntityID: user.ID, Details: "Email confirmed",
	})
	countAuth("confirm_email", "ok")
	return &AuthResult{UserID: user.ID, DisplayName: user.DisplayName()}, nil
}

func (u *AuthUsecase) activatePending(ctx context.Context, p *domain.PendingRegistration, code string) (*AuthResult, error) {
	ok, err := u.otps.Validate(ctx, domain.PendingSubject(p.Email), code, domain.PurposeEmailConfirmation)
	if err != nil {
		return nil, err
	}
	if !ok {
		u.invalidOTP(ctx, p.Email, "confirm_email")
		return nil, domain.ErrInvalidOTP
	}

	user, err := u.users.ActivatePending(ctx, p, FarmName(p.FirstName, p.LastName, p.Username))
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// A user with this email appeared after registration; the pending
			// row is stale.
			if derr := u.pending.Delete(ctx, p.ID); derr != nil {
				u.logger.ErrorContext(ctx, "delete stale pending registration", "error", derr)
			}
			return nil, domain.ErrConflict
		}
		return nil, fmt.Errorf("activate pending registration: %w", err)
	}

	u.events.Record(ctx, audit.Event{
		ActorID: user.ID, Action: audit.ActionEmailConfirmed, EntityType: "User",
		EntityID: user.ID, Details: "Email confirmed and user created successfully",
	})
	countAuth("confirm_email", "ok")
	return &AuthResult{UserID: user.ID, DisplayName: user.DisplayName()}, nil
}

// Login checks credentials and returns the display name. No token is issued.
func (u *AuthUsecase) Login(ctx context.Context, emailAddr, plain string) (*AuthResult, error) {
	user, err := u.authenticate(ctx, emailAddr, plain, audit.EventFailedLogin, audit.EventInactiveUserLogin, "login")
	if err != nil {
		return nil, err
	}

	u.events.Record(ctx, audit.Event{
		ActorID: user.ID, Action: audit.ActionLogin, EntityType: "User",
		EntityID: user.ID, Details: "User logged in successfully",
	})
	countAuth("login", "ok")
	return &AuthResult{UserID: user.ID, DisplayName: user.DisplayName()}, nil
}

// GetToken checks credentials like Login and returns an encrypted bearer token.
func (u *AuthUsecase) GetToken(ctx context.Context, emailAddr, plain string) (*AuthResult, error) {
	user, err := u.authenticate(ctx, emailAddr, plain, audit.EventFailedTokenRequest, audit.EventInactiveUserTokenRequest, "get_token")
	if err != nil {
		return nil, err
	}

	signed, err := u.issuer.Issue(user)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	encrypted := u.cipher.Encrypt(signed)

	u.events.Record(ctx, audit.Event{
		ActorID: user.ID, Action: audit.ActionTokenGenerated, EntityType: "User",
		EntityID: user.ID, Details: "JWT token generated successfully",
	})
	metrics.TokensIssuedTotal.Inc()
	countAuth("get_token", "ok")
	return &AuthResult{
		UserID:      user.ID,
		DisplayName: user.DisplayName(),
		Token:       encrypted,
		ExpiresAt:   time.Now().Add(u.issuer.TTL()),
	}, nil
}

// authenticate checks credentials, then the active flag, then confirmation.
func (u *AuthUsecase) authenticate(ctx context.Context, emailAddr, plain, failedEvent, inactiveEvent, op string) (*domain.User, error) {
	emailAddr = strings.TrimSpace(emailAddr)
	user, err := u.users.FindByEmail(ctx, emailAddr)
	if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		_ = u.hasher.Verify(plain, u.decoy)
	}
	if user == nil || !u.hasher.Verify(plain, user.PasswordHash) {
		u.events.Record(ctx, audit.Security("", failedEvent, "Failed attempt for: "+emailAddr))
		countAuth(op, "invalid_credentials")
		return nil, domain.ErrInvalidCredentials
	}
	if !user.Active {
		u.events.Record(ctx, audit.Security(user.ID, inactiveEvent, "Inactive user attempt: "+emailAddr))
		countAuth(op, "inactive")
		return nil, domain.ErrAccountInactive
	}
	if !user.EmailConfirmed {
		countAuth(op, "unconfirmed")
		return nil, domain.ErrEmailNotConfirmed
	}
	return user, nil
}

// ResendOtp reissues a code for a live pending registration or an existing
// user. An expired pending registration is purged and reported.
func (u *AuthUsecase) ResendOtp(ctx context.Context, emailAddr string, purpose domain.OTPPurpose) (Delivery, error) {
	var (
		subject domain.SubjectRef
		name    string
	)

	p, err := u.pending.Find(ctx, emailAddr)
	switch {
	case err == nil:
		subject, name = domain.PendingSubject(p.Email), p.FirstName
	case errors.Is(err, domain.ErrRegistrationExpired):
		countAuth("resend_otp", "expired")
		return Delivery{}, domain.ErrRegistrationExpired
	case errors.Is(err, domain.ErrNotFound):
		user, ferr := u.users.FindByEmail(ctx, emailAddr)
		if ferr != nil {
			if errors.Is(ferr, domain.ErrUserNotFound) {
				countAuth("resend_otp", "not_found")
				return Delivery{}, domain.ErrNotFound
			}
			return Delivery{}, fmt.Errorf("find user: %w", ferr)
		}
		if purpose == domain.PurposeEmailConfirmation && user.EmailConfirmed {
			countAuth("resend_otp", "not_found")
			return Delivery{}, domain.ErrNotFound
		}
		// Deactivated accounts get no reset codes, same as RequestPasswordReset.
		if purpose == domain.PurposePasswordReset && !user.Active {
			countAuth("resend_otp", "not_found")
			return Delivery{}, domain.ErrNotFound
		}
		subject, name = domain.UserSubject(user.ID), user.DisplayName()
	default:
		return Delivery{}, fmt.Errorf("find pending registration: %w", err)
	}

	delivery, err := u.issueCode(ctx, subject, purpose, emailAddr, name)
	if err != nil {
		return Delivery{}, err
	}
	u.events.Record(ctx, audit.Event{
		ActorID: domain.SystemActor, Action: audit.ActionOTPResent, EntityType: "Email",
		Details: "OTP resent to: " + emailAddr,
	})
	countAuth("resend_otp", "ok")
	return delivery, nil
}

// RequestPasswordReset mails a PasswordReset code to an active user. Unknown
// or inactive addresses succeed silently.
func (u *AuthUsecase) RequestPasswordReset(ctx context.Context, emailAddr string) error {
	user, err := u.users.FindByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			u.logger.DebugContext(ctx, "password reset for unknown email")
			return nil
		}
		return fmt.Errorf("find user: %w", err)
	}
	if !user.Active {
		return nil
	}

	if _, err := u.issueCode(ctx, domain.UserSubject(user.ID), domain.PurposePasswordReset, user.Email, user.DisplayName()); err != nil {
		return err
	}
	u.events.Record(ctx, audit.Event{
		ActorID: user.ID, Action: audit.ActionPasswordResetRequested, EntityType: "User", EntityID: user.ID,
	})
	countAuth("forgot_password", "ok")
	return nil
}

// ResetPassword sets a new password for an active user holding a valid
// PasswordReset code. Unknown and deactivated accounts get ErrInvalidOTP.
func (u *AuthUsecase) ResetPassword(ctx context.Context, emailAddr, code, newPassword string) error {
	hash, err := u.hasher.Hash(newPassword)
	if err != nil {
		if errors.Is(err, password.ErrTooShort) {
			return fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
		return fmt.Errorf("hash password: %w", err)
	}

	user, err := u.users.FindByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			u.invalidOTP(ctx, emailAddr, "reset_password")
			return domain.ErrInvalidOTP
		}
		return fmt.Errorf("find user: %w", err)
	}
	if !user.Active {
		u.invalidOTP(ctx, emailAddr, "reset_password")
		return domain.ErrInvalidOTP
	}

	ok, err := u.otps.Validate(ctx, domain.UserSubject(user.ID), code, domain.PurposePasswordReset)
	if err != nil {
		return err
	}
	if !ok {
		u.invalidOTP(ctx, emailAddr, "reset_password")
		return domain.ErrInvalidOTP
	}

	if err := u.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	u.events.Record(ctx, audit.Event{
		ActorID: user.ID, Action: audit.ActionPasswordReset, EntityType: "User", EntityID: user.ID,
	})
	countAuth("reset_password", "ok")
	return nil
}

func (u *AuthUsecase) issueCode(ctx context.Context, subject domain.SubjectRef, purpose domain.OTPPurpose, to, name string) (Delivery, error) {
	code, err := u.otps.Generate(ctx, subject, purpose)
	if err != nil {
		return Delivery{}, fmt.Errorf("generate otp: %w", err)
	}
	metrics.OTPsIssuedTotal.WithLabelValues(string(purpose)).Inc()

	subj, body, err := email.OTPMessage(purpose, name, code, int(u.otpTTL/time.Minute))
	if err != nil {
		return Delivery{}, err
	}
	if err := u.mailer.Send(ctx, to, subj, body); err != nil {
		// The code is already persisted, so the caller can resend.
		u.logger.ErrorContext(ctx, "send otp email failed", "purpose", purpose, "error", err)
		metrics.EmailFailuresTotal.Inc()
		return Delivery{EmailSent: false}, nil
	}
	return Delivery{EmailSent: true}, nil
}

func (u *AuthUsecase) invalidOTP(ctx context.Context, emailAddr, op string) {
	u.events.Record(ctx, audit.Security("", audit.EventInvalidOTP, "Invalid OTP attempt for: "+emailAddr))
	countAuth(op, "invalid_otp")
}

// FarmName is the name of the farm provisioned with a new account.
func FarmName(first, last, username string) string {
	owner := strings.TrimSpace(first + " " + last)
	if owner == "" {
		owner = username
	}
	return owner + "'s Farm"
}

func countAuth(operation, outcome string) {
	metrics.AuthEventsTotal.WithLabelValues(operation, outcome).Inc()
}
