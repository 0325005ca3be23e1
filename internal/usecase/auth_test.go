package usecase_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/ErlanBelekov/farm-market/internal/audit"
	"github.com/ErlanBelekov/farm-market/internal/domain"
	"github.com/ErlanBelekov/farm-market/internal/otp"
	"github.com/ErlanBelekov/farm-market/internal/password"
	"github.com/ErlanBelekov/farm-market/internal/pending"
	"github.com/ErlanBelekov/farm-market/internal/repository/repotest"
	"github.com/ErlanBelekov/farm-market/internal/token"
	"github.com/ErlanBelekov/farm-market/internal/usecase"
)

// ---- fakes ----

type sentMail struct {
	to, subject, body string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *fakeMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to, subject, body})
	return nil
}

var codePattern = regexp.MustCompile(`>([0-9]{6})<`)

func (m *fakeMailer) lastCode(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("no email sent")
	}
	match := codePattern.FindStringSubmatch(m.sent[len(m.sent)-1].body)
	if match == nil {
		t.Fatalf("no code in body %q", m.sent[len(m.sent)-1].body)
	}
	return match[1]
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ---- helpers ----

const testJWTKey = "usecase-test-secret-at-least-32-chars!!"

type harness struct {
	auth   *usecase.AuthUsecase
	repos  *repotest.Repos
	mailer *fakeMailer
	clock  *clock
	issuer *token.Issuer
	cipher *token.Cipher
	hasher *password.Hasher
	deps   usecase.AuthDeps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	repos := repotest.New()
	c := &clock{now: time.Now()}

	issuer, err := token.NewIssuer([]byte(testJWTKey), "farm-market", "farm-market-clients", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	key, iv, err := token.GenerateKeyMaterial()
	if err != nil {
		t.Fatal(err)
	}
	cipher, err := token.NewCipher(key, iv)
	if err != nil {
		t.Fatal(err)
	}

	h := &harness{
		repos:  repos,
		mailer: &fakeMailer{},
		clock:  c,
		issuer: issuer,
		cipher: cipher,
		hasher: password.NewFastHasher(),
	}
	h.deps = usecase.AuthDeps{
		Users:   repos.Users,
		Pending: pending.NewStore(repos.Pending, repos.Users, pending.WithClock(c.Now)),
		OTPs:    otp.NewEngine(repos.OTPs, otp.WithClock(c.Now)),
		Issuer:  issuer,
		Cipher:  cipher,
		Hasher:  h.hasher,
		Mailer:  h.mailer,
		Events:  audit.NewRecorder(repos.Audit, logger),
		Logger:  logger,
	}
	h.auth = usecase.NewAuthUsecase(h.deps)
	return h
}

var alice = usecase.RegisterInput{
	Email:     "a@x.com",
	Username:  "alice",
	Password:  "s3cret-password",
	FirstName: "Alice",
	LastName:  "Smith",
}

// registerAndConfirm takes alice all the way to Active.
func (h *harness) registerAndConfirm(t *testing.T) *usecase.AuthResult {
	t.Helper()
	ctx := context.Background()
	if _, err := h.auth.Register(ctx, alice); err != nil {
		t.Fatalf("register: %v", err)
	}
	res, err := h.auth.ConfirmEmail(ctx, alice.Email, h.mailer.lastCode(t))
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	return res
}

func hasAction(actions []string, want string) bool {
	for _, a := range actions {
		if a == want {
			return true
		}
	}
	return false
}

// ---- Register ----

func TestRegister_CreatesPendingAndSendsCode(t *testing.T) {
	h := newHarness(t)

	d, err := h.auth.Register(context.Background(), alice)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !d.EmailSent {
		t.Error("expected email sent")
	}
	if h.repos.PendingCount() != 1 {
		t.Fatalf("pending = %d, want 1", h.repos.PendingCount())
	}
	if h.mailer.sent[0].to != alice.Email {
		t.Errorf("mail to %q", h.mailer.sent[0].to)
	}
	h.mailer.lastCode(t)
	if !hasAction(h.repos.Audit.Actions(), audit.ActionRegisterInitiated) {
		t.Errorf("audit = %v", h.repos.Audit.Actions())
	}
}

func TestRegister_ConflictWithinTTL_SucceedsAfterExpiry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.auth.Register(ctx, alice); err != nil {
		t.Fatal(err)
	}
	if _, err := h.auth.Register(ctx, alice); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second register err = %v, want ErrConflict", err)
	}
	if !hasAction(h.repos.Audit.Actions(), audit.EventDuplicateRegistration) {
		t.Errorf("expected DuplicateRegistration event, got %v", h.repos.Audit.Actions())
	}

	h.clock.Advance(pending.DefaultTTL)
	if _, err := h.auth.Register(ctx, alice); err != nil {
		t.Fatalf("register after expiry: %v", err)
	}
	if h.repos.PendingCount() != 1 {
		t.Errorf("pending = %d, want 1", h.repos.PendingCount())
	}
}

func TestRegister_ConflictWhenActive(t *testing.T) {
	h := newHarness(t)
	h.registerAndConfirm(t)

	if _, err := h.auth.Register(context.Background(), alice); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestRegister_ShortPassword(t *testing.T) {
	h := newHarness(t)
	in := alice
	in.Password = "short"
	if _, err := h.auth.Register(context.Background(), in); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestRegister_MailFailureIsSoft(t *testing.T) {
	h := newHarness(t)
	h.mailer.err = errors.New("smtp down")

	d, err := h.auth.Register(context.Background(), alice)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if d.EmailSent {
		t.Error("EmailSent should be false")
	}
	if h.repos.OTPCount() != 1 {
		t.Error("code must stay persisted after a failed send")
	}
}

// ---- ConfirmEmail ----

func TestConfirmEmail_CreatesCustomerWithFarm(t *testing.T) {
	h := newHarness(t)
	res := h.registerAndConfirm(t)

	if res.DisplayName != "Alice Smith" {
		t.Errorf("display name = %q", res.DisplayName)
	}
	if res.Token != "" {
		t.Error("confirm must not issue a token")
	}
	if h.repos.PendingCount() != 0 {
		t.Error("pending record must be removed")
	}

	u, err := h.repos.Users.FindByEmail(context.Background(), alice.Email)
	if err != nil {
		t.Fatal(err)
	}
	if !u.Active || !u.EmailConfirmed {
		t.Errorf("user flags active=%v confirmed=%v", u.Active, u.EmailConfirmed)
	}
	if len(u.Roles) != 1 || u.Roles[0] != domain.RoleCustomer {
		t.Errorf("roles = %v, want [Customer]", u.Roles)
	}
	farms := h.repos.Farms()
	if len(farms) != 1 || farms[0].Name != "Alice Smith's Farm" || farms[0].OwnerID != u.ID {
		t.Errorf("farms = %+v", farms)
	}
	if !h.hasher.Verify(alice.Password, u.PasswordHash) {
		t.Error("password hash must carry over from registration")
	}
}

func TestConfirmEmail_WrongCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.auth.Register(ctx, alice); err != nil {
		t.Fatal(err)
	}
	code := h.mailer.lastCode(t)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	if _, err := h.auth.ConfirmEmail(ctx, alice.Email, wrong); !errors.Is(err, domain.ErrInvalidOTP) {
		t.Fatalf("err = %v, want ErrInvalidOTP", err)
	}
	if !hasAction(h.repos.Audit.Actions(), audit.EventInvalidOTP) {
		t.Errorf("audit = %v", h.repos.Audit.Actions())
	}
	if h.repos.PendingCount() != 1 {
		t.Error("pending record must survive a wrong code")
	}
}

func TestConfirmEmail_CodeIsSingleUse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.auth.Register(ctx, alice); err != nil {
		t.Fatal(err)
	}
	code := h.mailer.lastCode(t)
	if _, err := h.auth.ConfirmEmail(ctx, alice.Email, code); err != nil {
		t.Fatal(err)
	}
	if _, err := h.auth.ConfirmEmail(ctx, alice.Email, code); !errors.Is(err, domain.ErrInvalidOTP) {
		t.Fatalf("replay err = %v, want ErrInvalidOTP", err)
	}
}

func TestConfirmEmail_ExpiredRegistration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.auth.Register(ctx, alice); err != nil {
		t.Fatal(err)
	}
	code := h.mailer.lastCode(t)
	h.clock.Advance(pending.DefaultTTL)

	if _, err := h.auth.ConfirmEmail(ctx, alice.Email, code); !errors.Is(err, domain.ErrRegistrationExpired) {
		t.Fatalf("err = %v, want ErrRegistrationExpired", err)
	}
	if h.repos.PendingCount() != 0 {
		t.Error("expired record must be purged")
	}
}

func TestConfirmEmail_UnknownEmail(t *testing.T) {
	h := newHarness(t)
	if _, err := h.auth.ConfirmEmail(context.Background(), "nobody@x.com", "123456"); !errors.Is(err, domain.ErrInvalidOTP) {
		t.Fatalf("err = %v, want ErrInvalidOTP", err)
	}
}

func TestConfirmEmail_ExistingUnconfirmedUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	hash, _ := h.hasher.Hash("legacy-password")
	u, err := h.repos.Users.Create(ctx, &domain.User{Email: "old@x.com", PasswordHash: hash, Active: true})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := h.auth.ResendOtp(ctx, "old@x.com", domain.PurposeEmailConfirmation); err != nil {
		t.Fatalf("resend: %v", err)
	}
	if _, err := h.auth.ConfirmEmail(ctx, "old@x.com", h.mailer.lastCode(t)); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	got, _ := h.repos.Users.FindByID(ctx, u.ID)
	if !got.EmailConfirmed {
		t.Error("user must be confirmed")
	}
}

// ---- Login / GetToken ----

func TestLogin_ReturnsDisplayNameWithoutToken(t *testing.T) {
	h := newHarness(t)
	h.registerAndConfirm(t)

	res, err := h.auth.Login(context.Background(), alice.Email, alice.Password)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.Token != "" {
		t.Fatal("login must not return a token")
	}
	if res.DisplayName != "Alice Smith" {
		t.Errorf("display name = %q", res.DisplayName)
	}
	if !hasAction(h.repos.Audit.Actions(), audit.ActionLogin) {
		t.Errorf("audit = %v", h.repos.Audit.Actions())
	}
}

func TestGetToken_ReturnsEncryptedToken(t *testing.T) {
	h := newHarness(t)
	h.registerAndConfirm(t)

	res, err := h.auth.GetToken(context.Background(), alice.Email, alice.Password)
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if res.Token == "" {
		t.Fatal("expected a token")
	}
	if token.ValidateIntegrity(res.Token) {
		t.Fatal("returned token must not be a raw JWT")
	}

	signed, err := h.cipher.Decrypt(res.Token)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	claims, err := h.issuer.Parse(signed)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Email != alice.Email || !claims.HasRole(domain.RoleCustomer) {
		t.Errorf("claims = %+v", claims)
	}
	if !hasAction(h.repos.Audit.Actions(), audit.ActionTokenGenerated) {
		t.Errorf("audit = %v", h.repos.Audit.Actions())
	}
}

func TestCredentialChecks(t *testing.T) {
	login := func(h *harness, email, pw string) error {
		_, err := h.auth.Login(context.Background(), email, pw)
		return err
	}
	getToken := func(h *harness, email, pw string) error {
		_, err := h.auth.GetToken(context.Background(), email, pw)
		return err
	}

	cases := []struct {
		name          string
		run           func(h *harness, email, pw string) error
		failEvent     string
		inactiveEvent string
	}{
		{"login", login, audit.EventFailedLogin, audit.EventInactiveUserLogin},
		{"get token", getToken, audit.EventFailedTokenRequest, audit.EventInactiveUserTokenRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name+"/wrong password", func(t *testing.T) {
			h := newHarness(t)
			h.registerAndConfirm(t)
			if err := tc.run(h, alice.Email, "wrong-password"); !errors.Is(err, domain.ErrInvalidCredentials) {
				t.Fatalf("err = %v, want ErrInvalidCredentials", err)
			}
			if !hasAction(h.repos.Audit.Actions(), tc.failEvent) {
				t.Errorf("audit = %v, want %s", h.repos.Audit.Actions(), tc.failEvent)
			}
		})
		t.Run(tc.name+"/unknown email", func(t *testing.T) {
			h := newHarness(t)
			if err := tc.run(h, "ghost@x.com", "whatever-pw"); !errors.Is(err, domain.ErrInvalidCredentials) {
				t.Fatalf("err = %v, want ErrInvalidCredentials", err)
			}
		})
		t.Run(tc.name+"/inactive", func(t *testing.T) {
			h := newHarness(t)
			res := h.registerAndConfirm(t)
			if err := h.repos.Users.SetActive(context.Background(), res.UserID, false); err != nil {
				t.Fatal(err)
			}
			if err := tc.run(h, alice.Email, alice.Password); !errors.Is(err, domain.ErrAccountInactive) {
				t.Fatalf("err = %v, want ErrAccountInactive", err)
			}
			if !hasAction(h.repos.Audit.Actions(), tc.inactiveEvent) {
				t.Errorf("audit = %v, want %s", h.repos.Audit.Actions(), tc.inactiveEvent)
			}
		})
		t.Run(tc.name+"/unconfirmed", func(t *testing.T) {
			h := newHarness(t)
			hash, _ := h.hasher.Hash(alice.Password)
			if _, err := h.repos.Users.Create(context.Background(), &domain.User{Email: alice.Email, PasswordHash: hash, Active: true}); err != nil {
				t.Fatal(err)
			}
			if err := tc.run(h, alice.Email, alice.Password); !errors.Is(err, domain.ErrEmailNotConfirmed) {
				t.Fatalf("err = %v, want ErrEmailNotConfirmed", err)
			}
		})
	}
}

// ---- ResendOtp ----

func TestResendOtp_InvalidatesPreviousCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.auth.Register(ctx, alice); err != nil {
		t.Fatal(err)
	}
	first := h.mailer.lastCode(t)

	if _, err := h.auth.ResendOtp(ctx, alice.Email, domain.PurposeEmailConfirmation); err != nil {
		t.Fatalf("resend: %v", err)
	}
	second := h.mailer.lastCode(t)
	if h.repos.OTPCount() != 1 {
		t.Fatalf("codes = %d, want 1", h.repos.OTPCount())
	}
	if first != second {
		if _, err := h.auth.ConfirmEmail(ctx, alice.Email, first); !errors.Is(err, domain.ErrInvalidOTP) {
			t.Fatalf("old code err = %v, want ErrInvalidOTP", err)
		}
	}
	if _, err := h.auth.ConfirmEmail(ctx, alice.Email, second); err != nil {
		t.Fatalf("new code: %v", err)
	}
	if !hasAction(h.repos.Audit.Actions(), audit.ActionOTPResent) {
		t.Errorf("audit = %v", h.repos.Audit.Actions())
	}
}

func TestResendOtp_NotFoundAndExpired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.auth.ResendOtp(ctx, "ghost@x.com", domain.PurposeEmailConfirmation); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown: err = %v, want ErrNotFound", err)
	}

	if _, err := h.auth.Register(ctx, alice); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(pending.DefaultTTL + time.Minute)
	if _, err := h.auth.ResendOtp(ctx, alice.Email, domain.PurposeEmailConfirmation); !errors.Is(err, domain.ErrRegistrationExpired) {
		t.Fatalf("expired: err = %v, want ErrRegistrationExpired", err)
	}
	if h.repos.PendingCount() != 0 {
		t.Error("expired record must be purged")
	}
	if _, err := h.auth.ResendOtp(ctx, alice.Email, domain.PurposeEmailConfirmation); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("after purge: err = %v, want ErrNotFound", err)
	}
}

func TestResendOtp_ConfirmedUserConfirmationIsNotFound(t *testing.T) {
	h := newHarness(t)
	h.registerAndConfirm(t)
	if _, err := h.auth.ResendOtp(context.Background(), alice.Email, domain.PurposeEmailConfirmation); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestResendOtp_DeactivatedUserGetsNoResetCode(t *testing.T) {
	h := newHarness(t)
	res := h.registerAndConfirm(t)
	ctx := context.Background()
	if err := h.repos.Users.SetActive(ctx, res.UserID, false); err != nil {
		t.Fatal(err)
	}
	sent := len(h.mailer.sent)

	if _, err := h.auth.ResendOtp(ctx, alice.Email, domain.PurposePasswordReset); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if len(h.mailer.sent) != sent {
		t.Error("no email should be sent to a deactivated account")
	}
}

// ---- password reset ----

func TestPasswordReset_Flow(t *testing.T) {
	h := newHarness(t)
	h.registerAndConfirm(t)
	ctx := context.Background()

	if err := h.auth.RequestPasswordReset(ctx, alice.Email); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	code := h.mailer.lastCode(t)

	if err := h.auth.ResetPassword(ctx, alice.Email, code, "brand-new-password"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := h.auth.Login(ctx, alice.Email, alice.Password); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("old password err = %v, want ErrInvalidCredentials", err)
	}
	if _, err := h.auth.Login(ctx, alice.Email, "brand-new-password"); err != nil {
		t.Fatalf("new password: %v", err)
	}
	if err := h.auth.ResetPassword(ctx, alice.Email, code, "another-password"); !errors.Is(err, domain.ErrInvalidOTP) {
		t.Fatalf("replay err = %v, want ErrInvalidOTP", err)
	}
}

func TestResetPassword_DeactivatedUserRejected(t *testing.T) {
	h := newHarness(t)
	res := h.registerAndConfirm(t)
	ctx := context.Background()

	if err := h.auth.RequestPasswordReset(ctx, alice.Email); err != nil {
		t.Fatal(err)
	}
	code := h.mailer.lastCode(t)
	if err := h.repos.Users.SetActive(ctx, res.UserID, false); err != nil {
		t.Fatal(err)
	}

	if err := h.auth.ResetPassword(ctx, alice.Email, code, "brand-new-password"); !errors.Is(err, domain.ErrInvalidOTP) {
		t.Fatalf("err = %v, want ErrInvalidOTP", err)
	}
	if err := h.repos.Users.SetActive(ctx, res.UserID, true); err != nil {
		t.Fatal(err)
	}
	if _, err := h.auth.Login(ctx, alice.Email, alice.Password); err != nil {
		t.Fatalf("password must be unchanged: %v", err)
	}
}

func TestRequestPasswordReset_UnknownEmailIsSilent(t *testing.T) {
	h := newHarness(t)
	if err := h.auth.RequestPasswordReset(context.Background(), "ghost@x.com"); err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
	if len(h.mailer.sent) != 0 {
		t.Error("no email should be sent")
	}
}

// countingHasher records how many Verify calls reach the real hasher.
type countingHasher struct {
	*password.Hasher
	verifies int
}

func (c *countingHasher) Verify(plain, encoded string) bool {
	c.verifies++
	return c.Hasher.Verify(plain, encoded)
}

func TestLogin_UnknownEmailStillVerifiesAHash(t *testing.T) {
	h := newHarness(t)
	h.registerAndConfirm(t)
	ctx := context.Background()

	counter := &countingHasher{Hasher: h.hasher}
	deps := h.deps
	deps.Hasher = counter
	auth := usecase.NewAuthUsecase(deps)

	if _, err := auth.Login(ctx, "ghost@x.com", alice.Password); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("unknown: err = %v, want ErrInvalidCredentials", err)
	}
	if counter.verifies != 1 {
		t.Errorf("unknown email: verifies = %d, want 1", counter.verifies)
	}

	counter.verifies = 0
	if _, err := auth.Login(ctx, alice.Email, "wrong-password"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("wrong password: err = %v, want ErrInvalidCredentials", err)
	}
	if counter.verifies != 1 {
		t.Errorf("wrong password: verifies = %d, want 1", counter.verifies)
	}
}

func TestFarmName(t *testing.T) {
	cases := map[[3]string]string{
		{"Alice", "Smith", "alice"}: "Alice Smith's Farm",
		{"", "", "bob"}:             "bob's Farm",
		{"Cher", "", "cher"}:        "Cher's Farm",
	}
	for in, want := range cases {
		if got := usecase.FarmName(in[0], in[1], in[2]); got != want {
			t.Errorf("FarmName%v = %q, want %q", in, got, want)
		}
	}
}
