package otp_test

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ErlanBelekov/farm-market/internal/domain"
	"github.com/ErlanBelekov/farm-market/internal/otp"
	"github.com/ErlanBelekov/farm-market/internal/repository/repotest"
)

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

func newEngine(t *testing.T) (*otp.Engine, *repotest.Repos, *clock) {
	t.Helper()
	repos := repotest.New()
	c := &clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	return otp.NewEngine(repos.OTPs, otp.WithClock(c.Now)), repos, c
}

var sixDigits = regexp.MustCompile(`^[0-9]{6}$`)

func TestGenerate_ValidateSucceedsExactlyOnce(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()
	subject := domain.PendingSubject("c@d.com")

	code, err := e.Generate(ctx, subject, domain.PurposeEmailConfirmation)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !sixDigits.MatchString(code) {
		t.Fatalf("code %q is not 6 digits", code)
	}

	ok, err := e.Validate(ctx, subject, code, domain.PurposeEmailConfirmation)
	if err != nil || !ok {
		t.Fatalf("first validate = %v, %v; want true", ok, err)
	}
	ok, err = e.Validate(ctx, subject, code, domain.PurposeEmailConfirmation)
	if err != nil || ok {
		t.Fatalf("second validate = %v, %v; want false", ok, err)
	}
}

func TestValidate_FailsAfterExpiry(t *testing.T) {
	e, _, c := newEngine(t)
	ctx := context.Background()
	subject := domain.PendingSubject("c@d.com")

	code, err := e.Generate(ctx, subject, domain.PurposeEmailConfirmation)
	if err != nil {
		t.Fatal(err)
	}
	c.Advance(otp.DefaultTTL)

	ok, err := e.Validate(ctx, subject, code, domain.PurposeEmailConfirmation)
	if err != nil || ok {
		t.Fatalf("validate after expiry = %v, %v; want false", ok, err)
	}
}

func TestGenerate_InvalidatesEarlierCode(t *testing.T) {
	e, repos, _ := newEngine(t)
	ctx := context.Background()
	subject := domain.PendingSubject("c@d.com")

	first, err := e.Generate(ctx, subject, domain.PurposeEmailConfirmation)
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.Generate(ctx, subject, domain.PurposeEmailConfirmation)
	if err != nil {
		t.Fatal(err)
	}
	if repos.OTPCount() != 1 {
		t.Fatalf("stored codes = %d, want 1", repos.OTPCount())
	}

	if first != second {
		if ok, _ := e.Validate(ctx, subject, first, domain.PurposeEmailConfirmation); ok {
			t.Fatal("first code must be invalid after a second was issued")
		}
	}
	if ok, _ := e.Validate(ctx, subject, second, domain.PurposeEmailConfirmation); !ok {
		t.Fatal("latest code must validate")
	}
}

func TestGenerate_PendingInvalidatesSameEmailUserCodes(t *testing.T) {
	e, repos, _ := newEngine(t)
	ctx := context.Background()

	u, err := repos.Users.Create(ctx, &domain.User{Email: "c@d.com", Active: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Generate(ctx, domain.UserSubject(u.ID), domain.PurposeEmailConfirmation); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Generate(ctx, domain.PendingSubject("C@D.com"), domain.PurposeEmailConfirmation); err != nil {
		t.Fatal(err)
	}
	if repos.OTPCount() != 1 {
		t.Fatalf("stored codes = %d, want 1", repos.OTPCount())
	}
}

func TestGenerate_PurposesAreIndependent(t *testing.T) {
	e, repos, _ := newEngine(t)
	ctx := context.Background()
	subject := domain.UserSubject("user-1")

	confirm, err := e.Generate(ctx, subject, domain.PurposeEmailConfirmation)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Generate(ctx, subject, domain.PurposePasswordReset); err != nil {
		t.Fatal(err)
	}
	if repos.OTPCount() != 2 {
		t.Fatalf("stored codes = %d, want 2", repos.OTPCount())
	}
	if ok, _ := e.Validate(ctx, subject, confirm, domain.PurposePasswordReset); ok {
		t.Fatal("code must not validate under another purpose")
	}
	if ok, _ := e.Validate(ctx, subject, confirm, domain.PurposeEmailConfirmation); !ok {
		t.Fatal("code must validate under its own purpose")
	}
}

func TestValidate_RejectsMalformedAndWrongSubject(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()

	code, err := e.Generate(ctx, domain.PendingSubject("a@x.com"), domain.PurposeEmailConfirmation)
	if err != nil {
		t.Fatal(err)
	}
	for _, bad := range []string{"", "12345", "1234567", "abcdef"} {
		if ok, _ := e.Validate(ctx, domain.PendingSubject("a@x.com"), bad, domain.PurposeEmailConfirmation); ok {
			t.Errorf("code %q must not validate", bad)
		}
	}
	if ok, _ := e.Validate(ctx, domain.PendingSubject("b@x.com"), code, domain.PurposeEmailConfirmation); ok {
		t.Error("code must not validate for another subject")
	}
}

func TestValidate_ConcurrentConsumersSingleWinner(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()
	subject := domain.PendingSubject("c@d.com")

	code, err := e.Generate(ctx, subject, domain.PurposeEmailConfirmation)
	if err != nil {
		t.Fatal(err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := e.Validate(ctx, subject, code, domain.PurposeEmailConfirmation); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("winners = %d, want 1", wins.Load())
	}
}

type failingRepo struct{ err error }

func (r failingRepo) Replace(context.Context, *domain.OTP, string) error { return r.err }
func (r failingRepo) Consume(context.Context, domain.SubjectRef, string, domain.OTPPurpose, time.Time) (bool, error) {
	return false, r.err
}
func (r failingRepo) DeleteStale(context.Context, time.Time) (int, error) { return 0, r.err }

func TestEngine_PropagatesStoreErrors(t *testing.T) {
	boom := errors.New("db down")
	e := otp.NewEngine(failingRepo{err: boom})
	ctx := context.Background()

	if _, err := e.Generate(ctx, domain.UserSubject("u"), domain.PurposePasswordReset); !errors.Is(err, boom) {
		t.Fatalf("generate err = %v, want wrapped db error", err)
	}
	if _, err := e.Validate(ctx, domain.UserSubject("u"), "123456", domain.PurposePasswordReset); !errors.Is(err, boom) {
		t.Fatalf("validate err = %v, want wrapped db error", err)
	}
}
