// Package repotest provides in-memory repository implementations for tests.
package repotest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ErlanBelekov/farm-market/internal/domain"
	"github.com/google/uuid"
)

// Repos bundles in-memory repositories that share one lock, so operations
// spanning them (ActivatePending, Replace) are atomic like a DB transaction.
type Repos struct {
	mu sync.Mutex

	users   map[string]*domain.User
	pending map[string]*domain.PendingRegistration
	otps    map[string]*domain.OTP
	farms   map[string]*domain.Farm
	audit   []*domain.AuditEntry

	Users   *Users
	Pending *Pending
	OTPs    *OTPs
	Audit   *Audit
}

func New() *Repos {
	r := &Repos{
		users:   make(map[string]*domain.User),
		pending: make(map[string]*domain.PendingRegistration),
		otps:    make(map[string]*domain.OTP),
		farms:   make(map[string]*domain.Farm),
	}
	r.Users = &Users{r: r}
	r.Pending = &Pending{r: r}
	r.OTPs = &OTPs{r: r}
	r.Audit = &Audit{r: r}
	return r
}

// Farms returns a snapshot of provisioned farms.
func (r *Repos) Farms() []domain.Farm {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Farm, 0, len(r.farms))
	for _, f := range r.farms {
		out = append(out, *f)
	}
	return out
}

// PendingCount returns the number of stored pending registrations.
func (r *Repos) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// OTPCount returns the number of stored codes, used or not.
func (r *Repos) OTPCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.otps)
}

// ---- users ----

type Users struct{ r *Repos }

func copyUser(u *domain.User) *domain.User {
	c := *u
	c.Roles = append([]domain.Role(nil), u.Roles...)
	return &c
}

func (s *Users) FindByID(_ context.Context, id string) (*domain.User, error) {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	u, ok := s.r.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return copyUser(u), nil
}

func (s *Users) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	u := s.r.userByEmail(email)
	if u == nil {
		return nil, domain.ErrUserNotFound
	}
	return copyUser(u), nil
}

func (r *Repos) userByEmail(email string) *domain.User {
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			return u
		}
	}
	return nil
}

func (s *Users) List(_ context.Context) ([]*domain.User, error) {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	out := make([]*domain.User, 0, len(s.r.users))
	for _, u := range s.r.users {
		out = append(out, copyUser(u))
	}
	return out, nil
}

func (s *Users) Create(_ context.Context, user *domain.User) (*domain.User, error) {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	return s.r.insertUser(user)
}

func (r *Repos) insertUser(user *domain.User) (*domain.User, error) {
	if r.userByEmail(user.Email) != nil {
		return nil, domain.ErrConflict
	}
	u := copyUser(user)
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now()
	u.CreatedAt, u.UpdatedAt = now, now
	r.users[u.ID] = u
	return copyUser(u), nil
}

func (s *Users) ActivatePending(_ context.Context, p *domain.PendingRegistration, farmName string) (*domain.User, error) {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()

	u, err := s.r.insertUser(&domain.User{
		Email:          p.Email,
		Username:       p.Username,
		FirstName:      p.FirstName,
		LastName:       p.LastName,
		PasswordHash:   p.PasswordHash,
		EmailConfirmed: true,
		Active:         true,
		Roles:          []domain.Role{domain.RoleCustomer},
	})
	if err != nil {
		return nil, err
	}
	farm := &domain.Farm{ID: uuid.NewString(), Name: farmName, OwnerID: u.ID, CreatedAt: time.Now()}
	s.r.farms[farm.ID] = farm
	delete(s.r.pending, p.ID)
	return u, nil
}

func (s *Users) mutate(userID string, fn func(u *domain.User)) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	u, ok := s.r.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	fn(u)
	u.UpdatedAt = time.Now()
	return nil
}

func (s *Users) AddRole(_ context.Context, userID string, role domain.Role) error {
	return s.mutate(userID, func(u *domain.User) {
		if !u.HasRole(role) {
			u.Roles = append(u.Roles, role)
		}
	})
}

func (s *Users) RemoveRole(_ context.Context, userID string, role domain.Role) error {
	return s.mutate(userID, func(u *domain.User) {
		kept := u.Roles[:0]
		for _, r := range u.Roles {
			if r != role {
				kept = append(kept, r)
			}
		}
		u.Roles = kept
	})
}

func (s *Users) SetActive(_ context.Context, userID string, active bool) error {
	return s.mutate(userID, func(u *domain.User) { u.Active = active })
}

func (s *Users) MarkEmailConfirmed(_ context.Context, userID string) error {
	return s.mutate(userID, func(u *domain.User) { u.EmailConfirmed = true })
}

func (s *Users) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	return s.mutate(userID, func(u *domain.User) { u.PasswordHash = hash })
}

// ---- pending registrations ----

type Pending struct{ r *Repos }

func (s *Pending) Create(_ context.Context, p *domain.PendingRegistration) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	for _, existing := range s.r.pending {
		if strings.EqualFold(existing.Email, p.Email) {
			return domain.ErrConflict
		}
	}
	c := *p
	if c.ID == "" {
		c.ID = uuid.NewString()
		p.ID = c.ID
	}
	s.r.pending[c.ID] = &c
	return nil
}

func (s *Pending) FindByEmail(_ context.Context, email string) (*domain.PendingRegistration, error) {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	for _, p := range s.r.pending {
		if strings.EqualFold(p.Email, email) && !p.Confirmed {
			c := *p
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Pending) Delete(_ context.Context, id string) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	delete(s.r.pending, id)
	return nil
}

func (s *Pending) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	n := 0
	for id, p := range s.r.pending {
		if p.Expired(now) {
			delete(s.r.pending, id)
			n++
		}
	}
	return n, nil
}

// ---- otps ----

type OTPs struct{ r *Repos }

func (s *OTPs) Replace(_ context.Context, otp *domain.OTP, sharedEmail string) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()

	var owner *domain.User
	if sharedEmail != "" {
		owner = s.r.userByEmail(sharedEmail)
	}
	for id, o := range s.r.otps {
		if o.Used || o.Purpose != otp.Purpose {
			continue
		}
		if o.Subject == otp.Subject || (owner != nil && o.Subject == domain.UserSubject(owner.ID)) {
			delete(s.r.otps, id)
		}
	}

	c := *otp
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.r.otps[c.ID] = &c
	return nil
}

func (s *OTPs) Consume(_ context.Context, subject domain.SubjectRef, codeHash string, purpose domain.OTPPurpose, now time.Time) (bool, error) {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	for _, o := range s.r.otps {
		if o.Subject == subject && o.CodeHash == codeHash && o.Purpose == purpose && !o.Used && o.ExpiresAt.After(now) {
			o.Used = true
			return true, nil
		}
	}
	return false, nil
}

func (s *OTPs) DeleteStale(_ context.Context, now time.Time) (int, error) {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	n := 0
	for id, o := range s.r.otps {
		if o.Used || !o.ExpiresAt.After(now) {
			delete(s.r.otps, id)
			n++
		}
	}
	return n, nil
}

// ---- audit ----

type Audit struct{ r *Repos }

func (s *Audit) Append(_ context.Context, entry *domain.AuditEntry) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	c := *entry
	s.r.audit = append(s.r.audit, &c)
	return nil
}

// Actions returns the recorded audit actions in order.
func (s *Audit) Actions() []string {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	out := make([]string, len(s.r.audit))
	for i, e := range s.r.audit {
		out[i] = e.Action
	}
	return out
}

// Entries returns a copy of every recorded audit entry.
func (s *Audit) Entries() []domain.AuditEntry {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	out := make([]domain.AuditEntry, len(s.r.audit))
	for i, e := range s.r.audit {
		out[i] = *e
	}
	return out
}
