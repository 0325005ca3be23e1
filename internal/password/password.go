// Package password hashes credentials with argon2id in PHC encoded form.
package password

import (
	"errors"
	"fmt"

	"github.com/matthewhartstonge/argon2"
)

const minLength = 8

var ErrTooShort = errors.New("password must be at least 8 characters")

type Hasher struct {
	cfg argon2.Config
}

func NewHasher() *Hasher {
	return &Hasher{cfg: argon2.DefaultConfig()}
}

// NewFastHasher uses minimal argon2 cost parameters. Tests only.
func NewFastHasher() *Hasher {
	cfg := argon2.DefaultConfig()
	cfg.TimeCost = 1
	cfg.MemoryCost = 8 * 1024
	cfg.Parallelism = 1
	return &Hasher{cfg: cfg}
}

func (h *Hasher) Hash(plain string) (string, error) {
	if len(plain) < minLength {
		return "", ErrTooShort
	}
	encoded, err := h.cfg.HashEncoded([]byte(plain))
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(encoded), nil
}

// Verify reports whether plain matches encoded. A malformed hash never matches.
func (h *Hasher) Verify(plain, encoded string) bool {
	ok, err := argon2.VerifyEncoded([]byte(plain), []byte(encoded))
	return err == nil && ok
}
