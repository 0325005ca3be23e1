package security

import (
	"crypto/subtle"
	"strings"
)

// APIKeys holds the accepted keys for machine clients.
type APIKeys struct {
	keys [][]byte
}

func NewAPIKeys(keys []string) *APIKeys {
	a := &APIKeys{}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			a.keys = append(a.keys, []byte(k))
		}
	}
	return a
}

func (a *APIKeys) Enabled() bool { return len(a.keys) > 0 }

// Valid compares key against every configured key in constant time.
func (a *APIKeys) Valid(key string) bool {
	if strings.TrimSpace(key) == "" {
		return false
	}
	candidate := []byte(key)
	match := 0
	for _, k := range a.keys {
		match |= subtle.ConstantTimeCompare(candidate, k)
	}
	return match == 1
}
