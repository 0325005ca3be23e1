package password_test

import (
	"strings"
	"testing"

	"github.com/ErlanBelekov/farm-market/internal/password"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasher_HashAndVerify(t *testing.T) {
	h := password.NewFastHasher()

	encoded, err := h.Hash("correct horse battery")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$"))

	assert.True(t, h.Verify("correct horse battery", encoded))
	assert.False(t, h.Verify("wrong password", encoded))
}

func TestHasher_SaltsEachHash(t *testing.T) {
	h := password.NewFastHasher()
	a, err := h.Hash("same-password")
	require.NoError(t, err)
	b, err := h.Hash("same-password")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestHasher_TooShort(t *testing.T) {
	_, err := password.NewFastHasher().Hash("short")
	assert.ErrorIs(t, err, password.ErrTooShort)
}

func TestHasher_VerifyMalformedHash(t *testing.T) {
	assert.False(t, password.NewFastHasher().Verify("anything-long", "not-a-hash"))
}
