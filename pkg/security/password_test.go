package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasher(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost, 4)

	hash, err := h.Hash("1234")
	require.NoError(t, err)
	assert.NotEqual(t, "1234", hash)

	assert.NoError(t, h.Compare(hash, "1234"))
	assert.ErrorIs(t, h.Compare(hash, "4321"), ErrMismatch)

	_, err = h.Hash("123")
	assert.ErrorIs(t, err, ErrTooShort)
}

func TestBcryptHasherCostFallback(t *testing.T) {
	h := NewBcryptHasher(100, MinPasswordLen).(*bcryptHasher)
	assert.Equal(t, bcrypt.DefaultCost, h.cost)
}
