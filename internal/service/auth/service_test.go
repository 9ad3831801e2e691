package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/santetogo/records-api/internal/model"
	"github.com/santetogo/records-api/internal/repository/memory"
	"github.com/santetogo/records-api/pkg/auth"
	apperrors "github.com/santetogo/records-api/pkg/errors"
	"github.com/santetogo/records-api/pkg/security"
)

func setup(t *testing.T) (*Service, *model.User) {
	t.Helper()
	store := memory.NewStore()
	hasher := security.NewBcryptHasher(bcrypt.MinCost, security.MinPasswordLen)
	hash, err := hasher.Hash("correct-horse")
	require.NoError(t, err)
	u := &model.User{
		Base:         model.Base{ID: uuid.New()},
		Email:        "ama@santetogo.tg",
		Name:         "Ama",
		Role:         model.RolePatient,
		PasswordHash: hash,
	}
	require.NoError(t, store.Users().Create(context.Background(), u))
	return NewService(store.Users(), auth.NewJWTService("test-secret", time.Hour), hasher), u
}

func TestLogin(t *testing.T) {
	svc, u := setup(t)
	ctx := context.Background()

	resp, err := svc.Login(ctx, "AMA@santetogo.tg ", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, int64(3600), resp.ExpiresIn)

	actor, err := svc.ValidateToken(ctx, resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, actor.UserID)
	assert.Equal(t, model.RolePatient, actor.Role)

	_, err = svc.Login(ctx, "ama@santetogo.tg", "wrong")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrUnauthorized))
	_, err = svc.Login(ctx, "nobody@santetogo.tg", "correct-horse")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrUnauthorized))

	_, err = svc.ValidateToken(ctx, "not-a-token")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrUnauthorized))
}

func TestLoginLockout(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	for i := 0; i < maxLoginAttempts; i++ {
		_, err := svc.Login(ctx, "ama@santetogo.tg", "guess")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrUnauthorized))
	}
	_, err := svc.Login(ctx, "ama@santetogo.tg", "correct-horse")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrTooManyAttempts))
}
