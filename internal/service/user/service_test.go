package user

import (
	"context"
	"testing"

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

func newService() *Service {
	return NewService(memory.NewStore().Users(), security.NewBcryptHasher(bcrypt.MinCost, security.MinPasswordLen), nil)
}

func TestCreateUserRoles(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	admin := auth.Actor{UserID: uuid.New(), Role: model.RoleAdmin}
	secretary := auth.Actor{UserID: uuid.New(), Role: model.RoleSecretary}

	doc, err := svc.CreateUser(ctx, admin, &model.CreateUserRequest{
		Email: "dr.mensah@santetogo.tg", Name: "Dr Mensah", Password: "s3cure-pass", Role: "doctor",
	})
	require.NoError(t, err)
	assert.Equal(t, model.RoleDoctor, doc.Role)
	assert.NotEqual(t, "s3cure-pass", doc.PasswordHash)

	_, err = svc.CreateUser(ctx, secretary, &model.CreateUserRequest{
		Email: "kodjo@santetogo.tg", Name: "Kodjo", Password: "s3cure-pass", Role: "patient",
	})
	require.NoError(t, err)

	_, err = svc.CreateUser(ctx, secretary, &model.CreateUserRequest{
		Email: "boss@santetogo.tg", Name: "Boss", Password: "s3cure-pass", Role: "admin",
	})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrForbidden))

	_, err = svc.CreateUser(ctx, admin, &model.CreateUserRequest{
		Email: "DR.MENSAH@santetogo.tg", Name: "Dup", Password: "s3cure-pass", Role: "doctor",
	})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidState))

	_, err = svc.CreateUser(ctx, admin, &model.CreateUserRequest{
		Email: "short@santetogo.tg", Name: "Short", Password: "abc", Role: "doctor",
	})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrBadRequest))

	_, err = svc.CreateUser(ctx, admin, &model.CreateUserRequest{
		Email: "x@santetogo.tg", Name: "X", Password: "s3cure-pass", Role: "nurse",
	})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrBadRequest))
}

func TestGetAndList(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	u, created, err := svc.EnsureAdmin(ctx, "admin@santetogo.tg", "Admin", "change-me-now")
	require.NoError(t, err)
	require.True(t, created)

	again, created, err := svc.EnsureAdmin(ctx, "admin@santetogo.tg", "Admin", "change-me-now")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, u.ID, again.ID)

	patient := auth.Actor{UserID: uuid.New(), Role: model.RolePatient}
	_, err = svc.GetUser(ctx, patient, u.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrForbidden))
	_, err = svc.ListUsers(ctx, patient)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrForbidden))

	admin := auth.Actor{UserID: u.ID, Role: model.RoleAdmin}
	got, err := svc.GetUser(ctx, admin, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "admin@santetogo.tg", got.Email)

	_, err = svc.GetUser(ctx, admin, uuid.New())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNotFound))

	users, err := svc.ListUsers(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}
