package pin

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
	apperrors "github.com/santetogo/records-api/pkg/errors"
	"github.com/santetogo/records-api/pkg/security"
)

func setup(t *testing.T, cfg Config) (*Service, uuid.UUID) {
	t.Helper()
	store := memory.NewStore()
	svc := NewService(store.Patients(), security.NewBcryptHasher(bcrypt.MinCost, minDigits), cfg, nil)

	hash, err := svc.Hash("4821")
	require.NoError(t, err)
	patient := &model.Patient{Base: model.Base{ID: uuid.New()}, Name: "Kossi", PINHash: hash}
	require.NoError(t, store.Patients().Create(context.Background(), patient))
	return svc, patient.ID
}

func TestValidFormat(t *testing.T) {
	for pin, want := range map[string]bool{
		"1234":    true,
		"123456":  true,
		"123":     false,
		"1234567": false,
		"12a4":    false,
		"":        false,
	} {
		assert.Equal(t, want, ValidFormat(pin), pin)
	}
}

func TestHashRejectsBadFormat(t *testing.T) {
	svc, _ := setup(t, Config{})
	_, err := svc.Hash("abcd")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrBadRequest))
}

func TestVerify(t *testing.T) {
	svc, patientID := setup(t, Config{})
	ctx := context.Background()
	viewer := uuid.New()

	require.NoError(t, svc.Verify(ctx, patientID, viewer, "4821"))

	err := svc.Verify(ctx, patientID, viewer, "0000")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrForbidden))

	err = svc.Verify(ctx, uuid.New(), viewer, "4821")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNotFound))
}

func TestVerifyLocksOutAfterMaxAttempts(t *testing.T) {
	svc, patientID := setup(t, Config{MaxAttempts: 3, Lockout: time.Hour})
	ctx := context.Background()
	viewer, other := uuid.New(), uuid.New()

	for i := 0; i < 3; i++ {
		err := svc.Verify(ctx, patientID, viewer, "9999")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrForbidden))
	}

	// even the right PIN is refused while locked
	err := svc.Verify(ctx, patientID, viewer, "4821")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrTooManyAttempts))

	// the count is per viewer
	require.NoError(t, svc.Verify(ctx, patientID, other, "4821"))

	svc.Reset(patientID)
	require.NoError(t, svc.Verify(ctx, patientID, viewer, "4821"))
}

func TestSuccessClearsFailures(t *testing.T) {
	svc, patientID := setup(t, Config{MaxAttempts: 2})
	ctx := context.Background()
	viewer := uuid.New()

	assert.Error(t, svc.Verify(ctx, patientID, viewer, "1111"))
	require.NoError(t, svc.Verify(ctx, patientID, viewer, "4821"))
	assert.Error(t, svc.Verify(ctx, patientID, viewer, "1111"))
	require.NoError(t, svc.Verify(ctx, patientID, viewer, "4821"))
}

func TestVerifyWithoutPIN(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store.Patients(), security.NewBcryptHasher(bcrypt.MinCost, minDigits), Config{}, nil)
	p := &model.Patient{Base: model.Base{ID: uuid.New()}}
	require.NoError(t, store.Patients().Create(context.Background(), p))

	err := svc.Verify(context.Background(), p.ID, uuid.New(), "1234")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrForbidden))
}
