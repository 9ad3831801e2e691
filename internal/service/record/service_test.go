package record

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/santetogo/records-api/internal/model"
	"github.com/santetogo/records-api/internal/repository/memory"
	"github.com/santetogo/records-api/internal/service/access"
	"github.com/santetogo/records-api/internal/service/audit"
	"github.com/santetogo/records-api/internal/service/pin"
	"github.com/santetogo/records-api/pkg/auth"
	apperrors "github.com/santetogo/records-api/pkg/errors"
	"github.com/santetogo/records-api/pkg/security"
)

type env struct {
	store    *memory.Store
	access   *access.Service
	audit    *audit.Service
	svc      *Service
	patient  auth.Actor
	doctor   auth.Actor
	stranger auth.Actor
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()

	e := &env{
		store:    store,
		patient:  auth.Actor{UserID: uuid.New(), Role: model.RolePatient},
		doctor:   auth.Actor{UserID: uuid.New(), Role: model.RoleDoctor},
		stranger: auth.Actor{UserID: uuid.New(), Role: model.RoleDoctor},
	}
	for _, a := range []auth.Actor{e.patient, e.doctor, e.stranger} {
		require.NoError(t, store.Users().Create(ctx, &model.User{Base: model.Base{ID: a.UserID}, Role: a.Role}))
	}

	pins := pin.NewService(store.Patients(), security.NewBcryptHasher(bcrypt.MinCost, 4), pin.Config{}, nil)
	hash, err := pins.Hash("2468")
	require.NoError(t, err)
	doctorID := e.doctor.UserID
	require.NoError(t, store.Patients().Create(ctx, &model.Patient{
		Base:     model.Base{ID: e.patient.UserID},
		DoctorID: &doctorID,
		PINHash:  hash,
	}))

	e.audit = audit.NewService(store.Audit(), store.Versions())
	auditor := audit.NewAuditLogger(e.audit, zerolog.Nop(), nil)
	e.access = access.NewService(store, access.Config{}, access.WithAuditor(auditor))
	e.svc = NewService(store, e.access, pins, auditor)
	e.audit.RegisterRestorer(model.AuditEntityMedicalRecord, e.svc)
	return e
}

func createReq(title string, pinGated bool) *model.CreateMedicalRecordRequest {
	return &model.CreateMedicalRecordRequest{
		Type:        string(model.RecordTypeMedication),
		Title:       title,
		Description: "500mg twice a day",
		Attachments: []model.Attachment{{Name: "scan.pdf", Format: "pdf", StorageKey: "s3://records/scan.pdf"}},
		PINAccess:   pinGated,
	}
}

func TestCreate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	self, err := e.svc.Create(ctx, e.patient, e.patient.UserID, createReq("Paracetamol", false))
	require.NoError(t, err)
	assert.False(t, self.IsApproved)
	assert.Nil(t, self.DoctorID)
	assert.Equal(t, e.patient.UserID, self.CreatedBy)

	clinical, err := e.svc.Create(ctx, e.doctor, e.patient.UserID, createReq("Amoxicillin", false))
	require.NoError(t, err)
	assert.True(t, clinical.IsApproved)
	require.NotNil(t, clinical.DoctorID)
	assert.Equal(t, e.doctor.UserID, *clinical.DoctorID)

	_, err = e.svc.Create(ctx, e.stranger, e.patient.UserID, createReq("Ibuprofen", false))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrForbidden))

	_, err = e.svc.Create(ctx, e.patient, e.patient.UserID, &model.CreateMedicalRecordRequest{Type: "XRAY", Title: "x"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrBadRequest))

	_, err = e.svc.Create(ctx, e.doctor, uuid.New(), createReq("Nobody", false))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNotFound))

	versions, err := e.audit.ListVersions(ctx, model.AuditEntityMedicalRecord, self.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestGetGatesOnGrantOrAssignment(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rec, err := e.svc.Create(ctx, e.patient, e.patient.UserID, createReq("Asthma", false))
	require.NoError(t, err)

	_, err = e.svc.Get(ctx, e.stranger, rec.ID, "")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrForbidden))

	got, err := e.svc.Get(ctx, e.doctor, rec.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "500mg twice a day", got.Description)

	g, _, err := e.access.RequestAccess(ctx, rec.ID, e.stranger.UserID)
	require.NoError(t, err)
	_, err = e.access.Decide(ctx, g.ID, e.patient.UserID, true)
	require.NoError(t, err)

	got, err = e.svc.Get(ctx, e.stranger, rec.ID, "")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)

	_, err = e.svc.Get(ctx, e.stranger, uuid.New(), "")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNotFound))
}

func TestGetPINGatedEntry(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rec, err := e.svc.Create(ctx, e.doctor, e.patient.UserID, createReq("HIV test", true))
	require.NoError(t, err)

	// passing the grant check only reveals that the entry exists
	redacted, err := e.svc.Get(ctx, e.doctor, rec.ID, "")
	require.NoError(t, err)
	assert.True(t, redacted.Redacted)
	assert.Empty(t, redacted.Description)
	assert.Empty(t, redacted.Attachments)
	assert.Equal(t, "HIV test", redacted.Title)

	_, err = e.svc.Get(ctx, e.doctor, rec.ID, "1357")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrForbidden))

	full, err := e.svc.Get(ctx, e.doctor, rec.ID, "2468")
	require.NoError(t, err)
	assert.False(t, full.Redacted)
	assert.Equal(t, "500mg twice a day", full.Description)
	assert.Len(t, full.Attachments, 1)

	// a correct PIN does not replace the grant check
	_, err = e.svc.Get(ctx, e.stranger, rec.ID, "2468")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrForbidden))
}

func TestUpdateAndApprove(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rec, err := e.svc.Create(ctx, e.patient, e.patient.UserID, createReq("Headache", false))
	require.NoError(t, err)

	_, err = e.svc.Approve(ctx, e.stranger, rec.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrForbidden))
	_, err = e.svc.Approve(ctx, e.patient, rec.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrForbidden))

	approved, err := e.svc.Approve(ctx, e.doctor, rec.ID)
	require.NoError(t, err)
	assert.True(t, approved.IsApproved)
	require.NotNil(t, approved.DoctorID)

	title := "Migraine"
	updated, err := e.svc.Update(ctx, e.patient, rec.ID, &model.UpdateMedicalRecordRequest{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "Migraine", updated.Title)
	assert.False(t, updated.IsApproved, "patient edits go back to review")
	assert.Equal(t, e.patient.UserID, updated.PatientID)

	note := "seen in clinic"
	updated, err = e.svc.Update(ctx, e.doctor, rec.ID, &model.UpdateMedicalRecordRequest{Description: &note})
	require.NoError(t, err)
	assert.Equal(t, note, updated.Description)

	_, err = e.svc.Update(ctx, e.stranger, rec.ID, &model.UpdateMedicalRecordRequest{Title: &title})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrForbidden))

	bad := "SURGERY"
	_, err = e.svc.Update(ctx, e.doctor, rec.ID, &model.UpdateMedicalRecordRequest{Type: &bad})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrBadRequest))
}

func TestDelete(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rec, err := e.svc.Create(ctx, e.doctor, e.patient.UserID, createReq("Flu shot", false))
	require.NoError(t, err)
	g, _, err := e.access.RequestAccess(ctx, rec.ID, e.stranger.UserID)
	require.NoError(t, err)

	err = e.svc.Delete(ctx, e.doctor, rec.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrForbidden))

	require.NoError(t, e.svc.Delete(ctx, e.patient, rec.ID))
	_, err = e.store.Grants().Get(ctx, g.ID)
	assert.Error(t, err)

	err = e.svc.Delete(ctx, e.patient, rec.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNotFound))

	logs, err := e.audit.ListAuditLogs(ctx, model.AuditEntityMedicalRecord, rec.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, model.AuditActionDelete, logs[1].Action)
	assert.Empty(t, logs[1].After)
}

func TestListByPatient(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	open, err := e.svc.Create(ctx, e.doctor, e.patient.UserID, createReq("Visible", false))
	require.NoError(t, err)
	_, err = e.svc.Create(ctx, e.doctor, e.patient.UserID, createReq("Gated", true))
	require.NoError(t, err)

	mine, err := e.svc.ListByPatient(ctx, e.patient, e.patient.UserID)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.False(t, mine[0].Redacted)
	assert.True(t, mine[1].Redacted)

	doctors, err := e.svc.ListByPatient(ctx, e.doctor, e.patient.UserID)
	require.NoError(t, err)
	assert.Len(t, doctors, 2)

	none, err := e.svc.ListByPatient(ctx, e.stranger, e.patient.UserID)
	require.NoError(t, err)
	assert.Empty(t, none)

	g, _, err := e.access.RequestAccess(ctx, open.ID, e.stranger.UserID)
	require.NoError(t, err)
	_, err = e.access.Decide(ctx, g.ID, e.patient.UserID, true)
	require.NoError(t, err)

	shared, err := e.svc.ListByPatient(ctx, e.stranger, e.patient.UserID)
	require.NoError(t, err)
	require.Len(t, shared, 1)
	assert.Equal(t, open.ID, shared[0].ID)
}

func TestRestoreVersion(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rec, err := e.svc.Create(ctx, e.doctor, e.patient.UserID, createReq("Original", false))
	require.NoError(t, err)

	title := "Edited"
	_, err = e.svc.Update(ctx, e.doctor, rec.ID, &model.UpdateMedicalRecordRequest{Title: &title})
	require.NoError(t, err)

	versions, err := e.audit.ListVersions(ctx, model.AuditEntityMedicalRecord, rec.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)

	restored, err := e.audit.RestoreEntityVersion(ctx, e.doctor.UserID, versions[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 3, restored.Version)
	require.NotNil(t, restored.RestoredFrom)
	assert.Equal(t, versions[0].ID, *restored.RestoredFrom)

	got, err := e.svc.Get(ctx, e.doctor, rec.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "Original", got.Title)
	assert.Equal(t, e.patient.UserID, got.PatientID)
	assert.Len(t, got.Attachments, 1)
}
