// Package record holds the medical record use cases: patient self-reports,
// clinician entries, approval and the PIN gate.
package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/santetogo/records-api/internal/model"
	"github.com/santetogo/records-api/internal/repository"
	"github.com/santetogo/records-api/internal/service/audit"
	"github.com/santetogo/records-api/pkg/auth"
	apperrors "github.com/santetogo/records-api/pkg/errors"
)

// AccessChecker is the part of the access engine this service relies on.
type AccessChecker interface {
	CanView(ctx context.Context, userID, subjectID uuid.UUID) bool
	DoctorCanAccessPatient(ctx context.Context, doctorID, patientID uuid.UUID) bool
}

type PINVerifier interface {
	Verify(ctx context.Context, patientID, userID uuid.UUID, code string) error
}

type Service struct {
	store   repository.Store
	access  AccessChecker
	pins    PINVerifier
	auditor *audit.AuditLogger
	now     func() time.Time
}

var _ audit.Restorer = (*Service)(nil)

func NewService(store repository.Store, access AccessChecker, pins PINVerifier, auditor *audit.AuditLogger) *Service {
	return &Service{
		store:   store,
		access:  access,
		pins:    pins,
		auditor: auditor,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) isAssignedDoctor(ctx context.Context, actor auth.Actor, patientID uuid.UUID) bool {
	return actor.Role == model.RoleDoctor && s.access.DoctorCanAccessPatient(ctx, actor.UserID, patientID)
}

// Create adds an entry to patientID's record. An entry written by the patient
// is a self-report and starts unapproved; one written by the assigned doctor
// is approved and references that doctor.
func (s *Service) Create(ctx context.Context, actor auth.Actor, patientID uuid.UUID, req *model.CreateMedicalRecordRequest) (*model.MedicalRecord, error) {
	recordType, err := model.ParseRecordType(req.Type)
	if err != nil {
		return nil, apperrors.BadRequest(err.Error(), err)
	}
	if _, err := s.store.Patients().Get(ctx, patientID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("patient", err)
		}
		return nil, apperrors.Internal(err)
	}

	now := s.now()
	rec := &model.MedicalRecord{
		Base:        model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		PatientID:   patientID,
		Type:        recordType,
		Title:       req.Title,
		Description: req.Description,
		Date:        now,
		Attachments: req.Attachments,
		PINAccess:   req.PINAccess,
		CreatedBy:   actor.UserID,
	}
	if req.Date != nil {
		rec.Date = req.Date.UTC()
	}

	switch {
	case actor.UserID == patientID:
		rec.IsApproved = false
	case s.isAssignedDoctor(ctx, actor, patientID):
		doctorID := actor.UserID
		rec.DoctorID = &doctorID
		rec.IsApproved = true
	default:
		return nil, apperrors.NewForbidden("only the patient or the assigned doctor can add entries")
	}

	if err := s.store.MedicalRecords().Create(ctx, rec); err != nil {
		return nil, apperrors.Internal(fmt.Errorf("failed to create medical record: %w", err))
	}
	s.auditor.Record(ctx, actor.UserID, model.AuditActionCreate, model.AuditEntityMedicalRecord, rec.ID, nil, rec, string(rec.Type))
	return rec, nil
}

// Get returns an entry to a caller who can view it or is the assigned doctor.
// A PIN-gated entry comes back redacted unless code is supplied and correct.
func (s *Service) Get(ctx context.Context, actor auth.Actor, id uuid.UUID, code string) (*model.MedicalRecord, error) {
	rec, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.access.CanView(ctx, actor.UserID, rec.ID) && !s.isAssignedDoctor(ctx, actor, rec.PatientID) {
		return nil, apperrors.NewForbidden("not allowed to view this medical record")
	}
	if !rec.PINAccess {
		return rec, nil
	}
	if code == "" {
		return rec.RedactedCopy(), nil
	}
	if err := s.pins.Verify(ctx, rec.PatientID, actor.UserID, code); err != nil {
		return nil, err
	}
	return rec, nil
}

// Update edits an entry. The owning patient and the assigned doctor may edit;
// an edit by the patient sends the entry back for review.
func (s *Service) Update(ctx context.Context, actor auth.Actor, id uuid.UUID, req *model.UpdateMedicalRecordRequest) (*model.MedicalRecord, error) {
	rec, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	byPatient := actor.UserID == rec.PatientID
	if !byPatient && !s.isAssignedDoctor(ctx, actor, rec.PatientID) {
		return nil, apperrors.NewForbidden("only the patient or the assigned doctor can edit this entry")
	}

	before := *rec
	if req.Type != nil {
		t, err := model.ParseRecordType(*req.Type)
		if err != nil {
			return nil, apperrors.BadRequest(err.Error(), err)
		}
		rec.Type = t
	}
	if req.Title != nil {
		rec.Title = *req.Title
	}
	if req.Description != nil {
		rec.Description = *req.Description
	}
	if req.Date != nil {
		rec.Date = req.Date.UTC()
	}
	if req.Attachments != nil {
		rec.Attachments = *req.Attachments
	}
	if req.PINAccess != nil {
		rec.PINAccess = *req.PINAccess
	}
	if byPatient {
		rec.IsApproved = false
	}
	rec.UpdatedAt = s.now()

	if err := s.update(ctx, rec); err != nil {
		return nil, err
	}
	s.auditor.Record(ctx, actor.UserID, model.AuditActionUpdate, model.AuditEntityMedicalRecord, rec.ID, &before, rec, "")
	return rec, nil
}

// Approve confirms a self-report. Only the assigned doctor may approve.
func (s *Service) Approve(ctx context.Context, actor auth.Actor, id uuid.UUID) (*model.MedicalRecord, error) {
	rec, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.isAssignedDoctor(ctx, actor, rec.PatientID) {
		return nil, apperrors.NewForbidden("only the assigned doctor can approve entries")
	}
	if rec.IsApproved {
		return rec, nil
	}

	before := *rec
	doctorID := actor.UserID
	rec.IsApproved = true
	rec.DoctorID = &doctorID
	rec.UpdatedAt = s.now()
	if err := s.update(ctx, rec); err != nil {
		return nil, err
	}
	s.auditor.Record(ctx, actor.UserID, model.AuditActionApprove, model.AuditEntityMedicalRecord, rec.ID, &before, rec, "")
	return rec, nil
}

// Delete removes an entry and its grants. Only the owning patient may delete.
func (s *Service) Delete(ctx context.Context, actor auth.Actor, id uuid.UUID) error {
	rec, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if actor.UserID != rec.PatientID {
		return apperrors.NewForbidden("only the patient can delete this entry")
	}
	ok, err := s.store.MedicalRecords().Delete(ctx, id)
	if err != nil {
		return apperrors.Internal(err)
	}
	if !ok {
		return apperrors.NotFound("medical record", repository.ErrNotFound)
	}
	s.auditor.Record(ctx, actor.UserID, model.AuditActionDelete, model.AuditEntityMedicalRecord, id, rec, nil, "")
	return nil
}

// ListByPatient returns the entries of patientID the caller may see. The
// patient and the assigned doctor see everything; anyone else only what
// CanView allows. PIN-gated entries are always listed redacted.
func (s *Service) ListByPatient(ctx context.Context, actor auth.Actor, patientID uuid.UUID) ([]*model.MedicalRecord, error) {
	records, err := s.store.MedicalRecords().ListByPatient(ctx, patientID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	all := actor.UserID == patientID || s.isAssignedDoctor(ctx, actor, patientID)
	out := make([]*model.MedicalRecord, 0, len(records))
	for _, rec := range records {
		if !all && !s.access.CanView(ctx, actor.UserID, rec.ID) {
			continue
		}
		if rec.PINAccess {
			rec = rec.RedactedCopy()
		}
		out = append(out, rec)
	}
	return out, nil
}

// RestoreSnapshot writes a versioned entry back. Identity, patient and author
// are fixed at creation and are kept.
func (s *Service) RestoreSnapshot(ctx context.Context, id uuid.UUID, snapshot []byte) (interface{}, interface{}, error) {
	current, err := s.get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	var restored model.MedicalRecord
	if err := json.Unmarshal(snapshot, &restored); err != nil {
		return nil, nil, apperrors.BadRequest("corrupt medical record snapshot", err)
	}
	restored.ID = current.ID
	restored.PatientID = current.PatientID
	restored.CreatedBy = current.CreatedBy
	restored.CreatedAt = current.CreatedAt
	restored.Redacted = false
	restored.UpdatedAt = s.now()

	if err := s.update(ctx, &restored); err != nil {
		return nil, nil, err
	}
	return current, &restored, nil
}

func (s *Service) get(ctx context.Context, id uuid.UUID) (*model.MedicalRecord, error) {
	rec, err := s.store.MedicalRecords().Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("medical record", err)
		}
		return nil, apperrors.Internal(err)
	}
	return rec, nil
}

func (s *Service) update(ctx context.Context, rec *model.MedicalRecord) error {
	ok, err := s.store.MedicalRecords().Update(ctx, rec)
	if err != nil {
		return apperrors.Internal(fmt.Errorf("failed to update medical record: %w", err))
	}
	if !ok {
		return apperrors.NotFound("medical record", repository.ErrNotFound)
	}
	return nil
}
