package patient

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
	"github.com/santetogo/records-api/internal/service/pin"
	"github.com/santetogo/records-api/pkg/auth"
	apperrors "github.com/santetogo/records-api/pkg/errors"
)

type PatientService interface {
	CreatePatient(ctx context.Context, actor auth.Actor, req *model.CreatePatientRequest) (*model.Patient, error)
	GetPatient(ctx context.Context, actor auth.Actor, id uuid.UUID) (*model.Patient, error)
	AssignDoctor(ctx context.Context, actor auth.Actor, patientID uuid.UUID, doctorID *uuid.UUID) (*model.Patient, error)
	SetPIN(ctx context.Context, actor auth.Actor, patientID uuid.UUID, code string) error
	ListForDoctor(ctx context.Context, actor auth.Actor, doctorID uuid.UUID) ([]*model.Patient, error)
}

type Service struct {
	store   repository.Store
	pins    *pin.Service
	auditor *audit.AuditLogger
	now     func() time.Time
}

var (
	_ PatientService = (*Service)(nil)
	_ audit.Restorer = (*Service)(nil)
)

func NewService(store repository.Store, pins *pin.Service, auditor *audit.AuditLogger) *Service {
	return &Service{
		store:   store,
		pins:    pins,
		auditor: auditor,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreatePatient attaches a clinical profile to an existing patient user.
func (s *Service) CreatePatient(ctx context.Context, actor auth.Actor, req *model.CreatePatientRequest) (*model.Patient, error) {
	if !actor.Role.IsStaff() {
		return nil, apperrors.NewForbidden("only staff can create patient profiles")
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return nil, apperrors.BadRequest("invalid user id", err)
	}
	user, err := s.loadUser(ctx, userID, model.RolePatient)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Patients().Get(ctx, userID); err == nil {
		return nil, apperrors.NewInvalidState("patient profile already exists")
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.Internal(err)
	}

	now := s.now()
	p := &model.Patient{
		Base:        model.Base{ID: user.ID, CreatedAt: now, UpdatedAt: now},
		Name:        user.Name,
		DateOfBirth: req.DateOfBirth,
		BloodGroup:  req.BloodGroup,
	}
	if req.DoctorID != nil {
		doctorID, err := uuid.Parse(*req.DoctorID)
		if err != nil {
			return nil, apperrors.BadRequest("invalid doctor id", err)
		}
		if _, err := s.loadUser(ctx, doctorID, model.RoleDoctor); err != nil {
			return nil, err
		}
		p.DoctorID = &doctorID
	}

	if err := s.store.Patients().Create(ctx, p); err != nil {
		return nil, apperrors.Internal(fmt.Errorf("failed to create patient: %w", err))
	}
	s.auditor.Record(ctx, actor.UserID, model.AuditActionCreate, model.AuditEntityPatient, p.ID, nil, p, "")
	return p, nil
}

// GetPatient is open to the patient, the assigned doctor and staff.
func (s *Service) GetPatient(ctx context.Context, actor auth.Actor, id uuid.UUID) (*model.Patient, error) {
	p, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.UserID != p.ID && !actor.Role.IsStaff() && !p.AssignedTo(actor.UserID) {
		return nil, apperrors.NewForbidden("not allowed to view this patient")
	}
	return p, nil
}

// AssignDoctor sets or clears the assigned doctor. doctorCanAccessPatient
// follows this field.
func (s *Service) AssignDoctor(ctx context.Context, actor auth.Actor, patientID uuid.UUID, doctorID *uuid.UUID) (*model.Patient, error) {
	if !actor.Role.IsStaff() {
		return nil, apperrors.NewForbidden("only staff can assign doctors")
	}
	if doctorID != nil {
		if _, err := s.loadUser(ctx, *doctorID, model.RoleDoctor); err != nil {
			return nil, err
		}
	}

	p, err := s.get(ctx, patientID)
	if err != nil {
		return nil, err
	}
	before := *p
	p.DoctorID = doctorID
	p.UpdatedAt = s.now()
	if err := s.update(ctx, p); err != nil {
		return nil, err
	}
	s.auditor.Record(ctx, actor.UserID, model.AuditActionUpdate, model.AuditEntityPatient, p.ID, &before, p, "assign doctor")
	return p, nil
}

// SetPIN replaces the PIN guarding the patient's PIN-gated records. Only the
// patient may set it.
func (s *Service) SetPIN(ctx context.Context, actor auth.Actor, patientID uuid.UUID, code string) error {
	if actor.UserID != patientID {
		return apperrors.NewForbidden("only the patient can set their PIN")
	}
	hash, err := s.pins.Hash(code)
	if err != nil {
		return err
	}
	p, err := s.get(ctx, patientID)
	if err != nil {
		return err
	}
	p.PINHash = hash
	p.UpdatedAt = s.now()
	if err := s.update(ctx, p); err != nil {
		return err
	}
	s.pins.Reset(patientID)
	// the hash never leaves the service, so only the fact is audited
	s.auditor.LogAuditAction(ctx, actor.UserID, model.AuditActionUpdate, model.AuditEntityPatient, p.ID, nil, nil, "pin changed")
	return nil
}

func (s *Service) ListForDoctor(ctx context.Context, actor auth.Actor, doctorID uuid.UUID) ([]*model.Patient, error) {
	if actor.UserID != doctorID && !actor.Role.IsStaff() {
		return nil, apperrors.NewForbidden("not allowed to list these patients")
	}
	patients, err := s.store.Patients().ListByDoctor(ctx, doctorID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return patients, nil
}

// RestoreSnapshot writes a versioned patient snapshot back. The identity and
// the PIN are not part of snapshots and are kept.
func (s *Service) RestoreSnapshot(ctx context.Context, id uuid.UUID, snapshot []byte) (interface{}, interface{}, error) {
	current, err := s.get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	var restored model.Patient
	if err := json.Unmarshal(snapshot, &restored); err != nil {
		return nil, nil, apperrors.BadRequest("corrupt patient snapshot", err)
	}
	restored.ID = current.ID
	restored.CreatedAt = current.CreatedAt
	restored.PINHash = current.PINHash
	restored.UpdatedAt = s.now()

	if err := s.update(ctx, &restored); err != nil {
		return nil, nil, err
	}
	return current, &restored, nil
}

func (s *Service) get(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	p, err := s.store.Patients().Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("patient", err)
		}
		return nil, apperrors.Internal(err)
	}
	return p, nil
}

func (s *Service) update(ctx context.Context, p *model.Patient) error {
	ok, err := s.store.Patients().Update(ctx, p)
	if err != nil {
		return apperrors.Internal(fmt.Errorf("failed to update patient: %w", err))
	}
	if !ok {
		return apperrors.NotFound("patient", repository.ErrNotFound)
	}
	return nil
}

func (s *Service) loadUser(ctx context.Context, id uuid.UUID, role model.Role) (*model.User, error) {
	u, err := s.store.Users().Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("user", err)
		}
		return nil, apperrors.Internal(err)
	}
	if u.Role != role {
		return nil, apperrors.BadRequest(fmt.Sprintf("user %s is not a %s", id, role), nil)
	}
	return u, nil
}
