package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/santetogo/records-api/internal/model"
)

// ErrNotFound is returned by Get-style lookups when no row matches.
var ErrNotFound = errors.New("record not found")

// All repository interfaces in one file.
//
// Update and Delete report (false, nil) when the id does not exist; they only
// return an error when the backing store fails. Update writes the mutable
// fields of the entity and never touches ownership columns that are fixed at
// creation (uploader, patient, author).
type (
	UserRepository interface {
		Create(ctx context.Context, user *model.User) error
		Get(ctx context.Context, id uuid.UUID) (*model.User, error)
		GetByEmail(ctx context.Context, email string) (*model.User, error)
		List(ctx context.Context) ([]*model.User, error)
	}

	PatientRepository interface {
		Create(ctx context.Context, patient *model.Patient) error
		Get(ctx context.Context, id uuid.UUID) (*model.Patient, error)
		Update(ctx context.Context, patient *model.Patient) (bool, error)
		ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*model.Patient, error)
	}

	DocumentRepository interface {
		Create(ctx context.Context, doc *model.Document) error
		Get(ctx context.Context, id uuid.UUID) (*model.Document, error)
		Update(ctx context.Context, doc *model.Document) (bool, error)
		// Delete removes the document together with every grant on it.
		Delete(ctx context.Context, id uuid.UUID) (bool, error)
		ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*model.Document, error)
		ListByUploader(ctx context.Context, uploaderID uuid.UUID) ([]*model.Document, error)
	}

	MedicalRecordRepository interface {
		Create(ctx context.Context, record *model.MedicalRecord) error
		Get(ctx context.Context, id uuid.UUID) (*model.MedicalRecord, error)
		Update(ctx context.Context, record *model.MedicalRecord) (bool, error)
		// Delete removes the entry together with every grant on it.
		Delete(ctx context.Context, id uuid.UUID) (bool, error)
		ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*model.MedicalRecord, error)
	}

	AccessGrantRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.AccessGrant, error)
		// CreateIfNoActive stores grant unless the same (subject, requester)
		// pair already holds a grant that is active at now. The lookup and the
		// insert are atomic. The returned bool is true when grant was stored;
		// otherwise the existing active grant is returned unchanged.
		CreateIfNoActive(ctx context.Context, grant *model.AccessGrant, now time.Time) (*model.AccessGrant, bool, error)
		// Transition moves the grant from one status to another only if it is
		// still in from. It reports false when the grant is missing or has
		// already moved.
		Transition(ctx context.Context, id uuid.UUID, from model.GrantStatus, change GrantChange) (bool, error)
		// ListBySubject returns grants ordered by GrantedAt ascending.
		ListBySubject(ctx context.Context, subjectID uuid.UUID) ([]*model.AccessGrant, error)
		ListByRequester(ctx context.Context, userID uuid.UUID) ([]*model.AccessGrant, error)
		DeleteBySubject(ctx context.Context, subjectID uuid.UUID) (int64, error)
	}

	AuditRepository interface {
		Create(ctx context.Context, log *model.AuditLog) error
		ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]*model.AuditLog, error)
		Cleanup(ctx context.Context, before time.Time) (int64, error)
	}

	VersionRepository interface {
		// Create assigns the next version number for the entity and stores v.
		Create(ctx context.Context, v *model.EntityVersion) error
		Get(ctx context.Context, id uuid.UUID) (*model.EntityVersion, error)
		ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]*model.EntityVersion, error)
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}
)

// GrantChange describes one status transition of an AccessGrant.
type GrantChange struct {
	To         model.GrantStatus
	ReviewedBy uuid.UUID
	At         time.Time
	// ExpiresAt replaces the stored expiry when non-nil.
	ExpiresAt *time.Time
}

// Store bundles the repositories backed by one storage engine.
type Store interface {
	Users() UserRepository
	Patients() PatientRepository
	Documents() DocumentRepository
	MedicalRecords() MedicalRecordRepository
	Grants() AccessGrantRepository
	Audit() AuditRepository
	Versions() VersionRepository
	Outbox() OutboxRepository
	Ping(ctx context.Context) error
	Close() error
}
