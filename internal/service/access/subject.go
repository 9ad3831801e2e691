package access

import (
	"github.com/google/uuid"

	"github.com/santetogo/records-api/internal/model"
)

// Subject is the access-control view of a Document or MedicalRecord.
type Subject struct {
	ID         uuid.UUID
	Type       model.SubjectType
	OwnerID    uuid.UUID
	UploaderID uuid.UUID
	IsPrivate  bool
}

func subjectFromDocument(d *model.Document) *Subject {
	return &Subject{
		ID:         d.ID,
		Type:       model.SubjectTypeDocument,
		OwnerID:    d.OwnerID,
		UploaderID: d.UploaderID,
		IsPrivate:  d.IsPrivate,
	}
}

// Medical records have no public flag. The patient owns the entry and its
// author counts as the uploader.
func subjectFromRecord(r *model.MedicalRecord) *Subject {
	return &Subject{
		ID:         r.ID,
		Type:       model.SubjectTypeMedicalRecord,
		OwnerID:    r.PatientID,
		UploaderID: r.CreatedBy,
		IsPrivate:  true,
	}
}

// Bypasses reports whether userID reads the subject without a grant.
func (s *Subject) Bypasses(userID uuid.UUID) bool {
	return s.OwnerID == userID || s.UploaderID == userID
}

// OpenTo reports whether userID can read the subject without consulting
// grants at all.
func (s *Subject) OpenTo(userID uuid.UUID) bool {
	return !s.IsPrivate || s.Bypasses(userID)
}
