package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
)

type RecordType string

const (
	RecordTypeConsultation     RecordType = "CONSULTATION"
	RecordTypeTestResult       RecordType = "TEST_RESULT"
	RecordTypeMedication       RecordType = "MEDICATION"
	RecordTypeAllergy          RecordType = "ALLERGY"
	RecordTypeVaccination      RecordType = "VACCINATION"
	RecordTypeChronicCondition RecordType = "CHRONIC_CONDITION"
	RecordTypeSelfReport       RecordType = "SELF_REPORT"
	RecordTypeOther            RecordType = "OTHER"
)

func (t RecordType) Valid() bool {
	switch t {
	case RecordTypeConsultation, RecordTypeTestResult, RecordTypeMedication, RecordTypeAllergy,
		RecordTypeVaccination, RecordTypeChronicCondition, RecordTypeSelfReport, RecordTypeOther:
		return true
	}
	return false
}

func ParseRecordType(s string) (RecordType, error) {
	t := RecordType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown record type %q", s)
	}
	return t, nil
}

type MedicalRecord struct {
	Base
	PatientID       uuid.UUID      `db:"patient_id" json:"patient_id"`
	Type            RecordType     `db:"type" json:"type"`
	Title           string         `db:"title" json:"title"`
	Description     string         `db:"description" json:"description"`
	Date            time.Time      `db:"record_date" json:"date"`
	DoctorID        *uuid.UUID     `db:"doctor_id" json:"doctor_id,omitempty"`
	AttachmentsJSON types.JSONText `db:"attachments" json:"-"`
	Attachments     []Attachment   `db:"-" json:"attachments,omitempty"`
	PINAccess       bool           `db:"pin_access" json:"pin_access"`
	IsApproved      bool           `db:"is_approved" json:"is_approved"`
	CreatedBy       uuid.UUID      `db:"created_by" json:"created_by"`
	Redacted        bool           `db:"-" json:"redacted,omitempty"`
}

type Attachment struct {
	Name       string `json:"name"`
	Format     string `json:"format"`
	StorageKey string `json:"storage_key"`
}

// MarshalAttachments copies Attachments into the JSON column.
func (r *MedicalRecord) MarshalAttachments() error {
	if len(r.Attachments) == 0 {
		r.AttachmentsJSON = types.JSONText("[]")
		return nil
	}
	b, err := json.Marshal(r.Attachments)
	if err != nil {
		return err
	}
	r.AttachmentsJSON = types.JSONText(b)
	return nil
}

// UnmarshalAttachments fills Attachments from the JSON column.
func (r *MedicalRecord) UnmarshalAttachments() error {
	r.Attachments = nil
	if len(r.AttachmentsJSON) == 0 {
		return nil
	}
	var out []Attachment
	if err := r.AttachmentsJSON.Unmarshal(&out); err != nil {
		return err
	}
	if len(out) > 0 {
		r.Attachments = out
	}
	return nil
}

// RedactedCopy returns the entry with its clinical content stripped, for
// callers who can see the entry exists but have not passed the PIN check.
func (r *MedicalRecord) RedactedCopy() *MedicalRecord {
	cp := *r
	cp.Description = ""
	cp.Attachments = nil
	cp.AttachmentsJSON = nil
	cp.Redacted = true
	return &cp
}

// DecodeRecordSnapshot reads an entry back from an audit or version snapshot.
func DecodeRecordSnapshot(raw types.JSONText) (*MedicalRecord, error) {
	var rec MedicalRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode medical record snapshot: %w", err)
	}
	return &rec, nil
}

type CreateMedicalRecordRequest struct {
	Type        string       `json:"type" binding:"required,record_type"`
	Title       string       `json:"title" binding:"required,max=255"`
	Description string       `json:"description"`
	Date        *time.Time   `json:"date"`
	Attachments []Attachment `json:"attachments" binding:"omitempty,dive"`
	PINAccess   bool         `json:"pin_access"`
}

type UpdateMedicalRecordRequest struct {
	Type        *string       `json:"type" binding:"omitempty,record_type"`
	Title       *string       `json:"title" binding:"omitempty,max=255"`
	Description *string       `json:"description"`
	Date        *time.Time    `json:"date"`
	Attachments *[]Attachment `json:"attachments"`
	PINAccess   *bool         `json:"pin_access"`
}
