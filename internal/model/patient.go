package model

import (
	"time"

	"github.com/google/uuid"
)

// Patient is the clinical profile attached to a patient user. Its ID equals
// the user ID.
type Patient struct {
	Base
	Name        string     `db:"name" json:"name"`
	DateOfBirth *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	BloodGroup  string     `db:"blood_group" json:"blood_group,omitempty"`
	DoctorID    *uuid.UUID `db:"doctor_id" json:"doctor_id,omitempty"`
	PINHash     string     `db:"pin_hash" json:"-"`
}

func (p *Patient) HasPIN() bool {
	return p.PINHash != ""
}

// AssignedTo reports whether doctorID is the patient's assigned doctor.
func (p *Patient) AssignedTo(doctorID uuid.UUID) bool {
	return p.DoctorID != nil && *p.DoctorID == doctorID
}

type CreatePatientRequest struct {
	UserID      string     `json:"user_id" binding:"required,uuid"`
	DateOfBirth *time.Time `json:"date_of_birth"`
	BloodGroup  string     `json:"blood_group" binding:"omitempty,max=3"`
	DoctorID    *string    `json:"doctor_id" binding:"omitempty,uuid"`
}

type AssignDoctorRequest struct {
	DoctorID *string `json:"doctor_id" binding:"omitempty,uuid"`
}

type SetPINRequest struct {
	PIN string `json:"pin" binding:"required,pin"`
}
