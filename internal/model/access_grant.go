package model

import (
	"time"

	"github.com/google/uuid"
)

type GrantStatus string

const (
	GrantStatusPending  GrantStatus = "pending"
	GrantStatusApproved GrantStatus = "approved"
	GrantStatusDenied   GrantStatus = "denied"
	GrantStatusRevoked  GrantStatus = "revoked"
)

// CanTransitionTo encodes the grant lifecycle: pending moves to approved or
// denied, approved moves to revoked, denied and revoked are terminal.
func (s GrantStatus) CanTransitionTo(next GrantStatus) bool {
	switch s {
	case GrantStatusPending:
		return next == GrantStatusApproved || next == GrantStatusDenied
	case GrantStatusApproved:
		return next == GrantStatusRevoked
	}
	return false
}

type SubjectType string

const (
	SubjectTypeDocument      SubjectType = "document"
	SubjectTypeMedicalRecord SubjectType = "medical_record"
)

// AccessGrant mediates one user's read access to one document or medical
// record.
type AccessGrant struct {
	ID               uuid.UUID   `db:"id" json:"id"`
	SubjectID        uuid.UUID   `db:"subject_id" json:"subject_id"`
	SubjectType      SubjectType `db:"subject_type" json:"subject_type"`
	RequestingUserID uuid.UUID   `db:"requesting_user_id" json:"requesting_user_id"`
	GrantedByUserID  uuid.UUID   `db:"granted_by_user_id" json:"granted_by_user_id"`
	GrantedAt        time.Time   `db:"granted_at" json:"granted_at"`
	ExpiresAt        *time.Time  `db:"expires_at" json:"expires_at,omitempty"`
	Status           GrantStatus `db:"status" json:"status"`
	ReviewedBy       *uuid.UUID  `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt       *time.Time  `db:"reviewed_at" json:"reviewed_at,omitempty"`
}

// Unexpired reports whether the validity window is still open at now.
func (g *AccessGrant) Unexpired(now time.Time) bool {
	return g.ExpiresAt == nil || g.ExpiresAt.After(now)
}

// Permits reports whether the grant currently allows reading its subject.
// Expiry is derived here; the stored status stays approved after ExpiresAt.
func (g *AccessGrant) Permits(now time.Time) bool {
	return g.Status == GrantStatusApproved && g.Unexpired(now)
}

// IsActive reports whether the grant blocks a new request for the same pair.
func (g *AccessGrant) IsActive(now time.Time) bool {
	return g.Status == GrantStatusPending || g.Permits(now)
}

type DecideAccessRequest struct {
	Approve *bool `json:"approve" binding:"required"`
}
