package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
)

type AuditLog struct {
	ID         uuid.UUID      `json:"id" db:"id"`
	ActorID    uuid.UUID      `json:"actor_id" db:"actor_id"`
	Action     string         `json:"action" db:"action"`
	EntityType string         `json:"entity_type" db:"entity_type"`
	EntityID   uuid.UUID      `json:"entity_id" db:"entity_id"`
	Before     types.JSONText `json:"before,omitempty" db:"before_snapshot"`
	After      types.JSONText `json:"after,omitempty" db:"after_snapshot"`
	Details    string         `json:"details,omitempty" db:"details"`
	IPAddress  string         `json:"ip_address,omitempty" db:"ip_address"`
	RequestID  string         `json:"request_id,omitempty" db:"request_id"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
}

// EntityVersion is a point-in-time snapshot of a versioned entity. Versions
// per entity are numbered from 1 and never rewritten.
type EntityVersion struct {
	ID           uuid.UUID      `json:"id" db:"id"`
	EntityType   string         `json:"entity_type" db:"entity_type"`
	EntityID     uuid.UUID      `json:"entity_id" db:"entity_id"`
	Version      int            `json:"version" db:"version"`
	Snapshot     types.JSONText `json:"snapshot" db:"snapshot"`
	ActorID      uuid.UUID      `json:"actor_id" db:"actor_id"`
	Description  string         `json:"description,omitempty" db:"description"`
	RestoredFrom *uuid.UUID     `json:"restored_from,omitempty" db:"restored_from"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
}

const (
	// Action types
	AuditActionCreate  = "create"
	AuditActionUpdate  = "update"
	AuditActionDelete  = "delete"
	AuditActionApprove = "approve"
	AuditActionRestore = "restore"
	AuditActionRequest = "access_request"
	AuditActionDecide  = "access_decide"
	AuditActionRevoke  = "access_revoke"

	// Entity types
	AuditEntityPatient       = "patient"
	AuditEntityDocument      = "document"
	AuditEntityMedicalRecord = "medical_record"
	AuditEntityAccessGrant   = "access_grant"
)
