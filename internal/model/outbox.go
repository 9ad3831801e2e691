package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
)

type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusRetry     OutboxStatus = "retry"
	OutboxStatusProcessed OutboxStatus = "processed"
	OutboxStatusFailed    OutboxStatus = "failed"
)

type OutboxEvent struct {
	ID           uuid.UUID      `db:"id" json:"id"`
	EventType    string         `db:"event_type" json:"event_type"`
	Payload      types.JSONText `db:"payload" json:"payload"`
	Status       OutboxStatus   `db:"status" json:"status"`
	ErrorMessage *string        `db:"error_message" json:"error_message,omitempty"`
	RetryCount   int            `db:"retry_count" json:"retry_count"`
	RetryAt      *time.Time     `db:"retry_at" json:"retry_at,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	ProcessedAt  *time.Time     `db:"processed_at" json:"processed_at,omitempty"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// Grant lifecycle event types.
const (
	EventAccessRequested = "access.requested"
	EventAccessApproved  = "access.approved"
	EventAccessDenied    = "access.denied"
	EventAccessRevoked   = "access.revoked"
)

// GrantEvent is the payload published for every grant lifecycle change.
type GrantEvent struct {
	GrantID          uuid.UUID   `json:"grant_id"`
	SubjectID        uuid.UUID   `json:"subject_id"`
	SubjectType      SubjectType `json:"subject_type"`
	OwnerID          uuid.UUID   `json:"owner_id"`
	RequestingUserID uuid.UUID   `json:"requesting_user_id"`
	Status           GrantStatus `json:"status"`
	ExpiresAt        *time.Time  `json:"expires_at,omitempty"`
	OccurredAt       time.Time   `json:"occurred_at"`
}
