package model

import (
	"time"

	"github.com/google/uuid"
)

type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "pending"
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusFailed  NotificationStatus = "failed"
)

// Notification is one message about a grant change addressed to one user.
type Notification struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	EventType string
	Subject   string
	Content   string
	Recipient string
	Status    NotificationStatus
	LastError string
	CreatedAt time.Time
	SentAt    *time.Time
}
