// Package notification tells users about grant changes: the owner when
// someone asks for access, the requester when the owner answers.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/santetogo/records-api/internal/email"
	"github.com/santetogo/records-api/internal/model"
	"github.com/santetogo/records-api/internal/repository"
	"github.com/santetogo/records-api/pkg/messaging"
)

var ErrUnknownEvent = errors.New("not a grant event")

type Service interface {
	// Handle consumes one broker message. Messages that are not grant events
	// are ignored.
	Handle(ctx context.Context, raw []byte) error
	Build(ctx context.Context, eventType string, ev *model.GrantEvent) (*model.Notification, error)
}

type service struct {
	users    repository.UserRepository
	emailSvc email.Service
	logger   zerolog.Logger
}

func NewService(users repository.UserRepository, emailSvc email.Service) Service {
	return &service{
		users:    users,
		emailSvc: emailSvc,
		logger:   log.Logger,
	}
}

func (s *service) Handle(ctx context.Context, raw []byte) error {
	var msg messaging.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}
	var ev model.GrantEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return fmt.Errorf("failed to decode grant event: %w", err)
	}

	n, err := s.Build(ctx, msg.Type, &ev)
	if errors.Is(err, ErrUnknownEvent) {
		return nil
	}
	if err != nil {
		return err
	}
	if n.Recipient == "" {
		s.logger.Debug().Str("user_id", n.UserID.String()).Msg("Recipient has no email, skipping notification")
		return nil
	}

	if err := s.emailSvc.SendCustom(ctx, n.Recipient, n.Subject, n.Content); err != nil {
		n.Status = model.NotificationStatusFailed
		n.LastError = err.Error()
		return fmt.Errorf("failed to notify %s: %w", n.UserID, err)
	}
	now := time.Now().UTC()
	n.Status = model.NotificationStatusSent
	n.SentAt = &now
	s.logger.Info().
		Str("event_type", n.EventType).
		Str("user_id", n.UserID.String()).
		Msg("Notification sent")
	return nil
}

func (s *service) Build(ctx context.Context, eventType string, ev *model.GrantEvent) (*model.Notification, error) {
	var (
		to      uuid.UUID
		subject string
		content string
	)
	what := "document"
	if ev.SubjectType == model.SubjectTypeMedicalRecord {
		what = "medical record"
	}

	switch eventType {
	case model.EventAccessRequested:
		requester := s.displayName(ctx, ev.RequestingUserID)
		to = ev.OwnerID
		subject = "New access request"
		content = fmt.Sprintf("%s asked to view your %s %s. Open SantéTogo to approve or deny the request.",
			requester, what, ev.SubjectID)
	case model.EventAccessApproved:
		to = ev.RequestingUserID
		subject = "Access request approved"
		content = fmt.Sprintf("Your request to view %s %s was approved.", what, ev.SubjectID)
		if ev.ExpiresAt != nil {
			content += fmt.Sprintf(" Access ends on %s.", ev.ExpiresAt.Format("2006-01-02 15:04 MST"))
		}
	case model.EventAccessDenied:
		to = ev.RequestingUserID
		subject = "Access request denied"
		content = fmt.Sprintf("Your request to view %s %s was denied.", what, ev.SubjectID)
	case model.EventAccessRevoked:
		to = ev.RequestingUserID
		subject = "Access revoked"
		content = fmt.Sprintf("Your access to %s %s was revoked by its owner.", what, ev.SubjectID)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, eventType)
	}

	n := &model.Notification{
		ID:        uuid.New(),
		UserID:    to,
		EventType: eventType,
		Subject:   subject,
		Content:   content,
		Status:    model.NotificationStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	u, err := s.users.Get(ctx, to)
	switch {
	case err == nil:
		n.Recipient = u.Email
	case errors.Is(err, repository.ErrNotFound):
	default:
		return nil, fmt.Errorf("failed to load recipient: %w", err)
	}
	return n, nil
}

func (s *service) displayName(ctx context.Context, id uuid.UUID) string {
	u, err := s.users.Get(ctx, id)
	if err != nil || u.Name == "" {
		return "A user"
	}
	if u.Role == model.RoleDoctor {
		return "Dr " + u.Name
	}
	return u.Name
}
