// Package event turns grant lifecycle changes into outbox rows. The worker
// publishes them later, so a broker outage never fails a request.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/santetogo/records-api/internal/model"
	"github.com/santetogo/records-api/internal/repository"
	"github.com/santetogo/records-api/internal/service/access"
)

type EventService struct {
	outboxRepo repository.OutboxRepository
	logger     zerolog.Logger
	now        func() time.Time
}

var _ access.Observer = (*EventService)(nil)

func NewEventService(outboxRepo repository.OutboxRepository) *EventService {
	return &EventService{
		outboxRepo: outboxRepo,
		logger:     log.Logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Emit stores payload as a pending outbox event.
func (s *EventService) Emit(ctx context.Context, eventType string, payload interface{}) (*model.OutboxEvent, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	now := s.now()
	event := &model.OutboxEvent{
		ID:        uuid.New(),
		EventType: eventType,
		Payload:   payloadJSON,
		Status:    model.OutboxStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.outboxRepo.Create(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to create outbox event: %w", err)
	}
	return event, nil
}

// GrantChanged implements access.Observer. Failures are logged only; the
// grant change is already stored.
func (s *EventService) GrantChanged(ctx context.Context, eventType string, grant *model.AccessGrant, subject *access.Subject) {
	payload := model.GrantEvent{
		GrantID:          grant.ID,
		SubjectID:        grant.SubjectID,
		SubjectType:      grant.SubjectType,
		OwnerID:          subject.OwnerID,
		RequestingUserID: grant.RequestingUserID,
		Status:           grant.Status,
		ExpiresAt:        grant.ExpiresAt,
		OccurredAt:       s.now(),
	}
	if _, err := s.Emit(ctx, eventType, payload); err != nil {
		s.logger.Error().Err(err).
			Str("event_type", eventType).
			Str("grant_id", grant.ID.String()).
			Msg("Failed to record grant event")
	}
}
