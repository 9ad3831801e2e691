package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/santetogo/records-api/internal/model"
)

const outboxColumns = `id, event_type, payload, status, error_message, retry_count, retry_at, created_at, processed_at, updated_at`

type outboxRepository struct {
	*Store
}

func (r *outboxRepository) Create(ctx context.Context, event *model.OutboxEvent) error {
	now := time.Now().UTC()
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = model.OutboxStatusPending
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now

	query := r.q(`INSERT INTO outbox_events (` + outboxColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query,
		event.ID, event.EventType, string(event.Payload), event.Status, event.ErrorMessage, event.RetryCount,
		event.RetryAt, event.CreatedAt, event.ProcessedAt, event.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to create outbox event", zap.Error(err), zap.String("event_type", event.EventType))
		return fmt.Errorf("failed to create outbox event: %w", err)
	}
	return nil
}

// GetPendingEvents returns pending events and retries that are due, oldest first.
func (r *outboxRepository) GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	var events []*model.OutboxEvent
	query := r.q(`SELECT ` + outboxColumns + ` FROM outbox_events
		WHERE status = ? OR (status = ? AND (retry_at IS NULL OR retry_at <= ?))
		ORDER BY created_at ASC
		LIMIT ?`)
	err := r.db.SelectContext(ctx, &events, query,
		model.OutboxStatusPending, model.OutboxStatusRetry, time.Now().UTC(), limit)
	if err != nil {
		r.logger.Error("Failed to get pending outbox events", zap.Error(err))
		return nil, fmt.Errorf("failed to get pending events: %w", err)
	}
	return events, nil
}

func (r *outboxRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error {
	now := time.Now().UTC()
	var processedAt *time.Time
	if status == model.OutboxStatusProcessed {
		processedAt = &now
	}
	increment := 0
	if status == model.OutboxStatusRetry || status == model.OutboxStatusFailed {
		increment = 1
	}
	query := r.q(`
		UPDATE outbox_events
		SET status = ?, error_message = ?, retry_at = ?, processed_at = ?,
			retry_count = retry_count + ?, updated_at = ?
		WHERE id = ?`)
	_, err := r.db.ExecContext(ctx, query, status, errorMessage, retryAt, processedAt, increment, now, id)
	if err != nil {
		r.logger.Error("Failed to update outbox event", zap.Error(err), zap.String("event_id", id.String()))
		return fmt.Errorf("failed to update event status: %w", err)
	}
	return nil
}

func (r *outboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.q(`DELETE FROM outbox_events WHERE status = ? AND processed_at < ?`),
		model.OutboxStatusProcessed, before)
	if err != nil {
		r.logger.Error("Failed to delete processed outbox events", zap.Error(err))
		return 0, fmt.Errorf("failed to delete processed events: %w", err)
	}
	return res.RowsAffected()
}
