package audit

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/santetogo/records-api/internal/model"
	"github.com/santetogo/records-api/pkg/metrics"
)

// AuditLogger is the best-effort front of Service. Nothing it does fails the
// caller; write errors are logged and counted.
type AuditLogger struct {
	service *Service
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func NewAuditLogger(service *Service, logger zerolog.Logger, m *metrics.Metrics) *AuditLogger {
	return &AuditLogger{
		service: service,
		logger:  logger,
		metrics: m,
	}
}

func (l *AuditLogger) LogAuditAction(ctx context.Context, actorID uuid.UUID, action, entityType string,
	entityID uuid.UUID, before, after interface{}, details string) {
	if l == nil || l.service == nil {
		return
	}
	err := l.service.Log(ctx, Entry{
		ActorID:    actorID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Before:     before,
		After:      after,
		Details:    details,
	})
	if err != nil {
		l.metrics.ObserveAuditFailure("log")
		l.logger.Warn().Err(err).
			Str("action", action).
			Str("entity_type", entityType).
			Str("entity_id", entityID.String()).
			Msg("Failed to write audit log")
	}
}

// Version records snapshot as a new entity version, logging on failure.
func (l *AuditLogger) Version(ctx context.Context, actorID uuid.UUID, entityType string, entityID uuid.UUID,
	snapshot interface{}, description string) *model.EntityVersion {
	if l == nil || l.service == nil {
		return nil
	}
	v, err := l.service.CreateEntityVersion(ctx, actorID, entityType, entityID, snapshot, description)
	if err != nil {
		l.metrics.ObserveAuditFailure("version")
		l.logger.Warn().Err(err).
			Str("entity_type", entityType).
			Str("entity_id", entityID.String()).
			Msg("Failed to create entity version")
		return nil
	}
	return v
}

// Record writes both the audit row and a version of after. Used by every
// mutation of a versioned entity.
func (l *AuditLogger) Record(ctx context.Context, actorID uuid.UUID, action, entityType string, entityID uuid.UUID,
	before, after interface{}, details string) {
	l.LogAuditAction(ctx, actorID, action, entityType, entityID, before, after, details)
	if after != nil {
		l.Version(ctx, actorID, entityType, entityID, after, action)
	}
}
