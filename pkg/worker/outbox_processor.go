package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/santetogo/records-api/internal/model"
	"github.com/santetogo/records-api/internal/repository"
	"github.com/santetogo/records-api/pkg/logger"
	"github.com/santetogo/records-api/pkg/messaging"
	"github.com/santetogo/records-api/pkg/metrics"
)

type OutboxProcessorConfig struct {
	// Channel every event is published on.
	Channel      string
	BatchSize    int
	PollInterval time.Duration
	// MaxRetries is how many failed publishes an event gets before it is
	// marked failed.
	MaxRetries int
	RetryDelay time.Duration
	// Retention of processed events; zero keeps them forever.
	Retention time.Duration
}

type OutboxProcessor struct {
	repo    repository.OutboxRepository
	broker  messaging.Broker
	config  OutboxProcessorConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewOutboxProcessor(
	repo repository.OutboxRepository,
	broker messaging.Broker,
	config OutboxProcessorConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) (*OutboxProcessor, error) {
	if config.Channel == "" {
		return nil, fmt.Errorf("outbox channel is required")
	}
	if config.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be greater than 0")
	}
	if config.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be greater than 0")
	}
	if config.MaxRetries <= 0 {
		return nil, fmt.Errorf("max retries must be greater than 0")
	}
	if config.RetryDelay <= 0 {
		return nil, fmt.Errorf("retry delay must be greater than 0")
	}

	return &OutboxProcessor{
		repo:    repo,
		broker:  broker,
		config:  config,
		logger:  logger,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Start polls the outbox until ctx is cancelled.
func (p *OutboxProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info("Starting outbox processor", "channel", p.config.Channel)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Shutting down outbox processor")
			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil {
				p.logger.Error(err, "Failed to process events")
			}
			p.purge(ctx)
		}
	}
}

// ProcessBatch publishes one batch of due events and returns how many were
// published.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) (int, error) {
	if p.metrics != nil {
		timer := prometheus.NewTimer(p.metrics.OutboxProcessingLatency)
		defer timer.ObserveDuration()
	}

	events, err := p.repo.GetPendingEvents(ctx, p.config.BatchSize)
	if err != nil {
		p.countDB("get_pending_events", "error")
		return 0, fmt.Errorf("failed to get pending events: %w", err)
	}
	p.countDB("get_pending_events", "success")

	published := 0
	for _, event := range events {
		if err := p.processEvent(ctx, event); err != nil {
			p.logger.Error(err, "Failed to process event",
				"event_id", event.ID.String(),
				"event_type", event.EventType)
			continue
		}
		published++
	}
	return published, nil
}

func (p *OutboxProcessor) processEvent(ctx context.Context, event *model.OutboxEvent) error {
	msg := messaging.Message{Type: event.EventType, Payload: []byte(event.Payload)}
	pubErr := p.broker.Publish(ctx, p.config.Channel, msg)
	if pubErr == nil {
		if p.metrics != nil {
			p.metrics.OutboxEventsProcessed.Inc()
		}
		if err := p.repo.UpdateStatus(ctx, event.ID, model.OutboxStatusProcessed, nil, nil); err != nil {
			p.countDB("update_status", "error")
			return fmt.Errorf("failed to mark event processed: %w", err)
		}
		return nil
	}

	errStr := pubErr.Error()
	if event.RetryCount+1 >= p.config.MaxRetries {
		if p.metrics != nil {
			p.metrics.OutboxEventsFailed.Inc()
		}
		if err := p.repo.UpdateStatus(ctx, event.ID, model.OutboxStatusFailed, &errStr, nil); err != nil {
			p.countDB("update_status", "error")
			p.logger.Error(err, "Failed to update event status", "event_id", event.ID.String())
		}
		return pubErr
	}

	if p.metrics != nil {
		p.metrics.OutboxRetries.WithLabelValues(event.EventType).Inc()
	}
	// linear backoff on the number of attempts so far
	retryAt := p.now().Add(time.Duration(event.RetryCount+1) * p.config.RetryDelay)
	if err := p.repo.UpdateStatus(ctx, event.ID, model.OutboxStatusRetry, &errStr, &retryAt); err != nil {
		p.countDB("update_status", "error")
		p.logger.Error(err, "Failed to schedule event retry", "event_id", event.ID.String())
	}
	return pubErr
}

func (p *OutboxProcessor) purge(ctx context.Context) {
	if p.config.Retention <= 0 {
		return
	}
	n, err := p.repo.DeleteProcessedBefore(ctx, p.now().Add(-p.config.Retention))
	if err != nil {
		p.logger.Error(err, "Failed to purge processed events")
		return
	}
	if n > 0 {
		p.logger.Debug("Purged processed events", "count", n)
	}
}

func (p *OutboxProcessor) countDB(op, status string) {
	if p.metrics != nil {
		p.metrics.DatabaseOperations.WithLabelValues(op, status).Inc()
	}
}
