package worker

import (
	"context"
	"fmt"

	"github.com/santetogo/records-api/pkg/logger"
	"github.com/santetogo/records-api/pkg/messaging"
)

// MessageHandler consumes one raw broker message.
type MessageHandler interface {
	Handle(ctx context.Context, raw []byte) error
}

// Notifier feeds grant events published by the outbox processor to the
// notification service.
type Notifier struct {
	broker  messaging.Broker
	channel string
	handler MessageHandler
	logger  *logger.Logger
}

func NewNotifier(broker messaging.Broker, channel string, handler MessageHandler, log *logger.Logger) *Notifier {
	return &Notifier{
		broker:  broker,
		channel: channel,
		handler: handler,
		logger:  log,
	}
}

// Start subscribes and blocks until ctx is cancelled or the broker closes.
func (n *Notifier) Start(ctx context.Context) error {
	msgs, err := n.broker.Subscribe(ctx, n.channel)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", n.channel, err)
	}
	n.logger.Info("Notifier subscribed", "channel", n.channel)
	return n.Consume(ctx, msgs)
}

// Consume handles messages until msgs closes or ctx is cancelled. A failed
// message is logged and skipped.
func (n *Notifier) Consume(ctx context.Context, msgs <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-msgs:
			if !ok {
				return nil
			}
			if err := n.handler.Handle(ctx, raw); err != nil {
				n.logger.Error(err, "Failed to handle notification message", "channel", n.channel)
			}
		}
	}
}
