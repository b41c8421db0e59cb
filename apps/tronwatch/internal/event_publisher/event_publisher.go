package event_publisher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"tronwatch/apps/tronwatch/internal/events"
	"tronwatch/apps/tronwatch/internal/metrics"
	"tronwatch/apps/tronwatch/internal/model"
	"tronwatch/apps/tronwatch/internal/repository"
)

const defaultBatchSize = 100

type EventPublisher struct {
	logger   *zap.Logger
	sink     Sink
	outbox   repository.OutboxStore
	interval time.Duration
	now      func() time.Time
	mu       sync.Mutex // one drain at a time per instance
}

func NewEventPublisher(sink Sink, outbox repository.OutboxStore, interval time.Duration, logger *zap.Logger) *EventPublisher {
	if interval <= 0 {
		interval = time.Second
	}
	return &EventPublisher{
		logger:   logger,
		sink:     sink,
		outbox:   outbox,
		interval: interval,
		now:      time.Now,
	}
}

// StartPublishing drains the outbox on every tick until ctx is cancelled.
func (ep *EventPublisher) StartPublishing(ctx context.Context) error {
	ticker := time.NewTicker(ep.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := ep.PublishUnsentEvents(ctx); err != nil {
				ep.logger.Error("Error publishing notifications", zap.Error(err))
			}
		}
	}
}

// PublishUnsentEvents hands one batch of unsent events to the sink and returns how many were delivered.
func (ep *EventPublisher) PublishUnsentEvents(ctx context.Context) (int, error) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	outboxEvents, err := ep.outbox.GetUnsentEventsForProcessing(ctx, defaultBatchSize)
	if err != nil {
		return 0, err
	}

	successCount := 0
	for _, event := range outboxEvents {
		if err := ep.sink.Publish(ctx, ep.toMessage(event)); err != nil {
			metrics.OutboxPublished.WithLabelValues("failed").Inc()
			ep.logger.Error("Failed to publish event", zap.String("event_key", event.EventKey), zap.Error(err))
			// Back to unsent so the next tick retries it.
			if markErr := ep.outbox.MarkEventAsFailed(ctx, event.EventKey); markErr != nil {
				ep.logger.Error("Failed to mark event as failed", zap.String("event_key", event.EventKey), zap.Error(markErr))
			}
			continue
		}

		metrics.OutboxPublished.WithLabelValues("sent").Inc()
		if err := ep.outbox.MarkEventAsSent(ctx, event.EventKey); err != nil {
			// Delivered but still marked processing; it will not be resent automatically.
			ep.logger.Error("Failed to mark event as sent", zap.String("event_key", event.EventKey), zap.Error(err))
			continue
		}
		successCount++
	}

	if successCount > 0 {
		ep.logger.Info("Published notifications", zap.Int("success_count", successCount), zap.Int("attempted", len(outboxEvents)))
	}
	return successCount, nil
}

func (ep *EventPublisher) toMessage(event model.OutboxEvent) events.NotificationMessage {
	return events.NotificationMessage{
		EventType:   event.EventType,
		EventKey:    event.EventKey,
		RecipientID: event.RecipientID,
		EventData:   event.EventBlob,
		Timestamp:   ep.now().UTC(),
	}
}

func (ep *EventPublisher) Close() error {
	return ep.sink.Close()
}
