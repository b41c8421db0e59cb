package event_publisher

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"tronwatch/apps/tronwatch/internal/events"
	"tronwatch/apps/tronwatch/internal/model"
	"tronwatch/apps/tronwatch/internal/repository/memory"
)

type recordingSink struct {
	failKeys map[string]bool
	sent     []events.NotificationMessage
}

func (s *recordingSink) Publish(_ context.Context, msg events.NotificationMessage) error {
	if s.failKeys[msg.EventKey] {
		return errors.New("broker unavailable")
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func TestPublishUnsentEvents(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	store.StoreOutboxEvent(ctx, model.OutboxEvent{EventKey: "ok", EventType: events.EventTypePaymentConfirmed, RecipientID: 7, EventBlob: []byte(`{"order_id":"o1"}`)})
	store.StoreOutboxEvent(ctx, model.OutboxEvent{EventKey: "flaky", EventType: events.EventTypeBalanceChange, RecipientID: 8, EventBlob: []byte(`{}`)})

	sink := &recordingSink{failKeys: map[string]bool{"flaky": true}}
	publisher := NewEventPublisher(sink, store, 0, zap.NewNop())

	sent, err := publisher.PublishUnsentEvents(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sent != 1 || len(sink.sent) != 1 {
		t.Fatalf("sent = %d, sink got %d", sent, len(sink.sent))
	}
	msg := sink.sent[0]
	if msg.EventKey != "ok" || msg.RecipientID != 7 || string(msg.EventData) != `{"order_id":"o1"}` {
		t.Errorf("message = %+v", msg)
	}

	// The failed event goes back to unsent and is retried once the sink recovers.
	sink.failKeys = nil
	sent, err = publisher.PublishUnsentEvents(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sent != 1 || sink.sent[1].EventKey != "flaky" {
		t.Errorf("retry sent = %d, messages = %+v", sent, sink.sent)
	}

	sent, _ = publisher.PublishUnsentEvents(ctx)
	if sent != 0 {
		t.Errorf("nothing left to send, got %d", sent)
	}
}

func TestStartPublishingStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	publisher := NewEventPublisher(NewLogSink(zap.NewNop()), memory.New(), 0, zap.NewNop())
	if err := publisher.StartPublishing(ctx); err != nil {
		t.Errorf("StartPublishing() = %v", err)
	}
}
