package event_publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"
	"tronwatch/apps/tronwatch/internal/events"
)

// Sink delivers a notification to whatever renders it for users.
type Sink interface {
	Publish(ctx context.Context, msg events.NotificationMessage) error
	Close() error
}

type KafkaSink struct {
	producer *kafka.Producer
	topic    string
}

func NewKafkaSink(broker, topic string) (*KafkaSink, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": broker,
		"acks":              "all",
		"retries":           3,
		"retry.backoff.ms":  100,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return &KafkaSink{producer: producer, topic: topic}, nil
}

func (s *KafkaSink) Publish(ctx context.Context, msg events.NotificationMessage) error {
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	deliveryChan := make(chan kafka.Event, 1)
	err = s.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &s.topic, Partition: kafka.PartitionAny},
		// Keyed by recipient so one user's messages stay ordered.
		Key:   []byte(fmt.Sprintf("%d", msg.RecipientID)),
		Value: msgBytes,
	}, deliveryChan)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case e := <-deliveryChan:
		switch ev := e.(type) {
		case *kafka.Message:
			return ev.TopicPartition.Error
		default:
			return fmt.Errorf("unexpected kafka event type: %T", e)
		}
	}
}

func (s *KafkaSink) Close() error {
	if s.producer != nil {
		s.producer.Flush(5000)
		s.producer.Close()
	}
	return nil
}

// LogSink writes notifications to the log. It is used when no broker is configured.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(_ context.Context, msg events.NotificationMessage) error {
	s.logger.Info("Notification",
		zap.String("event_type", msg.EventType),
		zap.String("event_key", msg.EventKey),
		zap.Int64("recipient_id", msg.RecipientID),
		zap.ByteString("event_data", msg.EventData))
	return nil
}

func (s *LogSink) Close() error {
	return nil
}
