package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	"tronwatch/apps/tronwatch/internal/model"
)

type OutboxRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewOutboxRepository(db *sql.DB, logger *zap.Logger) *OutboxRepository {
	return &OutboxRepository{db: db, logger: logger}
}

// StoreOutboxEvent stores a notification once per event key. It reports false when the key already exists.
func (c *OutboxRepository) StoreOutboxEvent(ctx context.Context, event model.OutboxEvent) (bool, error) {
	res, err := c.db.ExecContext(ctx, `
		INSERT INTO notification_outbox (event_key, event_type, status, recipient_id, event_blob)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_key) DO NOTHING
	`, event.EventKey, event.EventType, model.OutboxStatusUnsent, event.RecipientID, []byte(event.EventBlob))
	if err != nil {
		return false, fmt.Errorf("failed to store outbox event: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read stored rows: %w", err)
	}
	if n == 0 {
		c.logger.Debug("Duplicate outbox event ignored", zap.String("event_key", event.EventKey))
		return false, nil
	}

	c.logger.Info("Stored event", zap.String("event_type", event.EventType), zap.String("event_key", event.EventKey))
	return true, nil
}

// GetUnsentEventsForProcessing claims up to limit unsent events by moving them to processing.
func (c *OutboxRepository) GetUnsentEventsForProcessing(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT event_key, event_type, status, recipient_id, event_blob, created_at
		FROM notification_outbox
		WHERE status = $1
		ORDER BY created_at, event_key
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, model.OutboxStatusUnsent, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.OutboxEvent
	for rows.Next() {
		var event model.OutboxEvent
		var blob []byte
		if err := rows.Scan(&event.EventKey, &event.EventType, &event.Status, &event.RecipientID, &blob, &event.CreatedAt); err != nil {
			return nil, err
		}
		event.EventBlob = blob
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range events {
		_, err = tx.ExecContext(ctx, `
			UPDATE notification_outbox SET status = $1 WHERE event_key = $2 AND status = $3
		`, model.OutboxStatusProcessing, events[i].EventKey, model.OutboxStatusUnsent)
		if err != nil {
			return nil, err
		}
		events[i].Status = model.OutboxStatusProcessing
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return events, nil
}

func (c *OutboxRepository) MarkEventAsSent(ctx context.Context, eventKey string) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE notification_outbox SET status = $1 WHERE event_key = $2
	`, model.OutboxStatusSent, eventKey)
	return err
}

func (c *OutboxRepository) MarkEventAsFailed(ctx context.Context, eventKey string) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE notification_outbox SET status = $1 WHERE event_key = $2 AND status = $3
	`, model.OutboxStatusUnsent, eventKey, model.OutboxStatusProcessing)
	return err
}
