package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// InitMigration creates the schema. Every statement is idempotent so it is safe to run on every start.
func InitMigration(ctx context.Context, db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS watermarks (
			address VARCHAR(64) PRIMARY KEY,
			last_processed_timestamp BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			order_id VARCHAR(64) PRIMARY KEY,
			user_id BIGINT NOT NULL,
			chat_id BIGINT NOT NULL,
			order_type VARCHAR(20) NOT NULL,
			status VARCHAR(20) NOT NULL,
			currency VARCHAR(10) NOT NULL,
			expected_amount NUMERIC(38,6) NOT NULL,
			paid_amount NUMERIC(38,6),
			payment_transfer_id VARCHAR(80) UNIQUE,
			details JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expires_at TIMESTAMPTZ NOT NULL,
			paid_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			fulfillment_attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status_currency_amount ON orders (status, currency, expected_amount)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status_expires ON orders (status, expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_user_type_status ON orders (user_id, order_type, status)`,
		`CREATE TABLE IF NOT EXISTS monitored_addresses (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			address VARCHAR(64) NOT NULL,
			nickname VARCHAR(64) NOT NULL DEFAULT '',
			notify_on_incoming BOOLEAN NOT NULL DEFAULT TRUE,
			notify_on_outgoing BOOLEAN NOT NULL DEFAULT TRUE,
			notify_trx BOOLEAN NOT NULL DEFAULT TRUE,
			notify_usdt BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(user_id, address)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_monitored_addresses_address ON monitored_addresses (address)`,
		`CREATE TABLE IF NOT EXISTS notification_outbox (
			event_key VARCHAR(200) PRIMARY KEY,
			event_type VARCHAR(40) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'unsent',
			recipient_id BIGINT NOT NULL,
			event_blob JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notification_outbox_status_created ON notification_outbox (status, created_at)`,
	}

	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query %s: %w", query, err)
		}
	}

	return nil
}
