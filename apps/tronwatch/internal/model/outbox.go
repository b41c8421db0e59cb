package model

import (
	"encoding/json"
	"time"
)

const (
	OutboxStatusUnsent     = "unsent"
	OutboxStatusProcessing = "processing"
	OutboxStatusSent       = "sent"
)

type OutboxEvent struct {
	EventKey    string          `db:"event_key"`
	EventType   string          `db:"event_type"`
	Status      string          `db:"status"`
	RecipientID int64           `db:"recipient_id"`
	EventBlob   json.RawMessage `db:"event_blob"`
	CreatedAt   time.Time       `db:"created_at"`
}
