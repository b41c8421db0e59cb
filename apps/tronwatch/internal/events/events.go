package events

import (
	"encoding/json"
	"time"

	"tronwatch/apps/tronwatch/internal/model"
)

const (
	EventTypeBalanceChange     = "balance_change"
	EventTypePaymentConfirmed  = "payment_confirmed"
	EventTypeFulfillmentResult = "fulfillment_result"
	EventTypeVendorBalanceLow  = "vendor_balance_low"
)

// NotificationMessage is the envelope published for every outbox event.
type NotificationMessage struct {
	EventType   string          `json:"event_type"`
	EventKey    string          `json:"event_key"`
	RecipientID int64           `json:"recipient_id"`
	EventData   json.RawMessage `json:"event_data"`
	Timestamp   time.Time       `json:"timestamp"`
}

type BalanceChangeEvent struct {
	UserID     int64                  `json:"user_id"`
	Address    string                 `json:"address"`
	Nickname   string                 `json:"nickname,omitempty"`
	Direction  model.Direction        `json:"direction"`
	TransferID string                 `json:"transfer_id"`
	From       string                 `json:"from"`
	To         string                 `json:"to"`
	Asset      string                 `json:"asset"`
	Amount     string                 `json:"amount"`
	TxDate     time.Time              `json:"tx_date"`
	Account    *model.AccountSnapshot `json:"account,omitempty"`
}

type PaymentConfirmedEvent struct {
	OrderID        string          `json:"order_id"`
	UserID         int64           `json:"user_id"`
	ChatID         int64           `json:"chat_id"`
	OrderType      model.OrderType `json:"order_type"`
	Currency       string          `json:"currency"`
	ExpectedAmount string          `json:"expected_amount"`
	PaidAmount     string          `json:"paid_amount"`
	TransferID     string          `json:"transfer_id"`
	PaidAt         time.Time       `json:"paid_at"`
}

type FulfillmentResultEvent struct {
	OrderID   string          `json:"order_id"`
	UserID    int64           `json:"user_id"`
	ChatID    int64           `json:"chat_id"`
	OrderType model.OrderType `json:"order_type"`
	Success   bool            `json:"success"`
	// Partial is set when payment succeeded but delivery did not.
	Partial  bool           `json:"partial"`
	Attempts int            `json:"attempts"`
	Details  map[string]any `json:"details,omitempty"`
	Error    string         `json:"error,omitempty"`
}

type VendorBalanceLowEvent struct {
	Balance   string    `json:"balance"`
	Threshold string    `json:"threshold"`
	CheckedAt time.Time `json:"checked_at"`
}
