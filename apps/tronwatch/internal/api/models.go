package api

import (
	"time"

	"github.com/shopspring/decimal"
	"tronwatch/apps/tronwatch/internal/model"
)

// OrderResponse represents the API response for order information
type OrderResponse struct {
	OrderID             string            `json:"order_id"`
	UserID              int64             `json:"user_id"`
	ChatID              int64             `json:"chat_id"`
	OrderType           model.OrderType   `json:"order_type"`
	Status              model.OrderStatus `json:"status"`
	Currency            string            `json:"currency"`
	ExpectedAmount      string            `json:"expected_amount"`
	PaidAmount          *string           `json:"paid_amount,omitempty"`
	PaymentTransferID   *string           `json:"payment_transfer_id,omitempty"`
	Details             map[string]any    `json:"details,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	ExpiresAt           time.Time         `json:"expires_at"`
	PaidAt              *time.Time        `json:"paid_at,omitempty"`
	CompletedAt         *time.Time        `json:"completed_at,omitempty"`
	FulfillmentAttempts int               `json:"fulfillment_attempts"`
	LastError           *string           `json:"last_error,omitempty"`
	Reused              bool              `json:"reused,omitempty"`
}

func newOrderResponse(o model.Order) OrderResponse {
	resp := OrderResponse{
		OrderID:             o.OrderID,
		UserID:              o.UserID,
		ChatID:              o.ChatID,
		OrderType:           o.OrderType,
		Status:              o.Status,
		Currency:            o.Currency,
		ExpectedAmount:      o.ExpectedAmount.String(),
		PaymentTransferID:   o.PaymentTransferID,
		Details:             o.Details,
		CreatedAt:           o.CreatedAt,
		ExpiresAt:           o.ExpiresAt,
		PaidAt:              o.PaidAt,
		CompletedAt:         o.CompletedAt,
		FulfillmentAttempts: o.FulfillmentAttempts,
		LastError:           o.LastError,
	}
	if o.PaidAmount != nil {
		paid := o.PaidAmount.String()
		resp.PaidAmount = &paid
	}
	return resp
}

// RecordOrderRequest carries an externally priced order.
type RecordOrderRequest struct {
	OrderID        string          `json:"order_id"`
	UserID         int64           `json:"user_id"`
	ChatID         int64           `json:"chat_id"`
	OrderType      model.OrderType `json:"order_type"`
	Currency       string          `json:"currency"`
	ExpectedAmount decimal.Decimal `json:"expected_amount"`
	Details        map[string]any  `json:"details"`
	ExpiresAt      time.Time       `json:"expires_at"`
}

type SpecialOfferRequest struct {
	UserID int64 `json:"user_id"`
	ChatID int64 `json:"chat_id"`
}

type SmartOrderRequest struct {
	UserID          int64  `json:"user_id"`
	ChatID          int64  `json:"chat_id"`
	Size            int    `json:"size"`
	ReceiverAddress string `json:"receiver_address"`
	Currency        string `json:"currency"`
}

type SwitchCurrencyRequest struct {
	Currency string `json:"currency"`
}

type FulfillmentResponse struct {
	Order   OrderResponse  `json:"order"`
	Success bool           `json:"success"`
	Details map[string]any `json:"details,omitempty"`
	Error   string         `json:"error,omitempty"`
}

type SubscribeRequest struct {
	UserID   int64  `json:"user_id"`
	Address  string `json:"address"`
	Nickname string `json:"nickname"`
}

type ToggleRequest struct {
	Setting string `json:"setting"`
}

type NicknameRequest struct {
	Nickname string `json:"nickname"`
}

type SubscriptionResponse struct {
	model.MonitoredAddress
	Created bool `json:"created,omitempty"`
}

// ErrorResponse represents the API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
