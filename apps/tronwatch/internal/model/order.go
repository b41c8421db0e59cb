package model

import (
	"errors"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPendingPayment    OrderStatus = "PENDING_PAYMENT"
	OrderStatusPaid              OrderStatus = "PAID"
	OrderStatusCompleted         OrderStatus = "COMPLETED"
	OrderStatusExpired           OrderStatus = "EXPIRED"
	OrderStatusCanceled          OrderStatus = "CANCELED"
	OrderStatusFulfillmentFailed OrderStatus = "FULFILLMENT_FAILED"
)

type OrderType string

const (
	OrderTypeSpecialOffer OrderType = "SPECIAL_OFFER"
	OrderTypeSmartTRX     OrderType = "SMART_TRX"
)

var (
	// ErrInvalidTransition is returned when an order is not in a state that permits the requested change.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrTransferAlreadyApplied is returned when a transfer has already settled another order.
	ErrTransferAlreadyApplied = errors.New("transfer already applied to an order")
	ErrOrderNotFound          = errors.New("order not found")
	ErrOrderExists            = errors.New("order already exists")
)

var orderStatuses = []OrderStatus{
	OrderStatusPendingPayment, OrderStatusPaid, OrderStatusCompleted,
	OrderStatusExpired, OrderStatusCanceled, OrderStatusFulfillmentFailed,
}

// orderTransitions lists every allowed status change. Both stores derive their guards from it.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPendingPayment:    {OrderStatusPaid, OrderStatusExpired, OrderStatusCanceled},
	OrderStatusPaid:              {OrderStatusCompleted, OrderStatusFulfillmentFailed},
	OrderStatusFulfillmentFailed: {OrderStatusCompleted, OrderStatusFulfillmentFailed},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to OrderStatus) bool {
	return slices.Contains(orderTransitions[from], to)
}

// SourcesOf returns the statuses an order may move to the given status from.
func SourcesOf(to OrderStatus) []OrderStatus {
	var from []OrderStatus
	for _, s := range orderStatuses {
		if CanTransition(s, to) {
			from = append(from, s)
		}
	}
	return from
}

func (s OrderStatus) Valid() bool {
	return slices.Contains(orderStatuses, s)
}

func (t OrderType) Valid() bool {
	return t == OrderTypeSpecialOffer || t == OrderTypeSmartTRX
}

type Order struct {
	OrderID             string           `db:"order_id"`
	UserID              int64            `db:"user_id"`
	ChatID              int64            `db:"chat_id"`
	OrderType           OrderType        `db:"order_type"`
	Status              OrderStatus      `db:"status"`
	Currency            string           `db:"currency"`
	ExpectedAmount      decimal.Decimal  `db:"expected_amount"`
	PaidAmount          *decimal.Decimal `db:"paid_amount"`
	PaymentTransferID   *string          `db:"payment_transfer_id"`
	Details             map[string]any   `db:"details"`
	CreatedAt           time.Time        `db:"created_at"`
	ExpiresAt           time.Time        `db:"expires_at"`
	PaidAt              *time.Time       `db:"paid_at"`
	CompletedAt         *time.Time       `db:"completed_at"`
	FulfillmentAttempts int              `db:"fulfillment_attempts"`
	LastError           *string          `db:"last_error"`
}

// IsOpen reports whether the order still accepts a payment at the given instant.
func (o Order) IsOpen(now time.Time) bool {
	return o.Status == OrderStatusPendingPayment && now.Before(o.ExpiresAt)
}

// DetailString returns a string attribute from Details, or "" when absent.
func (o Order) DetailString(key string) string {
	if o.Details == nil {
		return ""
	}
	if v, ok := o.Details[key].(string); ok {
		return v
	}
	return ""
}

// AcceptsPaymentAt reports whether a payment received at address can settle the order. Orders recorded
// without a payment address accept any collection address.
func (o Order) AcceptsPaymentAt(address string) bool {
	want := o.DetailString("payment_address")
	return want == "" || want == address
}

// AmountTolerance is the strict bound under which a paid amount matches an expected amount.
var AmountTolerance = decimal.New(1, -6)

// AmountsMatch reports whether |expected - paid| < AmountTolerance.
func AmountsMatch(expected, paid decimal.Decimal) bool {
	return expected.Sub(paid).Abs().LessThan(AmountTolerance)
}
