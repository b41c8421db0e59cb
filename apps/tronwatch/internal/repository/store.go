package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"tronwatch/apps/tronwatch/internal/model"
)

type WatermarkStore interface {
	GetWatermark(ctx context.Context, address string) (*model.WatermarkState, error)
	Ensure(ctx context.Context, address string, seedMs int64) (*model.WatermarkState, model.EnsureOutcome, error)
	Advance(ctx context.Context, address string, ts int64) (bool, error)
}

type OrderStore interface {
	CreateOrder(ctx context.Context, order model.Order) error
	GetOrderByID(ctx context.Context, orderID string) (*model.Order, error)
	GetOrderByPaymentTransfer(ctx context.Context, transferID string) (*model.Order, error)
	FindOpenOrder(ctx context.Context, userID int64, orderType model.OrderType, now time.Time) (*model.Order, error)
	FindMatchingCandidates(ctx context.Context, currency string, amount, tolerance decimal.Decimal) ([]model.Order, error)
	ListOrdersByStatus(ctx context.Context, status model.OrderStatus, limit int) ([]model.Order, error)
	ExpireOrders(ctx context.Context, now time.Time) (int64, error)
	MarkPaid(ctx context.Context, orderID, transferID string, amount decimal.Decimal, paidAt time.Time) (bool, error)
	MarkCompleted(ctx context.Context, orderID string, details map[string]any, attempts int, completedAt time.Time) error
	MarkFulfillmentFailed(ctx context.Context, orderID string, attempts int, lastError string) error
	RecordFulfillmentAttempt(ctx context.Context, orderID string, attempts int) error
	CancelOrder(ctx context.Context, orderID string) error
	UpdatePendingAmount(ctx context.Context, orderID, currency string, amount decimal.Decimal) error
}

type SubscriptionStore interface {
	AddMonitoredAddress(ctx context.Context, addr model.MonitoredAddress) (*model.MonitoredAddress, bool, error)
	RemoveMonitoredAddress(ctx context.Context, userID int64, address string) (bool, error)
	ListWatchedAddresses(ctx context.Context) ([]string, error)
	ListSubscribersOf(ctx context.Context, address string) ([]model.MonitoredAddress, error)
	ListByUser(ctx context.Context, userID int64) ([]model.MonitoredAddress, error)
	GetMonitoredAddress(ctx context.Context, userID int64, address string) (*model.MonitoredAddress, error)
	ToggleSetting(ctx context.Context, userID int64, address string, setting model.NotifySetting) (*model.MonitoredAddress, error)
	UpdateNickname(ctx context.Context, userID int64, address, nickname string) (*model.MonitoredAddress, error)
}

type OutboxStore interface {
	StoreOutboxEvent(ctx context.Context, event model.OutboxEvent) (bool, error)
	GetUnsentEventsForProcessing(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkEventAsSent(ctx context.Context, eventKey string) error
	MarkEventAsFailed(ctx context.Context, eventKey string) error
}

// Stores bundles one implementation of every store.
type Stores struct {
	Watermarks    WatermarkStore
	Orders        OrderStore
	Subscriptions SubscriptionStore
	Outbox        OutboxStore
}

func NewPostgresStores(db *sql.DB, logger *zap.Logger) Stores {
	return Stores{
		Watermarks:    NewWatermarkRepository(db, logger.Named("watermarks")),
		Orders:        NewOrderRepository(db, logger.Named("orders")),
		Subscriptions: NewMonitoredAddressRepository(db, logger.Named("subscriptions")),
		Outbox:        NewOutboxRepository(db, logger.Named("outbox")),
	}
}
