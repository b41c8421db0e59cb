// Package notifier turns domain notifications into keyed outbox events. The key makes every notification
// idempotent, so a replayed transfer or order never yields a second message.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"tronwatch/apps/tronwatch/internal/events"
	"tronwatch/apps/tronwatch/internal/model"
	"tronwatch/apps/tronwatch/internal/repository"
)

type Notifier struct {
	outbox repository.OutboxStore
	logger *zap.Logger
}

func New(outbox repository.OutboxStore, logger *zap.Logger) *Notifier {
	return &Notifier{outbox: outbox, logger: logger}
}

func (n *Notifier) enqueue(ctx context.Context, key, eventType string, recipient int64, payload any) error {
	blob, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", eventType, err)
	}

	stored, err := n.outbox.StoreOutboxEvent(ctx, model.OutboxEvent{
		EventKey:    key,
		EventType:   eventType,
		RecipientID: recipient,
		EventBlob:   blob,
	})
	if err != nil {
		return err
	}
	if !stored {
		n.logger.Debug("Notification already queued", zap.String("event_key", key))
	}
	return nil
}

func (n *Notifier) NotifyBalanceChange(ctx context.Context, sub model.MonitoredAddress, dir model.Direction, t model.Transfer, snapshot *model.AccountSnapshot) error {
	key := fmt.Sprintf("%s:%s:%d:%s", events.EventTypeBalanceChange, t.ID, sub.UserID, sub.Address)
	return n.enqueue(ctx, key, events.EventTypeBalanceChange, sub.UserID, events.BalanceChangeEvent{
		UserID:     sub.UserID,
		Address:    sub.Address,
		Nickname:   sub.Nickname,
		Direction:  dir,
		TransferID: t.ID,
		From:       t.From,
		To:         t.To,
		Asset:      t.Asset,
		Amount:     t.Amount.String(),
		TxDate:     t.Time().UTC(),
		Account:    snapshot,
	})
}

func (n *Notifier) NotifyPaymentConfirmed(ctx context.Context, order model.Order) error {
	ev := events.PaymentConfirmedEvent{
		OrderID:        order.OrderID,
		UserID:         order.UserID,
		ChatID:         order.ChatID,
		OrderType:      order.OrderType,
		Currency:       order.Currency,
		ExpectedAmount: order.ExpectedAmount.String(),
	}
	if order.PaidAmount != nil {
		ev.PaidAmount = order.PaidAmount.String()
	}
	if order.PaymentTransferID != nil {
		ev.TransferID = *order.PaymentTransferID
	}
	if order.PaidAt != nil {
		ev.PaidAt = order.PaidAt.UTC()
	}

	key := events.EventTypePaymentConfirmed + ":" + order.OrderID
	return n.enqueue(ctx, key, events.EventTypePaymentConfirmed, order.ChatID, ev)
}

// NotifyFulfillmentResult reports the outcome of one fulfillment run. Each run is keyed by its attempt
// count so a redrive produces a fresh message.
func (n *Notifier) NotifyFulfillmentResult(ctx context.Context, order model.Order, success bool, details map[string]any, cause error) error {
	ev := events.FulfillmentResultEvent{
		OrderID:   order.OrderID,
		UserID:    order.UserID,
		ChatID:    order.ChatID,
		OrderType: order.OrderType,
		Success:   success,
		Partial:   !success,
		Attempts:  order.FulfillmentAttempts,
		Details:   details,
	}
	if cause != nil {
		ev.Error = cause.Error()
	}

	key := fmt.Sprintf("%s:%s:%d", events.EventTypeFulfillmentResult, order.OrderID, order.FulfillmentAttempts)
	return n.enqueue(ctx, key, events.EventTypeFulfillmentResult, order.ChatID, ev)
}

func (n *Notifier) NotifyVendorBalanceLow(ctx context.Context, adminChatID int64, balance, threshold string, checkedAt time.Time) error {
	key := events.EventTypeVendorBalanceLow + ":" + strconv.FormatInt(checkedAt.Unix(), 10)
	return n.enqueue(ctx, key, events.EventTypeVendorBalanceLow, adminChatID, events.VendorBalanceLowEvent{
		Balance:   balance,
		Threshold: threshold,
		CheckedAt: checkedAt.UTC(),
	})
}
