package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"tronwatch/apps/tronwatch/internal/metrics"
	"tronwatch/apps/tronwatch/internal/model"
)

type OrderStore interface {
	GetOrderByPaymentTransfer(ctx context.Context, transferID string) (*model.Order, error)
	FindMatchingCandidates(ctx context.Context, currency string, amount, tolerance decimal.Decimal) ([]model.Order, error)
	MarkPaid(ctx context.Context, orderID, transferID string, amount decimal.Decimal, paidAt time.Time) (bool, error)
	ExpireOrders(ctx context.Context, now time.Time) (int64, error)
}

type SettleOutcome int

const (
	SettleUnmatched SettleOutcome = iota
	SettlePaid
	// SettleReplayed means the transfer already settled an order in an earlier cycle.
	SettleReplayed
	// SettleLostToOther means a concurrent writer applied the transfer first.
	SettleLostToOther
)

func (o SettleOutcome) String() string {
	switch o {
	case SettleUnmatched:
		return "unmatched"
	case SettlePaid:
		return "paid"
	case SettleReplayed:
		return "replayed"
	case SettleLostToOther:
		return "lost_to_other"
	}
	return "unknown"
}

// Matcher binds an incoming payment to at most one pending order.
type Matcher struct {
	orders OrderStore
	logger *zap.Logger
}

func NewMatcher(orders OrderStore, logger *zap.Logger) *Matcher {
	return &Matcher{orders: orders, logger: logger}
}

// Settle marks the oldest pending order whose amount matches t and which was priced for the collection
// address t arrived at as PAID. The returned order is the one bound to t, if any.
func (m *Matcher) Settle(ctx context.Context, t model.Transfer) (SettleOutcome, *model.Order, error) {
	logger := m.logger.With(zap.String("transfer_id", t.ID), zap.String("asset", t.Asset), zap.String("amount", t.Amount.String()))

	existing, err := m.orders.GetOrderByPaymentTransfer(ctx, t.ID)
	if err != nil {
		return SettleUnmatched, nil, fmt.Errorf("failed to look up transfer: %w", err)
	}
	if existing != nil {
		logger.Debug("Transfer already applied", zap.String("order_id", existing.OrderID))
		return SettleReplayed, existing, nil
	}

	candidates, err := m.orders.FindMatchingCandidates(ctx, t.Asset, t.Amount, model.AmountTolerance)
	if err != nil {
		return SettleUnmatched, nil, fmt.Errorf("failed to find candidates: %w", err)
	}

	paidAt := t.Time().UTC()
	for _, candidate := range candidates {
		if !candidate.AcceptsPaymentAt(t.To) {
			logger.Debug("Candidate expects payment at another address", zap.String("order_id", candidate.OrderID),
				zap.String("payment_address", candidate.DetailString("payment_address")))
			continue
		}
		ok, err := m.orders.MarkPaid(ctx, candidate.OrderID, t.ID, t.Amount, paidAt)
		if errors.Is(err, model.ErrTransferAlreadyApplied) {
			logger.Info("Transfer applied concurrently", zap.String("order_id", candidate.OrderID))
			return SettleLostToOther, nil, nil
		}
		if err != nil {
			return SettleUnmatched, nil, fmt.Errorf("failed to mark order %s paid: %w", candidate.OrderID, err)
		}
		if !ok {
			// Status changed since the candidate query; try the next one.
			continue
		}

		candidate.Status = model.OrderStatusPaid
		candidate.PaymentTransferID = &t.ID
		amount := t.Amount
		candidate.PaidAmount = &amount
		candidate.PaidAt = &paidAt
		metrics.OrdersPaid.WithLabelValues(t.Asset).Inc()
		logger.Info("Order paid", zap.String("order_id", candidate.OrderID), zap.Int64("user_id", candidate.UserID))
		return SettlePaid, &candidate, nil
	}

	metrics.UnmatchedPayments.WithLabelValues(t.Asset).Inc()
	logger.Warn("Payment did not match any pending order", zap.String("from", t.From), zap.Int("candidates", len(candidates)))
	return SettleUnmatched, nil, nil
}
