package fulfillment

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"tronwatch/apps/tronwatch/internal/energy"
	"tronwatch/apps/tronwatch/internal/model"
)

type SenderResolver interface {
	ResolveSender(ctx context.Context, txID string) (string, bool, error)
}

type EnergyRenter interface {
	Rent(ctx context.Context, receiver string) (string, error)
}

// SpecialOfferHandler rents energy to whoever paid for the order.
type SpecialOfferHandler struct {
	senders SenderResolver
	renter  EnergyRenter
	dryRun  bool
	logger  *zap.Logger
}

func NewSpecialOfferHandler(senders SenderResolver, renter EnergyRenter, dryRun bool, logger *zap.Logger) *SpecialOfferHandler {
	return &SpecialOfferHandler{senders: senders, renter: renter, dryRun: dryRun, logger: logger}
}

func (h *SpecialOfferHandler) Fulfill(ctx context.Context, order model.Order) (map[string]any, error) {
	if order.PaymentTransferID == nil || *order.PaymentTransferID == "" {
		return nil, Permanent(errors.New("order has no payment transfer"))
	}

	receiver, found, err := h.senders.ResolveSender(ctx, *order.PaymentTransferID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve payer: %w", err)
	}
	if !found {
		return nil, Permanent(fmt.Errorf("payer of %s not found", *order.PaymentTransferID))
	}

	details := map[string]any{
		"receiver_address": receiver,
		"energy_amount":    energy.RentAmount,
	}

	if h.dryRun {
		h.logger.Warn("Dry run, skipping energy rental", zap.String("order_id", order.OrderID), zap.String("receiver", receiver))
		details["dry_run"] = true
		return details, nil
	}

	hash, err := h.renter.Rent(ctx, receiver)
	if err != nil {
		var rejected *energy.RejectedError
		if errors.As(err, &rejected) {
			return nil, Permanent(err)
		}
		return nil, err
	}
	details["delegate_txid"] = hash
	return details, nil
}

// SmartTRXHandler activates a per-transfer energy package; delivery happens outside this service.
type SmartTRXHandler struct{}

func (SmartTRXHandler) Fulfill(_ context.Context, order model.Order) (map[string]any, error) {
	receiver := order.DetailString("receiver_address")
	if receiver == "" {
		return nil, Permanent(errors.New("smart order has no receiver address"))
	}
	return map[string]any{"activated": true}, nil
}
