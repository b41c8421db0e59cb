package poller

import (
	"context"
	"slices"
	"sort"
	"time"

	"go.uber.org/zap"
	"tronwatch/apps/tronwatch/internal/dedup"
	"tronwatch/apps/tronwatch/internal/fulfillment"
	"tronwatch/apps/tronwatch/internal/metrics"
	"tronwatch/apps/tronwatch/internal/model"
)

const (
	PaymentPollerName = "payment"
	resumeBatchSize   = 100
)

type Fulfiller interface {
	Dispatch(ctx context.Context, order model.Order) (fulfillment.Result, error)
	Resume(ctx context.Context, order model.Order) (fulfillment.Result, error)
	PendingFulfillment(ctx context.Context, limit int) ([]model.Order, error)
}

type PaymentNotifier interface {
	NotifyPaymentConfirmed(ctx context.Context, order model.Order) error
	NotifyFulfillmentResult(ctx context.Context, order model.Order, success bool, details map[string]any, cause error) error
}

// PaymentPoller settles orders from transfers into the collection addresses and fulfills them.
type PaymentPoller struct {
	scanner
	orders    OrderStore
	matcher   *Matcher
	fulfiller Fulfiller
	notifier  PaymentNotifier
	// accepted maps each collection address to the currencies it takes.
	accepted map[string][]string
	timing   Timing
}

func NewPaymentPoller(
	source TransferSource,
	watermarks WatermarkStore,
	cache *dedup.Cache,
	orders OrderStore,
	fulfiller Fulfiller,
	notifier PaymentNotifier,
	accepted map[string][]string,
	timing Timing,
	logger *zap.Logger,
) *PaymentPoller {
	return &PaymentPoller{
		scanner: scanner{
			name:       PaymentPollerName,
			watermarks: watermarks,
			source:     source,
			cache:      cache,
			now:        time.Now,
			logger:     logger,
		},
		orders:    orders,
		matcher:   NewMatcher(orders, logger.Named("matcher")),
		fulfiller: fulfiller,
		notifier:  notifier,
		accepted:  accepted,
		timing:    timing,
	}
}

func (p *PaymentPoller) Run(ctx context.Context) error {
	p.logger.Info("Payment poller started",
		zap.Duration("interval", p.timing.Interval),
		zap.Int("addresses", len(p.accepted)))

	p.ResumePending(ctx)
	for {
		runCycle(ctx, p.name, p.logger, p.RunCycle)
		if !sleep(ctx, p.timing.Interval) {
			p.logger.Info("Payment poller stopped")
			return nil
		}
	}
}

// ResumePending picks up orders that were paid but never fulfilled, e.g. after a crash.
func (p *PaymentPoller) ResumePending(ctx context.Context) {
	pending, err := p.fulfiller.PendingFulfillment(ctx, resumeBatchSize)
	if err != nil {
		p.logger.Error("Failed to list orders pending fulfillment", zap.Error(err))
		return
	}
	for _, order := range pending {
		p.logger.Info("Resuming fulfillment", zap.String("order_id", order.OrderID))
		if err := p.fulfill(ctx, order, true); err != nil {
			p.logger.Error("Failed to resume fulfillment", zap.String("order_id", order.OrderID), zap.Error(err))
		}
	}
}

func (p *PaymentPoller) RunCycle(ctx context.Context) {
	if removed := p.cache.Sweep(); removed > 0 {
		p.logger.Debug("Swept dedup cache", zap.Int("removed", removed))
	}
	metrics.DedupEntries.WithLabelValues(p.cache.Name()).Set(float64(p.cache.Len()))

	expired, err := p.orders.ExpireOrders(ctx, p.now())
	if err != nil {
		p.logger.Error("Failed to expire orders", zap.Error(err))
	} else if expired > 0 {
		metrics.OrdersExpired.Add(float64(expired))
		p.logger.Info("Expired pending orders", zap.Int64("count", expired))
	}

	for _, address := range p.addresses() {
		if ctx.Err() != nil {
			return
		}
		handle := func(ctx context.Context, t model.Transfer) error {
			return p.handlePayment(ctx, address, t)
		}
		if err := p.scanAddress(ctx, address, 0, handle); err != nil {
			p.logger.Warn("Skipping collection address this cycle", zap.String("address", address), zap.Error(err))
		}
	}
}

func (p *PaymentPoller) addresses() []string {
	out := make([]string, 0, len(p.accepted))
	for address := range p.accepted {
		out = append(out, address)
	}
	sort.Strings(out)
	return out
}

func (p *PaymentPoller) handlePayment(ctx context.Context, address string, t model.Transfer) error {
	if t.To != address || !slices.Contains(p.accepted[address], t.Asset) {
		return nil
	}

	outcome, order, err := p.matcher.Settle(ctx, t)
	if err != nil {
		return err
	}
	switch outcome {
	case SettlePaid:
		return p.fulfill(ctx, *order, false)
	case SettleReplayed:
		if order.Status == model.OrderStatusPaid {
			return p.fulfill(ctx, *order, true)
		}
	}
	return nil
}

// fulfill dispatches a PAID order, then tells the payer the payment was confirmed and how fulfillment
// went. A resumed order was confirmed when it settled and goes through Resume instead of Dispatch. It
// returns an error only when the attempt or its outcome could not be stored.
func (p *PaymentPoller) fulfill(ctx context.Context, order model.Order, resume bool) error {
	run := p.fulfiller.Dispatch
	if resume {
		run = p.fulfiller.Resume
	}
	result, err := run(ctx, order)
	if !resume {
		if err := p.notifier.NotifyPaymentConfirmed(ctx, order); err != nil {
			p.logger.Error("Failed to notify payment", zap.String("order_id", order.OrderID), zap.Error(err))
		}
	}
	if err != nil {
		return err
	}
	if err := p.notifier.NotifyFulfillmentResult(ctx, result.Order, result.Success, result.Details, result.Err); err != nil {
		p.logger.Error("Failed to notify fulfillment result", zap.String("order_id", order.OrderID), zap.Error(err))
	}
	return nil
}
