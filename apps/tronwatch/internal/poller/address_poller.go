package poller

import (
	"context"
	"time"

	"go.uber.org/zap"
	"tronwatch/apps/tronwatch/internal/dedup"
	"tronwatch/apps/tronwatch/internal/metrics"
	"tronwatch/apps/tronwatch/internal/model"
)

const (
	AddressPollerName = "address"
	// AddressSeedGrace is how far back a newly watched address starts.
	AddressSeedGrace = 5 * time.Minute
)

type SubscriptionStore interface {
	ListWatchedAddresses(ctx context.Context) ([]string, error)
	ListSubscribersOf(ctx context.Context, address string) ([]model.MonitoredAddress, error)
}

type AccountSource interface {
	AccountSnapshot(ctx context.Context, address string) (*model.AccountSnapshot, error)
}

type BalanceNotifier interface {
	NotifyBalanceChange(ctx context.Context, sub model.MonitoredAddress, dir model.Direction, t model.Transfer, snapshot *model.AccountSnapshot) error
}

type Timing struct {
	Interval time.Duration
	// Pause is slept after each address to stay under the query rate limit.
	Pause time.Duration
}

// AddressPoller notifies subscribers of balance changes on watched addresses.
type AddressPoller struct {
	scanner
	subscriptions SubscriptionStore
	accounts      AccountSource
	notifier      BalanceNotifier
	timing        Timing
}

func NewAddressPoller(
	source TransferSource,
	watermarks WatermarkStore,
	cache *dedup.Cache,
	subscriptions SubscriptionStore,
	accounts AccountSource,
	notifier BalanceNotifier,
	timing Timing,
	logger *zap.Logger,
) *AddressPoller {
	return &AddressPoller{
		scanner: scanner{
			name:       AddressPollerName,
			watermarks: watermarks,
			source:     source,
			cache:      cache,
			now:        time.Now,
			logger:     logger,
		},
		subscriptions: subscriptions,
		accounts:      accounts,
		notifier:      notifier,
		timing:        timing,
	}
}

func (p *AddressPoller) Run(ctx context.Context) error {
	p.logger.Info("Address poller started", zap.Duration("interval", p.timing.Interval))
	for {
		runCycle(ctx, p.name, p.logger, p.RunCycle)
		if !sleep(ctx, p.timing.Interval) {
			p.logger.Info("Address poller stopped")
			return nil
		}
	}
}

func (p *AddressPoller) RunCycle(ctx context.Context) {
	if removed := p.cache.Sweep(); removed > 0 {
		p.logger.Debug("Swept dedup cache", zap.Int("removed", removed))
	}
	metrics.DedupEntries.WithLabelValues(p.cache.Name()).Set(float64(p.cache.Len()))

	addresses, err := p.subscriptions.ListWatchedAddresses(ctx)
	if err != nil {
		p.logger.Error("Failed to list watched addresses", zap.Error(err))
		return
	}

	for _, address := range addresses {
		if ctx.Err() != nil {
			return
		}
		if err := p.scanAddress(ctx, address, AddressSeedGrace, p.handleTransfer); err != nil {
			p.logger.Warn("Skipping address this cycle", zap.String("address", address), zap.Error(err))
		}
		if !sleep(ctx, p.timing.Pause) {
			return
		}
	}
}

// handleTransfer notifies every subscriber of either endpoint. Only a subscriber lookup failure is returned;
// enrichment and delivery problems are logged.
func (p *AddressPoller) handleTransfer(ctx context.Context, t model.Transfer) error {
	for _, endpoint := range t.Endpoints() {
		subs, err := p.subscriptions.ListSubscribersOf(ctx, endpoint)
		if err != nil {
			return err
		}
		if len(subs) == 0 {
			continue
		}

		snapshot := p.snapshot(ctx, endpoint)
		for _, sub := range subs {
			dir := sub.Classify(t)
			if !sub.Allows(dir, t.Asset) {
				continue
			}
			if err := p.notifier.NotifyBalanceChange(ctx, sub, dir, t, snapshot); err != nil {
				p.logger.Error("Failed to notify balance change",
					zap.String("transfer_id", t.ID),
					zap.Int64("user_id", sub.UserID),
					zap.Error(err))
			}
		}
	}
	return nil
}

func (p *AddressPoller) snapshot(ctx context.Context, address string) *model.AccountSnapshot {
	if p.accounts == nil {
		return nil
	}
	snapshot, err := p.accounts.AccountSnapshot(ctx, address)
	if err != nil {
		p.logger.Warn("Account snapshot unavailable, notifying without balances", zap.String("address", address), zap.Error(err))
		return nil
	}
	return snapshot
}
