package balance_monitor

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"tronwatch/apps/tronwatch/internal/metrics"
)

type BalanceSource interface {
	Balance(ctx context.Context) (decimal.Decimal, error)
}

type AlertSink interface {
	NotifyVendorBalanceLow(ctx context.Context, adminChatID int64, balance, threshold string, checkedAt time.Time) error
}

// Monitor raises one alert when the vendor balance drops below the threshold and re-arms once it recovers.
type Monitor struct {
	source      BalanceSource
	alerts      AlertSink
	threshold   decimal.Decimal
	adminChatID int64
	interval    time.Duration
	now         func() time.Time
	logger      *zap.Logger

	alerted bool
}

func New(source BalanceSource, alerts AlertSink, threshold decimal.Decimal, adminChatID int64, interval time.Duration, logger *zap.Logger) *Monitor {
	return &Monitor{
		source:      source,
		alerts:      alerts,
		threshold:   threshold,
		adminChatID: adminChatID,
		interval:    interval,
		now:         time.Now,
		logger:      logger,
	}
}

func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("Balance monitor started", zap.Duration("interval", m.interval), zap.String("threshold", m.threshold.String()))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.Check(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Check reads the balance once. It reports whether an alert was raised.
func (m *Monitor) Check(ctx context.Context) bool {
	balance, err := m.source.Balance(ctx)
	if err != nil {
		m.logger.Error("Failed to query vendor balance", zap.Error(err))
		return false
	}
	metrics.VendorBalance.Set(balance.InexactFloat64())

	if !balance.LessThan(m.threshold) {
		if m.alerted {
			m.logger.Info("Vendor balance recovered", zap.String("balance", balance.String()))
			m.alerted = false
		}
		return false
	}

	if m.alerted {
		return false
	}

	err = m.alerts.NotifyVendorBalanceLow(ctx, m.adminChatID, balance.StringFixed(2), m.threshold.StringFixed(2), m.now())
	if err != nil {
		m.logger.Error("Failed to raise low balance alert", zap.Error(err))
		return false
	}

	m.alerted = true
	m.logger.Warn("Vendor balance below threshold", zap.String("balance", balance.String()))
	return true
}
