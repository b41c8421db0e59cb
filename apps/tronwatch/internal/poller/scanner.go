package poller

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"tronwatch/apps/tronwatch/internal/dedup"
	"tronwatch/apps/tronwatch/internal/metrics"
	"tronwatch/apps/tronwatch/internal/model"
)

const (
	// QueryOverlapMs re-reads this much history before the watermark so boundary transfers are not missed.
	QueryOverlapMs = 1000
	// StaleAfter is the age beyond which a transfer is skipped without being handled.
	StaleAfter = time.Hour
)

type TransferSource interface {
	FetchTransfers(ctx context.Context, address string, sinceMs int64) (model.TransferBatch, error)
}

type WatermarkStore interface {
	Ensure(ctx context.Context, address string, seedMs int64) (*model.WatermarkState, model.EnsureOutcome, error)
	Advance(ctx context.Context, address string, ts int64) (bool, error)
}

// scanner holds the fetch, dedup and watermark logic shared by both pollers.
type scanner struct {
	name       string
	watermarks WatermarkStore
	source     TransferSource
	cache      *dedup.Cache
	now        func() time.Time
	logger     *zap.Logger
}

// scanAddress handles every new transfer of address in timestamp order. A fetch error leaves the watermark
// untouched. A handler error stops the batch; the watermark then only covers transfers strictly older than the
// failed one so it is retried next cycle. A truncated batch is resumed from its cut on the next cycle.
func (s *scanner) scanAddress(ctx context.Context, address string, grace time.Duration, handle func(context.Context, model.Transfer) error) error {
	now := s.now()
	logger := s.logger.With(zap.String("address", address))

	state, outcome, err := s.watermarks.Ensure(ctx, address, now.Add(-grace).UnixMilli())
	if err != nil {
		if errors.Is(err, model.ErrWatermarkMissing) {
			logger.Error("Watermark missing after create race, skipping address")
		}
		return fmt.Errorf("failed to ensure watermark: %w", err)
	}
	switch outcome {
	case model.EnsureCreated:
		logger.Info("Initialized watermark", zap.Int64("watermark", state.LastProcessedTimestamp))
	case model.EnsureLostRace:
		logger.Warn("Watermark created concurrently, using stored value", zap.Int64("watermark", state.LastProcessedTimestamp))
	}

	watermark := state.LastProcessedTimestamp
	batch, err := s.source.FetchTransfers(ctx, address, watermark-QueryOverlapMs)
	if err != nil {
		return fmt.Errorf("failed to fetch transfers: %w", err)
	}

	maxSeen := watermark
	var handleErr error
	for _, t := range batch.Transfers {
		if t.Timestamp <= watermark {
			continue
		}
		if s.cache.Seen(t.ID) {
			metrics.TransfersProcessed.WithLabelValues(s.name, "cached").Inc()
			maxSeen = max(maxSeen, t.Timestamp)
			continue
		}
		if now.Sub(t.Time()) > StaleAfter {
			metrics.TransfersProcessed.WithLabelValues(s.name, "stale").Inc()
			logger.Info("Skipping stale transfer", zap.String("transfer_id", t.ID), zap.Int64("timestamp", t.Timestamp))
			s.cache.Mark(t.ID)
			maxSeen = max(maxSeen, t.Timestamp)
			continue
		}

		if err := handle(ctx, t); err != nil {
			metrics.TransfersProcessed.WithLabelValues(s.name, "failed").Inc()
			logger.Error("Failed to handle transfer, stopping batch", zap.String("transfer_id", t.ID), zap.Error(err))
			handleErr = err
			// Transfers sharing the failed timestamp must stay above the watermark.
			maxSeen = min(maxSeen, t.Timestamp-1)
			break
		}
		metrics.TransfersProcessed.WithLabelValues(s.name, "handled").Inc()
		s.cache.Mark(t.ID)
		maxSeen = max(maxSeen, t.Timestamp)
	}

	if batch.Truncated {
		// More rows may share the cut timestamp, so it stays above the watermark.
		maxSeen = min(maxSeen, batch.Through-1)
	}

	if maxSeen > watermark {
		if _, err := s.watermarks.Advance(ctx, address, maxSeen); err != nil {
			return errors.Join(handleErr, fmt.Errorf("failed to advance watermark: %w", err))
		}
	}
	return handleErr
}

// runCycle runs one cycle and turns a panic into a logged error so the loop survives it.
func runCycle(ctx context.Context, name string, logger *zap.Logger, cycle func(context.Context)) {
	start := time.Now()
	defer func() {
		metrics.PollCycleDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			logger.Error("Recovered from panic in poll cycle", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		}
	}()
	cycle(ctx)
}

// sleep waits for d or until ctx is done. It reports whether the caller should continue.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
