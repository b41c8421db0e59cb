package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"tronwatch/apps/tronwatch/internal/model"
)

type WatermarkRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewWatermarkRepository(db *sql.DB, logger *zap.Logger) *WatermarkRepository {
	return &WatermarkRepository{db: db, logger: logger}
}

func (r *WatermarkRepository) GetWatermark(ctx context.Context, address string) (*model.WatermarkState, error) {
	var state model.WatermarkState
	err := r.db.QueryRowContext(ctx, `
		SELECT address, last_processed_timestamp, created_at, updated_at
		FROM watermarks
		WHERE address = $1
	`, address).Scan(&state.Address, &state.LastProcessedTimestamp, &state.CreatedAt, &state.UpdatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get watermark: %w", err)
	}

	return &state, nil
}

// Ensure returns the watermark for address, creating it at seedMs when absent.
func (r *WatermarkRepository) Ensure(ctx context.Context, address string, seedMs int64) (*model.WatermarkState, model.EnsureOutcome, error) {
	state, err := r.GetWatermark(ctx, address)
	if err != nil {
		return nil, model.EnsureExisting, err
	}
	if state != nil {
		return state, model.EnsureExisting, nil
	}

	var created model.WatermarkState
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO watermarks (address, last_processed_timestamp)
		VALUES ($1, $2)
		ON CONFLICT (address) DO NOTHING
		RETURNING address, last_processed_timestamp, created_at, updated_at
	`, address, seedMs).Scan(&created.Address, &created.LastProcessedTimestamp, &created.CreatedAt, &created.UpdatedAt)

	switch {
	case err == nil:
		r.logger.Info("Created watermark", zap.String("address", address), zap.Int64("seed_ms", seedMs))
		return &created, model.EnsureCreated, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, model.EnsureCreated, fmt.Errorf("failed to create watermark: %w", err)
	}

	// Nothing returned means another writer inserted the row first.
	r.logger.Warn("Lost watermark create race, re-reading", zap.String("address", address))
	state, err = r.GetWatermark(ctx, address)
	if err != nil {
		return nil, model.EnsureLostRace, err
	}
	if state == nil {
		return nil, model.EnsureLostRace, model.ErrWatermarkMissing
	}
	return state, model.EnsureLostRace, nil
}

// Advance moves the watermark forward to ts. It never moves it backwards.
func (r *WatermarkRepository) Advance(ctx context.Context, address string, ts int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE watermarks
		SET last_processed_timestamp = GREATEST(last_processed_timestamp, $2), updated_at = NOW()
		WHERE address = $1 AND last_processed_timestamp < $2
	`, address, ts)
	if err != nil {
		return false, fmt.Errorf("failed to advance watermark: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read advanced rows: %w", err)
	}
	return n > 0, nil
}
