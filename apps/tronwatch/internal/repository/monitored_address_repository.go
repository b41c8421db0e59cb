package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"tronwatch/apps/tronwatch/internal/model"
)

const monitoredAddressColumns = `id, user_id, address, nickname, notify_on_incoming, notify_on_outgoing, notify_trx, notify_usdt, created_at`

type MonitoredAddressRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewMonitoredAddressRepository(db *sql.DB, logger *zap.Logger) *MonitoredAddressRepository {
	return &MonitoredAddressRepository{db: db, logger: logger}
}

func scanMonitoredAddress(row rowScanner) (*model.MonitoredAddress, error) {
	var addr model.MonitoredAddress
	err := row.Scan(&addr.ID, &addr.UserID, &addr.Address, &addr.Nickname, &addr.NotifyOnIncoming,
		&addr.NotifyOnOutgoing, &addr.NotifyTRX, &addr.NotifyUSDT, &addr.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &addr, nil
}

func (r *MonitoredAddressRepository) queryAddresses(ctx context.Context, query string, args ...any) ([]model.MonitoredAddress, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var addresses []model.MonitoredAddress
	for rows.Next() {
		addr, err := scanMonitoredAddress(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan monitored address: %w", err)
		}
		addresses = append(addresses, *addr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating monitored addresses: %w", err)
	}
	return addresses, nil
}

// AddMonitoredAddress subscribes a user to an address. An existing subscription keeps its toggles and only
// takes the new nickname. The boolean reports whether a new row was created.
func (r *MonitoredAddressRepository) AddMonitoredAddress(ctx context.Context, addr model.MonitoredAddress) (*model.MonitoredAddress, bool, error) {
	var inserted bool
	var saved model.MonitoredAddress
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO monitored_addresses (user_id, address, nickname, notify_on_incoming, notify_on_outgoing, notify_trx, notify_usdt)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, address) DO UPDATE SET nickname = EXCLUDED.nickname
		RETURNING `+monitoredAddressColumns+`, (xmax = 0)
	`, addr.UserID, addr.Address, addr.Nickname, addr.NotifyOnIncoming, addr.NotifyOnOutgoing, addr.NotifyTRX, addr.NotifyUSDT).
		Scan(&saved.ID, &saved.UserID, &saved.Address, &saved.Nickname, &saved.NotifyOnIncoming,
			&saved.NotifyOnOutgoing, &saved.NotifyTRX, &saved.NotifyUSDT, &saved.CreatedAt, &inserted)
	if err != nil {
		return nil, false, fmt.Errorf("failed to add monitored address: %w", err)
	}

	r.logger.Info("Added monitored address",
		zap.Int64("user_id", addr.UserID),
		zap.String("address", addr.Address),
		zap.Bool("created", inserted))
	return &saved, inserted, nil
}

func (r *MonitoredAddressRepository) RemoveMonitoredAddress(ctx context.Context, userID int64, address string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM monitored_addresses WHERE user_id = $1 AND address = $2`, userID, address)
	if err != nil {
		return false, fmt.Errorf("failed to remove monitored address: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read removed rows: %w", err)
	}
	return n > 0, nil
}

// ListWatchedAddresses returns every distinct address with at least one subscriber.
func (r *MonitoredAddressRepository) ListWatchedAddresses(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT address FROM monitored_addresses ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("failed to list watched addresses: %w", err)
	}
	defer rows.Close()

	var addresses []string
	for rows.Next() {
		var address string
		if err := rows.Scan(&address); err != nil {
			return nil, fmt.Errorf("failed to scan watched address: %w", err)
		}
		addresses = append(addresses, address)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating watched addresses: %w", err)
	}
	return addresses, nil
}

func (r *MonitoredAddressRepository) ListSubscribersOf(ctx context.Context, address string) ([]model.MonitoredAddress, error) {
	addresses, err := r.queryAddresses(ctx, `
		SELECT `+monitoredAddressColumns+` FROM monitored_addresses WHERE address = $1 ORDER BY id
	`, address)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscribers: %w", err)
	}
	return addresses, nil
}

func (r *MonitoredAddressRepository) ListByUser(ctx context.Context, userID int64) ([]model.MonitoredAddress, error) {
	addresses, err := r.queryAddresses(ctx, `
		SELECT `+monitoredAddressColumns+` FROM monitored_addresses WHERE user_id = $1 ORDER BY created_at, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user subscriptions: %w", err)
	}
	return addresses, nil
}

func (r *MonitoredAddressRepository) GetMonitoredAddress(ctx context.Context, userID int64, address string) (*model.MonitoredAddress, error) {
	addr, err := scanMonitoredAddress(r.db.QueryRowContext(ctx, `
		SELECT `+monitoredAddressColumns+` FROM monitored_addresses WHERE user_id = $1 AND address = $2
	`, userID, address))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get monitored address: %w", err)
	}
	return addr, nil
}

// ToggleSetting flips one notification toggle and returns the updated row, or nil when not subscribed.
func (r *MonitoredAddressRepository) ToggleSetting(ctx context.Context, userID int64, address string, setting model.NotifySetting) (*model.MonitoredAddress, error) {
	if _, err := model.ParseNotifySetting(string(setting)); err != nil {
		return nil, err
	}

	// The column name comes from the closed NotifySetting set validated above.
	addr, err := scanMonitoredAddress(r.db.QueryRowContext(ctx, `
		UPDATE monitored_addresses SET `+string(setting)+` = NOT `+string(setting)+`
		WHERE user_id = $1 AND address = $2
		RETURNING `+monitoredAddressColumns, userID, address))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to toggle setting: %w", err)
	}
	return addr, nil
}

func (r *MonitoredAddressRepository) UpdateNickname(ctx context.Context, userID int64, address, nickname string) (*model.MonitoredAddress, error) {
	addr, err := scanMonitoredAddress(r.db.QueryRowContext(ctx, `
		UPDATE monitored_addresses SET nickname = $3
		WHERE user_id = $1 AND address = $2
		RETURNING `+monitoredAddressColumns, userID, address, nickname))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to update nickname: %w", err)
	}
	return addr, nil
}
