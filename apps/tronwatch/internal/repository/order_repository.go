package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"tronwatch/apps/tronwatch/internal/model"
)

const orderColumns = `order_id, user_id, chat_id, order_type, status, currency, expected_amount, paid_amount,
	payment_transfer_id, details, created_at, expires_at, paid_at, completed_at, fulfillment_attempts, last_error`

type OrderRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewOrderRepository(db *sql.DB, logger *zap.Logger) *OrderRepository {
	return &OrderRepository{db: db, logger: logger}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*model.Order, error) {
	var (
		order      model.Order
		paidAmount decimal.NullDecimal
		transferID sql.NullString
		details    []byte
		paidAt     sql.NullTime
		doneAt     sql.NullTime
		lastError  sql.NullString
	)
	err := row.Scan(&order.OrderID, &order.UserID, &order.ChatID, &order.OrderType, &order.Status, &order.Currency,
		&order.ExpectedAmount, &paidAmount, &transferID, &details, &order.CreatedAt, &order.ExpiresAt,
		&paidAt, &doneAt, &order.FulfillmentAttempts, &lastError)
	if err != nil {
		return nil, err
	}

	if paidAmount.Valid {
		order.PaidAmount = &paidAmount.Decimal
	}
	if transferID.Valid {
		order.PaymentTransferID = &transferID.String
	}
	if paidAt.Valid {
		order.PaidAt = &paidAt.Time
	}
	if doneAt.Valid {
		order.CompletedAt = &doneAt.Time
	}
	if lastError.Valid {
		order.LastError = &lastError.String
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &order.Details); err != nil {
			return nil, fmt.Errorf("failed to decode order details: %w", err)
		}
	}
	return &order, nil
}

func (r *OrderRepository) queryOrders(ctx context.Context, query string, args ...any) ([]model.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}
	return orders, nil
}

func (r *OrderRepository) CreateOrder(ctx context.Context, order model.Order) error {
	details, err := json.Marshal(orderDetails(order.Details))
	if err != nil {
		return fmt.Errorf("failed to encode order details: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO orders (order_id, user_id, chat_id, order_type, status, currency, expected_amount, details, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, order.OrderID, order.UserID, order.ChatID, order.OrderType, order.Status, order.Currency,
		order.ExpectedAmount, details, order.CreatedAt, order.ExpiresAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("order %s: %w", order.OrderID, model.ErrOrderExists)
	}
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	r.logger.Info("Created order",
		zap.String("order_id", order.OrderID),
		zap.String("order_type", string(order.OrderType)),
		zap.String("currency", order.Currency),
		zap.String("expected_amount", order.ExpectedAmount.String()))
	return nil
}

func (r *OrderRepository) GetOrderByID(ctx context.Context, orderID string) (*model.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = $1`, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get order by ID: %w", err)
	}
	return order, nil
}

func (r *OrderRepository) GetOrderByPaymentTransfer(ctx context.Context, transferID string) (*model.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_transfer_id = $1`, transferID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get order by payment transfer: %w", err)
	}
	return order, nil
}

// FindOpenOrder returns the newest unexpired pending order of the given type for a user.
func (r *OrderRepository) FindOpenOrder(ctx context.Context, userID int64, orderType model.OrderType, now time.Time) (*model.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1 AND order_type = $2 AND status = $3 AND expires_at > $4
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, orderType, model.OrderStatusPendingPayment, now))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find open order: %w", err)
	}
	return order, nil
}

// FindMatchingCandidates returns pending orders whose expected amount lies strictly within tolerance of amount,
// oldest first.
func (r *OrderRepository) FindMatchingCandidates(ctx context.Context, currency string, amount, tolerance decimal.Decimal) ([]model.Order, error) {
	orders, err := r.queryOrders(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = $1 AND currency = $2 AND ABS(expected_amount - $3) < $4
		ORDER BY created_at ASC, order_id ASC
	`, model.OrderStatusPendingPayment, currency, amount, tolerance)
	if err != nil {
		return nil, fmt.Errorf("failed to find matching candidates: %w", err)
	}
	return orders, nil
}

func (r *OrderRepository) ListOrdersByStatus(ctx context.Context, status model.OrderStatus, limit int) ([]model.Order, error) {
	orders, err := r.queryOrders(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = $1
		ORDER BY created_at ASC, order_id ASC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders by status: %w", err)
	}
	return orders, nil
}

// ExpireOrders moves every pending order past its deadline to EXPIRED and returns how many moved.
func (r *OrderRepository) ExpireOrders(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders SET status = $1
		WHERE status = ANY($2) AND expires_at < $3
	`, model.OrderStatusExpired, statusArray(model.SourcesOf(model.OrderStatusExpired)), now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire orders: %w", err)
	}
	return res.RowsAffected()
}

// MarkPaid settles a pending order with the given transfer. It returns false when the order was no
// longer pending, and ErrTransferAlreadyApplied when the transfer already settled another order.
func (r *OrderRepository) MarkPaid(ctx context.Context, orderID, transferID string, amount decimal.Decimal, paidAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, payment_transfer_id = $2, paid_amount = $3, paid_at = $4
		WHERE order_id = $5 AND status = ANY($6)
	`, model.OrderStatusPaid, transferID, amount, paidAt, orderID, statusArray(model.SourcesOf(model.OrderStatusPaid)))
	if err != nil {
		if isUniqueViolation(err) {
			return false, model.ErrTransferAlreadyApplied
		}
		return false, fmt.Errorf("failed to mark order paid: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read paid rows: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	r.logger.Info("Marked order paid", zap.String("order_id", orderID), zap.String("transfer_id", transferID))
	return true, nil
}

func (r *OrderRepository) MarkCompleted(ctx context.Context, orderID string, details map[string]any, attempts int, completedAt time.Time) error {
	patch, err := json.Marshal(orderDetails(details))
	if err != nil {
		return fmt.Errorf("failed to encode order details: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, details = details || $2::jsonb, fulfillment_attempts = $3, completed_at = $4, last_error = NULL
		WHERE order_id = $5 AND status = ANY($6)
	`, model.OrderStatusCompleted, patch, attempts, completedAt, orderID, statusArray(model.SourcesOf(model.OrderStatusCompleted)))
	if err != nil {
		return fmt.Errorf("failed to mark order completed: %w", err)
	}
	return expectOneRow(res, orderID)
}

func (r *OrderRepository) MarkFulfillmentFailed(ctx context.Context, orderID string, attempts int, lastError string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, fulfillment_attempts = $2, last_error = $3
		WHERE order_id = $4 AND status = ANY($5)
	`, model.OrderStatusFulfillmentFailed, attempts, lastError, orderID, statusArray(model.SourcesOf(model.OrderStatusFulfillmentFailed)))
	if err != nil {
		return fmt.Errorf("failed to mark order fulfillment failed: %w", err)
	}
	return expectOneRow(res, orderID)
}

// RecordFulfillmentAttempt stores the attempt number before the vendor is called.
func (r *OrderRepository) RecordFulfillmentAttempt(ctx context.Context, orderID string, attempts int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders SET fulfillment_attempts = $1 WHERE order_id = $2 AND status = ANY($3)
	`, attempts, orderID, statusArray(model.SourcesOf(model.OrderStatusCompleted)))
	if err != nil {
		return fmt.Errorf("failed to record fulfillment attempt: %w", err)
	}
	return expectOneRow(res, orderID)
}

func (r *OrderRepository) CancelOrder(ctx context.Context, orderID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders SET status = $1 WHERE order_id = $2 AND status = ANY($3)
	`, model.OrderStatusCanceled, orderID, statusArray(model.SourcesOf(model.OrderStatusCanceled)))
	if err != nil {
		return fmt.Errorf("failed to cancel order: %w", err)
	}
	return expectOneRow(res, orderID)
}

func (r *OrderRepository) UpdatePendingAmount(ctx context.Context, orderID, currency string, amount decimal.Decimal) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders SET currency = $1, expected_amount = $2 WHERE order_id = $3 AND status = $4
	`, currency, amount, orderID, model.OrderStatusPendingPayment)
	if err != nil {
		return fmt.Errorf("failed to update pending amount: %w", err)
	}
	return expectOneRow(res, orderID)
}

// statusArray binds the allowed source statuses of a guarded UPDATE as a Postgres text array.
func statusArray(statuses []model.OrderStatus) any {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return pq.Array(out)
}

func expectOneRow(res sql.Result, orderID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("order %s: %w", orderID, model.ErrInvalidTransition)
	}
	return nil
}

func orderDetails(details map[string]any) map[string]any {
	if details == nil {
		return map[string]any{}
	}
	return details
}
