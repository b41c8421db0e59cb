package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"go.uber.org/zap"
	"tronwatch/apps/tronwatch/internal/metrics"
	"tronwatch/apps/tronwatch/internal/model"
)

// Handler delivers what an order paid for and returns details to merge into the order.
type Handler interface {
	Fulfill(ctx context.Context, order model.Order) (map[string]any, error)
}

type HandlerFunc func(ctx context.Context, order model.Order) (map[string]any, error)

func (f HandlerFunc) Fulfill(ctx context.Context, order model.Order) (map[string]any, error) {
	return f(ctx, order)
}

type OrderStore interface {
	GetOrderByID(ctx context.Context, orderID string) (*model.Order, error)
	ListOrdersByStatus(ctx context.Context, status model.OrderStatus, limit int) ([]model.Order, error)
	MarkCompleted(ctx context.Context, orderID string, details map[string]any, attempts int, completedAt time.Time) error
	MarkFulfillmentFailed(ctx context.Context, orderID string, attempts int, lastError string) error
	RecordFulfillmentAttempt(ctx context.Context, orderID string, attempts int) error
}

// errOutcomeUnknown marks an order whose last attempt started but never had its outcome stored.
var errOutcomeUnknown = errors.New("fulfillment outcome unknown, check the vendor before redriving")

type Result struct {
	Order   model.Order
	Success bool
	Details map[string]any
	Err     error
}

type Dispatcher struct {
	orders      OrderStore
	handlers    map[model.OrderType]Handler
	maxAttempts int
	baseDelay   time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

func NewDispatcher(orders OrderStore, maxAttempts int, baseDelay time.Duration, logger *zap.Logger) *Dispatcher {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Dispatcher{
		orders:      orders,
		handlers:    make(map[model.OrderType]Handler),
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		now:         time.Now,
		logger:      logger,
	}
}

func (d *Dispatcher) Register(orderType model.OrderType, h Handler) {
	d.handlers[orderType] = h
}

// Dispatch fulfills a PAID order with bounded retries. The order ends COMPLETED on success and
// FULFILLMENT_FAILED otherwise. Each attempt is stored before the handler runs, so an order left PAID with
// attempts recorded is never dispatched again automatically. The returned error is only set when the
// attempt or the outcome could not be stored.
func (d *Dispatcher) Dispatch(ctx context.Context, order model.Order) (Result, error) {
	logger := d.logger.With(zap.String("order_id", order.OrderID), zap.String("order_type", string(order.OrderType)))

	handler, ok := d.handlers[order.OrderType]
	attempts := order.FulfillmentAttempts
	var details map[string]any

	var runErr, claimErr error
	if !ok {
		attempts++
		runErr = fmt.Errorf("no fulfillment handler for order type %s", order.OrderType)
	} else {
		runErr = withRetry(ctx, d.maxAttempts-1, d.baseDelay, func(ctx context.Context) error {
			if err := d.orders.RecordFulfillmentAttempt(ctx, order.OrderID, attempts+1); err != nil {
				claimErr = err
				return Permanent(err)
			}
			attempts++
			out, err := handler.Fulfill(ctx, order)
			if err != nil {
				logger.Warn("Fulfillment attempt failed", zap.Int("attempt", attempts), zap.Error(err))
				return err
			}
			details = out
			return nil
		})
	}

	if claimErr != nil {
		return Result{}, fmt.Errorf("failed to record fulfillment attempt %d: %w", attempts+1, claimErr)
	}

	// The outcome is stored even when ctx was cancelled mid-retry so the order does not stay PAID.
	storeCtx := context.WithoutCancel(ctx)
	now := d.now()

	if runErr != nil {
		metrics.FulfillmentResults.WithLabelValues(string(order.OrderType), "failed").Inc()
		if err := d.orders.MarkFulfillmentFailed(storeCtx, order.OrderID, attempts, runErr.Error()); err != nil {
			return Result{}, fmt.Errorf("failed to record fulfillment failure: %w", err)
		}
		logger.Error("Order moved to dead letter", zap.Int("attempts", attempts), zap.Error(runErr))

		lastErr := runErr.Error()
		order.Status = model.OrderStatusFulfillmentFailed
		order.FulfillmentAttempts = attempts
		order.LastError = &lastErr
		return Result{Order: order, Success: false, Err: runErr}, nil
	}

	if err := d.orders.MarkCompleted(storeCtx, order.OrderID, details, attempts, now); err != nil {
		return Result{}, fmt.Errorf("failed to record fulfillment success: %w", err)
	}
	metrics.FulfillmentResults.WithLabelValues(string(order.OrderType), "completed").Inc()
	logger.Info("Order fulfilled", zap.Int("attempts", attempts))

	order.Details = maps.Clone(order.Details)
	if order.Details == nil {
		order.Details = make(map[string]any, len(details))
	}
	maps.Copy(order.Details, details)
	order.Status = model.OrderStatusCompleted
	order.FulfillmentAttempts = attempts
	order.CompletedAt = &now
	order.LastError = nil
	return Result{Order: order, Success: true, Details: details}, nil
}

// Redrive re-runs fulfillment for a dead-lettered order.
func (d *Dispatcher) Redrive(ctx context.Context, orderID string) (Result, error) {
	order, err := d.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return Result{}, err
	}
	if order == nil {
		return Result{}, fmt.Errorf("order %s: %w", orderID, model.ErrOrderNotFound)
	}
	if order.Status != model.OrderStatusFulfillmentFailed {
		return Result{}, fmt.Errorf("order %s is %s: %w", orderID, order.Status, model.ErrInvalidTransition)
	}

	d.logger.Info("Redriving order", zap.String("order_id", orderID), zap.Int("previous_attempts", order.FulfillmentAttempts))
	return d.Dispatch(ctx, *order)
}

// Resume handles an order found PAID outside settlement, e.g. after a crash or a failed outcome write.
// Orders that never reached the handler are dispatched. Orders with a recorded attempt may already have
// been delivered, so they are dead-lettered for a manual redrive instead.
func (d *Dispatcher) Resume(ctx context.Context, order model.Order) (Result, error) {
	if order.FulfillmentAttempts == 0 {
		return d.Dispatch(ctx, order)
	}

	if err := d.orders.MarkFulfillmentFailed(context.WithoutCancel(ctx), order.OrderID, order.FulfillmentAttempts, errOutcomeUnknown.Error()); err != nil {
		return Result{}, fmt.Errorf("failed to dead-letter order: %w", err)
	}
	metrics.FulfillmentResults.WithLabelValues(string(order.OrderType), "unknown").Inc()
	d.logger.Warn("Order left paid after a started attempt, moved to dead letter",
		zap.String("order_id", order.OrderID), zap.Int("attempts", order.FulfillmentAttempts))

	lastErr := errOutcomeUnknown.Error()
	order.Status = model.OrderStatusFulfillmentFailed
	order.LastError = &lastErr
	return Result{Order: order, Success: false, Err: errOutcomeUnknown}, nil
}

// PendingFulfillment returns orders left PAID, e.g. by a crash between settlement and fulfillment.
func (d *Dispatcher) PendingFulfillment(ctx context.Context, limit int) ([]model.Order, error) {
	return d.orders.ListOrdersByStatus(ctx, model.OrderStatusPaid, limit)
}
