package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"tronwatch/apps/tronwatch/internal/fulfillment"
	"tronwatch/apps/tronwatch/internal/model"
	"tronwatch/apps/tronwatch/internal/orders"
)

type OrderService interface {
	RecordOrder(ctx context.Context, order model.Order) error
	CreateSpecialOffer(ctx context.Context, userID, chatID int64) (*model.Order, bool, error)
	CreateSmartOrder(ctx context.Context, userID, chatID int64, size int, receiver, currency string) (*model.Order, error)
	SwitchCurrency(ctx context.Context, orderID, currency string) (*model.Order, error)
	Cancel(ctx context.Context, orderID string) error
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
}

type Redriver interface {
	Redrive(ctx context.Context, orderID string) (fulfillment.Result, error)
}

type ResultNotifier interface {
	NotifyFulfillmentResult(ctx context.Context, order model.Order, success bool, details map[string]any, cause error) error
}

// OrderHandler handles order-related API endpoints
type OrderHandler struct {
	orders   OrderService
	redriver Redriver
	notifier ResultNotifier
	now      func() time.Time
	logger   *zap.Logger
}

func NewOrderHandler(orders OrderService, redriver Redriver, notifier ResultNotifier, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		orders:   orders,
		redriver: redriver,
		notifier: notifier,
		now:      time.Now,
		logger:   logger,
	}
}

// RecordOrder handles POST /api/orders
func (h *OrderHandler) RecordOrder(w http.ResponseWriter, r *http.Request) {
	var req RecordOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "invalid_request_body", "Invalid JSON in request body")
		return
	}

	order := model.Order{
		OrderID:        req.OrderID,
		UserID:         req.UserID,
		ChatID:         req.ChatID,
		OrderType:      model.OrderType(strings.ToUpper(string(req.OrderType))),
		Status:         model.OrderStatusPendingPayment,
		Currency:       strings.ToUpper(req.Currency),
		ExpectedAmount: req.ExpectedAmount,
		Details:        req.Details,
		CreatedAt:      h.now().UTC(),
		ExpiresAt:      req.ExpiresAt.UTC(),
	}
	if err := h.orders.RecordOrder(r.Context(), order); err != nil {
		h.writeOrderError(w, "Failed to record order", err)
		return
	}

	writeJSONResponse(w, h.logger, http.StatusCreated, newOrderResponse(order))
}

// CreateSpecialOffer handles POST /api/orders/special-offer. An open offer for the same user is returned
// with 200 instead of creating a second one.
func (h *OrderHandler) CreateSpecialOffer(w http.ResponseWriter, r *http.Request) {
	var req SpecialOfferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "invalid_request_body", "Invalid JSON in request body")
		return
	}
	if req.UserID == 0 {
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "missing_user_id", "User ID is required")
		return
	}

	order, reused, err := h.orders.CreateSpecialOffer(r.Context(), req.UserID, req.ChatID)
	if err != nil {
		h.writeOrderError(w, "Failed to create special offer", err)
		return
	}

	resp := newOrderResponse(*order)
	resp.Reused = reused
	status := http.StatusCreated
	if reused {
		status = http.StatusOK
	}
	writeJSONResponse(w, h.logger, status, resp)
}

// CreateSmartOrder handles POST /api/orders/smart
func (h *OrderHandler) CreateSmartOrder(w http.ResponseWriter, r *http.Request) {
	var req SmartOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "invalid_request_body", "Invalid JSON in request body")
		return
	}
	if req.UserID == 0 {
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "missing_user_id", "User ID is required")
		return
	}

	order, err := h.orders.CreateSmartOrder(r.Context(), req.UserID, req.ChatID, req.Size, req.ReceiverAddress, strings.ToUpper(req.Currency))
	if err != nil {
		h.writeOrderError(w, "Failed to create smart order", err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusCreated, newOrderResponse(*order))
}

// GetOrder handles GET /api/orders/{order_id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.GetOrder(r.Context(), mux.Vars(r)["order_id"])
	if err != nil {
		h.writeOrderError(w, "Failed to get order", err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusOK, newOrderResponse(*order))
}

// CancelOrder handles POST /api/orders/{order_id}/cancel
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["order_id"]
	if err := h.orders.Cancel(r.Context(), orderID); err != nil {
		h.writeOrderError(w, "Failed to cancel order", err)
		return
	}

	order, err := h.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeOrderError(w, "Failed to get order", err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusOK, newOrderResponse(*order))
}

// SwitchCurrency handles POST /api/orders/{order_id}/currency
func (h *OrderHandler) SwitchCurrency(w http.ResponseWriter, r *http.Request) {
	var req SwitchCurrencyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "invalid_request_body", "Invalid JSON in request body")
		return
	}

	order, err := h.orders.SwitchCurrency(r.Context(), mux.Vars(r)["order_id"], strings.ToUpper(req.Currency))
	if err != nil {
		h.writeOrderError(w, "Failed to switch currency", err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusOK, newOrderResponse(*order))
}

// Redrive handles POST /api/orders/{order_id}/fulfill for orders in FULFILLMENT_FAILED.
func (h *OrderHandler) Redrive(w http.ResponseWriter, r *http.Request) {
	result, err := h.redriver.Redrive(r.Context(), mux.Vars(r)["order_id"])
	if err != nil {
		h.writeOrderError(w, "Failed to redrive order", err)
		return
	}

	if err := h.notifier.NotifyFulfillmentResult(r.Context(), result.Order, result.Success, result.Details, result.Err); err != nil {
		h.logger.Error("Failed to notify fulfillment result", zap.String("order_id", result.Order.OrderID), zap.Error(err))
	}

	resp := FulfillmentResponse{
		Order:   newOrderResponse(result.Order),
		Success: result.Success,
		Details: result.Details,
	}
	if result.Err != nil {
		resp.Error = result.Err.Error()
	}
	writeJSONResponse(w, h.logger, http.StatusOK, resp)
}

func (h *OrderHandler) writeOrderError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, model.ErrOrderNotFound):
		writeErrorResponse(w, h.logger, http.StatusNotFound, "order_not_found", "Order not found")
	case errors.Is(err, orders.ErrInvalidOrder), errors.Is(err, orders.ErrUnsupportedSwitch):
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "invalid_order", err.Error())
	case errors.Is(err, model.ErrInvalidTransition):
		writeErrorResponse(w, h.logger, http.StatusConflict, "invalid_status", err.Error())
	case errors.Is(err, model.ErrOrderExists):
		writeErrorResponse(w, h.logger, http.StatusConflict, "order_exists", err.Error())
	case errors.Is(err, orders.ErrNoDistinctAmount):
		writeErrorResponse(w, h.logger, http.StatusServiceUnavailable, "amount_unavailable", "Too many pending orders, try again shortly")
	default:
		h.logger.Error(msg, zap.Error(err))
		writeErrorResponse(w, h.logger, http.StatusInternalServerError, "internal_error", msg)
	}
}
