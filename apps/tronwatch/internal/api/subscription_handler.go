package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"tronwatch/apps/tronwatch/internal/model"
	"tronwatch/apps/tronwatch/internal/tron"
)

const maxNicknameLength = 64

type SubscriptionStore interface {
	AddMonitoredAddress(ctx context.Context, addr model.MonitoredAddress) (*model.MonitoredAddress, bool, error)
	RemoveMonitoredAddress(ctx context.Context, userID int64, address string) (bool, error)
	ListWatchedAddresses(ctx context.Context) ([]string, error)
	ListSubscribersOf(ctx context.Context, address string) ([]model.MonitoredAddress, error)
	ListByUser(ctx context.Context, userID int64) ([]model.MonitoredAddress, error)
	ToggleSetting(ctx context.Context, userID int64, address string, setting model.NotifySetting) (*model.MonitoredAddress, error)
	UpdateNickname(ctx context.Context, userID int64, address, nickname string) (*model.MonitoredAddress, error)
}

type SubscriptionHandler struct {
	store  SubscriptionStore
	logger *zap.Logger
}

func NewSubscriptionHandler(store SubscriptionStore, logger *zap.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{store: store, logger: logger}
}

// Subscribe handles POST /api/subscriptions. Subscribing twice only updates the nickname.
func (h *SubscriptionHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "invalid_request_body", "Invalid JSON in request body")
		return
	}
	if req.UserID == 0 {
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "missing_user_id", "User ID is required")
		return
	}
	address, err := tron.NormalizeAddress(req.Address)
	if err != nil {
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "invalid_address", "Address is not a valid TRON address")
		return
	}
	nickname, ok := cleanNickname(req.Nickname)
	if !ok {
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "invalid_nickname", "Nickname is too long")
		return
	}

	sub, created, err := h.store.AddMonitoredAddress(r.Context(), model.NewMonitoredAddress(req.UserID, address, nickname))
	if err != nil {
		h.logger.Error("Failed to add monitored address", zap.Int64("user_id", req.UserID), zap.Error(err))
		writeErrorResponse(w, h.logger, http.StatusInternalServerError, "database_error", "Failed to add subscription")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSONResponse(w, h.logger, status, SubscriptionResponse{MonitoredAddress: *sub, Created: created})
}

// ListByUser handles GET /api/users/{user_id}/subscriptions
func (h *SubscriptionHandler) ListByUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	subs, err := h.store.ListByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to list subscriptions", zap.Int64("user_id", userID), zap.Error(err))
		writeErrorResponse(w, h.logger, http.StatusInternalServerError, "database_error", "Failed to list subscriptions")
		return
	}
	if subs == nil {
		subs = []model.MonitoredAddress{}
	}
	writeJSONResponse(w, h.logger, http.StatusOK, subs)
}

// Unsubscribe handles DELETE /api/users/{user_id}/subscriptions/{address}
func (h *SubscriptionHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	userID, address, ok := h.subscriptionKey(w, r)
	if !ok {
		return
	}

	removed, err := h.store.RemoveMonitoredAddress(r.Context(), userID, address)
	if err != nil {
		h.logger.Error("Failed to remove subscription", zap.Int64("user_id", userID), zap.Error(err))
		writeErrorResponse(w, h.logger, http.StatusInternalServerError, "database_error", "Failed to remove subscription")
		return
	}
	if !removed {
		writeErrorResponse(w, h.logger, http.StatusNotFound, "subscription_not_found", "Subscription not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Toggle handles POST /api/users/{user_id}/subscriptions/{address}/toggle
func (h *SubscriptionHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	userID, address, ok := h.subscriptionKey(w, r)
	if !ok {
		return
	}
	var req ToggleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "invalid_request_body", "Invalid JSON in request body")
		return
	}
	setting, err := model.ParseNotifySetting(req.Setting)
	if err != nil {
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "invalid_setting", err.Error())
		return
	}

	sub, err := h.store.ToggleSetting(r.Context(), userID, address, setting)
	h.writeSubscription(w, sub, err)
}

// Rename handles PUT /api/users/{user_id}/subscriptions/{address}/nickname
func (h *SubscriptionHandler) Rename(w http.ResponseWriter, r *http.Request) {
	userID, address, ok := h.subscriptionKey(w, r)
	if !ok {
		return
	}
	var req NicknameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "invalid_request_body", "Invalid JSON in request body")
		return
	}
	nickname, valid := cleanNickname(req.Nickname)
	if !valid {
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "invalid_nickname", "Nickname is too long")
		return
	}

	sub, err := h.store.UpdateNickname(r.Context(), userID, address, nickname)
	h.writeSubscription(w, sub, err)
}

// ListWatched handles GET /api/watched-addresses
func (h *SubscriptionHandler) ListWatched(w http.ResponseWriter, r *http.Request) {
	addresses, err := h.store.ListWatchedAddresses(r.Context())
	if err != nil {
		h.logger.Error("Failed to list watched addresses", zap.Error(err))
		writeErrorResponse(w, h.logger, http.StatusInternalServerError, "database_error", "Failed to list watched addresses")
		return
	}
	if addresses == nil {
		addresses = []string{}
	}
	writeJSONResponse(w, h.logger, http.StatusOK, addresses)
}

// ListSubscribers handles GET /api/watched-addresses/{address}/subscribers
func (h *SubscriptionHandler) ListSubscribers(w http.ResponseWriter, r *http.Request) {
	address, err := tron.NormalizeAddress(mux.Vars(r)["address"])
	if err != nil {
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "invalid_address", "Address is not a valid TRON address")
		return
	}

	subs, err := h.store.ListSubscribersOf(r.Context(), address)
	if err != nil {
		h.logger.Error("Failed to list subscribers", zap.String("address", address), zap.Error(err))
		writeErrorResponse(w, h.logger, http.StatusInternalServerError, "database_error", "Failed to list subscribers")
		return
	}
	if subs == nil {
		subs = []model.MonitoredAddress{}
	}
	writeJSONResponse(w, h.logger, http.StatusOK, subs)
}

func (h *SubscriptionHandler) writeSubscription(w http.ResponseWriter, sub *model.MonitoredAddress, err error) {
	if err != nil {
		h.logger.Error("Failed to update subscription", zap.Error(err))
		writeErrorResponse(w, h.logger, http.StatusInternalServerError, "database_error", "Failed to update subscription")
		return
	}
	if sub == nil {
		writeErrorResponse(w, h.logger, http.StatusNotFound, "subscription_not_found", "Subscription not found")
		return
	}
	writeJSONResponse(w, h.logger, http.StatusOK, SubscriptionResponse{MonitoredAddress: *sub})
}

func (h *SubscriptionHandler) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, err := strconv.ParseInt(mux.Vars(r)["user_id"], 10, 64)
	if err != nil || userID == 0 {
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "invalid_user_id", "User ID must be a non-zero integer")
		return 0, false
	}
	return userID, true
}

func (h *SubscriptionHandler) subscriptionKey(w http.ResponseWriter, r *http.Request) (int64, string, bool) {
	userID, ok := h.userID(w, r)
	if !ok {
		return 0, "", false
	}
	address, err := tron.NormalizeAddress(mux.Vars(r)["address"])
	if err != nil {
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "invalid_address", "Address is not a valid TRON address")
		return 0, "", false
	}
	return userID, address, true
}

func cleanNickname(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, len([]rune(s)) <= maxNicknameLength
}
