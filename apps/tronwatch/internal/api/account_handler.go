package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"tronwatch/apps/tronwatch/internal/model"
	"tronwatch/apps/tronwatch/internal/tron"
)

type AccountSource interface {
	AccountSnapshot(ctx context.Context, address string) (*model.AccountSnapshot, error)
}

type AccountHandler struct {
	accounts AccountSource
	logger   *zap.Logger
}

func NewAccountHandler(accounts AccountSource, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, logger: logger}
}

// GetAccount handles GET /api/accounts/{address}
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	address, err := tron.NormalizeAddress(mux.Vars(r)["address"])
	if err != nil {
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "invalid_address", "Address is not a valid TRON address")
		return
	}

	snapshot, err := h.accounts.AccountSnapshot(r.Context(), address)
	if err != nil {
		h.logger.Error("Failed to fetch account", zap.String("address", address), zap.Error(err))
		writeErrorResponse(w, h.logger, http.StatusBadGateway, "chain_error", "Failed to fetch account from chain")
		return
	}
	if snapshot == nil {
		writeErrorResponse(w, h.logger, http.StatusNotFound, "account_not_found", "Account not activated on chain")
		return
	}
	writeJSONResponse(w, h.logger, http.StatusOK, snapshot)
}
