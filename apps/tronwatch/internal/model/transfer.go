package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transfer is a native or token transfer observed on chain. It is never persisted.
type Transfer struct {
	ID        string          `json:"transfer_id"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Asset     string          `json:"asset"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp int64           `json:"timestamp"` // milliseconds
}

func (t Transfer) Time() time.Time {
	return time.UnixMilli(t.Timestamp)
}

// Endpoints returns the distinct addresses touched by the transfer.
func (t Transfer) Endpoints() []string {
	if t.From == t.To {
		return []string{t.To}
	}
	return []string{t.From, t.To}
}

// TransferBatch is the result of one transfer query, oldest first. A truncated batch stopped before the end of
// the chain's history; it holds nothing newer than Through, and rows at Through itself may be incomplete.
type TransferBatch struct {
	Transfers []Transfer
	Truncated bool
	Through   int64
}

type AccountSnapshot struct {
	Address         string          `json:"address"`
	TRXBalance      decimal.Decimal `json:"trx_balance"`
	USDTBalance     decimal.Decimal `json:"usdt_balance"`
	EnergyLimit     int64           `json:"energy_limit"`
	EnergyUsed      int64           `json:"energy_used"`
	NetLimit        int64           `json:"net_limit"`
	NetUsed         int64           `json:"net_used"`
	TotalStaked     decimal.Decimal `json:"total_staked"`
	CreatedAt       time.Time       `json:"created_at"`
	LastOperationAt time.Time       `json:"last_operation_at"`
}
