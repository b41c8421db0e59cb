package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"tronwatch/apps/tronwatch/internal/events"
	"tronwatch/apps/tronwatch/internal/model"
	"tronwatch/apps/tronwatch/internal/repository/memory"
)

func TestBalanceChangeIsKeyedPerTransferAndSubscriber(t *testing.T) {
	store := memory.New()
	n := New(store, zap.NewNop())
	ctx := context.Background()

	tr := model.Transfer{ID: "tx1", From: "TFrom", To: "TA", Asset: "TRX", Amount: decimal.RequireFromString("1.5"), Timestamp: 1_050_000}
	alice := model.NewMonitoredAddress(1, "TA", "wallet")
	bob := model.NewMonitoredAddress(2, "TA", "")

	for i := 0; i < 2; i++ {
		if err := n.NotifyBalanceChange(ctx, alice, model.DirectionIncoming, tr, nil); err != nil {
			t.Fatal(err)
		}
	}
	if err := n.NotifyBalanceChange(ctx, bob, model.DirectionIncoming, tr, nil); err != nil {
		t.Fatal(err)
	}

	stored := store.OutboxEvents()
	if len(stored) != 2 {
		t.Fatalf("stored %d events, want 2", len(stored))
	}
	if stored[0].EventKey != "balance_change:tx1:1:TA" || stored[0].RecipientID != 1 {
		t.Errorf("first event = %+v", stored[0])
	}

	var payload events.BalanceChangeEvent
	if err := json.Unmarshal(stored[0].EventBlob, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Amount != "1.5" || payload.Direction != model.DirectionIncoming || payload.Nickname != "wallet" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestFulfillmentResultKeyedByAttempt(t *testing.T) {
	store := memory.New()
	n := New(store, zap.NewNop())
	ctx := context.Background()

	order := model.Order{OrderID: "o1", ChatID: 9, FulfillmentAttempts: 3}
	n.NotifyFulfillmentResult(ctx, order, false, nil, errors.New("vendor down"))
	order.FulfillmentAttempts = 4
	n.NotifyFulfillmentResult(ctx, order, true, map[string]any{"delegate_txid": "abc"}, nil)

	stored := store.OutboxEvents()
	if len(stored) != 2 {
		t.Fatalf("stored %d events, want 2", len(stored))
	}

	var failed events.FulfillmentResultEvent
	json.Unmarshal(stored[0].EventBlob, &failed)
	if failed.Success || !failed.Partial || failed.Error != "vendor down" || stored[0].RecipientID != 9 {
		t.Errorf("failed result = %+v", failed)
	}
}

func TestPaymentConfirmedOncePerOrder(t *testing.T) {
	store := memory.New()
	n := New(store, zap.NewNop())
	ctx := context.Background()

	paid := decimal.RequireFromString("10.00037")
	transfer := "tx1"
	at := time.Unix(1050, 0)
	order := model.Order{OrderID: "o1", ChatID: 5, ExpectedAmount: paid, PaidAmount: &paid, PaymentTransferID: &transfer, PaidAt: &at}

	n.NotifyPaymentConfirmed(ctx, order)
	n.NotifyPaymentConfirmed(ctx, order)

	stored := store.OutboxEvents()
	if len(stored) != 1 || stored[0].EventKey != "payment_confirmed:o1" {
		t.Fatalf("stored = %+v", stored)
	}
	var ev events.PaymentConfirmedEvent
	json.Unmarshal(stored[0].EventBlob, &ev)
	if ev.TransferID != "tx1" || ev.PaidAmount != "10.00037" {
		t.Errorf("event = %+v", ev)
	}
}
