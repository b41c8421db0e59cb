package fulfillment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"tronwatch/apps/tronwatch/internal/energy"
	"tronwatch/apps/tronwatch/internal/model"
	"tronwatch/apps/tronwatch/internal/repository/memory"
)

func paidOrder(t *testing.T, store *memory.Store, id string, orderType model.OrderType) model.Order {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	err := store.CreateOrder(ctx, model.Order{
		OrderID:        id,
		UserID:         1,
		ChatID:         1,
		OrderType:      orderType,
		Status:         model.OrderStatusPendingPayment,
		Currency:       "TRX",
		ExpectedAmount: decimal.RequireFromString("3.00123"),
		Details:        map[string]any{"receiver_address": "TReceiver", "size": 5},
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Minute),
	})
	if err != nil {
		t.Fatal(err)
	}
	if ok, err := store.MarkPaid(ctx, id, "tx-"+id, decimal.RequireFromString("3.00123"), now); !ok || err != nil {
		t.Fatalf("MarkPaid = %v, %v", ok, err)
	}
	order, _ := store.GetOrderByID(ctx, id)
	return *order
}

// flakyHandler fails the first n calls.
type flakyHandler struct {
	failures  int
	permanent bool
	calls     int
}

func (h *flakyHandler) Fulfill(context.Context, model.Order) (map[string]any, error) {
	h.calls++
	if h.calls <= h.failures {
		if h.permanent {
			return nil, Permanent(errors.New("receiver invalid"))
		}
		return nil, errors.New("vendor timeout")
	}
	return map[string]any{"delegate_txid": "hash"}, nil
}

func TestDispatch(t *testing.T) {
	tests := []struct {
		name       string
		handler    *flakyHandler
		wantStatus model.OrderStatus
		wantCalls  int
	}{
		{"first try", &flakyHandler{}, model.OrderStatusCompleted, 1},
		{"recovers on retry", &flakyHandler{failures: 2}, model.OrderStatusCompleted, 3},
		{"exhausted", &flakyHandler{failures: 5}, model.OrderStatusFulfillmentFailed, 3},
		{"permanent", &flakyHandler{failures: 1, permanent: true}, model.OrderStatusFulfillmentFailed, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			order := paidOrder(t, store, "o1", model.OrderTypeSpecialOffer)

			d := NewDispatcher(store, 3, time.Millisecond, zap.NewNop())
			d.Register(model.OrderTypeSpecialOffer, tt.handler)

			result, err := d.Dispatch(context.Background(), order)
			if err != nil {
				t.Fatal(err)
			}
			if tt.handler.calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", tt.handler.calls, tt.wantCalls)
			}

			stored, _ := store.GetOrderByID(context.Background(), "o1")
			if stored.Status != tt.wantStatus || result.Order.Status != tt.wantStatus {
				t.Errorf("status stored=%s result=%s, want %s", stored.Status, result.Order.Status, tt.wantStatus)
			}
			if stored.FulfillmentAttempts != tt.wantCalls {
				t.Errorf("attempts = %d, want %d", stored.FulfillmentAttempts, tt.wantCalls)
			}
			if tt.wantStatus == model.OrderStatusCompleted {
				if stored.DetailString("delegate_txid") != "hash" || stored.DetailString("receiver_address") != "TReceiver" {
					t.Errorf("details = %v", stored.Details)
				}
			} else if stored.LastError == nil || result.Err == nil {
				t.Error("failed order should record its last error")
			}
		})
	}
}

func TestDispatchWithoutHandlerDeadLetters(t *testing.T) {
	store := memory.New()
	order := paidOrder(t, store, "o1", model.OrderTypeSmartTRX)

	result, err := NewDispatcher(store, 3, time.Millisecond, zap.NewNop()).Dispatch(context.Background(), order)
	if err != nil {
		t.Fatal(err)
	}
	if result.Success || result.Order.Status != model.OrderStatusFulfillmentFailed {
		t.Errorf("result = %+v", result)
	}
}

func TestRedrive(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	order := paidOrder(t, store, "o1", model.OrderTypeSpecialOffer)
	handler := &flakyHandler{failures: 3}

	d := NewDispatcher(store, 3, time.Millisecond, zap.NewNop())
	d.Register(model.OrderTypeSpecialOffer, handler)

	if _, err := d.Redrive(ctx, "o1"); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("redrive of PAID order err = %v", err)
	}

	d.Dispatch(ctx, order)
	result, err := d.Redrive(ctx, "o1")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success || result.Order.FulfillmentAttempts != 4 {
		t.Errorf("redrive result = %+v", result)
	}

	if _, err := d.Redrive(ctx, "missing"); !errors.Is(err, model.ErrOrderNotFound) {
		t.Errorf("missing order err = %v", err)
	}
}

// brokenStore fails the configured writes the way a dropped database connection would.
type brokenStore struct {
	*memory.Store
	failAttempt  bool
	failComplete bool
}

func (s *brokenStore) RecordFulfillmentAttempt(ctx context.Context, orderID string, attempts int) error {
	if s.failAttempt {
		return errors.New("connection reset")
	}
	return s.Store.RecordFulfillmentAttempt(ctx, orderID, attempts)
}

func (s *brokenStore) MarkCompleted(ctx context.Context, orderID string, details map[string]any, attempts int, completedAt time.Time) error {
	if s.failComplete {
		return errors.New("connection reset")
	}
	return s.Store.MarkCompleted(ctx, orderID, details, attempts, completedAt)
}

func TestDispatchSkipsVendorWhenAttemptNotStored(t *testing.T) {
	store := &brokenStore{Store: memory.New(), failAttempt: true}
	order := paidOrder(t, store.Store, "o1", model.OrderTypeSpecialOffer)
	handler := &flakyHandler{}

	d := NewDispatcher(store, 3, time.Millisecond, zap.NewNop())
	d.Register(model.OrderTypeSpecialOffer, handler)

	if _, err := d.Dispatch(context.Background(), order); err == nil {
		t.Fatal("expected error")
	}
	if handler.calls != 0 {
		t.Errorf("vendor called %d times without a stored attempt", handler.calls)
	}
	stored, _ := store.GetOrderByID(context.Background(), "o1")
	if stored.Status != model.OrderStatusPaid || stored.FulfillmentAttempts != 0 {
		t.Errorf("order = %s with %d attempts, want PAID with 0", stored.Status, stored.FulfillmentAttempts)
	}
}

func TestResume(t *testing.T) {
	ctx := context.Background()

	t.Run("never attempted order is dispatched", func(t *testing.T) {
		store := memory.New()
		order := paidOrder(t, store, "o1", model.OrderTypeSpecialOffer)
		handler := &flakyHandler{}
		d := NewDispatcher(store, 3, time.Millisecond, zap.NewNop())
		d.Register(model.OrderTypeSpecialOffer, handler)

		result, err := d.Resume(ctx, order)
		if err != nil || !result.Success || handler.calls != 1 {
			t.Errorf("resume = %+v, %v after %d calls", result, err, handler.calls)
		}
	})

	t.Run("lost outcome is dead-lettered without a second vendor call", func(t *testing.T) {
		store := &brokenStore{Store: memory.New(), failComplete: true}
		order := paidOrder(t, store.Store, "o1", model.OrderTypeSpecialOffer)
		handler := &flakyHandler{}
		d := NewDispatcher(store, 3, time.Millisecond, zap.NewNop())
		d.Register(model.OrderTypeSpecialOffer, handler)

		if _, err := d.Dispatch(ctx, order); err == nil {
			t.Fatal("expected outcome write to fail")
		}
		left, _ := store.GetOrderByID(ctx, "o1")
		if left.Status != model.OrderStatusPaid || left.FulfillmentAttempts != 1 {
			t.Fatalf("order = %s with %d attempts, want PAID with 1", left.Status, left.FulfillmentAttempts)
		}

		store.failComplete = false
		result, err := d.Resume(ctx, *left)
		if err != nil {
			t.Fatal(err)
		}
		if handler.calls != 1 {
			t.Errorf("vendor calls = %d, want 1", handler.calls)
		}
		if result.Success || !errors.Is(result.Err, errOutcomeUnknown) {
			t.Errorf("result = %+v", result)
		}
		stored, _ := store.GetOrderByID(ctx, "o1")
		if stored.Status != model.OrderStatusFulfillmentFailed || stored.FulfillmentAttempts != 1 {
			t.Errorf("order = %s with %d attempts, want dead letter with 1", stored.Status, stored.FulfillmentAttempts)
		}
	})
}

type fakeResolver struct {
	sender string
	err    error
}

func (f fakeResolver) ResolveSender(context.Context, string) (string, bool, error) {
	return f.sender, f.sender != "", f.err
}

type fakeRenter struct {
	hash     string
	err      error
	receiver string
}

func (f *fakeRenter) Rent(_ context.Context, receiver string) (string, error) {
	f.receiver = receiver
	return f.hash, f.err
}

func TestSpecialOfferHandler(t *testing.T) {
	transfer := "tx1"
	order := model.Order{OrderID: "o1", PaymentTransferID: &transfer}

	tests := []struct {
		name          string
		resolver      fakeResolver
		renter        *fakeRenter
		dryRun        bool
		order         model.Order
		wantErr       bool
		wantPermanent bool
		wantTxID      string
	}{
		{name: "rents to payer", resolver: fakeResolver{sender: "TPayer"}, renter: &fakeRenter{hash: "h1"}, order: order, wantTxID: "h1"},
		{name: "dry run", resolver: fakeResolver{sender: "TPayer"}, renter: &fakeRenter{}, dryRun: true, order: order},
		{name: "no transfer", resolver: fakeResolver{sender: "TPayer"}, renter: &fakeRenter{}, order: model.Order{OrderID: "o2"}, wantErr: true, wantPermanent: true},
		{name: "unknown payer", resolver: fakeResolver{}, renter: &fakeRenter{}, order: order, wantErr: true, wantPermanent: true},
		{name: "chain error", resolver: fakeResolver{err: errors.New("timeout")}, renter: &fakeRenter{}, order: order, wantErr: true},
		{name: "vendor rejects", resolver: fakeResolver{sender: "TPayer"}, renter: &fakeRenter{err: &energy.RejectedError{Code: 0, Msg: "no stock"}}, order: order, wantErr: true, wantPermanent: true},
		{name: "vendor unreachable", resolver: fakeResolver{sender: "TPayer"}, renter: &fakeRenter{err: errors.New("dial tcp")}, order: order, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewSpecialOfferHandler(tt.resolver, tt.renter, tt.dryRun, zap.NewNop())
			details, err := h.Fulfill(context.Background(), tt.order)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if IsPermanent(err) != tt.wantPermanent {
				t.Errorf("IsPermanent = %v, want %v", IsPermanent(err), tt.wantPermanent)
			}
			if err != nil {
				return
			}
			if details["receiver_address"] != "TPayer" {
				t.Errorf("details = %v", details)
			}
			if tt.dryRun {
				if tt.renter.receiver != "" {
					t.Error("dry run must not call the vendor")
				}
				return
			}
			if details["delegate_txid"] != tt.wantTxID || tt.renter.receiver != "TPayer" {
				t.Errorf("details = %v, renter receiver = %s", details, tt.renter.receiver)
			}
		})
	}
}

func TestWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := withRetry(ctx, 5, time.Hour, func(context.Context) error {
		calls++
		cancel()
		return errors.New("fail")
	})
	if calls != 1 || !errors.Is(err, context.Canceled) {
		t.Errorf("calls = %d, err = %v", calls, err)
	}
}
