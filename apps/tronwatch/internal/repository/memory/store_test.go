package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"tronwatch/apps/tronwatch/internal/model"
)

var baseTime = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func TestEnsureConcurrentCreatesOneRow(t *testing.T) {
	store := New()
	ctx := context.Background()

	const workers = 32
	outcomes := make([]model.EnsureOutcome, workers)
	states := make([]*model.WatermarkState, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			state, outcome, err := store.Ensure(ctx, "TAddr", int64(1000+i))
			if err != nil {
				t.Errorf("Ensure: %v", err)
				return
			}
			outcomes[i] = outcome
			states[i] = state
		}(i)
	}
	wg.Wait()

	created := 0
	for _, o := range outcomes {
		if o == model.EnsureCreated {
			created++
		}
	}
	if created != 1 {
		t.Fatalf("created outcomes = %d, want 1", created)
	}

	want := states[0].LastProcessedTimestamp
	for i, s := range states {
		if s.LastProcessedTimestamp != want {
			t.Errorf("worker %d saw watermark %d, want %d", i, s.LastProcessedTimestamp, want)
		}
	}
	if len(store.watermarks) != 1 {
		t.Errorf("rows = %d, want 1", len(store.watermarks))
	}
}

func TestEnsureReturnsExisting(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, outcome, _ := store.Ensure(ctx, "TAddr", 500); outcome != model.EnsureCreated {
		t.Fatalf("first outcome = %v", outcome)
	}
	state, outcome, err := store.Ensure(ctx, "TAddr", 900)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != model.EnsureExisting || state.LastProcessedTimestamp != 500 {
		t.Errorf("got %v %d, want existing 500", outcome, state.LastProcessedTimestamp)
	}
}

func TestAdvanceIsMonotonic(t *testing.T) {
	store := New()
	ctx := context.Background()
	store.Ensure(ctx, "TAddr", 1_000)

	tests := []struct {
		ts       int64
		advanced bool
		want     int64
	}{
		{2_000, true, 2_000},
		{1_500, false, 2_000},
		{2_000, false, 2_000},
		{2_001, true, 2_001},
	}

	for _, tt := range tests {
		advanced, err := store.Advance(ctx, "TAddr", tt.ts)
		if err != nil {
			t.Fatal(err)
		}
		state, _ := store.GetWatermark(ctx, "TAddr")
		if advanced != tt.advanced || state.LastProcessedTimestamp != tt.want {
			t.Errorf("Advance(%d) = %v, watermark %d; want %v, %d", tt.ts, advanced, state.LastProcessedTimestamp, tt.advanced, tt.want)
		}
	}
}

func newPendingOrder(id string, amount string, created time.Time) model.Order {
	return model.Order{
		OrderID:        id,
		UserID:         7,
		ChatID:         7,
		OrderType:      model.OrderTypeSpecialOffer,
		Status:         model.OrderStatusPendingPayment,
		Currency:       "TRX",
		ExpectedAmount: decimal.RequireFromString(amount),
		CreatedAt:      created,
		ExpiresAt:      created.Add(10 * time.Minute),
	}
}

func TestMarkPaidCompareAndSet(t *testing.T) {
	store := New()
	ctx := context.Background()
	store.CreateOrder(ctx, newPendingOrder("a", "10.00037", baseTime))
	store.CreateOrder(ctx, newPendingOrder("b", "10.00091", baseTime))
	amount := decimal.RequireFromString("10.00037")

	ok, err := store.MarkPaid(ctx, "a", "tx1", amount, baseTime)
	if err != nil || !ok {
		t.Fatalf("first MarkPaid = %v, %v", ok, err)
	}

	ok, err = store.MarkPaid(ctx, "a", "tx2", amount, baseTime)
	if err != nil || ok {
		t.Errorf("second MarkPaid on paid order = %v, %v; want false, nil", ok, err)
	}

	_, err = store.MarkPaid(ctx, "b", "tx1", amount, baseTime)
	if !errors.Is(err, model.ErrTransferAlreadyApplied) {
		t.Errorf("reusing transfer err = %v, want ErrTransferAlreadyApplied", err)
	}

	order, _ := store.GetOrderByPaymentTransfer(ctx, "tx1")
	if order == nil || order.OrderID != "a" {
		t.Errorf("GetOrderByPaymentTransfer = %+v", order)
	}
}

func TestExpireOrdersIsIdempotent(t *testing.T) {
	store := New()
	ctx := context.Background()
	store.CreateOrder(ctx, newPendingOrder("old", "1", baseTime.Add(-time.Hour)))
	store.CreateOrder(ctx, newPendingOrder("new", "2", baseTime))

	n, err := store.ExpireOrders(ctx, baseTime)
	if err != nil || n != 1 {
		t.Fatalf("first ExpireOrders = %d, %v", n, err)
	}
	n, err = store.ExpireOrders(ctx, baseTime)
	if err != nil || n != 0 {
		t.Errorf("second ExpireOrders = %d, %v; want 0", n, err)
	}

	old, _ := store.GetOrderByID(ctx, "old")
	if old.Status != model.OrderStatusExpired {
		t.Errorf("old status = %s", old.Status)
	}
	fresh, _ := store.GetOrderByID(ctx, "new")
	if fresh.Status != model.OrderStatusPendingPayment {
		t.Errorf("new status = %s", fresh.Status)
	}
}

func TestFindMatchingCandidatesOrdering(t *testing.T) {
	store := New()
	ctx := context.Background()
	store.CreateOrder(ctx, newPendingOrder("z", "10.00037", baseTime))
	store.CreateOrder(ctx, newPendingOrder("a", "10.00037", baseTime))
	store.CreateOrder(ctx, newPendingOrder("earliest", "10.0003705", baseTime.Add(-time.Minute)))
	store.CreateOrder(ctx, newPendingOrder("far", "10.00091", baseTime.Add(-time.Hour)))

	got, err := store.FindMatchingCandidates(ctx, "TRX", decimal.RequireFromString("10.00037"), decimal.New(1, -6))
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"earliest", "a", "z"}
	if len(got) != len(want) {
		t.Fatalf("got %d candidates, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].OrderID != id {
			t.Errorf("candidate %d = %s, want %s", i, got[i].OrderID, id)
		}
	}
}

func TestOrderTransitions(t *testing.T) {
	store := New()
	ctx := context.Background()
	store.CreateOrder(ctx, newPendingOrder("o", "1", baseTime))

	if err := store.MarkCompleted(ctx, "o", nil, 1, baseTime); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("complete pending err = %v", err)
	}
	store.MarkPaid(ctx, "o", "tx", decimal.NewFromInt(1), baseTime)

	if err := store.MarkFulfillmentFailed(ctx, "o", 3, "vendor down"); err != nil {
		t.Fatal(err)
	}
	if err := store.CancelOrder(ctx, "o"); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("cancel failed order err = %v", err)
	}
	if err := store.MarkCompleted(ctx, "o", map[string]any{"delegate_txid": "abc"}, 4, baseTime); err != nil {
		t.Fatal(err)
	}

	order, _ := store.GetOrderByID(ctx, "o")
	if order.Status != model.OrderStatusCompleted || order.DetailString("delegate_txid") != "abc" || order.LastError != nil {
		t.Errorf("order = %+v", order)
	}
}

func TestTransitionGuardsFollowTable(t *testing.T) {
	ctx := context.Background()
	statuses := []model.OrderStatus{
		model.OrderStatusPendingPayment, model.OrderStatusPaid, model.OrderStatusCompleted,
		model.OrderStatusExpired, model.OrderStatusCanceled, model.OrderStatusFulfillmentFailed,
	}
	ops := []struct {
		to    model.OrderStatus
		apply func(*Store, string) error
	}{
		{model.OrderStatusPaid, func(s *Store, id string) error {
			ok, err := s.MarkPaid(ctx, id, "tx-"+id, decimal.NewFromInt(1), baseTime)
			if err == nil && !ok {
				return model.ErrInvalidTransition
			}
			return err
		}},
		{model.OrderStatusCompleted, func(s *Store, id string) error { return s.MarkCompleted(ctx, id, nil, 1, baseTime) }},
		{model.OrderStatusFulfillmentFailed, func(s *Store, id string) error { return s.MarkFulfillmentFailed(ctx, id, 1, "down") }},
		{model.OrderStatusCanceled, func(s *Store, id string) error { return s.CancelOrder(ctx, id) }},
		{model.OrderStatusExpired, func(s *Store, id string) error {
			n, err := s.ExpireOrders(ctx, baseTime.Add(time.Hour))
			if err == nil && n == 0 {
				return model.ErrInvalidTransition
			}
			return err
		}},
	}

	for _, from := range statuses {
		for _, op := range ops {
			t.Run(string(from)+"->"+string(op.to), func(t *testing.T) {
				store := New()
				order := newPendingOrder("o", "1", baseTime)
				order.Status = from
				store.orders["o"] = order

				err := op.apply(store, "o")
				if allowed := model.CanTransition(from, op.to); allowed != (err == nil) {
					t.Errorf("err = %v, table allows = %v", err, allowed)
				}
			})
		}
	}
}

func TestSubscriptions(t *testing.T) {
	store := New()
	ctx := context.Background()

	_, created, _ := store.AddMonitoredAddress(ctx, model.NewMonitoredAddress(1, "TA", "main"))
	if !created {
		t.Error("first add should create")
	}
	store.AddMonitoredAddress(ctx, model.NewMonitoredAddress(2, "TA", ""))
	store.AddMonitoredAddress(ctx, model.NewMonitoredAddress(1, "TB", ""))

	store.ToggleSetting(ctx, 1, "TA", model.SettingUSDT)
	sub, created, _ := store.AddMonitoredAddress(ctx, model.NewMonitoredAddress(1, "TA", "renamed"))
	if created || sub.Nickname != "renamed" || sub.NotifyUSDT {
		t.Errorf("re-add = %+v created=%v; want nickname updated and toggles kept", sub, created)
	}

	watched, _ := store.ListWatchedAddresses(ctx)
	if len(watched) != 2 || watched[0] != "TA" || watched[1] != "TB" {
		t.Errorf("watched = %v", watched)
	}
	subs, _ := store.ListSubscribersOf(ctx, "TA")
	if len(subs) != 2 {
		t.Errorf("subscribers of TA = %d", len(subs))
	}

	removed, _ := store.RemoveMonitoredAddress(ctx, 1, "TB")
	if !removed {
		t.Error("expected removal")
	}
	watched, _ = store.ListWatchedAddresses(ctx)
	if len(watched) != 1 {
		t.Errorf("watched after remove = %v", watched)
	}

	if _, err := store.ToggleSetting(ctx, 1, "TA", "bogus"); err == nil {
		t.Error("expected unknown setting error")
	}
}

func TestOutboxLifecycle(t *testing.T) {
	store := New()
	ctx := context.Background()

	stored, _ := store.StoreOutboxEvent(ctx, model.OutboxEvent{EventKey: "k1", EventType: "x"})
	dup, _ := store.StoreOutboxEvent(ctx, model.OutboxEvent{EventKey: "k1", EventType: "x"})
	store.StoreOutboxEvent(ctx, model.OutboxEvent{EventKey: "k2", EventType: "x"})
	if !stored || dup {
		t.Fatalf("stored=%v dup=%v", stored, dup)
	}

	claimed, _ := store.GetUnsentEventsForProcessing(ctx, 10)
	if len(claimed) != 2 || claimed[0].EventKey != "k1" {
		t.Fatalf("claimed = %+v", claimed)
	}
	again, _ := store.GetUnsentEventsForProcessing(ctx, 10)
	if len(again) != 0 {
		t.Errorf("claimed twice: %+v", again)
	}

	store.MarkEventAsSent(ctx, "k1")
	store.MarkEventAsFailed(ctx, "k2")
	retry, _ := store.GetUnsentEventsForProcessing(ctx, 10)
	if len(retry) != 1 || retry[0].EventKey != "k2" {
		t.Errorf("retry = %+v", retry)
	}
}
