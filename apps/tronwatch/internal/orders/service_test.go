package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"tronwatch/apps/tronwatch/internal/model"
	"tronwatch/apps/tronwatch/internal/repository/memory"
)

const receiver = "TGCAjMXComunWZEXCT1LPBdcYbDVuyexBv"

var testNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

var testPricing = Pricing{
	SpecialOfferAddress: "TSpecial",
	SpecialOfferPrice:   decimal.NewFromInt(10),
	SmartAddress:        "TSmart",
	SmartPricePerTRX:    decimal.NewFromInt(3),
	SmartPricePerUSDT:   decimal.RequireFromString("0.9"),
}

// sequence returns the given draws in order, repeating the last one.
func sequence(draws ...int) func(int) int {
	i := 0
	return func(int) int {
		v := draws[i]
		if i < len(draws)-1 {
			i++
		}
		return v
	}
}

func newTestService(store *memory.Store, draws ...int) *Service {
	return NewService(store, testPricing, zap.NewNop(), WithClock(func() time.Time { return testNow }), WithRandom(sequence(draws...)))
}

func TestCreateSpecialOffer(t *testing.T) {
	store := memory.New()
	svc := newTestService(store, 37)
	ctx := context.Background()

	order, reused, err := svc.CreateSpecialOffer(ctx, 42, 42)
	if err != nil {
		t.Fatal(err)
	}
	if reused {
		t.Error("first order should not be reused")
	}
	// 10 + (100+37)/1e5
	if order.ExpectedAmount.String() != "10.00137" || order.Currency != "TRX" {
		t.Errorf("order amount = %s %s", order.ExpectedAmount, order.Currency)
	}
	if !order.ExpiresAt.Equal(testNow.Add(SpecialOfferTTL)) {
		t.Errorf("expires at %v", order.ExpiresAt)
	}

	again, reused, err := svc.CreateSpecialOffer(ctx, 42, 42)
	if err != nil {
		t.Fatal(err)
	}
	if !reused || again.OrderID != order.OrderID {
		t.Errorf("second call should reuse %s, got %s (reused=%v)", order.OrderID, again.OrderID, reused)
	}
}

func TestSaltRedrawOnClash(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	first, _, err := newTestService(store, 37).CreateSpecialOffer(ctx, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	second, _, err := newTestService(store, 37, 37, 91).CreateSpecialOffer(ctx, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if model.AmountsMatch(first.ExpectedAmount, second.ExpectedAmount) {
		t.Fatalf("amounts %s and %s must be distinct", first.ExpectedAmount, second.ExpectedAmount)
	}
	if second.ExpectedAmount.String() != "10.00191" {
		t.Errorf("second amount = %s, want 10.00191", second.ExpectedAmount)
	}

	_, _, err = newTestService(store, 37).CreateSpecialOffer(ctx, 3, 3)
	if !errors.Is(err, ErrNoDistinctAmount) {
		t.Errorf("err = %v, want ErrNoDistinctAmount", err)
	}
}

func TestCreateSmartOrder(t *testing.T) {
	tests := []struct {
		name     string
		size     int
		receiver string
		currency string
		want     string
		wantErr  bool
	}{
		{name: "trx", size: 5, receiver: receiver, currency: "TRX", want: "15.00137"},
		{name: "usdt", size: 5, receiver: receiver, currency: "USDT", want: "4.6037"},
		{name: "zero size", size: 0, receiver: receiver, currency: "TRX", wantErr: true},
		{name: "bad receiver", size: 5, receiver: "nope", currency: "TRX", wantErr: true},
		{name: "bad currency", size: 5, receiver: receiver, currency: "BTC", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(memory.New(), 37)
			order, err := svc.CreateSmartOrder(context.Background(), 7, 7, tt.size, tt.receiver, tt.currency)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidOrder) {
					t.Errorf("err = %v, want ErrInvalidOrder", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if order.ExpectedAmount.String() != tt.want {
				t.Errorf("amount = %s, want %s", order.ExpectedAmount, tt.want)
			}
			if order.DetailString("receiver_address") != receiver || order.Details["size"] != tt.size {
				t.Errorf("details = %v", order.Details)
			}
		})
	}
}

func TestSwitchCurrency(t *testing.T) {
	store := memory.New()
	svc := newTestService(store, 37)
	ctx := context.Background()

	order, err := svc.CreateSmartOrder(ctx, 7, 7, 2, receiver, "TRX")
	if err != nil {
		t.Fatal(err)
	}

	switched, err := svc.SwitchCurrency(ctx, order.OrderID, "USDT")
	if err != nil {
		t.Fatal(err)
	}
	// 2 * 0.9 + (1000+37)/1e4
	if switched.Currency != "USDT" || switched.ExpectedAmount.String() != "1.9037" {
		t.Errorf("switched = %s %s", switched.ExpectedAmount, switched.Currency)
	}
	stored, _ := store.GetOrderByID(ctx, order.OrderID)
	if stored.Currency != "USDT" || !stored.ExpectedAmount.Equal(switched.ExpectedAmount) {
		t.Errorf("stored = %s %s", stored.ExpectedAmount, stored.Currency)
	}

	special, _, _ := svc.CreateSpecialOffer(ctx, 8, 8)
	if _, err := svc.SwitchCurrency(ctx, special.OrderID, "USDT"); !errors.Is(err, ErrUnsupportedSwitch) {
		t.Errorf("special offer switch err = %v", err)
	}

	if err := svc.Cancel(ctx, order.OrderID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SwitchCurrency(ctx, order.OrderID, "TRX"); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("switch on canceled order err = %v", err)
	}
}

func TestCancel(t *testing.T) {
	store := memory.New()
	svc := newTestService(store, 1)
	ctx := context.Background()

	if err := svc.Cancel(ctx, "missing"); !errors.Is(err, model.ErrOrderNotFound) {
		t.Errorf("cancel missing err = %v", err)
	}

	order, _, _ := svc.CreateSpecialOffer(ctx, 1, 1)
	if err := svc.Cancel(ctx, order.OrderID); err != nil {
		t.Fatal(err)
	}
	if err := svc.Cancel(ctx, order.OrderID); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("second cancel err = %v", err)
	}
}

func TestRecordOrderValidation(t *testing.T) {
	valid := model.Order{
		OrderID:        "o1",
		OrderType:      model.OrderTypeSpecialOffer,
		Status:         model.OrderStatusPendingPayment,
		Currency:       "TRX",
		ExpectedAmount: decimal.NewFromInt(1),
		CreatedAt:      testNow,
		ExpiresAt:      testNow.Add(time.Minute),
	}

	tests := []struct {
		name   string
		mutate func(*model.Order)
	}{
		{"missing id", func(o *model.Order) { o.OrderID = "" }},
		{"bad type", func(o *model.Order) { o.OrderType = "FLASH" }},
		{"not pending", func(o *model.Order) { o.Status = model.OrderStatusPaid }},
		{"bad currency", func(o *model.Order) { o.Currency = "ETH" }},
		{"zero amount", func(o *model.Order) { o.ExpectedAmount = decimal.Zero }},
		{"already expired", func(o *model.Order) { o.ExpiresAt = o.CreatedAt }},
	}

	svc := newTestService(memory.New(), 1)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := valid
			tt.mutate(&o)
			if err := svc.RecordOrder(context.Background(), o); !errors.Is(err, ErrInvalidOrder) {
				t.Errorf("err = %v, want ErrInvalidOrder", err)
			}
		})
	}

	if err := svc.RecordOrder(context.Background(), valid); err != nil {
		t.Errorf("valid order err = %v", err)
	}
}
