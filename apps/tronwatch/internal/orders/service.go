package orders

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"tronwatch/apps/tronwatch/internal/model"
	"tronwatch/apps/tronwatch/internal/tron"
)

const (
	SpecialOfferTTL = 10 * time.Minute
	SmartOrderTTL   = 30 * time.Minute

	// maxSaltDraws bounds how often a salt is redrawn when it lands next to another pending order.
	maxSaltDraws = 5
)

var (
	ErrInvalidOrder      = errors.New("invalid order")
	ErrNoDistinctAmount  = errors.New("could not find a distinct payment amount")
	ErrUnsupportedSwitch = errors.New("only smart orders can switch currency")
)

type Store interface {
	CreateOrder(ctx context.Context, order model.Order) error
	GetOrderByID(ctx context.Context, orderID string) (*model.Order, error)
	FindOpenOrder(ctx context.Context, userID int64, orderType model.OrderType, now time.Time) (*model.Order, error)
	FindMatchingCandidates(ctx context.Context, currency string, amount, tolerance decimal.Decimal) ([]model.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	UpdatePendingAmount(ctx context.Context, orderID, currency string, amount decimal.Decimal) error
}

type Pricing struct {
	SpecialOfferAddress string
	SpecialOfferPrice   decimal.Decimal
	SmartAddress        string
	SmartPricePerTRX    decimal.Decimal
	SmartPricePerUSDT   decimal.Decimal
}

// salt draws a random amount in [min, max] scaled by 10^exp.
type salt struct {
	min, max int
	exp      int32
}

var (
	trxSalt  = salt{min: 100, max: 999, exp: -5}   // 0.00100 – 0.00999
	usdtSalt = salt{min: 1000, max: 9999, exp: -4} // 0.1000 – 0.9999
)

type Service struct {
	store   Store
	pricing Pricing
	intN    func(n int) int
	now     func() time.Time
	newID   func() string
	logger  *zap.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRandom replaces the source of salt draws.
func WithRandom(intN func(n int) int) Option {
	return func(s *Service) { s.intN = intN }
}

func NewService(store Store, pricing Pricing, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:   store,
		pricing: pricing,
		intN:    rand.Intn,
		now:     time.Now,
		newID:   uuid.NewString,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordOrder validates and persists a new pending order.
func (s *Service) RecordOrder(ctx context.Context, order model.Order) error {
	switch {
	case order.OrderID == "":
		return fmt.Errorf("%w: missing order id", ErrInvalidOrder)
	case !order.OrderType.Valid():
		return fmt.Errorf("%w: unknown order type %q", ErrInvalidOrder, order.OrderType)
	case order.Status != model.OrderStatusPendingPayment:
		return fmt.Errorf("%w: new orders must be %s", ErrInvalidOrder, model.OrderStatusPendingPayment)
	case order.Currency != "TRX" && order.Currency != "USDT":
		return fmt.Errorf("%w: unsupported currency %q", ErrInvalidOrder, order.Currency)
	case !order.ExpectedAmount.IsPositive():
		return fmt.Errorf("%w: expected amount must be positive", ErrInvalidOrder)
	case !order.ExpiresAt.After(order.CreatedAt):
		return fmt.Errorf("%w: order expires before it is created", ErrInvalidOrder)
	}

	if err := s.store.CreateOrder(ctx, order); err != nil {
		return err
	}
	s.logger.Info("Recorded order",
		zap.String("order_id", order.OrderID),
		zap.String("order_type", string(order.OrderType)),
		zap.Int64("user_id", order.UserID),
		zap.String("currency", order.Currency),
		zap.String("expected_amount", order.ExpectedAmount.String()))
	return nil
}

// CreateSpecialOffer returns the user's open special offer order, or records a new one.
// The boolean reports whether an existing order was reused.
func (s *Service) CreateSpecialOffer(ctx context.Context, userID, chatID int64) (*model.Order, bool, error) {
	now := s.now()
	existing, err := s.store.FindOpenOrder(ctx, userID, model.OrderTypeSpecialOffer, now)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, true, nil
	}

	amount, err := s.distinctAmount(ctx, "TRX", s.pricing.SpecialOfferPrice, trxSalt)
	if err != nil {
		return nil, false, err
	}

	order := model.Order{
		OrderID:        s.newID(),
		UserID:         userID,
		ChatID:         chatID,
		OrderType:      model.OrderTypeSpecialOffer,
		Status:         model.OrderStatusPendingPayment,
		Currency:       "TRX",
		ExpectedAmount: amount,
		Details:        map[string]any{"payment_address": s.pricing.SpecialOfferAddress},
		CreatedAt:      now,
		ExpiresAt:      now.Add(SpecialOfferTTL),
	}
	if err := s.RecordOrder(ctx, order); err != nil {
		return nil, false, err
	}
	return &order, false, nil
}

// CreateSmartOrder records a per-transfer energy package for size transfers delivered to receiver.
func (s *Service) CreateSmartOrder(ctx context.Context, userID, chatID int64, size int, receiver, currency string) (*model.Order, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size must be positive", ErrInvalidOrder)
	}
	if !tron.IsValidAddress(receiver) {
		return nil, fmt.Errorf("%w: invalid receiver address %q", ErrInvalidOrder, receiver)
	}

	trxTotal, usdtTotal := s.smartTotals(size)
	base, sl, err := smartBase(currency, trxTotal, usdtTotal)
	if err != nil {
		return nil, err
	}
	amount, err := s.distinctAmount(ctx, currency, base, sl)
	if err != nil {
		return nil, err
	}

	now := s.now()
	order := model.Order{
		OrderID:        s.newID(),
		UserID:         userID,
		ChatID:         chatID,
		OrderType:      model.OrderTypeSmartTRX,
		Status:         model.OrderStatusPendingPayment,
		Currency:       currency,
		ExpectedAmount: amount,
		Details: map[string]any{
			"size":             size,
			"receiver_address": receiver,
			"trx_amount":       trxTotal.String(),
			"usdt_amount":      usdtTotal.String(),
			"payment_address":  s.pricing.SmartAddress,
		},
		CreatedAt: now,
		ExpiresAt: now.Add(SmartOrderTTL),
	}
	if err := s.RecordOrder(ctx, order); err != nil {
		return nil, err
	}
	return &order, nil
}

// SwitchCurrency re-prices a pending smart order in another currency with a fresh salt.
func (s *Service) SwitchCurrency(ctx context.Context, orderID, currency string) (*model.Order, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.OrderType != model.OrderTypeSmartTRX {
		return nil, ErrUnsupportedSwitch
	}
	if !order.IsOpen(s.now()) {
		return nil, fmt.Errorf("order %s is %s: %w", orderID, order.Status, model.ErrInvalidTransition)
	}

	size, err := detailInt(order.Details, "size")
	if err != nil {
		return nil, err
	}
	trxTotal, usdtTotal := s.smartTotals(size)
	base, sl, err := smartBase(currency, trxTotal, usdtTotal)
	if err != nil {
		return nil, err
	}
	amount, err := s.distinctAmount(ctx, currency, base, sl)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdatePendingAmount(ctx, orderID, currency, amount); err != nil {
		return nil, err
	}
	s.logger.Info("Switched order currency", zap.String("order_id", orderID), zap.String("currency", currency), zap.String("amount", amount.String()))

	order.Currency = currency
	order.ExpectedAmount = amount
	return order, nil
}

func (s *Service) Cancel(ctx context.Context, orderID string) error {
	if _, err := s.GetOrder(ctx, orderID); err != nil {
		return err
	}
	return s.store.CancelOrder(ctx, orderID)
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("order %s: %w", orderID, model.ErrOrderNotFound)
	}
	return order, nil
}

func (s *Service) smartTotals(size int) (decimal.Decimal, decimal.Decimal) {
	n := decimal.NewFromInt(int64(size))
	return n.Mul(s.pricing.SmartPricePerTRX), n.Mul(s.pricing.SmartPricePerUSDT)
}

func smartBase(currency string, trxTotal, usdtTotal decimal.Decimal) (decimal.Decimal, salt, error) {
	switch currency {
	case "TRX":
		return trxTotal, trxSalt, nil
	case "USDT":
		return usdtTotal, usdtSalt, nil
	}
	return decimal.Zero, salt{}, fmt.Errorf("%w: unsupported currency %q", ErrInvalidOrder, currency)
}

// distinctAmount adds a random salt to base, redrawing while another pending order of the same currency
// would be indistinguishable from it.
func (s *Service) distinctAmount(ctx context.Context, currency string, base decimal.Decimal, sl salt) (decimal.Decimal, error) {
	for draw := 0; draw < maxSaltDraws; draw++ {
		n := sl.min + s.intN(sl.max-sl.min+1)
		amount := base.Add(decimal.New(int64(n), sl.exp))

		clashes, err := s.store.FindMatchingCandidates(ctx, currency, amount, model.AmountTolerance)
		if err != nil {
			return decimal.Zero, err
		}
		if len(clashes) == 0 {
			return amount, nil
		}
		s.logger.Debug("Salted amount clashes with a pending order, redrawing", zap.String("amount", amount.String()))
	}
	return decimal.Zero, ErrNoDistinctAmount
}

func detailInt(details map[string]any, key string) (int, error) {
	switch v := details[key].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	}
	return 0, fmt.Errorf("%w: order detail %q missing", ErrInvalidOrder, key)
}
