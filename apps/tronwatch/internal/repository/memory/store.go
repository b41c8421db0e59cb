// Package memory keeps every store in process memory. It backs local runs without Postgres and the tests of
// the packages that depend on the stores.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"tronwatch/apps/tronwatch/internal/model"
	"tronwatch/apps/tronwatch/internal/repository"
)

type subscriptionKey struct {
	userID  int64
	address string
}

type Store struct {
	mu sync.RWMutex

	now func() time.Time

	watermarks    map[string]model.WatermarkState
	orders        map[string]model.Order
	subscriptions map[subscriptionKey]model.MonitoredAddress
	nextSubID     int64
	outbox        map[string]model.OutboxEvent
	outboxOrder   []string
}

func New() *Store {
	return &Store{
		now:           time.Now,
		watermarks:    make(map[string]model.WatermarkState),
		orders:        make(map[string]model.Order),
		subscriptions: make(map[subscriptionKey]model.MonitoredAddress),
		outbox:        make(map[string]model.OutboxEvent),
	}
}

// WithClock replaces the clock used for created/updated timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Stores() repository.Stores {
	return repository.Stores{
		Watermarks:    s,
		Orders:        s,
		Subscriptions: s,
		Outbox:        s,
	}
}

// Watermarks

func (s *Store) GetWatermark(_ context.Context, address string) (*model.WatermarkState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.watermarks[address]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (s *Store) Ensure(ctx context.Context, address string, seedMs int64) (*model.WatermarkState, model.EnsureOutcome, error) {
	state, err := s.GetWatermark(ctx, address)
	if err != nil || state != nil {
		return state, model.EnsureExisting, err
	}

	s.mu.Lock()
	if existing, ok := s.watermarks[address]; ok {
		s.mu.Unlock()
		return &existing, model.EnsureLostRace, nil
	}
	now := s.now()
	created := model.WatermarkState{Address: address, LastProcessedTimestamp: seedMs, CreatedAt: now, UpdatedAt: now}
	s.watermarks[address] = created
	s.mu.Unlock()

	return &created, model.EnsureCreated, nil
}

func (s *Store) Advance(_ context.Context, address string, ts int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.watermarks[address]
	if !ok || ts <= state.LastProcessedTimestamp {
		return false, nil
	}
	state.LastProcessedTimestamp = ts
	state.UpdatedAt = s.now()
	s.watermarks[address] = state
	return true, nil
}

// Orders

func copyOrder(o model.Order) model.Order {
	o.Details = maps.Clone(o.Details)
	return o
}

func (s *Store) CreateOrder(_ context.Context, order model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.OrderID]; exists {
		return fmt.Errorf("order %s: %w", order.OrderID, model.ErrOrderExists)
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = s.now()
	}
	s.orders[order.OrderID] = copyOrder(order)
	return nil
}

func (s *Store) GetOrderByID(_ context.Context, orderID string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, nil
	}
	order = copyOrder(order)
	return &order, nil
}

func (s *Store) GetOrderByPaymentTransfer(_ context.Context, transferID string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, order := range s.orders {
		if order.PaymentTransferID != nil && *order.PaymentTransferID == transferID {
			order = copyOrder(order)
			return &order, nil
		}
	}
	return nil, nil
}

func (s *Store) FindOpenOrder(_ context.Context, userID int64, orderType model.OrderType, now time.Time) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var newest *model.Order
	for _, order := range s.orders {
		if order.UserID != userID || order.OrderType != orderType || !order.IsOpen(now) {
			continue
		}
		if newest == nil || order.CreatedAt.After(newest.CreatedAt) {
			o := copyOrder(order)
			newest = &o
		}
	}
	return newest, nil
}

func (s *Store) FindMatchingCandidates(_ context.Context, currency string, amount, tolerance decimal.Decimal) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Order
	for _, order := range s.orders {
		if order.Status != model.OrderStatusPendingPayment || order.Currency != currency {
			continue
		}
		if order.ExpectedAmount.Sub(amount).Abs().LessThan(tolerance) {
			out = append(out, copyOrder(order))
		}
	}
	sortOrders(out)
	return out, nil
}

func (s *Store) ListOrdersByStatus(_ context.Context, status model.OrderStatus, limit int) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Order
	for _, order := range s.orders {
		if order.Status == status {
			out = append(out, copyOrder(order))
		}
	}
	sortOrders(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortOrders(orders []model.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.Before(orders[j].CreatedAt)
		}
		return orders[i].OrderID < orders[j].OrderID
	})
}

func (s *Store) ExpireOrders(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, order := range s.orders {
		if model.CanTransition(order.Status, model.OrderStatusExpired) && order.ExpiresAt.Before(now) {
			order.Status = model.OrderStatusExpired
			s.orders[id] = order
			n++
		}
	}
	return n, nil
}

func (s *Store) MarkPaid(_ context.Context, orderID, transferID string, amount decimal.Decimal, paidAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok || !model.CanTransition(order.Status, model.OrderStatusPaid) {
		return false, nil
	}
	for _, other := range s.orders {
		if other.PaymentTransferID != nil && *other.PaymentTransferID == transferID {
			return false, model.ErrTransferAlreadyApplied
		}
	}

	order.Status = model.OrderStatusPaid
	order.PaymentTransferID = &transferID
	order.PaidAmount = &amount
	order.PaidAt = &paidAt
	s.orders[orderID] = order
	return true, nil
}

// transition applies fn to the order when its status is one of from.
func (s *Store) transition(orderID string, from []model.OrderStatus, fn func(*model.Order)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, model.ErrInvalidTransition)
	}
	for _, status := range from {
		if order.Status == status {
			fn(&order)
			s.orders[orderID] = order
			return nil
		}
	}
	return fmt.Errorf("order %s: %w", orderID, model.ErrInvalidTransition)
}

func (s *Store) MarkCompleted(_ context.Context, orderID string, details map[string]any, attempts int, completedAt time.Time) error {
	return s.transition(orderID, model.SourcesOf(model.OrderStatusCompleted), func(o *model.Order) {
		if o.Details == nil {
			o.Details = make(map[string]any, len(details))
		}
		maps.Copy(o.Details, details)
		o.Status = model.OrderStatusCompleted
		o.FulfillmentAttempts = attempts
		o.CompletedAt = &completedAt
		o.LastError = nil
	})
}

func (s *Store) MarkFulfillmentFailed(_ context.Context, orderID string, attempts int, lastError string) error {
	return s.transition(orderID, model.SourcesOf(model.OrderStatusFulfillmentFailed), func(o *model.Order) {
		o.Status = model.OrderStatusFulfillmentFailed
		o.FulfillmentAttempts = attempts
		o.LastError = &lastError
	})
}

func (s *Store) RecordFulfillmentAttempt(_ context.Context, orderID string, attempts int) error {
	return s.transition(orderID, model.SourcesOf(model.OrderStatusCompleted), func(o *model.Order) {
		o.FulfillmentAttempts = attempts
	})
}

func (s *Store) CancelOrder(_ context.Context, orderID string) error {
	return s.transition(orderID, model.SourcesOf(model.OrderStatusCanceled), func(o *model.Order) {
		o.Status = model.OrderStatusCanceled
	})
}

func (s *Store) UpdatePendingAmount(_ context.Context, orderID, currency string, amount decimal.Decimal) error {
	return s.transition(orderID, []model.OrderStatus{model.OrderStatusPendingPayment}, func(o *model.Order) {
		o.Currency = currency
		o.ExpectedAmount = amount
	})
}

// Subscriptions

func (s *Store) AddMonitoredAddress(_ context.Context, addr model.MonitoredAddress) (*model.MonitoredAddress, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := subscriptionKey{addr.UserID, addr.Address}
	if existing, ok := s.subscriptions[key]; ok {
		existing.Nickname = addr.Nickname
		s.subscriptions[key] = existing
		return &existing, false, nil
	}

	s.nextSubID++
	addr.ID = s.nextSubID
	addr.CreatedAt = s.now()
	s.subscriptions[key] = addr
	return &addr, true, nil
}

func (s *Store) RemoveMonitoredAddress(_ context.Context, userID int64, address string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := subscriptionKey{userID, address}
	if _, ok := s.subscriptions[key]; !ok {
		return false, nil
	}
	delete(s.subscriptions, key)
	return true, nil
}

func (s *Store) ListWatchedAddresses(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for key := range s.subscriptions {
		if _, ok := seen[key.address]; ok {
			continue
		}
		seen[key.address] = struct{}{}
		out = append(out, key.address)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) filterSubscriptions(keep func(model.MonitoredAddress) bool) []model.MonitoredAddress {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.MonitoredAddress
	for _, sub := range s.subscriptions {
		if keep(sub) {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) ListSubscribersOf(_ context.Context, address string) ([]model.MonitoredAddress, error) {
	return s.filterSubscriptions(func(m model.MonitoredAddress) bool { return m.Address == address }), nil
}

func (s *Store) ListByUser(_ context.Context, userID int64) ([]model.MonitoredAddress, error) {
	return s.filterSubscriptions(func(m model.MonitoredAddress) bool { return m.UserID == userID }), nil
}

func (s *Store) GetMonitoredAddress(_ context.Context, userID int64, address string) (*model.MonitoredAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[subscriptionKey{userID, address}]
	if !ok {
		return nil, nil
	}
	return &sub, nil
}

func (s *Store) updateSubscription(userID int64, address string, fn func(*model.MonitoredAddress)) *model.MonitoredAddress {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := subscriptionKey{userID, address}
	sub, ok := s.subscriptions[key]
	if !ok {
		return nil
	}
	fn(&sub)
	s.subscriptions[key] = sub
	return &sub
}

func (s *Store) ToggleSetting(_ context.Context, userID int64, address string, setting model.NotifySetting) (*model.MonitoredAddress, error) {
	if _, err := model.ParseNotifySetting(string(setting)); err != nil {
		return nil, err
	}
	return s.updateSubscription(userID, address, func(m *model.MonitoredAddress) { m.Toggle(setting) }), nil
}

func (s *Store) UpdateNickname(_ context.Context, userID int64, address, nickname string) (*model.MonitoredAddress, error) {
	return s.updateSubscription(userID, address, func(m *model.MonitoredAddress) { m.Nickname = nickname }), nil
}

// Outbox

func (s *Store) StoreOutboxEvent(_ context.Context, event model.OutboxEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.outbox[event.EventKey]; exists {
		return false, nil
	}
	event.Status = model.OutboxStatusUnsent
	event.CreatedAt = s.now()
	s.outbox[event.EventKey] = event
	s.outboxOrder = append(s.outboxOrder, event.EventKey)
	return true, nil
}

func (s *Store) GetUnsentEventsForProcessing(_ context.Context, limit int) ([]model.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []model.OutboxEvent
	for _, key := range s.outboxOrder {
		if event := s.outbox[key]; event.Status == model.OutboxStatusUnsent {
			events = append(events, event)
		}
	}
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	for i := range events {
		events[i].Status = model.OutboxStatusProcessing
		s.outbox[events[i].EventKey] = events[i]
	}
	return events, nil
}

func (s *Store) MarkEventAsSent(_ context.Context, eventKey string) error {
	s.setOutboxStatus(eventKey, "", model.OutboxStatusSent)
	return nil
}

func (s *Store) MarkEventAsFailed(_ context.Context, eventKey string) error {
	s.setOutboxStatus(eventKey, model.OutboxStatusProcessing, model.OutboxStatusUnsent)
	return nil
}

func (s *Store) setOutboxStatus(eventKey, from, to string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.outbox[eventKey]
	if !ok || (from != "" && event.Status != from) {
		return
	}
	event.Status = to
	s.outbox[eventKey] = event
}

// OutboxEvents returns a snapshot of every stored event in insertion order.
func (s *Store) OutboxEvents() []model.OutboxEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]model.OutboxEvent, 0, len(s.outboxOrder))
	for _, key := range s.outboxOrder {
		events = append(events, s.outbox[key])
	}
	return events
}

var (
	_ repository.WatermarkStore    = (*Store)(nil)
	_ repository.OrderStore        = (*Store)(nil)
	_ repository.SubscriptionStore = (*Store)(nil)
	_ repository.OutboxStore       = (*Store)(nil)
)
