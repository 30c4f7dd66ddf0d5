package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rugue/forage-stores-backend-sub000/internal/domain"
	"github.com/rugue/forage-stores-backend-sub000/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memRepo is an in-memory store.Repository. Subscriptions are stored by value
// so mutations only become visible after UpdateSubscription, mirroring the
// read-modify-write flow against the real database.
type memRepo struct {
	subs     map[uuid.UUID]domain.Subscription
	orders   map[uuid.UUID]domain.Order
	balances map[uuid.UUID]int64

	conflicts []domain.ConflictRecord
	payments  []domain.OrderPayment

	updateSubErr error
	balanceErr   error
	debits       int
	credits      int
	advanceCalls int
}

func newMemRepo() *memRepo {
	return &memRepo{
		subs:     make(map[uuid.UUID]domain.Subscription),
		orders:   make(map[uuid.UUID]domain.Order),
		balances: make(map[uuid.UUID]int64),
	}
}

func (m *memRepo) putSub(sub *domain.Subscription) { m.subs[sub.ID] = *sub }
func (m *memRepo) putOrder(order *domain.Order)    { m.orders[order.ID] = *order }
func (m *memRepo) sub(id uuid.UUID) *domain.Subscription {
	s := m.subs[id]
	return &s
}

func (m *memRepo) CreateSubscription(ctx context.Context, sub *domain.Subscription) error {
	for _, existing := range m.subs {
		if existing.OrderID == sub.OrderID {
			return store.ErrSubscriptionExists
		}
	}
	m.subs[sub.ID] = *sub
	return nil
}

func (m *memRepo) GetSubscriptionByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	s, ok := m.subs[id]
	if !ok {
		return nil, store.ErrSubscriptionNotFound
	}
	return &s, nil
}

func (m *memRepo) GetSubscriptionByOrderID(ctx context.Context, orderID uuid.UUID) (*domain.Subscription, error) {
	for _, s := range m.subs {
		if s.OrderID == orderID {
			sub := s
			return &sub, nil
		}
	}
	return nil, store.ErrSubscriptionNotFound
}

func (m *memRepo) UpdateSubscription(ctx context.Context, sub *domain.Subscription) error {
	if m.updateSubErr != nil {
		return m.updateSubErr
	}
	if _, ok := m.subs[sub.ID]; !ok {
		return store.ErrSubscriptionNotFound
	}
	m.subs[sub.ID] = *sub
	return nil
}

func (m *memRepo) FindSubscriptionsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Subscription, error) {
	var out []domain.Subscription
	for _, s := range m.subs {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memRepo) FindDueOn(ctx context.Context, day time.Time) ([]domain.Subscription, error) {
	dayStart := day.UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)
	var out []domain.Subscription
	for _, s := range m.subs {
		if s.Status != domain.StatusActive || s.IsCompleted || s.NextDueDate == nil {
			continue
		}
		if !s.NextDueDate.Before(dayStart) && s.NextDueDate.Before(dayEnd) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memRepo) FindDueToday(ctx context.Context) ([]domain.Subscription, error) {
	return m.FindDueOn(ctx, time.Now().UTC())
}

func (m *memRepo) ListOpenSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	var out []domain.Subscription
	for _, s := range m.subs {
		if s.Status == domain.StatusActive || s.Status == domain.StatusPaused {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memRepo) CreateConflictRecord(ctx context.Context, rec *domain.ConflictRecord) error {
	m.conflicts = append(m.conflicts, *rec)
	return nil
}

func (m *memRepo) UpdateConflictRecord(ctx context.Context, rec *domain.ConflictRecord) error {
	for i := range m.conflicts {
		if m.conflicts[i].ID == rec.ID {
			m.conflicts[i] = *rec
			return nil
		}
	}
	return store.ErrConflictNotFound
}

func (m *memRepo) FindOpenConflict(ctx context.Context, subscriptionID uuid.UUID, conflictType domain.ConflictType) (*domain.ConflictRecord, error) {
	for i := range m.conflicts {
		rec := m.conflicts[i]
		if rec.SubscriptionID == subscriptionID && rec.Type == conflictType && rec.Status != domain.ConflictResolved {
			return &rec, nil
		}
	}
	return nil, store.ErrConflictNotFound
}

func (m *memRepo) ListConflictsBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]domain.ConflictRecord, error) {
	var out []domain.ConflictRecord
	for _, rec := range m.conflicts {
		if rec.SubscriptionID == subscriptionID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memRepo) ListConflictsByStatus(ctx context.Context, status domain.ConflictStatus, limit int) ([]domain.ConflictRecord, error) {
	var out []domain.ConflictRecord
	for _, rec := range m.conflicts {
		if rec.Status == status {
			out = append(out, rec)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memRepo) GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	o, ok := m.orders[orderID]
	if !ok {
		return nil, store.ErrOrderNotFound
	}
	return &o, nil
}

func (m *memRepo) AppendOrderPayment(ctx context.Context, orderID uuid.UUID, payment domain.OrderPayment) error {
	o, ok := m.orders[orderID]
	if !ok {
		return store.ErrOrderNotFound
	}
	o.PaidAmount += payment.Amount
	o.RemainingAmount -= payment.Amount
	if o.RemainingAmount < 0 {
		o.RemainingAmount = 0
	}
	m.orders[orderID] = o
	m.payments = append(m.payments, payment)
	return nil
}

func (m *memRepo) AdvanceOrderStatusIfFullyPaid(ctx context.Context, orderID uuid.UUID) error {
	o, ok := m.orders[orderID]
	if !ok {
		return store.ErrOrderNotFound
	}
	m.advanceCalls++
	if o.Status == domain.OrderPending && o.RemainingAmount <= 0 {
		o.Status = domain.OrderPaid
		m.orders[orderID] = o
	}
	return nil
}

func (m *memRepo) GetSpendableBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	if m.balanceErr != nil {
		return 0, m.balanceErr
	}
	bal, ok := m.balances[userID]
	if !ok {
		return 0, store.ErrWalletNotFound
	}
	return bal, nil
}

func (m *memRepo) DebitWallet(ctx context.Context, userID uuid.UUID, amount int64) error {
	bal, ok := m.balances[userID]
	if !ok {
		return store.ErrWalletNotFound
	}
	if bal < amount {
		return store.ErrInsufficientFunds
	}
	m.balances[userID] = bal - amount
	m.debits++
	return nil
}

func (m *memRepo) CreditWallet(ctx context.Context, userID uuid.UUID, amount int64) error {
	m.balances[userID] += amount
	m.credits++
	return nil
}

// stubNotifier captures published events in order.
type stubNotifier struct {
	events   []string
	payloads []any
	err      error
}

func (n *stubNotifier) Send(ctx context.Context, userID uuid.UUID, eventType string, payload any) error {
	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, eventType)
	n.payloads = append(n.payloads, payload)
	return nil
}

// stubLocker grants every acquisition unless busy is set.
type stubLocker struct {
	busy     bool
	acquired int
	released int
}

func (l *stubLocker) Acquire(ctx context.Context, subscriptionID uuid.UUID) (func(), error) {
	if l.busy {
		return nil, ErrSubscriptionBusy
	}
	l.acquired++
	return func() { l.released++ }, nil
}

func newTestService(repo *memRepo) (*Service, *stubNotifier, *stubLocker) {
	notifier := &stubNotifier{}
	locker := &stubLocker{}
	return NewService(repo, notifier, locker, testLogger()), notifier, locker
}

// activeSubscription builds a funded two-drop subscription with its linked
// order, registered in the repo.
func activeSubscription(t *testing.T, repo *memRepo, balance int64) *domain.Subscription {
	t.Helper()

	userID := uuid.New()
	start := time.Now().UTC().Add(-24 * time.Hour)
	second := start.Add(30 * 24 * time.Hour)

	order := &domain.Order{
		ID:              uuid.New(),
		UserID:          userID,
		TotalAmount:     10000,
		RemainingAmount: 10000,
		Status:          domain.OrderPending,
	}
	repo.putOrder(order)
	repo.balances[userID] = balance

	sub := &domain.Subscription{
		ID:          uuid.New(),
		UserID:      userID,
		OrderID:     order.ID,
		PlanType:    domain.PlanPaySmallSmall,
		Frequency:   domain.FrequencyMonthly,
		TotalAmount: 10000,
		DropAmount:  5000,
		TotalDrops:  2,
		Drops: []domain.Drop{
			{ScheduledDate: start, Amount: 5000},
			{ScheduledDate: second, Amount: 5000},
		},
		StartDate: start,
		Status:    domain.StatusActive,
	}
	sub.RecomputeNextDueDate()
	repo.putSub(sub)
	return sub
}
