/**
 * @description
 * This file defines the repository interfaces the drop-payment engine depends
 * on, together with the sentinel errors the application layer branches on.
 * Orders and wallets are collaborator aggregates owned elsewhere; the engine
 * talks to them only through these narrow contracts, which also keeps the
 * business logic testable with hand-rolled stubs.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/rugue/forage-stores-backend-sub000/internal/domain"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrSubscriptionExists   = errors.New("subscription already exists for order")
	ErrOrderNotFound        = errors.New("order not found")
	ErrWalletNotFound       = errors.New("wallet not found")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrConflictNotFound     = errors.New("conflict record not found")
)

// SubscriptionRepository persists the subscription aggregate and its conflict
// records.
type SubscriptionRepository interface {
	CreateSubscription(ctx context.Context, sub *domain.Subscription) error
	GetSubscriptionByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error)
	GetSubscriptionByOrderID(ctx context.Context, orderID uuid.UUID) (*domain.Subscription, error)
	UpdateSubscription(ctx context.Context, sub *domain.Subscription) error
	FindSubscriptionsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Subscription, error)
	// FindDueOn returns active, not-completed subscriptions whose next due
	// date falls within the given calendar day (UTC).
	FindDueOn(ctx context.Context, day time.Time) ([]domain.Subscription, error)
	FindDueToday(ctx context.Context) ([]domain.Subscription, error)
	// ListOpenSubscriptions returns subscriptions still subject to conflict
	// sweeps (active and paused).
	ListOpenSubscriptions(ctx context.Context) ([]domain.Subscription, error)

	CreateConflictRecord(ctx context.Context, rec *domain.ConflictRecord) error
	UpdateConflictRecord(ctx context.Context, rec *domain.ConflictRecord) error
	// FindOpenConflict returns an unresolved (pending or escalated) record of
	// the given type for the subscription, or ErrConflictNotFound. Escalated
	// records count as open so detection passes do not refile them.
	FindOpenConflict(ctx context.Context, subscriptionID uuid.UUID, conflictType domain.ConflictType) (*domain.ConflictRecord, error)
	ListConflictsBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]domain.ConflictRecord, error)
	ListConflictsByStatus(ctx context.Context, status domain.ConflictStatus, limit int) ([]domain.ConflictRecord, error)
}

// OrderStore is the contract against the order aggregate.
type OrderStore interface {
	GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	AppendOrderPayment(ctx context.Context, orderID uuid.UUID, payment domain.OrderPayment) error
	// AdvanceOrderStatusIfFullyPaid moves a fully paid order one step forward
	// (pending -> paid). It never regresses an order's status.
	AdvanceOrderStatusIfFullyPaid(ctx context.Context, orderID uuid.UUID) error
}

// WalletStore is the contract against the internal balance ledger.
type WalletStore interface {
	GetSpendableBalance(ctx context.Context, userID uuid.UUID) (int64, error)
	// DebitWallet atomically decrements the balance, returning
	// ErrInsufficientFunds when the spendable balance is below the amount.
	DebitWallet(ctx context.Context, userID uuid.UUID, amount int64) error
	CreditWallet(ctx context.Context, userID uuid.UUID, amount int64) error
}

// Repository is the full set of persistence operations the service is wired
// with. The postgres implementation satisfies all of it; tests stub the slices
// they need.
type Repository interface {
	SubscriptionRepository
	OrderStore
	WalletStore
}
