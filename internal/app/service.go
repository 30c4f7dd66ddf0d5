/**
 * @description
 * This file contains the core business logic for the subscription engine. The
 * `Service` struct orchestrates subscription creation from eligible orders,
 * guarded lifecycle transitions, and reads, coordinating between the
 * repository, the wallet and order collaborators, and the event producer.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rugue/forage-stores-backend-sub000/internal/domain"
	"github.com/rugue/forage-stores-backend-sub000/internal/store"
)

var (
	ErrNoPendingDrops   = errors.New("no pending drops")
	ErrAlreadyCompleted = errors.New("subscription already completed")
	ErrNotActive        = errors.New("subscription is not active")
	ErrSubscriptionBusy = errors.New("subscription is being processed")
	ErrAmountMismatch   = errors.New("explicit amount requires force mark paid")
	ErrOrderNotPayable  = errors.New("order has no remaining amount to schedule")
	ErrForbidden        = errors.New("actor may not perform this operation")
)

// Notifier delivers typed events to a user. Delivery is fire-and-forget and
// at-least-once; the engine never consumes a return payload.
type Notifier interface {
	Send(ctx context.Context, userID uuid.UUID, eventType string, payload any) error
}

// Locker serializes work on a single subscription across the manual endpoint,
// the daily sweep, and retry jobs.
type Locker interface {
	// Acquire returns a release func, or ErrSubscriptionBusy when another
	// holder is active.
	Acquire(ctx context.Context, subscriptionID uuid.UUID) (release func(), err error)
}

// Service provides the business logic for drop-payment subscriptions.
type Service struct {
	repo     store.Repository
	notifier Notifier
	locks    Locker
	logger   *slog.Logger
}

// NewService creates a new subscription engine service.
func NewService(repo store.Repository, notifier Notifier, locks Locker, logger *slog.Logger) *Service {
	return &Service{repo: repo, notifier: notifier, locks: locks, logger: logger}
}

// CreateSubscriptionRequest carries the inputs for converting an order into a
// drop-payment subscription.
type CreateSubscriptionRequest struct {
	OrderID   uuid.UUID
	PlanType  domain.PaymentPlanType
	Frequency domain.PaymentFrequency
}

// CreateSubscriptionFromOrder converts an eligible order into a subscription
// with a generated drop schedule. Any amount the order has already collected
// becomes a pre-paid drop 0.
func (s *Service) CreateSubscriptionFromOrder(ctx context.Context, actor domain.Actor, req CreateSubscriptionRequest) (*domain.Subscription, error) {
	order, err := s.repo.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve order: %w", err)
	}
	if !actor.IsAdmin() && actor.UserID != order.UserID {
		return nil, fmt.Errorf("actor %s may not create a subscription for order %s: %w", actor.UserID, order.ID, ErrForbidden)
	}
	if order.RemainingAmount <= 0 {
		return nil, ErrOrderNotPayable
	}
	if existing, err := s.repo.GetSubscriptionByOrderID(ctx, req.OrderID); err == nil && existing != nil {
		return nil, store.ErrSubscriptionExists
	} else if err != nil && !errors.Is(err, store.ErrSubscriptionNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	schedule, err := GenerateSchedule(order.TotalAmount, req.PlanType, req.Frequency, order.PaidAmount, now)
	if err != nil {
		return nil, err
	}

	sub := &domain.Subscription{
		ID:          uuid.New(),
		UserID:      order.UserID,
		OrderID:     order.ID,
		PlanType:    req.PlanType,
		TotalAmount: order.TotalAmount,
		DropAmount:  schedule.DropAmount,
		TotalDrops:  schedule.TotalDrops,
		Drops:       schedule.Drops,
		StartDate:   now,
		Status:      domain.StatusActive,
	}
	if req.PlanType == domain.PlanPaySmallSmall {
		sub.Frequency = req.Frequency
	}
	for i := range sub.Drops {
		if sub.Drops[i].IsPaid {
			sub.DropsPaid++
			sub.AmountPaid += sub.Drops[i].Amount
		}
	}
	sub.RecomputeNextDueDate()

	if err := s.repo.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	s.logger.Info("subscription created",
		"subscription_id", sub.ID, "order_id", sub.OrderID, "user_id", sub.UserID,
		"plan_type", sub.PlanType, "total_drops", sub.TotalDrops, "drop_amount", sub.DropAmount)
	return sub, nil
}

// GetSubscription fetches one subscription, enforcing ownership for
// non-admin actors.
func (s *Service) GetSubscription(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.Subscription, error) {
	sub, err := s.repo.GetSubscriptionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && actor.Role != domain.RoleSystem && actor.UserID != sub.UserID {
		return nil, store.ErrSubscriptionNotFound
	}
	return sub, nil
}

// ListSubscriptionsByUser lists a user's subscriptions, newest first.
func (s *Service) ListSubscriptionsByUser(ctx context.Context, userID uuid.UUID) ([]domain.Subscription, error) {
	return s.repo.FindSubscriptionsByUserID(ctx, userID)
}

// RequestTransition applies a named lifecycle action through the guarded
// transition table and persists the result.
func (s *Service) RequestTransition(ctx context.Context, actor domain.Actor, id uuid.UUID, action TransitionAction) (*domain.Subscription, error) {
	sub, err := s.repo.GetSubscriptionByID(ctx, id)
	if err != nil {
		return nil, err
	}

	target, ok := actionTarget(sub.Status, action)
	if !ok {
		return nil, fmt.Errorf("no %s transition from %s: %w", action, sub.Status, ErrTransitionNotAllowed)
	}

	tctx := TransitionContext{Actor: actor}
	if action == ActionResume {
		balance, err := s.repo.GetSpendableBalance(ctx, sub.UserID)
		if err != nil && !errors.Is(err, store.ErrWalletNotFound) {
			return nil, fmt.Errorf("failed to read balance for resume guard: %w", err)
		}
		tctx.SpendableBalance = balance
	}

	if err := ApplyTransition(sub, target, action, tctx, time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	s.logger.Info("subscription transition applied",
		"subscription_id", sub.ID, "action", action, "status", sub.Status, "actor_role", actor.Role)
	return sub, nil
}

// MarkExpired is the external expiry hook. EXPIRED is never reached through
// the transition table; the surrounding lifecycle layer calls this directly.
func (s *Service) MarkExpired(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	sub, err := s.repo.GetSubscriptionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status == domain.StatusCompleted || sub.Status == domain.StatusExpired {
		return sub, nil
	}
	now := time.Now().UTC()
	sub.Status = domain.StatusExpired
	sub.EndDate = &now
	sub.NextDueDate = nil
	if err := s.repo.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	s.logger.Info("subscription expired", "subscription_id", sub.ID)
	return sub, nil
}

// ListConflicts returns conflict records for one subscription.
func (s *Service) ListConflicts(ctx context.Context, subscriptionID uuid.UUID) ([]domain.ConflictRecord, error) {
	return s.repo.ListConflictsBySubscription(ctx, subscriptionID)
}

// ListConflictsByStatus returns the review queue in a given status.
func (s *Service) ListConflictsByStatus(ctx context.Context, status domain.ConflictStatus, limit int) ([]domain.ConflictRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListConflictsByStatus(ctx, status, limit)
}
