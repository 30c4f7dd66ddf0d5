/**
 * @description
 * The drop processor executes one installment: it validates the subscription
 * and its linked order, debits the user's wallet, marks the drop paid,
 * updates aggregate counters, syncs the order's payment history, and detects
 * completion. Both the manual endpoint and the automatic sweep funnel here.
 *
 * @notes
 * - Work on a subscription is serialized through the Locker so a manual call
 *   and the daily sweep can never double-pay the same drop.
 * - The debit, the drop/counter update, and the order sync are made as atomic
 *   as the collaborators allow: a failed subscription update after a debit is
 *   compensated with a credit, and the conflict detector is the backstop for
 *   drift this code cannot prevent.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rugue/forage-stores-backend-sub000/internal/domain"
	"github.com/rugue/forage-stores-backend-sub000/internal/store"
)

// ProcessDropOptions tunes one processor invocation.
type ProcessDropOptions struct {
	// ForceMarkPaid records the drop as paid without touching the wallet.
	// Administrative override for payments that happened outside the balance
	// system.
	ForceMarkPaid bool
	// ExplicitAmount overrides the drop's scheduled amount. Only honored
	// together with ForceMarkPaid; for wallet-debited payments the schedule
	// is authoritative.
	ExplicitAmount int64
	// IdempotencyRef is the payment reference to record; one is generated
	// when empty.
	IdempotencyRef string
}

// ProcessNextDrop settles the earliest unpaid drop of a subscription.
func (s *Service) ProcessNextDrop(ctx context.Context, subscriptionID uuid.UUID, actor domain.Actor, opts ProcessDropOptions) (*domain.Subscription, error) {
	if opts.ExplicitAmount > 0 && !opts.ForceMarkPaid {
		return nil, ErrAmountMismatch
	}
	if opts.ForceMarkPaid && !actor.IsAdmin() {
		return nil, fmt.Errorf("force mark paid is an administrative override: %w", ErrForbidden)
	}

	release, err := s.locks.Acquire(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	defer release()

	sub, err := s.repo.GetSubscriptionByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.IsCompleted || sub.Status == domain.StatusCompleted {
		return nil, ErrAlreadyCompleted
	}
	if sub.Status != domain.StatusActive {
		return nil, fmt.Errorf("%w: status=%s", ErrNotActive, sub.Status)
	}

	dropIdx := sub.FirstUnpaidIndex()
	if dropIdx == -1 {
		return nil, ErrNoPendingDrops
	}
	drop := &sub.Drops[dropIdx]

	// A missing order is a fatal integrity error, never retried.
	order, err := s.repo.GetOrder(ctx, sub.OrderID)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			s.recordIntegrityConflict(ctx, sub, fmt.Sprintf("linked order %s missing during drop processing", sub.OrderID))
		}
		return nil, fmt.Errorf("failed to resolve linked order: %w", err)
	}

	amount := drop.Amount
	if opts.ForceMarkPaid && opts.ExplicitAmount > 0 {
		amount = opts.ExplicitAmount
	}

	if !opts.ForceMarkPaid {
		balance, err := s.repo.GetSpendableBalance(ctx, sub.UserID)
		if err != nil {
			if errors.Is(err, store.ErrWalletNotFound) {
				s.recordIntegrityConflict(ctx, sub, fmt.Sprintf("wallet missing for user %s during drop processing", sub.UserID))
			}
			return nil, fmt.Errorf("failed to read wallet balance: %w", err)
		}
		if balance < amount {
			return nil, fmt.Errorf("drop %d needs %d, balance %d: %w", dropIdx, amount, balance, store.ErrInsufficientFunds)
		}
		if err := s.repo.DebitWallet(ctx, sub.UserID, amount); err != nil {
			return nil, fmt.Errorf("failed to debit wallet: %w", err)
		}
	}

	paymentRef := opts.IdempotencyRef
	if paymentRef == "" {
		paymentRef = fmt.Sprintf("drp-%s", uuid.New())
	}

	now := time.Now().UTC()
	drop.IsPaid = true
	drop.PaidDate = &now
	drop.PaymentRef = paymentRef
	// The drop records what was actually paid, so the paid-drop sum stays
	// equal to AmountPaid even when an override amount differs from the
	// scheduled one.
	drop.Amount = amount
	sub.DropsPaid++
	sub.AmountPaid += amount

	terminal := sub.DropsPaid >= sub.TotalDrops
	if terminal {
		sub.Status = domain.StatusCompleted
		sub.IsCompleted = true
		sub.EndDate = &now
		sub.NextDueDate = nil
	} else {
		sub.RecomputeNextDueDate()
	}

	if err := s.repo.UpdateSubscription(ctx, sub); err != nil {
		// The wallet was already debited; put the money back.
		if !opts.ForceMarkPaid {
			if refundErr := s.repo.CreditWallet(ctx, sub.UserID, amount); refundErr != nil {
				s.logger.Error("CRITICAL: failed to refund debit after subscription update failure",
					"subscription_id", sub.ID, "user_id", sub.UserID, "amount", amount, "error", refundErr)
			}
		}
		return nil, fmt.Errorf("failed to persist drop payment: %w", err)
	}

	s.syncOrderAfterPayment(ctx, sub, order, amount, paymentRef, opts.ForceMarkPaid, now)

	event := domain.EventPaymentSuccess
	if terminal {
		event = domain.EventSubscriptionCompleted
	}
	payload := domain.PaymentEventPayload{
		SubscriptionID: sub.ID,
		OrderID:        sub.OrderID,
		DropIndex:      dropIdx,
		Amount:         amount,
		PaymentRef:     paymentRef,
		DropsPaid:      sub.DropsPaid,
		TotalDrops:     sub.TotalDrops,
		Timestamp:      now,
	}
	if err := s.notifier.Send(ctx, sub.UserID, event, payload); err != nil {
		s.logger.Warn("failed to publish payment event",
			"subscription_id", sub.ID, "event", event, "error", err)
	}

	s.logger.Info("drop processed",
		"subscription_id", sub.ID, "drop_index", dropIdx, "amount", amount,
		"payment_ref", paymentRef, "drops_paid", sub.DropsPaid,
		"total_drops", sub.TotalDrops, "completed", terminal, "actor_role", actor.Role)
	return sub, nil
}

// syncOrderAfterPayment appends the payment to the linked order and advances
// its status when fully paid. Failures here are logged, not propagated: the
// drop is already settled and the conflict detector reconciles any drift.
func (s *Service) syncOrderAfterPayment(ctx context.Context, sub *domain.Subscription, order *domain.Order, amount int64, paymentRef string, external bool, paidAt time.Time) {
	method := "wallet"
	if external {
		method = "external"
	}
	payment := domain.OrderPayment{
		Amount:     amount,
		Method:     method,
		Status:     "success",
		PaidAt:     paidAt,
		PaymentRef: paymentRef,
	}
	if err := s.repo.AppendOrderPayment(ctx, order.ID, payment); err != nil {
		s.logger.Error("failed to append payment to order; conflict sweep will reconcile",
			"subscription_id", sub.ID, "order_id", order.ID, "payment_ref", paymentRef, "error", err)
		return
	}
	if err := s.repo.AdvanceOrderStatusIfFullyPaid(ctx, order.ID); err != nil {
		s.logger.Error("failed to advance order status",
			"order_id", order.ID, "error", err)
	}
}

// recordIntegrityConflict files a conflict record for fatal integrity errors
// so the subscription is investigated instead of silently dropping out of
// future sweeps.
func (s *Service) recordIntegrityConflict(ctx context.Context, sub *domain.Subscription, description string) {
	if _, err := s.repo.FindOpenConflict(ctx, sub.ID, domain.ConflictPaymentMismatch); err == nil {
		return // already under review
	}
	rec := &domain.ConflictRecord{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		Type:           domain.ConflictPaymentMismatch,
		Description:    description,
		DetectedAt:     time.Now().UTC(),
		Status:         domain.ConflictEscalated,
		Priority:       domain.PriorityCritical,
		Resolution:     "escalated: integrity error during processing",
	}
	if err := s.repo.CreateConflictRecord(ctx, rec); err != nil {
		s.logger.Error("failed to record integrity conflict",
			"subscription_id", sub.ID, "error", err)
	}
}
