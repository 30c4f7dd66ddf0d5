/**
 * @description
 * The conflict detector and resolver. It inspects one subscription together
 * with its linked order and the user's wallet, files a ConflictRecord for
 * every invariant violation it finds, and attempts exactly one automatic
 * strategy per class per detection pass.
 *
 * @notes
 * - Money-accounting conflicts (payment mismatch, duplicate payment refs)
 *   are never auto-resolved; they always escalate to manual review. A
 *   heuristic that silently "fixes" accounting would hide real losses.
 * - Status mismatch and schedule conflicts are self-evident data repairs and
 *   are fixed directly, bypassing the guarded transition table.
 * - An existing open record of a class suppresses re-detection, so an
 *   escalated record is never auto-retried on the next sweep.
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

// paymentTolerance is the accepted drift, in kobo, between the subscription's
// amount-paid total and the order's paid total before a mismatch is flagged.
const paymentTolerance = 1

// ConflictDetector checks subscription/order/wallet invariants and repairs
// what is safe to repair.
type ConflictDetector struct {
	repo     store.Repository
	notifier Notifier
	logger   *slog.Logger
}

// NewConflictDetector creates a detector.
func NewConflictDetector(repo store.Repository, notifier Notifier, logger *slog.Logger) *ConflictDetector {
	return &ConflictDetector{repo: repo, notifier: notifier, logger: logger}
}

// ScanSubscription runs all four invariant classes against one subscription
// and returns the records created in this pass.
func (d *ConflictDetector) ScanSubscription(ctx context.Context, subscriptionID uuid.UUID) ([]domain.ConflictRecord, error) {
	sub, err := d.repo.GetSubscriptionByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var created []domain.ConflictRecord

	if rec := d.detectPaymentMismatch(ctx, sub, now); rec != nil {
		created = append(created, *rec)
	}
	if rec := d.detectDuplicatePayment(ctx, sub, now); rec != nil {
		created = append(created, *rec)
	}
	if rec := d.detectStatusMismatch(ctx, sub, now); rec != nil {
		created = append(created, *rec)
	}
	if rec := d.detectScheduleConflict(ctx, sub, now); rec != nil {
		created = append(created, *rec)
	}
	if rec := d.detectInsufficientFunds(ctx, sub, now); rec != nil {
		created = append(created, *rec)
	}

	return created, nil
}

// hasOpenConflict suppresses duplicate records for a class already under
// review or escalated.
func (d *ConflictDetector) hasOpenConflict(ctx context.Context, subID uuid.UUID, ctype domain.ConflictType) bool {
	_, err := d.repo.FindOpenConflict(ctx, subID, ctype)
	return err == nil
}

func (d *ConflictDetector) file(ctx context.Context, rec *domain.ConflictRecord) *domain.ConflictRecord {
	if err := d.repo.CreateConflictRecord(ctx, rec); err != nil {
		d.logger.Error("failed to persist conflict record",
			"subscription_id", rec.SubscriptionID, "type", rec.Type, "error", err)
		return nil
	}
	d.logger.Warn("conflict detected",
		"subscription_id", rec.SubscriptionID, "type", rec.Type,
		"status", rec.Status, "priority", rec.Priority, "description", rec.Description)
	return rec
}

// detectPaymentMismatch compares the subscription's paid total with the
// linked order's. No safe automatic fix exists; always escalated.
func (d *ConflictDetector) detectPaymentMismatch(ctx context.Context, sub *domain.Subscription, now time.Time) *domain.ConflictRecord {
	if d.hasOpenConflict(ctx, sub.ID, domain.ConflictPaymentMismatch) {
		return nil
	}
	order, err := d.repo.GetOrder(ctx, sub.OrderID)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			return d.file(ctx, &domain.ConflictRecord{
				ID:             uuid.New(),
				SubscriptionID: sub.ID,
				UserID:         sub.UserID,
				Type:           domain.ConflictPaymentMismatch,
				Description:    fmt.Sprintf("linked order %s does not exist", sub.OrderID),
				DetectedAt:     now,
				Status:         domain.ConflictEscalated,
				Priority:       domain.PriorityCritical,
				Resolution:     "escalated: accounting conflicts are never auto-resolved",
				AutoAttempts:   1,
			})
		}
		d.logger.Error("order lookup failed during conflict scan", "subscription_id", sub.ID, "error", err)
		return nil
	}

	diff := sub.AmountPaid - order.PaidAmount
	if diff < 0 {
		diff = -diff
	}
	if diff <= paymentTolerance {
		return nil
	}
	return d.file(ctx, &domain.ConflictRecord{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		Type:           domain.ConflictPaymentMismatch,
		Description:    fmt.Sprintf("subscription amount_paid=%d disagrees with order paid_amount=%d (diff=%d)", sub.AmountPaid, order.PaidAmount, diff),
		DetectedAt:     now,
		Status:         domain.ConflictEscalated,
		Priority:       domain.PriorityHigh,
		Resolution:     "escalated: accounting conflicts are never auto-resolved",
		AutoAttempts:   1,
	})
}

// detectDuplicatePayment flags repeated payment references among paid drops
// within this subscription. Always escalated.
func (d *ConflictDetector) detectDuplicatePayment(ctx context.Context, sub *domain.Subscription, now time.Time) *domain.ConflictRecord {
	if d.hasOpenConflict(ctx, sub.ID, domain.ConflictDuplicatePayment) {
		return nil
	}
	seen := make(map[string]int)
	for i := range sub.Drops {
		if !sub.Drops[i].IsPaid || sub.Drops[i].PaymentRef == "" {
			continue
		}
		if first, dup := seen[sub.Drops[i].PaymentRef]; dup {
			return d.file(ctx, &domain.ConflictRecord{
				ID:             uuid.New(),
				SubscriptionID: sub.ID,
				UserID:         sub.UserID,
				Type:           domain.ConflictDuplicatePayment,
				Description:    fmt.Sprintf("drops %d and %d share payment reference %q", first, i, sub.Drops[i].PaymentRef),
				DetectedAt:     now,
				Status:         domain.ConflictEscalated,
				Priority:       domain.PriorityCritical,
				Resolution:     "escalated: accounting conflicts are never auto-resolved",
				AutoAttempts:   1,
			})
		}
		seen[sub.Drops[i].PaymentRef] = i
	}
	return nil
}

// detectStatusMismatch repairs self-evident status drift: all drops paid but
// not COMPLETED, or ACTIVE with nothing left to pay.
func (d *ConflictDetector) detectStatusMismatch(ctx context.Context, sub *domain.Subscription, now time.Time) *domain.ConflictRecord {
	overComplete := sub.DropsPaid >= sub.TotalDrops && sub.Status != domain.StatusCompleted
	activeEmpty := sub.Status == domain.StatusActive && sub.UnpaidCount() == 0
	if !overComplete && !activeEmpty {
		return nil
	}
	if d.hasOpenConflict(ctx, sub.ID, domain.ConflictStatusMismatch) {
		return nil
	}

	rec := &domain.ConflictRecord{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		Type:           domain.ConflictStatusMismatch,
		Description:    fmt.Sprintf("drops_paid=%d/%d with status=%s is_completed=%t", sub.DropsPaid, sub.TotalDrops, sub.Status, sub.IsCompleted),
		DetectedAt:     now,
		Status:         domain.ConflictPending,
		Priority:       domain.PriorityMedium,
	}
	if rec = d.file(ctx, rec); rec == nil {
		return nil
	}

	// Force-reconcile: a self-evident data repair, bypassing the guard table.
	sub.Status = domain.StatusCompleted
	sub.IsCompleted = true
	if sub.EndDate == nil {
		end := now
		sub.EndDate = &end
	}
	sub.NextDueDate = nil
	rec.AutoAttempts = 1
	if err := d.repo.UpdateSubscription(ctx, sub); err != nil {
		d.logger.Error("status mismatch repair failed", "subscription_id", sub.ID, "error", err)
		rec.Status = domain.ConflictEscalated
		rec.Resolution = fmt.Sprintf("automatic completion failed: %v", err)
	} else {
		rec.Status = domain.ConflictResolved
		rec.Resolution = "force-completed subscription"
		rec.ResolvedAt = &now
	}
	d.persistResolution(ctx, rec)
	return rec
}

// detectScheduleConflict flags overdue unpaid drops and a next-due date out
// of line with the earliest unpaid drop, realigning the latter.
func (d *ConflictDetector) detectScheduleConflict(ctx context.Context, sub *domain.Subscription, now time.Time) *domain.ConflictRecord {
	if sub.UnpaidCount() == 0 {
		return nil
	}

	overdue := 0
	for i := range sub.Drops {
		if !sub.Drops[i].IsPaid && sub.Drops[i].ScheduledDate.Before(now.Truncate(24*time.Hour)) {
			overdue++
		}
	}
	idx := sub.FirstUnpaidIndex()
	earliest := sub.Drops[idx].ScheduledDate
	misaligned := sub.NextDueDate == nil || !sub.NextDueDate.Equal(earliest)

	if overdue == 0 && !misaligned {
		return nil
	}
	if d.hasOpenConflict(ctx, sub.ID, domain.ConflictScheduleConflict) {
		return nil
	}

	rec := &domain.ConflictRecord{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		Type:           domain.ConflictScheduleConflict,
		Description:    fmt.Sprintf("overdue_drops=%d next_due_misaligned=%t", overdue, misaligned),
		DetectedAt:     now,
		Status:         domain.ConflictPending,
		Priority:       domain.PriorityLow,
	}
	if rec = d.file(ctx, rec); rec == nil {
		return nil
	}

	// Overdue drops with a correct next-due date are the sweep's problem;
	// the record stays pending until payment catches the schedule up.
	if !misaligned {
		return rec
	}

	rec.AutoAttempts = 1
	sub.RecomputeNextDueDate()
	if err := d.repo.UpdateSubscription(ctx, sub); err != nil {
		d.logger.Error("schedule realignment failed", "subscription_id", sub.ID, "error", err)
		rec.Status = domain.ConflictEscalated
		rec.Resolution = fmt.Sprintf("realignment failed: %v", err)
		d.persistResolution(ctx, rec)
		return rec
	}
	rec.Status = domain.ConflictResolved
	rec.Resolution = "realigned next due date with earliest unpaid drop"
	rec.ResolvedAt = &now
	d.persistResolution(ctx, rec)
	return rec
}

// detectInsufficientFunds proactively flags an active subscription whose
// wallet already cannot cover the next drop, pausing it before the sweep
// burns retry budget on it.
func (d *ConflictDetector) detectInsufficientFunds(ctx context.Context, sub *domain.Subscription, now time.Time) *domain.ConflictRecord {
	if sub.Status != domain.StatusActive {
		return nil
	}
	idx := sub.FirstUnpaidIndex()
	if idx == -1 {
		return nil
	}
	balance, err := d.repo.GetSpendableBalance(ctx, sub.UserID)
	if err != nil {
		if !errors.Is(err, store.ErrWalletNotFound) {
			d.logger.Error("wallet lookup failed during conflict scan", "subscription_id", sub.ID, "error", err)
			return nil
		}
		balance = 0
	}
	required := sub.Drops[idx].Amount
	if balance >= required {
		return nil
	}
	if d.hasOpenConflict(ctx, sub.ID, domain.ConflictInsufficientFunds) {
		return nil
	}

	rec := &domain.ConflictRecord{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		Type:           domain.ConflictInsufficientFunds,
		Description:    fmt.Sprintf("next drop needs %d, balance %d", required, balance),
		DetectedAt:     now,
		Status:         domain.ConflictPending,
		Priority:       domain.PriorityMedium,
	}
	if rec = d.file(ctx, rec); rec == nil {
		return nil
	}

	// Same output as the retry coordinator's final-failure path, reached
	// proactively instead of reactively.
	rec.AutoAttempts = 1
	sub.Status = domain.StatusPaused
	if err := d.repo.UpdateSubscription(ctx, sub); err != nil {
		d.logger.Error("proactive pause failed", "subscription_id", sub.ID, "error", err)
		rec.Status = domain.ConflictEscalated
		rec.Resolution = fmt.Sprintf("pause failed: %v", err)
		d.persistResolution(ctx, rec)
		return rec
	}

	payload := domain.PaymentEventPayload{
		SubscriptionID: sub.ID,
		OrderID:        sub.OrderID,
		DropIndex:      idx,
		Amount:         required,
		DropsPaid:      sub.DropsPaid,
		TotalDrops:     sub.TotalDrops,
		Reason:         "wallet balance below next scheduled payment; top up your wallet and resume",
		Timestamp:      now,
	}
	if err := d.notifier.Send(ctx, sub.UserID, domain.EventSubscriptionPaused, payload); err != nil {
		d.logger.Warn("failed to publish pause event", "subscription_id", sub.ID, "error", err)
	}

	rec.Status = domain.ConflictResolved
	rec.Resolution = "paused subscription pending wallet top-up"
	rec.ResolvedAt = &now
	d.persistResolution(ctx, rec)
	return rec
}

func (d *ConflictDetector) persistResolution(ctx context.Context, rec *domain.ConflictRecord) {
	if err := d.repo.UpdateConflictRecord(ctx, rec); err != nil {
		d.logger.Error("failed to persist conflict resolution",
			"conflict_id", rec.ID, "subscription_id", rec.SubscriptionID, "error", err)
	}
}
