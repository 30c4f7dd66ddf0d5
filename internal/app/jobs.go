/**
 * @description
 * Scheduled job implementations: the daily billing sweep over due
 * subscriptions, the payment-reminder pass, the conflict sweep, and the
 * retry-queue poller. Each subscription is processed independently; one
 * failure never aborts the sweep for others.
 */

package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rugue/forage-stores-backend-sub000/internal/domain"
	"github.com/rugue/forage-stores-backend-sub000/internal/store"
)

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	repo     store.Repository
	service  DropProcessor
	retries  *RetryCoordinator
	detector *ConflictDetector
	notifier Notifier
	logger   *slog.Logger
}

// NewJobs creates a new Jobs runner.
func NewJobs(repo store.Repository, service DropProcessor, retries *RetryCoordinator, detector *ConflictDetector, notifier Notifier, logger *slog.Logger) *Jobs {
	return &Jobs{
		repo:     repo,
		service:  service,
		retries:  retries,
		detector: detector,
		notifier: notifier,
		logger:   logger,
	}
}

// ProcessDueSubscriptions is the daily billing sweep. It settles every drop
// due today with the system actor; failures route into the retry coordinator
// instead of surfacing to the user.
func (j *Jobs) ProcessDueSubscriptions() {
	j.logger.Info("starting due subscription sweep")
	ctx := context.Background()

	due, err := j.repo.FindDueToday(ctx)
	if err != nil {
		j.logger.Error("failed to load due subscriptions", "error", err)
		return
	}
	if len(due) == 0 {
		j.logger.Info("no subscriptions due today")
		return
	}
	j.logger.Info("found due subscriptions", "count", len(due))

	for i := range due {
		j.processDue(ctx, &due[i])
	}

	j.logger.Info("due subscription sweep finished")
}

func (j *Jobs) processDue(ctx context.Context, sub *domain.Subscription) {
	idx := sub.FirstUnpaidIndex()
	if idx == -1 {
		return
	}

	// Cheap balance pre-check: an underfunded subscription is skipped and
	// parked with the retry coordinator rather than hard-failing the sweep.
	balance, err := j.repo.GetSpendableBalance(ctx, sub.UserID)
	if err == nil && balance < sub.Drops[idx].Amount {
		j.logger.Info("skipping underfunded subscription",
			"subscription_id", sub.ID, "required", sub.Drops[idx].Amount, "balance", balance)
		if schedErr := j.retries.ScheduleRetry(ctx, sub.ID, idx, 1, "insufficient funds at sweep time"); schedErr != nil {
			j.logger.Error("failed to schedule retry for underfunded subscription",
				"subscription_id", sub.ID, "error", schedErr)
		}
		return
	}

	_, err = j.service.ProcessNextDrop(ctx, sub.ID, domain.SystemActor, ProcessDropOptions{})
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, ErrAlreadyCompleted), errors.Is(err, ErrNoPendingDrops), errors.Is(err, ErrNotActive):
		// Stale due entry; nothing to retry.
		j.logger.Info("due subscription no longer processable", "subscription_id", sub.ID, "reason", err)
	case errors.Is(err, ErrSubscriptionBusy):
		j.logger.Info("subscription locked by another worker; sweep moves on", "subscription_id", sub.ID)
	case errors.Is(err, store.ErrOrderNotFound), errors.Is(err, store.ErrWalletNotFound):
		// Integrity errors are not retried; the processor already filed a
		// conflict record for investigation.
		j.logger.Error("integrity error during sweep", "subscription_id", sub.ID, "error", err)
	default:
		// Insufficient funds and other transient failures go to the
		// bounded retry path.
		j.logger.Warn("drop processing failed; routing to retry coordinator",
			"subscription_id", sub.ID, "error", err)
		if schedErr := j.retries.ScheduleRetry(ctx, sub.ID, idx, 1, err.Error()); schedErr != nil {
			j.logger.Error("failed to schedule retry", "subscription_id", sub.ID, "error", schedErr)
		}
	}
}

// SendPaymentReminders notifies users whose next drop is due tomorrow.
func (j *Jobs) SendPaymentReminders() {
	j.logger.Info("starting payment reminder job")
	ctx := context.Background()

	tomorrow := time.Now().UTC().Add(24 * time.Hour)
	due, err := j.repo.FindDueOn(ctx, tomorrow)
	if err != nil {
		j.logger.Error("failed to load subscriptions due tomorrow", "error", err)
		return
	}

	for i := range due {
		sub := &due[i]
		idx := sub.FirstUnpaidIndex()
		if idx == -1 {
			continue
		}
		payload := domain.PaymentEventPayload{
			SubscriptionID: sub.ID,
			OrderID:        sub.OrderID,
			DropIndex:      idx,
			Amount:         sub.Drops[idx].Amount,
			DropsPaid:      sub.DropsPaid,
			TotalDrops:     sub.TotalDrops,
			Timestamp:      time.Now().UTC(),
		}
		if err := j.notifier.Send(ctx, sub.UserID, domain.EventPaymentReminder, payload); err != nil {
			j.logger.Warn("failed to publish payment reminder",
				"subscription_id", sub.ID, "error", err)
		}
	}

	j.logger.Info("payment reminder job finished", "count", len(due))
}

// ScanForConflicts runs the conflict detector over every open subscription.
func (j *Jobs) ScanForConflicts() {
	j.logger.Info("starting conflict sweep")
	ctx := context.Background()

	open, err := j.repo.ListOpenSubscriptions(ctx)
	if err != nil {
		j.logger.Error("failed to load open subscriptions", "error", err)
		return
	}

	detected := 0
	for i := range open {
		records, err := j.detector.ScanSubscription(ctx, open[i].ID)
		if err != nil {
			j.logger.Error("conflict scan failed", "subscription_id", open[i].ID, "error", err)
			continue
		}
		detected += len(records)
	}

	j.logger.Info("conflict sweep finished", "scanned", len(open), "detected", detected)
}

// RunRetryQueue drains due retry jobs. Scheduled frequently; eligibility is
// enforced by the queue, not by this cadence.
func (j *Jobs) RunRetryQueue() {
	j.retries.RunDue(context.Background())
}
