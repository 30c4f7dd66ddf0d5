/**
 * @description
 * The retry coordinator. When automatic execution fails to settle a drop, a
 * retry job is parked in a Redis delayed queue (sorted set scored by
 * eligibility time) and re-attempted with exponential backoff. After the
 * attempt budget is exhausted the subscription is force-paused and the user
 * receives a terminal payment-failure notification.
 *
 * @notes
 * - Jobs are popped atomically with a Lua script so two poller instances
 *   cannot both claim the same job.
 * - A job never runs before its score; eligibility is enforced by the query,
 *   not by sleeping workers.
 * - Jobs re-check the subscription's current status on execution and no-op on
 *   CANCELLED/COMPLETED, tolerating jobs that cannot be revoked once parked.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rugue/forage-stores-backend-sub000/internal/domain"
	"github.com/rugue/forage-stores-backend-sub000/internal/store"
)

// DefaultMaxRetryAttempts bounds consecutive automatic re-attempts per drop.
const DefaultMaxRetryAttempts = 3

// RetryJob is the payload parked in the delayed queue.
type RetryJob struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	DropIndex      int       `json:"drop_index"`
	Attempt        int       `json:"attempt"`
	MaxAttempts    int       `json:"max_attempts"`
	Reason         string    `json:"reason"`
}

// RetryQueue parks jobs until they become eligible.
type RetryQueue interface {
	Enqueue(ctx context.Context, job RetryJob, eligibleAt time.Time) error
	// PopDue atomically claims up to limit jobs whose eligibility time has
	// passed.
	PopDue(ctx context.Context, now time.Time, limit int) ([]RetryJob, error)
}

var popDueScript = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, ARGV[2])
for _, member in ipairs(due) do
  redis.call("ZREM", KEYS[1], member)
end
return due
`)

// RedisRetryQueue implements RetryQueue on a Redis sorted set.
type RedisRetryQueue struct {
	client redis.UniversalClient
	key    string
}

// NewRedisRetryQueue creates a queue under the given key.
func NewRedisRetryQueue(client redis.UniversalClient, key string) *RedisRetryQueue {
	if key == "" {
		key = "subscription:retry_queue"
	}
	return &RedisRetryQueue{client: client, key: key}
}

// Enqueue parks one job; the member is keyed by (subscription, drop, attempt)
// so re-enqueueing the same attempt is idempotent.
func (q *RedisRetryQueue) Enqueue(ctx context.Context, job RetryJob, eligibleAt time.Time) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode retry job: %w", err)
	}
	return q.client.ZAdd(ctx, q.key, redis.Z{
		Score:  float64(eligibleAt.UTC().Unix()),
		Member: string(body),
	}).Err()
}

// PopDue claims due jobs atomically.
func (q *RedisRetryQueue) PopDue(ctx context.Context, now time.Time, limit int) ([]RetryJob, error) {
	if limit <= 0 {
		limit = 50
	}
	raw, err := popDueScript.Run(ctx, q.client, []string{q.key}, now.UTC().Unix(), limit).StringSlice()
	if err != nil && err != redis.Nil {
		return nil, err
	}

	jobs := make([]RetryJob, 0, len(raw))
	for _, member := range raw {
		var job RetryJob
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			// A malformed member is dropped from the queue by the script
			// already; log and move on rather than wedging the poller.
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// DropProcessor is the slice of the service the coordinator drives.
type DropProcessor interface {
	ProcessNextDrop(ctx context.Context, subscriptionID uuid.UUID, actor domain.Actor, opts ProcessDropOptions) (*domain.Subscription, error)
}

// RetryCoordinator schedules and executes bounded re-attempts for failed
// automatic drop payments.
type RetryCoordinator struct {
	queue       RetryQueue
	processor   DropProcessor
	repo        store.SubscriptionRepository
	notifier    Notifier
	maxAttempts int
	logger      *slog.Logger
}

// NewRetryCoordinator creates a coordinator with the given attempt budget.
func NewRetryCoordinator(queue RetryQueue, processor DropProcessor, repo store.SubscriptionRepository, notifier Notifier, maxAttempts int, logger *slog.Logger) *RetryCoordinator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxRetryAttempts
	}
	return &RetryCoordinator{
		queue:       queue,
		processor:   processor,
		repo:        repo,
		notifier:    notifier,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// backoffDelay is the wait before attempt n: 2^n hours.
func backoffDelay(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * time.Hour
}

// ScheduleRetry parks a retry for the given attempt number.
func (c *RetryCoordinator) ScheduleRetry(ctx context.Context, subscriptionID uuid.UUID, dropIndex, attempt int, reason string) error {
	if attempt > c.maxAttempts {
		return fmt.Errorf("attempt %d exceeds budget %d", attempt, c.maxAttempts)
	}
	job := RetryJob{
		SubscriptionID: subscriptionID,
		DropIndex:      dropIndex,
		Attempt:        attempt,
		MaxAttempts:    c.maxAttempts,
		Reason:         reason,
	}
	eligibleAt := time.Now().UTC().Add(backoffDelay(attempt))
	if err := c.queue.Enqueue(ctx, job, eligibleAt); err != nil {
		return fmt.Errorf("failed to enqueue retry: %w", err)
	}
	c.logger.Info("retry scheduled",
		"subscription_id", subscriptionID, "drop_index", dropIndex,
		"attempt", attempt, "eligible_at", eligibleAt, "reason", reason)
	return nil
}

// RunDue claims and executes every eligible retry job. Called from the cron
// poller; each job is isolated so one failure cannot abort the batch.
func (c *RetryCoordinator) RunDue(ctx context.Context) {
	jobs, err := c.queue.PopDue(ctx, time.Now().UTC(), 50)
	if err != nil {
		c.logger.Error("failed to pop due retry jobs", "error", err)
		return
	}
	for _, job := range jobs {
		c.execute(ctx, job)
	}
}

func (c *RetryCoordinator) execute(ctx context.Context, job RetryJob) {
	sub, err := c.repo.GetSubscriptionByID(ctx, job.SubscriptionID)
	if err != nil {
		c.logger.Warn("retry target lookup failed", "subscription_id", job.SubscriptionID, "error", err)
		return
	}
	// Stale jobs for subscriptions that moved on become no-ops.
	if sub.Status == domain.StatusCancelled || sub.Status == domain.StatusCompleted || sub.IsCompleted {
		c.logger.Info("retry skipped; subscription no longer eligible",
			"subscription_id", sub.ID, "status", sub.Status, "attempt", job.Attempt)
		return
	}

	// Fresh payment reference per attempt; the drop index is informational,
	// the processor always settles the earliest unpaid drop.
	_, err = c.processor.ProcessNextDrop(ctx, job.SubscriptionID, domain.SystemActor, ProcessDropOptions{})
	if err == nil {
		c.logger.Info("retry succeeded",
			"subscription_id", job.SubscriptionID, "drop_index", job.DropIndex, "attempt", job.Attempt)
		return
	}
	if errors.Is(err, ErrSubscriptionBusy) {
		// Another worker holds the lock; requeue the same attempt rather than
		// burning budget on contention.
		if requeueErr := c.queue.Enqueue(ctx, job, time.Now().UTC().Add(time.Minute)); requeueErr != nil {
			c.logger.Error("failed to requeue contended retry", "subscription_id", job.SubscriptionID, "error", requeueErr)
		}
		return
	}

	c.bumpDropRetryCount(ctx, sub, job.DropIndex)

	if job.Attempt < job.MaxAttempts {
		if schedErr := c.ScheduleRetry(ctx, job.SubscriptionID, job.DropIndex, job.Attempt+1, err.Error()); schedErr != nil {
			c.logger.Error("failed to schedule next retry", "subscription_id", job.SubscriptionID, "error", schedErr)
		}
		return
	}

	c.finalFailure(ctx, sub, job, err)
}

// finalFailure is the exhaustion path: force-pause the subscription (a system
// action, bypassing the guard table) and tell the user to top up.
func (c *RetryCoordinator) finalFailure(ctx context.Context, sub *domain.Subscription, job RetryJob, cause error) {
	sub.Status = domain.StatusPaused
	if err := c.repo.UpdateSubscription(ctx, sub); err != nil {
		c.logger.Error("failed to force-pause subscription after retry exhaustion",
			"subscription_id", sub.ID, "error", err)
		return
	}

	payload := domain.PaymentEventPayload{
		SubscriptionID: sub.ID,
		OrderID:        sub.OrderID,
		DropIndex:      job.DropIndex,
		DropsPaid:      sub.DropsPaid,
		TotalDrops:     sub.TotalDrops,
		Reason:         fmt.Sprintf("automatic payment failed after %d attempts: %v; top up your wallet and contact support to resume", job.MaxAttempts, cause),
		Timestamp:      time.Now().UTC(),
	}
	if dropIdx := sub.FirstUnpaidIndex(); dropIdx != -1 {
		payload.Amount = sub.Drops[dropIdx].Amount
	}
	if err := c.notifier.Send(ctx, sub.UserID, domain.EventPaymentFailedFinal, payload); err != nil {
		c.logger.Warn("failed to publish final failure event", "subscription_id", sub.ID, "error", err)
	}
	c.logger.Warn("retry budget exhausted; subscription paused",
		"subscription_id", sub.ID, "drop_index", job.DropIndex, "attempts", job.MaxAttempts, "cause", cause)
}

func (c *RetryCoordinator) bumpDropRetryCount(ctx context.Context, sub *domain.Subscription, dropIndex int) {
	if dropIndex < 0 || dropIndex >= len(sub.Drops) {
		return
	}
	sub.Drops[dropIndex].RetryCount++
	if err := c.repo.UpdateSubscription(ctx, sub); err != nil {
		c.logger.Warn("failed to persist drop retry count",
			"subscription_id", sub.ID, "drop_index", dropIndex, "error", err)
	}
}
