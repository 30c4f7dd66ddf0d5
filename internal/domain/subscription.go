/**
 * @description
 * This file defines the core domain models for the subscription drop-payment
 * engine: the Subscription aggregate, its owned Drop schedule entries, and the
 * enums that describe plan shape, billing frequency, and lifecycle status.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (kobo), which
 *   avoids floating-point inaccuracies with financial data.
 * - A Subscription exclusively owns its Drop list; drops have no identity of
 *   their own and are addressed by index within the schedule.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentPlanType identifies the shape of the installment schedule.
type PaymentPlanType string

const (
	// PlanPaySmallSmall splits the order total into a frequency-dependent
	// number of equal drops.
	PlanPaySmallSmall PaymentPlanType = "pay_small_small"
	// PlanPriceLock locks the order price with a deposit and a balance
	// payment 30 days later.
	PlanPriceLock PaymentPlanType = "price_lock"
)

// PaymentFrequency controls drop count and spacing for pay-small-small plans.
type PaymentFrequency string

const (
	FrequencyWeekly   PaymentFrequency = "weekly"
	FrequencyBiweekly PaymentFrequency = "biweekly"
	FrequencyMonthly  PaymentFrequency = "monthly"
)

// SubscriptionStatus captures the lifecycle of a subscription.
type SubscriptionStatus string

const (
	StatusActive    SubscriptionStatus = "active"
	StatusPaused    SubscriptionStatus = "paused"
	StatusCancelled SubscriptionStatus = "cancelled"
	StatusCompleted SubscriptionStatus = "completed"
	StatusExpired   SubscriptionStatus = "expired"
)

// Drop is one scheduled partial payment within a subscription's plan.
type Drop struct {
	ScheduledDate time.Time  `json:"scheduled_date"`
	Amount        int64      `json:"amount"` // in kobo
	IsPaid        bool       `json:"is_paid"`
	PaidDate      *time.Time `json:"paid_date,omitempty"`
	PaymentRef    string     `json:"payment_ref,omitempty"`
	RetryCount    int        `json:"retry_count"`
}

// Subscription is the recurring-payment wrapper around a single order. It maps
// directly to the `subscriptions` table; the drop schedule is persisted as a
// jsonb column.
type Subscription struct {
	ID          uuid.UUID          `json:"id"`
	UserID      uuid.UUID          `json:"user_id"`
	OrderID     uuid.UUID          `json:"order_id"`
	PlanType    PaymentPlanType    `json:"plan_type"`
	Frequency   PaymentFrequency   `json:"frequency,omitempty"`
	TotalAmount int64              `json:"total_amount"` // in kobo
	DropAmount  int64              `json:"drop_amount"`  // nominal per-drop amount in kobo
	TotalDrops  int                `json:"total_drops"`
	DropsPaid   int                `json:"drops_paid"`
	AmountPaid  int64              `json:"amount_paid"` // in kobo
	Drops       []Drop             `json:"drops"`
	StartDate   time.Time          `json:"start_date"`
	NextDueDate *time.Time         `json:"next_due_date,omitempty"`
	EndDate     *time.Time         `json:"end_date,omitempty"`
	PauseUntil  *time.Time         `json:"pause_until,omitempty"`
	Status      SubscriptionStatus `json:"status"`
	IsCompleted bool               `json:"is_completed"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// FirstUnpaidIndex returns the index of the earliest-scheduled unpaid drop,
// or -1 if every drop has been paid. Schedule order is by scheduled date, not
// slice position, so a partially completed schedule is still walked correctly.
func (s *Subscription) FirstUnpaidIndex() int {
	idx := -1
	for i := range s.Drops {
		if s.Drops[i].IsPaid {
			continue
		}
		if idx == -1 || s.Drops[i].ScheduledDate.Before(s.Drops[idx].ScheduledDate) {
			idx = i
		}
	}
	return idx
}

// UnpaidCount returns the number of drops still awaiting payment.
func (s *Subscription) UnpaidCount() int {
	n := 0
	for i := range s.Drops {
		if !s.Drops[i].IsPaid {
			n++
		}
	}
	return n
}

// RecomputeNextDueDate realigns NextDueDate with the earliest unpaid drop,
// clearing it when no unpaid drops remain.
func (s *Subscription) RecomputeNextDueDate() {
	idx := s.FirstUnpaidIndex()
	if idx == -1 {
		s.NextDueDate = nil
		return
	}
	due := s.Drops[idx].ScheduledDate
	s.NextDueDate = &due
}

// Actor identifies who is requesting an operation against the engine.
type Actor struct {
	UserID uuid.UUID
	Role   ActorRole
}

// ActorRole distinguishes end users, administrators, and the system itself.
type ActorRole string

const (
	RoleUser   ActorRole = "user"
	RoleAdmin  ActorRole = "admin"
	RoleSystem ActorRole = "system"
)

// IsAdmin reports whether the actor carries administrative privileges. The
// system actor is intentionally not an admin: forced system transitions bypass
// the guard table instead of impersonating one.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// SystemActor is used by scheduled sweeps and retry jobs.
var SystemActor = Actor{Role: RoleSystem}
