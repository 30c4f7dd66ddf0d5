/**
 * @description
 * ConflictRecord models the discrepancies the conflict detector finds between
 * a subscription, its linked order, and the user's wallet. Records are created
 * by a detection pass, mutated by at most one automatic resolution attempt,
 * and are terminal once resolved or escalated. Escalated records require human
 * action and are never auto-retried.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// ConflictType classifies the invariant a detection pass found violated.
type ConflictType string

const (
	ConflictPaymentMismatch   ConflictType = "payment_mismatch"
	ConflictDuplicatePayment  ConflictType = "duplicate_payment"
	ConflictInsufficientFunds ConflictType = "insufficient_funds"
	ConflictScheduleConflict  ConflictType = "schedule_conflict"
	ConflictStatusMismatch    ConflictType = "status_mismatch"
)

// ConflictStatus is the lifecycle of a conflict record.
type ConflictStatus string

const (
	ConflictPending   ConflictStatus = "pending"
	ConflictResolved  ConflictStatus = "resolved"
	ConflictEscalated ConflictStatus = "escalated"
)

// ConflictPriority orders the manual-review queue.
type ConflictPriority string

const (
	PriorityLow      ConflictPriority = "low"
	PriorityMedium   ConflictPriority = "medium"
	PriorityHigh     ConflictPriority = "high"
	PriorityCritical ConflictPriority = "critical"
)

// ConflictRecord is one detected invariant violation.
type ConflictRecord struct {
	ID             uuid.UUID        `json:"id"`
	SubscriptionID uuid.UUID        `json:"subscription_id"`
	UserID         uuid.UUID        `json:"user_id"`
	Type           ConflictType     `json:"type"`
	Description    string           `json:"description"`
	DetectedAt     time.Time        `json:"detected_at"`
	Status         ConflictStatus   `json:"status"`
	Priority       ConflictPriority `json:"priority"`
	Resolution     string           `json:"resolution,omitempty"`
	AutoAttempts   int              `json:"auto_attempts"`
	ResolvedAt     *time.Time       `json:"resolved_at,omitempty"`
}

// IsTerminal reports whether the record can still change.
func (c *ConflictRecord) IsTerminal() bool {
	return c.Status == ConflictResolved || c.Status == ConflictEscalated
}
