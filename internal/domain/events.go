/**
 * @description
 * Event types and payloads published to the notification exchange. Delivery is
 * fire-and-forget; the engine never consumes these events itself.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Routing keys on the subscription_events topic exchange.
const (
	EventPaymentSuccess        = "payment.success"
	EventPaymentReminder       = "payment.reminder"
	EventPaymentFailedFinal    = "payment.failed.final"
	EventSubscriptionCompleted = "subscription.completed"
	EventSubscriptionPaused    = "subscription.paused"
)

// PaymentEventPayload is the body published for payment-related events.
type PaymentEventPayload struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	OrderID        uuid.UUID `json:"order_id"`
	DropIndex      int       `json:"drop_index"`
	Amount         int64     `json:"amount"` // in kobo
	PaymentRef     string    `json:"payment_ref,omitempty"`
	DropsPaid      int       `json:"drops_paid"`
	TotalDrops     int       `json:"total_drops"`
	Reason         string    `json:"reason,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
