/**
 * @description
 * Collaborator models consumed by the drop-payment engine. Orders and wallets
 * are separate aggregates owned by other parts of the platform; the engine
 * reads them, appends payment history, and moves balances, but never owns
 * their wider lifecycle.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus is the subset of the order lifecycle the engine interacts with.
// The engine only ever advances an order forward, never regresses it.
type OrderStatus string

const (
	OrderPending OrderStatus = "pending"
	OrderPaid    OrderStatus = "paid"
)

// Order is a read model of the originating order linked 1:1 to a subscription.
type Order struct {
	ID              uuid.UUID   `json:"id"`
	UserID          uuid.UUID   `json:"user_id"`
	TotalAmount     int64       `json:"total_amount"`     // in kobo
	PaidAmount      int64       `json:"paid_amount"`      // in kobo
	RemainingAmount int64       `json:"remaining_amount"` // in kobo, never negative
	Status          OrderStatus `json:"status"`
}

// OrderPayment is one entry appended to an order's payment history when a
// drop is settled.
type OrderPayment struct {
	Amount     int64     `json:"amount"` // in kobo
	Method     string    `json:"method"` // e.g. 'wallet', 'external'
	Status     string    `json:"status"`
	PaidAt     time.Time `json:"paid_at"`
	PaymentRef string    `json:"payment_ref"`
}

// Wallet is the internal spendable balance a user's drops are debited from.
type Wallet struct {
	UserID    uuid.UUID `json:"user_id"`
	Balance   int64     `json:"balance"` // spendable, in kobo
	UpdatedAt time.Time `json:"updated_at"`
}
