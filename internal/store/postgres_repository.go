/**
 * @description
 * This file implements the data access layer on PostgreSQL using pgx. It
 * contains all the SQL for subscriptions (the drop schedule is a jsonb
 * column), conflict records, and the order/wallet collaborator tables.
 *
 * @notes
 * - DebitWallet uses a conditional UPDATE so the balance check and the
 *   decrement are one atomic statement; two concurrent debits can never both
 *   pass a stale balance read.
 * - AdvanceOrderStatusIfFullyPaid only ever moves 'pending' forward, so a
 *   replayed call cannot regress an order.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rugue/forage-stores-backend-sub000/internal/domain"
)

// PostgresRepository handles database operations for the engine.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new repository backed by the given pool.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const subscriptionColumns = `
    id, user_id, order_id, plan_type, frequency, total_amount, drop_amount,
    total_drops, drops_paid, amount_paid, drops, start_date, next_due_date,
    end_date, pause_until, status, is_completed, created_at, updated_at
`

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var sub domain.Subscription
	var dropsJSON []byte
	var frequency *string
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.OrderID, &sub.PlanType, &frequency,
		&sub.TotalAmount, &sub.DropAmount, &sub.TotalDrops, &sub.DropsPaid,
		&sub.AmountPaid, &dropsJSON, &sub.StartDate, &sub.NextDueDate,
		&sub.EndDate, &sub.PauseUntil, &sub.Status, &sub.IsCompleted,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if frequency != nil {
		sub.Frequency = domain.PaymentFrequency(*frequency)
	}
	if len(dropsJSON) > 0 {
		if err := json.Unmarshal(dropsJSON, &sub.Drops); err != nil {
			return nil, fmt.Errorf("failed to decode drop schedule: %w", err)
		}
	}
	return &sub, nil
}

// CreateSubscription inserts a new subscription with its full drop schedule.
func (r *PostgresRepository) CreateSubscription(ctx context.Context, sub *domain.Subscription) error {
	dropsJSON, err := json.Marshal(sub.Drops)
	if err != nil {
		return fmt.Errorf("failed to encode drop schedule: %w", err)
	}
	var frequency *string
	if sub.Frequency != "" {
		f := string(sub.Frequency)
		frequency = &f
	}
	query := `
        INSERT INTO subscriptions (
            id, user_id, order_id, plan_type, frequency, total_amount,
            drop_amount, total_drops, drops_paid, amount_paid, drops,
            start_date, next_due_date, end_date, pause_until, status,
            is_completed, created_at, updated_at
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, NOW(), NOW())
        ON CONFLICT (order_id) DO NOTHING
    `
	tag, err := r.db.Exec(ctx, query,
		sub.ID, sub.UserID, sub.OrderID, sub.PlanType, frequency,
		sub.TotalAmount, sub.DropAmount, sub.TotalDrops, sub.DropsPaid,
		sub.AmountPaid, dropsJSON, sub.StartDate, sub.NextDueDate,
		sub.EndDate, sub.PauseUntil, sub.Status, sub.IsCompleted,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionExists
	}
	return nil
}

// GetSubscriptionByID retrieves a subscription with its drop schedule.
func (r *PostgresRepository) GetSubscriptionByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`
	sub, err := scanSubscription(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return sub, nil
}

// GetSubscriptionByOrderID retrieves the subscription created from an order.
func (r *PostgresRepository) GetSubscriptionByOrderID(ctx context.Context, orderID uuid.UUID) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE order_id = $1`
	sub, err := scanSubscription(r.db.QueryRow(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return sub, nil
}

// UpdateSubscription persists the aggregate's mutable state, including the
// drop schedule.
func (r *PostgresRepository) UpdateSubscription(ctx context.Context, sub *domain.Subscription) error {
	dropsJSON, err := json.Marshal(sub.Drops)
	if err != nil {
		return fmt.Errorf("failed to encode drop schedule: %w", err)
	}
	query := `
        UPDATE subscriptions
        SET drops_paid = $1,
            amount_paid = $2,
            drops = $3,
            next_due_date = $4,
            end_date = $5,
            pause_until = $6,
            status = $7,
            is_completed = $8,
            updated_at = NOW()
        WHERE id = $9
    `
	tag, err := r.db.Exec(ctx, query,
		sub.DropsPaid, sub.AmountPaid, dropsJSON, sub.NextDueDate,
		sub.EndDate, sub.PauseUntil, sub.Status, sub.IsCompleted, sub.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (r *PostgresRepository) querySubscriptions(ctx context.Context, query string, args ...any) ([]domain.Subscription, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// FindSubscriptionsByUserID lists a user's subscriptions, newest first.
func (r *PostgresRepository) FindSubscriptionsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id = $1 ORDER BY created_at DESC`
	return r.querySubscriptions(ctx, query, userID)
}

// FindDueOn fetches active, not-completed subscriptions due within the given
// calendar day.
func (r *PostgresRepository) FindDueOn(ctx context.Context, day time.Time) ([]domain.Subscription, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)
	query := `SELECT ` + subscriptionColumns + `
        FROM subscriptions
        WHERE status = 'active'
          AND is_completed = FALSE
          AND next_due_date >= $1
          AND next_due_date < $2`
	return r.querySubscriptions(ctx, query, dayStart, dayEnd)
}

// FindDueToday is the sweep entry point for the daily billing run.
func (r *PostgresRepository) FindDueToday(ctx context.Context) ([]domain.Subscription, error) {
	return r.FindDueOn(ctx, time.Now().UTC())
}

// ListOpenSubscriptions returns active and paused subscriptions for conflict
// sweeps.
func (r *PostgresRepository) ListOpenSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE status IN ('active', 'paused')`
	return r.querySubscriptions(ctx, query)
}

// CreateConflictRecord inserts a detected conflict.
func (r *PostgresRepository) CreateConflictRecord(ctx context.Context, rec *domain.ConflictRecord) error {
	query := `
        INSERT INTO conflict_records (
            id, subscription_id, user_id, type, description, detected_at,
            status, priority, resolution, auto_attempts, resolved_at
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
    `
	_, err := r.db.Exec(ctx, query,
		rec.ID, rec.SubscriptionID, rec.UserID, rec.Type, rec.Description,
		rec.DetectedAt, rec.Status, rec.Priority, rec.Resolution,
		rec.AutoAttempts, rec.ResolvedAt,
	)
	return err
}

// UpdateConflictRecord persists a resolution attempt's outcome.
func (r *PostgresRepository) UpdateConflictRecord(ctx context.Context, rec *domain.ConflictRecord) error {
	query := `
        UPDATE conflict_records
        SET status = $1, resolution = $2, auto_attempts = $3, resolved_at = $4
        WHERE id = $5
    `
	tag, err := r.db.Exec(ctx, query, rec.Status, rec.Resolution, rec.AutoAttempts, rec.ResolvedAt, rec.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflictNotFound
	}
	return nil
}

func scanConflict(row pgx.Row) (*domain.ConflictRecord, error) {
	var rec domain.ConflictRecord
	err := row.Scan(
		&rec.ID, &rec.SubscriptionID, &rec.UserID, &rec.Type, &rec.Description,
		&rec.DetectedAt, &rec.Status, &rec.Priority, &rec.Resolution,
		&rec.AutoAttempts, &rec.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

const conflictColumns = `
    id, subscription_id, user_id, type, description, detected_at,
    status, priority, resolution, auto_attempts, resolved_at
`

// FindOpenConflict returns the latest unresolved conflict of the given type
// for a subscription. Escalated records count as open so they are not refiled.
func (r *PostgresRepository) FindOpenConflict(ctx context.Context, subscriptionID uuid.UUID, conflictType domain.ConflictType) (*domain.ConflictRecord, error) {
	query := `SELECT ` + conflictColumns + `
        FROM conflict_records
        WHERE subscription_id = $1 AND type = $2 AND status IN ('pending', 'escalated')
        ORDER BY detected_at DESC
        LIMIT 1`
	rec, err := scanConflict(r.db.QueryRow(ctx, query, subscriptionID, conflictType))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConflictNotFound
		}
		return nil, err
	}
	return rec, nil
}

// ListConflictsBySubscription lists all conflicts for one subscription.
func (r *PostgresRepository) ListConflictsBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]domain.ConflictRecord, error) {
	query := `SELECT ` + conflictColumns + `
        FROM conflict_records WHERE subscription_id = $1 ORDER BY detected_at DESC`
	return r.queryConflicts(ctx, query, subscriptionID)
}

// ListConflictsByStatus lists conflicts in a given lifecycle status.
func (r *PostgresRepository) ListConflictsByStatus(ctx context.Context, status domain.ConflictStatus, limit int) ([]domain.ConflictRecord, error) {
	query := `SELECT ` + conflictColumns + `
        FROM conflict_records WHERE status = $1 ORDER BY detected_at DESC LIMIT $2`
	return r.queryConflicts(ctx, query, status, limit)
}

func (r *PostgresRepository) queryConflicts(ctx context.Context, query string, args ...any) ([]domain.ConflictRecord, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.ConflictRecord
	for rows.Next() {
		rec, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// GetOrder retrieves the order an installment subscription was created from.
func (r *PostgresRepository) GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	var order domain.Order
	query := `
        SELECT id, user_id, total_amount, paid_amount, remaining_amount, status
        FROM orders
        WHERE id = $1
    `
	err := r.db.QueryRow(ctx, query, orderID).Scan(
		&order.ID, &order.UserID, &order.TotalAmount, &order.PaidAmount,
		&order.RemainingAmount, &order.Status,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// AppendOrderPayment records a settled drop against the order and updates the
// order's paid/remaining totals. The remaining amount is clamped at zero.
func (r *PostgresRepository) AppendOrderPayment(ctx context.Context, orderID uuid.UUID, payment domain.OrderPayment) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	insert := `
        INSERT INTO order_payments (id, order_id, amount, method, status, paid_at, payment_ref)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `
	if _, err := tx.Exec(ctx, insert,
		uuid.New(), orderID, payment.Amount, payment.Method, payment.Status,
		payment.PaidAt, payment.PaymentRef,
	); err != nil {
		return err
	}

	update := `
        UPDATE orders
        SET paid_amount = paid_amount + $1,
            remaining_amount = GREATEST(0, total_amount - (paid_amount + $1)),
            updated_at = NOW()
        WHERE id = $2
    `
	tag, err := tx.Exec(ctx, update, payment.Amount, orderID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}

	return tx.Commit(ctx)
}

// AdvanceOrderStatusIfFullyPaid moves a fully paid pending order to 'paid'.
func (r *PostgresRepository) AdvanceOrderStatusIfFullyPaid(ctx context.Context, orderID uuid.UUID) error {
	query := `
        UPDATE orders
        SET status = 'paid', updated_at = NOW()
        WHERE id = $1 AND status = 'pending' AND remaining_amount <= 0
    `
	_, err := r.db.Exec(ctx, query, orderID)
	return err
}

// GetSpendableBalance reads a user's current wallet balance.
func (r *PostgresRepository) GetSpendableBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var balance int64
	query := `SELECT balance FROM wallets WHERE user_id = $1`
	err := r.db.QueryRow(ctx, query, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrWalletNotFound
		}
		return 0, err
	}
	return balance, nil
}

// DebitWallet atomically decrements a wallet balance if sufficient funds are
// available.
func (r *PostgresRepository) DebitWallet(ctx context.Context, userID uuid.UUID, amount int64) error {
	query := `
        UPDATE wallets
        SET balance = balance - $1, updated_at = NOW()
        WHERE user_id = $2 AND balance >= $1
    `
	tag, err := r.db.Exec(ctx, query, amount, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing wallet from an underfunded one.
		if _, balErr := r.GetSpendableBalance(ctx, userID); balErr != nil {
			return balErr
		}
		return ErrInsufficientFunds
	}
	return nil
}

// CreditWallet adds funds back to a wallet (compensation path).
func (r *PostgresRepository) CreditWallet(ctx context.Context, userID uuid.UUID, amount int64) error {
	query := `
        UPDATE wallets
        SET balance = balance + $1, updated_at = NOW()
        WHERE user_id = $2
    `
	tag, err := r.db.Exec(ctx, query, amount, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}
