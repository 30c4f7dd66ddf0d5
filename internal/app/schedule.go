/**
 * @description
 * Pure drop-schedule generation. Given an order total, a plan shape, a billing
 * frequency, and any amount already paid, this produces the ordered list of
 * drops a subscription will execute against.
 *
 * @notes
 * - Per-drop amounts use ceiling division and the final drop absorbs the
 *   rounding remainder, so the schedule always sums to the remaining amount
 *   exactly. Naive equal division would drift by a few kobo per schedule.
 * - Dates advance by the raw interval from the start date. Weekends and
 *   holidays are not skipped.
 */

package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/rugue/forage-stores-backend-sub000/internal/domain"
)

var (
	ErrUnsupportedPlanType  = errors.New("unsupported payment plan type")
	ErrUnsupportedFrequency = errors.New("unsupported payment frequency")
	ErrNothingToSchedule    = errors.New("no remaining amount to schedule")
)

// Schedule is the generated drop plan for a subscription.
type Schedule struct {
	DropAmount int64 // nominal per-drop amount in kobo
	TotalDrops int
	Drops      []domain.Drop
}

// planShape is the drop count and spacing for one plan/frequency combination.
type planShape struct {
	totalDrops   int
	intervalDays int
}

var installmentShapes = map[domain.PaymentFrequency]planShape{
	domain.FrequencyWeekly:   {totalDrops: 8, intervalDays: 7},
	domain.FrequencyBiweekly: {totalDrops: 4, intervalDays: 14},
	domain.FrequencyMonthly:  {totalDrops: 2, intervalDays: 30},
}

// priceLockShape is a deposit plus one balance payment 30 days later.
var priceLockShape = planShape{totalDrops: 2, intervalDays: 30}

func resolvePlanShape(planType domain.PaymentPlanType, frequency domain.PaymentFrequency) (planShape, error) {
	switch planType {
	case domain.PlanPaySmallSmall:
		shape, ok := installmentShapes[frequency]
		if !ok {
			return planShape{}, fmt.Errorf("%w: %q", ErrUnsupportedFrequency, frequency)
		}
		return shape, nil
	case domain.PlanPriceLock:
		return priceLockShape, nil
	default:
		return planShape{}, fmt.Errorf("%w: %q", ErrUnsupportedPlanType, planType)
	}
}

// GenerateSchedule produces the full drop list for a plan.
//
// If an initial payment already exists it is recorded as drop 0, pre-marked
// paid as of the start date, and the remaining amount is divided across the
// remaining drops.
func GenerateSchedule(totalAmount int64, planType domain.PaymentPlanType, frequency domain.PaymentFrequency, amountAlreadyPaid int64, startDate time.Time) (*Schedule, error) {
	shape, err := resolvePlanShape(planType, frequency)
	if err != nil {
		return nil, err
	}

	remaining := totalAmount - amountAlreadyPaid
	if remaining <= 0 {
		return nil, fmt.Errorf("%w: total=%d already_paid=%d", ErrNothingToSchedule, totalAmount, amountAlreadyPaid)
	}

	start := startDate.UTC()
	interval := time.Duration(shape.intervalDays) * 24 * time.Hour

	drops := make([]domain.Drop, 0, shape.totalDrops)
	remainingDrops := shape.totalDrops
	if amountAlreadyPaid > 0 {
		paidAt := start
		drops = append(drops, domain.Drop{
			ScheduledDate: start,
			Amount:        amountAlreadyPaid,
			IsPaid:        true,
			PaidDate:      &paidAt,
		})
		remainingDrops = shape.totalDrops - 1
		if remainingDrops == 0 {
			return nil, fmt.Errorf("%w: initial payment consumed every drop slot", ErrNothingToSchedule)
		}
	}

	// Ceiling division, clamped to what is still unallocated. The final
	// non-zero drop absorbs the rounding remainder, and micro totals that
	// cannot fill every slot trail off at zero instead of going negative.
	perDrop := (remaining + int64(remainingDrops) - 1) / int64(remainingDrops)
	allocated := int64(0)
	offset := len(drops)
	for i := 0; i < remainingDrops; i++ {
		amount := perDrop
		if left := remaining - allocated; amount > left {
			amount = left
		}
		allocated += amount
		drops = append(drops, domain.Drop{
			ScheduledDate: start.Add(time.Duration(offset+i) * interval),
			Amount:        amount,
		})
	}

	return &Schedule{
		DropAmount: perDrop,
		TotalDrops: shape.totalDrops,
		Drops:      drops,
	}, nil
}
