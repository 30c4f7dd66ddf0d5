package app

import (
	"errors"
	"testing"
	"time"

	"github.com/rugue/forage-stores-backend-sub000/internal/domain"
)

var scheduleStart = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func scheduleSum(drops []domain.Drop) int64 {
	var sum int64
	for _, d := range drops {
		sum += d.Amount
	}
	return sum
}

func TestGenerateSchedule_MonthlySplitsEvenly(t *testing.T) {
	sched, err := GenerateSchedule(10000, domain.PlanPaySmallSmall, domain.FrequencyMonthly, 0, scheduleStart)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if sched.TotalDrops != 2 || len(sched.Drops) != 2 {
		t.Fatalf("expected 2 drops, got total=%d len=%d", sched.TotalDrops, len(sched.Drops))
	}
	if sched.DropAmount != 5000 {
		t.Fatalf("expected drop amount 5000, got %d", sched.DropAmount)
	}
	for i, drop := range sched.Drops {
		if drop.Amount != 5000 {
			t.Errorf("drop %d: expected 5000, got %d", i, drop.Amount)
		}
		if drop.IsPaid {
			t.Errorf("drop %d: expected unpaid", i)
		}
		want := scheduleStart.Add(time.Duration(i) * 30 * 24 * time.Hour)
		if !drop.ScheduledDate.Equal(want) {
			t.Errorf("drop %d: expected date %v, got %v", i, want, drop.ScheduledDate)
		}
	}
}

func TestGenerateSchedule_WeeklyShape(t *testing.T) {
	sched, err := GenerateSchedule(8000, domain.PlanPaySmallSmall, domain.FrequencyWeekly, 0, scheduleStart)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sched.Drops) != 8 {
		t.Fatalf("expected 8 weekly drops, got %d", len(sched.Drops))
	}
	for i, drop := range sched.Drops {
		want := scheduleStart.Add(time.Duration(i) * 7 * 24 * time.Hour)
		if !drop.ScheduledDate.Equal(want) {
			t.Errorf("drop %d: expected date %v, got %v", i, want, drop.ScheduledDate)
		}
	}
}

func TestGenerateSchedule_LastDropAbsorbsRemainder(t *testing.T) {
	// 10000 over 8 weekly drops: ceil gives 1250 so this divides cleanly;
	// use 10001 to force a remainder.
	sched, err := GenerateSchedule(10001, domain.PlanPaySmallSmall, domain.FrequencyWeekly, 0, scheduleStart)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if sched.DropAmount != 1251 {
		t.Fatalf("expected ceiling per-drop 1251, got %d", sched.DropAmount)
	}
	last := sched.Drops[len(sched.Drops)-1]
	if last.Amount != 10001-7*1251 {
		t.Fatalf("expected last drop to absorb remainder %d, got %d", 10001-7*1251, last.Amount)
	}
	if got := scheduleSum(sched.Drops); got != 10001 {
		t.Fatalf("schedule must sum to the total: expected 10001, got %d", got)
	}
}

func TestGenerateSchedule_MicroTotalNeverGoesNegative(t *testing.T) {
	// 10 kobo over 8 weekly drops runs out before the last slot; the tail
	// must trail off at zero, not dip negative to balance the sum.
	sched, err := GenerateSchedule(10, domain.PlanPaySmallSmall, domain.FrequencyWeekly, 0, scheduleStart)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i, d := range sched.Drops {
		if d.Amount < 0 {
			t.Fatalf("drop %d has negative amount %d", i, d.Amount)
		}
	}
	if got := scheduleSum(sched.Drops); got != 10 {
		t.Fatalf("schedule must sum to the total: expected 10, got %d", got)
	}
}

func TestGenerateSchedule_PriorPaymentBecomesPaidDropZero(t *testing.T) {
	sched, err := GenerateSchedule(10000, domain.PlanPaySmallSmall, domain.FrequencyWeekly, 1250, scheduleStart)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(sched.Drops) != 8 {
		t.Fatalf("expected 8 drops including the pre-paid one, got %d", len(sched.Drops))
	}
	first := sched.Drops[0]
	if !first.IsPaid || first.Amount != 1250 || first.PaidDate == nil {
		t.Fatalf("expected drop 0 pre-paid with 1250, got paid=%t amount=%d", first.IsPaid, first.Amount)
	}
	for i := 1; i < len(sched.Drops); i++ {
		if sched.Drops[i].IsPaid {
			t.Errorf("drop %d: expected unpaid", i)
		}
		if sched.Drops[i].Amount != 1250 {
			t.Errorf("drop %d: expected 1250, got %d", i, sched.Drops[i].Amount)
		}
	}
	if got := scheduleSum(sched.Drops); got != 10000 {
		t.Fatalf("schedule must sum to the total: expected 10000, got %d", got)
	}
}

func TestGenerateSchedule_PriceLockIgnoresFrequency(t *testing.T) {
	sched, err := GenerateSchedule(9000, domain.PlanPriceLock, "", 0, scheduleStart)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sched.Drops) != 2 {
		t.Fatalf("expected deposit plus balance, got %d drops", len(sched.Drops))
	}
	if !sched.Drops[1].ScheduledDate.Equal(scheduleStart.Add(30 * 24 * time.Hour)) {
		t.Fatalf("expected balance payment 30 days out, got %v", sched.Drops[1].ScheduledDate)
	}
}

func TestGenerateSchedule_Rejections(t *testing.T) {
	tests := []struct {
		name      string
		total     int64
		planType  domain.PaymentPlanType
		frequency domain.PaymentFrequency
		paid      int64
		wantErr   error
	}{
		{"unknown plan", 10000, "layaway", domain.FrequencyWeekly, 0, ErrUnsupportedPlanType},
		{"unknown frequency", 10000, domain.PlanPaySmallSmall, "daily", 0, ErrUnsupportedFrequency},
		{"fully paid already", 10000, domain.PlanPaySmallSmall, domain.FrequencyWeekly, 10000, ErrNothingToSchedule},
		{"overpaid", 10000, domain.PlanPaySmallSmall, domain.FrequencyWeekly, 12000, ErrNothingToSchedule},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := GenerateSchedule(tc.total, tc.planType, tc.frequency, tc.paid, scheduleStart)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}
