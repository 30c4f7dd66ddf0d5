package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestFirstUnpaidIndex_WalksByScheduledDateNotPosition(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	sub := &Subscription{
		ID: uuid.New(),
		Drops: []Drop{
			{ScheduledDate: base.Add(14 * 24 * time.Hour)},
			{ScheduledDate: base}, // earliest, out of slice order
			{ScheduledDate: base.Add(7 * 24 * time.Hour)},
		},
	}

	if got := sub.FirstUnpaidIndex(); got != 1 {
		t.Fatalf("expected index of earliest-scheduled drop, got %d", got)
	}

	sub.Drops[1].IsPaid = true
	if got := sub.FirstUnpaidIndex(); got != 2 {
		t.Fatalf("expected next earliest unpaid, got %d", got)
	}

	sub.Drops[0].IsPaid = true
	sub.Drops[2].IsPaid = true
	if got := sub.FirstUnpaidIndex(); got != -1 {
		t.Fatalf("expected -1 when fully paid, got %d", got)
	}
}

func TestRecomputeNextDueDate(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	sub := &Subscription{
		Drops: []Drop{
			{ScheduledDate: base, IsPaid: true},
			{ScheduledDate: base.Add(30 * 24 * time.Hour)},
		},
	}

	sub.RecomputeNextDueDate()
	if sub.NextDueDate == nil || !sub.NextDueDate.Equal(base.Add(30*24*time.Hour)) {
		t.Fatalf("expected next due at second drop, got %v", sub.NextDueDate)
	}

	sub.Drops[1].IsPaid = true
	sub.RecomputeNextDueDate()
	if sub.NextDueDate != nil {
		t.Fatalf("expected cleared due date when fully paid, got %v", sub.NextDueDate)
	}
}
