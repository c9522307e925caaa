package firestore

import (
	"errors"
	"testing"
	"time"

	domain "github.com/vitrola-discos/api/internal/domain"
	"github.com/vitrola-discos/api/internal/repositories"
)

func overClaimed(t *testing.T, err error) {
	t.Helper()
	var adjErr *repositories.AdjustmentError
	if !errors.As(err, &adjErr) || adjErr.Code != repositories.AdjustmentErrorOverClaimed {
		t.Fatalf("expected over-claimed error, got %v", err)
	}
}

func TestCheckClaimCeilings(t *testing.T) {
	limits := map[string]int{"itm_1": 2, "itm_2": 1}

	items := []domain.AdjustmentItem{
		{SourceItemID: "itm_1", Quantity: 2},
		{SourceItemID: "itm_2", Quantity: 1},
	}
	if err := checkClaimCeilings(items, limits, map[string]int{}); err != nil {
		t.Fatalf("expected items within ceilings to pass, got %v", err)
	}

	// Two items naming the same line must be summed before the check: each
	// fits alone but together they claim 4 of 2 sold.
	duplicated := []domain.AdjustmentItem{
		{SourceItemID: "itm_1", Quantity: 2},
		{SourceItemID: "itm_1", Quantity: 2},
	}
	overClaimed(t, checkClaimCeilings(duplicated, limits, map[string]int{}))

	// Quantities already claimed by sibling requests count against the ceiling.
	single := []domain.AdjustmentItem{{SourceItemID: "itm_1", Quantity: 2}}
	overClaimed(t, checkClaimCeilings(single, limits, map[string]int{"itm_1": 1}))

	// An item without a recorded ceiling is rejected outright.
	unknown := []domain.AdjustmentItem{{SourceItemID: "itm_9", Quantity: 1}}
	overClaimed(t, checkClaimCeilings(unknown, limits, map[string]int{}))
}

func TestStampCompletionRefreshesReceivedAt(t *testing.T) {
	earlier := time.Date(2025, time.February, 1, 10, 0, 0, 0, time.UTC)
	now := time.Date(2025, time.February, 3, 16, 45, 0, 0, time.UTC)

	doc := adjustmentDocument{
		Status:     string(domain.AdjustmentStatusApproved),
		ReceivedAt: &earlier,
	}
	stampCompletion(&doc, true, now)

	if doc.Status != string(domain.AdjustmentStatusCompleted) {
		t.Fatalf("expected completed status, got %s", doc.Status)
	}
	if doc.UpdatedAt != now {
		t.Fatalf("expected updatedAt %s, got %s", now, doc.UpdatedAt)
	}
	if doc.ReceivedAt == nil || !doc.ReceivedAt.Equal(now) {
		t.Fatalf("expected receivedAt refreshed to %s, got %v", now, doc.ReceivedAt)
	}
}

func TestStampCompletionLeavesReceivedAtWhenNotStamping(t *testing.T) {
	now := time.Date(2025, time.February, 3, 16, 45, 0, 0, time.UTC)

	doc := adjustmentDocument{Status: string(domain.AdjustmentStatusInProgress)}
	stampCompletion(&doc, false, now)

	if doc.ReceivedAt != nil {
		t.Fatalf("expected receivedAt to stay unset, got %v", doc.ReceivedAt)
	}
	if doc.Status != string(domain.AdjustmentStatusCompleted) {
		t.Fatalf("expected completed status, got %s", doc.Status)
	}
}
