package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestTimelineRepository_PostgresAppendAndList(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ctx := context.Background()
	timelineRepo := NewTimelineRepository(store)

	order := placeIntegrationOrder(t, store)
	createdAt := time.Now().UTC().Add(-time.Minute).Round(time.Microsecond)

	if err := timelineRepo.Append(ctx, domain.TimelineEvent{
		OrderID: order.ID,
		Type:    domain.TimelineOrderPlaced,
	}); err != nil {
		t.Fatalf("append timeline event with zero occurred: %v", err)
	}

	if err := timelineRepo.Append(ctx, domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     domain.TimelineCRMFailed,
		Reason:   "crm unavailable",
		Occurred: createdAt.Add(10 * time.Second),
	}); err != nil {
		t.Fatalf("append timeline event with explicit occurred: %v", err)
	}

	events, err := timelineRepo.List(ctx, order.ID)
	if err != nil {
		t.Fatalf("list timeline events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 timeline events, got %d", len(events))
	}
	if events[0].Occurred.After(events[1].Occurred) {
		t.Fatalf("events should be sorted by occurred asc: %+v", events)
	}
}

func TestTimelineRepository_PostgresMissingOrder(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ctx := context.Background()
	timelineRepo := NewTimelineRepository(store)

	if err := timelineRepo.Append(ctx, domain.TimelineEvent{OrderID: 404, Type: domain.TimelineOrderPlaced}); err == nil {
		t.Fatal("expected append error for missing order due FK constraint")
	}

	events, err := timelineRepo.List(ctx, 404)
	if err != nil {
		t.Fatalf("list for missing order should not fail: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events for missing order, got %d", len(events))
	}
}
