package audit

import (
	"context"
	"testing"
	"time"
)

func TestService_AppendRequiresAgentAndType(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.Append(context.Background(), Event{Type: EventTypeGateAcquired}); err == nil {
		t.Fatalf("expected error")
	}
	if err := svc.Append(context.Background(), Event{AgentID: "a1"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestService_AppendsImmutableEvents(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.LogReleased(context.Background(), "a1", "c1", "completed", 42*time.Second); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event")
	}
	if evs[0].Type != EventTypeGateReleased {
		t.Fatalf("expected gate_released")
	}
	if evs[0].Reason != "completed" || evs[0].HeldSeconds != 42 {
		t.Fatalf("unexpected event: %+v", evs[0])
	}
	if evs[0].ID == "" || evs[0].CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp filled in")
	}
}

func TestMemoryRepo_ListByAgentNewestFirst(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	svc.LogAcquired(ctx, "a1")
	svc.LogAttached(ctx, "a1", "c1")
	svc.LogAcquired(ctx, "a2")
	svc.LogReleased(ctx, "a1", "c1", "completed", time.Second)

	evs, err := repo.ListByAgent(ctx, "a1", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evs))
	}
	if evs[0].Type != EventTypeGateReleased || evs[1].Type != EventTypeCallAttached {
		t.Fatalf("unexpected order: %+v", evs)
	}
}
