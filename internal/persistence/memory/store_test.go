package memory

import (
	"context"
	"testing"
	"time"

	"github.com/example/safety-checkin/internal/checkin"
	"github.com/example/safety-checkin/internal/persistence"
	"github.com/example/safety-checkin/internal/persistence/persistencetest"
)

func TestStoreContract(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.Store {
		return New()
	})
}

func TestStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := New()
	now := time.Date(2024, time.March, 9, 21, 30, 0, 0, time.UTC)

	if err := store.CreateSession(ctx, persistence.CheckinSession{
		ID:                       "s-1",
		OwnerID:                  "owner-1",
		Status:                   checkin.StatusActive,
		CheckInIntervalSeconds:   60,
		DeactivationLimitSeconds: 600,
		CreatedAt:                now,
		LastUpdateAt:             now,
	}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	completed, err := store.Transition(ctx, persistence.TransitionParams{
		SessionID: "s-1",
		From:      checkin.OpenStatuses,
		To:        checkin.StatusCompleted,
		At:        now.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	*completed.MarkedSafeAt = now.Add(time.Hour)

	stored, err := store.GetSession(ctx, "s-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if !stored.MarkedSafeAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("stored session mutated through returned pointer: %s", stored.MarkedSafeAt)
	}
}
