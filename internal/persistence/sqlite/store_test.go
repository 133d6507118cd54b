package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/example/safety-checkin/internal/persistence"
	"github.com/example/safety-checkin/internal/persistence/persistencetest"
)

func testDSN(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "checkin.db")
	return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
}

func newTestStore(t *testing.T) persistence.Store {
	t.Helper()
	store, err := Open(context.Background(), testDSN(t))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	return store
}

func TestStoreContract(t *testing.T) {
	persistencetest.Run(t, newTestStore)
}

func TestOpenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dsn := testDSN(t)

	first, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	second, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer second.Close()

	if err := second.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}

func TestLocationRequiresExistingSession(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	err := store.AppendLocation(context.Background(), persistence.LocationLogEntry{
		ID:        "loc-1",
		SessionID: "missing",
		OwnerID:   "owner-1",
	})
	if !errors.Is(err, persistence.ErrConstraintViolation) {
		t.Fatalf("expected ErrConstraintViolation, got %v", err)
	}
}

func TestErrorMapper(t *testing.T) {
	mapper := ErrorMapper{}
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "unique", err: errors.New("UNIQUE constraint failed: emergency_contacts.owner_id"), want: persistence.ErrDuplicate},
		{name: "check", err: errors.New("CHECK constraint failed: latitude"), want: persistence.ErrConstraintViolation},
		{name: "other", err: errors.New("disk I/O error"), want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapper.MapError(tt.err)
			if tt.want == nil {
				if got != tt.err {
					t.Fatalf("expected error to pass through, got %v", got)
				}
				return
			}
			if !errors.Is(got, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestRetryHelperStopsOnPermanentError(t *testing.T) {
	helper := NewRetryHelper(DefaultRetryConfig())
	calls := 0
	err := helper.WithRetry(context.Background(), func() error {
		calls++
		return persistence.ErrDuplicate
	})
	if !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestRetryHelperRetriesLockedDatabase(t *testing.T) {
	helper := NewRetryHelper(RetryConfig{MaxRetries: 3, InitialDelay: 0, MaxDelay: 0, BackoffFactor: 1})
	calls := 0
	err := helper.WithRetry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}
