package testfixtures

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/example/safety-checkin/internal/persistence"
	"github.com/example/safety-checkin/internal/persistence/memory"
	"github.com/example/safety-checkin/internal/persistence/sqlite"
)

// EvidenceKey is a fixed 32 byte sealing key.
func EvidenceKey() []byte {
	return bytes.Repeat([]byte{0x5a}, 32)
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(tb testing.TB) persistence.Store {
	tb.Helper()
	store := memory.New()
	tb.Cleanup(func() { _ = store.Close() })
	return store
}

// NewSQLiteStore opens a migrated SQLite store in a temporary directory.
func NewSQLiteStore(tb testing.TB) persistence.Store {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "checkin.db")
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	store, err := sqlite.Open(context.Background(), dsn)
	if err != nil {
		tb.Fatalf("failed to open sqlite store: %v", err)
	}
	tb.Cleanup(func() { _ = store.Close() })
	return store
}

// SeedContacts stores count contacts for ownerID and returns them.
func SeedContacts(tb testing.TB, store persistence.ContactRepository, ownerID string, count int) []persistence.Contact {
	tb.Helper()
	contacts := make([]persistence.Contact, 0, count)
	for i := 0; i < count; i++ {
		contact := NewContactFixture(ownerID).Persistence()
		if err := store.CreateContact(context.Background(), contact, 0); err != nil {
			tb.Fatalf("failed to seed contact: %v", err)
		}
		contacts = append(contacts, contact)
	}
	return contacts
}

// SeedSession stores the session fixture.
func SeedSession(tb testing.TB, store persistence.SessionRepository, fixture SessionFixture) persistence.CheckinSession {
	tb.Helper()
	session := fixture.Persistence()
	if err := store.CreateSession(context.Background(), session); err != nil {
		tb.Fatalf("failed to seed session: %v", err)
	}
	return session
}
