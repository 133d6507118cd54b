package persistence

import (
	"context"
	"time"

	"github.com/example/safety-checkin/internal/checkin"
)

// TransitionParams describes a conditional status change. The update applies
// only while the stored status is one of From; otherwise ErrStateConflict is
// returned. At is stored in the timestamp column that belongs to To. When
// LastUpdateAt is set, the stored last update must also equal it.
type TransitionParams struct {
	SessionID    string
	From         []checkin.Status
	To           checkin.Status
	At           time.Time
	Reason       checkin.ArchiveReason
	LastUpdateAt *time.Time
}

// SessionRepository stores check-in sessions. It enforces at most one open
// session per owner at write time.
type SessionRepository interface {
	CreateSession(ctx context.Context, session CheckinSession) error
	GetSession(ctx context.Context, id string) (CheckinSession, error)
	FindOpenSession(ctx context.Context, ownerID string) (CheckinSession, error)
	ListSessions(ctx context.Context, ownerID string) ([]CheckinSession, error)
	ListOpenSessions(ctx context.Context) ([]CheckinSession, error)
	// RecordBroadcast refreshes LastUpdateAt, clears MissedCheckins and the
	// escalated state of an open session.
	RecordBroadcast(ctx context.Context, id string, at time.Time) (CheckinSession, error)
	// RecordMissedCheckin increments MissedCheckins of an open session.
	RecordMissedCheckin(ctx context.Context, id string, at time.Time) (CheckinSession, error)
	Transition(ctx context.Context, params TransitionParams) (CheckinSession, error)
	// MarkAlerted records the delivered alert level while the session is
	// still at that level.
	MarkAlerted(ctx context.Context, id string, level checkin.Status, at time.Time) (CheckinSession, error)
}

// LocationRepository stores the append-only location log.
type LocationRepository interface {
	AppendLocation(ctx context.Context, entry LocationLogEntry) error
	ListLocations(ctx context.Context, sessionID string, limit int) ([]LocationLogEntry, error)
	LatestLocation(ctx context.Context, sessionID string) (LocationLogEntry, error)
}

// ContactRepository stores emergency contacts.
type ContactRepository interface {
	// CreateContact inserts the contact unless the owner already holds limit
	// contacts, in which case ErrLimitExceeded is returned.
	CreateContact(ctx context.Context, contact Contact, limit int) error
	ListContacts(ctx context.Context, ownerID string) ([]Contact, error)
	DeleteContact(ctx context.Context, ownerID, id string) error
}

// RecordingRepository stores evidence metadata.
type RecordingRepository interface {
	CreateRecording(ctx context.Context, recording Recording) error
	GetRecording(ctx context.Context, id string) (Recording, error)
	ListRecordings(ctx context.Context, sessionID string) ([]Recording, error)
}

// Store aggregates every repository.
type Store interface {
	SessionRepository
	LocationRepository
	ContactRepository
	RecordingRepository
	Close() error
}
