// Package memory provides an in-process persistence.Store backed by maps.
// It enforces the same uniqueness and guard rules as the SQLite store and is
// used by tests and single-process development runs.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/example/safety-checkin/internal/checkin"
	"github.com/example/safety-checkin/internal/persistence"
)

// Store keeps every record in memory behind a single lock.
type Store struct {
	mu         sync.RWMutex
	sessions   map[string]persistence.CheckinSession
	locations  map[string][]persistence.LocationLogEntry
	contacts   map[string]persistence.Contact
	recordings map[string]persistence.Recording
}

var _ persistence.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		sessions:   make(map[string]persistence.CheckinSession),
		locations:  make(map[string][]persistence.LocationLogEntry),
		contacts:   make(map[string]persistence.Contact),
		recordings: make(map[string]persistence.Recording),
	}
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// --- SessionRepository implementation ---

// CreateSession stores a new session, rejecting a second open session for the
// same owner with persistence.ErrDuplicate.
func (s *Store) CreateSession(ctx context.Context, session persistence.CheckinSession) error {
	if session.ID == "" || session.OwnerID == "" || !session.Status.Valid() {
		return persistence.ErrConstraintViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.ID]; ok {
		return persistence.ErrDuplicate
	}
	if session.Status.Open() {
		if _, ok := s.openSessionLocked(session.OwnerID); ok {
			return persistence.ErrDuplicate
		}
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = session.CreatedAt
	}

	s.sessions[session.ID] = cloneSession(session)
	return nil
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (persistence.CheckinSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return persistence.CheckinSession{}, persistence.ErrNotFound
	}
	return cloneSession(session), nil
}

// FindOpenSession returns the owner's open session.
func (s *Store) FindOpenSession(ctx context.Context, ownerID string) (persistence.CheckinSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.openSessionLocked(ownerID)
	if !ok {
		return persistence.CheckinSession{}, persistence.ErrNotFound
	}
	return cloneSession(session), nil
}

// ListSessions returns the owner's sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, ownerID string) ([]persistence.CheckinSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]persistence.CheckinSession, 0)
	for _, session := range s.sessions {
		if session.OwnerID == ownerID {
			sessions = append(sessions, cloneSession(session))
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// ListOpenSessions returns every open session, oldest first.
func (s *Store) ListOpenSessions(ctx context.Context) ([]persistence.CheckinSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]persistence.CheckinSession, 0)
	for _, session := range s.sessions {
		if session.Status.Open() {
			sessions = append(sessions, cloneSession(session))
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// RecordBroadcast refreshes the last update of an open session.
func (s *Store) RecordBroadcast(ctx context.Context, id string, at time.Time) (persistence.CheckinSession, error) {
	return s.update(id, checkin.OpenStatuses, func(session *persistence.CheckinSession) {
		session.LastUpdateAt = at
		session.MissedCheckins = 0
		if session.Status == checkin.StatusEscalated {
			session.Status = checkin.StatusActive
			session.AlertedLevel = ""
		}
		session.UpdatedAt = at
	})
}

// RecordMissedCheckin increments the missed counter of an open session.
func (s *Store) RecordMissedCheckin(ctx context.Context, id string, at time.Time) (persistence.CheckinSession, error) {
	return s.update(id, checkin.OpenStatuses, func(session *persistence.CheckinSession) {
		session.MissedCheckins++
		session.UpdatedAt = at
	})
}

// Transition applies a guarded status change.
func (s *Store) Transition(ctx context.Context, params persistence.TransitionParams) (persistence.CheckinSession, error) {
	if !params.To.Valid() || len(params.From) == 0 {
		return persistence.CheckinSession{}, persistence.ErrConstraintViolation
	}
	var guard func(persistence.CheckinSession) bool
	if params.LastUpdateAt != nil {
		lastUpdate := *params.LastUpdateAt
		guard = func(session persistence.CheckinSession) bool {
			return session.LastUpdateAt.Equal(lastUpdate)
		}
	}
	return s.updateIf(params.SessionID, params.From, guard, func(session *persistence.CheckinSession) {
		at := params.At
		session.Status = params.To
		session.UpdatedAt = at
		switch params.To {
		case checkin.StatusEscalated:
			session.EscalatedAt = &at
		case checkin.StatusCritical:
			session.CriticalAt = &at
		case checkin.StatusCompleted:
			session.MarkedSafeAt = &at
		case checkin.StatusArchived:
			session.ArchivedAt = &at
			session.ArchiveReason = params.Reason
		case checkin.StatusActive:
			session.AlertedLevel = ""
		}
	})
}

// MarkAlerted records the delivered alert level.
func (s *Store) MarkAlerted(ctx context.Context, id string, level checkin.Status, at time.Time) (persistence.CheckinSession, error) {
	return s.update(id, []checkin.Status{level}, func(session *persistence.CheckinSession) {
		session.AlertedLevel = level
		session.UpdatedAt = at
	})
}

func (s *Store) update(id string, from []checkin.Status, mutate func(*persistence.CheckinSession)) (persistence.CheckinSession, error) {
	return s.updateIf(id, from, nil, mutate)
}

func (s *Store) updateIf(id string, from []checkin.Status, guard func(persistence.CheckinSession) bool, mutate func(*persistence.CheckinSession)) (persistence.CheckinSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return persistence.CheckinSession{}, persistence.ErrNotFound
	}
	if !slices.Contains(from, session.Status) || (guard != nil && !guard(session)) {
		return persistence.CheckinSession{}, persistence.ErrStateConflict
	}
	mutate(&session)
	s.sessions[id] = cloneSession(session)
	return cloneSession(session), nil
}

func (s *Store) openSessionLocked(ownerID string) (persistence.CheckinSession, bool) {
	for _, session := range s.sessions {
		if session.OwnerID == ownerID && session.Status.Open() {
			return session, true
		}
	}
	return persistence.CheckinSession{}, false
}

// --- LocationRepository implementation ---

// AppendLocation appends a location sample to the session's log.
func (s *Store) AppendLocation(ctx context.Context, entry persistence.LocationLogEntry) error {
	if entry.ID == "" || entry.SessionID == "" {
		return persistence.ErrConstraintViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[entry.SessionID]; !ok {
		return persistence.ErrConstraintViolation
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = entry.CapturedAt
	}
	s.locations[entry.SessionID] = append(s.locations[entry.SessionID], cloneLocation(entry))
	return nil
}

// ListLocations returns up to limit samples, newest first.
func (s *Store) ListLocations(ctx context.Context, sessionID string, limit int) ([]persistence.LocationLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.sortedLocationsLocked(sessionID)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// LatestLocation returns the newest sample of the session.
func (s *Store) LatestLocation(ctx context.Context, sessionID string) (persistence.LocationLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.sortedLocationsLocked(sessionID)
	if len(entries) == 0 {
		return persistence.LocationLogEntry{}, persistence.ErrNotFound
	}
	return entries[0], nil
}

func (s *Store) sortedLocationsLocked(sessionID string) []persistence.LocationLogEntry {
	stored := s.locations[sessionID]
	entries := make([]persistence.LocationLogEntry, 0, len(stored))
	for _, entry := range stored {
		entries = append(entries, cloneLocation(entry))
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].CapturedAt.Equal(entries[j].CapturedAt) {
			return entries[i].CapturedAt.After(entries[j].CapturedAt)
		}
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		}
		return entries[i].ID > entries[j].ID
	})
	return entries
}

// --- ContactRepository implementation ---

// CreateContact stores a contact unless the owner reached limit.
func (s *Store) CreateContact(ctx context.Context, contact persistence.Contact, limit int) error {
	if contact.ID == "" || contact.OwnerID == "" {
		return persistence.ErrConstraintViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.contacts[contact.ID]; ok {
		return persistence.ErrDuplicate
	}
	count := 0
	for _, existing := range s.contacts {
		if existing.OwnerID != contact.OwnerID {
			continue
		}
		if existing.Phone == contact.Phone {
			return persistence.ErrDuplicate
		}
		count++
	}
	if limit > 0 && count >= limit {
		return persistence.ErrLimitExceeded
	}

	s.contacts[contact.ID] = contact
	return nil
}

// ListContacts returns the owner's contacts in creation order.
func (s *Store) ListContacts(ctx context.Context, ownerID string) ([]persistence.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	contacts := make([]persistence.Contact, 0)
	for _, contact := range s.contacts {
		if contact.OwnerID == ownerID {
			contacts = append(contacts, contact)
		}
	}
	sort.Slice(contacts, func(i, j int) bool {
		if contacts[i].CreatedAt.Equal(contacts[j].CreatedAt) {
			return contacts[i].ID < contacts[j].ID
		}
		return contacts[i].CreatedAt.Before(contacts[j].CreatedAt)
	})
	return contacts, nil
}

// DeleteContact removes one of the owner's contacts.
func (s *Store) DeleteContact(ctx context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	contact, ok := s.contacts[id]
	if !ok || contact.OwnerID != ownerID {
		return persistence.ErrNotFound
	}
	delete(s.contacts, id)
	return nil
}

// --- RecordingRepository implementation ---

// CreateRecording stores evidence metadata.
func (s *Store) CreateRecording(ctx context.Context, recording persistence.Recording) error {
	if recording.ID == "" || recording.SessionID == "" || recording.Path == "" {
		return persistence.ErrConstraintViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[recording.SessionID]; !ok {
		return persistence.ErrConstraintViolation
	}
	for _, existing := range s.recordings {
		if existing.ID == recording.ID || existing.Path == recording.Path {
			return persistence.ErrDuplicate
		}
	}
	s.recordings[recording.ID] = cloneRecording(recording)
	return nil
}

// GetRecording retrieves recording metadata by ID.
func (s *Store) GetRecording(ctx context.Context, id string) (persistence.Recording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recording, ok := s.recordings[id]
	if !ok {
		return persistence.Recording{}, persistence.ErrNotFound
	}
	return cloneRecording(recording), nil
}

// ListRecordings returns the session's recordings in creation order.
func (s *Store) ListRecordings(ctx context.Context, sessionID string) ([]persistence.Recording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recordings := make([]persistence.Recording, 0)
	for _, recording := range s.recordings {
		if recording.SessionID == sessionID {
			recordings = append(recordings, cloneRecording(recording))
		}
	}
	sort.Slice(recordings, func(i, j int) bool {
		if recordings[i].CreatedAt.Equal(recordings[j].CreatedAt) {
			return recordings[i].ID < recordings[j].ID
		}
		return recordings[i].CreatedAt.Before(recordings[j].CreatedAt)
	})
	return recordings, nil
}

func cloneSession(session persistence.CheckinSession) persistence.CheckinSession {
	session.EscalatedAt = cloneTimePtr(session.EscalatedAt)
	session.CriticalAt = cloneTimePtr(session.CriticalAt)
	session.MarkedSafeAt = cloneTimePtr(session.MarkedSafeAt)
	session.ArchivedAt = cloneTimePtr(session.ArchivedAt)
	return session
}

func cloneLocation(entry persistence.LocationLogEntry) persistence.LocationLogEntry {
	entry.Accuracy = cloneFloatPtr(entry.Accuracy)
	return entry
}

func cloneRecording(recording persistence.Recording) persistence.Recording {
	recording.Latitude = cloneFloatPtr(recording.Latitude)
	recording.Longitude = cloneFloatPtr(recording.Longitude)
	return recording
}

func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	value := *t
	return &value
}

func cloneFloatPtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	value := *v
	return &value
}
