// Package testfixtures provides deterministic clocks, identifiers, record
// builders and collaborator fakes for tests across the module.
package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/safety-checkin/internal/application"
	"github.com/example/safety-checkin/internal/checkin"
	"github.com/example/safety-checkin/internal/location"
	"github.com/example/safety-checkin/internal/persistence"
)

var (
	sessionCounter uint64
	contactCounter uint64
)

var referenceTime = time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// Tokyo is the default position reported by fakes.
var Tokyo = location.Position{Latitude: 35.681236, Longitude: 139.767125}

// ---------------------------- Session fixtures ----------------------------

// SessionFixture is a deterministic check-in session record.
type SessionFixture struct {
	persistence.CheckinSession
}

// SessionOption configures the generated session fixture.
type SessionOption func(*SessionFixture)

// NewSessionFixture returns an active session with a ten minute interval and
// a four hour deactivation limit, created at ReferenceTime.
func NewSessionFixture(opts ...SessionOption) SessionFixture {
	idx := atomic.AddUint64(&sessionCounter, 1)
	fixture := SessionFixture{CheckinSession: persistence.CheckinSession{
		ID:                       fmt.Sprintf("session-%03d", idx),
		OwnerID:                  fmt.Sprintf("owner-%03d", idx),
		Status:                   checkin.StatusActive,
		CheckInIntervalSeconds:   600,
		DeactivationLimitSeconds: 4 * 3600,
		CreatedAt:                referenceTime,
		LastUpdateAt:             referenceTime,
		UpdatedAt:                referenceTime,
	}}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithSessionID overrides the session identifier.
func WithSessionID(id string) SessionOption {
	return func(f *SessionFixture) { f.ID = id }
}

// WithSessionOwner overrides the owner.
func WithSessionOwner(ownerID string) SessionOption {
	return func(f *SessionFixture) { f.OwnerID = ownerID }
}

// WithSessionStatus overrides the status.
func WithSessionStatus(status checkin.Status) SessionOption {
	return func(f *SessionFixture) { f.Status = status }
}

// WithSessionTimers overrides the interval and deactivation limit.
func WithSessionTimers(interval, limit time.Duration) SessionOption {
	return func(f *SessionFixture) {
		f.CheckInIntervalSeconds = int(interval / time.Second)
		f.DeactivationLimitSeconds = int(limit / time.Second)
	}
}

// WithSessionTimes overrides creation and last update instants.
func WithSessionTimes(created, lastUpdate time.Time) SessionOption {
	return func(f *SessionFixture) {
		f.CreatedAt = created
		f.LastUpdateAt = lastUpdate
		f.UpdatedAt = lastUpdate
	}
}

// WithRecording enables evidence capture.
func WithRecording() SessionOption {
	return func(f *SessionFixture) { f.RecordingEnabled = true }
}

// Principal returns the owner principal of the session.
func (f SessionFixture) Principal() application.Principal {
	return application.Principal{OwnerID: f.OwnerID}
}

// Persistence returns the persisted record.
func (f SessionFixture) Persistence() persistence.CheckinSession {
	return f.CheckinSession
}

// ---------------------------- Contact fixtures ----------------------------

// ContactFixture is a deterministic emergency contact.
type ContactFixture struct {
	persistence.Contact
}

// ContactOption configures the generated contact fixture.
type ContactOption func(*ContactFixture)

// NewContactFixture returns a contact with a unique E.164 phone number.
func NewContactFixture(ownerID string, opts ...ContactOption) ContactFixture {
	idx := atomic.AddUint64(&contactCounter, 1)
	fixture := ContactFixture{Contact: persistence.Contact{
		ID:           fmt.Sprintf("contact-%03d", idx),
		OwnerID:      ownerID,
		Name:         fmt.Sprintf("Contact %03d", idx),
		Phone:        fmt.Sprintf("+8190%08d", idx),
		Relationship: "friend",
		CreatedAt:    referenceTime.Add(time.Duration(idx) * time.Second),
	}}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithContactPhone overrides the phone number.
func WithContactPhone(phone string) ContactOption {
	return func(f *ContactFixture) { f.Phone = phone }
}

// WithContactName overrides the display name.
func WithContactName(name string) ContactOption {
	return func(f *ContactFixture) { f.Name = name }
}

// Input returns the fields a caller would submit to create the contact.
func (f ContactFixture) Input() application.ContactInput {
	return application.ContactInput{Name: f.Name, Phone: f.Phone, Relationship: f.Relationship}
}

// Persistence returns the persisted record.
func (f ContactFixture) Persistence() persistence.Contact {
	return f.Contact
}
