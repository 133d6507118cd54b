package persistence

import (
	"time"

	"github.com/example/safety-checkin/internal/checkin"
)

// CheckinSession is the persisted state of one safety check-in.
type CheckinSession struct {
	ID                       string
	OwnerID                  string
	Status                   checkin.Status
	CheckInIntervalSeconds   int
	DeactivationLimitSeconds int
	RecordingEnabled         bool
	CreatedAt                time.Time
	LastUpdateAt             time.Time
	MissedCheckins           int
	// AlertedLevel is the highest escalation level whose contact alert was
	// delivered; empty while no alert went out.
	AlertedLevel  checkin.Status
	EscalatedAt   *time.Time
	CriticalAt    *time.Time
	MarkedSafeAt  *time.Time
	ArchivedAt    *time.Time
	ArchiveReason checkin.ArchiveReason
	UpdatedAt     time.Time
}

// Interval returns the broadcast period.
func (s CheckinSession) Interval() time.Duration {
	return time.Duration(s.CheckInIntervalSeconds) * time.Second
}

// DeactivationLimit returns the maximum tolerated session age.
func (s CheckinSession) DeactivationLimit() time.Duration {
	return time.Duration(s.DeactivationLimitSeconds) * time.Second
}

// Snapshot projects the fields the escalation rules evaluate.
func (s CheckinSession) Snapshot() checkin.Snapshot {
	return checkin.Snapshot{
		Status:            s.Status,
		Interval:          s.Interval(),
		DeactivationLimit: s.DeactivationLimit(),
		CreatedAt:         s.CreatedAt,
		LastUpdateAt:      s.LastUpdateAt,
		AlertedLevel:      s.AlertedLevel,
	}
}

// LocationLogEntry is one append-only location sample of a session.
type LocationLogEntry struct {
	ID         string
	SessionID  string
	OwnerID    string
	Latitude   float64
	Longitude  float64
	Accuracy   *float64
	CapturedAt time.Time
	CreatedAt  time.Time
}

// Contact is a trusted person alerted during check-ins.
type Contact struct {
	ID           string
	OwnerID      string
	Name         string
	Phone        string
	Relationship string
	CreatedAt    time.Time
}

// Recording is the metadata of a sealed evidence blob.
type Recording struct {
	ID         string
	SessionID  string
	OwnerID    string
	Path       string
	Kind       string
	MimeType   string
	SizeBytes  int64
	SHA256     string
	Encrypted  bool
	Latitude   *float64
	Longitude  *float64
	StartedAt  time.Time
	FinishedAt time.Time
	CreatedAt  time.Time
}
