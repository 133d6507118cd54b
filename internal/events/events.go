// Package events carries session lifecycle notifications to the UI and to
// downstream consumers.
package events

import (
	"context"
	"errors"
	"time"
)

// Kind names an event type.
type Kind string

const (
	KindSessionStarted   Kind = "session.started"
	KindCheckinSent      Kind = "checkin.sent"
	KindCheckinMissed    Kind = "checkin.missed"
	KindSessionEscalated Kind = "session.escalated"
	KindSessionCritical  Kind = "session.critical"
	KindContactsAlerted  Kind = "contacts.alerted"
	KindSessionCompleted Kind = "session.completed"
	KindSessionArchived  Kind = "session.archived"
)

// Severity tells the UI how loudly to surface an event.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	// SeverityHard is a hard alarm the UI must not let the owner miss.
	SeverityHard Severity = "hard"
)

// Event is one session notification.
type Event struct {
	Kind       Kind      `json:"kind"`
	SessionID  string    `json:"session_id"`
	OwnerID    string    `json:"owner_id"`
	Status     string    `json:"status,omitempty"`
	Severity   Severity  `json:"severity"`
	Delivered  int       `json:"delivered,omitempty"`
	Failed     int       `json:"failed,omitempty"`
	Missed     int       `json:"missed,omitempty"`
	Latitude   *float64  `json:"latitude,omitempty"`
	Longitude  *float64  `json:"longitude,omitempty"`
	Message    string    `json:"message,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher delivers events. Publish must not block for long; the check-in
// loops call it inline.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Fanout publishes to every publisher and joins their errors.
type Fanout []Publisher

// Publish implements Publisher.
func (f Fanout) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, publisher := range f {
		if publisher == nil {
			continue
		}
		if err := publisher.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(context.Context, Event) error { return nil }
