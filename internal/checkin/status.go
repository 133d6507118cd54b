// Package checkin holds the check-in session state machine, the escalation
// rules evaluated by the monitor, and the runner that drives the two periodic
// tasks of every open session.
package checkin

import "fmt"

// Status enumerates the lifecycle states of a check-in session.
type Status string

const (
	// StatusActive is a running session whose broadcasts are on time.
	StatusActive Status = "active"
	// StatusEscalated is a running session that missed its check-ins.
	StatusEscalated Status = "escalated"
	// StatusCritical is a running session that outlived its deactivation limit.
	StatusCritical Status = "critical"
	// StatusCompleted is a session the owner marked safe.
	StatusCompleted Status = "completed"
	// StatusArchived is a session that was stopped or abandoned.
	StatusArchived Status = "archived"
)

// ArchiveReason records why a session ended without being marked safe.
type ArchiveReason string

const (
	ArchiveReasonStopped   ArchiveReason = "stopped"
	ArchiveReasonAbandoned ArchiveReason = "abandoned"
)

// OpenStatuses lists the statuses that keep the periodic tasks running.
var OpenStatuses = []Status{StatusActive, StatusEscalated, StatusCritical}

// Open reports whether the session is still running.
func (s Status) Open() bool {
	switch s {
	case StatusActive, StatusEscalated, StatusCritical:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusArchived
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.Open() || s.Terminal()
}

// Level orders the alert levels; only escalated and critical carry one.
func (s Status) Level() int {
	switch s {
	case StatusEscalated:
		return 1
	case StatusCritical:
		return 2
	}
	return 0
}

// CanTransition reports whether the state machine allows moving from s to next.
//
// active <-> escalated (the reverse edge only through a successful broadcast),
// active|escalated -> critical, any open status -> completed|archived.
// Critical is left only by completing or archiving the session.
func (s Status) CanTransition(next Status) bool {
	if !s.Open() {
		return false
	}
	switch next {
	case StatusActive:
		return s == StatusEscalated
	case StatusEscalated:
		return s == StatusActive
	case StatusCritical:
		return s == StatusActive || s == StatusEscalated
	case StatusCompleted, StatusArchived:
		return true
	}
	return false
}

// ParseStatus converts a stored value into a Status.
func ParseStatus(value string) (Status, error) {
	status := Status(value)
	if !status.Valid() {
		return "", fmt.Errorf("checkin: unknown status %q", value)
	}
	return status, nil
}
