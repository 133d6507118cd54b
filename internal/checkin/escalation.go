package checkin

import "time"

// EscalationFactor is the number of broadcast intervals that may elapse
// without a successful broadcast before the session escalates.
const EscalationFactor = 2

// Snapshot is the persisted session state the monitor evaluates.
type Snapshot struct {
	Status            Status
	Interval          time.Duration
	DeactivationLimit time.Duration
	CreatedAt         time.Time
	LastUpdateAt      time.Time
	// AlertedLevel is the highest status whose contact alert was delivered.
	AlertedLevel Status
}

// Decision is the outcome of one monitor evaluation.
type Decision struct {
	// Next is the status to transition into, empty when no transition fires.
	Next Status
	// Alert is set when contacts still need to be alerted for AlertLevel.
	Alert      bool
	AlertLevel Status
}

// Evaluate applies the escalation rules to a snapshot.
//
// The deactivation limit is checked first. A session past its limit becomes
// critical and the missed check-in rule is not considered in the same
// evaluation; the critical alert covers it. Otherwise an active session whose
// last broadcast is older than EscalationFactor intervals escalates. Both
// comparisons are strict.
//
// Alerts are tied to levels, not evaluations: once the alert for the current
// level is recorded as delivered, later evaluations return no alert.
func Evaluate(snap Snapshot, now time.Time) Decision {
	if !snap.Status.Open() {
		return Decision{}
	}

	var decision Decision
	current := snap.Status

	switch {
	case current != StatusCritical && snap.DeactivationLimit > 0 && now.Sub(snap.CreatedAt) > snap.DeactivationLimit:
		decision.Next = StatusCritical
		current = StatusCritical
	case current == StatusActive && snap.Interval > 0 && now.Sub(snap.LastUpdateAt) > EscalationFactor*snap.Interval:
		decision.Next = StatusEscalated
		current = StatusEscalated
	}

	if current.Level() > snap.AlertedLevel.Level() {
		decision.Alert = true
		decision.AlertLevel = current
	}
	return decision
}

// EscalatesAt returns the instant after which an active session without
// broadcasts escalates.
func EscalatesAt(snap Snapshot) time.Time {
	return snap.LastUpdateAt.Add(EscalationFactor * snap.Interval)
}

// DeactivatesAt returns the instant after which the session becomes critical.
func DeactivatesAt(snap Snapshot) time.Time {
	return snap.CreatedAt.Add(snap.DeactivationLimit)
}
