package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/safety-checkin/internal/checkin"
	"github.com/example/safety-checkin/internal/events"
	"github.com/example/safety-checkin/internal/location"
	"github.com/example/safety-checkin/internal/notify"
	"github.com/example/safety-checkin/internal/persistence"
)

// Broadcast performs one check-in tick: fetch the owner's position, log it,
// send it to every contact and refresh the session. A failed fetch leaves
// lastUpdateAt untouched and counts a missed check-in. Errors never escape
// the tick; the next tick retries.
func (s *CheckinService) Broadcast(ctx context.Context, sessionID string) checkin.Outcome {
	logger := s.loggerWith(ctx, "Broadcast", "session_id", sessionID)

	session, outcome, ok := s.loadOpen(ctx, logger, sessionID)
	if !ok {
		return outcome
	}

	position, err := s.fetchPosition(ctx, session.OwnerID)
	if err != nil {
		return s.recordMissed(ctx, logger, session, err)
	}

	now := s.now().UTC()
	entry := persistence.LocationLogEntry{
		ID:         s.idGenerator(),
		SessionID:  session.ID,
		OwnerID:    session.OwnerID,
		Latitude:   position.Latitude,
		Longitude:  position.Longitude,
		Accuracy:   position.Accuracy,
		CapturedAt: position.CapturedAt.UTC(),
		CreatedAt:  now,
	}
	if entry.CapturedAt.IsZero() {
		entry.CapturedAt = now
	}
	if err := s.locations.AppendLocation(ctx, entry); err != nil {
		logger.ErrorContext(ctx, "failed to append location", "error", err)
	}

	report := s.send(ctx, logger, session, position, "", now)

	updated, err := s.sessions.RecordBroadcast(ctx, session.ID, now)
	switch {
	case errors.Is(err, persistence.ErrStateConflict), errors.Is(err, persistence.ErrNotFound):
		logger.InfoContext(ctx, "session closed during broadcast")
		return checkin.Finished
	case err != nil:
		logger.ErrorContext(ctx, "failed to record broadcast", "error", err)
		return checkin.Continue
	}

	logger.InfoContext(ctx, "check-in sent",
		"delivered", report.Delivered(),
		"failed", report.Failed(),
		"status", updated.Status,
	)
	lat, lng := position.Latitude, position.Longitude
	s.publish(ctx, logger, events.Event{
		Kind:       events.KindCheckinSent,
		SessionID:  updated.ID,
		OwnerID:    updated.OwnerID,
		Status:     string(updated.Status),
		Severity:   events.SeverityInfo,
		Delivered:  report.Delivered(),
		Failed:     report.Failed(),
		Latitude:   &lat,
		Longitude:  &lng,
		OccurredAt: now,
	})
	return checkin.Continue
}

// Monitor evaluates the escalation rules against a fresh copy of the session,
// applies the resulting transition and alerts contacts for any level not yet
// alerted. Failed alerts are retried on the next evaluation.
func (s *CheckinService) Monitor(ctx context.Context, sessionID string) checkin.Outcome {
	logger := s.loggerWith(ctx, "Monitor", "session_id", sessionID)

	session, outcome, ok := s.loadOpen(ctx, logger, sessionID)
	if !ok {
		return outcome
	}

	now := s.now().UTC()
	decision := checkin.Evaluate(session.Snapshot(), now)

	if decision.Next != "" {
		params := persistence.TransitionParams{
			SessionID: session.ID,
			From:      transitionSources(decision.Next),
			To:        decision.Next,
			At:        now,
		}
		if decision.Next == checkin.StatusEscalated {
			// A broadcast landing after the snapshot refreshes last_update_at
			// and must cancel the escalation.
			lastUpdate := session.LastUpdateAt
			params.LastUpdateAt = &lastUpdate
		}
		updated, err := s.sessions.Transition(ctx, params)
		switch {
		case errors.Is(err, persistence.ErrStateConflict):
			logger.InfoContext(ctx, "session changed during evaluation", "target", decision.Next)
			return checkin.Continue
		case errors.Is(err, persistence.ErrNotFound):
			return checkin.Finished
		case err != nil:
			logger.ErrorContext(ctx, "failed to transition session", "target", decision.Next, "error", err)
			return checkin.Continue
		}
		session = updated
		s.publishTransition(ctx, logger, session, now)
	}

	if decision.Alert {
		s.alertContacts(ctx, logger, session, decision.AlertLevel, now)
	}
	return checkin.Continue
}

func (s *CheckinService) loadOpen(ctx context.Context, logger *slog.Logger, sessionID string) (persistence.CheckinSession, checkin.Outcome, bool) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		logger.WarnContext(ctx, "session no longer exists")
		return persistence.CheckinSession{}, checkin.Finished, false
	case err != nil:
		logger.ErrorContext(ctx, "failed to load session", "error", err)
		return persistence.CheckinSession{}, checkin.Continue, false
	case !session.Status.Open():
		return persistence.CheckinSession{}, checkin.Finished, false
	}
	return session, checkin.Continue, true
}

func (s *CheckinService) recordMissed(ctx context.Context, logger *slog.Logger, session persistence.CheckinSession, cause error) checkin.Outcome {
	now := s.now().UTC()
	updated, err := s.sessions.RecordMissedCheckin(ctx, session.ID, now)
	switch {
	case errors.Is(err, persistence.ErrStateConflict), errors.Is(err, persistence.ErrNotFound):
		return checkin.Finished
	case err != nil:
		logger.ErrorContext(ctx, "failed to record missed check-in", "error", err)
		return checkin.Continue
	}

	logger.WarnContext(ctx, "check-in missed",
		"missed_checkins", updated.MissedCheckins,
		"error", cause,
		"error_kind", ErrorKind(cause),
	)
	s.publish(ctx, logger, events.Event{
		Kind:       events.KindCheckinMissed,
		SessionID:  updated.ID,
		OwnerID:    updated.OwnerID,
		Status:     string(updated.Status),
		Severity:   events.SeverityWarning,
		Missed:     updated.MissedCheckins,
		OccurredAt: now,
	})
	return checkin.Continue
}

func (s *CheckinService) publishTransition(ctx context.Context, logger *slog.Logger, session persistence.CheckinSession, now time.Time) {
	event := events.Event{
		SessionID:  session.ID,
		OwnerID:    session.OwnerID,
		Status:     string(session.Status),
		Missed:     session.MissedCheckins,
		OccurredAt: now,
	}
	switch session.Status {
	case checkin.StatusEscalated:
		event.Kind = events.KindSessionEscalated
		event.Severity = events.SeverityWarning
		event.Message = "no check-in received within two intervals"
		logger.WarnContext(ctx, "session escalated")
	case checkin.StatusCritical:
		event.Kind = events.KindSessionCritical
		event.Severity = events.SeverityHard
		event.Message = "deactivation limit exceeded"
		logger.WarnContext(ctx, "session critical")
	default:
		return
	}
	s.publish(ctx, logger, event)
}

// alertContacts sends the critical notification for level. The level is
// recorded as alerted only after the gateway accepted the message for at
// least one contact, or when there is nobody to alert.
func (s *CheckinService) alertContacts(ctx context.Context, logger *slog.Logger, session persistence.CheckinSession, level checkin.Status, now time.Time) {
	logger = logger.With("alert_level", level)

	position, err := s.escalationPosition(ctx, session)
	if err != nil {
		logger.WarnContext(ctx, "no position for escalation alert", "error", err, "error_kind", ErrorKind(err))
		return
	}

	report, attempted := s.sendChecked(ctx, logger, session, position, alertReason(level), now)
	if !attempted {
		return
	}
	if len(report.Results) > 0 && report.Delivered() == 0 {
		logger.WarnContext(ctx, "escalation alert reached no contact", "failed", report.Failed())
		return
	}

	if _, err := s.sessions.MarkAlerted(ctx, session.ID, level, now); err != nil {
		logger.ErrorContext(ctx, "failed to record alert", "error", err)
		return
	}

	lat, lng := position.Latitude, position.Longitude
	s.publish(ctx, logger, events.Event{
		Kind:       events.KindContactsAlerted,
		SessionID:  session.ID,
		OwnerID:    session.OwnerID,
		Status:     string(level),
		Severity:   severityFor(level),
		Delivered:  report.Delivered(),
		Failed:     report.Failed(),
		Latitude:   &lat,
		Longitude:  &lng,
		OccurredAt: now,
	})
	logger.InfoContext(ctx, "contacts alerted", "delivered", report.Delivered(), "failed", report.Failed())
}

// escalationPosition fetches a fresh position and falls back to the last
// logged one.
func (s *CheckinService) escalationPosition(ctx context.Context, session persistence.CheckinSession) (location.Position, error) {
	position, err := s.fetchPosition(ctx, session.OwnerID)
	if err == nil {
		return position, nil
	}
	entry, latestErr := s.locations.LatestLocation(ctx, session.ID)
	if latestErr != nil {
		return location.Position{}, err
	}
	return location.Position{
		Latitude:   entry.Latitude,
		Longitude:  entry.Longitude,
		Accuracy:   entry.Accuracy,
		CapturedAt: entry.CapturedAt,
	}, nil
}

func (s *CheckinService) fetchPosition(ctx context.Context, ownerID string) (location.Position, error) {
	if s.provider == nil {
		return location.Position{}, ErrLocationUnavailable
	}
	fetchCtx, cancel := context.WithTimeout(ctx, s.locationTimeout)
	defer cancel()

	position, err := s.provider.CurrentPosition(fetchCtx, ownerID)
	if err != nil {
		return location.Position{}, errors.Join(ErrLocationUnavailable, err)
	}
	if err := position.Validate(); err != nil {
		return location.Position{}, errors.Join(ErrLocationUnavailable, err)
	}
	return position, nil
}

func (s *CheckinService) send(ctx context.Context, logger *slog.Logger, session persistence.CheckinSession, position location.Position, reason notify.Reason, now time.Time) notify.Report {
	report, _ := s.sendChecked(ctx, logger, session, position, reason, now)
	return report
}

// sendChecked delivers the message to the session's contacts. A non-empty
// reason marks it critical. attempted is false when the contacts could not be
// loaded or the gateway failed outright.
func (s *CheckinService) sendChecked(ctx context.Context, logger *slog.Logger, session persistence.CheckinSession, position location.Position, reason notify.Reason, now time.Time) (notify.Report, bool) {
	critical := reason != ""
	if s.contacts == nil || s.gateway == nil {
		logger.WarnContext(ctx, "notification gateway not configured")
		return notify.Report{}, false
	}

	contacts, err := s.contacts.ListContacts(ctx, session.OwnerID)
	if err != nil {
		logger.ErrorContext(ctx, "failed to load contacts", "error", err)
		return notify.Report{}, false
	}
	if len(contacts) == 0 {
		logger.InfoContext(ctx, "no contacts to notify")
		return notify.Report{}, true
	}

	recipients := make([]notify.Recipient, 0, len(contacts))
	for _, contact := range contacts {
		recipients = append(recipients, notify.Recipient{Phone: contact.Phone, Name: contact.Name})
	}

	report, err := s.gateway.Send(ctx, notify.Message{
		Latitude:   position.Latitude,
		Longitude:  position.Longitude,
		Recipients: recipients,
		Critical:   critical,
		Reason:     reason,
		SentAt:     now,
	})
	if err != nil {
		logger.ErrorContext(ctx, "notification gateway failed", "critical", critical, "error", err)
		return notify.Report{}, false
	}
	return report, true
}

func transitionSources(target checkin.Status) []checkin.Status {
	sources := make([]checkin.Status, 0, len(checkin.OpenStatuses))
	for _, status := range checkin.OpenStatuses {
		if status.CanTransition(target) {
			sources = append(sources, status)
		}
	}
	return sources
}

func alertReason(level checkin.Status) notify.Reason {
	if level == checkin.StatusCritical {
		return notify.ReasonDeactivationLimit
	}
	return notify.ReasonMissedCheckins
}

func severityFor(level checkin.Status) events.Severity {
	if level == checkin.StatusCritical {
		return events.SeverityHard
	}
	return events.SeverityWarning
}
