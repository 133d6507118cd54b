package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/safety-checkin/internal/checkin"
	"github.com/example/safety-checkin/internal/events"
	"github.com/example/safety-checkin/internal/persistence"
)

// Resume relaunches the periodic tasks of every open session after a restart.
// Sessions silent for longer than ArchiveAfter are archived as abandoned
// instead. It returns the number of sessions relaunched.
func (s *CheckinService) Resume(ctx context.Context) (resumed int, err error) {
	if s == nil {
		return 0, fmt.Errorf("CheckinService is nil")
	}

	logger := s.loggerWith(ctx, "Resume")
	open, err := s.sessions.ListOpenSessions(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "failed to list open sessions", "error", err)
		return 0, err
	}

	now := s.now().UTC()
	for _, session := range open {
		if s.abandoned(session, now) {
			s.archiveAbandoned(ctx, session, now)
			continue
		}
		if session.RecordingEnabled {
			s.beginRecording(ctx, logger.With("session_id", session.ID), session)
		}
		if s.runner.Launch(session.ID, session.Interval(), s) {
			resumed++
		}
	}
	logger.InfoContext(ctx, "open sessions resumed", "resumed", resumed, "open", len(open))
	return resumed, nil
}

// ArchiveAbandoned archives every open session whose last successful check-in
// is older than ArchiveAfter and returns how many were archived.
func (s *CheckinService) ArchiveAbandoned(ctx context.Context) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("CheckinService is nil")
	}
	if s.archiveAfter <= 0 {
		return 0, nil
	}

	logger := s.loggerWith(ctx, "ArchiveAbandoned")
	open, err := s.sessions.ListOpenSessions(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "failed to list open sessions", "error", err)
		return 0, err
	}

	now := s.now().UTC()
	archived := 0
	for _, session := range open {
		if s.abandoned(session, now) && s.archiveAbandoned(ctx, session, now) {
			archived++
		}
	}
	if archived > 0 {
		logger.InfoContext(ctx, "abandoned sessions archived", "archived", archived)
	}
	return archived, nil
}

// ReleasePending stores captures whose release failed when their session
// ended. Captures of sessions that no longer exist are discarded. It returns
// the number of captures resolved.
func (s *CheckinService) ReleasePending(ctx context.Context) int {
	if s == nil || s.recorder == nil {
		return 0
	}

	logger := s.loggerWith(ctx, "ReleasePending")
	released := 0
	for _, sessionID := range s.recorder.Pending() {
		session, err := s.sessions.GetSession(ctx, sessionID)
		switch {
		case errors.Is(err, persistence.ErrNotFound):
			s.recorder.Abort(sessionID)
			continue
		case err != nil:
			logger.WarnContext(ctx, "failed to load session of pending capture", "session_id", sessionID, "error", err)
			continue
		case !session.Status.Terminal():
			continue
		}
		s.releaseRecording(ctx, logger.With("session_id", sessionID), session)
		if !s.recorder.Active(sessionID) {
			released++
		}
	}
	return released
}

// RunSweeper archives abandoned sessions and retries failed recording
// releases every period until ctx is done.
func (s *CheckinService) RunSweeper(ctx context.Context, period time.Duration) {
	if s == nil {
		return
	}
	s.runner.Every(ctx, period, func(ctx context.Context) {
		_, _ = s.ArchiveAbandoned(ctx)
		s.ReleasePending(ctx)
	})
}

func (s *CheckinService) abandoned(session persistence.CheckinSession, now time.Time) bool {
	return s.archiveAfter > 0 && now.Sub(session.LastUpdateAt) > s.archiveAfter
}

func (s *CheckinService) archiveAbandoned(ctx context.Context, session persistence.CheckinSession, now time.Time) bool {
	logger := s.loggerWith(ctx, "ArchiveAbandoned", "session_id", session.ID, "owner_id", session.OwnerID)

	updated, err := s.sessions.Transition(ctx, persistence.TransitionParams{
		SessionID: session.ID,
		From:      checkin.OpenStatuses,
		To:        checkin.StatusArchived,
		At:        now,
		Reason:    checkin.ArchiveReasonAbandoned,
	})
	if err != nil {
		logger.WarnContext(ctx, "failed to archive session", "error", err)
		return false
	}

	s.runner.Halt(session.ID)
	s.releaseRecording(ctx, logger, updated)
	s.forgetPosition(updated.OwnerID)
	s.publish(ctx, logger, events.Event{
		Kind:       events.KindSessionArchived,
		SessionID:  updated.ID,
		OwnerID:    updated.OwnerID,
		Status:     string(updated.Status),
		Severity:   events.SeverityWarning,
		Message:    string(checkin.ArchiveReasonAbandoned),
		OccurredAt: now,
	})
	logger.InfoContext(ctx, "session archived as abandoned", "last_update_at", session.LastUpdateAt)
	return true
}
