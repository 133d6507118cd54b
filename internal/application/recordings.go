package application

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/example/safety-checkin/internal/evidence"
	"github.com/example/safety-checkin/internal/persistence"
)

// AppendRecording adds a media chunk to the open capture of a session.
func (s *CheckinService) AppendRecording(ctx context.Context, principal Principal, sessionID string, chunk io.Reader) (written int64, err error) {
	if s == nil {
		return 0, fmt.Errorf("CheckinService is nil")
	}

	logger := s.loggerWith(ctx, "AppendRecording", "session_id", sessionID)
	defer func() {
		if err != nil {
			logger.WarnContext(ctx, "recording chunk rejected", "error", err, "error_kind", ErrorKind(err))
		}
	}()

	if s.recorder == nil {
		return 0, ErrInvalidState
	}
	var session persistence.CheckinSession
	session, err = s.ownedSession(ctx, principal, sessionID)
	if err != nil {
		return 0, err
	}
	if !session.Status.Open() || !session.RecordingEnabled {
		return 0, ErrInvalidState
	}

	written, err = s.recorder.Append(ctx, session.ID, chunk)
	switch {
	case errors.Is(err, evidence.ErrNoCapture):
		return 0, ErrInvalidState
	case errors.Is(err, evidence.ErrTooLarge):
		vErr := &ValidationError{}
		vErr.add("recording", "recording exceeds size limit")
		return 0, vErr
	}
	return written, err
}

// Recordings lists the stored recordings of a session.
func (s *CheckinService) Recordings(ctx context.Context, principal Principal, sessionID string) ([]persistence.Recording, error) {
	if s == nil {
		return nil, fmt.Errorf("CheckinService is nil")
	}
	if _, err := s.ownedSession(ctx, principal, sessionID); err != nil {
		return nil, err
	}
	if s.recordings == nil {
		return nil, nil
	}
	return s.recordings.ListRecordings(ctx, sessionID)
}

// VerifyRecording re-hashes a stored recording and reports whether it still
// matches the digest taken when it was sealed.
func (s *CheckinService) VerifyRecording(ctx context.Context, principal Principal, recordingID string) (result VerifiedRecording, err error) {
	if s == nil {
		return VerifiedRecording{}, fmt.Errorf("CheckinService is nil")
	}

	logger := s.loggerWith(ctx, "VerifyRecording", "recording_id", recordingID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "recording verification failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "recording verified", "intact", result.Intact)
	}()

	if principal.OwnerID == "" {
		return VerifiedRecording{}, ErrUnauthorized
	}
	if s.recordings == nil || s.evidence == nil {
		return VerifiedRecording{}, ErrNotFound
	}

	stored, err := s.recordings.GetRecording(ctx, recordingID)
	if err != nil {
		return VerifiedRecording{}, mapSessionRepoError(err)
	}
	if stored.OwnerID != principal.OwnerID {
		return VerifiedRecording{}, ErrUnauthorized
	}

	recording, intact, err := s.evidence.Verify(ctx, recordingID)
	if err != nil {
		return VerifiedRecording{}, err
	}
	return VerifiedRecording{Recording: recording, Intact: intact}, nil
}
