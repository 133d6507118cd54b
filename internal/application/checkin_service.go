package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/safety-checkin/internal/checkin"
	"github.com/example/safety-checkin/internal/events"
	"github.com/example/safety-checkin/internal/evidence"
	"github.com/example/safety-checkin/internal/location"
	"github.com/example/safety-checkin/internal/notify"
	"github.com/example/safety-checkin/internal/persistence"
)

const (
	// DefaultLocationTimeout bounds a single location fetch.
	DefaultLocationTimeout = 10 * time.Second
	// DefaultDeactivationLimit applies when a session is started without one.
	DefaultDeactivationLimit = 4 * time.Hour
)

// CheckinDependencies captures the collaborators of a CheckinService.
type CheckinDependencies struct {
	Sessions   persistence.SessionRepository
	Locations  persistence.LocationRepository
	Contacts   persistence.ContactRepository
	Recordings persistence.RecordingRepository

	Provider  location.Provider
	Reporter  PositionReporter
	Gateway   notify.Gateway
	Publisher events.Publisher
	Recorder  Recorder
	Evidence  EvidenceVerifier
	Runner    *checkin.Runner

	IDGenerator func() string
	Now         func() time.Time

	LocationTimeout          time.Duration
	DefaultDeactivationLimit time.Duration
	// ArchiveAfter is the silence after which an open session counts as
	// abandoned. Zero disables archiving.
	ArchiveAfter time.Duration

	Logger *slog.Logger
}

// CheckinService runs safety check-in sessions: it owns their lifecycle and
// implements the broadcast and monitor steps driven by the runner.
type CheckinService struct {
	sessions   persistence.SessionRepository
	locations  persistence.LocationRepository
	contacts   persistence.ContactRepository
	recordings persistence.RecordingRepository

	provider  location.Provider
	reporter  PositionReporter
	gateway   notify.Gateway
	publisher events.Publisher
	recorder  Recorder
	evidence  EvidenceVerifier
	runner    *checkin.Runner

	idGenerator func() string
	now         func() time.Time

	locationTimeout          time.Duration
	defaultDeactivationLimit time.Duration
	archiveAfter             time.Duration

	logger *slog.Logger
}

var _ checkin.Work = (*CheckinService)(nil)

// NewCheckinService constructs a CheckinService with the provided dependencies.
func NewCheckinService(deps CheckinDependencies) *CheckinService {
	if deps.IDGenerator == nil {
		deps.IDGenerator = func() string { return "" }
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Publisher == nil {
		deps.Publisher = events.Discard{}
	}
	if deps.LocationTimeout <= 0 {
		deps.LocationTimeout = DefaultLocationTimeout
	}
	if deps.DefaultDeactivationLimit <= 0 {
		deps.DefaultDeactivationLimit = DefaultDeactivationLimit
	}
	return &CheckinService{
		sessions:                 deps.Sessions,
		locations:                deps.Locations,
		contacts:                 deps.Contacts,
		recordings:               deps.Recordings,
		provider:                 deps.Provider,
		reporter:                 deps.Reporter,
		gateway:                  deps.Gateway,
		publisher:                deps.Publisher,
		recorder:                 deps.Recorder,
		evidence:                 deps.Evidence,
		runner:                   deps.Runner,
		idGenerator:              deps.IDGenerator,
		now:                      deps.Now,
		locationTimeout:          deps.LocationTimeout,
		defaultDeactivationLimit: deps.DefaultDeactivationLimit,
		archiveAfter:             deps.ArchiveAfter,
		logger:                   defaultLogger(deps.Logger),
	}
}

func (s *CheckinService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "CheckinService", operation, attrs...)
}

// Start opens a new session for the principal and launches its periodic tasks.
// The first broadcast runs immediately.
func (s *CheckinService) Start(ctx context.Context, params StartParams) (session persistence.CheckinSession, err error) {
	if s == nil {
		err = fmt.Errorf("CheckinService is nil")
		return
	}
	if s.sessions == nil {
		err = fmt.Errorf("session repository not configured")
		return
	}

	logger := s.loggerWith(ctx, "Start", "owner_id", params.Principal.OwnerID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to start check-in", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("session_id", session.ID, "status", session.Status).InfoContext(ctx, "check-in started")
	}()

	if params.Principal.OwnerID == "" {
		err = ErrUnauthorized
		return
	}
	if params.DeactivationLimitSeconds == 0 {
		params.DeactivationLimitSeconds = int(s.defaultDeactivationLimit / time.Second)
	}
	if vErr := validateStartParams(params); vErr.HasErrors() {
		err = vErr
		return
	}

	if _, findErr := s.sessions.FindOpenSession(ctx, params.Principal.OwnerID); findErr == nil {
		err = ErrConflict
		return
	} else if !errors.Is(findErr, persistence.ErrNotFound) {
		err = findErr
		return
	}

	now := s.now().UTC()
	session = persistence.CheckinSession{
		ID:                       s.idGenerator(),
		OwnerID:                  params.Principal.OwnerID,
		Status:                   checkin.StatusActive,
		CheckInIntervalSeconds:   params.CheckInIntervalSeconds,
		DeactivationLimitSeconds: params.DeactivationLimitSeconds,
		RecordingEnabled:         params.RecordingEnabled,
		CreatedAt:                now,
		LastUpdateAt:             now,
		UpdatedAt:                now,
	}
	if err = mapSessionRepoError(s.sessions.CreateSession(ctx, session)); err != nil {
		session = persistence.CheckinSession{}
		return
	}

	if session.RecordingEnabled {
		s.beginRecording(ctx, logger, session)
	}

	s.publish(ctx, logger, events.Event{
		Kind:       events.KindSessionStarted,
		SessionID:  session.ID,
		OwnerID:    session.OwnerID,
		Status:     string(session.Status),
		Severity:   events.SeverityInfo,
		OccurredAt: now,
	})

	s.runner.Launch(session.ID, session.Interval(), s)
	return
}

// MarkSafe completes an open session. Both periodic tasks are stopped and the
// recording is released whether or not the transition succeeds.
func (s *CheckinService) MarkSafe(ctx context.Context, principal Principal, sessionID string) (persistence.CheckinSession, error) {
	return s.finish(ctx, "MarkSafe", principal, sessionID, checkin.StatusCompleted, "")
}

// Stop archives an open session at the owner's request without marking it safe.
func (s *CheckinService) Stop(ctx context.Context, principal Principal, sessionID string) (persistence.CheckinSession, error) {
	return s.finish(ctx, "Stop", principal, sessionID, checkin.StatusArchived, checkin.ArchiveReasonStopped)
}

func (s *CheckinService) finish(ctx context.Context, operation string, principal Principal, sessionID string, to checkin.Status, reason checkin.ArchiveReason) (updated persistence.CheckinSession, err error) {
	if s == nil {
		err = fmt.Errorf("CheckinService is nil")
		return
	}

	logger := s.loggerWith(ctx, operation, "session_id", sessionID, "owner_id", principal.OwnerID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to end check-in", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("status", updated.Status).InfoContext(ctx, "check-in ended")
	}()

	var session persistence.CheckinSession
	session, err = s.ownedSession(ctx, principal, sessionID)
	if err != nil {
		return
	}
	if session.Status.Terminal() {
		err = ErrInvalidState
		return
	}

	defer s.releaseRecording(ctx, logger, session)
	defer s.runner.Halt(sessionID)

	now := s.now().UTC()
	updated, err = s.sessions.Transition(ctx, persistence.TransitionParams{
		SessionID: sessionID,
		From:      checkin.OpenStatuses,
		To:        to,
		At:        now,
		Reason:    reason,
	})
	if err != nil {
		err = mapSessionRepoError(err)
		updated = persistence.CheckinSession{}
		return
	}

	event := events.Event{
		Kind:       events.KindSessionCompleted,
		SessionID:  updated.ID,
		OwnerID:    updated.OwnerID,
		Status:     string(updated.Status),
		Severity:   events.SeverityInfo,
		OccurredAt: now,
	}
	if to == checkin.StatusArchived {
		event.Kind = events.KindSessionArchived
		event.Message = string(reason)
	}
	s.forgetPosition(updated.OwnerID)
	s.publish(ctx, logger, event)
	return
}

func (s *CheckinService) forgetPosition(ownerID string) {
	if s.reporter != nil {
		s.reporter.Forget(ownerID)
	}
}

// Get returns a session owned by the principal.
func (s *CheckinService) Get(ctx context.Context, principal Principal, sessionID string) (persistence.CheckinSession, error) {
	if s == nil {
		return persistence.CheckinSession{}, fmt.Errorf("CheckinService is nil")
	}
	session, err := s.ownedSession(ctx, principal, sessionID)
	if err != nil {
		s.loggerWith(ctx, "Get", "session_id", sessionID).WarnContext(ctx, "session lookup failed", "error", err, "error_kind", ErrorKind(err))
	}
	return session, err
}

// GetActive returns the principal's open session.
func (s *CheckinService) GetActive(ctx context.Context, principal Principal) (persistence.CheckinSession, error) {
	if s == nil {
		return persistence.CheckinSession{}, fmt.Errorf("CheckinService is nil")
	}
	if principal.OwnerID == "" {
		return persistence.CheckinSession{}, ErrUnauthorized
	}
	session, err := s.sessions.FindOpenSession(ctx, principal.OwnerID)
	if err != nil {
		return persistence.CheckinSession{}, mapSessionRepoError(err)
	}
	return session, nil
}

// List returns the principal's sessions, newest first.
func (s *CheckinService) List(ctx context.Context, principal Principal) ([]persistence.CheckinSession, error) {
	if s == nil {
		return nil, fmt.Errorf("CheckinService is nil")
	}
	if principal.OwnerID == "" {
		return nil, ErrUnauthorized
	}
	sessions, err := s.sessions.ListSessions(ctx, principal.OwnerID)
	if err != nil {
		s.loggerWith(ctx, "List", "owner_id", principal.OwnerID).ErrorContext(ctx, "failed to list sessions", "error", err, "error_kind", ErrorKind(err))
		return nil, err
	}
	return sessions, nil
}

// Locations returns the location log of a session, newest first. A limit of
// zero or less returns every entry.
func (s *CheckinService) Locations(ctx context.Context, principal Principal, sessionID string, limit int) ([]persistence.LocationLogEntry, error) {
	if s == nil {
		return nil, fmt.Errorf("CheckinService is nil")
	}
	if _, err := s.ownedSession(ctx, principal, sessionID); err != nil {
		return nil, err
	}
	entries, err := s.locations.ListLocations(ctx, sessionID, limit)
	if err != nil {
		return nil, mapSessionRepoError(err)
	}
	return entries, nil
}

// ReportLocation accepts a position pushed by the owner's device for an open
// session. The pending broadcast or escalation picks it up.
func (s *CheckinService) ReportLocation(ctx context.Context, principal Principal, sessionID string, position location.Position) (err error) {
	if s == nil {
		return fmt.Errorf("CheckinService is nil")
	}

	logger := s.loggerWith(ctx, "ReportLocation", "session_id", sessionID, "owner_id", principal.OwnerID)
	defer func() {
		if err != nil {
			logger.WarnContext(ctx, "location report rejected", "error", err, "error_kind", ErrorKind(err))
		}
	}()

	if s.reporter == nil {
		return fmt.Errorf("position reporter not configured")
	}

	var session persistence.CheckinSession
	session, err = s.ownedSession(ctx, principal, sessionID)
	if err != nil {
		return err
	}
	if !session.Status.Open() {
		return ErrInvalidState
	}
	if position.CapturedAt.IsZero() {
		position.CapturedAt = s.now().UTC()
	}
	if vErr := validatePosition(position); vErr.HasErrors() {
		return vErr
	}
	return s.reporter.Report(session.OwnerID, position)
}

func (s *CheckinService) ownedSession(ctx context.Context, principal Principal, sessionID string) (persistence.CheckinSession, error) {
	if principal.OwnerID == "" {
		return persistence.CheckinSession{}, ErrUnauthorized
	}
	if sessionID == "" {
		return persistence.CheckinSession{}, ErrNotFound
	}
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return persistence.CheckinSession{}, mapSessionRepoError(err)
	}
	if session.OwnerID != principal.OwnerID {
		return persistence.CheckinSession{}, ErrUnauthorized
	}
	return session, nil
}

func (s *CheckinService) beginRecording(ctx context.Context, logger *slog.Logger, session persistence.CheckinSession) {
	if s.recorder == nil {
		logger.WarnContext(ctx, "recording requested but no recorder is configured")
		return
	}
	err := s.recorder.Begin(ctx, evidence.Capture{
		SessionID: session.ID,
		OwnerID:   session.OwnerID,
	})
	if err != nil && !errors.Is(err, evidence.ErrCaptureActive) {
		logger.ErrorContext(ctx, "failed to begin recording", "error", err)
	}
}

// releaseRecording seals the session's capture, attaching the last logged
// position. It never fails the caller.
func (s *CheckinService) releaseRecording(ctx context.Context, logger *slog.Logger, session persistence.CheckinSession) {
	if s.recorder == nil || !s.recorder.Active(session.ID) {
		return
	}
	ctx = context.WithoutCancel(ctx)

	var last *evidence.Coordinates
	if s.locations != nil {
		entry, err := s.locations.LatestLocation(ctx, session.ID)
		switch {
		case err == nil:
			last = &evidence.Coordinates{Latitude: entry.Latitude, Longitude: entry.Longitude}
		case !errors.Is(err, persistence.ErrNotFound):
			logger.WarnContext(ctx, "failed to load last position for recording", "error", err)
		}
	}

	recording, err := s.recorder.Finish(ctx, session.ID, last)
	if err != nil {
		logger.ErrorContext(ctx, "failed to release recording", "error", err, "retry", s.recorder.Active(session.ID))
		return
	}
	if recording != nil {
		logger.InfoContext(ctx, "recording released", "recording_id", recording.ID, "size_bytes", recording.SizeBytes)
	}
}

func (s *CheckinService) publish(ctx context.Context, logger *slog.Logger, event events.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		logger.WarnContext(ctx, "failed to publish event", "kind", event.Kind, "error", err)
	}
}

func validateStartParams(params StartParams) *ValidationError {
	vErr := &ValidationError{}
	if params.CheckInIntervalSeconds <= 0 {
		vErr.add("check_in_interval_seconds", "interval must be positive")
	}
	if params.DeactivationLimitSeconds <= 0 {
		vErr.add("deactivation_limit_seconds", "deactivation limit must be positive")
	}
	return vErr
}

func validatePosition(position location.Position) *ValidationError {
	vErr := &ValidationError{}
	if err := position.Validate(); err != nil {
		vErr.add("position", "coordinates are out of range")
	}
	return vErr
}
