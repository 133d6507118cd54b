package application

import (
	"context"
	"io"

	"github.com/example/safety-checkin/internal/evidence"
	"github.com/example/safety-checkin/internal/location"
	"github.com/example/safety-checkin/internal/persistence"
)

// Principal represents the authenticated owner invoking a service method.
type Principal struct {
	OwnerID string
}

// StartParams captures the settings of a new check-in session.
type StartParams struct {
	Principal                Principal
	CheckInIntervalSeconds   int
	DeactivationLimitSeconds int
	RecordingEnabled         bool
}

// ContactInput captures caller provided contact fields.
type ContactInput struct {
	Name         string
	Phone        string
	Relationship string
}

// PositionReporter accepts positions pushed by the owner's device. Forget
// drops a pushed position once the owner's session ends.
type PositionReporter interface {
	Report(ownerID string, position location.Position) error
	Forget(ownerID string)
}

// Recorder captures session evidence.
type Recorder interface {
	Begin(ctx context.Context, capture evidence.Capture) error
	Active(sessionID string) bool
	Append(ctx context.Context, sessionID string, chunk io.Reader) (int64, error)
	Finish(ctx context.Context, sessionID string, last *evidence.Coordinates) (*persistence.Recording, error)
	Abort(sessionID string)
	Pending() []string
}

// EvidenceVerifier re-checks stored evidence.
type EvidenceVerifier interface {
	Verify(ctx context.Context, recordingID string) (persistence.Recording, bool, error)
}

// VerifiedRecording pairs stored metadata with the result of re-hashing the blob.
type VerifiedRecording struct {
	Recording persistence.Recording
	Intact    bool
}
