// Package location obtains the current position of a session owner from the
// owner's connected devices.
package location

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrUnavailable is returned when no position could be obtained.
	ErrUnavailable = errors.New("location: position unavailable")
	// ErrNoDevice is returned when the owner has no connected device.
	ErrNoDevice = fmt.Errorf("%w: no connected device", ErrUnavailable)
	// ErrTimeout is returned when no device answered within the wait bound.
	ErrTimeout = fmt.Errorf("%w: timed out", ErrUnavailable)
	// ErrInvalidPosition is returned for out of range coordinates.
	ErrInvalidPosition = errors.New("location: invalid position")
)

// Position is a single geolocation fix.
type Position struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	// CapturedAt is when the device took the fix.
	CapturedAt time.Time `json:"captured_at"`
}

// Validate checks the coordinate ranges.
func (p Position) Validate() error {
	switch {
	case math.IsNaN(p.Latitude) || p.Latitude < -90 || p.Latitude > 90:
		return fmt.Errorf("%w: latitude %v", ErrInvalidPosition, p.Latitude)
	case math.IsNaN(p.Longitude) || p.Longitude < -180 || p.Longitude > 180:
		return fmt.Errorf("%w: longitude %v", ErrInvalidPosition, p.Longitude)
	case p.Accuracy != nil && (math.IsNaN(*p.Accuracy) || *p.Accuracy < 0):
		return fmt.Errorf("%w: accuracy %v", ErrInvalidPosition, *p.Accuracy)
	}
	return nil
}

// Provider returns the current position of an owner. Implementations must
// honour ctx cancellation.
type Provider interface {
	CurrentPosition(ctx context.Context, ownerID string) (Position, error)
}
