package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Requester asks the owner's connected devices for a fix. It returns the
// number of devices the request reached.
type Requester interface {
	RequestLocation(ctx context.Context, ownerID string) (int, error)
}

// RelayOptions configures a Relay.
type RelayOptions struct {
	Requester Requester
	// Timeout bounds the wait for a device answer.
	Timeout time.Duration
	// MaxAge is how long a reported fix may be reused; zero disables reuse.
	MaxAge time.Duration
	Now    func() time.Time
	Logger *slog.Logger
}

// Relay is a Provider that relays position requests to devices and waits for
// their reports. Devices may also push reports unprompted.
type Relay struct {
	requester Requester
	timeout   time.Duration
	cache     *positionCache
	now       func() time.Time
	logger    *slog.Logger

	mu      sync.Mutex
	waiters map[string][]chan Position
}

var _ Provider = (*Relay)(nil)

// NewRelay constructs a Relay.
func NewRelay(opts RelayOptions) *Relay {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Relay{
		requester: opts.Requester,
		timeout:   opts.Timeout,
		cache:     newPositionCache(opts.MaxAge, 0, opts.Now),
		now:       opts.Now,
		logger:    opts.Logger.With("component", "location.Relay"),
		waiters:   make(map[string][]chan Position),
	}
}

// SetRequester installs the device requester. It exists because the
// requester (the websocket hub) is itself built with the relay.
func (r *Relay) SetRequester(requester Requester) {
	r.mu.Lock()
	r.requester = requester
	r.mu.Unlock()
}

// CurrentPosition implements Provider.
func (r *Relay) CurrentPosition(ctx context.Context, ownerID string) (Position, error) {
	if position, ok := r.cache.Get(ownerID); ok {
		return position, nil
	}

	r.mu.Lock()
	requester := r.requester
	r.mu.Unlock()
	if requester == nil {
		return Position{}, ErrNoDevice
	}

	waiter := make(chan Position, 1)
	r.addWaiter(ownerID, waiter)
	defer r.removeWaiter(ownerID, waiter)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	reached, err := requester.RequestLocation(ctx, ownerID)
	if err != nil {
		return Position{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if reached == 0 {
		return Position{}, ErrNoDevice
	}

	select {
	case position := <-waiter:
		return position, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Position{}, ErrTimeout
		}
		return Position{}, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	}
}

// Report accepts a fix from one of the owner's devices and wakes every
// pending request for that owner.
func (r *Relay) Report(ownerID string, position Position) error {
	if err := position.Validate(); err != nil {
		return err
	}
	if position.CapturedAt.IsZero() {
		position.CapturedAt = r.now()
	}
	position.CapturedAt = position.CapturedAt.UTC()
	r.cache.Store(ownerID, position)

	r.mu.Lock()
	waiters := r.waiters[ownerID]
	delete(r.waiters, ownerID)
	r.mu.Unlock()

	for _, waiter := range waiters {
		select {
		case waiter <- clonePosition(position):
		default:
		}
	}
	r.logger.Debug("position reported", "owner_id", ownerID, "waiters", len(waiters))
	return nil
}

// Forget drops the cached fix of an owner, used when a session ends.
func (r *Relay) Forget(ownerID string) {
	r.cache.Invalidate(ownerID)
}

func (r *Relay) addWaiter(ownerID string, waiter chan Position) {
	r.mu.Lock()
	r.waiters[ownerID] = append(r.waiters[ownerID], waiter)
	r.mu.Unlock()
}

func (r *Relay) removeWaiter(ownerID string, waiter chan Position) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current := r.waiters[ownerID]
	for i, candidate := range current {
		if candidate == waiter {
			current = append(current[:i], current[i+1:]...)
			break
		}
	}
	if len(current) == 0 {
		delete(r.waiters, ownerID)
		return
	}
	r.waiters[ownerID] = current
}
