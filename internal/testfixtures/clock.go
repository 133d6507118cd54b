package testfixtures

import (
	"sync"
	"time"

	"github.com/example/safety-checkin/internal/checkin"
)

// Clock provides a controllable time source for tests. Tickers created from
// the clock fire only when the clock is advanced past their next deadline.
type Clock struct {
	mu      sync.Mutex
	current time.Time
	tickers []*fakeTicker
}

// NewClock returns a clock initialised to the supplied time. When start is the
// zero value, the shared ReferenceTime is used.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	return &Clock{current: start}
}

// Now returns the current instant tracked by the clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// NowFunc exposes Now as a function suitable for dependency injection.
func (c *Clock) NowFunc() func() time.Time {
	if c == nil {
		return time.Now
	}
	return c.Now
}

// Advance moves the clock forward by d, fires every ticker whose deadline was
// crossed, and returns the updated time. A ticker that falls behind by more
// than one period delivers a single tick, like time.Ticker.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	c.current = c.current.Add(d)
	now := c.current
	due := make([]*fakeTicker, 0, len(c.tickers))
	for _, t := range c.tickers {
		if t.stopped || now.Before(t.next) {
			continue
		}
		for !now.Before(t.next) {
			t.next = t.next.Add(t.period)
		}
		due = append(due, t)
	}
	c.mu.Unlock()

	for _, t := range due {
		select {
		case t.ch <- now:
		default:
		}
	}
	return now
}

// Set moves the clock to t without firing tickers.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

// NewTicker implements checkin.Clock.
func (c *Clock) NewTicker(d time.Duration) checkin.Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{
		clock:  c,
		period: d,
		next:   c.current.Add(d),
		ch:     make(chan time.Time, 1),
	}
	c.tickers = append(c.tickers, t)
	return t
}

// Tickers returns the number of live tickers, letting tests wait until a
// goroutine has subscribed before advancing time.
func (c *Clock) Tickers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	live := 0
	for _, t := range c.tickers {
		if !t.stopped {
			live++
		}
	}
	return live
}

type fakeTicker struct {
	clock   *Clock
	period  time.Duration
	next    time.Time
	ch      chan time.Time
	stopped bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.clock.mu.Lock()
	t.stopped = true
	t.clock.mu.Unlock()
}
