package checkin

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultMonitorPeriod is the escalation monitor cadence.
const DefaultMonitorPeriod = 30 * time.Second

// Outcome tells the runner whether a periodic task keeps running.
type Outcome int

const (
	// Continue schedules the next run.
	Continue Outcome = iota
	// Finished stops both tasks of the session.
	Finished
)

// Work is the per-session unit of work driven by the runner. Implementations
// must load a fresh copy of the session on every call.
type Work interface {
	Broadcast(ctx context.Context, sessionID string) Outcome
	Monitor(ctx context.Context, sessionID string) Outcome
}

// Ticker delivers ticks until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock abstracts time for the runner.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) NewTicker(d time.Duration) Ticker {
	return systemTicker{t: time.NewTicker(d)}
}

type systemTicker struct{ t *time.Ticker }

func (s systemTicker) C() <-chan time.Time { return s.t.C }
func (s systemTicker) Stop()               { s.t.Stop() }

// Runner schedules the broadcast ticker and the escalation monitor of every
// open session. Each task runs in its own goroutine and executes its steps
// sequentially; the two tasks never share memory, only the store behind Work.
type Runner struct {
	clock         Clock
	monitorPeriod time.Duration
	logger        *slog.Logger

	mu     sync.Mutex
	tasks  map[string]*sessionTasks
	closed bool
}

type sessionTasks struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	Clock         Clock
	MonitorPeriod time.Duration
	Logger        *slog.Logger
}

// NewRunner constructs a runner.
func NewRunner(opts RunnerOptions) *Runner {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.MonitorPeriod <= 0 {
		opts.MonitorPeriod = DefaultMonitorPeriod
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		clock:         opts.Clock,
		monitorPeriod: opts.MonitorPeriod,
		logger:        opts.Logger.With("component", "checkin.Runner"),
		tasks:         make(map[string]*sessionTasks),
	}
}

// Launch starts the broadcast ticker (first step immediately, then every
// interval) and the monitor for the session. It returns false when the
// session already has running tasks or the runner is shut down.
func (r *Runner) Launch(sessionID string, interval time.Duration, work Work) bool {
	if r == nil || work == nil || interval <= 0 {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	if _, ok := r.tasks[sessionID]; ok {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	tasks := &sessionTasks{cancel: cancel, done: make(chan struct{})}
	r.tasks[sessionID] = tasks

	var wg sync.WaitGroup
	wg.Add(2)
	go r.loop(ctx, &wg, tasks, sessionID, "broadcast", interval, true, work.Broadcast)
	go r.loop(ctx, &wg, tasks, sessionID, "monitor", r.monitorPeriod, false, work.Monitor)

	go func() {
		wg.Wait()
		r.mu.Lock()
		if current, ok := r.tasks[sessionID]; ok && current == tasks {
			delete(r.tasks, sessionID)
		}
		r.mu.Unlock()
		close(tasks.done)
	}()

	r.logger.Info("session tasks launched", "session_id", sessionID, "interval", interval, "monitor_period", r.monitorPeriod)
	return true
}

func (r *Runner) loop(ctx context.Context, wg *sync.WaitGroup, tasks *sessionTasks, sessionID, name string, period time.Duration, immediate bool, step func(context.Context, string) Outcome) {
	defer wg.Done()

	run := func() bool {
		if ctx.Err() != nil {
			return false
		}
		if step(ctx, sessionID) == Finished {
			r.logger.Info("session task finished", "session_id", sessionID, "task", name)
			tasks.cancel()
			return false
		}
		return true
	}

	if immediate && !run() {
		return
	}

	ticker := r.clock.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if !run() {
				return
			}
		}
	}
}

// Halt cancels both tasks of the session and waits until they have returned.
// It must not be called from inside a Work step.
func (r *Runner) Halt(sessionID string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	tasks, ok := r.tasks[sessionID]
	r.mu.Unlock()
	if !ok {
		return
	}
	tasks.cancel()
	<-tasks.done
	r.logger.Info("session tasks halted", "session_id", sessionID)
}

// Running reports whether the session has live tasks.
func (r *Runner) Running(sessionID string) bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[sessionID]
	return ok
}

// Active returns the number of sessions with live tasks.
func (r *Runner) Active() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Shutdown halts every session and refuses further launches.
func (r *Runner) Shutdown() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.closed = true
	pending := make([]*sessionTasks, 0, len(r.tasks))
	for _, tasks := range r.tasks {
		pending = append(pending, tasks)
	}
	r.mu.Unlock()

	for _, tasks := range pending {
		tasks.cancel()
	}
	for _, tasks := range pending {
		<-tasks.done
	}
}

// Every runs fn on a fixed period until ctx is cancelled. It is used for
// housekeeping jobs that are not tied to a single session.
func (r *Runner) Every(ctx context.Context, period time.Duration, fn func(context.Context)) {
	if r == nil || period <= 0 || fn == nil {
		return
	}
	ticker := r.clock.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			fn(ctx)
		}
	}
}
