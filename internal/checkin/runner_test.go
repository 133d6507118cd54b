package checkin_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/example/safety-checkin/internal/checkin"
	"github.com/example/safety-checkin/internal/testfixtures"
)

type countingWork struct {
	mu         sync.Mutex
	broadcasts int
	monitors   int
	finishAt   int
	steps      chan string
}

func newCountingWork() *countingWork {
	return &countingWork{steps: make(chan string, 64)}
}

func (w *countingWork) leave(step string) {
	w.steps <- step
}

func (w *countingWork) Broadcast(ctx context.Context, sessionID string) checkin.Outcome {
	defer w.leave("broadcast")
	w.mu.Lock()
	defer w.mu.Unlock()
	w.broadcasts++
	if w.finishAt > 0 && w.broadcasts >= w.finishAt {
		return checkin.Finished
	}
	return checkin.Continue
}

func (w *countingWork) Monitor(ctx context.Context, sessionID string) checkin.Outcome {
	defer w.leave("monitor")
	w.mu.Lock()
	defer w.mu.Unlock()
	w.monitors++
	return checkin.Continue
}

func (w *countingWork) counts() (int, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.broadcasts, w.monitors
}

func waitStep(t *testing.T, w *countingWork, want string) {
	t.Helper()
	select {
	case got := <-w.steps:
		if got != want {
			t.Fatalf("expected %s step, got %s", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s step", want)
	}
}

func waitTickers(t *testing.T, clock *testfixtures.Clock, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for clock.Tickers() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d live tickers, got %d", want, clock.Tickers())
		}
		time.Sleep(time.Millisecond)
	}
}

func newRunner(clock *testfixtures.Clock) *checkin.Runner {
	return checkin.NewRunner(checkin.RunnerOptions{
		Clock:         clock,
		MonitorPeriod: 30 * time.Second,
		Logger:        testfixtures.QuietLogger(),
	})
}

func TestRunnerBroadcastsImmediatelyThenOnInterval(t *testing.T) {
	clock := testfixtures.NewClock(time.Time{})
	runner := newRunner(clock)
	defer runner.Shutdown()
	work := newCountingWork()

	if !runner.Launch("s-1", 10*time.Minute, work) {
		t.Fatalf("expected launch to succeed")
	}
	if runner.Launch("s-1", 10*time.Minute, work) {
		t.Fatalf("expected second launch for the same session to be refused")
	}

	waitStep(t, work, "broadcast")
	waitTickers(t, clock, 2)

	clock.Advance(30 * time.Second)
	waitStep(t, work, "monitor")

	clock.Advance(9*time.Minute + 30*time.Second)
	first := <-work.steps
	second := <-work.steps
	if first == second {
		t.Fatalf("expected one broadcast and one monitor step, got %s and %s", first, second)
	}

	broadcasts, monitors := work.counts()
	if broadcasts != 2 || monitors != 2 {
		t.Fatalf("expected 2 broadcasts and 2 monitors, got %d and %d", broadcasts, monitors)
	}
}

func TestRunnerHaltStopsBothTasks(t *testing.T) {
	clock := testfixtures.NewClock(time.Time{})
	runner := newRunner(clock)
	defer runner.Shutdown()
	work := newCountingWork()

	runner.Launch("s-1", time.Minute, work)
	waitStep(t, work, "broadcast")
	waitTickers(t, clock, 2)

	runner.Halt("s-1")
	if runner.Running("s-1") || runner.Active() != 0 {
		t.Fatalf("expected no running tasks after Halt")
	}
	if clock.Tickers() != 0 {
		t.Fatalf("expected tickers to be stopped, got %d", clock.Tickers())
	}

	clock.Advance(time.Hour)
	select {
	case step := <-work.steps:
		t.Fatalf("unexpected %s step after Halt", step)
	case <-time.After(20 * time.Millisecond):
	}

	if !runner.Launch("s-1", time.Minute, work) {
		t.Fatalf("expected relaunch after Halt to succeed")
	}
}

func TestRunnerFinishedOutcomeEndsSession(t *testing.T) {
	clock := testfixtures.NewClock(time.Time{})
	runner := newRunner(clock)
	defer runner.Shutdown()
	work := newCountingWork()
	work.finishAt = 2

	runner.Launch("s-1", time.Minute, work)
	waitStep(t, work, "broadcast")
	waitTickers(t, clock, 2)

	clock.Advance(time.Minute)
	deadline := time.Now().Add(2 * time.Second)
	for runner.Running("s-1") {
		if time.Now().After(deadline) {
			t.Fatalf("expected session tasks to end after Finished")
		}
		time.Sleep(time.Millisecond)
	}
	waitTickers(t, clock, 0)
}

func TestRunnerShutdownRefusesLaunches(t *testing.T) {
	clock := testfixtures.NewClock(time.Time{})
	runner := newRunner(clock)
	work := newCountingWork()

	runner.Launch("s-1", time.Minute, work)
	runner.Launch("s-2", time.Minute, work)
	runner.Shutdown()

	if runner.Active() != 0 {
		t.Fatalf("expected no active sessions after Shutdown, got %d", runner.Active())
	}
	if runner.Launch("s-3", time.Minute, work) {
		t.Fatalf("expected Launch to be refused after Shutdown")
	}
}

func TestRunnerEvery(t *testing.T) {
	clock := testfixtures.NewClock(time.Time{})
	runner := newRunner(clock)
	ctx, cancel := context.WithCancel(context.Background())

	calls := make(chan struct{}, 4)
	done := make(chan struct{})
	go func() {
		runner.Every(ctx, 5*time.Minute, func(context.Context) { calls <- struct{}{} })
		close(done)
	}()

	waitTickers(t, clock, 1)
	clock.Advance(5 * time.Minute)
	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected periodic job to run")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected Every to return after cancel")
	}
}
