package testfixtures

import (
	"testing"
	"time"
)

func TestClockDefaultsToReferenceTime(t *testing.T) {
	clock := NewClock(time.Time{})
	if !clock.Now().Equal(ReferenceTime()) {
		t.Fatalf("expected ReferenceTime, got %v", clock.Now())
	}
}

func TestClockAdvanceAndSet(t *testing.T) {
	start := time.Date(2024, time.March, 14, 9, 26, 0, 0, time.UTC)
	clock := NewClock(start)

	updated := clock.Advance(90 * time.Minute)
	if !updated.Equal(start.Add(90 * time.Minute)) {
		t.Fatalf("advance returned %v", updated)
	}

	clock.Set(start.Add(2 * time.Hour))
	if got := clock.Now(); !got.Equal(start.Add(2 * time.Hour)) {
		t.Fatalf("expected %v, got %v", start.Add(2*time.Hour), got)
	}

	nowFn := clock.NowFunc()
	clock.Advance(time.Minute)
	if got := nowFn(); !got.Equal(clock.Now()) {
		t.Fatalf("expected NowFunc to follow the clock, got %v", got)
	}
}

func TestClockTickerFiresOnAdvance(t *testing.T) {
	clock := NewClock(time.Time{})
	ticker := clock.NewTicker(30 * time.Second)
	if clock.Tickers() != 1 {
		t.Fatalf("expected one live ticker, got %d", clock.Tickers())
	}

	clock.Advance(29 * time.Second)
	select {
	case <-ticker.C():
		t.Fatalf("ticker fired before its deadline")
	default:
	}

	clock.Advance(time.Second)
	select {
	case <-ticker.C():
	default:
		t.Fatalf("expected ticker to fire at its deadline")
	}

	clock.Advance(5 * time.Minute)
	select {
	case <-ticker.C():
	default:
		t.Fatalf("expected a coalesced tick after a long advance")
	}
	select {
	case <-ticker.C():
		t.Fatalf("expected ticks to be coalesced")
	default:
	}

	ticker.Stop()
	if clock.Tickers() != 0 {
		t.Fatalf("expected stopped ticker to be excluded")
	}
	clock.Advance(time.Minute)
	select {
	case <-ticker.C():
		t.Fatalf("stopped ticker fired")
	default:
	}
}
