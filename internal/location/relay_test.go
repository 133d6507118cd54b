package location

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type stubRequester struct {
	mu      sync.Mutex
	calls   int
	reached int
	err     error
	onCall  func(ownerID string)
}

func (s *stubRequester) RequestLocation(ctx context.Context, ownerID string) (int, error) {
	s.mu.Lock()
	s.calls++
	onCall := s.onCall
	s.mu.Unlock()
	if onCall != nil {
		go onCall(ownerID)
	}
	return s.reached, s.err
}

func (s *stubRequester) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestRelayWaitsForDeviceReport(t *testing.T) {
	requester := &stubRequester{reached: 1}
	relay := NewRelay(RelayOptions{Requester: requester, Timeout: time.Second})
	accuracy := 12.5
	requester.onCall = func(ownerID string) {
		if err := relay.Report(ownerID, Position{Latitude: 35.6812, Longitude: 139.7671, Accuracy: &accuracy}); err != nil {
			t.Errorf("Report failed: %v", err)
		}
	}

	position, err := relay.CurrentPosition(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("CurrentPosition failed: %v", err)
	}
	if position.Latitude != 35.6812 || position.Longitude != 139.7671 {
		t.Fatalf("unexpected position: %#v", position)
	}
	if position.Accuracy == nil || *position.Accuracy != accuracy {
		t.Fatalf("unexpected accuracy: %v", position.Accuracy)
	}
	if position.CapturedAt.IsZero() {
		t.Fatal("expected captured time to be stamped")
	}
}

func TestRelayErrors(t *testing.T) {
	tests := []struct {
		name      string
		requester Requester
		want      error
	}{
		{name: "no requester", requester: nil, want: ErrNoDevice},
		{name: "no connected device", requester: &stubRequester{reached: 0}, want: ErrNoDevice},
		{name: "request failure", requester: &stubRequester{err: errors.New("hub closed")}, want: ErrUnavailable},
		{name: "device never answers", requester: &stubRequester{reached: 2}, want: ErrTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			relay := NewRelay(RelayOptions{Requester: tt.requester, Timeout: 20 * time.Millisecond})
			_, err := relay.CurrentPosition(context.Background(), "owner-1")
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if !errors.Is(err, ErrUnavailable) {
				t.Fatalf("every failure must wrap ErrUnavailable, got %v", err)
			}
		})
	}
}

func TestRelayReusesRecentReport(t *testing.T) {
	current := time.Date(2024, time.March, 9, 21, 30, 0, 0, time.UTC)
	requester := &stubRequester{reached: 1}
	relay := NewRelay(RelayOptions{
		Requester: requester,
		Timeout:   20 * time.Millisecond,
		MaxAge:    15 * time.Second,
		Now:       func() time.Time { return current },
	})

	if err := relay.Report("owner-1", Position{Latitude: 1, Longitude: 2}); err != nil {
		t.Fatalf("Report failed: %v", err)
	}

	position, err := relay.CurrentPosition(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("expected cached position, got %v", err)
	}
	if position.Latitude != 1 || requester.Calls() != 0 {
		t.Fatalf("expected cache hit without device request, calls=%d", requester.Calls())
	}

	current = current.Add(16 * time.Second)
	if _, err := relay.CurrentPosition(context.Background(), "owner-1"); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected expired cache to fall through to device, got %v", err)
	}
	if requester.Calls() != 1 {
		t.Fatalf("expected one device request, got %d", requester.Calls())
	}

	if err := relay.Report("owner-1", Position{Latitude: 3, Longitude: 4}); err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	relay.Forget("owner-1")
	if _, err := relay.CurrentPosition(context.Background(), "owner-1"); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected forgotten position to be requested again, got %v", err)
	}
}

func TestReportRejectsInvalidPosition(t *testing.T) {
	relay := NewRelay(RelayOptions{})
	tests := []Position{
		{Latitude: 91, Longitude: 0},
		{Latitude: 0, Longitude: -181},
	}
	for _, position := range tests {
		if err := relay.Report("owner-1", position); !errors.Is(err, ErrInvalidPosition) {
			t.Fatalf("expected ErrInvalidPosition for %#v, got %v", position, err)
		}
	}
}

func TestRelayHonoursCancellation(t *testing.T) {
	relay := NewRelay(RelayOptions{Requester: &stubRequester{reached: 1}, Timeout: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := relay.CurrentPosition(ctx, "owner-1")
	if !errors.Is(err, ErrUnavailable) || errors.Is(err, ErrTimeout) {
		t.Fatalf("expected cancellation to be reported as unavailable, got %v", err)
	}
}
