// Package persistencetest holds behavioural tests shared by every
// persistence.Store implementation.
package persistencetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/safety-checkin/internal/checkin"
	"github.com/example/safety-checkin/internal/persistence"
)

// Factory returns an empty, ready-to-use store. The suite closes it.
type Factory func(t *testing.T) persistence.Store

var base = time.Date(2024, time.March, 9, 21, 30, 0, 0, time.UTC)

// Run exercises the store contract against stores produced by factory.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, store persistence.Store)
	}{
		{"OneOpenSessionPerOwner", testOneOpenSessionPerOwner},
		{"ConcurrentCreateKeepsOneOpen", testConcurrentCreate},
		{"FindOpenSession", testFindOpenSession},
		{"RecordBroadcastResetsEscalation", testRecordBroadcastResetsEscalation},
		{"RecordBroadcastKeepsCritical", testRecordBroadcastKeepsCritical},
		{"RecordMissedCheckin", testRecordMissedCheckin},
		{"TransitionGuardsStatus", testTransitionGuardsStatus},
		{"TransitionGuardsLastUpdate", testTransitionGuardsLastUpdate},
		{"MarkAlerted", testMarkAlerted},
		{"LocationRoundTripIsLossless", testLocationRoundTrip},
		{"LocationOrdering", testLocationOrdering},
		{"ContactLimit", testContactLimit},
		{"ContactOwnership", testContactOwnership},
		{"Recordings", testRecordings},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := factory(t)
			t.Cleanup(func() { _ = store.Close() })
			tt.fn(t, store)
		})
	}
}

func newSession(id, owner string) persistence.CheckinSession {
	return persistence.CheckinSession{
		ID:                       id,
		OwnerID:                  owner,
		Status:                   checkin.StatusActive,
		CheckInIntervalSeconds:   600,
		DeactivationLimitSeconds: 3600,
		CreatedAt:                base,
		LastUpdateAt:             base,
		UpdatedAt:                base,
	}
}

func mustCreate(t *testing.T, store persistence.Store, session persistence.CheckinSession) {
	t.Helper()
	if err := store.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("CreateSession(%s) failed: %v", session.ID, err)
	}
}

func testOneOpenSessionPerOwner(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	mustCreate(t, store, newSession("s-1", "owner-1"))

	err := store.CreateSession(ctx, newSession("s-2", "owner-1"))
	if !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for second open session, got %v", err)
	}

	mustCreate(t, store, newSession("s-3", "owner-2"))

	if _, err := store.Transition(ctx, persistence.TransitionParams{
		SessionID: "s-1",
		From:      checkin.OpenStatuses,
		To:        checkin.StatusCompleted,
		At:        base.Add(time.Minute),
	}); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}

	mustCreate(t, store, newSession("s-4", "owner-1"))

	sessions, err := store.ListSessions(ctx, "owner-1")
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions for owner-1, got %d", len(sessions))
	}
}

func testConcurrentCreate(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	const attempts = 8

	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- store.CreateSession(ctx, newSession(fmt.Sprintf("race-%d", i), "owner-race"))
		}(i)
	}
	wg.Wait()
	close(errs)

	created := 0
	for err := range errs {
		switch {
		case err == nil:
			created++
		case errors.Is(err, persistence.ErrDuplicate):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if created != 1 {
		t.Fatalf("expected exactly one open session, created %d", created)
	}
}

func testFindOpenSession(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	if _, err := store.FindOpenSession(ctx, "owner-1"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	session := newSession("s-1", "owner-1")
	session.RecordingEnabled = true
	mustCreate(t, store, session)

	found, err := store.FindOpenSession(ctx, "owner-1")
	if err != nil {
		t.Fatalf("FindOpenSession failed: %v", err)
	}
	if found.ID != "s-1" || !found.RecordingEnabled || !found.CreatedAt.Equal(base) {
		t.Fatalf("unexpected session: %#v", found)
	}

	open, err := store.ListOpenSessions(ctx)
	if err != nil {
		t.Fatalf("ListOpenSessions failed: %v", err)
	}
	if len(open) != 1 || open[0].ID != "s-1" {
		t.Fatalf("unexpected open sessions: %#v", open)
	}
}

func testRecordBroadcastResetsEscalation(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	mustCreate(t, store, newSession("s-1", "owner-1"))

	if _, err := store.RecordMissedCheckin(ctx, "s-1", base.Add(time.Minute)); err != nil {
		t.Fatalf("RecordMissedCheckin failed: %v", err)
	}
	if _, err := store.Transition(ctx, persistence.TransitionParams{
		SessionID: "s-1",
		From:      []checkin.Status{checkin.StatusActive},
		To:        checkin.StatusEscalated,
		At:        base.Add(21 * time.Minute),
	}); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if _, err := store.MarkAlerted(ctx, "s-1", checkin.StatusEscalated, base.Add(21*time.Minute)); err != nil {
		t.Fatalf("MarkAlerted failed: %v", err)
	}

	at := base.Add(22 * time.Minute)
	updated, err := store.RecordBroadcast(ctx, "s-1", at)
	if err != nil {
		t.Fatalf("RecordBroadcast failed: %v", err)
	}
	if updated.Status != checkin.StatusActive {
		t.Fatalf("expected active after broadcast, got %s", updated.Status)
	}
	if updated.MissedCheckins != 0 {
		t.Fatalf("expected missed check-ins reset, got %d", updated.MissedCheckins)
	}
	if updated.AlertedLevel != "" {
		t.Fatalf("expected alert level cleared, got %q", updated.AlertedLevel)
	}
	if !updated.LastUpdateAt.Equal(at) {
		t.Fatalf("expected last update %s, got %s", at, updated.LastUpdateAt)
	}
	if updated.EscalatedAt == nil {
		t.Fatal("expected escalated_at to be kept as history")
	}
}

func testRecordBroadcastKeepsCritical(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	mustCreate(t, store, newSession("s-1", "owner-1"))

	if _, err := store.Transition(ctx, persistence.TransitionParams{
		SessionID: "s-1",
		From:      []checkin.Status{checkin.StatusActive, checkin.StatusEscalated},
		To:        checkin.StatusCritical,
		At:        base.Add(time.Hour),
	}); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}

	updated, err := store.RecordBroadcast(ctx, "s-1", base.Add(61*time.Minute))
	if err != nil {
		t.Fatalf("RecordBroadcast failed: %v", err)
	}
	if updated.Status != checkin.StatusCritical {
		t.Fatalf("expected critical to persist, got %s", updated.Status)
	}
	if updated.CriticalAt == nil || !updated.CriticalAt.Equal(base.Add(time.Hour)) {
		t.Fatalf("unexpected critical_at %v", updated.CriticalAt)
	}
}

func testRecordMissedCheckin(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	mustCreate(t, store, newSession("s-1", "owner-1"))

	for i := 1; i <= 3; i++ {
		updated, err := store.RecordMissedCheckin(ctx, "s-1", base.Add(time.Duration(i)*time.Minute))
		if err != nil {
			t.Fatalf("RecordMissedCheckin failed: %v", err)
		}
		if updated.MissedCheckins != i {
			t.Fatalf("expected %d missed check-ins, got %d", i, updated.MissedCheckins)
		}
		if !updated.LastUpdateAt.Equal(base) {
			t.Fatalf("missed check-in must not refresh last update, got %s", updated.LastUpdateAt)
		}
	}

	if _, err := store.RecordMissedCheckin(ctx, "missing", base); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testTransitionGuardsStatus(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	mustCreate(t, store, newSession("s-1", "owner-1"))

	completedAt := base.Add(5 * time.Minute)
	completed, err := store.Transition(ctx, persistence.TransitionParams{
		SessionID: "s-1",
		From:      checkin.OpenStatuses,
		To:        checkin.StatusCompleted,
		At:        completedAt,
	})
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if completed.MarkedSafeAt == nil || !completed.MarkedSafeAt.Equal(completedAt) {
		t.Fatalf("unexpected marked_safe_at %v", completed.MarkedSafeAt)
	}

	_, err = store.Transition(ctx, persistence.TransitionParams{
		SessionID: "s-1",
		From:      checkin.OpenStatuses,
		To:        checkin.StatusCompleted,
		At:        base.Add(6 * time.Minute),
	})
	if !errors.Is(err, persistence.ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict, got %v", err)
	}

	if _, err := store.RecordBroadcast(ctx, "s-1", base.Add(7*time.Minute)); !errors.Is(err, persistence.ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict for broadcast on completed session, got %v", err)
	}

	_, err = store.Transition(ctx, persistence.TransitionParams{
		SessionID: "missing",
		From:      checkin.OpenStatuses,
		To:        checkin.StatusArchived,
		At:        base,
	})
	if !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	mustCreate(t, store, newSession("s-2", "owner-2"))
	archived, err := store.Transition(ctx, persistence.TransitionParams{
		SessionID: "s-2",
		From:      checkin.OpenStatuses,
		To:        checkin.StatusArchived,
		At:        base.Add(time.Hour),
		Reason:    checkin.ArchiveReasonAbandoned,
	})
	if err != nil {
		t.Fatalf("archive failed: %v", err)
	}
	if archived.ArchiveReason != checkin.ArchiveReasonAbandoned || archived.ArchivedAt == nil {
		t.Fatalf("unexpected archived session: %#v", archived)
	}
}

func testTransitionGuardsLastUpdate(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	mustCreate(t, store, newSession("s-1", "owner-1"))

	stale := base
	if _, err := store.RecordBroadcast(ctx, "s-1", base.Add(21*time.Minute)); err != nil {
		t.Fatalf("RecordBroadcast failed: %v", err)
	}

	_, err := store.Transition(ctx, persistence.TransitionParams{
		SessionID:    "s-1",
		From:         []checkin.Status{checkin.StatusActive},
		To:           checkin.StatusEscalated,
		At:           base.Add(21 * time.Minute),
		LastUpdateAt: &stale,
	})
	if !errors.Is(err, persistence.ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict for stale last update, got %v", err)
	}
	session, err := store.GetSession(ctx, "s-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if session.Status != checkin.StatusActive || session.EscalatedAt != nil {
		t.Fatalf("expected session to stay active, got %+v", session)
	}

	current := session.LastUpdateAt
	escalated, err := store.Transition(ctx, persistence.TransitionParams{
		SessionID:    "s-1",
		From:         []checkin.Status{checkin.StatusActive},
		To:           checkin.StatusEscalated,
		At:           base.Add(42 * time.Minute),
		LastUpdateAt: &current,
	})
	if err != nil {
		t.Fatalf("Transition with current last update failed: %v", err)
	}
	if escalated.Status != checkin.StatusEscalated {
		t.Fatalf("expected escalated, got %s", escalated.Status)
	}
}

func testMarkAlerted(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	mustCreate(t, store, newSession("s-1", "owner-1"))

	if _, err := store.MarkAlerted(ctx, "s-1", checkin.StatusEscalated, base); !errors.Is(err, persistence.ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict while active, got %v", err)
	}

	if _, err := store.Transition(ctx, persistence.TransitionParams{
		SessionID: "s-1",
		From:      []checkin.Status{checkin.StatusActive},
		To:        checkin.StatusCritical,
		At:        base,
	}); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	updated, err := store.MarkAlerted(ctx, "s-1", checkin.StatusCritical, base)
	if err != nil {
		t.Fatalf("MarkAlerted failed: %v", err)
	}
	if updated.AlertedLevel != checkin.StatusCritical {
		t.Fatalf("expected alerted level critical, got %q", updated.AlertedLevel)
	}
}

func testLocationRoundTrip(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	mustCreate(t, store, newSession("s-1", "owner-1"))

	zone := time.FixedZone("UTC+5:30", 5*3600+1800)
	accuracy := 3.0000000000000004
	entry := persistence.LocationLogEntry{
		ID:         "loc-1",
		SessionID:  "s-1",
		OwnerID:    "owner-1",
		Latitude:   37.774929123456789,
		Longitude:  -122.41941550000001,
		Accuracy:   &accuracy,
		CapturedAt: time.Date(2024, time.March, 10, 3, 0, 1, 123456789, zone),
		CreatedAt:  base,
	}
	if err := store.AppendLocation(ctx, entry); err != nil {
		t.Fatalf("AppendLocation failed: %v", err)
	}

	got, err := store.LatestLocation(ctx, "s-1")
	if err != nil {
		t.Fatalf("LatestLocation failed: %v", err)
	}
	if got.Latitude != entry.Latitude || got.Longitude != entry.Longitude {
		t.Fatalf("coordinates changed: got (%v, %v), want (%v, %v)", got.Latitude, got.Longitude, entry.Latitude, entry.Longitude)
	}
	if got.Accuracy == nil || *got.Accuracy != accuracy {
		t.Fatalf("accuracy changed: got %v", got.Accuracy)
	}
	if !got.CapturedAt.Equal(entry.CapturedAt) {
		t.Fatalf("captured_at changed: got %s, want %s", got.CapturedAt, entry.CapturedAt)
	}
}

func testLocationOrdering(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	mustCreate(t, store, newSession("s-1", "owner-1"))

	if _, err := store.LatestLocation(ctx, "s-1"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for empty log, got %v", err)
	}

	captured := []time.Time{
		base.Add(time.Second),
		base.Add(time.Second + 100*time.Millisecond),
		base.Add(2 * time.Second),
	}
	for i, at := range captured {
		if err := store.AppendLocation(ctx, persistence.LocationLogEntry{
			ID:         fmt.Sprintf("loc-%d", i),
			SessionID:  "s-1",
			OwnerID:    "owner-1",
			Latitude:   float64(i),
			Longitude:  float64(i),
			CapturedAt: at,
		}); err != nil {
			t.Fatalf("AppendLocation failed: %v", err)
		}
	}

	entries, err := store.ListLocations(ctx, "s-1", 0)
	if err != nil {
		t.Fatalf("ListLocations failed: %v", err)
	}
	want := []string{"loc-2", "loc-1", "loc-0"}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	for i, id := range want {
		if entries[i].ID != id {
			t.Fatalf("entry %d: expected %s, got %s", i, id, entries[i].ID)
		}
	}

	limited, err := store.ListLocations(ctx, "s-1", 2)
	if err != nil {
		t.Fatalf("ListLocations failed: %v", err)
	}
	if len(limited) != 2 || limited[0].ID != "loc-2" {
		t.Fatalf("unexpected limited entries: %#v", limited)
	}
}

func testContactLimit(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	const limit = 5
	for i := 0; i < limit; i++ {
		if err := store.CreateContact(ctx, persistence.Contact{
			ID:        fmt.Sprintf("c-%d", i),
			OwnerID:   "owner-1",
			Name:      fmt.Sprintf("Contact %d", i),
			Phone:     fmt.Sprintf("+1555000000%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}, limit); err != nil {
			t.Fatalf("CreateContact %d failed: %v", i, err)
		}
	}

	err := store.CreateContact(ctx, persistence.Contact{
		ID:        "c-extra",
		OwnerID:   "owner-1",
		Name:      "Extra",
		Phone:     "+15559999999",
		CreatedAt: base,
	}, limit)
	if !errors.Is(err, persistence.ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}

	if err := store.CreateContact(ctx, persistence.Contact{
		ID:        "c-other",
		OwnerID:   "owner-2",
		Name:      "Other",
		Phone:     "+15559999999",
		CreatedAt: base,
	}, limit); err != nil {
		t.Fatalf("limit must be per owner: %v", err)
	}

	contacts, err := store.ListContacts(ctx, "owner-1")
	if err != nil {
		t.Fatalf("ListContacts failed: %v", err)
	}
	if len(contacts) != limit || contacts[0].ID != "c-0" {
		t.Fatalf("unexpected contacts: %#v", contacts)
	}
}

func testContactOwnership(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	contact := persistence.Contact{
		ID:           "c-1",
		OwnerID:      "owner-1",
		Name:         "Mum",
		Phone:        "+447700900123",
		Relationship: "parent",
		CreatedAt:    base,
	}
	if err := store.CreateContact(ctx, contact, 5); err != nil {
		t.Fatalf("CreateContact failed: %v", err)
	}

	duplicate := contact
	duplicate.ID = "c-2"
	if err := store.CreateContact(ctx, duplicate, 5); !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for repeated phone, got %v", err)
	}

	if err := store.DeleteContact(ctx, "owner-2", "c-1"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting another owner's contact, got %v", err)
	}
	if err := store.DeleteContact(ctx, "owner-1", "c-1"); err != nil {
		t.Fatalf("DeleteContact failed: %v", err)
	}
	contacts, err := store.ListContacts(ctx, "owner-1")
	if err != nil {
		t.Fatalf("ListContacts failed: %v", err)
	}
	if len(contacts) != 0 {
		t.Fatalf("expected no contacts, got %d", len(contacts))
	}
}

func testRecordings(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	mustCreate(t, store, newSession("s-1", "owner-1"))

	lat, lng := 51.5007, -0.1246
	recording := persistence.Recording{
		ID:         "r-1",
		SessionID:  "s-1",
		OwnerID:    "owner-1",
		Path:       "owner-1/1710019800000.webm",
		Kind:       "audio",
		MimeType:   "audio/webm",
		SizeBytes:  2048,
		SHA256:     "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
		Encrypted:  true,
		Latitude:   &lat,
		Longitude:  &lng,
		StartedAt:  base,
		FinishedAt: base.Add(time.Minute),
		CreatedAt:  base.Add(time.Minute),
	}
	if err := store.CreateRecording(ctx, recording); err != nil {
		t.Fatalf("CreateRecording failed: %v", err)
	}

	got, err := store.GetRecording(ctx, "r-1")
	if err != nil {
		t.Fatalf("GetRecording failed: %v", err)
	}
	if got.SHA256 != recording.SHA256 || !got.Encrypted || got.Latitude == nil || *got.Latitude != lat {
		t.Fatalf("unexpected recording: %#v", got)
	}

	list, err := store.ListRecordings(ctx, "s-1")
	if err != nil {
		t.Fatalf("ListRecordings failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 recording, got %d", len(list))
	}

	if _, err := store.GetRecording(ctx, "missing"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
