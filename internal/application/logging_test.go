package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/example/safety-checkin/internal/location"
	"github.com/example/safety-checkin/internal/logging"
)

func TestDefaultLogger(t *testing.T) {
	t.Parallel()

	custom := slog.New(slog.NewTextHandler(io.Discard, nil))
	if got := defaultLogger(custom); got != custom {
		t.Fatalf("expected custom logger to be returned")
	}

	if got := defaultLogger(nil); got != slog.Default() {
		t.Fatalf("expected default logger when none provided")
	}
}

func TestServiceLoggerPrefersContextLogger(t *testing.T) {
	t.Parallel()

	var captured []slog.Attr
	handler := &captureHandler{attrs: &captured}
	ctx := logging.ContextWithLogger(context.Background(), slog.New(handler))

	serviceLogger(ctx, slog.Default(), "CheckinService", "Start", "owner_id", "o-1").Info("hello")

	want := map[string]string{"service": "CheckinService", "operation": "Start", "owner_id": "o-1"}
	for _, attr := range captured {
		if expected, ok := want[attr.Key]; ok && attr.Value.String() == expected {
			delete(want, attr.Key)
		}
	}
	if len(want) != 0 {
		t.Fatalf("missing attributes: %v", want)
	}
}

func TestErrorKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrUnauthorized, "unauthorized"},
		{fmt.Errorf("wrap: %w", ErrNotFound), "not_found"},
		{ErrConflict, "conflict"},
		{ErrInvalidState, "invalid_state"},
		{ErrContactLimit, "contact_limit"},
		{errors.Join(ErrLocationUnavailable, location.ErrTimeout), "location_unavailable"},
		{context.DeadlineExceeded, "timeout"},
		{&ValidationError{FieldErrors: map[string]string{"phone": "phone is invalid"}}, "validation"},
		{errors.New("boom"), "unexpected"},
	}
	for _, tt := range tests {
		if got := ErrorKind(tt.err); got != tt.want {
			t.Fatalf("ErrorKind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

type captureHandler struct {
	attrs *[]slog.Attr
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, record slog.Record) error {
	record.Attrs(func(attr slog.Attr) bool {
		*h.attrs = append(*h.attrs, attr)
		return true
	})
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	*h.attrs = append(*h.attrs, attrs...)
	return h
}

func (h *captureHandler) WithGroup(string) slog.Handler { return h }
