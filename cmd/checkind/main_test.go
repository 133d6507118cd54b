package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/safety-checkin/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Store:                    config.StoreMemory,
		JWTSecret:                "0123456789abcdef0123456789abcdef",
		MonitorPeriod:            time.Second,
		LocationTimeout:          time.Second,
		ArchiveAfter:             time.Hour,
		SweepPeriod:              time.Minute,
		MaxContacts:              5,
		DefaultDeactivationLimit: time.Hour,
		NotifyMode:               config.NotifyLog,
		EvidenceDir:              t.TempDir(),
		EvidenceMaxBytes:         1 << 20,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestNewAppServesHealthAndRequiresAuth(t *testing.T) {
	a, err := newApp(context.Background(), testConfig(t), quietLogger())
	if err != nil {
		t.Fatalf("newApp returned error: %v", err)
	}
	t.Cleanup(a.Close)

	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want %d", rec.Code, http.StatusOK)
	}
	var health struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "ok" {
		t.Fatalf("health status = %q, want ok", health.Status)
	}

	for _, path := range []string{"/checkins", "/contacts", "/ws"} {
		rec := httptest.NewRecorder()
		a.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("GET %s status = %d, want %d", path, rec.Code, http.StatusUnauthorized)
		}
	}
}

func TestNewAppWithSQLiteStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store = config.StoreSQLite
	cfg.SQLiteDSN = "file:" + filepath.Join(t.TempDir(), "checkin.db") + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

	a, err := newApp(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatalf("newApp returned error: %v", err)
	}
	t.Cleanup(a.Close)

	resumed, err := a.checkins.Resume(context.Background())
	if err != nil {
		t.Fatalf("Resume returned error: %v", err)
	}
	if resumed != 0 {
		t.Fatalf("resumed = %d, want 0 on a fresh database", resumed)
	}
}

func TestNewAppRejectsIncompleteGateway(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{name: "http without url", mutate: func(c *config.Config) { c.NotifyMode = config.NotifyHTTP }},
		{name: "twilio without credentials", mutate: func(c *config.Config) { c.NotifyMode = config.NotifyTwilio }},
		{name: "unknown store", mutate: func(c *config.Config) { c.Store = "postgres" }},
		{name: "short evidence key", mutate: func(c *config.Config) { c.EvidenceKey = []byte("short") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(&cfg)
			a, err := newApp(context.Background(), cfg, quietLogger())
			if err == nil {
				a.Close()
				t.Fatalf("expected error, got nil")
			}
			if a != nil {
				t.Fatalf("expected nil app on error")
			}
		})
	}
}
