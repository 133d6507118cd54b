package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var allKeys = []string{
	"CHECKIN_HTTP_PORT", "CHECKIN_STORE", "CHECKIN_SQLITE_DSN", "CHECKIN_JWT_SECRET",
	"CHECKIN_JWT_AUDIENCE", "CHECKIN_MONITOR_PERIOD", "CHECKIN_LOCATION_TIMEOUT",
	"CHECKIN_LOCATION_MAX_AGE", "CHECKIN_ARCHIVE_AFTER", "CHECKIN_SWEEP_PERIOD",
	"CHECKIN_MAX_CONTACTS", "CHECKIN_DEFAULT_DEACTIVATION_LIMIT", "CHECKIN_NOTIFY_MODE",
	"CHECKIN_NOTIFY_URL", "CHECKIN_NOTIFY_API_KEY", "CHECKIN_NOTIFY_TIMEOUT",
	"CHECKIN_TWILIO_ACCOUNT_SID", "CHECKIN_TWILIO_AUTH_TOKEN", "CHECKIN_TWILIO_FROM",
	"CHECKIN_REDIS_ADDR", "CHECKIN_REDIS_PASSWORD", "CHECKIN_REDIS_DB", "CHECKIN_REDIS_STREAM",
	"CHECKIN_EVIDENCE_DIR", "CHECKIN_EVIDENCE_KEY", "CHECKIN_EVIDENCE_MAX_BYTES",
	"CHECKIN_LOG_LEVEL", "CHECKIN_LOG_FORMAT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allKeys {
		t.Setenv(key, "")
	}
}

func TestLoader_ParseEnvironment(t *testing.T) {

	t.Run("applies defaults when variables are missing", func(t *testing.T) {
		clearEnv(t)
		const secret = "super-secret"
		t.Setenv("CHECKIN_JWT_SECRET", secret)

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}

		if cfg.HTTPPort != 8080 {
			t.Fatalf("expected default HTTP port 8080, got %d", cfg.HTTPPort)
		}
		if cfg.Store != StoreSQLite {
			t.Fatalf("expected sqlite store, got %q", cfg.Store)
		}
		if cfg.MonitorPeriod != 30*time.Second {
			t.Fatalf("expected 30s monitor period, got %s", cfg.MonitorPeriod)
		}
		if cfg.MaxContacts != 5 {
			t.Fatalf("expected 5 contacts, got %d", cfg.MaxContacts)
		}
		if cfg.NotifyMode != NotifyLog {
			t.Fatalf("expected log notifier, got %q", cfg.NotifyMode)
		}
		if cfg.JWTSecret != secret {
			t.Fatalf("expected JWT secret to be %q, got %q", secret, cfg.JWTSecret)
		}
		if cfg.EvidenceKey != nil {
			t.Fatalf("expected no evidence key by default")
		}
	})

	t.Run("errors when required values are missing", func(t *testing.T) {
		clearEnv(t)

		_, err := Load()
		if err == nil {
			t.Fatalf("expected error when required values are missing")
		}
		expected := "必須の環境変数が設定されていません: CHECKIN_JWT_SECRET"
		if err.Error() != expected {
			t.Fatalf("unexpected error message: %q", err.Error())
		}
	})

	t.Run("twilio mode requires credentials", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("CHECKIN_JWT_SECRET", "secret")
		t.Setenv("CHECKIN_NOTIFY_MODE", "twilio")
		t.Setenv("CHECKIN_TWILIO_ACCOUNT_SID", "AC123")

		_, err := Load()
		if err == nil {
			t.Fatal("expected error for missing twilio credentials")
		}
		if !strings.Contains(err.Error(), "CHECKIN_TWILIO_AUTH_TOKEN, CHECKIN_TWILIO_FROM") {
			t.Fatalf("unexpected error message: %q", err.Error())
		}
	})

	t.Run("parses duration and numeric fields", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("CHECKIN_JWT_SECRET", "secret-value")
		t.Setenv("CHECKIN_HTTP_PORT", "9090")
		t.Setenv("CHECKIN_STORE", "Memory")
		t.Setenv("CHECKIN_MONITOR_PERIOD", "5s")
		t.Setenv("CHECKIN_ARCHIVE_AFTER", "12h")
		t.Setenv("CHECKIN_MAX_CONTACTS", "3")
		t.Setenv("CHECKIN_REDIS_DB", "2")
		t.Setenv("CHECKIN_EVIDENCE_KEY", strings.Repeat("ab", 32))
		t.Setenv("CHECKIN_EVIDENCE_MAX_BYTES", "1024")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}

		if cfg.HTTPPort != 9090 {
			t.Fatalf("expected port 9090, got %d", cfg.HTTPPort)
		}
		if cfg.Store != StoreMemory {
			t.Fatalf("expected memory store, got %q", cfg.Store)
		}
		if cfg.MonitorPeriod != 5*time.Second || cfg.ArchiveAfter != 12*time.Hour {
			t.Fatalf("unexpected durations: %s %s", cfg.MonitorPeriod, cfg.ArchiveAfter)
		}
		if cfg.MaxContacts != 3 || cfg.RedisDB != 2 || cfg.EvidenceMaxBytes != 1024 {
			t.Fatalf("unexpected numeric fields: %+v", cfg)
		}
		if len(cfg.EvidenceKey) != 32 || cfg.EvidenceKey[0] != 0xab {
			t.Fatalf("unexpected evidence key: %x", cfg.EvidenceKey)
		}
	})

	t.Run("reports every invalid value", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("CHECKIN_JWT_SECRET", "secret")
		t.Setenv("CHECKIN_HTTP_PORT", "-1")
		t.Setenv("CHECKIN_MONITOR_PERIOD", "soon")
		t.Setenv("CHECKIN_EVIDENCE_KEY", "abcd")

		_, err := Load()
		if err == nil {
			t.Fatal("expected error for invalid values")
		}
		expected := "環境変数の値が不正です: CHECKIN_HTTP_PORT, CHECKIN_MONITOR_PERIOD, CHECKIN_EVIDENCE_KEY"
		if err.Error() != expected {
			t.Fatalf("unexpected error message: %q", err.Error())
		}
	})
}

func TestLoader_MaxContactsIsCapped(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHECKIN_JWT_SECRET", "secret")
	t.Setenv("CHECKIN_MAX_CONTACTS", "8")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for contact limit above the cap")
	}
	expected := "環境変数の値が不正です: CHECKIN_MAX_CONTACTS"
	if err.Error() != expected {
		t.Fatalf("unexpected error message: %q", err.Error())
	}
}

func TestLoadEnvFile(t *testing.T) {
	t.Run("missing file is ignored", func(t *testing.T) {
		if err := LoadEnvFile(filepath.Join(t.TempDir(), "absent.env")); err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
	})

	t.Run("populates unset variables", func(t *testing.T) {
		clearEnv(t)
		os.Unsetenv("CHECKIN_JWT_SECRET")
		os.Unsetenv("CHECKIN_LOG_LEVEL")
		t.Setenv("CHECKIN_HTTP_PORT", "7000")

		path := filepath.Join(t.TempDir(), ".env")
		content := "CHECKIN_JWT_SECRET=from-file\nCHECKIN_LOG_LEVEL=debug\nCHECKIN_HTTP_PORT=7777\n"
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("write env file: %v", err)
		}
		if err := LoadEnvFile(path); err != nil {
			t.Fatalf("LoadEnvFile failed: %v", err)
		}

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if cfg.JWTSecret != "from-file" || cfg.LogLevel != "debug" {
			t.Fatalf("expected values from env file, got %+v", cfg)
		}
		if cfg.HTTPPort != 7000 {
			t.Fatalf("expected existing variable to win, got %d", cfg.HTTPPort)
		}
	})
}
