package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Notification gateway modes.
const (
	NotifyLog    = "log"
	NotifyHTTP   = "http"
	NotifyTwilio = "twilio"
)

// MaxContactsLimit is the hard per-owner cap on emergency contacts.
const MaxContactsLimit = 5

// Config captures environment driven configuration values for the check-in service.
type Config struct {
	HTTPPort  int
	Store     string
	SQLiteDSN string

	JWTSecret   string
	JWTAudience string

	MonitorPeriod            time.Duration
	LocationTimeout          time.Duration
	LocationMaxAge           time.Duration
	ArchiveAfter             time.Duration
	SweepPeriod              time.Duration
	MaxContacts              int
	DefaultDeactivationLimit time.Duration

	NotifyMode    string
	NotifyURL     string
	NotifyAPIKey  string
	NotifyTimeout time.Duration

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisStream   string

	EvidenceDir      string
	EvidenceKey      []byte
	EvidenceMaxBytes int64

	LogLevel  string
	LogFormat string
}

// LoadEnvFile populates the process environment from a dotenv file. Variables
// that are already set win over the file, and a missing file is not an error.
func LoadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load parses configuration values from the current process environment.
//
// Optional fields fall back to defaults. Every missing required key and every
// malformed value is collected so that a single error reports all of them.
func Load() (Config, error) {
	cfg := Config{
		HTTPPort:                 8080,
		Store:                    StoreSQLite,
		SQLiteDSN:                "file:checkin.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)",
		MonitorPeriod:            30 * time.Second,
		LocationTimeout:          10 * time.Second,
		LocationMaxAge:           15 * time.Second,
		ArchiveAfter:             24 * time.Hour,
		SweepPeriod:              5 * time.Minute,
		MaxContacts:              MaxContactsLimit,
		DefaultDeactivationLimit: 4 * time.Hour,
		NotifyMode:               NotifyLog,
		NotifyTimeout:            10 * time.Second,
		RedisStream:              "checkin:events",
		EvidenceDir:              "evidence",
		EvidenceMaxBytes:         100 << 20,
		LogLevel:                 "info",
		LogFormat:                "json",
	}

	p := &parser{}

	p.positiveInt("CHECKIN_HTTP_PORT", &cfg.HTTPPort)
	if store := p.lookup("CHECKIN_STORE"); store != "" {
		switch strings.ToLower(store) {
		case StoreSQLite, StoreMemory:
			cfg.Store = strings.ToLower(store)
		default:
			p.invalid = append(p.invalid, "CHECKIN_STORE")
		}
	}
	p.str("CHECKIN_SQLITE_DSN", &cfg.SQLiteDSN)

	if cfg.JWTSecret = p.lookup("CHECKIN_JWT_SECRET"); cfg.JWTSecret == "" {
		p.missing = append(p.missing, "CHECKIN_JWT_SECRET")
	}
	p.str("CHECKIN_JWT_AUDIENCE", &cfg.JWTAudience)

	p.duration("CHECKIN_MONITOR_PERIOD", &cfg.MonitorPeriod)
	p.duration("CHECKIN_LOCATION_TIMEOUT", &cfg.LocationTimeout)
	p.duration("CHECKIN_LOCATION_MAX_AGE", &cfg.LocationMaxAge)
	p.duration("CHECKIN_ARCHIVE_AFTER", &cfg.ArchiveAfter)
	p.duration("CHECKIN_SWEEP_PERIOD", &cfg.SweepPeriod)
	p.positiveInt("CHECKIN_MAX_CONTACTS", &cfg.MaxContacts)
	if cfg.MaxContacts > MaxContactsLimit {
		p.invalid = append(p.invalid, "CHECKIN_MAX_CONTACTS")
	}
	p.duration("CHECKIN_DEFAULT_DEACTIVATION_LIMIT", &cfg.DefaultDeactivationLimit)

	if mode := p.lookup("CHECKIN_NOTIFY_MODE"); mode != "" {
		switch strings.ToLower(mode) {
		case NotifyLog, NotifyHTTP, NotifyTwilio:
			cfg.NotifyMode = strings.ToLower(mode)
		default:
			p.invalid = append(p.invalid, "CHECKIN_NOTIFY_MODE")
		}
	}
	p.str("CHECKIN_NOTIFY_URL", &cfg.NotifyURL)
	p.str("CHECKIN_NOTIFY_API_KEY", &cfg.NotifyAPIKey)
	p.duration("CHECKIN_NOTIFY_TIMEOUT", &cfg.NotifyTimeout)
	p.str("CHECKIN_TWILIO_ACCOUNT_SID", &cfg.TwilioAccountSID)
	p.str("CHECKIN_TWILIO_AUTH_TOKEN", &cfg.TwilioAuthToken)
	p.str("CHECKIN_TWILIO_FROM", &cfg.TwilioFrom)

	switch cfg.NotifyMode {
	case NotifyHTTP:
		p.require("CHECKIN_NOTIFY_URL", cfg.NotifyURL)
	case NotifyTwilio:
		p.require("CHECKIN_TWILIO_ACCOUNT_SID", cfg.TwilioAccountSID)
		p.require("CHECKIN_TWILIO_AUTH_TOKEN", cfg.TwilioAuthToken)
		p.require("CHECKIN_TWILIO_FROM", cfg.TwilioFrom)
	}

	p.str("CHECKIN_REDIS_ADDR", &cfg.RedisAddr)
	p.str("CHECKIN_REDIS_PASSWORD", &cfg.RedisPassword)
	if value := p.lookup("CHECKIN_REDIS_DB"); value != "" {
		db, err := strconv.Atoi(value)
		if err != nil || db < 0 {
			p.invalid = append(p.invalid, "CHECKIN_REDIS_DB")
		} else {
			cfg.RedisDB = db
		}
	}
	p.str("CHECKIN_REDIS_STREAM", &cfg.RedisStream)

	p.str("CHECKIN_EVIDENCE_DIR", &cfg.EvidenceDir)
	if value := p.lookup("CHECKIN_EVIDENCE_KEY"); value != "" {
		key, err := hex.DecodeString(value)
		if err != nil || len(key) != 32 {
			p.invalid = append(p.invalid, "CHECKIN_EVIDENCE_KEY")
		} else {
			cfg.EvidenceKey = key
		}
	}
	if value := p.lookup("CHECKIN_EVIDENCE_MAX_BYTES"); value != "" {
		limit, err := strconv.ParseInt(value, 10, 64)
		if err != nil || limit <= 0 {
			p.invalid = append(p.invalid, "CHECKIN_EVIDENCE_MAX_BYTES")
		} else {
			cfg.EvidenceMaxBytes = limit
		}
	}

	p.str("CHECKIN_LOG_LEVEL", &cfg.LogLevel)
	p.str("CHECKIN_LOG_FORMAT", &cfg.LogFormat)

	if len(p.missing) > 0 {
		return Config{}, fmt.Errorf("必須の環境変数が設定されていません: %s", strings.Join(p.missing, ", "))
	}
	if len(p.invalid) > 0 {
		return Config{}, fmt.Errorf("環境変数の値が不正です: %s", strings.Join(p.invalid, ", "))
	}

	return cfg, nil
}

type parser struct {
	missing []string
	invalid []string
}

func (p *parser) lookup(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func (p *parser) str(key string, dst *string) {
	if value := p.lookup(key); value != "" {
		*dst = value
	}
}

func (p *parser) require(key, value string) {
	if value == "" {
		p.missing = append(p.missing, key)
	}
}

func (p *parser) positiveInt(key string, dst *int) {
	value := p.lookup(key)
	if value == "" {
		return
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		p.invalid = append(p.invalid, key)
		return
	}
	*dst = parsed
}

func (p *parser) duration(key string, dst *time.Duration) {
	value := p.lookup(key)
	if value == "" {
		return
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		p.invalid = append(p.invalid, key)
		return
	}
	*dst = parsed
}
