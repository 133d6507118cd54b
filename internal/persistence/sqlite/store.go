// Package sqlite persists check-in state in SQLite through the pure-Go
// modernc.org/sqlite driver. The schema is managed by goose from embedded
// migrations.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"time"

	"github.com/example/safety-checkin/internal/persistence"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed width so that stored timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements persistence.Store on top of a SQLite database.
type Store struct {
	*SessionRepository
	*LocationRepository
	*ContactRepository
	*RecordingRepository

	pool *ConnectionPool
}

var _ persistence.Store = (*Store)(nil)

// Open connects to the database described by dsn and applies pending
// migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := NewConnectionPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, pool.DB()); err != nil {
		_ = pool.Close()
		return nil, err
	}

	retry := NewRetryHelper(DefaultRetryConfig())
	return &Store{
		SessionRepository:   &SessionRepository{pool: pool, retry: retry},
		LocationRepository:  &LocationRepository{pool: pool, retry: retry},
		ContactRepository:   &ContactRepository{pool: pool, retry: retry},
		RecordingRepository: &RecordingRepository{pool: pool, retry: retry},
		pool:                pool,
	}, nil
}

// Migrate applies every embedded migration that has not run yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	migrations, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, migrations)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.DB().PingContext(ctx)
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.pool.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(column, value string) (time.Time, error) {
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", column, err)
	}
	return parsed.UTC(), nil
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullableTime(column string, value sql.NullString) (*time.Time, error) {
	if !value.Valid {
		return nil, nil
	}
	parsed, err := parseTime(column, value.String)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func nullableFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
