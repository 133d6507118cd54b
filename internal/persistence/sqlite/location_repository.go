package sqlite

import (
	"context"
	"database/sql"

	"github.com/example/safety-checkin/internal/persistence"
)

const locationColumns = `id, session_id, owner_id, latitude, longitude, accuracy, captured_at, created_at`

// LocationRepository implements persistence.LocationRepository.
type LocationRepository struct {
	pool   *ConnectionPool
	retry  *RetryHelper
	mapper ErrorMapper
}

// AppendLocation inserts a location sample. Samples are never updated.
func (r *LocationRepository) AppendLocation(ctx context.Context, entry persistence.LocationLogEntry) error {
	if entry.ID == "" || entry.SessionID == "" {
		return persistence.ErrConstraintViolation
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = entry.CapturedAt
	}
	return r.retry.WithRetry(ctx, func() error {
		_, err := r.pool.DB().ExecContext(ctx, `
			INSERT INTO location_logs (`+locationColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.ID,
			entry.SessionID,
			entry.OwnerID,
			entry.Latitude,
			entry.Longitude,
			nullableFloat(entry.Accuracy),
			formatTime(entry.CapturedAt),
			formatTime(entry.CreatedAt),
		)
		return r.mapper.MapError(err)
	})
}

// ListLocations returns up to limit samples of the session, newest first. A
// non-positive limit returns every sample.
func (r *LocationRepository) ListLocations(ctx context.Context, sessionID string, limit int) ([]persistence.LocationLogEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.pool.DB().QueryContext(ctx, `
		SELECT `+locationColumns+` FROM location_logs
		WHERE session_id = ?
		ORDER BY captured_at DESC, created_at DESC, id DESC
		LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	entries := make([]persistence.LocationLogEntry, 0)
	for rows.Next() {
		entry, err := r.scanLocation(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return entries, nil
}

// LatestLocation returns the most recent sample of the session.
func (r *LocationRepository) LatestLocation(ctx context.Context, sessionID string) (persistence.LocationLogEntry, error) {
	row := r.pool.DB().QueryRowContext(ctx, `
		SELECT `+locationColumns+` FROM location_logs
		WHERE session_id = ?
		ORDER BY captured_at DESC, created_at DESC, id DESC
		LIMIT 1`, sessionID)
	return r.scanLocation(row)
}

func (r *LocationRepository) scanLocation(row rowScanner) (persistence.LocationLogEntry, error) {
	var entry persistence.LocationLogEntry
	var accuracy sql.NullFloat64
	var capturedAt, createdAt string
	if err := row.Scan(
		&entry.ID,
		&entry.SessionID,
		&entry.OwnerID,
		&entry.Latitude,
		&entry.Longitude,
		&accuracy,
		&capturedAt,
		&createdAt,
	); err != nil {
		return persistence.LocationLogEntry{}, r.mapper.MapError(err)
	}

	var err error
	entry.Accuracy = floatPtr(accuracy)
	if entry.CapturedAt, err = parseTime("captured_at", capturedAt); err != nil {
		return persistence.LocationLogEntry{}, err
	}
	if entry.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return persistence.LocationLogEntry{}, err
	}
	return entry, nil
}
