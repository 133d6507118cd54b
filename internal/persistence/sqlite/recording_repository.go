package sqlite

import (
	"context"
	"database/sql"

	"github.com/example/safety-checkin/internal/persistence"
)

const recordingColumns = `id, session_id, owner_id, path, kind, mime_type, size_bytes, sha256,
	encrypted, latitude, longitude, started_at, finished_at, created_at`

// RecordingRepository implements persistence.RecordingRepository.
type RecordingRepository struct {
	pool   *ConnectionPool
	retry  *RetryHelper
	mapper ErrorMapper
}

// CreateRecording inserts evidence metadata linked to a session.
func (r *RecordingRepository) CreateRecording(ctx context.Context, recording persistence.Recording) error {
	if recording.ID == "" || recording.SessionID == "" || recording.Path == "" {
		return persistence.ErrConstraintViolation
	}
	return r.retry.WithRetry(ctx, func() error {
		_, err := r.pool.DB().ExecContext(ctx, `
			INSERT INTO recordings (`+recordingColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			recording.ID,
			recording.SessionID,
			recording.OwnerID,
			recording.Path,
			recording.Kind,
			recording.MimeType,
			recording.SizeBytes,
			recording.SHA256,
			recording.Encrypted,
			nullableFloat(recording.Latitude),
			nullableFloat(recording.Longitude),
			formatTime(recording.StartedAt),
			formatTime(recording.FinishedAt),
			formatTime(recording.CreatedAt),
		)
		return r.mapper.MapError(err)
	})
}

// GetRecording loads recording metadata by id.
func (r *RecordingRepository) GetRecording(ctx context.Context, id string) (persistence.Recording, error) {
	row := r.pool.DB().QueryRowContext(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE id = ?`, id)
	return r.scanRecording(row)
}

// ListRecordings returns the recordings of a session in creation order.
func (r *RecordingRepository) ListRecordings(ctx context.Context, sessionID string) ([]persistence.Recording, error) {
	rows, err := r.pool.DB().QueryContext(ctx, `
		SELECT `+recordingColumns+` FROM recordings
		WHERE session_id = ?
		ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	recordings := make([]persistence.Recording, 0)
	for rows.Next() {
		recording, err := r.scanRecording(rows)
		if err != nil {
			return nil, err
		}
		recordings = append(recordings, recording)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return recordings, nil
}

func (r *RecordingRepository) scanRecording(row rowScanner) (persistence.Recording, error) {
	var recording persistence.Recording
	var latitude, longitude sql.NullFloat64
	var startedAt, finishedAt, createdAt string
	if err := row.Scan(
		&recording.ID,
		&recording.SessionID,
		&recording.OwnerID,
		&recording.Path,
		&recording.Kind,
		&recording.MimeType,
		&recording.SizeBytes,
		&recording.SHA256,
		&recording.Encrypted,
		&latitude,
		&longitude,
		&startedAt,
		&finishedAt,
		&createdAt,
	); err != nil {
		return persistence.Recording{}, r.mapper.MapError(err)
	}

	var err error
	recording.Latitude = floatPtr(latitude)
	recording.Longitude = floatPtr(longitude)
	if recording.StartedAt, err = parseTime("started_at", startedAt); err != nil {
		return persistence.Recording{}, err
	}
	if recording.FinishedAt, err = parseTime("finished_at", finishedAt); err != nil {
		return persistence.Recording{}, err
	}
	if recording.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return persistence.Recording{}, err
	}
	return recording, nil
}
