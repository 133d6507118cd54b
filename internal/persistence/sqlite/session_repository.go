package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/safety-checkin/internal/checkin"
	"github.com/example/safety-checkin/internal/persistence"
)

const sessionColumns = `id, owner_id, status, check_in_interval_seconds, deactivation_limit_seconds,
	recording_enabled, created_at, last_update_at, missed_checkins, alerted_level,
	escalated_at, critical_at, marked_safe_at, archived_at, archive_reason, updated_at`

const openStatusList = `('active', 'escalated', 'critical')`

// SessionRepository implements persistence.SessionRepository.
type SessionRepository struct {
	pool   *ConnectionPool
	retry  *RetryHelper
	mapper ErrorMapper
}

// CreateSession inserts a new session. A second open session for the same
// owner violates the partial unique index and yields persistence.ErrDuplicate.
func (r *SessionRepository) CreateSession(ctx context.Context, session persistence.CheckinSession) error {
	if session.ID == "" || session.OwnerID == "" || !session.Status.Valid() {
		return persistence.ErrConstraintViolation
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = session.CreatedAt
	}

	return r.retry.WithRetry(ctx, func() error {
		_, err := r.pool.DB().ExecContext(ctx, `
			INSERT INTO checkin_sessions (`+sessionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			session.ID,
			session.OwnerID,
			string(session.Status),
			session.CheckInIntervalSeconds,
			session.DeactivationLimitSeconds,
			session.RecordingEnabled,
			formatTime(session.CreatedAt),
			formatTime(session.LastUpdateAt),
			session.MissedCheckins,
			string(session.AlertedLevel),
			nullableTime(session.EscalatedAt),
			nullableTime(session.CriticalAt),
			nullableTime(session.MarkedSafeAt),
			nullableTime(session.ArchivedAt),
			string(session.ArchiveReason),
			formatTime(session.UpdatedAt),
		)
		return r.mapper.MapError(err)
	})
}

// GetSession loads a session by id.
func (r *SessionRepository) GetSession(ctx context.Context, id string) (persistence.CheckinSession, error) {
	row := r.pool.DB().QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM checkin_sessions WHERE id = ?`, id)
	return r.scanSession(row)
}

// FindOpenSession returns the owner's open session or persistence.ErrNotFound.
func (r *SessionRepository) FindOpenSession(ctx context.Context, ownerID string) (persistence.CheckinSession, error) {
	row := r.pool.DB().QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM checkin_sessions
		WHERE owner_id = ? AND status IN `+openStatusList, ownerID)
	return r.scanSession(row)
}

// ListSessions returns the owner's sessions, newest first.
func (r *SessionRepository) ListSessions(ctx context.Context, ownerID string) ([]persistence.CheckinSession, error) {
	return r.querySessions(ctx, `
		SELECT `+sessionColumns+` FROM checkin_sessions
		WHERE owner_id = ?
		ORDER BY created_at DESC, id`, ownerID)
}

// ListOpenSessions returns every open session, oldest first.
func (r *SessionRepository) ListOpenSessions(ctx context.Context) ([]persistence.CheckinSession, error) {
	return r.querySessions(ctx, `
		SELECT `+sessionColumns+` FROM checkin_sessions
		WHERE status IN `+openStatusList+`
		ORDER BY created_at, id`)
}

// RecordBroadcast stores a successful broadcast. An escalated session returns
// to active and its alert level is cleared; a critical session stays critical.
func (r *SessionRepository) RecordBroadcast(ctx context.Context, id string, at time.Time) (persistence.CheckinSession, error) {
	return r.updateOpen(ctx, id, `
		UPDATE checkin_sessions SET
			last_update_at = ?,
			missed_checkins = 0,
			alerted_level = CASE WHEN status = 'escalated' THEN '' ELSE alerted_level END,
			status = CASE WHEN status = 'escalated' THEN 'active' ELSE status END,
			updated_at = ?
		WHERE id = ? AND status IN `+openStatusList+`
		RETURNING `+sessionColumns,
		formatTime(at), formatTime(at), id)
}

// RecordMissedCheckin increments the missed counter of an open session.
func (r *SessionRepository) RecordMissedCheckin(ctx context.Context, id string, at time.Time) (persistence.CheckinSession, error) {
	return r.updateOpen(ctx, id, `
		UPDATE checkin_sessions SET
			missed_checkins = missed_checkins + 1,
			updated_at = ?
		WHERE id = ? AND status IN `+openStatusList+`
		RETURNING `+sessionColumns,
		formatTime(at), id)
}

// Transition moves the session into params.To when its current status is one
// of params.From.
func (r *SessionRepository) Transition(ctx context.Context, params persistence.TransitionParams) (persistence.CheckinSession, error) {
	if !params.To.Valid() || len(params.From) == 0 {
		return persistence.CheckinSession{}, persistence.ErrConstraintViolation
	}

	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{string(params.To), formatTime(params.At)}
	switch params.To {
	case checkin.StatusEscalated:
		sets = append(sets, "escalated_at = ?")
		args = append(args, formatTime(params.At))
	case checkin.StatusCritical:
		sets = append(sets, "critical_at = ?")
		args = append(args, formatTime(params.At))
	case checkin.StatusCompleted:
		sets = append(sets, "marked_safe_at = ?")
		args = append(args, formatTime(params.At))
	case checkin.StatusArchived:
		sets = append(sets, "archived_at = ?", "archive_reason = ?")
		args = append(args, formatTime(params.At), string(params.Reason))
	case checkin.StatusActive:
		sets = append(sets, "alerted_level = ''")
	}

	placeholders := make([]string, len(params.From))
	args = append(args, params.SessionID)
	for i, from := range params.From {
		placeholders[i] = "?"
		args = append(args, string(from))
	}

	where := "id = ? AND status IN (" + strings.Join(placeholders, ", ") + ")"
	if params.LastUpdateAt != nil {
		where += " AND last_update_at = ?"
		args = append(args, formatTime(*params.LastUpdateAt))
	}

	query := fmt.Sprintf(`UPDATE checkin_sessions SET %s WHERE %s RETURNING %s`,
		strings.Join(sets, ", "), where, sessionColumns)
	return r.updateOpen(ctx, params.SessionID, query, args...)
}

// MarkAlerted records that contacts were alerted for level, provided the
// session is still at that level.
func (r *SessionRepository) MarkAlerted(ctx context.Context, id string, level checkin.Status, at time.Time) (persistence.CheckinSession, error) {
	return r.updateOpen(ctx, id, `
		UPDATE checkin_sessions SET alerted_level = ?, updated_at = ?
		WHERE id = ? AND status = ?
		RETURNING `+sessionColumns,
		string(level), formatTime(at), id, string(level))
}

// updateOpen runs a guarded UPDATE ... RETURNING statement. When no row
// matches, it distinguishes a missing session from a status mismatch.
func (r *SessionRepository) updateOpen(ctx context.Context, id, query string, args ...any) (persistence.CheckinSession, error) {
	var session persistence.CheckinSession
	err := r.retry.WithRetry(ctx, func() error {
		var scanErr error
		session, scanErr = r.scanSession(r.pool.DB().QueryRowContext(ctx, query, args...))
		return scanErr
	})
	if errors.Is(err, persistence.ErrNotFound) {
		if _, getErr := r.GetSession(ctx, id); getErr != nil {
			return persistence.CheckinSession{}, getErr
		}
		return persistence.CheckinSession{}, persistence.ErrStateConflict
	}
	return session, err
}

func (r *SessionRepository) querySessions(ctx context.Context, query string, args ...any) ([]persistence.CheckinSession, error) {
	rows, err := r.pool.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	sessions := make([]persistence.CheckinSession, 0)
	for rows.Next() {
		session, err := r.scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return sessions, nil
}

func (r *SessionRepository) scanSession(row rowScanner) (persistence.CheckinSession, error) {
	var session persistence.CheckinSession
	var status, alerted, reason, createdAt, lastUpdateAt, updatedAt string
	var escalatedAt, criticalAt, markedSafeAt, archivedAt sql.NullString
	err := row.Scan(
		&session.ID,
		&session.OwnerID,
		&status,
		&session.CheckInIntervalSeconds,
		&session.DeactivationLimitSeconds,
		&session.RecordingEnabled,
		&createdAt,
		&lastUpdateAt,
		&session.MissedCheckins,
		&alerted,
		&escalatedAt,
		&criticalAt,
		&markedSafeAt,
		&archivedAt,
		&reason,
		&updatedAt,
	)
	if err != nil {
		return persistence.CheckinSession{}, r.mapper.MapError(err)
	}

	if session.Status, err = checkin.ParseStatus(status); err != nil {
		return persistence.CheckinSession{}, err
	}
	session.AlertedLevel = checkin.Status(alerted)
	session.ArchiveReason = checkin.ArchiveReason(reason)

	if session.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return persistence.CheckinSession{}, err
	}
	if session.LastUpdateAt, err = parseTime("last_update_at", lastUpdateAt); err != nil {
		return persistence.CheckinSession{}, err
	}
	if session.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return persistence.CheckinSession{}, err
	}
	if session.EscalatedAt, err = parseNullableTime("escalated_at", escalatedAt); err != nil {
		return persistence.CheckinSession{}, err
	}
	if session.CriticalAt, err = parseNullableTime("critical_at", criticalAt); err != nil {
		return persistence.CheckinSession{}, err
	}
	if session.MarkedSafeAt, err = parseNullableTime("marked_safe_at", markedSafeAt); err != nil {
		return persistence.CheckinSession{}, err
	}
	if session.ArchivedAt, err = parseNullableTime("archived_at", archivedAt); err != nil {
		return persistence.CheckinSession{}, err
	}
	return session, nil
}
