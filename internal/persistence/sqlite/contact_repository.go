package sqlite

import (
	"context"
	"database/sql"

	"github.com/example/safety-checkin/internal/persistence"
)

// ContactRepository implements persistence.ContactRepository.
type ContactRepository struct {
	pool   *ConnectionPool
	retry  *RetryHelper
	mapper ErrorMapper
}

// CreateContact counts the owner's contacts and inserts the new one in the
// same transaction, so the cap holds under concurrent requests.
func (r *ContactRepository) CreateContact(ctx context.Context, contact persistence.Contact, limit int) error {
	if contact.ID == "" || contact.OwnerID == "" {
		return persistence.ErrConstraintViolation
	}
	return r.retry.WithRetry(ctx, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			if limit > 0 {
				var count int
				if err := tx.QueryRowContext(ctx,
					`SELECT COUNT(*) FROM emergency_contacts WHERE owner_id = ?`, contact.OwnerID,
				).Scan(&count); err != nil {
					return r.mapper.MapError(err)
				}
				if count >= limit {
					return persistence.ErrLimitExceeded
				}
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO emergency_contacts (id, owner_id, name, phone, relationship, created_at)
				VALUES (?, ?, ?, ?, ?, ?)`,
				contact.ID,
				contact.OwnerID,
				contact.Name,
				contact.Phone,
				contact.Relationship,
				formatTime(contact.CreatedAt),
			)
			return r.mapper.MapError(err)
		})
	})
}

// ListContacts returns the owner's contacts in creation order.
func (r *ContactRepository) ListContacts(ctx context.Context, ownerID string) ([]persistence.Contact, error) {
	rows, err := r.pool.DB().QueryContext(ctx, `
		SELECT id, owner_id, name, phone, relationship, created_at
		FROM emergency_contacts
		WHERE owner_id = ?
		ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	contacts := make([]persistence.Contact, 0)
	for rows.Next() {
		var contact persistence.Contact
		var createdAt string
		if err := rows.Scan(
			&contact.ID,
			&contact.OwnerID,
			&contact.Name,
			&contact.Phone,
			&contact.Relationship,
			&createdAt,
		); err != nil {
			return nil, r.mapper.MapError(err)
		}
		if contact.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		contacts = append(contacts, contact)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return contacts, nil
}

// DeleteContact removes one of the owner's contacts.
func (r *ContactRepository) DeleteContact(ctx context.Context, ownerID, id string) error {
	return r.retry.WithRetry(ctx, func() error {
		result, err := r.pool.DB().ExecContext(ctx,
			`DELETE FROM emergency_contacts WHERE id = ? AND owner_id = ?`, id, ownerID)
		if err != nil {
			return r.mapper.MapError(err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return persistence.ErrNotFound
		}
		return nil
	})
}
