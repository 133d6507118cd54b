package application

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/example/safety-checkin/internal/persistence"
)

const (
	// DefaultMaxContacts is the number of emergency contacts an owner may keep.
	// Larger configured limits are clamped to it.
	DefaultMaxContacts = 5

	maxContactNameLength  = 100
	maxRelationshipLength = 50
)

var phonePattern = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)

// ContactService manages an owner's emergency contacts.
type ContactService struct {
	contacts    persistence.ContactRepository
	maxContacts int
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewContactService constructs a ContactService with the provided dependencies.
func NewContactService(contacts persistence.ContactRepository, maxContacts int, idGenerator func() string, now func() time.Time) *ContactService {
	return NewContactServiceWithLogger(contacts, maxContacts, idGenerator, now, nil)
}

// NewContactServiceWithLogger constructs a ContactService with a specified logger.
func NewContactServiceWithLogger(contacts persistence.ContactRepository, maxContacts int, idGenerator func() string, now func() time.Time, logger *slog.Logger) *ContactService {
	if maxContacts <= 0 || maxContacts > DefaultMaxContacts {
		maxContacts = DefaultMaxContacts
	}
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &ContactService{
		contacts:    contacts,
		maxContacts: maxContacts,
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
	}
}

func (s *ContactService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "ContactService", operation, attrs...)
}

// Create validates and stores a new contact. The per-owner cap is enforced by
// the repository in the same write.
func (s *ContactService) Create(ctx context.Context, principal Principal, input ContactInput) (contact persistence.Contact, err error) {
	if s == nil {
		err = fmt.Errorf("ContactService is nil")
		return
	}
	if s.contacts == nil {
		err = fmt.Errorf("contact repository not configured")
		return
	}

	logger := s.loggerWith(ctx, "Create", "owner_id", principal.OwnerID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create contact", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("contact_id", contact.ID).InfoContext(ctx, "contact created")
	}()

	if principal.OwnerID == "" {
		err = ErrUnauthorized
		return
	}

	normalized, vErr := normalizeContactInput(input)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	contact = persistence.Contact{
		ID:           s.idGenerator(),
		OwnerID:      principal.OwnerID,
		Name:         normalized.Name,
		Phone:        normalized.Phone,
		Relationship: normalized.Relationship,
		CreatedAt:    s.now().UTC(),
	}
	if err = mapContactRepoError(s.contacts.CreateContact(ctx, contact, s.maxContacts)); err != nil {
		contact = persistence.Contact{}
		return
	}
	return
}

// List returns the principal's contacts in creation order.
func (s *ContactService) List(ctx context.Context, principal Principal) ([]persistence.Contact, error) {
	if s == nil {
		return nil, fmt.Errorf("ContactService is nil")
	}
	if principal.OwnerID == "" {
		return nil, ErrUnauthorized
	}
	contacts, err := s.contacts.ListContacts(ctx, principal.OwnerID)
	if err != nil {
		s.loggerWith(ctx, "List", "owner_id", principal.OwnerID).ErrorContext(ctx, "failed to list contacts", "error", err)
		return nil, err
	}
	return contacts, nil
}

// Delete removes one of the principal's contacts.
func (s *ContactService) Delete(ctx context.Context, principal Principal, contactID string) (err error) {
	if s == nil {
		return fmt.Errorf("ContactService is nil")
	}

	logger := s.loggerWith(ctx, "Delete", "owner_id", principal.OwnerID, "contact_id", contactID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to delete contact", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "contact deleted")
	}()

	if principal.OwnerID == "" {
		return ErrUnauthorized
	}
	return mapContactRepoError(s.contacts.DeleteContact(ctx, principal.OwnerID, contactID))
}

// NormalizePhone strips spaces, dashes and parentheses from a phone number.
func NormalizePhone(phone string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '\t':
			return -1
		}
		return r
	}, strings.TrimSpace(phone))
}

func normalizeContactInput(input ContactInput) (ContactInput, *ValidationError) {
	vErr := &ValidationError{}
	normalized := ContactInput{
		Name:         strings.TrimSpace(input.Name),
		Phone:        NormalizePhone(input.Phone),
		Relationship: strings.TrimSpace(input.Relationship),
	}

	switch {
	case normalized.Name == "":
		vErr.add("name", "name is required")
	case utf8.RuneCountInString(normalized.Name) > maxContactNameLength:
		vErr.add("name", "name is too long")
	}

	switch {
	case normalized.Phone == "":
		vErr.add("phone", "phone is required")
	case !phonePattern.MatchString(normalized.Phone):
		vErr.add("phone", "phone is invalid")
	}

	if utf8.RuneCountInString(normalized.Relationship) > maxRelationshipLength {
		vErr.add("relationship", "relationship is too long")
	}

	return normalized, vErr
}
