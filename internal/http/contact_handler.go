package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/safety-checkin/internal/application"
	"github.com/example/safety-checkin/internal/persistence"
)

type contactService interface {
	Create(ctx context.Context, principal application.Principal, input application.ContactInput) (persistence.Contact, error)
	List(ctx context.Context, principal application.Principal) ([]persistence.Contact, error)
	Delete(ctx context.Context, principal application.Principal, contactID string) error
}

type ContactHandler struct {
	service   contactService
	responder responder
	logger    *slog.Logger
}

func NewContactHandler(service contactService, logger *slog.Logger) *ContactHandler {
	base := defaultLogger(logger)
	return &ContactHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *ContactHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "ContactHandler", operation, attrs...)
}

func (h *ContactHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	var req contactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), "Create", "principal_id", principal.OwnerID, "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode contact request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	logger := h.log(r.Context(), "Create", "principal_id", principal.OwnerID)

	contact, err := h.service.Create(r.Context(), principal, req.toInput())
	if err != nil {
		logger.ErrorContext(r.Context(), "contact creation failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("contact_id", contact.ID).InfoContext(r.Context(), "contact created")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, contactResponse{Contact: toContactDTO(contact)})
}

func (h *ContactHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	contacts, err := h.service.List(r.Context(), principal)
	if err != nil {
		h.log(r.Context(), "List", "principal_id", principal.OwnerID).ErrorContext(r.Context(), "contact listing failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	resp := listContactsResponse{Contacts: make([]contactDTO, 0, len(contacts))}
	for _, contact := range contacts {
		resp.Contacts = append(resp.Contacts, toContactDTO(contact))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (h *ContactHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	contactID := strings.TrimSpace(r.PathValue("id"))
	if contactID == "" {
		h.log(r.Context(), "Delete", "error_kind", "bad_request").ErrorContext(r.Context(), "missing contact id for delete")
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidContactID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	logger := h.log(r.Context(), "Delete", "principal_id", principal.OwnerID, "contact_id", contactID)
	if err := h.service.Delete(r.Context(), principal, contactID); err != nil {
		logger.ErrorContext(r.Context(), "contact delete failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "contact deleted")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

type contactRequest struct {
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Relationship string `json:"relationship"`
}

func (r contactRequest) toInput() application.ContactInput {
	return application.ContactInput{
		Name:         r.Name,
		Phone:        r.Phone,
		Relationship: r.Relationship,
	}
}

type contactDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Relationship string `json:"relationship,omitempty"`
	CreatedAt    string `json:"created_at"`
}

type contactResponse struct {
	Contact contactDTO `json:"contact"`
}

type listContactsResponse struct {
	Contacts []contactDTO `json:"contacts"`
}

func toContactDTO(contact persistence.Contact) contactDTO {
	return contactDTO{
		ID:           contact.ID,
		Name:         contact.Name,
		Phone:        contact.Phone,
		Relationship: contact.Relationship,
		CreatedAt:    formatTime(contact.CreatedAt),
	}
}
