package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/example/safety-checkin/internal/application"
	"github.com/example/safety-checkin/internal/location"
	"github.com/example/safety-checkin/internal/persistence"
)

// DefaultMaxChunkBytes bounds a single recording upload request.
const DefaultMaxChunkBytes int64 = 8 << 20

type checkinService interface {
	Start(ctx context.Context, params application.StartParams) (persistence.CheckinSession, error)
	List(ctx context.Context, principal application.Principal) ([]persistence.CheckinSession, error)
	GetActive(ctx context.Context, principal application.Principal) (persistence.CheckinSession, error)
	Get(ctx context.Context, principal application.Principal, sessionID string) (persistence.CheckinSession, error)
	MarkSafe(ctx context.Context, principal application.Principal, sessionID string) (persistence.CheckinSession, error)
	Stop(ctx context.Context, principal application.Principal, sessionID string) (persistence.CheckinSession, error)
	ReportLocation(ctx context.Context, principal application.Principal, sessionID string, position location.Position) error
	Locations(ctx context.Context, principal application.Principal, sessionID string, limit int) ([]persistence.LocationLogEntry, error)
	AppendRecording(ctx context.Context, principal application.Principal, sessionID string, chunk io.Reader) (int64, error)
	Recordings(ctx context.Context, principal application.Principal, sessionID string) ([]persistence.Recording, error)
	VerifyRecording(ctx context.Context, principal application.Principal, recordingID string) (application.VerifiedRecording, error)
}

type CheckinHandler struct {
	service       checkinService
	responder     responder
	logger        *slog.Logger
	maxChunkBytes int64
}

func NewCheckinHandler(service checkinService, logger *slog.Logger) *CheckinHandler {
	return NewCheckinHandlerWithChunkLimit(service, DefaultMaxChunkBytes, logger)
}

// NewCheckinHandlerWithChunkLimit overrides the per-request recording upload bound.
func NewCheckinHandlerWithChunkLimit(service checkinService, maxChunkBytes int64, logger *slog.Logger) *CheckinHandler {
	base := defaultLogger(logger)
	if maxChunkBytes <= 0 {
		maxChunkBytes = DefaultMaxChunkBytes
	}
	return &CheckinHandler{service: service, responder: newResponder(base), logger: base, maxChunkBytes: maxChunkBytes}
}

func (h *CheckinHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "CheckinHandler", operation, attrs...)
}

func (h *CheckinHandler) Start(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	var req startCheckinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), "Start", "principal_id", principal.OwnerID, "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode check-in request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	logger := h.log(r.Context(), "Start", "principal_id", principal.OwnerID)

	session, err := h.service.Start(r.Context(), application.StartParams{
		Principal:                principal,
		CheckInIntervalSeconds:   req.CheckInIntervalSeconds,
		DeactivationLimitSeconds: req.DeactivationLimitSeconds,
		RecordingEnabled:         req.RecordingEnabled,
	})
	if err != nil {
		logger.ErrorContext(r.Context(), "check-in start failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("session_id", session.ID).InfoContext(r.Context(), "check-in started")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, checkinResponse{Checkin: toCheckinDTO(session)})
}

func (h *CheckinHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	sessions, err := h.service.List(r.Context(), principal)
	if err != nil {
		h.log(r.Context(), "List", "principal_id", principal.OwnerID).ErrorContext(r.Context(), "check-in listing failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	resp := listCheckinsResponse{Checkins: make([]checkinDTO, 0, len(sessions))}
	for _, session := range sessions {
		resp.Checkins = append(resp.Checkins, toCheckinDTO(session))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (h *CheckinHandler) Active(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	session, err := h.service.GetActive(r.Context(), principal)
	if err != nil {
		if !errors.Is(err, application.ErrNotFound) {
			h.log(r.Context(), "Active", "principal_id", principal.OwnerID).ErrorContext(r.Context(), "active check-in lookup failed", "error", err, "error_kind", application.ErrorKind(err))
		}
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, checkinResponse{Checkin: toCheckinDTO(session)})
}

func (h *CheckinHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	sessionID, ok := h.sessionID(w, r, "Get")
	if !ok {
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	session, err := h.service.Get(r.Context(), principal, sessionID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, checkinResponse{Checkin: toCheckinDTO(session)})
}

// MarkSafe completes the session: the owner confirmed they are safe.
func (h *CheckinHandler) MarkSafe(w http.ResponseWriter, r *http.Request) {
	h.finish(w, r, "MarkSafe", func(ctx context.Context, principal application.Principal, sessionID string) (persistence.CheckinSession, error) {
		return h.service.MarkSafe(ctx, principal, sessionID)
	})
}

// Stop archives the session without marking the owner safe.
func (h *CheckinHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.finish(w, r, "Stop", func(ctx context.Context, principal application.Principal, sessionID string) (persistence.CheckinSession, error) {
		return h.service.Stop(ctx, principal, sessionID)
	})
}

func (h *CheckinHandler) finish(w http.ResponseWriter, r *http.Request, operation string, apply func(context.Context, application.Principal, string) (persistence.CheckinSession, error)) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	sessionID, ok := h.sessionID(w, r, operation)
	if !ok {
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	logger := h.log(r.Context(), operation, "principal_id", principal.OwnerID, "session_id", sessionID)

	session, err := apply(r.Context(), principal, sessionID)
	if err != nil {
		logger.ErrorContext(r.Context(), "check-in finish failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "check-in finished", "status", session.Status)
	h.responder.writeJSON(r.Context(), w, http.StatusOK, checkinResponse{Checkin: toCheckinDTO(session)})
}

func (h *CheckinHandler) ReportLocation(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	sessionID, ok := h.sessionID(w, r, "ReportLocation")
	if !ok {
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Latitude == nil || req.Longitude == nil {
		h.log(r.Context(), "ReportLocation", "principal_id", principal.OwnerID, "session_id", sessionID, "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode location report", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	if err := h.service.ReportLocation(r.Context(), principal, sessionID, req.toPosition()); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusAccepted, nil)
}

func (h *CheckinHandler) Locations(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	sessionID, ok := h.sessionID(w, r, "Locations")
	if !ok {
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidLimit)
			return
		}
		limit = parsed
	}

	principal, _ := PrincipalFromContext(r.Context())
	entries, err := h.service.Locations(r.Context(), principal, sessionID, limit)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	resp := listLocationsResponse{Locations: make([]locationDTO, 0, len(entries))}
	for _, entry := range entries {
		resp.Locations = append(resp.Locations, toLocationDTO(entry))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, resp)
}

// AppendRecording streams the raw request body into the session's capture.
func (h *CheckinHandler) AppendRecording(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	sessionID, ok := h.sessionID(w, r, "AppendRecording")
	if !ok {
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	logger := h.log(r.Context(), "AppendRecording", "principal_id", principal.OwnerID, "session_id", sessionID)

	body := http.MaxBytesReader(w, r.Body, h.maxChunkBytes)
	written, err := h.service.AppendRecording(r.Context(), principal, sessionID, body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.WarnContext(r.Context(), "recording chunk too large", "limit", tooLarge.Limit)
			h.responder.writeError(r.Context(), w, http.StatusRequestEntityTooLarge, nil)
			return
		}
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.DebugContext(r.Context(), "recording chunk stored", "bytes", written)
	h.responder.writeJSON(r.Context(), w, http.StatusAccepted, appendRecordingResponse{Bytes: written})
}

func (h *CheckinHandler) Recordings(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	sessionID, ok := h.sessionID(w, r, "Recordings")
	if !ok {
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	recordings, err := h.service.Recordings(r.Context(), principal, sessionID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	resp := listRecordingsResponse{Recordings: make([]recordingDTO, 0, len(recordings))}
	for _, recording := range recordings {
		resp.Recordings = append(resp.Recordings, toRecordingDTO(recording))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (h *CheckinHandler) VerifyRecording(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	recordingID := strings.TrimSpace(r.PathValue("id"))
	if recordingID == "" {
		h.log(r.Context(), "VerifyRecording", "error_kind", "bad_request").ErrorContext(r.Context(), "missing recording id")
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidRecordingID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	result, err := h.service.VerifyRecording(r.Context(), principal, recordingID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	if !result.Intact {
		h.log(r.Context(), "VerifyRecording", "principal_id", principal.OwnerID, "recording_id", recordingID).WarnContext(r.Context(), "recording failed integrity check")
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, verifyRecordingResponse{
		Recording: toRecordingDTO(result.Recording),
		Intact:    result.Intact,
	})
}

func (h *CheckinHandler) sessionID(w http.ResponseWriter, r *http.Request, operation string) (string, bool) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		h.log(r.Context(), operation, "error_kind", "bad_request").ErrorContext(r.Context(), "missing check-in id")
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidCheckinID)
		return "", false
	}
	return id, true
}

type startCheckinRequest struct {
	CheckInIntervalSeconds   int  `json:"check_in_interval_seconds"`
	DeactivationLimitSeconds int  `json:"deactivation_limit_seconds"`
	RecordingEnabled         bool `json:"recording_enabled"`
}

type locationRequest struct {
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
	Accuracy   *float64 `json:"accuracy,omitempty"`
	CapturedAt string   `json:"captured_at,omitempty"`
}

func (r locationRequest) toPosition() location.Position {
	position := location.Position{Accuracy: r.Accuracy}
	if r.Latitude != nil {
		position.Latitude = *r.Latitude
	}
	if r.Longitude != nil {
		position.Longitude = *r.Longitude
	}
	if ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(r.CapturedAt)); err == nil {
		position.CapturedAt = ts.UTC()
	}
	return position
}

type checkinDTO struct {
	ID                       string  `json:"id"`
	Status                   string  `json:"status"`
	CheckInIntervalSeconds   int     `json:"check_in_interval_seconds"`
	DeactivationLimitSeconds int     `json:"deactivation_limit_seconds"`
	RecordingEnabled         bool    `json:"recording_enabled"`
	MissedCheckins           int     `json:"missed_checkins"`
	AlertedLevel             string  `json:"alerted_level,omitempty"`
	CreatedAt                string  `json:"created_at"`
	LastUpdateAt             string  `json:"last_update_at"`
	EscalatedAt              *string `json:"escalated_at,omitempty"`
	CriticalAt               *string `json:"critical_at,omitempty"`
	MarkedSafeAt             *string `json:"marked_safe_at,omitempty"`
	ArchivedAt               *string `json:"archived_at,omitempty"`
	ArchiveReason            string  `json:"archive_reason,omitempty"`
}

type checkinResponse struct {
	Checkin checkinDTO `json:"checkin"`
}

type listCheckinsResponse struct {
	Checkins []checkinDTO `json:"checkins"`
}

func toCheckinDTO(session persistence.CheckinSession) checkinDTO {
	return checkinDTO{
		ID:                       session.ID,
		Status:                   string(session.Status),
		CheckInIntervalSeconds:   session.CheckInIntervalSeconds,
		DeactivationLimitSeconds: session.DeactivationLimitSeconds,
		RecordingEnabled:         session.RecordingEnabled,
		MissedCheckins:           session.MissedCheckins,
		AlertedLevel:             string(session.AlertedLevel),
		CreatedAt:                formatTime(session.CreatedAt),
		LastUpdateAt:             formatTime(session.LastUpdateAt),
		EscalatedAt:              formatOptionalTime(session.EscalatedAt),
		CriticalAt:               formatOptionalTime(session.CriticalAt),
		MarkedSafeAt:             formatOptionalTime(session.MarkedSafeAt),
		ArchivedAt:               formatOptionalTime(session.ArchivedAt),
		ArchiveReason:            string(session.ArchiveReason),
	}
}

type locationDTO struct {
	ID         string   `json:"id"`
	Latitude   float64  `json:"latitude"`
	Longitude  float64  `json:"longitude"`
	Accuracy   *float64 `json:"accuracy,omitempty"`
	CapturedAt string   `json:"captured_at"`
}

type listLocationsResponse struct {
	Locations []locationDTO `json:"locations"`
}

func toLocationDTO(entry persistence.LocationLogEntry) locationDTO {
	return locationDTO{
		ID:         entry.ID,
		Latitude:   entry.Latitude,
		Longitude:  entry.Longitude,
		Accuracy:   entry.Accuracy,
		CapturedAt: formatTime(entry.CapturedAt),
	}
}

type recordingDTO struct {
	ID         string   `json:"id"`
	SessionID  string   `json:"session_id"`
	Kind       string   `json:"kind"`
	MimeType   string   `json:"mime_type"`
	SizeBytes  int64    `json:"size_bytes"`
	SHA256     string   `json:"sha256"`
	Encrypted  bool     `json:"encrypted"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
	StartedAt  string   `json:"started_at"`
	FinishedAt string   `json:"finished_at"`
}

type listRecordingsResponse struct {
	Recordings []recordingDTO `json:"recordings"`
}

type appendRecordingResponse struct {
	Bytes int64 `json:"bytes"`
}

type verifyRecordingResponse struct {
	Recording recordingDTO `json:"recording"`
	Intact    bool         `json:"intact"`
}

func toRecordingDTO(recording persistence.Recording) recordingDTO {
	return recordingDTO{
		ID:         recording.ID,
		SessionID:  recording.SessionID,
		Kind:       recording.Kind,
		MimeType:   recording.MimeType,
		SizeBytes:  recording.SizeBytes,
		SHA256:     recording.SHA256,
		Encrypted:  recording.Encrypted,
		Latitude:   recording.Latitude,
		Longitude:  recording.Longitude,
		StartedAt:  formatTime(recording.StartedAt),
		FinishedAt: formatTime(recording.FinishedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	formatted := formatTime(*t)
	return &formatted
}
