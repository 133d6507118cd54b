package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// OwnerStream upgrades a request to the owner's real-time channel.
type OwnerStream interface {
	ServeOwner(w http.ResponseWriter, r *http.Request, ownerID string)
}

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type RealtimeHandler struct {
	stream    OwnerStream
	responder responder
	logger    *slog.Logger
}

func NewRealtimeHandler(stream OwnerStream, logger *slog.Logger) *RealtimeHandler {
	base := defaultLogger(logger)
	return &RealtimeHandler{stream: stream, responder: newResponder(base), logger: base}
}

// Connect serves GET /ws for the authenticated owner.
func (h *RealtimeHandler) Connect(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.stream == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, ok := PrincipalFromContext(r.Context())
	if !ok || principal.OwnerID == "" {
		h.responder.writeError(r.Context(), w, http.StatusUnauthorized, errMissingToken)
		return
	}
	handlerLogger(r.Context(), h.logger, "RealtimeHandler", "Connect", "principal_id", principal.OwnerID).DebugContext(r.Context(), "websocket upgrade requested")
	h.stream.ServeOwner(w, r, principal.OwnerID)
}

// HealthHandler serves GET /healthz.
type HealthHandler struct {
	checks    map[string]Pinger
	timeout   time.Duration
	responder responder
}

func NewHealthHandler(checks map[string]Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, timeout: 2 * time.Second, responder: newResponder(defaultLogger(logger))}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Checks: map[string]string{}}
	status := http.StatusOK
	if h != nil {
		for name, pinger := range h.checks {
			if pinger == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
			err := pinger.Ping(ctx)
			cancel()
			if err != nil {
				handlerLogger(r.Context(), nil, "HealthHandler", "Check", "dependency", name).WarnContext(r.Context(), "health check failed", "error", err)
				resp.Checks[name] = "unavailable"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
	}
	h.responder.writeJSON(r.Context(), w, status, resp)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
