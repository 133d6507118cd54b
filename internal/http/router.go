package http

import (
	"net/http"
)

type RouterConfig struct {
	Checkins *CheckinHandler
	Contacts *ContactHandler
	Realtime *RealtimeHandler
	Health   http.Handler
	// Auth wraps every route except /healthz.
	Auth       func(http.Handler) http.Handler
	Middleware []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	protect := func(h http.HandlerFunc) http.Handler {
		if cfg.Auth == nil {
			return h
		}
		return cfg.Auth(h)
	}

	if cfg.Checkins != nil {
		mux.Handle("POST /checkins", protect(cfg.Checkins.Start))
		mux.Handle("GET /checkins", protect(cfg.Checkins.List))
		mux.Handle("GET /checkins/active", protect(cfg.Checkins.Active))
		mux.Handle("GET /checkins/{id}", protect(cfg.Checkins.Get))
		mux.Handle("POST /checkins/{id}/safe", protect(cfg.Checkins.MarkSafe))
		mux.Handle("POST /checkins/{id}/stop", protect(cfg.Checkins.Stop))
		mux.Handle("POST /checkins/{id}/location", protect(cfg.Checkins.ReportLocation))
		mux.Handle("GET /checkins/{id}/locations", protect(cfg.Checkins.Locations))
		mux.Handle("POST /checkins/{id}/recording", protect(cfg.Checkins.AppendRecording))
		mux.Handle("GET /checkins/{id}/recordings", protect(cfg.Checkins.Recordings))
		mux.Handle("GET /recordings/{id}/verify", protect(cfg.Checkins.VerifyRecording))
	}

	if cfg.Contacts != nil {
		mux.Handle("GET /contacts", protect(cfg.Contacts.List))
		mux.Handle("POST /contacts", protect(cfg.Contacts.Create))
		mux.Handle("DELETE /contacts/{id}", protect(cfg.Contacts.Delete))
	}

	if cfg.Realtime != nil {
		mux.Handle("GET /ws", protect(cfg.Realtime.Connect))
	}

	if cfg.Health != nil {
		mux.Handle("GET /healthz", cfg.Health)
	}

	var handler http.Handler = mux
	if len(cfg.Middleware) > 0 {
		for i := len(cfg.Middleware) - 1; i >= 0; i-- {
			if cfg.Middleware[i] != nil {
				handler = cfg.Middleware[i](handler)
			}
		}
	}

	return handler
}
