// Package http provides HTTP handlers and middleware for the check-in API.
//
// Every route except /healthz requires a bearer token issued by the identity
// backend (header `Authorization: Bearer <jwt>` or the `access_token` query
// parameter for websocket upgrades). The router exposes:
//   - POST /checkins: starts a session. Body: {"check_in_interval_seconds",
//     "deactivation_limit_seconds","recording_enabled"}. Returns 409 when the
//     owner already has an open session.
//   - GET /checkins, GET /checkins/active, GET /checkins/{id}: session reads
//     exchanging the `checkinDTO` payload defined in checkin_handler.go.
//   - POST /checkins/{id}/safe, POST /checkins/{id}/stop: complete or archive
//     an open session. Terminal sessions answer 409.
//   - POST /checkins/{id}/location: device pushed position
//     {"latitude","longitude","accuracy","captured_at"}; 202 Accepted.
//   - GET /checkins/{id}/locations?limit=N: location log, newest first.
//   - POST /checkins/{id}/recording: raw media chunk appended to the open
//     capture. GET /checkins/{id}/recordings lists sealed recordings and
//     GET /recordings/{id}/verify re-hashes one.
//   - GET /contacts, POST /contacts, DELETE /contacts/{id}: emergency contacts
//     exchanging the `contactDTO` payload defined in contact_handler.go.
//   - GET /ws: websocket carrying session events and location requests.
//   - GET /healthz: dependency checks.
//
// Error bodies are {"error_code","message","errors"} with Japanese messages.
package http
