package http_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/safety-checkin/internal/auth"
	apihttp "github.com/example/safety-checkin/internal/http"
	"github.com/example/safety-checkin/internal/testfixtures"
)

var routerSecret = []byte("router-secret-router-secret-0123")

type apiClient struct {
	t      *testing.T
	server *httptest.Server
}

func newAPI(t *testing.T) (*apiClient, *testfixtures.CheckinHarness) {
	t.Helper()

	factory := testfixtures.NewServiceFactory(testfixtures.WithClock(testfixtures.NewClock(testfixtures.ReferenceTime())))
	harness := factory.NewCheckinHarness(t, testfixtures.HarnessOptions{})

	verifier, err := auth.NewVerifier(auth.Config{Secret: routerSecret, Now: harness.Clock.NowFunc()})
	require.NoError(t, err)

	logger := slog.New(slog.DiscardHandler)
	router := apihttp.NewRouter(apihttp.RouterConfig{
		Checkins:   apihttp.NewCheckinHandler(harness.Checkins, logger),
		Contacts:   apihttp.NewContactHandler(harness.Contacts, logger),
		Health:     apihttp.NewHealthHandler(nil, logger),
		Auth:       apihttp.RequireOwner(verifier, logger),
		Middleware: []func(http.Handler) http.Handler{apihttp.RequestLogger(logger)},
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &apiClient{t: t, server: server}, harness
}

func (c *apiClient) token(owner string) string {
	c.t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   owner,
		ExpiresAt: jwt.NewNumericDate(testfixtures.ReferenceTime().Add(time.Hour)),
	}).SignedString(routerSecret)
	require.NoError(c.t, err)
	return token
}

func (c *apiClient) do(owner, method, path string, body io.Reader, out any) int {
	c.t.Helper()
	req, err := http.NewRequest(method, c.server.URL+path, body)
	require.NoError(c.t, err)
	if owner != "" {
		req.Header.Set("Authorization", "Bearer "+c.token(owner))
	}
	resp, err := c.server.Client().Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		require.NoError(c.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

type checkinPayload struct {
	Checkin struct {
		ID            string  `json:"id"`
		Status        string  `json:"status"`
		ArchiveReason string  `json:"archive_reason"`
		MarkedSafeAt  *string `json:"marked_safe_at"`
	} `json:"checkin"`
}

func TestRouterCheckinLifecycle(t *testing.T) {
	api, _ := newAPI(t)

	assert.Equal(t, http.StatusUnauthorized, api.do("", http.MethodGet, "/checkins", nil, nil))
	assert.Equal(t, http.StatusOK, api.do("", http.MethodGet, "/healthz", nil, nil))

	var contact struct {
		Contact struct {
			ID    string `json:"id"`
			Phone string `json:"phone"`
		} `json:"contact"`
	}
	status := api.do("owner-1", http.MethodPost, "/contacts", jsonBody(t, map[string]string{
		"name":  "Hanako",
		"phone": "+81 90-1234-5678",
	}), &contact)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "+819012345678", contact.Contact.Phone)

	var started checkinPayload
	status = api.do("owner-1", http.MethodPost, "/checkins", jsonBody(t, map[string]any{
		"check_in_interval_seconds":  600,
		"deactivation_limit_seconds": 3600,
	}), &started)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "active", started.Checkin.Status)

	assert.Equal(t, http.StatusConflict, api.do("owner-1", http.MethodPost, "/checkins", jsonBody(t, map[string]any{
		"check_in_interval_seconds": 600,
	}), nil))

	var active checkinPayload
	require.Equal(t, http.StatusOK, api.do("owner-1", http.MethodGet, "/checkins/active", nil, &active))
	assert.Equal(t, started.Checkin.ID, active.Checkin.ID)

	assert.Equal(t, http.StatusForbidden, api.do("owner-2", http.MethodPost, "/checkins/"+started.Checkin.ID+"/safe", nil, nil))

	var safe checkinPayload
	require.Equal(t, http.StatusOK, api.do("owner-1", http.MethodPost, "/checkins/"+started.Checkin.ID+"/safe", nil, &safe))
	assert.Equal(t, "completed", safe.Checkin.Status)
	assert.NotNil(t, safe.Checkin.MarkedSafeAt)

	assert.Equal(t, http.StatusConflict, api.do("owner-1", http.MethodPost, "/checkins/"+started.Checkin.ID+"/stop", nil, nil))
	assert.Equal(t, http.StatusNotFound, api.do("owner-1", http.MethodGet, "/checkins/active", nil, nil))
}

func TestRouterRecordingRoundTrip(t *testing.T) {
	api, _ := newAPI(t)

	var started checkinPayload
	require.Equal(t, http.StatusCreated, api.do("owner-1", http.MethodPost, "/checkins", jsonBody(t, map[string]any{
		"check_in_interval_seconds": 300,
		"recording_enabled":         true,
	}), &started))
	id := started.Checkin.ID

	require.Equal(t, http.StatusAccepted, api.do("owner-1", http.MethodPost, "/checkins/"+id+"/recording", strings.NewReader("first-chunk"), nil))
	require.Equal(t, http.StatusAccepted, api.do("owner-1", http.MethodPost, "/checkins/"+id+"/recording", strings.NewReader("second-chunk"), nil))

	var stopped checkinPayload
	require.Equal(t, http.StatusOK, api.do("owner-1", http.MethodPost, "/checkins/"+id+"/stop", nil, &stopped))
	assert.Equal(t, "archived", stopped.Checkin.Status)
	assert.Equal(t, "stopped", stopped.Checkin.ArchiveReason)

	var listed struct {
		Recordings []struct {
			ID        string `json:"id"`
			SizeBytes int64  `json:"size_bytes"`
			Encrypted bool   `json:"encrypted"`
		} `json:"recordings"`
	}
	require.Equal(t, http.StatusOK, api.do("owner-1", http.MethodGet, "/checkins/"+id+"/recordings", nil, &listed))
	require.Len(t, listed.Recordings, 1)
	assert.EqualValues(t, len("first-chunksecond-chunk"), listed.Recordings[0].SizeBytes)
	assert.True(t, listed.Recordings[0].Encrypted)

	var verified struct {
		Intact bool `json:"intact"`
	}
	require.Equal(t, http.StatusOK, api.do("owner-1", http.MethodGet, "/recordings/"+listed.Recordings[0].ID+"/verify", nil, &verified))
	assert.True(t, verified.Intact)

	assert.Equal(t, http.StatusForbidden, api.do("owner-2", http.MethodGet, "/recordings/"+listed.Recordings[0].ID+"/verify", nil, nil))
	assert.Equal(t, http.StatusConflict, api.do("owner-1", http.MethodPost, "/checkins/"+id+"/recording", strings.NewReader("late"), nil))
}
