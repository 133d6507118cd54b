package evidence

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/example/safety-checkin/internal/checkin"
	"github.com/example/safety-checkin/internal/persistence"
	"github.com/example/safety-checkin/internal/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var vaultTestKey = bytes.Repeat([]byte{0x42}, 32)

func newTestVault(t *testing.T, key []byte, maxBytes int64) (*Vault, string) {
	t.Helper()
	store := memory.New()
	return openTestVault(t, key, maxBytes, store, seedSession(t, store))
}

func seedSession(t *testing.T, store *memory.Store) time.Time {
	t.Helper()
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateSession(context.Background(), persistence.CheckinSession{
		ID:                       "session-1",
		OwnerID:                  "owner-1",
		Status:                   checkin.StatusActive,
		CheckInIntervalSeconds:   600,
		DeactivationLimitSeconds: 14400,
		CreatedAt:                start,
		LastUpdateAt:             start,
	}))
	return start
}

func openTestVault(t *testing.T, key []byte, maxBytes int64, store persistence.RecordingRepository, start time.Time) (*Vault, string) {
	t.Helper()

	dir := t.TempDir()
	seq := 0
	vault, err := New(Options{
		Dir:      dir,
		Key:      key,
		MaxBytes: maxBytes,
		Store:    store,
		IDGenerator: func() string {
			seq++
			return "rec-" + string(rune('0'+seq))
		},
		Now: func() time.Time { return start.Add(5 * time.Minute) },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = vault.Close() })
	return vault, dir
}

func TestVaultSealsAndVerifies(t *testing.T) {
	ctx := context.Background()
	vault, dir := newTestVault(t, vaultTestKey, 0)

	require.NoError(t, vault.Begin(ctx, Capture{SessionID: "session-1", OwnerID: "owner-1"}))
	assert.True(t, vault.Active("session-1"))
	assert.ErrorIs(t, vault.Begin(ctx, Capture{SessionID: "session-1", OwnerID: "owner-1"}), ErrCaptureActive)

	_, err := vault.Append(ctx, "session-1", strings.NewReader("chunk-one;"))
	require.NoError(t, err)
	_, err = vault.Append(ctx, "session-1", strings.NewReader("chunk-two"))
	require.NoError(t, err)

	recording, err := vault.Finish(ctx, "session-1", &Coordinates{Latitude: 35.6812, Longitude: 139.7671})
	require.NoError(t, err)
	require.NotNil(t, recording)
	assert.False(t, vault.Active("session-1"))

	want := sha256.Sum256([]byte("chunk-one;chunk-two"))
	assert.Equal(t, hex.EncodeToString(want[:]), recording.SHA256)
	assert.Equal(t, int64(len("chunk-one;chunk-two")), recording.SizeBytes)
	assert.True(t, recording.Encrypted)
	assert.Equal(t, DefaultKind, recording.Kind)
	assert.Equal(t, DefaultMimeType, recording.MimeType)
	assert.True(t, strings.HasPrefix(recording.Path, "owner-1/"))
	require.NotNil(t, recording.Latitude)
	assert.Equal(t, 35.6812, *recording.Latitude)

	raw, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(recording.Path)))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "chunk-one")

	_, plaintext, err := vault.Open(ctx, recording.ID)
	require.NoError(t, err)
	assert.Equal(t, "chunk-one;chunk-two", string(plaintext))

	_, ok, err := vault.Verify(ctx, recording.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	entries, err := os.ReadDir(filepath.Join(dir, incomingDir))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestVaultDetectsTampering(t *testing.T) {
	ctx := context.Background()
	vault, dir := newTestVault(t, vaultTestKey, 0)

	require.NoError(t, vault.Begin(ctx, Capture{SessionID: "session-1", OwnerID: "owner-1"}))
	_, err := vault.Append(ctx, "session-1", strings.NewReader("evidence"))
	require.NoError(t, err)
	recording, err := vault.Finish(ctx, "session-1", nil)
	require.NoError(t, err)

	path := filepath.Join(dir, filepath.FromSlash(recording.Path))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	_, _, err = vault.Open(ctx, recording.ID)
	assert.ErrorIs(t, err, ErrTampered)

	_, ok, err := vault.Verify(ctx, recording.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVaultPlaintextVerifyDetectsChange(t *testing.T) {
	ctx := context.Background()
	vault, dir := newTestVault(t, nil, 0)

	require.NoError(t, vault.Begin(ctx, Capture{SessionID: "session-1", OwnerID: "owner-1"}))
	_, err := vault.Append(ctx, "session-1", strings.NewReader("evidence"))
	require.NoError(t, err)
	recording, err := vault.Finish(ctx, "session-1", nil)
	require.NoError(t, err)
	assert.False(t, recording.Encrypted)

	require.NoError(t, os.WriteFile(filepath.Join(dir, filepath.FromSlash(recording.Path)), []byte("edited"), 0o600))

	_, ok, err := vault.Verify(ctx, recording.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVaultRejectsOversizedChunk(t *testing.T) {
	ctx := context.Background()
	vault, _ := newTestVault(t, nil, 8)

	require.NoError(t, vault.Begin(ctx, Capture{SessionID: "session-1", OwnerID: "owner-1"}))
	n, err := vault.Append(ctx, "session-1", strings.NewReader("12345"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	_, err = vault.Append(ctx, "session-1", strings.NewReader("6789"))
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = vault.Append(ctx, "session-1", strings.NewReader("678"))
	require.NoError(t, err)

	recording, err := vault.Finish(ctx, "session-1", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(8), recording.SizeBytes)

	_, plaintext, err := vault.Open(ctx, recording.ID)
	require.NoError(t, err)
	assert.Equal(t, "12345678", string(plaintext))
}

func TestVaultEmptyCaptureIsDiscarded(t *testing.T) {
	ctx := context.Background()
	vault, dir := newTestVault(t, nil, 0)

	require.NoError(t, vault.Begin(ctx, Capture{SessionID: "session-1", OwnerID: "owner-1"}))
	recording, err := vault.Finish(ctx, "session-1", nil)
	require.NoError(t, err)
	assert.Nil(t, recording)

	_, err = os.Stat(filepath.Join(dir, "owner-1"))
	assert.True(t, os.IsNotExist(err))
}

func TestVaultAbortAndMissingCapture(t *testing.T) {
	ctx := context.Background()
	vault, dir := newTestVault(t, nil, 0)

	_, err := vault.Append(ctx, "session-1", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrNoCapture)
	_, err = vault.Finish(ctx, "session-1", nil)
	assert.ErrorIs(t, err, ErrNoCapture)

	require.NoError(t, vault.Begin(ctx, Capture{SessionID: "session-1", OwnerID: "owner-1"}))
	_, err = vault.Append(ctx, "session-1", strings.NewReader("partial"))
	require.NoError(t, err)
	vault.Abort("session-1")
	assert.False(t, vault.Active("session-1"))

	entries, err := os.ReadDir(filepath.Join(dir, incomingDir))
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, vault.Begin(ctx, Capture{SessionID: "session-1", OwnerID: "owner-1"}))
}

type flakyRecordings struct {
	*memory.Store
	failures int
}

func (s *flakyRecordings) CreateRecording(ctx context.Context, recording persistence.Recording) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("database is locked")
	}
	return s.Store.CreateRecording(ctx, recording)
}

func TestVaultKeepsCaptureWhenPersistFails(t *testing.T) {
	ctx := context.Background()
	inner := memory.New()
	start := seedSession(t, inner)
	vault, dir := openTestVault(t, vaultTestKey, 0, &flakyRecordings{Store: inner, failures: 1}, start)

	require.NoError(t, vault.Begin(ctx, Capture{SessionID: "session-1", OwnerID: "owner-1"}))
	_, err := vault.Append(ctx, "session-1", strings.NewReader("evidence"))
	require.NoError(t, err)

	_, err = vault.Finish(ctx, "session-1", nil)
	require.Error(t, err)
	assert.True(t, vault.Active("session-1"))
	assert.Equal(t, []string{"session-1"}, vault.Pending())

	blobs, err := os.ReadDir(filepath.Join(dir, "owner-1"))
	require.NoError(t, err)
	assert.Empty(t, blobs)

	recording, err := vault.Finish(ctx, "session-1", nil)
	require.NoError(t, err)
	require.NotNil(t, recording)
	assert.Equal(t, int64(len("evidence")), recording.SizeBytes)
	assert.False(t, vault.Active("session-1"))

	_, plaintext, err := vault.Open(ctx, recording.ID)
	require.NoError(t, err)
	assert.Equal(t, "evidence", string(plaintext))
}

func TestNewRejectsShortKey(t *testing.T) {
	_, err := New(Options{Dir: t.TempDir(), Key: []byte("short"), Store: memory.New()})
	assert.Error(t, err)
}
