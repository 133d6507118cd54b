// Package evidence captures media recorded during a check-in session and
// stores it as tamper-evident blobs.
package evidence

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/example/safety-checkin/internal/persistence"
	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	// ErrCaptureActive is returned when a session already has an open capture.
	ErrCaptureActive = errors.New("evidence: capture already active")
	// ErrNoCapture is returned when a session has no open capture.
	ErrNoCapture = errors.New("evidence: no active capture")
	// ErrTooLarge is returned when a capture would exceed the size limit.
	ErrTooLarge = errors.New("evidence: capture exceeds size limit")
	// ErrTampered is returned when a stored blob cannot be authenticated.
	ErrTampered = errors.New("evidence: blob failed authentication")
)

const (
	DefaultKind     = "audio"
	DefaultMimeType = "audio/webm"
	fileLayout      = "20060102T150405.000000000Z"
	incomingDir     = ".incoming"
)

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// Options configures a Vault.
type Options struct {
	Dir string
	// Key enables XChaCha20-Poly1305 sealing when set; it must be 32 bytes.
	Key      []byte
	MaxBytes int64
	Store    persistence.RecordingRepository

	IDGenerator func() string
	Now         func() time.Time
	Logger      *slog.Logger
}

// Capture identifies the recording being opened.
type Capture struct {
	SessionID string
	OwnerID   string
	Kind      string
	MimeType  string
}

// Coordinates is the last known position attached to a recording.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// Vault stores session recordings on the local filesystem.
type Vault struct {
	dir      string
	aead     aeadCipher
	maxBytes int64
	store    persistence.RecordingRepository
	idGen    func() string
	now      func() time.Time
	logger   *slog.Logger

	mu       sync.Mutex
	captures map[string]*capture
}

type aeadCipher interface {
	NonceSize() int
	Overhead() int
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

type capture struct {
	mu        sync.Mutex
	meta      Capture
	file      *os.File
	size      int64
	startedAt time.Time
}

// New constructs a Vault and creates its directories.
func New(opts Options) (*Vault, error) {
	if opts.Dir == "" {
		return nil, errors.New("evidence: directory is required")
	}
	if opts.Store == nil {
		return nil, errors.New("evidence: recording store is required")
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 100 << 20
	}
	if opts.IDGenerator == nil {
		opts.IDGenerator = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	vault := &Vault{
		dir:      opts.Dir,
		maxBytes: opts.MaxBytes,
		store:    opts.Store,
		idGen:    opts.IDGenerator,
		now:      opts.Now,
		logger:   opts.Logger.With("component", "evidence.Vault"),
		captures: make(map[string]*capture),
	}
	if len(opts.Key) > 0 {
		aead, err := chacha20poly1305.NewX(opts.Key)
		if err != nil {
			return nil, fmt.Errorf("evidence: init cipher: %w", err)
		}
		vault.aead = aead
	}
	if err := os.MkdirAll(filepath.Join(opts.Dir, incomingDir), 0o700); err != nil {
		return nil, fmt.Errorf("evidence: create directory: %w", err)
	}
	return vault, nil
}

// Begin opens a capture for the session.
func (v *Vault) Begin(ctx context.Context, req Capture) error {
	if req.SessionID == "" || req.OwnerID == "" {
		return errors.New("evidence: session and owner are required")
	}
	if req.Kind == "" {
		req.Kind = DefaultKind
	}
	if req.MimeType == "" {
		req.MimeType = DefaultMimeType
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.captures[req.SessionID]; ok {
		return ErrCaptureActive
	}

	file, err := os.CreateTemp(filepath.Join(v.dir, incomingDir), safeName(req.SessionID)+"-*.part")
	if err != nil {
		return fmt.Errorf("evidence: open capture: %w", err)
	}
	v.captures[req.SessionID] = &capture{meta: req, file: file, startedAt: v.now().UTC()}
	v.logger.InfoContext(ctx, "capture started", "session_id", req.SessionID)
	return nil
}

// Active reports whether the session has an open capture.
func (v *Vault) Active(sessionID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.captures[sessionID]
	return ok
}

// Append writes a chunk to the session's capture and returns the bytes
// accepted. A chunk that would cross the size limit is rejected whole.
func (v *Vault) Append(ctx context.Context, sessionID string, chunk io.Reader) (int64, error) {
	v.mu.Lock()
	c, ok := v.captures[sessionID]
	v.mu.Unlock()
	if !ok {
		return 0, ErrNoCapture
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file == nil {
		return 0, ErrNoCapture
	}

	remaining := v.maxBytes - c.size
	written, err := io.Copy(c.file, io.LimitReader(chunk, remaining+1))
	if err == nil && written > remaining {
		err = ErrTooLarge
	}
	if err != nil {
		if truncErr := c.file.Truncate(c.size); truncErr != nil {
			return 0, errors.Join(err, truncErr)
		}
		if _, seekErr := c.file.Seek(c.size, io.SeekStart); seekErr != nil {
			return 0, errors.Join(err, seekErr)
		}
		return 0, err
	}
	c.size += written
	return written, nil
}

// Finish closes the session's capture, seals the blob and persists its
// metadata. An empty capture is discarded and returns nil. When sealing or
// persisting fails the capture stays attached to the session, so Finish can
// be called again; Abort discards it.
func (v *Vault) Finish(ctx context.Context, sessionID string, last *Coordinates) (*persistence.Recording, error) {
	c, err := v.detach(sessionID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	stored := false
	defer func() {
		if stored || c.size == 0 {
			v.discard(c)
			return
		}
		v.reattach(sessionID, c)
	}()

	if c.size == 0 {
		v.logger.InfoContext(ctx, "empty capture discarded", "session_id", sessionID)
		return nil, nil
	}

	if _, err := c.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("evidence: rewind capture: %w", err)
	}
	plaintext, err := io.ReadAll(c.file)
	if err != nil {
		return nil, fmt.Errorf("evidence: read capture: %w", err)
	}

	finishedAt := v.now().UTC()
	relPath := filepath.ToSlash(filepath.Join(safeName(c.meta.OwnerID), finishedAt.Format(fileLayout)+".webm"))
	digest := sha256.Sum256(plaintext)

	blob := plaintext
	if v.aead != nil {
		blob, err = v.seal(plaintext, relPath)
		if err != nil {
			return nil, err
		}
	}

	absPath := filepath.Join(v.dir, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(absPath), 0o700); err != nil {
		return nil, fmt.Errorf("evidence: create owner directory: %w", err)
	}
	if err := writeExclusive(absPath, blob); err != nil {
		return nil, err
	}

	recording := persistence.Recording{
		ID:         v.idGen(),
		SessionID:  c.meta.SessionID,
		OwnerID:    c.meta.OwnerID,
		Path:       relPath,
		Kind:       c.meta.Kind,
		MimeType:   c.meta.MimeType,
		SizeBytes:  c.size,
		SHA256:     hex.EncodeToString(digest[:]),
		Encrypted:  v.aead != nil,
		StartedAt:  c.startedAt,
		FinishedAt: finishedAt,
		CreatedAt:  finishedAt,
	}
	if last != nil {
		lat, lng := last.Latitude, last.Longitude
		recording.Latitude = &lat
		recording.Longitude = &lng
	}

	if err := v.store.CreateRecording(ctx, recording); err != nil {
		_ = os.Remove(absPath)
		return nil, fmt.Errorf("evidence: persist recording: %w", err)
	}

	stored = true
	v.logger.InfoContext(ctx, "capture stored",
		"session_id", sessionID,
		"recording_id", recording.ID,
		"size_bytes", recording.SizeBytes,
		"encrypted", recording.Encrypted,
	)
	return &recording, nil
}

// Abort discards the session's capture, if any.
func (v *Vault) Abort(sessionID string) {
	c, err := v.detach(sessionID)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v.discard(c)
}

// Close aborts every open capture.
func (v *Vault) Close() error {
	for _, id := range v.Pending() {
		v.Abort(id)
	}
	return nil
}

// Open returns the plaintext of a stored recording.
func (v *Vault) Open(ctx context.Context, recordingID string) (persistence.Recording, []byte, error) {
	recording, err := v.store.GetRecording(ctx, recordingID)
	if err != nil {
		return persistence.Recording{}, nil, err
	}
	blob, err := os.ReadFile(filepath.Join(v.dir, filepath.FromSlash(recording.Path)))
	if err != nil {
		return persistence.Recording{}, nil, fmt.Errorf("evidence: read blob: %w", err)
	}
	if !recording.Encrypted {
		return recording, blob, nil
	}
	if v.aead == nil {
		return persistence.Recording{}, nil, errors.New("evidence: recording is encrypted but no key is configured")
	}
	plaintext, err := v.open(blob, recording.Path)
	if err != nil {
		return persistence.Recording{}, nil, err
	}
	return recording, plaintext, nil
}

// Verify recomputes the digest of a stored recording and compares it with the
// persisted one.
func (v *Vault) Verify(ctx context.Context, recordingID string) (persistence.Recording, bool, error) {
	recording, plaintext, err := v.Open(ctx, recordingID)
	if errors.Is(err, ErrTampered) {
		stored, getErr := v.store.GetRecording(ctx, recordingID)
		if getErr != nil {
			return persistence.Recording{}, false, getErr
		}
		return stored, false, nil
	}
	if err != nil {
		return persistence.Recording{}, false, err
	}
	digest := sha256.Sum256(plaintext)
	return recording, hex.EncodeToString(digest[:]) == recording.SHA256, nil
}

func (v *Vault) seal(plaintext []byte, path string) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize(), v.aead.NonceSize()+len(plaintext)+v.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("evidence: generate nonce: %w", err)
	}
	return v.aead.Seal(nonce, nonce, plaintext, []byte(path)), nil
}

func (v *Vault) open(blob []byte, path string) ([]byte, error) {
	if len(blob) < v.aead.NonceSize() {
		return nil, ErrTampered
	}
	nonce, ciphertext := blob[:v.aead.NonceSize()], blob[v.aead.NonceSize():]
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, []byte(path))
	if err != nil {
		return nil, ErrTampered
	}
	return plaintext, nil
}

func (v *Vault) detach(sessionID string) (*capture, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	c, ok := v.captures[sessionID]
	if !ok {
		return nil, ErrNoCapture
	}
	delete(v.captures, sessionID)
	return c, nil
}

// reattach puts a capture whose release failed back in place. A capture begun
// for the session in the meantime wins and c is discarded. c.mu must be held.
func (v *Vault) reattach(sessionID string, c *capture) {
	v.mu.Lock()
	_, taken := v.captures[sessionID]
	if !taken {
		v.captures[sessionID] = c
	}
	v.mu.Unlock()
	if taken {
		v.discard(c)
		return
	}
	v.logger.Warn("capture kept for retry", "session_id", sessionID, "size_bytes", c.size)
}

// Pending lists the sessions that still hold a capture.
func (v *Vault) Pending() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	ids := make([]string, 0, len(v.captures))
	for id := range v.captures {
		ids = append(ids, id)
	}
	return ids
}

// discard closes and removes the temporary file; c.mu must be held.
func (v *Vault) discard(c *capture) {
	if c.file == nil {
		return
	}
	name := c.file.Name()
	_ = c.file.Close()
	if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		v.logger.Warn("remove capture file", "path", name, "error", err)
	}
	c.file = nil
}

func writeExclusive(path string, data []byte) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("evidence: create blob: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return fmt.Errorf("evidence: write blob: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("evidence: close blob: %w", err)
	}
	return nil
}

func safeName(value string) string {
	return unsafePathChars.ReplaceAllString(value, "_")
}
