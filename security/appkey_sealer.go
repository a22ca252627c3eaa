package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"strings"
	"time"
)

type SealerOption func(*AppKeySealer)

// KeyRotationWindow bounds when a key version may seal. Zero bounds are open.
type KeyRotationWindow struct {
	NotBefore time.Time
	NotAfter  time.Time
}

func (w KeyRotationWindow) Active(at time.Time) bool {
	at = at.UTC()
	return (w.NotBefore.IsZero() || !at.Before(w.NotBefore.UTC())) &&
		(w.NotAfter.IsZero() || !at.After(w.NotAfter.UTC()))
}

// AppKeySealer seals secrets at rest with AES-GCM under an application key.
type AppKeySealer struct {
	key     []byte
	keyID   string
	version int
	window  KeyRotationWindow
	now     func() time.Time
}

func WithKeyID(id string) SealerOption {
	return func(s *AppKeySealer) {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			s.keyID = trimmed
		}
	}
}

func WithVersion(version int) SealerOption {
	return func(s *AppKeySealer) {
		if version > 0 {
			s.version = version
		}
	}
}

// WithRotationWindow limits when this key version may seal new secrets.
// Opening is always allowed so rotated secrets stay readable.
func WithRotationWindow(window KeyRotationWindow) SealerOption {
	return func(s *AppKeySealer) {
		s.window = window
	}
}

func WithSealerClock(now func() time.Time) SealerOption {
	return func(s *AppKeySealer) {
		if now != nil {
			s.now = now
		}
	}
}

func NewAppKeySealer(keyMaterial []byte, opts ...SealerOption) (*AppKeySealer, error) {
	key := bytes.TrimSpace(keyMaterial)
	if len(key) == 0 {
		return nil, fmt.Errorf("security: key material is required")
	}
	sealer := &AppKeySealer{
		key:     normalizeKey(key),
		keyID:   "app-key",
		version: 1,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(sealer)
		}
	}
	return sealer, nil
}

func (s *AppKeySealer) Seal(plaintext string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("security: sealer is nil")
	}
	if plaintext == "" {
		return "", fmt.Errorf("security: plaintext is required")
	}
	if !s.window.Active(s.now()) {
		return "", fmt.Errorf("security: key %s v%d is outside its rotation window", s.keyID, s.version)
	}
	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("security: nonce generation failed: %w", err)
	}
	sealed, err := encodeEnvelope(envelope{
		KeyID:      s.keyID,
		Version:    s.version,
		Algorithm:  envelopeAlgorithm,
		Nonce:      encodePayload(nonce),
		Ciphertext: encodePayload(gcm.Seal(nil, nonce, []byte(plaintext), []byte(s.keyID))),
	})
	if err != nil {
		return "", err
	}
	return string(sealed), nil
}

func (s *AppKeySealer) Open(sealed string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("security: sealer is nil")
	}
	env, err := decodeEnvelope([]byte(sealed))
	if err != nil {
		return "", err
	}
	if env.Algorithm != "" && env.Algorithm != envelopeAlgorithm {
		return "", fmt.Errorf("security: unsupported algorithm %q", env.Algorithm)
	}
	if env.KeyID != "" && env.KeyID != s.keyID {
		return "", fmt.Errorf("security: key id mismatch: got %q want %q", env.KeyID, s.keyID)
	}
	if env.Version > 0 && env.Version != s.version {
		return "", fmt.Errorf("security: key version mismatch: got %d want %d", env.Version, s.version)
	}
	nonce, err := decodePayload(env.Nonce, "nonce")
	if err != nil {
		return "", err
	}
	payload, err := decodePayload(env.Ciphertext, "ciphertext")
	if err != nil {
		return "", err
	}
	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("security: invalid nonce size %d", len(nonce))
	}
	plaintext, err := gcm.Open(nil, nonce, payload, []byte(s.keyID))
	if err != nil {
		return "", fmt.Errorf("security: open sealed secret: %w", err)
	}
	return string(plaintext), nil
}

func (s *AppKeySealer) KeyID() string {
	if s == nil {
		return ""
	}
	return s.keyID
}

func (s *AppKeySealer) Version() int {
	if s == nil {
		return 0
	}
	return s.version
}

func (s *AppKeySealer) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}
	return gcm, nil
}

func normalizeKey(value []byte) []byte {
	if len(value) == 16 || len(value) == 24 || len(value) == 32 {
		key := make([]byte, len(value))
		copy(key, value)
		return key
	}
	sum := sha256.Sum256(value)
	return sum[:]
}
