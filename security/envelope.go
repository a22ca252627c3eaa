package security

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	envelopePrefix    = "webhooks.secret.v1:"
	envelopeAlgorithm = "aes-256-gcm"
)

type envelope struct {
	KeyID      string `json:"kid"`
	Version    int    `json:"ver"`
	Algorithm  string `json:"alg"`
	Nonce      string `json:"nonce,omitempty"`
	Ciphertext string `json:"ciphertext"`
}

type EnvelopeMetadata struct {
	KeyID     string
	Version   int
	Algorithm string
}

// IsSealed reports whether value carries the sealed secret prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), envelopePrefix)
}

func ParseEnvelopeMetadata(sealed []byte) (EnvelopeMetadata, error) {
	env, err := decodeEnvelope(sealed)
	if err != nil {
		return EnvelopeMetadata{}, err
	}
	return EnvelopeMetadata{KeyID: env.KeyID, Version: env.Version, Algorithm: env.Algorithm}, nil
}

func encodeEnvelope(env envelope) ([]byte, error) {
	data, err := json.Marshal(normalizeEnvelope(env))
	if err != nil {
		return nil, fmt.Errorf("security: encode envelope: %w", err)
	}
	return append([]byte(envelopePrefix), data...), nil
}

func decodeEnvelope(sealed []byte) (envelope, error) {
	payload := strings.TrimSpace(string(sealed))
	if payload == "" {
		return envelope{}, fmt.Errorf("security: sealed secret is required")
	}
	if !strings.HasPrefix(payload, envelopePrefix) {
		return envelope{}, fmt.Errorf("security: invalid sealed secret prefix")
	}
	parsed := envelope{}
	if err := json.Unmarshal([]byte(strings.TrimPrefix(payload, envelopePrefix)), &parsed); err != nil {
		return envelope{}, fmt.Errorf("security: decode envelope: %w", err)
	}
	parsed = normalizeEnvelope(parsed)
	if parsed.Ciphertext == "" {
		return envelope{}, fmt.Errorf("security: envelope ciphertext is required")
	}
	return parsed, nil
}

func normalizeEnvelope(in envelope) envelope {
	in.KeyID = strings.TrimSpace(in.KeyID)
	in.Algorithm = strings.ToLower(strings.TrimSpace(in.Algorithm))
	return in
}

func encodePayload(value []byte) string {
	return base64.StdEncoding.EncodeToString(value)
}

func decodePayload(value string, field string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("security: decode %s: %w", field, err)
	}
	return decoded, nil
}
