package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/goliatone/go-webhooks/core"
)

type Encoding string

const (
	EncodingHex    Encoding = "hex"
	EncodingBase64 Encoding = "base64"
)

// Scheme describes where a provider puts its signature and how the digest is
// encoded.
type Scheme struct {
	Name     string
	Header   string
	Prefix   string
	Encoding Encoding
}

// Verify checks env against secret. An empty secret is a pass-through that
// reports Unsigned; registration is where unsigned contracts get flagged.
func (s Scheme) Verify(env core.Envelope, secret string) core.Verification {
	if secret == "" {
		return core.Verification{Valid: true, Unsigned: true, Reason: "no secret configured"}
	}
	header := env.Header(s.Header)
	if header == "" {
		return invalid(core.KindSignatureMissing, "%s header is required", s.Header)
	}
	value := header
	if prefix := strings.TrimSpace(s.Prefix); prefix != "" {
		if !strings.HasPrefix(value, prefix) {
			return invalid(core.KindSignatureInvalid, "%s header must start with %q", s.Header, prefix)
		}
		value = strings.TrimPrefix(value, prefix)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return invalid(core.KindSignatureInvalid, "%s header carries no signature", s.Header)
	}

	provided, err := s.decode(value)
	if err != nil {
		return invalid(core.KindSignatureInvalid, "malformed %s signature: %v", s.encoding(), err)
	}
	expected := Sign(env.RawBody(), secret)
	if subtle.ConstantTimeCompare(provided, expected) != 1 {
		return invalid(core.KindSignatureInvalid, "signature mismatch")
	}
	return core.Verification{Valid: true}
}

// HeaderValue renders the header value a sender would attach for body.
func (s Scheme) HeaderValue(body []byte, secret string) string {
	digest := Sign(body, secret)
	var encoded string
	if s.encoding() == EncodingBase64 {
		encoded = base64.StdEncoding.EncodeToString(digest)
	} else {
		encoded = hex.EncodeToString(digest)
	}
	return s.Prefix + encoded
}

func (s Scheme) decode(value string) ([]byte, error) {
	if s.encoding() == EncodingBase64 {
		return base64.StdEncoding.DecodeString(value)
	}
	return hex.DecodeString(strings.ToLower(value))
}

func (s Scheme) encoding() Encoding {
	if strings.EqualFold(string(s.Encoding), string(EncodingBase64)) {
		return EncodingBase64
	}
	return EncodingHex
}

// Sign computes HMAC-SHA256 of body keyed by secret.
func Sign(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}

func invalid(kind core.ErrorKind, format string, args ...any) core.Verification {
	return core.Verification{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

var _ core.SignatureVerifier = Scheme{}
