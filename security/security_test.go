package security

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-webhooks/core"
)

func TestAppKeySealer_RoundTrip(t *testing.T) {
	sealer, err := NewAppKeySealer([]byte("0123456789abcdef0123456789abcdef"), WithKeyID("k1"), WithVersion(2))
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}
	sealed, err := sealer.Seal("whsec_123")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if !IsSealed(sealed) || strings.Contains(sealed, "whsec_123") {
		t.Fatalf("expected opaque sealed envelope, got %q", sealed)
	}
	meta, err := ParseEnvelopeMetadata([]byte(sealed))
	if err != nil {
		t.Fatalf("parse metadata: %v", err)
	}
	if meta.KeyID != "k1" || meta.Version != 2 || meta.Algorithm != "aes-256-gcm" {
		t.Fatalf("unexpected metadata %#v", meta)
	}
	opened, err := sealer.Open(sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if opened != "whsec_123" {
		t.Fatalf("expected round trip, got %q", opened)
	}
}

func TestAppKeySealer_RejectsOtherKey(t *testing.T) {
	first, _ := NewAppKeySealer([]byte("first-key"))
	second, _ := NewAppKeySealer([]byte("second-key"))
	sealed, err := first.Seal("whsec_123")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := second.Open(sealed); err == nil {
		t.Fatalf("expected open with another key to fail")
	}

	rotated, _ := NewAppKeySealer([]byte("first-key"), WithVersion(2))
	if _, err := rotated.Open(sealed); err == nil {
		t.Fatalf("expected version mismatch")
	}
}

func TestAppKeySealer_RotationWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sealer, _ := NewAppKeySealer([]byte("key"),
		WithRotationWindow(KeyRotationWindow{NotAfter: now.Add(-time.Hour)}),
		WithSealerClock(func() time.Time { return now }),
	)
	if _, err := sealer.Seal("whsec"); err == nil {
		t.Fatalf("expected expired key to refuse sealing")
	}
}

func TestStaticSecretResolver_TenantFallback(t *testing.T) {
	resolver := NewStaticSecretResolver()
	resolver.Set("gmail", "", core.SecretPurposeWebhook, "shared")
	resolver.Set("gmail", "t2", core.SecretPurposeWebhook, "tenant")

	secret, ok, _ := resolver.GetSecret(context.Background(), "GMAIL", "t1", core.SecretPurposeWebhook)
	if !ok || secret != "shared" {
		t.Fatalf("expected integration wide secret, got %q %v", secret, ok)
	}
	secret, _, _ = resolver.GetSecret(context.Background(), "gmail", "t2", core.SecretPurposeWebhook)
	if secret != "tenant" {
		t.Fatalf("expected tenant secret, got %q", secret)
	}
	if _, ok, _ := resolver.GetSecret(context.Background(), "gmail", "t1", core.SecretPurposeEndpoint); ok {
		t.Fatalf("expected endpoint purpose to be absent")
	}
}

func TestSealedSecretResolver_OpensSealedValues(t *testing.T) {
	sealer, _ := NewAppKeySealer([]byte("key"))
	sealed, _ := sealer.Seal("whsec")
	source := NewStaticSecretResolver()
	source.Set("github", "", core.SecretPurposeWebhook, sealed)
	source.Set("shopify", "", core.SecretPurposeWebhook, "plain")

	resolver, err := NewSealedSecretResolver(source, sealer)
	if err != nil {
		t.Fatalf("new sealed resolver: %v", err)
	}
	secret, ok, err := resolver.GetSecret(context.Background(), "github", "", core.SecretPurposeWebhook)
	if err != nil || !ok || secret != "whsec" {
		t.Fatalf("expected opened secret, got %q %v %v", secret, ok, err)
	}
	if _, _, err := resolver.GetSecret(context.Background(), "shopify", "", core.SecretPurposeWebhook); err == nil {
		t.Fatalf("expected unsealed secret to be rejected")
	}
	if _, ok, err := resolver.GetSecret(context.Background(), "missing", "", core.SecretPurposeWebhook); ok || err != nil {
		t.Fatalf("expected absent secret, got %v %v", ok, err)
	}
}

type countingResolver struct {
	mu    sync.Mutex
	calls int
	value string
	found bool
	err   error
}

func (r *countingResolver) GetSecret(context.Context, string, string, core.SecretPurpose) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.value, r.found, r.err
}

func TestCachedSecretResolver_MissFetchThenHit(t *testing.T) {
	cacheService, err := NewCacheService(core.SecretsConfig{CacheTTL: time.Minute})
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	base := &countingResolver{value: "whsec", found: true}
	resolver, err := NewCachedSecretResolver(base, cacheService)
	if err != nil {
		t.Fatalf("new cached resolver: %v", err)
	}

	for i := 0; i < 2; i++ {
		secret, ok, err := resolver.GetSecret(context.Background(), "github", "t1", core.SecretPurposeWebhook)
		if err != nil || !ok || secret != "whsec" {
			t.Fatalf("get %d: %q %v %v", i, secret, ok, err)
		}
	}
	if base.calls != 1 {
		t.Fatalf("expected one base call, got %d", base.calls)
	}

	if err := resolver.Invalidate(context.Background(), "github", "t1", core.SecretPurposeWebhook); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, _, err := resolver.GetSecret(context.Background(), "github", "t1", core.SecretPurposeWebhook); err != nil {
		t.Fatalf("get after invalidate: %v", err)
	}
	if base.calls != 2 {
		t.Fatalf("expected refetch after invalidate, got %d calls", base.calls)
	}
}

func TestCachedSecretResolver_PropagatesErrors(t *testing.T) {
	cacheService, _ := NewCacheService(core.SecretsConfig{})
	resolver, _ := NewCachedSecretResolver(&countingResolver{err: errors.New("vault sealed")}, cacheService)
	if _, _, err := resolver.GetSecret(context.Background(), "github", "t1", core.SecretPurposeWebhook); err == nil {
		t.Fatalf("expected base error")
	}
}

func TestSecretCacheKey_EscapesSegments(t *testing.T) {
	key := SecretCacheKey("Gmail", "user@example.com/x", core.SecretPurposeWebhook)
	if key != "go-webhooks::secret::v1::gmail::user@example.com%2Fx::webhook" {
		t.Fatalf("unexpected cache key %q", key)
	}
}
