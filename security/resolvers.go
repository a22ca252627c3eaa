package security

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-webhooks/core"
)

const secretCacheKeyPrefix = "go-webhooks::secret::v1"

// StaticSecretResolver serves secrets from an in-memory table. A secret set
// with an empty tenant applies to every tenant of that integration.
type StaticSecretResolver struct {
	mu      sync.RWMutex
	secrets map[string]string
}

func NewStaticSecretResolver() *StaticSecretResolver {
	return &StaticSecretResolver{secrets: map[string]string{}}
}

func (r *StaticSecretResolver) Set(integrationID string, tenantID string, purpose core.SecretPurpose, secret string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.secrets[staticKey(integrationID, tenantID, purpose)] = secret
}

func (r *StaticSecretResolver) Delete(integrationID string, tenantID string, purpose core.SecretPurpose) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.secrets, staticKey(integrationID, tenantID, purpose))
}

func (r *StaticSecretResolver) GetSecret(_ context.Context, integrationID string, tenantID string, purpose core.SecretPurpose) (string, bool, error) {
	if r == nil {
		return "", false, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if secret, ok := r.secrets[staticKey(integrationID, tenantID, purpose)]; ok && secret != "" {
		return secret, true, nil
	}
	secret, ok := r.secrets[staticKey(integrationID, "", purpose)]
	return secret, ok && secret != "", nil
}

func staticKey(integrationID string, tenantID string, purpose core.SecretPurpose) string {
	return strings.Join([]string{
		strings.ToLower(strings.TrimSpace(integrationID)),
		strings.TrimSpace(tenantID),
		string(purpose),
	}, "\x00")
}

// SealedSecretResolver opens secrets the source returns sealed. Plain values
// are rejected so an unsealed secret in storage is caught early.
type SealedSecretResolver struct {
	source core.SecretResolver
	sealer *AppKeySealer
}

func NewSealedSecretResolver(source core.SecretResolver, sealer *AppKeySealer) (*SealedSecretResolver, error) {
	if source == nil {
		return nil, fmt.Errorf("security: sealed secret source is required")
	}
	if sealer == nil {
		return nil, fmt.Errorf("security: sealer is required")
	}
	return &SealedSecretResolver{source: source, sealer: sealer}, nil
}

func (r *SealedSecretResolver) GetSecret(ctx context.Context, integrationID string, tenantID string, purpose core.SecretPurpose) (string, bool, error) {
	sealed, ok, err := r.source.GetSecret(ctx, integrationID, tenantID, purpose)
	if err != nil || !ok {
		return "", false, err
	}
	if !IsSealed(sealed) {
		return "", false, fmt.Errorf("security: secret for %s is not sealed", strings.TrimSpace(integrationID))
	}
	plaintext, err := r.sealer.Open(sealed)
	if err != nil {
		return "", false, err
	}
	return plaintext, true, nil
}

type cachedSecret struct {
	Value string
	Found bool
}

// CachedSecretResolver reads through a go-repository-cache service. Absent
// secrets are cached too so a missing tenant does not hit the source on
// every delivery.
type CachedSecretResolver struct {
	base  core.SecretResolver
	cache repositorycache.CacheService
}

func NewCachedSecretResolver(base core.SecretResolver, cacheService repositorycache.CacheService) (*CachedSecretResolver, error) {
	if base == nil {
		return nil, fmt.Errorf("security: base secret resolver is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("security: secret cache service is required")
	}
	return &CachedSecretResolver{base: base, cache: cacheService}, nil
}

// SecretCacheKey is go-webhooks::secret::v1::<integration>::<tenant>::<purpose>
// with each segment URL-path escaped.
func SecretCacheKey(integrationID string, tenantID string, purpose core.SecretPurpose) string {
	segments := []string{
		strings.ToLower(strings.TrimSpace(integrationID)),
		strings.TrimSpace(tenantID),
		string(purpose),
	}
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(append([]string{secretCacheKeyPrefix}, segments...), "::")
}

func (r *CachedSecretResolver) GetSecret(ctx context.Context, integrationID string, tenantID string, purpose core.SecretPurpose) (string, bool, error) {
	if r == nil || r.base == nil || r.cache == nil {
		return "", false, fmt.Errorf("security: cached secret resolver is not configured")
	}
	cached, err := repositorycache.GetOrFetch(ctx, r.cache, SecretCacheKey(integrationID, tenantID, purpose), func(ctx context.Context) (cachedSecret, error) {
		value, found, fetchErr := r.base.GetSecret(ctx, integrationID, tenantID, purpose)
		if fetchErr != nil {
			return cachedSecret{}, fetchErr
		}
		return cachedSecret{Value: value, Found: found}, nil
	})
	if err != nil {
		return "", false, err
	}
	return cached.Value, cached.Found, nil
}

// Invalidate drops a cached entry after the secret was rotated.
func (r *CachedSecretResolver) Invalidate(ctx context.Context, integrationID string, tenantID string, purpose core.SecretPurpose) error {
	if r == nil || r.cache == nil {
		return nil
	}
	return r.cache.Delete(ctx, SecretCacheKey(integrationID, tenantID, purpose))
}

// NewCacheService builds the cache used by CachedSecretResolver from config.
func NewCacheService(cfg core.SecretsConfig) (repositorycache.CacheService, error) {
	config := repositorycache.DefaultConfig()
	if cfg.CacheTTL > 0 {
		config.TTL = cfg.CacheTTL
	}
	return repositorycache.NewCacheService(config)
}

var (
	_ core.SecretResolver = (*StaticSecretResolver)(nil)
	_ core.SecretResolver = (*SealedSecretResolver)(nil)
	_ core.SecretResolver = (*CachedSecretResolver)(nil)
)
