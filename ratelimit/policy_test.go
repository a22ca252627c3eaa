package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-webhooks/core"
)

var gmailKey = Key{IntegrationID: "gmail", TenantID: "user@example.com"}

func fixedPolicy(now time.Time) (*Policy, *MemoryStateStore) {
	store := NewMemoryStateStore()
	policy := NewPolicy(store)
	policy.Now = func() time.Time { return now }
	return policy, store
}

func TestPolicy_BeforeFetchAllowsWithoutState(t *testing.T) {
	policy, _ := fixedPolicy(time.Now())
	if err := policy.BeforeFetch(context.Background(), gmailKey); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestPolicy_AfterFetchRecordsQuotaHeaders(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	policy, store := fixedPolicy(now)

	err := policy.AfterFetch(context.Background(), gmailKey, http.StatusOK, map[string]string{
		"X-RateLimit-Limit":     "250",
		"X-RateLimit-Remaining": "249",
		"X-RateLimit-Reset":     "1700000045",
	})
	if err != nil {
		t.Fatalf("after fetch: %v", err)
	}
	state, err := store.Get(context.Background(), gmailKey)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.Limit != 250 || state.Remaining != 249 {
		t.Fatalf("unexpected quota %+v", state)
	}
	if state.ResetAt == nil || !state.ResetAt.Equal(now.Add(45*time.Second)) {
		t.Fatalf("unexpected reset at %+v", state.ResetAt)
	}
	if err := policy.BeforeFetch(context.Background(), gmailKey); err != nil {
		t.Fatalf("expected fetch to be allowed, got %v", err)
	}
}

func TestPolicy_TooManyRequestsHonoursRetryAfter(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	policy, store := fixedPolicy(now)

	if err := policy.AfterFetch(context.Background(), gmailKey, http.StatusTooManyRequests, map[string]string{"Retry-After": "30"}); err != nil {
		t.Fatalf("after fetch: %v", err)
	}
	state, _ := store.Get(context.Background(), gmailKey)
	if state.ThrottledUntil == nil || !state.ThrottledUntil.Equal(now.Add(30*time.Second)) {
		t.Fatalf("unexpected throttle window %+v", state.ThrottledUntil)
	}

	err := policy.BeforeFetch(context.Background(), gmailKey)
	if !errors.Is(err, core.ErrDeltaFetchFailed) {
		t.Fatalf("expected delta fetch failure, got %v", err)
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Code != http.StatusTooManyRequests || rich.Category != goerrors.CategoryRateLimit {
		t.Fatalf("expected rate limit envelope, got %v", err)
	}

	policy.Now = func() time.Time { return now.Add(31 * time.Second) }
	if err := policy.BeforeFetch(context.Background(), gmailKey); err != nil {
		t.Fatalf("expected window to close, got %v", err)
	}
}

func TestPolicy_BacksOffExponentiallyWithoutRetryAfter(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	policy, store := fixedPolicy(now)
	policy.InitialBackoff = 2 * time.Second
	policy.MaxBackoff = 5 * time.Second

	want := []time.Duration{2 * time.Second, 4 * time.Second, 5 * time.Second}
	for i, delay := range want {
		if err := policy.AfterFetch(context.Background(), gmailKey, http.StatusTooManyRequests, nil); err != nil {
			t.Fatalf("after fetch %d: %v", i, err)
		}
		state, _ := store.Get(context.Background(), gmailKey)
		if state.Attempts != i+1 || !state.ThrottledUntil.Equal(now.Add(delay)) {
			t.Fatalf("attempt %d: expected %s window, got %+v", i+1, delay, state)
		}
	}

	if err := policy.AfterFetch(context.Background(), gmailKey, http.StatusOK, nil); err != nil {
		t.Fatalf("after success: %v", err)
	}
	state, _ := store.Get(context.Background(), gmailKey)
	if state.Attempts != 0 || state.ThrottledUntil != nil {
		t.Fatalf("expected success to reset throttle, got %+v", state)
	}
}

func TestPolicy_ExhaustedQuotaBlocksUntilReset(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	policy, _ := fixedPolicy(now)
	policy.InitialBackoff = time.Second

	if err := policy.AfterFetch(context.Background(), gmailKey, http.StatusOK, map[string]string{
		"X-RateLimit-Remaining": "0",
		"X-RateLimit-Reset":     "1700000060",
	}); err != nil {
		t.Fatalf("after fetch: %v", err)
	}
	if err := policy.BeforeFetch(context.Background(), Key{IntegrationID: "GMAIL", TenantID: "user@example.com"}); err == nil {
		t.Fatalf("expected exhausted quota to block")
	}
	if err := policy.BeforeFetch(context.Background(), Key{IntegrationID: "gmail", TenantID: "other@example.com"}); err != nil {
		t.Fatalf("expected other tenants to be unaffected, got %v", err)
	}
}
