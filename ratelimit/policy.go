// Package ratelimit keeps provider delta APIs from being hammered while they
// report throttling. State is kept per (integration, tenant).
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-webhooks/core"
)

var ErrStateNotFound = errors.New("ratelimit: state not found")

type Key struct {
	IntegrationID string
	TenantID      string
}

type State struct {
	Key            Key
	Limit          int
	Remaining      int
	ResetAt        *time.Time
	ThrottledUntil *time.Time
	LastStatus     int
	Attempts       int
	UpdatedAt      time.Time
}

type StateStore interface {
	Get(ctx context.Context, key Key) (State, error)
	Upsert(ctx context.Context, state State) error
}

// ThrottledError is returned by BeforeFetch while a throttle window is open.
type ThrottledError struct {
	Key        Key
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf(
		"ratelimit: %q tenant %q throttled for %s",
		e.Key.IntegrationID,
		e.Key.TenantID,
		e.RetryAfter,
	)
}

// ToError wraps the throttle as a delta fetch failure.
func (e ThrottledError) ToError() *goerrors.Error {
	return goerrors.Wrap(errors.Join(core.ErrDeltaFetchFailed, e), goerrors.CategoryRateLimit, e.Error()).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.WebhookErrorDeltaFetchFailed).
		WithMetadata(map[string]any{
			"integration_id": e.Key.IntegrationID,
			"tenant_id":      e.Key.TenantID,
			"retry_after_ms": e.RetryAfter.Milliseconds(),
		})
}

type Policy struct {
	Store          StateStore
	Now            func() time.Time
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func NewPolicy(store StateStore) *Policy {
	return &Policy{
		Store:          store,
		Now:            func() time.Time { return time.Now().UTC() },
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
	}
}

// BeforeFetch fails fast while the key is throttled or its quota is spent.
func (p *Policy) BeforeFetch(ctx context.Context, key Key) error {
	if p == nil || p.Store == nil {
		return nil
	}
	state, err := p.Store.Get(ctx, normalizeKey(key))
	if errors.Is(err, ErrStateNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	now := p.now()
	if until := state.ThrottledUntil; until != nil && now.Before(*until) {
		return ThrottledError{Key: state.Key, RetryAfter: until.Sub(now)}.ToError()
	}
	if state.Remaining == 0 && state.ResetAt != nil && now.Before(*state.ResetAt) {
		return ThrottledError{Key: state.Key, RetryAfter: state.ResetAt.Sub(now)}.ToError()
	}
	return nil
}

// AfterFetch records quota headers and opens a throttle window on 429 or an
// exhausted quota. Retry-After wins over exponential backoff.
func (p *Policy) AfterFetch(ctx context.Context, key Key, statusCode int, headers map[string]string) error {
	if p == nil || p.Store == nil {
		return nil
	}
	key = normalizeKey(key)
	now := p.now()
	state, err := p.Store.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrStateNotFound) {
		return err
	}
	if errors.Is(err, ErrStateNotFound) {
		state = State{Key: key}
	}
	state.LastStatus = statusCode
	state.UpdatedAt = now

	limit, hasLimit := headerInt(headers, "x-ratelimit-limit")
	if hasLimit {
		state.Limit = limit
	}
	remaining, hasRemaining := headerInt(headers, "x-ratelimit-remaining")
	if hasRemaining {
		state.Remaining = remaining
	}
	if resetAt, ok := headerResetAt(headers); ok {
		state.ResetAt = &resetAt
	}
	retryAfter, hasRetryAfter := parseRetryAfter(headers, now)

	throttled := statusCode == http.StatusTooManyRequests ||
		(statusCode < http.StatusInternalServerError && hasRemaining && remaining == 0)
	if !throttled {
		state.Attempts = 0
		state.ThrottledUntil = nil
		return p.Store.Upsert(ctx, state)
	}

	state.Attempts++
	delay := retryAfter
	if !hasRetryAfter {
		delay = p.backoff(state.Attempts)
	}
	until := now.Add(delay)
	state.ThrottledUntil = &until
	return p.Store.Upsert(ctx, state)
}

func (p *Policy) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *Policy) backoff(attempt int) time.Duration {
	delay := p.InitialBackoff
	if delay <= 0 {
		delay = time.Second
	}
	maximum := p.MaxBackoff
	if maximum <= 0 {
		maximum = time.Minute
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	return delay
}

func parseRetryAfter(headers map[string]string, now time.Time) (time.Duration, bool) {
	raw := headerValue(headers, "retry-after")
	if raw == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if retryAt, err := http.ParseTime(raw); err == nil && retryAt.After(now) {
		return retryAt.Sub(now), true
	}
	return 0, false
}

func headerInt(headers map[string]string, key string) (int, bool) {
	value := headerValue(headers, key)
	if value == "" {
		return 0, false
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func headerResetAt(headers map[string]string) (time.Time, bool) {
	unix, err := strconv.ParseInt(headerValue(headers, "x-ratelimit-reset"), 10, 64)
	if err != nil || unix <= 0 {
		return time.Time{}, false
	}
	return time.Unix(unix, 0).UTC(), true
}

func headerValue(headers map[string]string, key string) string {
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), key) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func normalizeKey(key Key) Key {
	return Key{
		IntegrationID: strings.ToLower(strings.TrimSpace(key.IntegrationID)),
		TenantID:      strings.TrimSpace(key.TenantID),
	}
}

type MemoryStateStore struct {
	mu    sync.RWMutex
	items map[Key]State
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{items: map[Key]State{}}
}

func (s *MemoryStateStore) Get(_ context.Context, key Key) (State, error) {
	if s == nil {
		return State{}, fmt.Errorf("ratelimit: state store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.items[normalizeKey(key)]
	if !ok {
		return State{}, ErrStateNotFound
	}
	return state, nil
}

func (s *MemoryStateStore) Upsert(_ context.Context, state State) error {
	if s == nil {
		return fmt.Errorf("ratelimit: state store is nil")
	}
	state.Key = normalizeKey(state.Key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[state.Key] = state
	return nil
}
