package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type SecretPurpose string

const (
	SecretPurposeWebhook  SecretPurpose = "webhook"
	SecretPurposeEndpoint SecretPurpose = "endpoint"
)

const DefaultCoarseEventType = "changed"

// Matcher reports whether an envelope belongs to an integration.
type Matcher func(env Envelope) bool

// EventParser turns a verified envelope into a single typed event for
// integrations without cursor semantics.
type EventParser func(ctx context.Context, env Envelope) (DomainEvent, error)

// NotificationParser extracts the tenant and cursor carried by a coarse
// provider notification.
type NotificationParser func(ctx context.Context, env Envelope) (Notification, error)

// TenantResolver picks the tenant used for webhook secret lookup. It runs
// before verification so it must only read routing-safe data.
type TenantResolver func(env Envelope) string

type Handler interface {
	Handle(ctx context.Context, event DomainEvent) error
}

type HandlerFunc func(ctx context.Context, event DomainEvent) error

func (f HandlerFunc) Handle(ctx context.Context, event DomainEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type Subscription struct {
	Event string
	ID    uint64
}

type EventDispatcher interface {
	On(event string, handler Handler) Subscription
	Off(event string, handler Handler) bool
	Unsubscribe(sub Subscription) bool
	Emit(ctx context.Context, event string, payload DomainEvent) EmitReport
	HasHandlers(event string) bool
	RegisteredEvents() []string
}

type SignatureVerifier interface {
	Verify(env Envelope, secret string) Verification
}

// FetchDeltaFunc lists provider changes after since. Pagination continues by
// calling it again with the returned NextCursor while HasMore is set.
type FetchDeltaFunc func(ctx context.Context, since string, tenantID string) (DeltaPage, error)

// ToEventsFunc fans a single delta item out into zero or more events.
type ToEventsFunc func(ctx context.Context, tenantID string, item Delta) ([]DomainEvent, error)

type ReconcilerConfig struct {
	FetchDelta      FetchDeltaFunc
	ToEvents        ToEventsFunc
	CoarseEventType string
}

func (c ReconcilerConfig) CoarseType() string {
	if c.CoarseEventType == "" {
		return DefaultCoarseEventType
	}
	return c.CoarseEventType
}

type IntegrationContract struct {
	ID                string
	Matcher           Matcher
	SecretRef         string
	AllowUnsigned     bool
	Verifier          SignatureVerifier
	Tenant            TenantResolver
	Dispatcher        EventDispatcher
	ParseEvent        EventParser
	ParseNotification NotificationParser
	Reconciler        *ReconcilerConfig
}

// Reconciles reports whether the contract carries cursor semantics.
func (c IntegrationContract) Reconciles() bool {
	return c.Reconciler != nil
}

func (c IntegrationContract) Unsigned() bool {
	return c.SecretRef == ""
}

type SecretResolver interface {
	GetSecret(ctx context.Context, integrationID string, tenantID string, purpose SecretPurpose) (string, bool, error)
}

type WatermarkStore interface {
	GetWatermark(ctx context.Context, integrationID string, tenantID string) (Watermark, bool, error)
	SetWatermark(ctx context.Context, in SetWatermarkInput) (Watermark, error)
}

// WatermarkAdmin is implemented by stores that can enumerate and forget
// tenant watermarks.
type WatermarkAdmin interface {
	ListWatermarks(ctx context.Context, integrationID string) ([]Watermark, error)
	DeleteWatermark(ctx context.Context, integrationID string, tenantID string) error
}

type Reconciler interface {
	Reconcile(ctx context.Context, contract IntegrationContract, n Notification) (ReconcileOutcome, error)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type SetWatermarkInput struct {
	IntegrationID string
	TenantID      string
	Notified      string
	// Reconciled is left untouched when empty.
	Reconciled string
	UpdatedAt  time.Time
}
