package shopify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-webhooks/core"
	"github.com/goliatone/go-webhooks/events"
)

const (
	IntegrationID = "shopify"

	HeaderTopic      = "X-Shopify-Topic"
	HeaderShopDomain = "X-Shopify-Shop-Domain"
	HeaderWebhookID  = "X-Shopify-Webhook-Id"
	HeaderAPIVersion = "X-Shopify-Api-Version"
	HeaderTriggered  = "X-Shopify-Triggered-At"
)

type Config struct {
	ID                 string
	SecretRef          string
	ReplayWindow       time.Duration
	RequireTriggeredAt bool
	Now                func() time.Time
	Verifier           core.SignatureVerifier
	Dispatcher         core.EventDispatcher
	Logger             core.Logger
}

type Event struct {
	Topic      string         `json:"topic"`
	ShopDomain string         `json:"shop_domain"`
	WebhookID  string         `json:"webhook_id"`
	APIVersion string         `json:"api_version,omitempty"`
	Body       map[string]any `json:"body"`
}

func New(cfg Config) (core.IntegrationContract, error) {
	if strings.TrimSpace(cfg.ID) == "" {
		cfg.ID = IntegrationID
	}
	if cfg.SecretRef == "" {
		cfg.SecretRef = cfg.ID
	}
	if cfg.Verifier == nil {
		cfg.Verifier = Verifier{
			ReplayWindow:       cfg.ReplayWindow,
			RequireTriggeredAt: cfg.RequireTriggeredAt,
			Now:                cfg.Now,
		}
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = events.NewDispatcher(
			events.WithLogger(cfg.Logger),
			events.WithIntegrationID(cfg.ID),
		)
	}
	return core.IntegrationContract{
		ID:         cfg.ID,
		Matcher:    Matches,
		SecretRef:  cfg.SecretRef,
		Verifier:   cfg.Verifier,
		Tenant:     TenantOf,
		Dispatcher: cfg.Dispatcher,
		ParseEvent: ParseEvent,
	}, nil
}

func Matches(env core.Envelope) bool {
	return env.Header(HeaderTopic) != "" && env.Header(HeaderShopDomain) != ""
}

// TenantOf is the shop domain; each shop installs with its own secret.
func TenantOf(env core.Envelope) string {
	return strings.ToLower(env.Header(HeaderShopDomain))
}

// ParseEvent keeps Shopify's topic ("orders/create") as the event type.
func ParseEvent(_ context.Context, env core.Envelope) (core.DomainEvent, error) {
	topic := strings.ToLower(env.Header(HeaderTopic))
	if topic == "" {
		return core.DomainEvent{}, fmt.Errorf("providers/shopify: %s header is required", HeaderTopic)
	}
	body, ok := env.Parsed()
	if !ok {
		return core.DomainEvent{}, fmt.Errorf("providers/shopify: payload is not a JSON object")
	}
	return core.DomainEvent{
		ID:       env.Header(HeaderWebhookID),
		Type:     topic,
		TenantID: TenantOf(env),
		Payload: Event{
			Topic:      topic,
			ShopDomain: TenantOf(env),
			WebhookID:  env.Header(HeaderWebhookID),
			APIVersion: env.Header(HeaderAPIVersion),
			Body:       body,
		},
	}, nil
}
