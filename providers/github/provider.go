package github

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-webhooks/core"
	"github.com/goliatone/go-webhooks/events"
	"github.com/goliatone/go-webhooks/signature"
)

const (
	IntegrationID = "github"

	HeaderEvent    = "X-GitHub-Event"
	HeaderDelivery = "X-GitHub-Delivery"
	HeaderHookID   = "X-GitHub-Hook-ID"
)

type Config struct {
	ID         string
	SecretRef  string
	Verifier   core.SignatureVerifier
	Dispatcher core.EventDispatcher
	Logger     core.Logger
}

// Event is the payload dispatched for every GitHub delivery.
type Event struct {
	Name       string         `json:"name"`
	Action     string         `json:"action,omitempty"`
	DeliveryID string         `json:"delivery_id"`
	Repository string         `json:"repository,omitempty"`
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
		cfg.Verifier = signature.GitHub()
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
	return env.Header(HeaderEvent) != ""
}

// TenantOf returns the repository owner, falling back to the organization
// for org-level hooks.
func TenantOf(env core.Envelope) string {
	if owner := nestedString(env, "repository", "owner", "login"); owner != "" {
		return strings.ToLower(owner)
	}
	return strings.ToLower(nestedString(env, "organization", "login"))
}

// ParseEvent names the event "<event>.<action>" when the payload carries an
// action, otherwise just the event header.
func ParseEvent(_ context.Context, env core.Envelope) (core.DomainEvent, error) {
	name := strings.ToLower(env.Header(HeaderEvent))
	if name == "" {
		return core.DomainEvent{}, fmt.Errorf("providers/github: %s header is required", HeaderEvent)
	}
	body, ok := env.Parsed()
	if !ok {
		return core.DomainEvent{}, fmt.Errorf("providers/github: payload is not a JSON object")
	}
	action := env.StringField("action")
	eventType := name
	if action != "" {
		eventType = name + "." + action
	}
	return core.DomainEvent{
		ID:       env.Header(HeaderDelivery),
		Type:     eventType,
		TenantID: TenantOf(env),
		Payload: Event{
			Name:       name,
			Action:     action,
			DeliveryID: env.Header(HeaderDelivery),
			Repository: nestedString(env, "repository", "full_name"),
			Body:       body,
		},
	}, nil
}

func nestedString(env core.Envelope, path ...string) string {
	if len(path) == 0 {
		return ""
	}
	value, ok := env.Field(path[0])
	if !ok {
		return ""
	}
	for _, key := range path[1:] {
		fields, isMap := value.(map[string]any)
		if !isMap {
			return ""
		}
		value = fields[key]
	}
	text, _ := value.(string)
	return strings.TrimSpace(text)
}
