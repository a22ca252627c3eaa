package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/goliatone/go-webhooks/core"
	"github.com/goliatone/go-webhooks/events"
	"github.com/goliatone/go-webhooks/ratelimit"
	"github.com/goliatone/go-webhooks/signature"
	"github.com/goliatone/go-webhooks/transport"
)

const (
	IntegrationID = "gmail"
	BaseURL       = "https://gmail.googleapis.com"

	EventMessageReceived = "messageReceived"
	EventMessageDeleted  = "messageDeleted"
	EventLabelAdded      = "labelAdded"
	EventLabelRemoved    = "labelRemoved"
	EventMailboxChanged  = core.DefaultCoarseEventType
)

type Config struct {
	ID         string
	SecretRef  string
	BaseURL    string
	PageSize   int
	Verifier   core.SignatureVerifier
	Dispatcher core.EventDispatcher
	// Credentials resolves the bearer token used against the history API,
	// looked up with SecretPurposeEndpoint.
	Credentials core.SecretResolver
	Client      *transport.RESTClient
	// Throttle defaults to an in-memory policy per mailbox.
	Throttle *ratelimit.Policy
	Logger   core.Logger
}

func DefaultConfig() Config {
	return Config{
		ID:       IntegrationID,
		BaseURL:  BaseURL,
		PageSize: 100,
	}
}

// New builds the reconciling Gmail contract. Pub/Sub only tells us that the
// mailbox moved to a new historyId; the history API supplies the changes.
func New(cfg Config) (core.IntegrationContract, error) {
	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.ID) == "" {
		cfg.ID = defaults.ID
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaults.PageSize
	}
	if cfg.SecretRef == "" {
		cfg.SecretRef = cfg.ID
	}
	if cfg.Credentials == nil {
		return core.IntegrationContract{}, fmt.Errorf("providers/gmail: credentials resolver is required")
	}
	if cfg.Verifier == nil {
		cfg.Verifier = signature.Generic(cfg.ID)
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = events.NewDispatcher(
			events.WithLogger(cfg.Logger),
			events.WithIntegrationID(cfg.ID),
		)
	}
	if cfg.Client == nil {
		cfg.Client = transport.NewRESTClient(nil)
	}
	if cfg.Throttle == nil {
		cfg.Throttle = ratelimit.NewPolicy(ratelimit.NewMemoryStateStore())
	}

	history := &HistoryClient{
		IntegrationID: cfg.ID,
		BaseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		PageSize:      cfg.PageSize,
		Credentials:   cfg.Credentials,
		Client:        cfg.Client,
		Throttle:      cfg.Throttle,
	}
	return core.IntegrationContract{
		ID:                cfg.ID,
		Matcher:           Matches,
		SecretRef:         cfg.SecretRef,
		Verifier:          cfg.Verifier,
		Tenant:            TenantOf,
		Dispatcher:        cfg.Dispatcher,
		ParseNotification: ParseNotification,
		Reconciler: &core.ReconcilerConfig{
			FetchDelta:      history.FetchDelta,
			ToEvents:        ToEvents,
			CoarseEventType: EventMailboxChanged,
		},
	}, nil
}

// PushEnvelope is the Pub/Sub push body.
type PushEnvelope struct {
	Message struct {
		Data        string `json:"data"`
		MessageID   string `json:"messageId"`
		PublishTime string `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// MailboxNotification is the base64 JSON carried in message.data.
type MailboxNotification struct {
	EmailAddress string      `json:"emailAddress"`
	HistoryID    json.Number `json:"historyId"`
}

// Matches claims Pub/Sub push deliveries: a subscription name plus a
// message object carrying data.
func Matches(env core.Envelope) bool {
	if env.StringField("subscription") == "" {
		return false
	}
	message, ok := env.Field("message")
	if !ok {
		return false
	}
	fields, ok := message.(map[string]any)
	if !ok {
		return false
	}
	data, ok := fields["data"].(string)
	return ok && strings.TrimSpace(data) != ""
}

// TenantOf reads the mailbox address. It is only used for secret lookup, so
// a decode failure yields the default tenant.
func TenantOf(env core.Envelope) string {
	notification, err := decodeNotification(env)
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(notification.EmailAddress))
}

func ParseNotification(_ context.Context, env core.Envelope) (core.Notification, error) {
	notification, err := decodeNotification(env)
	if err != nil {
		return core.Notification{}, err
	}
	email := strings.ToLower(strings.TrimSpace(notification.EmailAddress))
	cursor := strings.TrimSpace(notification.HistoryID.String())
	if email == "" {
		return core.Notification{}, fmt.Errorf("providers/gmail: emailAddress is required")
	}
	if cursor == "" {
		return core.Notification{}, fmt.Errorf("providers/gmail: historyId is required")
	}
	return core.Notification{
		TenantID: email,
		Cursor:   cursor,
		Metadata: map[string]any{"email_address": email},
	}, nil
}

func decodeNotification(env core.Envelope) (MailboxNotification, error) {
	var push PushEnvelope
	if err := env.Decode(&push); err != nil {
		return MailboxNotification{}, fmt.Errorf("providers/gmail: decode push envelope: %w", err)
	}
	raw, err := decodeData(push.Message.Data)
	if err != nil {
		return MailboxNotification{}, fmt.Errorf("providers/gmail: decode message data: %w", err)
	}
	var notification MailboxNotification
	if err := json.Unmarshal(raw, &notification); err != nil {
		return MailboxNotification{}, fmt.Errorf("providers/gmail: decode mailbox notification: %w", err)
	}
	return notification, nil
}

// Pub/Sub documents standard base64, some relays send the URL alphabet.
func decodeData(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(value, "="))
}
