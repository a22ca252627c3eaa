package command

import (
	"strings"

	"github.com/goliatone/go-webhooks/core"
)

const (
	TypeReconcile = "webhooks.command.reconcile"
	TypeRoute     = "webhooks.command.route"

	TypeResetWatermark = "webhooks.command.watermark.reset"
)

// ReconcileMessage asks for an out-of-band reconciliation, as if the
// provider had notified cursor for the tenant.
type ReconcileMessage struct {
	IntegrationID string         `json:"integration_id"`
	TenantID      string         `json:"tenant_id"`
	Cursor        string         `json:"cursor"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

func (ReconcileMessage) Type() string { return TypeReconcile }

func (m ReconcileMessage) Validate() error {
	if strings.TrimSpace(m.IntegrationID) == "" {
		return commandValidationError("integration_id", "integration id is required")
	}
	if strings.TrimSpace(m.Cursor) == "" {
		return commandValidationError("cursor", "cursor is required")
	}
	return nil
}

func (m ReconcileMessage) Notification() core.Notification {
	return core.Notification{
		TenantID: strings.TrimSpace(m.TenantID),
		Cursor:   strings.TrimSpace(m.Cursor),
		Metadata: m.Metadata,
	}
}

// RouteMessage replays a captured delivery through the router. An empty
// IntegrationID falls back to matcher routing.
type RouteMessage struct {
	IntegrationID string            `json:"integration_id,omitempty"`
	Headers       map[string]string `json:"headers"`
	Body          []byte            `json:"body"`
}

func (RouteMessage) Type() string { return TypeRoute }

func (m RouteMessage) Validate() error {
	if len(m.Body) == 0 {
		return commandValidationError("body", "delivery body is required")
	}
	return nil
}

func (m RouteMessage) Envelope() core.Envelope {
	return core.NewEnvelope(core.EnvelopeInput{
		Headers:      m.Headers,
		Body:         m.Body,
		RoutingToken: m.IntegrationID,
	})
}

// ResetWatermarkMessage forgets a tenant watermark.
type ResetWatermarkMessage struct {
	IntegrationID string `json:"integration_id"`
	TenantID      string `json:"tenant_id"`
}

func (ResetWatermarkMessage) Type() string { return TypeResetWatermark }

func (m ResetWatermarkMessage) Validate() error {
	if strings.TrimSpace(m.IntegrationID) == "" {
		return commandValidationError("integration_id", "integration id is required")
	}
	return nil
}
