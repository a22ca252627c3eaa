package query

import (
	"strings"
)

const (
	TypeGetWatermark   = "webhooks.query.watermark.get"
	TypeListWatermarks = "webhooks.query.watermark.list"
)

type GetWatermarkMessage struct {
	IntegrationID string `json:"integration_id"`
	TenantID      string `json:"tenant_id"`
}

func (GetWatermarkMessage) Type() string { return TypeGetWatermark }

func (m GetWatermarkMessage) Validate() error {
	if strings.TrimSpace(m.IntegrationID) == "" {
		return queryValidationError("integration_id", "integration id is required")
	}
	return nil
}

type ListWatermarksMessage struct {
	IntegrationID string `json:"integration_id"`
}

func (ListWatermarksMessage) Type() string { return TypeListWatermarks }

func (m ListWatermarksMessage) Validate() error {
	if strings.TrimSpace(m.IntegrationID) == "" {
		return queryValidationError("integration_id", "integration id is required")
	}
	return nil
}
