package sheets

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-webhooks/core"
	"github.com/goliatone/go-webhooks/events"
	"github.com/goliatone/go-webhooks/signature"
)

const (
	IntegrationID = "sheets"

	EventRowAdded     = "rowAdded"
	EventRowUpdated   = "rowUpdated"
	EventRowDeleted   = "rowDeleted"
	EventSheetChanged = "sheetChanged"
)

type Config struct {
	ID         string
	SecretRef  string
	Verifier   core.SignatureVerifier
	Dispatcher core.EventDispatcher
	Logger     core.Logger
}

// Change is posted by the spreadsheet script bound to each sheet.
type Change struct {
	SpreadsheetID string  `json:"spreadsheetId"`
	Type          string  `json:"type"`
	SheetName     string  `json:"sheetName,omitempty"`
	Range         string  `json:"range,omitempty"`
	Row           int     `json:"row,omitempty"`
	Values        [][]any `json:"values,omitempty"`
}

func New(cfg Config) (core.IntegrationContract, error) {
	if strings.TrimSpace(cfg.ID) == "" {
		cfg.ID = IntegrationID
	}
	if cfg.SecretRef == "" {
		cfg.SecretRef = cfg.ID
	}
	if cfg.Verifier == nil {
		cfg.Verifier = signature.Sheets()
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

// Matches is shape based: a spreadsheetId plus a type discriminator. Sheets
// has no provider headers, so prefer the explicit routing token.
func Matches(env core.Envelope) bool {
	return env.StringField("spreadsheetId") != "" && env.StringField("type") != ""
}

func TenantOf(env core.Envelope) string {
	return env.StringField("spreadsheetId")
}

func ParseEvent(_ context.Context, env core.Envelope) (core.DomainEvent, error) {
	var change Change
	if err := env.Decode(&change); err != nil {
		return core.DomainEvent{}, fmt.Errorf("providers/sheets: decode change: %w", err)
	}
	change.SpreadsheetID = strings.TrimSpace(change.SpreadsheetID)
	change.Type = strings.TrimSpace(change.Type)
	if change.SpreadsheetID == "" {
		return core.DomainEvent{}, fmt.Errorf("providers/sheets: spreadsheetId is required")
	}
	if change.Type == "" {
		return core.DomainEvent{}, fmt.Errorf("providers/sheets: type is required")
	}
	return core.DomainEvent{
		Type:     change.Type,
		TenantID: change.SpreadsheetID,
		Payload:  change,
	}, nil
}
