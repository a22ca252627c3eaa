package devkit

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-webhooks/core"
)

// ValidateContractConformance checks that contract claims, verifies and
// parses its own fixture.
func ValidateContractConformance(ctx context.Context, contract core.IntegrationContract, fixture Fixture) error {
	if contract.Matcher == nil || contract.Verifier == nil || contract.Dispatcher == nil {
		return fmt.Errorf("devkit: contract %q is missing matcher, verifier or dispatcher", contract.ID)
	}
	if !contract.Matcher(fixture.Envelope) {
		return fmt.Errorf("devkit: contract %q does not claim its fixture", contract.ID)
	}
	if verification := contract.Verifier.Verify(fixture.Envelope, fixture.Secret); !verification.Valid || verification.Unsigned {
		return fmt.Errorf("devkit: contract %q rejected its signed fixture: %s", contract.ID, verification.Reason)
	}
	if verification := contract.Verifier.Verify(fixture.Envelope, fixture.Secret+"-wrong"); verification.Valid {
		return fmt.Errorf("devkit: contract %q accepted a fixture signed with another secret", contract.ID)
	}
	if contract.Tenant != nil && fixture.WantTenant != "" {
		if got := contract.Tenant(fixture.Envelope); got != fixture.WantTenant {
			return fmt.Errorf("devkit: contract %q resolved tenant %q, want %q", contract.ID, got, fixture.WantTenant)
		}
	}

	if contract.Reconciles() {
		notification, err := contract.ParseNotification(ctx, fixture.Envelope)
		if err != nil {
			return fmt.Errorf("devkit: contract %q parse notification: %w", contract.ID, err)
		}
		if notification.Cursor != fixture.WantCursor {
			return fmt.Errorf("devkit: contract %q cursor %q, want %q", contract.ID, notification.Cursor, fixture.WantCursor)
		}
		return nil
	}
	event, err := contract.ParseEvent(ctx, fixture.Envelope)
	if err != nil {
		return fmt.Errorf("devkit: contract %q parse event: %w", contract.ID, err)
	}
	if event.Type != fixture.WantEventType {
		return fmt.Errorf("devkit: contract %q event type %q, want %q", contract.ID, event.Type, fixture.WantEventType)
	}
	return nil
}

// ValidateWatermarkStoreConformance exercises the baseline, advance and
// untouched-reconciled rules every WatermarkStore must follow.
func ValidateWatermarkStoreConformance(ctx context.Context, store core.WatermarkStore) error {
	if store == nil {
		return fmt.Errorf("devkit: watermark store is required")
	}
	const integrationID = "conformance"
	tenantID := "tenant-" + strings.ToLower(fmt.Sprintf("%p", store))

	if _, found, err := store.GetWatermark(ctx, integrationID, tenantID); err != nil {
		return err
	} else if found {
		return fmt.Errorf("devkit: fresh store should not report a watermark")
	}
	if _, err := store.SetWatermark(ctx, core.SetWatermarkInput{
		IntegrationID: integrationID,
		TenantID:      tenantID,
		Notified:      "100",
		Reconciled:    "100",
	}); err != nil {
		return err
	}
	if _, err := store.SetWatermark(ctx, core.SetWatermarkInput{
		IntegrationID: integrationID,
		TenantID:      tenantID,
		Notified:      "200",
	}); err != nil {
		return err
	}
	watermark, found, err := store.GetWatermark(ctx, integrationID, tenantID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("devkit: watermark should exist after set")
	}
	if watermark.Notified != "200" {
		return fmt.Errorf("devkit: expected notified cursor 200, got %q", watermark.Notified)
	}
	if watermark.Reconciled != "100" {
		return fmt.Errorf("devkit: empty reconciled cursor must leave %q untouched, got %q", "100", watermark.Reconciled)
	}
	if _, found, err := store.GetWatermark(ctx, integrationID, tenantID+"-other"); err != nil {
		return err
	} else if found {
		return fmt.Errorf("devkit: watermarks must be scoped per tenant")
	}
	if _, err := store.SetWatermark(ctx, core.SetWatermarkInput{IntegrationID: integrationID, TenantID: tenantID}); err == nil {
		return fmt.Errorf("devkit: empty notified cursor should be rejected")
	}
	return nil
}
