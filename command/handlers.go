package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-webhooks/core"
)

type ReconcileService interface {
	ReconcileNotification(ctx context.Context, integrationID string, n core.Notification) (core.ReconcileOutcome, error)
}

type RouteService interface {
	Route(ctx context.Context, env core.Envelope) (core.Result, error)
}

type WatermarkResetter interface {
	ResetWatermark(ctx context.Context, integrationID string, tenantID string) error
}

type ReconcileCommand struct {
	service ReconcileService
}

func NewReconcileCommand(service ReconcileService) *ReconcileCommand {
	return &ReconcileCommand{service: service}
}

func (c *ReconcileCommand) Execute(ctx context.Context, msg ReconcileMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: reconcile service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.ReconcileNotification(ctx, msg.IntegrationID, msg.Notification())
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RouteCommand struct {
	service RouteService
}

func NewRouteCommand(service RouteService) *RouteCommand {
	return &RouteCommand{service: service}
}

// Execute stores the router result even when routing failed so callers can
// inspect the status that would have been returned to the provider.
func (c *RouteCommand) Execute(ctx context.Context, msg RouteMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: route service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.Route(ctx, msg.Envelope())
	storeResult(ctx, out)
	return err
}

type ResetWatermarkCommand struct {
	resetter WatermarkResetter
}

func NewResetWatermarkCommand(resetter WatermarkResetter) *ResetWatermarkCommand {
	return &ResetWatermarkCommand{resetter: resetter}
}

func (c *ResetWatermarkCommand) Execute(ctx context.Context, msg ResetWatermarkMessage) error {
	if c == nil || c.resetter == nil {
		return commandDependencyError("command: watermark resetter is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.resetter.ResetWatermark(ctx, msg.IntegrationID, msg.TenantID)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
