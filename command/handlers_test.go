package command

import (
	"context"
	"errors"
	"net/http"
	"testing"

	gocmd "github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-webhooks/core"
)

type stubReconcileService struct {
	integrationID string
	notification  core.Notification
	out           core.ReconcileOutcome
	err           error
}

func (s *stubReconcileService) ReconcileNotification(_ context.Context, integrationID string, n core.Notification) (core.ReconcileOutcome, error) {
	s.integrationID = integrationID
	s.notification = n
	return s.out, s.err
}

type stubRouteService struct {
	env    core.Envelope
	result core.Result
	err    error
}

func (s *stubRouteService) Route(_ context.Context, env core.Envelope) (core.Result, error) {
	s.env = env
	return s.result, s.err
}

func TestReconcileCommand_ExecuteDelegatesAndStoresOutcome(t *testing.T) {
	svc := &stubReconcileService{out: core.ReconcileOutcome{Cursor: "1050", PriorCursor: "1000", Items: 1}}
	collector := gocmd.NewResult[core.ReconcileOutcome]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	err := NewReconcileCommand(svc).Execute(ctx, ReconcileMessage{
		IntegrationID: "gmail",
		TenantID:      " user@example.com ",
		Cursor:        "1050",
	})
	if err != nil {
		t.Fatalf("execute reconcile: %v", err)
	}
	if svc.integrationID != "gmail" || svc.notification.TenantID != "user@example.com" || svc.notification.Cursor != "1050" {
		t.Fatalf("unexpected delegation %q %+v", svc.integrationID, svc.notification)
	}
	outcome, ok := collector.Load()
	if !ok || outcome.Cursor != "1050" || outcome.PriorCursor != "1000" {
		t.Fatalf("expected stored outcome, got %+v ok=%v", outcome, ok)
	}
}

func TestReconcileCommand_PropagatesServiceError(t *testing.T) {
	svc := &stubReconcileService{err: errors.New("store down")}
	err := NewReconcileCommand(svc).Execute(context.Background(), ReconcileMessage{IntegrationID: "gmail", Cursor: "1"})
	if err == nil || err.Error() != "store down" {
		t.Fatalf("expected service error, got %v", err)
	}
}

func TestReconcileMessage_ValidateReturnsRichError(t *testing.T) {
	err := (ReconcileMessage{IntegrationID: "gmail"}).Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryValidation || rich.TextCode != core.WebhookErrorBadInput {
		t.Fatalf("unexpected envelope %q %q", rich.Category, rich.TextCode)
	}
}

func TestRouteCommand_ReplaysDeliveryWithRoutingToken(t *testing.T) {
	svc := &stubRouteService{result: core.Result{Success: true, StatusCode: http.StatusOK, IntegrationID: "github"}}
	collector := gocmd.NewResult[core.Result]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	err := NewRouteCommand(svc).Execute(ctx, RouteMessage{
		IntegrationID: "GitHub",
		Headers:       map[string]string{"X-GitHub-Event": "push"},
		Body:          []byte(`{"ref":"main"}`),
	})
	if err != nil {
		t.Fatalf("execute route: %v", err)
	}
	if svc.env.RoutingToken() != "github" || svc.env.Header("x-github-event") != "push" {
		t.Fatalf("unexpected envelope token=%q", svc.env.RoutingToken())
	}
	result, ok := collector.Load()
	if !ok || !result.Success {
		t.Fatalf("expected stored result, got %+v", result)
	}
}

func TestRouteCommand_StoresResultOnFailure(t *testing.T) {
	routeErr := core.NewKindError(core.KindSignatureInvalid, "signature mismatch", nil)
	svc := &stubRouteService{result: core.Result{StatusCode: http.StatusUnauthorized, Kind: core.KindSignatureInvalid}, err: routeErr}
	collector := gocmd.NewResult[core.Result]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	if err := NewRouteCommand(svc).Execute(ctx, RouteMessage{Body: []byte(`{}`)}); !errors.Is(err, core.ErrSignatureInvalid) {
		t.Fatalf("expected signature error, got %v", err)
	}
	if result, ok := collector.Load(); !ok || result.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected failed result stored, got %+v", result)
	}
}

func TestCommands_NilServiceReturnsRichError(t *testing.T) {
	var cmd *ReconcileCommand
	err := cmd.Execute(context.Background(), ReconcileMessage{})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal go-errors envelope, got %v", err)
	}
	if err := NewRouteCommand(nil).Execute(context.Background(), RouteMessage{}); err == nil {
		t.Fatalf("expected route dependency error")
	}
}

type stubResetter struct {
	integrationID string
	tenantID      string
}

func (s *stubResetter) ResetWatermark(_ context.Context, integrationID string, tenantID string) error {
	s.integrationID = integrationID
	s.tenantID = tenantID
	return nil
}

func TestResetWatermarkCommand_Delegates(t *testing.T) {
	resetter := &stubResetter{}
	cmd := NewResetWatermarkCommand(resetter)

	if err := cmd.Execute(context.Background(), ResetWatermarkMessage{IntegrationID: "gmail", TenantID: "user@example.com"}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if resetter.integrationID != "gmail" || resetter.tenantID != "user@example.com" {
		t.Fatalf("unexpected reset call %+v", resetter)
	}
	if err := cmd.Execute(context.Background(), ResetWatermarkMessage{}); err == nil {
		t.Fatalf("expected validation error")
	}
	if err := NewResetWatermarkCommand(nil).Execute(context.Background(), ResetWatermarkMessage{IntegrationID: "gmail"}); err == nil {
		t.Fatalf("expected dependency error")
	}
}
