package inbound

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-webhooks/core"
)

const MetricRouteTotal = "webhooks.route.total"

type RouterOption func(*Router)

func WithSecretResolver(resolver core.SecretResolver) RouterOption {
	return func(r *Router) {
		r.secrets = resolver
	}
}

func WithReconciler(reconciler core.Reconciler) RouterOption {
	return func(r *Router) {
		r.reconciler = reconciler
	}
}

func WithLogger(logger core.Logger) RouterOption {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithLoggerProvider(provider core.LoggerProvider) RouterOption {
	return func(r *Router) {
		r.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) RouterOption {
	return func(r *Router) {
		if recorder != nil {
			r.metrics = recorder
		}
	}
}

// Router resolves an envelope to exactly one contract, verifies it and hands
// it to the contract's dispatcher or to the reconciler.
type Router struct {
	registry       *Registry
	secrets        core.SecretResolver
	reconciler     core.Reconciler
	logger         core.Logger
	loggerProvider core.LoggerProvider
	metrics        core.MetricsRecorder
}

func NewRouter(registry *Registry, opts ...RouterOption) (*Router, error) {
	if registry == nil {
		return nil, inboundBadInput("inbound: registry is required", nil)
	}
	r := &Router{
		registry: registry,
		metrics:  core.NopMetricsRecorder{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.logger = core.ResolveLogger("webhooks.router", r.loggerProvider, r.logger)
	return r, nil
}

// Route processes one delivery. The returned Result always carries the HTTP
// status for the provider. The error is nil for successful and unclaimed
// deliveries.
func (r *Router) Route(ctx context.Context, env core.Envelope) (core.Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	contract, result, err := r.resolve(ctx, env)
	if err != nil || !result.Claimed {
		r.observe(ctx, result)
		return result, err
	}

	result, err = r.process(ctx, contract, env)
	r.observe(ctx, result)
	return result, err
}

func (r *Router) resolve(ctx context.Context, env core.Envelope) (core.IntegrationContract, core.Result, error) {
	if token := env.RoutingToken(); token != "" {
		contract, ok := r.registry.Get(token)
		if !ok || !safeMatch(contract.Matcher, env) {
			return core.IntegrationContract{}, unclaimed(fmt.Sprintf("integration %q does not accept this delivery", token)), nil
		}
		return contract, core.Result{Claimed: true, IntegrationID: contract.ID}, nil
	}

	matches := r.registry.Match(env)
	switch len(matches) {
	case 0:
		return core.IntegrationContract{}, unclaimed("no integration claims this delivery"), nil
	case 1:
		return matches[0], core.Result{Claimed: true, IntegrationID: matches[0].ID}, nil
	}

	candidates := make([]string, 0, len(matches))
	for _, contract := range matches {
		candidates = append(candidates, contract.ID)
	}
	err := core.NewKindError(core.KindRoutingAmbiguous, "more than one integration claims this delivery", map[string]any{
		"candidates": candidates,
	})
	core.Log(ctx, r.logger, "error", "webhook routing ambiguous", map[string]any{
		"candidates": strings.Join(candidates, ","),
	})
	return core.IntegrationContract{}, failed(core.Result{}, err), err
}

func (r *Router) process(ctx context.Context, contract core.IntegrationContract, env core.Envelope) (core.Result, error) {
	result := core.Result{Claimed: true, IntegrationID: contract.ID}
	tenantID := ""
	if contract.Tenant != nil {
		tenantID = strings.TrimSpace(contract.Tenant(env))
	}
	result.TenantID = tenantID

	secret, err := r.secretFor(ctx, contract, tenantID)
	if err != nil {
		return failed(result, err), err
	}
	verification := contract.Verifier.Verify(env, secret)
	if !verification.Valid {
		err := core.NewKindError(verification.Kind, verification.Reason, map[string]any{
			"integration_id": contract.ID,
			"tenant_id":      tenantID,
		})
		core.Log(ctx, r.logger, "warn", "webhook signature rejected", map[string]any{
			"integration_id": contract.ID,
			"tenant_id":      tenantID,
			"reason":         verification.Reason,
		})
		return failed(result, err), err
	}

	if contract.Reconciles() {
		return r.reconcile(ctx, contract, env, result)
	}
	return r.dispatch(ctx, contract, env, result)
}

// secretFor returns an empty secret only for contracts that opted out of
// signing.
func (r *Router) secretFor(ctx context.Context, contract core.IntegrationContract, tenantID string) (string, error) {
	if contract.SecretRef == "" {
		return "", nil
	}
	metadata := map[string]any{"integration_id": contract.ID, "tenant_id": tenantID}
	if r.secrets == nil {
		return "", inboundInternal("inbound: secret resolver is not configured", metadata)
	}
	secret, ok, err := r.secrets.GetSecret(ctx, contract.SecretRef, tenantID, core.SecretPurposeWebhook)
	if err != nil {
		return "", core.WrapKindError(err, core.KindInternal, "resolve webhook secret failed", metadata)
	}
	if !ok || secret == "" {
		if contract.AllowUnsigned {
			return "", nil
		}
		return "", core.NewKindError(core.KindSignatureMissing, "no webhook secret configured for tenant", metadata)
	}
	return secret, nil
}

func (r *Router) dispatch(ctx context.Context, contract core.IntegrationContract, env core.Envelope, result core.Result) (core.Result, error) {
	event, err := contract.ParseEvent(ctx, env)
	if err != nil {
		err = malformed(err, contract.ID)
		return failed(result, err), err
	}
	if strings.TrimSpace(event.Type) == "" {
		err := core.NewKindError(core.KindPayloadMalformed, "parsed event has no type", map[string]any{
			"integration_id": contract.ID,
		})
		return failed(result, err), err
	}
	event = stamp(event, contract.ID, result.TenantID, env.ReceivedAt())

	report := contract.Dispatcher.Emit(ctx, event.Type, event)
	result.Success = true
	result.TenantID = event.TenantID
	result.EventType = event.Type
	result.StatusCode = http.StatusOK
	if report.Failed() {
		core.Log(ctx, r.logger, "warn", "webhook delivered with handler failures", map[string]any{
			"integration_id": contract.ID,
			"event":          event.Type,
			"failed":         len(report.Failures),
		})
	}
	return result, nil
}

func (r *Router) reconcile(ctx context.Context, contract core.IntegrationContract, env core.Envelope, result core.Result) (core.Result, error) {
	notification, err := contract.ParseNotification(ctx, env)
	if err != nil {
		err = malformed(err, contract.ID)
		return failed(result, err), err
	}
	if notification.TenantID == "" {
		notification.TenantID = result.TenantID
	}
	if r.reconciler == nil {
		err := inboundInternal("inbound: reconciler is not configured", map[string]any{"integration_id": contract.ID})
		return failed(result, err), err
	}

	outcome, err := r.reconciler.Reconcile(ctx, contract, notification)
	result.TenantID = notification.TenantID
	result.Cursor = notification.Cursor
	result.Reconcile = &outcome
	if err != nil {
		return failed(result, err), err
	}
	result.Success = true
	result.EventType = contract.Reconciler.CoarseType()
	result.StatusCode = http.StatusOK
	return result, nil
}

func (r *Router) observe(ctx context.Context, result core.Result) {
	status := "success"
	switch {
	case !result.Claimed && result.Kind == core.KindNoMatch:
		status = "unclaimed"
	case !result.Success:
		status = string(result.Kind)
	}
	r.metrics.IncCounter(ctx, MetricRouteTotal, 1, core.IntegrationTags(result.IntegrationID, "status", status))
	level := "debug"
	if !result.Success {
		level = "info"
	}
	core.Log(ctx, r.logger, level, "webhook routed", map[string]any{
		"integration_id": result.IntegrationID,
		"tenant_id":      result.TenantID,
		"event":          result.EventType,
		"status":         result.StatusCode,
		"kind":           string(result.Kind),
	})
}

func stamp(event core.DomainEvent, integrationID string, tenantID string, receivedAt time.Time) core.DomainEvent {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.IntegrationID == "" {
		event.IntegrationID = integrationID
	}
	if event.TenantID == "" {
		event.TenantID = tenantID
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = receivedAt
	}
	return event
}

func malformed(err error, integrationID string) error {
	if core.KindOf(err) == core.KindPayloadMalformed {
		return err
	}
	return core.WrapKindError(err, core.KindPayloadMalformed, "webhook payload could not be parsed", map[string]any{
		"integration_id": integrationID,
	})
}

func unclaimed(reason string) core.Result {
	return core.Result{
		Kind:       core.KindNoMatch,
		Error:      reason,
		StatusCode: http.StatusNotFound,
	}
}

func failed(result core.Result, err error) core.Result {
	result.Success = false
	result.Kind = core.KindOf(err)
	result.Error = err.Error()
	result.StatusCode = core.StatusCode(err)
	return result
}
