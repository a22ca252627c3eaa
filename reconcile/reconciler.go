package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-webhooks/core"
)

const (
	MetricReconcileTotal    = "webhooks.reconcile.total"
	MetricReconcileDuration = "webhooks.reconcile.duration_ms"
)

const (
	statusBaseline    = "baseline"
	statusSuccess     = "success"
	statusTruncated   = "truncated"
	statusFetchFailed = "fetch_failed"
	statusError       = "error"
)

type Option func(*Reconciler)

func WithLogger(logger core.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(r *Reconciler) {
		r.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(r *Reconciler) {
		if recorder != nil {
			r.metrics = recorder
		}
	}
}

// WithLocker shares a locker between reconcilers that may see the same
// tenants, for example a synchronous router and a job runner.
func WithLocker(locker *core.KeyedLocker) Option {
	return func(r *Reconciler) {
		if locker != nil {
			r.locker = locker
		}
	}
}

// WithConfig applies the reconcile budget from the engine configuration.
func WithConfig(cfg core.ReconcileConfig) Option {
	return func(r *Reconciler) {
		if cfg.MaxPages > 0 {
			r.maxPages = cfg.MaxPages
		}
		if cfg.PageTimeout > 0 {
			r.pageTimeout = cfg.PageTimeout
		}
		if cfg.TotalTimeout > 0 {
			r.totalTimeout = cfg.TotalTimeout
		}
		r.split = cfg.SplitWatermark
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

type Reconciler struct {
	store          core.WatermarkStore
	locker         *core.KeyedLocker
	logger         core.Logger
	loggerProvider core.LoggerProvider
	metrics        core.MetricsRecorder
	maxPages       int
	pageTimeout    time.Duration
	totalTimeout   time.Duration
	split          bool
	now            func() time.Time
}

func New(store core.WatermarkStore, opts ...Option) (*Reconciler, error) {
	if store == nil {
		return nil, fmt.Errorf("reconcile: watermark store is required")
	}
	defaults := core.DefaultConfig().Reconcile
	r := &Reconciler{
		store:        store,
		locker:       core.NewKeyedLocker(),
		metrics:      core.NopMetricsRecorder{},
		maxPages:     defaults.MaxPages,
		pageTimeout:  defaults.PageTimeout,
		totalTimeout: defaults.TotalTimeout,
		split:        defaults.SplitWatermark,
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.logger = core.ResolveLogger("webhooks.reconcile", r.loggerProvider, r.logger)
	return r, nil
}

// Reconcile runs one notification through the contract's reconciler config.
// Delta fetch failures are reported on the outcome, not as an error; the
// returned error is reserved for invalid input and watermark store failures.
func (r *Reconciler) Reconcile(ctx context.Context, contract core.IntegrationContract, n core.Notification) (core.ReconcileOutcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	started := r.now()
	n.TenantID = strings.TrimSpace(n.TenantID)
	n.Cursor = strings.TrimSpace(n.Cursor)
	outcome := core.ReconcileOutcome{
		IntegrationID: contract.ID,
		TenantID:      n.TenantID,
		Cursor:        n.Cursor,
	}
	if contract.Reconciler == nil || contract.Reconciler.FetchDelta == nil {
		return outcome, core.NewKindError(core.KindBadInput, "integration has no reconciler", map[string]any{
			"integration_id": contract.ID,
		})
	}
	if contract.Dispatcher == nil {
		return outcome, core.NewKindError(core.KindBadInput, "integration has no dispatcher", map[string]any{
			"integration_id": contract.ID,
		})
	}
	if n.Cursor == "" {
		return outcome, core.NewKindError(core.KindPayloadMalformed, "notification carries no cursor", map[string]any{
			"integration_id": contract.ID,
		})
	}

	release, err := r.locker.Lock(ctx, core.WatermarkKey(contract.ID, n.TenantID))
	if err != nil {
		return outcome, core.WrapKindError(err, core.KindInternal, "reconcile lock wait aborted", map[string]any{
			"integration_id": contract.ID,
			"tenant_id":      n.TenantID,
		})
	}
	defer release()

	outcome, err = r.reconcileLocked(ctx, contract, n, outcome)
	r.observe(ctx, contract.ID, outcome, err, started)
	return outcome, err
}

func (r *Reconciler) reconcileLocked(
	ctx context.Context,
	contract core.IntegrationContract,
	n core.Notification,
	outcome core.ReconcileOutcome,
) (core.ReconcileOutcome, error) {
	cfg := *contract.Reconciler
	coarse := core.DomainEvent{
		ID:            uuid.NewString(),
		Type:          cfg.CoarseType(),
		IntegrationID: contract.ID,
		TenantID:      n.TenantID,
		OccurredAt:    r.now().UTC(),
	}

	watermark, found, err := r.store.GetWatermark(ctx, contract.ID, n.TenantID)
	if err != nil {
		coarse.Payload = core.CoarsePayload{Cursor: n.Cursor}
		r.emit(ctx, contract, coarse, &outcome)
		return outcome, core.WrapKindError(err, core.KindInternal, "load watermark failed", map[string]any{
			"integration_id": contract.ID,
			"tenant_id":      n.TenantID,
		})
	}
	outcome.PriorCursor = watermark.Notified
	coarse.Payload = core.CoarsePayload{Cursor: n.Cursor, PriorCursor: watermark.Notified}

	reconciledUpTo := n.Cursor
	if !found {
		outcome.Baseline = true
		core.Log(ctx, r.logger, "info", "watermark baseline recorded", map[string]any{
			"integration_id": contract.ID,
			"tenant_id":      n.TenantID,
			"cursor":         n.Cursor,
		})
	} else {
		since := watermark.Since(r.split)
		continuation := r.fanOut(ctx, contract, cfg, n.TenantID, since, &outcome)
		switch {
		case outcome.FetchErr != nil:
			reconciledUpTo = ""
		case outcome.Truncated:
			reconciledUpTo = continuation
		}
	}

	// A caller that went away mid fetch must not hold the watermark back, so
	// the coarse event and the advance run detached under their own budget.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.pageTimeout)
	defer cancel()

	// The coarse event goes out after fan-out so subscribers observe it last.
	r.emit(settleCtx, contract, coarse, &outcome)

	in := core.SetWatermarkInput{
		IntegrationID: contract.ID,
		TenantID:      n.TenantID,
		Notified:      n.Cursor,
		Reconciled:    n.Cursor,
		UpdatedAt:     r.now(),
	}
	if r.split {
		in.Reconciled = reconciledUpTo
	}
	stored, err := r.store.SetWatermark(settleCtx, in)
	if err != nil {
		return outcome, core.WrapKindError(err, core.KindInternal, "advance watermark failed", map[string]any{
			"integration_id": contract.ID,
			"tenant_id":      n.TenantID,
			"cursor":         n.Cursor,
		})
	}
	outcome.ReconciledUpTo = stored.Reconciled
	core.Log(ctx, r.logger, "debug", "watermark advanced", map[string]any{
		"integration_id": contract.ID,
		"tenant_id":      n.TenantID,
		"prior_cursor":   outcome.PriorCursor,
		"cursor":         n.Cursor,
		"reconciled":     stored.Reconciled,
	})
	return outcome, nil
}

// fanOut pages through the provider delta and dispatches events in provider
// order. It returns the continuation cursor when the page budget ran out.
func (r *Reconciler) fanOut(
	ctx context.Context,
	contract core.IntegrationContract,
	cfg core.ReconcilerConfig,
	tenantID string,
	since string,
	outcome *core.ReconcileOutcome,
) string {
	fetchCtx, cancel := context.WithTimeout(ctx, r.totalTimeout)
	defer cancel()

	cursor := since
	for outcome.Pages < r.maxPages {
		page, err := r.fetchPage(fetchCtx, cfg.FetchDelta, cursor, tenantID)
		if err != nil {
			r.recordFetchFailure(ctx, contract.ID, tenantID, cursor, err, outcome)
			return ""
		}
		outcome.Pages++

		for _, item := range page.Items {
			outcome.Items++
			events, err := toEvents(ctx, cfg.ToEvents, tenantID, item)
			if err != nil {
				r.recordFetchFailure(ctx, contract.ID, tenantID, cursor, fmt.Errorf("map delta %q: %w", item.ID, err), outcome)
				return ""
			}
			for _, event := range events {
				r.emit(ctx, contract, r.stamp(event, contract.ID, tenantID), outcome)
			}
		}

		if !page.HasMore {
			return ""
		}
		next := strings.TrimSpace(page.NextCursor)
		if next == "" {
			r.recordFetchFailure(ctx, contract.ID, tenantID, cursor, errors.New("provider reported more pages without a next cursor"), outcome)
			return ""
		}
		cursor = next
	}

	outcome.Truncated = true
	core.Log(ctx, r.logger, "warn", "delta pagination budget exhausted", map[string]any{
		"integration_id": contract.ID,
		"tenant_id":      tenantID,
		"pages":          outcome.Pages,
		"next_cursor":    cursor,
	})
	return cursor
}

func (r *Reconciler) fetchPage(ctx context.Context, fetch core.FetchDeltaFunc, cursor string, tenantID string) (page core.DeltaPage, err error) {
	pageCtx, cancel := context.WithTimeout(ctx, r.pageTimeout)
	defer cancel()
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("fetch delta panic: %v", recovered)
		}
	}()
	page, err = fetch(pageCtx, cursor, tenantID)
	if err == nil && pageCtx.Err() != nil {
		err = pageCtx.Err()
	}
	return page, err
}

func (r *Reconciler) recordFetchFailure(
	ctx context.Context,
	integrationID string,
	tenantID string,
	cursor string,
	err error,
	outcome *core.ReconcileOutcome,
) {
	outcome.FetchErr = core.WrapKindError(err, core.KindDeltaFetchFailed, "delta fetch failed", map[string]any{
		"integration_id": integrationID,
		"tenant_id":      tenantID,
		"since":          cursor,
	})
	core.Log(ctx, r.logger, "error", "delta fetch failed", map[string]any{
		"integration_id": integrationID,
		"tenant_id":      tenantID,
		"since":          cursor,
		"pages":          outcome.Pages,
		"error":          err.Error(),
	})
}

func (r *Reconciler) emit(ctx context.Context, contract core.IntegrationContract, event core.DomainEvent, outcome *core.ReconcileOutcome) {
	report := contract.Dispatcher.Emit(ctx, event.Type, event)
	outcome.Dispatched = append(outcome.Dispatched, event.Type)
	outcome.HandlerFailed += len(report.Failures)
}

func (r *Reconciler) stamp(event core.DomainEvent, integrationID string, tenantID string) core.DomainEvent {
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
		event.OccurredAt = r.now().UTC()
	}
	return event
}

func (r *Reconciler) observe(ctx context.Context, integrationID string, outcome core.ReconcileOutcome, err error, started time.Time) {
	status := statusSuccess
	switch {
	case err != nil:
		status = statusError
	case outcome.FetchErr != nil:
		status = statusFetchFailed
	case outcome.Truncated:
		status = statusTruncated
	case outcome.Baseline:
		status = statusBaseline
	}
	tags := core.IntegrationTags(integrationID, "status", status)
	r.metrics.IncCounter(ctx, MetricReconcileTotal, 1, tags)
	r.metrics.ObserveHistogram(ctx, MetricReconcileDuration, float64(r.now().Sub(started).Milliseconds()), core.CloneTags(tags))
}

// toEvents falls back to one event per delta, typed by the delta itself.
func toEvents(ctx context.Context, mapper core.ToEventsFunc, tenantID string, item core.Delta) (events []core.DomainEvent, err error) {
	if mapper != nil {
		defer func() {
			if recovered := recover(); recovered != nil {
				events, err = nil, fmt.Errorf("to events panic: %v", recovered)
			}
		}()
		return mapper(ctx, tenantID, item)
	}
	if strings.TrimSpace(item.Type) == "" {
		return nil, nil
	}
	return []core.DomainEvent{{ID: item.ID, Type: item.Type, Payload: item.Payload}}, nil
}

var _ core.Reconciler = (*Reconciler)(nil)
