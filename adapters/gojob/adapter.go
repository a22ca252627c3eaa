package gojob

import (
	"context"
	"fmt"
	"strings"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"

	"github.com/goliatone/go-webhooks/adapters/gologger"
	webhookcommand "github.com/goliatone/go-webhooks/command"
	"github.com/goliatone/go-webhooks/core"
)

const (
	JobIDReconcile = "webhooks.reconcile"
	jobLoggerName  = "webhooks.jobs"
)

// RetryPolicy bounds how often a failed reconciliation is requeued.
type RetryPolicy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		BaseDelay:       time.Second,
		MaxDelay:        time.Minute,
		DeadLetterOnMax: true,
	}
}

// NackFor builds nack options for a failure on attempt (1 based). The delay
// doubles per attempt up to MaxDelay.
func (p RetryPolicy) NackFor(reason string, attempt int) queue.NackOptions {
	out := queue.NackOptions{Requeue: true, Reason: strings.TrimSpace(reason)}
	if attempt < 1 {
		attempt = 1
	}
	if p.BaseDelay > 0 {
		delay := p.BaseDelay
		for i := 1; i < attempt && (p.MaxDelay <= 0 || delay < p.MaxDelay); i++ {
			delay *= 2
		}
		out.Delay = delay
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		out.DeadLetter = p.DeadLetterOnMax
	}
	return out
}

// Reject is used for payloads that can never succeed.
func (p RetryPolicy) Reject(reason string) queue.NackOptions {
	return queue.NackOptions{DeadLetter: true, Reason: strings.TrimSpace(reason)}
}

func ReconcileParameters(msg webhookcommand.ReconcileMessage) map[string]any {
	params := map[string]any{
		"integration_id": strings.TrimSpace(msg.IntegrationID),
		"tenant_id":      strings.TrimSpace(msg.TenantID),
		"cursor":         strings.TrimSpace(msg.Cursor),
	}
	if len(msg.Metadata) > 0 {
		params["metadata"] = core.CloneFields(msg.Metadata)
	}
	return params
}

func ReconcileMessageFromParameters(params map[string]any) (webhookcommand.ReconcileMessage, error) {
	msg := webhookcommand.ReconcileMessage{
		IntegrationID: stringParam(params, "integration_id"),
		TenantID:      stringParam(params, "tenant_id"),
		Cursor:        stringParam(params, "cursor"),
	}
	if metadata, ok := params["metadata"].(map[string]any); ok {
		msg.Metadata = core.CloneFields(metadata)
	}
	if err := msg.Validate(); err != nil {
		return webhookcommand.ReconcileMessage{}, err
	}
	return msg, nil
}

// IdempotencyKey collapses duplicate redeliveries of one notification.
func IdempotencyKey(msg webhookcommand.ReconcileMessage) string {
	return strings.Join([]string{
		JobIDReconcile,
		strings.ToLower(strings.TrimSpace(msg.IntegrationID)),
		strings.TrimSpace(msg.TenantID),
		strings.TrimSpace(msg.Cursor),
	}, ":")
}

type Enqueuer struct {
	enqueuer queue.Enqueuer
}

func NewEnqueuer(enqueuer queue.Enqueuer) *Enqueuer {
	return &Enqueuer{enqueuer: enqueuer}
}

func (e *Enqueuer) EnqueueReconcile(ctx context.Context, msg webhookcommand.ReconcileMessage) error {
	if e == nil || e.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return e.enqueuer.Enqueue(ctx, &job.ExecutionMessage{
		JobID:          JobIDReconcile,
		ScriptPath:     JobIDReconcile,
		Parameters:     ReconcileParameters(msg),
		IdempotencyKey: IdempotencyKey(msg),
	})
}

type RunnerOption func(*Runner)

func WithRetryPolicy(policy RetryPolicy) RunnerOption {
	return func(r *Runner) {
		r.policy = policy
	}
}

func WithLogger(logger core.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) RunnerOption {
	return func(r *Runner) {
		r.loggerProvider = provider
	}
}

// Runner executes dequeued reconcile jobs against a ReconcileService.
type Runner struct {
	service        webhookcommand.ReconcileService
	policy         RetryPolicy
	logger         core.Logger
	loggerProvider core.LoggerProvider
	jobLogger      job.Logger
}

func NewRunner(service webhookcommand.ReconcileService, opts ...RunnerOption) (*Runner, error) {
	if service == nil {
		return nil, fmt.Errorf("gojob: reconcile service is required")
	}
	r := &Runner{service: service, policy: DefaultRetryPolicy()}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	_, _, _, r.jobLogger = gologger.ResolveForJob(jobLoggerName, r.loggerProvider, r.logger)
	r.logger = core.ResolveLogger(jobLoggerName, r.loggerProvider, r.logger)
	return r, nil
}

// JobLogger is the runner's logger in go-job form, for worker wiring.
func (r *Runner) JobLogger() job.Logger {
	if r == nil {
		return nil
	}
	return r.jobLogger
}

// Run executes one delivery. attempt is 1 based. Fetch failures inside the
// outcome are not retried: the watermark already moved and the coarse event
// told subscribers to resync.
func (r *Runner) Run(ctx context.Context, delivery queue.Delivery, attempt int) error {
	if r == nil || delivery == nil {
		return fmt.Errorf("gojob: runner and delivery are required")
	}
	message := delivery.Message()
	if message == nil || strings.TrimSpace(message.JobID) != JobIDReconcile {
		jobID := ""
		if message != nil {
			jobID = message.JobID
		}
		return delivery.Nack(ctx, r.policy.Reject(fmt.Sprintf("unsupported job %q", jobID)))
	}
	msg, err := ReconcileMessageFromParameters(message.Parameters)
	if err != nil {
		core.Log(ctx, r.logger, "error", "reconcile job rejected", map[string]any{
			"job_id": message.JobID,
			"error":  err.Error(),
		})
		return delivery.Nack(ctx, r.policy.Reject(err.Error()))
	}

	outcome, err := r.service.ReconcileNotification(ctx, msg.IntegrationID, msg.Notification())
	fields := map[string]any{
		"integration_id": msg.IntegrationID,
		"tenant_id":      msg.TenantID,
		"cursor":         msg.Cursor,
		"attempt":        attempt,
	}
	if err != nil {
		fields["error"] = err.Error()
		nack := r.policy.NackFor(err.Error(), attempt)
		fields["requeue"] = nack.Requeue
		core.Log(ctx, r.logger, "warn", "reconcile job failed", fields)
		return delivery.Nack(ctx, nack)
	}
	if outcome.FetchErr != nil {
		fields["fetch_error"] = outcome.FetchErr.Error()
		core.Log(ctx, r.logger, "warn", "reconcile job advanced watermark after fetch failure", fields)
	}
	return delivery.Ack(ctx)
}

// DequeueAndRun pulls one delivery and runs it.
func (r *Runner) DequeueAndRun(ctx context.Context, dequeuer queue.Dequeuer, attempt int) error {
	if dequeuer == nil {
		return fmt.Errorf("gojob: dequeuer is not configured")
	}
	delivery, err := dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	return r.Run(ctx, delivery, attempt)
}

// LoggingHook reports worker lifecycle events through the webhook logger.
type LoggingHook struct {
	logger core.Logger
}

func NewLoggingHook(logger core.Logger) *LoggingHook {
	return &LoggingHook{logger: core.ResolveLogger(jobLoggerName, nil, logger)}
}

func (h *LoggingHook) OnStart(ctx context.Context, event worker.Event) {
	h.log(ctx, "debug", "reconcile job started", event)
}

func (h *LoggingHook) OnSuccess(ctx context.Context, event worker.Event) {
	h.log(ctx, "info", "reconcile job finished", event)
}

func (h *LoggingHook) OnFailure(ctx context.Context, event worker.Event) {
	h.log(ctx, "error", "reconcile job failed", event)
}

func (h *LoggingHook) OnRetry(ctx context.Context, event worker.Event) {
	h.log(ctx, "warn", "reconcile job retry scheduled", event)
}

func (h *LoggingHook) log(ctx context.Context, level string, message string, event worker.Event) {
	if h == nil {
		return
	}
	fields := map[string]any{
		"attempt":     event.Attempt,
		"duration_ms": event.Duration.Milliseconds(),
	}
	msg := event.Message
	if msg == nil && event.Delivery != nil {
		msg = event.Delivery.Message()
	}
	if msg != nil {
		fields["job_id"] = msg.JobID
		fields["idempotency_key"] = msg.IdempotencyKey
	}
	if event.Delay > 0 {
		fields["delay_ms"] = event.Delay.Milliseconds()
	}
	if event.Err != nil {
		fields["error"] = event.Err.Error()
	}
	core.Log(ctx, h.logger, level, message, fields)
}

func stringParam(params map[string]any, key string) string {
	value, ok := params[key]
	if !ok || value == nil {
		return ""
	}
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case fmt.Stringer:
		return strings.TrimSpace(typed.String())
	default:
		return strings.TrimSpace(fmt.Sprint(typed))
	}
}

var _ worker.Hook = (*LoggingHook)(nil)
