package events

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-webhooks/core"
)

const MetricHandlerFailed = "webhooks.handler.failed"

type Option func(*Dispatcher)

func WithLogger(logger core.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(d *Dispatcher) {
		d.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(d *Dispatcher) {
		if recorder != nil {
			d.metrics = recorder
		}
	}
}

// WithIntegrationID tags failure logs and metrics with the owning integration.
func WithIntegrationID(id string) Option {
	return func(d *Dispatcher) {
		d.integrationID = strings.TrimSpace(id)
	}
}

type registration struct {
	id      uint64
	handler core.Handler
}

type Dispatcher struct {
	mu             sync.RWMutex
	handlers       map[string][]registration
	nextID         uint64
	integrationID  string
	logger         core.Logger
	loggerProvider core.LoggerProvider
	metrics        core.MetricsRecorder
}

func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		handlers: map[string][]registration{},
		metrics:  core.NopMetricsRecorder{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	d.logger = core.ResolveLogger("webhooks.events", d.loggerProvider, d.logger)
	return d
}

// On appends handler to event. Registering the same handler twice makes it
// run twice.
func (d *Dispatcher) On(event string, handler core.Handler) core.Subscription {
	if d == nil || handler == nil {
		return core.Subscription{}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.handlers[event] = append(d.handlers[event], registration{id: d.nextID, handler: handler})
	return core.Subscription{Event: event, ID: d.nextID}
}

// Off removes the first registration of handler under event. Function
// handlers are matched by their code pointer.
func (d *Dispatcher) Off(event string, handler core.Handler) bool {
	if d == nil || handler == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	current := d.handlers[event]
	for index, entry := range current {
		if sameHandler(entry.handler, handler) {
			d.removeAt(event, index)
			return true
		}
	}
	return false
}

func (d *Dispatcher) Unsubscribe(sub core.Subscription) bool {
	if d == nil || sub.ID == 0 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for index, entry := range d.handlers[sub.Event] {
		if entry.id == sub.ID {
			d.removeAt(sub.Event, index)
			return true
		}
	}
	return false
}

func (d *Dispatcher) removeAt(event string, index int) {
	current := d.handlers[event]
	next := make([]registration, 0, len(current)-1)
	next = append(next, current[:index]...)
	next = append(next, current[index+1:]...)
	if len(next) == 0 {
		delete(d.handlers, event)
		return
	}
	d.handlers[event] = next
}

// Emit runs every handler registered for event against a snapshot taken at
// call time. Handler errors and panics are collected into the report.
func (d *Dispatcher) Emit(ctx context.Context, event string, payload core.DomainEvent) core.EmitReport {
	report := core.EmitReport{Event: event}
	if d == nil {
		return report
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for index, entry := range d.snapshot(event) {
		report.Attempted++
		if err := invoke(ctx, entry.handler, payload); err != nil {
			report.Failures = append(report.Failures, core.HandlerFailure{Index: index, Err: err})
			d.observeFailure(ctx, event, payload, err)
		}
	}
	return report
}

func (d *Dispatcher) HasHandlers(event string) bool {
	if d == nil {
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[event]) > 0
}

func (d *Dispatcher) RegisteredEvents() []string {
	if d == nil {
		return nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.handlers))
	for event, entries := range d.handlers {
		if len(entries) > 0 {
			out = append(out, event)
		}
	}
	sort.Strings(out)
	return out
}

func (d *Dispatcher) snapshot(event string) []registration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]registration, len(d.handlers[event]))
	copy(out, d.handlers[event])
	return out
}

func (d *Dispatcher) observeFailure(ctx context.Context, event string, payload core.DomainEvent, err error) {
	integrationID := payload.IntegrationID
	if integrationID == "" {
		integrationID = d.integrationID
	}
	core.Log(ctx, d.logger, "error", "webhook handler failed", map[string]any{
		"event":          event,
		"integration_id": integrationID,
		"tenant_id":      payload.TenantID,
		"error":          err.Error(),
	})
	d.metrics.IncCounter(ctx, MetricHandlerFailed, 1, core.IntegrationTags(integrationID, "event", event))
}

func invoke(ctx context.Context, handler core.Handler, payload core.DomainEvent) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("events: handler panic: %v", recovered)
		}
	}()
	return handler.Handle(ctx, payload)
}

func sameHandler(left core.Handler, right core.Handler) bool {
	leftValue := reflect.ValueOf(left)
	rightValue := reflect.ValueOf(right)
	if leftValue.Type() != rightValue.Type() {
		return false
	}
	if leftValue.Kind() == reflect.Func {
		return leftValue.Pointer() == rightValue.Pointer()
	}
	if !leftValue.Type().Comparable() {
		return false
	}
	return left == right
}

var _ core.EventDispatcher = (*Dispatcher)(nil)
