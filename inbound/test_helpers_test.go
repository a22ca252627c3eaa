package inbound

import (
	"context"
	"errors"
	"sync"

	"github.com/goliatone/go-webhooks/core"
	"github.com/goliatone/go-webhooks/events"
	"github.com/goliatone/go-webhooks/signature"
)

type staticSecrets map[string]string

func (s staticSecrets) GetSecret(_ context.Context, integrationID string, _ string, _ core.SecretPurpose) (string, bool, error) {
	secret, ok := s[integrationID]
	return secret, ok, nil
}

type failingSecrets struct{}

func (failingSecrets) GetSecret(context.Context, string, string, core.SecretPurpose) (string, bool, error) {
	return "", false, errors.New("vault sealed")
}

type eventLog struct {
	mu     sync.Mutex
	events []core.DomainEvent
}

func (l *eventLog) Handle(_ context.Context, event core.DomainEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

func (l *eventLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

type stubReconciler struct {
	calls []core.Notification
	err   error
}

func (s *stubReconciler) Reconcile(_ context.Context, contract core.IntegrationContract, n core.Notification) (core.ReconcileOutcome, error) {
	s.calls = append(s.calls, n)
	return core.ReconcileOutcome{IntegrationID: contract.ID, TenantID: n.TenantID, Cursor: n.Cursor}, s.err
}

// headerContract claims envelopes that carry header and emits the body "type"
// field as the event name.
func headerContract(id string, header string, log *eventLog) core.IntegrationContract {
	dispatcher := events.NewDispatcher()
	dispatcher.On("push", log)
	return core.IntegrationContract{
		ID:         id,
		Matcher:    func(env core.Envelope) bool { return env.HasHeader(header) },
		SecretRef:  id,
		Verifier:   signature.Generic(id),
		Dispatcher: dispatcher,
		ParseEvent: func(_ context.Context, env core.Envelope) (core.DomainEvent, error) {
			eventType := env.StringField("type")
			if eventType == "" {
				return core.DomainEvent{}, errors.New("type is required")
			}
			return core.DomainEvent{Type: eventType, Payload: env.RawBody()}, nil
		},
	}
}

func signedEnvelope(id string, header string, body string, secret string) core.Envelope {
	return core.NewEnvelope(core.EnvelopeInput{
		Headers: map[string]string{
			header:                       "1",
			signature.Generic(id).Header: signature.Generic(id).HeaderValue([]byte(body), secret),
		},
		Body: []byte(body),
	})
}

type loggedRecord struct {
	level string
	msg   string
}

type recordingLogger struct {
	mu      *sync.Mutex
	records *[]loggedRecord
}

func newRecordingLogger() *recordingLogger {
	records := []loggedRecord{}
	return &recordingLogger{mu: &sync.Mutex{}, records: &records}
}

func (l *recordingLogger) Trace(msg string, _ ...any) { l.record("trace", msg) }
func (l *recordingLogger) Debug(msg string, _ ...any) { l.record("debug", msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.record("info", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.record("warn", msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.record("error", msg) }
func (l *recordingLogger) Fatal(msg string, _ ...any) { l.record("fatal", msg) }

func (l *recordingLogger) WithContext(context.Context) core.Logger { return l }

func (l *recordingLogger) record(level string, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, loggedRecord{level: level, msg: msg})
}

func (l *recordingLogger) has(level string, msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, record := range *l.records {
		if record.level == level && record.msg == msg {
			return true
		}
	}
	return false
}
