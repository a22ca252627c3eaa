package core

import (
	"context"
	"sync"
	"testing"
)

type capturedLog struct {
	level  string
	msg    string
	fields map[string]any
}

type captureLogger struct {
	mu       *sync.Mutex
	records  *[]capturedLog
	defaults map[string]any
}

func newCaptureLogger() *captureLogger {
	records := []capturedLog{}
	return &captureLogger{mu: &sync.Mutex{}, records: &records, defaults: map[string]any{}}
}

func (l *captureLogger) WithFields(fields map[string]any) Logger {
	merged := CloneFields(l.defaults)
	for key, value := range fields {
		merged[key] = value
	}
	return &captureLogger{mu: l.mu, records: l.records, defaults: merged}
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) Logger {
	return &captureLogger{mu: l.mu, records: l.records, defaults: CloneFields(l.defaults)}
}

func (l *captureLogger) record(level string, msg string, args ...any) {
	fields := CloneFields(l.defaults)
	for index := 0; index+1 < len(args); index += 2 {
		key, ok := args[index].(string)
		if !ok {
			continue
		}
		fields[key] = args[index+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) snapshot() []capturedLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]capturedLog, len(*l.records))
	copy(out, *l.records)
	return out
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

func TestLog_WritesLevelAndFields(t *testing.T) {
	logger := newCaptureLogger()
	Log(context.Background(), logger, "error", "handler failed", map[string]any{
		"event":          "messageReceived",
		"integration_id": "gmail",
	})

	records := logger.snapshot()
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
	if records[0].level != "error" || records[0].msg != "handler failed" {
		t.Fatalf("unexpected record %+v", records[0])
	}
	if records[0].fields["event"] != "messageReceived" {
		t.Fatalf("expected event field, got %#v", records[0].fields)
	}
	if records[0].fields["integration_id"] != "gmail" {
		t.Fatalf("expected integration_id field, got %#v", records[0].fields)
	}
}

func TestLog_UnknownLevelFallsBackToInfo(t *testing.T) {
	logger := newCaptureLogger()
	Log(context.Background(), logger, "verbose", "watermark advanced", nil)
	records := logger.snapshot()
	if len(records) != 1 || records[0].level != "info" {
		t.Fatalf("expected info record, got %+v", records)
	}
}

func TestResolveLogger_PrefersProviderLogger(t *testing.T) {
	fromProvider := newCaptureLogger()
	direct := newCaptureLogger()

	resolved := ResolveLogger("webhooks", stubLoggerProvider{logger: fromProvider}, direct)
	resolved.Info("routed")

	if len(fromProvider.snapshot()) != 1 {
		t.Fatalf("expected provider logger to receive the record")
	}
	if len(direct.snapshot()) != 0 {
		t.Fatalf("expected direct logger to be shadowed by provider")
	}
}

func TestResolveLogger_NeverNil(t *testing.T) {
	resolved := ResolveLogger("webhooks", nil, nil)
	if resolved == nil {
		t.Fatalf("expected nop logger")
	}
	resolved.Info("discarded")
}

func TestFlattenFields_SortsKeys(t *testing.T) {
	args := FlattenFields(map[string]any{"b": 2, "a": 1})
	if len(args) != 4 || args[0] != "a" || args[2] != "b" {
		t.Fatalf("expected sorted key/value pairs, got %#v", args)
	}
}
