package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// EnvelopeInput is the raw material for an Envelope.
type EnvelopeInput struct {
	Headers      map[string]string
	Body         []byte
	ReceivedAt   time.Time
	RoutingToken string
}

// Envelope is an immutable inbound webhook delivery. Accessors return
// copies so handlers cannot mutate what the router and verifier observed.
type Envelope struct {
	headers      map[string]string
	body         []byte
	parsed       map[string]any
	receivedAt   time.Time
	routingToken string
}

func NewEnvelope(in EnvelopeInput) Envelope {
	headers := make(map[string]string, len(in.Headers))
	for key, value := range in.Headers {
		headers[strings.ToLower(strings.TrimSpace(key))] = value
	}
	receivedAt := in.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	env := Envelope{
		headers:      headers,
		body:         append([]byte(nil), in.Body...),
		receivedAt:   receivedAt.UTC(),
		routingToken: strings.ToLower(strings.TrimSpace(in.RoutingToken)),
	}
	trimmed := bytes.TrimSpace(env.body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var parsed map[string]any
		decoder := json.NewDecoder(bytes.NewReader(trimmed))
		decoder.UseNumber()
		if err := decoder.Decode(&parsed); err == nil {
			env.parsed = parsed
		}
	}
	return env
}

func (e Envelope) Header(key string) string {
	return strings.TrimSpace(e.headers[strings.ToLower(strings.TrimSpace(key))])
}

func (e Envelope) HasHeader(key string) bool {
	_, ok := e.headers[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

func (e Envelope) Headers() map[string]string {
	out := make(map[string]string, len(e.headers))
	for key, value := range e.headers {
		out[key] = value
	}
	return out
}

func (e Envelope) RawBody() []byte {
	return append([]byte(nil), e.body...)
}

// Parsed returns the JSON object body, if the body was one.
func (e Envelope) Parsed() (map[string]any, bool) {
	if e.parsed == nil {
		return nil, false
	}
	return cloneJSONObject(e.parsed), true
}

// Field returns a copy of one top-level JSON body field.
func (e Envelope) Field(key string) (any, bool) {
	if e.parsed == nil {
		return nil, false
	}
	value, ok := e.parsed[key]
	return cloneJSONValue(value), ok
}

func (e Envelope) StringField(key string) string {
	value, ok := e.Field(key)
	if !ok || value == nil {
		return ""
	}
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return typed.String()
	default:
		return ""
	}
}

// Decode unmarshals the raw body into target.
func (e Envelope) Decode(target any) error {
	if len(bytes.TrimSpace(e.body)) == 0 {
		return errors.New("core: envelope body is empty")
	}
	return json.Unmarshal(e.body, target)
}

func (e Envelope) ReceivedAt() time.Time {
	return e.receivedAt
}

// RoutingToken is the explicit integration id carried by the ingress path,
// empty when the delivery must be routed by matchers.
func (e Envelope) RoutingToken() string {
	return e.routingToken
}

type DomainEvent struct {
	ID            string
	Type          string
	IntegrationID string
	TenantID      string
	Payload       any
	OccurredAt    time.Time
}

// CoarsePayload is the business-free payload of a coarse change event.
type CoarsePayload struct {
	Cursor      string `json:"cursor"`
	PriorCursor string `json:"prior_cursor,omitempty"`
}

type Notification struct {
	TenantID string
	Cursor   string
	Metadata map[string]any
}

type Delta struct {
	ID      string
	Type    string
	Payload any
}

type DeltaPage struct {
	Items      []Delta
	NextCursor string
	HasMore    bool
}

type Watermark struct {
	IntegrationID string
	TenantID      string
	Notified      string
	Reconciled    string
	UpdatedAt     time.Time
}

// Since is the cursor delta fetches start from.
func (w Watermark) Since(split bool) string {
	if split && w.Reconciled != "" {
		return w.Reconciled
	}
	return w.Notified
}

type Verification struct {
	Valid    bool
	Unsigned bool
	Kind     ErrorKind
	Reason   string
}

func (v Verification) Err() error {
	if v.Valid {
		return nil
	}
	return NewKindError(v.Kind, v.Reason, nil)
}

type HandlerFailure struct {
	Index int
	Err   error
}

type EmitReport struct {
	Event     string
	Attempted int
	Failures  []HandlerFailure
}

func (r EmitReport) Failed() bool {
	return len(r.Failures) > 0
}

func (r EmitReport) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, failure := range r.Failures {
		errs = append(errs, failure.Err)
	}
	return errors.Join(errs...)
}

type ReconcileOutcome struct {
	IntegrationID  string
	TenantID       string
	PriorCursor    string
	Cursor         string
	Baseline       bool
	Pages          int
	Items          int
	Dispatched     []string
	HandlerFailed  int
	Truncated      bool
	FetchErr       error
	ReconciledUpTo string
}

type Result struct {
	Success       bool
	Claimed       bool
	IntegrationID string
	TenantID      string
	EventType     string
	Cursor        string
	Error         string
	Kind          ErrorKind
	StatusCode    int
	Reconcile     *ReconcileOutcome
}

func cloneJSONObject(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = cloneJSONValue(value)
	}
	return out
}

func cloneJSONValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return cloneJSONObject(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneJSONValue(item)
		}
		return out
	default:
		return value
	}
}
