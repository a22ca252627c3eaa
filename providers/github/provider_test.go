package github

import (
	"context"
	"testing"

	"github.com/goliatone/go-webhooks/core"
	"github.com/goliatone/go-webhooks/signature"
)

const pushPayload = `{"action":"opened","repository":{"full_name":"Acme/api","owner":{"login":"Acme"}},"number":7}`

func TestParseEvent_CombinesEventAndAction(t *testing.T) {
	env := core.NewEnvelope(core.EnvelopeInput{
		Headers: map[string]string{HeaderEvent: "pull_request", HeaderDelivery: "d-1"},
		Body:    []byte(pushPayload),
	})
	event, err := ParseEvent(context.Background(), env)
	if err != nil {
		t.Fatalf("parse event: %v", err)
	}
	if event.Type != "pull_request.opened" {
		t.Fatalf("unexpected event type %q", event.Type)
	}
	if event.ID != "d-1" || event.TenantID != "acme" {
		t.Fatalf("unexpected event identity %+v", event)
	}
	payload := event.Payload.(Event)
	if payload.Repository != "Acme/api" || payload.Body["number"] == nil {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestParseEvent_WithoutActionUsesEventName(t *testing.T) {
	env := core.NewEnvelope(core.EnvelopeInput{
		Headers: map[string]string{HeaderEvent: "push"},
		Body:    []byte(`{"ref":"refs/heads/main","organization":{"login":"Acme"}}`),
	})
	event, err := ParseEvent(context.Background(), env)
	if err != nil {
		t.Fatalf("parse event: %v", err)
	}
	if event.Type != "push" || event.TenantID != "acme" {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestParseEvent_RejectsNonObjectBody(t *testing.T) {
	env := core.NewEnvelope(core.EnvelopeInput{
		Headers: map[string]string{HeaderEvent: "push"},
		Body:    []byte(`[1,2]`),
	})
	if _, err := ParseEvent(context.Background(), env); err == nil {
		t.Fatalf("expected malformed payload error")
	}
}

func TestNew_UsesGitHubSignatureScheme(t *testing.T) {
	contract, err := New(Config{})
	if err != nil {
		t.Fatalf("new contract: %v", err)
	}
	body := []byte(pushPayload)
	header := signature.GitHub().HeaderValue(body, "s3cret")
	env := core.NewEnvelope(core.EnvelopeInput{
		Headers: map[string]string{HeaderEvent: "push", "X-Hub-Signature-256": header},
		Body:    body,
	})
	if !contract.Matcher(env) {
		t.Fatalf("expected matcher to claim github delivery")
	}
	if verification := contract.Verifier.Verify(env, "s3cret"); !verification.Valid {
		t.Fatalf("expected valid signature, got %+v", verification)
	}
	if verification := contract.Verifier.Verify(env, "other"); verification.Valid {
		t.Fatalf("expected signature mismatch")
	}
	if contract.SecretRef != IntegrationID {
		t.Fatalf("expected default secret ref, got %q", contract.SecretRef)
	}
}
