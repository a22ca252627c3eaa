package core

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestNewKindError_AssignsStableCodes(t *testing.T) {
	err := NewKindError(KindSignatureInvalid, "signature mismatch", map[string]any{"integration_id": "github"})

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.TextCode != WebhookErrorSignatureInvalid {
		t.Fatalf("expected %q text code, got %q", WebhookErrorSignatureInvalid, rich.TextCode)
	}
	if rich.Code != http.StatusUnauthorized {
		t.Fatalf("expected %d code, got %d", http.StatusUnauthorized, rich.Code)
	}
	if rich.Category != goerrors.CategoryAuth {
		t.Fatalf("expected auth category, got %q", rich.Category)
	}
	if KindOf(err) != KindSignatureInvalid {
		t.Fatalf("expected signature invalid kind, got %q", KindOf(err))
	}
}

func TestKindOf_ClassifiesWrappedCollaboratorErrors(t *testing.T) {
	source := stderrors.New("history api returned 503")
	err := WrapKindError(source, KindDeltaFetchFailed, "fetch delta", nil)
	if KindOf(err) != KindDeltaFetchFailed {
		t.Fatalf("expected delta fetch failed kind, got %q", KindOf(err))
	}

	if KindOf(fmt.Errorf("route: %w", ErrRoutingAmbiguous)) != KindRoutingAmbiguous {
		t.Fatalf("expected routing ambiguity through fmt wrapping")
	}
	if KindOf(stderrors.New("boom")) != KindInternal {
		t.Fatalf("expected unknown errors to classify as internal")
	}
	if KindOf(nil) != KindNone {
		t.Fatalf("expected nil error to classify as none")
	}
}

func TestStatusCode_MapsTaxonomyToHTTP(t *testing.T) {
	cases := map[ErrorKind]int{
		KindSignatureMissing: http.StatusUnauthorized,
		KindSignatureInvalid: http.StatusUnauthorized,
		KindPayloadMalformed: http.StatusBadRequest,
		KindRoutingAmbiguous: http.StatusInternalServerError,
		KindNoMatch:          http.StatusNotFound,
	}
	for kind, want := range cases {
		if got := StatusCode(NewKindError(kind, "", nil)); got != want {
			t.Fatalf("kind %q: expected status %d, got %d", kind, want, got)
		}
	}
	if got := StatusCode(stderrors.New("unexpected")); got != http.StatusInternalServerError {
		t.Fatalf("expected unexpected failures to map to 500, got %d", got)
	}
	if got := StatusCode(nil); got != http.StatusOK {
		t.Fatalf("expected nil error to map to 200, got %d", got)
	}
}

func TestMapError_NormalizesPlainErrors(t *testing.T) {
	mapped := MapError(fmt.Errorf("decode: %w", ErrPayloadMalformed))
	if mapped == nil {
		t.Fatalf("expected mapped error")
	}
	if mapped.TextCode != WebhookErrorPayloadMalformed {
		t.Fatalf("expected payload malformed text code, got %q", mapped.TextCode)
	}

	mapped = MapError(stderrors.New("disk on fire"))
	if mapped.Code == 0 || mapped.TextCode == "" {
		t.Fatalf("expected fallback envelope to carry code and text code")
	}
}
