package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

type ErrorKind string

const (
	KindNone             ErrorKind = ""
	KindRoutingAmbiguous ErrorKind = "routing_ambiguous"
	KindNoMatch          ErrorKind = "no_match"
	KindSignatureMissing ErrorKind = "signature_missing"
	KindSignatureInvalid ErrorKind = "signature_invalid"
	KindPayloadMalformed ErrorKind = "payload_malformed"
	KindDeltaFetchFailed ErrorKind = "delta_fetch_failed"
	KindHandlerFailed    ErrorKind = "handler_failed"
	KindBadInput         ErrorKind = "bad_input"
	KindInternal         ErrorKind = "internal"
)

const (
	WebhookErrorRoutingAmbiguous = "WEBHOOK_ROUTING_AMBIGUOUS"
	WebhookErrorNoMatch          = "WEBHOOK_NO_MATCH"
	WebhookErrorSignatureMissing = "WEBHOOK_SIGNATURE_MISSING"
	WebhookErrorSignatureInvalid = "WEBHOOK_SIGNATURE_INVALID"
	WebhookErrorPayloadMalformed = "WEBHOOK_PAYLOAD_MALFORMED"
	WebhookErrorDeltaFetchFailed = "WEBHOOK_DELTA_FETCH_FAILED"
	WebhookErrorHandlerFailed    = "WEBHOOK_HANDLER_FAILED"
	WebhookErrorBadInput         = "WEBHOOK_BAD_INPUT"
	WebhookErrorConflict         = "WEBHOOK_CONFLICT"
	WebhookErrorInternal         = "WEBHOOK_INTERNAL_ERROR"
)

var (
	ErrRoutingAmbiguous = errors.New("core: more than one integration claims the envelope")
	ErrNoMatch          = errors.New("core: no integration claims the envelope")
	ErrSignatureMissing = errors.New("core: signature missing")
	ErrSignatureInvalid = errors.New("core: signature invalid")
	ErrPayloadMalformed = errors.New("core: payload malformed")
	ErrDeltaFetchFailed = errors.New("core: delta fetch failed")
	ErrHandlerFailed    = errors.New("core: handler failed")
)

type kindSpec struct {
	sentinel error
	category goerrors.Category
	code     int
	textCode string
}

var kindSpecs = map[ErrorKind]kindSpec{
	KindRoutingAmbiguous: {ErrRoutingAmbiguous, goerrors.CategoryConflict, http.StatusInternalServerError, WebhookErrorRoutingAmbiguous},
	KindNoMatch:          {ErrNoMatch, goerrors.CategoryNotFound, http.StatusNotFound, WebhookErrorNoMatch},
	KindSignatureMissing: {ErrSignatureMissing, goerrors.CategoryAuth, http.StatusUnauthorized, WebhookErrorSignatureMissing},
	KindSignatureInvalid: {ErrSignatureInvalid, goerrors.CategoryAuth, http.StatusUnauthorized, WebhookErrorSignatureInvalid},
	KindPayloadMalformed: {ErrPayloadMalformed, goerrors.CategoryBadInput, http.StatusBadRequest, WebhookErrorPayloadMalformed},
	KindDeltaFetchFailed: {ErrDeltaFetchFailed, goerrors.CategoryOperation, http.StatusBadGateway, WebhookErrorDeltaFetchFailed},
	KindHandlerFailed:    {ErrHandlerFailed, goerrors.CategoryOperation, http.StatusInternalServerError, WebhookErrorHandlerFailed},
	KindBadInput:         {nil, goerrors.CategoryBadInput, http.StatusBadRequest, WebhookErrorBadInput},
	KindInternal:         {nil, goerrors.CategoryInternal, http.StatusInternalServerError, WebhookErrorInternal},
}

// NewKindError builds a go-errors envelope for one taxonomy kind. The kind
// sentinel stays reachable through errors.Is.
func NewKindError(kind ErrorKind, message string, metadata map[string]any) error {
	spec, ok := kindSpecs[kind]
	if !ok {
		spec = kindSpecs[KindInternal]
	}
	message = strings.TrimSpace(message)
	var err *goerrors.Error
	if spec.sentinel != nil {
		if message == "" {
			message = spec.sentinel.Error()
		}
		err = goerrors.Wrap(spec.sentinel, spec.category, message)
	} else {
		if message == "" {
			message = "An unexpected error occurred"
		}
		err = goerrors.New(message, spec.category)
	}
	err = err.WithCode(spec.code).WithTextCode(spec.textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// WrapKindError attaches a taxonomy kind to a collaborator error.
func WrapKindError(source error, kind ErrorKind, message string, metadata map[string]any) error {
	if source == nil {
		return NewKindError(kind, message, metadata)
	}
	spec, ok := kindSpecs[kind]
	if !ok {
		spec = kindSpecs[KindInternal]
	}
	if spec.sentinel != nil && !errors.Is(source, spec.sentinel) {
		source = errors.Join(spec.sentinel, source)
	}
	err := goerrors.Wrap(source, spec.category, strings.TrimSpace(message)).
		WithCode(spec.code).
		WithTextCode(spec.textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// KindOf classifies any error into the webhook taxonomy.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for _, kind := range []ErrorKind{
		KindRoutingAmbiguous,
		KindSignatureMissing,
		KindSignatureInvalid,
		KindPayloadMalformed,
		KindDeltaFetchFailed,
		KindHandlerFailed,
		KindNoMatch,
	} {
		if errors.Is(err, kindSpecs[kind].sentinel) {
			return kind
		}
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		for kind, spec := range kindSpecs {
			if spec.textCode == rich.TextCode {
				return kind
			}
		}
		switch rich.Category {
		case goerrors.CategoryBadInput, goerrors.CategoryValidation:
			return KindBadInput
		}
	}
	return KindInternal
}

// StatusCode maps an error to the status the ingress reports to the provider.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	kind := KindOf(err)
	switch kind {
	case KindSignatureMissing, KindSignatureInvalid:
		return http.StatusUnauthorized
	case KindPayloadMalformed, KindBadInput:
		return http.StatusBadRequest
	case KindNoMatch:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// MapError normalizes any error into a go-errors envelope with a webhook
// text code.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return ensureErrorEnvelope(rich)
	}
	kind := KindOf(err)
	if kind != KindInternal {
		var mapped *goerrors.Error
		if goerrors.As(WrapKindError(err, kind, err.Error(), nil), &mapped) {
			return mapped
		}
	}
	return ensureErrorEnvelope(goerrors.MapToError(err, goerrors.DefaultErrorMappers()))
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = httpStatusFor(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return WebhookErrorBadInput
	case goerrors.CategoryNotFound:
		return WebhookErrorNoMatch
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return WebhookErrorSignatureInvalid
	case goerrors.CategoryConflict:
		return WebhookErrorConflict
	default:
		return WebhookErrorInternal
	}
}

func httpStatusFor(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// TextCodeFor returns the text code reported for kind.
func TextCodeFor(kind ErrorKind) string {
	if kind == KindNone {
		return ""
	}
	if spec, ok := kindSpecs[kind]; ok {
		return spec.textCode
	}
	return WebhookErrorInternal
}
