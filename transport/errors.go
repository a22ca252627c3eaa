package transport

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-webhooks/core"
)

func transportError(
	message string,
	category goerrors.Category,
	code int,
	metadata map[string]any,
) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(transportTextCode(category))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func transportWrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	metadata map[string]any,
) error {
	if source == nil {
		return transportError(message, category, code, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(transportTextCode(category))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// Provider API failures surface as delta fetch failures to the reconciler.
func transportTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return core.WebhookErrorBadInput
	case goerrors.CategoryInternal:
		return core.WebhookErrorInternal
	default:
		return core.WebhookErrorDeltaFetchFailed
	}
}

func categoryForStatus(status int) goerrors.Category {
	switch {
	case status == http.StatusUnauthorized:
		return goerrors.CategoryAuth
	case status == http.StatusForbidden:
		return goerrors.CategoryAuthz
	case status == http.StatusNotFound:
		return goerrors.CategoryNotFound
	case status == http.StatusTooManyRequests:
		return goerrors.CategoryRateLimit
	default:
		return goerrors.CategoryExternal
	}
}
