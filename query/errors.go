package query

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-webhooks/core"
)

func queryDependencyError(message string) error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.WebhookErrorInternal)
}

func queryValidationError(field string, message string) error {
	return goerrors.NewValidation("query: validation failed", goerrors.FieldError{
		Field:   field,
		Message: message,
	}).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.WebhookErrorBadInput).
		WithSeverity(goerrors.SeverityError)
}

func queryNotFoundError(integrationID string, tenantID string) error {
	return goerrors.New("query: watermark not found", goerrors.CategoryNotFound).
		WithCode(http.StatusNotFound).
		WithTextCode(core.WebhookErrorNoMatch).
		WithMetadata(map[string]any{
			"integration_id": integrationID,
			"tenant_id":      tenantID,
		})
}
