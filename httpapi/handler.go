// Package httpapi exposes the webhook router over HTTP with go-chi.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/goliatone/go-webhooks/core"
)

// Router is the subset of the inbound router the HTTP layer needs.
type Router interface {
	Route(ctx context.Context, env core.Envelope) (core.Result, error)
}

type Option func(*Handler)

func WithMaxBodyBytes(limit int64) Option {
	return func(h *Handler) {
		if limit > 0 {
			h.maxBodyBytes = limit
		}
	}
}

func WithLogger(logger core.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(h *Handler) {
		h.loggerProvider = provider
	}
}

type Handler struct {
	router         Router
	maxBodyBytes   int64
	logger         core.Logger
	loggerProvider core.LoggerProvider
}

// Response is the JSON body returned to the provider.
type Response struct {
	Success   bool   `json:"success"`
	EventType string `json:"eventType,omitempty"`
	Cursor    string `json:"cursor,omitempty"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
}

func NewHandler(router Router, opts ...Option) *Handler {
	h := &Handler{
		router:       router,
		maxBodyBytes: core.DefaultConfig().HTTP.MaxBodyBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	h.logger = core.ResolveLogger("webhooks.http", h.loggerProvider, h.logger)
	return h
}

// Routes serves POST / for matcher based routing and POST /{integration} for
// explicit routing, relative to wherever the router is mounted. Use Mount
// with "/webhooks" to expose POST /webhooks and POST /webhooks/{integration}.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.limitRequestBody)
	r.Post("/", h.receive)
	r.Post("/{integration}", h.receive)
	return r
}

// Mount attaches the webhook routes under prefix, typically "/webhooks".
func (h *Handler) Mount(r chi.Router, prefix string) {
	prefix = "/" + strings.Trim(strings.TrimSpace(prefix), "/")
	r.Mount(prefix, h.Routes())
}

func (h *Handler) limitRequestBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.maxBodyBytes > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			writeJSON(w, http.StatusRequestEntityTooLarge, Response{Error: "request body too large", Code: core.WebhookErrorBadInput})
			return
		}
		writeJSON(w, http.StatusBadRequest, Response{Error: "request body unreadable", Code: core.WebhookErrorBadInput})
		return
	}

	env := core.NewEnvelope(core.EnvelopeInput{
		Headers:      flattenHeaders(r.Header),
		Body:         body,
		RoutingToken: chi.URLParam(r, "integration"),
	})
	result, err := h.router.Route(r.Context(), env)
	response := Response{
		Success:   result.Success,
		EventType: result.EventType,
		Cursor:    result.Cursor,
		Error:     result.Error,
		Code:      core.TextCodeFor(result.Kind),
	}
	status := result.StatusCode
	if err != nil {
		if response.Code == "" {
			response.Code = core.MapError(err).TextCode
		}
		if status == 0 {
			status = core.StatusCode(err)
		}
	}
	if status == 0 {
		status = http.StatusOK
	}
	if status >= http.StatusInternalServerError {
		// Internal detail stays in the logs.
		core.Log(r.Context(), h.logger, "error", "webhook request failed", map[string]any{
			"integration_id": result.IntegrationID,
			"status":         status,
			"error":          result.Error,
		})
		response.Error = http.StatusText(status)
	}
	writeJSON(w, status, response)
}

func flattenHeaders(headers http.Header) map[string]string {
	flat := make(map[string]string, len(headers))
	for key, values := range headers {
		flat[key] = strings.Join(values, ",")
	}
	return flat
}

func writeJSON(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
