package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/batepapo/internal/chat"
	"github.com/eldtechnologies/batepapo/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	registry *chat.Registry
	messages *chat.Messages
	store    store.DataStore
	redis    *redis.Client // optional, only used by health checks
}

// NewHandler creates a new Handler. redis may be nil.
func NewHandler(registry *chat.Registry, messages *chat.Messages, ds store.DataStore, redis *redis.Client) *Handler {
	return &Handler{registry: registry, messages: messages, store: ds, redis: redis}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// Fail writes err with the status matching its kind. Store failures are
// logged and reported without their cause.
func (h *Handler) Fail(w http.ResponseWriter, r *http.Request, err error) {
	var ce *chat.Error
	if !errors.As(err, &ce) {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("unexpected error")
		h.Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	status := StatusFor(ce.Kind)
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
	}
	h.Error(w, status, ce.Message)
}

// StatusFor maps an error kind to an HTTP status code.
func StatusFor(kind chat.Kind) int {
	switch kind {
	case chat.KindConflict:
		return http.StatusConflict
	case chat.KindNotFound:
		return http.StatusNotFound
	case chat.KindForbidden:
		return http.StatusForbidden
	case chat.KindInvalidArgument:
		return http.StatusUnprocessableEntity
	case chat.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into v, answering 400 or 413 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}
