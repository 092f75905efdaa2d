package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/batepapo/internal/api/middleware"
	"github.com/eldtechnologies/batepapo/internal/chat"
)

// DeleteMessageResponse represents the delete message response.
type DeleteMessageResponse struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// PostMessage appends a message from the participant in the User header.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req chat.MessageInput
	if !h.decode(w, r, &req) {
		return
	}

	msg, err := h.messages.Post(r.Context(), middleware.GetUserFromContext(r.Context()), req)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	h.JSON(w, http.StatusCreated, msg)
}

// ListMessages returns the messages visible to the User header, optionally
// limited to the most recent ?limit=N.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	limit, err := chat.ParseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	msgs, err := h.messages.List(r.Context(), middleware.GetUserFromContext(r.Context()), limit)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	h.JSON(w, http.StatusOK, msgs)
}

// EditMessage replaces the content of a message owned by the User header.
func (h *Handler) EditMessage(w http.ResponseWriter, r *http.Request) {
	var req chat.MessageInput
	if !h.decode(w, r, &req) {
		return
	}

	msg, err := h.messages.Edit(r.Context(), chi.URLParam(r, "id"), middleware.GetUserFromContext(r.Context()), req)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	h.JSON(w, http.StatusOK, msg)
}

// DeleteMessage removes a message owned by the User header.
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.messages.Delete(r.Context(), id, middleware.GetUserFromContext(r.Context())); err != nil {
		h.Fail(w, r, err)
		return
	}

	h.JSON(w, http.StatusOK, DeleteMessageResponse{ID: id, Deleted: true})
}
