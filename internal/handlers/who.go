package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Who handles participant lookup by name.
func (h *Handler) Who(w http.ResponseWriter, r *http.Request) {
	p, err := h.registry.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	h.JSON(w, http.StatusOK, toParticipantResponse(*p))
}
