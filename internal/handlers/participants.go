package handlers

import (
	"net/http"

	"github.com/samber/lo"

	"github.com/eldtechnologies/batepapo/internal/api/middleware"
	"github.com/eldtechnologies/batepapo/internal/models"
)

// RegisterRequest represents the registration request body.
type RegisterRequest struct {
	Name string `json:"name"`
}

// ParticipantResponse represents a participant in API responses.
type ParticipantResponse struct {
	Name       string `json:"name"`
	LastStatus int64  `json:"lastStatus"` // unix milliseconds
}

// StatusResponse is returned by a successful heartbeat.
type StatusResponse struct {
	Status string `json:"status"`
}

func toParticipantResponse(p models.Participant) ParticipantResponse {
	return ParticipantResponse{Name: p.Name, LastStatus: p.LastStatus.UnixMilli()}
}

// Register handles participant registration.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.registry.Register(r.Context(), req.Name)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	h.JSON(w, http.StatusCreated, toParticipantResponse(p))
}

// ListParticipants returns every registered participant.
func (h *Handler) ListParticipants(w http.ResponseWriter, r *http.Request) {
	participants, err := h.registry.List(r.Context())
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	h.JSON(w, http.StatusOK, lo.Map(participants, func(p models.Participant, _ int) ParticipantResponse {
		return toParticipantResponse(p)
	}))
}

// Status handles heartbeats from the participant named in the User header.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Heartbeat(r.Context(), middleware.GetUserFromContext(r.Context())); err != nil {
		h.Fail(w, r, err)
		return
	}

	h.JSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}
