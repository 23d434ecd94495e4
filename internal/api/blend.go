package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MikeSquared-Agency/Crucible/internal/planner"
	"github.com/MikeSquared-Agency/Crucible/internal/store"
)

type BlendHandler struct {
	planner *planner.Planner
}

func NewBlendHandler(p *planner.Planner) *BlendHandler {
	return &BlendHandler{planner: p}
}

type SolveRequest struct {
	Group   string             `json:"group"`
	Channel store.ChannelInput `json:"channel"`
}

// Solve runs a single unsaved channel. The run is still persisted and published.
func (h *BlendHandler) Solve(w http.ResponseWriter, r *http.Request) {
	var req SolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Channel.Spec.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Channel.Channel == "" {
		req.Channel.Channel = "Ch1"
	}

	out, err := h.planner.SolveChannel(r.Context(), req.Group, req.Channel)
	if errors.Is(err, planner.ErrNoCatalog) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}
