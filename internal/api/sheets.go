package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Crucible/internal/hermes"
	"github.com/MikeSquared-Agency/Crucible/internal/planner"
	"github.com/MikeSquared-Agency/Crucible/internal/store"
)

type SheetsHandler struct {
	store       store.Store
	hermes      hermes.Client
	planner     *planner.Planner
	maxChannels int
}

func NewSheetsHandler(s store.Store, h hermes.Client, p *planner.Planner, maxChannels int) *SheetsHandler {
	return &SheetsHandler{store: s, hermes: h, planner: p, maxChannels: maxChannels}
}

func (h *SheetsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var sheet store.Sheet
	if err := json.NewDecoder(r.Body).Decode(&sheet); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := sheet.Validate(h.maxChannels); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, ch := range sheet.Channels {
		if err := ch.Spec.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, ch.Channel+": "+err.Error())
			return
		}
	}

	if err := h.store.CreateSheet(r.Context(), &sheet); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if h.hermes != nil {
		_ = h.hermes.Publish(hermes.SubjectSheetCreated(sheet.ID.String()), hermes.SheetEvent{SheetID: sheet.ID.String(), Name: sheet.Name})
	}
	writeJSON(w, http.StatusCreated, sheet)
}

func (h *SheetsHandler) List(w http.ResponseWriter, r *http.Request) {
	sheets, err := h.store.ListSheets(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sheets == nil {
		sheets = []*store.Sheet{}
	}
	writeJSON(w, http.StatusOK, sheets)
}

func (h *SheetsHandler) load(w http.ResponseWriter, r *http.Request) (*store.Sheet, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sheet id")
		return nil, false
	}
	sheet, err := h.store.GetSheet(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	if sheet == nil {
		writeError(w, http.StatusNotFound, "sheet not found")
		return nil, false
	}
	return sheet, true
}

func (h *SheetsHandler) Get(w http.ResponseWriter, r *http.Request) {
	sheet, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sheet)
}

func (h *SheetsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sheet, ok := h.load(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteSheet(r.Context(), sheet.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if h.hermes != nil {
		_ = h.hermes.Publish(hermes.SubjectSheetDeleted(sheet.ID.String()), hermes.SheetEvent{SheetID: sheet.ID.String(), Name: sheet.Name})
	}
	w.WriteHeader(http.StatusNoContent)
}

// Plan solves every channel of a saved sheet.
func (h *SheetsHandler) Plan(w http.ResponseWriter, r *http.Request) {
	sheet, ok := h.load(w, r)
	if !ok {
		return
	}
	plan, err := h.planner.Plan(r.Context(), sheet)
	if errors.Is(err, planner.ErrNoCatalog) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, plan)
}
