package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Crucible/internal/planner"
	"github.com/MikeSquared-Agency/Crucible/internal/report"
	"github.com/MikeSquared-Agency/Crucible/internal/store"
)

type RunsHandler struct {
	store   store.Store
	planner *planner.Planner
}

func NewRunsHandler(s store.Store, p *planner.Planner) *RunsHandler {
	return &RunsHandler{store: s, planner: p}
}

func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{Channel: q.Get("channel")}
	if s := q.Get("sheet_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid sheet_id")
			return
		}
		filter.SheetID = &id
	}
	for key, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if s := q.Get(key); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "invalid "+key)
				return
			}
			*dst = n
		}
	}

	runs, err := h.store.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []*store.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *RunsHandler) load(w http.ResponseWriter, r *http.Request) (*store.Run, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return nil, false
	}
	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return nil, false
	}
	return run, true
}

func (h *RunsHandler) Get(w http.ResponseWriter, r *http.Request) {
	run, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ReportCSV renders the stored result as the spreadsheet download.
func (h *RunsHandler) ReportCSV(w http.ResponseWriter, r *http.Request) {
	run, ok := h.load(w, r)
	if !ok {
		return
	}
	rep := report.Build(run.Result, h.planner.ReportOptions())
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="crucible-%s-%s.csv"`, run.Channel, run.ID.String()[:8]))
	_ = report.WriteCSV(w, rep)
}
