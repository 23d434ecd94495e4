package api

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MikeSquared-Agency/Crucible/internal/alloy"
	"github.com/MikeSquared-Agency/Crucible/internal/catalog"
	"github.com/MikeSquared-Agency/Crucible/internal/hermes"
	"github.com/MikeSquared-Agency/Crucible/internal/planner"
	"github.com/MikeSquared-Agency/Crucible/internal/store"
)

// CatalogHandler serves reads from the planner's snapshot and writes through to
// the store. A write is visible to solves after the next refresh.
type CatalogHandler struct {
	store   store.Store
	hermes  hermes.Client
	planner *planner.Planner
	logger  *slog.Logger
}

func NewCatalogHandler(s store.Store, h hermes.Client, p *planner.Planner, logger *slog.Logger) *CatalogHandler {
	return &CatalogHandler{store: s, hermes: h, planner: p, logger: logger}
}

func (h *CatalogHandler) snapshot(w http.ResponseWriter) (*catalog.Catalog, bool) {
	c := h.planner.Catalog()
	if c == nil {
		writeError(w, http.StatusServiceUnavailable, planner.ErrNoCatalog.Error())
		return nil, false
	}
	return c, true
}

func (h *CatalogHandler) Materials(w http.ResponseWriter, r *http.Request) {
	c, ok := h.snapshot(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.Materials())
}

func (h *CatalogHandler) Additives(w http.ResponseWriter, r *http.Request) {
	c, ok := h.snapshot(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.Additives())
}

func (h *CatalogHandler) Groups(w http.ResponseWriter, r *http.Request) {
	c, ok := h.snapshot(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.Groups())
}

func (h *CatalogHandler) Limits(w http.ResponseWriter, r *http.Request) {
	c, ok := h.snapshot(w)
	if !ok {
		return
	}
	group, err := groupParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid group")
		return
	}
	limits, found := c.AllLimits()[group]
	if !found {
		writeError(w, http.StatusNotFound, "group not found")
		return
	}
	writeJSON(w, http.StatusOK, limits)
}

func (h *CatalogHandler) Preset(w http.ResponseWriter, r *http.Request) {
	c, ok := h.snapshot(w)
	if !ok {
		return
	}
	p, found := c.Preset(chi.URLParam(r, "channel"))
	if !found {
		writeError(w, http.StatusNotFound, "preset not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *CatalogHandler) PutMaterial(w http.ResponseWriter, r *http.Request) {
	var m alloy.Material
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	m.Name = catalog.NormalizeName(chi.URLParam(r, "name"))
	if m.Kind == "" {
		m.Kind = alloy.KindAlloy
	}
	if m.Kind != alloy.KindBase && m.Kind != alloy.KindAlloy {
		writeError(w, http.StatusBadRequest, "kind must be base or alloy")
		return
	}
	if err := validateContent(m.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if m.Yield != nil && (*m.Yield <= 0 || *m.Yield > 1) {
		writeError(w, http.StatusBadRequest, "yield must be in (0, 1]")
		return
	}
	if err := h.store.UpsertMaterial(r.Context(), m); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.updated(r, "materials", m.Name)
	writeJSON(w, http.StatusOK, m)
}

func (h *CatalogHandler) PutAdditive(w http.ResponseWriter, r *http.Request) {
	var a alloy.Additive
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	a.Name = catalog.NormalizeName(chi.URLParam(r, "name"))
	if err := validateContent(a.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.store.UpsertAdditive(r.Context(), a); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.updated(r, "additives", a.Name)
	writeJSON(w, http.StatusOK, a)
}

func (h *CatalogHandler) PutLimits(w http.ResponseWriter, r *http.Request) {
	group, err := groupParam(r)
	if err != nil || group == "" {
		writeError(w, http.StatusBadRequest, "invalid group")
		return
	}
	var limits alloy.Limits
	if err := json.NewDecoder(r.Body).Decode(&limits); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateContent(limits); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.store.UpsertLimits(r.Context(), group, limits); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.updated(r, "limits", group)
	writeJSON(w, http.StatusOK, limits)
}

// updated refreshes this instance and tells the others.
func (h *CatalogHandler) updated(r *http.Request, table, name string) {
	h.planner.RequestRefresh()
	if h.hermes == nil {
		return
	}
	evt := hermes.CatalogUpdatedEvent{
		Table:     table,
		Name:      name,
		UpdatedBy: r.Header.Get(operatorHeader),
		Timestamp: time.Now().UTC(),
	}
	if err := h.hermes.Publish(hermes.SubjectCatalogUpdated, evt); err != nil {
		h.logger.Warn("failed to publish catalog update", "table", table, "name", name, "error", err)
	}
}

// groupParam returns the unescaped group. Group keys contain a slash, so clients
// send them as "OES%2FA".
func groupParam(r *http.Request) (string, error) {
	return url.PathUnescape(chi.URLParam(r, "group"))
}

func validateContent(content map[alloy.Element]float64) error {
	for e, v := range content {
		if _, err := alloy.ParseElement(string(e)); err != nil {
			return err
		}
		if math.IsNaN(v) || v < 0 || v > 100 {
			return alloy.Invalid("%s must be between 0 and 100, got %v", e, v)
		}
	}
	return nil
}
