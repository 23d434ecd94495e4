package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MikeSquared-Agency/Crucible/internal/hermes"
	"github.com/MikeSquared-Agency/Crucible/internal/planner"
	"github.com/MikeSquared-Agency/Crucible/internal/store"
	"github.com/MikeSquared-Agency/Crucible/internal/version"
)

// NewRouter mounts the operator API. h may be nil. maxChannels bounds the
// channels accepted on a saved sheet.
func NewRouter(s store.Store, h hermes.Client, p *planner.Planner, maxChannels int, adminToken string, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RequestID)
	r.Use(RequestLogger(logger))
	r.Use(RateLimitMiddleware(120))

	blend := NewBlendHandler(p)
	cat := NewCatalogHandler(s, h, p, logger)
	sheets := NewSheetsHandler(s, h, p, maxChannels)
	runs := NewRunsHandler(s, p)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(OperatorIDMiddleware)

		r.Post("/blend/solve", blend.Solve)

		r.Get("/catalog/materials", cat.Materials)
		r.Get("/catalog/additives", cat.Additives)
		r.Get("/catalog/groups", cat.Groups)
		r.Get("/catalog/groups/{group}/limits", cat.Limits)
		r.Get("/catalog/presets/{channel}", cat.Preset)

		r.Post("/sheets", sheets.Create)
		r.Get("/sheets", sheets.List)
		r.Get("/sheets/{id}", sheets.Get)
		r.Delete("/sheets/{id}", sheets.Delete)
		r.Post("/sheets/{id}/plan", sheets.Plan)

		r.Get("/runs", runs.List)
		r.Get("/runs/{id}", runs.Get)
		r.Get("/runs/{id}/report.csv", runs.ReportCSV)

		r.Group(func(r chi.Router) {
			r.Use(AdminAuthMiddleware(adminToken))
			r.Put("/catalog/materials/{name}", cat.PutMaterial)
			r.Put("/catalog/additives/{name}", cat.PutAdditive)
			r.Put("/catalog/groups/{group}/limits", cat.PutLimits)
		})
	})

	return r
}

func NewMetricsRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version.String()})
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
