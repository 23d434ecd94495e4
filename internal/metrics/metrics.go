// Package metrics exposes Prometheus collectors for solves and catalog refreshes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/MikeSquared-Agency/Crucible/internal/blend"
)

type Metrics struct {
	solves         *prometheus.CounterVec
	solveDuration  prometheus.Histogram
	warnings       *prometheus.CounterVec
	topUpGrams     prometheus.Histogram
	rankDeficient  prometheus.Counter
	catalogEntries *prometheus.GaugeVec
	catalogRefresh *prometheus.CounterVec
	assayRequests  *prometheus.CounterVec
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer to
// serve them from promhttp.Handler.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		solves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crucible_solves_total",
			Help: "Channel solves by judgement outcome.",
		}, []string{"outcome"}),
		solveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crucible_solve_duration_seconds",
			Help:    "Wall time of a single channel solve.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crucible_solve_warnings_total",
			Help: "Warnings emitted by solves, by code.",
		}, []string{"code"}),
		topUpGrams: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crucible_topup_grams",
			Help:    "Post-analysis top-up mass per channel with a deferral.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}),
		rankDeficient: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crucible_rank_deficient_total",
			Help: "Solves whose automatic materials were linearly dependent.",
		}),
		catalogEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crucible_catalog_entries",
			Help: "Entries in the current catalog snapshot.",
		}, []string{"table"}),
		catalogRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crucible_catalog_refresh_total",
			Help: "Catalog snapshot reloads by outcome.",
		}, []string{"outcome"}),
		assayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crucible_assay_requests_total",
			Help: "Post-analysis assay requests filed with the lab.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.solves, m.solveDuration, m.warnings, m.topUpGrams, m.rankDeficient,
		m.catalogEntries, m.catalogRefresh, m.assayRequests)
	return m
}

func (m *Metrics) ObserveSolve(res blend.Result, took time.Duration) {
	outcome := "fail"
	if res.Passed() {
		outcome = "pass"
	}
	m.solves.WithLabelValues(outcome).Inc()
	m.solveDuration.Observe(took.Seconds())
	for _, w := range res.Warnings {
		m.warnings.WithLabelValues(w.Code).Inc()
		if w.Code == blend.CodeRankDeficient {
			m.rankDeficient.Inc()
		}
	}
	if res.Dosing.HasTopUp() {
		m.topUpGrams.Observe(res.Dosing.TopUpTotal())
	}
}

func (m *Metrics) CatalogLoaded(materials, additives, groups int) {
	m.catalogEntries.WithLabelValues("materials").Set(float64(materials))
	m.catalogEntries.WithLabelValues("additives").Set(float64(additives))
	m.catalogEntries.WithLabelValues("groups").Set(float64(groups))
	m.catalogRefresh.WithLabelValues("ok").Inc()
}

func (m *Metrics) CatalogRefreshFailed() {
	m.catalogRefresh.WithLabelValues("error").Inc()
}

func (m *Metrics) AssayRequested(err error) {
	if err != nil {
		m.assayRequests.WithLabelValues("error").Inc()
		return
	}
	m.assayRequests.WithLabelValues("ok").Inc()
}
