package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dealhound/models"
)

// Metrics holds the daemon's Prometheus collectors on a private registry so
// tests can build isolated instances. A nil *Metrics is valid and does
// nothing, which keeps instrumentation optional in one-shot CLI runs.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal        *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	dealsFound       *prometheus.CounterVec
	productsCreated  *prometheus.CounterVec
	productsUpdated  *prometheus.CounterVec
	dealsCreated     *prometheus.CounterVec
	dealsUpdated     *prometheus.CounterVec
	dealsSkipped     *prometheus.CounterVec
	dealsDeactivated *prometheus.CounterVec
	ingestErrors     *prometheus.CounterVec
	dealScores       *prometheus.HistogramVec
	activeRuns       prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dealhound_runs_total",
		Help: "Ingestion runs by source and final status.",
	}, []string{"source", "status"})

	m.runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dealhound_run_duration_seconds",
		Help:    "Wall-clock duration of ingestion runs.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"source"})

	m.dealsFound = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dealhound_deals_found_total",
		Help: "Raw deals fetched from sources.",
	}, []string{"source"})

	m.productsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dealhound_products_created_total",
		Help: "Canonical products created during ingestion.",
	}, []string{"source"})

	m.productsUpdated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dealhound_products_updated_total",
		Help: "Canonical products refreshed during ingestion.",
	}, []string{"source"})

	m.dealsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dealhound_deals_created_total",
		Help: "Qualifying deals newly published.",
	}, []string{"source"})

	m.dealsUpdated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dealhound_deals_updated_total",
		Help: "Already-published deals refreshed with a new price or score.",
	}, []string{"source"})

	m.dealsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dealhound_deals_skipped_total",
		Help: "Deals that failed to qualify.",
	}, []string{"source"})

	m.dealsDeactivated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dealhound_deals_deactivated_total",
		Help: "Published deals withdrawn after dropping below threshold.",
	}, []string{"source"})

	m.ingestErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dealhound_ingest_errors_total",
		Help: "Per-item ingestion failures.",
	}, []string{"source"})

	m.dealScores = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dealhound_deal_score",
		Help:    "Distribution of computed deal scores.",
		Buckets: prometheus.LinearBuckets(0, 10, 11),
	}, []string{"source"})

	m.activeRuns = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dealhound_active_runs",
		Help: "Ingestion runs currently executing.",
	})

	m.registry.MustRegister(
		m.runsTotal, m.runDuration, m.dealsFound,
		m.productsCreated, m.productsUpdated,
		m.dealsCreated, m.dealsUpdated, m.dealsSkipped, m.dealsDeactivated,
		m.ingestErrors, m.dealScores, m.activeRuns,
	)
	return m
}

func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.activeRuns.Inc()
}

func (m *Metrics) RunFinished(source string, status models.RunStatus, seconds float64) {
	if m == nil {
		return
	}
	m.activeRuns.Dec()
	m.runsTotal.WithLabelValues(source, string(status)).Inc()
	m.runDuration.WithLabelValues(source).Observe(seconds)
}

func (m *Metrics) AddStats(source string, stats *models.IngestStats) {
	if m == nil || stats == nil {
		return
	}
	m.dealsFound.WithLabelValues(source).Add(float64(stats.Fetched))
	m.productsCreated.WithLabelValues(source).Add(float64(stats.ProductsCreated))
	m.productsUpdated.WithLabelValues(source).Add(float64(stats.ProductsUpdated))
	m.dealsCreated.WithLabelValues(source).Add(float64(stats.DealsCreated))
	m.dealsUpdated.WithLabelValues(source).Add(float64(stats.DealsUpdated))
	m.dealsSkipped.WithLabelValues(source).Add(float64(stats.DealsSkipped))
	m.dealsDeactivated.WithLabelValues(source).Add(float64(stats.DealsDeactivated))
	m.ingestErrors.WithLabelValues(source).Add(float64(stats.Errors))
}

func (m *Metrics) ObserveScore(source string, score float64) {
	if m == nil {
		return
	}
	m.dealScores.WithLabelValues(source).Observe(score)
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
