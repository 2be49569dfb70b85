package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the DAIOE pipeline.
type Metrics struct {
	PipelineRuns        *prometheus.CounterVec   // labels: taxonomy, outcome={success,error,cached}
	PipelineRunDuration *prometheus.HistogramVec // labels: taxonomy
	TableRows           *prometheus.GaugeVec     // labels: taxonomy, weighting
	SCBYear             *prometheus.GaugeVec     // labels: taxonomy

	// Remote source metrics.
	SourceRequests        *prometheus.CounterVec   // labels: source={scb,daioe,workbook}, outcome={success,error}
	SourceRequestDuration *prometheus.HistogramVec // labels: source

	// Cache and publishing metrics.
	CacheLookups     *prometheus.CounterVec // labels: result={hit,miss,error}
	CacheWriteErrors prometheus.Counter
	RowsPublished    prometheus.Counter
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates all pipeline metrics and registers them with reg.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	m := newMetrics()
	reg.MustRegister(
		m.PipelineRuns,
		m.PipelineRunDuration,
		m.TableRows,
		m.SCBYear,
		m.SourceRequests,
		m.SourceRequestDuration,
		m.CacheLookups,
		m.CacheWriteErrors,
		m.RowsPublished,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, so tests can
// build as many as they like without "already registered" panics.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		PipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "daioe",
			Name:      "pipeline_runs_total",
			Help:      "Pipeline runs by taxonomy and outcome.",
		}, []string{"taxonomy", "outcome"}),
		PipelineRunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "daioe",
			Name:      "pipeline_run_duration_seconds",
			Help:      "Duration of a complete fetch-load-aggregate run.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"taxonomy"}),
		TableRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "daioe",
			Name:      "table_rows",
			Help:      "Rows in the latest aggregate table.",
		}, []string{"taxonomy", "weighting"}),
		SCBYear: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "daioe",
			Name:      "scb_year",
			Help:      "Employment year used by the latest run.",
		}, []string{"taxonomy"}),
		SourceRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "daioe",
			Name:      "source_requests_total",
			Help:      "Remote source requests by source and outcome.",
		}, []string{"source", "outcome"}),
		SourceRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "daioe",
			Name:      "source_request_duration_seconds",
			Help:      "Remote source request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"source"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "daioe",
			Name:      "cache_lookups_total",
			Help:      "Result cache lookups by result.",
		}, []string{"result"}),
		CacheWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "daioe",
			Name:      "cache_write_errors_total",
			Help:      "Failed result cache writes.",
		}),
		RowsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "daioe",
			Name:      "rows_published_total",
			Help:      "Aggregate rows written to the sink topic.",
		}),
	}
}
