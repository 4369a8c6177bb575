package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "accident_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the ETL pipeline.
type Metrics struct {
	RecordsIngested   prometheus.Counter
	FilesSkipped      prometheus.Counter
	RowsDropped       *prometheus.CounterVec // labels: reason={date}
	DuplicatesDropped prometheus.Counter
	UnknownValues     *prometheus.CounterVec // labels: column
	Unrecognized      *prometheus.CounterVec // labels: column
	TableBytes        prometheus.Gauge
	PipelineRunning   prometheus.Gauge

	// Spatial metrics.
	PointsProjected  prometheus.Counter
	PointsExcluded   prometheus.Counter
	ClustersProduced prometheus.Gauge

	// Sink metrics.
	ResultsPublished *prometheus.CounterVec // labels: sink={kafka,sqlite}
	SinkErrors       *prometheus.CounterVec // labels: sink

	StageDuration *prometheus.HistogramVec // labels: stage={ingest,normalize,snapshot,aggregate,project,cluster,load}
}

var stageBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		RecordsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_ingested_total",
			Help:      "Total raw rows read from regional files.",
		}),
		FilesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_skipped_total",
			Help:      "Archive entries skipped because they are not regional data files.",
		}),
		RowsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_dropped_total",
			Help:      "Rows dropped during normalization by reason.",
		}, []string{"reason"}),
		DuplicatesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_dropped_total",
			Help:      "Rows dropped because their accident number was already seen.",
		}),
		UnknownValues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unknown_values_total",
			Help:      "Numeric values that failed to parse, by column.",
		}, []string{"column"}),
		Unrecognized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unrecognized_categories_total",
			Help:      "Category values outside the column vocabulary, by column.",
		}, []string{"column"}),
		TableBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "table_bytes",
			Help:      "Estimated in-memory size of the normalized table.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a run is in progress, 0 otherwise.",
		}),
		PointsProjected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_projected_total",
			Help:      "Rows projected into the planar reference system.",
		}),
		PointsExcluded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_excluded_total",
			Help:      "Rows excluded from projection for missing coordinates.",
		}),
		ClustersProduced: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clusters_produced",
			Help:      "Number of clusters in the latest analysis.",
		}),
		ResultsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_published_total",
			Help:      "Result records handed to a sink.",
		}, []string{"sink"}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Failed result loads by sink.",
		}, []string{"sink"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage.",
			Buckets:   stageBuckets,
		}, []string{"stage"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RecordsIngested,
		m.FilesSkipped,
		m.RowsDropped,
		m.DuplicatesDropped,
		m.UnknownValues,
		m.Unrecognized,
		m.TableBytes,
		m.PipelineRunning,
		m.PointsProjected,
		m.PointsExcluded,
		m.ClustersProduced,
		m.ResultsPublished,
		m.SinkErrors,
		m.StageDuration,
	}
}
