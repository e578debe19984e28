package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// preprocessing and gathering pipelines.
type Metrics struct {
	RunActive prometheus.Gauge

	// Preprocessing metrics.
	FilesProcessed prometheus.Counter
	FilesSkipped   *prometheus.CounterVec // labels: reason={exists,read_error,position,orbit,write_error}
	RecordsJoined  prometheus.Counter
	RecordsDropped prometheus.Counter
	SkyOmissions   prometheus.Counter
	FileDuration   prometheus.Histogram

	// Orbit metrics.
	OrbitDownloads        prometheus.Counter
	OrbitDownloadFailures prometheus.Counter
	OrbitCacheHits        prometheus.Counter

	// Gathering metrics.
	IntervalsGathered prometheus.Counter
	IntervalRows      prometheus.Histogram
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.RunActive,
		m.FilesProcessed,
		m.FilesSkipped,
		m.RecordsJoined,
		m.RecordsDropped,
		m.SkyOmissions,
		m.FileDuration,
		m.OrbitDownloads,
		m.OrbitDownloadFailures,
		m.OrbitCacheHits,
		m.IntervalsGathered,
		m.IntervalRows,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, so tests
// can construct fresh instances without "already registered" panics.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		RunActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gnssvod",
			Name:      "run_active",
			Help:      "1 while a pipeline run is in progress, 0 otherwise.",
		}),
		FilesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gnssvod",
			Name:      "files_processed_total",
			Help:      "Observation files preprocessed successfully.",
		}),
		FilesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gnssvod",
			Name:      "files_skipped_total",
			Help:      "Observation files skipped, by reason.",
		}, []string{"reason"}),
		RecordsJoined: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gnssvod",
			Name:      "records_joined_total",
			Help:      "Observation records matched with sky geometry.",
		}),
		RecordsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gnssvod",
			Name:      "records_dropped_total",
			Help:      "Observation records dropped for lack of sky geometry.",
		}),
		SkyOmissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gnssvod",
			Name:      "sky_omissions_total",
			Help:      "Epoch-satellite pairs omitted during sky geometry computation.",
		}),
		FileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gnssvod",
			Name:      "file_duration_seconds",
			Help:      "Time spent preprocessing a single observation file.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		OrbitDownloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gnssvod",
			Name:      "orbit_downloads_total",
			Help:      "Ephemeris files fetched from the orbit source.",
		}),
		OrbitDownloadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gnssvod",
			Name:      "orbit_download_failures_total",
			Help:      "Ephemeris downloads that exhausted their retries.",
		}),
		OrbitCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gnssvod",
			Name:      "orbit_cache_hits_total",
			Help:      "Ephemeris files reused from the aux directory.",
		}),
		IntervalsGathered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gnssvod",
			Name:      "intervals_gathered_total",
			Help:      "Time intervals assembled by the gatherer.",
		}),
		IntervalRows: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gnssvod",
			Name:      "interval_rows",
			Help:      "Rows written per gathered interval.",
			Buckets:   []float64{100, 1000, 10000, 50000, 100000, 500000, 1e6},
		}),
	}
}
