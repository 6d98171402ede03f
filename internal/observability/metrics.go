package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fire_fusion"

// Metrics holds the Prometheus counters, histograms, and gauges for the fusion service.
type Metrics struct {
	MessagesConsumed    prometheus.Counter
	MessagesProduced    prometheus.Counter
	InvalidObservations *prometheus.CounterVec // labels: source
	PipelineRunning     prometheus.Gauge

	// Batch and cycle metrics.
	BatchSize       prometheus.Histogram
	CycleDuration   *prometheus.HistogramVec // labels: trigger={batch,tick}
	DegradedCycles  prometheus.Counter
	ClustersFormed  prometheus.Histogram
	EventChanges    *prometheus.CounterVec // labels: kind
	MergeIncidents  prometheus.Counter
	ActiveEvents    *prometheus.GaugeVec // labels: region, status
	SpreadPredicted *prometheus.CounterVec // labels: outcome={predicted,no_weather}

	// Weather lookup metrics.
	WeatherRequests    *prometheus.CounterVec // labels: outcome={success,error}
	WeatherCache       *prometheus.CounterVec // labels: result={hit,miss}
	WeatherAPIDuration prometheus.Histogram
	WeatherEnabled     prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics(true)
	prometheus.MustRegister(
		m.MessagesConsumed,
		m.MessagesProduced,
		m.InvalidObservations,
		m.PipelineRunning,
		m.BatchSize,
		m.CycleDuration,
		m.DegradedCycles,
		m.ClustersFormed,
		m.EventChanges,
		m.MergeIncidents,
		m.ActiveEvents,
		m.SpreadPredicted,
		m.WeatherRequests,
		m.WeatherCache,
		m.WeatherAPIDuration,
		m.WeatherEnabled,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics(false)
}

func newMetrics(withHelp bool) *Metrics {
	help := func(s string) string {
		if withHelp {
			return s
		}
		return ""
	}
	return &Metrics{
		MessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_consumed_total",
			Help:      help("Total messages read from the observation topic."),
		}),
		MessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_produced_total",
			Help:      help("Total fire event messages written to the sink topic."),
		}),
		InvalidObservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_observations_total",
			Help:      help("Observations dropped by the normalizer, by source."),
		}, []string{"source"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      help("1 when the pipeline is active, 0 when shut down."),
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      help("Number of messages per batch extracted from Kafka."),
			Buckets:   []float64{1, 5, 10, 20, 50, 100, 250, 500, 1000},
		}),
		CycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      help("Duration of one normalize-cluster-score-merge-predict pass."),
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		}, []string{"trigger"}),
		DegradedCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_cycles_total",
			Help:      help("Cycles that ran with an unavailable upstream or missing weather."),
		}),
		ClustersFormed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "clusters_per_cycle",
			Help:      help("Number of clusters proposed per cycle."),
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
		EventChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_changes_total",
			Help:      help("Fire event changes by kind."),
		}, []string{"kind"}),
		MergeIncidents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_incidents_total",
			Help:      help("Merges rejected for violating store invariants."),
		}),
		ActiveEvents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "events",
			Help:      help("Live fire events by region and status."),
		}, []string{"region", "status"}),
		SpreadPredicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spread_predictions_total",
			Help:      help("Spread prediction attempts by outcome."),
		}, []string{"outcome"}),
		WeatherRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weather_requests_total",
			Help:      help("Weather API requests by outcome."),
		}, []string{"outcome"}),
		WeatherCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weather_cache_total",
			Help:      help("Weather cache lookups by result."),
		}, []string{"result"}),
		WeatherAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "weather_api_duration_seconds",
			Help:      help("Weather API request duration in seconds."),
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		WeatherEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "weather_enabled",
			Help:      help("1 when weather lookups are enabled, 0 otherwise."),
		}),
	}
}
