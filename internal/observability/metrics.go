package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "resqnet"

// Metrics holds the Prometheus counters, histograms, and gauges for both the
// field client pipeline and the dispatch server.
type Metrics struct {
	// Field client: connectivity.
	ConnectivityOnline      prometheus.Gauge
	ConnectivityTransitions *prometheus.CounterVec // labels: direction={online,offline}

	// Field client: submission pipeline.
	QueueDepth        prometheus.Gauge
	SubmissionsQueued prometheus.Counter
	SyncPasses        *prometheus.CounterVec // labels: outcome={clean,partial,cancelled,error}
	SyncCoalesced     prometheus.Counter
	EntriesDelivered  prometheus.Counter
	EntriesFailed     prometheus.Counter
	PassDuration      prometheus.Histogram
	MediaUploads      *prometheus.CounterVec // labels: outcome={success,error}

	// Server.
	IncidentsCreated *prometheus.CounterVec // labels: outcome={created,duplicate,invalid,error}
	StatusUpdates    *prometheus.CounterVec // labels: outcome={updated,not_found,rejected,error}
	Predictions      prometheus.Counter
	LiveClients      prometheus.Gauge
	EventsPublished  *prometheus.CounterVec // labels: outcome={success,error}

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec // labels: outcome={success,error,empty}
	GeocodeCache       *prometheus.CounterVec // labels: result={hit,miss}
	GeocodeAPIDuration prometheus.Histogram
	GeocodeEnabled     prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()

	prometheus.MustRegister(
		m.ConnectivityOnline,
		m.ConnectivityTransitions,
		m.QueueDepth,
		m.SubmissionsQueued,
		m.SyncPasses,
		m.SyncCoalesced,
		m.EntriesDelivered,
		m.EntriesFailed,
		m.PassDuration,
		m.MediaUploads,
		m.IncidentsCreated,
		m.StatusUpdates,
		m.Predictions,
		m.LiveClients,
		m.EventsPublished,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.GeocodeEnabled,
	)

	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		ConnectivityOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connectivity_online",
			Help:      "1 when the monitor considers the server reachable, 0 otherwise.",
		}),
		ConnectivityTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connectivity_transitions_total",
			Help:      "Debounced connectivity edges by direction.",
		}, []string{"direction"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Reports waiting in the local queue after the last pass or submit.",
		}),
		SubmissionsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_queued_total",
			Help:      "Reports durably written to the local queue.",
		}),
		SyncPasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_passes_total",
			Help:      "Completed drain passes by outcome.",
		}, []string{"outcome"}),
		SyncCoalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_requests_coalesced_total",
			Help:      "Sync requests folded into an already running or pending pass.",
		}),
		EntriesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_delivered_total",
			Help:      "Queue entries inserted remotely and removed locally.",
		}),
		EntriesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_failed_total",
			Help:      "Failed delivery attempts; the entry stays queued.",
		}),
		PassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_pass_duration_seconds",
			Help:      "Duration of a complete drain pass.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		MediaUploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_uploads_total",
			Help:      "Photo uploads by outcome.",
		}, []string{"outcome"}),
		IncidentsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_created_total",
			Help:      "Incident insert requests by outcome.",
		}, []string{"outcome"}),
		StatusUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_updates_total",
			Help:      "Incident status update requests by outcome.",
		}, []string{"outcome"}),
		Predictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Dispatch predictions computed.",
		}),
		LiveClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_prediction_clients",
			Help:      "Connected websocket clients receiving prediction updates.",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incident_events_published_total",
			Help:      "Incident events written to the stream by outcome.",
		}, []string{"outcome"}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Reverse geocoding API requests by outcome.",
		}, []string{"outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by result.",
		}, []string{"result"}),
		GeocodeAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Mapbox API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_enabled",
			Help:      "1 when place enrichment is enabled, 0 otherwise.",
		}),
	}
}
