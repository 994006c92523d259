package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the recorder. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsStarted   prometheus.Counter
	SessionsCompleted prometheus.Counter
	SessionsFailed    *prometheus.CounterVec
	SessionsActive    prometheus.Gauge
	SessionDuration   prometheus.Histogram

	// Capture metrics
	BlocksCaptured  prometheus.Counter
	SamplesCaptured prometheus.Counter
	InputPeak       prometheus.Gauge

	// Encoding metrics
	EncodeDuration prometheus.Histogram
	ArtifactSize   prometheus.Histogram

	// Persistence metrics
	PersistErrors prometheus.Counter
	Exports       prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "spatialrec_sessions_started_total",
			Help: "Total number of recording sessions that entered capture",
		}),
		SessionsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "spatialrec_sessions_completed_total",
			Help: "Total number of recording sessions that produced an artifact",
		}),
		SessionsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spatialrec_sessions_failed_total",
			Help: "Total number of failed recording sessions by stage",
		}, []string{"stage"}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "spatialrec_sessions_active",
			Help: "1 while a session is capturing",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "spatialrec_session_duration_seconds",
			Help:    "Captured audio duration per session",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s to ~1 minute
		}),

		BlocksCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "spatialrec_blocks_captured_total",
			Help: "Total number of sample blocks accumulated",
		}),
		SamplesCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "spatialrec_samples_captured_total",
			Help: "Total number of per-channel samples accumulated",
		}),
		InputPeak: factory.NewGauge(prometheus.GaugeOpts{
			Name: "spatialrec_input_peak",
			Help: "Peak magnitude of the most recent block",
		}),

		EncodeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "spatialrec_encode_duration_seconds",
			Help:    "Time spent encoding WAV artifacts",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~1s
		}),
		ArtifactSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "spatialrec_artifact_size_bytes",
			Help:    "Size of encoded WAV artifacts",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1KB to ~256MB
		}),

		PersistErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "spatialrec_persist_errors_total",
			Help: "Total number of recordings that failed to persist",
		}),
		Exports: factory.NewCounter(prometheus.CounterOpts{
			Name: "spatialrec_exports_total",
			Help: "Total number of recordings exported",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spatialrec_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spatialrec_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
	m.SessionsActive.Set(1)
}

func (m *Metrics) RecordSessionCompleted(captured time.Duration, size int) {
	if m == nil {
		return
	}
	m.SessionsCompleted.Inc()
	m.SessionsActive.Set(0)
	m.SessionDuration.Observe(captured.Seconds())
	m.ArtifactSize.Observe(float64(size))
}

func (m *Metrics) RecordSessionFailed(stage string) {
	if m == nil {
		return
	}
	m.SessionsFailed.WithLabelValues(stage).Inc()
	m.SessionsActive.Set(0)
}

func (m *Metrics) RecordBlock(samples int, peak float32) {
	if m == nil {
		return
	}
	m.BlocksCaptured.Inc()
	m.SamplesCaptured.Add(float64(samples))
	m.InputPeak.Set(float64(peak))
}

func (m *Metrics) RecordEncode(d time.Duration) {
	if m == nil {
		return
	}
	m.EncodeDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordPersistError() {
	if m == nil {
		return
	}
	m.PersistErrors.Inc()
}

func (m *Metrics) RecordExport() {
	if m == nil {
		return
	}
	m.Exports.Inc()
}

func (m *Metrics) RecordHTTPRequest(method, endpoint, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(d.Seconds())
}
