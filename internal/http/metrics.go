package http

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics records scrobbler activity on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	QueuedTotal             prometheus.Counter
	SubmittedTotal          *prometheus.CounterVec
	FlushFailuresTotal      *prometheus.CounterVec
	ValidationRejectedTotal *prometheus.CounterVec
	NowPlayingTotal         *prometheus.CounterVec
	QueueLength             prometheus.Gauge
	AuthState               *prometheus.GaugeVec
	RequestDuration         *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	metrics := &Metrics{
		registry: prometheus.NewRegistry(),
		QueuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "scrobbler_plays_queued_total",
				Help: "Total number of plays queued for scrobbling",
			},
		),
		SubmittedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrobbler_scrobbles_submitted_total",
				Help: "Total number of submitted scrobbles by provider outcome",
			},
			[]string{"outcome"},
		),
		FlushFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrobbler_flush_failures_total",
				Help: "Total number of failed queue flushes",
			},
			[]string{"reason"},
		),
		ValidationRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrobbler_validation_rejected_total",
				Help: "Total number of candidates rejected by music validation",
			},
			[]string{"reason"},
		),
		NowPlayingTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrobbler_now_playing_updates_total",
				Help: "Total number of now-playing announcements",
			},
			[]string{"status"},
		),
		QueueLength: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "scrobbler_queue_length",
				Help: "Current number of plays waiting for submission",
			},
		),
		AuthState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "scrobbler_auth_state",
				Help: "Current authentication state (1 for the active state)",
			},
			[]string{"state"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scrobbler_lastfm_request_duration_seconds",
				Help:    "Time spent on Last.fm API calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status"},
		),
	}

	metrics.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.QueuedTotal,
		metrics.SubmittedTotal,
		metrics.FlushFailuresTotal,
		metrics.ValidationRejectedTotal,
		metrics.NowPlayingTotal,
		metrics.QueueLength,
		metrics.AuthState,
		metrics.RequestDuration,
	)

	return metrics
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordQueued() {
	m.QueuedTotal.Inc()
}

func (m *Metrics) RecordSubmitted(accepted, ignored int) {
	m.SubmittedTotal.WithLabelValues("accepted").Add(float64(accepted))
	m.SubmittedTotal.WithLabelValues("ignored").Add(float64(ignored))
}

func (m *Metrics) RecordFlushFailure(reason string) {
	m.FlushFailuresTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordValidationRejected(reason string) {
	m.ValidationRejectedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordNowPlaying(status string) {
	m.NowPlayingTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) SetQueueLength(n int) {
	m.QueueLength.Set(float64(n))
}

// SetAuthState marks state as the only active authentication state.
func (m *Metrics) SetAuthState(state string) {
	m.AuthState.Reset()
	m.AuthState.WithLabelValues(state).Set(1)
}

func (m *Metrics) ObserveRequest(method, status string, duration time.Duration) {
	m.RequestDuration.WithLabelValues(method, status).Observe(duration.Seconds())
}
