package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run results recorded by RecordSyncRun
const (
	ResultSuccess  = "success"
	ResultFailed   = "failed"
	ResultRejected = "rejected"
)

// Metrics holds the mailmirror Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Sync metrics
	SyncRunsTotal    *prometheus.CounterVec
	SyncDuration     prometheus.Histogram
	SyncInProgress   prometheus.Gauge
	MessagesTotal    *prometheus.CounterVec
	SyncedLastRun    *prometheus.GaugeVec
	IMAPConnectFails prometheus.Counter

	// Gateway metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	ViewRequestsTotal   *prometheus.CounterVec
}

// NewMetrics creates the collectors on a private registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SyncRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailmirror_sync_runs_total",
				Help: "Total number of sync runs by result",
			},
			[]string{"result"},
		),

		SyncDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mailmirror_sync_duration_seconds",
				Help:    "Duration of completed sync runs in seconds",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
			},
		),

		SyncInProgress: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailmirror_sync_in_progress",
				Help: "1 while a sync run holds the lock",
			},
		),

		MessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailmirror_sync_messages_total",
				Help: "Messages processed by sync runs by folder and outcome",
			},
			[]string{"folder", "outcome"},
		),

		SyncedLastRun: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mailmirror_sync_last_run_messages",
				Help: "Counters of the most recent sync run",
			},
			[]string{"counter"},
		),

		IMAPConnectFails: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailmirror_imap_connect_failures_total",
				Help: "Total number of failed IMAP connection attempts",
			},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailmirror_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailmirror_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		ViewRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailmirror_view_requests_total",
				Help: "Total number of bounded view reads by category",
			},
			[]string{"category"},
		),
	}
}

// RecordSyncRun records the end of a sync run
func (m *Metrics) RecordSyncRun(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SyncRunsTotal.WithLabelValues(result).Inc()
	if result != ResultRejected {
		m.SyncDuration.Observe(duration.Seconds())
	}
}

// SetSyncInProgress flips the in-progress gauge
func (m *Metrics) SetSyncInProgress(running bool) {
	if m == nil {
		return
	}
	if running {
		m.SyncInProgress.Set(1)
	} else {
		m.SyncInProgress.Set(0)
	}
}

// RecordMessage records one processed message
func (m *Metrics) RecordMessage(folder, outcome string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(folder, outcome).Inc()
}

// UpdateLastRun publishes the totals of the last finished run
func (m *Metrics) UpdateLastRun(fetched, saved, skipped int) {
	if m == nil {
		return
	}
	m.SyncedLastRun.WithLabelValues("fetched").Set(float64(fetched))
	m.SyncedLastRun.WithLabelValues("saved").Set(float64(saved))
	m.SyncedLastRun.WithLabelValues("skipped").Set(float64(skipped))
}

// RecordConnectFailure counts a failed IMAP dial or login
func (m *Metrics) RecordConnectFailure() {
	if m == nil {
		return
	}
	m.IMAPConnectFails.Inc()
}

// RecordHTTPRequest records one HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordViewRequest counts a read of the inbox or sent view
func (m *Metrics) RecordViewRequest(category string) {
	if m == nil {
		return
	}
	m.ViewRequestsTotal.WithLabelValues(category).Inc()
}

// Registry exposes the registry for gathering in tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// HTTPHandler returns the metrics HTTP handler
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
