package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for Courier
type Metrics struct {
	// Campaign metrics
	CampaignTransitionsTotal *prometheus.CounterVec
	CampaignDispatchSeconds  prometheus.Histogram
	CampaignsByStatus        *prometheus.GaugeVec

	// Message counters
	MessagesSentTotal   *prometheus.CounterVec
	MessagesFailedTotal *prometheus.CounterVec

	// Reminder metrics
	RemindersRecordedTotal *prometheus.CounterVec
	SchedulerTickSeconds   prometheus.Histogram
	SchedulerFaultsTotal   prometheus.Counter
	LastSchedulerTick      prometheus.Gauge

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// Rate limiting
	RateLimitExceededTotal *prometheus.CounterVec

	// System metrics
	UptimeSeconds    prometheus.Gauge
	Goroutines       prometheus.Gauge
	StorageUsedBytes prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		CampaignTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courier_campaign_transitions_total",
				Help: "Total number of campaign status transitions by target status",
			},
			[]string{"status"},
		),
		CampaignDispatchSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "courier_campaign_dispatch_seconds",
				Help:    "Campaign dispatch duration in seconds",
				Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 300, 900},
			},
		),
		CampaignsByStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "courier_campaigns",
				Help: "Number of stored campaigns by status",
			},
			[]string{"status"},
		),

		MessagesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courier_messages_sent_total",
				Help: "Total number of messages accepted by a transport",
			},
			[]string{"source", "channel"},
		),
		MessagesFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courier_messages_failed_total",
				Help: "Total number of failed send attempts",
			},
			[]string{"source", "channel"},
		),

		RemindersRecordedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courier_reminders_recorded_total",
				Help: "Total number of reminder tiers recorded in the ledger",
			},
			[]string{"tier"},
		),
		SchedulerTickSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "courier_reminder_tick_seconds",
				Help:    "Reminder scan duration in seconds",
				Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60},
			},
		),
		SchedulerFaultsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "courier_reminder_tick_faults_total",
				Help: "Total number of reminder scans that ended with a fault",
			},
		),
		LastSchedulerTick: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "courier_reminder_last_tick_timestamp_seconds",
				Help: "Unix time of the last completed reminder scan",
			},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courier_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "courier_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courier_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		RateLimitExceededTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courier_ratelimit_exceeded_total",
				Help: "Total number of sends rejected by a rate limit",
			},
			[]string{"channel", "level"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "courier_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "courier_goroutines",
				Help: "Number of active goroutines",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "courier_storage_used_bytes",
				Help: "BoltDB file size in bytes",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.CampaignTransitionsTotal,
		m.CampaignDispatchSeconds,
		m.CampaignsByStatus,
		m.MessagesSentTotal,
		m.MessagesFailedTotal,
		m.RemindersRecordedTotal,
		m.SchedulerTickSeconds,
		m.SchedulerFaultsTotal,
		m.LastSchedulerTick,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.RateLimitExceededTotal,
		m.UptimeSeconds,
		m.Goroutines,
		m.StorageUsedBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
