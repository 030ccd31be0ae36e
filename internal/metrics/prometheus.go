package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Queue metrics
	QueueEntries   *prometheus.GaugeVec
	QueueJoins     *prometheus.CounterVec
	QueueRemovals  *prometheus.CounterVec
	RejectedInputs *prometheus.CounterVec

	// Matching metrics
	MatchAttempts  *prometheus.CounterVec
	MatchDuration  prometheus.Histogram
	CandidateSizes prometheus.Histogram

	// Session metrics
	SessionsActive     prometheus.Gauge
	SessionTransitions *prometheus.CounterVec
	ConfirmationWait   prometheus.Histogram

	// Presence metrics
	PresencePrompts   prometheus.Counter
	PresenceEvictions prometheus.Counter

	// Delivery metrics
	Deliveries *prometheus.CounterVec

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics creates metrics registered on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		QueueEntries: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "softmatch_queue_entries",
				Help: "Number of queued entries per tenant",
			},
			[]string{"tenant_id"},
		),

		QueueJoins: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "softmatch_queue_joins_total",
				Help: "Total number of accepted declarations",
			},
			[]string{"kind"},
		),

		QueueRemovals: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "softmatch_queue_removals_total",
				Help: "Total number of entries removed from the queue",
			},
			[]string{"reason"},
		),

		RejectedInputs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "softmatch_rejected_declarations_total",
				Help: "Total number of declarations rejected by validation",
			},
			[]string{"error_code"},
		),

		MatchAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "softmatch_match_attempts_total",
				Help: "Matching attempts by outcome",
			},
			[]string{"outcome"},
		),

		MatchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "softmatch_match_duration_seconds",
				Help:    "Time spent searching for a candidate group",
				Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
			},
		),

		CandidateSizes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "softmatch_candidate_players",
				Help:    "Players represented by accepted candidates",
				Buckets: prometheus.LinearBuckets(2, 1, 4),
			},
		),

		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "softmatch_sessions_active",
				Help: "Sessions awaiting confirmation",
			},
		),

		SessionTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "softmatch_session_transitions_total",
				Help: "Session lifecycle transitions",
			},
			[]string{"transition", "reason"},
		),

		ConfirmationWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "softmatch_confirmation_wait_seconds",
				Help:    "Time from session creation to completion",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
		),

		PresencePrompts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "softmatch_presence_prompts_total",
				Help: "Still-interested prompts issued",
			},
		),

		PresenceEvictions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "softmatch_presence_evictions_total",
				Help: "Entries evicted by the presence watchdog",
			},
		),

		Deliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "softmatch_deliveries_total",
				Help: "Notification deliveries by channel and result",
			},
			[]string{"channel", "result"},
		),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "softmatch_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),

		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "softmatch_http_request_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// NewNop returns metrics on a throwaway registry
func NewNop() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
