package prometheus

import (
	"time"

	"transfer-ledger/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements metrics.Collector for Prometheus.
// Metric names without a namespace match the ones scraped from earlier
// deployments: transfer_requests_total{result} and account_balance{account}.
type PrometheusCollector struct {
	namespace string

	transferRequests *prometheus.CounterVec
	transferLatency  *prometheus.HistogramVec
	accountBalance   *prometheus.GaugeVec

	circuitOpens *prometheus.CounterVec
	circuitState *prometheus.GaugeVec

	notifications       *prometheus.CounterVec
	droppedNotification *prometheus.CounterVec
	notifyLatency       *prometheus.HistogramVec
	queueDepth          *prometheus.GaugeVec
}

// NewPrometheusCollector creates a new Prometheus metrics collector.
func NewPrometheusCollector(namespace string) *PrometheusCollector {
	return &PrometheusCollector{
		namespace: namespace,
		transferRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transfer_requests_total",
				Help:      "Total number of transfer requests by result",
			},
			[]string{"result"},
		),
		transferLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transfer_duration_seconds",
				Help:      "Transfer latency including lock waits",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 15), // 0.5ms to ~8s
			},
			[]string{"result"},
		),
		accountBalance: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "account_balance",
				Help:      "Last committed balance per account",
			},
			[]string{"account"},
		),
		circuitOpens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_opens_total",
				Help:      "Total number of circuit breaker opens per component",
			},
			[]string{"component"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Current circuit breaker state per component (0=closed, 1=open, 2=half-open)",
			},
			[]string{"component"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Total number of delivered post-commit notifications per sink",
			},
			[]string{"sink", "status"},
		),
		droppedNotification: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_dropped_total",
				Help:      "Total number of notifications dropped due to backpressure",
			},
			[]string{"sink"},
		),
		notifyLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "notification_duration_seconds",
				Help:      "Notification delivery latency",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
			},
			[]string{"sink"},
		),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "notification_queue_depth",
				Help:      "Current notification queue depth per sink",
			},
			[]string{"sink"},
		),
	}
}

// Register registers all metrics with the given Prometheus registry.
func (pc *PrometheusCollector) Register(registry prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		pc.transferRequests,
		pc.transferLatency,
		pc.accountBalance,
		pc.circuitOpens,
		pc.circuitState,
		pc.notifications,
		pc.droppedNotification,
		pc.notifyLatency,
		pc.queueDepth,
	}

	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}

	return nil
}

// RecordTransfer counts a transfer outcome and observes its latency.
func (pc *PrometheusCollector) RecordTransfer(outcome string, duration time.Duration) {
	pc.transferRequests.WithLabelValues(outcome).Inc()
	pc.transferLatency.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordBalance sets the balance gauge of an account.
func (pc *PrometheusCollector) RecordBalance(account string, balance float64) {
	pc.accountBalance.WithLabelValues(account).Set(balance)
}

// RecordCircuitState records the current circuit breaker state.
func (pc *PrometheusCollector) RecordCircuitState(component string, state metrics.CircuitState) {
	pc.circuitState.WithLabelValues(component).Set(float64(state))
	if state == metrics.CircuitOpen {
		pc.circuitOpens.WithLabelValues(component).Inc()
	}
}

// RecordNotification records a delivered or failed notification.
func (pc *PrometheusCollector) RecordNotification(sink string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	pc.notifications.WithLabelValues(sink, status).Inc()
	pc.notifyLatency.WithLabelValues(sink).Observe(duration.Seconds())
}

// RecordNotificationDropped records a dropped notification.
func (pc *PrometheusCollector) RecordNotificationDropped(sink string) {
	pc.droppedNotification.WithLabelValues(sink).Inc()
}

// RecordQueueDepth records the current notification queue depth.
func (pc *PrometheusCollector) RecordQueueDepth(sink string, depth int) {
	pc.queueDepth.WithLabelValues(sink).Set(float64(depth))
}

var _ metrics.Collector = (*PrometheusCollector)(nil)
