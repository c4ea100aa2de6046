package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "staybook"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		},
		[]string{"method", "route", "code"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "code"},
	)

	bookingTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_transitions_total",
			Help:      "Booking status transitions.",
		},
		[]string{"from", "to"},
	)

	outboxProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_messages_processed_total",
			Help:      "Outbox messages handled by the relay, by result.",
		},
		[]string{"result"},
	)
	outboxLag = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbox_lag_seconds",
			Help:      "Delay between outbox message creation and publication.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	schedulesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedules_processed_total",
			Help:      "Automation schedules handled by the workers, by worker and result.",
		},
		[]string{"worker", "result"},
	)

	notificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "Guest notifications by channel and result.",
		},
		[]string{"channel", "result"},
	)

	paymentReconciliations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_reconciliations_total",
			Help:      "Payment completions by source and outcome.",
		},
		[]string{"source", "outcome"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			bookingTransitions,
			outboxProcessed,
			outboxLag,
			schedulesProcessed,
			notificationsSent,
			paymentReconciliations,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveHTTPRequest(method, route, code string, d time.Duration) {
	httpRequests.WithLabelValues(method, route, code).Inc()
	httpDuration.WithLabelValues(method, route, code).Observe(d.Seconds())
}

func IncBookingTransition(from, to string) {
	if from == "" {
		from = "none"
	}
	bookingTransitions.WithLabelValues(from, to).Inc()
}

func IncOutbox(result string) { outboxProcessed.WithLabelValues(result).Inc() }

func ObserveOutboxLag(d time.Duration) {
	if d < 0 {
		d = 0
	}
	outboxLag.Observe(d.Seconds())
}

func IncSchedule(worker, result string) { schedulesProcessed.WithLabelValues(worker, result).Inc() }

func IncNotification(channel, result string) {
	notificationsSent.WithLabelValues(channel, result).Inc()
}

func IncPaymentReconciliation(source, outcome string) {
	paymentReconciliations.WithLabelValues(source, outcome).Inc()
}
