package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courtbook_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "courtbook_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	ReservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courtbook_reservations_total",
			Help: "Slot reservation attempts by outcome",
		},
		[]string{"outcome"},
	)

	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courtbook_webhook_events_total",
			Help: "Payment gateway events by type and processing result",
		},
		[]string{"type", "result"},
	)

	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courtbook_booking_transitions_total",
			Help: "Applied booking payment transitions",
		},
		[]string{"to"},
	)

	InvoicesMintedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "courtbook_invoices_minted_total",
			Help: "Invoice numbers assigned to bookings",
		},
	)

	SweepRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courtbook_reconcile_rows_total",
			Help: "Bookings touched by reconciliation sweeps",
		},
		[]string{"sweep", "action"},
	)

	ConfirmationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courtbook_confirmations_total",
			Help: "Booking confirmation deliveries",
		},
		[]string{"status"},
	)

	LiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "courtbook_live_connections",
			Help: "Open payment page websocket connections",
		},
	)
)

func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

func RecordReservation(outcome string) {
	ReservationsTotal.WithLabelValues(outcome).Inc()
}

func RecordWebhookEvent(eventType, result string) {
	WebhookEventsTotal.WithLabelValues(eventType, result).Inc()
}

func RecordTransition(to string) {
	TransitionsTotal.WithLabelValues(to).Inc()
}

func RecordInvoiceMinted() {
	InvoicesMintedTotal.Inc()
}

func RecordSweep(sweep, action string, n int) {
	if n <= 0 {
		return
	}
	SweepRowsTotal.WithLabelValues(sweep, action).Add(float64(n))
}

func RecordConfirmation(status string) {
	ConfirmationsTotal.WithLabelValues(status).Inc()
}
