package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	bookingCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "homestyle",
			Name:      "booking_created_total",
			Help:      "Count of bookings admitted by the admission check.",
		},
	)

	admissionRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "homestyle",
			Name:      "admission_rejected_total",
			Help:      "Count of booking attempts rejected by reason.",
		},
		[]string{"reason"},
	)

	statusTransition = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "homestyle",
			Name:      "booking_status_transition_total",
			Help:      "Count of booking status transitions by target status.",
		},
		[]string{"status"},
	)

	slotGeneration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "homestyle",
			Name:      "slot_generation_seconds",
			Help:      "Time spent computing slots for one stylist and date.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
	)

	slotCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "homestyle",
			Name:      "slot_cache_total",
			Help:      "Slot cache lookups by result.",
		},
		[]string{"result"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "homestyle",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		},
		[]string{"route", "code"},
	)

	remindersSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "homestyle",
			Name:      "reminders_sent_total",
			Help:      "Appointment reminders by outcome.",
		},
		[]string{"status"},
	)

	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "homestyle",
			Name:      "websocket_connections",
			Help:      "Currently open WebSocket connections.",
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			bookingCreated, admissionRejected, statusTransition,
			slotGeneration, slotCache, httpRequests, remindersSent, wsConnections,
		)
	})
}

func IncBookingCreated() {
	bookingCreated.Inc()
}

func IncAdmissionRejected(reason string) {
	admissionRejected.WithLabelValues(reason).Inc()
}

func IncStatusTransition(status string) {
	statusTransition.WithLabelValues(status).Inc()
}

func ObserveSlotGeneration(seconds float64) {
	slotGeneration.Observe(seconds)
}

func IncSlotCache(result string) {
	slotCache.WithLabelValues(result).Inc()
}

func IncHTTP(route, code string) {
	httpRequests.WithLabelValues(route, code).Inc()
}

func IncReminder(status string) {
	remindersSent.WithLabelValues(status).Inc()
}

func SetWSConnections(n int) {
	wsConnections.Set(float64(n))
}
