package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Checkout groups the service's collectors. A nil *Checkout is valid and records nothing.
type Checkout struct {
	reservations  *prometheus.CounterVec
	orders        *prometheus.CounterVec
	webhooks      *prometheus.CounterVec
	refunds       *prometheus.CounterVec
	httpDurations *prometheus.HistogramVec
}

// NewCheckout registers the checkout metrics on the provided registerer.
func NewCheckout(reg prometheus.Registerer) *Checkout {
	if reg == nil {
		return nil
	}
	m := &Checkout{
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_reservations_total",
			Help: "Capacity reservation attempts by outcome.",
		}, []string{"outcome"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_orders_created_total",
			Help: "Orders created by fulfillment path.",
		}, []string{"path"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_webhook_events_total",
			Help: "Provider webhook deliveries by kind and outcome.",
		}, []string{"kind", "outcome"}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_refund_transitions_total",
			Help: "Refund status transitions.",
		}, []string{"status"}),
		httpDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "checkout_http_request_duration_seconds",
			Help:    "HTTP request duration by route and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(m.reservations, m.orders, m.webhooks, m.refunds, m.httpDurations)
	return m
}

func (m *Checkout) Reservation(outcome string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Checkout) OrderCreated(path string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(normalizeLabel(path)).Inc()
}

func (m *Checkout) Webhook(kind, outcome string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}

func (m *Checkout) RefundTransition(status string) {
	if m == nil {
		return
	}
	m.refunds.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *Checkout) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpDurations.WithLabelValues(method, normalizeLabel(route), strconv.Itoa(status)).Observe(d.Seconds())
}

// RouteFunc resolves the route pattern of a served request, e.g. chi's RoutePattern.
type RouteFunc func(r *http.Request) string

// Middleware records request durations labeled by route pattern.
func (m *Checkout) Middleware(route RouteFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			m.ObserveHTTP(r.Method, route(r), sw.status, time.Since(start))
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
