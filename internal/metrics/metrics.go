package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"orderq/internal/order"
)

const namespace = "orderq"

type Metrics struct {
	Orders           *prometheus.CounterVec
	OrderRetries     prometheus.Counter
	FollowUpFailures *prometheus.CounterVec
	TaskFailures     *prometheus.CounterVec
	Requests         *prometheus.CounterVec
	LatencyMS        *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. A nil reg gets a private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		Orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Orders handled by the processor, by result.",
		}, []string{"result"}),
		OrderRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_retries_total",
			Help:      "Order transactions rerun after a transient failure.",
		}),
		FollowUpFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "followup_failures_total",
			Help:      "Post-commit follow-ups that could not be scheduled or delivered.",
		}, []string{"step"}),
		TaskFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_failures_total",
			Help:      "Queued tasks whose handler returned an error.",
		}, []string{"task_type"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"method", "route"}),
		gatherer: reg,
	}
	reg.MustRegister(m.Orders, m.OrderRetries, m.FollowUpFailures, m.TaskFailures, m.Requests, m.LatencyMS)
	return m
}

func (m *Metrics) OrderOutcome(out order.Outcome) {
	result := "processed"
	if !out.OK() {
		result = string(out.Failure)
	}
	m.Orders.WithLabelValues(result).Inc()
}

func (m *Metrics) OrderRetry() { m.OrderRetries.Inc() }

func (m *Metrics) FollowUpFailed(step string) {
	m.FollowUpFailures.WithLabelValues(step).Inc()
}

func (m *Metrics) TaskFailed(taskType string) {
	m.TaskFailures.WithLabelValues(taskType).Inc()
	if taskType == "order:notify" {
		m.FollowUpFailed("notification_delivery")
	}
}

func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.Requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.LatencyMS.WithLabelValues(method, route).Observe(float64(elapsed.Microseconds()) / 1000)
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
