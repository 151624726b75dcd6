package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "murmur_http_requests_total",
			Help: "Total number of HTTP requests processed.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "murmur_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "murmur_ws_active_connections",
			Help: "Number of open websocket connections by state.",
		},
		[]string{"state"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "murmur_ws_events_total",
			Help: "Websocket events by direction and type.",
		},
		[]string{"direction", "event"},
	)
	wsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "murmur_ws_dropped_actions_total",
			Help: "Inbound actions dropped without a broadcast.",
		},
		[]string{"action", "reason"},
	)
	wsEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "murmur_ws_evictions_total",
			Help: "Clients disconnected because their send buffer was full.",
		},
	)
	storeMutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "murmur_store_mutations_total",
			Help: "Store mutations by operation and result.",
		},
		[]string{"op", "result"},
	)
	storeMutationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "murmur_store_mutation_duration_seconds",
			Help:    "Time spent inside the store critical section, persistence included.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"op"},
	)
	storeMessages = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "murmur_store_messages",
			Help: "Messages held by the store.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "murmur_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		wsDroppedTotal,
		wsEvictionsTotal,
		storeMutationsTotal,
		storeMutationDuration,
		storeMessages,
		amqpPublishErrorsTotal,
	)
}

func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func IncWSActive(state string) {
	wsActiveConnections.WithLabelValues(state).Inc()
}

func DecWSActive(state string) {
	wsActiveConnections.WithLabelValues(state).Dec()
}

func IncWSEvent(direction, event string) {
	wsEventsTotal.WithLabelValues(direction, event).Inc()
}

func IncWSDropped(action, reason string) {
	wsDroppedTotal.WithLabelValues(action, reason).Inc()
}

func IncWSEviction() {
	wsEvictionsTotal.Inc()
}

// ObserveMutation records one store mutation. result is "ok" or an error class.
func ObserveMutation(op, result string, elapsed time.Duration) {
	storeMutationsTotal.WithLabelValues(op, result).Inc()
	storeMutationDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func SetStoreMessages(n int) {
	storeMessages.Set(float64(n))
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
