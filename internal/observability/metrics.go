package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bandbridge"

var (
	registerOnce sync.Once

	connections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "connections_total",
			Help:      "Accepted bridge connections.",
		},
	)
	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "connections_active",
			Help:      "Currently open bridge connections.",
		},
	)
	commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "commands_total",
			Help:      "Dispatched request envelopes by request and reply code.",
		},
		[]string{"request", "reply"},
	)
	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "command_duration_seconds",
			Help:      "Dispatch duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"request"},
	)
	frameErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "frame_errors_total",
			Help:      "Connections closed or requests rejected on framing or decoding errors.",
		},
		[]string{"kind"},
	)
	pushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "deliveries_total",
			Help:      "Outbound DATA_PUSH deliveries.",
		},
		[]string{"success"},
	)
	pushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "delivery_duration_seconds",
			Help:      "Outbound DATA_PUSH duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	droppedReadings = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "dropped_readings_total",
			Help:      "Device readings dropped because the event queue was full.",
		},
	)
	sessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "sessions",
			Help:      "Tracked device sessions by pairing state.",
		},
		[]string{"state"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			connections, activeConnections,
			commands, commandDuration, frameErrors,
			pushes, pushDuration,
			droppedReadings, sessions,
			httpRequests, httpDuration,
		)
	})
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func RecordConnectionOpened() {
	RegisterMetrics()
	connections.Inc()
	activeConnections.Inc()
}

func RecordConnectionClosed() {
	RegisterMetrics()
	activeConnections.Dec()
}

func RecordCommand(request, reply string, duration time.Duration) {
	RegisterMetrics()
	commands.WithLabelValues(request, reply).Inc()
	commandDuration.WithLabelValues(request).Observe(duration.Seconds())
}

func RecordFrameError(kind string) {
	RegisterMetrics()
	frameErrors.WithLabelValues(kind).Inc()
}

func RecordPush(duration time.Duration, success bool) {
	RegisterMetrics()
	pushes.WithLabelValues(strconv.FormatBool(success)).Inc()
	pushDuration.Observe(duration.Seconds())
}

func RecordDroppedReading() {
	RegisterMetrics()
	droppedReadings.Inc()
}

func SetSessions(total, paired int) {
	RegisterMetrics()
	sessions.WithLabelValues("paired").Set(float64(paired))
	sessions.WithLabelValues("idle").Set(float64(total - paired))
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
