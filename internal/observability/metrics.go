package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

var (
	registerOnce sync.Once

	handshakes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spreadctl",
			Subsystem: "session",
			Name:      "handshakes_total",
			Help:      "Spread connect handshakes by outcome.",
		},
		[]string{"result"},
	)
	handshakeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "spreadctl",
			Subsystem: "session",
			Name:      "handshake_duration_seconds",
			Help:      "Spread connect handshake duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spreadctl",
			Subsystem: "session",
			Name:      "frames_total",
			Help:      "Spread frames by direction and service type.",
		},
		[]string{"direction", "service"},
	)
	frameBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spreadctl",
			Subsystem: "session",
			Name:      "frame_bytes_total",
			Help:      "Spread frame bytes by direction.",
		},
		[]string{"direction"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spreadctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "spreadctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(handshakes, handshakeDuration, frames, frameBytes, httpRequests, httpDuration)
	})
}

func RecordHandshake(result string, duration time.Duration) {
	RegisterMetrics()
	handshakes.WithLabelValues(result).Inc()
	handshakeDuration.Observe(duration.Seconds())
}

func RecordFrame(direction, service string, size int) {
	RegisterMetrics()
	frames.WithLabelValues(direction, service).Inc()
	frameBytes.WithLabelValues(direction).Add(float64(size))
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
