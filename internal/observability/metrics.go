package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Poll outcomes as recorded on isonp_poll_completed_total.
const (
	OutcomeData        = "data"
	OutcomeRemoteError = "remote_error"
	OutcomeTimeout     = "timeout"
	OutcomeAborted     = "aborted"
	OutcomeError       = "error"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "isonp",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "isonp",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	pollStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "isonp",
			Subsystem: "poll",
			Name:      "started_total",
			Help:      "Request slots opened by polling sessions.",
		},
		[]string{"mode"},
	)
	pollCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "isonp",
			Subsystem: "poll",
			Name:      "completed_total",
			Help:      "Request slots finished, by outcome.",
		},
		[]string{"mode", "outcome"},
	)
	pollDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "isonp",
			Subsystem: "poll",
			Name:      "duration_seconds",
			Help:      "Time from slot open to completion.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
		},
		[]string{"mode", "outcome"},
	)
	writes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "isonp",
			Subsystem: "write",
			Name:      "total",
			Help:      "Outbound writes, by success.",
		},
		[]string{"success"},
	)
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "isonp",
			Name:      "sessions_active",
			Help:      "Polling sessions currently active in this process.",
		},
	)
	serverMailboxes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "isonp",
			Subsystem: "server",
			Name:      "mailboxes",
			Help:      "Session mailboxes held by the poll server.",
		},
	)
	serverDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "isonp",
			Subsystem: "server",
			Name:      "messages_dropped_total",
			Help:      "Messages dropped from full session mailboxes.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			pollStarted, pollCompleted, pollDuration,
			writes, sessionsActive,
			serverMailboxes, serverDropped,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordPollStarted(mode string) {
	RegisterMetrics()
	pollStarted.WithLabelValues(mode).Inc()
}

func RecordPollCompleted(mode, outcome string, duration time.Duration) {
	RegisterMetrics()
	pollCompleted.WithLabelValues(mode, outcome).Inc()
	pollDuration.WithLabelValues(mode, outcome).Observe(duration.Seconds())
}

func RecordWrite(success bool) {
	RegisterMetrics()
	writes.WithLabelValues(strconv.FormatBool(success)).Inc()
}

func SessionOpened() {
	RegisterMetrics()
	sessionsActive.Inc()
}

func SessionClosed() {
	RegisterMetrics()
	sessionsActive.Dec()
}

func SetServerMailboxes(n int) {
	RegisterMetrics()
	serverMailboxes.Set(float64(n))
}

func RecordServerDrop(n int) {
	RegisterMetrics()
	serverDropped.Add(float64(n))
}
