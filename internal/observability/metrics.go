// Package observability defines the Prometheus metrics for the chat API.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/suPer8Hu/chatstream/internal/chat"
)

const metricsNamespace = "chatstream"

const (
	streamingSubsystem = "streaming"
	httpSubsystem      = "http"
)

type Metrics struct {
	// StreamsTotal counts finished streams.
	// Labels: status (success, partial, failed)
	StreamsTotal *prometheus.CounterVec

	// StreamDurationSeconds measures total stream duration.
	// Labels: status
	StreamDurationSeconds *prometheus.HistogramVec

	TimeToFirstChunkSeconds prometheus.Histogram
	ActiveStreams           prometheus.Gauge
	FallbacksTotal          prometheus.Counter
	ClientDisconnectsTotal  prometheus.Counter
	KeepAlivesTotal         prometheus.Counter

	// RequestsTotal counts HTTP requests.
	// Labels: method, route, code
	RequestsTotal *prometheus.CounterVec
}

// New registers every metric on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StreamsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "streams_total",
				Help:      "Total chat streams by final status",
			},
			[]string{"status"},
		),

		StreamDurationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration in seconds",
				Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),

		TimeToFirstChunkSeconds: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "time_to_first_chunk_seconds",
				Help:      "Time from stream start to the first forwarded chunk",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
		),

		ActiveStreams: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: streamingSubsystem,
			Name:      "active_streams",
			Help:      "Number of streams currently open",
		}),

		FallbacksTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: streamingSubsystem,
			Name:      "fallbacks_total",
			Help:      "Streams answered by chunking the final output",
		}),

		ClientDisconnectsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: streamingSubsystem,
			Name:      "client_disconnects_total",
			Help:      "Streams whose client went away before the end",
		}),

		KeepAlivesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: streamingSubsystem,
			Name:      "keepalives_total",
			Help:      "Total keepalive comments sent",
		}),

		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: httpSubsystem,
				Name:      "requests_total",
				Help:      "HTTP requests by method, route and status code",
			},
			[]string{"method", "route", "code"},
		),
	}
}

func (m *Metrics) StreamStarted() { m.ActiveStreams.Inc() }

func (m *Metrics) FirstChunk(latency time.Duration) {
	m.TimeToFirstChunkSeconds.Observe(latency.Seconds())
}

func (m *Metrics) FallbackUsed() { m.FallbacksTotal.Inc() }

func (m *Metrics) ClientGone() { m.ClientDisconnectsTotal.Inc() }

func (m *Metrics) StreamFinished(status chat.StreamStatus, elapsed time.Duration) {
	m.ActiveStreams.Dec()
	m.StreamsTotal.WithLabelValues(string(status)).Inc()
	m.StreamDurationSeconds.WithLabelValues(string(status)).Observe(elapsed.Seconds())
}

func (m *Metrics) KeepAlive() { m.KeepAlivesTotal.Inc() }

var _ chat.StreamObserver = (*Metrics)(nil)
