package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reasons a frame was not forwarded.
const (
	DropNotForwarding = "not_forwarding"
	DropQueueFull     = "queue_full"
	DropNoSession     = "no_session"
	DropDecode        = "decode_error"
)

// Metrics contains the relay's Prometheus collectors.
type Metrics struct {
	FramesRouted    prometheus.Counter
	FramesForwarded prometheus.Counter
	FramesDropped   *prometheus.CounterVec
	BytesForwarded  prometheus.Counter

	ChannelsOpened prometheus.Counter
	ChannelsClosed *prometheus.CounterVec
	DialDuration   prometheus.Histogram

	ActiveSessions prometheus.Gauge
	ActiveChannels prometheus.Gauge

	ViewerMessages     *prometheus.CounterVec
	UnrecognizedViewer prometheus.Counter
	UpstreamErrors     prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FramesRouted: f.NewCounter(prometheus.CounterOpts{
			Name: "uam_frames_routed_total",
			Help: "Audio frames received from upstream",
		}),
		FramesForwarded: f.NewCounter(prometheus.CounterOpts{
			Name: "uam_frames_forwarded_total",
			Help: "Audio frames queued to a speaker channel",
		}),
		FramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "uam_frames_dropped_total",
			Help: "Audio frames dropped before reaching the backend",
		}, []string{"reason"}),
		BytesForwarded: f.NewCounter(prometheus.CounterOpts{
			Name: "uam_bytes_forwarded_total",
			Help: "Decoded audio bytes queued to speaker channels",
		}),

		ChannelsOpened: f.NewCounter(prometheus.CounterOpts{
			Name: "uam_channels_opened_total",
			Help: "Speaker channels created",
		}),
		ChannelsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "uam_channels_closed_total",
			Help: "Speaker channels removed, by final state",
		}, []string{"state"}),
		DialDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "uam_backend_dial_seconds",
			Help:    "Time to open a backend connection",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		}),

		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "uam_active_sessions",
			Help: "Sessions currently relayed",
		}),
		ActiveChannels: f.NewGauge(prometheus.GaugeOpts{
			Name: "uam_active_channels",
			Help: "Speaker channels not yet closed",
		}),

		ViewerMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "uam_viewer_messages_total",
			Help: "Decoded viewer messages, by kind",
		}, []string{"kind"}),
		UnrecognizedViewer: f.NewCounter(prometheus.CounterOpts{
			Name: "uam_viewer_unrecognized_total",
			Help: "Viewer messages of unknown shape",
		}),
		UpstreamErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "uam_upstream_errors_total",
			Help: "Upstream link failures",
		}),
	}
}

func (m *Metrics) RecordDrop(reason string) {
	m.FramesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordForward(n int) {
	m.FramesForwarded.Inc()
	m.BytesForwarded.Add(float64(n))
}
