package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics contains the Prometheus collectors for capture, transport and playback.
type Metrics struct {
	registry *prometheus.Registry

	// Capture
	FramesCaptured prometheus.Counter
	FramesDropped  prometheus.Counter
	VoiceActivity  *prometheus.CounterVec
	InputLevel     prometheus.Gauge

	// Transport
	FramesSent     *prometheus.CounterVec
	BytesSent      prometheus.Counter
	InboundEvents  prometheus.Counter
	ProtocolErrors prometheus.Counter
	ActiveSessions *prometheus.GaugeVec
	SessionErrors  *prometheus.CounterVec

	// Playback
	PlaybackQueued    prometheus.Counter
	PlaybackCompleted prometheus.Counter
	PlaybackFailed    prometheus.Counter
	PlaybackDiscarded prometheus.Counter
	PlaybackDuration  prometheus.Histogram
}

// New creates and registers all collectors on registry.
func New(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,

		FramesCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "flowstate_capture_frames_total",
			Help: "Total number of audio blocks captured and encoded",
		}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "flowstate_capture_frames_dropped_total",
			Help: "Total number of audio blocks dropped because the hand-off was full",
		}),
		VoiceActivity: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flowstate_voice_activity_transitions_total",
			Help: "Voice activity transitions by target state",
		}, []string{"state"}),
		InputLevel: factory.NewGauge(prometheus.GaugeOpts{
			Name: "flowstate_capture_input_level",
			Help: "Smoothed microphone level in the 0..1 range",
		}),

		FramesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flowstate_socket_frames_sent_total",
			Help: "Frames written to the translation socket by kind",
		}, []string{"kind"}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "flowstate_socket_audio_bytes_sent_total",
			Help: "PCM bytes written to the translation socket",
		}),
		InboundEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "flowstate_socket_inbound_events_total",
			Help: "Inbound server messages parsed successfully",
		}),
		ProtocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "flowstate_socket_protocol_errors_total",
			Help: "Inbound server messages dropped as malformed",
		}),
		ActiveSessions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flowstate_active_sessions",
			Help: "Live sessions by role",
		}, []string{"role"}),
		SessionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flowstate_session_errors_total",
			Help: "Session errors by code",
		}, []string{"code"}),

		PlaybackQueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "flowstate_playback_items_queued_total",
			Help: "Playback items accepted into the queue",
		}),
		PlaybackCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "flowstate_playback_items_completed_total",
			Help: "Playback items rendered to completion",
		}),
		PlaybackFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "flowstate_playback_items_failed_total",
			Help: "Playback items that failed to render",
		}),
		PlaybackDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "flowstate_playback_items_discarded_total",
			Help: "Playback items discarded by mute or shutdown",
		}),
		PlaybackDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "flowstate_playback_duration_seconds",
			Help:    "Wall time spent rendering one playback item",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16},
		}),
	}
}

// Discard returns collectors bound to a private registry nobody scrapes.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}

// OrDiscard returns m, or a discarding set when m is nil.
func OrDiscard(m *Metrics) *Metrics {
	if m == nil {
		return Discard()
	}
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve runs a /metrics endpoint on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.SugaredLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Infow("metrics server listening", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
