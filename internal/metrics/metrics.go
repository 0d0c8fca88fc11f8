// Package metrics exposes pipeline counters to Prometheus. Every method is
// safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zsiec/airsink/internal/audio"
	"github.com/zsiec/airsink/internal/media"
	"github.com/zsiec/airsink/internal/render"
)

const namespace = "airsink"

// Metrics holds the collectors for one registry.
type Metrics struct {
	framesDecoded    *prometheus.CounterVec
	framesDropped    *prometheus.CounterVec
	decodeErrors     *prometheus.CounterVec
	decodeSeconds    prometheus.Histogram
	decoderDisabled  prometheus.Counter
	queueDrops       *prometheus.CounterVec
	audioDiscarded   *prometheus.CounterVec
	sessionsActive   prometheus.Gauge
	sessionsTotal    prometheus.Counter
	sessionDuration  prometheus.Histogram
	stateTransitions *prometheus.CounterVec
	remoteCommands   *prometheus.CounterVec
	forcedTeardowns  prometheus.Counter

	factory promauto.Factory
}

// New registers the pipeline collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		factory: f,
		framesDecoded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "video",
			Name:      "frames_decoded_total",
			Help:      "Frames accepted by the render gate",
		}, []string{"session"}),
		framesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "video",
			Name:      "frames_dropped_total",
			Help:      "Frames dropped by the render gate",
		}, []string{"session", "reason"}),
		decodeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "video",
			Name:      "decode_errors_total",
			Help:      "Access units that failed to decode",
		}, []string{"session"}),
		decodeSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "video",
			Name:      "decode_duration_seconds",
			Help:      "Time spent decoding one access unit",
			Buckets:   []float64{0.0005, 0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1},
		}),
		decoderDisabled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "video",
			Name:      "decoder_disabled_total",
			Help:      "Sessions whose video path was disabled by a decoder init failure",
		}),
		queueDrops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "queue_drops_total",
			Help:      "Events dropped because a session queue was full",
		}, []string{"session", "path"}),
		audioDiscarded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audio",
			Name:      "chunks_discarded_total",
			Help:      "PCM chunks discarded because the ring buffer was full",
		}, []string{"session"}),
		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of open sessions",
		}),
		sessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "created_total",
			Help:      "Sessions created",
		}),
		sessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "duration_seconds",
			Help:      "Lifetime of closed sessions",
			Buckets:   []float64{1, 10, 60, 300, 1800, 3600, 4 * 3600},
		}),
		stateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "state_transitions_total",
			Help:      "Session lifecycle transitions",
		}, []string{"from_state", "to_state"}),
		remoteCommands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "remote_commands_total",
			Help:      "Commands sent to peers",
		}, []string{"action", "status"}),
		forcedTeardowns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "forced_teardowns_total",
			Help:      "Session closes whose drain exceeded the timeout",
		}),
	}
}

// FrameResult records one render gate outcome.
func (m *Metrics) FrameResult(session string, r render.Result) {
	if m == nil {
		return
	}
	if r == render.Accepted {
		m.framesDecoded.WithLabelValues(session).Inc()
		return
	}
	m.framesDropped.WithLabelValues(session, r.String()).Inc()
}

// DecodeError records a failed access unit.
func (m *Metrics) DecodeError(session string) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(session).Inc()
}

// DecodeDuration records the time spent in one decode call.
func (m *Metrics) DecodeDuration(seconds float64) {
	if m == nil {
		return
	}
	m.decodeSeconds.Observe(seconds)
}

// DecoderDisabled records a session losing its video path.
func (m *Metrics) DecoderDisabled() {
	if m == nil {
		return
	}
	m.decoderDisabled.Inc()
}

// QueueDrop records an event dropped at a full session queue. path is
// "video" or "audio".
func (m *Metrics) QueueDrop(session, path string) {
	if m == nil {
		return
	}
	m.queueDrops.WithLabelValues(session, path).Inc()
}

// AudioDiscarded records a chunk discarded by a full ring buffer.
func (m *Metrics) AudioDiscarded(session string) {
	if m == nil {
		return
	}
	m.audioDiscarded.WithLabelValues(session).Inc()
}

// SessionOpened records a new session.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsTotal.Inc()
	m.sessionsActive.Inc()
}

// SessionClosed records a closed session and drops its per-session series.
func (m *Metrics) SessionClosed(session string, lifetimeSeconds float64, forced bool) {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
	m.sessionDuration.Observe(lifetimeSeconds)
	if forced {
		m.forcedTeardowns.Inc()
	}
	labels := prometheus.Labels{"session": session}
	m.framesDecoded.DeletePartialMatch(labels)
	m.framesDropped.DeletePartialMatch(labels)
	m.decodeErrors.DeletePartialMatch(labels)
	m.queueDrops.DeletePartialMatch(labels)
	m.audioDiscarded.DeletePartialMatch(labels)
}

// StateTransition records a session lifecycle transition.
func (m *Metrics) StateTransition(from, to string) {
	if m == nil {
		return
	}
	m.stateTransitions.WithLabelValues(from, to).Inc()
}

// RemoteCommand records a command sent to a peer.
func (m *Metrics) RemoteCommand(action string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.remoteCommands.WithLabelValues(action, status).Inc()
}

// ObserveMixGraph exports the mix graph's channel count and counters.
func (m *Metrics) ObserveMixGraph(g *audio.MixGraph) {
	if m == nil || g == nil {
		return
	}
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "audio",
		Name:      "mix_channels",
		Help:      "Channels currently in the mix graph",
	}, func() float64 { return float64(g.Len()) })
	m.factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "audio",
		Name:      "clipped_samples_total",
		Help:      "Output samples clamped to the 16-bit range",
	}, func() float64 { return float64(g.Stats().ClippedSamples) })
}

// ObserveFramePool exports the number of frames currently checked out of p.
func (m *Metrics) ObserveFramePool(p *media.FramePool) {
	if m == nil || p == nil {
		return
	}
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "video",
		Name:      "frames_outstanding",
		Help:      "Pooled frame buffers not yet returned",
	}, func() float64 { return float64(p.Stats().Outstanding) })
	m.factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "video",
		Name:      "frame_allocations_total",
		Help:      "Frame buffers allocated because the pool was empty",
	}, func() float64 { return float64(p.Stats().Allocs) })
}
