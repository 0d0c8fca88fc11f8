package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/airsink/internal/audio"
	"github.com/zsiec/airsink/internal/media"
	"github.com/zsiec/airsink/internal/render"
)

func TestFrameResults(t *testing.T) {
	t.Parallel()
	m := New(prometheus.NewRegistry())

	m.FrameResult("s1", render.Accepted)
	m.FrameResult("s1", render.Accepted)
	m.FrameResult("s1", render.DroppedBusy)
	m.FrameResult("s1", render.DroppedSuspended)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.framesDecoded.WithLabelValues("s1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesDropped.WithLabelValues("s1", "busy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesDropped.WithLabelValues("s1", "suspended")))
}

func TestSessionClosedDropsSeries(t *testing.T) {
	t.Parallel()
	m := New(prometheus.NewRegistry())

	m.SessionOpened()
	m.FrameResult("s1", render.Accepted)
	m.FrameResult("s2", render.Accepted)
	m.QueueDrop("s1", "audio")
	require.Equal(t, 2, testutil.CollectAndCount(m.framesDecoded))

	m.SessionClosed("s1", 12, true)
	assert.Equal(t, 1, testutil.CollectAndCount(m.framesDecoded))
	assert.Zero(t, testutil.CollectAndCount(m.queueDrops))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.sessionsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.forcedTeardowns))
}

func TestRemoteCommandStatus(t *testing.T) {
	t.Parallel()
	m := New(prometheus.NewRegistry())

	m.RemoteCommand("play", nil)
	m.RemoteCommand("play", errors.New("timeout"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.remoteCommands.WithLabelValues("play", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.remoteCommands.WithLabelValues("play", "error")))
}

func TestObservers(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := New(reg)

	g := audio.NewMixGraph()
	require.NoError(t, g.Add(audio.NewChannel("a", audio.ChannelConfig{})))
	m.ObserveMixGraph(g)

	pool := media.NewFramePool()
	f := pool.Get(2, 2)
	m.ObserveFramePool(pool)

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, fam := range families {
		for _, metric := range fam.GetMetric() {
			if g := metric.GetGauge(); g != nil {
				values[fam.GetName()] = g.GetValue()
			}
		}
	}
	assert.Equal(t, 1.0, values["airsink_audio_mix_channels"])
	assert.Equal(t, 1.0, values["airsink_video_frames_outstanding"])
	f.Release()
}

func TestNilMetrics(t *testing.T) {
	t.Parallel()
	var m *Metrics
	m.FrameResult("s", render.DroppedBusy)
	m.DecodeError("s")
	m.DecodeDuration(0.01)
	m.DecoderDisabled()
	m.QueueDrop("s", "video")
	m.AudioDiscarded("s")
	m.SessionOpened()
	m.SessionClosed("s", 1, false)
	m.StateTransition("new", "active")
	m.RemoteCommand("play", nil)
	m.ObserveMixGraph(audio.NewMixGraph())
	m.ObserveFramePool(media.NewFramePool())
}
