package session

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/zsiec/airsink/internal/audio"
	"github.com/zsiec/airsink/internal/decoder"
	"github.com/zsiec/airsink/internal/render"
	"github.com/zsiec/airsink/internal/volume"
)

// Stats is a point-in-time view of a session for the control API.
type Stats struct {
	Info     Info       `json:"info"`
	State    string     `json:"state"`
	UptimeMs int64      `json:"uptimeMs"`
	Metadata Metadata   `json:"metadata"`
	Video    VideoStats `json:"video"`
	Audio    AudioStats `json:"audio"`
}

// VideoStats describes the video path.
type VideoStats struct {
	Disabled   bool               `json:"disabled"`
	Width      int                `json:"width"`
	Height     int                `json:"height"`
	Suspended  bool               `json:"suspended"`
	QueueDepth int                `json:"queueDepth"`
	QueueDrops int64              `json:"queueDrops"`
	Decoder    decoder.Stats      `json:"decoder"`
	Frames     render.FrameTotals `json:"frames"`
}

// AudioStats describes the audio path.
type AudioStats struct {
	Volume     float64            `json:"volume"`
	Playing    bool               `json:"playing"`
	QueueDepth int                `json:"queueDepth"`
	QueueDrops int64              `json:"queueDrops"`
	Channel    audio.ChannelStats `json:"channel"`
	Debouncer  volume.Stats       `json:"debouncer"`
}

// Stats returns a snapshot of the session.
func (s *Session) Stats() Stats {
	var ds decoder.Stats
	disabled := s.videoDisabled.Load()
	if s.dec != nil {
		ds = s.dec.Stats()
		disabled = disabled || s.dec.Disabled()
	}
	return Stats{
		Info:     s.info,
		State:    s.State(),
		UptimeMs: time.Since(s.createdAt).Milliseconds(),
		Metadata: s.Metadata(),
		Video: VideoStats{
			Disabled:   disabled,
			Width:      int(s.width.Load()),
			Height:     int(s.height.Load()),
			Suspended:  s.gate.Suspended(),
			QueueDepth: len(s.videoCh),
			QueueDrops: s.videoDrops.Load(),
			Decoder:    ds,
			Frames:     s.gate.Stats().Totals(),
		},
		Audio: AudioStats{
			Volume:     s.Volume(),
			Playing:    s.channel.Playing(),
			QueueDepth: len(s.audioCh),
			QueueDrops: s.audioDrops.Load(),
			Channel:    s.channel.Stats(),
			Debouncer:  s.debouncer.Stats(),
		},
	}
}

func clampVolume(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return max(0, min(1, v))
}

func loadFloat(a *atomic.Uint64) float64 {
	return math.Float64frombits(a.Load())
}

func storeFloat(a *atomic.Uint64, v float64) {
	a.Store(math.Float64bits(v))
}
