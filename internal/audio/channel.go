package audio

import (
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/airsink/internal/media"
)

// ChannelConfig configures a Channel.
type ChannelConfig struct {
	SampleRate int
	// Buffer is the amount of audio the ring buffer can hold.
	Buffer time.Duration
	// Delay is silence queued ahead of the first chunk. It is applied once,
	// when that chunk arrives, and cannot be changed afterwards.
	Delay time.Duration
	// Gain is the initial linear gain, 0 to 1.
	Gain float64
	// OnPlaybackState is called from the writer when the stream switches
	// between silent and non-silent chunks.
	OnPlaybackState func(playing bool)
}

// Channel is one session's pullable audio stream: a ring buffer plus a gain
// stage and a fixed delay.
type Channel struct {
	id         string
	delay      time.Duration
	delayBytes int
	primeOnce  sync.Once
	gain       atomic.Uint64 // math.Float64bits

	ring  atomic.Pointer[RingBuffer]
	graph atomic.Pointer[MixGraph]

	// readMu serializes reads with the final release of the ring so a pull
	// sees either the whole buffer or none of it.
	readMu sync.Mutex
	closed atomic.Bool
	final  atomic.Pointer[RingStats]

	playing   atomic.Bool
	stateSeen atomic.Bool
	onState   func(bool)
}

// ChannelStats is a snapshot of channel state.
type ChannelStats struct {
	RingStats
	Gain    float64       `json:"gain"`
	Delay   time.Duration `json:"delayNs"`
	Playing bool          `json:"playing"`
	Closed  bool          `json:"closed"`
}

// NewChannel creates a channel for session id. Reads are silent until the
// first chunk is written, which is then preceded by the delay.
func NewChannel(id string, cfg ChannelConfig) *Channel {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = media.SampleRate
	}
	capacity := media.BytesForDuration(cfg.SampleRate, cfg.Buffer)
	if capacity <= 0 {
		capacity = media.BytesForDuration(cfg.SampleRate, 4*time.Second)
	}
	ring := NewRingBuffer(capacity)
	delayBytes := min(media.BytesForDuration(cfg.SampleRate, cfg.Delay), ring.Cap())

	c := &Channel{
		id:         id,
		delay:      media.DurationForBytes(cfg.SampleRate, delayBytes),
		delayBytes: delayBytes,
		onState:    cfg.OnPlaybackState,
	}
	c.ring.Store(ring)
	c.SetGain(cfg.Gain)
	return c
}

// ID returns the session id the channel belongs to.
func (c *Channel) ID() string {
	return c.id
}

// Write queues one PCM chunk from the network. A trailing partial frame is
// dropped so the stream stays frame aligned. It never blocks; a chunk that
// does not fit is discarded. Writes after Close are ignored.
func (c *Channel) Write(chunk []byte) int {
	ring := c.ring.Load()
	if ring == nil {
		return 0
	}
	chunk = chunk[:len(chunk)-len(chunk)%media.BytesPerFrame]
	if len(chunk) == 0 {
		return 0
	}
	c.primeOnce.Do(func() { ring.WriteSilence(c.delayBytes) })
	c.trackPlayback(chunk)
	return ring.Write(chunk)
}

func (c *Channel) trackPlayback(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	playing := !isSilent(chunk)
	prev := c.playing.Swap(playing)
	first := c.stateSeen.CompareAndSwap(false, true)
	if (first || prev != playing) && c.onState != nil {
		c.onState(playing)
	}
}

func isSilent(p []byte) bool {
	for _, b := range p {
		if b != 0 {
			return false
		}
	}
	return true
}

// Read fills p with the next block at the current gain. Missing data and a
// closed channel both read as silence.
func (c *Channel) Read(p []byte) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	ring := c.ring.Load()
	if ring == nil {
		clear(p)
		return
	}
	ring.Read(p)
	applyGain(p, c.Gain())
}

func applyGain(p []byte, gain float64) {
	switch {
	case gain >= 1:
		return
	case gain <= 0:
		clear(p)
		return
	}
	for i := 0; i+1 < len(p); i += 2 {
		s := int16(binary.LittleEndian.Uint16(p[i:]))
		binary.LittleEndian.PutUint16(p[i:], uint16(int16(float64(s)*gain)))
	}
}

// SetGain sets the linear gain, clamped to [0, 1]. It takes effect on the
// next block read.
func (c *Channel) SetGain(g float64) {
	if math.IsNaN(g) {
		return
	}
	g = max(0, min(1, g))
	c.gain.Store(math.Float64bits(g))
}

// Gain returns the current linear gain.
func (c *Channel) Gain() float64 {
	return math.Float64frombits(c.gain.Load())
}

// Delay returns the delay queued ahead of the first chunk.
func (c *Channel) Delay() time.Duration {
	return c.delay
}

// Playing reports whether the most recent chunk carried non-silent audio.
func (c *Channel) Playing() bool {
	return c.playing.Load()
}

// Close detaches the channel from its mix graph and then releases the ring
// buffer. It is idempotent.
func (c *Channel) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	if g := c.graph.Load(); g != nil {
		g.Remove(c.id)
	}
	c.readMu.Lock()
	if ring := c.ring.Swap(nil); ring != nil {
		rs := ring.Stats()
		c.final.Store(&rs)
	}
	c.readMu.Unlock()
}

// Stats returns a snapshot of channel state.
func (c *Channel) Stats() ChannelStats {
	var rs RingStats
	if ring := c.ring.Load(); ring != nil {
		rs = ring.Stats()
	} else if final := c.final.Load(); final != nil {
		rs = *final
	}
	return ChannelStats{
		RingStats: rs,
		Gain:      c.Gain(),
		Delay:     c.delay,
		Playing:   c.playing.Load(),
		Closed:    c.closed.Load(),
	}
}
