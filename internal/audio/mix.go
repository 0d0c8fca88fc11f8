package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"sync/atomic"
)

// ErrChannelExists is returned by MixGraph.Add for a session that already has
// a channel in the graph.
var ErrChannelExists = errors.New("audio: channel already in mix graph")

// MixGraph sums every registered Channel into one output stream. The set of
// channels is copy-on-write: Add and Remove publish a new slice and each Pull
// works on the slice it loaded, so membership changes never block a pull.
type MixGraph struct {
	mu       sync.Mutex // serializes Add and Remove
	channels atomic.Pointer[[]*Channel]

	pullMu  sync.Mutex // serializes Pull; never taken by Add or Remove
	scratch []byte
	acc     []int32

	pulls   atomic.Int64
	clipped atomic.Int64
}

// NewMixGraph returns an empty graph.
func NewMixGraph() *MixGraph {
	g := &MixGraph{}
	g.channels.Store(&[]*Channel{})
	return g
}

// Add registers ch under its session id.
func (g *MixGraph) Add(ch *Channel) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	cur := *g.channels.Load()
	for _, c := range cur {
		if c.id == ch.id {
			return ErrChannelExists
		}
	}
	next := make([]*Channel, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, ch)
	ch.graph.Store(g)
	g.channels.Store(&next)
	return nil
}

// Remove deregisters the channel for session id. It reports whether a channel
// was removed. A pull already in progress may still read the channel once.
func (g *MixGraph) Remove(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	cur := *g.channels.Load()
	next := make([]*Channel, 0, len(cur))
	var removed *Channel
	for _, c := range cur {
		if c.id == id {
			removed = c
			continue
		}
		next = append(next, c)
	}
	if removed == nil {
		return false
	}
	g.channels.Store(&next)
	removed.graph.CompareAndSwap(g, nil)
	return true
}

// Len returns the number of registered channels.
func (g *MixGraph) Len() int {
	return len(*g.channels.Load())
}

// IDs returns the session ids of registered channels.
func (g *MixGraph) IDs() []string {
	cur := *g.channels.Load()
	ids := make([]string, len(cur))
	for i, c := range cur {
		ids[i] = c.id
	}
	return ids
}

// Pull fills out with the sum of all channels' next blocks, clamped to the
// 16-bit range. With no channels out is silence.
func (g *MixGraph) Pull(out []byte) {
	g.pullMu.Lock()
	defer g.pullMu.Unlock()
	g.pulls.Add(1)

	chans := *g.channels.Load()
	if len(chans) == 0 {
		clear(out)
		return
	}

	samples := len(out) / 2
	if cap(g.acc) < samples {
		g.acc = make([]int32, samples)
		g.scratch = make([]byte, samples*2)
	}
	acc := g.acc[:samples]
	scratch := g.scratch[:samples*2]
	clear(acc)

	for _, ch := range chans {
		ch.Read(scratch)
		for i := range acc {
			acc[i] += int32(int16(binary.LittleEndian.Uint16(scratch[i*2:])))
		}
	}

	clipped := int64(0)
	for i, v := range acc {
		if v > math.MaxInt16 {
			v = math.MaxInt16
			clipped++
		} else if v < math.MinInt16 {
			v = math.MinInt16
			clipped++
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	if len(out)%2 == 1 {
		out[len(out)-1] = 0
	}
	if clipped > 0 {
		g.clipped.Add(clipped)
	}
}

// MixStats is a snapshot of graph counters.
type MixStats struct {
	Channels       int   `json:"channels"`
	Pulls          int64 `json:"pulls"`
	ClippedSamples int64 `json:"clippedSamples"`
}

// Stats returns a snapshot of graph counters.
func (g *MixGraph) Stats() MixStats {
	return MixStats{
		Channels:       g.Len(),
		Pulls:          g.pulls.Load(),
		ClippedSamples: g.clipped.Load(),
	}
}
