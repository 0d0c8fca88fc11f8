// Package rtpsource is a loopback transport that feeds sessions from plain
// RTP over UDP. Each sender address becomes one session: H.264 (payload type
// 96) is depacketized into Annex B access units and L16 stereo (payload type
// 97) is converted to little-endian PCM.
package rtpsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"

	"github.com/zsiec/airsink/internal/media"
	"github.com/zsiec/airsink/internal/session"
)

// Payload types accepted by the listener.
const (
	PayloadTypeH264 = 96
	PayloadTypeL16  = 97
)

// DefaultIdleTimeout closes a sender's session after this long without packets.
const DefaultIdleTimeout = 5 * time.Second

const maxPacketSize = 1500

// Sessions creates sessions for new senders.
type Sessions interface {
	Create(ctx context.Context, info session.Info, cmd session.Commander) (*session.Session, error)
}

// Config configures a Listener.
type Config struct {
	Addr        string
	IdleTimeout time.Duration
	Sessions    Sessions
	Log         *slog.Logger
}

// Stats counts listener activity.
type Stats struct {
	Peers     int   `json:"peers"`
	Packets   int64 `json:"packets"`
	Invalid   int64 `json:"invalid"`
	Unknown   int64 `json:"unknownPayloadType"`
	SeqGaps   int64 `json:"sequenceGaps"`
	Units     int64 `json:"accessUnits"`
	PCMChunks int64 `json:"pcmChunks"`
	Expired   int64 `json:"expired"`
}

// Listener receives RTP from any number of senders.
type Listener struct {
	cfg Config
	log *slog.Logger

	mu    sync.Mutex
	peers map[string]*peer

	packets   atomic.Int64
	invalid   atomic.Int64
	unknown   atomic.Int64
	seqGaps   atomic.Int64
	units     atomic.Int64
	pcmChunks atomic.Int64
	expired   atomic.Int64
}

type peer struct {
	addr string
	sess *session.Session

	lastSeen atomic.Int64

	// Touched only by the receive goroutine.
	depack    codecs.H264Packet
	au        []byte
	videoSeq  uint16
	videoInit bool
	// Set after loss; cleared at the next access unit boundary.
	discard bool
}

// NewListener creates a Listener. Sessions is required.
func NewListener(cfg Config) (*Listener, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("rtpsource: Sessions is required")
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Listener{
		cfg:   cfg,
		log:   cfg.Log.With("component", "rtpsource"),
		peers: make(map[string]*peer),
	}, nil
}

// Run listens on cfg.Addr until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	conn, err := net.ListenPacket("udp", l.cfg.Addr)
	if err != nil {
		return fmt.Errorf("rtpsource: listen %s: %w", l.cfg.Addr, err)
	}
	return l.Serve(ctx, conn)
}

// Serve reads packets from conn until ctx is cancelled. conn is closed on
// return.
func (l *Listener) Serve(ctx context.Context, conn net.PacketConn) error {
	l.log.Info("RTP listener started", "addr", conn.LocalAddr().String())

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	go l.reapIdle(ctx)

	buf := make([]byte, maxPacketSize)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.log.Warn("RTP read failed", "error", err)
			continue
		}
		l.HandlePacket(ctx, addr.String(), buf[:n])
	}
}

// HandlePacket processes one datagram from the sender at from.
func (l *Listener) HandlePacket(ctx context.Context, from string, data []byte) {
	l.packets.Add(1)

	var pkt rtp.Packet
	if err := pkt.Unmarshal(data); err != nil {
		l.invalid.Add(1)
		l.log.Debug("invalid RTP packet", "from", from, "error", err)
		return
	}

	p, err := l.peerFor(ctx, from)
	if err != nil {
		l.log.Warn("session create failed", "from", from, "error", err)
		return
	}
	p.lastSeen.Store(time.Now().UnixNano())

	switch pkt.PayloadType {
	case PayloadTypeH264:
		l.handleVideo(p, &pkt)
	case PayloadTypeL16:
		if chunk := l16ToPCM(pkt.Payload); len(chunk) > 0 {
			l.pcmChunks.Add(1)
			p.sess.OnPcmChunk(chunk)
		}
	default:
		l.unknown.Add(1)
	}
}

func (l *Listener) handleVideo(p *peer, pkt *rtp.Packet) {
	if p.videoInit && pkt.SequenceNumber != p.videoSeq+1 {
		l.seqGaps.Add(1)
		p.resetVideo()
		p.discard = true
	}
	p.videoSeq = pkt.SequenceNumber
	p.videoInit = true

	if p.discard {
		if pkt.Marker {
			p.discard = false
		}
		return
	}

	nal, err := p.depack.Unmarshal(pkt.Payload)
	if err != nil {
		l.log.Debug("H.264 depacketize failed", "session", p.sess.ID(), "error", err)
		p.resetVideo()
		p.discard = !pkt.Marker
		return
	}
	p.au = append(p.au, nal...)

	if pkt.Marker && len(p.au) > 0 {
		l.units.Add(1)
		p.sess.OnCompressedVideoUnit(p.au)
		p.au = nil
	}
}

func (p *peer) resetVideo() {
	p.depack = codecs.H264Packet{}
	p.au = nil
}

// peerFor returns the peer for a sender address, creating a session on first
// contact or when the previous one has been closed elsewhere.
func (l *Listener) peerFor(ctx context.Context, from string) (*peer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if p, ok := l.peers[from]; ok {
		select {
		case <-p.sess.Done():
			delete(l.peers, from)
		default:
			return p, nil
		}
	}

	info := session.Info{
		ID:    uuid.NewString(),
		Name:  from,
		Model: "rtp",
	}
	sess, err := l.cfg.Sessions.Create(ctx, info, nil)
	if err != nil {
		return nil, err
	}
	p := &peer{addr: from, sess: sess}
	l.peers[from] = p
	l.log.Info("RTP sender connected", "from", from, "session", info.ID)
	return p, nil
}

func (l *Listener) reapIdle(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.IdleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.expire(now)
		}
	}
}

// expire closes sessions of senders idle since before now - IdleTimeout.
func (l *Listener) expire(now time.Time) {
	cutoff := now.Add(-l.cfg.IdleTimeout).UnixNano()

	var idle []*peer
	l.mu.Lock()
	for addr, p := range l.peers {
		if p.lastSeen.Load() < cutoff {
			delete(l.peers, addr)
			idle = append(idle, p)
		}
	}
	l.mu.Unlock()

	for _, p := range idle {
		l.expired.Add(1)
		l.log.Info("RTP sender idle, closing session", "from", p.addr, "session", p.sess.ID())
		go p.sess.OnSessionClosed()
	}
}

// Stats returns a snapshot of listener counters.
func (l *Listener) Stats() Stats {
	l.mu.Lock()
	peers := len(l.peers)
	l.mu.Unlock()
	return Stats{
		Peers:     peers,
		Packets:   l.packets.Load(),
		Invalid:   l.invalid.Load(),
		Unknown:   l.unknown.Load(),
		SeqGaps:   l.seqGaps.Load(),
		Units:     l.units.Load(),
		PCMChunks: l.pcmChunks.Load(),
		Expired:   l.expired.Load(),
	}
}

// l16ToPCM converts big-endian 16-bit samples to little-endian, truncated to
// whole stereo frames.
func l16ToPCM(payload []byte) []byte {
	n := len(payload) - len(payload)%media.BytesPerFrame
	if n == 0 {
		return nil
	}
	out := make([]byte, n)
	for i := 0; i < n; i += 2 {
		out[i] = payload[i+1]
		out[i+1] = payload[i]
	}
	return out
}
