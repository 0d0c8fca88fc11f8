// Package session runs the media pipeline for each connected peer: a decode
// task feeding a render gate, and an audio task feeding a mix-graph channel.
// Transport callbacks only enqueue; they never block on decoding or output.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/airsink/internal/audio"
	"github.com/zsiec/airsink/internal/decoder"
	"github.com/zsiec/airsink/internal/media"
	"github.com/zsiec/airsink/internal/metrics"
	"github.com/zsiec/airsink/internal/render"
	"github.com/zsiec/airsink/internal/volume"
)

var (
	ErrDuplicate       = errors.New("session: already exists")
	ErrNotFound        = errors.New("session: not found")
	ErrClosed          = errors.New("session: closed")
	ErrNoRemoteControl = errors.New("session: peer does not accept remote commands")
)

// Lifecycle states.
const (
	StateNew     = "new"
	StateActive  = "active"
	StateClosing = "closing"
	StateClosed  = "closed"
)

// Info identifies a connected peer.
type Info struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Model         string `json:"model,omitempty"`
	RemoteControl bool   `json:"remoteControl"`
}

// Metadata is the peer's now-playing information.
type Metadata struct {
	Title  string `json:"title,omitempty"`
	Artist string `json:"artist,omitempty"`
	Album  string `json:"album,omitempty"`
}

// Options are the per-session tunables. Zero fields take the value from
// DefaultOptions, except Gain and AudioDelay where zero is meaningful.
type Options struct {
	SampleRate     int
	AudioBuffer    time.Duration
	AudioDelay     time.Duration
	Gain           float64
	VideoQueue     int
	AudioQueue     int
	MaxFailStreak  int
	StatsInterval  time.Duration
	QuietPeriod    time.Duration
	DrainTimeout   time.Duration
	CommandTimeout time.Duration
}

// DefaultOptions returns the options used for zero fields.
func DefaultOptions() Options {
	return Options{
		SampleRate:     media.SampleRate,
		AudioBuffer:    4 * time.Second,
		AudioDelay:     0,
		Gain:           1,
		VideoQueue:     media.VideoQueueSize,
		AudioQueue:     media.AudioQueueSize,
		MaxFailStreak:  decoder.DefaultMaxFailStreak,
		StatsInterval:  time.Second,
		QuietPeriod:    volume.DefaultQuietPeriod,
		DrainTimeout:   2 * time.Second,
		CommandTimeout: 5 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SampleRate <= 0 {
		o.SampleRate = d.SampleRate
	}
	if o.AudioBuffer <= 0 {
		o.AudioBuffer = d.AudioBuffer
	}
	if o.VideoQueue <= 0 {
		o.VideoQueue = d.VideoQueue
	}
	if o.AudioQueue <= 0 {
		o.AudioQueue = d.AudioQueue
	}
	if o.MaxFailStreak <= 0 {
		o.MaxFailStreak = d.MaxFailStreak
	}
	if o.StatsInterval <= 0 {
		o.StatsInterval = d.StatsInterval
	}
	if o.QuietPeriod <= 0 {
		o.QuietPeriod = d.QuietPeriod
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = d.DrainTimeout
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = d.CommandTimeout
	}
	return o
}

// Config wires a Session to its collaborators.
type Config struct {
	Info      Info
	Commander Commander
	Options   Options

	NewBackend decoder.BackendFactory
	Pool       *media.FramePool
	Graph      *audio.MixGraph
	Presenter  render.Presenter
	Dispatcher render.Dispatcher
	Metrics    *metrics.Metrics
	Log        *slog.Logger

	OnPlaybackState func(playing bool)
	OnMetadata      func(Metadata)
	OnClosed        func(*Session)
}

type videoEventKind int

const (
	videoUnit videoEventKind = iota
	videoResize
)

type videoEvent struct {
	kind   videoEventKind
	au     []byte
	width  int
	height int
}

// Session is the pipeline state of one peer.
type Session struct {
	info      Info
	opts      Options
	log       *slog.Logger
	metrics   *metrics.Metrics
	commander Commander
	createdAt time.Time

	lifecycle *fsm.FSM

	dec           *decoder.Decoder
	videoDisabled atomic.Bool
	gate          *render.Gate
	channel       *audio.Channel
	debouncer     *volume.Debouncer

	videoCh chan videoEvent
	audioCh chan []byte
	cancel  context.CancelFunc
	done    chan struct{}

	volume     atomic.Uint64 // math.Float64bits
	metadata   atomic.Pointer[Metadata]
	videoDrops atomic.Int64
	audioDrops atomic.Int64
	width      atomic.Int32
	height     atomic.Int32

	onMetadata func(Metadata)
	onClosed   func(*Session)
	closeOnce  sync.Once
	forced     atomic.Bool
}

// New builds the session pipeline and starts its tasks. A decoder that
// cannot be opened, or a nil NewBackend, disables video for the session; audio
// still runs.
func New(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Info.ID == "" {
		return nil, errors.New("session: empty id")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Pool == nil {
		cfg.Pool = media.NewFramePool()
	}
	opts := cfg.Options.withDefaults()
	log := cfg.Log.With("session", cfg.Info.ID)

	s := &Session{
		info:       cfg.Info,
		opts:       opts,
		log:        log,
		metrics:    cfg.Metrics,
		commander:  cfg.Commander,
		createdAt:  time.Now(),
		videoCh:    make(chan videoEvent, opts.VideoQueue),
		audioCh:    make(chan []byte, opts.AudioQueue),
		done:       make(chan struct{}),
		onMetadata: cfg.OnMetadata,
		onClosed:   cfg.OnClosed,
	}
	s.lifecycle = newLifecycle(s)

	dec, err := decoder.New(decoder.Config{
		NewBackend:    cfg.NewBackend,
		Pool:          cfg.Pool,
		MaxFailStreak: opts.MaxFailStreak,
		Log:           log,
	})
	if err != nil {
		log.Error("video disabled", "error", err)
		s.videoDisabled.Store(true)
		s.metrics.DecoderDisabled()
	}
	s.dec = dec

	presenter, dispatcher := cfg.Presenter, cfg.Dispatcher
	if presenter == nil || dispatcher == nil {
		presenter, dispatcher = discardPresenter{}, inlineDispatcher{}
	}
	s.gate = render.NewGate(presenter, dispatcher, nil, log)

	s.channel = audio.NewChannel(cfg.Info.ID, audio.ChannelConfig{
		SampleRate:      opts.SampleRate,
		Buffer:          opts.AudioBuffer,
		Delay:           opts.AudioDelay,
		Gain:            opts.Gain,
		OnPlaybackState: cfg.OnPlaybackState,
	})
	if cfg.Graph != nil {
		if err := cfg.Graph.Add(s.channel); err != nil {
			s.closeDecoder()
			return nil, err
		}
	}
	s.setVolume(s.channel.Gain())
	s.debouncer = volume.New(opts.QuietPeriod, s.sendVolume, log)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return s.runVideo(gctx) })
	g.Go(func() error { return s.runAudio(gctx) })
	g.Go(func() error {
		s.gate.Stats().RunSampler(gctx, opts.StatsInterval, log, nil)
		return nil
	})
	go func() {
		if err := g.Wait(); err != nil {
			log.Error("session task failed", "error", err)
		}
		close(s.done)
	}()

	if err := s.lifecycle.Event(context.Background(), "start"); err != nil {
		log.Warn("lifecycle", "error", err)
	}
	s.metrics.SessionOpened()
	log.Info("session started", "name", cfg.Info.Name, "video", !s.videoDisabled.Load())
	return s, nil
}

func newLifecycle(s *Session) *fsm.FSM {
	return fsm.NewFSM(
		StateNew,
		fsm.Events{
			{Name: "start", Src: []string{StateNew}, Dst: StateActive},
			{Name: "close", Src: []string{StateNew, StateActive}, Dst: StateClosing},
			{Name: "finish", Src: []string{StateClosing}, Dst: StateClosed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.log.Debug("session state", "from", e.Src, "to", e.Dst)
				s.metrics.StateTransition(e.Src, e.Dst)
			},
		},
	)
}

// ID returns the session id.
func (s *Session) ID() string { return s.info.ID }

// Info returns the peer description.
func (s *Session) Info() Info { return s.info }

// State returns the lifecycle state.
func (s *Session) State() string { return s.lifecycle.Current() }

// Done is closed once the session's tasks have exited.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) accepting() bool {
	return s.lifecycle.Is(StateActive)
}

// OnCompressedVideoUnit queues one access unit for decoding. The caller must
// not modify au afterwards. A full queue drops the unit.
func (s *Session) OnCompressedVideoUnit(au []byte) {
	if !s.accepting() || s.videoDisabled.Load() {
		return
	}
	select {
	case s.videoCh <- videoEvent{kind: videoUnit, au: au}:
	default:
		s.videoDrops.Add(1)
		s.metrics.QueueDrop(s.info.ID, "video")
	}
}

// OnFrameSizeChanged tells the presentation layer to resize before frames of
// the new size arrive. It is ordered with queued access units; if the queue
// is full the resize is applied immediately and the surface guard discards
// any older frames that no longer fit.
func (s *Session) OnFrameSizeChanged(width, height int) {
	if !s.accepting() || width <= 0 || height <= 0 {
		return
	}
	select {
	case s.videoCh <- videoEvent{kind: videoResize, width: width, height: height}:
	default:
		s.resize(width, height)
	}
}

// OnPcmChunk queues one chunk of 16-bit stereo PCM. The caller must not
// modify chunk afterwards. A full queue drops the chunk.
func (s *Session) OnPcmChunk(chunk []byte) {
	if !s.accepting() {
		return
	}
	select {
	case s.audioCh <- chunk:
	default:
		s.audioDrops.Add(1)
		s.metrics.QueueDrop(s.info.ID, "audio")
	}
}

// OnRemoteVolume applies a volume change made on the peer. It is not echoed
// back.
func (s *Session) OnRemoteVolume(v float64) {
	v = clampVolume(v)
	s.channel.SetGain(v)
	s.setVolume(v)
	s.debouncer.SetRemote(v)
}

// OnMetadata records now-playing information from the peer.
func (s *Session) OnMetadata(md Metadata) {
	s.metadata.Store(&md)
	if s.onMetadata != nil {
		s.onMetadata(md)
	}
}

// OnSessionClosed is called by the transport when the peer disconnects.
func (s *Session) OnSessionClosed() {
	s.Close()
}

// SetVolume changes the local gain immediately and sends the settled value to
// the peer after the quiet period.
func (s *Session) SetVolume(v float64) {
	v = clampVolume(v)
	s.channel.SetGain(v)
	s.setVolume(v)
	s.debouncer.Request(v)
}

// Volume returns the current volume, 0 to 1.
func (s *Session) Volume() float64 {
	return loadFloat(&s.volume)
}

func (s *Session) setVolume(v float64) {
	storeFloat(&s.volume, v)
}

func (s *Session) sendVolume(v float64) {
	if s.commander == nil || !s.info.RemoteControl {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.CommandTimeout)
	defer cancel()
	err := s.commander.SendRemoteCommand(ctx, Command{Action: ActionSetVolume, Volume: v})
	s.metrics.RemoteCommand(string(ActionSetVolume), err)
	if err != nil {
		s.log.Warn("set volume failed", "volume", v, "error", err)
	}
}

// SendCommand forwards a transport command to the peer.
func (s *Session) SendCommand(ctx context.Context, action Action) error {
	if !s.accepting() {
		return ErrClosed
	}
	if action == ActionSetVolume {
		s.SetVolume(s.Volume())
		return nil
	}
	if s.commander == nil || !s.info.RemoteControl {
		return ErrNoRemoteControl
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.CommandTimeout)
	defer cancel()
	err := s.commander.SendRemoteCommand(ctx, Command{Action: action})
	s.metrics.RemoteCommand(string(action), err)
	return err
}

// SetSuspended marks the session's surface hidden or visible.
func (s *Session) SetSuspended(suspended bool) {
	s.gate.SetSuspended(suspended)
}

// Metadata returns the last now-playing information received.
func (s *Session) Metadata() Metadata {
	if md := s.metadata.Load(); md != nil {
		return *md
	}
	return Metadata{}
}

// Playing reports whether the peer is currently sending non-silent audio.
func (s *Session) Playing() bool {
	return s.channel.Playing()
}

// Close tears the session down: offers stop, tasks are cancelled and given
// DrainTimeout to finish along with any in-flight render, then the audio
// channel leaves the mix graph and the decoder, channel and debouncer are
// released. Close is idempotent and safe to call from any goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(s.teardown)
}

func (s *Session) teardown() {
	ctx := context.Background()
	if err := s.lifecycle.Event(ctx, "close"); err != nil {
		s.log.Debug("lifecycle", "error", err)
	}

	s.gate.Close()
	s.cancel()

	drainCtx, cancel := context.WithTimeout(ctx, s.opts.DrainTimeout)
	defer cancel()
	select {
	case <-s.done:
	case <-drainCtx.Done():
	}
	if err := s.gate.Drain(drainCtx); err != nil || drainCtx.Err() != nil {
		s.forced.Store(true)
		s.log.Warn("session drain timed out, forcing release", "timeout", s.opts.DrainTimeout)
	}

	s.channel.Close()
	s.debouncer.Close()
	s.closeDecoder()

	if err := s.lifecycle.Event(ctx, "finish"); err != nil {
		s.log.Debug("lifecycle", "error", err)
	}
	s.metrics.SessionClosed(s.info.ID, time.Since(s.createdAt).Seconds(), s.forced.Load())
	s.log.Info("session closed", "frames", s.gate.Stats().Totals().Decoded)

	if s.onClosed != nil {
		s.onClosed(s)
	}
}

func (s *Session) closeDecoder() {
	if s.dec != nil {
		_ = s.dec.Close()
	}
}

func (s *Session) resize(width, height int) {
	if int(s.width.Load()) == width && int(s.height.Load()) == height {
		return
	}
	s.width.Store(int32(width))
	s.height.Store(int32(height))
	s.log.Info("frame size changed", "width", width, "height", height)
	s.gate.Resize(width, height)
}

func (s *Session) runVideo(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-s.videoCh:
			switch ev.kind {
			case videoResize:
				s.resize(ev.width, ev.height)
			case videoUnit:
				s.decodeUnit(ev.au)
			}
		}
	}
}

func (s *Session) decodeUnit(au []byte) {
	if s.videoDisabled.Load() {
		return
	}
	start := time.Now()
	frame, err := s.dec.Decode(au)
	s.metrics.DecodeDuration(time.Since(start).Seconds())

	var ierr *decoder.InitError
	var derr *decoder.DecodeError
	switch {
	case errors.As(err, &ierr):
		s.videoDisabled.Store(true)
		s.metrics.DecoderDisabled()
		s.log.Error("video disabled", "error", err)
		return
	case errors.As(err, &derr):
		s.metrics.DecodeError(s.info.ID)
		s.log.Debug("decode error", "streak", derr.Streak, "error", derr.Err)
		return
	case err != nil:
		s.log.Debug("decode", "error", err)
		return
	case frame == nil:
		return
	}

	if w, h, ok := s.dec.SPSSize(); ok {
		s.resize(w, h)
	}
	s.metrics.FrameResult(s.info.ID, s.gate.Offer(frame))
}

func (s *Session) runAudio(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk := <-s.audioCh:
			if s.channel.Write(chunk) == 0 && len(chunk) > 0 {
				s.metrics.AudioDiscarded(s.info.ID)
			}
		}
	}
}

// discardPresenter and inlineDispatcher stand in when a session has no
// presentation layer attached.
type discardPresenter struct{}

func (discardPresenter) Resize(int, int)          {}
func (discardPresenter) Present([]byte, int, int) {}

type inlineDispatcher struct{}

func (inlineDispatcher) Dispatch(task func()) bool {
	task()
	return true
}
