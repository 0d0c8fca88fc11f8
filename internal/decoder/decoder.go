// Package decoder turns compressed H.264 access units into packed BGRA frames
// using one persistent decode context per session.
package decoder

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zsiec/airsink/internal/h264"
	"github.com/zsiec/airsink/internal/media"
)

// DefaultMaxFailStreak is the number of consecutive failed access units after
// which the decode context is considered corrupted and recreated.
const DefaultMaxFailStreak = 30

var (
	// ErrClosed is returned by Decode after Close.
	ErrClosed = errors.New("decoder: closed")
	// ErrDisabled is returned by Decode once the decode context could not be
	// recreated. The decoder stays disabled for the rest of its life.
	ErrDisabled = errors.New("decoder: disabled")
)

// DecodeError is a transient failure for one access unit. The caller logs it
// and keeps feeding the same decoder.
type DecodeError struct {
	Streak int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode failed (streak %d): %v", e.Streak, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// InitError means a decode context could not be opened. It is fatal for the
// session's video path only.
type InitError struct {
	Err error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("decoder init failed: %v", e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// Config configures a Decoder.
type Config struct {
	NewBackend    BackendFactory
	Pool          *media.FramePool
	MaxFailStreak int
	Log           *slog.Logger
}

// Stats is a snapshot of decoder counters.
type Stats struct {
	Decoded int64 `json:"decoded"`
	Errors  int64 `json:"errors"`
	Resets  int64 `json:"resets"`
}

// Decoder owns one decode context. Decode calls are serialized; the context
// is never touched by two goroutines at once.
type Decoder struct {
	log           *slog.Logger
	newBackend    BackendFactory
	pool          *media.FramePool
	maxFailStreak int

	mu         sync.Mutex
	backend    Backend
	failStreak int
	released   bool
	closing    atomic.Bool
	disabled   atomic.Bool

	spsWidth  atomic.Int32
	spsHeight atomic.Int32

	decoded atomic.Int64
	errs    atomic.Int64
	resets  atomic.Int64
}

// New opens the first decode context. A factory failure is reported as an
// *InitError.
func New(cfg Config) (*Decoder, error) {
	if cfg.NewBackend == nil {
		return nil, &InitError{Err: errors.New("no backend factory")}
	}
	if cfg.Pool == nil {
		cfg.Pool = media.NewFramePool()
	}
	if cfg.MaxFailStreak <= 0 {
		cfg.MaxFailStreak = DefaultMaxFailStreak
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	backend, err := cfg.NewBackend()
	if err != nil {
		return nil, &InitError{Err: err}
	}

	return &Decoder{
		log:           cfg.Log.With("component", "decoder"),
		newBackend:    cfg.NewBackend,
		pool:          cfg.Pool,
		maxFailStreak: cfg.MaxFailStreak,
		backend:       backend,
	}, nil
}

// Decode submits one access unit (Annex B or AVCC) and returns the next
// decoded picture as a pooled BGRA frame. A nil frame with a nil error means
// the codec needs more input; it is not a failure. Ownership of a returned
// frame passes to the caller.
//
// Failures come back as *DecodeError. When the failure streak reaches the
// configured limit the context is recreated; if that fails Decode returns an
// *InitError and every later call returns ErrDisabled.
func (d *Decoder) Decode(au []byte) (*media.DecodedFrame, error) {
	d.mu.Lock()
	defer d.unlockAndReleaseIfClosing()

	if d.released || d.closing.Load() {
		return nil, ErrClosed
	}
	if d.backend == nil {
		return nil, ErrDisabled
	}

	annexB, err := h264.Normalize(au)
	if err != nil {
		return nil, d.fail(err)
	}
	d.probeSPS(annexB)

	if err := d.backend.Send(annexB); err != nil {
		return nil, d.fail(err)
	}

	pic, err := d.backend.Receive()
	if errors.Is(err, ErrAgain) {
		return nil, nil
	}
	if err != nil {
		return nil, d.fail(err)
	}

	frame, err := d.convert(pic)
	if err != nil {
		return nil, d.fail(err)
	}
	d.failStreak = 0
	d.decoded.Add(1)
	return frame, nil
}

// convert copies pic into a pooled frame. The frame goes back to the pool on
// any failure.
func (d *Decoder) convert(pic *Picture) (frame *media.DecodedFrame, err error) {
	frame = d.pool.Get(pic.Width, pic.Height)
	defer func() {
		if err != nil {
			frame.Release()
			frame = nil
		}
	}()
	if err = ConvertToBGRA(pic, frame.Pix, frame.Stride); err != nil {
		return nil, fmt.Errorf("convert: %w", err)
	}
	return frame, nil
}

func (d *Decoder) fail(err error) error {
	d.failStreak++
	d.errs.Add(1)
	derr := &DecodeError{Streak: d.failStreak, Err: err}
	if d.failStreak < d.maxFailStreak {
		return derr
	}

	d.log.Warn("decode failure streak, recreating context", "streak", d.failStreak, "error", err)
	d.closeBackend()
	d.failStreak = 0
	backend, ierr := d.newBackend()
	if ierr != nil {
		d.log.Error("decoder disabled", "error", ierr)
		d.disabled.Store(true)
		return &InitError{Err: ierr}
	}
	d.backend = backend
	d.resets.Add(1)
	return derr
}

// probeSPS records the resolution announced by any SPS in the access unit.
func (d *Decoder) probeSPS(annexB []byte) {
	for _, nalu := range h264.ParseAnnexB(annexB) {
		if nalu.Type != h264.NALTypeSPS {
			continue
		}
		info, err := h264.ParseSPS(nalu.Data)
		if err != nil {
			d.log.Debug("unparseable SPS", "error", err)
			continue
		}
		d.spsWidth.Store(int32(info.Width))
		d.spsHeight.Store(int32(info.Height))
	}
}

// SPSSize returns the resolution from the most recent SPS seen, if any.
func (d *Decoder) SPSSize() (width, height int, ok bool) {
	w, h := int(d.spsWidth.Load()), int(d.spsHeight.Load())
	return w, h, w > 0 && h > 0
}

// Disabled reports whether the decode context was lost for good. It never
// waits on an in-flight Decode.
func (d *Decoder) Disabled() bool {
	return d.disabled.Load()
}

// Stats returns a snapshot of decoder counters.
func (d *Decoder) Stats() Stats {
	return Stats{
		Decoded: d.decoded.Load(),
		Errors:  d.errs.Load(),
		Resets:  d.resets.Load(),
	}
}

// Close releases the decode context. It is idempotent and never waits on an
// in-flight Decode: if one is running, that call releases the context as it
// returns.
func (d *Decoder) Close() error {
	if !d.closing.CompareAndSwap(false, true) {
		return nil
	}
	if !d.mu.TryLock() {
		return nil
	}
	defer d.mu.Unlock()
	d.release()
	return nil
}

// unlockAndReleaseIfClosing finishes a Close that found the decoder busy.
// The closing flag is checked after unlocking so a Close racing with the
// unlock either wins TryLock itself or is observed here.
func (d *Decoder) unlockAndReleaseIfClosing() {
	d.mu.Unlock()
	if d.closing.Load() && d.mu.TryLock() {
		d.release()
		d.mu.Unlock()
	}
}

func (d *Decoder) release() {
	if d.released {
		return
	}
	d.released = true
	d.closeBackend()
}

func (d *Decoder) closeBackend() {
	if d.backend == nil {
		return
	}
	if err := d.backend.Close(); err != nil {
		d.log.Debug("backend close", "error", err)
	}
	d.backend = nil
}
