package render

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zsiec/airsink/internal/media"
)

// ErrDimensionMismatch is returned when a frame does not match the surface
// it is drawn onto. The frame is discarded.
var ErrDimensionMismatch = errors.New("render: frame dimensions do not match surface")

// Surface is an in-memory BGRA drawable.
type Surface struct {
	mu     sync.Mutex
	width  int
	height int
	pix    []byte

	blits      atomic.Int64
	mismatches atomic.Int64
}

// SurfaceStats counts draws onto a surface.
type SurfaceStats struct {
	Width      int   `json:"width"`
	Height     int   `json:"height"`
	Blits      int64 `json:"blits"`
	Mismatches int64 `json:"mismatches"`
}

// NewSurface returns an empty 0x0 surface.
func NewSurface() *Surface {
	return &Surface{}
}

// Resize reallocates the surface. Contents are cleared.
func (s *Surface) Resize(width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if width == s.width && height == s.height {
		return
	}
	s.width, s.height = width, height
	s.pix = make([]byte, media.Size(width, height))
}

// Blit copies pix onto the surface. A frame whose size differs from the
// surface, or whose buffer is short, is rejected with ErrDimensionMismatch
// and nothing is copied.
func (s *Surface) Blit(pix []byte, width, height int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	need := media.Size(width, height)
	if width != s.width || height != s.height || len(pix) < need {
		s.mismatches.Add(1)
		return ErrDimensionMismatch
	}
	copy(s.pix, pix[:need])
	s.blits.Add(1)
	return nil
}

// Snapshot returns a copy of the surface contents and its size.
func (s *Surface) Snapshot() (pix []byte, width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.pix...), s.width, s.height
}

// Stats returns the surface size and draw counters.
func (s *Surface) Stats() SurfaceStats {
	s.mu.Lock()
	w, h := s.width, s.height
	s.mu.Unlock()
	return SurfaceStats{
		Width:      w,
		Height:     h,
		Blits:      s.blits.Load(),
		Mismatches: s.mismatches.Load(),
	}
}

// SurfacePresenter adapts a Surface to the Presenter interface.
type SurfacePresenter struct {
	surface *Surface
	log     *slog.Logger
}

// NewSurfacePresenter returns a Presenter drawing onto s.
func NewSurfacePresenter(s *Surface, log *slog.Logger) *SurfacePresenter {
	if log == nil {
		log = slog.Default()
	}
	return &SurfacePresenter{surface: s, log: log}
}

// Resize resizes the underlying surface.
func (p *SurfacePresenter) Resize(width, height int) {
	p.surface.Resize(width, height)
}

// Present draws one frame, discarding it if its size is stale.
func (p *SurfacePresenter) Present(pix []byte, width, height int) {
	if err := p.surface.Blit(pix, width, height); err != nil {
		p.log.Debug("frame discarded", "width", width, "height", height, "error", err)
	}
}

// Surface returns the underlying surface.
func (p *SurfacePresenter) Surface() *Surface {
	return p.surface
}
