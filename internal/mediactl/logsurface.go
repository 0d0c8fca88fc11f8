package mediactl

import (
	"log/slog"
	"sync"

	"github.com/zsiec/airsink/internal/session"
)

// LogSurface is a headless Surface that logs changes and keeps the latest
// state for inspection.
type LogSurface struct {
	log *slog.Logger

	mu    sync.Mutex
	state SurfaceState
}

// SurfaceState is what the media controls currently show.
type SurfaceState struct {
	Enabled  bool             `json:"enabled"`
	Playing  bool             `json:"playing"`
	Metadata session.Metadata `json:"metadata"`
}

// NewLogSurface returns a LogSurface. If log is nil, slog.Default() is used.
func NewLogSurface(log *slog.Logger) *LogSurface {
	if log == nil {
		log = slog.Default()
	}
	return &LogSurface{log: log.With("component", "media-surface")}
}

func (s *LogSurface) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.state.Enabled = enabled
	s.mu.Unlock()
	s.log.Debug("controls", "enabled", enabled)
}

func (s *LogSurface) SetPlaybackState(playing bool) {
	s.mu.Lock()
	changed := s.state.Playing != playing
	s.state.Playing = playing
	s.mu.Unlock()
	if changed {
		s.log.Info("playback state", "playing", playing)
	}
}

func (s *LogSurface) SetMetadata(md session.Metadata) {
	s.mu.Lock()
	s.state.Metadata = md
	s.mu.Unlock()
	if md != (session.Metadata{}) {
		s.log.Info("now playing", "title", md.Title, "artist", md.Artist, "album", md.Album)
	}
}

// State returns the current surface state.
func (s *LogSurface) State() SurfaceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
