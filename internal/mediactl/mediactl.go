// Package mediactl connects the operating system's media controls to the
// currently selected session: it mirrors playback state and now-playing
// metadata to the surface and forwards transport buttons to the peer.
package mediactl

import (
	"context"
	"log/slog"
	"sync"

	"github.com/zsiec/airsink/internal/session"
)

// Surface is the OS media-control surface. Its methods must not call back
// into the Controller.
type Surface interface {
	SetEnabled(enabled bool)
	SetPlaybackState(playing bool)
	SetMetadata(md session.Metadata)
}

// Sessions looks up open sessions.
type Sessions interface {
	Get(id string) (*session.Session, bool)
	List() []*session.Session
}

// Controller tracks the selected session.
type Controller struct {
	log      *slog.Logger
	surface  Surface
	sessions Sessions

	mu      sync.Mutex
	current string
}

// NewController creates a controller with no session selected.
func NewController(surface Surface, sessions Sessions, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	c := &Controller{
		log:      log.With("component", "mediactl"),
		surface:  surface,
		sessions: sessions,
	}
	surface.SetEnabled(false)
	return c
}

// Current returns the selected session id, or "".
func (c *Controller) Current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// SessionCreated selects s if nothing is selected yet.
func (c *Controller) SessionCreated(s *session.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == "" {
		c.selectLocked(s)
	}
}

// SessionClosed moves the selection to another open session, or clears the
// surface if none is left.
func (c *Controller) SessionClosed(info session.Info) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != info.ID {
		return
	}
	for _, s := range c.sessions.List() {
		if s.ID() != info.ID {
			c.selectLocked(s)
			return
		}
	}
	c.current = ""
	c.surface.SetEnabled(false)
	c.surface.SetPlaybackState(false)
	c.surface.SetMetadata(session.Metadata{})
	c.log.Debug("no session selected")
}

// Select makes session id the target of the media controls.
func (c *Controller) Select(id string) error {
	s, ok := c.sessions.Get(id)
	if !ok {
		return session.ErrNotFound
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selectLocked(s)
	return nil
}

func (c *Controller) selectLocked(s *session.Session) {
	c.current = s.ID()
	c.surface.SetEnabled(s.Info().RemoteControl)
	c.surface.SetPlaybackState(s.Playing())
	c.surface.SetMetadata(s.Metadata())
	c.log.Info("media controls attached", "session", s.ID(), "remoteControl", s.Info().RemoteControl)
}

// PlaybackStateChanged mirrors a session's playing/paused state when it is
// the selected one.
func (c *Controller) PlaybackStateChanged(id string, playing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == c.current {
		c.surface.SetPlaybackState(playing)
	}
}

// MetadataChanged mirrors now-playing metadata of the selected session.
func (c *Controller) MetadataChanged(id string, md session.Metadata) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == c.current {
		c.surface.SetMetadata(md)
	}
}

func (c *Controller) Play(ctx context.Context) error     { return c.send(ctx, session.ActionPlay) }
func (c *Controller) Pause(ctx context.Context) error    { return c.send(ctx, session.ActionPause) }
func (c *Controller) Stop(ctx context.Context) error     { return c.send(ctx, session.ActionStop) }
func (c *Controller) Next(ctx context.Context) error     { return c.send(ctx, session.ActionNext) }
func (c *Controller) Previous(ctx context.Context) error { return c.send(ctx, session.ActionPrevious) }

func (c *Controller) send(ctx context.Context, action session.Action) error {
	id := c.Current()
	if id == "" {
		return session.ErrNotFound
	}
	s, ok := c.sessions.Get(id)
	if !ok {
		return session.ErrNotFound
	}
	return s.SendCommand(ctx, action)
}
