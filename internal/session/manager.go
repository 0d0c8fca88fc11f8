package session

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/airsink/internal/audio"
	"github.com/zsiec/airsink/internal/decoder"
	"github.com/zsiec/airsink/internal/media"
	"github.com/zsiec/airsink/internal/metrics"
	"github.com/zsiec/airsink/internal/render"
)

// PresenterFactory returns the presentation layer for a new session.
type PresenterFactory func(info Info) render.Presenter

// ManagerConfig holds what every session shares.
type ManagerConfig struct {
	Options    Options
	NewBackend decoder.BackendFactory
	Pool       *media.FramePool
	Graph      *audio.MixGraph
	Dispatcher render.Dispatcher
	Presenters PresenterFactory
	Metrics    *metrics.Metrics

	OnCreated       func(*Session)
	OnClosed        func(Info)
	OnPlaybackState func(id string, playing bool)
	OnMetadata      func(id string, md Metadata)
}

// Manager tracks the open sessions.
type Manager struct {
	log      *slog.Logger
	cfg      ManagerConfig
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session manager. If log is nil, slog.Default() is used.
func NewManager(cfg ManagerConfig, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Pool == nil {
		cfg.Pool = media.NewFramePool()
	}
	return &Manager{
		log:      log.With("component", "session-manager"),
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Create opens a session for a peer that completed negotiation. It returns
// ErrDuplicate if a session with the same id is open.
func (m *Manager) Create(ctx context.Context, info Info, cmd Commander) (*Session, error) {
	m.mu.Lock()
	if _, ok := m.sessions[info.ID]; ok {
		m.mu.Unlock()
		m.log.Warn("session already exists, rejecting duplicate", "id", info.ID)
		return nil, ErrDuplicate
	}

	cfg := Config{
		Info:       info,
		Commander:  cmd,
		Options:    m.cfg.Options,
		NewBackend: m.cfg.NewBackend,
		Pool:       m.cfg.Pool,
		Graph:      m.cfg.Graph,
		Dispatcher: m.cfg.Dispatcher,
		Metrics:    m.cfg.Metrics,
		Log:        m.log.With("component", "session"),
		OnClosed:   m.forget,
	}
	if m.cfg.Presenters != nil {
		cfg.Presenter = m.cfg.Presenters(info)
	}
	if fn := m.cfg.OnPlaybackState; fn != nil {
		cfg.OnPlaybackState = func(playing bool) { fn(info.ID, playing) }
	}
	if fn := m.cfg.OnMetadata; fn != nil {
		cfg.OnMetadata = func(md Metadata) { fn(info.ID, md) }
	}

	s, err := New(ctx, cfg)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.sessions[info.ID] = s
	m.mu.Unlock()
	m.log.Info("session created", "id", info.ID, "name", info.Name)

	if m.cfg.OnCreated != nil {
		m.cfg.OnCreated(s)
	}
	return s, nil
}

// forget runs when a session finishes teardown, however it was closed.
func (m *Manager) forget(s *Session) {
	m.mu.Lock()
	cur, ok := m.sessions[s.ID()]
	if ok && cur == s {
		delete(m.sessions, s.ID())
	}
	m.mu.Unlock()

	if ok && cur == s {
		m.log.Info("session removed", "id", s.ID())
		if m.cfg.OnClosed != nil {
			m.cfg.OnClosed(s.Info())
		}
	}
}

// Get looks up an open session.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove closes a session and waits for its teardown.
func (m *Manager) Remove(id string) error {
	s, ok := m.Get(id)
	if !ok {
		return ErrNotFound
	}
	s.Close()
	return nil
}

// List returns all open sessions ordered by name, then id.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	slices.SortFunc(sessions, func(a, b *Session) int {
		if c := strings.Compare(a.info.Name, b.info.Name); c != 0 {
			return c
		}
		return strings.Compare(a.info.ID, b.info.ID)
	})
	return sessions
}

// Count returns the number of open sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll closes every session concurrently and waits for all teardowns.
func (m *Manager) CloseAll() {
	var g errgroup.Group
	for _, s := range m.List() {
		g.Go(func() error {
			s.Close()
			return nil
		})
	}
	_ = g.Wait()
}
