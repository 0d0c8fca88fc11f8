// Package api serves the local debug and control HTTP API: session listing
// and statistics, volume and transport control, media-control selection and
// Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zsiec/airsink/internal/audio"
	"github.com/zsiec/airsink/internal/media"
	"github.com/zsiec/airsink/internal/mediactl"
	"github.com/zsiec/airsink/internal/render"
	"github.com/zsiec/airsink/internal/session"
)

// SurfaceLookup returns the headless surface statistics for a session.
type SurfaceLookup func(id string) (render.SurfaceStats, bool)

// ServerConfig holds the collaborators the API reports on.
type ServerConfig struct {
	Addr     string
	Sessions *session.Manager
	Media    *mediactl.Controller
	Surface  *mediactl.LogSurface
	Surfaces SurfaceLookup
	Graph    *audio.MixGraph
	Pool     *media.FramePool
	Gatherer prometheus.Gatherer
	Log      *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	config ServerConfig
	log    *slog.Logger
}

// NewServer creates a Server. Sessions is required.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Sessions == nil {
		return nil, errors.New("api: Sessions is required")
	}
	if config.Log == nil {
		config.Log = slog.Default()
	}
	return &Server{config: config, log: config.Log.With("component", "api")}, nil
}

// SessionSummary is one entry of GET /api/sessions.
type SessionSummary struct {
	session.Info
	State     string  `json:"state"`
	Volume    float64 `json:"volume"`
	Playing   bool    `json:"playing"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Decoded   int64   `json:"framesDecoded"`
	Dropped   int64   `json:"framesDropped"`
	Suspended bool    `json:"suspended"`
	Selected  bool    `json:"selected"`
}

// SessionDetail is the body of GET /api/sessions/{id}/stats.
type SessionDetail struct {
	session.Stats
	Surface *render.SurfaceStats `json:"surface,omitempty"`
}

// MixSnapshot is the body of GET /api/mix.
type MixSnapshot struct {
	Mix  audio.MixStats  `json:"mix"`
	Pool media.PoolStats `json:"framePool"`
}

// MediaSnapshot is the body of GET /api/media.
type MediaSnapshot struct {
	Current string                 `json:"current"`
	Surface *mediactl.SurfaceState `json:"surface,omitempty"`
}

func (s *Server) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}/stats", s.handleSessionStats)
	mux.HandleFunc("POST /api/sessions/{id}/volume", s.handleSetVolume)
	mux.HandleFunc("POST /api/sessions/{id}/command", s.handleCommand)
	mux.HandleFunc("POST /api/sessions/{id}/suspend", s.handleSuspend)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleCloseSession)
	mux.HandleFunc("GET /api/mix", s.handleMix)
	mux.HandleFunc("GET /api/media", s.handleMedia)
	mux.HandleFunc("POST /api/media/select", s.handleMediaSelect)
	mux.HandleFunc("POST /api/media/{action}", s.handleMediaAction)
	if s.config.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{}))
	}
}

// Handler returns the API handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerAPIRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.log.Info("API server listening", "addr", s.config.Addr)

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	err := srv.ListenAndServe()
	if ctx.Err() != nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, ok := s.config.Sessions.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
	}
	return sess, ok
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	current := ""
	if s.config.Media != nil {
		current = s.config.Media.Current()
	}

	resp := make([]SessionSummary, 0)
	for _, sess := range s.config.Sessions.List() {
		st := sess.Stats()
		resp = append(resp, SessionSummary{
			Info:      st.Info,
			State:     st.State,
			Volume:    st.Audio.Volume,
			Playing:   st.Audio.Playing,
			Width:     st.Video.Width,
			Height:    st.Video.Height,
			Decoded:   st.Video.Frames.Decoded,
			Dropped:   st.Video.Frames.Dropped,
			Suspended: st.Video.Suspended,
			Selected:  st.Info.ID == current,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	detail := SessionDetail{Stats: sess.Stats()}
	if s.config.Surfaces != nil {
		if ss, ok := s.config.Surfaces(sess.ID()); ok {
			detail.Surface = &ss
		}
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleSetVolume(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req struct {
		Volume *float64 `json:"volume"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Volume == nil || *req.Volume < 0 || *req.Volume > 1 {
		writeError(w, http.StatusBadRequest, "volume must be between 0 and 1")
		return
	}
	sess.SetVolume(*req.Volume)
	writeJSON(w, http.StatusOK, map[string]float64{"volume": sess.Volume()})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	action, err := session.ParseAction(req.Action)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := sess.SendCommand(r.Context(), action); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent", "action": string(action)})
}

func writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrNoRemoteControl):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrClosed):
		writeError(w, http.StatusGone, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) handleSuspend(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req struct {
		Suspended bool `json:"suspended"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess.SetSuspended(req.Suspended)
	writeJSON(w, http.StatusOK, map[string]bool{"suspended": req.Suspended})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.config.Sessions.Remove(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed", "id": id})
}

func (s *Server) handleMix(w http.ResponseWriter, _ *http.Request) {
	var snap MixSnapshot
	if s.config.Graph != nil {
		snap.Mix = s.config.Graph.Stats()
	}
	if s.config.Pool != nil {
		snap.Pool = s.config.Pool.Stats()
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleMedia(w http.ResponseWriter, _ *http.Request) {
	if s.config.Media == nil {
		writeError(w, http.StatusNotImplemented, "media controls not configured")
		return
	}
	snap := MediaSnapshot{Current: s.config.Media.Current()}
	if s.config.Surface != nil {
		st := s.config.Surface.State()
		snap.Surface = &st
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleMediaSelect(w http.ResponseWriter, r *http.Request) {
	if s.config.Media == nil {
		writeError(w, http.StatusNotImplemented, "media controls not configured")
		return
	}
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.config.Media.Select(req.ID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"current": req.ID})
}

func (s *Server) handleMediaAction(w http.ResponseWriter, r *http.Request) {
	ctl := s.config.Media
	if ctl == nil {
		writeError(w, http.StatusNotImplemented, "media controls not configured")
		return
	}
	actions := map[string]func(context.Context) error{
		"play":     ctl.Play,
		"pause":    ctl.Pause,
		"stop":     ctl.Stop,
		"next":     ctl.Next,
		"previous": ctl.Previous,
	}
	name := r.PathValue("action")
	fn, ok := actions[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown media action")
		return
	}
	if err := fn(r.Context()); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent", "action": name})
}
