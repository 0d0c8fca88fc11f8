package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/airsink/internal/api"
	"github.com/zsiec/airsink/internal/audio"
	"github.com/zsiec/airsink/internal/config"
	"github.com/zsiec/airsink/internal/decoder/avcodec"
	"github.com/zsiec/airsink/internal/media"
	"github.com/zsiec/airsink/internal/mediactl"
	"github.com/zsiec/airsink/internal/metrics"
	"github.com/zsiec/airsink/internal/render"
	"github.com/zsiec/airsink/internal/rtpsource"
	"github.com/zsiec/airsink/internal/session"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to airsink.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	level := cfg.SlogLevel()
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		slog.Error("airsink failed", "error", err)
		os.Exit(1)
	}
}

type app struct {
	cfg      *config.Config
	sessions *session.Manager
	media    *mediactl.Controller
	surface  *mediactl.LogSurface
	graph    *audio.MixGraph
	pool     *media.FramePool
	loop     *render.Loop

	surfacesMu sync.Mutex
	surfaces   map[string]*render.Surface
}

func run(ctx context.Context, cfg *config.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	a := &app{
		cfg:      cfg,
		graph:    audio.NewMixGraph(),
		pool:     media.NewFramePool(),
		loop:     render.NewLoop(cfg.Video.Queue, nil),
		surface:  mediactl.NewLogSurface(nil),
		surfaces: make(map[string]*render.Surface),
	}
	a.loop.SetRefreshInterval(cfg.RefreshInterval())
	m.ObserveMixGraph(a.graph)
	m.ObserveFramePool(a.pool)

	a.sessions = session.NewManager(session.ManagerConfig{
		Options:         sessionOptions(cfg),
		NewBackend:      avcodec.NewBackend,
		Pool:            a.pool,
		Graph:           a.graph,
		Dispatcher:      a.loop,
		Presenters:      a.newPresenter,
		Metrics:         m,
		OnCreated:       a.sessionCreated,
		OnClosed:        a.sessionClosed,
		OnPlaybackState: a.playbackStateChanged,
		OnMetadata:      a.metadataChanged,
	}, nil)
	a.media = mediactl.NewController(a.surface, a.sessions, nil)

	apiSrv, err := api.NewServer(api.ServerConfig{
		Addr:     cfg.APIAddr,
		Sessions: a.sessions,
		Media:    a.media,
		Surface:  a.surface,
		Surfaces: a.lookupSurface,
		Graph:    a.graph,
		Pool:     a.pool,
		Gatherer: reg,
	})
	if err != nil {
		return err
	}

	out, closeOut, err := openOutput(cfg.Audio.Output)
	if err != nil {
		return err
	}
	defer closeOut()

	slog.Info("airsink starting",
		"version", version,
		"api", cfg.APIAddr,
		"rtp", cfg.RTP.Addr,
		"sampleRate", cfg.Audio.SampleRate,
		"output", cfg.Audio.Output,
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.loop.Run(ctx) })

	g.Go(func() error {
		return audio.RunOutput(ctx, a.graph, out, cfg.Audio.SampleRate, cfg.Audio.Block)
	})

	g.Go(func() error { return apiSrv.Start(ctx) })

	if cfg.RTP.Addr != "" {
		src, err := rtpsource.NewListener(rtpsource.Config{
			Addr:        cfg.RTP.Addr,
			IdleTimeout: cfg.RTP.IdleTimeout,
			Sessions:    a.sessions,
		})
		if err != nil {
			return err
		}
		g.Go(func() error { return src.Run(ctx) })
	}

	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down", "sessions", a.sessions.Count())
		a.sessions.CloseAll()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func sessionOptions(cfg *config.Config) session.Options {
	return session.Options{
		SampleRate:     cfg.Audio.SampleRate,
		AudioBuffer:    cfg.Audio.Buffer,
		AudioDelay:     cfg.Audio.Delay,
		Gain:           cfg.Audio.Gain,
		VideoQueue:     cfg.Video.Queue,
		AudioQueue:     cfg.Session.AudioQueue,
		MaxFailStreak:  cfg.Video.MaxFailStreak,
		StatsInterval:  cfg.Video.StatsInterval,
		QuietPeriod:    cfg.Volume.QuietPeriod,
		DrainTimeout:   cfg.Session.DrainTimeout,
		CommandTimeout: cfg.Session.CommandTimeout,
	}
}

// newPresenter gives every session its own headless surface.
func (a *app) newPresenter(info session.Info) render.Presenter {
	s := render.NewSurface()
	a.surfacesMu.Lock()
	a.surfaces[info.ID] = s
	a.surfacesMu.Unlock()
	return render.NewSurfacePresenter(s, nil)
}

func (a *app) lookupSurface(id string) (render.SurfaceStats, bool) {
	a.surfacesMu.Lock()
	s, ok := a.surfaces[id]
	a.surfacesMu.Unlock()
	if !ok {
		return render.SurfaceStats{}, false
	}
	return s.Stats(), true
}

func (a *app) sessionCreated(s *session.Session) {
	a.media.SessionCreated(s)
}

func (a *app) sessionClosed(info session.Info) {
	a.surfacesMu.Lock()
	delete(a.surfaces, info.ID)
	a.surfacesMu.Unlock()
	a.media.SessionClosed(info)
}

func (a *app) playbackStateChanged(id string, playing bool) {
	a.media.PlaybackStateChanged(id, playing)
}

func (a *app) metadataChanged(id string, md session.Metadata) {
	a.media.MetadataChanged(id, md)
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "" {
		return io.Discard, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening audio output: %w", err)
	}
	return f, func() {
		if err := f.Close(); err != nil {
			slog.Warn("closing audio output", "error", err)
		}
	}, nil
}
