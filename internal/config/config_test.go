package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
	assert.Equal(t, 44100, cfg.Audio.SampleRate)
	assert.Equal(t, 4*time.Second, cfg.Audio.Buffer)
	assert.Equal(t, 10*time.Millisecond, cfg.Audio.Block)
	assert.Equal(t, 1.0, cfg.Audio.Gain)
	assert.Equal(t, 60, cfg.Video.Queue)
	assert.Equal(t, 300*time.Millisecond, cfg.Volume.QuietPeriod)
	assert.Equal(t, 2*time.Second, cfg.Session.DrainTimeout)
	assert.Equal(t, time.Second/60, cfg.RefreshInterval())
}

func TestLoadFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "airsink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
audio:
  delay: 150ms
  gain: 0.5
video:
  refresh_rate: 0
rtp:
  addr: ""
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, 150*time.Millisecond, cfg.Audio.Delay)
	assert.Equal(t, 0.5, cfg.Audio.Gain)
	assert.Zero(t, cfg.RefreshInterval())
	assert.Empty(t, cfg.RTP.Addr)
	assert.Equal(t, 4*time.Second, cfg.Audio.Buffer, "unset keys keep defaults")
}

func TestLoadEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("AIRSINK_AUDIO_DELAY", "80ms")
	t.Setenv("AIRSINK_API_ADDR", "127.0.0.1:9999")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 80*time.Millisecond, cfg.Audio.Delay)
	assert.Equal(t, "127.0.0.1:9999", cfg.APIAddr)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Parallel()
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: loud
audio:
  gain: 2
  block: 10s
video:
  queue: 0
`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	for _, key := range []string{"log_level", "audio.gain", "audio.block", "video.queue"} {
		assert.Contains(t, err.Error(), key)
	}
}
