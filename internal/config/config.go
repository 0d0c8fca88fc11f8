// Package config loads airsink settings from an optional YAML file and
// AIRSINK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full process configuration.
type Config struct {
	LogLevel string        `mapstructure:"log_level"`
	APIAddr  string        `mapstructure:"api_addr"`
	RTP      RTPConfig     `mapstructure:"rtp"`
	Audio    AudioConfig   `mapstructure:"audio"`
	Video    VideoConfig   `mapstructure:"video"`
	Volume   VolumeConfig  `mapstructure:"volume"`
	Session  SessionConfig `mapstructure:"session"`
}

// RTPConfig configures the loopback RTP source. An empty Addr disables it.
type RTPConfig struct {
	Addr        string        `mapstructure:"addr"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

// AudioConfig configures buffering and the output pump.
type AudioConfig struct {
	SampleRate int           `mapstructure:"sample_rate"`
	Buffer     time.Duration `mapstructure:"buffer"`
	Block      time.Duration `mapstructure:"block"`
	Delay      time.Duration `mapstructure:"delay"`
	Gain       float64       `mapstructure:"gain"`
	// Output is a file path for the mixed PCM, or empty to discard it.
	Output string `mapstructure:"output"`
}

// VideoConfig configures decoding and presentation.
type VideoConfig struct {
	Queue         int           `mapstructure:"queue"`
	MaxFailStreak int           `mapstructure:"max_fail_streak"`
	StatsInterval time.Duration `mapstructure:"stats_interval"`
	// RefreshRate paces the presentation loop in Hz; 0 runs tasks as they
	// arrive.
	RefreshRate int `mapstructure:"refresh_rate"`
}

// VolumeConfig configures remote volume commands.
type VolumeConfig struct {
	QuietPeriod time.Duration `mapstructure:"quiet_period"`
}

// SessionConfig configures session queues and teardown.
type SessionConfig struct {
	DrainTimeout   time.Duration `mapstructure:"drain_timeout"`
	AudioQueue     int           `mapstructure:"audio_queue"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("api_addr", ":8090")
	v.SetDefault("rtp.addr", ":5004")
	v.SetDefault("rtp.idle_timeout", "5s")
	v.SetDefault("audio.sample_rate", 44100)
	v.SetDefault("audio.buffer", "4s")
	v.SetDefault("audio.block", "10ms")
	v.SetDefault("audio.delay", "0s")
	v.SetDefault("audio.gain", 1.0)
	v.SetDefault("audio.output", "")
	v.SetDefault("video.queue", 60)
	v.SetDefault("video.max_fail_streak", 30)
	v.SetDefault("video.stats_interval", "1s")
	v.SetDefault("video.refresh_rate", 60)
	v.SetDefault("volume.quiet_period", "300ms")
	v.SetDefault("session.drain_timeout", "2s")
	v.SetDefault("session.audio_queue", 128)
	v.SetDefault("session.command_timeout", "5s")
}

// Load reads configuration. With an empty path it looks for an optional
// airsink.yaml in the working directory and ./config; a non-empty path must
// exist. Environment variables override file values, e.g.
// AIRSINK_AUDIO_DELAY=150ms.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("AIRSINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("airsink")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	_, lerr := parseLevel(c.LogLevel)
	check(lerr == nil, "log_level: unknown level %q", c.LogLevel)
	check(c.APIAddr != "", "api_addr: must be set")
	check(c.RTP.IdleTimeout > 0, "rtp.idle_timeout: must be positive")
	check(c.Audio.SampleRate > 0, "audio.sample_rate: must be positive")
	check(c.Audio.Buffer > 0, "audio.buffer: must be positive")
	check(c.Audio.Block > 0 && c.Audio.Block < c.Audio.Buffer, "audio.block: must be positive and shorter than audio.buffer")
	check(c.Audio.Delay >= 0 && c.Audio.Delay < c.Audio.Buffer, "audio.delay: must be in [0, audio.buffer)")
	check(c.Audio.Gain >= 0 && c.Audio.Gain <= 1, "audio.gain: must be in [0, 1]")
	check(c.Video.Queue > 0, "video.queue: must be positive")
	check(c.Video.MaxFailStreak > 0, "video.max_fail_streak: must be positive")
	check(c.Video.StatsInterval > 0, "video.stats_interval: must be positive")
	check(c.Video.RefreshRate >= 0, "video.refresh_rate: must not be negative")
	check(c.Volume.QuietPeriod > 0, "volume.quiet_period: must be positive")
	check(c.Session.DrainTimeout > 0, "session.drain_timeout: must be positive")
	check(c.Session.AudioQueue > 0, "session.audio_queue: must be positive")
	check(c.Session.CommandTimeout > 0, "session.command_timeout: must be positive")

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

// RefreshInterval returns the presentation pacing interval, or 0.
func (c *Config) RefreshInterval() time.Duration {
	if c.Video.RefreshRate <= 0 {
		return 0
	}
	return time.Second / time.Duration(c.Video.RefreshRate)
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(s))
	return level, err
}
