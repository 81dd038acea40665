// Package config loads and validates the YAML configuration file,
// expanding credential references in the source address from the
// environment (optionally seeded by a .env file).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Video configures the capture side.
type Video struct {
	// Address is the source URL; ${USER}-style references are expanded
	// from the environment after the credentials file is loaded.
	Address    string  `yaml:"address"`
	Width      int     `yaml:"width"`
	Height     int     `yaml:"height"`
	FPS        float64 `yaml:"fps"`
	BufferSize int     `yaml:"buffer_size"`
}

// Recording configures the write side.
type Recording struct {
	Enabled bool `yaml:"enabled"`
	// OutputTemplate is a strftime-formatted path pattern, e.g.
	// "./recordings/%Y-%m-%d/%H-%M-%S_c.mp4".
	OutputTemplate string `yaml:"output_template"`
	FourCC         string `yaml:"fourcc_codec"`
	Format         string `yaml:"video_format"`
	// DurationSeconds rotates the output file on this interval; nil
	// disables rotation.
	DurationSeconds     *int    `yaml:"duration_seconds"`
	QueueSize           int     `yaml:"queue_size"`
	EnableDeduplication bool    `yaml:"enable_deduplication"`
	DedupThreshold      float64 `yaml:"dedup_threshold"`
}

// Processing configures the optional per-batch frame processor.
type Processing struct {
	EnableProcessing bool `yaml:"enable_processing"`
}

// Playback configures file playback mode, which replaces the live source.
type Playback struct {
	Path string `yaml:"path"`
	Loop bool   `yaml:"loop"`
}

// Logging configures slog.
type Logging struct {
	Level string `yaml:"level"`
}

// API configures the control/metrics HTTP listener.
type API struct {
	Addr string `yaml:"addr"`
}

// Config is the full configuration tree, mirroring parameters.yaml.
type Config struct {
	Video      Video      `yaml:"video"`
	Recording  Recording  `yaml:"recording"`
	Processing Processing `yaml:"processing"`
	Playback   Playback   `yaml:"playback"`
	Logging    Logging    `yaml:"logging"`
	API        API        `yaml:"api"`
}

// Default returns the configuration used when no file is given, matching
// the original defaults.
func Default() Config {
	return Config{
		Video: Video{
			Width:      640,
			Height:     360,
			FPS:        30,
			BufferSize: 30,
		},
		Recording: Recording{
			Enabled:             true,
			OutputTemplate:      "./recordings/%Y-%m-%d/%H-%M-%S_c.mp4",
			FourCC:              "mp4v",
			Format:              "mp4",
			QueueSize:           64,
			EnableDeduplication: true,
			DedupThreshold:      0.95,
		},
		Logging: Logging{Level: "info"},
		API:     API{Addr: ":8080"},
	}
}

// Load reads the YAML file at path over the defaults. credsPath, when
// non-empty, names a .env file loaded before the source address is
// expanded; a missing creds file is an error only if explicitly given.
// An empty path returns the defaults with expansion applied.
func Load(path, credsPath string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	if credsPath != "" {
		if err := godotenv.Load(credsPath); err != nil {
			return cfg, fmt.Errorf("config: load credentials %q: %w", credsPath, err)
		}
	}
	cfg.Video.Address = os.ExpandEnv(cfg.Video.Address)

	return cfg, nil
}

// TargetDuration converts the rotation interval, zero when disabled.
func (r Recording) TargetDuration() time.Duration {
	if r.DurationSeconds == nil {
		return 0
	}
	return time.Duration(*r.DurationSeconds) * time.Second
}

// Validate surfaces configuration errors before any stage starts.
func (c Config) Validate() error {
	if c.Video.Width <= 0 || c.Video.Height <= 0 {
		return fmt.Errorf("config: invalid dimensions %dx%d", c.Video.Width, c.Video.Height)
	}
	if c.Video.BufferSize < 1 {
		return fmt.Errorf("config: buffer_size must be at least 1, got %d", c.Video.BufferSize)
	}
	if c.Video.Address == "" && c.Playback.Path == "" {
		return fmt.Errorf("config: either video.address or playback.path is required")
	}
	if c.Recording.Enabled {
		if c.Recording.OutputTemplate == "" {
			return fmt.Errorf("config: recording.output_template is required when recording is enabled")
		}
		if d := c.Recording.DurationSeconds; d != nil && *d <= 0 {
			return fmt.Errorf("config: duration_seconds must be positive, got %d", *d)
		}
		if t := c.Recording.DedupThreshold; t < 0 || t > 1 {
			return fmt.Errorf("config: dedup_threshold must be in [0,1], got %v", t)
		}
		if f := c.Recording.Format; f != "" && !strings.HasSuffix(c.Recording.OutputTemplate, "."+f) {
			return fmt.Errorf("config: output_template %q does not end in .%s (video_format)",
				c.Recording.OutputTemplate, f)
		}
	}
	return nil
}
