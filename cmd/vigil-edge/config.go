package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vigil-edge/vigil/internal/codec"
	"github.com/vigil-edge/vigil/internal/config"
	"github.com/vigil-edge/vigil/internal/edge"
	"github.com/vigil-edge/vigil/internal/protocol/frame"
)

// vigil-edge config.toml keys beyond the core fields: the capture source
// label, the replay directory, and session tunables as duration strings.
type fileConfig struct {
	Source              string `toml:"source"`
	FramesDir           string `toml:"frames_dir"`
	ConnectTimeout      string `toml:"connect_timeout"`
	WriteTimeout        string `toml:"write_timeout"`
	ReadTimeout         string `toml:"read_timeout"`
	BackoffInitialDelay string `toml:"backoff_initial_delay"`
	BackoffMaxDelay     string `toml:"backoff_max_delay"`
}

func loadServiceConfig(path string) (edge.Config, string, error) {
	core, err := config.LoadEdgeConfig(path)
	if err != nil {
		return edge.Config{}, "", err
	}

	cfg := edge.DefaultConfig()
	cfg.DeviceID = core.DeviceID
	cfg.ServerAddr = core.ServerAddr
	cfg.TargetFPS = core.TargetFPS
	cfg.Codec = codec.Config{
		Quality: core.Encoding.JPEGQuality,
		MaxDim:  core.Encoding.MaxDim,
	}
	cfg.Limits = frame.Limits{MaxMessageBytes: core.Encoding.MaxPayloadBytes}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return edge.Config{}, "", fmt.Errorf("load edge config: %w", err)
	}

	if meta.IsDefined("source") {
		cfg.Source = strings.TrimSpace(raw.Source)
	}
	if meta.IsDefined("connect_timeout") {
		if cfg.Session.ConnectTimeout, err = parseDuration(raw.ConnectTimeout, "connect_timeout"); err != nil {
			return edge.Config{}, "", err
		}
	}
	if meta.IsDefined("write_timeout") {
		if cfg.Session.WriteTimeout, err = parseDuration(raw.WriteTimeout, "write_timeout"); err != nil {
			return edge.Config{}, "", err
		}
	}
	if meta.IsDefined("read_timeout") {
		if cfg.Session.ReadTimeout, err = parseDuration(raw.ReadTimeout, "read_timeout"); err != nil {
			return edge.Config{}, "", err
		}
	}
	if meta.IsDefined("backoff_initial_delay") {
		if cfg.Session.Backoff.InitialDelay, err = parseDuration(raw.BackoffInitialDelay, "backoff_initial_delay"); err != nil {
			return edge.Config{}, "", err
		}
	}
	if meta.IsDefined("backoff_max_delay") {
		if cfg.Session.Backoff.MaxDelay, err = parseDuration(raw.BackoffMaxDelay, "backoff_max_delay"); err != nil {
			return edge.Config{}, "", err
		}
	}

	framesDir := strings.TrimSpace(raw.FramesDir)
	if framesDir == "" {
		return edge.Config{}, "", fmt.Errorf("load edge config: frames_dir is required")
	}
	return cfg, framesDir, nil
}

func parseDuration(raw, key string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("load edge config: %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("load edge config: %s must be positive", key)
	}
	return d, nil
}
