package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vigil-edge/vigil/internal/codec"
	"github.com/vigil-edge/vigil/internal/config"
	"github.com/vigil-edge/vigil/internal/detect"
	"github.com/vigil-edge/vigil/internal/host"
	"github.com/vigil-edge/vigil/internal/protocol/frame"
)

// vigil-host config.toml keys beyond the core [detection]/[encoding] tables:
// session tunables as duration strings plus the landmarker sidecar command.
type fileConfig struct {
	ReadTimeout      string   `toml:"read_timeout"`
	WriteTimeout     string   `toml:"write_timeout"`
	HandshakeTimeout string   `toml:"handshake_timeout"`
	PingInterval     string   `toml:"ping_interval"`
	CorruptWindow    string   `toml:"corrupt_window"`
	CorruptThreshold int      `toml:"corrupt_threshold"`
	LandmarkerCmd    []string `toml:"landmarker_cmd"`
}

func loadServiceConfig(path string) (host.Config, landmarkerConfig, error) {
	core, err := config.LoadHostConfig(path)
	if err != nil {
		return host.Config{}, landmarkerConfig{}, err
	}

	cfg := host.DefaultConfig()
	cfg.ListenAddr = core.ListenAddr
	cfg.MonitorAddr = core.MonitorAddr
	cfg.Detection = detect.Config{
		EARThreshold:    core.Detection.EARThreshold,
		EARConsecFrames: core.Detection.EARConsecFrames,
		MARThreshold:    core.Detection.MARThreshold,
		MARConsecFrames: core.Detection.MARConsecFrames,
		StaleTimeout:    core.Detection.StaleTimeout(),
	}
	cfg.Codec = codec.Config{
		Quality: core.Encoding.JPEGQuality,
		MaxDim:  core.Encoding.MaxDim,
	}
	cfg.Limits = frame.Limits{MaxMessageBytes: core.Encoding.MaxPayloadBytes}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return host.Config{}, landmarkerConfig{}, fmt.Errorf("load host config: %w", err)
	}

	if meta.IsDefined("read_timeout") {
		if cfg.Session.ReadTimeout, err = parseDuration(raw.ReadTimeout, "read_timeout"); err != nil {
			return host.Config{}, landmarkerConfig{}, err
		}
	}
	if meta.IsDefined("write_timeout") {
		if cfg.Session.WriteTimeout, err = parseDuration(raw.WriteTimeout, "write_timeout"); err != nil {
			return host.Config{}, landmarkerConfig{}, err
		}
	}
	if meta.IsDefined("handshake_timeout") {
		if cfg.Session.HandshakeTimeout, err = parseDuration(raw.HandshakeTimeout, "handshake_timeout"); err != nil {
			return host.Config{}, landmarkerConfig{}, err
		}
	}
	if meta.IsDefined("ping_interval") {
		if cfg.Session.PingInterval, err = parseDuration(raw.PingInterval, "ping_interval"); err != nil {
			return host.Config{}, landmarkerConfig{}, err
		}
	}
	if meta.IsDefined("corrupt_window") {
		if cfg.CorruptWindow, err = parseDuration(raw.CorruptWindow, "corrupt_window"); err != nil {
			return host.Config{}, landmarkerConfig{}, err
		}
	}
	if meta.IsDefined("corrupt_threshold") {
		cfg.CorruptThreshold = raw.CorruptThreshold
	}

	if len(raw.LandmarkerCmd) == 0 {
		return host.Config{}, landmarkerConfig{}, fmt.Errorf("load host config: landmarker_cmd is required")
	}
	lm := landmarkerConfig{
		Command: strings.TrimSpace(raw.LandmarkerCmd[0]),
		Args:    raw.LandmarkerCmd[1:],
	}
	if lm.Command == "" {
		return host.Config{}, landmarkerConfig{}, fmt.Errorf("load host config: landmarker_cmd is empty")
	}
	return cfg, lm, nil
}

func parseDuration(raw, key string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("load host config: %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("load host config: %s must be positive", key)
	}
	return d, nil
}
