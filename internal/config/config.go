package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// DetectionConfig is the threshold surface of the state machine, loaded as
// plain values so tests can instantiate detectors with arbitrary settings.
type DetectionConfig struct {
	EARThreshold    float64 `toml:"ear_threshold"`
	EARConsecFrames int     `toml:"ear_consec_frames"`
	MARThreshold    float64 `toml:"mar_threshold"`
	MARConsecFrames int     `toml:"mar_consec_frames"`
	StaleTimeoutMS  int64   `toml:"stale_timeout_ms"`
}

// EncodingConfig carries the bandwidth/fidelity levers for the frame codec
// and the transport ceiling.
type EncodingConfig struct {
	JPEGQuality     int    `toml:"jpeg_quality"`
	MaxDim          int    `toml:"max_dim"`
	MaxPayloadBytes uint32 `toml:"max_payload_bytes"`
}

// HostConfig is the consumer-side file config.
type HostConfig struct {
	ListenAddr  string          `toml:"listen_addr"`
	MonitorAddr string          `toml:"monitor_addr"`
	Detection   DetectionConfig `toml:"detection"`
	Encoding    EncodingConfig  `toml:"encoding"`
}

// EdgeConfig is the producer-side file config.
type EdgeConfig struct {
	DeviceID   string         `toml:"device_id"`
	ServerAddr string         `toml:"server_addr"`
	TargetFPS  int            `toml:"target_fps"`
	Encoding   EncodingConfig `toml:"encoding"`
}

func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		EARThreshold:    0.25,
		EARConsecFrames: 20,
		MARThreshold:    0.6,
		MARConsecFrames: 15,
		StaleTimeoutMS:  3000,
	}
}

func DefaultEncodingConfig() EncodingConfig {
	return EncodingConfig{
		JPEGQuality:     70,
		MaxDim:          0,
		MaxPayloadBytes: 4 * 1024 * 1024,
	}
}

func (c DetectionConfig) StaleTimeout() time.Duration {
	return time.Duration(c.StaleTimeoutMS) * time.Millisecond
}

func LoadHostConfig(path string) (HostConfig, error) {
	cfg := HostConfig{
		ListenAddr:  ":5555",
		MonitorAddr: ":8080",
		Detection:   DefaultDetectionConfig(),
		Encoding:    DefaultEncodingConfig(),
	}
	if err := loadToml(path, &cfg); err != nil {
		return HostConfig{}, err
	}
	if err := ValidateHostConfig(cfg); err != nil {
		return HostConfig{}, err
	}
	return cfg, nil
}

func LoadEdgeConfig(path string) (EdgeConfig, error) {
	cfg := EdgeConfig{
		DeviceID:  "edge",
		TargetFPS: 20,
		Encoding:  DefaultEncodingConfig(),
	}
	if err := loadToml(path, &cfg); err != nil {
		return EdgeConfig{}, err
	}
	if err := ValidateEdgeConfig(cfg); err != nil {
		return EdgeConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateHostConfig(cfg HostConfig) error {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("host config missing listen_addr")
	}
	if err := ValidateDetectionConfig(cfg.Detection); err != nil {
		return err
	}
	return ValidateEncodingConfig(cfg.Encoding)
}

func ValidateEdgeConfig(cfg EdgeConfig) error {
	if strings.TrimSpace(cfg.DeviceID) == "" {
		return fmt.Errorf("edge config missing device_id")
	}
	if strings.TrimSpace(cfg.ServerAddr) == "" {
		return fmt.Errorf("edge config missing server_addr")
	}
	if cfg.TargetFPS <= 0 {
		return fmt.Errorf("edge config target_fps must be positive")
	}
	return ValidateEncodingConfig(cfg.Encoding)
}

func ValidateDetectionConfig(cfg DetectionConfig) error {
	if cfg.EARThreshold <= 0 || cfg.EARThreshold >= 1 {
		return fmt.Errorf("detection ear_threshold out of range (0,1)")
	}
	if cfg.MARThreshold <= 0 {
		return fmt.Errorf("detection mar_threshold must be positive")
	}
	if cfg.EARConsecFrames <= 0 || cfg.MARConsecFrames <= 0 {
		return fmt.Errorf("detection consecutive-frame counts must be positive")
	}
	if cfg.StaleTimeoutMS <= 0 {
		return fmt.Errorf("detection stale_timeout_ms must be positive")
	}
	return nil
}

func ValidateEncodingConfig(cfg EncodingConfig) error {
	if cfg.JPEGQuality < 1 || cfg.JPEGQuality > 100 {
		return fmt.Errorf("encoding jpeg_quality must be in [1,100]")
	}
	if cfg.MaxDim < 0 {
		return fmt.Errorf("encoding max_dim must not be negative")
	}
	if cfg.MaxPayloadBytes == 0 {
		return fmt.Errorf("encoding max_payload_bytes must be positive")
	}
	return nil
}
