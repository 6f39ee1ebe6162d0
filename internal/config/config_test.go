package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vigil-edge/vigil/internal/testutil/testlog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadHostConfigDefaults(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, "")

	cfg, err := LoadHostConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":5555" {
		t.Fatalf("expected default listen_addr, got %q", cfg.ListenAddr)
	}
	if cfg.Detection.EARThreshold != 0.25 || cfg.Detection.EARConsecFrames != 20 {
		t.Fatalf("unexpected detection defaults: %+v", cfg.Detection)
	}
	if cfg.Detection.MARThreshold != 0.6 || cfg.Detection.MARConsecFrames != 15 {
		t.Fatalf("unexpected detection defaults: %+v", cfg.Detection)
	}
	if cfg.Detection.StaleTimeout() != 3*time.Second {
		t.Fatalf("unexpected stale timeout: %v", cfg.Detection.StaleTimeout())
	}
	if cfg.Encoding.JPEGQuality != 70 {
		t.Fatalf("unexpected encoding defaults: %+v", cfg.Encoding)
	}
}

func TestLoadHostConfigOverrides(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
listen_addr = ":7000"
monitor_addr = ":9090"

[detection]
ear_threshold = 0.3
ear_consec_frames = 10
stale_timeout_ms = 5000

[encoding]
jpeg_quality = 50
max_dim = 480
`)

	cfg, err := LoadHostConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":7000" || cfg.MonitorAddr != ":9090" {
		t.Fatalf("addr overrides not applied: %+v", cfg)
	}
	if cfg.Detection.EARThreshold != 0.3 || cfg.Detection.EARConsecFrames != 10 {
		t.Fatalf("detection overrides not applied: %+v", cfg.Detection)
	}
	if cfg.Detection.MARThreshold != 0.6 {
		t.Fatalf("untouched keys should keep defaults: %+v", cfg.Detection)
	}
	if cfg.Detection.StaleTimeout() != 5*time.Second {
		t.Fatalf("unexpected stale timeout: %v", cfg.Detection.StaleTimeout())
	}
	if cfg.Encoding.JPEGQuality != 50 || cfg.Encoding.MaxDim != 480 {
		t.Fatalf("encoding overrides not applied: %+v", cfg.Encoding)
	}
}

func TestLoadHostConfigRejectsBadThreshold(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
[detection]
ear_threshold = 1.5
`)

	if _, err := LoadHostConfig(path); err == nil {
		t.Fatal("expected validation error for ear_threshold out of range")
	}
}

func TestLoadHostConfigMissingFile(t *testing.T) {
	testlog.Start(t)
	_, err := LoadHostConfig(filepath.Join(t.TempDir(), "missing.toml"))
	if err == nil || !strings.Contains(err.Error(), "config load failed") {
		t.Fatalf("expected load failure, got %v", err)
	}
}

func TestLoadEdgeConfig(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
device_id = "cam-7"
server_addr = "10.0.0.2:5555"
target_fps = 15

[encoding]
jpeg_quality = 60
`)

	cfg, err := LoadEdgeConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DeviceID != "cam-7" || cfg.ServerAddr != "10.0.0.2:5555" {
		t.Fatalf("identity not applied: %+v", cfg)
	}
	if cfg.TargetFPS != 15 || cfg.Encoding.JPEGQuality != 60 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoadEdgeConfigRequiresServerAddr(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `device_id = "cam-7"`)

	if _, err := LoadEdgeConfig(path); err == nil || !strings.Contains(err.Error(), "server_addr") {
		t.Fatalf("expected server_addr error, got %v", err)
	}
}

func TestValidateEncodingConfig(t *testing.T) {
	testlog.Start(t)
	bad := DefaultEncodingConfig()
	bad.JPEGQuality = 0
	if err := ValidateEncodingConfig(bad); err == nil {
		t.Fatal("expected error for zero jpeg_quality")
	}
	bad = DefaultEncodingConfig()
	bad.MaxPayloadBytes = 0
	if err := ValidateEncodingConfig(bad); err == nil {
		t.Fatal("expected error for zero max_payload_bytes")
	}
}
