package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "camgate.yaml")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  name: \"Greenhouse\"\n"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Name != "Greenhouse" {
		t.Fatalf("server name = %q", cfg.Server.Name)
	}
	if cfg.Device.ListenAddress != "0.0.0.0:8900" {
		t.Fatalf("listen address default = %q", cfg.Device.ListenAddress)
	}
	if cfg.Capture.ResolutionSelector != 0x18 {
		t.Fatalf("selector default = %#x", cfg.Capture.ResolutionSelector)
	}
	if cfg.Capture.Width != 320 || cfg.Capture.Height != 240 {
		t.Fatalf("resolution default = %dx%d", cfg.Capture.Width, cfg.Capture.Height)
	}
	if cfg.Capture.SettleDelayMS != 500 {
		t.Fatalf("settle delay default = %d", cfg.Capture.SettleDelayMS)
	}
	if cfg.Capture.ReceiveTimeoutSecs != 20 {
		t.Fatalf("receive timeout default = %d", cfg.Capture.ReceiveTimeoutSecs)
	}
	if cfg.Archive.QueueSize != 10000 || cfg.Archive.RetentionFailedDays != 7 {
		t.Fatalf("archive defaults = %+v", cfg.Archive)
	}
	if cfg.UI.Mode != "auto" {
		t.Fatalf("ui mode default = %q", cfg.UI.Mode)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
capture:
  resolution_selector: 0x21
  width: 640
  height: 480
  settle_delay_ms: 250
inference:
  enabled: true
  url: "https://classify.example.com/v1"
  model: "plants/3"
`))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Capture.ResolutionSelector != 0x21 {
		t.Fatalf("selector = %#x, want 0x21", cfg.Capture.ResolutionSelector)
	}
	if cfg.Capture.MaxFrameBytes() != 640*480*2 {
		t.Fatalf("max frame bytes = %d", cfg.Capture.MaxFrameBytes())
	}
	if cfg.Capture.SettleDelayMS != 250 {
		t.Fatalf("settle delay = %d", cfg.Capture.SettleDelayMS)
	}
	if !cfg.Inference.Enabled || cfg.Inference.Model != "plants/3" {
		t.Fatalf("inference = %+v", cfg.Inference)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"bad ui mode", "ui:\n  mode: \"curses\"\n"},
		{"oversized selector", "capture:\n  resolution_selector: 300\n"},
		{"inference missing url", "inference:\n  enabled: true\n  model: \"m\"\n"},
		{"inference missing model", "inference:\n  enabled: true\n  url: \"http://x\"\n"},
		{"mqtt missing broker", "mqtt:\n  enabled: true\n"},
		{"mqtt bad qos", "mqtt:\n  enabled: true\n  broker: \"b\"\n  qos: 3\n"},
	}
	for _, tc := range cases {
		if _, err := Load(writeConfig(t, tc.yaml)); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
