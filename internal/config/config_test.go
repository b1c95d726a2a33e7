package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgnsrekt/adcapture/internal/adslot"
	"github.com/dgnsrekt/adcapture/internal/capture"
)

func TestLoadDefaultsAndClamps(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CAPTURE_EVAL_TIMEOUT_MS", "10")
	t.Setenv("CREATIVE_PREFETCH_LIMIT", "99")
	t.Setenv("CAPTURE_DEVICE_SCALE", "-1")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.EvalTimeoutMS != 1000 {
		t.Fatalf("EvalTimeoutMS = %d; want 1000", cfg.EvalTimeoutMS)
	}
	if cfg.PrefetchLimit != 16 {
		t.Fatalf("PrefetchLimit = %d; want 16", cfg.PrefetchLimit)
	}
	if cfg.DeviceScale != 2 {
		t.Fatalf("DeviceScale = %v; want 2", cfg.DeviceScale)
	}
	if cfg.LogLevelValue() != slog.LevelDebug {
		t.Fatalf("LogLevelValue() = %v; want debug", cfg.LogLevelValue())
	}
	if len(cfg.BindCandidates) != 2 {
		t.Fatalf("BindCandidates = %q", cfg.BindCandidates)
	}

	opts := cfg.EngineOptions()
	if opts.Viewport.Width != 2560 || opts.Viewport.DeviceScaleFactor != 2 || opts.EvalTimeout != time.Second {
		t.Fatalf("EngineOptions() = %+v", opts)
	}
	if got := cfg.LauncherConfig().WindowSize; got != "2560,1440" {
		t.Fatalf("WindowSize = %q; want 2560,1440", got)
	}
}

func TestLoadPoliciesEmptyPath(t *testing.T) {
	p, err := LoadPolicies("")
	if err != nil {
		t.Fatalf("LoadPolicies() error = %v", err)
	}
	if p.Capture.SingleAttempts != capture.DefaultPolicy().SingleAttempts {
		t.Fatalf("Capture = %+v; want defaults", p.Capture)
	}
}

func TestLoadPoliciesOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	body := `
slots:
  min_slot_width: 250
capture:
  single_attempts: 3
  stabilize_delay: 500ms
obstructions:
  high_z_index: 5000
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	p, err := LoadPolicies(path)
	if err != nil {
		t.Fatalf("LoadPolicies() error = %v", err)
	}
	if p.Slots.MinSlotWidth != 250 {
		t.Fatalf("MinSlotWidth = %v; want 250", p.Slots.MinSlotWidth)
	}
	if p.Slots.MinSlotHeight != adslot.DefaultPolicy().MinSlotHeight {
		t.Fatalf("MinSlotHeight = %v; want default", p.Slots.MinSlotHeight)
	}
	if p.Capture.SingleAttempts != 3 || p.Capture.StabilizeDelay != 500*time.Millisecond {
		t.Fatalf("Capture = %+v", p.Capture)
	}
	if p.Capture.AllAttempts != capture.DefaultPolicy().AllAttempts {
		t.Fatalf("AllAttempts = %d; want default", p.Capture.AllAttempts)
	}
	if p.Obstructions.HighZIndex != 5000 {
		t.Fatalf("HighZIndex = %d; want 5000", p.Obstructions.HighZIndex)
	}
}

func TestLoadPoliciesBadFile(t *testing.T) {
	if _, err := LoadPolicies(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("LoadPolicies(missing) = nil error")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	_ = os.WriteFile(path, []byte("capture: [1, 2"), 0o644)
	if _, err := LoadPolicies(path); err == nil {
		t.Fatal("LoadPolicies(bad yaml) = nil error")
	}
}

func TestLauncherLang(t *testing.T) {
	cases := map[string]string{
		"":                           "",
		"ko-KR":                      "ko-KR",
		"ko-KR,ko;q=0.9,en-US;q=0.8": "ko-KR",
		"en;q=0.5":                   "en",
	}
	for in, want := range cases {
		if got := launcherLang(in); got != want {
			t.Errorf("launcherLang(%q) = %q; want %q", in, got, want)
		}
	}
}
