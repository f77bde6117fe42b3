// SPDX-License-Identifier: MIT
package cmd

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"audiopipe/internal/config"
	applog "audiopipe/internal/log"
)

func TestMain(m *testing.M) {
	applog.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCommandTree(t *testing.T) {
	root := NewRootCommand()
	for _, name := range []string{"list", "capture", "livestream", "analysis"} {
		c, _, err := root.Find([]string{name})
		if err != nil || c.Name() != name {
			t.Errorf("command %q not found: %v", name, err)
		}
	}
	list, _, _ := root.Find([]string{"list"})
	for _, flag := range []string{"refresh", "interactive"} {
		if list.Flags().Lookup(flag) == nil {
			t.Errorf("list is missing --%s", flag)
		}
	}
}

func TestLoadConfigFlagOverrides(t *testing.T) {
	path := writeConfig(t, `
audio:
  input_device: 2
  sample_rate: 44100
  channels: 2
fifo:
  base_path: /var/run/audio
  livestream_block_bytes: 4096
  analysis_block_bytes: 176400
`)
	opts := &Options{}
	root := newRootCommand(opts)
	c, _, _ := root.Find([]string{"capture"})
	if err := c.ParseFlags([]string{"--config", path, "-s", "48000"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(c, opts)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Audio.SampleRate != 48000 {
		t.Errorf("sample rate = %d, flag should win", cfg.Audio.SampleRate)
	}
	if cfg.Audio.InputDevice != 2 || cfg.Audio.Channels != 2 {
		t.Errorf("unset flags overrode the file: device=%d channels=%d", cfg.Audio.InputDevice, cfg.Audio.Channels)
	}
	if cfg.FIFO.BasePath != "/var/run/audio" {
		t.Errorf("base path = %q", cfg.FIFO.BasePath)
	}
}

func TestSampleRateFlagRetargetsResample(t *testing.T) {
	path := writeConfig(t, `
audio:
  sample_rate: 48000
filters:
  - type: resample
`)
	opts := &Options{}
	root := newRootCommand(opts)
	c, _, _ := root.Find([]string{"capture"})
	if err := c.ParseFlags([]string{"--config", path, "--sample-rate", "16000"}); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig(c, opts)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if got := cfg.Filters[0].TargetRate; got != 16000 {
		t.Errorf("resample target = %d, want 16000 so no second conversion is appended", got)
	}
}

func TestLoadConfigRejectsBadFlags(t *testing.T) {
	path := writeConfig(t, "log_level: info\n")
	opts := &Options{}
	root := newRootCommand(opts)
	c, _, _ := root.Find([]string{"capture"})
	if err := c.ParseFlags([]string{"--config", path, "--channels", "3"}); err != nil {
		t.Fatal(err)
	}
	// 3 channels do not divide the default block sizes into whole frames.
	if _, err := loadConfig(c, opts); err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("loadConfig() error = %v, want invalid configuration", err)
	}
}

func TestVerboseSetsDebug(t *testing.T) {
	t.Cleanup(func() { applog.SetLevel(applog.LevelInfo) })
	path := writeConfig(t, "log_level: error\n")
	opts := &Options{}
	root := newRootCommand(opts)
	c, _, _ := root.Find([]string{"analysis"})
	if err := c.ParseFlags([]string{"--config", path, "-v"}); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(c, opts); err != nil {
		t.Fatal(err)
	}
	if applog.GetLevel() != applog.LevelDebug {
		t.Errorf("level = %v, want DEBUG", applog.GetLevel())
	}
}

func TestOpenBackendWAV(t *testing.T) {
	b, closeFn, err := openBackend(config.AudioConfig{Backend: config.BackendWAV, WAVFile: "missing.wav"})
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()
	if _, err := b.Devices(false); err == nil {
		t.Error("expected error for a missing wav file")
	}
}

func TestWaitGroupTimeout(t *testing.T) {
	var g errgroup.Group
	release := make(chan struct{})
	g.Go(func() error { <-release; return nil })
	if err := waitGroup(&g, 10*time.Millisecond); err == nil {
		t.Error("expected timeout error")
	}
	close(release)

	var g2 errgroup.Group
	want := errors.New("task failed")
	g2.Go(func() error { return want })
	if err := waitGroup(&g2, time.Second); !errors.Is(err, want) {
		t.Errorf("waitGroup() = %v, want %v", err, want)
	}
}
