// SPDX-License-Identifier: MIT
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if cfg.Audio.SampleRate != DefaultSampleRate {
		t.Errorf("SampleRate = %d, want %d", cfg.Audio.SampleRate, DefaultSampleRate)
	}
	if cfg.FIFO.ReadBackoff != 10*time.Millisecond {
		t.Errorf("ReadBackoff = %v, want 10ms", cfg.FIFO.ReadBackoff)
	}
	if cfg.Livestream.EncodeWorkers != 2 {
		t.Errorf("EncodeWorkers = %d, want 2", cfg.Livestream.EncodeWorkers)
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	cfg, err := LoadConfig("nonexistent.yaml")
	if err == nil || !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("expected read error for missing file, got %v", err)
	}
	if cfg != nil {
		t.Errorf("expected nil config on error, got %+v", cfg)
	}
}

func TestLoadConfig_UnmarshalError(t *testing.T) {
	path := writeTempConfig(t, ":\n:bad")
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "failed to parse config file") {
		t.Errorf("expected unmarshal error, got %v", err)
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := writeTempConfig(t, `
log_level: debug
audio:
  input_device: 3
  sample_rate: 48000
  channels: 2
filters:
  - type: highpass
    cutoff_hz: 120
  - type: resample
fifo:
  base_path: /var/run/audiopipe
  analysis_block_bytes: 8192
  livestream_block_bytes: 4096
spectrogram:
  window_size: 2048
  overlap: 0.75
  update_interval: 50ms
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Audio.InputDevice != 3 || cfg.Audio.Channels != 2 {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	if len(cfg.Filters) != 2 {
		t.Fatalf("len(Filters) = %d, want 2", len(cfg.Filters))
	}
	if !cfg.Filters[0].IsEnabled() {
		t.Error("filter without enabled key should default to enabled")
	}
	if got := cfg.Filters[1].TargetRate; got != 48000 {
		t.Errorf("resample target defaulted to %d, want 48000", got)
	}
	if !cfg.HasResample() {
		t.Error("HasResample() = false, want true")
	}
	if cfg.Spectrogram.UpdateInterval != 50*time.Millisecond {
		t.Errorf("UpdateInterval = %v", cfg.Spectrogram.UpdateInterval)
	}
	// Values not present in the file keep their defaults.
	if cfg.Livestream.ListenAddress != DefaultListenAddress {
		t.Errorf("ListenAddress = %q", cfg.Livestream.ListenAddress)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("ENV_DEBUG", "true")
	t.Setenv("ENV_AUDIO_DEVICE", "5")
	t.Setenv("ENV_FIFO_BASE_PATH", "/run/pipes")
	t.Setenv("ENV_LISTEN_ADDRESS", "127.0.0.1:9000")
	t.Setenv("ENV_UDP_TARGET_ADDRESS", "127.0.0.1:9090")

	cfg, err := LoadConfig(writeTempConfig(t, "log_level: warn\n"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.Audio.InputDevice != 5 {
		t.Errorf("InputDevice = %d, want 5", cfg.Audio.InputDevice)
	}
	if cfg.FIFO.BasePath != "/run/pipes" {
		t.Errorf("BasePath = %q", cfg.FIFO.BasePath)
	}
	if cfg.Livestream.ListenAddress != "127.0.0.1:9000" {
		t.Errorf("ListenAddress = %q", cfg.Livestream.ListenAddress)
	}
	if cfg.Spectrogram.UDPTargetAddress != "127.0.0.1:9090" {
		t.Errorf("UDPTargetAddress = %q", cfg.Spectrogram.UDPTargetAddress)
	}
}

func TestLoadConfig_OverridesBeforeDefaults(t *testing.T) {
	path := writeTempConfig(t, `
audio:
  sample_rate: 48000
filters:
  - type: resample
  - type: resample
    target_rate: 24000
`)
	cfg, err := LoadConfig(path, func(c *Config) { c.Audio.SampleRate = 16000 })
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", cfg.Audio.SampleRate)
	}
	if got := cfg.Filters[0].TargetRate; got != 16000 {
		t.Errorf("defaulted resample target = %d, want the overridden rate 16000", got)
	}
	if got := cfg.Filters[1].TargetRate; got != 24000 {
		t.Errorf("explicit resample target = %d, want 24000", got)
	}

	// Overrides are validated with the rest of the file.
	if _, err := LoadConfig(path, func(c *Config) { c.Audio.SampleRate = 44100 }); err == nil {
		t.Error("expected opus to reject an overridden 44100 Hz rate")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"sample rate too low", func(c *Config) { c.Audio.SampleRate = 100 }, "SampleRate"},
		{"unknown backend", func(c *Config) { c.Audio.Backend = "alsa" }, "must be one of"},
		{"wav without file", func(c *Config) { c.Audio.Backend = BackendWAV }, "WAVFile is required"},
		{"zero frame size", func(c *Config) { c.FIFO.LivestreamBlockBytes = 0 }, "LivestreamBlockBytes"},
		{"partial sample frame", func(c *Config) { c.Audio.Channels = 2; c.FIFO.LivestreamBlockBytes = 4098 }, "multiple"},
		{"window not power of two", func(c *Config) { c.Spectrogram.WindowSize = 1000 }, "power of two"},
		{"overlap of one", func(c *Config) { c.Spectrogram.Overlap = 1 }, "Overlap"},
		{"unknown codec", func(c *Config) { c.Livestream.Codec = "mp3" }, "Codec"},
		{"opus at 44.1 kHz", func(c *Config) { c.Audio.SampleRate = 44100 }, "cannot be encoded as opus"},
		{"pcm at 44.1 kHz", func(c *Config) { c.Audio.SampleRate = 44100; c.Livestream.Codec = CodecPCM }, ""},
		{"opus at 16 kHz", func(c *Config) { c.Audio.SampleRate = 16000 }, ""},
		{"unknown filter", func(c *Config) { c.Filters = []FilterConfig{{Type: "reverb"}} }, "Type"},
		{"lowpass without cutoff", func(c *Config) { c.Filters = []FilterConfig{{Type: FilterLowPass}} }, "cutoff_hz"},
		{"gate threshold above one", func(c *Config) { c.Filters = []FilterConfig{{Type: FilterGate, Threshold: 2}} }, "Threshold"},
		{"bad udp address", func(c *Config) { c.Spectrogram.UDPTargetAddress = "nope" }, "host:port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
