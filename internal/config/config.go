// SPDX-License-Identifier: MIT
package config

import "time"

// Defaults and hardware limits for the pipeline.
const (
	DefaultDeviceID        = MinDeviceID // System default input device
	DefaultSampleRate      = 48000       // Pipeline target rate; device native rate is resampled to this
	DefaultChannels        = 1           // Mono
	DefaultFramesPerBuffer = 1024
	DefaultBackend         = BackendPortAudio

	DefaultFIFOBasePath         = "/tmp"
	DefaultAnalysisBlockBytes   = 288000 // 3 s of 48 kHz mono int16
	DefaultLivestreamBlockBytes = 4096
	DefaultQueueDepth           = 64
	DefaultWriteTimeout         = time.Second
	DefaultReadBackoff          = 10 * time.Millisecond

	DefaultListenAddress = ":8080"
	DefaultCodec         = CodecOpus
	DefaultBitrate       = 64000
	DefaultEncodeWorkers = 2

	DefaultWindowSize     = 1024
	DefaultOverlap        = 0.5
	DefaultWindowFunc     = "hann"
	DefaultUpdateInterval = 100 * time.Millisecond
	DefaultMaxColumns     = 32

	DefaultPollInterval = 200 * time.Millisecond
	DefaultStopTimeout  = 2 * time.Second

	MinDeviceID     = -1
	MinSampleRate   = 8000
	MaxSampleRate   = 192000
	MaxBufferFrames = 8192
)

// Audio backends.
const (
	BackendPortAudio = "portaudio"
	BackendWAV       = "wav"
)

// Livestream codecs.
const (
	CodecOpus = "opus"
	CodecPCM  = "pcm"
)

// OpusSampleRates are the pipeline rates the opus codec can encode.
var OpusSampleRates = []int{8000, 12000, 16000, 24000, 48000}

// Filter types accepted in the filters list.
const (
	FilterPassthrough = "passthrough"
	FilterResample    = "resample"
	FilterHighPass    = "highpass"
	FilterLowPass     = "lowpass"
	FilterBandPass    = "bandpass"
	FilterGate        = "gate"
)

// Config is the read-only startup configuration shared by all processes.
type Config struct {
	LogLevel    string            `yaml:"log_level" validate:"required"`
	Audio       AudioConfig       `yaml:"audio"`
	Filters     []FilterConfig    `yaml:"filters" validate:"dive"`
	FIFO        FIFOConfig        `yaml:"fifo"`
	Livestream  LivestreamConfig  `yaml:"livestream"`
	Spectrogram SpectrogramConfig `yaml:"spectrogram"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Daemon      DaemonConfig      `yaml:"daemon"`
}

// AudioConfig holds capture settings.
type AudioConfig struct {
	InputDevice     int    `yaml:"input_device" validate:"gte=-1"`                  // -1 for the default input device.
	SampleRate      int    `yaml:"sample_rate" validate:"gte=8000,lte=192000"`      // Target rate after the filter chain.
	Channels        int    `yaml:"channels" validate:"gte=1,lte=8"`                 //
	FramesPerBuffer int    `yaml:"frames_per_buffer" validate:"gte=0,lte=8192"`     // 0 lets the backend choose.
	LowLatency      bool   `yaml:"low_latency"`                                     // Use the device's low input latency.
	RefreshDevices  bool   `yaml:"refresh_devices"`                                 // Re-query the backend before opening.
	Backend         string `yaml:"backend" validate:"oneof=portaudio wav"`          //
	WAVFile         string `yaml:"wav_file" validate:"required_if=Backend wav"`     // Source file for the wav backend.
}

// FilterConfig describes one filter in the chain. Fields that do not apply
// to a type are ignored.
type FilterConfig struct {
	Type       string  `yaml:"type" validate:"oneof=passthrough resample highpass lowpass bandpass gate"`
	Enabled    *bool   `yaml:"enabled,omitempty"`
	TargetRate int     `yaml:"target_rate,omitempty" validate:"omitempty,gte=8000,lte=192000"`
	CutoffHz   float64 `yaml:"cutoff_hz,omitempty" validate:"gte=0"`
	Q          float64 `yaml:"q,omitempty" validate:"gte=0"`
	Threshold  float64 `yaml:"threshold,omitempty" validate:"gte=0,lte=1"`
}

// IsEnabled reports whether the filter starts enabled. Absent means true.
func (f FilterConfig) IsEnabled() bool {
	return f.Enabled == nil || *f.Enabled
}

// FIFOConfig holds the named pipe layout and framing.
type FIFOConfig struct {
	BasePath             string        `yaml:"base_path" validate:"required"`
	AnalysisBlockBytes   int           `yaml:"analysis_block_bytes" validate:"gt=0"`
	LivestreamBlockBytes int           `yaml:"livestream_block_bytes" validate:"gt=0"`
	QueueDepth           int           `yaml:"queue_depth" validate:"gte=1"`
	WriteTimeout         time.Duration `yaml:"write_timeout" validate:"gte=0"`
	ReadBackoff          time.Duration `yaml:"read_backoff" validate:"gt=0"`
}

// LivestreamConfig holds the encode and broadcast server settings.
type LivestreamConfig struct {
	ListenAddress string        `yaml:"listen_address" validate:"required"`
	Codec         string        `yaml:"codec" validate:"oneof=opus pcm"`
	Bitrate       int           `yaml:"bitrate" validate:"gte=6000,lte=510000"`
	EncodeWorkers int           `yaml:"encode_workers" validate:"gte=1,lte=64"`
	WriteTimeout  time.Duration `yaml:"write_timeout" validate:"gt=0"`
}

// SpectrogramConfig holds STFT and publishing settings.
type SpectrogramConfig struct {
	WindowSize       int           `yaml:"window_size" validate:"gte=16,lte=65536"`
	Overlap          float64       `yaml:"overlap" validate:"gte=0,lt=1"`
	Window           string        `yaml:"window" validate:"required"`
	UpdateInterval   time.Duration `yaml:"update_interval" validate:"gt=0"`
	MaxColumns       int           `yaml:"max_columns" validate:"gte=1,lte=65535"`
	UDPTargetAddress string        `yaml:"udp_target_address,omitempty" validate:"omitempty,hostname_port"`
}

// MetricsConfig toggles the Prometheus endpoint. The livestream process
// serves /metrics on its own listener; capture and analysis serve it only
// when ListenAddress is set.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address,omitempty" validate:"omitempty,hostname_port"`
}

// DaemonConfig holds shutdown polling and teardown bounds.
type DaemonConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" validate:"gt=0"`
	StopTimeout  time.Duration `yaml:"stop_timeout" validate:"gt=0"`
}

// Default returns a configuration populated with built-in defaults.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Audio: AudioConfig{
			InputDevice:     DefaultDeviceID,
			SampleRate:      DefaultSampleRate,
			Channels:        DefaultChannels,
			FramesPerBuffer: DefaultFramesPerBuffer,
			Backend:         DefaultBackend,
		},
		FIFO: FIFOConfig{
			BasePath:             DefaultFIFOBasePath,
			AnalysisBlockBytes:   DefaultAnalysisBlockBytes,
			LivestreamBlockBytes: DefaultLivestreamBlockBytes,
			QueueDepth:           DefaultQueueDepth,
			WriteTimeout:         DefaultWriteTimeout,
			ReadBackoff:          DefaultReadBackoff,
		},
		Livestream: LivestreamConfig{
			ListenAddress: DefaultListenAddress,
			Codec:         DefaultCodec,
			Bitrate:       DefaultBitrate,
			EncodeWorkers: DefaultEncodeWorkers,
			WriteTimeout:  DefaultWriteTimeout,
		},
		Spectrogram: SpectrogramConfig{
			WindowSize:     DefaultWindowSize,
			Overlap:        DefaultOverlap,
			Window:         DefaultWindowFunc,
			UpdateInterval: DefaultUpdateInterval,
			MaxColumns:     DefaultMaxColumns,
		},
		Metrics: MetricsConfig{Enabled: true},
		Daemon: DaemonConfig{
			PollInterval: DefaultPollInterval,
			StopTimeout:  DefaultStopTimeout,
		},
	}
}

// FrameBytes is the size of one interleaved sample frame on the FIFOs.
func (a AudioConfig) FrameBytes() int {
	return a.Channels * 2
}

// HasResample reports whether the configured chain contains a resample filter.
func (c *Config) HasResample() bool {
	for _, f := range c.Filters {
		if f.Type == FilterResample {
			return true
		}
	}
	return false
}
