// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	applog "audiopipe/internal/log"
	"audiopipe/pkg/bitint"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

var logger = applog.New("Config")

// LoadConfig loads configuration from a YAML file specified by path. If path is empty,
// it searches default locations ("config.yaml"). If no file is found, it uses built-in
// defaults. After loading defaults or from file, it applies environment variable
// overrides, then each override in order, and validates the final configuration.
// Derived defaults such as a resample filter's target rate are filled after the
// overrides, so they follow a rate changed on the command line.
func LoadConfig(path string, overrides ...func(*Config)) (*Config, error) {
	cfg := Default()

	if path == "" {
		candidates := []string{
			"config.yaml",
			"/etc/audiopipe/config.yaml",
		}
		for _, candidate := range candidates {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Environment overrides win over the file.
	cfg.applyEnvOverrides()
	for _, override := range overrides {
		override(cfg)
	}
	cfg.fillFilterDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks struct constraints and the cross-field rules the tags
// cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, e := range verrs {
				msgs = append(msgs, e.Namespace()+" "+formatValidationMessage(e))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if _, ok := applog.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("log_level %q is not a known level", c.LogLevel)
	}

	frame := c.Audio.FrameBytes()
	if c.FIFO.AnalysisBlockBytes%frame != 0 {
		return fmt.Errorf("fifo.analysis_block_bytes %d is not a multiple of the %d-byte sample frame", c.FIFO.AnalysisBlockBytes, frame)
	}
	if c.FIFO.LivestreamBlockBytes%frame != 0 {
		return fmt.Errorf("fifo.livestream_block_bytes %d is not a multiple of the %d-byte sample frame", c.FIFO.LivestreamBlockBytes, frame)
	}

	if c.Livestream.Codec == CodecOpus && !slices.Contains(OpusSampleRates, c.Audio.SampleRate) {
		return fmt.Errorf("audio.sample_rate %d cannot be encoded as opus, use one of %v or codec pcm", c.Audio.SampleRate, OpusSampleRates)
	}

	if ws := c.Spectrogram.WindowSize; !bitint.IsPowerOfTwo(ws) {
		return fmt.Errorf("spectrogram.window_size %d must be a power of two", ws)
	}

	for i, f := range c.Filters {
		switch f.Type {
		case FilterHighPass, FilterLowPass, FilterBandPass:
			if f.CutoffHz <= 0 {
				return fmt.Errorf("filters[%d]: %s requires cutoff_hz", i, f.Type)
			}
		}
	}
	return nil
}

func formatValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required", "required_if":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", e.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", e.Param())
	case "lt":
		return fmt.Sprintf("must be less than %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", e.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "hostname_port":
		return "must be a host:port address"
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}

// fillFilterDefaults gives a resample filter without a target the pipeline rate.
func (c *Config) fillFilterDefaults() {
	for i := range c.Filters {
		if c.Filters[i].Type == FilterResample && c.Filters[i].TargetRate == 0 {
			c.Filters[i].TargetRate = c.Audio.SampleRate
		}
		if c.Filters[i].Q == 0 {
			c.Filters[i].Q = 0.7071
		}
	}
}

// applyEnvOverrides applies ENV_* variables on top of the loaded values.
// Unparseable values are ignored.
func (c *Config) applyEnvOverrides() {
	// ENV_DEBUG
	if val, ok := os.LookupEnv("ENV_DEBUG"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil && bVal {
			c.LogLevel = "debug"
			logger.Infof("Overriding log_level from env: debug")
		}
	}

	// ENV_AUDIO_DEVICE
	if val, ok := os.LookupEnv("ENV_AUDIO_DEVICE"); ok {
		if iVal, err := strconv.Atoi(val); err == nil {
			c.Audio.InputDevice = iVal
			logger.Infof("Overriding audio.input_device from env: %d", iVal)
		}
	}

	// ENV_FIFO_BASE_PATH
	if val, ok := os.LookupEnv("ENV_FIFO_BASE_PATH"); ok && val != "" {
		c.FIFO.BasePath = val
		logger.Infof("Overriding fifo.base_path from env: %s", val)
	}

	// ENV_LISTEN_ADDRESS
	if val, ok := os.LookupEnv("ENV_LISTEN_ADDRESS"); ok && val != "" {
		c.Livestream.ListenAddress = val
		logger.Infof("Overriding livestream.listen_address from env: %s", val)
	}

	// ENV_UDP_TARGET_ADDRESS
	if val, ok := os.LookupEnv("ENV_UDP_TARGET_ADDRESS"); ok {
		c.Spectrogram.UDPTargetAddress = val
		logger.Infof("Overriding spectrogram.udp_target_address from env: %s", val)
	}
}
