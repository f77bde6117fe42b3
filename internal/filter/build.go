// SPDX-License-Identifier: MIT
package filter

import (
	"fmt"

	"audiopipe/internal/config"
)

// Build constructs an unconfigured chain from the filters section of the
// configuration.
func Build(specs []config.FilterConfig) (*Chain, error) {
	filters := make([]Filter, 0, len(specs))
	for i, s := range specs {
		var f Filter
		switch s.Type {
		case config.FilterPassthrough:
			f = NewPassthrough()
		case config.FilterResample:
			f = NewResample(s.TargetRate)
		case config.FilterHighPass:
			f = NewBiquad(HighPass, s.CutoffHz, s.Q)
		case config.FilterLowPass:
			f = NewBiquad(LowPass, s.CutoffHz, s.Q)
		case config.FilterBandPass:
			f = NewBiquad(BandPass, s.CutoffHz, s.Q)
		case config.FilterGate:
			f = NewGate(s.Threshold)
		default:
			return nil, fmt.Errorf("filters[%d]: unknown filter type %q", i, s.Type)
		}
		if !s.IsEnabled() {
			f.Disable()
		}
		filters = append(filters, f)
	}
	return NewChain(filters...), nil
}

// ConfigureForTarget configures c for the input format and, when the chain's
// output rate differs from targetRate, appends a terminal resample so blocks
// leaving the chain are always at targetRate.
func ConfigureForTarget(c *Chain, inputRate, channels, targetRate int) error {
	if err := c.Configure(inputRate, channels); err != nil {
		return err
	}
	if c.OutputRate() == targetRate {
		return nil
	}
	c.Append(NewResample(targetRate))
	return c.Configure(inputRate, channels)
}
