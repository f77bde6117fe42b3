// SPDX-License-Identifier: MIT
package filter

import (
	"math"
	"sync/atomic"

	"audiopipe/internal/pcm"
)

// Gate silences blocks whose peak amplitude does not exceed the threshold.
// The threshold is in the range 0.0-1.0 where 0=always open, 1=always closed.
type Gate struct {
	base
	threshold atomic.Int32 // Absolute amplitude (0-32767)
}

var _ Filter = (*Gate)(nil)

func NewGate(threshold float64) *Gate {
	g := &Gate{}
	g.init("gate")
	g.SetThreshold(threshold)
	return g
}

// SetThreshold adjusts the gate threshold, clamped to 0.0-1.0.
func (g *Gate) SetThreshold(threshold float64) {
	if threshold < 0.0 {
		threshold = 0.0
	}
	if threshold > 1.0 {
		threshold = 1.0
	}
	g.threshold.Store(int32(threshold * math.MaxInt16))
}

// Threshold returns the current threshold as a float64 in 0.0-1.0.
func (g *Gate) Threshold() float64 {
	return float64(g.threshold.Load()) / math.MaxInt16
}

func (g *Gate) Configure(sampleRate, channels int) error {
	return g.setFormat(sampleRate, channels)
}

func (g *Gate) Apply(block pcm.Block) pcm.Block {
	return g.apply(block, g.process)
}

func (g *Gate) process(in pcm.Block) (pcm.Block, error) {
	if peakAmplitude(in.Samples) > g.threshold.Load() {
		return in, nil
	}
	return pcm.Block{Samples: make([]int16, len(in.Samples)), SampleRate: in.SampleRate, Channels: in.Channels}, nil
}

// peakAmplitude returns max |s| using a branchless abs and max.
func peakAmplitude(samples []int16) int32 {
	var peak int32
	for _, s := range samples {
		v := int32(s)
		mask := v >> 31
		amplitude := (v ^ mask) - mask
		diff := amplitude - peak
		peak += diff &^ (diff >> 31)
	}
	return peak
}
