// SPDX-License-Identifier: MIT
package filter

import (
	"fmt"
	"math"

	"audiopipe/internal/pcm"
)

// BiquadKind selects the response of a Biquad.
type BiquadKind int

const (
	HighPass BiquadKind = iota
	LowPass
	BandPass
)

func (k BiquadKind) String() string {
	switch k {
	case HighPass:
		return "highpass"
	case LowPass:
		return "lowpass"
	case BandPass:
		return "bandpass"
	default:
		return "unknown"
	}
}

// Biquad is a second-order IIR section using the RBJ audio EQ cookbook
// coefficients. State is kept per channel and carried across blocks.
type Biquad struct {
	base
	kind   BiquadKind
	cutoff float64
	q      float64

	b0, b1, b2, a1, a2 float64
	state              []biquadState
}

type biquadState struct {
	x1, x2, y1, y2 float64
}

var _ Filter = (*Biquad)(nil)

// NewBiquad returns a filter of the given kind. For BandPass, cutoff is the
// centre frequency. q <= 0 selects 1/√2.
func NewBiquad(kind BiquadKind, cutoffHz, q float64) *Biquad {
	if q <= 0 {
		q = math.Sqrt2 / 2
	}
	f := &Biquad{kind: kind, cutoff: cutoffHz, q: q}
	f.init(kind.String())
	return f
}

func (f *Biquad) Configure(sampleRate, channels int) error {
	nyquist := float64(sampleRate) / 2
	if f.cutoff <= 0 || f.cutoff >= nyquist {
		return fmt.Errorf("%w: %s cutoff %.1f Hz outside (0, %.1f)", ErrInvalidArgument, f.kind, f.cutoff, nyquist)
	}
	if err := f.setFormat(sampleRate, channels); err != nil {
		return err
	}

	w0 := 2 * math.Pi * f.cutoff / float64(sampleRate)
	cosw, sinw := math.Cos(w0), math.Sin(w0)
	alpha := sinw / (2 * f.q)

	var b0, b1, b2 float64
	switch f.kind {
	case HighPass:
		b0 = (1 + cosw) / 2
		b1 = -(1 + cosw)
		b2 = (1 + cosw) / 2
	case LowPass:
		b0 = (1 - cosw) / 2
		b1 = 1 - cosw
		b2 = (1 - cosw) / 2
	case BandPass:
		// Constant 0 dB peak gain.
		b0 = alpha
		b1 = 0
		b2 = -alpha
	default:
		return fmt.Errorf("%w: biquad kind %d", ErrInvalidArgument, f.kind)
	}
	a0 := 1 + alpha
	f.b0, f.b1, f.b2 = b0/a0, b1/a0, b2/a0
	f.a1, f.a2 = -2*cosw/a0, (1-alpha)/a0
	f.state = make([]biquadState, channels)
	return nil
}

func (f *Biquad) Apply(block pcm.Block) pcm.Block {
	return f.apply(block, f.process)
}

func (f *Biquad) process(in pcm.Block) (pcm.Block, error) {
	ch := in.Channels
	out := make([]int16, len(in.Samples))
	for c := 0; c < ch; c++ {
		s := &f.state[c]
		for i := c; i < len(in.Samples); i += ch {
			x := float64(in.Samples[i])
			y := f.b0*x + f.b1*s.x1 + f.b2*s.x2 - f.a1*s.y1 - f.a2*s.y2
			s.x2, s.x1 = s.x1, x
			s.y2, s.y1 = s.y1, y
			out[i] = pcm.ClipFloat(y)
		}
	}
	return pcm.Block{Samples: out, SampleRate: in.SampleRate, Channels: ch}, nil
}
