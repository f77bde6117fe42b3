// SPDX-License-Identifier: MIT
package filter

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/floats"

	"audiopipe/internal/pcm"
)

const (
	zeroCrossings   = 16  // Sinc lobes on each side of the kernel centre
	tableResolution = 512 // Kernel table entries per zero crossing
)

// sincTable is a Blackman-windowed sinc sampled at tableResolution points per
// zero crossing, from the centre out to zeroCrossings.
var sincTable = buildSincTable()

func buildSincTable() []float64 {
	n := zeroCrossings * tableResolution
	// Symmetric window over [-n, n]; keep the right half.
	w := window.NewValues(window.Blackman, 2*n+1)
	t := make([]float64, n+1)
	for i := range t {
		x := float64(i) / tableResolution
		s := 1.0
		if i > 0 {
			s = math.Sin(math.Pi*x) / (math.Pi * x)
		}
		t[i] = s * w[n+i]
	}
	return t
}

func kernel(u float64) float64 {
	u = math.Abs(u)
	if u >= zeroCrossings {
		return 0
	}
	pos := u * tableResolution
	i := int(pos)
	frac := pos - float64(i)
	if i+1 >= len(sincTable) {
		return sincTable[i] * (1 - frac)
	}
	return sincTable[i] + frac*(sincTable[i+1]-sincTable[i])
}

// Resample converts between sample rates with band-limited windowed-sinc
// interpolation. It is stateful: filter history and the fractional read
// position carry across blocks, so a continuous stream resamples without
// seams. Output frames per block track round(input × target/source).
type Resample struct {
	base
	targetRate int

	cutoff   float64 // Anti-alias cutoff relative to the source Nyquist
	step     float64 // Source samples per output sample
	halfTaps int     // Kernel reach in source samples
	history  int     // Samples of history kept per channel

	hist     [][]float64 // Per-channel tail of the previous input
	work     []float64
	taps     []float64
	consumed int64 // Source frames seen
	produced int64 // Output frames emitted
}

var (
	_ Filter      = (*Resample)(nil)
	_ RateChanger = (*Resample)(nil)
)

func NewResample(targetRate int) *Resample {
	r := &Resample{targetRate: targetRate}
	r.init("resample")
	return r
}

// TargetRate returns the configured output rate.
func (r *Resample) TargetRate() int { return r.targetRate }

func (r *Resample) OutputRate(int) int { return r.targetRate }

func (r *Resample) Configure(sampleRate, channels int) error {
	if r.targetRate <= 0 {
		return fmt.Errorf("%w: target rate %d", ErrInvalidArgument, r.targetRate)
	}
	if err := r.setFormat(sampleRate, channels); err != nil {
		return err
	}

	r.cutoff = math.Min(1, float64(r.targetRate)/float64(sampleRate))
	r.step = float64(sampleRate) / float64(r.targetRate)
	r.halfTaps = int(math.Ceil(zeroCrossings / r.cutoff))
	r.history = 2*r.halfTaps + int(math.Ceil(r.step)) + 1
	r.taps = make([]float64, 2*r.halfTaps)
	r.hist = make([][]float64, channels)
	for ch := range r.hist {
		r.hist[ch] = make([]float64, r.history)
	}
	r.consumed, r.produced = 0, 0
	return nil
}

func (r *Resample) Apply(block pcm.Block) pcm.Block {
	return r.apply(block, r.resample)
}

func (r *Resample) resample(in pcm.Block) (pcm.Block, error) {
	if r.sampleRate == r.targetRate {
		return in, nil
	}

	frames := in.Frames()
	channels := in.Channels
	src, dst := int64(r.sampleRate), int64(r.targetRate)

	before := r.consumed
	r.consumed += int64(frames)
	total := (r.consumed*dst + src/2) / src
	outFrames := int(total - r.produced)
	if outFrames < 0 {
		outFrames = 0
	}

	out := make([]int16, outFrames*channels)
	n := r.history + frames
	if cap(r.work) < n {
		r.work = make([]float64, n)
	}
	x := r.work[:n]

	for ch := 0; ch < channels; ch++ {
		copy(x, r.hist[ch])
		for i := 0; i < frames; i++ {
			x[r.history+i] = float64(in.Samples[i*channels+ch])
		}

		for j := 0; j < outFrames; j++ {
			// Absolute source position, delayed by halfTaps so every tap
			// needed lies in history or the current block.
			p := float64(r.produced+int64(j))*r.step - float64(r.halfTaps)
			c := p - float64(before) + float64(r.history)
			centre := int(math.Floor(c))

			lo, hi := centre-r.halfTaps+1, centre+r.halfTaps
			if lo < 0 {
				lo = 0
			}
			if hi > n-1 {
				hi = n - 1
			}
			if hi < lo {
				continue
			}
			taps := r.taps[:hi-lo+1]
			for k := range taps {
				taps[k] = kernel((c - float64(lo+k)) * r.cutoff)
			}
			out[j*channels+ch] = pcm.ClipFloat(floats.Dot(x[lo:hi+1], taps) * r.cutoff)
		}

		copy(r.hist[ch], x[n-r.history:])
	}
	r.produced += int64(outFrames)

	return pcm.Block{Samples: out, SampleRate: r.targetRate, Channels: channels}, nil
}
