// SPDX-License-Identifier: MIT

// Package spectrogram computes short-time Fourier transform columns from
// PCM chunks and publishes them to subscribers at a bounded rate.
package spectrogram

import (
	"fmt"
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"

	"audiopipe/internal/config"
	"audiopipe/internal/pcm"
	"audiopipe/pkg/bitint"
)

// floorDB is reported for bins with no energy.
const floorDB = -160

// Analyzer turns interleaved int16 PCM into dBFS magnitude columns. Input
// is mixed to mono and framed with the configured overlap.
type Analyzer struct {
	mu sync.Mutex

	fft        *fourier.FFT
	size       int
	hop        int
	sampleRate int
	channels   int
	window     []float64
	scale      float64 // converts |X[k]| to a linear amplitude of full scale

	pending   []float64
	in        []float64
	out       []complex128
	columns   [][]float32
	maxQueued int
}

// NewAnalyzer validates cfg and prepares the FFT workspace.
func NewAnalyzer(cfg config.SpectrogramConfig, sampleRate, channels int) (*Analyzer, error) {
	if !bitint.IsPowerOfTwo(cfg.WindowSize) {
		return nil, fmt.Errorf("window size must be a power of 2, got %d", cfg.WindowSize)
	}
	if cfg.Overlap < 0 || cfg.Overlap >= 1 {
		return nil, fmt.Errorf("overlap must be in [0, 1), got %g", cfg.Overlap)
	}
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("invalid format %d Hz x %d channels", sampleRate, channels)
	}
	wf, err := ParseWindowFunc(cfg.Window)
	if err != nil {
		return nil, err
	}

	hop := cfg.WindowSize - int(math.Round(float64(cfg.WindowSize)*cfg.Overlap))
	if hop < 1 {
		hop = 1
	}
	coeffs := wf.coefficients(cfg.WindowSize)
	var sum float64
	for _, c := range coeffs {
		sum += c
	}
	maxQueued := 4 * cfg.MaxColumns
	if maxQueued < 1 {
		maxQueued = 1
	}

	return &Analyzer{
		fft:        fourier.NewFFT(cfg.WindowSize),
		size:       cfg.WindowSize,
		hop:        hop,
		sampleRate: sampleRate,
		channels:   channels,
		window:     coeffs,
		scale:      2 / sum,
		pending:    make([]float64, 0, 2*cfg.WindowSize),
		in:         make([]float64, cfg.WindowSize),
		out:        make([]complex128, cfg.WindowSize/2+1),
		maxQueued:  maxQueued,
	}, nil
}

// Bins returns the number of magnitudes per column.
func (a *Analyzer) Bins() int { return a.size/2 + 1 }

// Hop returns the number of mono samples between column starts.
func (a *Analyzer) Hop() int { return a.hop }

func (a *Analyzer) SampleRate() int { return a.sampleRate }

// BinFrequency returns the centre frequency of bin i in Hz.
func (a *Analyzer) BinFrequency(i int) float64 {
	if i < 0 || i >= a.Bins() {
		return 0
	}
	return float64(i) * float64(a.sampleRate) / float64(a.size)
}

// Write appends little-endian int16 PCM and computes every column that
// becomes complete. When more columns queue up than can be published, the
// oldest are discarded.
func (a *Analyzer) Write(raw []byte) error {
	frameBytes := a.channels * pcm.BytesPerSample
	if len(raw)%frameBytes != 0 {
		return fmt.Errorf("%w: %d bytes, %d channels", pcm.ErrOddLength, len(raw), a.channels)
	}
	samples := pcm.DecodeSamples(nil, raw)

	a.mu.Lock()
	defer a.mu.Unlock()
	norm := 1 / (32768 * float64(a.channels))
	for f := 0; f < len(samples); f += a.channels {
		var sum int
		for c := 0; c < a.channels; c++ {
			sum += int(samples[f+c])
		}
		a.pending = append(a.pending, float64(sum)*norm)
	}

	for len(a.pending) >= a.size {
		a.columns = append(a.columns, a.column())
		if len(a.columns) > a.maxQueued {
			a.columns = a.columns[len(a.columns)-a.maxQueued:]
		}
		a.pending = append(a.pending[:0], a.pending[a.hop:]...)
	}
	return nil
}

func (a *Analyzer) column() []float32 {
	for i := range a.in {
		a.in[i] = a.pending[i] * a.window[i]
	}
	a.fft.Coefficients(a.out, a.in)
	col := make([]float32, len(a.out))
	last := len(a.out) - 1
	for i, c := range a.out {
		mag := cmplx.Abs(c) * a.scale
		if i == 0 || i == last {
			mag /= 2
		}
		db := float64(floorDB)
		if mag > 0 {
			db = math.Max(20*math.Log10(mag), floorDB)
		}
		col[i] = float32(db)
	}
	return col
}

// Drain removes queued columns and returns at most max of the newest.
func (a *Analyzer) Drain(max int) [][]float32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	cols := a.columns
	a.columns = nil
	if max > 0 && len(cols) > max {
		cols = cols[len(cols)-max:]
	}
	return cols
}

// Reset discards buffered samples and queued columns.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = a.pending[:0]
	a.columns = nil
}
