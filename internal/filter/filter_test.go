// SPDX-License-Identifier: MIT
package filter

import (
	"bytes"
	"errors"
	"io"
	"math"
	"os"
	"testing"

	"audiopipe/internal/config"
	applog "audiopipe/internal/log"
	"audiopipe/internal/pcm"
	"audiopipe/pkg/utils"
)

func TestMain(m *testing.M) {
	applog.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func sineBlock(frames, rate, channels int, freq float64) pcm.Block {
	mono := utils.GenerateSineWave(frames, float64(rate), freq)
	return pcm.New(utils.Interleave(mono, channels), rate, channels)
}

func TestDisabledFilterIsIdentity(t *testing.T) {
	filters := []Filter{
		NewPassthrough(),
		NewResample(16000),
		NewBiquad(HighPass, 200, 0),
		NewBiquad(LowPass, 2000, 0),
		NewBiquad(BandPass, 1000, 2),
		NewGate(0.9),
	}
	in := sineBlock(1024, 48000, 2, 440)

	for _, f := range filters {
		t.Run(f.Name(), func(t *testing.T) {
			if err := f.Configure(48000, 2); err != nil {
				t.Fatalf("Configure() error = %v", err)
			}
			f.Disable()
			if f.Enabled() {
				t.Fatal("Enabled() = true after Disable()")
			}
			out := f.Apply(in)
			if &out.Samples[0] != &in.Samples[0] || len(out.Samples) != len(in.Samples) {
				t.Error("disabled filter did not return its input block")
			}
			f.Enable()
			if !f.Enabled() {
				t.Error("Enabled() = false after Enable()")
			}
		})
	}
}

func TestPassthroughChainIsByteIdentical(t *testing.T) {
	chain := NewChain(NewPassthrough(), NewPassthrough(), NewPassthrough())
	if err := chain.Configure(44100, 1); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}

	in := pcm.New(utils.GenerateComplexWave(4096, 44100), 44100, 1)
	out, err := chain.Process(in)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if !bytes.Equal(out.Bytes(), in.Bytes()) {
		t.Error("passthrough chain changed the block")
	}
}

func TestChainProcessBeforeConfigure(t *testing.T) {
	chain := NewChain(NewPassthrough())
	in := pcm.New(make([]int16, 8), 48000, 1)
	if _, err := chain.Process(in); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Process() error = %v, want ErrNotConfigured", err)
	}
	if chain.OutputRate() != 0 {
		t.Errorf("OutputRate() = %d before Configure, want 0", chain.OutputRate())
	}
}

func TestChainPropagatesRate(t *testing.T) {
	lp := NewBiquad(LowPass, 7000, 0)
	chain := NewChain(NewResample(16000), lp)
	if err := chain.Configure(48000, 1); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	if chain.OutputRate() != 16000 {
		t.Errorf("OutputRate() = %d, want 16000", chain.OutputRate())
	}
	// A 7 kHz cutoff is legal at 16 kHz only because the chain told the
	// low-pass about the new rate.
	out, err := chain.Process(sineBlock(4800, 48000, 1, 440))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if out.SampleRate != 16000 || out.Frames() != 1600 {
		t.Errorf("output = %d Hz / %d frames, want 16000 / 1600", out.SampleRate, out.Frames())
	}
}

func TestConfigureForTarget(t *testing.T) {
	t.Run("appends resample", func(t *testing.T) {
		chain := NewChain(NewBiquad(HighPass, 100, 0))
		if err := ConfigureForTarget(chain, 44100, 1, 48000); err != nil {
			t.Fatalf("ConfigureForTarget() error = %v", err)
		}
		fs := chain.Filters()
		if len(fs) != 2 {
			t.Fatalf("len(Filters()) = %d, want 2", len(fs))
		}
		if _, ok := fs[1].(*Resample); !ok {
			t.Errorf("last filter is %T, want *Resample", fs[1])
		}
		if chain.OutputRate() != 48000 {
			t.Errorf("OutputRate() = %d, want 48000", chain.OutputRate())
		}
	})
	t.Run("native rate matches", func(t *testing.T) {
		chain := NewChain()
		if err := ConfigureForTarget(chain, 48000, 2, 48000); err != nil {
			t.Fatalf("ConfigureForTarget() error = %v", err)
		}
		if len(chain.Filters()) != 0 {
			t.Errorf("unexpected filters appended: %d", len(chain.Filters()))
		}
	})
}

func TestResampleIdentity(t *testing.T) {
	r := NewResample(48000)
	if err := r.Configure(48000, 2); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	in := sineBlock(960, 48000, 2, 1000)
	out := r.Apply(in)
	if &out.Samples[0] != &in.Samples[0] {
		t.Error("resample with equal rates did not return the input block")
	}
}

func TestResampleLength(t *testing.T) {
	tests := []struct {
		name     string
		src, dst int
		frames   int
		channels int
	}{
		{"44.1k to 48k mono", 44100, 48000, 44100, 1},
		{"48k to 16k stereo", 48000, 16000, 4800, 2},
		{"16k to 48k", 16000, 48000, 1000, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResample(tt.dst)
			if err := r.Configure(tt.src, tt.channels); err != nil {
				t.Fatalf("Configure() error = %v", err)
			}
			// Full-scale input exercises the clip on overshoot.
			in := pcm.New(make([]int16, tt.frames*tt.channels), tt.src, tt.channels)
			for i := range in.Samples {
				if (i/tt.channels/7)%2 == 0 {
					in.Samples[i] = math.MaxInt16
				} else {
					in.Samples[i] = math.MinInt16
				}
			}
			out := r.Apply(in)

			want := int(math.Round(float64(tt.frames) * float64(tt.dst) / float64(tt.src)))
			if d := out.Frames() - want; d < -1 || d > 1 {
				t.Errorf("Frames() = %d, want %d ±1", out.Frames(), want)
			}
			if out.SampleRate != tt.dst || out.Channels != tt.channels {
				t.Errorf("format = %d/%d", out.SampleRate, out.Channels)
			}
		})
	}
}

func TestResampleStreamingTotals(t *testing.T) {
	r := NewResample(48000)
	if err := r.Configure(44100, 1); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	total := 0
	for i := 0; i < 100; i++ {
		total += r.Apply(sineBlock(441, 44100, 1, 440)).Frames()
	}
	if total != 48000 {
		t.Errorf("total output frames = %d, want 48000", total)
	}
}

func TestResamplePreservesTone(t *testing.T) {
	r := NewResample(48000)
	if err := r.Configure(44100, 1); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	in := sineBlock(44100, 44100, 1, 1000)
	out := r.Apply(in)

	// Skip the filter delay at the start.
	got := utils.RMS(out.Samples[1000:])
	want := utils.RMS(in.Samples[1000:])
	if math.Abs(got-want)/want > 0.02 {
		t.Errorf("RMS after resample = %.1f, want %.1f ±2%%", got, want)
	}
}

func TestResampleKeepsChannelsApart(t *testing.T) {
	r := NewResample(48000)
	if err := r.Configure(44100, 2); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	mono := utils.GenerateSineWave(44100, 44100, 1000)
	in := make([]int16, 2*len(mono))
	for i, v := range mono {
		in[2*i] = v // right channel stays silent
	}
	out := r.Apply(pcm.New(in, 44100, 2))

	left := make([]int16, 0, out.Frames())
	right := make([]int16, 0, out.Frames())
	for i := 1000; i < out.Frames(); i++ {
		left = append(left, out.Samples[2*i])
		right = append(right, out.Samples[2*i+1])
	}
	if got, want := utils.RMS(left), utils.RMS(mono[1000:]); math.Abs(got-want)/want > 0.02 {
		t.Errorf("left RMS = %.1f, want %.1f ±2%%", got, want)
	}
	if got := utils.RMS(right); got != 0 {
		t.Errorf("right RMS = %.1f, want silence", got)
	}
}

func TestBiquadRejectsCutoffAboveNyquist(t *testing.T) {
	f := NewBiquad(LowPass, 30000, 0)
	if err := f.Configure(48000, 1); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Configure() error = %v, want ErrInvalidArgument", err)
	}
}

func TestBiquadResponse(t *testing.T) {
	tests := []struct {
		name   string
		kind   BiquadKind
		cutoff float64
		tone   float64
		pass   bool
	}{
		{"highpass blocks low tone", HighPass, 2000, 100, false},
		{"highpass passes high tone", HighPass, 200, 5000, true},
		{"lowpass blocks high tone", LowPass, 500, 10000, false},
		{"lowpass passes low tone", LowPass, 5000, 200, true},
		{"bandpass passes centre", BandPass, 1000, 1000, true},
		{"bandpass blocks far tone", BandPass, 1000, 15000, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewBiquad(tt.kind, tt.cutoff, 1)
			if err := f.Configure(48000, 1); err != nil {
				t.Fatalf("Configure() error = %v", err)
			}
			in := sineBlock(9600, 48000, 1, tt.tone)
			// Two blocks so the second is past the transient.
			f.Apply(in)
			out := f.Apply(in)
			ratio := utils.RMS(out.Samples) / utils.RMS(in.Samples)
			if tt.pass && ratio < 0.7 {
				t.Errorf("gain = %.3f, want pass", ratio)
			}
			if !tt.pass && ratio > 0.2 {
				t.Errorf("gain = %.3f, want attenuation", ratio)
			}
		})
	}
}

func TestFailOpenOnFormatMismatch(t *testing.T) {
	f := NewBiquad(LowPass, 1000, 0)
	if err := f.Configure(48000, 1); err != nil {
		t.Fatal(err)
	}
	in := sineBlock(256, 48000, 2, 440)
	out := f.Apply(in)
	if &out.Samples[0] != &in.Samples[0] {
		t.Error("mismatched block was not passed through unchanged")
	}
}

func TestFailOpenBeforeConfigure(t *testing.T) {
	g := NewGate(0.5)
	in := pcm.New(make([]int16, 16), 48000, 1)
	out := g.Apply(in)
	if &out.Samples[0] != &in.Samples[0] {
		t.Error("unconfigured filter did not pass block through")
	}
}

type panicky struct{ base }

func (p *panicky) Configure(r, c int) error { return p.setFormat(r, c) }
func (p *panicky) Apply(b pcm.Block) pcm.Block {
	return p.apply(b, func(pcm.Block) (pcm.Block, error) { panic("boom") })
}

func TestFailOpenOnPanic(t *testing.T) {
	p := &panicky{}
	p.init("panicky")
	chain := NewChain(p, NewPassthrough())
	if err := chain.Configure(48000, 1); err != nil {
		t.Fatal(err)
	}
	in := pcm.New([]int16{1, 2, 3}, 48000, 1)
	out, err := chain.Process(in)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if !bytes.Equal(out.Bytes(), in.Bytes()) {
		t.Error("panicking filter changed the block")
	}
}

func TestGate(t *testing.T) {
	g := NewGate(0.1)
	if err := g.Configure(48000, 1); err != nil {
		t.Fatal(err)
	}
	if math.Abs(g.Threshold()-0.1) > 0.001 {
		t.Errorf("Threshold() = %.3f, want 0.1", g.Threshold())
	}

	quiet := pcm.New([]int16{100, -200, 150}, 48000, 1)
	if out := g.Apply(quiet); utils.RMS(out.Samples) != 0 {
		t.Errorf("quiet block not silenced: %v", out.Samples)
	}
	loud := pcm.New([]int16{100, -20000, 150}, 48000, 1)
	if out := g.Apply(loud); &out.Samples[0] != &loud.Samples[0] {
		t.Error("loud block was modified")
	}

	g.SetThreshold(-1)
	if g.Threshold() != 0 {
		t.Errorf("Threshold() = %v after clamp, want 0", g.Threshold())
	}
	g.SetThreshold(2)
	if g.Threshold() != 1 {
		t.Errorf("Threshold() = %v after clamp, want 1", g.Threshold())
	}
}

func TestPeakAmplitude(t *testing.T) {
	tests := []struct {
		in   []int16
		want int32
	}{
		{nil, 0},
		{[]int16{1, -5, 3}, 5},
		{[]int16{math.MinInt16}, 32768},
		{[]int16{math.MaxInt16, -1}, 32767},
	}
	for _, tt := range tests {
		if got := peakAmplitude(tt.in); got != tt.want {
			t.Errorf("peakAmplitude(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}

	buf := make([]int16, 1024)
	allocs := testing.AllocsPerRun(100, func() { peakAmplitude(buf) })
	if allocs > 0 {
		t.Errorf("peakAmplitude allocated %.1f times", allocs)
	}
}

func TestBuild(t *testing.T) {
	off := false
	chain, err := Build([]config.FilterConfig{
		{Type: config.FilterHighPass, CutoffHz: 100},
		{Type: config.FilterGate, Threshold: 0.01, Enabled: &off},
		{Type: config.FilterResample, TargetRate: 16000},
		{Type: config.FilterPassthrough},
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	fs := chain.Filters()
	if len(fs) != 4 {
		t.Fatalf("len(Filters()) = %d, want 4", len(fs))
	}
	if fs[1].Enabled() {
		t.Error("gate with enabled: false should start disabled")
	}
	if err := chain.Configure(48000, 1); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	if chain.OutputRate() != 16000 {
		t.Errorf("OutputRate() = %d, want 16000", chain.OutputRate())
	}

	if _, err := Build([]config.FilterConfig{{Type: "reverb"}}); err == nil {
		t.Error("Build() accepted an unknown filter type")
	}
}
