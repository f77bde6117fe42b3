// SPDX-License-Identifier: MIT

/*
Package filter implements the in-line signal transforms applied to every
captured block before it is fanned out.

Contract:
- Configure runs once before the first Apply.
- Apply never fails: on an internal error or panic it logs and returns the
  block it was given (fail-open), so one bad block cannot break the stream.
- Enable/Disable toggle an identity bypass without removing the filter.
*/
package filter

import (
	"errors"
	"fmt"
	"sync/atomic"

	applog "audiopipe/internal/log"
	"audiopipe/internal/pcm"
)

var (
	ErrNotConfigured   = errors.New("filter: not configured")
	ErrFormatMismatch  = errors.New("filter: block format does not match configuration")
	ErrInvalidArgument = errors.New("filter: invalid argument")
)

// Filter is one stage of a Chain.
type Filter interface {
	Name() string
	Configure(sampleRate, channels int) error
	Apply(block pcm.Block) pcm.Block
	Enable()
	Disable()
	Enabled() bool
}

// RateChanger is implemented by filters whose output rate differs from their
// input rate. The chain configures subsequent filters with OutputRate.
type RateChanger interface {
	OutputRate(inputRate int) int
}

// base carries the bypass flag, the configured format and the fail-open
// Apply wrapper shared by every filter.
type base struct {
	name       string
	log        *applog.Logger
	enabled    atomic.Bool
	configured atomic.Bool
	sampleRate int
	channels   int
}

func (b *base) init(name string) {
	b.name = name
	b.log = applog.New("Filter[" + name + "]")
	b.enabled.Store(true)
}

func (b *base) Name() string  { return b.name }
func (b *base) Enable()       { b.enabled.Store(true) }
func (b *base) Disable()      { b.enabled.Store(false) }
func (b *base) Enabled() bool { return b.enabled.Load() }

func (b *base) setFormat(sampleRate, channels int) error {
	if sampleRate <= 0 || channels <= 0 {
		return fmt.Errorf("%w: %s: sample rate %d, channels %d", ErrInvalidArgument, b.name, sampleRate, channels)
	}
	b.sampleRate = sampleRate
	b.channels = channels
	b.configured.Store(true)
	return nil
}

// apply runs fn with bypass, format checks and panic recovery. Any failure
// returns the original block.
func (b *base) apply(in pcm.Block, fn func(pcm.Block) (pcm.Block, error)) (out pcm.Block) {
	if !b.enabled.Load() {
		return in
	}
	defer func() {
		if r := recover(); r != nil {
			b.log.Errorf("recovered from panic, passing block through: %v", r)
			out = in
		}
	}()

	var err error
	switch {
	case !b.configured.Load():
		err = ErrNotConfigured
	case in.Channels != b.channels || in.SampleRate != b.sampleRate:
		err = fmt.Errorf("%w: got %d Hz/%d ch, want %d Hz/%d ch",
			ErrFormatMismatch, in.SampleRate, in.Channels, b.sampleRate, b.channels)
	default:
		out, err = fn(in)
	}
	if err != nil {
		b.log.Errorf("apply failed, passing block through: %v", err)
		return in
	}
	return out
}

// Passthrough returns every block unchanged.
type Passthrough struct {
	base
}

var _ Filter = (*Passthrough)(nil)

func NewPassthrough() *Passthrough {
	p := &Passthrough{}
	p.init("passthrough")
	return p
}

func (p *Passthrough) Configure(sampleRate, channels int) error {
	return p.setFormat(sampleRate, channels)
}

func (p *Passthrough) Apply(block pcm.Block) pcm.Block {
	return p.apply(block, func(b pcm.Block) (pcm.Block, error) { return b, nil })
}
