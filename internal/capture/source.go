// SPDX-License-Identifier: MIT
package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"audiopipe/internal/filter"
	applog "audiopipe/internal/log"
	"audiopipe/internal/observe"
	"audiopipe/internal/pcm"
)

// Sink receives every filtered block. Push runs on the backend's callback
// thread and must not block.
type Sink interface {
	Push(block pcm.Block)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(block pcm.Block)

func (f SinkFunc) Push(block pcm.Block) { f(block) }

// Options tune how a Source opens its device.
type Options struct {
	FramesPerBuffer int
	LowLatency      bool
	RefreshDevices  bool
	Metrics         *observe.Metrics
}

// Source owns one capture stream: device → filter chain → sink.
type Source struct {
	backend Backend
	chain   *filter.Chain
	sink    Sink
	opts    Options
	metrics *observe.Metrics
	log     *applog.Logger

	mu       sync.Mutex
	stream   Stream
	device   DeviceInfo
	native   int
	channels int
	running  atomic.Bool
}

func NewSource(backend Backend, chain *filter.Chain, sink Sink, opts Options) *Source {
	return &Source{
		backend: backend,
		chain:   chain,
		sink:    sink,
		opts:    opts,
		metrics: observe.OrDefault(opts.Metrics),
		log:     applog.New("Capture"),
	}
}

// resolveDevice maps a device index to an input device. -1 selects the
// backend default.
func (s *Source) resolveDevice(index int) (DeviceInfo, error) {
	if index == -1 {
		return s.backend.DefaultInputDevice()
	}
	devices, err := DiscoverInputDevices(s.backend, s.opts.RefreshDevices)
	if err != nil {
		return DeviceInfo{}, err
	}
	for _, d := range devices {
		if d.Index == index {
			return d, nil
		}
	}
	return DeviceInfo{}, fmt.Errorf("%w: no input device with index %d", ErrInvalidDevice, index)
}

// StartCapture opens deviceIndex at its native sample rate and starts
// delivering blocks. The filter chain is configured with the native rate and
// converts to sampleRate, so the hardware is never asked for a rate it may
// not support. Errors are logged and returned; there is no retry.
func (s *Source) StartCapture(deviceIndex, sampleRate, channels int) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if err != nil {
			s.log.Errorf("start failed: %v", err)
		}
	}()

	if s.stream != nil {
		return ErrAlreadyRunning
	}

	dev, err := s.resolveDevice(deviceIndex)
	if err != nil {
		return err
	}
	if channels <= 0 || channels > dev.MaxInputChannels {
		return fmt.Errorf("%w: %q supports %d input channels, requested %d", ErrInvalidDevice, dev.Name, dev.MaxInputChannels, channels)
	}
	native := int(dev.DefaultSampleRate)
	if native <= 0 {
		return fmt.Errorf("%w: %q reports no native sample rate", ErrInvalidDevice, dev.Name)
	}

	if err := filter.ConfigureForTarget(s.chain, native, channels, sampleRate); err != nil {
		return fmt.Errorf("failed to configure filter chain: %w", err)
	}

	stream, err := s.backend.Open(dev, StreamParams{
		Channels:        channels,
		SampleRate:      dev.DefaultSampleRate,
		FramesPerBuffer: s.opts.FramesPerBuffer,
		LowLatency:      s.opts.LowLatency,
	})
	if err != nil {
		return fmt.Errorf("failed to open %q: %w", dev.Name, err)
	}

	s.device = dev
	s.native = native
	s.channels = channels

	if err := stream.Start(s.process); err != nil {
		_ = stream.Close()
		return fmt.Errorf("failed to start %q: %w", dev.Name, err)
	}
	s.stream = stream
	s.running.Store(true)
	s.log.Infof("capturing from [%d] %s at %d Hz native, %d ch, output %d Hz",
		dev.Index, dev.Name, native, channels, s.chain.OutputRate())
	return nil
}

// process is the backend callback. It copies the buffer, runs the chain and
// pushes downstream; any panic is recovered here.
func (s *Source) process(in []int16) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.RecordCaptureError(context.Background(), "panic")
			s.log.Errorf("recovered from panic in callback: %v", r)
		}
	}()

	samples := make([]int16, len(in))
	copy(samples, in)
	block := pcm.New(samples, s.native, s.channels)

	out, err := s.chain.Process(block)
	if err != nil {
		s.metrics.RecordCaptureError(context.Background(), "chain")
		s.log.Errorf("filter chain: %v", err)
		return
	}
	s.metrics.CaptureBlocks.Add(context.Background(), 1)
	s.sink.Push(out)
}

// StopCapture aborts and closes the stream. Calling it again, or before
// StartCapture, is a no-op.
func (s *Source) StopCapture() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream == nil {
		return nil
	}
	stream := s.stream
	s.stream = nil
	s.running.Store(false)

	abortErr := stream.Abort()
	closeErr := stream.Close()
	if abortErr != nil {
		return fmt.Errorf("failed to abort stream: %w", abortErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close stream: %w", closeErr)
	}
	s.log.Infof("stopped capture from %s", s.device.Name)
	return nil
}

// Running reports whether a stream is open.
func (s *Source) Running() bool {
	return s.running.Load()
}

// Device returns the device opened by the last successful StartCapture.
func (s *Source) Device() (DeviceInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return DeviceInfo{}, ErrNotRunning
	}
	return s.device, nil
}
