// SPDX-License-Identifier: MIT
package capture

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

// Seams over the PortAudio package so enumeration can be tested without
// hardware.
var (
	paInitializeFunc   = portaudio.Initialize
	paTerminateFunc    = portaudio.Terminate
	paDevicesFunc      = portaudio.Devices
	paHostApisFunc     = portaudio.HostApis
	paDefaultInputFunc = portaudio.DefaultInputDevice
)

// PortAudioBackend captures from hardware through PortAudio. It must be
// closed to release the PortAudio subsystem.
type PortAudioBackend struct {
	mu          sync.Mutex
	initialized bool
}

var _ Backend = (*PortAudioBackend)(nil)

// NewPortAudioBackend initializes PortAudio.
func NewPortAudioBackend() (*PortAudioBackend, error) {
	if err := paInitializeFunc(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &PortAudioBackend{initialized: true}, nil
}

// Close terminates PortAudio. Safe to call more than once.
func (b *PortAudioBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return nil
	}
	b.initialized = false
	if err := paTerminateFunc(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return nil
}

// Devices lists every PortAudio device. PortAudio snapshots the device list
// at Initialize, so refresh re-initializes the library to pick up hot-plugged
// hardware.
func (b *PortAudioBackend) Devices(refresh bool) ([]DeviceInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if refresh && b.initialized {
		if err := paTerminateFunc(); err != nil {
			return nil, fmt.Errorf("failed to terminate PortAudio for refresh: %w", err)
		}
		b.initialized = false
		if err := paInitializeFunc(); err != nil {
			return nil, fmt.Errorf("failed to re-initialize PortAudio: %w", err)
		}
		b.initialized = true
	}

	devices, err := paDevicesFunc()
	if err != nil {
		return nil, err
	}
	apis, err := paHostApisFunc()
	if err != nil {
		return nil, err
	}

	out := make([]DeviceInfo, len(devices))
	for i, d := range devices {
		out[i] = fromPortAudio(d, apis)
	}
	return out, nil
}

func (b *PortAudioBackend) DefaultInputDevice() (DeviceInfo, error) {
	d, err := paDefaultInputFunc()
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("%w: no default input device: %v", ErrInvalidDevice, err)
	}
	apis, err := paHostApisFunc()
	if err != nil {
		return DeviceInfo{}, err
	}
	return fromPortAudio(d, apis), nil
}

func fromPortAudio(d *portaudio.DeviceInfo, apis []*portaudio.HostApiInfo) DeviceInfo {
	info := DeviceInfo{
		Index:                    d.Index,
		Name:                     d.Name,
		HostAPI:                  -1,
		MaxInputChannels:         d.MaxInputChannels,
		MaxOutputChannels:        d.MaxOutputChannels,
		DefaultLowInputLatency:   d.DefaultLowInputLatency,
		DefaultHighInputLatency:  d.DefaultHighInputLatency,
		DefaultLowOutputLatency:  d.DefaultLowOutputLatency,
		DefaultHighOutputLatency: d.DefaultHighOutputLatency,
		DefaultSampleRate:        d.DefaultSampleRate,
	}
	if d.HostApi != nil {
		info.HostAPIName = d.HostApi.Name
		for i, api := range apis {
			if api == d.HostApi {
				info.HostAPI = i
				break
			}
		}
	}
	return info
}

func (b *PortAudioBackend) Open(dev DeviceInfo, p StreamParams) (Stream, error) {
	devices, err := paDevicesFunc()
	if err != nil {
		return nil, err
	}
	if dev.Index < 0 || dev.Index >= len(devices) {
		return nil, fmt.Errorf("%w: index %d", ErrInvalidDevice, dev.Index)
	}
	paDev := devices[dev.Index]

	framesPerBuffer := p.FramesPerBuffer
	if framesPerBuffer <= 0 {
		framesPerBuffer = portaudio.FramesPerBufferUnspecified
	}
	latency := paDev.DefaultHighInputLatency
	if p.LowLatency {
		latency = paDev.DefaultLowInputLatency
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   paDev,
			Channels: p.Channels,
			Latency:  latency,
		},
		Output: portaudio.StreamDeviceParameters{
			Device:   nil, // Input only
			Channels: 0,
		},
		SampleRate:      p.SampleRate,
		FramesPerBuffer: framesPerBuffer,
	}

	s := &paStream{}
	stream, err := portaudio.OpenStream(params, s.process)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream on %q: %w", paDev.Name, err)
	}
	s.stream = stream
	return s, nil
}

// paStream adapts a PortAudio callback stream to Stream. PortAudio binds
// the callback at open time, so the user callback is installed on Start.
type paStream struct {
	stream *portaudio.Stream
	cb     atomic.Pointer[Callback]
}

func (s *paStream) process(in []int16) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if cb := s.cb.Load(); cb != nil {
		(*cb)(in)
	}
}

func (s *paStream) Start(cb Callback) error {
	s.cb.Store(&cb)
	return s.stream.Start()
}

func (s *paStream) Abort() error {
	return s.stream.Abort()
}

func (s *paStream) Close() error {
	s.cb.Store(nil)
	return s.stream.Close()
}
