// SPDX-License-Identifier: MIT

/*
Package capture turns an audio input device into a stream of filtered
pcm.Blocks.

A Backend enumerates devices and opens Streams. A Stream pushes raw
interleaved int16 samples into a single Callback on the backend's own
thread. Source owns one Stream, runs every callback through the filter
chain and hands the result to a Sink. Nothing raised inside the callback
reaches the backend thread.
*/
package capture

import "errors"

var (
	ErrInvalidDevice  = errors.New("capture: invalid device")
	ErrNotRunning     = errors.New("capture: not running")
	ErrAlreadyRunning = errors.New("capture: already running")
)

// Callback receives one buffer of interleaved samples. The slice is only
// valid for the duration of the call.
type Callback func(in []int16)

// Stream is an opened input stream.
type Stream interface {
	// Start begins delivering buffers to cb.
	Start(cb Callback) error
	// Abort stops the stream immediately, discarding pending buffers.
	Abort() error
	// Close releases the stream. It must not be used afterwards.
	Close() error
}

// StreamParams describes how to open a Stream.
type StreamParams struct {
	Channels        int
	SampleRate      float64
	FramesPerBuffer int  // 0 lets the backend choose
	LowLatency      bool // Use the device's low input latency
}

// Backend is an audio host: hardware via PortAudio, a WAV file, or a fake.
type Backend interface {
	// Devices lists every device. refresh forces re-enumeration.
	Devices(refresh bool) ([]DeviceInfo, error)
	// DefaultInputDevice returns the host's default capture device.
	DefaultInputDevice() (DeviceInfo, error)
	// Open prepares a stream on dev. The stream is not started.
	Open(dev DeviceInfo, p StreamParams) (Stream, error)
}
