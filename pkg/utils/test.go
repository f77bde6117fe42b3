// SPDX-License-Identifier: MIT

// Package utils holds signal generators and recording fakes shared by tests.
package utils

import (
	"context"
	"errors"
	"math"
	"sync"
)

// GenerateSineWave returns size mono int16 samples of a sine at 90% of full scale.
func GenerateSineWave(size int, sampleRate, frequency float64) []int16 {
	buffer := make([]int16, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = int16(math.Sin(2*math.Pi*frequency*t) * math.MaxInt16 * 0.9)
	}
	return buffer
}

// GenerateComplexWave returns a 440 Hz fundamental with two harmonics.
func GenerateComplexWave(size int, sampleRate float64) []int16 {
	buffer := make([]int16, size)
	for i := range buffer {
		tm := float64(i) / sampleRate
		signal := math.Sin(2*math.Pi*440*tm)*0.5 +
			math.Sin(2*math.Pi*880*tm)*0.3 +
			math.Sin(2*math.Pi*1320*tm)*0.2
		buffer[i] = int16(signal * math.MaxInt16 * 0.9)
	}
	return buffer
}

// Interleave duplicates a mono signal across channels.
func Interleave(mono []int16, channels int) []int16 {
	out := make([]int16, len(mono)*channels)
	for i, s := range mono {
		for c := 0; c < channels; c++ {
			out[i*channels+c] = s
		}
	}
	return out
}

// RMS returns the root mean square of samples.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// FindPeakBin returns the index of the largest magnitude in [startBin, endBin].
func FindPeakBin(magnitudes []float64, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}
	if startBin < 0 {
		startBin = 0
	}
	if endBin >= len(magnitudes) {
		endBin = len(magnitudes) - 1
	}

	peakBin := startBin
	peakValue := magnitudes[startBin]
	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > peakValue {
			peakValue = magnitudes[bin]
			peakBin = bin
		}
	}
	return peakBin
}

// ErrMockFailure is returned by a failing MockSubscriber.
var ErrMockFailure = errors.New("mock subscriber failure")

// MockSubscriber records every message it is sent. With Fail set, Send
// returns ErrMockFailure. With Hold set, Send blocks until Hold is closed
// or the context ends.
type MockSubscriber struct {
	Name string
	Fail bool
	Hold <-chan struct{}

	mu       sync.Mutex
	messages [][]byte
	closed   int
}

func (m *MockSubscriber) ID() string { return m.Name }

// Send stores a copy of msg for later inspection.
func (m *MockSubscriber) Send(ctx context.Context, msg []byte) error {
	if m.Hold != nil {
		select {
		case <-m.Hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.Fail {
		return ErrMockFailure
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := make([]byte, len(msg))
	copy(c, msg)
	m.messages = append(m.messages, c)
	return nil
}

func (m *MockSubscriber) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

// Messages returns the recorded messages.
func (m *MockSubscriber) Messages() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.messages))
	copy(out, m.messages)
	return out
}

// Closed returns how many times Close was called.
func (m *MockSubscriber) Closed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// RecordingSink collects frames passed to Consume.
type RecordingSink struct {
	mu     sync.Mutex
	frames [][]byte
	Err    error
}

func (r *RecordingSink) Consume(frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
	return r.Err
}

// Frames returns the collected frames.
func (r *RecordingSink) Frames() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.frames))
	copy(out, r.frames)
	return out
}

// Bytes returns all collected frames concatenated.
func (r *RecordingSink) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []byte
	for _, f := range r.frames {
		out = append(out, f...)
	}
	return out
}
