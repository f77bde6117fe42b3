// SPDX-License-Identifier: MIT
package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	applog "audiopipe/internal/log"
	"audiopipe/internal/pcm"
)

// WAVBackend replays a WAV file as a single input device, paced at real
// time. It lets the whole pipeline run without audio hardware.
type WAVBackend struct {
	Path string
	Loop bool // Rewind at end of file instead of going silent

	// Pace overrides real-time pacing. Zero means buffer duration.
	Pace time.Duration
}

var _ Backend = (*WAVBackend)(nil)

func NewWAVBackend(path string, loop bool) *WAVBackend {
	return &WAVBackend{Path: path, Loop: loop}
}

func (b *WAVBackend) probe() (DeviceInfo, error) {
	f, err := os.Open(b.Path)
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("failed to open wav source: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return DeviceInfo{}, fmt.Errorf("%w: %s is not a valid wav file", ErrInvalidDevice, b.Path)
	}
	return DeviceInfo{
		Index:             0,
		Name:              filepath.Base(b.Path),
		HostAPI:           0,
		HostAPIName:       "wav",
		MaxInputChannels:  int(dec.NumChans),
		DefaultSampleRate: float64(dec.SampleRate),
	}, nil
}

// Devices returns the file as the only device. refresh has no effect; the
// header is read on every call.
func (b *WAVBackend) Devices(bool) ([]DeviceInfo, error) {
	d, err := b.probe()
	if err != nil {
		return nil, err
	}
	return []DeviceInfo{d}, nil
}

func (b *WAVBackend) DefaultInputDevice() (DeviceInfo, error) {
	return b.probe()
}

func (b *WAVBackend) Open(dev DeviceInfo, p StreamParams) (Stream, error) {
	if dev.Index != 0 {
		return nil, fmt.Errorf("%w: index %d", ErrInvalidDevice, dev.Index)
	}
	f, err := os.Open(b.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open wav source: %w", err)
	}
	dec := wav.NewDecoder(f)
	if err := dec.FwdToPCM(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to seek to pcm data: %w", err)
	}
	if float64(dec.SampleRate) != p.SampleRate {
		f.Close()
		return nil, fmt.Errorf("%w: wav source is %d Hz, stream requested %.0f Hz", ErrInvalidDevice, dec.SampleRate, p.SampleRate)
	}

	frames := p.FramesPerBuffer
	if frames <= 0 {
		frames = 1024
	}
	pace := b.Pace
	if pace == 0 {
		pace = time.Duration(float64(frames) / p.SampleRate * float64(time.Second))
	}
	fileCh := int(dec.NumChans)
	return &wavStream{
		file:     f,
		dec:      dec,
		loop:     b.Loop,
		frames:   frames,
		channels: p.Channels,
		fileCh:   fileCh,
		pace:     pace,
		buf: &audio.IntBuffer{
			Format: &audio.Format{NumChannels: fileCh, SampleRate: int(dec.SampleRate)},
			Data:   make([]int, frames*fileCh),
		},
		out:  make([]int16, frames*p.Channels),
		log:  applog.New("WAVStream"),
		done: make(chan struct{}),
	}, nil
}

type wavStream struct {
	file     *os.File
	dec      *wav.Decoder
	loop     bool
	frames   int
	channels int
	fileCh   int
	pace     time.Duration
	buf      *audio.IntBuffer
	out      []int16
	log      *applog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	stop    chan struct{}
	done    chan struct{}
}

func (s *wavStream) Start(cb Callback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("wav stream already started")
	}
	s.started = true
	s.stop = make(chan struct{})
	go s.run(cb)
	return nil
}

func (s *wavStream) run(cb Callback) {
	defer close(s.done)
	ticker := time.NewTicker(s.pace)
	defer ticker.Stop()

	eof := false
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		if !eof {
			n, err := s.dec.PCMBuffer(s.buf)
			if err != nil {
				s.log.Errorf("read failed, stopping replay: %v", err)
				eof = true
			} else if n == 0 {
				if s.loop {
					if err := s.dec.Rewind(); err != nil {
						s.log.Errorf("rewind failed: %v", err)
						eof = true
					}
					continue
				}
				s.log.Infof("end of file reached, delivering silence")
				eof = true
			} else {
				s.mix(s.buf.Data[:n])
				// Pad a short final read with silence.
				for i := (n / s.fileCh) * s.channels; i < len(s.out); i++ {
					s.out[i] = 0
				}
			}
		}
		if eof {
			clear(s.out)
		}
		cb(s.out)
	}
}

// mix maps the file's channels onto the requested count: extra file
// channels are dropped, missing ones repeat the last file channel.
func (s *wavStream) mix(data []int) {
	block := pcm.FromIntBuffer(&audio.IntBuffer{Format: s.buf.Format, Data: data, SourceBitDepth: s.buf.SourceBitDepth})
	frames := len(block.Samples) / s.fileCh
	for f := 0; f < frames; f++ {
		for c := 0; c < s.channels; c++ {
			src := c
			if src >= s.fileCh {
				src = s.fileCh - 1
			}
			s.out[f*s.channels+c] = block.Samples[f*s.fileCh+src]
		}
	}
}

func (s *wavStream) halt() {
	s.mu.Lock()
	if s.started && !s.stopped {
		s.stopped = true
		close(s.stop)
	}
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.done
	}
}

func (s *wavStream) Abort() error {
	s.halt()
	return nil
}

func (s *wavStream) Close() error {
	s.halt()
	return s.file.Close()
}
