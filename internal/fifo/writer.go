//go:build unix

// SPDX-License-Identifier: MIT
package fifo

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	applog "audiopipe/internal/log"
	"audiopipe/internal/observe"
)

// midFrameStall bounds how long a started frame may wait for pipe space.
const midFrameStall = 2 * time.Second

// Writer writes whole frames to a channel through a non-blocking descriptor.
// The pipe is opened lazily and reopened after the reader goes away, so the
// producer never blocks waiting for a consumer process.
type Writer struct {
	ch      Channel
	timeout time.Duration
	log     *applog.Logger

	mu        sync.Mutex
	fd        int
	closed    bool
	connected bool
}

// NewWriter returns a writer that waits at most timeout for pipe space.
func (c Channel) NewWriter(timeout time.Duration) *Writer {
	return &Writer{
		ch:      c,
		timeout: timeout,
		fd:      -1,
		log:     applog.New("FIFOWriter[" + c.Name() + "]"),
	}
}

func (w *Writer) open() error {
	fd, err := unix.Open(w.ch.path, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		switch {
		case errors.Is(err, unix.ENXIO):
			return ErrNoReader
		case errors.Is(err, unix.ENOENT):
			return fmt.Errorf("%w: %s", ErrMissing, w.ch.path)
		default:
			return fmt.Errorf("failed to open %s: %w", w.ch.path, err)
		}
	}
	w.fd = fd
	return nil
}

func (w *Writer) closeFD() {
	if w.fd >= 0 {
		_ = unix.Close(w.fd)
		w.fd = -1
	}
}

func (w *Writer) setConnected(c bool) {
	if c == w.connected {
		return
	}
	w.connected = c
	if c {
		w.log.Infof("reader attached")
	} else {
		w.log.Infof("reader detached, dropping frames until one attaches")
	}
}

// WriteFrame writes p, which must be exactly one frame.
//
// A frame is dropped, with nothing written, when no reader is attached
// (ErrNoReader) or when the pipe stays full for the write timeout
// (ErrPipeFull). Once any byte of a frame has been written the writer keeps
// going past the timeout, for up to midFrameStall. If the frame still cannot
// be finished the descriptor is closed, so the reader sees end of file and
// discards the partial frame instead of slipping.
func (w *Writer) WriteFrame(p []byte) error {
	if len(p) != w.ch.frameSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrFrameSize, len(p), w.ch.frameSize)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if w.fd < 0 {
		if err := w.open(); err != nil {
			if errors.Is(err, ErrNoReader) {
				w.setConnected(false)
			}
			return err
		}
	}

	start := time.Now()
	deadline := start.Add(w.timeout)
	written := 0
	for written < len(p) {
		n, err := unix.Write(w.fd, p[written:])
		if n > 0 {
			written += n
			continue
		}
		switch {
		case err == nil:
			continue
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			wait := time.Until(deadline)
			if written == 0 && wait <= 0 {
				return ErrPipeFull
			}
			if written > 0 {
				if time.Since(start) >= midFrameStall {
					w.closeFD()
					return fmt.Errorf("%w: abandoned frame after %d of %d bytes", ErrPipeFull, written, len(p))
				}
				if wait < 100*time.Millisecond {
					wait = 100 * time.Millisecond
				}
			}
			if err := w.waitWritable(wait); err != nil {
				if written > 0 {
					w.closeFD()
				}
				return err
			}
		case errors.Is(err, unix.EPIPE):
			w.closeFD()
			w.setConnected(false)
			return ErrNoReader
		default:
			// Closing also covers a partial frame: the reader resyncs on EOF.
			w.closeFD()
			return fmt.Errorf("failed to write %s: %w", w.ch.path, err)
		}
	}
	w.setConnected(true)
	return nil
}

func (w *Writer) waitWritable(d time.Duration) error {
	fds := []unix.PollFd{{Fd: int32(w.fd), Events: unix.POLLOUT}}
	ms := int(d / time.Millisecond)
	if ms <= 0 {
		ms = 1
	}
	for {
		_, err := unix.Poll(fds, ms)
		if err == nil {
			return nil
		}
		if !errors.Is(err, unix.EINTR) {
			return fmt.Errorf("failed to poll %s: %w", w.ch.path, err)
		}
	}
}

// Close releases the descriptor. Further writes return ErrClosed.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.closeFD()
	return nil
}

// NewPublisher creates a publisher for ch that writes through w. depth
// bounds the number of queued frames.
func NewPublisher(ch Channel, depth int, w *Writer, m *observe.Metrics) (*Publisher, error) {
	if w == nil {
		return nil, fmt.Errorf("Publisher: writer cannot be nil")
	}
	return newPublisher(ch.Name(), ch.FrameSize(), depth, w, m), nil
}
