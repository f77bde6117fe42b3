//go:build unix

// SPDX-License-Identifier: MIT
package fifo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	applog "audiopipe/internal/log"
)

const DefaultBackoff = 10 * time.Millisecond

// Reader reassembles fixed-size frames from a channel and hands each one to
// its sinks in order. It runs on a single goroutine; the only place it
// waits is the backoff sleep when the pipe has no data.
type Reader struct {
	ch      Channel
	backoff time.Duration
	sinks   []Sink
	log     *applog.Logger

	mu        sync.Mutex
	fd        int
	closeOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
	runErr    error

	resyncs atomic.Uint64
}

// NewReader returns a reader for c. A backoff <= 0 selects DefaultBackoff.
func (c Channel) NewReader(backoff time.Duration, sinks ...Sink) *Reader {
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	return &Reader{
		ch:      c,
		backoff: backoff,
		sinks:   sinks,
		fd:      -1,
		log:     applog.New("FIFOReader[" + c.Name() + "]"),
	}
}

func (r *Reader) open() error {
	fd, err := unix.Open(r.ch.path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return fmt.Errorf("%w: %s", ErrMissing, r.ch.path)
		}
		return fmt.Errorf("failed to open %s: %w", r.ch.path, err)
	}
	r.mu.Lock()
	r.fd = fd
	r.mu.Unlock()
	return nil
}

func (r *Reader) closeFD() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.fd >= 0 {
			_ = unix.Close(r.fd)
			r.fd = -1
		}
	})
}

// Run reads frames until ctx is cancelled. A missing pipe is logged and
// returned as ErrMissing without retrying.
//
// End of file means every writer has gone. A partial frame held at that
// point can never be completed by the next writer, so it is discarded and
// framing restarts at the next byte.
func (r *Reader) Run(ctx context.Context) error {
	if err := r.open(); err != nil {
		r.log.Errorf("cannot open pipe: %v", err)
		return err
	}
	defer r.closeFD()
	r.log.Infof("reading %d-byte frames from %s", r.ch.frameSize, r.ch.path)

	buf := make([]byte, r.ch.frameSize)
	filled := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := unix.Read(r.fd, buf[filled:])
		if n > 0 {
			filled += n
			if filled == len(buf) {
				r.dispatch(buf)
				filled = 0
			}
			continue
		}
		switch {
		case err == nil:
			if filled > 0 {
				r.resyncs.Add(1)
				r.log.Warnf("writer detached mid-frame, discarding %d of %d bytes", filled, len(buf))
				filled = 0
			}
		case errors.Is(err, unix.EAGAIN):
		case errors.Is(err, unix.EINTR):
			continue
		default:
			return fmt.Errorf("failed to read %s: %w", r.ch.path, err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.backoff):
		}
	}
}

// Resyncs returns how many partial frames were discarded because their
// writer went away.
func (r *Reader) Resyncs() uint64 {
	return r.resyncs.Load()
}

func (r *Reader) dispatch(frame []byte) {
	for _, s := range r.sinks {
		cp := make([]byte, len(frame))
		copy(cp, frame)
		if err := s.Consume(cp); err != nil {
			r.log.Errorf("sink error: %v", err)
		}
	}
}

// Start runs the reader on its own goroutine. Calling Start on a running
// reader is a no-op.
func (r *Reader) Start(ctx context.Context) {
	r.mu.Lock()
	if r.done != nil {
		r.mu.Unlock()
		r.log.Warnf("Start called but already running.")
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	done := make(chan struct{})
	r.done = done
	r.mu.Unlock()

	go func() {
		defer close(done)
		err := r.Run(ctx)
		r.mu.Lock()
		r.runErr = err
		r.mu.Unlock()
	}()
}

// Done is closed when the reader goroutine exits. Nil before Start.
func (r *Reader) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Err returns the error Run finished with, if any.
func (r *Reader) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runErr
}

// Stop cancels the reader and waits up to timeout for it to exit.
func (r *Reader) Stop(timeout time.Duration) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("reader %s did not stop within %s", r.ch.Name(), timeout)
	}
}

// Close stops the reader and releases the descriptor.
func (r *Reader) Close() error {
	err := r.Stop(2 * time.Second)
	if err == nil {
		r.closeFD()
	}
	return err
}
