// SPDX-License-Identifier: MIT
package fifo

import (
	"io"
	"sync"
)

// Sink receives whole frames from a Reader. The frame is owned by the sink.
type Sink interface {
	Consume(frame []byte) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(frame []byte) error

func (f SinkFunc) Consume(frame []byte) error { return f(frame) }

// WriterSink copies frames to an io.Writer, e.g. stdout feeding an
// inference process.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Consume(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.w.Write(frame)
	return err
}

var (
	_ Sink = SinkFunc(nil)
	_ Sink = (*WriterSink)(nil)
)
