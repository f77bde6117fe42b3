// SPDX-License-Identifier: MIT

/*
Package fifo moves fixed-size PCM frames between processes over named pipes.

A pipe carries no length prefix, so a Channel pairs the pipe path with the
frame size both ends must agree on. The writer refuses any other size and
the reader only ever dispatches whole frames.

	capture ── Bus ─┬─ Publisher ── Writer ──► audio_analysis.fifo   ──► Reader ──► sinks
	                └─ Publisher ── Writer ──► audio_livestream.fifo ──► Reader ──► sinks
*/
package fifo

import (
	"errors"
	"fmt"
	"path/filepath"
)

const (
	AnalysisName   = "audio_analysis.fifo"
	LivestreamName = "audio_livestream.fifo"
)

var (
	ErrFrameSize = errors.New("fifo: frame size mismatch")
	ErrMissing   = errors.New("fifo: named pipe does not exist")
	ErrNotFIFO   = errors.New("fifo: path exists and is not a named pipe")
	ErrNoReader  = errors.New("fifo: no reader attached")
	ErrPipeFull  = errors.New("fifo: pipe full")
	ErrClosed    = errors.New("fifo: closed")
)

// AnalysisPath returns the analysis pipe under base.
func AnalysisPath(base string) string {
	return filepath.Join(base, AnalysisName)
}

// LivestreamPath returns the livestream pipe under base.
func LivestreamPath(base string) string {
	return filepath.Join(base, LivestreamName)
}

// Channel is a named pipe with an agreed frame size.
type Channel struct {
	path      string
	frameSize int
}

// NewChannel rejects frame sizes <= 0.
func NewChannel(path string, frameSize int) (Channel, error) {
	if frameSize <= 0 {
		return Channel{}, fmt.Errorf("%w: frame size must be positive, got %d", ErrFrameSize, frameSize)
	}
	if path == "" {
		return Channel{}, errors.New("fifo: empty path")
	}
	return Channel{path: path, frameSize: frameSize}, nil
}

func (c Channel) Path() string   { return c.path }
func (c Channel) FrameSize() int { return c.frameSize }

// Name is the pipe's base name, used to label logs and metrics.
func (c Channel) Name() string { return filepath.Base(c.path) }
