// SPDX-License-Identifier: MIT
package fifo

// Framer slices an arbitrary byte stream into frames of exactly frameSize
// bytes, holding any remainder until the next Write. Not safe for
// concurrent use.
type Framer struct {
	frameSize int
	pending   []byte
}

func NewFramer(frameSize int) *Framer {
	return &Framer{frameSize: frameSize, pending: make([]byte, 0, frameSize)}
}

// Write appends p and calls emit once per completed frame. The frame passed
// to emit is freshly allocated and owned by the callee.
func (f *Framer) Write(p []byte, emit func(frame []byte)) {
	for len(p) > 0 {
		need := f.frameSize - len(f.pending)
		if len(f.pending) == 0 && len(p) >= f.frameSize {
			frame := make([]byte, f.frameSize)
			copy(frame, p[:f.frameSize])
			p = p[f.frameSize:]
			emit(frame)
			continue
		}
		if need > len(p) {
			need = len(p)
		}
		f.pending = append(f.pending, p[:need]...)
		p = p[need:]
		if len(f.pending) == f.frameSize {
			frame := make([]byte, f.frameSize)
			copy(frame, f.pending)
			f.pending = f.pending[:0]
			emit(frame)
		}
	}
}

// Pending returns the number of buffered bytes not yet forming a frame.
func (f *Framer) Pending() int {
	return len(f.pending)
}

// Reset drops buffered bytes.
func (f *Framer) Reset() {
	f.pending = f.pending[:0]
}
