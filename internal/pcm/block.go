// SPDX-License-Identifier: MIT
package pcm

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/go-audio/audio"
)

// BytesPerSample is the width of one signed 16-bit sample on the wire.
const BytesPerSample = 2

var ErrOddLength = errors.New("pcm: byte length is not a whole number of frames")

// Block is a buffer of interleaved signed 16-bit samples tagged with its
// sample rate and channel count. Blocks are treated as immutable once handed
// to a filter or sink: transforms allocate a new Block.
type Block struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// New wraps samples without copying.
func New(samples []int16, sampleRate, channels int) Block {
	return Block{Samples: samples, SampleRate: sampleRate, Channels: channels}
}

// Frames returns the number of sample frames (samples per channel).
func (b Block) Frames() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// ByteLen returns frames × channels × 2.
func (b Block) ByteLen() int {
	return b.Frames() * b.Channels * BytesPerSample
}

// Clone returns a deep copy of the block.
func (b Block) Clone() Block {
	s := make([]int16, len(b.Samples))
	copy(s, b.Samples)
	return Block{Samples: s, SampleRate: b.SampleRate, Channels: b.Channels}
}

// Bytes encodes the block as little-endian int16.
func (b Block) Bytes() []byte {
	return AppendBytes(make([]byte, 0, len(b.Samples)*BytesPerSample), b.Samples)
}

// AppendBytes appends the little-endian encoding of samples to dst.
func AppendBytes(dst []byte, samples []int16) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s))
	}
	return dst
}

// FromBytes decodes little-endian int16 samples. The byte length must be a
// whole number of frames.
func FromBytes(p []byte, sampleRate, channels int) (Block, error) {
	if channels <= 0 {
		return Block{}, fmt.Errorf("pcm: invalid channel count %d", channels)
	}
	if len(p)%(channels*BytesPerSample) != 0 {
		return Block{}, fmt.Errorf("%w: %d bytes, %d channels", ErrOddLength, len(p), channels)
	}
	return Block{Samples: DecodeSamples(nil, p), SampleRate: sampleRate, Channels: channels}, nil
}

// DecodeSamples appends the int16 samples encoded in p to dst. A trailing odd
// byte is ignored.
func DecodeSamples(dst []int16, p []byte) []int16 {
	n := len(p) / BytesPerSample
	if cap(dst)-len(dst) < n {
		grown := make([]int16, len(dst), len(dst)+n)
		copy(grown, dst)
		dst = grown
	}
	for i := 0; i < n; i++ {
		dst = append(dst, int16(binary.LittleEndian.Uint16(p[i*BytesPerSample:])))
	}
	return dst
}

// FromIntBuffer converts a go-audio buffer to a 16-bit block, rescaling from
// the buffer's source bit depth.
func FromIntBuffer(buf *audio.IntBuffer) Block {
	if buf == nil || buf.Format == nil {
		return Block{}
	}
	depth := buf.SourceBitDepth
	if depth == 0 {
		depth = 16
	}
	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		switch {
		case depth > 16:
			v >>= uint(depth - 16)
		case depth == 8:
			// 8-bit WAV is unsigned.
			v = (v - 128) << 8
		case depth < 16:
			v <<= uint(16 - depth)
		}
		samples[i] = Clip16(v)
	}
	return Block{Samples: samples, SampleRate: buf.Format.SampleRate, Channels: buf.Format.NumChannels}
}

// Clip16 saturates v to the int16 range.
func Clip16(v int) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// ClipFloat rounds v to the nearest integer and saturates to int16.
func ClipFloat(v float64) int16 {
	if v >= 0 {
		v += 0.5
	} else {
		v -= 0.5
	}
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
