// SPDX-License-Identifier: MIT
package livestream

import (
	"encoding/binary"
	"fmt"
	"sync"

	"layeh.com/gopus"

	"audiopipe/internal/config"
	"audiopipe/internal/pcm"
)

// Encoder turns a chunk of little-endian int16 PCM into the bytes sent to
// subscribers. Encoders may keep state between chunks.
type Encoder interface {
	Encode(raw []byte) ([]byte, error)
	ContentType() string
}

// NewEncoder builds the encoder named by cfg.Codec.
func NewEncoder(cfg config.LivestreamConfig, sampleRate, channels int) (Encoder, error) {
	switch cfg.Codec {
	case config.CodecOpus:
		return NewOpusEncoder(sampleRate, channels, cfg.Bitrate)
	case config.CodecPCM:
		return PCMEncoder{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", cfg.Codec)
	}
}

// PCMEncoder forwards the chunk unchanged.
type PCMEncoder struct{}

func (PCMEncoder) Encode(raw []byte) ([]byte, error) {
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

func (PCMEncoder) ContentType() string { return "audio/L16" }

const (
	opusFrameMs   = 20
	maxOpusPacket = 4000
)

/*
Opus chunk layout (BigEndian), one entry per 20 ms packet:

	|<-- 2 Bytes -->|<---- N Bytes ---->|<-- 2 Bytes -->|<---- M Bytes ---->| ...
	+---------------+-------------------+---------------+-------------------+
	|  Length (N)   |   Opus packet     |  Length (M)   |   Opus packet     | ...
	|   (uint16)    |                   |   (uint16)    |                   |
	+---------------+-------------------+---------------+-------------------+

Samples that do not fill a whole 20 ms frame are carried into the next chunk,
so a chunk may hold zero packets.
*/

// OpusEncoder packs PCM into length-prefixed 20 ms Opus packets.
type OpusEncoder struct {
	mu        sync.Mutex
	enc       *gopus.Encoder
	channels  int
	frameSize int // samples per channel per packet
	residual  []int16
}

// NewOpusEncoder accepts the rates Opus supports: 8, 12, 16, 24 or 48 kHz.
func NewOpusEncoder(sampleRate, channels, bitrate int) (*OpusEncoder, error) {
	enc, err := gopus.NewEncoder(sampleRate, channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	if bitrate > 0 {
		enc.SetBitrate(bitrate)
	}
	frameSize := sampleRate * opusFrameMs / 1000
	return &OpusEncoder{
		enc:       enc,
		channels:  channels,
		frameSize: frameSize,
		residual:  make([]int16, 0, 2*frameSize*channels),
	}, nil
}

func (e *OpusEncoder) Encode(raw []byte) ([]byte, error) {
	if len(raw)%pcm.BytesPerSample != 0 {
		return nil, fmt.Errorf("%w: %d bytes", pcm.ErrOddLength, len(raw))
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.residual = pcm.DecodeSamples(e.residual, raw)
	step := e.frameSize * e.channels
	var out []byte
	consumed := 0
	for len(e.residual)-consumed >= step {
		packet, err := e.enc.Encode(e.residual[consumed:consumed+step], e.frameSize, maxOpusPacket)
		if err != nil {
			e.residual = e.residual[:0]
			return nil, fmt.Errorf("opus encode: %w", err)
		}
		out = binary.BigEndian.AppendUint16(out, uint16(len(packet)))
		out = append(out, packet...)
		consumed += step
	}
	e.residual = append(e.residual[:0], e.residual[consumed:]...)
	return out, nil
}

// Pending returns the number of buffered samples not yet encoded.
func (e *OpusEncoder) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.residual)
}

func (e *OpusEncoder) ContentType() string { return "audio/opus" }

var (
	_ Encoder = PCMEncoder{}
	_ Encoder = (*OpusEncoder)(nil)
)
