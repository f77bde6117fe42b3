// SPDX-License-Identifier: MIT
package spectrogram

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

/*
Spectrogram frame (BigEndian)

+-----------------------------------------------------------------------------+
| Field             | Data Type      | Size (Bytes) | Description             |
|-------------------|----------------|--------------|-------------------------|
| Sequence Number   | uint32         | 4            | Monotonically increasing|
| Timestamp         | int64          | 8            | Nanoseconds since epoch |
| Bin Count         | uint16         | 2            | Magnitudes per column(B)|
| Column Count      | uint16         | 2            | Columns in this frame(C)|
| Sample Rate       | uint32         | 4            | Hz, for bin frequencies |
| Magnitudes        | []float32      | C * B * 4    | dBFS, column-major      |
+-----------------------------------------------------------------------------+
*/

const headerSize = 4 + 8 + 2 + 2 + 4

var ErrShortFrame = errors.New("spectrogram: frame too short")

// Frame is one published batch of columns.
type Frame struct {
	Seq        uint32
	Timestamp  int64
	SampleRate uint32
	Bins       int
	Columns    [][]float32
}

// AppendFrame encodes f onto dst. Every column must have f.Bins values.
func AppendFrame(dst []byte, f Frame) ([]byte, error) {
	if f.Bins > math.MaxUint16 || len(f.Columns) > math.MaxUint16 {
		return dst, fmt.Errorf("frame too large: %d bins x %d columns", f.Bins, len(f.Columns))
	}
	dst = binary.BigEndian.AppendUint32(dst, f.Seq)
	dst = binary.BigEndian.AppendUint64(dst, uint64(f.Timestamp))
	dst = binary.BigEndian.AppendUint16(dst, uint16(f.Bins))
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(f.Columns)))
	dst = binary.BigEndian.AppendUint32(dst, f.SampleRate)
	for i, col := range f.Columns {
		if len(col) != f.Bins {
			return dst, fmt.Errorf("column %d has %d bins, want %d", i, len(col), f.Bins)
		}
		for _, v := range col {
			dst = binary.BigEndian.AppendUint32(dst, math.Float32bits(v))
		}
	}
	return dst, nil
}

// ParseFrame decodes a frame produced by AppendFrame.
func ParseFrame(p []byte) (Frame, error) {
	if len(p) < headerSize {
		return Frame{}, ErrShortFrame
	}
	f := Frame{
		Seq:        binary.BigEndian.Uint32(p[0:]),
		Timestamp:  int64(binary.BigEndian.Uint64(p[4:])),
		Bins:       int(binary.BigEndian.Uint16(p[12:])),
		SampleRate: binary.BigEndian.Uint32(p[16:]),
	}
	cols := int(binary.BigEndian.Uint16(p[14:]))
	body := p[headerSize:]
	if len(body) != cols*f.Bins*4 {
		return Frame{}, fmt.Errorf("%w: %d payload bytes for %d x %d", ErrShortFrame, len(body), cols, f.Bins)
	}
	f.Columns = make([][]float32, cols)
	for c := range f.Columns {
		col := make([]float32, f.Bins)
		for b := range col {
			col[b] = math.Float32frombits(binary.BigEndian.Uint32(body))
			body = body[4:]
		}
		f.Columns[c] = col
	}
	return f, nil
}
