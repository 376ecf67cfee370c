package ledger

import (
	"bytes"
	"encoding/binary"
	"math/bits"
)

// scaleEncoder writes the subset of the SCALE codec needed to build a
// run_process extrinsic.
type scaleEncoder struct {
	buf bytes.Buffer
}

func (e *scaleEncoder) u8(v uint8) {
	e.buf.WriteByte(v)
}

func (e *scaleEncoder) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

// u128 writes a non-negative token id as a little-endian 128-bit integer.
func (e *scaleEncoder) u128(v int64) {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[:8], uint64(v))
	e.buf.Write(b[:])
}

func (e *scaleEncoder) compact(v uint64) {
	switch {
	case v < 1<<6:
		e.buf.WriteByte(byte(v << 2))
	case v < 1<<14:
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(v<<2|0b01))
		e.buf.Write(b[:])
	case v < 1<<30:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(v<<2|0b10))
		e.buf.Write(b[:])
	default:
		n := (bits.Len64(v) + 7) / 8
		if n < 4 {
			n = 4
		}
		e.buf.WriteByte(byte((n-4)<<2 | 0b11))
		for i := 0; i < n; i++ {
			e.buf.WriteByte(byte(v >> (8 * i)))
		}
	}
}

// vec writes a length-prefixed byte vector.
func (e *scaleEncoder) vec(b []byte) {
	e.compact(uint64(len(b)))
	e.buf.Write(b)
}

func (e *scaleEncoder) raw(b []byte) {
	e.buf.Write(b)
}

func (e *scaleEncoder) Bytes() []byte {
	return e.buf.Bytes()
}
