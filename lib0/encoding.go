// Package lib0 implements the binary primitives of the v1 update format:
// variable length integers, length prefixed strings and byte arrays, IEEE
// floats and the tagged Any value encoding.
package lib0

import (
	"encoding/binary"
	"math"
)

const (
	bit7  = 0x40
	bit8  = 0x80
	bits6 = 0x3F
	bits7 = 0x7F
)

// Encoder appends encoded values to an in-memory buffer.
type Encoder struct {
	buf []byte
}

// NewEncoder creates an empty encoder.
func NewEncoder() *Encoder {
	return &Encoder{buf: make([]byte, 0, 64)}
}

// Bytes returns the encoded bytes. The slice aliases the encoder buffer.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Len returns the number of bytes written so far.
func (e *Encoder) Len() int {
	return len(e.buf)
}

// WriteUint8 writes a single byte.
func (e *Encoder) WriteUint8(b uint8) {
	e.buf = append(e.buf, b)
}

// WriteVarUint writes an unsigned integer using 7 bits per byte, least
// significant group first.
func (e *Encoder) WriteVarUint(n uint64) {
	e.buf = binary.AppendUvarint(e.buf, n)
}

// WriteVarInt writes a signed integer. The first byte carries a continuation
// bit, a sign bit and 6 bits of the magnitude; the following bytes carry 7
// bits each.
func (e *Encoder) WriteVarInt(n int64) {
	neg := n < 0
	u := uint64(n)
	if neg {
		u = uint64(-n)
	}
	b := byte(u & bits6)
	if neg {
		b |= bit7
	}
	if u > bits6 {
		b |= bit8
	}
	e.buf = append(e.buf, b)
	u >>= 6
	for u > 0 {
		b = byte(u & bits7)
		if u > bits7 {
			b |= bit8
		}
		e.buf = append(e.buf, b)
		u >>= 7
	}
}

// WriteVarString writes the UTF-8 bytes of s prefixed with their length.
func (e *Encoder) WriteVarString(s string) {
	e.WriteVarUint(uint64(len(s)))
	e.buf = append(e.buf, s...)
}

// WriteVarUint8Array writes b prefixed with its length.
func (e *Encoder) WriteVarUint8Array(b []byte) {
	e.WriteVarUint(uint64(len(b)))
	e.buf = append(e.buf, b...)
}

// WriteUint8Array writes raw bytes without a length prefix.
func (e *Encoder) WriteUint8Array(b []byte) {
	e.buf = append(e.buf, b...)
}

// WriteFloat32 writes a big-endian IEEE 754 single.
func (e *Encoder) WriteFloat32(f float32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, math.Float32bits(f))
}

// WriteFloat64 writes a big-endian IEEE 754 double.
func (e *Encoder) WriteFloat64(f float64) {
	e.buf = binary.BigEndian.AppendUint64(e.buf, math.Float64bits(f))
}

// WriteBigInt64 writes a big-endian two's complement 64 bit integer.
func (e *Encoder) WriteBigInt64(n int64) {
	e.buf = binary.BigEndian.AppendUint64(e.buf, uint64(n))
}
