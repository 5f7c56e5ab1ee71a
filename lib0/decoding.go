package lib0

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// ErrUnexpectedEOF is returned when the buffer ends in the middle of a value.
var ErrUnexpectedEOF = errors.New("unexpected end of buffer")

// ErrVarIntOverflow is returned when a variable length integer does not fit
// in 64 bits.
var ErrVarIntOverflow = errors.New("variable length integer overflows 64 bits")

// Decoder reads values written by Encoder.
type Decoder struct {
	buf []byte
	pos int
}

// NewDecoder creates a decoder over buf. The buffer is not copied.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// HasContent reports whether unread bytes remain.
func (d *Decoder) HasContent() bool {
	return d.pos < len(d.buf)
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.pos
}

// Pos returns the read offset.
func (d *Decoder) Pos() int {
	return d.pos
}

// ReadUint8 reads a single byte.
func (d *Decoder) ReadUint8() (uint8, error) {
	if d.pos >= len(d.buf) {
		return 0, ErrUnexpectedEOF
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

// ReadVarUint reads an unsigned variable length integer.
func (d *Decoder) ReadVarUint() (uint64, error) {
	n, size := binary.Uvarint(d.buf[d.pos:])
	if size == 0 {
		return 0, ErrUnexpectedEOF
	}
	if size < 0 {
		return 0, ErrVarIntOverflow
	}
	d.pos += size
	return n, nil
}

// ReadVarInt reads a signed variable length integer.
func (d *Decoder) ReadVarInt() (int64, error) {
	r, err := d.ReadUint8()
	if err != nil {
		return 0, err
	}
	num := uint64(r & bits6)
	neg := r&bit7 != 0
	shift := uint(6)
	for r&bit8 != 0 {
		if r, err = d.ReadUint8(); err != nil {
			return 0, err
		}
		if shift > 63 {
			return 0, ErrVarIntOverflow
		}
		num |= uint64(r&bits7) << shift
		shift += 7
	}
	if num > math.MaxInt64 && !(neg && num == 1<<63) {
		return 0, ErrVarIntOverflow
	}
	if neg {
		return -int64(num), nil
	}
	return int64(num), nil
}

// ReadUint8Array reads n raw bytes. The result is a copy.
func (d *Decoder) ReadUint8Array(n uint64) ([]byte, error) {
	if n > uint64(d.Remaining()) {
		return nil, ErrUnexpectedEOF
	}
	out := make([]byte, n)
	copy(out, d.buf[d.pos:d.pos+int(n)])
	d.pos += int(n)
	return out, nil
}

// ReadVarUint8Array reads a length prefixed byte array.
func (d *Decoder) ReadVarUint8Array() ([]byte, error) {
	n, err := d.ReadVarUint()
	if err != nil {
		return nil, err
	}
	return d.ReadUint8Array(n)
}

// ReadVarString reads a length prefixed UTF-8 string.
func (d *Decoder) ReadVarString() (string, error) {
	n, err := d.ReadVarUint()
	if err != nil {
		return "", err
	}
	if n > uint64(d.Remaining()) {
		return "", ErrUnexpectedEOF
	}
	s := string(d.buf[d.pos : d.pos+int(n)])
	d.pos += int(n)
	return s, nil
}

// ReadFloat32 reads a big-endian IEEE 754 single.
func (d *Decoder) ReadFloat32() (float32, error) {
	if d.Remaining() < 4 {
		return 0, ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint32(d.buf[d.pos:])
	d.pos += 4
	return math.Float32frombits(v), nil
}

// ReadFloat64 reads a big-endian IEEE 754 double.
func (d *Decoder) ReadFloat64() (float64, error) {
	if d.Remaining() < 8 {
		return 0, ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint64(d.buf[d.pos:])
	d.pos += 8
	return math.Float64frombits(v), nil
}

// ReadBigInt64 reads a big-endian two's complement 64 bit integer.
func (d *Decoder) ReadBigInt64() (int64, error) {
	if d.Remaining() < 8 {
		return 0, ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint64(d.buf[d.pos:])
	d.pos += 8
	return int64(v), nil
}
