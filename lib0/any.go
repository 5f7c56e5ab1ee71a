package lib0

import (
	"math"
	"sort"

	"github.com/pkg/errors"

	"ycrdt/common"
)

// Tags of the Any encoding.
const (
	anyUndefined = 127
	anyNull      = 126
	anyInteger   = 125
	anyFloat32   = 124
	anyFloat64   = 123
	anyBigInt    = 122
	anyFalse     = 121
	anyTrue      = 120
	anyString    = 119
	anyObject    = 118
	anyArray     = 117
	anyBuffer    = 116
)

const maxSafeInteger31 = 0x7FFFFFFF

// Normalize converts a Go value into the canonical Any representation:
// nil, bool, float64, int64, string, []byte, []interface{} or
// map[string]interface{}. Integer kinds become int64 and float32 becomes
// float64. Unknown kinds yield common.ErrUnsupportedValue.
func Normalize(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool, float64, int64, string:
		return x, nil
	case []byte:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint:
		if uint64(x) > math.MaxInt64 {
			return nil, common.ErrUnsupportedValue{Value: v}
		}
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return nil, common.ErrUnsupportedValue{Value: v}
		}
		return int64(x), nil
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, e := range x {
			n, err := Normalize(e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, e := range x {
			n, err := Normalize(e)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	default:
		return nil, common.ErrUnsupportedValue{Value: v}
	}
}

// IsAny reports whether v is accepted by Normalize.
func IsAny(v interface{}) bool {
	_, err := Normalize(v)
	return err == nil
}

// WriteAny writes v using the tagged Any encoding. Map entries are written in
// key order so equal values always produce equal bytes.
func (e *Encoder) WriteAny(v interface{}) error {
	switch x := v.(type) {
	case nil:
		e.WriteUint8(anyNull)
	case bool:
		if x {
			e.WriteUint8(anyTrue)
		} else {
			e.WriteUint8(anyFalse)
		}
	case float64:
		e.writeNumber(x)
	case float32:
		e.writeNumber(float64(x))
	case int64:
		e.WriteUint8(anyBigInt)
		e.WriteBigInt64(x)
	case string:
		e.WriteUint8(anyString)
		e.WriteVarString(x)
	case []byte:
		e.WriteUint8(anyBuffer)
		e.WriteVarUint8Array(x)
	case []interface{}:
		e.WriteUint8(anyArray)
		e.WriteVarUint(uint64(len(x)))
		for _, el := range x {
			if err := e.WriteAny(el); err != nil {
				return err
			}
		}
	case map[string]interface{}:
		e.WriteUint8(anyObject)
		e.WriteVarUint(uint64(len(x)))
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			e.WriteVarString(k)
			if err := e.WriteAny(x[k]); err != nil {
				return err
			}
		}
	default:
		n, err := Normalize(v)
		if err != nil {
			return err
		}
		return e.WriteAny(n)
	}
	return nil
}

func (e *Encoder) writeNumber(f float64) {
	switch {
	case f == math.Trunc(f) && math.Abs(f) <= maxSafeInteger31 && !(f == 0 && math.Signbit(f)):
		e.WriteUint8(anyInteger)
		e.WriteVarInt(int64(f))
	case float64(float32(f)) == f:
		e.WriteUint8(anyFloat32)
		e.WriteFloat32(float32(f))
	default:
		e.WriteUint8(anyFloat64)
		e.WriteFloat64(f)
	}
}

// ReadAny reads a value written by WriteAny. Numbers written as integers or
// singles are returned as float64; undefined is returned as nil.
func (d *Decoder) ReadAny() (interface{}, error) {
	tag, err := d.ReadUint8()
	if err != nil {
		return nil, err
	}
	switch tag {
	case anyUndefined, anyNull:
		return nil, nil
	case anyInteger:
		n, err := d.ReadVarInt()
		if err != nil {
			return nil, err
		}
		return float64(n), nil
	case anyFloat32:
		f, err := d.ReadFloat32()
		if err != nil {
			return nil, err
		}
		return float64(f), nil
	case anyFloat64:
		return d.ReadFloat64()
	case anyBigInt:
		return d.ReadBigInt64()
	case anyFalse:
		return false, nil
	case anyTrue:
		return true, nil
	case anyString:
		return d.ReadVarString()
	case anyObject:
		n, err := d.ReadVarUint()
		if err != nil {
			return nil, err
		}
		out := make(map[string]interface{}, capHint(n, d.Remaining()))
		for i := uint64(0); i < n; i++ {
			k, err := d.ReadVarString()
			if err != nil {
				return nil, err
			}
			v, err := d.ReadAny()
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	case anyArray:
		n, err := d.ReadVarUint()
		if err != nil {
			return nil, err
		}
		out := make([]interface{}, 0, capHint(n, d.Remaining()))
		for i := uint64(0); i < n; i++ {
			v, err := d.ReadAny()
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case anyBuffer:
		return d.ReadVarUint8Array()
	default:
		return nil, errors.Errorf("unknown any tag %d", tag)
	}
}

// capHint bounds a decoded element count by the bytes left, since every
// element takes at least one byte.
func capHint(n uint64, remaining int) int {
	if n > uint64(remaining) {
		return remaining
	}
	return int(n)
}
