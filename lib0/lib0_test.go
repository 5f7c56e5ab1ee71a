package lib0

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ycrdt/common"
)

func TestVarUint(t *testing.T) {
	enc := NewEncoder()
	values := []uint64{0, 1, 127, 128, 300, 1 << 32, math.MaxUint64}
	for _, v := range values {
		enc.WriteVarUint(v)
	}

	// 127 fits one byte, 128 needs two
	assert.Equal(t, []byte{0x00, 0x01, 0x7F, 0x80, 0x01}, enc.Bytes()[:5])

	dec := NewDecoder(enc.Bytes())
	for _, want := range values {
		got, err := dec.ReadVarUint()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.False(t, dec.HasContent())

	_, err := dec.ReadVarUint()
	assert.ErrorIs(t, err, ErrUnexpectedEOF)
}

func TestVarInt(t *testing.T) {
	values := []int64{0, 1, -1, 63, 64, -64, 1000, -1000, math.MaxInt32, math.MinInt32, math.MaxInt64, math.MinInt64}
	enc := NewEncoder()
	for _, v := range values {
		enc.WriteVarInt(v)
	}
	dec := NewDecoder(enc.Bytes())
	for _, want := range values {
		got, err := dec.ReadVarInt()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	// sign bit lives in the first byte
	enc = NewEncoder()
	enc.WriteVarInt(-1)
	assert.Equal(t, []byte{0x41}, enc.Bytes())
}

func TestVarIntTruncated(t *testing.T) {
	dec := NewDecoder([]byte{0x80})
	_, err := dec.ReadVarInt()
	assert.ErrorIs(t, err, ErrUnexpectedEOF)
}

func TestStringsAndBuffers(t *testing.T) {
	enc := NewEncoder()
	enc.WriteVarString("héllo")
	enc.WriteVarUint8Array([]byte{1, 2, 3})
	enc.WriteFloat32(1.5)
	enc.WriteFloat64(math.Pi)
	enc.WriteBigInt64(-42)

	dec := NewDecoder(enc.Bytes())
	s, err := dec.ReadVarString()
	require.NoError(t, err)
	assert.Equal(t, "héllo", s)

	b, err := dec.ReadVarUint8Array()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, b)

	f32, err := dec.ReadFloat32()
	require.NoError(t, err)
	assert.Equal(t, float32(1.5), f32)

	f64, err := dec.ReadFloat64()
	require.NoError(t, err)
	assert.Equal(t, math.Pi, f64)

	i, err := dec.ReadBigInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(-42), i)
}

func TestReadVarStringTooLong(t *testing.T) {
	dec := NewDecoder([]byte{0x05, 'a', 'b'})
	_, err := dec.ReadVarString()
	assert.ErrorIs(t, err, ErrUnexpectedEOF)
}

func TestAnyRoundTrip(t *testing.T) {
	value := map[string]interface{}{
		"null":   nil,
		"yes":    true,
		"no":     false,
		"int":    float64(12),
		"neg":    float64(-7),
		"single": float64(0.5),
		"double": 0.1,
		"big":    int64(1) << 40,
		"str":    "text",
		"buf":    []byte{9, 8},
		"list":   []interface{}{float64(1), "two", []interface{}{}},
		"nested": map[string]interface{}{"k": "v"},
	}

	enc := NewEncoder()
	require.NoError(t, enc.WriteAny(value))

	got, err := NewDecoder(enc.Bytes()).ReadAny()
	require.NoError(t, err)
	assert.Equal(t, value, got)
}

func TestAnyDeterministicMapOrder(t *testing.T) {
	m := map[string]interface{}{"b": float64(2), "a": float64(1), "c": float64(3)}
	first := NewEncoder()
	require.NoError(t, first.WriteAny(m))
	for i := 0; i < 10; i++ {
		again := NewEncoder()
		require.NoError(t, again.WriteAny(m))
		assert.Equal(t, first.Bytes(), again.Bytes())
	}
}

func TestAnyNumberTags(t *testing.T) {
	enc := NewEncoder()
	require.NoError(t, enc.WriteAny(float64(3)))
	assert.Equal(t, byte(anyInteger), enc.Bytes()[0])

	enc = NewEncoder()
	require.NoError(t, enc.WriteAny(1.25))
	assert.Equal(t, byte(anyFloat32), enc.Bytes()[0])

	enc = NewEncoder()
	require.NoError(t, enc.WriteAny(0.1))
	assert.Equal(t, byte(anyFloat64), enc.Bytes()[0])

	enc = NewEncoder()
	require.NoError(t, enc.WriteAny(7))
	assert.Equal(t, byte(anyBigInt), enc.Bytes()[0])
}

func TestNormalize(t *testing.T) {
	got, err := Normalize([]interface{}{1, int8(2), uint16(3), float32(1.5), "x"})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(1), int64(2), int64(3), float64(1.5), "x"}, got)

	_, err = Normalize(uint64(math.MaxUint64))
	var unsupported common.ErrUnsupportedValue
	assert.ErrorAs(t, err, &unsupported)

	_, err = Normalize(struct{}{})
	assert.ErrorAs(t, err, &unsupported)

	assert.True(t, IsAny(map[string]interface{}{"a": []interface{}{nil}}))
	assert.False(t, IsAny([]interface{}{make(chan int)}))
}

func TestReadAnyUnknownTag(t *testing.T) {
	_, err := NewDecoder([]byte{3}).ReadAny()
	assert.Error(t, err)
}
