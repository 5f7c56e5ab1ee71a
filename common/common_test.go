package common

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDCompare(t *testing.T) {
	a := NewID(1, 5)
	b := NewID(1, 6)
	c := NewID(2, 0)

	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, 0, a.Compare(NewID(1, 5)))
	assert.Equal(t, -1, b.Compare(c))
	assert.True(t, a.Add(1).Equal(b))
	assert.Equal(t, "1:5", a.String())
}

func TestEqualIDPtr(t *testing.T) {
	a := NewID(3, 3)
	b := NewID(3, 3)
	c := NewID(3, 4)

	assert.True(t, EqualIDPtr(nil, nil))
	assert.False(t, EqualIDPtr(&a, nil))
	assert.False(t, EqualIDPtr(nil, &a))
	assert.True(t, EqualIDPtr(&a, &b))
	assert.False(t, EqualIDPtr(&a, &c))
}

func TestClientIDSource(t *testing.T) {
	restore := SetClientIDSource(&SequentialSource{Next: 100})
	assert.Equal(t, ClientID(100), NewClientID())
	assert.Equal(t, ClientID(101), NewClientID())
	restore()

	// default source stays within 32 bits
	for i := 0; i < 32; i++ {
		assert.LessOrEqual(t, NewClientID(), ClientID(0xFFFFFFFF))
	}

	restore = SetClientIDSource(ClientIDSourceFunc(func() ClientID { return 7 }))
	defer restore()
	assert.Equal(t, ClientID(7), NewClientID())
}

func TestNewGUID(t *testing.T) {
	a := NewGUID()
	b := NewGUID()
	require.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}

func TestErrors(t *testing.T) {
	err := ErrIndexOutOfRange{Index: 3, Span: 4, Length: 5}
	assert.Equal(t, "index out of range: [3, 7) with length 5", err.Error())
	assert.Equal(t, "index out of range: 9 with length 2", ErrIndexOutOfRange{Index: 9, Length: 2}.Error())

	var target ErrIndexOutOfRange
	wrapped := errors.Join(errors.New("context"), err)
	require.True(t, errors.As(wrapped, &target))
	assert.Equal(t, 5, target.Length)

	assert.Contains(t, ErrUnsupportedValue{Value: struct{}{}}.Error(), "struct {}")
	assert.Equal(t, "text", TypeRefText.String())
	assert.Equal(t, "typeref(42)", TypeRef(42).String())
}
