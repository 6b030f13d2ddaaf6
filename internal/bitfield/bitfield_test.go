package bitfield

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewBytes(t *testing.T) {
	buf := []byte{0x0f}

	v, err := NewBytes(buf, 8)
	assert.NoError(t, err)
	assert.Equal(t, "0f", v.Hex())

	v, err = NewBytes(buf, 7)
	assert.NoError(t, err)
	assert.Equal(t, "0e", v.Hex())
	assert.Equal(t, byte(0x0f), buf[0], "input must not be modified")

	_, err = NewBytes(buf, 9)
	assert.Equal(t, ErrInvalidLength, err)

	_, err = NewBytes([]byte{0, 0}, 8)
	assert.Equal(t, ErrInvalidLength, err)
}

func TestSetClear(t *testing.T) {
	v := New(10)
	assert.Equal(t, "0000", v.Hex())

	v.Set(0)
	assert.Equal(t, "8000", v.Hex())

	v.Set(9)
	assert.Equal(t, "8040", v.Hex())
	assert.Equal(t, uint32(2), v.Count())

	assert.Panics(t, func() { v.Set(10) })

	v.Clear(0)
	assert.Equal(t, "0040", v.Hex())
	assert.False(t, v.Test(2))
	assert.True(t, v.Test(9))
	assert.False(t, v.All())

	v.SetAll()
	assert.True(t, v.All())
	assert.Equal(t, "ffc0", v.Hex())

	c := v.Copy()
	v.ClearAll()
	assert.Equal(t, uint32(0), v.Count())
	assert.Equal(t, uint32(10), c.Count())
}
