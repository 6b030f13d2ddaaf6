// Package bitfield implements the piece availability vector of the peer protocol.
package bitfield

import (
	"encoding/hex"
	"errors"
	"math/bits"
)

// ErrInvalidLength is returned from NewBytes when the byte slice cannot hold the requested number of bits.
var ErrInvalidLength = errors.New("invalid bitfield length")

// Bitfield is a fixed-length bit vector. Bit 0 is the most significant bit of the first byte.
type Bitfield struct {
	b      []byte
	length uint32
}

// New creates a new Bitfield value of length bits.
func New(length uint32) Bitfield {
	return Bitfield{make([]byte, (length+7)/8), length}
}

// NewBytes returns a new Bitfield value from b.
// Bytes in b are copied. Unused bits in last byte are cleared.
// Returns ErrInvalidLength if the size of b does not match the length.
func NewBytes(b []byte, length uint32) (Bitfield, error) {
	div, mod := divMod32(length, 8)
	requiredBytes := div
	if mod != 0 {
		requiredBytes++
	}
	if uint32(len(b)) != requiredBytes {
		return Bitfield{}, ErrInvalidLength
	}
	c := make([]byte, requiredBytes)
	copy(c, b)
	if mod != 0 {
		c[len(c)-1] &= ^(0xff >> mod)
	}
	return Bitfield{c, length}, nil
}

// Bytes returns bytes in b. If you modify the returned slice the bits in b are modified too.
func (b *Bitfield) Bytes() []byte { return b.b }

// Copy returns a deep copy of b.
func (b *Bitfield) Copy() Bitfield {
	c := make([]byte, len(b.b))
	copy(c, b.b)
	return Bitfield{c, b.length}
}

// Len returns the number of bits as given to New.
func (b *Bitfield) Len() uint32 { return b.length }

// Hex returns bytes as string. If not all the bits in last byte are used, they encode as not set.
func (b *Bitfield) Hex() string { return hex.EncodeToString(b.b) }

// Set bit i. Panics if i >= b.Len().
func (b *Bitfield) Set(i uint32) {
	b.checkIndex(i)
	div, mod := divMod32(i, 8)
	b.b[div] |= 1 << (7 - mod)
}

// SetAll sets all bits.
func (b *Bitfield) SetAll() {
	for i := uint32(0); i < b.length; i++ {
		b.Set(i)
	}
}

// Clear bit i. Panics if i >= b.Len().
func (b *Bitfield) Clear(i uint32) {
	b.checkIndex(i)
	div, mod := divMod32(i, 8)
	b.b[div] &= ^(1 << (7 - mod))
}

// ClearAll clears all bits.
func (b *Bitfield) ClearAll() {
	for i := range b.b {
		b.b[i] = 0
	}
}

// Test bit i. Panics if i >= b.Len().
func (b *Bitfield) Test(i uint32) bool {
	b.checkIndex(i)
	div, mod := divMod32(i, 8)
	return (b.b[div] & (1 << (7 - mod))) > 0
}

// Count returns the count of set bits.
func (b *Bitfield) Count() uint32 {
	var total uint32
	for _, v := range b.b {
		total += uint32(bits.OnesCount8(v))
	}
	return total
}

// All returns true if all bits are set, false otherwise.
func (b *Bitfield) All() bool {
	return b.Count() == b.length
}

func (b *Bitfield) checkIndex(i uint32) {
	if i >= b.Len() {
		panic("index out of bound")
	}
}

func divMod32(a, b uint32) (uint32, uint32) { return a / b, a % b }
