package piece

import (
	"testing"

	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/filesection"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/metainfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumBlocks(t *testing.T) {
	p := Piece{Length: 2 * 16 * 1024}
	assert.Equal(t, 2, p.NumBlocks())

	p = Piece{Length: 2*16*1024 + 42}
	assert.Equal(t, 3, p.NumBlocks())
}

func TestGetBlock(t *testing.T) {
	p := Piece{
		Index:  1,
		Length: 2 * 16 * 1024,
	}

	_, ok := p.GetBlock(2)
	assert.False(t, ok)

	b, ok := p.GetBlock(0)
	assert.True(t, ok)
	assert.Equal(t, Block{Index: 0, Begin: 0, Length: 16 * 1024}, b)

	b, ok = p.GetBlock(1)
	assert.True(t, ok)
	assert.Equal(t, Block{Index: 1, Begin: 16 * 1024, Length: 16 * 1024}, b)

	p = Piece{
		Index:  1,
		Length: 2*16*1024 + 42,
	}

	_, ok = p.GetBlock(3)
	assert.False(t, ok)

	b, ok = p.GetBlock(0)
	assert.True(t, ok)
	assert.Equal(t, Block{Index: 0, Begin: 0, Length: 16 * 1024}, b)

	b, ok = p.GetBlock(1)
	assert.True(t, ok)
	assert.Equal(t, Block{Index: 1, Begin: 16 * 1024, Length: 16 * 1024}, b)

	b, ok = p.GetBlock(2)
	assert.True(t, ok)
	assert.Equal(t, Block{Index: 2, Begin: 2 * 16 * 1024, Length: 42}, b)
}

func TestFindBlock(t *testing.T) {
	p := Piece{
		Index:  1,
		Length: 2*BlockSize + 42,
	}

	_, ok := p.FindBlock(55, BlockSize)
	assert.False(t, ok)

	_, ok = p.FindBlock(3*BlockSize, BlockSize)
	assert.False(t, ok)

	_, ok = p.FindBlock(0, 1234)
	assert.False(t, ok)

	b, ok := p.FindBlock(0, BlockSize)
	assert.True(t, ok)
	assert.Equal(t, Block{Index: 0, Begin: 0, Length: BlockSize}, b)

	b, ok = p.FindBlock(BlockSize, BlockSize)
	assert.True(t, ok)
	assert.Equal(t, Block{Index: 1, Begin: BlockSize, Length: BlockSize}, b)

	b, ok = p.FindBlock(2*BlockSize, 42)
	assert.True(t, ok)
	assert.Equal(t, Block{Index: 2, Begin: 2 * BlockSize, Length: 42}, b)
}

type memFile []byte

func (f memFile) ReadAt(p []byte, off int64) (int, error) { return copy(p, f[off:]), nil }

func (f memFile) WriteAt(p []byte, off int64) (int, error) { return copy(f[off:], p), nil }

func TestNewPieces(t *testing.T) {
	info := &metainfo.Info{
		PieceLength: 4,
		Pieces:      make([]byte, 3*20),
		Name:        "test",
		Files: []metainfo.FileDict{
			{Length: 3, Path: []string{"a"}},
			{Length: 0, Path: []string{"b"}},
			{Length: 6, Path: []string{"c"}},
		},
		NumPieces:   3,
		TotalLength: 9,
	}
	files := []filesection.ReadWriterAt{make(memFile, 3), make(memFile, 0), make(memFile, 6)}
	pieces := NewPieces(info, files)
	require.Len(t, pieces, 3)

	assert.Equal(t, uint32(4), pieces[0].Length)
	require.Len(t, pieces[0].Data, 2)
	assert.Equal(t, int64(3), pieces[0].Data[0].Length)
	assert.Equal(t, int64(0), pieces[0].Data[1].Offset)
	assert.Equal(t, int64(1), pieces[0].Data[1].Length)

	assert.Equal(t, uint32(4), pieces[1].Length)
	require.Len(t, pieces[1].Data, 1)
	assert.Equal(t, int64(1), pieces[1].Data[0].Offset)

	assert.Equal(t, uint32(1), pieces[2].Length)
	require.Len(t, pieces[2].Data, 1)
	assert.Equal(t, int64(5), pieces[2].Data[0].Offset)

	require.NoError(t, pieces[0].Data.WriteAt([]byte("wxyz"), 0))
	assert.Equal(t, "wxy", string(files[0].(memFile)))
	assert.Equal(t, "z", string(files[2].(memFile)[:1]))
}
