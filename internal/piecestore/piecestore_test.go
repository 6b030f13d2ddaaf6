package piecestore

import (
	"bytes"
	"testing"

	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/metainfo"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/piece"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/storage/filestorage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pieceLength = 2 * piece.BlockSize

func newStore(t *testing.T, data []byte) *Store {
	b, err := metainfo.NewInfoBytes("data.bin", data, pieceLength, false)
	require.NoError(t, err)
	info, err := metainfo.NewInfo(b)
	require.NoError(t, err)
	sto, err := filestorage.New(t.TempDir(), false)
	require.NoError(t, err)
	s, exists, err := Open(info, sto)
	require.NoError(t, err)
	assert.False(t, exists)
	t.Cleanup(func() { s.Close() })
	return s
}

func writePiece(t *testing.T, s *Store, index uint32, data []byte) {
	pi := s.Piece(index)
	for i := 0; i < pi.NumBlocks(); i++ {
		b, ok := pi.GetBlock(i)
		require.True(t, ok)
		require.NoError(t, s.WriteBlock(index, b.Begin, data[b.Begin:b.Begin+b.Length]))
		s.MarkBlock(index, i)
	}
}

func TestVerify(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefgh"), (pieceLength+1000)/8)
	s := newStore(t, data)
	require.Equal(t, uint32(2), s.NumPieces())
	assert.Equal(t, 2, s.NumBlocks(0))
	assert.Equal(t, 1, s.NumBlocks(1))

	writePiece(t, s, 0, data[:pieceLength])
	assert.True(t, s.PieceComplete(0))
	ok, err := s.VerifyPiece(0)
	require.NoError(t, err)
	assert.True(t, ok)
	s.SetVerified(0)
	assert.True(t, s.Verified(0))
	assert.Equal(t, int64(pieceLength), s.VerifiedBytes())

	writePiece(t, s, 1, data[pieceLength:])
	ok, err = s.VerifyPiece(1)
	require.NoError(t, err)
	assert.True(t, ok)
	s.SetVerified(1)
	assert.True(t, s.Completed())
	assert.Equal(t, int64(len(data)), s.VerifiedBytes())

	b, err := s.ReadBlock(1, 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, data[pieceLength:], b)
}

func TestCorruptedFinalBlock(t *testing.T) {
	data := bytes.Repeat([]byte{1, 2, 3, 4}, pieceLength/4)
	s := newStore(t, data)

	corrupt := make([]byte, len(data))
	copy(corrupt, data)
	corrupt[len(corrupt)-1] ^= 0xff
	writePiece(t, s, 0, corrupt)
	require.True(t, s.PieceComplete(0))

	ok, err := s.VerifyPiece(0)
	require.NoError(t, err)
	assert.False(t, ok)

	s.ClearPiece(0)
	assert.False(t, s.Verified(0))
	assert.False(t, s.PieceComplete(0))
	assert.False(t, s.BlockReceived(0, 0))
	assert.False(t, s.BlockReceived(0, 1))
	assert.Equal(t, int64(0), s.VerifiedBytes())

	writePiece(t, s, 0, data)
	ok, err = s.VerifyPiece(0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInvalidBlock(t *testing.T) {
	s := newStore(t, make([]byte, 100))
	assert.Equal(t, ErrInvalidPiece, s.WriteBlock(1, 0, []byte{1}))
	assert.Equal(t, ErrInvalidBlock, s.WriteBlock(0, 99, []byte{1, 2}))
	_, err := s.ReadBlock(0, 50, 51)
	assert.Equal(t, ErrInvalidBlock, err)
}
