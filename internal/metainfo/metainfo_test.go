package metainfo

import (
	"bytes"
	"crypto/sha1" // nolint: gosec
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/bencode"
)

func newTestTorrent(t *testing.T, data []byte, pieceLength uint32, trackers [][]string) []byte {
	info, err := NewInfoBytes("file.bin", data, pieceLength, false)
	require.NoError(t, err)
	b, err := NewBytes(info, trackers, "test")
	require.NoError(t, err)
	return b
}

func TestTorrent(t *testing.T) {
	data := bytes.Repeat([]byte{'a'}, 40000)
	b := newTestTorrent(t, data, 16384, [][]string{{"http://tracker.example.com/announce"}, {"udp://ignored.example.com:80"}})

	tor, err := New(bytes.NewReader(b))
	require.NoError(t, err)

	assert.Equal(t, "file.bin", tor.Info.Name)
	assert.Equal(t, int64(40000), tor.Info.TotalLength)
	assert.Equal(t, uint32(3), tor.Info.NumPieces)
	assert.Equal(t, uint32(16384), tor.Info.PieceLen(0))
	assert.Equal(t, uint32(40000-2*16384), tor.Info.PieceLen(2))
	assert.Equal(t, "test", tor.Comment)
	assert.Equal(t, [][]string{{"http://tracker.example.com/announce"}}, tor.AnnounceList)
	assert.Equal(t, []string{"http://tracker.example.com/announce"}, tor.Trackers())

	sum := sha1.Sum(tor.Info.Bytes) // nolint: gosec
	assert.Equal(t, sum, tor.Info.Hash)
	first := sha1.Sum(data[:16384]) // nolint: gosec
	assert.Equal(t, first[:], tor.Info.PieceHash(0))
}

func TestInvalidPieceHashes(t *testing.T) {
	info := map[string]interface{}{
		"piece length": 16384,
		"pieces":       string(make([]byte, 25)),
		"name":         "file.bin",
		"length":       20000,
	}
	b, err := bencode.EncodeBytes(info)
	require.NoError(t, err)
	_, err = NewInfo(b)
	assert.Equal(t, errInvalidPieceData, err)

	// Hash count does not match with the total length.
	info["pieces"] = string(make([]byte, 60))
	b, err = bencode.EncodeBytes(info)
	require.NoError(t, err)
	_, err = NewInfo(b)
	assert.Equal(t, errInvalidPieceData, err)
}

func TestInvalidFileName(t *testing.T) {
	info := map[string]interface{}{
		"piece length": 16384,
		"pieces":       string(make([]byte, 20)),
		"name":         "dir",
		"files": []map[string]interface{}{
			{"length": 100, "path": []string{"..", "etc"}},
		},
	}
	b, err := bencode.EncodeBytes(info)
	require.NoError(t, err)
	_, err = NewInfo(b)
	assert.Error(t, err)
}

func TestGarbage(t *testing.T) {
	_, err := New(bytes.NewReader([]byte("some garbage data")))
	assert.Error(t, err)

	b, err := bencode.EncodeBytes(map[string]string{"announce": "http://example.com"})
	require.NoError(t, err)
	_, err = New(bytes.NewReader(b))
	assert.Error(t, err)
}
