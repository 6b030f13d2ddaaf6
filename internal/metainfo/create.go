package metainfo

import (
	"crypto/sha1" // nolint: gosec
	"errors"

	"github.com/zeebo/bencode"
)

// NewInfoBytes creates a bencoded info dictionary for a single file torrent containing data.
func NewInfoBytes(name string, data []byte, pieceLength uint32, private bool) ([]byte, error) {
	if pieceLength == 0 {
		return nil, errInvalidPieceLength
	}
	if len(data) == 0 {
		return nil, errors.New("no data")
	}
	var pieces []byte
	for begin := 0; begin < len(data); begin += int(pieceLength) {
		end := begin + int(pieceLength)
		if end > len(data) {
			end = len(data)
		}
		sum := sha1.Sum(data[begin:end]) // nolint: gosec
		pieces = append(pieces, sum[:]...)
	}
	info := struct {
		PieceLength uint32 `bencode:"piece length"`
		Pieces      []byte `bencode:"pieces"`
		Name        string `bencode:"name"`
		Length      int64  `bencode:"length"`
		Private     int    `bencode:"private,omitempty"`
	}{
		PieceLength: pieceLength,
		Pieces:      pieces,
		Name:        name,
		Length:      int64(len(data)),
	}
	if private {
		info.Private = 1
	}
	return bencode.EncodeBytes(info)
}
