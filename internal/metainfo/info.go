package metainfo

import (
	"crypto/sha1" // nolint: gosec
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/zeebo/bencode"
)

var (
	errInvalidPieceData   = errors.New("invalid piece data")
	errInvalidPieceLength = errors.New("invalid piece length")
	errInvalidLength      = errors.New("invalid torrent length")
	errNoName             = errors.New("no name in info dict")
)

// Info contains information about torrent.
type Info struct {
	PieceLength uint32             `bencode:"piece length" json:"piece_length"`
	Pieces      []byte             `bencode:"pieces" json:"pieces"`
	Private     bencode.RawMessage `bencode:"private" json:"private"`
	Name        string             `bencode:"name" json:"name"`
	Length      int64              `bencode:"length" json:"length"` // Single File Mode
	Files       []FileDict         `bencode:"files" json:"files"`   // Multiple File mode

	// Calculated fields
	Hash        [20]byte `bencode:"-" json:"-"`
	TotalLength int64    `bencode:"-" json:"-"`
	NumPieces   uint32   `bencode:"-" json:"-"`
	Bytes       []byte   `bencode:"-" json:"-"`
	private     bool
}

// FileDict is a file entry of a multi-file torrent.
type FileDict struct {
	Length int64    `bencode:"length" json:"length"`
	Path   []string `bencode:"path" json:"path"`
}

// NewInfo returns info from bencoded bytes in b.
// The piece hash list and the declared lengths are checked for consistency.
func NewInfo(b []byte) (*Info, error) {
	var i Info
	if err := bencode.DecodeBytes(b, &i); err != nil {
		return nil, err
	}
	if i.PieceLength == 0 {
		return nil, errInvalidPieceLength
	}
	if len(i.Pieces) == 0 || uint32(len(i.Pieces))%sha1.Size != 0 {
		return nil, errInvalidPieceData
	}
	if strings.TrimSpace(i.Name) == "" {
		return nil, errNoName
	}
	if len(i.Private) > 0 {
		var intVal int64
		var stringVal string
		err := bencode.DecodeBytes(i.Private, &intVal)
		if err != nil {
			err = bencode.DecodeBytes(i.Private, &stringVal)
			if err == nil {
				i.private = stringVal == "1"
			}
		} else {
			i.private = intVal == 1
		}
	}
	// ".." is not allowed in file names
	if err := checkName(i.Name); err != nil {
		return nil, err
	}
	for _, file := range i.Files {
		if file.Length < 0 {
			return nil, errInvalidLength
		}
		for _, path := range file.Path {
			if err := checkName(path); err != nil {
				return nil, fmt.Errorf("invalid file name: %q", filepath.Join(file.Path...))
			}
		}
	}
	i.NumPieces = uint32(len(i.Pieces)) / sha1.Size
	if !i.MultiFile() {
		i.TotalLength = i.Length
	} else {
		for _, f := range i.Files {
			i.TotalLength += f.Length
		}
	}
	if i.TotalLength <= 0 {
		return nil, errInvalidLength
	}
	totalPieceDataLength := int64(i.PieceLength) * int64(i.NumPieces)
	delta := totalPieceDataLength - i.TotalLength
	if delta >= int64(i.PieceLength) || delta < 0 {
		return nil, errInvalidPieceData
	}
	i.Bytes = b
	hash := sha1.New()   // nolint: gosec
	_, _ = hash.Write(b) // nolint: gosec
	copy(i.Hash[:], hash.Sum(nil))
	return &i, nil
}

func checkName(s string) error {
	s = strings.TrimSpace(s)
	if s == ".." || s == "." || strings.ContainsAny(s, "/\\") {
		return fmt.Errorf("invalid file name: %q", s)
	}
	return nil
}

// MultiFile returns true if the torrent has a files list instead of a single length.
func (i *Info) MultiFile() bool {
	return len(i.Files) != 0
}

// PieceHash returns the expected SHA-1 of the piece at index.
func (i *Info) PieceHash(index uint32) []byte {
	begin := index * sha1.Size
	end := begin + sha1.Size
	return i.Pieces[begin:end]
}

// PieceLen returns the length of the piece at index. Only the last piece may be shorter than PieceLength.
func (i *Info) PieceLen(index uint32) uint32 {
	if index == i.NumPieces-1 {
		return uint32(i.TotalLength - int64(i.PieceLength)*int64(i.NumPieces-1))
	}
	return i.PieceLength
}

// GetFiles returns the files in torrent as a slice, even if there is a single file.
func (i *Info) GetFiles() []FileDict {
	if i.MultiFile() {
		return i.Files
	}
	return []FileDict{{i.Length, []string{i.Name}}}
}

// IsPrivate returns true if the private flag is set in the info dict.
func (i *Info) IsPrivate() bool {
	if i == nil {
		return false
	}
	return i.private
}
