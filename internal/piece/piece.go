// Package piece splits the data of a torrent into pieces and blocks and maps them onto files.
package piece

import (
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/filesection"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/metainfo"
)

// BlockSize is the size of smallest piece data that we are going to request from peers.
const BlockSize = 16 * 1024

// Piece of a torrent.
type Piece struct {
	Index  uint32 // index in torrent
	Length uint32 // always equal to Info.PieceLength except last piece
	Hash   []byte // correct hash value
	Data   filesection.Sections
}

// NewPieces returns a slice of Pieces by mapping files to the pieces.
// files must be in the same order as info.GetFiles().
func NewPieces(info *metainfo.Info, files []filesection.ReadWriterAt) []Piece {
	var (
		fileIndex  int   // index of the current file in torrent
		fileLength int64 // length of the current file
		fileOffset int64 // offset in current file: [0, fileLength)
	)
	infoFiles := info.GetFiles()
	if len(infoFiles) > 0 {
		fileLength = infoFiles[0].Length
	}
	nextFile := func() {
		fileIndex++
		fileLength = infoFiles[fileIndex].Length
		fileOffset = 0
	}
	fileLeft := func() int64 { return fileLength - fileOffset }

	var total int64
	pieces := make([]Piece, info.NumPieces)
	for i := uint32(0); i < info.NumPieces; i++ {
		p := Piece{
			Index:  i,
			Length: info.PieceLen(i),
			Hash:   info.PieceHash(i),
		}

		var pieceOffset uint32
		for left := p.Length; left > 0; {
			// Skip empty files.
			for fileLeft() == 0 && fileIndex < len(infoFiles)-1 {
				nextFile()
			}
			n := uint32(minInt64(int64(left), fileLeft())) // number of bytes to write

			p.Data = append(p.Data, filesection.Section{
				File:   files[fileIndex],
				Offset: fileOffset,
				Length: int64(n),
			})

			left -= n
			pieceOffset += n
			fileOffset += int64(n)
			total += int64(n)

			if total == info.TotalLength {
				break
			}
		}
		pieces[i] = p
	}
	return pieces
}

// NumBlocks returns the number of blocks in the piece.
func (p *Piece) NumBlocks() int {
	div, mod := divMod32(p.Length, BlockSize)
	numBlocks := div
	if mod != 0 {
		numBlocks++
	}
	return int(numBlocks)
}

// GetBlock returns the block at index i.
func (p *Piece) GetBlock(i int) (b Block, ok bool) {
	if i < 0 || i >= p.NumBlocks() {
		return
	}
	begin := uint32(i) * BlockSize
	length := uint32(BlockSize)
	if begin+length > p.Length {
		length = p.Length - begin
	}
	return Block{Index: uint32(i), Begin: begin, Length: length}, true
}

// FindBlock returns the block at offset begin with the given length.
// Returns false if there is no block at that offset or if the length does not match.
func (p *Piece) FindBlock(begin, length uint32) (b Block, ok bool) {
	idx, mod := divMod32(begin, BlockSize)
	if mod != 0 {
		return
	}
	b, ok = p.GetBlock(int(idx))
	if !ok {
		return
	}
	if b.Length != length {
		return Block{}, false
	}
	return b, true
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func divMod32(a, b uint32) (uint32, uint32) { return a / b, a % b }
