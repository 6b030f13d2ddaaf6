// Package piecestore keeps the pieces of a torrent on storage and tracks which blocks are received and which pieces are verified.
//
// WriteBlock, ReadBlock and VerifyPiece do I/O and may be called from a disk worker goroutine.
// All other methods keep bookkeeping and must be called from a single goroutine.
package piecestore

import (
	"bytes"
	"crypto/sha1" // nolint: gosec
	"errors"
	"fmt"
	"path/filepath"

	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/bitfield"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/filesection"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/metainfo"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/piece"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/storage"
	"github.com/hashicorp/go-multierror"
)

var (
	// ErrInvalidPiece is returned when the piece index is out of range.
	ErrInvalidPiece = errors.New("invalid piece index")
	// ErrInvalidBlock is returned when the offset and length do not match a block in the piece.
	ErrInvalidBlock = errors.New("invalid block")
)

// Store of a single torrent's pieces.
type Store struct {
	info     *metainfo.Info
	files    []storage.File
	pieces   []piece.Piece
	received []bitfield.Bitfield // received blocks of each piece
	verified bitfield.Bitfield

	verifiedBytes int64
}

// Open the files of the torrent in sto and returns a new Store.
// exists is true if any of the files were already on storage.
func Open(info *metainfo.Info, sto storage.Storage) (s *Store, exists bool, err error) {
	infoFiles := info.GetFiles()
	files := make([]storage.File, 0, len(infoFiles))
	defer func() {
		if err != nil {
			for _, f := range files {
				_ = f.Close()
			}
		}
	}()
	for _, fd := range infoFiles {
		name := info.Name
		if info.MultiFile() {
			name = filepath.Join(append([]string{info.Name}, fd.Path...)...)
		}
		var f storage.File
		var fileExists bool
		f, fileExists, err = sto.Open(name, fd.Length)
		if err != nil {
			return nil, false, err
		}
		files = append(files, f)
		exists = exists || fileExists
	}
	return New(info, files), exists, nil
}

// New returns a Store writing to already opened files.
// files must be in the same order as info.GetFiles().
func New(info *metainfo.Info, files []storage.File) *Store {
	rw := make([]filesection.ReadWriterAt, len(files))
	for i, f := range files {
		rw[i] = f
	}
	pieces := piece.NewPieces(info, rw)
	received := make([]bitfield.Bitfield, len(pieces))
	for i := range pieces {
		received[i] = bitfield.New(uint32(pieces[i].NumBlocks()))
	}
	return &Store{
		info:     info,
		files:    files,
		pieces:   pieces,
		received: received,
		verified: bitfield.New(info.NumPieces),
	}
}

// Close the underlying files.
func (s *Store) Close() error {
	var result error
	for _, f := range s.files {
		if err := f.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}

// NumPieces returns the number of pieces in the torrent.
func (s *Store) NumPieces() uint32 { return uint32(len(s.pieces)) }

// Piece returns the piece at index.
func (s *Store) Piece(index uint32) *piece.Piece { return &s.pieces[index] }

// NumBlocks returns the number of blocks in the piece at index.
func (s *Store) NumBlocks(index uint32) int { return s.pieces[index].NumBlocks() }

// WriteBlock writes data at offset begin of the piece.
// data may span more than one block. Distinct blocks can be written concurrently.
func (s *Store) WriteBlock(index, begin uint32, data []byte) error {
	if index >= uint32(len(s.pieces)) {
		return ErrInvalidPiece
	}
	pi := &s.pieces[index]
	if int64(begin)+int64(len(data)) > int64(pi.Length) {
		return ErrInvalidBlock
	}
	if err := pi.Data.WriteAt(data, int64(begin)); err != nil {
		return fmt.Errorf("write piece #%d at %d: %w", index, begin, err)
	}
	return nil
}

// ReadBlock reads length bytes at offset begin of the piece.
func (s *Store) ReadBlock(index, begin, length uint32) ([]byte, error) {
	if index >= uint32(len(s.pieces)) {
		return nil, ErrInvalidPiece
	}
	pi := &s.pieces[index]
	if int64(begin)+int64(length) > int64(pi.Length) {
		return nil, ErrInvalidBlock
	}
	buf := make([]byte, length)
	if err := pi.Data.ReadAt(buf, int64(begin)); err != nil {
		return nil, fmt.Errorf("read piece #%d at %d: %w", index, begin, err)
	}
	return buf, nil
}

// VerifyPiece reads the piece from storage and compares its hash with the expected value.
func (s *Store) VerifyPiece(index uint32) (bool, error) {
	if index >= uint32(len(s.pieces)) {
		return false, ErrInvalidPiece
	}
	pi := &s.pieces[index]
	buf := make([]byte, pi.Length)
	if err := pi.Data.ReadFull(buf); err != nil {
		return false, fmt.Errorf("read piece #%d: %w", index, err)
	}
	sum := sha1.Sum(buf) // nolint: gosec
	return bytes.Equal(sum[:], pi.Hash), nil
}

// MarkBlock marks the block as received.
func (s *Store) MarkBlock(index uint32, block int) {
	s.received[index].Set(uint32(block))
}

// MarkPiece marks all blocks of the piece as received.
func (s *Store) MarkPiece(index uint32) {
	s.received[index].SetAll()
}

// BlockReceived returns true if the block is written to storage.
func (s *Store) BlockReceived(index uint32, block int) bool {
	if s.verified.Test(index) {
		return true
	}
	return s.received[index].Test(uint32(block))
}

// PieceComplete returns true if all blocks of the piece are received.
func (s *Store) PieceComplete(index uint32) bool {
	return s.received[index].All()
}

// SetVerified marks the piece as verified.
func (s *Store) SetVerified(index uint32) {
	if s.verified.Test(index) {
		return
	}
	s.verified.Set(index)
	s.received[index].SetAll()
	s.verifiedBytes += int64(s.pieces[index].Length)
}

// Verified returns true if the piece has passed the hash check.
func (s *Store) Verified(index uint32) bool {
	return s.verified.Test(index)
}

// ClearPiece clears received blocks and the verified flag of the piece.
func (s *Store) ClearPiece(index uint32) {
	s.received[index].ClearAll()
	if s.verified.Test(index) {
		s.verified.Clear(index)
		s.verifiedBytes -= int64(s.pieces[index].Length)
	}
}

// ClearAll clears every piece.
func (s *Store) ClearAll() {
	for i := range s.pieces {
		s.ClearPiece(uint32(i))
	}
}

// Bitfield returns a copy of the verified pieces.
func (s *Store) Bitfield() bitfield.Bitfield {
	return s.verified.Copy()
}

// VerifiedBytes returns the total length of verified pieces.
func (s *Store) VerifiedBytes() int64 { return s.verifiedBytes }

// Completed returns true if all pieces are verified.
func (s *Store) Completed() bool { return s.verified.All() }
