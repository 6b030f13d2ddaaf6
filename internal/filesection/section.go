// Package filesection maps a contiguous range of torrent data onto one or more files.
package filesection

import "io"

// ReadWriterAt is the file interface required by a Section.
type ReadWriterAt interface {
	io.ReaderAt
	io.WriterAt
}

// Section of a file.
type Section struct {
	File   ReadWriterAt
	Offset int64
	Length int64
}

// Sections is contiguous sections of files. When piece hashes in torrent file is being calculated
// all files are concatenated and splitted into pieces in length specified in the torrent file.
type Sections []Section

// Length returns the total length of all sections.
func (s Sections) Length() int64 {
	var n int64
	for _, sec := range s {
		n += sec.Length
	}
	return n
}

// ReadFull reads len(buf) bytes from the beginning of s.
func (s Sections) ReadFull(buf []byte) error {
	return s.ReadAt(buf, 0)
}

// ReadAt reads len(p) bytes from s starting at offset off.
// Used when uploading blocks of a piece and when hashing a piece.
func (s Sections) ReadAt(p []byte, off int64) error {
	return s.each(p, off, func(sec Section, b []byte, secOff int64) error {
		_, err := sec.File.ReadAt(b, sec.Offset+secOff)
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return err
	})
}

// WriteAt writes p into files in s starting at offset off.
// Used when writing a downloaded block.
func (s Sections) WriteAt(p []byte, off int64) error {
	return s.each(p, off, func(sec Section, b []byte, secOff int64) error {
		n, err := sec.File.WriteAt(b, sec.Offset+secOff)
		if err != nil {
			return err
		}
		if n < len(b) {
			return io.ErrShortWrite
		}
		return nil
	})
}

func (s Sections) each(p []byte, off int64, fn func(sec Section, b []byte, secOff int64) error) error {
	if off < 0 || off+int64(len(p)) > s.Length() {
		return io.ErrUnexpectedEOF
	}
	var pos int64 // start of the current section relative to s
	for _, sec := range s {
		if len(p) == 0 {
			break
		}
		end := pos + sec.Length
		if off >= end {
			pos = end
			continue
		}
		secOff := off - pos
		n := sec.Length - secOff
		if n > int64(len(p)) {
			n = int64(len(p))
		}
		if err := fn(sec, p[:n], secOff); err != nil {
			return err
		}
		p = p[n:]
		off += n
		pos = end
	}
	return nil
}
