// Package storage contains an interface for reading and writing files in a torrent.
package storage

import "io"

// Storage is an interface for reading/writing torrent files.
type Storage interface {
	// Open a file in storage. The file is created if it does not exist.
	// Size of the file is changed to size if it differs.
	// exists return value reports whether the file was on disk before.
	Open(name string, size int64) (f File, exists bool, err error)
	// RootDir is the directory that file names are relative to.
	RootDir() string
}

// File interface for reading/writing torrent data.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
}
