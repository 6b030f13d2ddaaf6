// Package filestorage implements Storage interface that uses files on disk as storage.
package filestorage

import (
	"os"
	"path/filepath"

	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/storage"
)

// FileStorage keeps torrent files under a directory on the local file system.
type FileStorage struct {
	dest     string
	allocate bool
}

var _ storage.Storage = (*FileStorage)(nil)

// New returns a new FileStorage rooted at dest.
// If preallocate is true, disk space for new files is reserved when they are created.
func New(dest string, preallocate bool) (*FileStorage, error) {
	var err error
	dest, err = filepath.Abs(dest)
	if err != nil {
		return nil, err
	}
	return &FileStorage{dest: dest, allocate: preallocate}, nil
}

// RootDir returns the destination directory.
func (s *FileStorage) RootDir() string {
	return s.dest
}

// Open a file under dest. Missing directories are created.
func (s *FileStorage) Open(name string, size int64) (f storage.File, exists bool, err error) {
	name = filepath.Clean(name)

	// All files are saved under dest.
	name = filepath.Join(s.dest, name)

	// Create containing dir if not exists.
	err = os.MkdirAll(filepath.Dir(name), os.ModeDir|0750)
	if err != nil {
		return
	}

	// Make sure OS file is closed in case of any error.
	var of *os.File
	defer func() {
		if err != nil && of != nil {
			_ = of.Close()
		}
	}()

	// Open OS file.
	const mode = 0640
	of, err = os.OpenFile(name, os.O_RDWR, mode) // nolint: gosec
	if os.IsNotExist(err) {
		of, err = os.OpenFile(name, os.O_RDWR|os.O_CREATE, mode) // nolint: gosec
		if err != nil {
			return
		}
		if s.allocate {
			err = allocate(of, size)
		} else {
			err = of.Truncate(size)
		}
		if err != nil {
			return
		}
		f = of
		return
	}
	if err != nil {
		return
	}
	fi, err := of.Stat()
	if err != nil {
		return
	}
	exists = fi.Size() > 0
	if fi.Size() != size {
		err = of.Truncate(size)
		if err != nil {
			return
		}
	}
	f = of
	return
}
