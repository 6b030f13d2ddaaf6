package torrent

import (
	"errors"
	"strconv"

	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/announcer"
)

var (
	// ErrSessionClosed is returned from methods of a closed Session and its torrents.
	ErrSessionClosed = errors.New("session is closed")
	// ErrTorrentRemoved is returned from methods of a Torrent that is removed from the session.
	ErrTorrentRemoved = errors.New("torrent is removed")
	// ErrNoMetadata is returned when the operation requires the info dictionary of a magnet link.
	ErrNoMetadata = errors.New("torrent metadata is not downloaded yet")
)

// ConfigError is returned from Session.AddTorrent and Session.AddMagnet when the input is rejected.
type ConfigError struct {
	err error
}

func newConfigError(err error) *ConfigError {
	return &ConfigError{err: err}
}

// Error implements error interface.
func (e *ConfigError) Error() string {
	return "config error: " + e.err.Error()
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.err
}

// StorageError is the sticky error of a torrent that cannot read or write its files.
type StorageError struct {
	err error
}

// Error implements error interface.
func (e *StorageError) Error() string {
	return "storage error: " + e.err.Error()
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.err
}

// TransientPeerError is a handshake failure, timeout or protocol violation of a single peer connection.
type TransientPeerError struct {
	Addr string
	err  error
}

func (e *TransientPeerError) Error() string {
	return "peer " + e.Addr + ": " + e.err.Error()
}

// Unwrap returns the underlying error.
func (e *TransientPeerError) Unwrap() error {
	return e.err
}

// TransientTrackerError is returned from announce requests to a tracker.
type TransientTrackerError struct {
	URL string
	err *announcer.AnnounceError
}

// Contains the humanized version of error.
func (e *TransientTrackerError) Error() string {
	return e.err.Message
}

// Unwrap returns the underlying error object.
func (e *TransientTrackerError) Unwrap() error {
	return e.err.Err
}

// Unknown returns true if the error is unexpected.
// Expected errors are tracker errors, network errors and DNS errors.
func (e *TransientTrackerError) Unknown() bool {
	return e.err.Unknown
}

// DataIntegrityError is reported when a downloaded piece does not match its hash.
type DataIntegrityError struct {
	Piece uint32
}

func (e *DataIntegrityError) Error() string {
	return "hash check failed for piece #" + strconv.FormatUint(uint64(e.Piece), 10)
}
