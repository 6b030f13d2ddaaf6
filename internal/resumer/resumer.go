// Package resumer contains an interface that is used by torrent package for resuming an existing download.
package resumer

import (
	"errors"
	"time"
)

// ErrNotFound is returned when there is no resume data for the torrent.
var ErrNotFound = errors.New("resume data not found")

// Resumer provides operations to save and load resume info for a Torrent.
type Resumer interface {
	Write(torrentID string, spec *Spec) error
	WriteInfo(torrentID string, value []byte) error
	WriteBitfield(torrentID string, value []byte) error
	WriteStats(torrentID string, stats Stats) error
	WritePaused(torrentID string, value bool) error
	Read(torrentID string) (*Spec, error)
	List() ([]string, error)
	Delete(torrentID string) error
}

// Spec contains everything needed to restore a torrent after restart.
type Spec struct {
	InfoHash   []byte
	Dest       string
	Name       string
	Trackers   [][]string
	FixedPeers []string
	// Info is empty for magnet links until the metadata is downloaded.
	Info     []byte
	Bitfield []byte
	AddedAt  time.Time
	Paused   bool
	Seed     bool
	// Seeds stay connected after the torrent completes.
	KeepRedundantConnections bool
	Stats
}

// Stats are the counters of the torrent that survive restarts.
type Stats struct {
	BytesDownloaded int64
	BytesUploaded   int64
	BytesWasted     int64
	SeededFor       time.Duration
}
