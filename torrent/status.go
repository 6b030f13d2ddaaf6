package torrent

import "time"

// Status is a snapshot of the torrent state. It is updated by the session after every event.
type Status struct {
	State State
	// Error is the sticky error of the torrent. It is set in Error state.
	Error  error
	Paused bool

	Name     string
	InfoHash string

	// Verified bytes divided by total bytes. It is exactly 1 in Finished and Seeding states.
	Progress       float64
	PiecesVerified uint32
	NumPieces      uint32
	// Number of checked pieces while the torrent is in CheckingExistingData state.
	CheckProgress uint32

	TotalSize int64
	// Payload bytes of accepted blocks.
	TotalDownloaded int64
	TotalUploaded   int64
	// Bytes of duplicate blocks and pieces that failed the hash check.
	TotalWasted  int64
	HashFailures int

	// Bytes per second.
	DownloadRate int
	UploadRate   int

	PeerCount  int
	SeededFor  time.Duration
	AddedAt    time.Time
	FinishedAt time.Time
}

// PeerInfo is information about a connected peer.
type PeerInfo struct {
	Addr     string
	ID       [20]byte
	Client   string
	State    string
	Outgoing bool
	// Number of pieces the peer has.
	PiecesHave     uint32
	AmChoking      bool
	AmInterested   bool
	PeerChoking    bool
	PeerInterested bool
	// Bytes per second.
	DownloadRate    int
	UploadRate      int
	BytesDownloaded int64
	BytesUploaded   int64
	Outstanding     int
	ConnectedAt     time.Time
}

// TrackerInfo is the announce status of a tracker.
type TrackerInfo struct {
	URL          string
	Status       string
	Seeders      int
	Leechers     int
	Error        error
	LastAnnounce time.Time
	NextAnnounce time.Time
}
