package torrent

// AddTorrentOptions contains options for adding a new torrent.
type AddTorrentOptions struct {
	// Allocate the full size of the files before checking. The torrent is in Allocating state while files are allocated.
	PreAllocate bool
	// Keep uploading after all pieces are downloaded. The torrent goes from Finished to Seeding.
	Seed bool
	// Add the torrent in paused state.
	Paused bool
	// Extra trackers in addition to the ones in the torrent descriptor.
	Trackers []string
	// Addresses of peers in host:port format that are dialed when the torrent is started.
	Peers []string
	// Stay connected to seeds after all pieces are downloaded. They are disconnected by default.
	KeepRedundantConnections bool
}
