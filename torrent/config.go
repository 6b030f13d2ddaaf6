package torrent

import (
	"errors"
	"time"
)

// Config for Session.
type Config struct {
	// Address to listen for incoming peer connections. Empty string disables accepting connections.
	ListenAddr string `yaml:"listen-addr"`
	// Database file to save resume data of the torrents. Empty string disables resume data.
	Database string `yaml:"database"`
	// Interval of the internal scheduling tick. Zero disables the internal ticker, Session.Tick must be called then.
	TickInterval time.Duration `yaml:"tick-interval"`

	// Alerts of the categories not in the mask are discarded.
	AlertMask Category `yaml:"alert-mask"`
	// Maximum number of alerts waiting in the queue.
	AlertQueueSize int `yaml:"alert-queue-size"`

	// Number of torrents that can check their files at the same time.
	MaxActiveChecks int `yaml:"max-active-checks"`
	// Interval to flush resume data of torrents to the database.
	ResumeWriteInterval time.Duration `yaml:"resume-write-interval"`

	// Max number of connected and connecting peers per torrent.
	MaxPeersPerTorrent int `yaml:"max-peers-per-torrent"`
	// Max number of incoming connections per torrent.
	MaxPeerAccept int `yaml:"max-peer-accept"`
	// Max number of peer addresses to keep per torrent.
	MaxPeerAddresses int `yaml:"max-peer-addresses"`
	// Time to wait for TCP connection to open.
	ConnectTimeout time.Duration `yaml:"connect-timeout"`
	// Time to wait for BitTorrent handshake to complete.
	HandshakeTimeout time.Duration `yaml:"handshake-timeout"`
	// Peers that do not send any bitfield, have, piece or metadata message in this duration are disconnected.
	PeerIdleTimeout time.Duration `yaml:"peer-idle-timeout"`
	// File of blocked address ranges, one CIDR prefix or "first-last" range per line. Loaded once at start.
	IPFilterFile string `yaml:"ip-filter-file"`

	// Max number of blocks requested from a peer but not received yet.
	MaxRequestsPerPeer int `yaml:"max-requests-per-peer"`
	// Time to wait for a requested block before it can be requested from another peer.
	RequestTimeout time.Duration `yaml:"request-timeout"`
	// Max number of live requests of a single block.
	MaxDuplicateRequests int `yaml:"max-duplicate-requests"`

	// Interval of choking rounds.
	UnchokeInterval time.Duration `yaml:"unchoke-interval"`
	// Number of interested peers unchoked at the same time.
	UnchokeSlots int `yaml:"unchoke-slots"`
	// Number of choked interested peers unchoked optimistically. The slots rotate every 3rd choking round.
	OptimisticUnchokeSlots int `yaml:"optimistic-unchoke-slots"`

	// Number of retries of a failed disk read or write before the torrent is stopped with an error.
	MaxDiskRetries int `yaml:"max-disk-retries"`
	// Time to wait between retries of a failed disk operation.
	DiskRetryInterval time.Duration `yaml:"disk-retry-interval"`

	// Number of peer addresses to request in announce request.
	TrackerNumWant int `yaml:"tracker-num-want"`
	// To prevent spamming the tracker an interval is set to wait before the next announce.
	TrackerMinAnnounceInterval time.Duration `yaml:"tracker-min-announce-interval"`
	// TrackerError alert is emitted after this many consecutive failed announces.
	TrackerErrorThreshold int `yaml:"tracker-error-threshold"`
	// Retry interval of the first failed announce. It is doubled on each failure up to TrackerMaxBackoff.
	TrackerInitialBackoff time.Duration `yaml:"tracker-initial-backoff"`
	TrackerMaxBackoff     time.Duration `yaml:"tracker-max-backoff"`
	// Total time to wait for a HTTP tracker response.
	TrackerHTTPTimeout time.Duration `yaml:"tracker-http-timeout"`
	// Time to wait for announcing stopped event.
	TrackerStopTimeout time.Duration `yaml:"tracker-stop-timeout"`
	// User agent sent in HTTP tracker requests.
	TrackerHTTPUserAgent string `yaml:"tracker-http-user-agent"`

	// Enables the DHT node.
	DHTEnabled bool `yaml:"dht-enabled"`
	// Address and port of the DHT node.
	DHTAddress string `yaml:"dht-address"`
	DHTPort    int    `yaml:"dht-port"`
	// Comma separated host:port list of the bootstrap nodes.
	DHTRouters string `yaml:"dht-routers"`
	// Intervals of DHT announces. The minimum interval is used when the torrent needs more peers.
	DHTAnnounceInterval    time.Duration `yaml:"dht-announce-interval"`
	DHTMinAnnounceInterval time.Duration `yaml:"dht-min-announce-interval"`

	// First 8 bytes of the peer ID. The rest is random.
	PeerIDPrefix string `yaml:"peer-id-prefix"`
	// Client version sent in extension handshake.
	ExtensionHandshakeClientVersion string `yaml:"extension-handshake-client-version"`

	// Clock of the session. Timeouts and intervals are measured with it.
	Clock func() time.Time `yaml:"-"`
}

// DefaultConfig for Session. Do not pass zero value Config to NewSession. Copy this struct and modify instead.
var DefaultConfig = Config{
	ListenAddr:   "0.0.0.0:50000",
	TickInterval: time.Second,

	AlertMask:      CategoryAll,
	AlertQueueSize: 1000,

	MaxActiveChecks:     1,
	ResumeWriteInterval: 30 * time.Second,

	MaxPeersPerTorrent: 50,
	MaxPeerAccept:      25,
	MaxPeerAddresses:   2000,
	ConnectTimeout:     5 * time.Second,
	HandshakeTimeout:   10 * time.Second,
	PeerIdleTimeout:    2 * time.Minute,

	MaxRequestsPerPeer:   50,
	RequestTimeout:       20 * time.Second,
	MaxDuplicateRequests: 2,

	UnchokeInterval:        10 * time.Second,
	UnchokeSlots:           4,
	OptimisticUnchokeSlots: 1,

	MaxDiskRetries:    3,
	DiskRetryInterval: time.Second,

	TrackerNumWant:             100,
	TrackerMinAnnounceInterval: time.Minute,
	TrackerErrorThreshold:      3,
	TrackerInitialBackoff:      5 * time.Second,
	TrackerMaxBackoff:          30 * time.Minute,
	TrackerHTTPTimeout:         30 * time.Second,
	TrackerStopTimeout:         5 * time.Second,
	TrackerHTTPUserAgent:       "libtorrent-go/" + Version,

	DHTAddress:             "0.0.0.0",
	DHTPort:                7246,
	DHTAnnounceInterval:    30 * time.Minute,
	DHTMinAnnounceInterval: time.Minute,

	PeerIDPrefix:                    "-LG0100-",
	ExtensionHandshakeClientVersion: "libtorrent-go " + Version,

	Clock: time.Now,
}

// Version of the client.
const Version = "0.1.0"

func (c *Config) validate() error {
	switch {
	case c.AlertQueueSize < 1:
		return errors.New("alert queue size must be positive")
	case c.MaxActiveChecks < 1:
		return errors.New("max active checks must be positive")
	case c.MaxPeersPerTorrent < 1:
		return errors.New("max peers per torrent must be positive")
	case c.MaxRequestsPerPeer < 1:
		return errors.New("max requests per peer must be positive")
	case c.MaxDuplicateRequests < 1:
		return errors.New("max duplicate requests must be positive")
	case c.UnchokeSlots < 1:
		return errors.New("unchoke slots must be positive")
	case c.OptimisticUnchokeSlots < 0:
		return errors.New("optimistic unchoke slots cannot be negative")
	case c.MaxDiskRetries < 0:
		return errors.New("max disk retries cannot be negative")
	case c.TrackerErrorThreshold < 1:
		return errors.New("tracker error threshold must be positive")
	case c.RequestTimeout <= 0, c.PeerIdleTimeout <= 0, c.ConnectTimeout <= 0, c.HandshakeTimeout <= 0:
		return errors.New("timeouts must be positive")
	case c.UnchokeInterval <= 0, c.TrackerMinAnnounceInterval <= 0, c.ResumeWriteInterval <= 0:
		return errors.New("intervals must be positive")
	case c.TickInterval < 0:
		return errors.New("tick interval cannot be negative")
	case len(c.PeerIDPrefix) > 20:
		return errors.New("peer id prefix is longer than 20 bytes")
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return nil
}
