package torrent

import (
	"fmt"
	"time"
)

// Category of an alert. Categories are bit flags that can be combined into a mask.
type Category uint32

// Alert categories.
const (
	CategoryError Category = 1 << iota
	CategoryStatus
	CategoryStorage
	CategoryTracker
	CategoryPeer
	CategoryProgress

	CategoryAll = CategoryError | CategoryStatus | CategoryStorage | CategoryTracker | CategoryPeer | CategoryProgress
)

var categoryNames = map[Category]string{
	CategoryError:    "error",
	CategoryStatus:   "status",
	CategoryStorage:  "storage",
	CategoryTracker:  "tracker",
	CategoryPeer:     "peer",
	CategoryProgress: "progress",
}

func (c Category) String() string {
	if s, ok := categoryNames[c]; ok {
		return s
	}
	return fmt.Sprintf("category(%d)", uint32(c))
}

// priority of the category when the alert queue is full. Alerts with lower priority are dropped first.
func (c Category) priority() int {
	switch c {
	case CategoryError:
		return 4
	case CategoryStatus:
		return 3
	case CategoryStorage, CategoryTracker:
		return 2
	default:
		return 1
	}
}

// AlertType identifies the event that the Alert describes.
type AlertType int

// Alert types.
const (
	AlertTorrentError AlertType = iota
	AlertListenFailed
	AlertStateChanged
	AlertTorrentAdded
	AlertTorrentRemoved
	AlertTorrentFinished
	AlertTorrentPaused
	AlertTorrentResumed
	AlertMetadataReceived
	AlertAlertsDropped
	AlertFileError
	AlertTrackerReply
	AlertTrackerError
	AlertPeerConnected
	AlertPeerDisconnected
	AlertPeerError
	AlertPieceFinished
	AlertHashFailed
	AlertBlockTimeout
	AlertPeerBlocked
)

var alertTypes = [...]struct {
	name     string
	category Category
}{
	AlertTorrentError:     {"torrent_error", CategoryError},
	AlertListenFailed:     {"listen_failed", CategoryError},
	AlertStateChanged:     {"state_changed", CategoryStatus},
	AlertTorrentAdded:     {"torrent_added", CategoryStatus},
	AlertTorrentRemoved:   {"torrent_removed", CategoryStatus},
	AlertTorrentFinished:  {"torrent_finished", CategoryStatus},
	AlertTorrentPaused:    {"torrent_paused", CategoryStatus},
	AlertTorrentResumed:   {"torrent_resumed", CategoryStatus},
	AlertMetadataReceived: {"metadata_received", CategoryStatus},
	AlertAlertsDropped:    {"alerts_dropped", CategoryStatus},
	AlertFileError:        {"file_error", CategoryStorage},
	AlertTrackerReply:     {"tracker_reply", CategoryTracker},
	AlertTrackerError:     {"tracker_error", CategoryTracker},
	AlertPeerConnected:    {"peer_connected", CategoryPeer},
	AlertPeerDisconnected: {"peer_disconnected", CategoryPeer},
	AlertPeerError:        {"peer_error", CategoryPeer},
	AlertPieceFinished:    {"piece_finished", CategoryProgress},
	AlertHashFailed:       {"hash_failed", CategoryProgress},
	AlertBlockTimeout:     {"block_timeout", CategoryProgress},
	AlertPeerBlocked:      {"peer_blocked", CategoryPeer},
}

func (t AlertType) String() string {
	if t < 0 || int(t) >= len(alertTypes) {
		return "unknown"
	}
	return alertTypes[t].name
}

// Category returns the category that alerts of this type belong to.
func (t AlertType) Category() Category {
	if t < 0 || int(t) >= len(alertTypes) {
		return 0
	}
	return alertTypes[t].category
}

// Alert describes an event in the session. Alerts are values and never change after they are created.
type Alert struct {
	Type     AlertType
	Category Category
	Message  string
	// Hex encoded info hash of the torrent. Empty for session alerts.
	InfoHash string
	Time     time.Time
	// Err is set for alerts about errors. It is one of *StorageError, *TransientPeerError,
	// *TransientTrackerError or *DataIntegrityError.
	Err error
}

func (a Alert) String() string {
	return a.Time.Format("15:04:05") + " [" + a.Type.String() + "] " + a.Message
}

func newAlert(typ AlertType, infoHash string, now time.Time, err error, format string, args ...any) Alert {
	return Alert{
		Type:     typ,
		Category: typ.Category(),
		Message:  fmt.Sprintf(format, args...),
		InfoHash: infoHash,
		Time:     now,
		Err:      err,
	}
}
