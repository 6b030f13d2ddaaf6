package torrent

import (
	"context"
	"encoding/hex"
	"io"
	"net"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/addrlist"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/allocator"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/announcer"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/logger"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/metainfo"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/piecepicker"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/piecestore"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/tracker"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/tracker/httptracker"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/unchoker"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/verifier"
	"github.com/rcrowley/go-metrics"
)

// Torrent is a handle to a torrent in a Session. Methods are safe for concurrent use.
type Torrent struct {
	torrent *torrent
}

// torrent is owned by the event loop of the session.
// Only the status snapshot may be accessed from other goroutines, with mStatus held.
type torrent struct {
	session  *Session
	infoHash [20]byte
	id       string
	seq      int
	name     string
	savePath string
	options  AddTorrentOptions
	addedAt  time.Time
	log      logger.Logger

	// nil until metadata is downloaded for magnet links
	info *metainfo.Info

	state   State
	err     error
	paused  bool
	removed bool

	store      *piecestore.Store
	picker     *piecepicker.PiecePicker
	generation uint64
	writing    map[piecepicker.Request]struct{}
	verifying  map[uint32]struct{}
	// payload bytes accepted from peers for pieces that are not verified yet
	pieceBytes map[uint32]int64

	allocator     *allocator.Allocator
	verifier      *verifier.Verifier
	checkedPieces uint32
	// bitfield loaded from resume data, applied once when the files are opened
	resumeBitfield []byte

	trackers     []tracker.Tracker
	announcers   []*announcer.PeriodicalAnnouncer
	dhtAnnouncer *announcer.DHTAnnouncer
	addrList     *addrlist.AddrList
	fixedPeers   []string
	// resolved addresses of fixedPeers
	fixedAddrs    []*net.TCPAddr
	fixedResolved bool
	resolving     bool

	peers      map[*peer]struct{}
	connecting map[string]struct{} // addresses being dialed or handshaked
	incoming   int
	unchoker   *unchoker.Unchoker
	// set while all peers are being disconnected
	closingPeers bool

	metadata *metadataDownload

	downloadSpeed   metrics.EWMA
	uploadSpeed     metrics.EWMA
	bytesDownloaded int64
	bytesUploaded   int64
	bytesWasted     int64
	hashFailures    int
	seededFor       time.Duration
	lastSeedTick    time.Time
	finishedAt      time.Time
	lastUnchoke     time.Time
	lastResume      time.Time
	resumeDirty     bool

	mStatus sync.RWMutex
	status  Status
}

func newTorrent(s *Session, infoHash [20]byte, name, savePath string, opt AddTorrentOptions) *torrent {
	id := hex.EncodeToString(infoHash[:])
	if name == "" {
		name = id
	}
	t := &torrent{
		session:       s,
		infoHash:      infoHash,
		id:            id,
		name:          name,
		savePath:      savePath,
		options:       opt,
		addedAt:       s.clock(),
		log:           logger.New("torrent " + id[:8]),
		paused:        opt.Paused,
		writing:       make(map[piecepicker.Request]struct{}),
		verifying:     make(map[uint32]struct{}),
		pieceBytes:    make(map[uint32]int64),
		addrList:      addrlist.New(s.config.MaxPeerAddresses, nil, s.port),
		fixedPeers:    append([]string(nil), opt.Peers...),
		peers:         make(map[*peer]struct{}),
		connecting:    make(map[string]struct{}),
		unchoker:      unchoker.New(s.config.UnchokeSlots, s.config.OptimisticUnchokeSlots),
		downloadSpeed: metrics.NewEWMA1(),
		uploadSpeed:   metrics.NewEWMA1(),
		dhtAnnouncer:  announcer.NewDHTAnnouncer(s.config.DHTAnnounceInterval, s.config.DHTMinAnnounceInterval),
	}
	return t
}

func (t *torrent) setInfo(info *metainfo.Info) {
	t.info = info
	t.name = info.Name
}

// addTrackers creates the trackers with supported URLs. Duplicate and unsupported URLs are skipped.
func (t *torrent) addTrackers(urls []string) {
	seen := make(map[string]struct{}, len(t.trackers))
	for _, trk := range t.trackers {
		seen[trk.URL()] = struct{}{}
	}
	for _, s := range urls {
		if _, ok := seen[s]; ok {
			continue
		}
		u, err := url.Parse(s)
		if err != nil {
			t.log.Warningln("cannot parse tracker url:", err)
			continue
		}
		switch u.Scheme {
		case "http", "https":
			cfg := t.session.config
			t.trackers = append(t.trackers, httptracker.New(s, u, cfg.TrackerHTTPTimeout, cfg.TrackerHTTPUserAgent))
			seen[s] = struct{}{}
		default:
			t.log.Debugln("unsupported tracker scheme:", u.Scheme)
		}
	}
}

func (t *torrent) trackerURLs() []string {
	urls := make([]string, len(t.trackers))
	for i, trk := range t.trackers {
		urls[i] = trk.URL()
	}
	return urls
}

func (t *torrent) closeTrackers() {
	for _, trk := range t.trackers {
		if c, ok := trk.(io.Closer); ok {
			_ = c.Close()
		}
	}
}

func (t *torrent) totalLength() int64 {
	if t.info == nil {
		return 0
	}
	return t.info.TotalLength
}

// active returns true if the torrent can exchange data with peers.
func (t *torrent) active() bool {
	if t.paused || t.removed {
		return false
	}
	switch t.state {
	case DownloadingMetadata, Downloading, Finished, Seeding:
		return true
	}
	return false
}

func (t *torrent) setState(s State) {
	if t.state == s {
		return
	}
	old := t.state
	t.state = s
	t.resumeDirty = true
	t.log.Debugf("state: %s -> %s", old, s)
	t.session.alert(newAlert(AlertStateChanged, t.id, t.session.clock(), nil, "%s: state changed from %s to %s", t.name, old, s))
}

func (t *torrent) alert(typ AlertType, err error, format string, args ...any) {
	args = append([]any{t.name}, args...)
	t.session.alert(newAlert(typ, t.id, t.session.clock(), err, "%s: "+format, args...))
}

func (t *torrent) progress() float64 {
	if t.state.complete() {
		return 1
	}
	total := t.totalLength()
	if total == 0 || t.store == nil {
		return 0
	}
	return float64(t.store.VerifiedBytes()) / float64(total)
}

func (t *torrent) publishStatus() {
	st := Status{
		State:           t.state,
		Error:           t.err,
		Paused:          t.paused,
		Name:            t.name,
		InfoHash:        t.id,
		Progress:        t.progress(),
		CheckProgress:   t.checkedPieces,
		TotalSize:       t.totalLength(),
		TotalDownloaded: t.bytesDownloaded,
		TotalUploaded:   t.bytesUploaded,
		TotalWasted:     t.bytesWasted,
		HashFailures:    t.hashFailures,
		DownloadRate:    int(t.downloadSpeed.Rate()),
		UploadRate:      int(t.uploadSpeed.Rate()),
		PeerCount:       len(t.peers),
		SeededFor:       t.seededFor,
		AddedAt:         t.addedAt,
		FinishedAt:      t.finishedAt,
	}
	if t.info != nil {
		st.NumPieces = t.info.NumPieces
	}
	if t.store != nil {
		bf := t.store.Bitfield()
		st.PiecesVerified = bf.Count()
	}
	t.mStatus.Lock()
	t.status = st
	t.mStatus.Unlock()
}

// InfoHash returns the hex encoded info hash of the torrent.
func (t *Torrent) InfoHash() string {
	return t.torrent.id
}

// Status returns the last published status of the torrent. It never blocks on I/O.
func (t *Torrent) Status() Status {
	t.torrent.mStatus.RLock()
	defer t.torrent.mStatus.RUnlock()
	return t.torrent.status
}

// Name of the torrent. For magnet links it may change when the metadata is downloaded.
func (t *Torrent) Name() string {
	return t.Status().Name
}

func (t *Torrent) do(fn func(t *torrent) error) error {
	var err error
	serr := t.torrent.session.do(func() {
		if t.torrent.removed {
			err = ErrTorrentRemoved
			return
		}
		err = fn(t.torrent)
	})
	if serr != nil {
		return serr
	}
	return err
}

// AddPeer adds the address to the peer list of the torrent. It is dialed when the torrent is active.
func (t *Torrent) AddPeer(addr string) error {
	tcpAddr, err := t.torrent.session.resolve(context.Background(), addr, t.torrent.session.config.ConnectTimeout)
	if err != nil {
		return err
	}
	return t.do(func(t *torrent) error {
		t.addrList.Push([]*net.TCPAddr{tcpAddr}, addrlist.Manual)
		t.dialPeers()
		return nil
	})
}

// Pause disconnects all peers and stops announcing until Resume is called.
func (t *Torrent) Pause() error {
	return t.do(func(t *torrent) error {
		t.pause()
		return nil
	})
}

// Resume a paused torrent. Resume also clears the error of a torrent in Error state and checks its files again.
func (t *Torrent) Resume() error {
	return t.do(func(t *torrent) error {
		t.resume()
		return nil
	})
}

// ForceRecheck discards the download state and hashes the files again.
func (t *Torrent) ForceRecheck() error {
	return t.do(func(t *torrent) error {
		return t.forceRecheck()
	})
}

// AddPiece writes a full piece that is obtained by the caller. The piece is verified like a downloaded piece.
func (t *Torrent) AddPiece(index uint32, data []byte) error {
	return t.do(func(t *torrent) error {
		return t.addPiece(index, data)
	})
}

// Peers returns the connected peers of the torrent.
func (t *Torrent) Peers() []PeerInfo {
	var ret []PeerInfo
	_ = t.do(func(t *torrent) error {
		ret = t.peerInfos()
		return nil
	})
	return ret
}

// Trackers returns the announce status of the trackers of the torrent.
func (t *Torrent) Trackers() []TrackerInfo {
	var ret []TrackerInfo
	_ = t.do(func(t *torrent) error {
		ret = t.trackerInfos()
		return nil
	})
	return ret
}

func (t *torrent) trackerInfos() []TrackerInfo {
	ret := make([]TrackerInfo, 0, len(t.trackers))
	byURL := make(map[string]*announcer.PeriodicalAnnouncer, len(t.announcers))
	for _, an := range t.announcers {
		byURL[an.Tracker.URL()] = an
	}
	for _, trk := range t.trackers {
		ti := TrackerInfo{URL: trk.URL(), Status: announcer.NotContactedYet.String()}
		if an, ok := byURL[trk.URL()]; ok {
			st := an.Stats()
			ti.Status = st.Status.String()
			ti.Seeders = st.Seeders
			ti.Leechers = st.Leechers
			ti.LastAnnounce = st.LastAnnounce
			ti.NextAnnounce = st.NextAnnounce
			if st.Error != nil {
				ti.Error = &TransientTrackerError{URL: trk.URL(), err: st.Error}
			}
		}
		ret = append(ret, ti)
	}
	return ret
}

func (t *torrent) peerInfos() []PeerInfo {
	ret := make([]PeerInfo, 0, len(t.peers))
	for pe := range t.peers {
		ret = append(ret, pe.info())
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Addr < ret[j].Addr })
	return ret
}
