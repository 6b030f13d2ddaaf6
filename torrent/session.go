// Package torrent provides a BitTorrent session that downloads and seeds many torrents.
package torrent

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/acceptor"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/allocator"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/announcer"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/dhtsource"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/diskio"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/ipfilter"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/logger"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/peerconn"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/resolver"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/resumer"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/resumer/boltdbresumer"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/storage"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/storage/filestorage"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/verifier"
	"github.com/gofrs/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/go-homedir"
	bolt "go.etcd.io/bbolt"
)

var torrentsBucket = []byte("torrents")

const speedTickInterval = 5 * time.Second

// Session contains torrents, the peer listener and the DHT node.
// All torrent state is owned by a single event loop goroutine.
type Session struct {
	config  Config
	clock   func() time.Time
	log     logger.Logger
	peerID  [20]byte
	port    int
	db      *bolt.DB
	resumer resumer.Resumer
	alerts  *alertQueue
	metrics *sessionMetrics

	acceptor *acceptor.Acceptor
	dht      *dhtsource.Source
	disk     *diskio.Worker

	// newStorage opens the files of a torrent under dir.
	newStorage func(dir string, preallocate bool) (storage.Storage, error)
	resolve    func(ctx context.Context, addr string, timeout time.Duration) (*net.TCPAddr, error)
	ipFilter   *ipfilter.Filter

	// Written only by the event loop, with the lock held.
	mTorrents sync.RWMutex
	torrents  map[[20]byte]*torrent
	nextSeq   int

	// Owned by the event loop.
	peers          map[*peerconn.Conn]*peer
	handshaking    map[*peerconn.Conn]struct{}
	stopAnnouncers []*announcer.StopAnnouncer
	lastSpeedTick  time.Time

	commandC          chan func()
	tickC             chan chan struct{}
	diskResultC       chan *diskio.Job
	announceResultC   chan *announcer.Result
	dhtResultC        chan dhtsource.Result
	newConnC          chan net.Conn
	handshakeResultC  chan handshakeResult
	peerMessagesC     chan peerconn.Message
	peerDisconnectedC chan *peerconn.Conn
	allocatorResultC  chan *allocator.Allocator
	verifierProgressC chan verifier.Progress
	verifierResultC   chan *verifier.Verifier
	resolveResultC    chan resolveResult

	// Cancels dials and handshakes.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeC    chan struct{}
	closeO    sync.Once
	loopDoneC chan struct{}
	closeErr  error
}

// NewSession returns a new Session and starts its event loop.
func NewSession(cfg Config) (*Session, error) {
	err := cfg.validate()
	if err != nil {
		return nil, newConfigError(err)
	}
	s := &Session{
		config:            cfg,
		clock:             cfg.Clock,
		log:               logger.New("session"),
		metrics:           newSessionMetrics(),
		torrents:          make(map[[20]byte]*torrent),
		peers:             make(map[*peerconn.Conn]*peer),
		handshaking:       make(map[*peerconn.Conn]struct{}),
		commandC:          make(chan func()),
		tickC:             make(chan chan struct{}),
		diskResultC:       make(chan *diskio.Job),
		announceResultC:   make(chan *announcer.Result),
		dhtResultC:        make(chan dhtsource.Result, 10),
		newConnC:          make(chan net.Conn),
		handshakeResultC:  make(chan handshakeResult),
		peerMessagesC:     make(chan peerconn.Message),
		peerDisconnectedC: make(chan *peerconn.Conn),
		allocatorResultC:  make(chan *allocator.Allocator),
		verifierProgressC: make(chan verifier.Progress),
		verifierResultC:   make(chan *verifier.Verifier),
		resolveResultC:    make(chan resolveResult),
		closeC:            make(chan struct{}),
		loopDoneC:         make(chan struct{}),
		newStorage:        openFileStorage,
		resolve:           resolver.Resolve,
		ipFilter:          ipfilter.New(),
	}
	s.alerts = newAlertQueue(cfg.AlertQueueSize, cfg.AlertMask, cfg.Clock)
	s.alerts.onDrop = func() { s.metrics.alertsDropped.Inc(1) }
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.peerID, err = generatePeerID(cfg.PeerIDPrefix)
	if err != nil {
		return nil, err
	}
	var lis net.Listener
	defer func() {
		if err != nil {
			s.cancel()
			s.alerts.Close()
			if lis != nil {
				_ = lis.Close()
			}
			if s.db != nil {
				_ = s.db.Close()
			}
		}
	}()
	if cfg.Database != "" {
		err = s.openDatabase(cfg.Database)
		if err != nil {
			return nil, err
		}
	}
	if cfg.IPFilterFile != "" {
		err = s.loadIPFilter(cfg.IPFilterFile)
		if err != nil {
			err = newConfigError(err)
			return nil, err
		}
	}
	if cfg.ListenAddr != "" {
		var lerr error
		lis, lerr = net.Listen("tcp", cfg.ListenAddr)
		if lerr != nil {
			s.log.Errorln("cannot listen for peer connections:", lerr)
			s.alert(newAlert(AlertListenFailed, "", s.clock(), lerr, "cannot listen on %s: %s", cfg.ListenAddr, lerr))
		} else {
			s.port = lis.Addr().(*net.TCPAddr).Port
		}
	}
	if cfg.DHTEnabled {
		s.dht, err = dhtsource.New(dhtsource.Config{
			Address:      cfg.DHTAddress,
			Port:         cfg.DHTPort,
			Routers:      cfg.DHTRouters,
			AnnouncePort: s.port,
		})
		if err != nil {
			return nil, err
		}
	}
	s.disk = diskio.New(cfg.MaxDiskRetries, cfg.DiskRetryInterval, s.diskResultC)
	if s.resumer != nil {
		s.loadTorrents()
	}
	// The acceptor is created last. Closing it waits for Run to return.
	if lis != nil {
		s.acceptor = acceptor.New(lis, s.newConnC, s.log)
		s.log.Infoln("listening peer connections on", lis.Addr())
		go s.acceptor.Run()
	}
	go s.disk.Run()
	if s.dht != nil {
		go s.dht.Run(s.dhtResultC)
	}
	go s.run()
	return s, nil
}

func openFileStorage(dir string, preallocate bool) (storage.Storage, error) {
	sto, err := filestorage.New(dir, preallocate)
	if err != nil {
		return nil, err
	}
	return sto, nil
}

func (s *Session) openDatabase(path string) error {
	path, err := homedir.Expand(path)
	if err != nil {
		return err
	}
	err = os.MkdirAll(filepath.Dir(path), 0750)
	if err != nil {
		return err
	}
	db, err := bolt.Open(path, 0640, &bolt.Options{Timeout: time.Second})
	if err == bolt.ErrTimeout {
		return errors.New("resume database is locked by another process")
	} else if err != nil {
		return err
	}
	res, err := boltdbresumer.New(db, torrentsBucket)
	if err != nil {
		_ = db.Close()
		return err
	}
	s.db = db
	s.resumer = res
	return nil
}

func generatePeerID(prefix string) ([20]byte, error) {
	var id [20]byte
	n := copy(id[:], prefix)
	u, err := uuid.NewV4()
	if err != nil {
		return id, err
	}
	copy(id[n:], u[:])
	return id, nil
}

// ListenAddr returns the address of the peer listener. It is nil if the session does not accept connections.
func (s *Session) ListenAddr() net.Addr {
	if s.acceptor == nil {
		return nil
	}
	return s.acceptor.Addr()
}

// PeerID returns the peer ID of the session sent in handshakes and announces.
func (s *Session) PeerID() [20]byte {
	return s.peerID
}

func (s *Session) run() {
	defer close(s.loopDoneC)
	var tickerC <-chan time.Time
	if s.config.TickInterval > 0 {
		ticker := time.NewTicker(s.config.TickInterval)
		defer ticker.Stop()
		tickerC = ticker.C
	}
	for {
		select {
		case fn := <-s.commandC:
			fn()
		case <-tickerC:
			s.tick()
		case done := <-s.tickC:
			s.tick()
			close(done)
		case j := <-s.diskResultC:
			s.handleDiskResult(j)
		case res := <-s.announceResultC:
			s.handleAnnounceResult(res)
		case res := <-s.dhtResultC:
			s.handleDHTResult(res)
		case nc := <-s.newConnC:
			s.handleNewConn(nc)
		case res := <-s.handshakeResultC:
			s.handleHandshakeResult(res)
		case msg := <-s.peerMessagesC:
			s.handlePeerMessage(msg)
		case conn := <-s.peerDisconnectedC:
			s.handlePeerDisconnected(conn)
		case al := <-s.allocatorResultC:
			s.handleAllocatorDone(al)
		case p := <-s.verifierProgressC:
			s.handleVerifierProgress(p)
		case ve := <-s.verifierResultC:
			s.handleVerifierDone(ve)
		case res := <-s.resolveResultC:
			s.handleResolveResult(res)
		case <-s.closeC:
			return
		}
		s.publishStatus()
	}
}

// do runs fn on the event loop and waits for it to return.
func (s *Session) do(fn func()) error {
	done := make(chan struct{})
	cmd := func() {
		defer close(done)
		fn()
	}
	select {
	case s.commandC <- cmd:
	case <-s.closeC:
		return ErrSessionClosed
	}
	<-done
	return nil
}

// Tick runs a scheduling round on the event loop and waits for it to finish.
// It must be called periodically if Config.TickInterval is zero.
func (s *Session) Tick() error {
	done := make(chan struct{})
	select {
	case s.tickC <- done:
	case <-s.closeC:
		return ErrSessionClosed
	}
	<-done
	return nil
}

func (s *Session) alert(a Alert) {
	s.alerts.Push(a)
}

// PopAlerts removes and returns at most max alerts from the queue, oldest first. It never blocks.
// If alerts are dropped since the last call, the first returned alert is of type AlertAlertsDropped.
func (s *Session) PopAlerts(max int) []Alert {
	return s.alerts.Pop(max)
}

// Stats returns the counters of the session.
func (s *Session) Stats() Stats {
	return s.metrics.stats()
}

func (s *Session) publishStatus() {
	for _, t := range s.torrents {
		t.publishStatus()
	}
}

func (s *Session) sortedTorrents() []*torrent {
	s.mTorrents.RLock()
	torrents := make([]*torrent, 0, len(s.torrents))
	for _, t := range s.torrents {
		torrents = append(torrents, t)
	}
	s.mTorrents.RUnlock()
	sort.Slice(torrents, func(i, j int) bool { return torrents[i].seq < torrents[j].seq })
	return torrents
}

// ListTorrents returns the torrents in the session in the order they are added.
func (s *Session) ListTorrents() []*Torrent {
	torrents := s.sortedTorrents()
	ret := make([]*Torrent, len(torrents))
	for i, t := range torrents {
		ret[i] = &Torrent{torrent: t}
	}
	return ret
}

// GetTorrent returns the torrent with the hex encoded info hash or nil if there is no such torrent.
func (s *Session) GetTorrent(infoHash string) *Torrent {
	ih, err := parseInfoHash(infoHash)
	if err != nil {
		return nil
	}
	s.mTorrents.RLock()
	defer s.mTorrents.RUnlock()
	t, ok := s.torrents[ih]
	if !ok {
		return nil
	}
	return &Torrent{torrent: t}
}

// RemoveTorrent stops the torrent and removes it from the session. Downloaded files are kept.
func (s *Session) RemoveTorrent(infoHash string) error {
	ih, err := parseInfoHash(infoHash)
	if err != nil {
		return newConfigError(err)
	}
	var found bool
	err = s.do(func() {
		t, ok := s.torrents[ih]
		if !ok {
			return
		}
		found = true
		s.removeTorrent(t)
	})
	if err != nil {
		return err
	}
	if !found {
		return newConfigError(errors.New("torrent not found: " + infoHash))
	}
	return nil
}

func (s *Session) removeTorrent(t *torrent) {
	t.removed = true
	t.abortCheck()
	t.closePeers()
	t.stopAnnouncers(true)
	t.closeStore()
	s.mTorrents.Lock()
	delete(s.torrents, t.infoHash)
	s.mTorrents.Unlock()
	s.metrics.torrents.Update(int64(len(s.torrents)))
	if s.resumer != nil {
		if err := s.resumer.Delete(t.id); err != nil {
			s.log.Errorln("cannot delete resume data:", err)
		}
	}
	t.publishStatus()
	t.alert(AlertTorrentRemoved, nil, "torrent removed")
}

// Close stops all torrents and releases the resources of the session.
// Queued disk writes are flushed before Close returns. Close can be called more than once.
func (s *Session) Close() error {
	s.closeO.Do(func() {
		s.alerts.Close()
		close(s.closeC)
		<-s.loopDoneC
		s.closeErr = s.shutdown()
	})
	return s.closeErr
}

// shutdown is called after the event loop has stopped. It owns the torrent state from then on.
func (s *Session) shutdown() error {
	var result error
	if s.acceptor != nil {
		s.acceptor.Close()
	}
	if s.dht != nil {
		s.dht.Close()
	}
	s.cancel()
	torrents := s.sortedTorrents()
	for _, t := range torrents {
		t.abortCheck()
		t.closePeers()
		t.stopAnnouncers(true)
	}
	for conn := range s.handshaking {
		conn.Close()
	}
	s.wg.Wait()
	// Pending writes are written and results of other jobs are discarded.
	s.disk.Close()
	for _, t := range torrents {
		if s.resumer != nil {
			if err := t.writeResume(); err != nil {
				result = multierror.Append(result, err)
			}
		}
		if t.store != nil {
			if err := t.store.Close(); err != nil {
				result = multierror.Append(result, err)
			}
			t.store = nil
		}
	}
	for _, sa := range s.stopAnnouncers {
		<-sa.Done()
	}
	for _, t := range torrents {
		t.closeTrackers()
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	s.log.Debugln("session closed")
	return result
}
