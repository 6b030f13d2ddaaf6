package torrent

import (
	"encoding/hex"
	"errors"
	"io"
	"net"

	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/addrlist"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/bitfield"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/magnet"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/metainfo"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/resumer"
)

var errDuplicate = errors.New("torrent is already in session")

func parseInfoHash(s string) ([20]byte, error) {
	var ih [20]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return ih, err
	}
	if len(b) != 20 {
		return ih, errors.New("info hash must be 20 bytes")
	}
	copy(ih[:], b)
	return ih, nil
}

// AddTorrent reads a torrent descriptor from r and adds it to the session.
// Files are saved under savePath. A malformed descriptor or a duplicate info hash returns *ConfigError.
func (s *Session) AddTorrent(r io.Reader, savePath string, opt *AddTorrentOptions) (*Torrent, error) {
	if opt == nil {
		opt = &AddTorrentOptions{}
	}
	mi, err := metainfo.New(r)
	if err != nil {
		return nil, newConfigError(err)
	}
	if savePath == "" {
		return nil, newConfigError(errors.New("empty save path"))
	}
	info := mi.Info
	return s.add(info.Hash, info.Name, savePath, &info, append(mi.Trackers(), opt.Trackers...), *opt)
}

// AddMagnet adds a magnet link to the session. The metadata is downloaded from peers.
// A malformed link or a duplicate info hash returns *ConfigError.
func (s *Session) AddMagnet(link, savePath string, opt *AddTorrentOptions) (*Torrent, error) {
	if opt == nil {
		opt = &AddTorrentOptions{}
	}
	ml, err := magnet.Parse(link)
	if err != nil {
		return nil, newConfigError(err)
	}
	if savePath == "" {
		return nil, newConfigError(errors.New("empty save path"))
	}
	o := *opt
	o.Peers = append(append([]string(nil), opt.Peers...), ml.Peers...)
	return s.add(ml.InfoHash, ml.Name, savePath, nil, append(ml.Trackers, opt.Trackers...), o)
}

func (s *Session) add(ih [20]byte, name, savePath string, info *metainfo.Info, trackers []string, opt AddTorrentOptions) (*Torrent, error) {
	var t *torrent
	var addErr error
	err := s.do(func() {
		if _, ok := s.torrents[ih]; ok {
			addErr = newConfigError(errDuplicate)
			return
		}
		t = newTorrent(s, ih, name, savePath, opt)
		if info != nil {
			t.setInfo(info)
		}
		t.addTrackers(trackers)
		if s.resumer != nil {
			if err := s.resumer.Write(t.id, t.resumeSpec()); err != nil {
				addErr = err
				return
			}
		}
		s.insertTorrent(t)
		t.alert(AlertTorrentAdded, nil, "torrent added")
		t.start()
		t.publishStatus()
	})
	if err != nil {
		return nil, err
	}
	if addErr != nil {
		return nil, addErr
	}
	return &Torrent{torrent: t}, nil
}

func (s *Session) insertTorrent(t *torrent) {
	s.mTorrents.Lock()
	t.seq = s.nextSeq
	s.nextSeq++
	s.torrents[t.infoHash] = t
	s.mTorrents.Unlock()
	s.metrics.torrents.Update(int64(len(s.torrents)))
}

// loadTorrents restores the torrents from the resume database. It is called before the event loop is started.
func (s *Session) loadTorrents() {
	ids, err := s.resumer.List()
	if err != nil {
		s.log.Errorln("cannot list torrents in resume database:", err)
		return
	}
	for _, id := range ids {
		spec, err := s.resumer.Read(id)
		if err != nil {
			s.log.Errorf("cannot read resume data of torrent %s: %s", id, err)
			continue
		}
		t, err := s.loadTorrent(spec)
		if err != nil {
			s.log.Errorf("cannot load torrent %s: %s", id, err)
			continue
		}
		s.insertTorrent(t)
		t.start()
		t.publishStatus()
	}
	s.log.Infof("loaded %d existing torrents", len(s.torrents))
}

func (s *Session) loadTorrent(spec *resumer.Spec) (*torrent, error) {
	var ih [20]byte
	if len(spec.InfoHash) != 20 {
		return nil, errors.New("invalid info hash")
	}
	copy(ih[:], spec.InfoHash)
	opt := AddTorrentOptions{
		Seed:                     spec.Seed,
		Paused:                   spec.Paused,
		Peers:                    spec.FixedPeers,
		KeepRedundantConnections: spec.KeepRedundantConnections,
	}
	t := newTorrent(s, ih, spec.Name, spec.Dest, opt)
	t.addedAt = spec.AddedAt
	t.bytesDownloaded = spec.BytesDownloaded
	t.bytesUploaded = spec.BytesUploaded
	t.bytesWasted = spec.BytesWasted
	t.seededFor = spec.SeededFor
	if len(spec.Info) > 0 {
		info, err := metainfo.NewInfo(spec.Info)
		if err != nil {
			return nil, err
		}
		if info.Hash != ih {
			return nil, errors.New("info hash mismatch in resume data")
		}
		t.setInfo(info)
		if len(spec.Bitfield) > 0 {
			if _, err := bitfield.NewBytes(spec.Bitfield, info.NumPieces); err == nil {
				t.resumeBitfield = spec.Bitfield
			} else {
				t.log.Warningln("discarding invalid bitfield in resume data:", err)
			}
		}
	}
	var trackers []string
	for _, tier := range spec.Trackers {
		trackers = append(trackers, tier...)
	}
	t.addTrackers(trackers)
	return t, nil
}

// resumeSpec returns the resume data of the torrent.
func (t *torrent) resumeSpec() *resumer.Spec {
	spec := &resumer.Spec{
		InfoHash:   t.infoHash[:],
		Dest:       t.savePath,
		Name:       t.name,
		FixedPeers: t.fixedPeers,
		AddedAt:    t.addedAt,
		Paused:     t.paused,
		Seed:       t.options.Seed,
		Stats:      t.resumeStats(),
	}
	spec.KeepRedundantConnections = t.options.KeepRedundantConnections
	for _, u := range t.trackerURLs() {
		spec.Trackers = append(spec.Trackers, []string{u})
	}
	if t.info != nil {
		spec.Info = t.info.Bytes
	}
	if t.store != nil {
		bf := t.store.Bitfield()
		spec.Bitfield = bf.Bytes()
	}
	return spec
}

func (t *torrent) resumeStats() resumer.Stats {
	return resumer.Stats{
		BytesDownloaded: t.bytesDownloaded,
		BytesUploaded:   t.bytesUploaded,
		BytesWasted:     t.bytesWasted,
		SeededFor:       t.seededFor,
	}
}

// writeResume saves the changing fields of the resume data.
func (t *torrent) writeResume() error {
	res := t.session.resumer
	if res == nil || t.removed {
		return nil
	}
	if err := res.WriteStats(t.id, t.resumeStats()); err != nil {
		return err
	}
	if err := res.WritePaused(t.id, t.paused); err != nil {
		return err
	}
	// Bitfield is not saved while the pieces on disk are not known.
	if t.store != nil && !t.state.checking() && t.state != Error && t.state != QueuedChecking {
		bf := t.store.Bitfield()
		if err := res.WriteBitfield(t.id, bf.Bytes()); err != nil {
			return err
		}
	}
	t.resumeDirty = false
	return nil
}

// addFixedPeers pushes the peers given when the torrent was added to the address list.
// Host names are resolved once in a separate goroutine.
func (t *torrent) addFixedPeers() {
	if t.fixedResolved {
		t.addrList.Push(t.fixedAddrs, addrlist.Magnet)
		return
	}
	if t.resolving || len(t.fixedPeers) == 0 {
		return
	}
	t.resolving = true
	s := t.session
	peers := t.fixedPeers
	s.wg.Add(1)
	go s.resolvePeers(t, peers)
}

type resolveResult struct {
	torrent *torrent
	addrs   []*net.TCPAddr
}

func (s *Session) resolvePeers(t *torrent, peers []string) {
	defer s.wg.Done()
	var addrs []*net.TCPAddr
	for _, p := range peers {
		addr, err := s.resolve(s.ctx, p, s.config.ConnectTimeout)
		if err != nil {
			t.log.Debugln("invalid peer address:", err)
			continue
		}
		addrs = append(addrs, addr)
	}
	select {
	case s.resolveResultC <- resolveResult{torrent: t, addrs: addrs}:
	case <-s.closeC:
	}
}

func (s *Session) handleResolveResult(res resolveResult) {
	t := res.torrent
	t.resolving = false
	t.fixedResolved = true
	t.fixedAddrs = res.addrs
	if !t.active() {
		return
	}
	t.addrList.Push(t.fixedAddrs, addrlist.Magnet)
	t.dialPeers()
}
