package torrent

import (
	"context"
	"errors"
	"net"
	"sort"

	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/addrlist"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/btconn"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/peerconn"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/peerprotocol"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/piece"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/piecepicker"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/unchoker"
)

var errPeerIdle = errors.New("peer is idle")

// peer is a connection that finished the handshake.
type peer struct {
	*peerconn.Conn
	torrent *torrent
	// number of read jobs queued for the requests of the peer
	pendingReads int
}

func (pe *peer) Choking() bool         { return pe.AmChoking }
func (pe *peer) Interested() bool      { return pe.PeerInterested }
func (pe *peer) DownloadRate() float64 { return pe.DownloadSpeed.Rate() }
func (pe *peer) UploadRate() float64   { return pe.UploadSpeed.Rate() }

func (pe *peer) info() PeerInfo {
	pi := PeerInfo{
		Addr:            pe.Addr.String(),
		ID:              pe.ID,
		State:           pe.State().String(),
		Outgoing:        pe.Outgoing,
		PiecesHave:      pe.Bitfield.Count(),
		AmChoking:       pe.AmChoking,
		AmInterested:    pe.AmInterested,
		PeerChoking:     pe.PeerChoking,
		PeerInterested:  pe.PeerInterested,
		DownloadRate:    int(pe.DownloadSpeed.Rate()),
		UploadRate:      int(pe.UploadSpeed.Rate()),
		BytesDownloaded: pe.BytesDownloaded,
		BytesUploaded:   pe.BytesUploaded,
		Outstanding:     pe.Outstanding(),
		ConnectedAt:     pe.ConnectedAt,
	}
	if pe.ExtensionHandshake != nil {
		pi.Client = pe.ExtensionHandshake.V
	}
	return pi
}

// seed returns true if the peer has all pieces.
func (pe *peer) seed() bool {
	return pe.Bitfield.Len() > 0 && pe.Bitfield.All()
}

type handshakeResult struct {
	conn *peerconn.Conn
	// nil for incoming connections
	torrent  *torrent
	nc       net.Conn
	infoHash [20]byte
	ext      btconn.Extensions
	id       [20]byte
	err      error
}

func (s *Session) peerConnConfig() peerconn.Config {
	return peerconn.Config{
		MaxRequests:  s.config.MaxRequestsPerPeer,
		Messages:     s.peerMessagesC,
		Disconnected: s.peerDisconnectedC,
	}
}

func (s *Session) dial(t *torrent, addr *net.TCPAddr) {
	select {
	case <-s.closeC:
		return
	default:
	}
	if s.blocked(addr) {
		t.alert(AlertPeerBlocked, errPeerBlocked, "not connecting to blocked peer %s", addr)
		return
	}
	conn, err := peerconn.New(addr, s.peerConnConfig())
	if err != nil {
		s.log.Errorln("cannot create peer connection:", err)
		return
	}
	t.connecting[addr.String()] = struct{}{}
	s.handshaking[conn] = struct{}{}
	s.wg.Add(1)
	go s.handshakeOutgoing(conn, t)
}

func (s *Session) handshakeOutgoing(conn *peerconn.Conn, t *torrent) {
	defer s.wg.Done()
	res := handshakeResult{conn: conn, torrent: t, infoHash: t.infoHash}
	nc, err := btconn.Dial(s.ctx, conn.Addr, s.config.ConnectTimeout)
	if err == nil {
		stop := context.AfterFunc(s.ctx, func() { _ = nc.Close() })
		res.ext, res.id, err = btconn.Handshake(nc, s.config.HandshakeTimeout, t.infoHash, s.peerID, btconn.NewExtensions(true))
		stop()
		if err != nil {
			_ = nc.Close()
		} else {
			res.nc = nc
		}
	}
	res.err = err
	select {
	case s.handshakeResultC <- res:
	case <-s.closeC:
		if res.nc != nil {
			_ = res.nc.Close()
		}
	}
}

func (s *Session) handleNewConn(nc net.Conn) {
	if s.blocked(nc.RemoteAddr()) {
		s.log.Debugln("rejected connection from blocked address", nc.RemoteAddr())
		s.alert(newAlert(AlertPeerBlocked, "", s.clock(), errPeerBlocked, "rejected blocked peer %s", nc.RemoteAddr()))
		_ = nc.Close()
		return
	}
	conn, err := peerconn.NewIncoming(nc, s.peerConnConfig())
	if err != nil {
		s.log.Errorln("cannot create peer connection:", err)
		_ = nc.Close()
		return
	}
	s.handshaking[conn] = struct{}{}
	s.wg.Add(1)
	go s.handshakeIncoming(conn, nc)
}

func (s *Session) handshakeIncoming(conn *peerconn.Conn, nc net.Conn) {
	defer s.wg.Done()
	stop := context.AfterFunc(s.ctx, func() { _ = nc.Close() })
	defer stop()
	res := handshakeResult{conn: conn, nc: nc}
	res.ext, res.id, res.infoHash, res.err = btconn.Accept(nc, s.config.HandshakeTimeout, s.hasInfoHash, btconn.NewExtensions(true), s.peerID)
	select {
	case s.handshakeResultC <- res:
	case <-s.closeC:
		_ = nc.Close()
	}
}

func (s *Session) hasInfoHash(ih [20]byte) bool {
	s.mTorrents.RLock()
	defer s.mTorrents.RUnlock()
	_, ok := s.torrents[ih]
	return ok
}

func (s *Session) handleHandshakeResult(res handshakeResult) {
	delete(s.handshaking, res.conn)
	t := res.torrent
	if t != nil {
		delete(t.connecting, res.conn.Addr.String())
	} else if res.err == nil {
		t = s.torrents[res.infoHash]
	}
	if res.err != nil {
		res.conn.Close()
		if t == nil || t.removed {
			s.log.Debugln("incoming handshake failed:", res.err)
			return
		}
		t.log.Debugln("handshake failed:", res.err)
		t.alert(AlertPeerError, &TransientPeerError{Addr: res.conn.String(), err: res.err}, "cannot connect to %s: %s", res.conn, res.err)
		t.dialPeers()
		return
	}
	if t == nil || t.removed || !t.active() || len(t.peers) >= s.config.MaxPeersPerTorrent ||
		(!res.conn.Outgoing && t.incoming >= s.config.MaxPeerAccept) || t.connectedTo(res.id) {
		_ = res.nc.Close()
		res.conn.Close()
		return
	}
	if res.conn.Outgoing {
		if _, err := res.conn.Connected(res.nc); err != nil {
			_ = res.nc.Close()
			res.conn.Close()
			return
		}
	}
	var numPieces uint32
	if t.info != nil {
		numPieces = t.info.NumPieces
	}
	if _, err := res.conn.HandshakeDone(res.id, res.ext.Extended(), numPieces, s.clock()); err != nil {
		res.conn.Close()
		return
	}
	pe := &peer{Conn: res.conn, torrent: t}
	s.peers[res.conn] = pe
	t.peers[pe] = struct{}{}
	if !res.conn.Outgoing {
		t.incoming++
	}
	s.metrics.peers.Inc(1)
	t.peerConnected(pe)
}

func (t *torrent) connectedTo(id [20]byte) bool {
	for pe := range t.peers {
		if pe.ID == id {
			return true
		}
	}
	return false
}

func (t *torrent) connectedAddr(addr string) bool {
	for pe := range t.peers {
		if pe.Addr.String() == addr {
			return true
		}
	}
	return false
}

func (t *torrent) peerConnected(pe *peer) {
	cfg := t.session.config
	if t.store != nil && !t.state.checking() {
		bf := t.store.Bitfield()
		pe.SendMessage(peerprotocol.BitfieldMessage{Data: bf.Bytes()})
	}
	var metadataSize uint32
	if t.info != nil {
		metadataSize = uint32(len(t.info.Bytes))
	}
	pe.SendExtensionHandshake(peerprotocol.NewExtensionHandshake(metadataSize, cfg.ExtensionHandshakeClientVersion, cfg.MaxRequestsPerPeer))
	t.log.Debugln("peer connected:", pe)
	t.alert(AlertPeerConnected, nil, "peer %s connected", pe)
}

// dialPeers connects to the addresses in the address list until the peer limit is reached.
func (t *torrent) dialPeers() {
	if !t.active() {
		return
	}
	for len(t.peers)+len(t.connecting) < t.session.config.MaxPeersPerTorrent && t.addrList.Len() > 0 {
		addr, _ := t.addrList.Pop()
		key := addr.String()
		if _, ok := t.connecting[key]; ok {
			continue
		}
		if t.connectedAddr(key) {
			continue
		}
		t.session.dial(t, addr)
	}
}

func (s *Session) handlePeerMessage(msg peerconn.Message) {
	pe, ok := s.peers[msg.Conn]
	if !ok {
		return
	}
	ev, err := pe.Receive(msg.Message, s.clock())
	if err != nil {
		pe.torrent.closePeer(pe, err)
		return
	}
	pe.torrent.handlePeerEvent(pe, ev)
}

func (s *Session) handlePeerDisconnected(conn *peerconn.Conn) {
	pe, ok := s.peers[conn]
	if !ok {
		return
	}
	pe.torrent.closePeer(pe, conn.Err())
}

func (t *torrent) handlePeerEvent(pe *peer, ev peerconn.Event) {
	switch ev.Kind {
	case peerconn.EventChoked:
		if t.picker != nil {
			for _, r := range ev.Dropped {
				t.picker.HandleCanceled(pe, piecepicker.Request{Piece: r.Index, Block: int(r.Begin / piece.BlockSize)})
			}
		}
	case peerconn.EventUnchoked:
		t.requestBlocks(pe)
	case peerconn.EventInterested:
		t.maybeUnchoke(pe)
	case peerconn.EventNotInterested:
		pe.Choke()
	case peerconn.EventHave:
		if t.picker != nil {
			t.picker.HandleHave(pe, ev.Index)
		}
		t.peerAvailabilityChanged(pe)
	case peerconn.EventBitfield:
		if t.picker != nil {
			t.picker.HandleBitfield(pe, &pe.Bitfield)
		}
		t.peerAvailabilityChanged(pe)
	case peerconn.EventRequest:
		t.handleRequest(pe, ev)
	case peerconn.EventBlock:
		t.handleBlock(pe, ev)
	case peerconn.EventExtensionHandshake:
		t.handleExtensionHandshake(pe)
	case peerconn.EventMetadata:
		t.handleMetadataMessage(pe, ev.Metadata)
	}
}

func (t *torrent) peerAvailabilityChanged(pe *peer) {
	if t.state.complete() && pe.seed() && !t.options.KeepRedundantConnections {
		t.log.Debugln("disconnecting seed:", pe)
		t.closePeer(pe, nil)
		return
	}
	t.updateInterest(pe)
	t.requestBlocks(pe)
}

// syncPeer updates a connected peer after the pieces on disk become known.
func (t *torrent) syncPeer(pe *peer) {
	if t.store == nil || t.picker == nil || t.state.checking() {
		return
	}
	if t.info != nil && pe.Bitfield.Len() == 0 {
		if err := pe.SetNumPieces(t.info.NumPieces); err != nil {
			t.closePeer(pe, err)
			return
		}
	}
	for i := uint32(0); i < t.store.NumPieces(); i++ {
		if t.store.Verified(i) {
			pe.SendMessage(peerprotocol.HaveMessage{Index: i})
		}
	}
	t.picker.HandleBitfield(pe, &pe.Bitfield)
	t.peerAvailabilityChanged(pe)
}

func (t *torrent) updateInterest(pe *peer) {
	if t.store == nil || t.state != Downloading {
		pe.SetInterested(false)
		return
	}
	for i := uint32(0); i < pe.Bitfield.Len(); i++ {
		if pe.Bitfield.Test(i) && !t.store.Verified(i) {
			pe.SetInterested(true)
			return
		}
	}
	pe.SetInterested(false)
}

func (t *torrent) closePeer(pe *peer, err error) {
	if _, ok := t.peers[pe]; !ok {
		return
	}
	pe.Close()
	delete(t.peers, pe)
	delete(t.session.peers, pe.Conn)
	if !pe.Outgoing {
		t.incoming--
	}
	t.session.metrics.peers.Dec(1)
	if t.picker != nil {
		t.picker.HandleDisconnect(pe)
	}
	t.unchoker.HandleDisconnect(pe)
	t.metadataPeerGone(pe)
	if err != nil {
		t.log.Debugf("peer %s disconnected: %s", pe, err)
		t.alert(AlertPeerError, &TransientPeerError{Addr: pe.String(), err: err}, "peer %s: %s", pe, err)
	}
	t.alert(AlertPeerDisconnected, nil, "peer %s disconnected", pe)
	if t.closingPeers {
		return
	}
	t.dialPeers()
	if t.active() {
		for other := range t.peers {
			t.requestBlocks(other)
		}
	}
}

func (t *torrent) closePeers() {
	t.closingPeers = true
	for pe := range t.peers {
		t.closePeer(pe, nil)
	}
	t.closingPeers = false
}

// addPeerAddrs adds addresses to the address list of the torrent.
func (t *torrent) addPeerAddrs(addrs []*net.TCPAddr, source addrlist.Source) {
	t.addrList.Push(addrs, source)
	t.dialPeers()
}

func (t *torrent) maybeUnchoke(pe *peer) {
	if !t.canUpload() {
		return
	}
	t.unchoker.FastUnchoke(pe, t.unchokerPeers())
}

func (t *torrent) canUpload() bool {
	return t.active() && (t.state == Downloading || t.state == Seeding)
}

// unchoke runs a choking round.
func (t *torrent) unchoke() {
	t.lastUnchoke = t.session.clock()
	if !t.canUpload() {
		for pe := range t.peers {
			pe.Choke()
		}
		return
	}
	t.unchoker.Tick(t.unchokerPeers(), t.state == Seeding)
}

// unchokerPeers returns the peers sorted by address.
func (t *torrent) unchokerPeers() []unchoker.Peer {
	peers := make([]*peer, 0, len(t.peers))
	for pe := range t.peers {
		peers = append(peers, pe)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].Addr.String() < peers[j].Addr.String() })
	ret := make([]unchoker.Peer, len(peers))
	for i, pe := range peers {
		ret[i] = pe
	}
	return ret
}
