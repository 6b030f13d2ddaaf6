package torrent

import (
	"errors"
	"fmt"

	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/diskio"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/peerconn"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/peerprotocol"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/piece"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/piecepicker"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/piecestore"
)

// Max length of a block that is served to a peer.
const maxRequestLength = 128 * 1024

var errNotDownloading = errors.New("torrent is not downloading")

// requestBlocks sends block requests to the peer until its request queue is full.
func (t *torrent) requestBlocks(pe *peer) {
	if t.picker == nil || t.state != Downloading || !t.active() || pe.PeerChoking || !pe.AmInterested {
		return
	}
	max := t.session.config.MaxRequestsPerPeer
	now := t.session.clock()
	for i := 0; i < max && pe.Outstanding() < max; i++ {
		req, ok := t.picker.Pick(pe, &pe.Bitfield, now)
		if !ok {
			return
		}
		blk, ok := t.store.Piece(req.Piece).GetBlock(req.Block)
		if !ok {
			return
		}
		if err := pe.RequestBlock(req.Piece, blk.Begin, blk.Length, now); err != nil {
			t.log.Debugln("cannot request block:", err)
			return
		}
		t.picker.HandleRequested(pe, req, now)
	}
}

func (t *torrent) addWasted(n int64) {
	t.bytesWasted += n
	t.session.metrics.bytesWasted.Inc(n)
	t.resumeDirty = true
}

// handleBlock accepts a block that matches an outstanding request and queues it for writing.
func (t *torrent) handleBlock(pe *peer, ev peerconn.Event) {
	n := int64(len(ev.Data))
	if t.picker == nil || t.state != Downloading || !ev.Requested || ev.Index >= t.store.NumPieces() {
		t.addWasted(n)
		return
	}
	blk, ok := t.store.Piece(ev.Index).FindBlock(ev.Begin, ev.Length)
	if !ok {
		t.addWasted(n)
		return
	}
	req := piecepicker.Request{Piece: ev.Index, Block: int(blk.Index)}
	if (pieceState{t}).BlockReceived(req.Piece, req.Block) {
		t.addWasted(n)
		t.picker.HandleCanceled(pe, req)
		t.requestBlocks(pe)
		return
	}
	for _, other := range t.picker.HandleReceived(pe, req) {
		if op, ok := other.(*peer); ok {
			op.CancelRequest(ev.Index, blk.Begin, blk.Length)
		}
	}
	t.writing[req] = struct{}{}
	t.pieceBytes[ev.Index] += n
	t.bytesDownloaded += n
	t.downloadSpeed.Update(n)
	t.session.metrics.bytesDownloaded.Inc(n)
	t.session.metrics.downloadSpeed.Update(n)
	t.resumeDirty = true
	t.session.disk.Enqueue(&diskio.Job{
		Kind:       diskio.Write,
		Store:      t.store,
		Index:      ev.Index,
		Begin:      ev.Begin,
		Data:       ev.Data,
		Owner:      t,
		Peer:       pe,
		Generation: t.generation,
	})
	t.requestBlocks(pe)
}

// addPiece queues the write of a full piece that is obtained outside of the peer protocol.
func (t *torrent) addPiece(index uint32, data []byte) error {
	if t.info == nil {
		return ErrNoMetadata
	}
	if t.picker == nil || t.store == nil {
		return errNotDownloading
	}
	if index >= t.info.NumPieces {
		return piecestore.ErrInvalidPiece
	}
	if uint32(len(data)) != t.info.PieceLen(index) {
		return fmt.Errorf("invalid piece length: %d", len(data))
	}
	if t.store.Verified(index) {
		return nil
	}
	if _, ok := t.verifying[index]; ok {
		return nil
	}
	pi := t.store.Piece(index)
	for b := 0; b < pi.NumBlocks(); b++ {
		req := piecepicker.Request{Piece: index, Block: b}
		blk, _ := pi.GetBlock(b)
		for _, other := range t.picker.HandleReceived(nil, req) {
			if op, ok := other.(*peer); ok {
				op.CancelRequest(index, blk.Begin, blk.Length)
			}
		}
		t.writing[req] = struct{}{}
	}
	t.session.disk.Enqueue(&diskio.Job{
		Kind:       diskio.Write,
		Store:      t.store,
		Index:      index,
		Data:       append([]byte(nil), data...),
		Owner:      t,
		Generation: t.generation,
	})
	return nil
}

func (s *Session) handleDiskResult(j *diskio.Job) {
	if pe, ok := j.Peer.(*peer); ok && j.Kind == diskio.Read {
		pe.pendingReads--
	}
	t, ok := j.Owner.(*torrent)
	if !ok {
		if j.Error != nil {
			s.log.Errorf("disk %s error: %s", j.Kind, j.Error)
		}
		return
	}
	if t.removed || j.Store != t.store || j.Generation != t.generation {
		return
	}
	switch j.Kind {
	case diskio.Write:
		t.handleWriteDone(j)
	case diskio.Read:
		t.handleReadDone(j)
	case diskio.Verify:
		t.handleVerifyDone(j)
	}
}

// countRetries records the retried attempts of a disk job.
func (t *torrent) countRetries(j *diskio.Job) {
	if j.Retries == 0 {
		return
	}
	t.session.metrics.diskRetries.Inc(int64(j.Retries))
	if j.Error == nil {
		t.alert(AlertFileError, nil, "%s of piece %d succeeded after %d retries", j.Kind, j.Index, j.Retries)
	}
}

func (t *torrent) handleWriteDone(j *diskio.Job) {
	t.countRetries(j)
	if j.Error != nil {
		t.stop(j.Error)
		return
	}
	end := j.Begin + uint32(len(j.Data))
	for b := j.Begin / piece.BlockSize; b*piece.BlockSize < end; b++ {
		delete(t.writing, piecepicker.Request{Piece: j.Index, Block: int(b)})
		t.store.MarkBlock(j.Index, int(b))
	}
	if !t.store.PieceComplete(j.Index) {
		return
	}
	if _, ok := t.verifying[j.Index]; ok {
		return
	}
	t.verifying[j.Index] = struct{}{}
	t.session.disk.Enqueue(&diskio.Job{
		Kind:       diskio.Verify,
		Store:      t.store,
		Index:      j.Index,
		Owner:      t,
		Generation: t.generation,
	})
}

func (t *torrent) handleVerifyDone(j *diskio.Job) {
	delete(t.verifying, j.Index)
	t.countRetries(j)
	if j.Error != nil {
		t.stop(j.Error)
		return
	}
	if j.OK {
		t.pieceVerified(j.Index)
	} else {
		t.pieceHashFailed(j.Index)
	}
}

func (t *torrent) pieceVerified(index uint32) {
	t.store.SetVerified(index)
	delete(t.pieceBytes, index)
	t.resumeDirty = true
	t.alert(AlertPieceFinished, nil, "piece %d finished", index)
	for pe := range t.peers {
		pe.SendMessage(peerprotocol.HaveMessage{Index: index})
	}
	if t.store.Completed() {
		t.completed()
		return
	}
	for pe := range t.peers {
		t.updateInterest(pe)
	}
}

func (t *torrent) pieceHashFailed(index uint32) {
	length := int64(t.info.PieceLen(index))
	t.store.ClearPiece(index)
	t.picker.HandleHashFailed(index)
	t.hashFailures++
	t.session.metrics.hashFailures.Inc(1)
	if n := t.pieceBytes[index]; n > 0 {
		t.bytesDownloaded -= n
		t.session.metrics.bytesDownloaded.Dec(n)
		delete(t.pieceBytes, index)
	}
	t.addWasted(length)
	t.alert(AlertHashFailed, &DataIntegrityError{Piece: index}, "piece %d failed the hash check", index)
	for pe := range t.peers {
		t.requestBlocks(pe)
	}
}

func (t *torrent) completed() {
	if t.state != Downloading {
		return
	}
	t.finishedAt = t.session.clock()
	t.setState(Finished)
	t.alert(AlertTorrentFinished, nil, "torrent finished")
	for _, an := range t.announcers {
		an.Completed()
	}
	for pe := range t.peers {
		if pe.seed() && !t.options.KeepRedundantConnections {
			t.closePeer(pe, nil)
			continue
		}
		pe.SetInterested(false)
	}
	t.unchoke()
	if err := t.writeResume(); err != nil {
		t.log.Errorln("cannot write resume data:", err)
	}
}

// handleRequest queues a read for the block requested by the peer.
func (t *torrent) handleRequest(pe *peer, ev peerconn.Event) {
	if t.store == nil || !t.canUpload() || pe.AmChoking {
		return
	}
	if ev.Index >= t.store.NumPieces() || !t.store.Verified(ev.Index) {
		return
	}
	if ev.Length == 0 || ev.Length > maxRequestLength || int64(ev.Begin)+int64(ev.Length) > int64(t.store.Piece(ev.Index).Length) {
		return
	}
	if pe.pendingReads >= t.session.config.MaxRequestsPerPeer {
		return
	}
	pe.pendingReads++
	t.session.disk.Enqueue(&diskio.Job{
		Kind:       diskio.Read,
		Store:      t.store,
		Index:      ev.Index,
		Begin:      ev.Begin,
		Length:     ev.Length,
		Owner:      t,
		Peer:       pe,
		Generation: t.generation,
	})
}

func (t *torrent) handleReadDone(j *diskio.Job) {
	t.countRetries(j)
	if j.Error != nil {
		t.stop(j.Error)
		return
	}
	pe := j.Peer.(*peer)
	if _, ok := t.peers[pe]; !ok || pe.AmChoking || pe.State() != peerconn.Exchanging {
		return
	}
	n := int64(len(j.Data))
	pe.SendPiece(j.Index, j.Begin, j.Data)
	t.bytesUploaded += n
	t.uploadSpeed.Update(n)
	t.session.metrics.bytesUploaded.Inc(n)
	t.session.metrics.uploadSpeed.Update(n)
	t.resumeDirty = true
}
