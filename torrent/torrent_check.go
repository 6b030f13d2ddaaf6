package torrent

import (
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/allocator"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/bitfield"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/diskio"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/piecepicker"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/verifier"
)

// start is called once when the torrent is added to the session.
func (t *torrent) start() {
	if t.info == nil {
		t.setState(DownloadingMetadata)
		if !t.paused {
			t.startAnnouncers()
			t.addFixedPeers()
			t.dialPeers()
		}
		return
	}
	t.setState(QueuedChecking)
}

// startChecks promotes queued torrents to checking while the number of active checks is below the limit.
func (s *Session) startChecks() {
	active := 0
	var queued []*torrent
	for _, t := range s.sortedTorrents() {
		if t.checkActive() {
			active++
		} else if t.state == QueuedChecking && !t.paused && t.info != nil {
			queued = append(queued, t)
		}
	}
	for _, t := range queued {
		if active >= s.config.MaxActiveChecks {
			return
		}
		t.startCheck()
		active++
	}
}

func (t *torrent) checkActive() bool {
	return t.allocator != nil || t.verifier != nil
}

func (t *torrent) startCheck() {
	t.checkedPieces = 0
	if t.store != nil {
		// Files are already open after a recheck request.
		t.startVerifier()
		return
	}
	sto, err := t.session.newStorage(t.savePath, t.options.PreAllocate)
	if err != nil {
		t.stop(err)
		return
	}
	if t.options.PreAllocate {
		t.setState(Allocating)
	}
	t.allocator = allocator.New(t)
	go t.allocator.Run(t.info, sto, t.session.allocatorResultC)
}

func (t *torrent) startVerifier() {
	t.setState(CheckingExistingData)
	t.verifier = verifier.New(t)
	go t.verifier.Run(t.store, t.session.verifierProgressC, t.session.verifierResultC)
}

func (s *Session) handleAllocatorDone(al *allocator.Allocator) {
	t := al.Owner.(*torrent)
	if t.allocator != al {
		if al.Store != nil {
			_ = al.Store.Close()
		}
		return
	}
	t.allocator = nil
	if al.Error != nil {
		t.stop(al.Error)
		s.startChecks()
		return
	}
	t.store = al.Store
	switch {
	case al.HasExisting && t.resumeBitfield != nil:
		t.setState(CheckingResumeData)
		bf, err := bitfield.NewBytes(t.resumeBitfield, t.info.NumPieces)
		if err == nil {
			for i := uint32(0); i < bf.Len(); i++ {
				if bf.Test(i) {
					t.store.SetVerified(i)
				}
			}
		}
		t.resumeBitfield = nil
		t.finishCheck()
	case al.HasExisting:
		t.resumeBitfield = nil
		t.startVerifier()
	default:
		t.resumeBitfield = nil
		t.finishCheck()
	}
}

func (s *Session) handleVerifierProgress(p verifier.Progress) {
	t := p.Verifier.Owner.(*torrent)
	if t.verifier != p.Verifier {
		return
	}
	t.checkedPieces = p.Checked
}

func (s *Session) handleVerifierDone(ve *verifier.Verifier) {
	t := ve.Owner.(*torrent)
	if t.verifier != ve {
		return
	}
	t.verifier = nil
	if ve.Error != nil {
		t.stop(ve.Error)
		s.startChecks()
		return
	}
	for i := uint32(0); i < ve.Bitfield.Len(); i++ {
		if ve.Bitfield.Test(i) {
			t.store.SetVerified(i)
		}
	}
	t.finishCheck()
}

// finishCheck is called when the pieces on disk are known.
func (t *torrent) finishCheck() {
	t.writing = make(map[piecepicker.Request]struct{})
	t.verifying = make(map[uint32]struct{})
	t.pieceBytes = make(map[uint32]int64)
	t.picker = piecepicker.New(pieceState{t}, t.session.config.RequestTimeout, t.session.config.MaxDuplicateRequests)
	t.resumeDirty = true
	if t.store.Completed() {
		if t.finishedAt.IsZero() {
			t.finishedAt = t.session.clock()
		}
		t.setState(Finished)
	} else {
		t.setState(Downloading)
	}
	t.session.startChecks()
	if t.paused {
		return
	}
	for pe := range t.peers {
		t.syncPeer(pe)
	}
	t.startAnnouncers()
	t.addFixedPeers()
	t.dialPeers()
}

// abortCheck stops the running allocator or verifier. Returns false if no check is running.
func (t *torrent) abortCheck() bool {
	if !t.checkActive() {
		return false
	}
	if t.allocator != nil {
		// Store of an undelivered result is closed by the allocator.
		t.allocator.Close()
		t.allocator = nil
	}
	if t.verifier != nil {
		t.verifier.Close()
		t.verifier = nil
	}
	t.checkedPieces = 0
	return true
}

// forceRecheck discards the download state and queues a full hash check.
func (t *torrent) forceRecheck() error {
	if t.info == nil {
		return ErrNoMetadata
	}
	t.abortCheck()
	t.closePeers()
	t.stopAnnouncers(true)
	t.err = nil
	t.resetPieces()
	if t.store != nil {
		t.store.ClearAll()
	}
	t.resumeBitfield = nil
	t.setState(QueuedChecking)
	t.session.startChecks()
	return nil
}

// resetPieces forgets blocks being written and verified. Results of their disk jobs are ignored.
func (t *torrent) resetPieces() {
	t.generation++
	t.picker = nil
	t.writing = make(map[piecepicker.Request]struct{})
	t.verifying = make(map[uint32]struct{})
	t.pieceBytes = make(map[uint32]int64)
}

// closeStore closes the files after the queued disk jobs are done.
func (t *torrent) closeStore() {
	t.resetPieces()
	if t.store == nil {
		return
	}
	t.session.disk.Enqueue(&diskio.Job{Kind: diskio.CloseStore, Store: t.store})
	t.store = nil
}

func (t *torrent) pause() {
	if t.paused {
		return
	}
	t.paused = true
	if t.abortCheck() {
		t.setState(QueuedChecking)
	}
	t.closePeers()
	t.stopAnnouncers(true)
	t.resumeDirty = true
	t.alert(AlertTorrentPaused, nil, "torrent paused")
}

func (t *torrent) resume() {
	if !t.paused && t.state != Error {
		return
	}
	if t.state == Error {
		t.err = nil
		t.closeStore()
		t.setState(QueuedChecking)
		if t.info == nil {
			t.setState(DownloadingMetadata)
		}
	}
	if t.paused {
		t.paused = false
		t.resumeDirty = true
		t.alert(AlertTorrentResumed, nil, "torrent resumed")
	}
	switch t.state {
	case QueuedChecking:
		t.session.startChecks()
	case DownloadingMetadata, Downloading, Finished, Seeding:
		for pe := range t.peers {
			t.syncPeer(pe)
		}
		t.startAnnouncers()
		t.addFixedPeers()
		t.dialPeers()
	}
}

// stop puts the torrent into Error state with a sticky storage error.
func (t *torrent) stop(err error) {
	t.err = &StorageError{err: err}
	t.log.Errorln("torrent stopped:", err)
	t.abortCheck()
	t.closePeers()
	t.stopAnnouncers(true)
	t.resetPieces()
	t.setState(Error)
	t.alert(AlertFileError, err, "%s", err)
	t.alert(AlertTorrentError, t.err, "%s", t.err)
}

// pieceState reports blocks that are being written as received so they are not requested again.
type pieceState struct {
	t *torrent
}

func (p pieceState) NumPieces() uint32 { return p.t.store.NumPieces() }

func (p pieceState) NumBlocks(index uint32) int { return p.t.store.NumBlocks(index) }

func (p pieceState) Verified(index uint32) bool { return p.t.store.Verified(index) }

func (p pieceState) BlockReceived(index uint32, block int) bool {
	if p.t.store.BlockReceived(index, block) {
		return true
	}
	if _, ok := p.t.verifying[index]; ok {
		return true
	}
	_, ok := p.t.writing[piecepicker.Request{Piece: index, Block: block}]
	return ok
}
