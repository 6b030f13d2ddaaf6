package torrent

import "time"

// tick runs the periodic work of the session and the torrents.
func (s *Session) tick() {
	now := s.clock()
	s.startChecks()
	speedTick := now.Sub(s.lastSpeedTick) >= speedTickInterval
	if speedTick {
		s.lastSpeedTick = now
		s.metrics.tick()
	}
	for _, t := range s.sortedTorrents() {
		if speedTick {
			t.downloadSpeed.Tick()
			t.uploadSpeed.Tick()
			for pe := range t.peers {
				pe.DownloadSpeed.Tick()
				pe.UploadSpeed.Tick()
			}
		}
		t.tick(now)
	}
	s.pruneStopAnnouncers()
}

func (s *Session) pruneStopAnnouncers() {
	running := s.stopAnnouncers[:0]
	for _, sa := range s.stopAnnouncers {
		select {
		case <-sa.Done():
		default:
			running = append(running, sa)
		}
	}
	s.stopAnnouncers = running
}

func (t *torrent) tick(now time.Time) {
	cfg := t.session.config
	if t.state == Finished && t.options.Seed && !t.paused {
		t.setState(Seeding)
		t.unchoke()
	}
	if t.state == Seeding && t.active() {
		if !t.lastSeedTick.IsZero() {
			t.seededFor += now.Sub(t.lastSeedTick)
			t.resumeDirty = true
		}
		t.lastSeedTick = now
	} else {
		t.lastSeedTick = time.Time{}
	}
	for pe := range t.peers {
		if pe.Reap(now, cfg.PeerIdleTimeout) {
			t.closePeer(pe, errPeerIdle)
		}
	}
	if t.picker != nil && t.state == Downloading {
		// Timed out blocks can be requested from other peers.
		for _, to := range t.picker.TimedOut(now) {
			t.alert(AlertBlockTimeout, nil, "request of piece %d block %d timed out", to.Request.Piece, to.Request.Block)
		}
		for pe := range t.peers {
			t.requestBlocks(pe)
		}
	}
	t.requestMetadata()
	if t.active() {
		t.tickAnnouncers()
		t.dialPeers()
	}
	if now.Sub(t.lastUnchoke) >= cfg.UnchokeInterval {
		t.unchoke()
	}
	if t.resumeDirty && now.Sub(t.lastResume) >= cfg.ResumeWriteInterval {
		t.lastResume = now
		if err := t.writeResume(); err != nil {
			t.log.Errorln("cannot write resume data:", err)
		}
	}
}
