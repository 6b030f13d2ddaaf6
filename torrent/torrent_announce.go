package torrent

import (
	"context"
	"errors"

	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/addrlist"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/announcer"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/dhtsource"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/tracker"
)

func (t *torrent) startAnnouncers() {
	if len(t.announcers) > 0 || !t.active() {
		return
	}
	cfg := t.session.config
	acfg := announcer.Config{
		NumWant:             cfg.TrackerNumWant,
		MinInterval:         cfg.TrackerMinAnnounceInterval,
		ErrorThreshold:      cfg.TrackerErrorThreshold,
		InitialBackoff:      cfg.TrackerInitialBackoff,
		MaxBackoff:          cfg.TrackerMaxBackoff,
		RandomizationFactor: 0.5,
	}
	for _, trk := range t.trackers {
		an := announcer.NewPeriodicalAnnouncer(trk, acfg, t.announceRequest, t.log)
		an.Owner = t
		if t.state.complete() {
			an.Completed()
		}
		t.announcers = append(t.announcers, an)
	}
}

func (t *torrent) announceRequest() tracker.AnnounceRequest {
	req := tracker.AnnounceRequest{
		InfoHash:   t.infoHash,
		PeerID:     t.session.peerID,
		Port:       t.session.port,
		Uploaded:   t.bytesUploaded,
		Downloaded: t.bytesDownloaded,
	}
	if t.info != nil {
		req.Left = t.info.TotalLength
		if t.store != nil {
			req.Left -= t.store.VerifiedBytes()
		}
	}
	return req
}

// stopAnnouncers cancels the running announces.
// If sendStopped is true, trackers that were announced to are sent the stopped event in the background.
func (t *torrent) stopAnnouncers(sendStopped bool) {
	var announced []tracker.Tracker
	for _, an := range t.announcers {
		an.Close()
		if an.HasAnnounced {
			announced = append(announced, an.Tracker)
		}
	}
	t.announcers = nil
	if !sendStopped || len(announced) == 0 {
		return
	}
	sa := announcer.NewStopAnnouncer(announced, t.announceRequest(), t.session.config.TrackerStopTimeout, t.log)
	t.session.stopAnnouncers = append(t.session.stopAnnouncers, sa)
	go sa.Run()
}

func (t *torrent) needMorePeers() bool {
	return len(t.peers)+len(t.connecting)+t.addrList.Len() < t.session.config.MaxPeersPerTorrent
}

func (t *torrent) tickAnnouncers() {
	now := t.session.clock()
	need := t.needMorePeers()
	for _, an := range t.announcers {
		an.NeedMorePeers(need)
		an.Tick(now, t.session.announceResultC)
	}
	if t.session.dht == nil || t.info.IsPrivate() {
		return
	}
	t.dhtAnnouncer.NeedMorePeers(need)
	t.dhtAnnouncer.Tick(now, func() {
		t.session.dht.Request(t.infoHash)
	})
}

func (s *Session) handleAnnounceResult(res *announcer.Result) {
	t, ok := res.Announcer.Owner.(*torrent)
	if !ok || t.removed {
		return
	}
	err := res.Announcer.HandleResult(res, s.clock())
	url := res.Announcer.Tracker.URL()
	if res.Error != nil {
		if errors.Is(res.Error, context.Canceled) {
			return
		}
		var aerr *announcer.AnnounceError
		if errors.As(err, &aerr) {
			t.alert(AlertTrackerError, &TransientTrackerError{URL: url, err: aerr}, "tracker %s: %s", url, aerr)
		}
		return
	}
	resp := res.Response
	if resp.WarningMessage != "" {
		t.log.Warningf("tracker %s: %s", url, resp.WarningMessage)
	}
	t.alert(AlertTrackerReply, nil, "tracker %s returned %d peers", url, len(resp.Peers))
	t.addPeerAddrs(resp.Peers, addrlist.Tracker)
}

func (s *Session) handleDHTResult(res dhtsource.Result) {
	t, ok := s.torrents[res.InfoHash]
	if !ok || t.removed || t.info.IsPrivate() {
		return
	}
	t.addPeerAddrs(res.Peers, addrlist.DHT)
}
