package announcer

import "time"

// DHTAnnouncer decides when the torrent is announced to the DHT network.
type DHTAnnouncer struct {
	interval      time.Duration
	minInterval   time.Duration
	lastAnnounce  time.Time
	needMorePeers bool
}

// NewDHTAnnouncer returns a new DHTAnnouncer which is due on the first Tick.
func NewDHTAnnouncer(interval, minInterval time.Duration) *DHTAnnouncer {
	return &DHTAnnouncer{
		interval:      interval,
		minInterval:   minInterval,
		needMorePeers: true,
	}
}

// NeedMorePeers makes the announcer use the minimum interval.
func (a *DHTAnnouncer) NeedMorePeers(val bool) {
	a.needMorePeers = val
}

// Tick calls announce if an announce is due at now.
func (a *DHTAnnouncer) Tick(now time.Time, announce func()) {
	d := a.interval
	if a.needMorePeers {
		d = a.minInterval
	}
	if !a.lastAnnounce.IsZero() && now.Sub(a.lastAnnounce) < d {
		return
	}
	a.lastAnnounce = now
	announce()
}
