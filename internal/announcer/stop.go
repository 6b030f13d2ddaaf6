package announcer

import (
	"context"
	"sync"
	"time"

	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/logger"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/tracker"
)

// StopAnnouncer is used to send a stop event to the trackers of a torrent.
type StopAnnouncer struct {
	log      logger.Logger
	timeout  time.Duration
	trackers []tracker.Tracker
	request  tracker.AnnounceRequest
	closeC   chan struct{}
	closeO   sync.Once
	doneC    chan struct{}
}

// NewStopAnnouncer returns a new StopAnnouncer. The stopped event is sent when Run is called.
func NewStopAnnouncer(trackers []tracker.Tracker, req tracker.AnnounceRequest, timeout time.Duration, l logger.Logger) *StopAnnouncer {
	req.Event = tracker.EventStopped
	req.NumWant = 0
	return &StopAnnouncer{
		log:      l,
		timeout:  timeout,
		trackers: trackers,
		request:  req,
		closeC:   make(chan struct{}),
		doneC:    make(chan struct{}),
	}
}

// Close aborts the running announces and waits for Run to return.
func (a *StopAnnouncer) Close() {
	a.closeO.Do(func() { close(a.closeC) })
	<-a.doneC
}

// Done is closed when all trackers are announced or the timeout is reached.
func (a *StopAnnouncer) Done() <-chan struct{} {
	return a.doneC
}

// Run the announcer. Invoke with go statement.
func (a *StopAnnouncer) Run() {
	defer close(a.doneC)

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
		case <-a.closeC:
			cancel()
		}
	}()

	var wg sync.WaitGroup
	for _, trk := range a.trackers {
		wg.Add(1)
		go func(trk tracker.Tracker) {
			defer wg.Done()
			_, err := trk.Announce(ctx, a.request)
			if err != nil {
				a.log.Debugln("cannot send stopped event to", trk.URL(), ":", err)
			}
		}(trk)
	}
	wg.Wait()
}
