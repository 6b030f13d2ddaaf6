// Package announcer schedules tracker and DHT announces of a torrent.
// Announcers do not own timers; the owner calls Tick with its own clock.
package announcer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/logger"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/tracker"
	"github.com/cenkalti/backoff/v3"
)

// Status of the tracker as seen by the announcer.
type Status int

// Tracker statuses.
const (
	NotContactedYet Status = iota
	Contacting
	Working
	NotWorking
)

var statusNames = [...]string{
	"not contacted yet",
	"contacting",
	"working",
	"not working",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

const defaultInterval = 30 * time.Minute

// Config of a PeriodicalAnnouncer.
type Config struct {
	// Number of peers asked from the tracker.
	NumWant int
	// Announces are never more frequent than MinInterval, regardless of what tracker says.
	MinInterval time.Duration
	// HandleResult reports a failure only after this many consecutive failed announces.
	ErrorThreshold int
	// Retry schedule of failed announces.
	InitialBackoff      time.Duration
	MaxBackoff          time.Duration
	RandomizationFactor float64
	// Clock used by the backoff.
	Clock backoff.Clock
}

// Result of a single announce, delivered to the channel given to Tick.
type Result struct {
	Announcer *PeriodicalAnnouncer
	Event     tracker.Event
	Response  *tracker.AnnounceResponse
	Error     error
}

// PeriodicalAnnouncer announces a torrent to a single tracker.
// All methods except the internal announce goroutine must be called from the same goroutine.
type PeriodicalAnnouncer struct {
	Tracker tracker.Tracker
	// Owner is an opaque value copied into results for routing.
	Owner any

	config       Config
	getRequest   func() tracker.AnnounceRequest
	status       Status
	interval     time.Duration
	minInterval  time.Duration
	nextAnnounce time.Time
	lastAnnounce time.Time
	seeders      int
	leechers     int
	failures     int
	lastError    *AnnounceError
	backoff      *backoff.ExponentialBackOff
	log          logger.Logger

	// HasAnnounced is true after the first successful announce.
	HasAnnounced bool

	completed     bool
	sentCompleted bool
	needMorePeers bool

	inFlight bool
	cancel   context.CancelFunc
	closeC   chan struct{}
	closeO   sync.Once
	wg       sync.WaitGroup
}

// NewPeriodicalAnnouncer returns an announcer which announces on the first Tick call.
// getRequest is called from Tick to fill the torrent stats of each request.
func NewPeriodicalAnnouncer(trk tracker.Tracker, cfg Config, getRequest func() tracker.AnnounceRequest, l logger.Logger) *PeriodicalAnnouncer {
	clock := cfg.Clock
	if clock == nil {
		clock = backoff.SystemClock
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.InitialBackoff,
		RandomizationFactor: cfg.RandomizationFactor,
		Multiplier:          2,
		MaxInterval:         cfg.MaxBackoff,
		MaxElapsedTime:      0, // never stop
		Clock:               clock,
	}
	b.Reset()
	return &PeriodicalAnnouncer{
		Tracker:       trk,
		config:        cfg,
		getRequest:    getRequest,
		status:        NotContactedYet,
		interval:      defaultInterval,
		minInterval:   cfg.MinInterval,
		backoff:       b,
		log:           l,
		needMorePeers: true,
		closeC:        make(chan struct{}),
	}
}

// Completed schedules a "completed" event on the next Tick.
// Only one completed event is sent during the lifetime of the announcer.
// If the torrent was complete before the first announce, no completed event is sent.
func (a *PeriodicalAnnouncer) Completed() {
	if a.sentCompleted || a.completed {
		return
	}
	if !a.HasAnnounced && !a.inFlight {
		a.sentCompleted = true
		return
	}
	a.completed = true
	a.nextAnnounce = time.Time{}
	if a.inFlight && a.HasAnnounced && a.cancel != nil {
		a.cancel()
	}
}

// NeedMorePeers changes the announce interval to the minimum interval allowed by tracker.
func (a *PeriodicalAnnouncer) NeedMorePeers(val bool) {
	if a.needMorePeers == val {
		return
	}
	a.needMorePeers = val
	if a.status == Working {
		a.nextAnnounce = a.lastAnnounce.Add(a.currentInterval())
	}
}

func (a *PeriodicalAnnouncer) currentInterval() time.Duration {
	if a.needMorePeers {
		return a.minInterval
	}
	return a.interval
}

// Tick starts an announce if one is due at now.
// The result is sent to resultC and must be passed back with HandleResult.
func (a *PeriodicalAnnouncer) Tick(now time.Time, resultC chan<- *Result) {
	if a.inFlight || now.Before(a.nextAnnounce) {
		return
	}
	select {
	case <-a.closeC:
		return
	default:
	}
	req := a.getRequest()
	req.NumWant = a.config.NumWant
	switch {
	case !a.HasAnnounced:
		req.Event = tracker.EventStarted
	case a.completed:
		req.Event = tracker.EventCompleted
		req.NumWant = 0
	default:
		req.Event = tracker.EventNone
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.inFlight = true
	a.status = Contacting
	a.wg.Add(1)
	go a.announce(ctx, req, resultC)
}

func (a *PeriodicalAnnouncer) announce(ctx context.Context, req tracker.AnnounceRequest, resultC chan<- *Result) {
	defer a.wg.Done()
	resp, err := a.Tracker.Announce(ctx, req)
	res := &Result{
		Announcer: a,
		Event:     req.Event,
		Response:  resp,
		Error:     err,
	}
	select {
	case resultC <- res:
	case <-a.closeC:
	}
}

// HandleResult updates the schedule with the result of an announce started by Tick.
// Returned error is non-nil when the number of consecutive failures reached the error threshold.
func (a *PeriodicalAnnouncer) HandleResult(r *Result, now time.Time) error {
	a.inFlight = false
	a.cancel = nil
	if errors.Is(r.Error, context.Canceled) {
		// Interrupted by Completed, next Tick sends the completed event.
		a.status = NotContactedYet
		if a.HasAnnounced {
			a.status = Working
		}
		return nil
	}
	a.lastAnnounce = now
	if r.Error != nil {
		a.status = NotWorking
		a.failures++
		a.lastError = newAnnounceError(r.Error)
		if a.lastError.Unknown {
			a.log.Errorln("announce error:", a.lastError.ErrorWithType())
		} else {
			a.log.Debugln("announce error:", a.lastError.Err.Error())
		}
		var terr *tracker.Error
		if errors.As(r.Error, &terr) && terr.RetryIn > 0 {
			a.nextAnnounce = now.Add(terr.RetryIn)
		} else {
			a.nextAnnounce = now.Add(a.backoff.NextBackOff())
		}
		if a.failures >= a.config.ErrorThreshold {
			return a.lastError
		}
		return nil
	}
	resp := r.Response
	a.status = Working
	a.HasAnnounced = true
	a.failures = 0
	a.lastError = nil
	a.backoff.Reset()
	a.seeders = int(resp.Seeders)
	a.leechers = int(resp.Leechers)
	if resp.Interval > 0 {
		a.interval = resp.Interval
	}
	if resp.MinInterval > a.config.MinInterval {
		a.minInterval = resp.MinInterval
	}
	if a.interval < a.minInterval {
		a.interval = a.minInterval
	}
	if r.Event == tracker.EventCompleted {
		a.completed = false
		a.sentCompleted = true
	}
	a.nextAnnounce = now.Add(a.currentInterval())
	if a.completed {
		a.nextAnnounce = now
	}
	return nil
}

// NextAnnounce returns the time of the next scheduled announce.
func (a *PeriodicalAnnouncer) NextAnnounce() time.Time {
	return a.nextAnnounce
}

// Failures returns the number of consecutive failed announces.
func (a *PeriodicalAnnouncer) Failures() int {
	return a.failures
}

// Stats about the tracker.
type Stats struct {
	Status       Status
	Error        *AnnounceError
	Seeders      int
	Leechers     int
	LastAnnounce time.Time
	NextAnnounce time.Time
}

// Stats returns the current state of the announcer.
func (a *PeriodicalAnnouncer) Stats() Stats {
	return Stats{
		Status:       a.status,
		Error:        a.lastError,
		Seeders:      a.seeders,
		Leechers:     a.leechers,
		LastAnnounce: a.lastAnnounce,
		NextAnnounce: a.nextAnnounce,
	}
}

// Close cancels the running announce and waits for its goroutine to exit.
// Results of the cancelled announce are not delivered.
func (a *PeriodicalAnnouncer) Close() {
	a.closeO.Do(func() {
		close(a.closeC)
		if a.cancel != nil {
			a.cancel()
		}
	})
	a.wg.Wait()
}
