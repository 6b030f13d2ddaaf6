package announcer

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/logger"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/tracker"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/tracker/httptracker"
	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const okResponse = "d8:intervali900e5:peers6:\x7f\x00\x00\x01\x1a\xe1e"

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type eventRecorder struct {
	m      sync.Mutex
	events []string
}

func (r *eventRecorder) add(e string) {
	r.m.Lock()
	r.events = append(r.events, e)
	r.m.Unlock()
}

func (r *eventRecorder) get() []string {
	r.m.Lock()
	defer r.m.Unlock()
	return append([]string(nil), r.events...)
}

func newTracker(t *testing.T, h http.HandlerFunc) (*httptracker.HTTPTracker, func()) {
	srv := httptest.NewServer(h)
	u, err := url.Parse(srv.URL + "/announce")
	require.NoError(t, err)
	trk := httptracker.New(u.String(), u, 5*time.Second, "test")
	return trk, func() {
		trk.Close()
		srv.Close()
	}
}

func testConfig(clock *fakeClock) Config {
	return Config{
		NumWant:        50,
		MinInterval:    time.Minute,
		ErrorThreshold: 3,
		InitialBackoff: 5 * time.Second,
		MaxBackoff:     30 * time.Minute,
		Clock:          clock,
	}
}

func getRequest() tracker.AnnounceRequest {
	return tracker.AnnounceRequest{Port: 6881, Left: 100}
}

func TestBackoffSchedule(t *testing.T) {
	defer leaktest.Check(t)()

	failures := int32(3)
	trk, closeTracker := newTracker(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&failures, -1) >= 0 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(okResponse))
	})
	defer closeTracker()

	clock := &fakeClock{now: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}
	a := NewPeriodicalAnnouncer(trk, testConfig(clock), getRequest, logger.New("announcer"))
	defer a.Close()

	resultC := make(chan *Result)
	step := func() (*Result, error) {
		a.Tick(clock.now, resultC)
		require.True(t, a.inFlight)
		r := <-resultC
		return r, a.HandleResult(r, clock.now)
	}

	for i, d := range []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second} {
		r, err := step()
		require.Error(t, r.Error)
		assert.Equal(t, tracker.EventStarted, r.Event)
		assert.Equal(t, i+1, a.Failures())
		if i < 2 {
			assert.NoError(t, err)
		} else {
			assert.EqualError(t, err, "tracker returned http status: 503")
		}
		assert.Equal(t, clock.now.Add(d), a.NextAnnounce())
		assert.Equal(t, NotWorking, a.Stats().Status)

		a.Tick(clock.now.Add(d-time.Second), resultC)
		assert.False(t, a.inFlight)

		clock.now = clock.now.Add(d)
	}

	r, err := step()
	require.NoError(t, r.Error)
	require.NoError(t, err)
	assert.Equal(t, tracker.EventStarted, r.Event)
	require.Len(t, r.Response.Peers, 1)
	assert.Equal(t, "127.0.0.1:6881", r.Response.Peers[0].String())
	assert.Equal(t, 0, a.Failures())
	assert.True(t, a.HasAnnounced)
	assert.Equal(t, Working, a.Stats().Status)
	assert.Equal(t, clock.now.Add(time.Minute), a.NextAnnounce())

	a.NeedMorePeers(false)
	assert.Equal(t, clock.now.Add(900*time.Second), a.NextAnnounce())
}

func TestCompletedEvent(t *testing.T) {
	defer leaktest.Check(t)()

	var rec eventRecorder
	trk, closeTracker := newTracker(t, func(w http.ResponseWriter, r *http.Request) {
		rec.add(r.URL.Query().Get("event"))
		_, _ = w.Write([]byte(okResponse))
	})
	defer closeTracker()

	clock := &fakeClock{now: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}
	a := NewPeriodicalAnnouncer(trk, testConfig(clock), getRequest, logger.New("announcer"))
	defer a.Close()

	resultC := make(chan *Result)
	tick := func() {
		a.Tick(clock.now, resultC)
		require.True(t, a.inFlight)
		require.NoError(t, a.HandleResult(<-resultC, clock.now))
	}

	tick()
	a.Completed()
	tick()
	a.Completed()
	clock.now = clock.now.Add(time.Minute)
	tick()

	assert.Equal(t, []string{"started", "completed", ""}, rec.get())
}

func TestNoCompletedIfCompleteAtStart(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	a := NewPeriodicalAnnouncer(nil, testConfig(clock), getRequest, logger.New("announcer"))
	a.Completed()
	assert.False(t, a.completed)
	assert.True(t, a.sentCompleted)
	a.Close()
}

func TestStopAnnouncer(t *testing.T) {
	defer leaktest.Check(t)()

	var rec eventRecorder
	trk, closeTracker := newTracker(t, func(w http.ResponseWriter, r *http.Request) {
		rec.add(r.URL.Query().Get("event"))
		_, _ = w.Write([]byte(okResponse))
	})
	defer closeTracker()

	a := NewStopAnnouncer([]tracker.Tracker{trk}, getRequest(), 5*time.Second, logger.New("announcer"))
	go a.Run()
	select {
	case <-a.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("stop announce did not finish")
	}
	a.Close()
	assert.Equal(t, []string{"stopped"}, rec.get())
}

func TestDHTAnnouncer(t *testing.T) {
	a := NewDHTAnnouncer(30*time.Minute, time.Minute)
	now := time.Now()
	var n int
	announce := func() { n++ }

	a.Tick(now, announce)
	assert.Equal(t, 1, n)
	a.Tick(now.Add(30*time.Second), announce)
	assert.Equal(t, 1, n)
	a.Tick(now.Add(time.Minute), announce)
	assert.Equal(t, 2, n)

	a.NeedMorePeers(false)
	a.Tick(now.Add(2*time.Minute), announce)
	assert.Equal(t, 2, n)
	a.Tick(now.Add(31*time.Minute), announce)
	assert.Equal(t, 3, n)
}
