package httptracker

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/bencode"
)

var infoHash = [20]byte{0xab, 0xcd}

func newTracker(t *testing.T, h http.HandlerFunc) *HTTPTracker {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL + "/announce")
	require.NoError(t, err)
	return New(srv.URL+"/announce", u, time.Second, "test")
}

func TestAnnounceCompact(t *testing.T) {
	tr := newTracker(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, string(infoHash[:]), q.Get("info_hash"))
		assert.Equal(t, "6881", q.Get("port"))
		assert.Equal(t, "100", q.Get("left"))
		assert.Equal(t, "started", q.Get("event"))
		assert.Equal(t, "test", r.UserAgent())
		b, _ := bencode.EncodeBytes(map[string]any{
			"interval":   1800,
			"complete":   3,
			"incomplete": 4,
			"peers":      string([]byte{1, 2, 3, 4, 0x1a, 0xe1}),
		})
		_, _ = w.Write(b)
	})
	resp, err := tr.Announce(context.Background(), tracker.AnnounceRequest{
		InfoHash: infoHash,
		Port:     6881,
		Left:     100,
		Event:    tracker.EventStarted,
		NumWant:  50,
	})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, resp.Interval)
	assert.Equal(t, int32(3), resp.Seeders)
	assert.Equal(t, int32(4), resp.Leechers)
	require.Len(t, resp.Peers, 1)
	assert.Equal(t, "1.2.3.4:6881", resp.Peers[0].String())
}

func TestAnnounceDictionary(t *testing.T) {
	tr := newTracker(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := bencode.EncodeBytes(map[string]any{
			"interval": 60,
			"peers": []map[string]any{
				{"ip": "5.6.7.8", "port": 80},
				{"ip": "invalid", "port": 81},
			},
		})
		_, _ = w.Write(b)
	})
	resp, err := tr.Announce(context.Background(), tracker.AnnounceRequest{InfoHash: infoHash})
	require.NoError(t, err)
	require.Len(t, resp.Peers, 1)
	assert.Equal(t, "5.6.7.8:80", resp.Peers[0].String())
}

func TestAnnounceFailure(t *testing.T) {
	tr := newTracker(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := bencode.EncodeBytes(map[string]any{"failure reason": "unregistered torrent"})
		_, _ = w.Write(b)
	})
	_, err := tr.Announce(context.Background(), tracker.AnnounceRequest{InfoHash: infoHash})
	terr, ok := err.(*tracker.Error)
	require.True(t, ok)
	assert.Equal(t, "unregistered torrent", terr.FailureReason)
}

func TestAnnounceStatus(t *testing.T) {
	tr := newTracker(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	_, err := tr.Announce(context.Background(), tracker.AnnounceRequest{InfoHash: infoHash})
	serr, ok := err.(*StatusError)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, serr.Code)
}

func TestAnnounceGarbage(t *testing.T) {
	tr := newTracker(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not bencode"))
	})
	_, err := tr.Announce(context.Background(), tracker.AnnounceRequest{InfoHash: infoHash})
	assert.Equal(t, tracker.ErrDecode, err)
}

func TestAnnouncePeers6(t *testing.T) {
	tr := newTracker(t, func(w http.ResponseWriter, r *http.Request) {
		peer6 := append(net.ParseIP("2001:db8::1").To16(), 0x1a, 0xe1)
		b, _ := bencode.EncodeBytes(map[string]any{
			"interval":    60,
			"peers":       string([]byte{1, 2, 3, 4, 0x1a, 0xe1, 9, 9, 9, 9, 0, 80}),
			"peers6":      string(peer6),
			"external ip": string([]byte{9, 9, 9, 9}),
		})
		_, _ = w.Write(b)
	})
	resp, err := tr.Announce(context.Background(), tracker.AnnounceRequest{InfoHash: infoHash})
	require.NoError(t, err)
	addrs := make([]string, len(resp.Peers))
	for i, p := range resp.Peers {
		addrs[i] = p.String()
	}
	assert.ElementsMatch(t, []string{"1.2.3.4:6881", "[2001:db8::1]:6881"}, addrs)
}

func TestStatusErrorMessage(t *testing.T) {
	assert.Equal(t, "http status: 502", (&StatusError{Code: 502}).Error())
	assert.Equal(t, `http status: 404: "gone\n"`, (&StatusError{Code: 404, Body: "gone\n"}).Error())
}
