// Package httptracker implements the announce request of HTTP trackers.
package httptracker

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/logger"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/tracker"
)

const maxResponseSize = 2 << 20

// HTTPTracker is a tracker that is announced over HTTP.
type HTTPTracker struct {
	rawURL    string
	url       *url.URL
	log       logger.Logger
	http      *http.Client
	transport *http.Transport
	userAgent string
	trackerID string
}

var _ tracker.Tracker = (*HTTPTracker)(nil)

// New returns a new HTTPTracker.
func New(rawURL string, u *url.URL, timeout time.Duration, userAgent string) *HTTPTracker {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: timeout,
		}).DialContext,
		TLSHandshakeTimeout: timeout,
		DisableKeepAlives:   true,
	}
	return &HTTPTracker{
		rawURL:    rawURL,
		url:       u,
		log:       logger.New("tracker " + u.String()),
		transport: transport,
		userAgent: userAgent,
		http: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// URL returns the tracker URL.
func (t *HTTPTracker) URL() string {
	return t.rawURL
}

// Announce the torrent to the tracker. Canceling ctx aborts the request.
func (t *HTTPTracker) Announce(ctx context.Context, req tracker.AnnounceRequest) (*tracker.AnnounceResponse, error) {
	u := *t.url
	q := u.Query()
	q.Set("info_hash", string(req.InfoHash[:]))
	q.Set("peer_id", string(req.PeerID[:]))
	q.Set("port", strconv.Itoa(req.Port))
	q.Set("uploaded", strconv.FormatInt(req.Uploaded, 10))
	q.Set("downloaded", strconv.FormatInt(req.Downloaded, 10))
	q.Set("left", strconv.FormatInt(req.Left, 10))
	q.Set("compact", "1")
	q.Set("no_peer_id", "1")
	q.Set("numwant", strconv.Itoa(req.NumWant))
	if req.Event != tracker.EventNone {
		q.Set("event", req.Event.String())
	}
	if t.trackerID != "" {
		q.Set("trackerid", t.trackerID)
	}
	u.RawQuery = q.Encode()
	t.log.Debugf("making request to: %q", u.String())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("User-Agent", t.userAgent)

	resp, err := t.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Header: resp.Header, Body: string(body)}
	}

	raw, response, err := parseResponse(body)
	if raw != nil && raw.WarningMessage != "" {
		t.log.Warning(raw.WarningMessage)
	}
	if err != nil {
		return nil, err
	}
	if raw.TrackerID != "" {
		t.trackerID = raw.TrackerID
	}
	return response, nil
}

// Close idle connections of the tracker.
func (t *HTTPTracker) Close() error {
	t.transport.CloseIdleConnections()
	return nil
}
