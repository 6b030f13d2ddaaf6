package torrent

import (
	"github.com/rcrowley/go-metrics"
)

// sessionMetrics are the counters of the session. Counters and gauges are safe for concurrent use.
// EWMAs are ticked by the scheduling tick.
type sessionMetrics struct {
	registry metrics.Registry

	torrents        metrics.Gauge
	peers           metrics.Counter
	bytesDownloaded metrics.Counter
	bytesUploaded   metrics.Counter
	bytesWasted     metrics.Counter
	hashFailures    metrics.Counter
	alertsDropped   metrics.Counter
	diskRetries     metrics.Counter

	downloadSpeed metrics.EWMA
	uploadSpeed   metrics.EWMA
}

func newSessionMetrics() *sessionMetrics {
	r := metrics.NewRegistry()
	m := &sessionMetrics{
		registry:        r,
		torrents:        metrics.NewRegisteredGauge("torrents", r),
		peers:           metrics.NewRegisteredCounter("peers", r),
		bytesDownloaded: metrics.NewRegisteredCounter("bytes_downloaded", r),
		bytesUploaded:   metrics.NewRegisteredCounter("bytes_uploaded", r),
		bytesWasted:     metrics.NewRegisteredCounter("bytes_wasted", r),
		hashFailures:    metrics.NewRegisteredCounter("hash_failures", r),
		alertsDropped:   metrics.NewRegisteredCounter("alerts_dropped", r),
		diskRetries:     metrics.NewRegisteredCounter("disk_retries", r),
		downloadSpeed:   metrics.NewEWMA1(),
		uploadSpeed:     metrics.NewEWMA1(),
	}
	return m
}

func (m *sessionMetrics) tick() {
	m.downloadSpeed.Tick()
	m.uploadSpeed.Tick()
}

// Stats contains statistics about the Session.
type Stats struct {
	Torrents        int
	Peers           int
	BytesDownloaded int64
	BytesUploaded   int64
	BytesWasted     int64
	HashFailures    int64
	AlertsDropped   int64
	DiskRetries     int64
	// Bytes per second.
	DownloadRate int
	UploadRate   int
}

func (m *sessionMetrics) stats() Stats {
	return Stats{
		Torrents:        int(m.torrents.Value()),
		Peers:           int(m.peers.Count()),
		BytesDownloaded: m.bytesDownloaded.Count(),
		BytesUploaded:   m.bytesUploaded.Count(),
		BytesWasted:     m.bytesWasted.Count(),
		HashFailures:    m.hashFailures.Count(),
		AlertsDropped:   m.alertsDropped.Count(),
		DiskRetries:     m.diskRetries.Count(),
		DownloadRate:    int(m.downloadSpeed.Rate()),
		UploadRate:      int(m.uploadSpeed.Rate()),
	}
}

// Metrics returns all metrics of the session by name.
func (s *Session) Metrics() map[string]map[string]any {
	return s.metrics.registry.GetAll()
}
