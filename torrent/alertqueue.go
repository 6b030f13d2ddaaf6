package torrent

import (
	"sync"
	"time"
)

// alertQueue is a bounded queue of alerts that is safe for concurrent use.
// When the queue is full the oldest alert with the lowest priority is dropped.
type alertQueue struct {
	m       sync.Mutex
	alerts  []Alert
	size    int
	mask    Category
	dropped int
	closed  bool
	now     func() time.Time
	onDrop  func()
}

func newAlertQueue(size int, mask Category, now func() time.Time) *alertQueue {
	if size < 1 {
		size = 1
	}
	return &alertQueue{
		alerts: make([]Alert, 0, size),
		size:   size,
		mask:   mask,
		now:    now,
	}
}

// Push adds the alert to the queue. Returns false if the alert is filtered by the mask or the queue is closed.
func (q *alertQueue) Push(a Alert) bool {
	q.m.Lock()
	defer q.m.Unlock()
	if q.closed || q.mask&a.Category == 0 {
		return false
	}
	if len(q.alerts) < q.size {
		q.alerts = append(q.alerts, a)
		return true
	}
	q.dropped++
	if q.onDrop != nil {
		q.onDrop()
	}
	lowest := -1
	for i := range q.alerts {
		if lowest == -1 || q.alerts[i].Category.priority() < q.alerts[lowest].Category.priority() {
			lowest = i
		}
	}
	if q.alerts[lowest].Category.priority() > a.Category.priority() {
		// Incoming alert is the lowest.
		return false
	}
	copy(q.alerts[lowest:], q.alerts[lowest+1:])
	q.alerts[len(q.alerts)-1] = a
	return true
}

// Pop removes and returns up to max alerts, oldest first.
// If alerts were dropped since the last call, a single AlertsDropped alert is returned first.
func (q *alertQueue) Pop(max int) []Alert {
	q.m.Lock()
	defer q.m.Unlock()
	if max <= 0 || (len(q.alerts) == 0 && q.dropped == 0) {
		return nil
	}
	var ret []Alert
	if q.dropped > 0 {
		ret = append(ret, newAlert(AlertAlertsDropped, "", q.now(), nil, "%d alerts dropped", q.dropped))
		q.dropped = 0
		max--
	}
	n := len(q.alerts)
	if n > max {
		n = max
	}
	ret = append(ret, q.alerts[:n]...)
	rest := copy(q.alerts, q.alerts[n:])
	for i := rest; i < len(q.alerts); i++ {
		q.alerts[i] = Alert{}
	}
	q.alerts = q.alerts[:rest]
	return ret
}

// Len returns the number of queued alerts.
func (q *alertQueue) Len() int {
	q.m.Lock()
	defer q.m.Unlock()
	return len(q.alerts)
}

// Close makes the queue refuse new alerts. Queued alerts can still be popped.
func (q *alertQueue) Close() {
	q.m.Lock()
	q.closed = true
	q.m.Unlock()
}
