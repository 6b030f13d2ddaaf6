// Package diskio runs disk operations of a session in a single background goroutine.
package diskio

import (
	"context"
	"sync"
	"time"

	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/logger"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/piecestore"
	"github.com/cenkalti/backoff/v3"
)

// Kind of a Job.
type Kind int

// Kinds of jobs.
const (
	Write Kind = iota
	Read
	Verify
	CloseStore
)

var kindNames = [...]string{"write", "read", "verify", "close"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Job is a disk operation. Result fields are filled by the worker before the job is sent to the result channel.
type Job struct {
	Kind   Kind
	Store  *piecestore.Store
	Index  uint32
	Begin  uint32
	Length uint32
	Data   []byte

	// Owner is not used by the worker. It is used by the caller to route the result.
	Owner any
	// Peer is not used by the worker. It is the peer that sent or requested the data, if any.
	Peer any
	// Generation is not used by the worker. Results of an older generation are ignored by the owner.
	Generation uint64

	// Results
	OK      bool  // result of Verify
	Retries int   // number of retried attempts
	Error   error // last error
}

// Worker processes jobs in the order they are queued.
type Worker struct {
	maxRetries    uint64
	retryInterval time.Duration
	log           logger.Logger

	m      sync.Mutex
	queue  []*Job
	notify chan struct{}

	resultC chan *Job
	ctx     context.Context
	cancel  context.CancelFunc
	doneC   chan struct{}

	closeOnce sync.Once
}

// New returns a new Worker. Failed storage operations are attempted maxRetries+1 times with retryInterval between them.
// Results are sent to resultC. The caller must keep receiving from resultC until Close returns.
func New(maxRetries int, retryInterval time.Duration, resultC chan *Job) *Worker {
	if maxRetries < 0 {
		maxRetries = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		maxRetries:    uint64(maxRetries),
		retryInterval: retryInterval,
		log:           logger.New("diskio"),
		notify:        make(chan struct{}, 1),
		resultC:       resultC,
		ctx:           ctx,
		cancel:        cancel,
		doneC:         make(chan struct{}),
	}
}

// Enqueue adds the job to the end of the queue. It never blocks.
func (w *Worker) Enqueue(j *Job) {
	w.m.Lock()
	w.queue = append(w.queue, j)
	w.m.Unlock()
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// Pending returns the number of jobs waiting in the queue.
func (w *Worker) Pending() int {
	w.m.Lock()
	defer w.m.Unlock()
	return len(w.queue)
}

// Close stops the worker. Queued writes and store closes are done before Close returns, reads and verifications are discarded.
// No result is sent after Close returns and no write is issued.
func (w *Worker) Close() {
	w.closeOnce.Do(w.cancel)
	<-w.doneC
}

// Run the worker loop until Close is called.
func (w *Worker) Run() {
	defer close(w.doneC)
	for {
		select {
		case <-w.notify:
			for {
				j := w.pop()
				if j == nil {
					break
				}
				w.do(j)
				select {
				case w.resultC <- j:
				case <-w.ctx.Done():
					w.flush()
					return
				}
			}
		case <-w.ctx.Done():
			w.flush()
			return
		}
	}
}

func (w *Worker) pop() *Job {
	w.m.Lock()
	defer w.m.Unlock()
	if len(w.queue) == 0 {
		return nil
	}
	j := w.queue[0]
	w.queue[0] = nil
	w.queue = w.queue[1:]
	return j
}

func (w *Worker) flush() {
	for {
		j := w.pop()
		if j == nil {
			return
		}
		switch j.Kind {
		case Write, CloseStore:
			w.do(j)
			if j.Error != nil {
				w.log.Errorf("cannot %s piece #%d while closing: %s", j.Kind, j.Index, j.Error)
			}
		}
	}
}

func (w *Worker) do(j *Job) {
	switch j.Kind {
	case Write:
		j.Error = w.retry(j, func() error {
			return j.Store.WriteBlock(j.Index, j.Begin, j.Data)
		})
	case Read:
		j.Error = w.retry(j, func() (err error) {
			j.Data, err = j.Store.ReadBlock(j.Index, j.Begin, j.Length)
			return
		})
	case Verify:
		j.Error = w.retry(j, func() (err error) {
			j.OK, err = j.Store.VerifyPiece(j.Index)
			return
		})
	case CloseStore:
		j.Error = j.Store.Close()
	}
}

// retry runs operation until it succeeds, the retries are exhausted or the worker is closed.
// Errors about the job itself are not retried.
func (w *Worker) retry(j *Job, operation func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(w.retryInterval), w.maxRetries), w.ctx)
	op := func() error {
		err := operation()
		if err == piecestore.ErrInvalidPiece || err == piecestore.ErrInvalidBlock {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, d time.Duration) {
		j.Retries++
		w.log.Warningf("%s error on piece #%d, retrying in %s: %s", j.Kind, j.Index, d, err)
	}
	return backoff.RetryNotify(op, b, notify)
}
