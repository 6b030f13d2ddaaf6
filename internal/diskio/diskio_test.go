package diskio

import (
	"errors"
	"testing"
	"time"

	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/metainfo"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/piecestore"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/storage"
	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDisk = errors.New("disk error")

type memFile struct {
	data         []byte
	failures     int // number of writes to fail
	readFailures int // number of reads to fail
	writes       int
	reads        int
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	f.reads++
	if f.readFailures > 0 {
		f.readFailures--
		return 0, errDisk
	}
	return copy(p, f.data[off:]), nil
}

func (f *memFile) WriteAt(p []byte, off int64) (int, error) {
	f.writes++
	if f.failures > 0 {
		f.failures--
		return 0, errDisk
	}
	return copy(f.data[off:], p), nil
}

func (f *memFile) Close() error { return nil }

func newStore(t *testing.T, data []byte) (*piecestore.Store, *memFile) {
	b, err := metainfo.NewInfoBytes("test", data, 16, false)
	require.NoError(t, err)
	info, err := metainfo.NewInfo(b)
	require.NoError(t, err)
	f := &memFile{data: make([]byte, len(data))}
	return piecestore.New(info, []storage.File{f}), f
}

func TestWriteVerify(t *testing.T) {
	defer leaktest.Check(t)()

	data := []byte("0123456789abcdefghij")
	s, f := newStore(t, data)
	resultC := make(chan *Job)
	w := New(2, time.Millisecond, resultC)
	go w.Run()
	defer w.Close()

	w.Enqueue(&Job{Kind: Write, Store: s, Index: 0, Data: data[:16]})
	w.Enqueue(&Job{Kind: Verify, Store: s, Index: 0})
	w.Enqueue(&Job{Kind: Read, Store: s, Index: 0, Begin: 4, Length: 4})

	j := <-resultC
	assert.Equal(t, Write, j.Kind)
	assert.NoError(t, j.Error)
	j = <-resultC
	assert.Equal(t, Verify, j.Kind)
	assert.NoError(t, j.Error)
	assert.True(t, j.OK)
	j = <-resultC
	assert.Equal(t, Read, j.Kind)
	assert.Equal(t, "4567", string(j.Data))
	assert.Equal(t, 1, f.writes)
}

func TestWriteRetry(t *testing.T) {
	defer leaktest.Check(t)()

	data := []byte("0123456789abcdef")
	s, f := newStore(t, data)
	f.failures = 2
	resultC := make(chan *Job)
	w := New(2, time.Millisecond, resultC)
	go w.Run()
	defer w.Close()

	w.Enqueue(&Job{Kind: Write, Store: s, Index: 0, Data: data})
	j := <-resultC
	assert.NoError(t, j.Error)
	assert.Equal(t, 2, j.Retries)
	assert.Equal(t, 3, f.writes)
}

func TestWriteGiveUp(t *testing.T) {
	defer leaktest.Check(t)()

	data := []byte("0123456789abcdef")
	s, f := newStore(t, data)
	f.failures = 10
	resultC := make(chan *Job)
	w := New(2, time.Millisecond, resultC)
	go w.Run()
	defer w.Close()

	w.Enqueue(&Job{Kind: Write, Store: s, Index: 0, Data: data})
	j := <-resultC
	assert.Equal(t, errDisk, errors.Unwrap(j.Error))
	assert.Equal(t, 3, f.writes)
}

func TestCloseFlushesWrites(t *testing.T) {
	defer leaktest.Check(t)()

	data := []byte("0123456789abcdef")
	s, f := newStore(t, data)
	resultC := make(chan *Job)
	w := New(0, time.Millisecond, resultC)

	// Jobs are queued before the worker runs. Nobody receives the results.
	w.Enqueue(&Job{Kind: Write, Store: s, Index: 0, Data: data})
	w.Enqueue(&Job{Kind: Verify, Store: s, Index: 0})
	go w.Run()
	w.Close()

	assert.Equal(t, data, f.data)
	assert.Equal(t, 0, w.Pending())

	// Nothing is written after close.
	w.Enqueue(&Job{Kind: Write, Store: s, Index: 0, Data: make([]byte, 16)})
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, data, f.data)
}

func TestReadRetry(t *testing.T) {
	defer leaktest.Check(t)()

	data := []byte("0123456789abcdef")
	s, f := newStore(t, data)
	copy(f.data, data)
	f.readFailures = 1
	resultC := make(chan *Job)
	w := New(3, time.Millisecond, resultC)
	go w.Run()
	defer w.Close()

	w.Enqueue(&Job{Kind: Read, Store: s, Index: 0, Begin: 0, Length: 16})
	j := <-resultC
	require.NoError(t, j.Error)
	assert.Equal(t, 1, j.Retries)
	assert.Equal(t, data, j.Data)

	f.readFailures = 1
	w.Enqueue(&Job{Kind: Verify, Store: s, Index: 0})
	j = <-resultC
	require.NoError(t, j.Error)
	assert.Equal(t, 1, j.Retries)
	assert.True(t, j.OK)
}

func TestReadGiveUp(t *testing.T) {
	defer leaktest.Check(t)()

	data := []byte("0123456789abcdef")
	s, f := newStore(t, data)
	f.readFailures = 10
	resultC := make(chan *Job)
	w := New(2, time.Millisecond, resultC)
	go w.Run()
	defer w.Close()

	w.Enqueue(&Job{Kind: Read, Store: s, Index: 0, Begin: 0, Length: 16})
	j := <-resultC
	assert.Equal(t, errDisk, errors.Unwrap(j.Error))
	assert.Equal(t, 2, j.Retries)
	assert.Equal(t, 3, f.reads)
}

func TestInvalidBlockNotRetried(t *testing.T) {
	defer leaktest.Check(t)()

	s, f := newStore(t, []byte("0123456789abcdef"))
	resultC := make(chan *Job)
	w := New(2, time.Millisecond, resultC)
	go w.Run()
	defer w.Close()

	w.Enqueue(&Job{Kind: Read, Store: s, Index: 0, Begin: 10, Length: 10})
	j := <-resultC
	assert.Equal(t, piecestore.ErrInvalidBlock, j.Error)
	assert.Zero(t, j.Retries)
	assert.Zero(t, f.reads)
}
