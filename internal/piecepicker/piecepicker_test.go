package piecepicker

import (
	"math/rand"
	"testing"
	"time"

	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/bitfield"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPieces struct {
	numBlocks int
	verified  bitfield.Bitfield
	received  map[Request]bool
}

func newTestPieces(numPieces uint32, numBlocks int) *testPieces {
	return &testPieces{
		numBlocks: numBlocks,
		verified:  bitfield.New(numPieces),
		received:  make(map[Request]bool),
	}
}

func (t *testPieces) NumPieces() uint32                     { return t.verified.Len() }
func (t *testPieces) NumBlocks(index uint32) int             { return t.numBlocks }
func (t *testPieces) Verified(index uint32) bool             { return t.verified.Test(index) }
func (t *testPieces) BlockReceived(index uint32, b int) bool { return t.received[Request{index, b}] }

type testPeer struct {
	name     string
	bitfield bitfield.Bitfield
}

func newPeer(name string, numPieces uint32, has ...uint32) *testPeer {
	pe := &testPeer{name: name, bitfield: bitfield.New(numPieces)}
	for _, i := range has {
		pe.bitfield.Set(i)
	}
	return pe
}

const (
	numPieces = 7
	timeout   = time.Minute
)

func TestRarestFirst(t *testing.T) {
	pieces := newTestPieces(numPieces, 2)
	pieces.verified.Set(0)
	pieces.verified.Set(2)
	pp := New(pieces, timeout, 2)
	now := time.Now()

	p0 := newPeer("p0", numPieces, 0, 1, 3, 4)
	p1 := newPeer("p1", numPieces, 1, 4)
	p2 := newPeer("p2", numPieces, 4, 5)
	for _, pe := range []*testPeer{p0, p1, p2} {
		pp.HandleBitfield(pe, &pe.bitfield)
	}
	assert.Equal(t, uint32(5), pp.Available())
	assert.Equal(t, 3, pp.Availability(4))

	// Piece 3 is rarest among pieces p0 has and we lack.
	r, ok := pp.Pick(p0, &p0.bitfield, now)
	require.True(t, ok)
	assert.Equal(t, Request{Piece: 3, Block: 0}, r)
	pp.HandleRequested(p0, r, now)

	r, ok = pp.Pick(p0, &p0.bitfield, now)
	require.True(t, ok)
	assert.Equal(t, Request{Piece: 3, Block: 1}, r)
	pp.HandleRequested(p0, r, now)

	// Piece 1 is rarer than piece 4.
	r, ok = pp.Pick(p1, &p1.bitfield, now)
	require.True(t, ok)
	assert.Equal(t, Request{Piece: 1, Block: 0}, r)

	// Ties are broken by lowest index.
	p3 := newPeer("p3", numPieces, 5, 6)
	pp.HandleBitfield(p3, &p3.bitfield)
	r, ok = pp.Pick(p3, &p3.bitfield, now)
	require.True(t, ok)
	assert.Equal(t, Request{Piece: 6, Block: 0}, r)

	pp.HandleHave(p2, 6)
	r, ok = pp.Pick(p3, &p3.bitfield, now)
	require.True(t, ok)
	assert.Equal(t, Request{Piece: 5, Block: 0}, r)
}

func TestTimeoutRerequest(t *testing.T) {
	pieces := newTestPieces(1, 1)
	pp := New(pieces, timeout, 2)
	now := time.Now()

	p0 := newPeer("p0", 1, 0)
	p1 := newPeer("p1", 1, 0)
	p2 := newPeer("p2", 1, 0)
	for _, pe := range []*testPeer{p0, p1, p2} {
		pp.HandleBitfield(pe, &pe.bitfield)
	}

	r, ok := pp.Pick(p0, &p0.bitfield, now)
	require.True(t, ok)
	pp.HandleRequested(p0, r, now)

	// In flight to p0.
	_, ok = pp.Pick(p1, &p1.bitfield, now)
	assert.False(t, ok)
	assert.Empty(t, pp.TimedOut(now))

	later := now.Add(timeout)
	timeouts := pp.TimedOut(later)
	require.Len(t, timeouts, 1)
	assert.Equal(t, p0, timeouts[0].Peer)
	assert.Empty(t, pp.TimedOut(later))

	// Never requested again from the same peer.
	_, ok = pp.Pick(p0, &p0.bitfield, later)
	assert.False(t, ok)

	r2, ok := pp.Pick(p1, &p1.bitfield, later)
	require.True(t, ok)
	assert.Equal(t, r, r2)
	pp.HandleRequested(p1, r2, later)
	assert.Equal(t, 2, pp.InFlight(r))

	// Bounded by max duplicate requests.
	_, ok = pp.Pick(p2, &p2.bitfield, later.Add(2*timeout))
	assert.False(t, ok)

	others := pp.HandleReceived(p1, r)
	assert.Equal(t, []Peer{p0}, others)
	assert.Equal(t, 0, pp.InFlight(r))
}

func TestDisconnect(t *testing.T) {
	pieces := newTestPieces(2, 1)
	pp := New(pieces, timeout, 1)
	now := time.Now()

	p0 := newPeer("p0", 2, 0, 1)
	p1 := newPeer("p1", 2, 0)
	pp.HandleBitfield(p0, &p0.bitfield)
	pp.HandleBitfield(p1, &p1.bitfield)

	r, ok := pp.Pick(p1, &p1.bitfield, now)
	require.True(t, ok)
	assert.Equal(t, Request{Piece: 0, Block: 0}, r)
	pp.HandleRequested(p1, r, now)

	pp.HandleDisconnect(p1)
	assert.Equal(t, 0, pp.InFlight(r))
	assert.Equal(t, 1, pp.Availability(0))

	r, ok = pp.Pick(p0, &p0.bitfield, now)
	require.True(t, ok)
	assert.Equal(t, Request{Piece: 0, Block: 0}, r)
}

func TestHashFailed(t *testing.T) {
	pieces := newTestPieces(1, 2)
	pp := New(pieces, timeout, 1)
	now := time.Now()
	p0 := newPeer("p0", 1, 0)
	pp.HandleBitfield(p0, &p0.bitfield)

	for i := 0; i < 2; i++ {
		r, ok := pp.Pick(p0, &p0.bitfield, now)
		require.True(t, ok)
		pp.HandleRequested(p0, r, now)
		pp.HandleReceived(p0, r)
		pieces.received[r] = true
	}
	_, ok := pp.Pick(p0, &p0.bitfield, now)
	assert.False(t, ok)

	// Store clears the blocks of a corrupt piece.
	pieces.received = make(map[Request]bool)
	pp.HandleHashFailed(0)
	r, ok := pp.Pick(p0, &p0.bitfield, now)
	require.True(t, ok)
	assert.Equal(t, Request{Piece: 0, Block: 0}, r)
}

func TestPickProperties(t *testing.T) {
	const (
		numPieces = 20
		numBlocks = 3
		numPeers  = 5
		rounds    = 200
	)
	rnd := rand.New(rand.NewSource(1))
	for round := 0; round < rounds; round++ {
		pieces := newTestPieces(numPieces, numBlocks)
		for i := uint32(0); i < numPieces; i++ {
			if rnd.Intn(3) == 0 {
				pieces.verified.Set(i)
			}
			for b := 0; b < numBlocks; b++ {
				if rnd.Intn(4) == 0 {
					pieces.received[Request{i, b}] = true
				}
			}
		}
		maxDup := 1 + rnd.Intn(3)
		pp := New(pieces, timeout, maxDup)
		start := time.Now()
		now := start.Add(time.Duration(rnd.Intn(3)) * timeout)

		peers := make([]*testPeer, numPeers)
		for j := range peers {
			peers[j] = newPeer("p", numPieces)
			for i := uint32(0); i < numPieces; i++ {
				if rnd.Intn(2) == 0 {
					peers[j].bitfield.Set(i)
				}
			}
			pp.HandleBitfield(peers[j], &peers[j].bitfield)
		}
		// Random in-flight set.
		for k := 0; k < 30; k++ {
			pe := peers[rnd.Intn(numPeers)]
			r := Request{uint32(rnd.Intn(numPieces)), rnd.Intn(numBlocks)}
			if pieces.verified.Test(r.Piece) || pieces.received[r] || !pe.bitfield.Test(r.Piece) {
				continue
			}
			pp.HandleRequested(pe, r, start.Add(time.Duration(rnd.Intn(int(2*timeout)))))
		}

		for _, pe := range peers {
			r, ok := pp.Pick(pe, &pe.bitfield, now)
			if !ok {
				continue
			}
			assert.True(t, pe.bitfield.Test(r.Piece), "peer does not have piece")
			assert.False(t, pieces.verified.Test(r.Piece), "piece is verified")
			assert.False(t, pieces.received[r], "block is received")
			reqs := pp.myPieces[r.Piece].Requests[r.Block]
			if len(reqs) > 0 {
				assert.Less(t, len(reqs), maxDup)
				for _, br := range reqs {
					assert.NotEqual(t, Peer(pe), br.peer)
					assert.GreaterOrEqual(t, now.Sub(br.requestedAt), timeout)
				}
			}
		}
	}
}

func TestSortOnAvailabilityChange(t *testing.T) {
	pieces := newTestPieces(numPieces, 1)
	pp := New(pieces, timeout, 1)
	now := time.Now()
	p0 := newPeer("p0", numPieces, 0, 1, 2, 3, 4, 5, 6)
	pp.HandleBitfield(p0, &p0.bitfield)
	assert.True(t, pp.unsorted)

	r, ok := pp.Pick(p0, &p0.bitfield, now)
	require.True(t, ok)
	assert.Equal(t, uint32(0), r.Piece)
	assert.False(t, pp.unsorted)

	// Requests and repeated announces do not change availability.
	pp.HandleRequested(p0, r, now)
	pp.HandleHave(p0, 3)
	assert.False(t, pp.unsorted)

	p1 := newPeer("p1", numPieces)
	for _, i := range []uint32{0, 1, 2, 4, 5, 6} {
		pp.HandleHave(p1, i)
	}
	assert.True(t, pp.unsorted)
	r, ok = pp.Pick(p0, &p0.bitfield, now)
	require.True(t, ok)
	assert.Equal(t, Request{Piece: 3, Block: 0}, r)

	pp.HandleDisconnect(p1)
	assert.True(t, pp.unsorted)
	r, ok = pp.Pick(p0, &p0.bitfield, now)
	require.True(t, ok)
	assert.Equal(t, Request{Piece: 1, Block: 0}, r)
}

func BenchmarkPick(b *testing.B) {
	const n = 2000
	pieces := newTestPieces(n, 16)
	pp := New(pieces, timeout, 1)
	pe := newPeer("p0", n)
	for i := uint32(0); i < n; i++ {
		pe.bitfield.Set(i)
	}
	pp.HandleBitfield(pe, &pe.bitfield)
	now := time.Now()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pp.Pick(pe, &pe.bitfield, now)
	}
}
