package unchoker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTick(t *testing.T) {
	testPeers := []*testPeer{
		{interested: true, choking: true},
		{interested: true, choking: true, download: 2},
		{interested: true, choking: true, download: 4},
		{choking: true},
	}
	peers := asPeers(testPeers)
	u := New(2, 1)

	// Fastest 2 peers take the regular slots. The first choked peer is unchoked optimistically.
	u.Tick(peers, false)
	assert.Equal(t, []bool{false, false, false, true}, choking(testPeers))
	assert.True(t, u.Optimistic(testPeers[0]))

	// Optimistic slot is kept until the next rotation.
	u.Tick(peers, false)
	assert.Equal(t, []bool{false, false, false, true}, choking(testPeers))

	// Optimistically unchoked peer has started sending, it takes a regular slot.
	testPeers[0].download = 3
	u.Tick(peers, false)
	assert.Equal(t, []bool{false, true, false, true}, choking(testPeers))
	assert.False(t, u.Optimistic(testPeers[0]))

	// Rotation gives the slot to the peer choked in the previous round.
	u.Tick(peers, false)
	assert.Equal(t, []bool{false, false, false, true}, choking(testPeers))
	assert.True(t, u.Optimistic(testPeers[1]))
}

func TestTickSeeding(t *testing.T) {
	testPeers := []*testPeer{
		{interested: true, choking: true, download: 10},
		{interested: true, choking: true, upload: 5},
	}
	u := New(1, 0)
	u.Tick(asPeers(testPeers), true)
	assert.Equal(t, []bool{true, false}, choking(testPeers))
}

func TestNotInterestedChoked(t *testing.T) {
	testPeers := []*testPeer{
		{interested: true, choking: true},
	}
	peers := asPeers(testPeers)
	u := New(0, 1)
	u.Tick(peers, false)
	assert.True(t, u.Optimistic(testPeers[0]))

	testPeers[0].interested = false
	u.Tick(peers, false)
	assert.True(t, testPeers[0].choking)
	assert.False(t, u.Optimistic(testPeers[0]))
}

func TestFastUnchoke(t *testing.T) {
	testPeers := []*testPeer{
		{interested: true},
		{interested: true, choking: true},
		{interested: true, choking: true},
	}
	peers := asPeers(testPeers)
	u := New(2, 0)

	u.FastUnchoke(testPeers[1], peers)
	assert.False(t, testPeers[1].choking)

	// Both regular slots are taken.
	u.FastUnchoke(testPeers[2], peers)
	assert.True(t, testPeers[2].choking)

	u.HandleDisconnect(testPeers[0])
	testPeers[0].choking = true
	u.FastUnchoke(testPeers[2], peers)
	assert.False(t, testPeers[2].choking)
}

func asPeers(testPeers []*testPeer) []Peer {
	peers := make([]Peer, len(testPeers))
	for i := range peers {
		peers[i] = testPeers[i]
	}
	return peers
}

func choking(testPeers []*testPeer) []bool {
	ret := make([]bool, len(testPeers))
	for i, pe := range testPeers {
		ret[i] = pe.choking
	}
	return ret
}

type testPeer struct {
	interested bool
	choking    bool
	download   float64
	upload     float64
}

func (p *testPeer) Choke()                { p.choking = true }
func (p *testPeer) Unchoke()              { p.choking = false }
func (p *testPeer) Choking() bool         { return p.choking }
func (p *testPeer) Interested() bool      { return p.interested }
func (p *testPeer) DownloadRate() float64 { return p.download }
func (p *testPeer) UploadRate() float64   { return p.upload }
