// Package piecepicker decides which block to request next from a peer.
package piecepicker

import (
	"sort"
	"time"

	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/bitfield"
)

/*

These are the things to consider when selecting a block for downloading:

  * Piece is verified
  * Block is received and written to disk
  * Peer has the piece
  * Block is requested from another peer
  * Block is already requested from this peer
  * Previous requests of the block are timed out
  * Number of live requests of the block

Do not forget to re-check these when making changes.

*/

// Peer is the identity of a remote peer. Values are compared with ==.
type Peer any

// Pieces gives the download state of the pieces.
type Pieces interface {
	NumPieces() uint32
	NumBlocks(index uint32) int
	Verified(index uint32) bool
	BlockReceived(index uint32, block int) bool
}

// Request identifies a block of a piece.
type Request struct {
	Piece uint32
	Block int
}

// Timeout is a request that has not been answered in time.
type Timeout struct {
	Peer    Peer
	Request Request
}

type blockRequest struct {
	peer        Peer
	requestedAt time.Time
	timedOut    bool
}

type myPiece struct {
	Index    uint32
	Having   peerSet
	Requests map[int][]blockRequest // in-flight requests by block index
}

// PiecePicker keeps track of availability of pieces among peers and the blocks in flight.
type PiecePicker struct {
	pieces               Pieces
	myPieces             []myPiece
	piecesByAvailability []*myPiece
	requestTimeout       time.Duration
	maxDuplicateRequests int
	available            uint32
	// piecesByAvailability needs sorting after an availability change
	unsorted bool
}

// New returns a new PiecePicker.
// A block that is in flight may be requested again from another peer after requestTimeout,
// as long as it has less than maxDuplicateRequests requests.
func New(pieces Pieces, requestTimeout time.Duration, maxDuplicateRequests int) *PiecePicker {
	if maxDuplicateRequests < 1 {
		maxDuplicateRequests = 1
	}
	n := pieces.NumPieces()
	ps := make([]myPiece, n)
	sps := make([]*myPiece, n)
	for i := range ps {
		ps[i] = myPiece{Index: uint32(i), Requests: make(map[int][]blockRequest)}
		sps[i] = &ps[i]
	}
	return &PiecePicker{
		pieces:               pieces,
		myPieces:             ps,
		piecesByAvailability: sps,
		requestTimeout:       requestTimeout,
		maxDuplicateRequests: maxDuplicateRequests,
	}
}

// Available returns the number of pieces that at least one peer has.
func (p *PiecePicker) Available() uint32 {
	return p.available
}

// Availability returns the number of peers that have the piece.
func (p *PiecePicker) Availability(i uint32) int {
	return p.myPieces[i].Having.Len()
}

// InFlight returns the number of live requests of the block.
func (p *PiecePicker) InFlight(r Request) int {
	return len(p.myPieces[r.Piece].Requests[r.Block])
}

// HandleHave must be called when the peer announces that it has the piece.
func (p *PiecePicker) HandleHave(pe Peer, i uint32) {
	p.addHavingPeer(i, pe)
}

// HandleBitfield must be called when the peer sends its bitfield.
func (p *PiecePicker) HandleBitfield(pe Peer, b *bitfield.Bitfield) {
	for i := uint32(0); i < b.Len() && i < uint32(len(p.myPieces)); i++ {
		if b.Test(i) {
			p.addHavingPeer(i, pe)
		}
	}
}

// HandleDisconnect must be called to remove the peer from internal indexes.
func (p *PiecePicker) HandleDisconnect(pe Peer) {
	for i := range p.myPieces {
		mp := &p.myPieces[i]
		for b := range mp.Requests {
			mp.removeRequest(b, pe)
		}
		p.removeHavingPeer(uint32(i), pe)
	}
}

// HandleRequested must be called after the block is requested from the peer.
func (p *PiecePicker) HandleRequested(pe Peer, r Request, now time.Time) {
	mp := &p.myPieces[r.Piece]
	mp.Requests[r.Block] = append(mp.Requests[r.Block], blockRequest{peer: pe, requestedAt: now})
}

// HandleCanceled must be called when the request to the peer is canceled or rejected.
func (p *PiecePicker) HandleCanceled(pe Peer, r Request) {
	p.myPieces[r.Piece].removeRequest(r.Block, pe)
}

// HandleReceived must be called when the block is received from a peer.
// It returns the peers which the block is still requested from. Their requests are forgotten.
func (p *PiecePicker) HandleReceived(pe Peer, r Request) (others []Peer) {
	mp := &p.myPieces[r.Piece]
	for _, br := range mp.Requests[r.Block] {
		if br.peer != pe {
			others = append(others, br.peer)
		}
	}
	delete(mp.Requests, r.Block)
	return others
}

// HandleHashFailed must be called when the piece fails the hash check. All of its blocks can be picked again.
func (p *PiecePicker) HandleHashFailed(i uint32) {
	p.myPieces[i].Requests = make(map[int][]blockRequest)
}

// TimedOut returns the requests that exceeded the request timeout since the last call.
// Each request is returned once. Timed out requests stay in flight until they are received or canceled.
func (p *PiecePicker) TimedOut(now time.Time) []Timeout {
	var ret []Timeout
	for i := range p.myPieces {
		mp := &p.myPieces[i]
		for b, reqs := range mp.Requests {
			for j := range reqs {
				if !reqs[j].timedOut && now.Sub(reqs[j].requestedAt) >= p.requestTimeout {
					reqs[j].timedOut = true
					ret = append(ret, Timeout{Peer: reqs[j].peer, Request: Request{Piece: mp.Index, Block: b}})
				}
			}
		}
	}
	sort.Slice(ret, func(i, j int) bool {
		if ret[i].Request.Piece != ret[j].Request.Piece {
			return ret[i].Request.Piece < ret[j].Request.Piece
		}
		return ret[i].Request.Block < ret[j].Request.Block
	})
	return ret
}

// Pick selects the next block to request from the peer.
// has is the bitfield of the peer.
// Pieces are selected by rarest-first, ties are broken by lowest index.
// Blocks that are not in flight are preferred over blocks whose requests have timed out.
func (p *PiecePicker) Pick(pe Peer, has *bitfield.Bitfield, now time.Time) (Request, bool) {
	p.sortByAvailability()
	if r, ok := p.pick(pe, has, now, false); ok {
		return r, true
	}
	return p.pick(pe, has, now, true)
}

func (p *PiecePicker) pick(pe Peer, has *bitfield.Bitfield, now time.Time, duplicate bool) (Request, bool) {
	for _, mp := range p.piecesByAvailability {
		if mp.Index >= has.Len() || !has.Test(mp.Index) {
			continue
		}
		if p.pieces.Verified(mp.Index) {
			continue
		}
		numBlocks := p.pieces.NumBlocks(mp.Index)
		for b := 0; b < numBlocks; b++ {
			if p.pieces.BlockReceived(mp.Index, b) {
				continue
			}
			if p.eligible(mp.Requests[b], pe, now, duplicate) {
				return Request{Piece: mp.Index, Block: b}, true
			}
		}
	}
	return Request{}, false
}

func (p *PiecePicker) eligible(reqs []blockRequest, pe Peer, now time.Time, duplicate bool) bool {
	if len(reqs) == 0 {
		return true
	}
	if !duplicate || len(reqs) >= p.maxDuplicateRequests {
		return false
	}
	for _, br := range reqs {
		if br.peer == pe {
			return false
		}
		if now.Sub(br.requestedAt) < p.requestTimeout {
			return false
		}
	}
	return true
}

func (p *PiecePicker) sortByAvailability() {
	if !p.unsorted {
		return
	}
	p.unsorted = false
	sort.Slice(p.piecesByAvailability, func(i, j int) bool {
		a, b := p.piecesByAvailability[i], p.piecesByAvailability[j]
		if a.Having.Len() != b.Having.Len() {
			return a.Having.Len() < b.Having.Len()
		}
		return a.Index < b.Index
	})
}

func (p *PiecePicker) addHavingPeer(i uint32, pe Peer) {
	if i >= uint32(len(p.myPieces)) {
		return
	}
	ok := p.myPieces[i].Having.Add(pe)
	if !ok {
		return
	}
	p.unsorted = true
	if p.myPieces[i].Having.Len() == 1 {
		p.available++
	}
}

func (p *PiecePicker) removeHavingPeer(i uint32, pe Peer) {
	ok := p.myPieces[i].Having.Remove(pe)
	if !ok {
		return
	}
	p.unsorted = true
	if p.myPieces[i].Having.Len() == 0 {
		p.available--
	}
}

func (mp *myPiece) removeRequest(b int, pe Peer) {
	reqs := mp.Requests[b]
	for i, br := range reqs {
		if br.peer == pe {
			reqs = append(reqs[:i], reqs[i+1:]...)
			break
		}
	}
	if len(reqs) == 0 {
		delete(mp.Requests, b)
	} else {
		mp.Requests[b] = reqs
	}
}
