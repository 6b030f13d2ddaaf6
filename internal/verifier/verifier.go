// Package verifier checks the hashes of the pieces on storage.
package verifier

import (
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/bitfield"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/piecestore"
)

// Verifier verifies the pieces on disk.
type Verifier struct {
	// Owner is not used by the Verifier. It is used by the caller to route the results.
	Owner    any
	Bitfield bitfield.Bitfield
	Error    error

	closeC chan struct{}
	doneC  chan struct{}
}

// Progress information about the verification.
type Progress struct {
	Verifier *Verifier
	Checked  uint32
}

// New returns a new Verifier.
func New(owner any) *Verifier {
	return &Verifier{
		Owner:  owner,
		closeC: make(chan struct{}),
		doneC:  make(chan struct{}),
	}
}

// Close the verifier.
func (v *Verifier) Close() {
	close(v.closeC)
	<-v.doneC
}

// Run and verify all pieces of the torrent.
// VerifyPiece is the only method of store called, so it is safe to run while the owner keeps bookkeeping.
func (v *Verifier) Run(store *piecestore.Store, progressC chan Progress, resultC chan *Verifier) {
	defer close(v.doneC)

	defer func() {
		select {
		case resultC <- v:
		case <-v.closeC:
		}
	}()

	numPieces := store.NumPieces()
	v.Bitfield = bitfield.New(numPieces)
	for i := uint32(0); i < numPieces; i++ {
		var ok bool
		ok, v.Error = store.VerifyPiece(i)
		if v.Error != nil {
			return
		}
		if ok {
			v.Bitfield.Set(i)
		}
		select {
		case progressC <- Progress{Verifier: v, Checked: i + 1}:
		case <-v.closeC:
			return
		}
	}
}
