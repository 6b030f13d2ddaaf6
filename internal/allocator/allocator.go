// Package allocator opens the files of a torrent on storage in a background goroutine.
package allocator

import (
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/metainfo"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/piecestore"
	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/storage"
)

// Allocator allocates files on the disk.
type Allocator struct {
	// Owner is not used by the Allocator. It is used by the caller to route the result.
	Owner       any
	Store       *piecestore.Store
	HasExisting bool
	Error       error

	closeC chan struct{}
	doneC  chan struct{}
}

// New returns a new Allocator.
func New(owner any) *Allocator {
	return &Allocator{
		Owner:  owner,
		closeC: make(chan struct{}),
		doneC:  make(chan struct{}),
	}
}

// Close the Allocator.
func (a *Allocator) Close() {
	close(a.closeC)
	<-a.doneC
}

// Run the Allocator.
func (a *Allocator) Run(info *metainfo.Info, sto storage.Storage, resultC chan *Allocator) {
	defer close(a.doneC)

	a.Store, a.HasExisting, a.Error = piecestore.Open(info, sto)

	select {
	case resultC <- a:
	case <-a.closeC:
		if a.Store != nil {
			_ = a.Store.Close()
		}
	}
}
