package unchoker

import "sort"

// optimisticRound is the number of choking rounds between rotations of the optimistic slots.
const optimisticRound = 3

// Unchoker selects the peers to unchoke in a choking round.
// Interested peers are ranked by the rate they send data to us while downloading
// and by the rate we send data to them while seeding.
type Unchoker struct {
	slots           int
	optimisticSlots int

	round      int
	optimistic map[Peer]struct{}
}

// Peer of a torrent.
type Peer interface {
	// Choke and Unchoke send messages and set choking status of local peer
	Choke()
	Unchoke()

	// Choking returns choke status of local peer
	Choking() bool

	// Interested returns interest status of remote peer
	Interested() bool

	DownloadRate() float64
	UploadRate() float64
}

// New returns a new Unchoker.
func New(slots, optimisticSlots int) *Unchoker {
	return &Unchoker{
		slots:           slots,
		optimisticSlots: optimisticSlots,
		optimistic:      make(map[Peer]struct{}, optimisticSlots),
	}
}

// HandleDisconnect must be called to remove the peer from internal indexes.
func (u *Unchoker) HandleDisconnect(pe Peer) {
	delete(u.optimistic, pe)
}

// Optimistic returns true if the peer holds an optimistic slot.
func (u *Unchoker) Optimistic(pe Peer) bool {
	_, ok := u.optimistic[pe]
	return ok
}

// Tick runs a choking round over peers.
// Ties in rate are broken by the order of peers.
func (u *Unchoker) Tick(peers []Peer, seeding bool) {
	candidates := make([]Peer, 0, len(peers))
	for _, pe := range peers {
		if pe.Interested() {
			candidates = append(candidates, pe)
			continue
		}
		delete(u.optimistic, pe)
		pe.Choke()
	}
	rate := Peer.DownloadRate
	if seeding {
		rate = Peer.UploadRate
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return rate(candidates[i]) > rate(candidates[j])
	})
	rest := candidates
	if len(rest) > u.slots {
		rest = candidates[u.slots:]
	} else {
		rest = nil
	}
	for _, pe := range candidates[:len(candidates)-len(rest)] {
		// A peer that made it into the regular slots no longer holds an optimistic one.
		delete(u.optimistic, pe)
		pe.Unchoke()
	}
	if u.round%optimisticRound == 0 {
		u.rotate(rest)
	}
	u.round++
	for _, pe := range rest {
		if _, ok := u.optimistic[pe]; ok {
			pe.Unchoke()
		} else {
			pe.Choke()
		}
	}
}

// rotate gives the optimistic slots to the first peers that are choked right now.
func (u *Unchoker) rotate(peers []Peer) {
	for pe := range u.optimistic {
		delete(u.optimistic, pe)
	}
	for _, pe := range peers {
		if len(u.optimistic) >= u.optimisticSlots {
			break
		}
		if pe.Choking() {
			u.optimistic[pe] = struct{}{}
		}
	}
}

// FastUnchoke must be called when remote peer becomes interested.
// The peer is unchoked immediately if a regular slot is free.
// Without this function, remote peer would have to wait for next choking round.
func (u *Unchoker) FastUnchoke(pe Peer, peers []Peer) {
	if !pe.Choking() || !pe.Interested() {
		return
	}
	unchoked := 0
	for _, other := range peers {
		if _, ok := u.optimistic[other]; !ok && !other.Choking() {
			unchoked++
		}
	}
	if unchoked < u.slots {
		pe.Unchoke()
	}
}
