// Package addrlist keeps the addresses of peers that are not connected yet, ordered by connect priority.
package addrlist

import (
	"net"

	"github.com/google/btree"
)

// Source of a peer address.
type Source int

// Peer address sources.
const (
	Tracker Source = iota
	DHT
	Manual
	Incoming
	Magnet
)

func (s Source) String() string {
	switch s {
	case Tracker:
		return "tracker"
	case DHT:
		return "dht"
	case Manual:
		return "manual"
	case Incoming:
		return "incoming"
	case Magnet:
		return "magnet"
	default:
		return "unknown"
	}
}

// AddrList contains peer addresses that are ready to be connected.
type AddrList struct {
	peerByPriority *btree.BTree
	peerByAddr     map[string]*peerAddr

	maxItems   int
	clientAddr *net.TCPAddr
	listenPort int
}

type peerAddr struct {
	addr     *net.TCPAddr
	key      string
	source   Source
	priority Priority
}

var _ btree.Item = (*peerAddr)(nil)

// Less orders addresses by source, then priority. Manually added addresses come first.
func (p *peerAddr) Less(than btree.Item) bool {
	o := than.(*peerAddr)
	pm, om := p.source == Manual, o.source == Manual
	if pm != om {
		return om
	}
	if p.priority != o.priority {
		return p.priority < o.priority
	}
	return p.key < o.key
}

// New returns a new AddrList holding at most maxItems addresses.
// clientIP and listenPort are used to calculate priorities and to discard our own address.
func New(maxItems int, clientIP net.IP, listenPort int) *AddrList {
	return &AddrList{
		peerByPriority: btree.New(2),
		peerByAddr:     make(map[string]*peerAddr),
		maxItems:       maxItems,
		clientAddr:     &net.TCPAddr{IP: clientIP, Port: listenPort},
		listenPort:     listenPort,
	}
}

// Reset removes all addresses.
func (d *AddrList) Reset() {
	d.peerByPriority.Clear(false)
	d.peerByAddr = make(map[string]*peerAddr)
}

// Len returns the number of addresses in the list.
func (d *AddrList) Len() int {
	return d.peerByPriority.Len()
}

// Pop removes and returns the address with the highest priority. Returns nil if the list is empty.
func (d *AddrList) Pop() (*net.TCPAddr, Source) {
	item := d.peerByPriority.DeleteMax()
	if item == nil {
		return nil, 0
	}
	p := item.(*peerAddr)
	delete(d.peerByAddr, p.key)
	return p.addr, p.source
}

// Push adds addresses to the list. Existing addresses are not duplicated.
// If the list is full, addresses with the lowest priority are dropped.
func (d *AddrList) Push(addrs []*net.TCPAddr, source Source) {
	for _, ad := range addrs {
		// 0 port is invalid
		if ad.Port == 0 {
			continue
		}
		// Discard own client
		if ad.IP.IsLoopback() && ad.Port == d.listenPort {
			continue
		}
		key := ad.String()
		if _, ok := d.peerByAddr[key]; ok {
			continue
		}
		p := &peerAddr{
			addr:     ad,
			key:      key,
			source:   source,
			priority: CalculatePriority(ad, d.clientAddr),
		}
		d.peerByAddr[key] = p
		d.peerByPriority.ReplaceOrInsert(p)
	}
	for d.peerByPriority.Len() > d.maxItems {
		item := d.peerByPriority.DeleteMin()
		delete(d.peerByAddr, item.(*peerAddr).key)
	}
}
