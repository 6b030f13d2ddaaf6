// Package dhtsource finds peers of torrents on the DHT network.
package dhtsource

import (
	"net"
	"sync"
	"time"

	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/logger"
	"github.com/nictuku/dht"
)

// DefaultRouters are used to bootstrap the routing table.
const DefaultRouters = "router.bittorrent.com:6881,dht.transmissionbt.com:6881,router.utorrent.com:6881,dht.libtorrent.org:25401,dht.aelitis.com:6881"

// Result contains peers of a torrent that are found on DHT.
type Result struct {
	InfoHash [20]byte
	Peers    []*net.TCPAddr
}

// Config of the DHT node.
type Config struct {
	Address string
	Port    int
	Routers string
	// Port of the peer listener that is announced to other nodes. Zero disables announcing.
	AnnouncePort int
	// Maximum rate of outgoing peer requests.
	RequestInterval time.Duration
}

// Source wraps a DHT node. Requests from the torrents are queued and sent at a limited rate.
type Source struct {
	node   *dht.DHT
	config Config
	log    logger.Logger

	mRequests sync.Mutex
	requests  map[dht.InfoHash]struct{}

	closeC chan struct{}
	closeO sync.Once
	doneC  chan struct{}
}

// New starts a DHT node.
func New(cfg Config) (*Source, error) {
	if cfg.Routers == "" {
		cfg.Routers = DefaultRouters
	}
	if cfg.RequestInterval == 0 {
		cfg.RequestInterval = time.Second
	}
	dhtConfig := dht.NewConfig()
	dhtConfig.Address = cfg.Address
	dhtConfig.Port = cfg.Port
	dhtConfig.DHTRouters = cfg.Routers
	dhtConfig.SaveRoutingTable = false
	node, err := dht.New(dhtConfig)
	if err != nil {
		return nil, err
	}
	err = node.Start()
	if err != nil {
		node.Stop()
		return nil, err
	}
	return &Source{
		node:     node,
		config:   cfg,
		log:      logger.New("dht"),
		requests: make(map[dht.InfoHash]struct{}),
		closeC:   make(chan struct{}),
		doneC:    make(chan struct{}),
	}, nil
}

// Request queues a peer request for the torrent. It never blocks.
func (s *Source) Request(infoHash [20]byte) {
	s.mRequests.Lock()
	s.requests[dht.InfoHash(infoHash[:])] = struct{}{}
	s.mRequests.Unlock()
}

// Run sends queued requests and delivers found peers to resultC until Close is called.
// Results are dropped when resultC is not ready.
func (s *Source) Run(resultC chan<- Result) {
	defer close(s.doneC)
	limiter := time.NewTicker(s.config.RequestInterval)
	defer limiter.Stop()
	for {
		select {
		case <-limiter.C:
			s.sendRequest()
		case res := <-s.node.PeersRequestResults:
			for ih, peers := range res {
				var r Result
				copy(r.InfoHash[:], ih)
				r.Peers = parsePeers(peers)
				if len(r.Peers) == 0 {
					continue
				}
				select {
				case resultC <- r:
				case <-s.closeC:
					return
				default:
					s.log.Debugf("dropped peers of %x", string(ih))
				}
			}
		case <-s.closeC:
			return
		}
	}
}

func (s *Source) sendRequest() {
	s.mRequests.Lock()
	defer s.mRequests.Unlock()
	for ih := range s.requests {
		if s.config.AnnouncePort > 0 {
			s.node.PeersRequestPort(string(ih), true, s.config.AnnouncePort)
		} else {
			s.node.PeersRequest(string(ih), false)
		}
		delete(s.requests, ih)
		return
	}
}

// Close stops the node. Run must have been called before.
func (s *Source) Close() {
	s.closeO.Do(func() {
		close(s.closeC)
		<-s.doneC
		s.node.Stop()
	})
}

func parsePeers(peers []string) []*net.TCPAddr {
	addrs := make([]*net.TCPAddr, 0, len(peers))
	for _, peer := range peers {
		if len(peer) != 6 {
			// only IPv4 is supported for now
			continue
		}
		addr := &net.TCPAddr{
			IP:   net.IP(peer[:4]),
			Port: int((uint16(peer[4]) << 8) | uint16(peer[5])),
		}
		addrs = append(addrs, addr)
	}
	return addrs
}
