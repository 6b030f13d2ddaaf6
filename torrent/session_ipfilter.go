package torrent

import (
	"errors"
	"net"
	"os"

	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/ipfilter"
	"github.com/mitchellh/go-homedir"
)

// IPFilter assigns access flags to address ranges. Peers in ranges with the IPBlocked flag are not connected.
type IPFilter = ipfilter.Filter

// IPFilterRule is a range of addresses with its flags.
type IPFilterRule = ipfilter.Rule

// IPBlocked is the access flag of blocked addresses.
const IPBlocked = ipfilter.Blocked

var errPeerBlocked = errors.New("peer address is blocked by ip filter")

// NewIPFilter returns a filter that allows all addresses.
func NewIPFilter() *IPFilter {
	return ipfilter.New()
}

func (s *Session) loadIPFilter(path string) error {
	path, err := homedir.Expand(path)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	n, err := s.ipFilter.Load(f, s.log.Warningf)
	if err != nil {
		return err
	}
	s.log.Infof("loaded %d ip filter rules", n)
	return nil
}

// SetIPFilter replaces the filter of the session. Connected peers that are blocked by the new filter are disconnected.
// The filter must not be modified after it is set.
func (s *Session) SetIPFilter(f *IPFilter) error {
	if f == nil {
		f = NewIPFilter()
	}
	return s.do(func() {
		s.ipFilter = f
		for _, t := range s.torrents {
			for pe := range t.peers {
				if f.Blocked(pe.Addr.IP) {
					t.alert(AlertPeerBlocked, errPeerBlocked, "disconnected blocked peer %s", pe.Addr)
					t.closePeer(pe, errPeerBlocked)
				}
			}
		}
	})
}

// IPFilter returns the filter of the session.
func (s *Session) IPFilter() *IPFilter {
	var f *IPFilter
	_ = s.do(func() { f = s.ipFilter })
	return f
}

// blocked reports whether connections with addr are refused.
func (s *Session) blocked(addr net.Addr) bool {
	tcpAddr, ok := addr.(*net.TCPAddr)
	return ok && s.ipFilter.Blocked(tcpAddr.IP)
}
